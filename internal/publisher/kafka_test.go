package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efreitasn/matchingengine/internal/domain"
	"github.com/efreitasn/matchingengine/internal/engine"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	block  chan struct{}
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.block != nil {
		<-w.block
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msgs...)
	return w.err
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *fakeWriter) messages() []kafka.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]kafka.Message(nil), w.msgs...)
}

func TestKafkaSink_WritesEngineEvents(t *testing.T) {
	w := &fakeWriter{}
	sink := NewKafkaSink(w, 16, nil)
	eng := engine.NewMatchingEngine()
	sink.Attach(eng)

	eng.SubmitOrder(domain.Order{
		Symbol: "BTC-USD", AssetClass: domain.AssetClassCrypto,
		Side: domain.SideSell, Type: domain.OrderTypeLimit, Price: 100, Quantity: 1,
	})
	eng.SubmitOrder(domain.Order{
		Symbol: "BTC-USD", AssetClass: domain.AssetClassCrypto,
		Side: domain.SideBuy, Type: domain.OrderTypeLimit, Price: 100, Quantity: 1,
	})
	require.NoError(t, sink.Close())

	msgs := w.messages()
	// trade, maker orderFilled, taker orderFilled
	require.Len(t, msgs, 3)

	var envelope struct {
		Type       string          `json:"type"`
		Instrument string          `json:"instrument"`
		Data       json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(msgs[0].Value, &envelope))
	assert.Equal(t, "trade", envelope.Type)
	assert.Equal(t, "CRYPTO:BTC-USD", envelope.Instrument)
	assert.Equal(t, "CRYPTO:BTC-USD", string(msgs[0].Key))
	require.Len(t, msgs[0].Headers, 1)
	assert.Equal(t, "trade", string(msgs[0].Headers[0].Value))

	for _, m := range msgs[1:] {
		require.NoError(t, json.Unmarshal(m.Value, &envelope))
		assert.Equal(t, "orderFilled", envelope.Type)
	}
	assert.True(t, w.closed)
}

func TestKafkaSink_DropsWhenFull(t *testing.T) {
	w := &fakeWriter{block: make(chan struct{})}
	sink := NewKafkaSink(w, 1, nil)

	ev := engine.Event{Kind: engine.EventOrderRejected, Order: &domain.Order{ID: "x"}}
	// The first event may already be held by the drain goroutine; the queue
	// holds one more, so at least one of the remaining three is dropped.
	for i := 0; i < 4; i++ {
		sink.Publish(ev)
	}
	assert.GreaterOrEqual(t, sink.Dropped(), uint64(2))

	close(w.block)
	require.NoError(t, sink.Close())
	assert.LessOrEqual(t, len(w.messages()), 2)
}

func TestKafkaSink_WriteErrorsAreLoggedNotFatal(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker unavailable")}
	sink := NewKafkaSink(w, 4, nil)

	sink.Publish(engine.Event{Kind: engine.EventTrade, Trade: &domain.Trade{ID: "t"}})
	sink.Publish(engine.Event{Kind: engine.EventTrade, Trade: &domain.Trade{ID: "u"}})
	require.NoError(t, sink.Close())

	assert.Len(t, w.messages(), 2)
}

func TestKafkaSink_PublishAfterCloseIsIgnored(t *testing.T) {
	w := &fakeWriter{}
	sink := NewKafkaSink(w, 4, nil)
	require.NoError(t, sink.Close())
	require.NoError(t, sink.Close())

	assert.NotPanics(t, func() {
		sink.Publish(engine.Event{Kind: engine.EventTrade})
	})
	assert.Empty(t, w.messages())
}

func TestNewKafkaWriter(t *testing.T) {
	w := NewKafkaWriter([]string{"localhost:9092"}, "events")
	assert.Equal(t, "events", w.Topic)
	assert.Equal(t, "localhost:9092", w.Addr.String())
	assert.IsType(t, &kafka.Hash{}, w.Balancer)
}
