package publisher

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/efreitasn/matchingengine/internal/engine"
	"github.com/efreitasn/matchingengine/internal/service"
)

const writeTimeout = 5 * time.Second

// Writer is the subset of *kafka.Writer the sink uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaWriter creates a writer for topic. Messages are hashed by key so
// every event of one instrument lands on the same partition.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
	}
}

// KafkaSink forwards engine events to Kafka as JSON. Events are queued in a
// bounded buffer drained by one goroutine; when the buffer is full the event
// is dropped and counted.
type KafkaSink struct {
	writer Writer
	logger *slog.Logger

	mu      sync.RWMutex
	closed  bool
	queue   chan engine.Event
	done    chan struct{}
	dropped atomic.Uint64
	unsub   func()
}

// NewKafkaSink starts the drain goroutine.
func NewKafkaSink(w Writer, buffer int, logger *slog.Logger) *KafkaSink {
	if logger == nil {
		logger = slog.Default()
	}
	s := &KafkaSink{
		writer: w,
		logger: logger,
		queue:  make(chan engine.Event, buffer),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

// Attach subscribes the sink to every event kind on eng.
func (s *KafkaSink) Attach(eng *engine.MatchingEngine) {
	s.unsub = eng.SubscribeAll(s.Publish)
}

// Publish enqueues ev without blocking.
func (s *KafkaSink) Publish(ev engine.Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.queue <- ev:
	default:
		if s.dropped.Add(1)%1000 == 1 {
			s.logger.Warn("event sink buffer full, dropping events",
				slog.Uint64("dropped", s.dropped.Load()),
			)
		}
	}
}

// Dropped returns the number of events dropped on a full buffer.
func (s *KafkaSink) Dropped() uint64 {
	return s.dropped.Load()
}

func (s *KafkaSink) run() {
	defer close(s.done)
	for ev := range s.queue {
		s.write(ev)
	}
}

func (s *KafkaSink) write(ev engine.Event) {
	value, err := json.Marshal(service.NewEventMessage(ev))
	if err != nil {
		s.logger.Error("encode event", slog.String("error", err.Error()))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	err = s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.Instrument.String()),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(ev.Kind)},
		},
	})
	if err != nil {
		s.logger.Error("kafka publish failed",
			slog.String("kind", string(ev.Kind)),
			slog.String("instrument", ev.Instrument.String()),
			slog.String("error", err.Error()),
		)
	}
}

// Close stops accepting events, flushes the queue and closes the writer.
func (s *KafkaSink) Close() error {
	if s.unsub != nil {
		s.unsub()
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	<-s.done
	return s.writer.Close()
}
