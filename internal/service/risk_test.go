package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efreitasn/matchingengine/internal/domain"
	"github.com/efreitasn/matchingengine/internal/engine"
)

// riskServer records request bodies per path.
type riskServer struct {
	mu       sync.Mutex
	bodies   map[string][]map[string]json.Number
	strings  map[string][]map[string]string
	approved bool
	reason   string
	status   int
}

func newRiskServer(t *testing.T) (*riskServer, *httptest.Server) {
	t.Helper()
	rs := &riskServer{
		bodies:   make(map[string][]map[string]json.Number),
		strings:  make(map[string][]map[string]string),
		approved: true,
		status:   http.StatusOK,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var raw map[string]any
		dec := json.NewDecoder(r.Body)
		dec.UseNumber()
		if err := dec.Decode(&raw); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		nums := make(map[string]json.Number)
		strs := make(map[string]string)
		for k, v := range raw {
			switch v := v.(type) {
			case json.Number:
				nums[k] = v
			case string:
				strs[k] = v
			}
		}

		rs.mu.Lock()
		rs.bodies[r.URL.Path] = append(rs.bodies[r.URL.Path], nums)
		rs.strings[r.URL.Path] = append(rs.strings[r.URL.Path], strs)
		status, approved, reason := rs.status, rs.approved, rs.reason
		rs.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{"approved": approved, "reason": reason})
	}))
	t.Cleanup(srv.Close)
	return rs, srv
}

func TestRiskClient_PreTrade(t *testing.T) {
	rs, srv := newRiskServer(t)
	rs.approved = false
	rs.reason = "Insufficient margin"
	client := NewRiskClient(srv.URL+"/", time.Second, nil)

	decision, err := client.PreTrade(context.Background(), PreTradeRequest{
		UserID:     "user-1",
		Symbol:     "ETH-USD",
		AssetClass: domain.AssetClassCrypto,
		Side:       domain.SideSell,
		Quantity:   dec("1.25"),
		Price:      dec("3000.5"),
	})
	require.NoError(t, err)
	assert.False(t, decision.Approved)
	assert.Equal(t, "Insufficient margin", decision.Reason)

	require.Len(t, rs.strings[preTradePath], 1)
	strs := rs.strings[preTradePath][0]
	assert.Equal(t, "user-1", strs["userId"])
	assert.Equal(t, "ETH-USD", strs["symbol"])
	assert.Equal(t, "CRYPTO", strs["assetClass"])
	assert.Equal(t, "SELL", strs["side"])

	nums := rs.bodies[preTradePath][0]
	assert.Equal(t, json.Number("1.25"), nums["quantity"])
	assert.Equal(t, json.Number("3000.5"), nums["price"])
}

func TestRiskClient_PreTradeUnavailable(t *testing.T) {
	rs, srv := newRiskServer(t)
	rs.status = http.StatusInternalServerError
	client := NewRiskClient(srv.URL, time.Second, nil)

	_, err := client.PreTrade(context.Background(), PreTradeRequest{Symbol: "X"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrRiskUnavailable))

	srv.Close()
	_, err = client.PreTrade(context.Background(), PreTradeRequest{Symbol: "X"})
	assert.True(t, errors.Is(err, domain.ErrRiskUnavailable))
}

func TestPositionNotifier_BuyerAndSeller(t *testing.T) {
	rs, srv := newRiskServer(t)
	eng := engine.NewMatchingEngine()
	notifier := NewPositionNotifier(eng, NewRiskClient(srv.URL, time.Second, nil), time.Second, nil)

	eng.SubmitOrder(domain.Order{
		UserID: "seller", Symbol: "AAPL", AssetClass: domain.AssetClassStocks,
		Side: domain.SideSell, Type: domain.OrderTypeLimit, Price: 15025, Quantity: 10,
	})
	eng.SubmitOrder(domain.Order{
		UserID: "buyer", Symbol: "AAPL", AssetClass: domain.AssetClassStocks,
		Side: domain.SideBuy, Type: domain.OrderTypeLimit, Price: 15100, Quantity: 4,
	})
	notifier.Close()

	rs.mu.Lock()
	defer rs.mu.Unlock()
	require.Len(t, rs.strings[updatePositionPath], 2)

	byUser := make(map[string]map[string]json.Number)
	for i, strs := range rs.strings[updatePositionPath] {
		assert.Equal(t, "AAPL", strs["symbol"])
		assert.Equal(t, "STOCKS", strs["assetClass"])
		byUser[strs["userId"]] = rs.bodies[updatePositionPath][i]
	}
	assert.Equal(t, json.Number("4"), byUser["buyer"]["quantity"])
	assert.Equal(t, json.Number("-4"), byUser["seller"]["quantity"])
	assert.Equal(t, json.Number("150.25"), byUser["buyer"]["avgPrice"])
	assert.Equal(t, json.Number("150.25"), byUser["seller"]["avgPrice"])
}

func TestPositionNotifier_SkipsAnonymousSides(t *testing.T) {
	rs, srv := newRiskServer(t)
	eng := engine.NewMatchingEngine()
	notifier := NewPositionNotifier(eng, NewRiskClient(srv.URL, time.Second, nil), time.Second, nil)

	eng.SubmitOrder(domain.Order{
		Symbol: "AAPL", AssetClass: domain.AssetClassStocks,
		Side: domain.SideSell, Type: domain.OrderTypeLimit, Price: 100, Quantity: 1,
	})
	eng.SubmitOrder(domain.Order{
		UserID: "buyer", Symbol: "AAPL", AssetClass: domain.AssetClassStocks,
		Side: domain.SideBuy, Type: domain.OrderTypeLimit, Price: 100, Quantity: 1,
	})
	notifier.Close()

	rs.mu.Lock()
	defer rs.mu.Unlock()
	require.Len(t, rs.strings[updatePositionPath], 1)
	assert.Equal(t, "buyer", rs.strings[updatePositionPath][0]["userId"])
}

func TestPositionNotifier_CloseUnsubscribes(t *testing.T) {
	rs, srv := newRiskServer(t)
	eng := engine.NewMatchingEngine()
	notifier := NewPositionNotifier(eng, NewRiskClient(srv.URL, time.Second, nil), time.Second, nil)
	notifier.Close()

	eng.SubmitOrder(domain.Order{
		UserID: "s", Symbol: "A", AssetClass: domain.AssetClassETF,
		Side: domain.SideSell, Type: domain.OrderTypeLimit, Price: 1, Quantity: 1,
	})
	eng.SubmitOrder(domain.Order{
		UserID: "b", Symbol: "A", AssetClass: domain.AssetClassETF,
		Side: domain.SideBuy, Type: domain.OrderTypeLimit, Price: 1, Quantity: 1,
	})

	rs.mu.Lock()
	defer rs.mu.Unlock()
	assert.Empty(t, rs.strings[updatePositionPath])
}

func TestPositionNotifier_IgnoresTradesAfterClose(t *testing.T) {
	rs, srv := newRiskServer(t)
	eng := engine.NewMatchingEngine()
	notifier := NewPositionNotifier(eng, NewRiskClient(srv.URL, time.Second, nil), time.Second, nil)
	notifier.Close()

	// A publish that copied the subscriber list before Close can still
	// reach the handler.
	notifier.onTrade(engine.Event{
		Kind: engine.EventTrade,
		Trade: &domain.Trade{
			Symbol: "A", AssetClass: domain.AssetClassETF,
			Price: 100, Quantity: 1, BuyerID: "b", SellerID: "s",
		},
	})
	notifier.Close()

	rs.mu.Lock()
	defer rs.mu.Unlock()
	assert.Empty(t, rs.strings[updatePositionPath])
}
