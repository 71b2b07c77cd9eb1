package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/efreitasn/matchingengine/internal/engine"
	"github.com/efreitasn/matchingengine/internal/service"
	"github.com/efreitasn/matchingengine/internal/stream"
)

const wsWriteWait = 5 * time.Second

// outboundMessage is a depth frame on /ws/depth.
type outboundMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// BridgeEvents broadcasts every engine event on hub. The returned func
// stops the bridge.
func BridgeEvents(eng *engine.MatchingEngine, hub *stream.Hub[service.EventMessage]) func() {
	return eng.SubscribeAll(func(ev engine.Event) {
		hub.Broadcast(service.NewEventMessage(ev))
	})
}

// StreamHandler serves the websocket event and depth streams.
type StreamHandler struct {
	orderSvc     *service.OrderService
	events       *stream.Hub[service.EventMessage]
	buffer       int
	depthLevels  int
	pushInterval time.Duration
	done         <-chan struct{}
	upgrader     websocket.Upgrader
	logger       *slog.Logger
}

// NewStreamHandler creates a new StreamHandler.
func NewStreamHandler(
	orderSvc *service.OrderService,
	events *stream.Hub[service.EventMessage],
	opts Options,
	logger *slog.Logger,
) *StreamHandler {
	return &StreamHandler{
		orderSvc:     orderSvc,
		events:       events,
		buffer:       opts.StreamBuffer,
		depthLevels:  opts.DepthLevels,
		pushInterval: opts.DepthPushInterval,
		done:         opts.Done,
		upgrader:     websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		logger:       logger,
	}
}

// Events handles GET /ws/events. Each frame is {type, instrument, data,
// timestamp}. A client that falls behind misses frames.
func (h *StreamHandler) Events(w http.ResponseWriter, r *http.Request) {
	// Subscribed before the upgrade: the client sees every event published
	// after its handshake.
	sub := h.events.Subscribe(h.buffer)
	defer h.events.Unsubscribe(sub)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	gone := readUntilClosed(conn)
	for {
		select {
		case msg, ok := <-sub.C():
			if !ok {
				closeNormal(conn)
				return
			}
			if err := writeFrame(conn, msg); err != nil {
				h.logger.Debug("event stream write failed", slog.String("error", err.Error()))
				return
			}
		case <-gone:
			return
		}
	}
}

// Depth handles GET /ws/depth/{symbol}/{assetClass}?levels=N. A snapshot is
// pushed immediately and then on every interval.
func (h *StreamHandler) Depth(w http.ResponseWriter, r *http.Request) {
	levels, err := parseLevels(r, h.depthLevels)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	symbol := chi.URLParam(r, "symbol")
	assetClass := chi.URLParam(r, "assetClass")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	gone := readUntilClosed(conn)
	ticker := time.NewTicker(h.pushInterval)
	defer ticker.Stop()

	for {
		view := h.orderSvc.Depth(symbol, assetClass, levels)
		if err := writeFrame(conn, outboundMessage{Type: "depth", Data: buildDepthResponse(view)}); err != nil {
			h.logger.Debug("depth stream write failed", slog.String("error", err.Error()))
			return
		}
		select {
		case <-ticker.C:
		case <-gone:
			return
		case <-h.done:
			closeNormal(conn)
			return
		}
	}
}

// readUntilClosed drains client frames and closes the returned channel once
// the connection fails or the client closes it.
func readUntilClosed(conn *websocket.Conn) <-chan struct{} {
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	return gone
}

func writeFrame(conn *websocket.Conn, v any) error {
	if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
		return err
	}
	return conn.WriteJSON(v)
}

func closeNormal(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
}
