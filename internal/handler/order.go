package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/efreitasn/matchingengine/internal/engine"
	"github.com/efreitasn/matchingengine/internal/service"
)

// maxDepthLevels caps the levels query parameter.
const maxDepthLevels = 1000

var errLevels = fmt.Errorf("levels must be an integer between 1 and %d", maxDepthLevels)

// OrderHandler handles HTTP requests for order, depth and metrics endpoints.
type OrderHandler struct {
	orderSvc    *service.OrderService
	depthLevels int
}

// NewOrderHandler creates a new OrderHandler.
func NewOrderHandler(orderSvc *service.OrderService, depthLevels int) *OrderHandler {
	return &OrderHandler{orderSvc: orderSvc, depthLevels: depthLevels}
}

// submitOrderRequest is the JSON request body for POST /api/orders. Price
// and quantity accept JSON numbers or decimal strings.
type submitOrderRequest struct {
	ID          string           `json:"id"`
	UserID      string           `json:"userId"`
	Symbol      string           `json:"symbol"`
	AssetClass  string           `json:"assetClass"`
	Side        string           `json:"side"`
	Type        string           `json:"type"`
	TimeInForce string           `json:"timeInForce"`
	Price       *decimal.Decimal `json:"price"`
	Quantity    decimal.Decimal  `json:"quantity"`
}

type submitOrderResponse struct {
	Success       bool                `json:"success"`
	Order         service.OrderView   `json:"order"`
	Matches       []service.TradeView `json:"matches"`
	Reason        string              `json:"reason,omitempty"`
	LatencyMicros float64             `json:"latencyMicros"`
}

type cancelOrderResponse struct {
	Success bool               `json:"success"`
	Order   *service.OrderView `json:"order,omitempty"`
	Reason  string             `json:"reason,omitempty"`
}

type depthLevelResponse struct {
	Price    json.Number `json:"price"`
	Quantity json.Number `json:"quantity"`
	Orders   int         `json:"orders"`
}

type depthResponse struct {
	Symbol     string               `json:"symbol"`
	AssetClass string               `json:"assetClass"`
	Bids       []depthLevelResponse `json:"bids"`
	Asks       []depthLevelResponse `json:"asks"`
	LastPrice  *json.Number         `json:"lastPrice"`
	Timestamp  time.Time            `json:"timestamp"`
}

type metricsResponse struct {
	TotalOrders      int64   `json:"totalOrders"`
	TotalTrades      int64   `json:"totalTrades"`
	TotalVolume      int64   `json:"totalVolume"`
	AvgLatencyMicros float64 `json:"avgLatencyMicros"`
}

// SubmitOrder handles POST /api/orders. Engine and risk rejections are
// reported with 200 and success=false.
func (h *OrderHandler) SubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req submitOrderRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	res, err := h.orderSvc.Submit(r.Context(), service.SubmitOrderRequest{
		ID:          req.ID,
		UserID:      req.UserID,
		Symbol:      req.Symbol,
		AssetClass:  req.AssetClass,
		Side:        req.Side,
		Type:        req.Type,
		TimeInForce: req.TimeInForce,
		Price:       req.Price,
		Quantity:    req.Quantity,
	})
	if err != nil {
		mapOrderError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, buildSubmitResponse(res))
}

// CancelOrder handles DELETE /api/orders/{symbol}/{assetClass}/{orderID}.
func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	res := h.orderSvc.Cancel(
		chi.URLParam(r, "symbol"),
		chi.URLParam(r, "assetClass"),
		chi.URLParam(r, "orderID"),
	)

	resp := cancelOrderResponse{Success: res.Success, Reason: res.Reason}
	if res.Order != nil {
		v := service.NewOrderView(*res.Order)
		resp.Order = &v
	}
	WriteJSON(w, http.StatusOK, resp)
}

// GetDepth handles GET /api/depth/{symbol}/{assetClass}?levels=N.
func (h *OrderHandler) GetDepth(w http.ResponseWriter, r *http.Request) {
	levels, err := parseLevels(r, h.depthLevels)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	view := h.orderSvc.Depth(chi.URLParam(r, "symbol"), chi.URLParam(r, "assetClass"), levels)
	WriteJSON(w, http.StatusOK, buildDepthResponse(view))
}

// GetMetrics handles GET /api/metrics.
func (h *OrderHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	all := h.orderSvc.Metrics()
	resp := make(map[string]metricsResponse, len(all))
	for key, m := range all {
		resp[key] = metricsResponse{
			TotalOrders:      m.TotalOrders,
			TotalTrades:      m.TotalTrades,
			TotalVolume:      m.TotalVolume,
			AvgLatencyMicros: m.AvgLatencyMicros,
		}
	}
	WriteJSON(w, http.StatusOK, resp)
}

// parseLevels reads the levels query parameter, falling back to def.
func parseLevels(r *http.Request, def int) (int, error) {
	raw := r.URL.Query().Get("levels")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > maxDepthLevels {
		return 0, errLevels
	}
	return n, nil
}

func buildSubmitResponse(res engine.SubmitResult) submitOrderResponse {
	return submitOrderResponse{
		Success:       res.Success,
		Order:         service.NewOrderView(res.Order),
		Matches:       service.NewTradeViews(res.Matches),
		Reason:        res.Reason,
		LatencyMicros: res.LatencyMicros,
	}
}

func buildDepthResponse(v service.DepthView) depthResponse {
	resp := depthResponse{
		Symbol:     v.Symbol,
		AssetClass: string(v.AssetClass),
		Bids:       buildLevels(v.Bids),
		Asks:       buildLevels(v.Asks),
		Timestamp:  time.Now().UTC(),
	}
	if v.LastPrice != nil {
		p := json.Number(v.LastPrice.String())
		resp.LastPrice = &p
	}
	return resp
}

func buildLevels(levels []service.DepthLevel) []depthLevelResponse {
	out := make([]depthLevelResponse, 0, len(levels))
	for _, l := range levels {
		out = append(out, depthLevelResponse{
			Price:    json.Number(l.Price.String()),
			Quantity: json.Number(l.Quantity.String()),
			Orders:   l.Orders,
		})
	}
	return out
}

// mapOrderError maps service errors to HTTP responses for order endpoints.
func mapOrderError(w http.ResponseWriter, err error) {
	if service.IsValidation(err) {
		WriteError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	WriteError(w, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
}
