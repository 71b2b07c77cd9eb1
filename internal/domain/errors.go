package domain

import "errors"

// Reasons reported in structured results. Callers compare against these
// strings, so they are part of the wire contract.
const (
	ReasonValidationFailed      = "Validation failed"
	ReasonUnsupportedOrderType  = "Unsupported order type"
	ReasonFOKNotFilled          = "FOK not fully filled"
	ReasonMissingInstrument     = "Missing symbol or assetClass"
	ReasonUnsupportedAssetClass = "Unsupported asset class"
	ReasonOrderNotFound         = "Order not found"
	ReasonBookNotFound          = "Order book not found"
	ReasonEngineClosed          = "Engine closed"
	ReasonRiskUnavailable       = "Risk check unavailable"
)

// Sentinel errors for edge-level error handling.
// The handler layer maps these to HTTP status codes.
var (
	ErrRiskUnavailable = errors.New("risk_unavailable")
	ErrOffScale        = errors.New("off_scale")
)

// ValidationError represents a request validation failure.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}
