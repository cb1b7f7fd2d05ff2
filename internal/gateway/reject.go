package gateway

import "tradingcore/internal/coretypes"

// venueErrorCode mirrors the `{code, msg}` failure body a venue returns
// for REST new/cancel/status calls. Venues differ in their exact code
// vocabulary; classifyVenueError maps the handful of codes this core
// recognizes and falls back to VENUE_ERROR_OTHER for anything else. The
// caller logs the original code and message and carries the message in
// RejectDetail; neither is discarded.
type venueErrorCode string

const (
	venueCodeInvalidPrice    venueErrorCode = "INVALID_PRICE"
	venueCodeInvalidQuantity venueErrorCode = "INVALID_QUANTITY"
	venueCodePriceBand       venueErrorCode = "PRICE_FILTER"
	venueCodeLotSize         venueErrorCode = "LOT_SIZE_FILTER"
	venueCodeInsufficient    venueErrorCode = "INSUFFICIENT_BALANCE"
	venueCodeRateLimit       venueErrorCode = "TOO_MANY_REQUESTS"
	venueCodeUnknownSymbol   venueErrorCode = "UNKNOWN_SYMBOL"
)

// classifyVenueError maps a venue error code to the normalized
// RejectReason. The original code and message are kept by the caller for
// logging and are never discarded, even when the mapped reason is the
// generic VENUE_ERROR_OTHER.
func classifyVenueError(code string) coretypes.RejectReason {
	switch venueErrorCode(code) {
	case venueCodeInvalidPrice:
		return coretypes.RejectInvalidPrice
	case venueCodeInvalidQuantity:
		return coretypes.RejectInvalidQuantity
	case venueCodePriceBand:
		return coretypes.RejectPriceBandViolation
	case venueCodeLotSize:
		return coretypes.RejectLotSizeViolation
	case venueCodeInsufficient:
		return coretypes.RejectRiskReject
	case venueCodeRateLimit:
		return coretypes.RejectRateLimit
	case venueCodeUnknownSymbol:
		return coretypes.RejectUnknownInstrument
	default:
		return coretypes.RejectVenueErrorOther
	}
}
