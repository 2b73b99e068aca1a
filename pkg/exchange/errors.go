package exchange

import (
	"errors"
	"strings"

	"spotgrid-engine/internal/apperr"
)

// VendorError is a venue-specific error before it is mapped onto the
// engine's taxonomy. Adapters construct one of these at the point they
// receive a vendor response and immediately wrap it with MapVendorError;
// callers above the adapter boundary never see VendorError directly.
type VendorError struct {
	Venue   string
	Code    string
	Message string
}

func (e *VendorError) Error() string {
	return e.Venue + " error " + e.Code + ": " + e.Message
}

// Sentinel vendor error classes, matched by adapters against whatever
// code/message shape the venue's SDK surfaces.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrOrderValidation    = errors.New("order validation error")
	ErrRateLimit          = errors.New("rate limit exceeded")
	ErrConnection         = errors.New("exchange connection error")
	ErrSlippageExceeded   = errors.New("slippage exceeded")
)

// MapVendorError classifies a vendor error into the apperr taxonomy. It
// is the single place every adapter funnels its error handling through,
// mirroring the decorator-based dispatch the original system used around
// every ccxt call.
func MapVendorError(op string, err error) error {
	if err == nil {
		return nil
	}

	msg := strings.ToLower(err.Error())
	switch {
	case errors.Is(err, ErrInvalidCredentials), strings.Contains(msg, "invalid api-key"), strings.Contains(msg, "signature"):
		return apperr.Wrap(apperr.KindExchangeFatal, op, err)
	case errors.Is(err, ErrInsufficientFunds), strings.Contains(msg, "insufficient"):
		return apperr.Wrap(apperr.KindExchangeFatal, op, err)
	case errors.Is(err, ErrOrderValidation), strings.Contains(msg, "min_notional"), strings.Contains(msg, "lot_size"), strings.Contains(msg, "filter failure"):
		return apperr.Wrap(apperr.KindExchangeFatal, op, err)
	case errors.Is(err, ErrSlippageExceeded), strings.Contains(msg, "slippage"):
		return apperr.Wrap(apperr.KindExchangeFatal, op, err)
	case errors.Is(err, ErrRateLimit), strings.Contains(msg, "too many requests"), strings.Contains(msg, "rate limit"), strings.Contains(msg, "429"):
		return apperr.Wrap(apperr.KindExchangeTransient, op, err)
	case errors.Is(err, ErrConnection), strings.Contains(msg, "timeout"), strings.Contains(msg, "connection reset"), strings.Contains(msg, "eof"):
		return apperr.Wrap(apperr.KindExchangeTransient, op, err)
	default:
		return apperr.Wrap(apperr.KindExchangeFatal, op, err)
	}
}
