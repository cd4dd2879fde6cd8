package common

import (
	"errors"
	"fmt"
)

// Binance error codes for orders that no longer exist.
const (
	CodeUnknownOrder = -2011
	CodeNoSuchOrder  = -2013
)

var (
	ErrMissingCredentials      = errors.New("exchange: API key/secret required")
	ErrProductionNotConfigured = errors.New("production API keys not configured")
)

// APIError is a business error reported by the exchange.
type APIError struct {
	Status int
	Code   int
	Msg    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("exchange error %d (http %d): %s", e.Code, e.Status, e.Msg)
}

// TransportError covers network failures and responses that could not be decoded.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsUnknownOrder reports whether err means the order is no longer on the book.
func IsUnknownOrder(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == CodeUnknownOrder || apiErr.Code == CodeNoSuchOrder
	}
	return false
}

// IsTransport reports whether err is transient.
func IsTransport(err error) bool {
	var tErr *TransportError
	return errors.As(err, &tErr)
}
