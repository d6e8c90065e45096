package perspective

import "errors"

var (
	ErrMissingAPIKey     = errors.New("no Perspective API key found")
	ErrTransport         = errors.New("perspective request failed")
	ErrTransportClosed   = errors.New("perspective transport is shut down")
	ErrUnexpectedStatus  = errors.New("perspective returned non-success status")
	ErrMalformedResponse = errors.New("unable to parse Perspective API response")
	ErrResponseTooLarge  = errors.New("perspective response exceeds size limit")
	ErrInvalidConfig     = errors.New("invalid perspective configuration")
)
