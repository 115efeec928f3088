package classify

import "errors"

var (
	// ErrNetwork is a transport failure or non-success HTTP status.
	ErrNetwork = errors.New("classifier network error")

	// ErrParse means the backend response body could not be decoded.
	ErrParse = errors.New("classifier response parse error")

	// ErrDecisionMissing means the response decoded but carried no label.
	// Callers treat it as allow.
	ErrDecisionMissing = errors.New("classifier decision missing")
)
