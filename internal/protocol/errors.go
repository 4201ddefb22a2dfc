package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// Request layer.
	ErrBadRequest   = "E_BAD_REQUEST"
	ErrInvalidInput = "E_INVALID_INPUT"
	ErrNotFound     = "E_NOT_FOUND"
	ErrRateLimit    = "E_RATE_LIMIT"

	// Game rules.
	ErrInsufficientFunds = "E_INSUFFICIENT_FUNDS"
	ErrInvalidAxis       = "E_INVALID_AXIS"

	// Progress synchronization.
	ErrNotConfigured = "E_NOT_CONFIGURED"
	ErrNotRegistered = "E_NOT_REGISTERED"
	ErrUpstream      = "E_UPSTREAM"

	ErrInternal = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest:   {},
	ErrBadRequest:        {},
	ErrInvalidInput:      {},
	ErrNotFound:          {},
	ErrRateLimit:         {},
	ErrInsufficientFunds: {},
	ErrInvalidAxis:       {},
	ErrNotConfigured:     {},
	ErrNotRegistered:     {},
	ErrUpstream:          {},
	ErrInternal:          {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
