package protocol

import "errors"

// ErrInvalid wraps every decode or schema failure.
var ErrInvalid = errors.New("invalid payload")

// Reasons not produced by the team registry.
const (
	ReasonBadRequest  = "BadRequest"
	ReasonUnavailable = "Unavailable"
	ReasonRateLimited = "RateLimited"
	ReasonNotAllowed  = "MethodNotAllowed"
)

var knownReasons = map[string]struct{}{
	"NameTaken":         {},
	"AddressTaken":      {},
	"NameNotRegistered": {},
	ReasonBadRequest:    {},
	ReasonUnavailable:   {},
	ReasonRateLimited:   {},
	ReasonNotAllowed:    {},
}

func IsKnownReason(reason string) bool {
	_, ok := knownReasons[reason]
	return ok
}
