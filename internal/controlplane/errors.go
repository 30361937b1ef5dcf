package controlplane

import "fmt"

// Kind classifies a control-plane failure the way spec §7 enumerates them.
type Kind string

const (
	KindNetwork       Kind = "Network"
	KindTimeout       Kind = "Timeout"
	KindServerError   Kind = "ServerError"
	KindNotFound      Kind = "NotFound"
	KindConflict      Kind = "Conflict"
	KindBadRequest    Kind = "BadRequest"
	KindUnauthorized  Kind = "Unauthorized"
	KindMalformed     Kind = "Malformed"
)

// Error is the structured error the client raises to its direct caller
// (an adapter), which chooses between retry, fallback, or an empty result
// (spec §4.2, §7).
type Error struct {
	Kind      Kind
	Retriable bool
	Message   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("controlplane: %s: %s", e.Kind, e.Message)
}

func newError(kind Kind, retriable bool, format string, args ...any) *Error {
	return &Error{Kind: kind, Retriable: retriable, Message: fmt.Sprintf(format, args...)}
}

func kindForStatus(status int) Kind {
	switch {
	case status == 401 || status == 403:
		return KindUnauthorized
	case status == 404:
		return KindNotFound
	case status == 409:
		return KindConflict
	case status >= 400 && status < 500:
		return KindBadRequest
	case status >= 500:
		return KindServerError
	default:
		return KindServerError
	}
}
