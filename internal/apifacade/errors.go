package apifacade

import "net/http"

// Kind classifies a facade error for the out-of-scope HTTP layer's
// status-code mapping. It deliberately carries no machinery beyond a label
// and a status code — callers branch on the Kind, not on the error string.
type Kind string

const (
	KindNotFound      Kind = "not_found"
	KindConflict      Kind = "conflict"
	KindInvariant     Kind = "invariant"
	KindUnauthorized  Kind = "unauthorized"
	KindForbidden     Kind = "forbidden"
	KindBadRequest    Kind = "bad_request"
	KindRemoteAuth    Kind = "remote_auth"
	KindRemoteTimeout Kind = "remote_timeout"
	KindRemoteExec    Kind = "remote_exec"
	KindTransient     Kind = "transient"
	KindInternal      Kind = "internal"
)

// Status maps a Kind to the HTTP status code the out-of-scope HTTP layer
// should respond with.
func (k Kind) Status() int {
	switch k {
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindInvariant, KindBadRequest:
		return http.StatusUnprocessableEntity
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindRemoteAuth, KindRemoteTimeout, KindRemoteExec:
		return http.StatusBadGateway
	case KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Error wraps an underlying error with a Kind the caller can branch on.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op + ": " + string(e.Kind)
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func newError(op string, kind Kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// BadRequestFromDecode wraps a request-parsing error (malformed JSON body,
// unparsable path parameter) as a KindBadRequest Error, for callers at the
// transport edge (such as httpref) that need to turn a decode failure into
// the same Error shape every other Facade error takes.
func BadRequestFromDecode(err error) error {
	return newError("apifacade: decode request", KindBadRequest, err)
}
