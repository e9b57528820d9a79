package gateway

import "fmt"

// Kind classifies a gateway failure.
type Kind string

const (
	KindTransport Kind = "transport"
	KindStatus    Kind = "status"
	KindMalformed Kind = "malformed"
	KindAccess    Kind = "access"
)

// Sentinels for errors.Is. They match any *Error of the same kind.
var (
	ErrTransport = &Error{Kind: KindTransport}
	ErrStatus    = &Error{Kind: KindStatus}
	ErrMalformed = &Error{Kind: KindMalformed}
	ErrAccess    = &Error{Kind: KindAccess}
)

// Error is returned for every failed scanning service call.
type Error struct {
	Kind       Kind
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("scan gateway %s error", e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}
