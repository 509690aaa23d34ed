package vision

import (
	"errors"
	"fmt"
)

// ErrorKind classifies analysis failures so the view can pick a presentation.
type ErrorKind string

const (
	KindConfiguration ErrorKind = "configuration"
	KindInput         ErrorKind = "input"
	KindTransport     ErrorKind = "transport"
	KindParse         ErrorKind = "parse"
	KindValidation    ErrorKind = "validation"
)

// GenericFailureMessage is shown for every failure that is not the user's input.
const GenericFailureMessage = "We couldn't analyze this image. Please try again with a clearer or different photo."

// Error is a classified analysis failure. Message, when set, is safe to show
// to the user; Err carries the diagnostic and is only logged.
type Error struct {
	Kind    ErrorKind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op == "" {
		return fmt.Sprintf("%s error: %s", e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s error: %s", e.Op, e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind, so errors.Is(err, &Error{Kind: KindParse})
// works regardless of Op and cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// InputError builds a KindInput error whose message is shown to the user as is.
func InputError(op, message string) *Error {
	return &Error{Kind: KindInput, Op: op, Message: message, Err: errors.New(message)}
}

// KindOf returns the kind of the first *Error in err's chain. Unclassified
// errors count as transport failures.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindTransport
}

// UserMessage returns the text to display for err. Input errors carry their
// own message; everything else collapses to GenericFailureMessage.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind == KindInput && e.Message != "" {
		return e.Message
	}
	return GenericFailureMessage
}
