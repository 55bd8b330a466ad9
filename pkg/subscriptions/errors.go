package subscriptions

import "fmt"

// Error is a simple error type for protocol errors.
// It allows defining sentinel errors as constants.
type Error string

// Error implements the error interface.
func (e Error) Error() string { return string(e) }

// Sentinel errors reported by the codec and the registry.
var (
	// ErrMissingQuery is returned when a start payload carries no query text.
	ErrMissingQuery = Error("query is required")

	// ErrUnknownMessageType is returned when a message type is missing or
	// not part of the protocol.
	ErrUnknownMessageType = Error("unknown message type")

	// ErrMissingID is returned when an operation-scoped message has no id.
	ErrMissingID = Error("operation id is required")

	// ErrInvalidID is returned when an id is neither a string nor an integer.
	ErrInvalidID = Error("operation id must be a string or an integer")

	// ErrInvalidPayload is returned when a payload has the wrong shape.
	ErrInvalidPayload = Error("invalid payload")

	// ErrMultipleRootFields is returned when a subscription selects more or
	// fewer than one root field.
	ErrMultipleRootFields = Error("subscription must select exactly one root field")

	// ErrUnexpectedMessage is returned when a client sends a message type
	// that only the server may send.
	ErrUnexpectedMessage = Error("unexpected message from client")

	// ErrPublishNotAllowed is returned when a client connection attempts to
	// inject an internal publish event.
	ErrPublishNotAllowed = Error("publish is not allowed from a client connection")

	// ErrSubscriptionNotAllowed is returned by Registry.Execute for
	// subscription operations.
	ErrSubscriptionNotAllowed = Error("subscriptions are only supported over a subscription connection")

	// ErrInternal replaces the detail of a recovered hook or filter panic
	// unless the executor runs in debug mode.
	ErrInternal = Error("internal server error")
)

// DecodeError is returned by Decode. ID is set when the message carried a
// usable operation id, so the failure can be reported against it.
type DecodeError struct {
	ID  OperationID
	Err error
}

func (e *DecodeError) Error() string {
	if e.ID.IsZero() {
		return fmt.Sprintf("decode message: %v", e.Err)
	}
	return fmt.Sprintf("decode message %s: %v", e.ID, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// panicError is produced when a hook or filter panics. The panic value is
// only included in debug mode.
func (r *Registry) panicError(where string, rec interface{}) error {
	if !r.executor.Debug() {
		return fmt.Errorf("%w: %s panicked", ErrInternal, where)
	}
	if err, ok := rec.(error); ok {
		return fmt.Errorf("%s panicked: %w", where, err)
	}
	return fmt.Errorf("%s panicked: %v", where, rec)
}
