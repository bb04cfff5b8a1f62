package handshake

import (
	"errors"
	"fmt"

	"sentinel/internal/model"
)

// Kind categorizes a handshake failure for programmatic handling.
type Kind int

const (
	KindUnknown Kind = iota

	// KindSessionInitFailed: the backend could not create a session. Retry
	// with a new session.
	KindSessionInitFailed

	// KindDocumentRejected: a profile photo or ID image was refused. Resubmit
	// at the same stage.
	KindDocumentRejected

	// KindConnectionFailed: the live channel could not be opened or dropped.
	// Restart the whole handshake.
	KindConnectionFailed

	// KindChallengeError: the server reported an error during the live stage.
	KindChallengeError

	// KindInvalidStage: an operation was called in the wrong stage.
	KindInvalidStage
)

func (k Kind) String() string {
	switch k {
	case KindSessionInitFailed:
		return "SessionInitFailed"
	case KindDocumentRejected:
		return "DocumentRejected"
	case KindConnectionFailed:
		return "ConnectionFailed"
	case KindChallengeError:
		return "ChallengeError"
	case KindInvalidStage:
		return "InvalidStage"
	default:
		return "Unknown"
	}
}

type HandshakeError struct {
	Kind Kind

	// Stage the session was in when the error occurred (optional).
	Stage model.Stage

	Message string
	Cause   error
}

func (e *HandshakeError) Error() string {
	prefix := e.Kind.String()
	if e.Stage != "" {
		prefix = fmt.Sprintf("%s (stage: %s)", prefix, e.Stage)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

func (e *HandshakeError) Unwrap() error {
	return e.Cause
}

func newError(kind Kind, stage model.Stage, message string, cause error) *HandshakeError {
	return &HandshakeError{
		Kind:    kind,
		Stage:   stage,
		Message: message,
		Cause:   cause,
	}
}

// IsKind reports whether err wraps a HandshakeError of the given kind.
func IsKind(err error, kind Kind) bool {
	var hsErr *HandshakeError
	if errors.As(err, &hsErr) {
		return hsErr.Kind == kind
	}
	return false
}
