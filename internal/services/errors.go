package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNetwork           = errors.New("network error")
	ErrRemoteOperation   = errors.New("remote operation failed")
	ErrMalformedResponse = errors.New("malformed response")
	ErrRetriesExhausted  = errors.New("transient retries exhausted")
	ErrValidation        = errors.New("validation error")
	ErrConfiguration     = errors.New("configuration error")
	ErrNotFound          = errors.New("not found")
)

// Error codes persisted for failures that carry no remote error pair.
const (
	CodeNetwork       = "NetworkError"
	CodeMalformed     = "MalformedResponse"
	CodeConfiguration = "ConfigurationError"
	CodeValidation    = "ValidationError"
	CodeNotFound      = "NotFound"
	CodeUnexpected    = "UnexpectedError"
)

// RemoteError is the error.code / error.message pair reported by the remote
// service for a failed operation.
type RemoteError struct {
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	code := strings.TrimSpace(e.Code)
	msg := strings.TrimSpace(e.Message)
	switch {
	case code != "" && msg != "":
		return code + ": " + msg
	case code != "":
		return code
	case msg != "":
		return msg
	default:
		return "remote operation failed"
	}
}

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrRemoteOperation
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// ErrorDetails is the persisted view of a stage failure.
type ErrorDetails struct {
	Code    string
	Message string
}

// Details resolves the error code and message recorded for a failed stage.
// Remote error pairs win over marker-derived codes.
func Details(err error) ErrorDetails {
	if err == nil {
		return ErrorDetails{}
	}
	var remote *RemoteError
	if errors.As(err, &remote) && strings.TrimSpace(remote.Code) != "" {
		return ErrorDetails{Code: remote.Code, Message: strings.TrimSpace(remote.Message)}
	}
	return ErrorDetails{Code: markerCode(err), Message: strings.TrimSpace(err.Error())}
}

// IsFatal reports whether an error class must never be retried.
func IsFatal(err error) bool {
	return errors.Is(err, ErrNetwork) ||
		errors.Is(err, ErrMalformedResponse) ||
		errors.Is(err, ErrRetriesExhausted) ||
		errors.Is(err, ErrConfiguration)
}

func markerCode(err error) string {
	switch {
	case errors.Is(err, ErrNetwork):
		return CodeNetwork
	case errors.Is(err, ErrMalformedResponse):
		return CodeMalformed
	case errors.Is(err, ErrConfiguration):
		return CodeConfiguration
	case errors.Is(err, ErrValidation):
		return CodeValidation
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	default:
		return CodeUnexpected
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
