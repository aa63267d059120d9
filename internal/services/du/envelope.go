package du

import (
	"encoding/json"
	"strings"

	"docflow/internal/services"
)

// Operation statuses reported by result endpoints.
const (
	StatusSucceeded  = "Succeeded"
	StatusNotStarted = "NotStarted"
	StatusRunning    = "Running"
	StatusFailed     = "Failed"
)

// Envelope is the body of every result endpoint. Status is nil when the key
// is absent, which callers treat as a malformed response.
type Envelope struct {
	Status *string         `json:"status"`
	Result json.RawMessage `json:"result"`
	Error  *wireError      `json:"error"`
}

type wireError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// StatusValue returns the status or "" when missing.
func (e Envelope) StatusValue() string {
	if e.Status == nil {
		return ""
	}
	return strings.TrimSpace(*e.Status)
}

// RemoteError returns the error pair carried by a failed envelope.
func (e Envelope) RemoteError() *services.RemoteError {
	if e.Error == nil {
		return &services.RemoteError{}
	}
	return &services.RemoteError{Code: strings.TrimSpace(e.Error.Code), Message: strings.TrimSpace(e.Error.Message)}
}

// StartResponse is the body returned by stage start endpoints.
type StartResponse struct {
	OperationID string `json:"operationId"`
	DocumentID  string `json:"documentId"`
}
