package poller

import (
	"encoding/json"
	"strings"
	"time"

	"docflow/internal/services"
	"docflow/internal/services/du"
)

// Step is the Strategy's reading of one envelope.
type Step int

const (
	// StepWait means the operation is still running; poll again at the
	// configured interval.
	StepWait Step = iota
	// StepDone means the operation finished; call Complete.
	StepDone
	// StepReview means the operation finished but its human review is open.
	// It waits at the request's review interval.
	StepReview
	// StepUnknown is a review wait whose status the strategy did not
	// recognise.
	StepUnknown
)

// Strategy adapts the poller to one kind of remote operation.
type Strategy interface {
	// URL returns the result endpoint for operationID.
	URL(operationID string) string
	// Interpret reads an envelope. A *services.RemoteError return is a remote
	// failure; any other error is a malformed response.
	Interpret(env du.Envelope) (Step, string, error)
	// Complete extracts the success payload and the stage duration. elapsed is
	// the wall-clock time since polling began.
	Complete(env du.Envelope, elapsed time.Duration) (json.RawMessage, time.Duration, error)
}

// OperationStrategy polls a machine stage (digitize, classify, extract).
type OperationStrategy struct {
	Client   *du.Client
	Endpoint du.Endpoint
	Module   string
}

// URL implements Strategy.
func (s OperationStrategy) URL(operationID string) string {
	return s.Client.URL(s.Endpoint, s.Module, operationID)
}

// Interpret implements Strategy.
func (s OperationStrategy) Interpret(env du.Envelope) (Step, string, error) {
	return interpretOuter(env)
}

// Complete implements Strategy.
func (s OperationStrategy) Complete(env du.Envelope, elapsed time.Duration) (json.RawMessage, time.Duration, error) {
	if isEmptyJSON(env.Result) {
		return nil, 0, services.Wrap(services.ErrMalformedResponse, "poll", "complete", "missing result", nil)
	}
	return env.Result, elapsed, nil
}

func interpretOuter(env du.Envelope) (Step, string, error) {
	if env.Status == nil {
		return StepWait, "", services.Wrap(services.ErrMalformedResponse, "poll", "interpret", "missing status", nil)
	}
	status := env.StatusValue()
	switch status {
	case du.StatusSucceeded:
		return StepDone, status, nil
	case du.StatusNotStarted, du.StatusRunning:
		return StepWait, status, nil
	default:
		return StepWait, status, env.RemoteError()
	}
}

func isEmptyJSON(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return trimmed == "" || trimmed == "null"
}
