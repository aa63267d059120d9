package poller

import (
	"encoding/json"
	"strings"
	"time"

	"docflow/internal/services"
	"docflow/internal/services/du"
)

// Human review statuses reported in result.actionData.status.
const (
	ActionUnassigned = "Unassigned"
	ActionPending    = "Pending"
	ActionCompleted  = "Completed"
)

// ValidationStrategy polls a validation operation. Once the outer operation
// succeeds it keeps polling until the review action is Completed.
type ValidationStrategy struct {
	Client   *du.Client
	Endpoint du.Endpoint
	Module   string
}

type actionEnvelope struct {
	ActionData *struct {
		Status           *string `json:"status"`
		LastAssignedTime string  `json:"lastAssignedTime"`
		CompletionTime   string  `json:"completionTime"`
	} `json:"actionData"`
}

// URL implements Strategy.
func (s ValidationStrategy) URL(operationID string) string {
	return s.Client.URL(s.Endpoint, s.Module, operationID)
}

// Interpret implements Strategy.
func (s ValidationStrategy) Interpret(env du.Envelope) (Step, string, error) {
	step, status, err := interpretOuter(env)
	if err != nil || step != StepDone {
		return step, status, err
	}
	action, err := decodeAction(env)
	if err != nil {
		return StepWait, status, err
	}
	inner := strings.TrimSpace(*action.ActionData.Status)
	switch inner {
	case ActionCompleted:
		return StepDone, inner, nil
	case ActionUnassigned, ActionPending:
		return StepReview, inner, nil
	default:
		return StepUnknown, inner, nil
	}
}

// Complete implements Strategy. The stage duration is the reviewer's working
// time, completionTime minus lastAssignedTime; elapsed is used when either
// timestamp is missing or unparsable.
func (s ValidationStrategy) Complete(env du.Envelope, elapsed time.Duration) (json.RawMessage, time.Duration, error) {
	action, err := decodeAction(env)
	if err != nil {
		return nil, 0, err
	}
	duration := elapsed
	assigned, errA := time.Parse(time.RFC3339Nano, strings.TrimSpace(action.ActionData.LastAssignedTime))
	completed, errC := time.Parse(time.RFC3339Nano, strings.TrimSpace(action.ActionData.CompletionTime))
	if errA == nil && errC == nil && !completed.Before(assigned) {
		duration = completed.Sub(assigned)
	}
	return env.Result, duration, nil
}

func decodeAction(env du.Envelope) (actionEnvelope, error) {
	var action actionEnvelope
	if isEmptyJSON(env.Result) {
		return action, services.Wrap(services.ErrMalformedResponse, "poll", "validation", "missing result", nil)
	}
	if err := json.Unmarshal(env.Result, &action); err != nil {
		return action, services.Wrap(services.ErrMalformedResponse, "poll", "validation", "decode actionData", err)
	}
	if action.ActionData == nil || action.ActionData.Status == nil {
		return action, services.Wrap(services.ErrMalformedResponse, "poll", "validation", "missing actionData.status", nil)
	}
	return action, nil
}
