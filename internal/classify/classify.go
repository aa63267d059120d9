package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"docflow/internal/logging"
	"docflow/internal/poller"
	"docflow/internal/prompts"
	"docflow/internal/services"
	"docflow/internal/services/du"
	"docflow/internal/state"
)

// Result is one classified logical document. StartPage is 0-based.
type Result struct {
	DocumentTypeID string
	Confidence     float64
	StartPage      int
	PageCount      int
	PageRange      string
	ClassifierName string
}

// Outcome is the decoded classification together with the raw results array
// that validation submits back to the service.
type Outcome struct {
	Results     []Result
	Raw         json.RawMessage
	OperationID string
}

// Plans converts the results into extraction unit plans (1-based indexes).
func (o Outcome) Plans() []state.UnitPlan {
	plans := make([]state.UnitPlan, 0, len(o.Results))
	for i, r := range o.Results {
		plans = append(plans, state.UnitPlan{
			Index:          i + 1,
			DocumentTypeID: r.DocumentTypeID,
			Confidence:     r.Confidence,
			StartPage:      r.StartPage,
			PageCount:      r.PageCount,
			PageRange:      r.PageRange,
		})
	}
	return plans
}

// Request describes one classification.
type Request struct {
	Filename     string
	DocumentID   string
	ClassifierID string
	Prompts      *prompts.Set
	// PageCount clamps reported page bounds when known.
	PageCount int
}

// Client runs the classification stage.
type Client struct {
	service *du.Client
	poller  *poller.Poller
	store   *state.Store
	logger  *slog.Logger
}

// New constructs a classification client.
func New(service *du.Client, p *poller.Poller, store *state.Store, logger *slog.Logger) *Client {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Client{service: service, poller: p, store: store, logger: logger}
}

// Classify submits the document and waits for its classification.
func (c *Client) Classify(ctx context.Context, req Request) (Outcome, error) {
	logger := logging.WithContext(ctx, c.logger)
	state.BestEffort(ctx, logger, "record classify_init", c.store.UpsertStage(ctx, state.StageUpdate{
		Filename:     req.Filename,
		Stage:        state.StageClassifyInit,
		Action:       state.ActionClassification,
		ClassifierID: req.ClassifierID,
	}))

	operationID, err := c.start(ctx, req)
	if err != nil {
		return Outcome{}, err
	}
	logger.Info("classification submitted",
		logging.String("classifier", req.ClassifierID),
		logging.String("operation_id", operationID),
		logging.Bool("generative", req.Prompts != nil),
	)

	payload, err := c.poller.Await(ctx, poller.Request{
		Action:      state.ActionClassification,
		Filename:    req.Filename,
		DocumentID:  req.DocumentID,
		OperationID: operationID,
		Strategy:    poller.OperationStrategy{Client: c.service, Endpoint: du.ClassifyResult, Module: req.ClassifierID},
		Resubmit: func(ctx context.Context) (string, error) {
			id, err := c.start(ctx, req)
			if err == nil {
				operationID = id
			}
			return id, err
		},
	})
	if err != nil {
		return Outcome{}, err
	}

	outcome, err := Decode(payload, req.PageCount)
	if err != nil {
		state.BestEffort(ctx, logger, "record classify_failed", c.store.UpsertStage(ctx, state.StageUpdate{
			Filename:     req.Filename,
			Stage:        state.StageClassifyFailed,
			Action:       state.ActionClassification,
			ErrorCode:    services.CodeMalformed,
			ErrorMessage: err.Error(),
		}))
		return Outcome{}, err
	}
	outcome.OperationID = operationID
	Record(ctx, c.store, c.logger, req.Filename, req.DocumentID, operationID, outcome.Results, false)
	for _, r := range outcome.Results {
		logger.Info("document classified",
			logging.String("document_type", r.DocumentTypeID),
			logging.Float64("confidence", r.Confidence),
			logging.String("page_range", r.PageRange),
		)
	}
	return outcome, nil
}

// Record appends one audit row per result. Write failures are logged.
func Record(ctx context.Context, store *state.Store, logger *slog.Logger, filename, documentID, operationID string, results []Result, validated bool) {
	logger = logging.WithContext(ctx, logger)
	for _, r := range results {
		state.BestEffort(ctx, logger, "insert classification audit row", store.InsertClassification(ctx, state.ClassificationRecord{
			DocumentID:     documentID,
			Filename:       filename,
			DocumentTypeID: r.DocumentTypeID,
			Confidence:     r.Confidence,
			StartPage:      r.StartPage,
			PageCount:      r.PageCount,
			ClassifierName: r.ClassifierName,
			OperationID:    operationID,
			Validated:      validated,
		}))
	}
}

func (c *Client) start(ctx context.Context, req Request) (string, error) {
	body := prompts.Merge(map[string]any{"documentId": req.DocumentID}, req.Prompts)
	var resp du.StartResponse
	if err := c.service.PostJSON(ctx, c.service.URL(du.ClassifyStart, req.ClassifierID, ""), body, &resp); err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.OperationID) == "" {
		return "", services.Wrap(services.ErrMalformedResponse, "classification", "start", "response has no operationId", nil)
	}
	return resp.OperationID, nil
}

type wireResult struct {
	DocumentTypeID *string  `json:"DocumentTypeId"`
	Confidence     float64  `json:"Confidence"`
	ClassifierName string   `json:"ClassifierName"`
	DocumentBounds *struct {
		StartPage int    `json:"StartPage"`
		PageCount int    `json:"PageCount"`
		PageRange string `json:"PageRange"`
	} `json:"DocumentBounds"`
}

// Decode parses a classification result payload. The payload must carry a
// classificationResults array (possibly empty) whose entries name a document
// type. pageCount, when positive, clamps the page bounds.
func Decode(payload json.RawMessage, pageCount int) (Outcome, error) {
	var envelope struct {
		ClassificationResults json.RawMessage `json:"classificationResults"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return Outcome{}, services.Wrap(services.ErrMalformedResponse, "classification", "decode", "invalid result", err)
	}
	raw := envelope.ClassificationResults
	if len(raw) == 0 || string(raw) == "null" {
		return Outcome{}, services.Wrap(services.ErrMalformedResponse, "classification", "decode", "missing classificationResults", nil)
	}
	var wire []wireResult
	if err := json.Unmarshal(raw, &wire); err != nil {
		return Outcome{}, services.Wrap(services.ErrMalformedResponse, "classification", "decode", "classificationResults is not a list", err)
	}
	return fromWire(wire, raw, pageCount)
}

// DecodeResults parses a bare results array, as found in
// validatedClassificationResults.
func DecodeResults(raw json.RawMessage, pageCount int) (Outcome, error) {
	var wire []wireResult
	if err := json.Unmarshal(raw, &wire); err != nil {
		return Outcome{}, services.Wrap(services.ErrMalformedResponse, "classification", "decode", "results is not a list", err)
	}
	return fromWire(wire, raw, pageCount)
}

func fromWire(wire []wireResult, raw json.RawMessage, pageCount int) (Outcome, error) {
	outcome := Outcome{Raw: raw, Results: make([]Result, 0, len(wire))}
	for i, w := range wire {
		if w.DocumentTypeID == nil || strings.TrimSpace(*w.DocumentTypeID) == "" {
			return Outcome{}, services.Wrap(services.ErrMalformedResponse, "classification", "decode",
				fmt.Sprintf("result %d has no DocumentTypeId", i), nil)
		}
		r := Result{
			DocumentTypeID: strings.TrimSpace(*w.DocumentTypeID),
			Confidence:     w.Confidence,
			ClassifierName: w.ClassifierName,
		}
		if w.DocumentBounds != nil {
			r.StartPage = w.DocumentBounds.StartPage
			r.PageCount = w.DocumentBounds.PageCount
			r.PageRange = strings.TrimSpace(w.DocumentBounds.PageRange)
		}
		clampPages(&r, pageCount)
		outcome.Results = append(outcome.Results, r)
	}
	return outcome, nil
}

func clampPages(r *Result, total int) {
	if r.StartPage < 0 {
		r.StartPage = 0
	}
	if total > 0 {
		if r.StartPage >= total {
			r.StartPage = total - 1
		}
		if r.PageCount <= 0 || r.StartPage+r.PageCount > total {
			r.PageCount = total - r.StartPage
		}
	}
	if r.PageRange == "" && r.PageCount > 0 {
		r.PageRange = fmt.Sprintf("%d-%d", r.StartPage+1, r.StartPage+r.PageCount)
	}
}
