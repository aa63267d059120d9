package validate

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"docflow/internal/classify"
	"docflow/internal/config"
	"docflow/internal/extract"
	"docflow/internal/logging"
	"docflow/internal/poller"
	"docflow/internal/prompts"
	"docflow/internal/services"
	"docflow/internal/services/du"
	"docflow/internal/state"
)

// ClassificationRequest describes a classification review.
type ClassificationRequest struct {
	Filename     string
	DocumentID   string
	ClassifierID string
	Outcome      classify.Outcome
	Prompts      *prompts.Set
	PageCount    int
}

// ExtractionRequest describes an extraction review of one unit.
type ExtractionRequest struct {
	Filename    string
	Unit        int
	DocumentID  string
	ExtractorID string
	Outcome     extract.Outcome
	Prompts     *prompts.Set
}

// Client runs the validation stages.
type Client struct {
	service  *du.Client
	poller   *poller.Poller
	store    *state.Store
	action   config.Validation
	interval time.Duration
	logger   *slog.Logger
}

// New constructs a validation client.
func New(cfg *config.Config, service *du.Client, p *poller.Poller, store *state.Store, logger *slog.Logger) *Client {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Client{
		service:  service,
		poller:   p,
		store:    store,
		action:   cfg.Validation,
		interval: cfg.ValidationPollInterval(),
		logger:   logger,
	}
}

// Classification submits the classification for review, waits for the
// reviewer and returns the validated classification.
func (c *Client) Classification(ctx context.Context, req ClassificationRequest) (classify.Outcome, error) {
	logger := logging.WithContext(ctx, c.logger)
	title := "Validate - " + req.Filename
	if len(req.Outcome.Results) > 0 {
		title = "Validate - " + req.Outcome.Results[0].DocumentTypeID
	}
	body := c.body(req.DocumentID, title, req.Prompts)
	body["classificationResults"] = req.Outcome.Raw

	operationID, err := c.submit(ctx, c.service.URL(du.ClassificationValidationStart, req.ClassifierID, ""), body)
	if err != nil {
		return classify.Outcome{}, err
	}
	state.BestEffort(ctx, logger, "record classification-validation-submitted", c.store.UpsertStage(ctx, state.StageUpdate{
		Filename:    req.Filename,
		Stage:       state.StageClassificationValidationSubmitted,
		Action:      state.ActionClassificationValidation,
		OperationID: operationID,
	}))
	logger.Info("classification validation submitted",
		logging.String("operation_id", operationID),
		logging.String("action_title", title),
	)

	payload, err := c.poller.Await(ctx, poller.Request{
		Action:         state.ActionClassificationValidation,
		Filename:       req.Filename,
		DocumentID:     req.DocumentID,
		OperationID:    operationID,
		ReviewInterval: c.interval,
		Strategy:       poller.ValidationStrategy{Client: c.service, Endpoint: du.ClassificationValidationResult, Module: req.ClassifierID},
	})
	if err != nil {
		return classify.Outcome{}, err
	}

	var result struct {
		Validated json.RawMessage `json:"validatedClassificationResults"`
	}
	if err := json.Unmarshal(payload, &result); err != nil || len(result.Validated) == 0 || string(result.Validated) == "null" {
		err = services.Wrap(services.ErrMalformedResponse, "classification_validation", "decode", "missing validatedClassificationResults", err)
		c.fail(ctx, logger, req.Filename, 0, state.ActionClassificationValidation, operationID, err)
		return classify.Outcome{}, err
	}
	validated, err := classify.DecodeResults(result.Validated, req.PageCount)
	if err != nil {
		c.fail(ctx, logger, req.Filename, 0, state.ActionClassificationValidation, operationID, err)
		return classify.Outcome{}, err
	}
	validated.OperationID = operationID
	classify.Record(ctx, c.store, c.logger, req.Filename, req.DocumentID, operationID, validated.Results, true)
	if len(validated.Results) > 0 && len(req.Outcome.Results) > 0 &&
		validated.Results[0].DocumentTypeID != req.Outcome.Results[0].DocumentTypeID {
		logger.Info("reviewer changed document type",
			logging.String("from", req.Outcome.Results[0].DocumentTypeID),
			logging.String("to", validated.Results[0].DocumentTypeID),
		)
	}
	return validated, nil
}

// Extraction submits the unit's extraction for review. With later set it
// returns (nil, nil) as soon as the request is accepted; otherwise it waits
// for the reviewer and applies the validated values.
func (c *Client) Extraction(ctx context.Context, req ExtractionRequest, later bool) (*extract.Document, error) {
	logger := logging.WithContext(ctx, c.logger)
	title := "Validate - " + req.Filename
	body := c.body(req.DocumentID, title, req.Prompts)
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(req.Outcome.Raw, &raw); err != nil {
		return nil, services.Wrap(services.ErrValidation, "extraction_validation", "submit", "extraction payload is not an object", err)
	}
	for key, value := range raw {
		body[key] = value
	}

	operationID, err := c.submit(ctx, c.service.URL(du.ExtractionValidationStart, req.ExtractorID, ""), body)
	if err != nil {
		return nil, err
	}
	state.BestEffort(ctx, logger, "record extraction-validation-submitted", c.store.UpsertStage(ctx, state.StageUpdate{
		Filename:    req.Filename,
		Unit:        req.Unit,
		Stage:       state.StageExtractionValidationSubmitted,
		Action:      state.ActionExtractionValidation,
		OperationID: operationID,
	}))
	logger.Info("extraction validation submitted",
		logging.String("operation_id", operationID),
		logging.Bool("deferred", later),
	)
	if later {
		return nil, nil
	}
	return c.await(ctx, req.Filename, req.Unit, req.DocumentID, req.ExtractorID, operationID)
}

// Resume polls a parked extraction validation to completion and applies the
// reviewed values.
func (c *Client) Resume(ctx context.Context, unit *state.Unit, documentID string) (*extract.Document, error) {
	operationID := unit.OperationIDs[state.ActionExtractionValidation]
	if strings.TrimSpace(operationID) == "" {
		return nil, services.Wrap(services.ErrValidation, "extraction_validation", "resume", "parked unit has no operation id", nil)
	}
	return c.await(ctx, unit.Filename, unit.Index, documentID, unit.ExtractorID, operationID)
}

func (c *Client) await(ctx context.Context, filename string, unit int, documentID, extractorID, operationID string) (*extract.Document, error) {
	logger := logging.WithContext(ctx, c.logger)
	payload, err := c.poller.Await(ctx, poller.Request{
		Action:         state.ActionExtractionValidation,
		Filename:       filename,
		Unit:           unit,
		DocumentID:     documentID,
		OperationID:    operationID,
		ReviewInterval: c.interval,
		Strategy:       poller.ValidationStrategy{Client: c.service, Endpoint: du.ExtractionValidationResult, Module: extractorID},
	})
	if err != nil {
		return nil, err
	}
	doc, err := extract.DecodeValidated(payload)
	if err != nil {
		c.fail(ctx, logger, filename, unit, state.ActionExtractionValidation, operationID, err)
		return nil, err
	}
	matched, err := c.store.ApplyValidatedRows(ctx, filename, unit, doc.ValidatedRows())
	state.BestEffort(ctx, logger, "apply validated rows", err)
	logger.Info("extraction validated",
		logging.String("operation_id", operationID),
		logging.Int64("rows_matched", matched),
	)
	return doc, nil
}

func (c *Client) body(documentID, title string, set *prompts.Set) map[string]any {
	body := map[string]any{
		"documentId":                 documentID,
		"actionTitle":                title,
		"actionPriority":             c.action.Priority,
		"actionCatalog":              c.action.Catalog,
		"actionFolder":               c.action.Folder,
		"storageBucketName":          c.action.StorageBucket,
		"storageBucketDirectoryPath": c.action.StorageDirectory,
	}
	return prompts.Merge(body, set)
}

func (c *Client) submit(ctx context.Context, url string, body map[string]any) (string, error) {
	var resp du.StartResponse
	if err := c.service.PostJSON(ctx, url, body, &resp); err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.OperationID) == "" {
		return "", services.Wrap(services.ErrMalformedResponse, "validation", "start", "response has no operationId", nil)
	}
	return resp.OperationID, nil
}

func (c *Client) fail(ctx context.Context, logger *slog.Logger, filename string, unit int, action state.Action, operationID string, err error) {
	details := services.Details(err)
	state.BestEffort(ctx, logger, "record "+string(action.FailedStage()), c.store.UpsertStage(ctx, state.StageUpdate{
		Filename:     filename,
		Unit:         unit,
		Stage:        action.FailedStage(),
		Action:       action,
		OperationID:  operationID,
		ErrorCode:    details.Code,
		ErrorMessage: details.Message,
	}))
}
