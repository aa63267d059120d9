package extract

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"docflow/internal/logging"
	"docflow/internal/poller"
	"docflow/internal/prompts"
	"docflow/internal/services"
	"docflow/internal/services/du"
	"docflow/internal/state"
)

// Request describes the extraction of one unit.
type Request struct {
	Filename    string
	Unit        int
	DocumentID  string
	ExtractorID string
	// PageRange limits extraction to the unit's pages; empty means the
	// whole document.
	PageRange string
	Prompts   *prompts.Set
}

// Outcome is a decoded extraction plus the raw payload that validation
// submits back to the service.
type Outcome struct {
	Document    *Document
	Raw         json.RawMessage
	OperationID string
}

// Client runs the extraction stage.
type Client struct {
	service *du.Client
	poller  *poller.Poller
	store   *state.Store
	logger  *slog.Logger
}

// New constructs an extraction client.
func New(service *du.Client, p *poller.Poller, store *state.Store, logger *slog.Logger) *Client {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Client{service: service, poller: p, store: store, logger: logger}
}

// Extract submits the unit to the extractor, waits for the result and
// persists the decoded rows.
func (c *Client) Extract(ctx context.Context, req Request) (Outcome, error) {
	logger := logging.WithContext(ctx, c.logger)
	state.BestEffort(ctx, logger, "record extract-pending", c.store.UpsertStage(ctx, state.StageUpdate{
		Filename:    req.Filename,
		Unit:        req.Unit,
		Stage:       state.StageExtractPending,
		Action:      state.ActionExtraction,
		ExtractorID: req.ExtractorID,
	}))

	operationID, err := c.start(ctx, req)
	if err != nil {
		c.recordFailure(ctx, logger, req, operationID, err)
		return Outcome{}, err
	}
	logger.Info("extraction submitted",
		logging.String("extractor", req.ExtractorID),
		logging.String("operation_id", operationID),
		logging.String("page_range", req.PageRange),
	)

	payload, err := c.poller.Await(ctx, poller.Request{
		Action:      state.ActionExtraction,
		Filename:    req.Filename,
		Unit:        req.Unit,
		DocumentID:  req.DocumentID,
		OperationID: operationID,
		Strategy:    poller.OperationStrategy{Client: c.service, Endpoint: du.ExtractResult, Module: req.ExtractorID},
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

	doc, err := Decode(payload)
	if err != nil {
		c.recordFailure(ctx, logger, req, operationID, err)
		return Outcome{}, err
	}
	if doc.DocumentID == "" {
		doc.DocumentID = req.DocumentID
	}
	rows := doc.Rows(req.Filename, req.Unit)
	state.BestEffort(ctx, logger, "insert extraction rows", c.store.InsertExtractionRows(ctx, req.Filename, req.Unit, rows))
	logger.Info("extraction decoded",
		logging.String("document_type", doc.DocumentTypeID),
		logging.Int("fields", len(doc.Fields)),
		logging.Int("rows", len(rows)),
	)
	return Outcome{Document: doc, Raw: payload, OperationID: operationID}, nil
}

func (c *Client) start(ctx context.Context, req Request) (string, error) {
	body := map[string]any{"documentId": req.DocumentID}
	if strings.TrimSpace(req.PageRange) != "" {
		body["pageRange"] = req.PageRange
	}
	body = prompts.Merge(body, req.Prompts)
	var resp du.StartResponse
	if err := c.service.PostJSON(ctx, c.service.URL(du.ExtractStart, req.ExtractorID, ""), body, &resp); err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.OperationID) == "" {
		return "", services.Wrap(services.ErrMalformedResponse, "extraction", "start", "response has no operationId", nil)
	}
	return resp.OperationID, nil
}

func (c *Client) recordFailure(ctx context.Context, logger *slog.Logger, req Request, operationID string, err error) {
	details := services.Details(err)
	state.BestEffort(ctx, logger, "record extract_failed", c.store.UpsertStage(ctx, state.StageUpdate{
		Filename:     req.Filename,
		Unit:         req.Unit,
		Stage:        state.StageExtractFailed,
		Action:       state.ActionExtraction,
		OperationID:  operationID,
		ErrorCode:    details.Code,
		ErrorMessage: details.Message,
	}))
}
