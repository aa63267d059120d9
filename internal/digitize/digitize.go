package digitize

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"docflow/internal/logging"
	"docflow/internal/observability"
	"docflow/internal/poller"
	"docflow/internal/services"
	"docflow/internal/services/du"
	"docflow/internal/state"
)

// Result is the outcome of digitizing one file.
type Result struct {
	Filename   string
	DocumentID string
	PageCount  int
	Cached     bool
}

// Client runs the digitization stage.
type Client struct {
	service *du.Client
	poller  *poller.Poller
	store   *state.Store
	logger  *slog.Logger
	metrics *observability.Metrics
}

// Option customizes the client.
type Option func(*Client)

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(c *Client) {
		c.metrics = metrics
	}
}

// New constructs a digitization client.
func New(service *du.Client, p *poller.Poller, store *state.Store, opts ...Option) *Client {
	c := &Client{
		service: service,
		poller:  p,
		store:   store,
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Digitize returns the document id for path, uploading the file only when no
// unexpired cached id exists for its filename.
func (c *Client) Digitize(ctx context.Context, path string) (Result, error) {
	filename := filepath.Base(path)
	logger := logging.WithContext(ctx, c.logger)
	result := Result{Filename: filename}

	if id, ok := c.cached(ctx, logger, filename); ok {
		state.BestEffort(ctx, logger, "rewind to digitized",
			c.store.Rewind(ctx, filename, state.StageDigitized, "reusing cached digitization"))
		c.metrics.RecordStage(string(state.ActionDigitization), observability.OutcomeCached, 0)
		logger.Info("digitization cache hit",
			logging.String("document_id", id),
			logging.String(logging.FieldEventType, "digitize_cached"),
		)
		result.DocumentID = id
		result.Cached = true
		if doc, err := c.store.Get(ctx, filename); err == nil && doc != nil {
			result.PageCount = doc.PageCount
		}
		return result, nil
	}

	result.PageCount = pageCount(logger, path)
	state.BestEffort(ctx, logger, "reset document row",
		c.store.Rewind(ctx, filename, state.StageInit, "digitizing again"))
	state.BestEffort(ctx, logger, "record digitize-pending", c.store.UpsertStage(ctx, state.StageUpdate{
		Filename:  filename,
		Stage:     state.StageDigitizePending,
		Action:    state.ActionDigitization,
		ProjectID: c.service.ProjectID(),
		PageCount: result.PageCount,
	}))

	contentType := ContentType(path)
	var start du.StartResponse
	if err := c.service.PostFile(ctx, c.service.URL(du.DigitizeStart, "", ""), path, contentType, &start); err != nil {
		return result, err
	}
	documentID := strings.TrimSpace(start.DocumentID)
	if documentID == "" {
		return result, services.Wrap(services.ErrMalformedResponse, "digitization", "start", "response has no documentId", nil)
	}
	logger.Info("digitization submitted",
		logging.String("document_id", documentID),
		logging.String("content_type", contentType),
		logging.Int("page_count", result.PageCount),
	)

	payload, err := c.poller.Await(ctx, poller.Request{
		Action:      state.ActionDigitization,
		Filename:    filename,
		DocumentID:  documentID,
		OperationID: documentID,
		Strategy:    poller.OperationStrategy{Client: c.service, Endpoint: du.DigitizeResult},
	})
	if err != nil {
		return result, err
	}
	if returned := domDocumentID(payload); returned != "" && returned != documentID {
		logging.WarnWithContext(logger, "digitization result names a different document", "digitize_id_mismatch",
			logging.String("document_id", documentID),
			logging.String("result_document_id", returned),
		)
	}
	result.DocumentID = documentID
	return result, nil
}

func (c *Client) cached(ctx context.Context, logger *slog.Logger, filename string) (string, bool) {
	id, ok, err := c.store.LookupCachedDocumentID(ctx, filename)
	switch {
	case errors.Is(err, state.ErrCacheExpired):
		logger.Info("cached digitization expired; uploading again",
			logging.String(logging.FieldEventType, "digitize_cache_expired"),
		)
		return "", false
	case err != nil:
		state.BestEffort(ctx, logger, "lookup cached document id", err)
		return "", false
	}
	return id, ok
}

func domDocumentID(payload json.RawMessage) string {
	var result struct {
		DocumentObjectModel struct {
			DocumentID string `json:"documentId"`
		} `json:"documentObjectModel"`
	}
	if err := json.Unmarshal(payload, &result); err != nil {
		return ""
	}
	return strings.TrimSpace(result.DocumentObjectModel.DocumentID)
}

// pageCount returns the PDF page count, or 0 for images and unreadable PDFs.
func pageCount(logger *slog.Logger, path string) int {
	if !strings.EqualFold(filepath.Ext(path), ".pdf") {
		return 0
	}
	start := time.Now()
	count, err := api.PageCountFile(path)
	if err != nil {
		logging.WarnWithContext(logger, "pdf page count unavailable", "pdf_page_count",
			logging.String("path", path),
			logging.Error(err),
			logging.String(logging.FieldImpact, "page ranges are not clamped"),
		)
		return 0
	}
	logger.Debug("pdf page count", logging.Int("pages", count), logging.Duration("elapsed", time.Since(start)))
	return count
}
