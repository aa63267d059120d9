package du

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"time"

	"docflow/internal/config"
	"docflow/internal/logging"
	"docflow/internal/services"
)

const defaultHTTPTimeout = 300 * time.Second

// TokenProvider supplies bearer tokens. Implementations that also expose
// Invalidate get one retry on HTTP 401.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

type invalidator interface {
	Invalidate()
}

// RequestObserver receives one call per completed HTTP exchange.
type RequestObserver interface {
	ObserveRequest(method string, status int, elapsed time.Duration)
}

// Client talks to one project of the remote service.
type Client struct {
	baseURL    string
	projectID  string
	tokens     TokenProvider
	httpClient *http.Client
	logger     *slog.Logger
	observer   RequestObserver
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithLogger attaches a logger for request tracing at debug level.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithObserver attaches a request observer such as the metrics recorder.
func WithObserver(observer RequestObserver) Option {
	return func(c *Client) {
		c.observer = observer
	}
}

// NewClient constructs a client from service configuration.
func NewClient(cfg config.Service, tokens TokenProvider, opts ...Option) *Client {
	timeout := defaultHTTPTimeout
	if cfg.RequestTimeout > 0 {
		timeout = time.Duration(cfg.RequestTimeout) * time.Second
	}
	base := strings.TrimSpace(cfg.BaseURL)
	if base != "" && !strings.HasSuffix(base, "/") {
		base += "/"
	}
	client := &Client{
		baseURL:    base,
		projectID:  strings.TrimSpace(cfg.ProjectID),
		tokens:     tokens,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logging.NewNop(),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// ProjectID returns the project the client is bound to.
func (c *Client) ProjectID() string {
	return c.projectID
}

// GetEnvelope fetches a result endpoint and decodes the operation envelope.
func (c *Client) GetEnvelope(ctx context.Context, url string) (Envelope, error) {
	var env Envelope
	if err := c.GetJSON(ctx, url, &env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// GetJSON issues a GET and decodes the JSON body into out.
func (c *Client) GetJSON(ctx context.Context, url string, out any) error {
	body, err := c.do(ctx, http.MethodGet, url, func() (io.Reader, string, error) {
		return nil, "", nil
	})
	if err != nil {
		return err
	}
	return decode(body, url, out)
}

// PostJSON posts payload as JSON and decodes the response into out when out
// is non-nil.
func (c *Client) PostJSON(ctx context.Context, url string, payload, out any) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("du post: encode body: %w", err)
	}
	body, err := c.do(ctx, http.MethodPost, url, func() (io.Reader, string, error) {
		return bytes.NewReader(encoded), "application/json", nil
	})
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return decode(body, url, out)
}

// PostFile uploads path as the multipart form field "File".
func (c *Client) PostFile(ctx context.Context, url, path, contentType string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("du upload: read %s: %w", path, err)
	}
	body, err := c.do(ctx, http.MethodPost, url, func() (io.Reader, string, error) {
		var buf bytes.Buffer
		writer := multipart.NewWriter(&buf)
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="File"; filename=%q`, filepath.Base(path)))
		header.Set("Content-Type", contentType)
		part, err := writer.CreatePart(header)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(data); err != nil {
			return nil, "", err
		}
		if err := writer.Close(); err != nil {
			return nil, "", err
		}
		return &buf, writer.FormDataContentType(), nil
	})
	if err != nil {
		return err
	}
	return decode(body, url, out)
}

// do performs one request, retrying once with a fresh token on HTTP 401.
func (c *Client) do(ctx context.Context, method, url string, body func() (io.Reader, string, error)) ([]byte, error) {
	for attempt := 0; ; attempt++ {
		payload, status, err := c.send(ctx, method, url, body)
		if err != nil {
			return nil, err
		}
		if status == http.StatusUnauthorized && attempt == 0 {
			if inv, ok := c.tokens.(invalidator); ok {
				inv.Invalidate()
				continue
			}
		}
		if status >= http.StatusMultipleChoices {
			return nil, statusError(method, url, status, payload)
		}
		return payload, nil
	}
}

func (c *Client) send(ctx context.Context, method, url string, body func() (io.Reader, string, error)) ([]byte, int, error) {
	reader, contentType, err := body()
	if err != nil {
		return nil, 0, fmt.Errorf("du %s: build body: %w", strings.ToLower(method), err)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, 0, services.Wrap(services.ErrConfiguration, "transport", method, "new request", err)
	}
	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, 0, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, 0, ctxErr
		}
		return nil, 0, services.Wrap(services.ErrNetwork, "transport", method+" "+redact(url),
			fmt.Sprintf("timeout=%s", c.httpClient.Timeout), err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	elapsed := time.Since(start)
	if c.observer != nil {
		c.observer.ObserveRequest(method, resp.StatusCode, elapsed)
	}
	c.logger.Debug("service request",
		logging.String("method", method),
		logging.String("url", redact(url)),
		logging.Int("status", resp.StatusCode),
		logging.Duration("elapsed", elapsed),
	)
	if err != nil {
		return nil, resp.StatusCode, services.Wrap(services.ErrNetwork, "transport", method+" "+redact(url), "read body", err)
	}
	return payload, resp.StatusCode, nil
}

func decode(body []byte, url string, out any) error {
	if out == nil {
		return nil
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return services.Wrap(services.ErrMalformedResponse, "transport", redact(url), "empty body", nil)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return services.Wrap(services.ErrMalformedResponse, "transport", redact(url),
			"decode body: "+summarizeSnippet(string(body)), err)
	}
	return nil
}

// statusError maps a non-2xx response onto a RemoteError. Server-side
// failures are treated as network errors.
func statusError(method, url string, status int, body []byte) error {
	remote := &services.RemoteError{Code: fmt.Sprintf("HTTP%d", status), Message: summarizeSnippet(string(body))}
	var parsed struct {
		Error   *wireError `json:"error"`
		Code    string     `json:"code"`
		Message string     `json:"message"`
	}
	if json.Unmarshal(body, &parsed) == nil {
		switch {
		case parsed.Error != nil && parsed.Error.Code != "":
			remote = &services.RemoteError{Code: parsed.Error.Code, Message: parsed.Error.Message}
		case parsed.Code != "":
			remote = &services.RemoteError{Code: parsed.Code, Message: parsed.Message}
		}
	}
	marker := services.ErrRemoteOperation
	switch {
	case status >= http.StatusInternalServerError, status == http.StatusTooManyRequests:
		marker = services.ErrNetwork
	case status == http.StatusNotFound:
		marker = services.ErrNotFound
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		marker = services.ErrConfiguration
	}
	return services.Wrap(marker, "transport", fmt.Sprintf("%s %s", method, redact(url)), fmt.Sprintf("http %d", status), remote)
}

// IsStatus reports whether err came from a response with the given code.
func IsStatus(err error, status int) bool {
	var remote *services.RemoteError
	return errors.As(err, &remote) && remote.Code == fmt.Sprintf("HTTP%d", status)
}

func redact(raw string) string {
	if idx := strings.Index(raw, "?"); idx >= 0 {
		return raw[:idx]
	}
	return raw
}

func summarizeSnippet(content string) string {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "<empty>"
	}
	clean := strings.Join(strings.Fields(trimmed), " ")
	const limit = 160
	runes := []rune(clean)
	if len(runes) > limit {
		clean = string(runes[:limit]) + "..."
	}
	return clean
}
