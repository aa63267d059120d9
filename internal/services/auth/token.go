package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"docflow/internal/config"
	"docflow/internal/logging"
	"docflow/internal/services"
)

const (
	defaultHTTPTimeout = 30 * time.Second
	defaultLifetime    = time.Hour
)

// TokenSource hands out bearer tokens, fetching a new one when less than half
// of the current token's lifetime remains. It is safe for concurrent use.
type TokenSource struct {
	cfg        config.Auth
	httpClient *http.Client
	now        func() time.Time
	logger     *slog.Logger

	mu       sync.Mutex
	secret   string
	token    string
	issuedAt time.Time
	expires  time.Time
}

// Option customizes a TokenSource.
type Option func(*TokenSource)

// WithHTTPClient overrides the HTTP client used for token requests.
func WithHTTPClient(client *http.Client) Option {
	return func(s *TokenSource) {
		if client != nil {
			s.httpClient = client
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(now func() time.Time) Option {
	return func(s *TokenSource) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *TokenSource) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewTokenSource builds a token source for the configured identity endpoint.
func NewTokenSource(cfg config.Auth, opts ...Option) *TokenSource {
	s := &TokenSource{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		now:        time.Now,
		logger:     logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Token returns a valid bearer token.
func (s *TokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.token != "" && now.Before(s.refreshAt()) {
		return s.token, nil
	}
	if s.secret == "" {
		secret, err := ResolveSecret(s.cfg)
		if err != nil {
			return "", err
		}
		s.secret = secret
	}

	token, lifetime, err := s.fetch(ctx)
	if err != nil {
		return "", err
	}
	s.token = token
	s.issuedAt = now
	s.expires = now.Add(lifetime)
	s.logger.Debug("bearer token refreshed",
		logging.Duration("lifetime", lifetime),
		logging.String(logging.FieldEventType, "token_refreshed"),
	)
	return s.token, nil
}

// Invalidate drops the cached token so the next call fetches a new one.
func (s *TokenSource) Invalidate() {
	s.mu.Lock()
	s.token = ""
	s.mu.Unlock()
}

func (s *TokenSource) refreshAt() time.Time {
	return s.issuedAt.Add(s.expires.Sub(s.issuedAt) / 2)
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (s *TokenSource) fetch(ctx context.Context) (string, time.Duration, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", s.cfg.ClientID)
	form.Set("client_secret", s.secret)
	if scope := strings.TrimSpace(s.cfg.Scope); scope != "" {
		form.Set("scope", scope)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, services.Wrap(services.ErrConfiguration, "auth", "token", "build request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", 0, services.Wrap(services.ErrNetwork, "auth", "token", "request failed", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, services.Wrap(services.ErrNetwork, "auth", "token", "read body", err)
	}
	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return "", 0, services.Wrap(services.ErrNetwork, "auth", "token", fmt.Sprintf("http %d", resp.StatusCode), nil)
	case resp.StatusCode >= http.StatusMultipleChoices:
		return "", 0, services.Wrap(services.ErrConfiguration, "auth", "token",
			fmt.Sprintf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(body))), nil)
	}

	var parsed tokenResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", 0, services.Wrap(services.ErrMalformedResponse, "auth", "token", "decode body", err)
	}
	if strings.TrimSpace(parsed.AccessToken) == "" {
		return "", 0, services.Wrap(services.ErrMalformedResponse, "auth", "token", "missing access_token", nil)
	}
	lifetime := time.Duration(parsed.ExpiresIn) * time.Second
	if lifetime <= 0 {
		lifetime = defaultLifetime
	}
	return parsed.AccessToken, lifetime, nil
}
