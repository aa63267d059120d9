package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"docflow/internal/config"
	"docflow/internal/logging"
	"docflow/internal/observability"
	"docflow/internal/services"
	"docflow/internal/services/du"
	"docflow/internal/state"
)

// EnvelopeGetter fetches one result envelope.
type EnvelopeGetter interface {
	GetEnvelope(ctx context.Context, url string) (du.Envelope, error)
}

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Request describes one operation to await.
type Request struct {
	Action      state.Action
	Filename    string
	Unit        int
	DocumentID  string
	OperationID string
	Strategy    Strategy
	// ReviewInterval is the wait while a human review action is still open.
	// Zero means the configured poll interval.
	ReviewInterval time.Duration
	// Resubmit, when set, restarts the stage after a transient failure and
	// returns the new operation id.
	Resubmit func(ctx context.Context) (string, error)
}

// Poller awaits remote operations and records their terminal outcome.
type Poller struct {
	client     EnvelopeGetter
	store      *state.Store
	interval   time.Duration
	baseDelay  time.Duration
	maxRetries int
	transient  map[string]struct{}
	sleep      Sleeper
	now        func() time.Time
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// Option customizes a Poller.
type Option func(*Poller)

// WithSleeper overrides how waits are performed (useful for tests).
func WithSleeper(sleeper Sleeper) Option {
	return func(p *Poller) {
		if sleeper != nil {
			p.sleep = sleeper
		}
	}
}

// WithClock overrides the time source used for elapsed durations.
func WithClock(now func() time.Time) Option {
	return func(p *Poller) {
		if now != nil {
			p.now = now
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Poller) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(p *Poller) {
		p.metrics = metrics
	}
}

// New builds a poller from the polling configuration. store may be nil, in
// which case outcomes are not persisted.
func New(cfg *config.Config, client EnvelopeGetter, store *state.Store, opts ...Option) *Poller {
	transient := make(map[string]struct{}, len(cfg.Polling.TransientCodes))
	for _, code := range cfg.Polling.TransientCodes {
		transient[strings.TrimSpace(code)] = struct{}{}
	}
	p := &Poller{
		client:     client,
		store:      store,
		interval:   cfg.PollInterval(),
		baseDelay:  cfg.RetryBaseDelay(),
		maxRetries: cfg.Polling.MaxRetries,
		transient:  transient,
		sleep:      sleepContext,
		now:        time.Now,
		logger:     logging.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Await polls req until it succeeds or fails fatally and returns the result
// payload. Success and fatal failure are written to the store; context
// cancellation is not, so an interrupted stage resumes on the next run.
func (p *Poller) Await(ctx context.Context, req Request) (json.RawMessage, error) {
	if req.Strategy == nil {
		return nil, errors.New("poller: strategy is required")
	}
	if strings.TrimSpace(req.OperationID) == "" {
		return nil, services.Wrap(services.ErrMalformedResponse, string(req.Action), "poll", "missing operation id", nil)
	}
	logger := logging.WithContext(ctx, p.logger).With(
		logging.String("action", string(req.Action)),
	)
	reviewInterval := req.ReviewInterval
	if reviewInterval <= 0 {
		reviewInterval = p.interval
	}

	start := p.now()
	retries := 0
	for {
		env, err := p.client.GetEnvelope(ctx, req.Strategy.URL(req.OperationID))
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, p.fail(ctx, logger, req, err)
		}

		step, status, err := req.Strategy.Interpret(env)
		p.metrics.RecordPoll(string(req.Action), status)
		if err != nil {
			var remote *services.RemoteError
			if !errors.As(err, &remote) {
				return nil, p.fail(ctx, logger, req, err)
			}
			if _, ok := p.transient[remote.Code]; !ok {
				return nil, p.fail(ctx, logger, req,
					services.Wrap(services.ErrRemoteOperation, string(req.Action), "operation "+req.OperationID, "", remote))
			}
			retries++
			if retries > p.maxRetries {
				return nil, p.fail(ctx, logger, req,
					services.Wrap(services.ErrRetriesExhausted, string(req.Action), "operation "+req.OperationID,
						fmt.Sprintf("gave up after %d transient retries", p.maxRetries), remote))
			}
			delay := p.backoff(retries)
			p.metrics.RecordTransientRetry(string(req.Action), remote.Code)
			logging.WarnWithContext(logger, "transient remote failure; retrying", "poll_retry",
				logging.String(logging.FieldErrorCode, remote.Code),
				logging.String("error_message", remote.Message),
				logging.Int("retry", retries),
				logging.Int("max_retries", p.maxRetries),
				logging.Duration("delay", delay),
				logging.String(logging.FieldImpact, "stage delayed"),
			)
			if err := p.sleep(ctx, delay); err != nil {
				return nil, err
			}
			if req.Resubmit != nil {
				operationID, err := req.Resubmit(ctx)
				if err != nil {
					if ctxErr := ctx.Err(); ctxErr != nil {
						return nil, ctxErr
					}
					return nil, p.fail(ctx, logger, req, err)
				}
				logger.Info("stage resubmitted",
					logging.String("previous_operation_id", req.OperationID),
					logging.String("operation_id", operationID),
				)
				req.OperationID = operationID
			}
			continue
		}

		if step == StepDone {
			payload, duration, err := req.Strategy.Complete(env, p.now().Sub(start))
			if err != nil {
				return nil, p.fail(ctx, logger, req, err)
			}
			p.succeed(ctx, logger, req, duration)
			return payload, nil
		}
		wait := p.interval
		switch step {
		case StepUnknown:
			wait = reviewInterval
			logging.WarnWithContext(logger, "unknown operation status; still waiting", "poll_unknown_status",
				logging.String("status", status),
				logging.String("operation_id", req.OperationID),
			)
		case StepReview:
			wait = reviewInterval
			logger.Debug("review pending",
				logging.String("status", status),
				logging.String("operation_id", req.OperationID),
			)
		default:
			logger.Debug("operation pending",
				logging.String("status", status),
				logging.String("operation_id", req.OperationID),
			)
		}
		if err := p.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
}

// backoff returns base * 2^(retry-1).
func (p *Poller) backoff(retry int) time.Duration {
	delay := p.baseDelay
	for i := 1; i < retry; i++ {
		delay *= 2
	}
	return delay
}

func (p *Poller) succeed(ctx context.Context, logger *slog.Logger, req Request, duration time.Duration) {
	p.metrics.RecordStage(string(req.Action), observability.OutcomeSuccess, duration)
	logger.Info("stage completed",
		logging.String("operation_id", req.OperationID),
		logging.Duration("duration", duration),
		logging.String(logging.FieldEventType, "stage_completed"),
	)
	if p.store == nil || req.Filename == "" {
		return
	}
	state.BestEffort(ctx, p.logger, "record "+string(req.Action)+" success", p.store.UpsertStage(ctx, state.StageUpdate{
		Filename:    req.Filename,
		Unit:        req.Unit,
		DocumentID:  req.DocumentID,
		Stage:       req.Action.DoneStage(),
		Action:      req.Action,
		OperationID: req.OperationID,
		Duration:    duration,
	}))
}

func (p *Poller) fail(ctx context.Context, logger *slog.Logger, req Request, err error) error {
	details := services.Details(err)
	p.metrics.RecordStage(string(req.Action), observability.OutcomeFailed, 0)
	logging.ErrorWithContext(logger, "stage failed", "stage_failed",
		logging.String("operation_id", req.OperationID),
		logging.String(logging.FieldErrorCode, details.Code),
		logging.String("error_message", details.Message),
	)
	if p.store != nil && req.Filename != "" {
		state.BestEffort(ctx, p.logger, "record "+string(req.Action)+" failure", p.store.UpsertStage(ctx, state.StageUpdate{
			Filename:     req.Filename,
			Unit:         req.Unit,
			Stage:        req.Action.FailedStage(),
			Action:       req.Action,
			OperationID:  req.OperationID,
			ErrorCode:    details.Code,
			ErrorMessage: details.Message,
		}))
	}
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
