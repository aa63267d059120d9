package main

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"docflow/internal/config"
	"docflow/internal/logging"
	"docflow/internal/observability"
	"docflow/internal/services/auth"
	"docflow/internal/services/du"
	"docflow/internal/state"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configPath string
	configErr  error

	loggerOnce sync.Once
	logger     *slog.Logger
	loggerErr  error

	store *state.Store
	lock  *flock.Flock
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = resolved
	})
	return c.config, c.configErr
}

func (c *commandContext) ensureLogger() (*slog.Logger, error) {
	c.loggerOnce.Do(func() {
		cfg, err := c.ensureConfig()
		if err != nil {
			c.loggerErr = err
			return
		}
		c.logger, c.loggerErr = logging.NewFromConfig(cfg)
	})
	return c.logger, c.loggerErr
}

func (c *commandContext) openStore() (*state.Store, error) {
	if c.store != nil {
		return c.store, nil
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, err := c.ensureLogger()
	if err != nil {
		return nil, err
	}
	store, err := state.Open(cfg, state.WithLogger(logging.NewComponentLogger(logger, "state")))
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}
	c.store = store
	return store, nil
}

// serviceClient builds an authenticated client for the configured project.
func (c *commandContext) serviceClient(metrics *observability.Metrics) (*du.Client, *auth.TokenSource, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, nil, err
	}
	logger, err := c.ensureLogger()
	if err != nil {
		return nil, nil, err
	}
	tokens := auth.NewTokenSource(cfg.Auth, auth.WithLogger(logging.NewComponentLogger(logger, "auth")))
	opts := []du.Option{du.WithLogger(logging.NewComponentLogger(logger, "du"))}
	if metrics != nil {
		opts = append(opts, du.WithObserver(metrics))
	}
	return du.NewClient(cfg.Service, tokens, opts...), tokens, nil
}

// acquireLock takes the state directory lock for batch commands.
func (c *commandContext) acquireLock() error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	lock := flock.New(cfg.LockPath())
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("another docflow run or sweep holds %s", cfg.LockPath())
	}
	c.lock = lock
	return nil
}

func (c *commandContext) close() {
	if c.store != nil {
		_ = c.store.Close()
		c.store = nil
	}
	if c.lock != nil {
		_ = c.lock.Unlock()
		c.lock = nil
	}
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
