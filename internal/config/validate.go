package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateService(); err != nil {
		return err
	}
	if err := c.validateAuth(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateValidation(); err != nil {
		return err
	}
	if err := c.validatePolling(); err != nil {
		return err
	}
	if c.Cache.ExpiryDays <= 0 {
		return errors.New("cache.expiry_days must be positive")
	}
	if c.Workflow.Workers <= 0 {
		return errors.New("workflow.workers must be positive")
	}
	return c.validateLogging()
}

func (c *Config) validateService() error {
	if c.Service.BaseURL == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = defaultConfigPath
		}
		return fmt.Errorf("service.base_url is required. Set DOCFLOW_BASE_URL env var or edit %s (create with 'docflow config init')", defaultPath)
	}
	if !strings.HasPrefix(c.Service.BaseURL, "http://") && !strings.HasPrefix(c.Service.BaseURL, "https://") {
		return fmt.Errorf("service.base_url must be an http(s) URL, got %q", c.Service.BaseURL)
	}
	return nil
}

func (c *Config) validateAuth() error {
	if c.Auth.ClientID == "" {
		return errors.New("auth.client_id is required (or set DOCFLOW_CLIENT_ID)")
	}
	return nil
}

func (c *Config) validatePipeline() error {
	p := c.Pipeline
	if !p.PerformClassification && !p.PerformExtraction {
		return errors.New("pipeline: at least one of perform_classification or perform_extraction must be enabled")
	}
	if p.PerformClassification && !p.Classifier.Configured() {
		return errors.New("pipeline.classifier.id must be set when perform_classification is true")
	}
	switch p.ExtractorFallback {
	case FallbackDefault, FallbackFail:
	case FallbackGenerative:
		if !p.GenerativeExtractor.Configured() {
			return errors.New("pipeline.generative_extractor.id must be set when extractor_fallback is \"generative\"")
		}
	default:
		return fmt.Errorf("pipeline.extractor_fallback: unsupported value %q", p.ExtractorFallback)
	}
	if !p.PerformExtraction {
		return nil
	}
	for i, route := range c.Extractors {
		if route.DocumentType == "" {
			return fmt.Errorf("extractors[%d].document_type must be set", i)
		}
		if route.ID == "" {
			return fmt.Errorf("extractors[%d].id must be set", i)
		}
	}
	if len(c.Extractors) == 0 && !p.DefaultExtractor.Configured() && !p.GenerativeExtractor.Configured() {
		return errors.New("pipeline: perform_extraction requires [[extractors]], a default_extractor, or a generative_extractor")
	}
	return nil
}

func (c *Config) validateValidation() error {
	switch strings.ToLower(c.Validation.Priority) {
	case "low", "medium", "high", "critical":
		return nil
	default:
		return fmt.Errorf("validation.priority: unsupported value %q", c.Validation.Priority)
	}
}

func (c *Config) validatePolling() error {
	if c.Polling.Interval <= 0 {
		return errors.New("polling.interval must be positive")
	}
	if c.Polling.ValidationInterval <= 0 {
		return errors.New("polling.validation_interval must be positive")
	}
	if c.Polling.MaxRetries < 0 {
		return errors.New("polling.max_retries must be zero or positive")
	}
	if c.Polling.RetryBaseDelay <= 0 {
		return errors.New("polling.retry_base_delay must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
}
