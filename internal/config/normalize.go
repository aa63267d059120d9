package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeService()
	c.normalizeAuth()
	c.normalizePipeline()
	c.normalizeExtractors()
	c.normalizeValidation()
	c.normalizePolling()
	c.normalizeLogging()
	c.Metrics.Bind = strings.TrimSpace(c.Metrics.Bind)
	if c.Metrics.Bind == "" {
		c.Metrics.Bind = defaultMetricsBind
	}
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.OutputDir) == "" {
		c.Paths.OutputDir = defaultOutputDir
	}
	if c.Paths.OutputDir, err = expandPath(c.Paths.OutputDir); err != nil {
		return fmt.Errorf("paths.output_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.PromptsDir) == "" {
		c.Paths.PromptsDir = defaultPromptsDir
	}
	if c.Paths.PromptsDir, err = expandPath(c.Paths.PromptsDir); err != nil {
		return fmt.Errorf("paths.prompts_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeService() {
	c.Service.BaseURL = strings.TrimSpace(c.Service.BaseURL)
	if c.Service.BaseURL == "" {
		if value, ok := os.LookupEnv("DOCFLOW_BASE_URL"); ok {
			c.Service.BaseURL = strings.TrimSpace(value)
		}
	}
	if c.Service.BaseURL != "" && !strings.HasSuffix(c.Service.BaseURL, "/") {
		c.Service.BaseURL += "/"
	}
	c.Service.ProjectID = strings.TrimSpace(c.Service.ProjectID)
	if value, ok := os.LookupEnv("DOCFLOW_PROJECT_ID"); ok && strings.TrimSpace(value) != "" {
		c.Service.ProjectID = strings.TrimSpace(value)
	}
	if c.Service.ProjectID == "" {
		c.Service.ProjectID = defaultProjectID
	}
	if c.Service.RequestTimeout <= 0 {
		c.Service.RequestTimeout = defaultRequestTimeout
	}
}

func (c *Config) normalizeAuth() {
	c.Auth.URL = strings.TrimSpace(c.Auth.URL)
	if value, ok := os.LookupEnv("DOCFLOW_AUTH_URL"); ok && strings.TrimSpace(value) != "" {
		c.Auth.URL = strings.TrimSpace(value)
	}
	if c.Auth.URL == "" {
		c.Auth.URL = defaultAuthURL
	}
	c.Auth.ClientID = strings.TrimSpace(c.Auth.ClientID)
	if c.Auth.ClientID == "" {
		if value, ok := os.LookupEnv("DOCFLOW_CLIENT_ID"); ok {
			c.Auth.ClientID = strings.TrimSpace(value)
		}
	}
	c.Auth.ClientSecret = strings.TrimSpace(c.Auth.ClientSecret)
	if c.Auth.ClientSecret == "" {
		if value, ok := os.LookupEnv("DOCFLOW_CLIENT_SECRET"); ok {
			c.Auth.ClientSecret = strings.TrimSpace(value)
		}
	}
	c.Auth.Scope = strings.Join(strings.Fields(c.Auth.Scope), " ")
	if c.Auth.Scope == "" {
		c.Auth.Scope = defaultAuthScope
	}
	c.Auth.KeyringService = strings.TrimSpace(c.Auth.KeyringService)
	if c.Auth.KeyringService == "" {
		c.Auth.KeyringService = defaultKeyringService
	}
}

func (c *Config) normalizePipeline() {
	p := &c.Pipeline
	if !p.ValidateExtraction {
		p.ValidateExtractionLater = false
	}
	if !p.PerformClassification {
		p.ValidateClassification = false
	}
	if !p.PerformExtraction {
		p.ValidateExtraction = false
		p.ValidateExtractionLater = false
	}
	p.Classifier = normalizeModule(p.Classifier)
	p.DefaultExtractor = normalizeModule(p.DefaultExtractor)
	p.GenerativeExtractor = normalizeModule(p.GenerativeExtractor)
	if p.GenerativeExtractor.Configured() {
		p.GenerativeExtractor.Generative = true
	}
	p.ExtractorFallback = strings.ToLower(strings.TrimSpace(p.ExtractorFallback))
	if p.ExtractorFallback == "" {
		p.ExtractorFallback = FallbackDefault
	}
}

func normalizeModule(m Module) Module {
	m.ID = strings.TrimSpace(m.ID)
	m.Name = strings.TrimSpace(m.Name)
	if m.Name == "" {
		m.Name = m.ID
	}
	return m
}

func (c *Config) normalizeExtractors() {
	routes := c.Extractors[:0]
	for _, route := range c.Extractors {
		route.DocumentType = strings.TrimSpace(route.DocumentType)
		route.ID = strings.TrimSpace(route.ID)
		route.Name = strings.TrimSpace(route.Name)
		if route.Name == "" {
			route.Name = route.ID
		}
		if route.DocumentType == "" && route.ID == "" {
			continue
		}
		routes = append(routes, route)
	}
	c.Extractors = routes
}

func (c *Config) normalizeValidation() {
	v := &c.Validation
	v.Priority = strings.TrimSpace(v.Priority)
	if v.Priority == "" {
		v.Priority = defaultValidationPriority
	}
	v.Catalog = strings.TrimSpace(v.Catalog)
	if v.Catalog == "" {
		v.Catalog = defaultValidationCatalog
	}
	v.Folder = strings.TrimSpace(v.Folder)
	if v.Folder == "" {
		v.Folder = defaultValidationFolder
	}
	v.StorageBucket = strings.TrimSpace(v.StorageBucket)
	if v.StorageBucket == "" {
		v.StorageBucket = defaultStorageBucket
	}
	v.StorageDirectory = strings.TrimSpace(v.StorageDirectory)
	if v.StorageDirectory == "" {
		v.StorageDirectory = v.StorageBucket
	}
}

func (c *Config) normalizePolling() {
	codes := make([]string, 0, len(c.Polling.TransientCodes))
	seen := make(map[string]struct{}, len(c.Polling.TransientCodes))
	for _, code := range c.Polling.TransientCodes {
		code = strings.TrimSpace(code)
		if code == "" {
			continue
		}
		if _, ok := seen[code]; ok {
			continue
		}
		seen[code] = struct{}{}
		codes = append(codes, code)
	}
	c.Polling.TransientCodes = codes
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
