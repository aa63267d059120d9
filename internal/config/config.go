package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	StateDir   string `toml:"state_dir"`
	LogDir     string `toml:"log_dir"`
	OutputDir  string `toml:"output_dir"`
	PromptsDir string `toml:"prompts_dir"`
}

// Service contains the remote document understanding endpoint settings.
type Service struct {
	BaseURL        string `toml:"base_url"`
	ProjectID      string `toml:"project_id"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Auth contains the client-credentials settings for the identity endpoint.
type Auth struct {
	URL            string `toml:"url"`
	ClientID       string `toml:"client_id"`
	ClientSecret   string `toml:"client_secret"`
	Scope          string `toml:"scope"`
	KeyringService string `toml:"keyring_service"`
}

// Module names a classifier or extractor deployed in the project.
type Module struct {
	ID         string `toml:"id"`
	Name       string `toml:"name"`
	Generative bool   `toml:"generative"`
}

// Configured reports whether the module has an identifier.
func (m Module) Configured() bool {
	return strings.TrimSpace(m.ID) != ""
}

// ExtractorRoute maps a document type to the extractor that handles it.
type ExtractorRoute struct {
	DocumentType string `toml:"document_type"`
	ID           string `toml:"id"`
	Name         string `toml:"name"`
	Generative   bool   `toml:"generative"`
}

// Module returns the route's extractor as a Module.
func (r ExtractorRoute) Module() Module {
	return Module{ID: r.ID, Name: r.Name, Generative: r.Generative}
}

// Extractor fallback policies applied when no route matches a document type.
const (
	FallbackDefault    = "default"
	FallbackGenerative = "generative"
	FallbackFail       = "fail"
)

// Pipeline contains the per-stage switches and module selection.
type Pipeline struct {
	PerformClassification   bool   `toml:"perform_classification"`
	ValidateClassification  bool   `toml:"validate_classification"`
	PerformExtraction       bool   `toml:"perform_extraction"`
	ValidateExtraction      bool   `toml:"validate_extraction"`
	ValidateExtractionLater bool   `toml:"validate_extraction_later"`
	Classifier              Module `toml:"classifier"`
	ExtractorFallback       string `toml:"extractor_fallback"`
	DefaultExtractor        Module `toml:"default_extractor"`
	GenerativeExtractor     Module `toml:"generative_extractor"`
}

// Validation describes the human review action created for validation stages.
type Validation struct {
	Priority         string `toml:"priority"`
	Catalog          string `toml:"catalog"`
	Folder           string `toml:"folder"`
	StorageBucket    string `toml:"storage_bucket"`
	StorageDirectory string `toml:"storage_directory"`
}

// Polling controls the long-running operation poller.
type Polling struct {
	Interval           int      `toml:"interval"`
	ValidationInterval int      `toml:"validation_interval"`
	MaxRetries         int      `toml:"max_retries"`
	RetryBaseDelay     float64  `toml:"retry_base_delay"`
	TransientCodes     []string `toml:"transient_codes"`
}

// Cache controls reuse of digitized document identifiers.
type Cache struct {
	ExpiryDays int `toml:"expiry_days"`
}

// Workflow controls batch concurrency.
type Workflow struct {
	Workers int `toml:"workers"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Metrics controls the Prometheus endpoint exposed during runs.
type Metrics struct {
	Enabled bool   `toml:"enabled"`
	Bind    string `toml:"bind"`
}

// Config encapsulates all configuration values for docflow.
//
// Configuration sections by subsystem:
//   - Paths: state, log, output, and prompt directories
//   - Service: remote endpoint, project, and request timeout
//   - Auth: client-credentials grant settings
//   - Pipeline: stage switches and classifier/extractor selection
//   - Extractors: document type to extractor routing
//   - Validation: human review action metadata
//   - Polling: poll intervals and transient retry policy
//   - Cache: document id expiry
//   - Workflow: worker pool size
//   - Logging: log format and level
//   - Metrics: Prometheus endpoint
type Config struct {
	Paths      Paths            `toml:"paths"`
	Service    Service          `toml:"service"`
	Auth       Auth             `toml:"auth"`
	Pipeline   Pipeline         `toml:"pipeline"`
	Extractors []ExtractorRoute `toml:"extractors"`
	Validation Validation       `toml:"validation"`
	Polling    Polling          `toml:"polling"`
	Cache      Cache            `toml:"cache"`
	Workflow   Workflow         `toml:"workflow"`
	Logging    Logging          `toml:"logging"`
	Metrics    Metrics          `toml:"metrics"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("docflow.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the state, log, and output directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.LogDir, c.Paths.OutputDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// StatePath returns the SQLite database location.
func (c *Config) StatePath() string {
	return filepath.Join(c.Paths.StateDir, stateFileName)
}

// LockPath returns the lock file guarding run and sweep commands.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, lockFileName)
}

// RequestTimeout returns the per-request HTTP timeout.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Service.RequestTimeout) * time.Second
}

// PollInterval returns the sleep between machine-stage status polls.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Polling.Interval) * time.Second
}

// ValidationPollInterval returns the sleep between human-review status polls.
func (c *Config) ValidationPollInterval() time.Duration {
	return time.Duration(c.Polling.ValidationInterval) * time.Second
}

// RetryBaseDelay returns the first transient retry delay.
func (c *Config) RetryBaseDelay() time.Duration {
	return time.Duration(c.Polling.RetryBaseDelay * float64(time.Second))
}

// CacheExpiry returns the age after which a cached document id is discarded.
func (c *Config) CacheExpiry() time.Duration {
	return time.Duration(c.Cache.ExpiryDays) * 24 * time.Hour
}

// ExtractorFor returns the route configured for a document type.
func (c *Config) ExtractorFor(documentType string) (ExtractorRoute, bool) {
	documentType = strings.TrimSpace(documentType)
	if documentType == "" {
		return ExtractorRoute{}, false
	}
	for _, route := range c.Extractors {
		if strings.EqualFold(route.DocumentType, documentType) {
			return route, true
		}
	}
	return ExtractorRoute{}, false
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
