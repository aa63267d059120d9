package testsupport

import (
	"path/filepath"
	"testing"

	"docflow/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Polling intervals are left at their defaults; tests inject a sleeper.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.OutputDir = filepath.Join(base, "output")
	cfgVal.Paths.PromptsDir = filepath.Join(base, "prompts")
	cfgVal.Service.BaseURL = "http://127.0.0.1:0/projects/"
	cfgVal.Service.ProjectID = "project-1"
	cfgVal.Service.RequestTimeout = 5
	cfgVal.Auth.URL = "http://127.0.0.1:0/identity/connect/token"
	cfgVal.Auth.ClientID = "client-id"
	cfgVal.Auth.ClientSecret = "client-secret"
	cfgVal.Workflow.Workers = 2
	cfgVal.Pipeline.Classifier = config.Module{ID: "classifier-1", Name: "classifier-1"}
	cfgVal.Pipeline.DefaultExtractor = config.Module{ID: "default-extractor", Name: "default-extractor"}

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}
	for _, opt := range opts {
		opt(builder)
	}
	return builder.cfg
}

// WithService points the config at a fake service. The base URL receives the
// "/projects/" suffix used by FakeService.
func WithService(fake *FakeService) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Service.BaseURL = fake.URL() + "/projects/"
		b.cfg.Auth.URL = fake.URL() + "/identity/connect/token"
	}
}

// WithExtractor adds a document type route.
func WithExtractor(documentType, id string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Extractors = append(b.cfg.Extractors, config.ExtractorRoute{DocumentType: documentType, ID: id, Name: id})
	}
}

// WithConfig applies an arbitrary mutation.
func WithConfig(mutate func(*config.Config)) ConfigOption {
	return func(b *configBuilder) {
		mutate(b.cfg)
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}
