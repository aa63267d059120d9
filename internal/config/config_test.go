package config_test

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"docflow/internal/config"
)

func clearServiceEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"DOCFLOW_BASE_URL", "DOCFLOW_PROJECT_ID", "DOCFLOW_CLIENT_ID", "DOCFLOW_CLIENT_SECRET", "DOCFLOW_AUTH_URL"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoadDefaultConfigUsesEnvAndExpandsPaths(t *testing.T) {
	clearServiceEnv(t)
	t.Setenv("DOCFLOW_BASE_URL", "https://du.example.com/api/projects")
	t.Setenv("DOCFLOW_CLIENT_ID", "client-a")
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Chdir(tempHome)

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantState := filepath.Join(tempHome, ".local", "share", "docflow", "state")
	if cfg.Paths.StateDir != wantState {
		t.Fatalf("unexpected state dir: got %q want %q", cfg.Paths.StateDir, wantState)
	}
	if cfg.StatePath() != filepath.Join(wantState, "docflow.db") {
		t.Fatalf("unexpected state path: %q", cfg.StatePath())
	}
	if cfg.Service.BaseURL != "https://du.example.com/api/projects/" {
		t.Fatalf("expected base url with trailing slash, got %q", cfg.Service.BaseURL)
	}
	if cfg.Auth.ClientID != "client-a" {
		t.Fatalf("expected client id from env, got %q", cfg.Auth.ClientID)
	}
	if cfg.PollInterval() != time.Second {
		t.Fatalf("unexpected poll interval: %s", cfg.PollInterval())
	}
	if cfg.ValidationPollInterval() != 5*time.Second {
		t.Fatalf("unexpected validation poll interval: %s", cfg.ValidationPollInterval())
	}
	if cfg.RetryBaseDelay() != 2*time.Second {
		t.Fatalf("unexpected retry base delay: %s", cfg.RetryBaseDelay())
	}
	if cfg.CacheExpiry() != 7*24*time.Hour {
		t.Fatalf("unexpected cache expiry: %s", cfg.CacheExpiry())
	}
	if len(cfg.Polling.TransientCodes) != 1 || cfg.Polling.TransientCodes[0] != "[IxpExtractorUnavailableError]" {
		t.Fatalf("unexpected transient codes: %v", cfg.Polling.TransientCodes)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{cfg.Paths.StateDir, cfg.Paths.LogDir, cfg.Paths.OutputDir} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("expected directory %q to exist: %v", dir, err)
		}
		if !info.IsDir() {
			t.Fatalf("expected %q to be directory", dir)
		}
	}
}

func TestLoadCustomPath(t *testing.T) {
	clearServiceEnv(t)
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "docflow.toml")

	contents := `
[service]
base_url = "https://du.example.com/projects/"
project_id = "proj-1"

[auth]
client_id = "abc"

[pipeline]
validate_extraction = false
validate_extraction_later = true
extractor_fallback = " Fail "

[[extractors]]
document_type = "invoices"
id = "invoice-extractor"

[[extractors]]
document_type = ""
id = ""

[polling]
max_retries = 3
transient_codes = [" [A] ", "", "[A]", "[B]"]

[workflow]
workers = 2
`
	if err := os.WriteFile(configPath, []byte(contents), 0o644); err != nil {
		t.Fatalf("write custom config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected exists to be true")
	}
	if resolved != configPath {
		t.Fatalf("unexpected resolved path: got %q want %q", resolved, configPath)
	}
	if cfg.Service.ProjectID != "proj-1" {
		t.Fatalf("expected project id from file, got %q", cfg.Service.ProjectID)
	}
	if cfg.Pipeline.ValidateExtractionLater {
		t.Fatal("expected validate_extraction_later forced off when validate_extraction is off")
	}
	if cfg.Pipeline.ExtractorFallback != config.FallbackFail {
		t.Fatalf("expected fallback normalized to fail, got %q", cfg.Pipeline.ExtractorFallback)
	}
	if len(cfg.Extractors) != 1 {
		t.Fatalf("expected empty extractor route dropped, got %d routes", len(cfg.Extractors))
	}
	route, ok := cfg.ExtractorFor("INVOICES")
	if !ok || route.ID != "invoice-extractor" || route.Name != "invoice-extractor" {
		t.Fatalf("unexpected route lookup: %+v ok=%v", route, ok)
	}
	if _, ok := cfg.ExtractorFor("receipts"); ok {
		t.Fatal("expected no route for receipts")
	}
	if got := strings.Join(cfg.Polling.TransientCodes, ","); got != "[A],[B]" {
		t.Fatalf("unexpected transient codes: %q", got)
	}
	if cfg.Polling.MaxRetries != 3 || cfg.Workflow.Workers != 2 {
		t.Fatalf("unexpected polling/workflow values: %+v %+v", cfg.Polling, cfg.Workflow)
	}
}

func TestEnvVarFillsMissingSecretButNotConfiguredOne(t *testing.T) {
	clearServiceEnv(t)
	configPath := filepath.Join(t.TempDir(), "docflow.toml")
	contents := "[service]\nbase_url = \"https://du.example.com/\"\n[auth]\nclient_id = \"abc\"\nclient_secret = \"from-file\"\n"
	if err := os.WriteFile(configPath, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("DOCFLOW_CLIENT_SECRET", "from-env")

	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Auth.ClientSecret != "from-file" {
		t.Errorf("expected configured secret to win, got %q", cfg.Auth.ClientSecret)
	}

	contents = "[service]\nbase_url = \"https://du.example.com/\"\n[auth]\nclient_id = \"abc\"\n"
	if err := os.WriteFile(configPath, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, _, _, err = config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Auth.ClientSecret != "from-env" {
		t.Errorf("expected secret from env, got %q", cfg.Auth.ClientSecret)
	}
}

func TestLoadRequiresBaseURL(t *testing.T) {
	clearServiceEnv(t)
	configPath := filepath.Join(t.TempDir(), "docflow.toml")
	if err := os.WriteFile(configPath, []byte("[auth]\nclient_id = \"abc\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	_, _, _, err := config.Load(configPath)
	if err == nil || !strings.Contains(err.Error(), "service.base_url") {
		t.Fatalf("expected base_url error, got %v", err)
	}
}

func TestCreateSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(contents), "your_client_id_here") {
		t.Fatalf("sample config missing placeholder client id: %s", contents)
	}

	var cfg config.Config
	if err := toml.Unmarshal(contents, &cfg); err != nil {
		t.Fatalf("unmarshal sample: %v", err)
	}
	if runtime.GOOS != "windows" {
		if !strings.Contains(cfg.Paths.StateDir, "docflow") {
			t.Fatalf("expected state dir to contain docflow, got %q", cfg.Paths.StateDir)
		}
	}
	if cfg.Pipeline.Classifier.ID != "generative_classifier" {
		t.Fatalf("unexpected sample classifier: %+v", cfg.Pipeline.Classifier)
	}
}

func validConfig() config.Config {
	cfg := config.Default()
	cfg.Service.BaseURL = "https://du.example.com/"
	cfg.Auth.ClientID = "abc"
	return cfg
}

func TestValidateDetectsInvalidValues(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected default config with service values to validate: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"missing client id", func(c *config.Config) { c.Auth.ClientID = "" }},
		{"non-http base url", func(c *config.Config) { c.Service.BaseURL = "ftp://du.example.com/" }},
		{"zero poll interval", func(c *config.Config) { c.Polling.Interval = 0 }},
		{"zero validation interval", func(c *config.Config) { c.Polling.ValidationInterval = 0 }},
		{"negative retries", func(c *config.Config) { c.Polling.MaxRetries = -1 }},
		{"zero base delay", func(c *config.Config) { c.Polling.RetryBaseDelay = 0 }},
		{"zero expiry", func(c *config.Config) { c.Cache.ExpiryDays = 0 }},
		{"zero workers", func(c *config.Config) { c.Workflow.Workers = 0 }},
		{"unknown fallback", func(c *config.Config) { c.Pipeline.ExtractorFallback = "random" }},
		{"generative fallback without extractor", func(c *config.Config) {
			c.Pipeline.ExtractorFallback = config.FallbackGenerative
			c.Pipeline.GenerativeExtractor = config.Module{}
		}},
		{"classification without classifier", func(c *config.Config) { c.Pipeline.Classifier = config.Module{} }},
		{"extraction without extractors", func(c *config.Config) {
			c.Pipeline.GenerativeExtractor = config.Module{}
			c.Pipeline.DefaultExtractor = config.Module{}
		}},
		{"route without id", func(c *config.Config) {
			c.Extractors = []config.ExtractorRoute{{DocumentType: "invoices"}}
		}},
		{"nothing enabled", func(c *config.Config) {
			c.Pipeline.PerformClassification = false
			c.Pipeline.PerformExtraction = false
		}},
		{"bad priority", func(c *config.Config) { c.Validation.Priority = "Urgent" }},
		{"bad log format", func(c *config.Config) { c.Logging.Format = "xml" }},
		{"bad log level", func(c *config.Config) { c.Logging.Level = "trace" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
