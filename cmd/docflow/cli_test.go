package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"docflow/internal/config"
	"docflow/internal/state"
	"docflow/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	fake       *testsupport.FakeService
	configPath string
	inputDir   string
}

func setupCLITestEnv(t *testing.T, opts ...testsupport.ConfigOption) *cliTestEnv {
	t.Helper()
	fake := testsupport.NewFakeService(t)
	cfg := testsupport.NewConfig(t, append([]testsupport.ConfigOption{testsupport.WithService(fake)}, opts...)...)
	base := testsupport.BaseDir(cfg)
	t.Setenv("HOME", filepath.Join(base, "home"))
	t.Setenv("NO_COLOR", "1")

	configPath := filepath.Join(base, "config.toml")
	writeTestConfig(t, configPath, cfg)

	inputDir := filepath.Join(base, "in")
	if err := os.MkdirAll(inputDir, 0o755); err != nil {
		t.Fatalf("mkdir input: %v", err)
	}
	return &cliTestEnv{cfg: cfg, fake: fake, configPath: configPath, inputDir: inputDir}
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	content, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func runCLI(t *testing.T, configPath string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(""))
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), err
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

func TestConfigInitAndValidate(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := runCLI(t, env.configPath, "config", "validate")
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")
	requireContains(t, out, env.cfg.StatePath())

	target := filepath.Join(t.TempDir(), "nested", "config.toml")
	out, err = runCLI(t, "", "config", "init", "--path", target)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}

	if _, err := runCLI(t, "", "config", "init", "--path", target); err == nil {
		t.Fatal("expected init to refuse overwriting an existing file")
	}
	if _, err := runCLI(t, "", "config", "init", "--path", target, "--overwrite"); err != nil {
		t.Fatalf("config init --overwrite: %v", err)
	}
}

func TestRunProcessesDirectoryAndExports(t *testing.T) {
	env := setupCLITestEnv(t)
	testsupport.WriteFile(t, filepath.Join(env.inputDir, "a.pdf"), 64)
	testsupport.WriteFile(t, filepath.Join(env.inputDir, "b.pdf"), 64)

	out, err := runCLI(t, env.configPath, "run", env.inputDir, "--json", "--export", "csv")
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}
	var summary runJSON
	if err := json.Unmarshal([]byte(out), &summary); err != nil {
		t.Fatalf("decode run output: %v\n%s", err, out)
	}
	if summary.Failed != 0 || len(summary.Reports) != 2 {
		t.Fatalf("summary = %+v", summary)
	}
	for _, report := range summary.Reports {
		if report.Stage != string(state.StageExtracted) {
			t.Fatalf("%s finished at %s", report.Filename, report.Stage)
		}
	}

	exports, err := filepath.Glob(filepath.Join(env.cfg.Paths.OutputDir, "extraction-*.csv"))
	if err != nil || len(exports) != 1 {
		t.Fatalf("expected one csv export, got %v (%v)", exports, err)
	}
	data, err := os.ReadFile(exports[0])
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	requireContains(t, string(data), "a.pdf")
	requireContains(t, string(data), "b.pdf")

	out, err = runCLI(t, env.configPath, "status", "--json")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	var status struct {
		Stages    map[string]int `json:"stages"`
		Documents []documentJSON `json:"documents"`
	}
	if err := json.Unmarshal([]byte(out), &status); err != nil {
		t.Fatalf("decode status: %v\n%s", err, out)
	}
	if status.Stages[string(state.StageExtracted)] != 2 || len(status.Documents) != 2 {
		t.Fatalf("status = %+v", status)
	}

	out, err = runCLI(t, env.configPath, "show", "a.pdf")
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	requireContains(t, out, testsupport.DocumentID("a.pdf"))
	requireContains(t, out, "default-extractor")
}

func TestRunReportsFailedDocument(t *testing.T) {
	env := setupCLITestEnv(t)
	testsupport.WriteFile(t, filepath.Join(env.inputDir, "bad.pdf"), 64)
	env.fake.Script("bad.pdf", testsupport.FakeDocument{
		Fail: map[state.Action]testsupport.FakeError{
			state.ActionClassification: {Code: "[ClassifierError]", Message: "classifier offline"},
		},
	})

	out, err := runCLI(t, env.configPath, "run", filepath.Join(env.inputDir, "bad.pdf"))
	if err == nil {
		t.Fatal("expected run to fail when a document fails")
	}
	requireContains(t, err.Error(), "1 of 1 documents failed")
	requireContains(t, out, "bad.pdf")
	requireContains(t, out, "ClassifierError")
}

func TestCacheClearForgetsDocuments(t *testing.T) {
	env := setupCLITestEnv(t)
	testsupport.WriteFile(t, filepath.Join(env.inputDir, "a.pdf"), 64)
	if _, err := runCLI(t, env.configPath, "run", env.inputDir); err != nil {
		t.Fatalf("run: %v", err)
	}

	if _, err := runCLI(t, env.configPath, "cache", "clear"); err == nil {
		t.Fatal("expected clear without names or --all to fail")
	}
	out, err := runCLI(t, env.configPath, "cache", "clear", "a.pdf")
	if err != nil {
		t.Fatalf("cache clear: %v", err)
	}
	requireContains(t, out, "Cleared 1 document(s)")

	if _, err := runCLI(t, env.configPath, "show", "a.pdf"); err == nil {
		t.Fatal("expected show to fail after the document was cleared")
	}
}

func TestDiscoverListsProjects(t *testing.T) {
	env := setupCLITestEnv(t)
	env.fake.Projects = []map[string]any{
		{"id": "project-2", "name": "Invoices"},
		{"id": "00000000-0000-0000-0000-000000000000", "name": "Predefined"},
	}
	out, err := runCLI(t, env.configPath, "discover", "--json")
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	var projects []map[string]any
	if err := json.Unmarshal([]byte(out), &projects); err != nil {
		t.Fatalf("decode projects: %v\n%s", err, out)
	}
	if len(projects) != 2 || projects[0]["name"] != "Predefined" {
		t.Fatalf("projects = %v", projects)
	}
}

func TestExportRejectsUnknownFormat(t *testing.T) {
	env := setupCLITestEnv(t)
	if _, err := runCLI(t, env.configPath, "export", "--format", "pdf"); err == nil {
		t.Fatal("expected unsupported format error")
	}
}
