package prompts

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"docflow/internal/logging"
	"docflow/internal/services"
)

// Kind selects the prompt schema.
type Kind string

const (
	KindClassification Kind = "classification"
	KindExtraction     Kind = "extraction"
)

// ClassificationSetName is the file stem of the classifier prompt set.
const ClassificationSetName = "classification"

var extensions = []string{".yaml", ".yml", ".json"}

// Prompt is one entry of a prompt set. Classification prompts use Name and
// Description, extraction prompts use ID and Question.
type Prompt struct {
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	ID          string `json:"id,omitempty"`
	Question    string `json:"question,omitempty"`
}

// Set is a validated prompt set.
type Set struct {
	Kind    Kind
	Source  string
	Prompts []Prompt
}

// Fields returns the request body fields contributed by the set. A nil set
// contributes nothing.
func (s *Set) Fields() map[string]any {
	if s == nil || len(s.Prompts) == 0 {
		return nil
	}
	return map[string]any{"prompts": s.Prompts}
}

// Names lists the prompt names (classification) or ids (extraction).
func (s *Set) Names() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.Prompts))
	for _, p := range s.Prompts {
		if s.Kind == KindExtraction {
			names = append(names, p.ID)
		} else {
			names = append(names, p.Name)
		}
	}
	return names
}

// Parse validates data against the kind's schema. YAML is accepted for any
// input; JSON is a subset.
func Parse(kind Kind, data []byte) (*Set, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, services.Wrap(services.ErrValidation, "prompts", "parse", "invalid yaml/json", err)
	}
	// Round-trip through JSON so the validator sees JSON-typed values.
	normalized, err := json.Marshal(raw)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "prompts", "parse", "normalize document", err)
	}
	var doc any
	if err := json.Unmarshal(normalized, &doc); err != nil {
		return nil, services.Wrap(services.ErrValidation, "prompts", "parse", "normalize document", err)
	}
	schema, err := schemaFor(kind)
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(doc); err != nil {
		return nil, services.Wrap(services.ErrValidation, "prompts", "validate", fmt.Sprintf("%s prompt set does not match schema", kind), err)
	}
	var parsed struct {
		Prompts []Prompt `json:"prompts"`
	}
	if err := json.Unmarshal(normalized, &parsed); err != nil {
		return nil, services.Wrap(services.ErrValidation, "prompts", "parse", "decode prompts", err)
	}
	for i := range parsed.Prompts {
		parsed.Prompts[i].Name = strings.TrimSpace(parsed.Prompts[i].Name)
		parsed.Prompts[i].ID = strings.TrimSpace(parsed.Prompts[i].ID)
	}
	return &Set{Kind: kind, Prompts: parsed.Prompts}, nil
}

// Loader reads prompt sets from a directory and caches them by name.
type Loader struct {
	dir    string
	logger *slog.Logger

	mu    sync.Mutex
	cache map[string]*Set
}

// NewLoader builds a loader rooted at dir.
func NewLoader(dir string, logger *slog.Logger) *Loader {
	return &Loader{
		dir:    strings.TrimSpace(dir),
		logger: logging.NewComponentLogger(logger, "prompts"),
		cache:  make(map[string]*Set),
	}
}

// Load returns the prompt set stored as <name>_prompts.{yaml,yml,json}. A
// missing file is not an error: the module is called without prompts and a
// warning is logged.
func (l *Loader) Load(kind Kind, name string) (*Set, error) {
	if l == nil || l.dir == "" {
		return nil, nil
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}
	key := string(kind) + "/" + name

	l.mu.Lock()
	defer l.mu.Unlock()
	if set, ok := l.cache[key]; ok {
		return set, nil
	}

	for _, ext := range extensions {
		path := filepath.Join(l.dir, name+"_prompts"+ext)
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read prompt set %s: %w", path, err)
		}
		set, err := Parse(kind, data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		set.Source = path
		l.cache[key] = set
		l.logger.Debug("prompt set loaded",
			logging.String("path", path),
			logging.Int("prompts", len(set.Prompts)),
		)
		return set, nil
	}

	logging.WarnWithContext(l.logger, "prompt set not found; calling module without prompts", "prompts_missing",
		logging.String("name", name),
		logging.String("dir", l.dir),
		logging.String(logging.FieldErrorHint, "create "+name+"_prompts.yaml in the prompts directory"),
	)
	l.cache[key] = nil
	return nil, nil
}

// Merge copies the set's fields into body, leaving existing keys alone.
func Merge(body map[string]any, set *Set) map[string]any {
	if body == nil {
		body = make(map[string]any)
	}
	for key, value := range set.Fields() {
		if _, exists := body[key]; !exists {
			body[key] = value
		}
	}
	return body
}
