package pipeline

import (
	"fmt"
	"log/slog"
	"strings"

	"docflow/internal/config"
	"docflow/internal/logging"
	"docflow/internal/prompts"
	"docflow/internal/services"
	"docflow/internal/textutil"
)

// ModuleKind tags how a module is driven.
type ModuleKind int

const (
	// Static modules are trained for fixed document types and take no prompts.
	Static ModuleKind = iota
	// Generative modules are instructed by a prompt set.
	Generative
)

func (k ModuleKind) String() string {
	if k == Generative {
		return "generative"
	}
	return "static"
}

// Module is the resolved classifier or extractor for one document or unit.
// Prompts is nil for static modules and for generative modules without a
// prompt file.
type Module struct {
	Kind    ModuleKind
	ID      string
	Name    string
	Prompts *prompts.Set
}

// Selector resolves modules from configuration and prompt files.
type Selector struct {
	pipeline config.Pipeline
	cfg      *config.Config
	prompts  *prompts.Loader
	logger   *slog.Logger
}

// NewSelector builds a selector. A nil loader disables prompt sets.
func NewSelector(cfg *config.Config, loader *prompts.Loader, logger *slog.Logger) *Selector {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Selector{pipeline: cfg.Pipeline, cfg: cfg, prompts: loader, logger: logger}
}

// Classifier resolves the classifier used for every document.
func (s *Selector) Classifier(logger *slog.Logger) (Module, error) {
	configured := s.pipeline.Classifier
	if !configured.Configured() {
		return Module{}, services.Wrap(services.ErrConfiguration, "classification", "select", "no classifier configured", nil)
	}
	module, err := s.resolve(configured, prompts.KindClassification, prompts.ClassificationSetName)
	if err != nil {
		return Module{}, err
	}
	s.log(logger, "classifier selected", module, "configured")
	return module, nil
}

// Extractor resolves the extractor for a document type, applying the
// configured fallback when no route matches.
func (s *Selector) Extractor(logger *slog.Logger, documentType string) (Module, error) {
	if route, ok := s.cfg.ExtractorFor(documentType); ok {
		module, err := s.resolve(route.Module(), prompts.KindExtraction, promptName(documentType))
		if err != nil {
			return Module{}, err
		}
		s.log(logger, "extractor selected", module, "route")
		return module, nil
	}

	var (
		chosen config.Module
		reason string
	)
	switch s.pipeline.ExtractorFallback {
	case config.FallbackGenerative:
		chosen, reason = s.pipeline.GenerativeExtractor, "fallback_generative"
	case config.FallbackFail:
	default:
		if s.pipeline.DefaultExtractor.Configured() {
			chosen, reason = s.pipeline.DefaultExtractor, "fallback_default"
		} else {
			chosen, reason = s.pipeline.GenerativeExtractor, "fallback_generative"
		}
	}
	if !chosen.Configured() {
		return Module{}, services.Wrap(services.ErrConfiguration, "extraction", "select",
			fmt.Sprintf("no extractor for document type %q", documentType), nil)
	}
	if reason == "fallback_generative" {
		chosen.Generative = true
	}
	module, err := s.resolve(chosen, prompts.KindExtraction, promptName(documentType))
	if err != nil {
		return Module{}, err
	}
	s.log(logger, "extractor selected", module, reason,
		logging.String("document_type", documentType),
	)
	return module, nil
}

func (s *Selector) resolve(configured config.Module, kind prompts.Kind, promptSet string) (Module, error) {
	module := Module{Kind: Static, ID: strings.TrimSpace(configured.ID), Name: configured.Name}
	if module.Name == "" {
		module.Name = module.ID
	}
	if !configured.Generative {
		return module, nil
	}
	module.Kind = Generative
	if s.prompts == nil || promptSet == "" {
		return module, nil
	}
	set, err := s.prompts.Load(kind, promptSet)
	if err != nil {
		return Module{}, services.Wrap(services.ErrConfiguration, string(kind), "load prompts", promptSet, err)
	}
	module.Prompts = set
	return module, nil
}

func (s *Selector) log(logger *slog.Logger, msg string, module Module, reason string, extra ...slog.Attr) {
	if logger == nil {
		logger = s.logger
	}
	attrs := []slog.Attr{
		logging.String("module_id", module.ID),
		logging.String("module_kind", module.Kind.String()),
		logging.String("reason", reason),
		logging.Bool("prompts", module.Prompts != nil),
		logging.String(logging.FieldEventType, "module_selected"),
	}
	logger.Info(msg, logging.Args(append(attrs, extra...)...)...)
}

// promptName maps a document type to its prompt file stem.
func promptName(documentType string) string {
	return textutil.Token(documentType)
}
