// Package prompts loads the prompt sets sent to generative classifiers and
// extractors.
//
// A prompt set lives in the configured prompts directory as
// <name>_prompts.yaml (or .yml / .json). Classification sets list document
// types by name and description; extraction sets list field ids with the
// question the model answers. Files are checked against an embedded JSON
// schema before use.
package prompts
