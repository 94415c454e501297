package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"relocation-assistant/internal/domain"
)

//go:embed phrases.yaml
var defaultPhrases []byte

// Phrases holds the prompt texts and the lists generated output is checked
// against.
type Phrases struct {
	SystemPrompt           map[domain.Language]string `yaml:"system_prompt"`
	DigestInstruction      map[domain.Language]string `yaml:"digest_instruction"`
	AccessRetryInstruction map[domain.Language]string `yaml:"access_retry_instruction"`
	SourceRetryInstruction map[domain.Language]string `yaml:"source_retry_instruction"`
	AccessDenied           []string                   `yaml:"access_denied"`
	DisallowedSources      []string                   `yaml:"disallowed_sources"`
}

// DefaultPhrases returns the embedded phrase set.
func DefaultPhrases() (Phrases, error) {
	var p Phrases
	if err := yaml.Unmarshal(defaultPhrases, &p); err != nil {
		return Phrases{}, fmt.Errorf("config: decode embedded phrases: %w", err)
	}
	return p, p.Validate()
}

// LoadPhrases returns the embedded phrases overlaid with the file at path.
// Maps from the file are merged key by key; lists replace the defaults.
// An empty path yields the defaults.
func LoadPhrases(path string) (Phrases, error) {
	p, err := DefaultPhrases()
	if err != nil {
		return Phrases{}, err
	}
	if strings.TrimSpace(path) == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Phrases{}, fmt.Errorf("config: read phrases %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Phrases{}, fmt.Errorf("config: decode phrases %q: %w", path, err)
	}
	return p, p.Validate()
}

// Validate checks that every supported language has the texts the pipeline
// needs.
func (p Phrases) Validate() error {
	var errs error
	for _, lang := range domain.Languages {
		for name, texts := range map[string]map[domain.Language]string{
			"system_prompt":            p.SystemPrompt,
			"digest_instruction":       p.DigestInstruction,
			"access_retry_instruction": p.AccessRetryInstruction,
			"source_retry_instruction": p.SourceRetryInstruction,
		} {
			if strings.TrimSpace(texts[lang]) == "" {
				errs = multierr.Append(errs, fmt.Errorf("config: phrases: %s.%s: missing", name, lang))
			}
		}
	}
	if len(p.AccessDenied) == 0 {
		errs = multierr.Append(errs, errors.New("config: phrases: access_denied: empty"))
	}
	if len(p.DisallowedSources) == 0 {
		errs = multierr.Append(errs, errors.New("config: phrases: disallowed_sources: empty"))
	}
	return errs
}
