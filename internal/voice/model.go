// Package voice defines the voice model type shared by all TTS providers.
package voice

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
)

// Model describes a single synthesizable voice: the provider it belongs to,
// the provider's voice identifier, a BCP 47 language tag, and any
// provider-specific options (engine variant, quality level, ...).
// A Model is immutable once constructed; identity is (Provider, Voice).
type Model struct {
	Provider string            `yaml:"provider"`
	Voice    string            `yaml:"voice"`
	Language string            `yaml:"language"`
	Options  map[string]string `yaml:"options,omitempty"`
}

// Key returns the identity of the model within a voice catalog.
func (m Model) Key() string {
	return m.Provider + "/" + m.Voice
}

// Option returns the named provider-specific option, or def when unset.
func (m Model) Option(name, def string) string {
	if v, ok := m.Options[name]; ok && v != "" {
		return v
	}
	return def
}

// Normalize returns a copy of the model with the voice identifier lowercased
// and the language tag in canonical BCP 47 form. Pack files commonly use
// underscore-separated tags (en_GB); both spellings are accepted.
func (m Model) Normalize() (Model, error) {
	if m.Provider == "" {
		return Model{}, fmt.Errorf("voice model missing provider")
	}
	if m.Voice == "" {
		return Model{}, fmt.Errorf("voice model missing voice identifier")
	}
	tag, err := ParseLanguage(m.Language)
	if err != nil {
		return Model{}, err
	}
	n := m
	n.Voice = strings.ToLower(m.Voice)
	n.Language = tag
	return n, nil
}

// ParseLanguage validates a language tag and returns its canonical BCP 47
// form, e.g. "en_GB" and "en-gb" both normalize to "en-GB".
func ParseLanguage(tag string) (string, error) {
	if tag == "" {
		return "", fmt.Errorf("voice model missing language tag")
	}
	t, err := language.Parse(strings.ReplaceAll(tag, "_", "-"))
	if err != nil {
		return "", fmt.Errorf("invalid language tag %q: %w", tag, err)
	}
	return t.String(), nil
}
