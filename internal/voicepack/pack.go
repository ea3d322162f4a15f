// Package voicepack defines the voicepack configuration model and the YAML
// and CSV loaders that produce it. A pack is a named, ordered collection of
// phrases plus the voice selection and output options for one build.
package voicepack

import (
	"fmt"
	"path"
	"strings"

	"github.com/openvoicepacks/ovp/internal/voice"
)

// Markup identifies the input format a phrase's text is written in.
type Markup string

const (
	// MarkupPlain is unannotated text, accepted by every provider.
	MarkupPlain Markup = "plaintext"

	// MarkupSSML is Speech Synthesis Markup Language, accepted only by
	// providers that advertise it.
	MarkupSSML Markup = "ssml"
)

// Phrase is one unit of text to be synthesized into one audio file.
// The ID is unique within a pack and doubles as the relative output path
// (without extension); it may contain '/' to nest files in directories.
type Phrase struct {
	ID     string
	Text   string
	Markup Markup
}

// Options controls the output stage of a build. Sample rate and channel
// count default to the values EdgeTX/OpenTX firmware expects; override them
// only for targets known to accept something else.
type Options struct {
	SampleRate  int
	Channels    int
	BitDepth    int
	Normalize   bool
	Zip         bool
	Checksum    bool
	DryRun      bool
	Concurrency int
}

// DefaultOptions returns the firmware-compatible output defaults:
// 16 kHz, mono, 16-bit WAV with a checksum manifest. Concurrency is left
// unset so the CLI config (or the orchestrator's own default) decides.
func DefaultOptions() Options {
	return Options{
		SampleRate: 16000,
		Channels:   1,
		BitDepth:   16,
		Checksum:   true,
	}
}

// Pack is a parsed voicepack specification. It is read-only input to the
// build orchestrator; nothing in the pipeline mutates it.
type Pack struct {
	Name        string
	Packname    string
	Description string
	Creator     string
	Contact     string
	Voice       voice.Model
	Phrases     []Phrase
	Output      Options
}

// Validate checks the structural invariants of a pack: a name, a voice
// selection, at least one phrase, unique non-empty phrase ids, and non-empty
// phrase text. Violations are configuration errors that abort a build.
func (p *Pack) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("pack has no name")
	}
	if len(p.Phrases) == 0 {
		return fmt.Errorf("pack %q has no phrases", p.Name)
	}
	if p.Output.SampleRate <= 0 || p.Output.Channels <= 0 || p.Output.BitDepth <= 0 {
		return fmt.Errorf("pack %q has invalid output encoding", p.Name)
	}
	seen := make(map[string]struct{}, len(p.Phrases))
	for _, ph := range p.Phrases {
		if ph.ID == "" {
			return fmt.Errorf("pack %q contains a phrase with an empty id", p.Name)
		}
		if strings.TrimSpace(ph.Text) == "" {
			return fmt.Errorf("phrase %q has empty text", ph.ID)
		}
		switch ph.Markup {
		case MarkupPlain, MarkupSSML:
		default:
			return fmt.Errorf("phrase %q has unknown markup kind %q", ph.ID, ph.Markup)
		}
		if _, dup := seen[ph.ID]; dup {
			return fmt.Errorf("duplicate phrase id %q", ph.ID)
		}
		seen[ph.ID] = struct{}{}
	}
	if _, err := p.Voice.Normalize(); err != nil {
		return fmt.Errorf("pack %q: %w", p.Name, err)
	}
	return nil
}

// soundPath converts a phrase id into the relative output path for the
// firmware layout: directory components are uppercased (EdgeTX convention)
// and the file gets a .wav extension. The filename component keeps its case.
func soundPath(id string) string {
	parts := strings.Split(path.Clean(id), "/")
	for i := 0; i < len(parts)-1; i++ {
		parts[i] = strings.ToUpper(parts[i])
	}
	return strings.Join(parts, "/") + ".wav"
}

// SoundPath returns the relative path of the phrase's output file within the
// pack directory.
func (ph Phrase) SoundPath() string {
	return soundPath(ph.ID)
}

// derivePackname mirrors the filename default used by pack metadata: the
// pack name with spaces replaced by underscores.
func derivePackname(name string) string {
	return strings.ReplaceAll(name, " ", "_")
}
