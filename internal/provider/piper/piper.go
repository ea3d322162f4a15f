// Package piper implements the local TTS provider backed by Piper voice
// models. Voices are .onnx model files (with .onnx.json configs) in an
// install directory; synthesis runs the piper binary with raw PCM output.
//
// Piper inference is deterministic for a given model file, so the provider
// declares Deterministic and participates in the synthesis cache and the
// checksum stability guarantee.
package piper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/openvoicepacks/ovp/internal/audio"
	"github.com/openvoicepacks/ovp/internal/provider"
	"github.com/openvoicepacks/ovp/internal/voice"
	"github.com/openvoicepacks/ovp/internal/voicepack"
)

// ProviderID is the id packs use to select this backend.
const ProviderID = "piper"

const (
	defaultBinary    = "piper"
	synthesisTimeout = 60 * time.Second

	// defaultSampleRate matches most published Piper voices; used only
	// when a model config omits audio.sample_rate.
	defaultSampleRate = 22050
)

func init() {
	provider.Register(ProviderID, func(settings map[string]string) (provider.Provider, error) {
		return New(settings)
	})
}

// piperVoice is one installed model. The config JSON is parsed once per
// build and shared read-only across concurrent synthesis calls.
type piperVoice struct {
	modelPath  string
	configPath string

	once       sync.Once
	sampleRate int
	loadErr    error
}

// load parses the model's JSON config (sample rate et al.) exactly once.
func (v *piperVoice) load() (int, error) {
	v.once.Do(func() {
		v.sampleRate = defaultSampleRate
		data, err := os.ReadFile(v.configPath)
		if err != nil {
			v.loadErr = fmt.Errorf("unable to read model config: %w", err)
			return
		}
		var cfg struct {
			Audio struct {
				SampleRate int `json:"sample_rate"`
			} `json:"audio"`
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			v.loadErr = fmt.Errorf("unable to parse model config %s: %w", v.configPath, err)
			return
		}
		if cfg.Audio.SampleRate > 0 {
			v.sampleRate = cfg.Audio.SampleRate
		}
	})
	return v.sampleRate, v.loadErr
}

// Provider synthesizes speech by running the piper binary against installed
// voice models. Safe for concurrent use; each synthesis is its own process.
type Provider struct {
	installDir string
	binary     string

	mu      sync.Mutex
	catalog map[string]*piperVoice // key: lowercased model stem
}

// New constructs the Piper provider. Recognized settings: "install_dir"
// (default ~/.cache/ovp/piper) and "binary" (default "piper").
func New(settings map[string]string) (*Provider, error) {
	dir := settings["install_dir"]
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("unable to determine home directory: %w", err)
		}
		dir = filepath.Join(home, ".cache", "ovp", "piper")
	}
	binary := settings["binary"]
	if binary == "" {
		binary = defaultBinary
	}
	return &Provider{installDir: dir, binary: binary}, nil
}

// ID implements provider.Provider.
func (p *Provider) ID() string { return ProviderID }

// Capabilities implements provider.Provider. Piper accepts plain text only.
func (p *Provider) Capabilities() provider.Capabilities {
	return provider.Capabilities{
		Markup:        []voicepack.Markup{voicepack.MarkupPlain},
		Deterministic: true,
		Online:        false,
	}
}

// ListVoices scans the install directory for .onnx models. Model filenames
// follow the published Piper convention "{lang}_{REGION}-{name}-{quality}",
// e.g. en_GB-alan-medium.onnx.
func (p *Provider) ListVoices(ctx context.Context) ([]voice.Model, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := p.scan(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	models := make([]voice.Model, 0, len(p.catalog))
	for stem, v := range p.catalog {
		lang := languageFromStem(stem)
		models = append(models, voice.Model{
			Provider: ProviderID,
			Voice:    stem,
			Language: lang,
			Options:  map[string]string{"model": v.modelPath},
		})
	}
	sort.Slice(models, func(i, j int) bool { return models[i].Voice < models[j].Voice })
	return models, nil
}

// scan builds the voice catalog from the install directory.
func (p *Provider) scan() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.catalog != nil {
		return nil
	}

	entries, err := os.ReadDir(p.installDir)
	if err != nil {
		return fmt.Errorf("%w: unable to read install dir %s: %v", provider.ErrNoVoices, p.installDir, err)
	}

	catalog := make(map[string]*piperVoice)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".onnx") {
			continue
		}
		stem := strings.TrimSuffix(name, ".onnx")
		catalog[strings.ToLower(stem)] = &piperVoice{
			modelPath:  filepath.Join(p.installDir, name),
			configPath: filepath.Join(p.installDir, name+".json"),
		}
	}
	if len(catalog) == 0 {
		return fmt.Errorf("%w: no .onnx models in %s", provider.ErrNoVoices, p.installDir)
	}

	p.catalog = catalog
	log.Debug("piper voice catalog loaded", "dir", p.installDir, "voices", len(catalog))
	return nil
}

// languageFromStem extracts the language tag from a model stem, normalizing
// the underscore spelling ("en_GB-alan-medium" -> "en-GB"). Falls back to
// the raw prefix when it does not parse.
func languageFromStem(stem string) string {
	prefix, _, _ := strings.Cut(stem, "-")
	if tag, err := voice.ParseLanguage(prefix); err == nil {
		return tag
	}
	return prefix
}

// Synthesize implements provider.Provider. It runs one piper process per
// phrase with stdin pre-configured, which sidesteps the stdin race in
// piper's raw mode, and reads 16-bit mono PCM from stdout.
func (p *Provider) Synthesize(ctx context.Context, phrase voicepack.Phrase, model voice.Model) (audio.Clip, error) {
	if !p.Capabilities().SupportsMarkup(phrase.Markup) {
		return audio.Clip{}, &provider.UnsupportedMarkupError{Provider: ProviderID, Markup: phrase.Markup}
	}

	if err := p.scan(); err != nil {
		return audio.Clip{}, err
	}
	p.mu.Lock()
	v, ok := p.catalog[strings.ToLower(model.Voice)]
	p.mu.Unlock()
	if !ok {
		return audio.Clip{}, fmt.Errorf("voice %q not installed in %s", model.Voice, p.installDir)
	}

	sampleRate, err := v.load()
	if err != nil {
		return audio.Clip{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, synthesisTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.binary,
		"--model", v.modelPath,
		"--config", v.configPath,
		"--output-raw",
	)
	cmd.Stdin = strings.NewReader(phrase.Text)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return audio.Clip{}, fmt.Errorf("piper timed out after %s", synthesisTimeout)
		}
		return audio.Clip{}, fmt.Errorf("piper failed: %w (stderr: %s)", err, strings.TrimSpace(stderr.String()))
	}
	if stdout.Len() == 0 {
		return audio.Clip{}, fmt.Errorf("piper produced no audio for phrase %q", phrase.ID)
	}

	return audio.Clip{
		Data:     stdout.Bytes(),
		Encoding: audio.Encoding{SampleRate: sampleRate, Channels: 1, BitDepth: 16},
	}, nil
}
