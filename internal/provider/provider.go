// Package provider defines the contract every TTS backend implements and a
// registry for constructing backends by id. Concrete providers live in
// subpackages (polly, piper).
package provider

import (
	"context"

	"github.com/openvoicepacks/ovp/internal/audio"
	"github.com/openvoicepacks/ovp/internal/voice"
	"github.com/openvoicepacks/ovp/internal/voicepack"
)

// Capabilities describes what a backend can do. The orchestrator uses it to
// route markup, decide cache eligibility, and size its retry policy.
type Capabilities struct {
	// Markup lists the input formats the provider accepts.
	Markup []voicepack.Markup

	// Deterministic reports whether identical input yields byte-identical
	// output across runs. Cloud services that retrain or randomize server
	// side must declare false; only deterministic providers participate in
	// the synthesis cache and the checksum stability guarantee.
	Deterministic bool

	// Online reports whether synthesis issues network requests.
	Online bool
}

// SupportsMarkup reports whether the provider accepts the given markup kind.
func (c Capabilities) SupportsMarkup(m voicepack.Markup) bool {
	for _, k := range c.Markup {
		if k == m {
			return true
		}
	}
	return false
}

// Provider is the uniform capability set over heterogeneous TTS backends.
// Implementations must be safe for concurrent Synthesize calls; the
// orchestrator fans phrases out across a bounded worker pool.
type Provider interface {
	// ID returns the provider identifier used in pack files ("polly",
	// "piper").
	ID() string

	// Capabilities returns the provider's declared capability set.
	Capabilities() Capabilities

	// ListVoices enumerates the voices available from this backend.
	// Cloud backends return ErrUnavailable on network or auth failure;
	// local backends return ErrNoVoices when the catalog is empty.
	ListVoices(ctx context.Context) ([]voice.Model, error)

	// Synthesize converts one phrase to raw audio using the given voice.
	// The returned clip carries the provider's native encoding, which is
	// not assumed to match the firmware target. A markup kind outside the
	// provider's capability set yields an UnsupportedMarkupError.
	Synthesize(ctx context.Context, phrase voicepack.Phrase, model voice.Model) (audio.Clip, error)
}
