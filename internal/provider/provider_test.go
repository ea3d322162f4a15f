package provider

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/openvoicepacks/ovp/internal/audio"
	"github.com/openvoicepacks/ovp/internal/voice"
	"github.com/openvoicepacks/ovp/internal/voicepack"
)

type nullProvider struct{ id string }

func (p *nullProvider) ID() string { return p.id }
func (p *nullProvider) Capabilities() Capabilities {
	return Capabilities{Markup: []voicepack.Markup{voicepack.MarkupPlain}}
}
func (p *nullProvider) ListVoices(context.Context) ([]voice.Model, error) {
	return nil, ErrNoVoices
}
func (p *nullProvider) Synthesize(context.Context, voicepack.Phrase, voice.Model) (audio.Clip, error) {
	return audio.Clip{}, ErrUnavailable
}

func TestRegistry(t *testing.T) {
	Register("null-test", func(map[string]string) (Provider, error) {
		return &nullProvider{id: "null-test"}, nil
	})

	p, err := New("null-test", nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if p.ID() != "null-test" {
		t.Errorf("ID = %q", p.ID())
	}

	if _, err := New("nope", nil); !errors.Is(err, ErrUnknownProvider) {
		t.Errorf("expected ErrUnknownProvider, got %v", err)
	}

	found := false
	for _, id := range IDs() {
		if id == "null-test" {
			found = true
		}
	}
	if !found {
		t.Errorf("IDs() missing registered provider: %v", IDs())
	}
}

func TestRegisterDuplicatePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	Register("dup-test", func(map[string]string) (Provider, error) { return nil, nil })
	Register("dup-test", func(map[string]string) (Provider, error) { return nil, nil })
}

func TestCapabilitiesSupportsMarkup(t *testing.T) {
	c := Capabilities{Markup: []voicepack.Markup{voicepack.MarkupPlain, voicepack.MarkupSSML}}
	if !c.SupportsMarkup(voicepack.MarkupSSML) {
		t.Error("SSML should be supported")
	}
	c = Capabilities{Markup: []voicepack.Markup{voicepack.MarkupPlain}}
	if c.SupportsMarkup(voicepack.MarkupSSML) {
		t.Error("SSML should not be supported")
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{ErrThrottled, true},
		{ErrUnavailable, true},
		{fmt.Errorf("synthesis: %w", ErrThrottled), true},
		{&UnsupportedMarkupError{Provider: "piper", Markup: voicepack.MarkupSSML}, false},
		{errors.New("boom"), false},
		{nil, false},
	}
	for _, tt := range tests {
		if got := Retryable(tt.err); got != tt.want {
			t.Errorf("Retryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
