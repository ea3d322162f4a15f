package build

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/openvoicepacks/ovp/internal/audio"
	"github.com/openvoicepacks/ovp/internal/cache"
	"github.com/openvoicepacks/ovp/internal/provider"
	"github.com/openvoicepacks/ovp/internal/voice"
	"github.com/openvoicepacks/ovp/internal/voicepack"
)

// mockProvider is a deterministic in-memory backend for orchestrator tests.
type mockProvider struct {
	id            string
	deterministic bool
	markup        []voicepack.Markup
	voices        []voice.Model
	listErr       error

	// failWith maps phrase ids to a synthesis error.
	failWith map[string]error

	// failCount fails the first N calls per phrase id (for retry tests).
	failCount map[string]int
	failErr   error

	calls atomic.Int64
}

func newMockProvider() *mockProvider {
	return &mockProvider{
		id:            "mock",
		deterministic: true,
		markup:        []voicepack.Markup{voicepack.MarkupPlain},
		voices: []voice.Model{
			{Provider: "mock", Voice: "en_GB-default", Language: "en-GB"},
		},
		failWith:  make(map[string]error),
		failCount: make(map[string]int),
	}
}

func (m *mockProvider) ID() string { return m.id }

func (m *mockProvider) Capabilities() provider.Capabilities {
	return provider.Capabilities{Markup: m.markup, Deterministic: m.deterministic}
}

func (m *mockProvider) ListVoices(context.Context) ([]voice.Model, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.voices, nil
}

func (m *mockProvider) Synthesize(_ context.Context, ph voicepack.Phrase, _ voice.Model) (audio.Clip, error) {
	m.calls.Add(1)
	if !m.Capabilities().SupportsMarkup(ph.Markup) {
		return audio.Clip{}, &provider.UnsupportedMarkupError{Provider: m.id, Markup: ph.Markup}
	}
	if n := m.failCount[ph.ID]; n > 0 {
		m.failCount[ph.ID] = n - 1
		return audio.Clip{}, m.failErr
	}
	if err := m.failWith[ph.ID]; err != nil {
		return audio.Clip{}, err
	}

	// Deterministic pseudo-audio derived from the phrase text, at a rate
	// that forces the converter to resample.
	frames := 2205
	data := make([]byte, frames*2)
	seed := 0
	for _, b := range []byte(ph.Text) {
		seed += int(b)
	}
	for i := 0; i < frames; i++ {
		v := int16((seed*31 + i*17) % 8000)
		binary.LittleEndian.PutUint16(data[2*i:], uint16(v))
	}
	return audio.Clip{
		Data:     data,
		Encoding: audio.Encoding{SampleRate: 22050, Channels: 1, BitDepth: 16},
	}, nil
}

func testPack(phrases ...voicepack.Phrase) *voicepack.Pack {
	if len(phrases) == 0 {
		phrases = []voicepack.Phrase{
			{ID: "batt_low", Text: "Battery low", Markup: voicepack.MarkupPlain},
			{ID: "armed", Text: "Armed", Markup: voicepack.MarkupPlain},
		}
	}
	return &voicepack.Pack{
		Name:     "Test Pack",
		Packname: "Test_Pack",
		Voice:    voice.Model{Provider: "mock", Voice: "en_GB-default", Language: "en-GB"},
		Phrases:  phrases,
		Output:   voicepack.DefaultOptions(),
	}
}

func quickRetry() retryConfig {
	return retryConfig{MaxAttempts: 3, Sleep: func(time.Duration) {}}
}

func newTestOrchestrator(t *testing.T, p provider.Provider) (*Orchestrator, string) {
	t.Helper()
	dir := t.TempDir()
	return New(Config{Provider: p, OutputDir: dir, Retry: quickRetry()}), dir
}

func TestBuildSuccess(t *testing.T) {
	o, dir := newTestOrchestrator(t, newMockProvider())
	pack := testPack()

	report, err := o.Build(context.Background(), pack)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if report.State != StateCompleted {
		t.Errorf("state = %s, want completed", report.State)
	}
	if got := report.Succeeded; len(got) != 2 || got[0] != "armed" || got[1] != "batt_low" {
		t.Errorf("succeeded = %v", got)
	}
	if len(report.Failed) != 0 {
		t.Errorf("failed = %v", report.Failed)
	}

	for _, name := range []string{"batt_low.wav", "armed.wav"} {
		path := filepath.Join(dir, "Test_Pack", name)
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("missing output file %s: %v", name, err)
		}
		clip, err := audio.DecodeWAV(data)
		if err != nil {
			t.Fatalf("%s is not a valid WAV: %v", name, err)
		}
		want := audio.Encoding{SampleRate: 16000, Channels: 1, BitDepth: 16}
		if clip.Encoding != want {
			t.Errorf("%s encoding = %+v, want %+v", name, clip.Encoding, want)
		}
	}

	if report.Checksum == "" {
		t.Error("expected a pack checksum")
	}
	if _, err := os.Stat(filepath.Join(dir, "Test_Pack", manifestName)); err != nil {
		t.Errorf("missing checksum manifest: %v", err)
	}
}

func TestBuildNestedLayout(t *testing.T) {
	o, dir := newTestOrchestrator(t, newMockProvider())
	pack := testPack(
		voicepack.Phrase{ID: "system/batt_low", Text: "Battery low", Markup: voicepack.MarkupPlain},
	)

	if _, err := o.Build(context.Background(), pack); err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "Test_Pack", "SYSTEM", "batt_low.wav")); err != nil {
		t.Errorf("nested layout not written: %v", err)
	}
}

func TestBuildPartialFailure(t *testing.T) {
	p := newMockProvider()
	p.failWith["bad"] = errors.New("remote validator rejected text")
	o, dir := newTestOrchestrator(t, p)

	pack := testPack(
		voicepack.Phrase{ID: "armed", Text: "Armed", Markup: voicepack.MarkupPlain},
		voicepack.Phrase{ID: "bad", Text: "Nope", Markup: voicepack.MarkupPlain},
		voicepack.Phrase{ID: "batt_low", Text: "Battery low", Markup: voicepack.MarkupPlain},
	)

	report, err := o.Build(context.Background(), pack)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if report.State != StateCompletedWithFailures {
		t.Errorf("state = %s, want completed with failures", report.State)
	}
	if len(report.Succeeded) != 2 {
		t.Errorf("succeeded = %v, want 2 entries", report.Succeeded)
	}
	if reason := report.Failed["bad"]; reason == "" {
		t.Error("failure reason for \"bad\" not recorded")
	}
	if _, err := os.Stat(filepath.Join(dir, "Test_Pack", "bad.wav")); !os.IsNotExist(err) {
		t.Error("failed phrase produced an output file")
	}
	if _, err := os.Stat(filepath.Join(dir, "Test_Pack", "armed.wav")); err != nil {
		t.Error("unrelated phrase lost to one failure")
	}
}

func TestBuildUnsupportedMarkupIsolated(t *testing.T) {
	o, _ := newTestOrchestrator(t, newMockProvider())
	pack := testPack(
		voicepack.Phrase{ID: "armed", Text: "Armed", Markup: voicepack.MarkupPlain},
		voicepack.Phrase{ID: "fancy", Text: "<speak>Hi</speak>", Markup: voicepack.MarkupSSML},
	)

	report, err := o.Build(context.Background(), pack)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if report.State != StateCompletedWithFailures {
		t.Errorf("state = %s", report.State)
	}
	if len(report.Succeeded) != 1 || report.Succeeded[0] != "armed" {
		t.Errorf("succeeded = %v", report.Succeeded)
	}
	if reason := report.Failed["fancy"]; reason == "" {
		t.Error("unsupported markup failure not recorded")
	}
}

func TestBuildDryRunWritesNothing(t *testing.T) {
	p := newMockProvider()
	p.failWith["bad"] = errors.New("boom")
	o, dir := newTestOrchestrator(t, p)

	pack := testPack(
		voicepack.Phrase{ID: "armed", Text: "Armed", Markup: voicepack.MarkupPlain},
		voicepack.Phrase{ID: "bad", Text: "Nope", Markup: voicepack.MarkupPlain},
	)
	pack.Output.DryRun = true
	pack.Output.Zip = true

	report, err := o.Build(context.Background(), pack)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	// Failures still surface so dry runs are useful for estimation.
	if reason := report.Failed["bad"]; reason == "" {
		t.Error("dry run lost the failure")
	}
	if report.OutputPath != "" || report.ArchivePath != "" {
		t.Errorf("dry run set output paths: %q %q", report.OutputPath, report.ArchivePath)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("dry run wrote files: %v", entries)
	}
}

func TestBuildIdempotent(t *testing.T) {
	p := newMockProvider()
	o1, dir1 := newTestOrchestrator(t, p)
	o2, dir2 := newTestOrchestrator(t, p)

	r1, err := o1.Build(context.Background(), testPack())
	if err != nil {
		t.Fatalf("first build failed: %v", err)
	}
	r2, err := o2.Build(context.Background(), testPack())
	if err != nil {
		t.Fatalf("second build failed: %v", err)
	}

	if r1.Checksum == "" || r1.Checksum != r2.Checksum {
		t.Errorf("checksums differ: %q vs %q", r1.Checksum, r2.Checksum)
	}
	for _, name := range []string{"batt_low.wav", "armed.wav"} {
		a, _ := os.ReadFile(filepath.Join(dir1, "Test_Pack", name))
		b, _ := os.ReadFile(filepath.Join(dir2, "Test_Pack", name))
		if len(a) == 0 || string(a) != string(b) {
			t.Errorf("%s differs between identical builds", name)
		}
	}
}

func TestBuildRetriesThrottling(t *testing.T) {
	p := newMockProvider()
	p.failCount["armed"] = 2
	p.failErr = fmt.Errorf("synthesize: %w", provider.ErrThrottled)
	o, _ := newTestOrchestrator(t, p)

	report, err := o.Build(context.Background(), testPack(
		voicepack.Phrase{ID: "armed", Text: "Armed", Markup: voicepack.MarkupPlain},
	))
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if report.State != StateCompleted {
		t.Errorf("state = %s, want completed after retries; failures: %v", report.State, report.Failed)
	}
	if got := p.calls.Load(); got != 3 {
		t.Errorf("provider called %d times, want 3", got)
	}
}

func TestBuildExhaustedRetriesFailPhrase(t *testing.T) {
	p := newMockProvider()
	p.failCount["armed"] = 99
	p.failErr = fmt.Errorf("synthesize: %w", provider.ErrThrottled)
	o, _ := newTestOrchestrator(t, p)

	report, err := o.Build(context.Background(), testPack(
		voicepack.Phrase{ID: "armed", Text: "Armed", Markup: voicepack.MarkupPlain},
		voicepack.Phrase{ID: "batt_low", Text: "Battery low", Markup: voicepack.MarkupPlain},
	))
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if report.State != StateCompletedWithFailures {
		t.Errorf("state = %s", report.State)
	}
	if _, ok := report.Failed["armed"]; !ok {
		t.Error("exhausted retries did not record a failure")
	}
	if len(report.Succeeded) != 1 {
		t.Errorf("succeeded = %v", report.Succeeded)
	}
}

func TestBuildAborts(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*mockProvider, *voicepack.Pack)
	}{
		{"invalid pack", func(_ *mockProvider, p *voicepack.Pack) { p.Phrases = nil }},
		{"duplicate ids", func(_ *mockProvider, p *voicepack.Pack) {
			p.Phrases = append(p.Phrases, p.Phrases[0])
		}},
		{"unknown voice", func(_ *mockProvider, p *voicepack.Pack) { p.Voice.Voice = "nope" }},
		{"provider mismatch", func(_ *mockProvider, p *voicepack.Pack) { p.Voice.Provider = "other" }},
		{"catalog unavailable", func(m *mockProvider, _ *voicepack.Pack) {
			m.listErr = provider.ErrUnavailable
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newMockProvider()
			pack := testPack()
			tt.setup(p, pack)
			o, dir := newTestOrchestrator(t, p)

			_, err := o.Build(context.Background(), pack)
			if !errors.Is(err, ErrBuildAborted) {
				t.Fatalf("expected ErrBuildAborted, got %v", err)
			}
			if got := p.calls.Load(); got != 0 {
				t.Errorf("aborted build synthesized %d phrases", got)
			}
			entries, _ := os.ReadDir(dir)
			if len(entries) != 0 {
				t.Errorf("aborted build wrote files: %v", entries)
			}
		})
	}
}

func TestBuildUsesCache(t *testing.T) {
	c, err := cache.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	p := newMockProvider()
	o := New(Config{Provider: p, Cache: c, OutputDir: t.TempDir(), Retry: quickRetry()})

	if _, err := o.Build(context.Background(), testPack()); err != nil {
		t.Fatalf("first build failed: %v", err)
	}
	callsAfterFirst := p.calls.Load()

	o2 := New(Config{Provider: p, Cache: c, OutputDir: t.TempDir(), Retry: quickRetry()})
	report, err := o2.Build(context.Background(), testPack())
	if err != nil {
		t.Fatalf("second build failed: %v", err)
	}

	if p.calls.Load() != callsAfterFirst {
		t.Error("cached phrases were re-synthesized")
	}
	if report.CacheHits != 2 {
		t.Errorf("cache hits = %d, want 2", report.CacheHits)
	}
	if report.State != StateCompleted {
		t.Errorf("state = %s", report.State)
	}
}

func TestBuildCacheKeyedByNormalize(t *testing.T) {
	c, err := cache.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	p := newMockProvider()

	// Seed the cache with a non-normalized build.
	o := New(Config{Provider: p, Cache: c, OutputDir: t.TempDir(), Retry: quickRetry()})
	if _, err := o.Build(context.Background(), testPack()); err != nil {
		t.Fatalf("seed build failed: %v", err)
	}

	// A normalized build of the same pack must not reuse those entries.
	pack := testPack()
	pack.Output.Normalize = true
	dir := t.TempDir()
	o2 := New(Config{Provider: p, Cache: c, OutputDir: dir, Retry: quickRetry()})
	report, err := o2.Build(context.Background(), pack)
	if err != nil {
		t.Fatalf("normalized build failed: %v", err)
	}
	if report.CacheHits != 0 {
		t.Errorf("normalized build served %d stale non-normalized entries", report.CacheHits)
	}

	data, err := os.ReadFile(filepath.Join(dir, "Test_Pack", "armed.wav"))
	if err != nil {
		t.Fatal(err)
	}
	clip, err := audio.DecodeWAV(data)
	if err != nil {
		t.Fatal(err)
	}
	var peak int
	for i := 0; i+1 < len(clip.Data); i += 2 {
		v := int(int16(uint16(clip.Data[i]) | uint16(clip.Data[i+1])<<8))
		if v < 0 {
			v = -v
		}
		if v > peak {
			peak = v
		}
	}
	// The mock emits quiet audio (peak < 8000); a normalized file sits near
	// the -3 dBFS target (~23197).
	if peak < 20000 {
		t.Errorf("peak = %d, want normalized output near 23197", peak)
	}

	// Normalized entries land under their own key and are reusable.
	pack2 := testPack()
	pack2.Output.Normalize = true
	o3 := New(Config{Provider: p, Cache: c, OutputDir: t.TempDir(), Retry: quickRetry()})
	report3, err := o3.Build(context.Background(), pack2)
	if err != nil {
		t.Fatalf("second normalized build failed: %v", err)
	}
	if report3.CacheHits != 2 {
		t.Errorf("normalized cache entries not reused: %d hits, want 2", report3.CacheHits)
	}
}

func TestBuildCacheSkippedForNonDeterministic(t *testing.T) {
	c, err := cache.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	p := newMockProvider()
	p.deterministic = false
	o := New(Config{Provider: p, Cache: c, OutputDir: t.TempDir(), Retry: quickRetry()})

	if _, err := o.Build(context.Background(), testPack()); err != nil {
		t.Fatal(err)
	}
	first := p.calls.Load()

	o2 := New(Config{Provider: p, Cache: c, OutputDir: t.TempDir(), Retry: quickRetry()})
	report, err := o2.Build(context.Background(), testPack())
	if err != nil {
		t.Fatal(err)
	}
	if p.calls.Load() != first*2 {
		t.Error("non-deterministic provider should synthesize every run")
	}
	if report.CacheHits != 0 {
		t.Errorf("cache hits = %d, want 0", report.CacheHits)
	}
}

func TestBuildArchive(t *testing.T) {
	o, dir := newTestOrchestrator(t, newMockProvider())
	pack := testPack()
	pack.Output.Zip = true

	report, err := o.Build(context.Background(), pack)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if report.ArchivePath != filepath.Join(dir, "Test_Pack.zip") {
		t.Errorf("archive path = %q", report.ArchivePath)
	}
	info, err := os.Stat(report.ArchivePath)
	if err != nil {
		t.Fatalf("archive missing: %v", err)
	}
	if info.Size() == 0 {
		t.Error("archive is empty")
	}
}

func TestReportFailedIDsSorted(t *testing.T) {
	r := &Report{Failed: map[string]string{"zeta": "x", "alpha": "y", "mid": "z"}}
	ids := r.FailedIDs()
	want := []string{"alpha", "mid", "zeta"}
	for i, id := range want {
		if ids[i] != id {
			t.Fatalf("FailedIDs() = %v, want %v", ids, want)
		}
	}
}

func TestBuildCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o, dir := newTestOrchestrator(t, newMockProvider())
	_, err := o.Build(ctx, testPack())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	// No partial output files, half-written or otherwise.
	var files []string
	filepath.Walk(dir, func(path string, info os.FileInfo, _ error) error { //nolint:errcheck
		if info != nil && info.Mode().IsRegular() {
			files = append(files, path)
		}
		return nil
	})
	if len(files) != 0 {
		t.Errorf("cancelled build left files: %v", files)
	}
}
