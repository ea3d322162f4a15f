// Package build drives the voicepack pipeline: resolve the pack and voice,
// fan synthesis out across a bounded worker pool, convert provider output to
// the canonical encoding, write the firmware layout, and finalize checksums
// and the archive. Phrase failures never abort a build; only
// configuration-level problems do.
package build

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/openvoicepacks/ovp/internal/audio"
	"github.com/openvoicepacks/ovp/internal/cache"
	"github.com/openvoicepacks/ovp/internal/provider"
	"github.com/openvoicepacks/ovp/internal/voice"
	"github.com/openvoicepacks/ovp/internal/voicepack"
)

// ErrBuildAborted marks configuration-level failures: invalid pack,
// unreachable catalog, unresolvable voice. Nothing has been synthesized or
// written when it is returned.
var ErrBuildAborted = errors.New("build aborted")

// defaultConcurrency bounds synthesis fan-out when neither the pack file
// nor the caller sets one.
const defaultConcurrency = 4

// Config wires an orchestrator. Provider and OutputDir are required; Cache
// is optional and only consulted for providers that declare deterministic
// output.
type Config struct {
	Provider  provider.Provider
	Cache     *cache.Cache
	OutputDir string

	// Retry overrides the default per-phrase retry policy; zero value
	// means defaults.
	Retry retryConfig
}

// Orchestrator owns all transient state for build invocations. Safe to
// reuse across builds, one Build call at a time per pack.
type Orchestrator struct {
	provider provider.Provider
	cache    *cache.Cache
	outDir   string
	retry    retryConfig
}

// New creates an orchestrator from cfg.
func New(cfg Config) *Orchestrator {
	r := cfg.Retry
	if r.MaxAttempts == 0 {
		r = defaultRetryConfig()
	}
	return &Orchestrator{
		provider: cfg.Provider,
		cache:    cfg.Cache,
		outDir:   cfg.OutputDir,
		retry:    r,
	}
}

// results collects per-phrase outcomes across the concurrent stages.
type results struct {
	mu        sync.Mutex
	clips     map[string]audio.Clip // successful raw synthesis, pre-conversion
	files     map[string][]byte     // canonical WAV bytes ready to write
	failed    map[string]string     // phrase id -> reason
	cacheHits int
}

func (r *results) fail(id, reason string) {
	r.mu.Lock()
	r.failed[id] = reason
	r.mu.Unlock()
}

// Build runs the full pipeline for one pack and returns its report. The
// returned error is non-nil only for configuration-level aborts and
// cancellation; per-phrase problems land in the report instead.
func (o *Orchestrator) Build(ctx context.Context, pack *voicepack.Pack) (*Report, error) {
	start := time.Now()
	report := &Report{
		RunID:    uuid.NewString(),
		Pack:     pack.Name,
		Provider: o.provider.ID(),
		State:    StatePending,
		Failed:   make(map[string]string),
	}

	// Resolving.
	report.State = StateResolving
	model, err := o.resolve(ctx, pack)
	if err != nil {
		return nil, err
	}
	report.Voice = model.Voice
	log.Debug("voice resolved", "run", report.RunID, "provider", o.provider.ID(), "voice", model.Voice)

	target := audio.Encoding{
		SampleRate: pack.Output.SampleRate,
		Channels:   pack.Output.Channels,
		BitDepth:   pack.Output.BitDepth,
	}
	processor := audio.NewProcessor(target, pack.Output.Normalize)

	concurrency := pack.Output.Concurrency
	if concurrency < 1 {
		concurrency = defaultConcurrency
	}
	pool, err := ants.NewPool(concurrency)
	if err != nil {
		return nil, fmt.Errorf("%w: unable to create worker pool: %v", ErrBuildAborted, err)
	}
	defer pool.Release()

	res := &results{
		clips:  make(map[string]audio.Clip),
		files:  make(map[string][]byte),
		failed: make(map[string]string),
	}

	// Synthesizing.
	report.State = StateSynthesizing
	o.synthesizeAll(ctx, pool, pack, model, target, res)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Converting.
	report.State = StateConverting
	o.convertAll(ctx, pool, pack, model, target, processor, res)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Writing and finalizing are skipped entirely in dry-run mode; the
	// report still reflects every failure the earlier stages surfaced.
	if !pack.Output.DryRun {
		report.State = StateWriting
		root := filepath.Join(o.outDir, pack.Packname)
		o.writeAll(pack, root, res, report)

		report.State = StateFinalizing
		report.OutputPath = root
		if pack.Output.Checksum {
			sum, err := writeChecksumManifest(root)
			if err != nil {
				report.FinalizeErrors = append(report.FinalizeErrors, fmt.Sprintf("checksum manifest: %v", err))
			} else {
				report.Checksum = sum
			}
		}
		if pack.Output.Zip {
			zipPath, err := archivePack(root)
			if err != nil {
				report.FinalizeErrors = append(report.FinalizeErrors, fmt.Sprintf("archive: %v", err))
			} else {
				report.ArchivePath = zipPath
			}
		}
	}

	// Aggregate.
	for _, ph := range pack.Phrases {
		if _, bad := res.failed[ph.ID]; bad {
			continue
		}
		report.Succeeded = append(report.Succeeded, ph.ID)
	}
	sort.Strings(report.Succeeded)
	for id, reason := range res.failed {
		report.Failed[id] = reason
	}
	report.CacheHits = res.cacheHits
	report.Elapsed = time.Since(start)

	if len(report.Failed) == 0 && len(report.FinalizeErrors) == 0 {
		report.State = StateCompleted
	} else {
		report.State = StateCompletedWithFailures
	}
	log.Info("build finished",
		"run", report.RunID,
		"state", report.State.String(),
		"succeeded", len(report.Succeeded),
		"failed", len(report.Failed),
		"elapsed", report.Elapsed)
	return report, nil
}

// resolve validates the pack and matches its voice selection against the
// provider catalog. Every error here is configuration-level.
func (o *Orchestrator) resolve(ctx context.Context, pack *voicepack.Pack) (voice.Model, error) {
	if err := pack.Validate(); err != nil {
		return voice.Model{}, fmt.Errorf("%w: %v", ErrBuildAborted, err)
	}
	selection, err := pack.Voice.Normalize()
	if err != nil {
		return voice.Model{}, fmt.Errorf("%w: %v", ErrBuildAborted, err)
	}
	if selection.Provider != o.provider.ID() {
		return voice.Model{}, fmt.Errorf("%w: pack selects provider %q but build uses %q",
			ErrBuildAborted, selection.Provider, o.provider.ID())
	}

	catalog, err := o.provider.ListVoices(ctx)
	if err != nil {
		return voice.Model{}, fmt.Errorf("%w: unable to list voices: %v", ErrBuildAborted, err)
	}
	for _, v := range catalog {
		if strings.EqualFold(v.Voice, selection.Voice) {
			resolved := v
			// Pack-level options (engine variant, speaking rate)
			// override catalog defaults.
			if len(selection.Options) > 0 {
				merged := make(map[string]string, len(v.Options)+len(selection.Options))
				for k, val := range v.Options {
					merged[k] = val
				}
				for k, val := range selection.Options {
					merged[k] = val
				}
				resolved.Options = merged
			}
			if selection.Language != "" {
				resolved.Language = selection.Language
			}
			return resolved, nil
		}
	}
	return voice.Model{}, fmt.Errorf("%w: voice %q not found in %s catalog (%d voices)",
		ErrBuildAborted, selection.Voice, o.provider.ID(), len(catalog))
}

// synthesizeAll fans per-phrase synthesis out across the pool. Cache hits
// skip synthesis and conversion entirely; their canonical bytes go straight
// to the files map.
func (o *Orchestrator) synthesizeAll(ctx context.Context, pool *ants.Pool, pack *voicepack.Pack,
	model voice.Model, target audio.Encoding, res *results,
) {
	deterministic := o.provider.Capabilities().Deterministic
	var wg sync.WaitGroup

	for i := range pack.Phrases {
		ph := pack.Phrases[i]
		wg.Add(1)
		err := pool.Submit(func() {
			defer wg.Done()
			if err := ctx.Err(); err != nil {
				res.fail(ph.ID, "build cancelled")
				return
			}

			var key cache.Key
			if o.cache != nil && deterministic {
				key = cache.Fingerprint(o.provider.ID(), model.Voice, string(ph.Markup), ph.Text,
					target.SampleRate, target.Channels, target.BitDepth, pack.Output.Normalize)
				if blob, ok := o.cache.Get(key); ok {
					res.mu.Lock()
					res.files[ph.ID] = blob
					res.cacheHits++
					res.mu.Unlock()
					return
				}
			}

			clip, err := withRetry(ctx, o.retry, func(ctx context.Context) (audio.Clip, error) {
				return o.provider.Synthesize(ctx, ph, model)
			})
			if err != nil {
				res.fail(ph.ID, err.Error())
				return
			}
			res.mu.Lock()
			res.clips[ph.ID] = clip
			res.mu.Unlock()
		})
		if err != nil {
			wg.Done()
			res.fail(ph.ID, fmt.Sprintf("worker pool: %v", err))
		}
	}
	wg.Wait()
}

// convertAll runs every successful synthesis result through the audio
// processor and encodes the canonical WAV bytes. Successful conversions of
// deterministic providers are stored back into the cache.
func (o *Orchestrator) convertAll(ctx context.Context, pool *ants.Pool, pack *voicepack.Pack,
	model voice.Model, target audio.Encoding, processor *audio.Processor, res *results,
) {
	deterministic := o.provider.Capabilities().Deterministic
	var wg sync.WaitGroup

	for i := range pack.Phrases {
		ph := pack.Phrases[i]
		res.mu.Lock()
		clip, ok := res.clips[ph.ID]
		res.mu.Unlock()
		if !ok {
			continue
		}

		wg.Add(1)
		err := pool.Submit(func() {
			defer wg.Done()
			if err := ctx.Err(); err != nil {
				res.fail(ph.ID, "build cancelled")
				return
			}

			converted, err := processor.Process(clip)
			if err != nil {
				res.fail(ph.ID, err.Error())
				return
			}
			wav, err := audio.EncodeWAV(converted)
			if err != nil {
				res.fail(ph.ID, err.Error())
				return
			}

			res.mu.Lock()
			res.files[ph.ID] = wav
			res.mu.Unlock()

			if o.cache != nil && deterministic {
				key := cache.Fingerprint(o.provider.ID(), model.Voice, string(ph.Markup), ph.Text,
					target.SampleRate, target.Channels, target.BitDepth, pack.Output.Normalize)
				if err := o.cache.Put(key, wav); err != nil {
					// Best effort; a failed put only costs a
					// future synthesis.
					log.Debug("cache put failed", "phrase", ph.ID, "err", err)
				}
			}
		})
		if err != nil {
			wg.Done()
			res.fail(ph.ID, fmt.Sprintf("worker pool: %v", err))
		}
	}
	wg.Wait()
}

// writeAll writes one canonical file per converted phrase into the firmware
// layout. I/O errors are recorded per phrase; the rest of the batch keeps
// going.
func (o *Orchestrator) writeAll(pack *voicepack.Pack, root string, res *results, report *Report) {
	for _, ph := range pack.Phrases {
		data, ok := res.files[ph.ID]
		if !ok {
			continue
		}
		path := filepath.Join(root, filepath.FromSlash(ph.SoundPath()))
		if err := writeFileAtomic(path, data); err != nil {
			res.fail(ph.ID, fmt.Sprintf("write: %v", err))
			continue
		}
		report.BytesWritten += int64(len(data))
	}
}
