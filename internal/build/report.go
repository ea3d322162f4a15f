package build

import (
	"sort"
	"time"
)

// State tracks a build invocation through its pipeline stages.
type State int

const (
	// StatePending is the initial state before any work starts.
	StatePending State = iota

	// StateResolving validates the pack and resolves the voice selection.
	StateResolving

	// StateSynthesizing dispatches per-phrase synthesis to the provider.
	StateSynthesizing

	// StateConverting runs provider output through the audio processor.
	StateConverting

	// StateWriting writes canonical files into the pack layout.
	StateWriting

	// StateFinalizing computes checksums and archives the pack.
	StateFinalizing

	// StateCompleted is terminal: every phrase produced a file.
	StateCompleted

	// StateCompletedWithFailures is terminal: the build finished but one
	// or more phrases (or a finalize step) failed.
	StateCompletedWithFailures
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateResolving:
		return "resolving"
	case StateSynthesizing:
		return "synthesizing"
	case StateConverting:
		return "converting"
	case StateWriting:
		return "writing"
	case StateFinalizing:
		return "finalizing"
	case StateCompleted:
		return "completed"
	case StateCompletedWithFailures:
		return "completed with failures"
	default:
		return "unknown"
	}
}

// Report is the aggregate outcome of one build invocation, returned to the
// CLI layer. Immutable once returned; failure listings are sorted by phrase
// id so output is stable regardless of completion order.
type Report struct {
	RunID    string
	Pack     string
	Voice    string
	Provider string
	State    State

	// Succeeded lists phrase ids that produced output (or would have, in
	// dry-run mode), sorted.
	Succeeded []string

	// Failed maps phrase ids to failure reasons.
	Failed map[string]string

	// FinalizeErrors lists checksum/archive stage problems that did not
	// abort the build.
	FinalizeErrors []string

	// OutputPath is the pack directory; empty in dry-run mode.
	OutputPath string

	// ArchivePath is the zip file, when archiving was requested.
	ArchivePath string

	// Checksum is the SHA-256 of the checksum manifest, when checksums
	// were requested: a single stable digest for the whole pack.
	Checksum string

	// CacheHits counts phrases served from the synthesis cache.
	CacheHits int

	// BytesWritten totals the size of all written sound files.
	BytesWritten int64

	Elapsed time.Duration
}

// FailedIDs returns the failed phrase ids, sorted.
func (r *Report) FailedIDs() []string {
	ids := make([]string, 0, len(r.Failed))
	for id := range r.Failed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// OK reports whether every phrase succeeded and finalization was clean.
func (r *Report) OK() bool {
	return r.State == StateCompleted
}
