package provider

import (
	"errors"
	"fmt"

	"github.com/openvoicepacks/ovp/internal/voicepack"
)

// Common provider errors.
var (
	// ErrUnavailable indicates the backend cannot be reached or refused
	// authentication. Transient by nature, so the orchestrator retries it.
	ErrUnavailable = errors.New("provider unavailable")

	// ErrThrottled indicates the backend rejected a request for rate or
	// quota reasons. Retryable with backoff.
	ErrThrottled = errors.New("provider throttled request")

	// ErrNoVoices indicates a voice catalog came up empty, e.g. a local
	// provider whose install directory holds no models.
	ErrNoVoices = errors.New("no voices available")

	// ErrUnknownProvider indicates a pack referenced a provider id that
	// is not registered.
	ErrUnknownProvider = errors.New("unknown provider")
)

// UnsupportedMarkupError reports a phrase whose markup kind is outside the
// provider's capability set. Recorded per phrase, never retried.
type UnsupportedMarkupError struct {
	Provider string
	Markup   voicepack.Markup
}

func (e *UnsupportedMarkupError) Error() string {
	return fmt.Sprintf("provider %q does not accept %s input", e.Provider, e.Markup)
}

// Retryable reports whether the orchestrator should retry a failed
// synthesis call. Throttling and availability problems are transient;
// markup and audio problems are not.
func Retryable(err error) bool {
	return errors.Is(err, ErrThrottled) || errors.Is(err, ErrUnavailable)
}
