// Package audio converts raw provider output into the canonical encoding the
// target firmware expects and handles WAV container encoding/decoding.
package audio

import (
	"fmt"
	"time"
)

// Encoding describes the PCM parameters of a clip. Providers return audio in
// their own native encoding; the processor converts to the firmware target.
type Encoding struct {
	SampleRate int
	Channels   int
	BitDepth   int
}

// BytesPerFrame returns the number of bytes for one sample across all
// channels.
func (e Encoding) BytesPerFrame() int {
	return e.BitDepth / 8 * e.Channels
}

// Validate checks that the encoding parameters are usable. Only 8 and
// 16-bit integer PCM are handled by the pipeline.
func (e Encoding) Validate() error {
	if e.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %d", e.SampleRate)
	}
	if e.Channels <= 0 {
		return fmt.Errorf("invalid channel count %d", e.Channels)
	}
	if e.BitDepth != 8 && e.BitDepth != 16 {
		return fmt.Errorf("unsupported bit depth %d", e.BitDepth)
	}
	return nil
}

// Clip is raw PCM audio plus the encoding it is in. Providers produce clips;
// the processor consumes and re-emits them in the target encoding.
type Clip struct {
	Data     []byte
	Encoding Encoding
}

// Duration returns the play time of the clip.
func (c Clip) Duration() time.Duration {
	bpf := c.Encoding.BytesPerFrame()
	if bpf == 0 || c.Encoding.SampleRate == 0 {
		return 0
	}
	frames := len(c.Data) / bpf
	return time.Duration(frames) * time.Second / time.Duration(c.Encoding.SampleRate)
}

// validate checks that the clip's data is aligned to whole frames.
func (c Clip) validate() error {
	if err := c.Encoding.Validate(); err != nil {
		return err
	}
	if len(c.Data) == 0 {
		return fmt.Errorf("empty audio data")
	}
	if len(c.Data)%c.Encoding.BytesPerFrame() != 0 {
		return fmt.Errorf("audio data length %d not aligned to %d-byte frames",
			len(c.Data), c.Encoding.BytesPerFrame())
	}
	return nil
}

// DecodeError reports malformed or undecodable audio. It is attributed to
// the originating phrase by the orchestrator and never aborts the batch.
type DecodeError struct {
	Reason string
	Cause  error
}

func (e *DecodeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("audio decode failed: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("audio decode failed: %s", e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Cause }
