package audio

import "math"

// Processor converts provider output clips into the canonical target
// encoding: channel downmix, sample-rate conversion, bit-depth conversion,
// and optional loudness normalization. A Processor is stateless and safe for
// concurrent use.
type Processor struct {
	Target    Encoding
	Normalize bool
}

// NewProcessor returns a processor for the given target encoding.
func NewProcessor(target Encoding, normalize bool) *Processor {
	return &Processor{Target: target, Normalize: normalize}
}

// Process converts a clip to the target encoding. The input clip is not
// modified. Malformed input is reported as a DecodeError.
func (p *Processor) Process(in Clip) (Clip, error) {
	if err := p.Target.Validate(); err != nil {
		return Clip{}, err
	}
	if err := in.validate(); err != nil {
		return Clip{}, &DecodeError{Reason: "invalid source audio", Cause: err}
	}

	samples := decodeSamples(in)
	samples = downmix(samples, in.Encoding.Channels, p.Target.Channels)
	samples = resample(samples, p.Target.Channels, in.Encoding.SampleRate, p.Target.SampleRate)
	if p.Normalize {
		samples = normalizePeak(samples)
	}

	return Clip{Data: encodeSamples(samples, p.Target.BitDepth), Encoding: p.Target}, nil
}

// decodeSamples expands PCM bytes into float64 samples in [-1, 1),
// interleaved by channel.
func decodeSamples(c Clip) []float64 {
	switch c.Encoding.BitDepth {
	case 8:
		// 8-bit WAV PCM is unsigned with a 128 bias.
		out := make([]float64, len(c.Data))
		for i, b := range c.Data {
			out[i] = (float64(b) - 128) / 128
		}
		return out
	default: // 16
		n := len(c.Data) / 2
		out := make([]float64, n)
		for i := 0; i < n; i++ {
			s := int16(uint16(c.Data[2*i]) | uint16(c.Data[2*i+1])<<8)
			out[i] = float64(s) / 32768
		}
		return out
	}
}

// encodeSamples packs float64 samples back into little-endian PCM bytes,
// clamping to the representable range.
func encodeSamples(samples []float64, bitDepth int) []byte {
	switch bitDepth {
	case 8:
		out := make([]byte, len(samples))
		for i, s := range samples {
			out[i] = byte(clamp(s)*127 + 128)
		}
		return out
	default: // 16
		out := make([]byte, len(samples)*2)
		for i, s := range samples {
			v := int16(math.Round(clamp(s) * 32767))
			out[2*i] = byte(uint16(v))
			out[2*i+1] = byte(uint16(v) >> 8)
		}
		return out
	}
}

func clamp(s float64) float64 {
	if s > 1 {
		return 1
	}
	if s < -1 {
		return -1
	}
	return s
}

// downmix converts interleaved samples between channel counts. Reducing
// channels averages them; increasing duplicates the first channel.
func downmix(samples []float64, from, to int) []float64 {
	if from == to {
		return samples
	}
	frames := len(samples) / from
	out := make([]float64, frames*to)
	for f := 0; f < frames; f++ {
		var sum float64
		for ch := 0; ch < from; ch++ {
			sum += samples[f*from+ch]
		}
		avg := sum / float64(from)
		for ch := 0; ch < to; ch++ {
			out[f*to+ch] = avg
		}
	}
	return out
}

// resample performs linear-interpolation sample-rate conversion per channel.
// Linear interpolation is adequate for speech at the firmware's 16 kHz
// target; anything fancier buys nothing audible on transmitter speakers.
func resample(samples []float64, channels, from, to int) []float64 {
	if from == to || len(samples) == 0 {
		return samples
	}
	inFrames := len(samples) / channels
	outFrames := int(math.Round(float64(inFrames) * float64(to) / float64(from)))
	if outFrames < 1 {
		outFrames = 1
	}
	out := make([]float64, outFrames*channels)
	step := float64(inFrames-1) / float64(outFrames-1)
	if outFrames == 1 {
		step = 0
	}
	for f := 0; f < outFrames; f++ {
		pos := float64(f) * step
		i := int(pos)
		frac := pos - float64(i)
		j := i + 1
		if j >= inFrames {
			j = inFrames - 1
		}
		for ch := 0; ch < channels; ch++ {
			a := samples[i*channels+ch]
			b := samples[j*channels+ch]
			out[f*channels+ch] = a + (b-a)*frac
		}
	}
	return out
}
