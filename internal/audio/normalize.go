package audio

import "math"

// normalizeTarget is the peak level clips are normalized to, about -3 dBFS.
// Leaving headroom avoids clipping on transmitters that apply their own gain.
const normalizeTarget = 0.7079

// normalizePeak scales samples so the loudest one sits at normalizeTarget.
// Peak normalization is idempotent: re-normalizing an already-normalized
// clip changes levels only by floating point rounding, well under 0.1 dB.
// Silent clips are returned unchanged.
func normalizePeak(samples []float64) []float64 {
	var peak float64
	for _, s := range samples {
		if a := math.Abs(s); a > peak {
			peak = a
		}
	}
	if peak == 0 {
		return samples
	}
	gain := normalizeTarget / peak
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = s * gain
	}
	return out
}
