// Package audio provides audio processing utilities.
//
// resample.go implements a stateful linear-interpolation resampler between
// 8kHz and 16kHz mono, 16-bit signed little-endian PCM. State (fractional
// phase plus the last input sample) is carried across calls so that a
// stream of short frames (e.g. ~20ms WebSocket frames) resamples as if it
// were one continuous signal, with no discontinuity at frame boundaries.
package audio

import "fmt"

// LinearResampler converts 16-bit mono PCM between two fixed sample rates
// using linear interpolation. A single instance is meant to be used for the
// lifetime of one stream in one direction; create a fresh instance per
// stream per direction and discard it when the stream ends.
type LinearResampler struct {
	inRate  int
	outRate int

	// phase is the fractional position (in input-sample units) of the next
	// output sample, relative to lastSample. It persists across Resample
	// calls so consecutive frames interpolate continuously.
	phase float64

	// lastSample is the final input sample from the previous call, used as
	// the left-hand side of interpolation for the first output sample of
	// the next call. hasLast is false only before the first sample has ever
	// been seen.
	lastSample int16
	hasLast    bool
}

// NewLinearResampler creates a resampler converting inRate to outRate.
// Both rates must be positive. A fresh resampler has no carried state.
func NewLinearResampler(inRate, outRate int) (*LinearResampler, error) {
	if inRate <= 0 {
		return nil, fmt.Errorf("invalid input sample rate: %d", inRate)
	}
	if outRate <= 0 {
		return nil, fmt.Errorf("invalid output sample rate: %d", outRate)
	}
	return &LinearResampler{inRate: inRate, outRate: outRate}, nil
}

// Reset discards any carried phase/sample state, as if this were a brand
// new stream. Not normally needed in steady-state operation; provided for
// cases where a stream is reused across logically distinct calls.
func (r *LinearResampler) Reset() {
	r.phase = 0
	r.lastSample = 0
	r.hasLast = false
}

// Resample converts a buffer of 16-bit little-endian mono PCM from inRate
// to outRate, consuming and updating the resampler's carried state. The
// input length must be a multiple of 2 bytes (one sample).
func (r *LinearResampler) Resample(pcm []byte) ([]byte, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("pcm buffer length %d is not a multiple of 2", len(pcm))
	}
	n := len(pcm) / 2
	if n == 0 {
		return nil, nil
	}

	in := make([]int16, n)
	for i := 0; i < n; i++ {
		in[i] = int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8)
	}

	step := float64(r.inRate) / float64(r.outRate)

	var out []int16
	pos := r.phase
	if r.hasLast {
		// phase is relative to lastSample, which sits at index -1 of this block.
		pos--
	}

	prev := r.lastSample
	if !r.hasLast {
		if n > 0 {
			prev = in[0]
		}
	}

	for {
		var i0 int
		var frac float64
		if pos < 0 {
			// pos in [-1, 0): interpolate between carried lastSample (idx -1) and in[0]
			i0 = -1
			frac = pos + 1
		} else {
			i0 = int(pos)
			frac = pos - float64(i0)
		}
		// The last input sample itself can be emitted (frac == 0); anything
		// past it needs the next block's first sample.
		if i0 > n-1 || (i0 == n-1 && frac > 0) {
			break
		}

		var s0, s1 int16
		if i0 == -1 {
			s0 = prev
			s1 = sampleAt(in, 0)
		} else {
			s0 = sampleAt(in, i0)
			s1 = sampleAt(in, i0+1)
		}

		interpolated := float64(s0) + frac*(float64(s1)-float64(s0))
		out = append(out, int16(interpolated))
		pos += step
	}

	// Carry state forward: phase relative to the end of this input block,
	// and the last input sample for interpolation continuity.
	r.phase = pos - float64(n-1)
	if r.phase < -1 {
		// Guards against pathological step sizes; keeps phase bounded.
		r.phase = -1
	}
	r.lastSample = in[n-1]
	r.hasLast = true

	outBytes := make([]byte, len(out)*2)
	for i, s := range out {
		outBytes[2*i] = byte(s)
		outBytes[2*i+1] = byte(s >> 8)
	}
	return outBytes, nil
}

func sampleAt(in []int16, i int) int16 {
	if i < 0 {
		return in[0]
	}
	if i >= len(in) {
		return in[len(in)-1]
	}
	return in[i]
}
