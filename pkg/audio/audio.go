// Package audio provides the fixed-frame sample plumbing used by the radio
// stack: frame buffers and mixing, sample sources, filters, dynamics and
// the effect resources.
//
// All audio is mono 48 kHz float32 in [-1, 1], processed in 20 ms frames.
package audio

import "math"

// Audio format constants
const (
	SampleRateHz     = 48000
	FrameLengthMs    = 20
	FrameSizeSamples = SampleRateHz * FrameLengthMs / 1000 // 960 samples per frame
)

// Frame is one frame of mono samples. Mixing and effects only operate on
// whole frames, so every buffer in the pipeline is a Frame.
type Frame [FrameSizeSamples]float32

// StereoFrame is one frame of interleaved left/right samples
type StereoFrame [FrameSizeSamples * 2]float32

// SourceStatus is the result of pulling a frame from a SampleSource
type SourceStatus int

const (
	SourceOK        SourceStatus = iota // Frame filled
	SourceExhausted                     // No more audio; release the source
)

// SampleSource produces frames on demand
type SampleSource interface {
	AudioFrame(out *Frame) SourceStatus
}

// SampleSink consumes frames
type SampleSink interface {
	PutAudioFrame(in *Frame)
}

// Mix adds gain*src into dst
func Mix(dst, src *Frame, gain float32) {
	for i := range dst {
		dst[i] += gain * src[i]
	}
}

// Clip hard-limits every sample to [-1, 1]
func Clip(f *Frame) {
	for i, s := range f {
		if s > 1 {
			f[i] = 1
		} else if s < -1 {
			f[i] = -1
		}
	}
}

// Scale multiplies every sample by gain and clips the result
func Scale(f *Frame, gain float32) {
	for i := range f {
		f[i] *= gain
	}
	Clip(f)
}

// Peak returns the largest absolute sample value
func Peak(f *Frame) float32 {
	var peak float32
	for _, s := range f {
		if s < 0 {
			s = -s
		}
		if s > peak {
			peak = s
		}
	}
	return peak
}

// Interleave writes left and right into a stereo frame
func Interleave(left, right *Frame, out *StereoFrame) {
	for i := range left {
		out[2*i] = left[i]
		out[2*i+1] = right[i]
	}
}

// IsSilent reports whether every sample is below threshold in magnitude
func IsSilent(f *Frame, threshold float32) bool {
	return Peak(f) < threshold
}

// DbToLinear converts a decibel gain to a linear factor
func DbToLinear(db float64) float64 {
	return math.Pow(10, db/20)
}

// LinearToDb converts a linear amplitude to decibels
func LinearToDb(v float64) float64 {
	return 20 * math.Log10(v)
}
