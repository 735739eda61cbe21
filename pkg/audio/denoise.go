package audio

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Noise suppressor tuning
const (
	noiseSmoothing   = 0.95 // Per-frame weight of the existing noise estimate
	noiseRiseFactor  = 1.01 // Growth of the estimate when a bin looks like speech
	speechThreshold  = 3.0  // Bins above this multiple of the estimate are not noise
	oversubtraction  = 2.0
	suppressionFloor = 0.1 // Minimum gain applied to any bin
)

// NoiseSuppressor is a spectral gate applied to microphone frames before
// they are encoded. It learns a per-bin noise floor from the signal and
// attenuates bins that sit close to it.
type NoiseSuppressor struct {
	fft    *fourier.FFT
	in     []float64
	out    []float64
	coeffs []complex128
	noise  []float64
	primed bool
}

// NewNoiseSuppressor creates a suppressor for FrameSizeSamples frames
func NewNoiseSuppressor() *NoiseSuppressor {
	return &NoiseSuppressor{
		fft:   fourier.NewFFT(FrameSizeSamples),
		in:    make([]float64, FrameSizeSamples),
		out:   make([]float64, FrameSizeSamples),
		noise: make([]float64, FrameSizeSamples/2+1),
	}
}

// TransformFrame writes the suppressed version of in to out; in and out
// may alias.
func (n *NoiseSuppressor) TransformFrame(out, in *Frame) {
	for i, s := range in {
		n.in[i] = float64(s)
	}
	n.coeffs = n.fft.Coefficients(n.coeffs, n.in)

	for k, c := range n.coeffs {
		mag := cmplx.Abs(c)
		if !n.primed {
			n.noise[k] = mag
		} else if mag < speechThreshold*n.noise[k] {
			n.noise[k] = noiseSmoothing*n.noise[k] + (1-noiseSmoothing)*mag
		} else {
			n.noise[k] *= noiseRiseFactor
		}

		gain := 1.0
		if mag > 0 {
			gain = math.Max(suppressionFloor, 1-oversubtraction*n.noise[k]/mag)
		}
		n.coeffs[k] = c * complex(gain, 0)
	}
	n.primed = true

	n.out = n.fft.Sequence(n.out, n.coeffs)
	scale := 1.0 / float64(FrameSizeSamples)
	for i, v := range n.out {
		out[i] = float32(v * scale)
	}
}

// Reset forgets the learned noise floor
func (n *NoiseSuppressor) Reset() {
	for i := range n.noise {
		n.noise[i] = 0
	}
	n.primed = false
}
