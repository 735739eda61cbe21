package audio

import "math"

// BiQuadFilter is a second-order IIR section in direct form I. Coefficients
// are normalised so that a0 is 1.
type BiQuadFilter struct {
	a1, a2     float64
	b0, b1, b2 float64
	x1, x2     float64
	y1, y2     float64
}

// CustomBiQuad builds a filter from raw coefficients
func CustomBiQuad(a0, a1, a2, b0, b1, b2 float64) BiQuadFilter {
	return BiQuadFilter{
		a1: a1 / a0,
		a2: a2 / a0,
		b0: b0 / a0,
		b1: b1 / a0,
		b2: b2 / a0,
	}
}

type cookbook struct {
	sinW, cosW, alpha float64
}

func newCookbook(sampleRate, freq, q float64) cookbook {
	w := 2 * math.Pi * freq / sampleRate
	return cookbook{
		sinW:  math.Sin(w),
		cosW:  math.Cos(w),
		alpha: math.Sin(w) / (2 * q),
	}
}

// LowPassFilter returns an RBJ low-pass section
func LowPassFilter(sampleRate, cutoff, q float64) BiQuadFilter {
	c := newCookbook(sampleRate, cutoff, q)
	return CustomBiQuad(
		1+c.alpha, -2*c.cosW, 1-c.alpha,
		(1-c.cosW)/2, 1-c.cosW, (1-c.cosW)/2,
	)
}

// HighPassFilter returns an RBJ high-pass section
func HighPassFilter(sampleRate, cutoff, q float64) BiQuadFilter {
	c := newCookbook(sampleRate, cutoff, q)
	return CustomBiQuad(
		1+c.alpha, -2*c.cosW, 1-c.alpha,
		(1+c.cosW)/2, -(1 + c.cosW), (1+c.cosW)/2,
	)
}

// PeakingEQ returns an RBJ peaking section with gainDb at centre
func PeakingEQ(sampleRate, centre, q, gainDb float64) BiQuadFilter {
	c := newCookbook(sampleRate, centre, q)
	a := math.Pow(10, gainDb/40)
	return CustomBiQuad(
		1+c.alpha/a, -2*c.cosW, 1-c.alpha/a,
		1+c.alpha*a, -2*c.cosW, 1-c.alpha*a,
	)
}

// LowShelfFilter returns an RBJ low shelf; shelfSlope 1 is the steepest
// slope that stays monotonic.
func LowShelfFilter(sampleRate, cutoff, shelfSlope, gainDb float64) BiQuadFilter {
	w := 2 * math.Pi * cutoff / sampleRate
	cosW, sinW := math.Cos(w), math.Sin(w)
	a := math.Pow(10, gainDb/40)
	alpha := sinW / 2 * math.Sqrt((a+1/a)*(1/shelfSlope-1)+2)
	sqrtA2 := 2 * math.Sqrt(a) * alpha
	return CustomBiQuad(
		(a+1)+(a-1)*cosW+sqrtA2,
		-2*((a-1)+(a+1)*cosW),
		(a+1)+(a-1)*cosW-sqrtA2,
		a*((a+1)-(a-1)*cosW+sqrtA2),
		2*a*((a-1)-(a+1)*cosW),
		a*((a+1)-(a-1)*cosW-sqrtA2),
	)
}

// HighShelfFilter returns an RBJ high shelf
func HighShelfFilter(sampleRate, cutoff, shelfSlope, gainDb float64) BiQuadFilter {
	w := 2 * math.Pi * cutoff / sampleRate
	cosW, sinW := math.Cos(w), math.Sin(w)
	a := math.Pow(10, gainDb/40)
	alpha := sinW / 2 * math.Sqrt((a+1/a)*(1/shelfSlope-1)+2)
	sqrtA2 := 2 * math.Sqrt(a) * alpha
	return CustomBiQuad(
		(a+1)-(a-1)*cosW+sqrtA2,
		2*((a-1)-(a+1)*cosW),
		(a+1)-(a-1)*cosW-sqrtA2,
		a*((a+1)+(a-1)*cosW+sqrtA2),
		-2*a*((a-1)+(a+1)*cosW),
		a*((a+1)+(a-1)*cosW-sqrtA2),
	)
}

// TransformOne filters a single sample
func (f *BiQuadFilter) TransformOne(in float64) float64 {
	out := f.b0*in + f.b1*f.x1 + f.b2*f.x2 - f.a1*f.y1 - f.a2*f.y2
	f.x2, f.x1 = f.x1, in
	f.y2, f.y1 = f.y1, out
	return out
}

// Reset clears the delay line
func (f *BiQuadFilter) Reset() {
	f.x1, f.x2, f.y1, f.y2 = 0, 0, 0, 0
}
