package audio

import "math"

// dcOffset keeps the envelope away from denormals
const dcOffset = 1.0e-25

// envelopeDetector is a one-pole attack/release follower
type envelopeDetector struct {
	attackCoef  float64
	releaseCoef float64
}

func timeCoef(ms float64) float64 {
	return math.Exp(-1000.0 / (ms * SampleRateHz))
}

func newEnvelopeDetector(attackMs, releaseMs float64) envelopeDetector {
	return envelopeDetector{
		attackCoef:  timeCoef(attackMs),
		releaseCoef: timeCoef(releaseMs),
	}
}

func (e envelopeDetector) run(in float64, state *float64) {
	coef := e.releaseCoef
	if in > *state {
		coef = e.attackCoef
	}
	*state = in + coef*(*state-in)
}

// Compressor is a feed-forward RMS-less peak compressor
type Compressor struct {
	threshDb float64
	ratio    float64
	env      envelopeDetector
	envDb    float64
}

// NewCompressor creates a compressor. Levels above threshDb are reduced by
// ratio:1.
func NewCompressor(threshDb, ratio, attackMs, releaseMs float64) *Compressor {
	return &Compressor{
		threshDb: threshDb,
		ratio:    ratio,
		env:      newEnvelopeDetector(attackMs, releaseMs),
		envDb:    dcOffset,
	}
}

// Process returns the gain-reduced sample
func (c *Compressor) Process(in float64) float64 {
	level := math.Abs(in)
	overDb := LinearToDb(level+dcOffset) - c.threshDb
	if overDb < 0 {
		overDb = 0
	}
	overDb += dcOffset
	c.env.run(overDb, &c.envDb)
	overDb = c.envDb - dcOffset
	gr := overDb * (1/c.ratio - 1)
	return in * DbToLinear(gr)
}

// Reset clears the envelope
func (c *Compressor) Reset() {
	c.envDb = dcOffset
}

// Limiter is a peak limiter with an instant attack envelope and
// exponential release.
type Limiter struct {
	thresh float64
	env    envelopeDetector
	state  float64
}

// NewLimiter creates a limiter. threshDb is relative to full scale.
func NewLimiter(threshDb, attackMs, releaseMs float64) *Limiter {
	return &Limiter{
		thresh: DbToLinear(threshDb),
		env:    newEnvelopeDetector(attackMs, releaseMs),
		state:  dcOffset,
	}
}

// Process returns the limited sample
func (l *Limiter) Process(in float64) float64 {
	l.env.run(math.Abs(in)+dcOffset, &l.state)
	if l.state <= l.thresh {
		return in
	}
	return in * l.thresh / l.state
}

// SimpleCompressor is the per-radio output compressor run on received voice
type SimpleCompressor struct {
	comp     *Compressor
	makeupDb float64
}

// Default per-radio compressor settings
const (
	SimpleCompressorThreshDb  = -16.0
	SimpleCompressorRatio     = 4.0
	SimpleCompressorAttackMs  = 5.0
	SimpleCompressorReleaseMs = 50.0
	SimpleCompressorMakeupDb  = 6.0
)

// NewSimpleCompressor returns a compressor with the default settings
func NewSimpleCompressor() *SimpleCompressor {
	return &SimpleCompressor{
		comp: NewCompressor(SimpleCompressorThreshDb, SimpleCompressorRatio,
			SimpleCompressorAttackMs, SimpleCompressorReleaseMs),
		makeupDb: SimpleCompressorMakeupDb,
	}
}

// TransformFrame compresses in into out; in and out may alias
func (s *SimpleCompressor) TransformFrame(out, in *Frame) {
	makeup := DbToLinear(s.makeupDb)
	for i, v := range in {
		out[i] = float32(s.comp.Process(float64(v)) * makeup)
	}
}

// Reset clears the envelope
func (s *SimpleCompressor) Reset() {
	s.comp.Reset()
}
