package audio

import (
	"fmt"
	"math"
	"strings"
)

// Hardware selects the radio hardware whose receive chain is modelled
type Hardware int

const (
	SchmidED137B Hardware = iota
	Garex220
	RockwellCollins2100
)

func (h Hardware) String() string {
	switch h {
	case SchmidED137B:
		return "schmid_ed137b"
	case Garex220:
		return "garex_220"
	case RockwellCollins2100:
		return "rockwell_collins_2100"
	default:
		return fmt.Sprintf("hardware(%d)", int(h))
	}
}

// ParseHardware converts a configuration name to a Hardware value
func ParseHardware(s string) (Hardware, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "schmid_ed137b", "schmid":
		return SchmidED137B, nil
	case "garex_220", "garex":
		return Garex220, nil
	case "rockwell_collins_2100", "rockwell", "collins":
		return RockwellCollins2100, nil
	default:
		return 0, fmt.Errorf("unknown hardware %q", s)
	}
}

// VHF filter limiter and gain settings
const (
	vhfLimiterThreshDb  = 8.0
	vhfLimiterAttackMs  = 0.8
	vhfLimiterReleaseMs = 40.0
	vhfPostGainDb       = -5.5
)

// VHFFilter models the band-limited receive chain of a VHF set
type VHFFilter struct {
	hardware Hardware
	limiter  *Limiter
	filters  []BiQuadFilter
	postGain float64
}

// NewVHFFilter builds the filter chain for hw
func NewVHFFilter(hw Hardware) *VHFFilter {
	return &VHFFilter{
		hardware: hw,
		limiter:  NewLimiter(vhfLimiterThreshDb, vhfLimiterAttackMs, vhfLimiterReleaseMs),
		filters:  vhfPreset(hw),
		postGain: DbToLinear(vhfPostGainDb),
	}
}

func vhfPreset(hw Hardware) []BiQuadFilter {
	const fs = SampleRateHz
	switch hw {
	case Garex220:
		return []BiQuadFilter{
			HighPassFilter(fs, 300, 0.25),
			HighShelfFilter(fs, 400, 1.0, 8.0),
			HighShelfFilter(fs, 600, 1.0, 4.0),
			LowShelfFilter(fs, 2000, 1.0, 1.0),
			LowShelfFilter(fs, 2400, 1.0, 3.0),
			LowShelfFilter(fs, 3000, 1.0, 10.0),
			LowPassFilter(fs, 3400, 0.25),
		}
	case RockwellCollins2100:
		return []BiQuadFilter{
			CustomBiQuad(1.0, 0.0, 0.0, -0.01, 0.0, 0.0),
			CustomBiQuad(1.0, -1.7152995098277, 0.761385315196423, 0.0, 1.0, 0.753162969638192),
			CustomBiQuad(1.0, -1.71626681678914, 0.762433947105989, 1.0, -2.29278115712509, 1.000336632935775),
			CustomBiQuad(1.0, -1.79384214686345, 0.909678364879526, 1.0, -2.05042803669041, 1.05048374237779),
			CustomBiQuad(1.0, -1.79409285259567, 0.909822671281377, 1.0, -1.95188929743297, 0.951942325888074),
			CustomBiQuad(1.0, -1.9390093095185, 0.9411847259142, 1.0, -1.82547932903698, 1.09157529229851),
			CustomBiQuad(1.0, -1.94022767750807, 0.942630574503006, 1.0, -1.67241244173042, 0.916184578658119),
		}
	default:
		return []BiQuadFilter{
			HighPassFilter(fs, 310, 0.25),
			PeakingEQ(fs, 450, 0.75, 17.0),
			PeakingEQ(fs, 1450, 1.0, 25.0),
			PeakingEQ(fs, 2000, 1.0, 25.0),
			LowPassFilter(fs, 2500, 0.25),
		}
	}
}

// Hardware returns the modelled hardware
func (v *VHFFilter) Hardware() Hardware {
	return v.hardware
}

// TransformFrame filters in into out; in and out may alias
func (v *VHFFilter) TransformFrame(out, in *Frame) {
	for i, s := range in {
		x := v.limiter.Process(float64(s))
		for b := range v.filters {
			x = v.filters[b].TransformOne(x)
		}
		x *= v.postGain
		if math.IsNaN(x) || math.IsInf(x, 0) {
			x = 0
		}
		out[i] = float32(x)
	}
}

// Reset clears all filter state
func (v *VHFFilter) Reset() {
	for i := range v.filters {
		v.filters[i].Reset()
	}
	v.limiter.state = dcOffset
}
