package audio

import (
	"math"
	"math/rand/v2"
	"testing"
)

// steadyPeak runs a sine at freq through fn and returns the output peak
// over the last quarter second.
func steadyPeak(freq float64, fn func(float64) float64) float64 {
	const n = SampleRateHz
	var peak float64
	for i := 0; i < n; i++ {
		in := math.Sin(2 * math.Pi * freq * float64(i) / SampleRateHz)
		out := fn(in)
		if i > n*3/4 {
			peak = math.Max(peak, math.Abs(out))
		}
	}
	return peak
}

func TestBiQuadResponse(t *testing.T) {
	tests := []struct {
		name    string
		filter  BiQuadFilter
		freq    float64
		wantMin float64
		wantMax float64
	}{
		{"lowpass passband", LowPassFilter(SampleRateHz, 3000, 0.707), 100, 0.98, 1.02},
		{"lowpass stopband", LowPassFilter(SampleRateHz, 1000, 0.707), 12000, 0, 0.05},
		{"highpass stopband", HighPassFilter(SampleRateHz, 1000, 0.707), 50, 0, 0.05},
		{"highpass passband", HighPassFilter(SampleRateHz, 300, 0.707), 5997, 0.98, 1.02},
		{"peaking centre", PeakingEQ(SampleRateHz, 1000, 1.0, 6.0), 1000, 1.95, 2.05},
		{"peaking far", PeakingEQ(SampleRateHz, 1000, 1.0, 6.0), 14997, 0.95, 1.05},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := tt.filter
			got := steadyPeak(tt.freq, f.TransformOne)
			if got < tt.wantMin || got > tt.wantMax {
				t.Errorf("Gain mismatch: got %.4f, want [%.2f, %.2f]", got, tt.wantMin, tt.wantMax)
			}
		})
	}
}

func TestShelfFilters(t *testing.T) {
	low := LowShelfFilter(SampleRateHz, 1000, 1.0, 6.0)
	if got := steadyPeak(50, low.TransformOne); got < 1.9 || got > 2.1 {
		t.Errorf("Low shelf boost mismatch: got %.4f, want ~2", got)
	}
	high := HighShelfFilter(SampleRateHz, 1000, 1.0, 6.0)
	if got := steadyPeak(50, high.TransformOne); got < 0.95 || got > 1.05 {
		t.Errorf("High shelf below cutoff: got %.4f, want ~1", got)
	}
}

func TestCustomBiQuad(t *testing.T) {
	f := CustomBiQuad(1.0, 0.0, 0.0, -0.01, 0.0, 0.0)
	if got := f.TransformOne(1); math.Abs(got+0.01) > 1e-12 {
		t.Errorf("Custom gain mismatch: got %v, want -0.01", got)
	}

	// a0 normalisation
	g := CustomBiQuad(2.0, 0.0, 0.0, 1.0, 0.0, 0.0)
	if got := g.TransformOne(1); got != 0.5 {
		t.Errorf("Normalised gain mismatch: got %v, want 0.5", got)
	}
	g.Reset()
	if g.x1 != 0 || g.y1 != 0 {
		t.Error("Reset left delay line populated")
	}
}

func TestParseHardware(t *testing.T) {
	tests := []struct {
		in      string
		want    Hardware
		wantErr bool
	}{
		{"", SchmidED137B, false},
		{"schmid_ed137b", SchmidED137B, false},
		{"Garex_220", Garex220, false},
		{"rockwell_collins_2100", RockwellCollins2100, false},
		{"motorola", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseHardware(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseHardware(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Hardware mismatch: got %v, want %v", got, tt.want)
			}
		})
	}
	if RockwellCollins2100.String() != "rockwell_collins_2100" {
		t.Errorf("String mismatch: got %s", RockwellCollins2100.String())
	}
}

func TestVHFFilterPresets(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for _, hw := range []Hardware{SchmidED137B, Garex220, RockwellCollins2100} {
		t.Run(hw.String(), func(t *testing.T) {
			v := NewVHFFilter(hw)
			if v.Hardware() != hw {
				t.Errorf("Hardware mismatch: got %v, want %v", v.Hardware(), hw)
			}

			var silent Frame
			v.TransformFrame(&silent, &silent)
			if Peak(&silent) > 1e-6 {
				t.Errorf("Silence produced output peak %v", Peak(&silent))
			}

			var f Frame
			for n := 0; n < 10; n++ {
				for i := range f {
					f[i] = float32(rng.Float64()*0.5 - 0.25)
				}
				v.TransformFrame(&f, &f)
				for _, s := range f {
					if math.IsNaN(float64(s)) || math.IsInf(float64(s), 0) {
						t.Fatalf("Non-finite sample in frame %d", n)
					}
				}
			}
			v.Reset()
		})
	}
}

func TestCompressorReducesLoudSignal(t *testing.T) {
	c := NewCompressor(-16, 4, 5, 50)
	var out float64
	for i := 0; i < SampleRateHz; i++ {
		out = c.Process(0.9)
	}
	if out >= 0.5 {
		t.Errorf("Loud signal not compressed: got %v", out)
	}

	c.Reset()
	quiet := NewCompressor(-16, 4, 5, 50)
	for i := 0; i < SampleRateHz; i++ {
		out = quiet.Process(0.01)
	}
	if math.Abs(out-0.01) > 1e-9 {
		t.Errorf("Quiet signal altered: got %v, want 0.01", out)
	}
}

func TestLimiter(t *testing.T) {
	l := NewLimiter(0, 0.8, 40)
	var out float64
	for i := 0; i < SampleRateHz; i++ {
		out = l.Process(2.0)
	}
	if math.Abs(out-1) > 0.01 {
		t.Errorf("Limited level mismatch: got %v, want ~1", out)
	}
	if got := NewLimiter(0, 0.8, 40).Process(0.5); got != 0.5 {
		t.Errorf("Signal under threshold altered: got %v, want 0.5", got)
	}
}

func TestSimpleCompressorSilence(t *testing.T) {
	s := NewSimpleCompressor()
	var f Frame
	s.TransformFrame(&f, &f)
	if Peak(&f) != 0 {
		t.Errorf("Silence produced output peak %v", Peak(&f))
	}
	s.Reset()
}

func BenchmarkVHFFilter(b *testing.B) {
	v := NewVHFFilter(SchmidED137B)
	var f Frame
	src := NewSineToneSource(1000)
	src.AudioFrame(&f)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		v.TransformFrame(&f, &f)
	}
}
