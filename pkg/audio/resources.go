package audio

import (
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
)

// ErrMissingResource is returned when a bundle lacks one of the effect
// recordings.
var ErrMissingResource = errors.New("audio: missing effect resource")

// EffectResources holds the shared recordings mixed into radio output
type EffectResources struct {
	Click        SampleBuffer `msgpack:"click"`
	Crackle      SampleBuffer `msgpack:"crackle"`
	WhiteNoise   SampleBuffer `msgpack:"white_noise"`
	HFWhiteNoise SampleBuffer `msgpack:"hf_white_noise"`
	AcBus        SampleBuffer `msgpack:"ac_bus"`
}

// Validate checks that every recording is present
func (r *EffectResources) Validate() error {
	for name, buf := range map[string]SampleBuffer{
		"click":          r.Click,
		"crackle":        r.Crackle,
		"white_noise":    r.WhiteNoise,
		"hf_white_noise": r.HFWhiteNoise,
		"ac_bus":         r.AcBus,
	} {
		if len(buf) == 0 {
			return fmt.Errorf("%w: %s", ErrMissingResource, name)
		}
	}
	return nil
}

// LoadEffectResources reads a bundle in the standard format (msgpack +
// zstd compression)
func LoadEffectResources(r io.Reader) (*EffectResources, error) {
	zr, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(0))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd reader: %w", err)
	}
	defer zr.Close()

	var res EffectResources
	if err := msgpack.NewDecoder(zr).Decode(&res); err != nil {
		return nil, fmt.Errorf("failed to decode effect resources: %w", err)
	}
	if err := res.Validate(); err != nil {
		return nil, err
	}
	return &res, nil
}

// LoadEffectResourcesFile opens path and loads the bundle from it
func LoadEffectResourcesFile(path string) (*EffectResources, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open effect resources: %w", err)
	}
	defer f.Close()
	return LoadEffectResources(f)
}

// Save writes the bundle in the standard format
func (r *EffectResources) Save(w io.Writer) error {
	zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
	if err != nil {
		return fmt.Errorf("failed to create zstd writer: %w", err)
	}
	defer zw.Close()

	if err := msgpack.NewEncoder(zw).Encode(r); err != nil {
		return fmt.Errorf("failed to encode effect resources: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to close zstd writer: %w", err)
	}
	return nil
}

// Lengths of the synthesized recordings
const (
	synthClickSamples = SampleRateHz / 100 // 10ms
	synthLoopSamples  = SampleRateHz * 2   // 2s loops
	acBusHz           = 400.0
)

// SynthesizeEffectResources generates stand-in recordings. The output is
// deterministic for a given seed.
func SynthesizeEffectResources(seed uint64) *EffectResources {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	noise := func() float32 { return float32(rng.Float64()*2 - 1) }

	click := make(SampleBuffer, synthClickSamples)
	for i := range click {
		decay := math.Exp(-float64(i) / (synthClickSamples / 6))
		click[i] = noise() * float32(decay)
	}

	crackle := make(SampleBuffer, synthLoopSamples)
	for i := 0; i < len(crackle); {
		// Sparse impulses of random length and level
		i += 20 + rng.IntN(400)
		burst := 5 + rng.IntN(40)
		level := float32(0.3 + 0.7*rng.Float64())
		for j := 0; j < burst && i+j < len(crackle); j++ {
			crackle[i+j] = noise() * level
		}
		i += burst
	}

	white := make(SampleBuffer, synthLoopSamples)
	for i := range white {
		white[i] = noise()
	}

	// HF noise is white noise with the top end rolled off
	hf := make(SampleBuffer, synthLoopSamples)
	lp := LowPassFilter(SampleRateHz, 3000, 0.707)
	for i := range hf {
		v := lp.TransformOne(float64(noise()))
		hf[i] = float32(math.Max(-1, math.Min(1, v)))
	}

	bus := make(SampleBuffer, synthLoopSamples)
	for i := range bus {
		t := float64(i) / SampleRateHz
		v := 0.6*math.Sin(2*math.Pi*acBusHz*t) +
			0.25*math.Sin(2*math.Pi*2*acBusHz*t) +
			0.15*math.Sin(2*math.Pi*3*acBusHz*t)
		bus[i] = float32(v)
	}

	return &EffectResources{
		Click:        click,
		Crackle:      crackle,
		WhiteNoise:   white,
		HFWhiteNoise: hf,
		AcBus:        bus,
	}
}
