//go:build !opus
// +build !opus

package codec

import (
	"math"

	"github.com/dbehnke/atcvoice-go/pkg/audio"
)

// Name identifies the compiled codec
const Name = "mulaw"

const muLaw = 255.0

var muLawLog = math.Log1p(muLaw)

type muLawEncoder struct{}

// NewEncoder creates the fallback encoder; bitrate is ignored
func NewEncoder(bitrate int) (Encoder, error) {
	return muLawEncoder{}, nil
}

func (muLawEncoder) Encode(in *audio.Frame) ([]byte, error) {
	out := make([]byte, len(in))
	for i, s := range in {
		x := math.Max(-1, math.Min(1, float64(s)))
		y := math.Copysign(math.Log1p(muLaw*math.Abs(x))/muLawLog, x)
		out[i] = byte(int8(math.Round(y * 127)))
	}
	return out, nil
}

func (muLawEncoder) Reset() error { return nil }

type muLawDecoder struct{}

// NewDecoder creates the fallback decoder
func NewDecoder() (Decoder, error) {
	return muLawDecoder{}, nil
}

func (muLawDecoder) Decode(data []byte, out *audio.Frame) error {
	if len(data) == 0 {
		return ErrEmpty
	}
	if len(data) != audio.FrameSizeSamples {
		return ErrFrameSize
	}
	for i, b := range data {
		y := float64(int8(b)) / 127
		x := math.Copysign(math.Expm1(math.Abs(y)*muLawLog)/muLaw, y)
		out[i] = float32(x)
	}
	return nil
}

func (muLawDecoder) DecodeLost(out *audio.Frame) error {
	*out = audio.Frame{}
	return nil
}

func (muLawDecoder) Reset() error { return nil }
