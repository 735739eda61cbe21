//go:build !opus
// +build !opus

package codec

import (
	"errors"
	"math"
	"testing"

	"github.com/dbehnke/atcvoice-go/pkg/audio"
)

func TestMuLawAccuracy(t *testing.T) {
	enc, _ := NewEncoder(DefaultBitrate)
	dec, _ := NewDecoder()

	var in, out audio.Frame
	for i := range in {
		in[i] = float32(i)/float32(audio.FrameSizeSamples)*2 - 1
	}
	pkt, err := enc.Encode(&in)
	if err != nil {
		t.Fatalf("Failed to encode: %v", err)
	}
	if len(pkt) != audio.FrameSizeSamples {
		t.Fatalf("Packet size mismatch: got %d, want %d", len(pkt), audio.FrameSizeSamples)
	}
	if err := dec.Decode(pkt, &out); err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	for i := range in {
		if d := math.Abs(float64(in[i] - out[i])); d > 0.03 {
			t.Fatalf("Sample %d error too large: in %v out %v", i, in[i], out[i])
		}
	}
}

func TestMuLawWrongLength(t *testing.T) {
	dec, _ := NewDecoder()
	var out audio.Frame
	if err := dec.Decode(make([]byte, 10), &out); !errors.Is(err, ErrFrameSize) {
		t.Errorf("Error mismatch: got %v, want ErrFrameSize", err)
	}
}
