package codec

import (
	"errors"
	"testing"

	"github.com/dbehnke/atcvoice-go/pkg/audio"
)

func TestEncodeDecode(t *testing.T) {
	enc, err := NewEncoder(DefaultBitrate)
	if err != nil {
		t.Fatalf("Failed to create encoder: %v", err)
	}
	dec, err := NewDecoder()
	if err != nil {
		t.Fatalf("Failed to create decoder: %v", err)
	}

	tone := audio.NewSineToneSource(440)
	var in, out audio.Frame
	for i := 0; i < 5; i++ {
		tone.AudioFrame(&in)
		audio.Scale(&in, 0.5)

		pkt, err := enc.Encode(&in)
		if err != nil {
			t.Fatalf("Failed to encode frame %d: %v", i, err)
		}
		if len(pkt) == 0 || len(pkt) > MaxPacketSize {
			t.Fatalf("Packet size out of range: %d", len(pkt))
		}
		if err := dec.Decode(pkt, &out); err != nil {
			t.Fatalf("Failed to decode frame %d: %v", i, err)
		}
	}

	if err := dec.DecodeLost(&out); err != nil {
		t.Errorf("Failed to conceal lost frame: %v", err)
	}
	if err := enc.Reset(); err != nil {
		t.Errorf("Failed to reset encoder: %v", err)
	}
	if err := dec.Reset(); err != nil {
		t.Errorf("Failed to reset decoder: %v", err)
	}
}

func TestDecodeEmpty(t *testing.T) {
	dec, err := NewDecoder()
	if err != nil {
		t.Fatalf("Failed to create decoder: %v", err)
	}
	var out audio.Frame
	if err := dec.Decode(nil, &out); !errors.Is(err, ErrEmpty) {
		t.Errorf("Error mismatch: got %v, want ErrEmpty", err)
	}
}

func BenchmarkEncode(b *testing.B) {
	enc, err := NewEncoder(DefaultBitrate)
	if err != nil {
		b.Fatalf("Failed to create encoder: %v", err)
	}
	var in audio.Frame
	audio.NewSineToneSource(1000).AudioFrame(&in)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := enc.Encode(&in); err != nil {
			b.Fatal(err)
		}
	}
}
