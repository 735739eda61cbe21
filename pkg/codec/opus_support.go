//go:build opus
// +build opus

package codec

import (
	"fmt"

	opus "gopkg.in/hraban/opus.v2"

	"github.com/dbehnke/atcvoice-go/pkg/audio"
)

// Name identifies the compiled codec
const Name = "opus"

type opusEncoder struct {
	bitrate int
	enc     *opus.Encoder
	buf     []byte
}

// NewEncoder creates a VoIP-tuned Opus encoder
func NewEncoder(bitrate int) (Encoder, error) {
	e := &opusEncoder{bitrate: bitrate, buf: make([]byte, MaxPacketSize)}
	if err := e.Reset(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *opusEncoder) Encode(in *audio.Frame) ([]byte, error) {
	n, err := e.enc.EncodeFloat32(in[:], e.buf)
	if err != nil {
		return nil, fmt.Errorf("opus encode: %w", err)
	}
	out := make([]byte, n)
	copy(out, e.buf[:n])
	return out, nil
}

func (e *opusEncoder) Reset() error {
	enc, err := opus.NewEncoder(audio.SampleRateHz, 1, opus.AppVoIP)
	if err != nil {
		return fmt.Errorf("failed to create opus encoder: %w", err)
	}
	if err := enc.SetBitrate(e.bitrate); err != nil {
		return fmt.Errorf("failed to set opus bitrate: %w", err)
	}
	e.enc = enc
	return nil
}

type opusDecoder struct {
	dec *opus.Decoder
}

// NewDecoder creates an Opus decoder
func NewDecoder() (Decoder, error) {
	d := &opusDecoder{}
	if err := d.Reset(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *opusDecoder) Decode(data []byte, out *audio.Frame) error {
	if len(data) == 0 {
		return ErrEmpty
	}
	n, err := d.dec.DecodeFloat32(data, out[:])
	if err != nil {
		return fmt.Errorf("opus decode: %w", err)
	}
	if n != audio.FrameSizeSamples {
		return ErrFrameSize
	}
	return nil
}

func (d *opusDecoder) DecodeLost(out *audio.Frame) error {
	if err := d.dec.DecodePLCFloat32(out[:]); err != nil {
		*out = audio.Frame{}
		return fmt.Errorf("opus concealment: %w", err)
	}
	return nil
}

func (d *opusDecoder) Reset() error {
	dec, err := opus.NewDecoder(audio.SampleRateHz, 1)
	if err != nil {
		return fmt.Errorf("failed to create opus decoder: %w", err)
	}
	d.dec = dec
	return nil
}
