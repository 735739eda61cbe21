// Package codec compresses 20 ms voice frames for the voice channel.
//
// Builds tagged "opus" use libopus through gopkg.in/hraban/opus.v2. Other
// builds fall back to an 8-bit mu-law codec so the stack runs without cgo;
// both ends of a session must be built with the same codec.
package codec

import (
	"errors"

	"github.com/dbehnke/atcvoice-go/pkg/audio"
)

// MaxPacketSize bounds a single encoded frame
const MaxPacketSize = 1275

// DefaultBitrate is the target encoder bitrate in bits per second
const DefaultBitrate = 16000

var (
	ErrFrameSize = errors.New("codec: decoded frame has wrong length")
	ErrEmpty     = errors.New("codec: empty packet")
)

// Encoder compresses frames
type Encoder interface {
	Encode(in *audio.Frame) ([]byte, error)
	Reset() error
}

// Decoder expands compressed frames
type Decoder interface {
	// Decode expands one packet into out
	Decode(data []byte, out *audio.Frame) error
	// DecodeLost conceals a missing packet
	DecodeLost(out *audio.Frame) error
	Reset() error
}
