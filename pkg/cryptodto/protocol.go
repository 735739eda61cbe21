// Package cryptodto implements the authenticated datagram framing used on
// the voice channel.
//
// Each datagram carries a channel tag, a per-sender sequence number and a
// cipher mode in a clear (but authenticated) header, followed by the DTO
// name and its msgpack payload, sealed with ChaCha20-Poly1305.
package cryptodto

import (
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Protocol constants
const (
	MaxDatagramSize = 1500 // Largest datagram we send or accept
	KeySize         = 32   // ChaCha20-Poly1305 key size
	TagSize         = 16   // Poly1305 authentication tag
	NonceSize       = 12   // ChaCha20-Poly1305 nonce size
	lengthSize      = 2    // u16 little-endian length prefixes
)

// Mode identifies how the body of a datagram is protected.
type Mode uint8

const (
	ModeUndefined        Mode = 0 // Never valid on the wire
	ModeNone             Mode = 1 // Body in the clear
	ModeChaCha20Poly1305 Mode = 2 // Body sealed with the channel key
	modeLast             Mode = 3
)

func (m Mode) String() string {
	switch m {
	case ModeNone:
		return "none"
	case ModeChaCha20Poly1305:
		return "chacha20poly1305"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

var (
	ErrShortBuffer     = errors.New("cryptodto: buffer too short")
	ErrBadHeader       = errors.New("cryptodto: malformed header")
	ErrBadBody         = errors.New("cryptodto: malformed body")
	ErrAuthFailed      = errors.New("cryptodto: authentication failed")
	ErrUnsupportedMode = errors.New("cryptodto: unsupported cipher mode")
	ErrPayloadTooLarge = errors.New("cryptodto: payload exceeds datagram size")
	ErrBadLength       = errors.New("cryptodto: dto length prefix mismatch")
	ErrNoKey           = errors.New("cryptodto: channel key not configured")
)

// Header is the clear-text part of every datagram. It is encoded as a
// msgpack array and used as the AEAD additional data.
type Header struct {
	_msgpack struct{} `msgpack:",as_array"`

	ChannelTag string
	Sequence   uint64
	Mode       Mode
}

// ChannelConfig carries the per-session channel tag and keys handed out by
// the voice server when a session is established.
type ChannelConfig struct {
	_msgpack struct{} `msgpack:",as_array"`

	ChannelTag      string `json:"channelTag"`
	AeadTransmitKey []byte `json:"aeadTransmitKey"`
	AeadReceiveKey  []byte `json:"aeadReceiveKey"`
}

// Validate checks that both keys have the expected size
func (c *ChannelConfig) Validate() error {
	if c.ChannelTag == "" {
		return fmt.Errorf("channel tag is empty")
	}
	if len(c.AeadTransmitKey) != KeySize {
		return fmt.Errorf("transmit key size: got %d, want %d", len(c.AeadTransmitKey), KeySize)
	}
	if len(c.AeadReceiveKey) != KeySize {
		return fmt.Errorf("receive key size: got %d, want %d", len(c.AeadReceiveKey), KeySize)
	}
	return nil
}

// Reverse returns the configuration as seen from the other end of the
// channel (transmit and receive keys swapped).
func (c ChannelConfig) Reverse() ChannelConfig {
	return ChannelConfig{
		ChannelTag:      c.ChannelTag,
		AeadTransmitKey: c.AeadReceiveKey,
		AeadReceiveKey:  c.AeadTransmitKey,
	}
}

func marshalHeader(h *Header) ([]byte, error) {
	return msgpack.Marshal(h)
}

func unmarshalHeader(data []byte) (Header, error) {
	var h Header
	if err := msgpack.Unmarshal(data, &h); err != nil {
		return h, fmt.Errorf("%w: %v", ErrBadHeader, err)
	}
	return h, nil
}
