package cryptodto

import (
	"crypto/cipher"
	"encoding/binary"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/crypto/chacha20poly1305"
)

// Channel holds the keys for one voice session and performs the framing
// in both directions. It is safe for concurrent use once configured;
// SetConfig must not race with Encapsulate or Decapsulate.
type Channel struct {
	config ChannelConfig
	txAead cipher.AEAD
	rxAead cipher.AEAD
}

// Frame is a decapsulated datagram.
type Frame struct {
	Header Header
	Name   string
	// DtoBuf is the length-prefixed DTO exactly as it appeared in the body.
	// Use Payload to validate the prefix and strip it.
	DtoBuf []byte
}

// NewChannel creates a channel for the given configuration
func NewChannel(config ChannelConfig) (*Channel, error) {
	c := &Channel{}
	if err := c.SetConfig(config); err != nil {
		return nil, err
	}
	return c, nil
}

// SetConfig replaces the channel tag and keys
func (c *Channel) SetConfig(config ChannelConfig) error {
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid channel config: %w", err)
	}
	tx, err := chacha20poly1305.New(config.AeadTransmitKey)
	if err != nil {
		return fmt.Errorf("failed to create transmit cipher: %w", err)
	}
	rx, err := chacha20poly1305.New(config.AeadReceiveKey)
	if err != nil {
		return fmt.Errorf("failed to create receive cipher: %w", err)
	}
	c.config = config
	c.txAead = tx
	c.rxAead = rx
	return nil
}

// Config returns the active configuration
func (c *Channel) Config() ChannelConfig {
	return c.config
}

// Tag returns the channel tag stamped on outgoing datagrams
func (c *Channel) Tag() string {
	return c.config.ChannelTag
}

func sequenceNonce(seq uint64) []byte {
	nonce := make([]byte, NonceSize)
	binary.LittleEndian.PutUint64(nonce[4:], seq)
	return nonce
}

// Encapsulate frames dto under the given name and appends the datagram to
// dst[:0]. The dto bytes are carried as-is, prefixed with their length.
func (c *Channel) Encapsulate(dst []byte, seq uint64, mode Mode, name string, dto []byte) ([]byte, error) {
	if len(name) > 0xffff || len(dto) > 0xffff {
		return nil, ErrPayloadTooLarge
	}

	h := Header{ChannelTag: c.config.ChannelTag, Sequence: seq, Mode: mode}
	hb, err := marshalHeader(&h)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal header: %w", err)
	}

	plain := make([]byte, 0, lengthSize*2+len(name)+len(dto))
	plain = binary.LittleEndian.AppendUint16(plain, uint16(len(name)))
	plain = append(plain, name...)
	plain = binary.LittleEndian.AppendUint16(plain, uint16(len(dto)))
	plain = append(plain, dto...)

	out := dst[:0]
	out = binary.LittleEndian.AppendUint16(out, uint16(len(hb)))
	out = append(out, hb...)

	switch mode {
	case ModeNone:
		out = append(out, plain...)
	case ModeChaCha20Poly1305:
		if c.txAead == nil {
			return nil, ErrNoKey
		}
		out = c.txAead.Seal(out, sequenceNonce(seq), plain, hb)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMode, mode)
	}

	if len(out) > MaxDatagramSize {
		return nil, ErrPayloadTooLarge
	}
	return out, nil
}

// EncapsulateDto msgpack-encodes v and frames it under name
func (c *Channel) EncapsulateDto(dst []byte, seq uint64, mode Mode, name string, v any) ([]byte, error) {
	dto, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s dto: %w", name, err)
	}
	return c.Encapsulate(dst, seq, mode, name, dto)
}

// Decapsulate authenticates and unframes a datagram. The channel tag and
// sequence are returned for the caller to check; they are not validated
// here. The returned frame aliases data in ModeNone.
func (c *Channel) Decapsulate(data []byte) (*Frame, error) {
	if len(data) < lengthSize {
		return nil, ErrShortBuffer
	}
	hl := int(binary.LittleEndian.Uint16(data))
	if hl == 0 || len(data) < lengthSize+hl {
		return nil, ErrShortBuffer
	}
	hb := data[lengthSize : lengthSize+hl]
	h, err := unmarshalHeader(hb)
	if err != nil {
		return nil, err
	}
	body := data[lengthSize+hl:]

	var plain []byte
	switch h.Mode {
	case ModeNone:
		plain = body
	case ModeChaCha20Poly1305:
		if c.rxAead == nil {
			return nil, ErrNoKey
		}
		if len(body) < TagSize {
			return nil, ErrShortBuffer
		}
		plain, err = c.rxAead.Open(nil, sequenceNonce(h.Sequence), body, hb)
		if err != nil {
			return nil, ErrAuthFailed
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMode, h.Mode)
	}

	if len(plain) < lengthSize {
		return nil, ErrBadBody
	}
	nl := int(binary.LittleEndian.Uint16(plain))
	if len(plain) < lengthSize+nl {
		return nil, ErrBadBody
	}

	return &Frame{
		Header: h,
		Name:   string(plain[lengthSize : lengthSize+nl]),
		DtoBuf: plain[lengthSize+nl:],
	}, nil
}

// Payload validates the length prefix of the DTO buffer and returns the
// DTO bytes. A zero-length DTO yields a nil slice.
func (f *Frame) Payload() ([]byte, error) {
	if len(f.DtoBuf) < lengthSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrShortBuffer, len(f.DtoBuf))
	}
	n := int(binary.LittleEndian.Uint16(f.DtoBuf))
	if n != len(f.DtoBuf)-lengthSize {
		return nil, fmt.Errorf("%w: prefix %d, have %d", ErrBadLength, n, len(f.DtoBuf)-lengthSize)
	}
	if n == 0 {
		return nil, nil
	}
	return f.DtoBuf[lengthSize:], nil
}

// DecodeDto validates the payload and msgpack-decodes it into v
func (f *Frame) DecodeDto(v any) error {
	payload, err := f.Payload()
	if err != nil {
		return err
	}
	if err := msgpack.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("failed to decode %s dto: %w", f.Name, err)
	}
	return nil
}
