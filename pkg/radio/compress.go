package radio

import (
	"sync"

	"github.com/dbehnke/atcvoice-go/pkg/audio"
	"github.com/dbehnke/atcvoice-go/pkg/codec"
	"github.com/dbehnke/atcvoice-go/pkg/dto"
)

// VoiceCompressionSink encodes captured frames and hands each packet to
// a callback
type VoiceCompressionSink struct {
	mutex   sync.Mutex
	encoder codec.Encoder
	out     func(data []byte)
	errors  int
}

// NewVoiceCompressionSink creates a sink encoding at bitrate
func NewVoiceCompressionSink(bitrate int, out func(data []byte)) (*VoiceCompressionSink, error) {
	enc, err := codec.NewEncoder(bitrate)
	if err != nil {
		return nil, err
	}
	return &VoiceCompressionSink{encoder: enc, out: out}, nil
}

// PutAudioFrame encodes in. Frames that fail to encode are dropped.
func (v *VoiceCompressionSink) PutAudioFrame(in *audio.Frame) {
	v.mutex.Lock()
	data, err := v.encoder.Encode(in)
	if err != nil {
		v.errors++
	}
	v.mutex.Unlock()

	if err == nil {
		v.out(data)
	}
}

// Errors returns how many frames failed to encode
func (v *VoiceCompressionSink) Errors() int {
	v.mutex.Lock()
	defer v.mutex.Unlock()
	return v.errors
}

// Reset restarts the encoder
func (v *VoiceCompressionSink) Reset() error {
	v.mutex.Lock()
	defer v.mutex.Unlock()
	return v.encoder.Reset()
}

// processCompressedFrame wraps an encoded frame for the transmit-enabled
// transceivers and sends it
func (s *Stack) processCompressedFrame(data []byte) {
	ch, callsign := s.voiceChannel()
	if ch == nil || !ch.IsOpen() {
		return
	}

	pkt := dto.AudioTxOnTransceivers{
		Callsign:   callsign,
		Audio:      data,
		LastPacket: !s.ptt.Load(),
	}
	s.stateMutex.Lock()
	pkt.Transceivers = s.txTransceivers()
	s.stateMutex.Unlock()

	pkt.SequenceCounter = s.txSequence.Add(1) - 1
	if err := ch.SendDto(dto.NameAudioTx, &pkt); err != nil {
		s.log.Debug("failed to send audio", "error", err, "seq", pkt.SequenceCounter)
	}
}
