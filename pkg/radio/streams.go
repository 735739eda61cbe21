package radio

import (
	"sync"
	"time"

	"github.com/dbehnke/atcvoice-go/internal/metrics"
	"github.com/dbehnke/atcvoice-go/internal/transport"
	"github.com/dbehnke/atcvoice-go/pkg/audio"
	"github.com/dbehnke/atcvoice-go/pkg/codec"
	"github.com/dbehnke/atcvoice-go/pkg/dto"
)

const (
	dtoNameAudioRx = dto.NameAudioRx

	// Packets queued per stream before the oldest are dropped
	maxQueuedPackets = 50

	// A stream with an empty queue and no packets for this long is
	// treated as finished even without a last packet flag
	streamIdleTimeout = 200 * time.Millisecond
)

// RemoteVoiceSource decodes one remote station's voice packets into
// frames. Packets are played in arrival order; an empty queue in the
// middle of a transmission is concealed rather than ending the stream.
type RemoteVoiceSource struct {
	mutex        sync.Mutex
	decoder      codec.Decoder
	queue        [][]byte
	active       bool
	ended        bool
	lastActivity time.Time
	now          func() time.Time
}

// NewRemoteVoiceSource creates an idle source
func NewRemoteVoiceSource(decoder codec.Decoder, now func() time.Time) *RemoteVoiceSource {
	if now == nil {
		now = time.Now
	}
	return &RemoteVoiceSource{decoder: decoder, now: now, lastActivity: now()}
}

// AppendAudioDTO queues the audio of pkt
func (r *RemoteVoiceSource) AppendAudioDTO(pkt *dto.AudioRxOnTransceivers) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.lastActivity = r.now()
	if len(pkt.Audio) > 0 {
		if len(r.queue) >= maxQueuedPackets {
			r.queue = r.queue[1:]
		}
		r.queue = append(r.queue, pkt.Audio)
	}
	r.active = true
	r.ended = pkt.LastPacket
}

// IsActive reports whether the source is producing frames
func (r *RemoteVoiceSource) IsActive() bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.active
}

// LastActivity returns when the last packet arrived
func (r *RemoteVoiceSource) LastActivity() time.Time {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.lastActivity
}

// AudioFrame decodes the next queued packet into out. Once the queue is
// empty and the transmission has ended or gone idle the source reports
// exhaustion and becomes inactive.
func (r *RemoteVoiceSource) AudioFrame(out *audio.Frame) audio.SourceStatus {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if !r.active {
		return audio.SourceExhausted
	}

	if len(r.queue) == 0 {
		if r.ended || r.now().Sub(r.lastActivity) > streamIdleTimeout {
			r.active = false
			r.ended = false
			r.decoder.Reset()
			return audio.SourceExhausted
		}
		if err := r.decoder.DecodeLost(out); err != nil {
			*out = audio.Frame{}
		}
		return audio.SourceOK
	}

	pkt := r.queue[0]
	r.queue = r.queue[1:]
	if err := r.decoder.Decode(pkt, out); err != nil {
		if err := r.decoder.DecodeLost(out); err != nil {
			*out = audio.Frame{}
		}
	}
	return audio.SourceOK
}

// incomingStream is a registry entry: the decode source and the
// transceivers the callsign was last heard on
type incomingStream struct {
	source       *RemoteVoiceSource
	transceivers []dto.RxTransceiver
}

// streams returns the registry for device; streamMutex must be held
func (s *Stack) streams(d Device) map[string]*incomingStream {
	if d == Headset {
		return s.headsetStreams
	}
	return s.speakerStreams
}

// handleAudioRx is the voice channel handler for inbound audio
func (s *Stack) handleAudioRx(data []byte) {
	var pkt dto.AudioRxOnTransceivers
	if err := transport.Decode(data, &pkt); err != nil {
		s.log.Debug("unable to unpack audio data received", "error", err, "len", len(data))
		return
	}
	s.RxVoicePacket(&pkt)
}

// RxVoicePacket accepts an inbound voice packet. Packets that no tuned,
// receive-enabled frequency is listening to are dropped.
func (s *Stack) RxVoicePacket(pkt *dto.AudioRxOnTransceivers) {
	if !s.packetListening(pkt) {
		metrics.VoicePackets.WithLabelValues("ignored").Inc()
		return
	}
	metrics.VoicePackets.WithLabelValues("accepted").Inc()

	s.streamMutex.Lock()
	defer s.streamMutex.Unlock()
	regs := [...]map[string]*incomingStream{s.headsetStreams, s.speakerStreams}

	// Both registries get the callsign or neither does
	var created [len(regs)]*incomingStream
	for i, reg := range regs {
		if _, ok := reg[pkt.Callsign]; ok {
			continue
		}
		dec, err := s.newDecoder()
		if err != nil {
			s.log.Errorf("failed to create decoder for %s: %v", pkt.Callsign, err)
			return
		}
		created[i] = &incomingStream{source: NewRemoteVoiceSource(dec, s.now)}
	}
	for i, reg := range regs {
		if created[i] != nil {
			reg[pkt.Callsign] = created[i]
		}
		stream := reg[pkt.Callsign]
		stream.source.AppendAudioDTO(pkt)
		stream.transceivers = pkt.Transceivers
	}
	metrics.IncomingStreams.Set(float64(len(s.headsetStreams)))
}

// packetListening updates the receive bookkeeping of every frequency the
// packet is heard on and reports whether there was at least one.
func (s *Stack) packetListening(pkt *dto.AudioRxOnTransceivers) bool {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()

	now := s.now()
	listening := false
	seen := make(map[uint32]bool, len(pkt.Transceivers))
	for _, t := range pkt.Transceivers {
		st, ok := s.radios[t.Frequency]
		if !ok || !st.rx || seen[t.Frequency] {
			continue
		}
		seen[t.Frequency] = true
		listening = true

		st.lastTransmitCallsign = pkt.Callsign
		st.lastVoiceTime = now

		if pkt.LastPacket {
			if st.live.remove(pkt.Callsign) {
				s.emit(StationRxEnd, t.Frequency, pkt.Callsign)
			}
		} else if st.live.add(pkt.Callsign, now) {
			s.emit(StationRxBegin, t.Frequency, pkt.Callsign)
		}
	}
	return listening
}

// IncomingStreams returns the number of cached inbound streams
func (s *Stack) IncomingStreams() int {
	s.streamMutex.Lock()
	defer s.streamMutex.Unlock()
	return len(s.headsetStreams)
}
