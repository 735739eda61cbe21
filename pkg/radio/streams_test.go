package radio

import (
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/dbehnke/atcvoice-go/pkg/audio"
	"github.com/dbehnke/atcvoice-go/pkg/codec"
	"github.com/dbehnke/atcvoice-go/pkg/dto"
)

func TestPacketIgnoredWhenNotListening(t *testing.T) {
	s, rec, _ := newTestStack(t)
	s.AddFrequency(freqHeathrowTower, true, "EGLL_TWR", audio.SchmidED137B, PlaybackBoth)
	s.SetRx(freqHeathrowTower, false)
	rec.reset()

	dal := newTalker(t, "DAL123")
	s.RxVoicePacket(dal.packet(t, false, heardOn(freqGuard, 0.2)))
	s.RxVoicePacket(dal.packet(t, false, heardOn(freqHeathrowTower, 0.2)))

	if got := s.IncomingStreams(); got != 0 {
		t.Errorf("Stream count mismatch: got %d, want 0", got)
	}
	if got := len(rec.all()); got != 0 {
		t.Errorf("Unexpected events: %v", rec.all())
	}
}

func TestPacketListeningEvents(t *testing.T) {
	s, rec, _ := newTestStack(t)
	s.AddFrequency(freqHeathrowTower, true, "EGLL_TWR", audio.SchmidED137B, PlaybackBoth)
	s.AddFrequency(freqGuard, true, "GUARD", audio.SchmidED137B, PlaybackBoth)
	dal := newTalker(t, "DAL123")

	// Two transceivers on the tower and one on guard
	heard := []dto.RxTransceiver{
		heardOn(freqHeathrowTower, 0.2),
		{ID: 2, Frequency: freqHeathrowTower, DistanceRatio: 0.5},
		heardOn(freqGuard, 0.7),
	}
	s.RxVoicePacket(dal.packet(t, false, heard...))
	s.RxVoicePacket(dal.packet(t, false, heard...))

	want := []Event{
		{Type: StationRxBegin, Frequency: freqHeathrowTower, Callsign: "DAL123"},
		{Type: StationRxBegin, Frequency: freqGuard, Callsign: "DAL123"},
	}
	if got := rec.all(); !slices.Equal(got, want) {
		t.Fatalf("Events mismatch: got %v, want %v", got, want)
	}
	if got := s.IncomingStreams(); got != 1 {
		t.Errorf("Stream count mismatch: got %d, want 1", got)
	}

	rec.reset()
	s.RxVoicePacket(dal.packet(t, true, heard...))
	s.RxVoicePacket(dal.packet(t, true, heard...))
	if got := rec.count(StationRxEnd); got != 2 {
		t.Errorf("StationRxEnd count mismatch: got %d, want 2", got)
	}
}

func TestVoiceTimeout(t *testing.T) {
	s, rec, clock := newTestStack(t)
	s.AddFrequency(freqHeathrowTower, true, "EGLL_TWR", audio.SchmidED137B, PlaybackBoth)
	dal := newTalker(t, "DAL123")
	s.RxVoicePacket(dal.packet(t, false, heardOn(freqHeathrowTower, 0.2)))
	rec.reset()

	clock.Advance(2 * time.Second)
	s.MaintainVoiceTimeout()
	if got := len(rec.all()); got != 0 {
		t.Fatalf("Timeout fired early: %v", rec.all())
	}

	clock.Advance(2 * time.Second)
	s.MaintainVoiceTimeout()
	want := []Event{
		{Type: StationRxEnd, Frequency: freqHeathrowTower, Callsign: "DAL123"},
		{Type: FrequencyRxEnd, Frequency: freqHeathrowTower},
	}
	if got := rec.all(); !slices.Equal(got, want) {
		t.Fatalf("Events mismatch: got %v, want %v", got, want)
	}

	// A late last packet must not end the station a second time
	s.RxVoicePacket(dal.packet(t, true, heardOn(freqHeathrowTower, 0.2)))
	if got := rec.count(StationRxEnd); got != 1 {
		t.Errorf("StationRxEnd count mismatch: got %d, want 1", got)
	}

	// The late packet re-arms the timeout once
	clock.Advance(10 * time.Second)
	s.MaintainVoiceTimeout()
	s.MaintainVoiceTimeout()
	if got := rec.count(FrequencyRxEnd); got != 2 {
		t.Errorf("FrequencyRxEnd count mismatch: got %d, want 2", got)
	}
}

// Each station and the frequency end exactly once whether the mixer or the
// voice timeout closes the transmission.
func TestVoiceTimeoutAfterLastPacket(t *testing.T) {
	tests := []struct {
		name  string
		ticks int
	}{
		{"timeout only", 0},
		{"mixed then timeout", 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, rec, clock := newTestStack(t)
			s.AddFrequency(freqHeathrowTower, true, "EGLL_TWR", audio.SchmidED137B, PlaybackBoth)
			dal := newTalker(t, "DAL123")
			s.RxVoicePacket(dal.packet(t, false, heardOn(freqHeathrowTower, 0.2)))
			s.RxVoicePacket(dal.packet(t, true, heardOn(freqHeathrowTower, 0.2)))

			for i := 0; i < tt.ticks; i++ {
				headsetPeak(s)
			}
			clock.Advance(5 * time.Second)
			s.MaintainVoiceTimeout()

			if got := rec.count(StationRxEnd); got != 1 {
				t.Errorf("StationRxEnd count mismatch: got %d, want 1", got)
			}
			if got := rec.count(FrequencyRxEnd); got != 1 {
				t.Errorf("FrequencyRxEnd count mismatch: got %d, want 1", got)
			}
		})
	}
}

// A decoder failure leaves neither registry holding the callsign
func TestRxVoicePacketDecoderFailure(t *testing.T) {
	s, _, _ := newTestStack(t)
	s.AddFrequency(freqHeathrowTower, true, "EGLL_TWR", audio.SchmidED137B, PlaybackBoth)

	calls := 0
	s.newDecoder = func() (codec.Decoder, error) {
		calls++
		if calls == 2 {
			return nil, errors.New("out of decoders")
		}
		return codec.NewDecoder()
	}

	dal := newTalker(t, "DAL123")
	s.RxVoicePacket(dal.packet(t, false, heardOn(freqHeathrowTower, 0.2)))

	s.streamMutex.Lock()
	_, headset := s.headsetStreams["DAL123"]
	_, speaker := s.speakerStreams["DAL123"]
	s.streamMutex.Unlock()
	if headset || speaker {
		t.Errorf("Registries partly updated: headset %v, speaker %v", headset, speaker)
	}
	if got := s.IncomingStreams(); got != 0 {
		t.Errorf("Stream count mismatch: got %d, want 0", got)
	}

	// The next packet gets a stream in both
	s.RxVoicePacket(dal.packet(t, false, heardOn(freqHeathrowTower, 0.2)))
	s.streamMutex.Lock()
	_, headset = s.headsetStreams["DAL123"]
	_, speaker = s.speakerStreams["DAL123"]
	s.streamMutex.Unlock()
	if !headset || !speaker {
		t.Errorf("Stream missing: headset %v, speaker %v", headset, speaker)
	}
	if p := headsetPeak(s); p == 0 {
		t.Error("Recovered stream should be audible")
	}
}

func TestMaintainIncomingStreams(t *testing.T) {
	s, _, clock := newTestStack(t)
	s.AddFrequency(freqHeathrowTower, true, "EGLL_TWR", audio.SchmidED137B, PlaybackBoth)
	dal := newTalker(t, "DAL123")
	baw := newTalker(t, "BAW1")
	s.RxVoicePacket(dal.packet(t, false, heardOn(freqHeathrowTower, 0.2)))

	clock.Advance(40 * time.Second)
	s.RxVoicePacket(baw.packet(t, false, heardOn(freqHeathrowTower, 0.2)))
	s.MaintainIncomingStreams()
	if got := s.IncomingStreams(); got != 2 {
		t.Fatalf("Stream count mismatch: got %d, want 2", got)
	}

	clock.Advance(30 * time.Second)
	s.MaintainIncomingStreams()
	if got := s.IncomingStreams(); got != 1 {
		t.Errorf("Stream count mismatch: got %d, want 1", got)
	}

	s.streamMutex.Lock()
	_, headset := s.headsetStreams["BAW1"]
	_, speaker := s.speakerStreams["BAW1"]
	s.streamMutex.Unlock()
	if !headset || !speaker {
		t.Error("Recent stream should survive in both registries")
	}
}

func TestHandleAudioRxFromChannel(t *testing.T) {
	s, rec, _ := newTestStack(t)
	s.AddFrequency(freqHeathrowTower, true, "EGLL_TWR", audio.SchmidED137B, PlaybackBoth)

	first := newFakeChannel()
	s.SetChannel(first)
	h := first.handler(dto.NameAudioRx)
	if h == nil {
		t.Fatal("Audio handler not registered")
	}

	dal := newTalker(t, "DAL123")
	data, err := msgpack.Marshal(dal.packet(t, false, heardOn(freqHeathrowTower, 0.2)))
	if err != nil {
		t.Fatalf("Failed to marshal packet: %v", err)
	}
	h(data)
	if got := rec.count(StationRxBegin); got != 1 {
		t.Errorf("StationRxBegin count mismatch: got %d, want 1", got)
	}

	// Garbage is dropped
	h([]byte{0xc1})
	if got := len(rec.all()); got != 1 {
		t.Errorf("Garbage produced events: %v", rec.all())
	}

	second := newFakeChannel()
	s.SetChannel(second)
	if first.handler(dto.NameAudioRx) != nil {
		t.Error("Handler should move off the old channel")
	}
	if second.handler(dto.NameAudioRx) == nil {
		t.Error("Handler should be registered on the new channel")
	}
}

func TestRemoteVoiceSource(t *testing.T) {
	clock := newFakeClock()
	dec, err := codec.NewDecoder()
	if err != nil {
		t.Fatalf("Failed to create decoder: %v", err)
	}
	src := NewRemoteVoiceSource(dec, clock.Now)
	var f audio.Frame

	if src.IsActive() {
		t.Error("New source should be idle")
	}
	if st := src.AudioFrame(&f); st != audio.SourceExhausted {
		t.Errorf("Idle source status mismatch: got %v", st)
	}

	dal := newTalker(t, "DAL123")
	src.AppendAudioDTO(dal.packet(t, false))
	if !src.IsActive() {
		t.Fatal("Source should be active after a packet")
	}
	if st := src.AudioFrame(&f); st != audio.SourceOK {
		t.Fatalf("Status mismatch: got %v", st)
	}
	if audio.Peak(&f) < 0.05 {
		t.Errorf("Decoded frame too quiet: %v", audio.Peak(&f))
	}

	// Queue underrun mid transmission is concealed
	clock.Advance(100 * time.Millisecond)
	if st := src.AudioFrame(&f); st != audio.SourceOK {
		t.Errorf("Underrun status mismatch: got %v", st)
	}

	// and ends the stream once idle
	clock.Advance(200 * time.Millisecond)
	if st := src.AudioFrame(&f); st != audio.SourceExhausted {
		t.Errorf("Idle status mismatch: got %v", st)
	}
	if src.IsActive() {
		t.Error("Source should be inactive after going idle")
	}

	src.AppendAudioDTO(dal.packet(t, true))
	if st := src.AudioFrame(&f); st != audio.SourceOK {
		t.Errorf("Status mismatch: got %v", st)
	}
	if st := src.AudioFrame(&f); st != audio.SourceExhausted {
		t.Errorf("Ended stream status mismatch: got %v", st)
	}
}

func TestRemoteVoiceSourceQueueLimit(t *testing.T) {
	dec, err := codec.NewDecoder()
	if err != nil {
		t.Fatalf("Failed to create decoder: %v", err)
	}
	src := NewRemoteVoiceSource(dec, nil)
	dal := newTalker(t, "DAL123")
	for i := 0; i < maxQueuedPackets+10; i++ {
		src.AppendAudioDTO(dal.packet(t, false))
	}

	src.mutex.Lock()
	n := len(src.queue)
	src.mutex.Unlock()
	if n != maxQueuedPackets {
		t.Errorf("Queue length mismatch: got %d, want %d", n, maxQueuedPackets)
	}
}
