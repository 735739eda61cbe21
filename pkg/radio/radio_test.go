package radio

import (
	"io"
	"math"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/dbehnke/atcvoice-go/internal/transport"
	"github.com/dbehnke/atcvoice-go/pkg/audio"
	"github.com/dbehnke/atcvoice-go/pkg/codec"
	"github.com/dbehnke/atcvoice-go/pkg/dto"
	"github.com/dbehnke/atcvoice-go/pkg/log"
)

const (
	freqHeathrowTower = 118500000
	freqGuard         = 121500000
	freqShanwick      = 5649000
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// recorder collects events in delivery order
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) OnRadioEvent(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events)
}

func (r *recorder) count(t EventType) int {
	n := 0
	for _, ev := range r.all() {
		if ev.Type == t {
			n++
		}
	}
	return n
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// fakeChannel is an in-memory transport.DtoChannel that records sends
type fakeChannel struct {
	mu       sync.Mutex
	handlers map[string]transport.DtoHandler
	sent     []dto.AudioTxOnTransceivers
	open     bool
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{handlers: make(map[string]transport.DtoHandler), open: true}
}

func (f *fakeChannel) SendDto(name string, v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if pkt, ok := v.(*dto.AudioTxOnTransceivers); ok && name == dto.NameAudioTx {
		f.sent = append(f.sent, *pkt)
	}
	return nil
}

func (f *fakeChannel) RegisterHandler(name string, h transport.DtoHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[name] = h
}

func (f *fakeChannel) UnregisterHandler(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handlers, name)
}

func (f *fakeChannel) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *fakeChannel) handler(name string) transport.DtoHandler {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handlers[name]
}

func (f *fakeChannel) packets() []dto.AudioTxOnTransceivers {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.sent)
}

func newTestStack(t testing.TB) (*Stack, *recorder, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	s, err := New(&Config{
		Callsign:  "EGLL_TWR",
		MicVolume: 1.0,
		Clock:     clock.Now,
	}, log.NewWriter(io.Discard, "error"))
	if err != nil {
		t.Fatalf("Failed to create stack: %v", err)
	}
	rec := &recorder{}
	s.AddObserver(rec)
	return s, rec, clock
}

// talker encodes a steady tone for one remote callsign
type talker struct {
	callsign string
	enc      codec.Encoder
	tone     *audio.SineToneSource
	seq      uint32
}

func newTalker(t testing.TB, callsign string) *talker {
	t.Helper()
	enc, err := codec.NewEncoder(codec.DefaultBitrate)
	if err != nil {
		t.Fatalf("Failed to create encoder: %v", err)
	}
	return &talker{callsign: callsign, enc: enc, tone: audio.NewSineToneSource(440)}
}

func (k *talker) packet(t testing.TB, last bool, transceivers ...dto.RxTransceiver) *dto.AudioRxOnTransceivers {
	t.Helper()
	var f audio.Frame
	k.tone.AudioFrame(&f)
	audio.Scale(&f, 0.5)
	data, err := k.enc.Encode(&f)
	if err != nil {
		t.Fatalf("Failed to encode frame: %v", err)
	}
	pkt := &dto.AudioRxOnTransceivers{
		Callsign:        k.callsign,
		SequenceCounter: k.seq,
		Audio:           data,
		LastPacket:      last,
		Transceivers:    transceivers,
	}
	k.seq++
	return pkt
}

func heardOn(freq uint32, ratio float32) dto.RxTransceiver {
	return dto.RxTransceiver{ID: 1, Frequency: freq, DistanceRatio: ratio}
}

func stereoPeak(f *audio.StereoFrame) (left, right float32) {
	for i := 0; i < len(f); i += 2 {
		left = max(left, float32(math.Abs(float64(f[i]))))
		right = max(right, float32(math.Abs(float64(f[i+1]))))
	}
	return left, right
}

func headsetPeak(s *Stack) float32 {
	var out audio.StereoFrame
	s.HeadsetFrame(&out)
	l, r := stereoPeak(&out)
	return max(l, r)
}

func TestNewRejectsIncompleteResources(t *testing.T) {
	res := audio.SynthesizeEffectResources(3)
	res.Click = nil
	if _, err := New(&Config{Resources: res}, log.NewWriter(io.Discard, "error")); err == nil {
		t.Fatal("Expected error for missing click recording")
	}
}

func TestParsePlaybackChannel(t *testing.T) {
	tests := []struct {
		in      string
		want    PlaybackChannel
		wantErr bool
	}{
		{"", PlaybackBoth, false},
		{"both", PlaybackBoth, false},
		{"Left", PlaybackLeft, false},
		{" right ", PlaybackRight, false},
		{"centre", PlaybackBoth, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePlaybackChannel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParsePlaybackChannel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParsePlaybackChannel(%q) mismatch: got %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestAddFrequency(t *testing.T) {
	s, _, _ := newTestStack(t)
	s.SetEnableHfSquelch(true)

	if !s.AddFrequency(freqHeathrowTower, true, "EGLL_TWR", audio.Garex220, PlaybackLeft) {
		t.Fatal("Failed to add frequency")
	}
	if !s.IsFrequencyActive(freqHeathrowTower) {
		t.Error("Frequency should be active")
	}
	if !s.RxState(freqHeathrowTower) {
		t.Error("New frequency should receive")
	}
	if s.TxState(freqHeathrowTower) || s.XcState(freqHeathrowTower) {
		t.Error("New frequency should not transmit or cross-couple")
	}
	if got := s.Gain(freqHeathrowTower); got != 1.0 {
		t.Errorf("Gain mismatch: got %v, want 1", got)
	}
	if got := s.PlaybackChannel(freqHeathrowTower); got != PlaybackLeft {
		t.Errorf("Playback channel mismatch: got %v, want left", got)
	}

	snap := s.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("Snapshot length mismatch: got %d, want 1", len(snap))
	}
	if !snap[0].HfSquelch {
		t.Error("Default HF squelch should apply to new frequencies")
	}
	if snap[0].Hardware != "garex_220" {
		t.Errorf("Hardware mismatch: got %q", snap[0].Hardware)
	}

	if s.AddFrequency(freqHeathrowTower, false, "EGLL_GND", audio.SchmidED137B, PlaybackBoth) {
		t.Error("Adding an in-use frequency should fail")
	}

	s.SetRx(freqHeathrowTower, false)
	if !s.AddFrequency(freqHeathrowTower, false, "EGLL_GND", audio.SchmidED137B, PlaybackBoth) {
		t.Error("Adding over an unused frequency should succeed")
	}
	if s.OnHeadset(freqHeathrowTower) {
		t.Error("Replacement should take the new routing")
	}
}

func TestAddFrequencyATIS(t *testing.T) {
	s, _, _ := newTestStack(t)
	s.AddFrequency(128075000, true, "EGLL_ATIS", audio.SchmidED137B, PlaybackBoth)
	s.AddFrequency(freqHeathrowTower, true, "EGLL_TWR", audio.SchmidED137B, PlaybackBoth)

	if !s.IsATIS(128075000) {
		t.Error("ATIS station not detected")
	}
	if s.IsATIS(freqHeathrowTower) {
		t.Error("Tower flagged as ATIS")
	}
	if got := s.Frequencies(); !slices.Equal(got, []uint32{freqHeathrowTower, 128075000}) {
		t.Errorf("Frequencies mismatch: got %v", got)
	}
}

func TestInactiveFrequencyIsNoop(t *testing.T) {
	s, rec, _ := newTestStack(t)

	s.SetRx(999, true)
	s.SetTx(999, true)
	s.SetGain(999, 0.5)
	s.RemoveFrequency(999)

	if s.IsFrequencyActive(999) || s.RxState(999) || s.TxState(999) {
		t.Error("Operations on an inactive frequency should not create it")
	}
	if !s.OnHeadset(999) {
		t.Error("Unknown frequency should report headset routing")
	}
	if got := len(rec.all()); got != 0 {
		t.Errorf("Unexpected events: %d", got)
	}
}

func TestSetCrossCoupleAcross(t *testing.T) {
	for _, prior := range []bool{false, true} {
		s, _, _ := newTestStack(t)
		s.AddFrequency(freqHeathrowTower, true, "EGLL_TWR", audio.SchmidED137B, PlaybackBoth)
		s.SetXc(freqHeathrowTower, prior)

		s.SetCrossCoupleAcross(freqHeathrowTower, true)
		if s.XcState(freqHeathrowTower) {
			t.Errorf("xc should be off after enabling cca (prior xc %v)", prior)
		}
		if !s.CrossCoupleAcrossState(freqHeathrowTower) {
			t.Errorf("cca should be on (prior xc %v)", prior)
		}

		s.SetCrossCoupleAcross(freqHeathrowTower, false)
		if s.XcState(freqHeathrowTower) || s.CrossCoupleAcrossState(freqHeathrowTower) {
			t.Errorf("xc and cca should be off after disabling cca (prior xc %v)", prior)
		}
	}
}

func TestGainAndOutputEffects(t *testing.T) {
	s, _, _ := newTestStack(t)
	s.AddFrequency(freqHeathrowTower, true, "EGLL_TWR", audio.SchmidED137B, PlaybackBoth)
	s.AddFrequency(freqGuard, false, "GUARD", audio.SchmidED137B, PlaybackBoth)

	s.SetGainAll(0.3)
	if s.Gain(freqHeathrowTower) != 0.3 || s.Gain(freqGuard) != 0.3 {
		t.Error("SetGainAll did not reach every frequency")
	}
	s.SetGain(freqGuard, 0.8)
	if s.Gain(freqGuard) != 0.8 {
		t.Errorf("Gain mismatch: got %v, want 0.8", s.Gain(freqGuard))
	}

	s.SetEnableOutputEffects(false)
	if !s.Defaults().BypassEffects {
		t.Error("Default bypass should follow SetEnableOutputEffects")
	}
	s.AddFrequency(freqShanwick, true, "EGGX_FSS", audio.SchmidED137B, PlaybackBoth)
	for _, snap := range s.Snapshot() {
		if !snap.BypassEffects {
			t.Errorf("Frequency %d should bypass effects", snap.Frequency)
		}
	}

	s.SetPlaybackChannelAll(PlaybackRight)
	if s.PlaybackChannel(freqGuard) != PlaybackRight {
		t.Error("SetPlaybackChannelAll did not reach every frequency")
	}
}

func TestRemoveFrequencyClosesReceive(t *testing.T) {
	s, rec, _ := newTestStack(t)
	s.AddFrequency(freqHeathrowTower, true, "EGLL_TWR", audio.SchmidED137B, PlaybackBoth)

	dal := newTalker(t, "DAL123")
	s.RxVoicePacket(dal.packet(t, false, heardOn(freqHeathrowTower, 0.2)))
	rec.reset()

	s.RemoveFrequency(freqHeathrowTower)
	want := []Event{
		{Type: FrequencyRxEnd, Frequency: freqHeathrowTower},
		{Type: StationRxEnd, Frequency: freqHeathrowTower, Callsign: "DAL123"},
	}
	if got := rec.all(); !slices.Equal(got, want) {
		t.Errorf("Events mismatch: got %v, want %v", got, want)
	}
	if s.IsFrequencyActive(freqHeathrowTower) {
		t.Error("Frequency should be removed")
	}
}

func TestSetRxFalseClosesReceive(t *testing.T) {
	s, rec, _ := newTestStack(t)
	s.AddFrequency(freqHeathrowTower, true, "EGLL_TWR", audio.SchmidED137B, PlaybackBoth)

	dal := newTalker(t, "DAL123")
	baw := newTalker(t, "BAW1")
	s.RxVoicePacket(dal.packet(t, false, heardOn(freqHeathrowTower, 0.2)))
	s.RxVoicePacket(baw.packet(t, false, heardOn(freqHeathrowTower, 0.4)))
	rec.reset()

	s.SetRx(freqHeathrowTower, false)
	want := []Event{
		{Type: FrequencyRxEnd, Frequency: freqHeathrowTower},
		{Type: StationRxEnd, Frequency: freqHeathrowTower, Callsign: "DAL123"},
		{Type: StationRxEnd, Frequency: freqHeathrowTower, Callsign: "BAW1"},
	}
	if got := rec.all(); !slices.Equal(got, want) {
		t.Errorf("Events mismatch: got %v, want %v", got, want)
	}
	if !s.IsFrequencyActive(freqHeathrowTower) {
		t.Error("Frequency should stay tuned")
	}
	if got := s.LiveCallsigns(freqHeathrowTower); len(got) != 0 {
		t.Errorf("Live set should be empty, got %v", got)
	}
}

func TestReset(t *testing.T) {
	s, _, _ := newTestStack(t)
	s.AddFrequency(freqHeathrowTower, true, "EGLL_TWR", audio.SchmidED137B, PlaybackBoth)
	dal := newTalker(t, "DAL123")
	s.RxVoicePacket(dal.packet(t, false, heardOn(freqHeathrowTower, 0.2)))
	s.SetPtt(true)
	var f audio.Frame
	s.PutAudioFrame(&f)
	s.PutAudioFrame(&f)

	s.Reset()
	if len(s.Frequencies()) != 0 {
		t.Error("Frequencies should be cleared")
	}
	if s.IncomingStreams() != 0 {
		t.Error("Streams should be cleared")
	}
	if s.TxSequence() != 0 {
		t.Errorf("Sequence mismatch: got %d, want 0", s.TxSequence())
	}
	if s.Ptt() {
		t.Error("PTT should be released")
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	s, _, _ := newTestStack(t)
	s.AddFrequency(freqHeathrowTower, true, "EGLL_TWR", audio.SchmidED137B, PlaybackBoth)
	s.SetTransceivers(freqHeathrowTower, []dto.StationTransceiver{
		{ID: "a", Name: "EGLL_TWR", LatDeg: 51.47, LonDeg: -0.45},
	})

	snap := s.Snapshot()
	snap[0].Transceivers[0].LatDeg = 0

	again := s.Snapshot()
	if again[0].Transceivers[0].LatDeg != 51.47 {
		t.Errorf("Snapshot shares transceivers with the stack: got %v", again[0].Transceivers[0].LatDeg)
	}
}

func TestEventTypeString(t *testing.T) {
	names := map[EventType]string{
		FrequencyRxBegin: "FrequencyRxBegin",
		FrequencyRxEnd:   "FrequencyRxEnd",
		StationRxBegin:   "StationRxBegin",
		StationRxEnd:     "StationRxEnd",
		EventType(42):    "Unknown",
	}
	for ev, want := range names {
		if got := ev.String(); got != want {
			t.Errorf("String mismatch: got %q, want %q", got, want)
		}
	}
}
