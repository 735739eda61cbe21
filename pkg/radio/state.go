package radio

import (
	"slices"
	"strings"
	"time"

	"github.com/iancoleman/orderedmap"

	"github.com/dbehnke/atcvoice-go/pkg/audio"
	"github.com/dbehnke/atcvoice-go/pkg/dto"
)

// liveSet is the set of callsigns currently transmitting on a frequency,
// kept in the order they started.
type liveSet struct {
	m *orderedmap.OrderedMap
}

func newLiveSet() *liveSet {
	return &liveSet{m: orderedmap.New()}
}

// add reports whether callsign was not already live
func (l *liveSet) add(callsign string, at time.Time) bool {
	if _, ok := l.m.Get(callsign); ok {
		return false
	}
	l.m.Set(callsign, at)
	return true
}

// remove reports whether callsign was live
func (l *liveSet) remove(callsign string) bool {
	if _, ok := l.m.Get(callsign); !ok {
		return false
	}
	l.m.Delete(callsign)
	return true
}

func (l *liveSet) contains(callsign string) bool {
	_, ok := l.m.Get(callsign)
	return ok
}

func (l *liveSet) callsigns() []string {
	return slices.Clone(l.m.Keys())
}

func (l *liveSet) len() int {
	return len(l.m.Keys())
}

func (l *liveSet) clear() {
	l.m = orderedmap.New()
}

// effects are the per-frequency generators. They are all nil after a
// reset and created on the first frame with audible streams.
type effects struct {
	click      *audio.RecordedSampleSource
	crackle    *audio.RecordedSampleSource
	vhfNoise   *audio.RecordedSampleSource
	hfNoise    *audio.RecordedSampleSource
	acBus      *audio.RecordedSampleSource
	blockTone  *audio.SineToneSource
	filter     *audio.VHFFilter
	compressor *audio.SimpleCompressor
}

// frequencyState is one tuned frequency
type frequencyState struct {
	frequency         uint32
	gain              float32
	rx                bool
	tx                bool
	xc                bool
	crossCoupleAcross bool
	onHeadset         bool
	playbackChannel   PlaybackChannel
	hardware          audio.Hardware
	bypassEffects     bool
	hfSquelch         bool
	stationName       string
	isATIS            bool
	transceivers      []dto.Transceiver

	live                 *liveSet
	lastVoiceTime        time.Time
	lastTransmitCallsign string
	lastRxCount          int

	fx effects
}

func newFrequencyState(freq uint32) *frequencyState {
	return &frequencyState{
		frequency: freq,
		gain:      1.0,
		rx:        true,
		onHeadset: true,
		live:      newLiveSet(),
		fx:        effects{compressor: audio.NewSimpleCompressor()},
	}
}

func (f *frequencyState) isHF() bool {
	return f.frequency < hfCutoffHz
}

// unused reports whether the entry may be replaced by AddFrequency
func (f *frequencyState) unused() bool {
	return !f.tx && !f.rx && !f.xc
}

// resetFx drops the effect generators. Unless exceptClick is set the
// pending click and the receive count are cleared too.
func (f *frequencyState) resetFx(exceptClick bool) {
	if !exceptClick {
		f.fx.click = nil
		f.lastRxCount = 0
	}
	f.fx.blockTone = nil
	f.fx.crackle = nil
	f.fx.vhfNoise = nil
	f.fx.hfNoise = nil
	f.fx.acBus = nil
	f.fx.filter = nil
}

// clearReceive forgets who is transmitting and when they were last heard
func (f *frequencyState) clearReceive() {
	f.live.clear()
	f.lastVoiceTime = time.Time{}
	f.lastRxCount = 0
}

// receiving reports whether f mixed a stream on its last unmuted tick and
// is not muted by PTT now
func (f *frequencyState) receiving(ptt bool) bool {
	return f.rx && f.lastRxCount > 0 && !(ptt && f.tx)
}

// lookup returns the entry for freq; stateMutex must be held
func (s *Stack) lookup(freq uint32, op string) *frequencyState {
	st, ok := s.radios[freq]
	if !ok {
		s.log.Warn(op+" failed, frequency inactive", "frequency", freq)
	}
	return st
}

// AddFrequency tunes freq. It fails if freq is already tuned and in use;
// an entry with rx, tx and xc all off is replaced.
func (s *Stack) AddFrequency(freq uint32, onHeadset bool, stationName string, hardware audio.Hardware, channel PlaybackChannel) bool {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()

	if old, ok := s.radios[freq]; ok {
		if !old.unused() {
			s.log.Warn("addFrequency cancelled, frequency already active", "frequency", freq)
			return false
		}
		s.log.Info("addFrequency overriding unused frequency", "frequency", freq)
	}

	st := newFrequencyState(freq)
	st.onHeadset = onHeadset
	st.playbackChannel = channel
	st.stationName = stationName
	st.hardware = hardware
	st.bypassEffects = s.defaults.BypassEffects
	st.hfSquelch = s.defaults.HfSquelch
	st.isATIS = strings.Contains(stationName, "_ATIS")

	// The squelch click stays audible on the new frequency
	st.resetFx(true)

	s.radios[freq] = st
	s.insertOrder(freq)
	s.log.Info("frequency added", "frequency", freq, "station", stationName, "hardware", hardware.String())
	return true
}

// RemoveFrequency untunes freq, closing any open receive state first
func (s *Stack) RemoveFrequency(freq uint32) {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()

	st := s.lookup(freq, "removeFrequency")
	if st == nil {
		return
	}
	s.closeReceive(st)
	st.resetFx(false)
	delete(s.radios, freq)
	s.removeOrder(freq)
	s.log.Info("frequency removed", "frequency", freq)
}

// closeReceive emits FrequencyRxEnd then StationRxEnd for each live
// callsign, and clears the receive state; stateMutex must be held.
func (s *Stack) closeReceive(st *frequencyState) {
	s.emit(FrequencyRxEnd, st.frequency, "")
	for _, cs := range st.live.callsigns() {
		s.emit(StationRxEnd, st.frequency, cs)
	}
	st.clearReceive()
}

// IsFrequencyActive reports whether freq is tuned
func (s *Stack) IsFrequencyActive(freq uint32) bool {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()
	_, ok := s.radios[freq]
	return ok
}

// Frequencies returns the tuned frequencies in ascending order
func (s *Stack) Frequencies() []uint32 {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()
	return slices.Clone(s.order)
}

// SetRx enables or disables receive. Disabling closes any open receive
// state exactly as RemoveFrequency does.
func (s *Stack) SetRx(freq uint32, rx bool) {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()

	st := s.lookup(freq, "setRx")
	if st == nil {
		return
	}
	if !rx {
		s.closeReceive(st)
	}
	st.rx = rx
	s.log.Debug("setRx", "frequency", freq, "rx", rx)
}

// SetTx enables or disables transmit
func (s *Stack) SetTx(freq uint32, tx bool) {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()

	if st := s.lookup(freq, "setTx"); st != nil {
		st.tx = tx
		s.log.Debug("setTx", "frequency", freq, "tx", tx)
	}
}

// SetXc enables or disables cross-coupling
func (s *Stack) SetXc(freq uint32, xc bool) {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()

	if st := s.lookup(freq, "setXc"); st != nil {
		st.xc = xc
		s.log.Debug("setXc", "frequency", freq, "xc", xc)
	}
}

// SetCrossCoupleAcross enables or disables cross-coupling across
// frequencies. Enabling it turns plain cross-coupling off.
func (s *Stack) SetCrossCoupleAcross(freq uint32, cca bool) {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()

	st := s.lookup(freq, "setCrossCoupleAcross")
	if st == nil {
		return
	}
	st.xc = cca
	st.crossCoupleAcross = cca
	if cca {
		st.xc = false
	}
	s.log.Debug("setCrossCoupleAcross", "frequency", freq, "cca", cca)
}

// SetGain sets the linear receive gain
func (s *Stack) SetGain(freq uint32, gain float32) {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()

	if st := s.lookup(freq, "setGain"); st != nil {
		st.gain = gain
		s.log.Debug("setGain", "frequency", freq, "gain", gain)
	}
}

// SetGainAll sets the receive gain of every frequency
func (s *Stack) SetGainAll(gain float32) {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()
	for _, st := range s.radios {
		st.gain = gain
	}
	s.log.Debug("setGainAll", "gain", gain)
}

// SetOnHeadset routes freq to the headset or the speaker
func (s *Stack) SetOnHeadset(freq uint32, onHeadset bool) {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()

	if st := s.lookup(freq, "setOnHeadset"); st != nil {
		st.onHeadset = onHeadset
	}
}

// SetPlaybackChannel routes freq to one or both headset ears
func (s *Stack) SetPlaybackChannel(freq uint32, channel PlaybackChannel) {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()

	if st := s.lookup(freq, "setPlaybackChannel"); st != nil {
		st.playbackChannel = channel
	}
}

// SetPlaybackChannelAll routes every frequency to channel
func (s *Stack) SetPlaybackChannelAll(channel PlaybackChannel) {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()
	for _, st := range s.radios {
		st.playbackChannel = channel
	}
}

// SetEnableOutputEffects toggles channel effects on every frequency and
// for frequencies added later.
func (s *Stack) SetEnableOutputEffects(enable bool) {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()
	for _, st := range s.radios {
		st.bypassEffects = !enable
		if !enable {
			st.resetFx(true)
		}
	}
	s.defaults.BypassEffects = !enable
	s.log.Info("output effects", "enabled", enable)
}

// SetEnableHfSquelch toggles HF squelch on every frequency and for
// frequencies added later.
func (s *Stack) SetEnableHfSquelch(enable bool) {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()
	for _, st := range s.radios {
		st.hfSquelch = enable
	}
	s.defaults.HfSquelch = enable
	s.log.Info("hf squelch", "enabled", enable)
}

// Defaults returns the settings applied to new frequencies
func (s *Stack) Defaults() Defaults {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()
	return s.defaults
}

// RxState reports whether receive is enabled on freq
func (s *Stack) RxState(freq uint32) bool {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()
	st, ok := s.radios[freq]
	return ok && st.rx
}

// TxState reports whether transmit is enabled on freq
func (s *Stack) TxState(freq uint32) bool {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()
	st, ok := s.radios[freq]
	return ok && st.tx
}

// XcState reports whether freq is cross-coupled
func (s *Stack) XcState(freq uint32) bool {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()
	st, ok := s.radios[freq]
	return ok && st.xc
}

// CrossCoupleAcrossState reports whether freq is cross-coupled across
// frequencies
func (s *Stack) CrossCoupleAcrossState(freq uint32) bool {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()
	st, ok := s.radios[freq]
	return ok && st.crossCoupleAcross
}

// OnHeadset reports whether freq plays on the headset. Unknown
// frequencies report true.
func (s *Stack) OnHeadset(freq uint32) bool {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()
	st, ok := s.radios[freq]
	return !ok || st.onHeadset
}

// PlaybackChannel returns the headset routing of freq
func (s *Stack) PlaybackChannel(freq uint32) PlaybackChannel {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()
	if st, ok := s.radios[freq]; ok {
		return st.playbackChannel
	}
	return PlaybackBoth
}

// Gain returns the receive gain of freq, or 0 if it is not tuned
func (s *Stack) Gain(freq uint32) float32 {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()
	if st, ok := s.radios[freq]; ok {
		return st.gain
	}
	return 0
}

// TxActive reports whether freq is transmitting now
func (s *Stack) TxActive(freq uint32) bool {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()
	st, ok := s.radios[freq]
	return ok && st.tx && s.ptt.Load()
}

// RxActive reports whether freq mixed any stream on its last tick
func (s *Stack) RxActive(freq uint32) bool {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()
	st, ok := s.radios[freq]
	return ok && st.receiving(s.ptt.Load())
}

// LastTransmitOnFreq returns the last callsign heard on freq
func (s *Stack) LastTransmitOnFreq(freq uint32) string {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()
	if st, ok := s.radios[freq]; ok {
		return st.lastTransmitCallsign
	}
	return ""
}

// LiveCallsigns returns the callsigns transmitting on freq, oldest first
func (s *Stack) LiveCallsigns(freq uint32) []string {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()
	if st, ok := s.radios[freq]; ok {
		return st.live.callsigns()
	}
	return nil
}

// IsATIS reports whether freq belongs to an ATIS station
func (s *Stack) IsATIS(freq uint32) bool {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()
	st, ok := s.radios[freq]
	return ok && st.isATIS
}

// retain drops every callsign for which keep returns false
func (l *liveSet) retain(keep func(callsign string) bool) {
	for _, cs := range l.callsigns() {
		if !keep(cs) {
			l.m.Delete(cs)
		}
	}
}
