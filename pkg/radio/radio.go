// Package radio simulates the receive and transmit side of an ATC radio
// stack. A Stack keeps one entry per tuned frequency, caches inbound voice
// streams per remote callsign, mixes audible streams with channel effects
// into headset and speaker frames, and captures microphone frames for
// transmission while push-to-talk is held.
//
// Lock order: the stream lock is always released before the state lock is
// taken. Events are delivered synchronously, by value, while the state
// lock is held; observers must not call back into the Stack.
package radio

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dbehnke/atcvoice-go/internal/transport"
	"github.com/dbehnke/atcvoice-go/pkg/audio"
	"github.com/dbehnke/atcvoice-go/pkg/codec"
	"github.com/dbehnke/atcvoice-go/pkg/log"
)

// Effect levels and thresholds
const (
	fxClickGain         = 1.3
	fxBlockToneGain     = 0.25
	fxBlockToneFreq     = 180
	fxAcBusGain         = 0.005
	fxHfAcBusGain       = 0.001
	fxVhfWhiteNoiseGain = 0.17
	fxHfWhiteNoiseGain  = 0.16
	fxHfVoiceGain       = 0.20

	// Frequencies below this are treated as HF
	hfCutoffHz = 30000000
)

// Timer defaults
const (
	DefaultMaintenanceInterval  = 30 * time.Second
	DefaultStreamCacheTimeout   = 60 * time.Second
	DefaultVoiceTimeoutInterval = time.Second
	DefaultVoiceTimeout         = 3 * time.Second

	// vuWindowFrames covers 300ms of capture frames
	vuWindowFrames = 300 / audio.FrameLengthMs
)

// Device selects an output device
type Device int

const (
	Headset Device = iota
	Speaker
)

func (d Device) String() string {
	if d == Headset {
		return "headset"
	}
	return "speaker"
}

// PlaybackChannel routes a headset frequency to the left, right or both ears
type PlaybackChannel int

const (
	PlaybackBoth PlaybackChannel = iota
	PlaybackLeft
	PlaybackRight
)

func (p PlaybackChannel) String() string {
	switch p {
	case PlaybackLeft:
		return "left"
	case PlaybackRight:
		return "right"
	default:
		return "both"
	}
}

// ParsePlaybackChannel converts a configuration name to a PlaybackChannel
func ParsePlaybackChannel(s string) (PlaybackChannel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "both":
		return PlaybackBoth, nil
	case "left":
		return PlaybackLeft, nil
	case "right":
		return PlaybackRight, nil
	default:
		return PlaybackBoth, fmt.Errorf("unknown playback channel %q", s)
	}
}

// Defaults are applied to every newly added frequency
type Defaults struct {
	BypassEffects bool
	HfSquelch     bool
}

// Config holds the settings a Stack is created with
type Config struct {
	Callsign     string
	Defaults     Defaults
	MicVolume    float32
	InputFilters bool
	Bitrate      int

	// Resources are the effect recordings; nil uses synthesized ones
	Resources *audio.EffectResources

	StreamCacheTimeout time.Duration
	VoiceTimeout       time.Duration

	// Clock returns the current time; nil uses time.Now
	Clock func() time.Time
}

// DefaultConfig returns a default stack configuration
func DefaultConfig() *Config {
	return &Config{
		MicVolume:          1.0,
		InputFilters:       true,
		Bitrate:            codec.DefaultBitrate,
		StreamCacheTimeout: DefaultStreamCacheTimeout,
		VoiceTimeout:       DefaultVoiceTimeout,
	}
}

// position is the client location used for frequencies without
// transceivers of their own
type position struct {
	lat, lon, mslM, aglM float64
}

// Stack is the radio simulation
type Stack struct {
	log        *log.Logger
	resources  *audio.EffectResources
	now        func() time.Time
	newDecoder func() (codec.Decoder, error)

	streamCacheTimeout time.Duration
	voiceTimeout       time.Duration

	// Guarded by stateMutex
	stateMutex sync.Mutex
	radios     map[uint32]*frequencyState
	order      []uint32
	defaults   Defaults
	clientPos  position

	// Guarded by streamMutex
	streamMutex    sync.Mutex
	headsetStreams map[string]*incomingStream
	speakerStreams map[string]*incomingStream

	// Each device state is only touched by that device's tick
	devices [2]*deviceState

	observerMutex sync.RWMutex
	observers     []Observer

	channelMutex sync.RWMutex
	channel      transport.DtoChannel
	callsign     string

	ptt               atomic.Bool
	txSequence        atomic.Uint32
	micVolume         atomic.Uint32
	lastReceivedRadio atomic.Uint32

	// Guarded by captureMutex
	captureMutex    sync.Mutex
	lastFramePtt    bool
	noiseSuppressor *audio.NoiseSuppressor
	captureFrame    audio.Frame
	vuMeter         *audio.RollingAverage

	sink *VoiceCompressionSink
}

// New creates a radio stack
func New(config *Config, lg *log.Logger) (*Stack, error) {
	if config == nil {
		config = DefaultConfig()
	}

	res := config.Resources
	if res == nil {
		res = audio.SynthesizeEffectResources(1)
	} else if err := res.Validate(); err != nil {
		return nil, err
	}

	s := &Stack{
		log:                lg.With("component", "radio"),
		resources:          res,
		now:                config.Clock,
		newDecoder:         codec.NewDecoder,
		streamCacheTimeout: config.StreamCacheTimeout,
		voiceTimeout:       config.VoiceTimeout,
		radios:             make(map[uint32]*frequencyState),
		defaults:           config.Defaults,
		headsetStreams:     make(map[string]*incomingStream),
		speakerStreams:     make(map[string]*incomingStream),
		devices:            [2]*deviceState{newDeviceState(), newDeviceState()},
		callsign:           config.Callsign,
		vuMeter:            audio.NewRollingAverage(vuWindowFrames),
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.streamCacheTimeout <= 0 {
		s.streamCacheTimeout = DefaultStreamCacheTimeout
	}
	if s.voiceTimeout <= 0 {
		s.voiceTimeout = DefaultVoiceTimeout
	}

	volume := config.MicVolume
	if volume == 0 {
		volume = 1
	}
	s.SetMicrophoneVolume(volume)
	s.SetEnableInputFilters(config.InputFilters)

	bitrate := config.Bitrate
	if bitrate == 0 {
		bitrate = codec.DefaultBitrate
	}
	sink, err := NewVoiceCompressionSink(bitrate, s.processCompressedFrame)
	if err != nil {
		return nil, fmt.Errorf("failed to create voice sink: %w", err)
	}
	s.sink = sink

	return s, nil
}

// SetCallsign sets the callsign sent with transmitted audio
func (s *Stack) SetCallsign(callsign string) {
	s.channelMutex.Lock()
	s.callsign = callsign
	s.channelMutex.Unlock()
	s.log.Info("callsign set", "callsign", callsign)
}

// Callsign returns the callsign sent with transmitted audio
func (s *Stack) Callsign() string {
	s.channelMutex.RLock()
	defer s.channelMutex.RUnlock()
	return s.callsign
}

// SetClientPosition sets the position used for frequencies without
// transceivers
func (s *Stack) SetClientPosition(lat, lon, mslM, aglM float64) {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()
	s.clientPos = position{lat: lat, lon: lon, mslM: mslM, aglM: aglM}
}

// SetPtt asserts or releases push-to-talk
func (s *Stack) SetPtt(pressed bool) {
	s.ptt.Store(pressed)
}

// Ptt reports whether push-to-talk is held
func (s *Stack) Ptt() bool {
	return s.ptt.Load()
}

// TxSequence returns the next transmit sequence number
func (s *Stack) TxSequence() uint32 {
	return s.txSequence.Load()
}

// SetMicrophoneVolume sets the linear gain applied to captured frames
func (s *Stack) SetMicrophoneVolume(volume float32) {
	s.micVolume.Store(math.Float32bits(volume))
}

// MicrophoneVolume returns the capture gain
func (s *Stack) MicrophoneVolume() float32 {
	return math.Float32frombits(s.micVolume.Load())
}

// LastReceivedRadio returns the most recent frequency that mixed audio,
// or 0 if none has.
func (s *Stack) LastReceivedRadio() uint32 {
	return s.lastReceivedRadio.Load()
}

// SetChannel attaches the voice channel used to send and receive audio.
// The inbound audio handler moves from the old channel to the new one.
func (s *Stack) SetChannel(ch transport.DtoChannel) {
	s.channelMutex.Lock()
	defer s.channelMutex.Unlock()
	if s.channel != nil {
		s.channel.UnregisterHandler(dtoNameAudioRx)
	}
	s.channel = ch
	if ch != nil {
		ch.RegisterHandler(dtoNameAudioRx, s.handleAudioRx)
	}
}

func (s *Stack) voiceChannel() (transport.DtoChannel, string) {
	s.channelMutex.RLock()
	defer s.channelMutex.RUnlock()
	return s.channel, s.callsign
}

// Reset clears all frequencies and streams and rewinds the transmit state.
// A mix tick already in progress completes against the old state.
func (s *Stack) Reset() {
	s.streamMutex.Lock()
	clear(s.headsetStreams)
	clear(s.speakerStreams)
	s.streamMutex.Unlock()

	s.stateMutex.Lock()
	clear(s.radios)
	s.order = nil
	s.stateMutex.Unlock()

	s.txSequence.Store(0)
	s.ptt.Store(false)

	s.captureMutex.Lock()
	s.lastFramePtt = false
	s.captureMutex.Unlock()

	if err := s.sink.Reset(); err != nil {
		s.log.Errorf("failed to reset voice codec: %v", err)
	}
	s.log.Info("radio stack reset")
}

// insertOrder keeps s.order sorted; stateMutex must be held
func (s *Stack) insertOrder(freq uint32) {
	i, found := slices.BinarySearch(s.order, freq)
	if !found {
		s.order = slices.Insert(s.order, i, freq)
	}
}

// removeOrder drops freq from s.order; stateMutex must be held
func (s *Stack) removeOrder(freq uint32) {
	if i, found := slices.BinarySearch(s.order, freq); found {
		s.order = slices.Delete(s.order, i, i+1)
	}
}
