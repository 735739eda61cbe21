package radio

import (
	"math"
	"slices"
	"time"

	"github.com/dbehnke/atcvoice-go/internal/metrics"
	"github.com/dbehnke/atcvoice-go/pkg/audio"
	"github.com/dbehnke/atcvoice-go/pkg/dto"
)

// tickStream is a stream that produced a frame this tick
type tickStream struct {
	callsign     string
	transceivers []dto.RxTransceiver
	frame        int
}

// deviceState holds the buffers of one output device
type deviceState struct {
	left    audio.Frame
	right   audio.Frame
	mono    audio.Frame
	channel audio.Frame
	fetch   audio.Frame

	frames   []audio.Frame
	bySource map[*RemoteVoiceSource]int
	streams  []tickStream
	mixed    []string
}

func newDeviceState() *deviceState {
	return &deviceState{bySource: make(map[*RemoteVoiceSource]int)}
}

// streamGains are the levels one stream contributes to a frequency
type streamGains struct {
	voice   float32
	crackle float32
	hf      float32
	vhf     float32
	acBus   float32
}

// crackleFactor maps a distance ratio to a crackle level in [0, 0.2]
func crackleFactor(ratio float32) float32 {
	r := float64(ratio)
	f := math.Exp(r)*math.Pow(r, -4.0)/350.0 - 0.00776652
	return float32(math.Min(0.20, math.Max(0, f)))
}

// selectGains finds the transceivers heard on st and derives the stream's
// levels from the one with the largest distance ratio. ok is false when
// none match.
func selectGains(st *frequencyState, transceivers []dto.RxTransceiver) (g streamGains, ok bool) {
	var worst float32
	for _, t := range transceivers {
		if t.Frequency != st.frequency {
			continue
		}
		if !ok || t.DistanceRatio > worst {
			worst = t.DistanceRatio
		}
		ok = true
	}
	if !ok {
		return g, false
	}

	g.voice = 1.0
	if st.bypassEffects {
		return g, true
	}

	crackle := crackleFactor(worst)
	if st.isHF() {
		if !st.hfSquelch {
			g.hf = fxHfWhiteNoiseGain
		}
		g.acBus = fxHfAcBusGain
		g.voice = fxHfVoiceGain
	} else {
		g.vhf = fxVhfWhiteNoiseGain
		g.acBus = fxAcBusGain
		g.crackle = crackle * 2
		g.voice = 1.0 - crackle*3.7
	}
	return g, true
}

// mixEffect pulls a frame from src into dst at gain. Nothing is pulled
// for a zero gain. It returns false when src is exhausted.
func mixEffect(src audio.SampleSource, gain float32, dst, fetch *audio.Frame) bool {
	if gain <= 0 {
		return true
	}
	if src.AudioFrame(fetch) != audio.SourceOK {
		return false
	}
	audio.Mix(dst, fetch, gain)
	return true
}

// HeadsetFrame produces the next interleaved stereo headset frame
func (s *Stack) HeadsetFrame(out *audio.StereoFrame) audio.SourceStatus {
	dev := s.mix(Headset)
	audio.Interleave(&dev.left, &dev.right, out)
	return audio.SourceOK
}

// SpeakerFrame produces the next mono speaker frame
func (s *Stack) SpeakerFrame(out *audio.Frame) audio.SourceStatus {
	dev := s.mix(Speaker)
	*out = dev.mono
	return audio.SourceOK
}

// mix runs one tick for device d
func (s *Stack) mix(d Device) *deviceState {
	start := time.Now()
	dev := s.devices[d]

	s.fillCache(d, dev)

	dev.left = audio.Frame{}
	dev.right = audio.Frame{}
	dev.mono = audio.Frame{}

	ptt := s.ptt.Load()
	s.stateMutex.Lock()
	for _, freq := range s.order {
		st := s.radios[freq]
		if st.onHeadset == (d == Headset) {
			s.processRadio(d, dev, st, ptt)
		}
	}
	s.stateMutex.Unlock()

	metrics.MixDuration.WithLabelValues(d.String()).Observe(time.Since(start).Seconds())
	return dev
}

// fillCache pulls one frame from every active source of d's registry
func (s *Stack) fillCache(d Device, dev *deviceState) {
	clear(dev.bySource)
	dev.streams = dev.streams[:0]
	n := 0

	s.streamMutex.Lock()
	defer s.streamMutex.Unlock()

	for callsign, stream := range s.streams(d) {
		src := stream.source
		if src == nil || !src.IsActive() {
			continue
		}
		idx, cached := dev.bySource[src]
		if !cached {
			if n == len(dev.frames) {
				dev.frames = append(dev.frames, audio.Frame{})
			}
			if src.AudioFrame(&dev.frames[n]) != audio.SourceOK {
				continue
			}
			idx = n
			dev.bySource[src] = idx
			n++
		}
		dev.streams = append(dev.streams, tickStream{
			callsign:     callsign,
			transceivers: stream.transceivers,
			frame:        idx,
		})
	}
}

// processRadio mixes one frequency into the device buffers; stateMutex
// must be held.
func (s *Stack) processRadio(d Device, dev *deviceState, st *frequencyState, ptt bool) {
	ch := &dev.channel
	*ch = audio.Frame{}

	// A transmitting radio is muted with its effects. The receive count
	// survives so releasing PTT mid transmission does not begin again.
	if ptt && st.tx {
		rx := st.lastRxCount
		st.resetFx(false)
		st.lastRxCount = rx
		return
	}

	var crackleGain, hfGain, vhfGain, acBusGain float32
	streams := 0
	dev.mixed = dev.mixed[:0]
	for _, ts := range dev.streams {
		g, ok := selectGains(st, ts.transceivers)
		if !ok {
			continue
		}
		crackleGain += g.crackle
		hfGain, vhfGain, acBusGain = g.hf, g.vhf, g.acBus

		audio.Mix(ch, &dev.frames[ts.frame], g.voice*st.gain)
		dev.mixed = append(dev.mixed, ts.callsign)
		streams++
	}

	if streams > 0 {
		if st.lastRxCount == 0 {
			// Only stations audible now can still be live
			st.live.retain(func(cs string) bool {
				return slices.Contains(dev.mixed, cs)
			})
			s.emit(FrequencyRxBegin, st.frequency, "")
		}
		s.lastReceivedRadio.Store(st.frequency)

		if !st.bypassEffects {
			audio.Clip(ch)
			s.setRadioEffects(st)
			st.fx.filter.TransformFrame(ch, ch)
			st.fx.compressor.TransformFrame(ch, ch)

			if !mixEffect(st.fx.crackle, crackleGain*st.gain, ch, &dev.fetch) {
				st.fx.crackle = nil
			}
			if !mixEffect(st.fx.hfNoise, hfGain*st.gain, ch, &dev.fetch) {
				st.fx.hfNoise = nil
			}
			if !mixEffect(st.fx.vhfNoise, vhfGain*st.gain, ch, &dev.fetch) {
				st.fx.vhfNoise = nil
			}
			if !mixEffect(st.fx.acBus, acBusGain*st.gain, ch, &dev.fetch) {
				st.fx.acBus = nil
			}
		}

		if streams > 1 {
			if st.fx.blockTone == nil {
				st.fx.blockTone = audio.NewSineToneSource(fxBlockToneFreq)
			}
			if !mixEffect(st.fx.blockTone, fxBlockToneGain*st.gain, ch, &dev.fetch) {
				st.fx.blockTone = nil
			}
		} else {
			st.fx.blockTone = nil
		}
	} else {
		st.resetFx(true)
		if st.lastRxCount > 0 {
			st.fx.click = audio.NewRecordedSampleSource(s.resources.Click, false)
			// Stations that went quiet without a last packet end here
			for _, cs := range st.live.callsigns() {
				s.emit(StationRxEnd, st.frequency, cs)
			}
			s.emit(FrequencyRxEnd, st.frequency, "")
			st.clearReceive()
		}
	}
	st.lastRxCount = streams

	if st.fx.click != nil && !mixEffect(st.fx.click, fxClickGain*st.gain, ch, &dev.fetch) {
		st.fx.click = nil
	}

	if d == Headset {
		if st.playbackChannel == PlaybackLeft || st.playbackChannel == PlaybackBoth {
			audio.Mix(&dev.left, ch, 1)
		}
		if st.playbackChannel == PlaybackRight || st.playbackChannel == PlaybackBoth {
			audio.Mix(&dev.right, ch, 1)
		}
	} else {
		audio.Mix(&dev.mono, ch, 1)
	}
}

// setRadioEffects creates any missing effect generators
func (s *Stack) setRadioEffects(st *frequencyState) {
	if st.fx.vhfNoise == nil {
		st.fx.vhfNoise = audio.NewRecordedSampleSource(s.resources.WhiteNoise, true)
	}
	if st.fx.hfNoise == nil {
		st.fx.hfNoise = audio.NewRecordedSampleSource(s.resources.HFWhiteNoise, true)
	}
	if st.fx.crackle == nil {
		st.fx.crackle = audio.NewRecordedSampleSource(s.resources.Crackle, true)
	}
	if st.fx.acBus == nil {
		st.fx.acBus = audio.NewRecordedSampleSource(s.resources.AcBus, true)
	}
	if st.fx.filter == nil {
		st.fx.filter = audio.NewVHFFilter(st.hardware)
	}
	if st.fx.compressor == nil {
		st.fx.compressor = audio.NewSimpleCompressor()
	}
}
