package radio

import (
	"github.com/dbehnke/atcvoice-go/internal/metrics"
	"github.com/dbehnke/atcvoice-go/pkg/audio"
)

// PutAudioFrame takes one captured microphone frame. The frame is
// filtered, scaled and metered, then encoded and sent while push-to-talk
// is held and for one frame after it is released. Frames captured while
// idle still advance the transmit sequence.
func (s *Stack) PutAudioFrame(in *audio.Frame) {
	s.captureMutex.Lock()
	defer s.captureMutex.Unlock()

	f := &s.captureFrame
	if s.noiseSuppressor != nil {
		s.noiseSuppressor.TransformFrame(f, in)
	} else {
		*f = *in
	}
	audio.Scale(f, s.MicrophoneVolume())

	s.vuMeter.Add(audio.VuRatio(audio.Peak(f)))
	metrics.MicVu.Set(s.vuMeter.Average())

	ptt := s.ptt.Load()
	if !ptt && !s.lastFramePtt {
		s.txSequence.Add(1)
		return
	}

	s.sink.PutAudioFrame(f)
	s.lastFramePtt = ptt
}

// Vu returns the microphone level averaged over the last 300ms, 0 to 1
func (s *Stack) Vu() float64 {
	return s.vuMeter.Average()
}

// Peak returns the highest microphone level of the last 300ms, 0 to 1
func (s *Stack) Peak() float64 {
	return s.vuMeter.Max()
}

// SetEnableInputFilters turns microphone noise suppression on or off
func (s *Stack) SetEnableInputFilters(enable bool) {
	s.captureMutex.Lock()
	defer s.captureMutex.Unlock()

	if enable {
		if s.noiseSuppressor == nil {
			s.noiseSuppressor = audio.NewNoiseSuppressor()
		}
	} else {
		s.noiseSuppressor = nil
	}
	s.log.Info("input filters", "enabled", enable)
}

// EnableInputFilters reports whether noise suppression is on
func (s *Stack) EnableInputFilters() bool {
	s.captureMutex.Lock()
	defer s.captureMutex.Unlock()
	return s.noiseSuppressor != nil
}
