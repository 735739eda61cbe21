package radio

import (
	"context"
	"time"

	"github.com/dbehnke/atcvoice-go/internal/metrics"
)

// MaintainIncomingStreams drops cached streams that have been idle longer
// than the stream cache timeout. Each registry is swept independently.
func (s *Stack) MaintainIncomingStreams() {
	now := s.now()

	s.streamMutex.Lock()
	defer s.streamMutex.Unlock()

	purged := 0
	for _, reg := range []map[string]*incomingStream{s.headsetStreams, s.speakerStreams} {
		for callsign, stream := range reg {
			if now.Sub(stream.source.LastActivity()) > s.streamCacheTimeout {
				delete(reg, callsign)
				purged++
			}
		}
	}
	metrics.IncomingStreams.Set(float64(len(s.headsetStreams)))
	if purged > 0 {
		s.log.Debug("purged idle streams", "count", purged)
	}
}

// MaintainVoiceTimeout closes the receive state of frequencies that have
// not heard a packet within the voice timeout.
func (s *Stack) MaintainVoiceTimeout() {
	now := s.now()

	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()

	for _, freq := range s.order {
		st := s.radios[freq]
		if st.lastVoiceTime.IsZero() {
			continue
		}
		if now.Sub(st.lastVoiceTime) < s.voiceTimeout {
			continue
		}

		s.log.Info("voice timeout", "frequency", freq, "live", st.live.len())
		for _, cs := range st.live.callsigns() {
			s.emit(StationRxEnd, freq, cs)
		}
		s.emit(FrequencyRxEnd, freq, "")
		st.clearReceive()
	}
}

// Run drives the maintenance timers until ctx is done
func (s *Stack) Run(ctx context.Context) error {
	return s.RunWithIntervals(ctx, DefaultMaintenanceInterval, DefaultVoiceTimeoutInterval)
}

// RunWithIntervals is Run with explicit timer periods
func (s *Stack) RunWithIntervals(ctx context.Context, maintenance, voiceTimeout time.Duration) error {
	streamTicker := time.NewTicker(maintenance)
	defer streamTicker.Stop()
	voiceTicker := time.NewTicker(voiceTimeout)
	defer voiceTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-streamTicker.C:
			s.MaintainIncomingStreams()
		case <-voiceTicker.C:
			s.MaintainVoiceTimeout()
		}
	}
}
