package radio

import (
	"time"

	"github.com/brunoga/deep"

	"github.com/dbehnke/atcvoice-go/pkg/dto"
)

// SetTransceivers replaces the transceivers of freq. IDs are assigned
// when the list is published by MakeTransceiverDto.
func (s *Stack) SetTransceivers(freq uint32, transceivers []dto.StationTransceiver) {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()

	st := s.lookup(freq, "setTransceivers")
	if st == nil {
		return
	}
	st.transceivers = st.transceivers[:0:0]
	for _, t := range transceivers {
		st.transceivers = append(st.transceivers, dto.Transceiver{
			ID:         0,
			Frequency:  freq,
			LatDeg:     t.LatDeg,
			LonDeg:     t.LonDeg,
			HeightMslM: t.HeightMslM,
			HeightAglM: t.HeightAglM,
		})
	}
	s.log.Debug("transceivers set", "frequency", freq, "count", len(transceivers))
}

// StationTransceiverUpdate applies a lookup result to the frequency
// tuned to station. Empty results are ignored.
func (s *Stack) StationTransceiverUpdate(station string, transceivers map[string][]dto.StationTransceiver) {
	list := transceivers[station]
	if len(list) == 0 {
		return
	}

	s.stateMutex.Lock()
	var freq uint32
	found := false
	for _, f := range s.order {
		if s.radios[f].stationName == station {
			freq, found = f, true
			break
		}
	}
	s.stateMutex.Unlock()

	if found {
		s.SetTransceivers(freq, list)
	}
}

// TransceiverCountForFrequency returns how many transceivers freq has
func (s *Stack) TransceiverCountForFrequency(freq uint32) int {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()
	if st, ok := s.radios[freq]; ok {
		return len(st.transceivers)
	}
	return 0
}

// MakeTransceiverDto numbers the transceivers of every receive-enabled
// frequency densely from 0 and returns them. A frequency without
// transceivers gets one at the client position, which is kept.
func (s *Stack) MakeTransceiverDto() []dto.Transceiver {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()

	var out []dto.Transceiver
	var id uint16
	for _, freq := range s.order {
		st := s.radios[freq]
		if !st.rx {
			continue
		}

		if len(st.transceivers) == 0 {
			t := dto.Transceiver{
				ID:         id,
				Frequency:  freq,
				LatDeg:     s.clientPos.lat,
				LonDeg:     s.clientPos.lon,
				HeightMslM: s.clientPos.mslM,
				HeightAglM: s.clientPos.aglM,
			}
			out = append(out, t)
			st.transceivers = []dto.Transceiver{t}
			id++
			continue
		}

		for i := range st.transceivers {
			st.transceivers[i].ID = id
			out = append(out, st.transceivers[i])
			id++
		}
	}
	return out
}

// MakeCrossCoupleGroupDto builds the cross-couple groups. Group 0 holds
// every cross-couple-across transceiver; each cross-coupled frequency
// gets its own group after that. Only frequencies with tx and rx enabled
// and at least one transceiver take part.
func (s *Stack) MakeCrossCoupleGroupDto() []dto.CrossCoupleGroup {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()

	out := []dto.CrossCoupleGroup{{ID: 0, TransceiverIDs: []uint16{}}}
	var index uint16 = 1
	for _, freq := range s.order {
		st := s.radios[freq]
		if !st.xc && !st.crossCoupleAcross {
			continue
		}
		if !st.tx || !st.rx || len(st.transceivers) == 0 {
			continue
		}

		if st.crossCoupleAcross {
			for _, t := range st.transceivers {
				out[0].TransceiverIDs = append(out[0].TransceiverIDs, t.ID)
			}
			continue
		}

		group := dto.CrossCoupleGroup{ID: index}
		for _, t := range st.transceivers {
			group.TransceiverIDs = append(group.TransceiverIDs, t.ID)
		}
		out = append(out, group)
		index++
	}
	return out
}

// txTransceivers lists the transceivers of every transmit-enabled
// frequency; stateMutex must be held.
func (s *Stack) txTransceivers() []dto.TxTransceiver {
	var out []dto.TxTransceiver
	for _, freq := range s.order {
		st := s.radios[freq]
		if !st.tx {
			continue
		}
		for _, t := range st.transceivers {
			out = append(out, dto.TxTransceiver{ID: t.ID})
		}
	}
	return out
}

// FrequencySnapshot is a copy of one frequency's configuration and
// receive state
type FrequencySnapshot struct {
	Frequency            uint32
	StationName          string
	Gain                 float32
	Rx                   bool
	Tx                   bool
	Xc                   bool
	CrossCoupleAcross    bool
	OnHeadset            bool
	PlaybackChannel      PlaybackChannel
	Hardware             string
	BypassEffects        bool
	HfSquelch            bool
	IsATIS               bool
	Transceivers         []dto.Transceiver
	LiveCallsigns        []string
	LastTransmitCallsign string
	LastVoiceTime        time.Time
	Receiving            bool
}

// Snapshot copies the state of every frequency in ascending order
func (s *Stack) Snapshot() []FrequencySnapshot {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()

	ptt := s.ptt.Load()
	out := make([]FrequencySnapshot, 0, len(s.order))
	for _, freq := range s.order {
		st := s.radios[freq]
		out = append(out, FrequencySnapshot{
			Frequency:            freq,
			StationName:          st.stationName,
			Gain:                 st.gain,
			Rx:                   st.rx,
			Tx:                   st.tx,
			Xc:                   st.xc,
			CrossCoupleAcross:    st.crossCoupleAcross,
			OnHeadset:            st.onHeadset,
			PlaybackChannel:      st.playbackChannel,
			Hardware:             st.hardware.String(),
			BypassEffects:        st.bypassEffects,
			HfSquelch:            st.hfSquelch,
			IsATIS:               st.isATIS,
			Transceivers:         deep.MustCopy(st.transceivers),
			LiveCallsigns:        st.live.callsigns(),
			LastTransmitCallsign: st.lastTransmitCallsign,
			LastVoiceTime:        st.lastVoiceTime,
			Receiving:            st.receiving(ptt),
		})
	}
	return out
}
