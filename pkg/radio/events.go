package radio

import (
	"github.com/dbehnke/atcvoice-go/internal/metrics"
)

// EventType identifies a receive state transition
type EventType int

const (
	FrequencyRxBegin EventType = iota
	FrequencyRxEnd
	StationRxBegin
	StationRxEnd
)

func (e EventType) String() string {
	switch e {
	case FrequencyRxBegin:
		return "FrequencyRxBegin"
	case FrequencyRxEnd:
		return "FrequencyRxEnd"
	case StationRxBegin:
		return "StationRxBegin"
	case StationRxEnd:
		return "StationRxEnd"
	default:
		return "Unknown"
	}
}

// Event is a receive state transition. Callsign is empty for frequency
// events.
type Event struct {
	Type      EventType
	Frequency uint32
	Callsign  string
}

// Observer receives events on the goroutine that detected them. It must
// return quickly and must not call back into the Stack.
type Observer interface {
	OnRadioEvent(ev Event)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(ev Event)

// OnRadioEvent calls f(ev)
func (f ObserverFunc) OnRadioEvent(ev Event) {
	f(ev)
}

// AddObserver registers o for all future events
func (s *Stack) AddObserver(o Observer) {
	s.observerMutex.Lock()
	defer s.observerMutex.Unlock()
	s.observers = append(s.observers, o)
}

func (s *Stack) emit(t EventType, freq uint32, callsign string) {
	ev := Event{Type: t, Frequency: freq, Callsign: callsign}
	metrics.Events.WithLabelValues(t.String()).Inc()
	if callsign == "" {
		s.log.Info("radio event", "type", t.String(), "frequency", freq)
	} else {
		s.log.Info("radio event", "type", t.String(), "frequency", freq, "callsign", callsign)
	}

	s.observerMutex.RLock()
	defer s.observerMutex.RUnlock()
	for _, o := range s.observers {
		o.OnRadioEvent(ev)
	}
}
