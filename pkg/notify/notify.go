// Package notify forwards radio events to outside listeners: WebSocket
// clients, an MQTT broker and a Discord text channel. Every notifier is a
// radio.Observer that queues events without blocking and publishes them
// from its own Run loop.
package notify

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dbehnke/atcvoice-go/pkg/radio"
)

// DefaultQueueSize is the number of events a notifier buffers
const DefaultQueueSize = 256

// Notifier is a radio observer with a publishing loop
type Notifier interface {
	radio.Observer
	Run(ctx context.Context) error
}

// Message is the published form of a radio event
type Message struct {
	Type         string    `json:"type"`
	Frequency    uint32    `json:"frequency"`
	FrequencyMHz string    `json:"frequency_mhz"`
	Callsign     string    `json:"callsign,omitempty"`
	Time         time.Time `json:"time"`
}

// NewMessage converts ev, stamped with at
func NewMessage(ev radio.Event, at time.Time) Message {
	return Message{
		Type:         ev.Type.String(),
		Frequency:    ev.Frequency,
		FrequencyMHz: FormatFrequency(ev.Frequency),
		Callsign:     ev.Callsign,
		Time:         at.UTC(),
	}
}

// FormatFrequency renders hz in MHz with kHz precision, e.g. "118.500"
func FormatFrequency(hz uint32) string {
	return fmt.Sprintf("%d.%03d", hz/1000000, (hz/1000)%1000)
}

// queue is a bounded event buffer. Events arriving while it is full are
// dropped so the mixer never waits on a slow listener.
type queue struct {
	ch      chan Message
	dropped atomic.Uint64
}

func newQueue(size int) *queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &queue{ch: make(chan Message, size)}
}

func (q *queue) push(m Message) bool {
	select {
	case q.ch <- m:
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// Dropped returns how many events were discarded
func (q *queue) Dropped() uint64 {
	return q.dropped.Load()
}
