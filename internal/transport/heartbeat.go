package transport

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/dbehnke/atcvoice-go/pkg/dto"
	"github.com/dbehnke/atcvoice-go/pkg/log"
)

// ErrHeartbeatTimeout is returned by HeartbeatKeeper.Run when the server
// stops acknowledging heartbeats.
var ErrHeartbeatTimeout = errors.New("heartbeat timeout")

// HeartbeatConfig controls the voice session keepalive
type HeartbeatConfig struct {
	Callsign string
	Interval time.Duration
	Timeout  time.Duration
}

// DefaultHeartbeatConfig returns the intervals used by the voice servers
func DefaultHeartbeatConfig(callsign string) HeartbeatConfig {
	return HeartbeatConfig{
		Callsign: callsign,
		Interval: 5 * time.Second,
		Timeout:  45 * time.Second,
	}
}

// HeartbeatKeeper sends heartbeats on a channel and watches for acks
type HeartbeatKeeper struct {
	channel DtoChannel
	config  HeartbeatConfig
	lastAck atomic.Int64
	log     *log.Logger
}

// NewHeartbeatKeeper creates a keeper for channel
func NewHeartbeatKeeper(channel DtoChannel, config HeartbeatConfig, lg *log.Logger) *HeartbeatKeeper {
	hk := &HeartbeatKeeper{
		channel: channel,
		config:  config,
		log:     lg.With("component", "heartbeat"),
	}
	hk.lastAck.Store(time.Now().UnixNano())
	return hk
}

// LastAck returns when the server last acknowledged a heartbeat
func (hk *HeartbeatKeeper) LastAck() time.Time {
	return time.Unix(0, hk.lastAck.Load())
}

// Run sends a heartbeat every interval until ctx is done or the ack
// deadline passes.
func (hk *HeartbeatKeeper) Run(ctx context.Context) error {
	hk.lastAck.Store(time.Now().UnixNano())
	hk.channel.RegisterHandler(dto.NameHeartbeatAck, func([]byte) {
		hk.lastAck.Store(time.Now().UnixNano())
	})
	defer hk.channel.UnregisterHandler(dto.NameHeartbeatAck)

	ticker := time.NewTicker(hk.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if elapsed := time.Since(hk.LastAck()); elapsed > hk.config.Timeout {
				hk.log.Warn("heartbeat timeout, disconnecting", "elapsed", elapsed)
				return ErrHeartbeatTimeout
			}
			if !hk.channel.IsOpen() {
				continue
			}
			if err := hk.channel.SendDto(dto.NameHeartbeat, &dto.Heartbeat{Callsign: hk.config.Callsign}); err != nil {
				hk.log.Warn("failed to send heartbeat", "error", err)
			}
		}
	}
}
