// Package metrics holds the Prometheus collectors shared by the transport
// and the radio stack. Collectors register with the default registry when
// the package is loaded; cmd/atcvoice serves them with promhttp.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Reject reasons for DatagramsRejected
const (
	ReasonOversize   = "oversize"
	ReasonEmpty      = "empty"
	ReasonMalformed  = "malformed"
	ReasonCipherMode = "cipher_mode"
	ReasonChannelTag = "channel_tag"
	ReasonReplay     = "replay"
	ReasonLength     = "length"
	ReasonNoHandler  = "no_handler"
)

var (
	DatagramsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atcvoice_datagrams_received_total",
		Help: "Datagrams read from the voice channel",
	})

	DatagramsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atcvoice_datagrams_rejected_total",
		Help: "Datagrams dropped by the framing layer, by reason",
	}, []string{"reason"})

	DatagramsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atcvoice_datagrams_sent_total",
		Help: "Datagrams written to the voice channel, by DTO name",
	}, []string{"dto"})

	DatagramsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atcvoice_datagrams_dropped_total",
		Help: "Outbound datagrams lost to short writes or socket errors",
	})

	VoicePackets = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atcvoice_voice_packets_total",
		Help: "Inbound voice packets, by outcome (accepted or ignored)",
	}, []string{"outcome"})

	IncomingStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "atcvoice_incoming_streams",
		Help: "Inbound voice streams held in the headset registry",
	})

	MixDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "atcvoice_mix_duration_seconds",
		Help:    "Time spent producing one output frame",
		Buckets: []float64{0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.02},
	}, []string{"device"})

	Events = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atcvoice_events_total",
		Help: "Radio events emitted, by type",
	}, []string{"type"})

	MicVu = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "atcvoice_mic_vu_ratio",
		Help: "Microphone VU level, 0 to 1",
	})
)
