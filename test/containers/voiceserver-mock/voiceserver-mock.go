// Mock Voice Server for Integration Testing
//
// Speaks the sealed voice channel protocol to a single client: answers
// heartbeats, optionally echoes transmitted audio back on a frequency and
// injects a keyed test pattern from a fake aircraft.
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"math"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/dbehnke/atcvoice-go/pkg/audio"
	"github.com/dbehnke/atcvoice-go/pkg/codec"
	"github.com/dbehnke/atcvoice-go/pkg/cryptodto"
	"github.com/dbehnke/atcvoice-go/pkg/dto"
)

type TestPattern string

const (
	PatternSilence   TestPattern = "silence"
	PatternSine440Hz TestPattern = "sine_440hz"
	PatternSine1kHz  TestPattern = "sine_1khz"
	PatternSweep     TestPattern = "frequency_sweep"
)

type VoiceServerMock struct {
	sessionID  string
	listenPort int
	frequency  uint32
	callsign   string
	pattern    TestPattern
	echo       bool
	ratio      float32

	// Network
	conn    *net.UDPConn
	client  *net.UDPAddr
	channel *cryptodto.Channel
	rxSeq   *cryptodto.SequenceTest
	txSeq   uint64

	// Audio generation
	encoder    codec.Encoder
	audioPhase float64
	voiceSeq   uint32
	keyed      bool

	// Control
	running bool
	mutex   sync.RWMutex

	// Statistics
	stats struct {
		heartbeats      uint64
		audioReceived   uint64
		audioSent       uint64
		replaysRejected uint64
		errors          uint64
		startTime       time.Time
	}
}

func NewVoiceServerMock(config cryptodto.ChannelConfig) (*VoiceServerMock, error) {
	channel, err := cryptodto.NewChannel(config)
	if err != nil {
		return nil, err
	}
	encoder, err := codec.NewEncoder(codec.DefaultBitrate)
	if err != nil {
		return nil, err
	}
	return &VoiceServerMock{
		sessionID:  uuid.NewString(),
		listenPort: 50000,
		frequency:  118500000,
		callsign:   "MOCK01",
		pattern:    PatternSine440Hz,
		ratio:      1.0,
		channel:    channel,
		rxSeq:      cryptodto.NewSequenceTest(cryptodto.DefaultHistorySize),
		encoder:    encoder,
	}, nil
}

func (m *VoiceServerMock) Start() error {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf(":%d", m.listenPort))
	if err != nil {
		return fmt.Errorf("failed to resolve listen address: %w", err)
	}

	m.conn, err = net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP: %w", err)
	}

	m.running = true
	m.stats.startTime = time.Now()

	log.Printf("Voice server mock session %s started on port %d", m.sessionID, m.listenPort)
	log.Printf("Channel tag: %s", m.channel.Tag())
	log.Printf("Frequency: %d Hz, pattern: %s, echo: %v", m.frequency, m.pattern, m.echo)

	go m.receivePackets()
	go m.generateAudio()
	go m.statisticsReporter()

	return nil
}

func (m *VoiceServerMock) Stop() {
	m.mutex.Lock()
	m.running = false
	m.mutex.Unlock()

	if m.conn != nil {
		m.conn.Close()
	}

	log.Printf("Voice server mock session %s stopped", m.sessionID)
}

func (m *VoiceServerMock) receivePackets() {
	buffer := make([]byte, cryptodto.MaxDatagramSize)

	for m.isRunning() {
		m.conn.SetReadDeadline(time.Now().Add(1 * time.Second))
		n, remoteAddr, err := m.conn.ReadFromUDP(buffer)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			log.Printf("UDP read error: %v", err)
			m.incrementErrors()
			continue
		}

		if err := m.handleDatagram(buffer[:n], remoteAddr); err != nil {
			log.Printf("Datagram handling error: %v", err)
			m.incrementErrors()
		}
	}
}

func (m *VoiceServerMock) handleDatagram(data []byte, remoteAddr *net.UDPAddr) error {
	frame, err := m.channel.Decapsulate(data)
	if err != nil {
		return err
	}
	if frame.Header.ChannelTag != m.channel.Tag() {
		return fmt.Errorf("unknown channel tag %q", frame.Header.ChannelTag)
	}

	m.mutex.Lock()
	outcome := m.rxSeq.Received(frame.Header.Sequence)
	if outcome == cryptodto.Before {
		m.stats.replaysRejected++
		m.mutex.Unlock()
		return nil
	}
	m.client = remoteAddr
	m.mutex.Unlock()

	switch frame.Name {
	case dto.NameHeartbeat:
		var hb dto.Heartbeat
		if err := frame.DecodeDto(&hb); err != nil {
			return err
		}
		m.mutex.Lock()
		m.stats.heartbeats++
		m.mutex.Unlock()
		return m.send(dto.NameHeartbeatAck, &dto.HeartbeatAck{})

	case dto.NameAudioTx:
		var tx dto.AudioTxOnTransceivers
		if err := frame.DecodeDto(&tx); err != nil {
			return err
		}
		m.mutex.Lock()
		m.stats.audioReceived++
		m.mutex.Unlock()
		if tx.LastPacket {
			log.Printf("Transmission from %s ended at sequence %d", tx.Callsign, tx.SequenceCounter)
		}
		if !m.echo {
			return nil
		}
		return m.send(dto.NameAudioRx, &dto.AudioRxOnTransceivers{
			Callsign:        tx.Callsign + "_ECHO",
			SequenceCounter: tx.SequenceCounter,
			Audio:           tx.Audio,
			LastPacket:      tx.LastPacket,
			Transceivers:    []dto.RxTransceiver{{ID: 0, Frequency: m.frequency, DistanceRatio: m.ratio}},
		})

	default:
		log.Printf("Received unknown dto: %s", frame.Name)
	}
	return nil
}

func (m *VoiceServerMock) generateAudio() {
	ticker := time.NewTicker(audio.FrameLengthMs * time.Millisecond)
	defer ticker.Stop()

	var frame audio.Frame
	for range ticker.C {
		if !m.isRunning() {
			return
		}
		if m.pattern == PatternSilence || !m.hasClient() {
			continue
		}

		keyed := m.isPTTActive()
		if !keyed && !m.keyed {
			continue
		}

		m.generateAudioFrame(&frame)
		data, err := m.encoder.Encode(&frame)
		if err != nil {
			log.Printf("Failed to encode frame: %v", err)
			m.incrementErrors()
			continue
		}

		pkt := &dto.AudioRxOnTransceivers{
			Callsign:        m.callsign,
			SequenceCounter: m.voiceSeq,
			Audio:           data,
			LastPacket:      !keyed,
			Transceivers:    []dto.RxTransceiver{{ID: 0, Frequency: m.frequency, DistanceRatio: m.ratio}},
		}
		m.voiceSeq++
		m.keyed = keyed

		if err := m.send(dto.NameAudioRx, pkt); err != nil {
			log.Printf("Failed to send voice packet: %v", err)
			m.incrementErrors()
		}
	}
}

func (m *VoiceServerMock) generateAudioFrame(frame *audio.Frame) {
	switch m.pattern {
	case PatternSine440Hz:
		m.generateSineWave(frame, 440.0)
	case PatternSine1kHz:
		m.generateSineWave(frame, 1000.0)
	case PatternSweep:
		m.generateFrequencySweep(frame)
	default:
		*frame = audio.Frame{}
	}
}

func (m *VoiceServerMock) generateSineWave(frame *audio.Frame, frequency float64) {
	const amplitude = 0.5 // -6dB from full scale

	for i := range frame {
		frame[i] = float32(amplitude * math.Sin(m.audioPhase))

		m.audioPhase += 2.0 * math.Pi * frequency / audio.SampleRateHz
		if m.audioPhase > 2.0*math.Pi {
			m.audioPhase -= 2.0 * math.Pi
		}
	}
}

func (m *VoiceServerMock) generateFrequencySweep(frame *audio.Frame) {
	// Sweep the voice band every 10 seconds
	startFreq := 300.0
	endFreq := 3000.0

	elapsed := time.Since(m.stats.startTime).Seconds()
	progress := math.Mod(elapsed, 10.0) / 10.0

	m.generateSineWave(frame, startFreq+(endFreq-startFreq)*progress)
}

func (m *VoiceServerMock) send(name string, v any) error {
	m.mutex.Lock()
	client := m.client
	seq := m.txSeq
	m.txSeq++
	m.mutex.Unlock()

	if client == nil {
		return nil
	}

	data, err := m.channel.EncapsulateDto(nil, seq, cryptodto.ModeChaCha20Poly1305, name, v)
	if err != nil {
		return fmt.Errorf("failed to encapsulate %s: %w", name, err)
	}
	if _, err := m.conn.WriteToUDP(data, client); err != nil {
		return fmt.Errorf("failed to send UDP packet: %w", err)
	}

	if name == dto.NameAudioRx {
		m.mutex.Lock()
		m.stats.audioSent++
		m.mutex.Unlock()
	}
	return nil
}

func (m *VoiceServerMock) statisticsReporter() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		if !m.isRunning() {
			return
		}
		m.printStatistics()
	}
}

func (m *VoiceServerMock) printStatistics() {
	m.mutex.RLock()
	uptime := time.Since(m.stats.startTime)
	stats := m.stats
	client := m.client
	m.mutex.RUnlock()

	log.Printf("=== Voice Server Mock %s Statistics ===", m.sessionID)
	log.Printf("Uptime: %v", uptime.Round(time.Second))
	log.Printf("Client: %v", client)
	log.Printf("Heartbeats: %d", stats.heartbeats)
	log.Printf("Audio Received: %d", stats.audioReceived)
	log.Printf("Audio Sent: %d", stats.audioSent)
	log.Printf("Replays Rejected: %d", stats.replaysRejected)
	log.Printf("Errors: %d", stats.errors)
	log.Printf("=======================================")
}

// Helper methods
func (m *VoiceServerMock) isRunning() bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.running
}

func (m *VoiceServerMock) hasClient() bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.client != nil
}

func (m *VoiceServerMock) isPTTActive() bool {
	// 3 seconds keyed, 2 seconds quiet
	elapsed := int(time.Since(m.stats.startTime).Seconds())
	return elapsed%5 < 3
}

func (m *VoiceServerMock) incrementErrors() {
	m.mutex.Lock()
	m.stats.errors++
	m.mutex.Unlock()
}

func main() {
	var (
		listenPort  = flag.Int("listen-port", 50000, "UDP listen port")
		channelTag  = flag.String("channel-tag", "", "Channel tag shared with the client")
		transmitKey = flag.String("transmit-key", "", "Client transmit key (hex)")
		receiveKey  = flag.String("receive-key", "", "Client receive key (hex)")
		frequency   = flag.Uint("frequency", 118500000, "Frequency in Hz the test pattern is heard on")
		callsign    = flag.String("callsign", "MOCK01", "Callsign of the injected transmissions")
		pattern     = flag.String("pattern", "sine_440hz", "Test pattern (silence, sine_440hz, sine_1khz, frequency_sweep)")
		echo        = flag.Bool("echo", false, "Echo client transmissions back")
		ratio       = flag.Float64("distance-ratio", 1.0, "Distance ratio reported for injected audio")
	)
	flag.Parse()

	tx, err := hex.DecodeString(*transmitKey)
	if err != nil {
		log.Fatalf("Invalid transmit key: %v", err)
	}
	rx, err := hex.DecodeString(*receiveKey)
	if err != nil {
		log.Fatalf("Invalid receive key: %v", err)
	}
	// Keys are given from the client's side
	client := cryptodto.ChannelConfig{ChannelTag: *channelTag, AeadTransmitKey: tx, AeadReceiveKey: rx}

	mock, err := NewVoiceServerMock(client.Reverse())
	if err != nil {
		log.Fatalf("Failed to create mock: %v", err)
	}
	mock.listenPort = *listenPort
	mock.frequency = uint32(*frequency)
	mock.callsign = *callsign
	mock.pattern = TestPattern(*pattern)
	mock.echo = *echo
	mock.ratio = float32(*ratio)

	if err := mock.Start(); err != nil {
		log.Fatalf("Failed to start mock: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	log.Println("Shutting down...")
	mock.Stop()
}
