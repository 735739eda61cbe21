// Example usage of the atcvoice libraries: sealed DTO framing, the replay
// window and a radio stack talking to an in-process echo server.
package main

import (
	"bytes"
	"fmt"
	"io"
	stdlog "log"
	"os"

	"github.com/dbehnke/atcvoice-go/internal/transport"
	"github.com/dbehnke/atcvoice-go/pkg/audio"
	"github.com/dbehnke/atcvoice-go/pkg/codec"
	"github.com/dbehnke/atcvoice-go/pkg/cryptodto"
	"github.com/dbehnke/atcvoice-go/pkg/dto"
	"github.com/dbehnke/atcvoice-go/pkg/log"
	"github.com/dbehnke/atcvoice-go/pkg/radio"
)

func main() {
	fmt.Println("atcvoice Go Library - Example Usage")
	fmt.Println("===================================")
	fmt.Printf("Codec: %s\n", codec.Name)

	if err := runProtocolTests(); err != nil {
		stdlog.Fatalf("Protocol tests failed: %v", err)
	}
	fmt.Println("✓ All protocol tests passed")

	if len(os.Args) > 1 && os.Args[1] == "radio" {
		if err := runRadioDemo(); err != nil {
			stdlog.Fatalf("Radio demo failed: %v", err)
		}
	} else {
		fmt.Println("\nRun with 'radio' argument to transmit through an echo server")
		fmt.Println("Example: go run ./cmd/examples radio")
	}
}

func channelPair() (*cryptodto.Channel, *cryptodto.Channel, error) {
	config := cryptodto.ChannelConfig{
		ChannelTag:      "example",
		AeadTransmitKey: bytes.Repeat([]byte{0x11}, cryptodto.KeySize),
		AeadReceiveKey:  bytes.Repeat([]byte{0x22}, cryptodto.KeySize),
	}
	client, err := cryptodto.NewChannel(config)
	if err != nil {
		return nil, nil, err
	}
	server, err := cryptodto.NewChannel(config.Reverse())
	if err != nil {
		return nil, nil, err
	}
	return client, server, nil
}

// runProtocolTests frames each voice channel DTO in both modes and checks
// the replay window
func runProtocolTests() error {
	fmt.Println("\n--- Running Protocol Tests ---")

	client, server, err := channelPair()
	if err != nil {
		return err
	}

	messages := []struct {
		name string
		v    any
	}{
		{dto.NameHeartbeat, &dto.Heartbeat{Callsign: "EGLL_TWR"}},
		{dto.NameAudioTx, &dto.AudioTxOnTransceivers{
			Callsign:     "EGLL_TWR",
			Audio:        make([]byte, 40),
			Transceivers: []dto.TxTransceiver{{ID: 0}},
		}},
		{dto.NameAudioRx, &dto.AudioRxOnTransceivers{
			Callsign:     "DAL123",
			Audio:        make([]byte, 40),
			LastPacket:   true,
			Transceivers: []dto.RxTransceiver{{ID: 0, Frequency: 118500000, DistanceRatio: 1}},
		}},
	}

	for i, msg := range messages {
		for _, mode := range []cryptodto.Mode{cryptodto.ModeNone, cryptodto.ModeChaCha20Poly1305} {
			fmt.Printf("Testing %s (%s)... ", msg.name, mode)
			data, err := client.EncapsulateDto(nil, uint64(i), mode, msg.name, msg.v)
			if err != nil {
				return fmt.Errorf("failed to encapsulate %s: %w", msg.name, err)
			}
			frame, err := server.Decapsulate(data)
			if err != nil {
				return fmt.Errorf("failed to decapsulate %s: %w", msg.name, err)
			}
			if frame.Name != msg.name || frame.Header.Sequence != uint64(i) {
				return fmt.Errorf("header mismatch: %s seq %d", frame.Name, frame.Header.Sequence)
			}
			fmt.Printf("✓ (%d bytes)\n", len(data))
		}
	}

	fmt.Print("Testing tampered datagram... ")
	data, _ := client.EncapsulateDto(nil, 9, cryptodto.ModeChaCha20Poly1305, dto.NameHeartbeat, &dto.Heartbeat{Callsign: "X"})
	data[len(data)-1] ^= 0xff
	if _, err := server.Decapsulate(data); err == nil {
		return fmt.Errorf("tampered datagram accepted")
	}
	fmt.Println("✓ rejected")

	fmt.Print("Testing replay window... ")
	window := cryptodto.NewSequenceTest(cryptodto.DefaultHistorySize)
	outcomes := []cryptodto.ReceiveOutcome{
		window.Received(0),
		window.Received(1),
		window.Received(1),
		window.Received(5),
		window.Received(3),
	}
	want := []cryptodto.ReceiveOutcome{cryptodto.OK, cryptodto.OK, cryptodto.Before, cryptodto.Overflow, cryptodto.OK}
	for i := range want {
		if outcomes[i] != want[i] {
			return fmt.Errorf("replay outcome %d: got %s, want %s", i, outcomes[i], want[i])
		}
	}
	fmt.Printf("✓ %v\n", outcomes)

	return nil
}

// echoChannel is a DtoChannel whose far end is an in-process server that
// returns every transmitted frame as received audio on one frequency
type echoChannel struct {
	client, server *cryptodto.Channel
	frequency      uint32
	handlers       map[string]transport.DtoHandler
	txSeq, rxSeq   uint64
	datagrams      int
}

func (e *echoChannel) IsOpen() bool { return true }

func (e *echoChannel) RegisterHandler(name string, handler transport.DtoHandler) {
	e.handlers[name] = handler
}

func (e *echoChannel) UnregisterHandler(name string) {
	delete(e.handlers, name)
}

func (e *echoChannel) SendDto(name string, v any) error {
	data, err := e.client.EncapsulateDto(nil, e.txSeq, cryptodto.ModeChaCha20Poly1305, name, v)
	if err != nil {
		return err
	}
	e.txSeq++
	e.datagrams++

	frame, err := e.server.Decapsulate(data)
	if err != nil {
		return err
	}
	if frame.Name != dto.NameAudioTx {
		return nil
	}
	var tx dto.AudioTxOnTransceivers
	if err := frame.DecodeDto(&tx); err != nil {
		return err
	}

	reply, err := e.server.EncapsulateDto(nil, e.rxSeq, cryptodto.ModeChaCha20Poly1305, dto.NameAudioRx, &dto.AudioRxOnTransceivers{
		Callsign:        "ECHO",
		SequenceCounter: tx.SequenceCounter,
		Audio:           tx.Audio,
		LastPacket:      tx.LastPacket,
		Transceivers:    []dto.RxTransceiver{{ID: 0, Frequency: e.frequency, DistanceRatio: 1}},
	})
	if err != nil {
		return err
	}
	e.rxSeq++

	back, err := e.client.Decapsulate(reply)
	if err != nil {
		return err
	}
	payload, err := back.Payload()
	if err != nil {
		return err
	}
	if h, ok := e.handlers[back.Name]; ok {
		h(payload)
	}
	return nil
}

// runRadioDemo transmits a second of tone on tower and mixes the echo
// heard on guard with radio effects
func runRadioDemo() error {
	fmt.Println("\n--- Radio Demo ---")

	const (
		tower = 118500000
		guard = 121500000
	)
	client, server, err := channelPair()
	if err != nil {
		return err
	}
	// The echo comes back on guard since the transmitting frequency is
	// muted while keyed
	ch := &echoChannel{client: client, server: server, frequency: guard, handlers: map[string]transport.DtoHandler{}}

	stack, err := radio.New(&radio.Config{Callsign: "EGLL_TWR", MicVolume: 1}, log.NewWriter(io.Discard, "error"))
	if err != nil {
		return err
	}
	stack.AddObserver(radio.ObserverFunc(func(ev radio.Event) {
		fmt.Printf("  event: %-16s %d %s\n", ev.Type, ev.Frequency, ev.Callsign)
	}))
	stack.SetChannel(ch)
	stack.SetClientPosition(51.4775, -0.4614, 25, 15)
	stack.AddFrequency(tower, true, "EGLL_TWR", audio.SchmidED137B, radio.PlaybackBoth)
	stack.SetTx(tower, true)
	stack.AddFrequency(guard, false, "GUARD", audio.Garex220, radio.PlaybackBoth)

	tone := audio.NewSineToneSource(440)
	var mic, speaker audio.Frame
	var peak float32

	stack.SetPtt(true)
	for i := 0; i < 50; i++ {
		tone.AudioFrame(&mic)
		audio.Scale(&mic, 0.5)
		stack.PutAudioFrame(&mic)
		stack.SpeakerFrame(&speaker)
		if p := audio.Peak(&speaker); p > peak {
			peak = p
		}
	}
	stack.SetPtt(false)
	stack.PutAudioFrame(&mic)
	stack.SpeakerFrame(&speaker)

	fmt.Printf("Datagrams sent: %d, tx sequence: %d\n", ch.datagrams, stack.TxSequence())
	fmt.Printf("Mic VU: %.2f, speaker peak: %.2f\n", stack.Vu(), peak)
	for _, f := range stack.Snapshot() {
		fmt.Printf("%d Hz %s: last heard %q\n", f.Frequency, f.StationName, f.LastTransmitCallsign)
	}
	return nil
}
