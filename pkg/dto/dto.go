// Package dto defines the messages exchanged with the voice server. Voice
// channel DTOs are msgpack arrays; the transceiver descriptors are also
// posted as JSON to the session API.
package dto

// DTO names used on the voice channel
const (
	NameAudioRx      = "AR"
	NameAudioTx      = "AT"
	NameHeartbeat    = "H"
	NameHeartbeatAck = "HA"
)

// RxTransceiver identifies one transceiver a received transmission was
// heard on, with its propagation figure of merit (higher is worse).
type RxTransceiver struct {
	_msgpack struct{} `msgpack:",as_array"`

	ID            uint16
	Frequency     uint32
	DistanceRatio float32
}

// AudioRxOnTransceivers is one inbound voice frame
type AudioRxOnTransceivers struct {
	_msgpack struct{} `msgpack:",as_array"`

	Callsign        string
	SequenceCounter uint32
	Audio           []byte
	LastPacket      bool
	Transceivers    []RxTransceiver
}

// TxTransceiver identifies a transceiver a frame is transmitted on
type TxTransceiver struct {
	_msgpack struct{} `msgpack:",as_array"`

	ID uint16
}

// AudioTxOnTransceivers is one outbound voice frame
type AudioTxOnTransceivers struct {
	_msgpack struct{} `msgpack:",as_array"`

	Callsign        string
	SequenceCounter uint32
	Audio           []byte
	LastPacket      bool
	Transceivers    []TxTransceiver
}

// Heartbeat is sent periodically to keep the voice session alive
type Heartbeat struct {
	_msgpack struct{} `msgpack:",as_array"`

	Callsign string
}

// HeartbeatAck is the server's reply to a Heartbeat
type HeartbeatAck struct {
	_msgpack struct{} `msgpack:",as_array"`
}
