package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dbehnke/atcvoice-go/internal/metrics"
	"github.com/dbehnke/atcvoice-go/pkg/cryptodto"
	"github.com/dbehnke/atcvoice-go/pkg/log"
	"github.com/vmihailenco/msgpack/v5"
)

// DtoChannel is the contract between the radio stack and the voice channel
type DtoChannel interface {
	SendDto(name string, v any) error
	RegisterHandler(name string, handler DtoHandler)
	UnregisterHandler(name string)
	IsOpen() bool
}

// DtoHandler receives the msgpack payload of a DTO. It runs on the read
// loop goroutine and must not block; data is only valid for the call.
type DtoHandler func(data []byte)

// UDPChannel implements DtoChannel over a connected UDP socket using the
// cryptodto framing.
type UDPChannel struct {
	conn         *net.UDPConn
	remoteAddr   *net.UDPAddr
	config       *ConnectionConfig
	crypto       atomic.Pointer[cryptodto.Channel]
	handlers     map[string]DtoHandler
	handlerMutex sync.RWMutex
	txSequence   atomic.Uint64
	rxModes      atomic.Uint32
	bufferPool   sync.Pool
	closed       bool
	closeMutex   sync.Mutex
	log          *log.Logger

	// rxSequence is only touched by the goroutine delivering datagrams;
	// other goroutines request a reset through resetRx.
	rxSequence *cryptodto.SequenceTest
	resetRx    atomic.Bool
	rxBuffer   []byte
}

// ConnectionConfig holds configuration for the voice channel socket
type ConnectionConfig struct {
	RemoteAddr   string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	HistorySize  int
}

// DefaultConfig returns a default connection configuration
func DefaultConfig() *ConnectionConfig {
	return &ConnectionConfig{
		ReadTimeout:  time.Second,
		WriteTimeout: 100 * time.Millisecond,
		HistorySize:  cryptodto.DefaultHistorySize,
	}
}

// NewUDPChannel creates a voice channel. Open must be called before use.
func NewUDPChannel(config *ConnectionConfig, lg *log.Logger) *UDPChannel {
	if config == nil {
		config = DefaultConfig()
	}

	uc := &UDPChannel{
		config:     config,
		handlers:   make(map[string]DtoHandler),
		rxSequence: cryptodto.NewSequenceTest(config.HistorySize),
		rxBuffer:   make([]byte, cryptodto.MaxDatagramSize+1),
		log:        lg.With("component", "udpchannel"),
		bufferPool: sync.Pool{
			New: func() interface{} {
				buf := make([]byte, 0, cryptodto.MaxDatagramSize)
				return &buf
			},
		},
	}
	uc.rxModes.Store(1 << cryptodto.ModeChaCha20Poly1305)

	return uc
}

// SetAddress sets the remote voice server address for the next Open
func (uc *UDPChannel) SetAddress(addr string) {
	uc.closeMutex.Lock()
	defer uc.closeMutex.Unlock()
	uc.config.RemoteAddr = addr
}

// SetChannelConfig installs the channel tag and keys. The replay window is
// reset when the receive key changes; the transmit sequence never is.
func (uc *UDPChannel) SetChannelConfig(config cryptodto.ChannelConfig) error {
	ch, err := cryptodto.NewChannel(config)
	if err != nil {
		return fmt.Errorf("failed to set channel config: %w", err)
	}
	old := uc.crypto.Swap(ch)
	if old == nil || !bytes.Equal(old.Config().AeadReceiveKey, config.AeadReceiveKey) {
		uc.resetRx.Store(true)
	}
	return nil
}

// Open connects the socket to the configured remote address
func (uc *UDPChannel) Open() error {
	uc.closeMutex.Lock()
	defer uc.closeMutex.Unlock()

	if uc.conn != nil {
		return fmt.Errorf("channel already open")
	}
	if uc.config.RemoteAddr == "" {
		return fmt.Errorf("no remote address configured")
	}

	remoteAddr, err := net.ResolveUDPAddr("udp", uc.config.RemoteAddr)
	if err != nil {
		return fmt.Errorf("failed to resolve remote address: %w", err)
	}

	conn, err := net.DialUDP("udp", nil, remoteAddr)
	if err != nil {
		return fmt.Errorf("failed to open UDP socket: %w", err)
	}

	uc.conn = conn
	uc.remoteAddr = remoteAddr
	uc.closed = false
	uc.log.Info("voice channel open", "remote", remoteAddr.String(), "local", conn.LocalAddr().String())
	return nil
}

// IsOpen reports whether the socket is connected
func (uc *UDPChannel) IsOpen() bool {
	uc.closeMutex.Lock()
	defer uc.closeMutex.Unlock()
	return uc.conn != nil && !uc.closed
}

// Close closes the socket and forgets the receive history
func (uc *UDPChannel) Close() error {
	uc.closeMutex.Lock()
	defer uc.closeMutex.Unlock()

	uc.resetRx.Store(true)
	if uc.closed || uc.conn == nil {
		uc.closed = true
		return nil
	}

	uc.closed = true
	err := uc.conn.Close()
	uc.conn = nil
	return err
}

// EnableRxMode accepts inbound datagrams sealed with mode
func (uc *UDPChannel) EnableRxMode(mode cryptodto.Mode) {
	if mode >= 32 {
		return
	}
	for {
		old := uc.rxModes.Load()
		if uc.rxModes.CompareAndSwap(old, old|1<<mode) {
			return
		}
	}
}

// DisableRxMode rejects inbound datagrams sealed with mode
func (uc *UDPChannel) DisableRxMode(mode cryptodto.Mode) {
	if mode >= 32 {
		return
	}
	for {
		old := uc.rxModes.Load()
		if uc.rxModes.CompareAndSwap(old, old&^(1<<mode)) {
			return
		}
	}
}

// RxModeEnabled reports whether mode is accepted on receive
func (uc *UDPChannel) RxModeEnabled(mode cryptodto.Mode) bool {
	if mode >= 32 {
		return false
	}
	mask := uint32(1) << mode
	return uc.rxModes.Load()&mask == mask
}

// RegisterHandler registers a handler function for a DTO name
func (uc *UDPChannel) RegisterHandler(name string, handler DtoHandler) {
	uc.handlerMutex.Lock()
	defer uc.handlerMutex.Unlock()
	uc.handlers[name] = handler
}

// UnregisterHandler removes the handler for a DTO name
func (uc *UDPChannel) UnregisterHandler(name string) {
	uc.handlerMutex.Lock()
	defer uc.handlerMutex.Unlock()
	delete(uc.handlers, name)
}

// TxSequence returns the sequence the next datagram will carry
func (uc *UDPChannel) TxSequence() uint64 {
	return uc.txSequence.Load()
}

// SendDto frames v under name and writes it. Sending is best effort: the
// sequence advances even when the write is short or fails, and failures
// after framing are logged and counted rather than returned.
func (uc *UDPChannel) SendDto(name string, v any) error {
	uc.closeMutex.Lock()
	conn := uc.conn
	uc.closeMutex.Unlock()
	if conn == nil {
		return fmt.Errorf("tried to send %s on closed channel", name)
	}
	ch := uc.crypto.Load()
	if ch == nil {
		return fmt.Errorf("tried to send %s without channel config", name)
	}

	seq := uc.txSequence.Add(1) - 1

	bufferPtr := uc.bufferPool.Get().(*[]byte)
	defer uc.bufferPool.Put(bufferPtr)

	data, err := ch.EncapsulateDto(*bufferPtr, seq, cryptodto.ModeChaCha20Poly1305, name, v)
	if err != nil {
		return fmt.Errorf("failed to encapsulate %s: %w", name, err)
	}

	if uc.config.WriteTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(uc.config.WriteTimeout))
	}
	n, err := conn.Write(data)
	switch {
	case err != nil:
		metrics.DatagramsDropped.Inc()
		uc.log.Warn("error sending datagram", "dto", name, "error", err)
	case n < len(data):
		metrics.DatagramsDropped.Inc()
		uc.log.Warn("short write sending datagram", "dto", name, "sent", n, "size", len(data))
	default:
		metrics.DatagramsSent.WithLabelValues(name).Inc()
	}
	return nil
}

// Start runs the receive loop until ctx is cancelled or the socket fails.
// Handlers are invoked synchronously on this goroutine.
func (uc *UDPChannel) Start(ctx context.Context) error {
	uc.closeMutex.Lock()
	conn := uc.conn
	uc.closeMutex.Unlock()
	if conn == nil {
		return fmt.Errorf("connection not established")
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := conn.SetReadDeadline(time.Now().Add(uc.config.ReadTimeout)); err != nil {
			return fmt.Errorf("failed to set read deadline: %w", err)
		}

		n, err := conn.Read(uc.rxBuffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			// Connected UDP sockets surface ICMP unreachable as read errors.
			uc.log.Debug("recv failed", "error", err)
			continue
		}

		uc.HandleDatagram(uc.rxBuffer[:n])
	}
}

// HandleDatagram validates one datagram and dispatches it to its handler.
// It reports whether a handler was invoked. It must only be called from
// one goroutine at a time.
func (uc *UDPChannel) HandleDatagram(data []byte) bool {
	if uc.resetRx.Swap(false) {
		uc.rxSequence.Reset()
	}
	metrics.DatagramsReceived.Inc()

	if len(data) > cryptodto.MaxDatagramSize {
		return uc.reject(metrics.ReasonOversize, "datagram exceeds maximum size", "size", len(data))
	}
	if len(data) == 0 {
		return uc.reject(metrics.ReasonEmpty, "zero-length datagram")
	}

	ch := uc.crypto.Load()
	if ch == nil {
		return uc.reject(metrics.ReasonMalformed, "datagram before channel config")
	}

	frame, err := ch.Decapsulate(data)
	if err != nil {
		return uc.reject(metrics.ReasonMalformed, "invalid cryptodto frame", "error", err)
	}
	if !uc.RxModeEnabled(frame.Header.Mode) {
		return uc.reject(metrics.ReasonCipherMode, "frame sealed with undesired mode", "mode", frame.Header.Mode.String())
	}
	if frame.Header.ChannelTag != ch.Tag() {
		return uc.reject(metrics.ReasonChannelTag, "invalid channel tag", "tag", frame.Header.ChannelTag)
	}
	if uc.rxSequence.Received(frame.Header.Sequence) == cryptodto.Before {
		return uc.reject(metrics.ReasonReplay, "duplicate sequence", "seq", frame.Header.Sequence)
	}

	payload, err := frame.Payload()
	if err != nil {
		return uc.reject(metrics.ReasonLength, "bad dto length", "error", err)
	}

	uc.handlerMutex.RLock()
	handler, exists := uc.handlers[frame.Name]
	uc.handlerMutex.RUnlock()
	if !exists {
		return uc.reject(metrics.ReasonNoHandler, "no handler for dto", "dto", frame.Name)
	}

	handler(payload)
	return true
}

func (uc *UDPChannel) reject(reason, msg string, args ...any) bool {
	metrics.DatagramsRejected.WithLabelValues(reason).Inc()
	uc.log.Debug(msg, args...)
	return false
}

// LocalAddr returns the local network address
func (uc *UDPChannel) LocalAddr() net.Addr {
	uc.closeMutex.Lock()
	defer uc.closeMutex.Unlock()
	if uc.conn != nil {
		return uc.conn.LocalAddr()
	}
	return nil
}

// RemoteAddr returns the remote network address
func (uc *UDPChannel) RemoteAddr() net.Addr {
	uc.closeMutex.Lock()
	defer uc.closeMutex.Unlock()
	if uc.remoteAddr == nil {
		return nil
	}
	return uc.remoteAddr
}

// Decode unmarshals a DTO payload into v
func Decode(data []byte, v any) error {
	if err := msgpack.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal dto: %w", err)
	}
	return nil
}
