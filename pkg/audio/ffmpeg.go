package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os/exec"
	"strconv"
	"sync"
)

// ErrFFmpegUnavailable is returned when no ffmpeg binary is on PATH
var ErrFFmpegUnavailable = errors.New("audio: ffmpeg not available")

const frameBytes = FrameSizeSamples * 4

// FFmpegAvailable reports whether an ffmpeg binary can be found
func FFmpegAvailable() bool {
	_, err := exec.LookPath("ffmpeg")
	return err == nil
}

// rawArgs are the ffmpeg options describing the engine's sample format
func rawArgs() []string {
	return []string{
		"-f", "f32le", // 32-bit float little-endian
		"-ar", strconv.Itoa(SampleRateHz),
		"-ac", "1", // Mono
	}
}

// DecodeFile converts any audio file ffmpeg understands into a buffer of
// mono 48 kHz samples.
func DecodeFile(ctx context.Context, path string) (SampleBuffer, error) {
	if !FFmpegAvailable() {
		return nil, ErrFFmpegUnavailable
	}
	args := append([]string{"-hide_banner", "-loglevel", "error", "-i", path}, rawArgs()...)
	args = append(args, "pipe:1")
	out, err := exec.CommandContext(ctx, "ffmpeg", args...).Output()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg decode of %s failed: %w", path, err)
	}
	return decodeF32LE(out), nil
}

func decodeF32LE(b []byte) SampleBuffer {
	samples := make(SampleBuffer, len(b)/4)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return samples
}

func encodeF32LE(f *Frame, b []byte) {
	for i, s := range f {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(s))
	}
}

// FFmpegSource streams a file through ffmpeg one frame at a time
type FFmpegSource struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	buf    []byte

	mutex  sync.Mutex
	closed bool
}

// NewFFmpegSource starts decoding path. The source is exhausted when the
// file ends; Close must be called to reap the process.
func NewFFmpegSource(ctx context.Context, path string) (*FFmpegSource, error) {
	if !FFmpegAvailable() {
		return nil, ErrFFmpegUnavailable
	}
	args := []string{"-hide_banner", "-loglevel", "error", "-re", "-i", path}
	args = append(args, rawArgs()...)
	args = append(args, "pipe:1")

	s := &FFmpegSource{
		cmd: exec.CommandContext(ctx, "ffmpeg", args...),
		buf: make([]byte, frameBytes),
	}
	var err error
	if s.stdout, err = s.cmd.StdoutPipe(); err != nil {
		return nil, err
	}
	if err := s.cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start decoding FFmpeg: %w", err)
	}
	return s, nil
}

// AudioFrame reads the next frame, zero-padding a short final read
func (s *FFmpegSource) AudioFrame(out *Frame) SourceStatus {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.closed {
		return SourceExhausted
	}

	n, err := io.ReadFull(s.stdout, s.buf)
	if n == 0 && err != nil {
		return SourceExhausted
	}
	for i := n; i < len(s.buf); i++ {
		s.buf[i] = 0
	}
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(s.buf[i*4:]))
	}
	return SourceOK
}

// Close stops ffmpeg and releases the pipe
func (s *FFmpegSource) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	s.stdout.Close()
	if s.cmd.Process != nil {
		s.cmd.Process.Kill()
		s.cmd.Wait()
	}
	return nil
}

// FFmpegSink encodes frames into a file whose container and codec ffmpeg
// picks from the file extension.
type FFmpegSink struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	buf   []byte

	mutex  sync.Mutex
	closed bool
	err    error
}

// NewFFmpegSink starts an encoder writing to path, overwriting it
func NewFFmpegSink(path string) (*FFmpegSink, error) {
	if !FFmpegAvailable() {
		return nil, ErrFFmpegUnavailable
	}
	args := append([]string{"-hide_banner", "-loglevel", "error", "-y"}, rawArgs()...)
	args = append(args, "-i", "pipe:0", path)

	s := &FFmpegSink{
		cmd: exec.Command("ffmpeg", args...),
		buf: make([]byte, frameBytes),
	}
	var err error
	if s.stdin, err = s.cmd.StdinPipe(); err != nil {
		return nil, err
	}
	if err := s.cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start encoding FFmpeg: %w", err)
	}
	return s, nil
}

// PutAudioFrame writes one frame. The first write error is kept and
// returned by Close; later frames are dropped.
func (s *FFmpegSink) PutAudioFrame(in *Frame) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.closed || s.err != nil {
		return
	}
	encodeF32LE(in, s.buf)
	if _, err := s.stdin.Write(s.buf); err != nil {
		s.err = err
	}
}

// Close flushes the encoder and waits for ffmpeg to finish the file
func (s *FFmpegSink) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.closed {
		return s.err
	}
	s.closed = true

	s.stdin.Close()
	if err := s.cmd.Wait(); err != nil && s.err == nil {
		s.err = fmt.Errorf("ffmpeg encode failed: %w", err)
	}
	return s.err
}

// RawFileSink writes frames as raw f32le samples
type RawFileSink struct {
	w   io.Writer
	buf []byte
	err error
}

// NewRawFileSink wraps w
func NewRawFileSink(w io.Writer) *RawFileSink {
	return &RawFileSink{w: w, buf: make([]byte, frameBytes)}
}

// PutAudioFrame writes one frame, keeping the first error
func (r *RawFileSink) PutAudioFrame(in *Frame) {
	if r.err != nil {
		return
	}
	encodeF32LE(in, r.buf)
	_, r.err = r.w.Write(r.buf)
}

// Err returns the first write error
func (r *RawFileSink) Err() error {
	return r.err
}
