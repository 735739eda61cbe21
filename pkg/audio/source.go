package audio

import (
	"math"
	"sync"
)

// SampleStorage is an immutable recording shared by many sources
type SampleStorage interface {
	Samples() []float32
}

// SampleBuffer is an in-memory recording
type SampleBuffer []float32

// Samples returns the recording
func (b SampleBuffer) Samples() []float32 {
	return b
}

// RecordedSampleSource plays a recording once or in a loop
type RecordedSampleSource struct {
	storage    SampleStorage
	pos        int
	loop       bool
	playing    bool
	firstFrame bool
}

// NewRecordedSampleSource creates a player positioned at the start of src
func NewRecordedSampleSource(src SampleStorage, loop bool) *RecordedSampleSource {
	return &RecordedSampleSource{
		storage:    src,
		loop:       loop,
		playing:    len(src.Samples()) > 0,
		firstFrame: true,
	}
}

// AudioFrame fills out with the next frame. A one-shot source pads its
// last frame with silence and reports exhaustion on the following call.
func (r *RecordedSampleSource) AudioFrame(out *Frame) SourceStatus {
	samples := r.storage.Samples()
	if !r.playing || len(samples) == 0 {
		return SourceExhausted
	}
	r.firstFrame = false

	n := 0
	for n < len(out) {
		if r.pos >= len(samples) {
			if !r.loop {
				break
			}
			r.pos = 0
		}
		c := copy(out[n:], samples[r.pos:])
		n += c
		r.pos += c
	}
	for i := n; i < len(out); i++ {
		out[i] = 0
	}
	if !r.loop && r.pos >= len(samples) {
		r.playing = false
	}
	return SourceOK
}

// IsPlaying reports whether frames remain
func (r *RecordedSampleSource) IsPlaying() bool {
	return r.playing
}

// FirstFrame reports whether no frame has been produced yet
func (r *RecordedSampleSource) FirstFrame() bool {
	return r.firstFrame
}

// Reset rewinds to the start
func (r *RecordedSampleSource) Reset() {
	r.pos = 0
	r.playing = len(r.storage.Samples()) > 0
	r.firstFrame = true
}

// SineToneSource generates a continuous sine tone
type SineToneSource struct {
	freq  float64
	phase float64
}

// NewSineToneSource creates a tone generator at freq Hz
func NewSineToneSource(freq float64) *SineToneSource {
	return &SineToneSource{freq: freq}
}

// AudioFrame fills out with the next frame of the tone
func (s *SineToneSource) AudioFrame(out *Frame) SourceStatus {
	step := 2 * math.Pi * s.freq / SampleRateHz
	for i := range out {
		out[i] = float32(math.Sin(s.phase))
		s.phase += step
	}
	s.phase = math.Mod(s.phase, 2*math.Pi)
	return SourceOK
}

// SilenceSource produces silent frames forever
type SilenceSource struct{}

// AudioFrame zeroes out
func (SilenceSource) AudioFrame(out *Frame) SourceStatus {
	*out = Frame{}
	return SourceOK
}

// FrameQueue is a SampleSource fed by another goroutine, used to hand
// captured frames to the transmit path.
type FrameQueue struct {
	mu     sync.Mutex
	frames []Frame
	limit  int
}

// NewFrameQueue creates a queue holding at most limit frames; older
// frames are dropped when it is full.
func NewFrameQueue(limit int) *FrameQueue {
	return &FrameQueue{limit: limit}
}

// PutAudioFrame appends a copy of in
func (q *FrameQueue) PutAudioFrame(in *Frame) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.limit > 0 && len(q.frames) >= q.limit {
		q.frames = q.frames[1:]
	}
	q.frames = append(q.frames, *in)
}

// AudioFrame pops the oldest frame
func (q *FrameQueue) AudioFrame(out *Frame) SourceStatus {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.frames) == 0 {
		return SourceExhausted
	}
	*out = q.frames[0]
	q.frames = q.frames[1:]
	return SourceOK
}

// Len returns the number of queued frames
func (q *FrameQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}
