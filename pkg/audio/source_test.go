package audio

import "testing"

func TestRecordedSampleSourceOneShot(t *testing.T) {
	buf := make(SampleBuffer, FrameSizeSamples+40)
	for i := range buf {
		buf[i] = 0.5
	}
	src := NewRecordedSampleSource(buf, false)
	if !src.FirstFrame() {
		t.Error("New source should report first frame")
	}

	var f Frame
	if st := src.AudioFrame(&f); st != SourceOK {
		t.Fatalf("Failed to read first frame: status %v", st)
	}
	if src.FirstFrame() {
		t.Error("FirstFrame still set after a read")
	}

	if st := src.AudioFrame(&f); st != SourceOK {
		t.Fatalf("Failed to read tail frame: status %v", st)
	}
	if f[39] != 0.5 || f[40] != 0 {
		t.Errorf("Tail padding mismatch: got [%v %v], want [0.5 0]", f[39], f[40])
	}
	if src.IsPlaying() {
		t.Error("One-shot source still playing after its last frame")
	}
	if st := src.AudioFrame(&f); st != SourceExhausted {
		t.Errorf("Status mismatch: got %v, want SourceExhausted", st)
	}

	src.Reset()
	if st := src.AudioFrame(&f); st != SourceOK {
		t.Errorf("Status after reset: got %v, want SourceOK", st)
	}
}

func TestRecordedSampleSourceLoop(t *testing.T) {
	buf := make(SampleBuffer, 100)
	for i := range buf {
		buf[i] = float32(i)
	}
	src := NewRecordedSampleSource(buf, true)

	var f Frame
	for n := 0; n < 5; n++ {
		if st := src.AudioFrame(&f); st != SourceOK {
			t.Fatalf("Loop frame %d: status %v", n, st)
		}
	}
	// 5 frames of 960 samples end at offset 4800, a multiple of 100
	if f[0] != float32((4*FrameSizeSamples)%100) {
		t.Errorf("Loop position mismatch: got %v, want %v", f[0], (4*FrameSizeSamples)%100)
	}
	if f[FrameSizeSamples-1] != 99 {
		t.Errorf("Loop wrap mismatch: got %v, want 99", f[FrameSizeSamples-1])
	}
}

func TestRecordedSampleSourceEmpty(t *testing.T) {
	src := NewRecordedSampleSource(SampleBuffer{}, true)
	var f Frame
	if st := src.AudioFrame(&f); st != SourceExhausted {
		t.Errorf("Empty source status: got %v, want SourceExhausted", st)
	}
}

func TestSineToneSource(t *testing.T) {
	src := NewSineToneSource(180)
	var f Frame
	for i := 0; i < 3; i++ {
		if st := src.AudioFrame(&f); st != SourceOK {
			t.Fatalf("Tone frame status: %v", st)
		}
	}
	peak := Peak(&f)
	if peak < 0.99 || peak > 1 {
		t.Errorf("Tone peak out of range: got %v", peak)
	}
}

func TestFrameQueue(t *testing.T) {
	q := NewFrameQueue(2)
	var f Frame
	for i := 0; i < 3; i++ {
		f[0] = float32(i)
		q.PutAudioFrame(&f)
	}
	if q.Len() != 2 {
		t.Fatalf("Queue length mismatch: got %d, want 2", q.Len())
	}

	var out Frame
	q.AudioFrame(&out)
	if out[0] != 1 {
		t.Errorf("Oldest frame should have been dropped: got %v, want 1", out[0])
	}
	q.AudioFrame(&out)
	if st := q.AudioFrame(&out); st != SourceExhausted {
		t.Errorf("Empty queue status: got %v, want SourceExhausted", st)
	}
}

func TestSilenceSource(t *testing.T) {
	f := Frame{1, 2, 3}
	SilenceSource{}.AudioFrame(&f)
	if Peak(&f) != 0 {
		t.Error("SilenceSource produced sound")
	}
}
