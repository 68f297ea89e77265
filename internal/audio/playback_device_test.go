package audio

import (
	"context"
	"testing"
	"time"
)

// fakePlaybackStream implements paOutStream for testing, mirroring
// fakeCaptureStream on the capture side. Write signals a channel each call
// so tests can count how many buffers were written.
type fakePlaybackStream struct {
	writes  chan []float32
	stopped bool
	closed  bool
	buf     []float32
}

func (f *fakePlaybackStream) Start() error { return nil }
func (f *fakePlaybackStream) Stop() error  { f.stopped = true; return nil }
func (f *fakePlaybackStream) Close() error { f.closed = true; return nil }
func (f *fakePlaybackStream) Write() error {
	cp := make([]float32, len(f.buf))
	copy(cp, f.buf)
	select {
	case f.writes <- cp:
	default:
	}
	return nil
}

func newTestPlaybackDevice() (*PlaybackDevice, *fakePlaybackStream) {
	q := NewPlaybackQueue()
	d := NewPlaybackDevice(q, nil)
	fs := &fakePlaybackStream{writes: make(chan []float32, 64)}
	d.openStream = func(sampleRate, channels, frameSize int) (paOutStream, []float32, error) {
		fs.buf = make([]float32, frameSize)
		return fs, fs.buf, nil
	}
	return d, fs
}

func TestPlaybackDeviceWritesSilenceWhenQueueEmpty(t *testing.T) {
	d, fs := newTestPlaybackDevice()
	ctx := context.Background()
	if err := d.Start(ctx, 16000, 1, 4); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Stop(ctx)

	select {
	case buf := <-fs.writes:
		for _, s := range buf {
			if s != 0 {
				t.Fatalf("expected silence, got %v", buf)
			}
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a write")
	}
}

func TestPlaybackDevicePlaysQueuedFrame(t *testing.T) {
	d, fs := newTestPlaybackDevice()
	ctx := context.Background()
	d.queue.Push([]int16{1000, 2000, 3000, 4000})
	if err := d.Start(ctx, 16000, 1, 4); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Stop(ctx)

	select {
	case buf := <-fs.writes:
		if buf[0] == 0 && buf[1] == 0 {
			t.Fatalf("expected queued samples, got silence: %v", buf)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a write")
	}
}

func TestPlaybackDeviceStartIsNoOpWhenRunning(t *testing.T) {
	d, _ := newTestPlaybackDevice()
	ctx := context.Background()
	if err := d.Start(ctx, 16000, 1, 4); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	defer d.Stop(ctx)
	stream1 := d.stream
	if err := d.Start(ctx, 16000, 1, 4); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if d.stream != stream1 {
		t.Error("Start while already running should not reopen the stream")
	}
}

func TestPlaybackDeviceStopClosesStream(t *testing.T) {
	d, fs := newTestPlaybackDevice()
	ctx := context.Background()
	if err := d.Start(ctx, 16000, 1, 4); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := d.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !fs.stopped || !fs.closed {
		t.Error("expected stream stopped and closed")
	}
}
