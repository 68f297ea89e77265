package audio

import (
	"testing"
	"time"
)

func TestPlaybackQueuePushPop(t *testing.T) {
	q := NewPlaybackQueue()
	q.Push([]int16{1, 2, 3})
	q.Push([]int16{4, 5, 6})

	f, ok := q.Pop()
	if !ok {
		t.Fatal("expected a frame")
	}
	if f[0] != 1 {
		t.Errorf("got %v, want frame starting with 1", f)
	}

	f, ok = q.Pop()
	if !ok || f[0] != 4 {
		t.Errorf("second pop: got %v, ok=%v", f, ok)
	}

	if _, ok := q.Pop(); ok {
		t.Error("expected empty queue after draining both frames")
	}
}

func TestPlaybackQueueDropsOldestWhenFull(t *testing.T) {
	q := NewPlaybackQueue()
	q.maxLen = 2
	q.Push([]int16{1})
	q.Push([]int16{2})
	q.Push([]int16{3})

	f, ok := q.Pop()
	if !ok || f[0] != 2 {
		t.Errorf("expected oldest frame (1) dropped, got %v", f)
	}
	if d := q.Dropped(); d != 1 {
		t.Errorf("Dropped() = %d, want 1", d)
	}
}

func TestPlaybackQueueVolumeScalesSamples(t *testing.T) {
	q := NewPlaybackQueue()
	q.SetVolume(0.5)
	q.Push([]int16{1000, -1000})
	f, ok := q.Pop()
	if !ok {
		t.Fatal("expected a frame")
	}
	if f[0] != 500 || f[1] != -500 {
		t.Errorf("got %v, want [500 -500]", f)
	}
}

func TestPlaybackQueueVolumeClampsOutput(t *testing.T) {
	q := NewPlaybackQueue()
	q.SetVolume(2.0)
	q.Push([]int16{20000, -20000})
	f, ok := q.Pop()
	if !ok {
		t.Fatal("expected a frame")
	}
	if f[0] != 32767 || f[1] != -32768 {
		t.Errorf("got %v, want clamped [32767 -32768]", f)
	}
}

func TestPlaybackQueueFlush(t *testing.T) {
	q := NewPlaybackQueue()
	q.Push([]int16{1})
	q.Push([]int16{2})
	q.Flush()
	if _, ok := q.Pop(); ok {
		t.Error("expected empty queue after Flush")
	}
	// Idempotent.
	q.Flush()
}

func TestPlaybackQueueCompletionFiresAfterIdle(t *testing.T) {
	q := NewPlaybackQueue()
	fired := make(chan struct{}, 1)
	q.SetOnPlaybackCompleted(func() {
		select {
		case fired <- struct{}{}:
		default:
		}
	})

	stop := make(chan struct{})
	defer close(stop)
	go q.Watch(1*time.Millisecond, stop)

	q.Push([]int16{1})
	q.Pop()

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("completion callback never fired")
	}
}

func TestPlaybackQueueCompletionResetsOnNewPush(t *testing.T) {
	q := NewPlaybackQueue()
	fired := make(chan struct{}, 4)
	q.SetOnPlaybackCompleted(func() {
		select {
		case fired <- struct{}{}:
		default:
		}
	})

	stop := make(chan struct{})
	defer close(stop)
	go q.Watch(1*time.Millisecond, stop)

	q.Push([]int16{1})
	q.Pop()

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("first completion never fired")
	}

	// A fresh push after completion must allow the callback to fire again
	// once the stream genuinely ends a second time.
	q.Push([]int16{2})
	q.Pop()

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("second completion never fired after new push reset the flag")
	}
}
