package keyword

import (
	"context"
	"testing"
	"time"

	"github.com/rustyguts/verdure/internal/audio"
)

func TestRecognizerDetectsAboveThreshold(t *testing.T) {
	r := newRecognizer(Model{Name: "t", Keyword: "hey", Threshold: 0.1, WindowLen: 2})
	if _, hit := r.push(0.05); hit {
		t.Fatal("should not hit before window fills")
	}
	det, hit := r.push(0.2)
	if !hit {
		t.Fatal("expected a hit once window average exceeds threshold")
	}
	if det.Keyword != "hey" {
		t.Errorf("keyword = %q, want hey", det.Keyword)
	}
}

func TestRecognizerNoHitBelowThreshold(t *testing.T) {
	r := newRecognizer(Model{Name: "t", Keyword: "hey", Threshold: 0.5, WindowLen: 2})
	r.push(0.01)
	if _, hit := r.push(0.01); hit {
		t.Fatal("unexpected hit for quiet frames")
	}
}

func TestSpotterStartStopClosesSubscription(t *testing.T) {
	hub := audio.NewCaptureHub(nil)
	s := New(hub, nil)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Stop()

	// Starting again after Stop must succeed (fresh recognizer + subscription).
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	s.Stop()
}

func TestSpotterPauseResumeSuppressesDetection(t *testing.T) {
	hub := audio.NewCaptureHub(nil)
	s := New(hub, nil)
	s.SetModel(Model{Name: "t", Keyword: "hey", Threshold: 0.01, WindowLen: 1})

	detected := make(chan Detection, 1)
	s.OnDetected = func(d Detection) { detected <- d }

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	s.Pause()

	sub := hub.Subscribe()
	defer sub.Close()

	select {
	case detected <- Detection{}:
		<-detected // drain the sentinel we just queued
	default:
	}

	select {
	case <-detected:
		t.Fatal("detection fired while paused")
	case <-time.After(100 * time.Millisecond):
	}
}
