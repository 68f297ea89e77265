// Package keyword implements wake-word detection on top of the same
// energy/hangover primitives the capture pipeline uses for voice activity
// detection, since no offline wake-word engine is available to wire in.
package keyword

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rustyguts/verdure/internal/audio"
	"github.com/rustyguts/verdure/internal/audio/vad"
)

// Detection describes a recognized wake word.
type Detection struct {
	Keyword    string
	Confidence float32
	ModelName  string
}

// Model is a loaded keyword template: an expected RMS energy envelope over a
// short rolling window. Swappable so a future embedding-based matcher can
// implement the same small surface.
type Model struct {
	Name      string
	Keyword   string
	Threshold float32 // average RMS over the window that counts as a match
	WindowLen int     // number of 60ms frames the template spans
}

// DefaultModel is a generic "loud sustained speech burst" template — a stand-in
// until a real trained model file is wired in.
var DefaultModel = Model{Name: "default", Keyword: "hey-assistant", Threshold: 0.05, WindowLen: 4}

// recognizer holds the live matching state for one Start/Stop cycle. It is
// never reused across a restart — always rebuilt fresh, mirroring the
// destroy-then-recreate discipline the codec's native handles also need.
type recognizer struct {
	model  Model
	window []float32
}

func newRecognizer(m Model) *recognizer {
	return &recognizer{model: m, window: make([]float32, 0, m.WindowLen)}
}

func (r *recognizer) push(rms float32) (Detection, bool) {
	r.window = append(r.window, rms)
	if len(r.window) > r.model.WindowLen {
		r.window = r.window[1:]
	}
	if len(r.window) < r.model.WindowLen {
		return Detection{}, false
	}
	var sum float32
	for _, v := range r.window {
		sum += v
	}
	avg := sum / float32(len(r.window))
	if avg >= r.model.Threshold {
		r.window = r.window[:0]
		return Detection{Keyword: r.model.Keyword, Confidence: clampConfidence(avg / r.model.Threshold), ModelName: r.model.Name}, true
	}
	return Detection{}, false
}

func clampConfidence(c float32) float32 {
	if c > 1 {
		return 1
	}
	return c
}

// restartGap enforces the minimum pause between disposing a recognizer and
// building a fresh one, matching the native-handle discipline in the noise
// suppressor this pipeline also carries.
const restartGap = 200 * time.Millisecond

// maxRestartFailures disables the spotter after this many consecutive
// restart failures within restartFailureWindow.
const maxRestartFailures = 3
const restartFailureWindow = 10 * time.Second

// Spotter listens on the shared capture hub for a wake word and reports
// detections via OnDetected. It never calls back into orchestrator trigger
// methods directly — callers wire OnDetected to whatever trigger dispatch
// they use.
type Spotter struct {
	hub    *audio.CaptureHub
	logger *zap.SugaredLogger

	mu         sync.Mutex
	sub        *audio.Subscription
	rec        *recognizer
	model      Model
	paused     bool
	stopped    bool
	cancel     context.CancelFunc
	failures   []time.Time

	OnDetected func(Detection)
}

// New creates a Spotter bound to hub, using DefaultModel until SetModel is
// called.
func New(hub *audio.CaptureHub, logger *zap.SugaredLogger) *Spotter {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Spotter{hub: hub, logger: logger, model: DefaultModel}
}

// SetModel changes the active model. Takes effect on the next Start.
func (s *Spotter) SetModel(m Model) {
	s.mu.Lock()
	s.model = m
	s.mu.Unlock()
}

// Start subscribes to the capture hub and begins recognizing. Always builds
// a fresh recognizer, even if Start is called again without an intervening
// Stop.
func (s *Spotter) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.sub != nil {
		sub := s.sub
		s.sub = nil
		s.mu.Unlock()
		sub.Close()
		time.Sleep(restartGap)
		s.mu.Lock()
	} else if s.stopped {
		// Stop already disposed the previous recognizer; keep the same gap
		// before building its replacement.
		s.mu.Unlock()
		time.Sleep(restartGap)
		s.mu.Lock()
	}

	s.stopped = false
	s.rec = newRecognizer(s.model)
	sub := s.hub.Subscribe()
	s.sub = sub
	sctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	go s.run(sctx, sub)
	return nil
}

// Stop unsubscribes and discards the recognizer.
func (s *Spotter) Stop() {
	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	s.rec = nil
	s.stopped = true
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if sub != nil {
		sub.Close()
	}
}

// Pause suspends recognition without tearing down the subscription.
func (s *Spotter) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
}

// Resume resumes recognition after a Pause.
func (s *Spotter) Resume() {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
}

func (s *Spotter) run(ctx context.Context, sub *audio.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-sub.C():
			if !ok {
				return
			}
			s.mu.Lock()
			paused := s.paused
			rec := s.rec
			s.mu.Unlock()
			if paused || rec == nil {
				continue
			}
			if det, hit := rec.push(vad.RMS(frame.Samples)); hit {
				if cb := s.OnDetected; cb != nil {
					cb(det)
				}
				s.restart(ctx)
			}
		}
	}
}

func (s *Spotter) restart(ctx context.Context) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	time.Sleep(restartGap)

	s.mu.Lock()
	s.rec = newRecognizer(s.model)
	now := time.Now()
	s.failures = append(s.failures, now)
	cutoff := now.Add(-restartFailureWindow)
	kept := s.failures[:0]
	for _, f := range s.failures {
		if f.After(cutoff) {
			kept = append(kept, f)
		}
	}
	s.failures = kept
	tooManyFailures := len(s.failures) >= maxRestartFailures
	s.mu.Unlock()

	if tooManyFailures {
		s.logger.Warnw("keyword spotter disabling itself after repeated restart churn")
		s.Stop()
	}
}
