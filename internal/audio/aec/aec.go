// Package aec provides a Normalized Least Mean Squares (NLMS) acoustic echo
// canceller for the single-stream capture/playback pipeline, where capture
// and playback run as separate goroutines processing fixed-size frames.
//
// Usage:
//
//	proc := aec.New(960, 16000) // 960 samples = 60 ms @ 16 kHz
//
//	// In the playback goroutine, AFTER filling the output buffer:
//	proc.FeedFarEnd(buf)
//
//	// In the capture goroutine, BEFORE any other processing:
//	proc.Process(buf)     // modifies buf in-place
package aec

import "sync"

const (
	// DefaultDelayMs is the bulk delay assumed between playback and the echo
	// arriving at the microphone, covering typical system latency (DAC +
	// acoustic path + ADC).
	DefaultDelayMs = 40
	// DefaultTapsMs is the NLMS filter length. The filter handles residual
	// delay and room response within this window after the bulk delay.
	DefaultTapsMs = 10
	// DefaultStep is the NLMS step size mu (0 < mu < 2). Smaller values
	// converge more slowly but are more stable; 0.1 is conservative.
	DefaultStep = 0.1
)

// AEC is an NLMS-based acoustic echo canceller.
//
// The far-end circular buffer is large enough that the writer (FeedFarEnd)
// and reader (Process) access disjoint regions, so the mutex is only held
// briefly for the reference copy and for configuration changes.
type AEC struct {
	mu      sync.Mutex
	enabled bool

	weights []float64
	tapLen  int
	step    float64

	farBuf    []float32
	farHead   int
	bufLen    int
	delayLen  int
	frameSize int
}

// New creates an AEC for the given PCM frame size (in samples) and capture
// sample rate (Hz). The bulk delay and filter length are derived from
// DefaultDelayMs/DefaultTapsMs so the echo path coverage stays constant in
// wall-clock time regardless of sample rate.
func New(frameSize, sampleRate int) *AEC {
	delayLen := sampleRate * DefaultDelayMs / 1000
	tapLen := sampleRate * DefaultTapsMs / 1000
	bufLen := frameSize + delayLen + tapLen
	return &AEC{
		enabled:   true,
		weights:   make([]float64, tapLen),
		tapLen:    tapLen,
		step:      DefaultStep,
		farBuf:    make([]float32, bufLen),
		bufLen:    bufLen,
		delayLen:  delayLen,
		frameSize: frameSize,
	}
}

// SetEnabled enables or disables echo cancellation. Enabling resets the
// filter weights so it adapts cleanly from scratch.
func (a *AEC) SetEnabled(enabled bool) {
	a.mu.Lock()
	a.enabled = enabled
	if enabled {
		for i := range a.weights {
			a.weights[i] = 0
		}
	}
	a.mu.Unlock()
}

// FeedFarEnd stores the most recent playback frame as the far-end reference.
// Call this from the playback goroutine after filling the output buffer.
func (a *AEC) FeedFarEnd(frame []float32) {
	a.mu.Lock()
	for _, s := range frame {
		a.farBuf[a.farHead] = s
		a.farHead = (a.farHead + 1) % a.bufLen
	}
	a.mu.Unlock()
}

// Process applies echo cancellation to a captured frame in-place.
// Call this from the capture goroutine before any other processing.
func (a *AEC) Process(frame []float32) {
	a.mu.Lock()
	if !a.enabled {
		a.mu.Unlock()
		return
	}

	refLen := a.frameSize + a.tapLen - 1
	ref := make([]float32, refLen)
	startIdx := a.farHead - a.frameSize - a.delayLen - a.tapLen + 1
	for j := range refLen {
		idx := ((startIdx + j) % a.bufLen + 3*a.bufLen) % a.bufLen
		ref[j] = a.farBuf[idx]
	}
	a.mu.Unlock()

	for i := range frame {
		refBase := i + a.tapLen - 1

		var y, powerSum float64
		for k := 0; k < a.tapLen; k++ {
			x := float64(ref[refBase-k])
			y += a.weights[k] * x
			powerSum += x * x
		}

		e := float64(frame[i]) - y

		if powerSum > 1e-10 {
			step := a.step * e / powerSum
			for k := 0; k < a.tapLen; k++ {
				a.weights[k] += step * float64(ref[refBase-k])
			}
		}

		frame[i] = float32(e)
	}
}
