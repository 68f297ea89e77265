// Package notify synthesizes short sine-tone cues for conversation
// lifecycle events and feeds them into playback alongside decoded speech.
package notify

import "math"

// Sound identifies a notification cue tied to an assistant lifecycle event.
type Sound int

const (
	SoundConnect     Sound = iota // ascending two-tone: C5 → G5
	SoundDisconnect               // descending two-tone: G5 → C5
	SoundWakeDetected             // single high ping: A5
	SoundError                    // descending tone: C5 → A4
)

// volume is the peak amplitude of notification tones in the [-1, 1] range.
const volume = 0.18

type tone struct {
	freq int // Hz
	dur  int // ms
}

func tonesFor(sound Sound) []tone {
	switch sound {
	case SoundConnect:
		return []tone{{523, 80}, {784, 120}} // C5, G5
	case SoundDisconnect:
		return []tone{{784, 80}, {523, 120}} // G5, C5
	case SoundWakeDetected:
		return []tone{{880, 120}} // A5
	case SoundError:
		return []tone{{523, 80}, {440, 100}} // C5 → A4
	default:
		return nil
	}
}

// Generator renders notification sounds into frameSize PCM chunks at a
// given sample rate, matching whatever frame size the active codec uses.
type Generator struct {
	sampleRate int
	frameSize  int
}

// NewGenerator creates a Generator producing frames of frameSize samples at
// sampleRate.
func NewGenerator(sampleRate, frameSize int) *Generator {
	return &Generator{sampleRate: sampleRate, frameSize: frameSize}
}

// Frames returns the PCM frames for sound, chunked to the generator's frame
// size. Each tone is chunked on its own, so a tone whose length is not a
// multiple of the frame size ends in a silence-padded partial frame. Returns
// nil for an unrecognized sound.
func (g *Generator) Frames(sound Sound) [][]float32 {
	tones := tonesFor(sound)
	if tones == nil {
		return nil
	}
	var frames [][]float32
	for _, t := range tones {
		frames = append(frames, g.sineTone(float64(t.freq), t.dur)...)
	}
	return frames
}

// sineTone renders durationMs of a sine wave at freq Hz with a 5ms linear
// fade-in/fade-out envelope, chunked into frameSize slices.
func (g *Generator) sineTone(freq float64, durationMs int) [][]float32 {
	totalSamples := g.sampleRate * durationMs / 1000
	raw := make([]float32, totalSamples)

	fadeLen := g.sampleRate * 5 / 1000
	if fadeLen > totalSamples/2 {
		fadeLen = totalSamples / 2
	}

	for i := range raw {
		t := float64(i) / float64(g.sampleRate)
		s := float32(math.Sin(2 * math.Pi * freq * t))

		var env float32 = 1.0
		if i < fadeLen {
			env = float32(i) / float32(fadeLen)
		} else if i >= totalSamples-fadeLen {
			env = float32(totalSamples-1-i) / float32(fadeLen)
		}
		raw[i] = s * env * volume
	}

	var frames [][]float32
	for off := 0; off < len(raw); off += g.frameSize {
		end := off + g.frameSize
		frame := make([]float32, g.frameSize)
		if end > len(raw) {
			copy(frame, raw[off:])
		} else {
			copy(frame, raw[off:end])
		}
		frames = append(frames, frame)
	}
	return frames
}
