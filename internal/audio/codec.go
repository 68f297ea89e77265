// Package audio implements the capture, codec, and playback stages of the
// assistant's single voice-stream audio pipeline.
package audio

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/hraban/opus.v2"
)

// opusMaxPacketBytes is the RFC 6716 maximum Opus packet size.
const opusMaxPacketBytes = 1275

// Application selects the Opus encoder tuning profile.
type Application int

const (
	// AppVoIP tunes the encoder for speech intelligibility over lossy links.
	AppVoIP Application = iota
	// AppAudio tunes the encoder for general audio fidelity.
	AppAudio
)

func (a Application) opusConst() int {
	if a == AppAudio {
		return opus.AppAudio
	}
	return opus.AppVoIP
}

// opusEncoder abstracts Opus encoding for testing.
type opusEncoder interface {
	Encode(pcm []int16, data []byte) (int, error)
	SetBitrate(bitrate int) error
	SetDTX(dtx bool) error
	SetInBandFEC(fec bool) error
	SetPacketLossPerc(lossPerc int) error
}

// opusDecoder abstracts Opus decoding for testing.
type opusDecoder interface {
	Decode(data []byte, pcm []int16) (int, error)
	DecodeFEC(data []byte, pcm []int16) error
}

// Codec wraps an Opus encoder/decoder pair sized for one sample rate,
// channel count, and frame duration. A parameter change requires building a
// fresh Codec; encoders and decoders are never reused across it.
type Codec struct {
	mu sync.Mutex

	sampleRate int
	channels   int
	frameSize  int

	enc opusEncoder
	dec opusDecoder

	logOnce   sync.Once
	logger    *zap.SugaredLogger
}

// NewCodec builds a Codec for sampleRate Hz, channels channels, with frames
// covering frameMs milliseconds (60 per the capture pipeline's contract).
func NewCodec(sampleRate, channels, frameMs int, app Application, logger *zap.SugaredLogger) (*Codec, error) {
	enc, err := opus.NewEncoder(sampleRate, channels, app.opusConst())
	if err != nil {
		return nil, fmt.Errorf("new encoder: %w", err)
	}
	enc.SetBitrate(32000)
	enc.SetDTX(true)
	enc.SetInBandFEC(true)
	enc.SetPacketLossPerc(5)

	dec, err := opus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("new decoder: %w", err)
	}

	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	return &Codec{
		sampleRate: sampleRate,
		channels:   channels,
		frameSize:  sampleRate * frameMs / 1000 * channels,
		enc:        enc,
		dec:        dec,
		logger:     logger,
	}, nil
}

// FrameSize returns the number of int16 samples a full frame holds.
func (c *Codec) FrameSize() int { return c.frameSize }

// SetBitrate changes the Opus encoder target bitrate (kbps). Clamped to the
// valid Opus range [6, 510].
func (c *Codec) SetBitrate(kbps int) error {
	if kbps < 6 {
		kbps = 6
	}
	if kbps > 510 {
		kbps = 510
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enc.SetBitrate(kbps * 1000)
}

// SetPacketLoss tells the encoder the expected packet loss percentage so it
// can tune in-band FEC redundancy. Clamped to [0, 100].
func (c *Codec) SetPacketLoss(pct int) error {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enc.SetPacketLossPerc(pct)
}

// Encode encodes one PCM frame to Opus. pcm shorter than FrameSize() is
// zero-padded; longer is truncated. The mismatch is logged once per Codec
// lifetime since it indicates a capture/codec frame-size wiring bug.
func (c *Codec) Encode(pcm []int16) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(pcm) != c.frameSize {
		c.logOnce.Do(func() {
			c.logger.Warnw("pcm frame size mismatch", "got", len(pcm), "want", c.frameSize)
		})
		fixed := make([]int16, c.frameSize)
		copy(fixed, pcm)
		pcm = fixed
	}

	buf := make([]byte, opusMaxPacketBytes)
	n, err := c.enc.Encode(pcm, buf)
	if err != nil {
		return nil, fmt.Errorf("opus encode: %w", err)
	}
	return buf[:n], nil
}

// Decode decodes one Opus packet to PCM and never returns an error. An empty
// packet runs the decoder's packet-loss concealment for a missing frame
// (zeroed silence if that fails); a malformed packet falls back to a zeroed
// silence frame.
func (c *Codec) Decode(packet []byte) []int16 {
	c.mu.Lock()
	defer c.mu.Unlock()

	pcm := make([]int16, c.frameSize)
	if len(packet) == 0 {
		if _, err := c.dec.Decode(nil, pcm); err != nil {
			return pcm // already zeroed
		}
		return pcm
	}

	n, err := c.dec.Decode(packet, pcm)
	if err != nil {
		c.logger.Debugw("opus decode failed, substituting silence", "err", err)
		return make([]int16, c.frameSize)
	}
	return pcm[:n]
}
