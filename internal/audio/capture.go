package audio

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
	"go.uber.org/zap"
)

// Frame is one 60 ms capture frame of mono float32 PCM.
type Frame struct {
	Samples []float32
}

// paStream abstracts a PortAudio stream for testing.
type paStream interface {
	Start() error
	Stop() error
	Close() error
	Read() error
}

// Subscription is a live registration on the CaptureHub. Close decrements
// the hub's subscriber refcount; when it drops to zero the underlying
// device stream is torn down.
type Subscription struct {
	hub *CaptureHub
	id  uint64
	ch  chan Frame
}

// Close unregisters the subscription.
func (s *Subscription) Close() {
	s.hub.unsubscribe(s.id)
}

// C returns the channel frames are delivered on.
func (s *Subscription) C() <-chan Frame { return s.ch }

// CaptureHub owns the single physical capture stream and fans it out to any
// number of subscribers (the keyword spotter, the voice encoder) without
// opening more than one PortAudio stream at a time. The underlying device
// stream stays open for as long as any subscriber is active: Subscribe
// opens it on the 0→1 transition (using the params most recently set by
// SetParams or Start), and the last matching
// unsubscribe tears it down. Start/Stop remain available for a caller that
// wants to force a specific sample rate/channel count/frame size regardless
// of the current subscriber count.
type CaptureHub struct {
	mu sync.Mutex

	logger *zap.SugaredLogger

	sampleRate int
	channels   int
	frameDurMs int
	frameSize  int

	stream   paStream
	buf      []float32
	stopCh   chan struct{}
	wg       sync.WaitGroup
	running  bool

	nextID   int64
	subs     map[uint64]chan Frame
	refCount int

	openStream func(sampleRate, channels, frameSize int) (paStream, []float32, error)
}

// subChannelDepth is how many frames a subscriber's channel buffers before
// frames are dropped (8 frames ~ 480ms at 60ms/frame).
const subChannelDepth = 8

// NewCaptureHub creates an idle hub. Call Start to open the device stream.
func NewCaptureHub(logger *zap.SugaredLogger) *CaptureHub {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	h := &CaptureHub{
		logger: logger,
		subs:   make(map[uint64]chan Frame),
	}
	h.openStream = h.openPortaudioStream
	return h
}

// Start opens (or confirms) a capture stream at sampleRate/channels. It is a
// no-op if a stream is already running with matching parameters; a parameter
// change tears down the old stream (bounded by teardownTimeout) before
// opening the new one.
func (h *CaptureHub) Start(ctx context.Context, sampleRate, channels, frameMs int) error {
	frameSize := sampleRate * frameMs / 1000 * channels

	h.mu.Lock()
	if h.running && h.sampleRate == sampleRate && h.channels == channels && h.frameSize == frameSize {
		h.mu.Unlock()
		return nil
	}
	wasRunning := h.running
	h.mu.Unlock()

	if wasRunning {
		if err := h.stopLocked(ctx); err != nil {
			return fmt.Errorf("teardown previous stream: %w", err)
		}
	}

	stream, buf, err := h.openStream(sampleRate, channels, frameSize)
	if err != nil {
		return fmt.Errorf("open capture stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("start capture stream: %w", err)
	}

	h.mu.Lock()
	h.stream = stream
	h.buf = buf
	h.sampleRate = sampleRate
	h.channels = channels
	h.frameDurMs = frameMs
	h.frameSize = frameSize
	h.stopCh = make(chan struct{})
	h.running = true
	stopCh := h.stopCh
	h.mu.Unlock()

	h.wg.Add(1)
	go h.readLoop(stopCh)

	h.logger.Infow("capture hub started", "sample_rate", sampleRate, "channels", channels, "frame_ms", frameMs)
	return nil
}

// teardownTimeout bounds how long Stop waits for the PortAudio stream to
// close before forcibly discarding the handle.
const teardownTimeout = 5 * time.Second

func (h *CaptureHub) stopLocked(ctx context.Context) error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return nil
	}
	h.running = false
	close(h.stopCh)
	stream := h.stream
	h.stream = nil
	h.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		if err := stream.Stop(); err != nil {
			done <- err
			return
		}
		done <- stream.Close()
	}()

	tctx, cancel := context.WithTimeout(ctx, teardownTimeout)
	defer cancel()

	select {
	case err := <-done:
		h.wg.Wait()
		return err
	case <-tctx.Done():
		h.logger.Warnw("capture stream teardown timed out, discarding handle")
		return fmt.Errorf("capture stream teardown abandoned, handle discarded: %w", tctx.Err())
	}
}

// Stop tears down the running capture stream, if any.
func (h *CaptureHub) Stop(ctx context.Context) error {
	return h.stopLocked(ctx)
}

// SetParams records the sample rate/channels/frame duration Subscribe
// should use to auto-open the stream on its first subscriber, for a caller
// (the keyword spotter's owner) that subscribes before ever calling Start
// explicitly. A no-op while the stream is already running, since Start is
// then the one that owns reconfiguration.
func (h *CaptureHub) SetParams(sampleRate, channels, frameMs int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return
	}
	h.sampleRate = sampleRate
	h.channels = channels
	h.frameDurMs = frameMs
	h.frameSize = sampleRate * frameMs / 1000 * channels
}

// Subscribe registers a new listener and increments the subscriber count.
// On the 0→1 transition, if the stream isn't already running, it opens the
// stream using the most recently configured params (see SetParams/Start);
// if none have been configured yet, the subscriber simply receives no
// frames until something does call Start.
func (h *CaptureHub) Subscribe() *Subscription {
	h.mu.Lock()
	h.nextID++
	id := uint64(h.nextID)
	ch := make(chan Frame, subChannelDepth)
	h.subs[id] = ch
	h.refCount++
	needOpen := h.refCount == 1 && !h.running && h.sampleRate > 0
	sampleRate, channels, frameDurMs := h.sampleRate, h.channels, h.frameDurMs
	h.mu.Unlock()

	if needOpen {
		if err := h.Start(context.Background(), sampleRate, channels, frameDurMs); err != nil {
			h.logger.Warnw("capture hub: auto-open on subscribe failed", "err", err)
		}
	}
	return &Subscription{hub: h, id: id, ch: ch}
}

func (h *CaptureHub) unsubscribe(id uint64) {
	h.mu.Lock()
	ch, ok := h.subs[id]
	if ok {
		delete(h.subs, id)
		h.refCount--
	}
	needClose := ok && h.refCount == 0 && h.running
	h.mu.Unlock()

	if !ok {
		return
	}
	close(ch)
	if needClose {
		if err := h.Stop(context.Background()); err != nil {
			h.logger.Warnw("capture hub: auto-close on last unsubscribe failed", "err", err)
		}
	}
}

func (h *CaptureHub) readLoop(stopCh chan struct{}) {
	defer h.wg.Done()
	for {
		select {
		case <-stopCh:
			return
		default:
		}

		h.mu.Lock()
		stream := h.stream
		buf := h.buf
		h.mu.Unlock()
		if stream == nil {
			return
		}

		if err := stream.Read(); err != nil {
			h.logger.Warnw("capture read failed", "err", err)
			return
		}

		frame := Frame{Samples: append([]float32(nil), buf...)}

		h.mu.Lock()
		subs := make([]chan Frame, 0, len(h.subs))
		for _, ch := range h.subs {
			subs = append(subs, ch)
		}
		h.mu.Unlock()

		for _, ch := range subs {
			select {
			case ch <- frame:
			default:
				// Drop-oldest: a stalled subscriber must not lose its
				// most recent frame to a transient burst, only its
				// staler backlog (spec module A invariant).
				select {
				case <-ch:
				default:
				}
				select {
				case ch <- frame:
				default:
				}
				h.logger.Warnw("capture subscriber buffer full, dropped oldest frame")
			}
		}
	}
}

func (h *CaptureHub) openPortaudioStream(sampleRate, channels, frameSize int) (paStream, []float32, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, nil, err
	}
	dev, err := portaudio.DefaultInputDevice()
	if err != nil {
		return nil, nil, err
	}
	_ = devices

	buf := make([]float32, frameSize)
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: channels,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(sampleRate),
		FramesPerBuffer: frameSize,
	}
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		return nil, nil, err
	}
	return stream, buf, nil
}
