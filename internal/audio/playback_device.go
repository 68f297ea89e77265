package audio

import (
	"context"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
	"go.uber.org/zap"
)

// paOutStream abstracts a PortAudio output stream for testing, mirroring
// paStream on the capture side.
type paOutStream interface {
	Start() error
	Stop() error
	Close() error
	Write() error
}

// PlaybackDevice drains a PlaybackQueue into the physical output device,
// writing silence when the queue is empty rather than blocking, so a stall
// upstream (network jitter, a slow decoder) never glitches the speaker with
// stale buffered audio — it just goes quiet.
type PlaybackDevice struct {
	logger *zap.SugaredLogger
	queue  *PlaybackQueue

	mu      sync.Mutex
	stream  paOutStream
	buf     []float32
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	openStream func(sampleRate, channels, frameSize int) (paOutStream, []float32, error)
}

// NewPlaybackDevice creates an idle device bound to queue. Call Start to
// open the output stream.
func NewPlaybackDevice(queue *PlaybackQueue, logger *zap.SugaredLogger) *PlaybackDevice {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	d := &PlaybackDevice{logger: logger, queue: queue}
	d.openStream = d.openPortaudioStream
	return d
}

// Start opens the output stream at sampleRate/channels and begins the write
// loop. A Start while already running is a no-op whatever parameters it is
// given; the stream is not reopened at new parameters until after Stop.
func (d *PlaybackDevice) Start(ctx context.Context, sampleRate, channels, frameSize int) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()

	stream, buf, err := d.openStream(sampleRate, channels, frameSize)
	if err != nil {
		return fmt.Errorf("open playback stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("start playback stream: %w", err)
	}

	d.mu.Lock()
	d.stream = stream
	d.buf = buf
	d.running = true
	d.stopCh = make(chan struct{})
	stopCh := d.stopCh
	d.mu.Unlock()

	d.wg.Add(1)
	go d.writeLoop(stopCh)
	return nil
}

// Stop closes the output stream, bounded by teardownTimeout like the
// capture hub's.
func (d *PlaybackDevice) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	close(d.stopCh)
	stream := d.stream
	d.stream = nil
	d.mu.Unlock()

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
		d.wg.Wait()
		return err
	case <-tctx.Done():
		d.logger.Warnw("playback stream teardown timed out, discarding handle")
		return nil
	}
}

func (d *PlaybackDevice) writeLoop(stopCh chan struct{}) {
	defer d.wg.Done()
	for {
		select {
		case <-stopCh:
			return
		default:
		}

		d.mu.Lock()
		stream := d.stream
		buf := d.buf
		d.mu.Unlock()
		if stream == nil {
			return
		}

		frame, ok := d.queue.Pop()
		if ok {
			copy(buf, Int16ToFloat(frame))
			if len(frame) < len(buf) {
				for i := len(frame); i < len(buf); i++ {
					buf[i] = 0
				}
			}
		} else {
			for i := range buf {
				buf[i] = 0
			}
		}

		if err := stream.Write(); err != nil {
			d.logger.Warnw("playback write failed", "err", err)
			return
		}
	}
}

func (d *PlaybackDevice) openPortaudioStream(sampleRate, channels, frameSize int) (paOutStream, []float32, error) {
	dev, err := portaudio.DefaultOutputDevice()
	if err != nil {
		return nil, nil, err
	}
	buf := make([]float32, frameSize)
	params := portaudio.StreamParameters{
		Output: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: channels,
			Latency:  dev.DefaultLowOutputLatency,
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
