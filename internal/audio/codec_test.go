package audio

import (
	"errors"
	"testing"

	"go.uber.org/zap"
)

// fakeEncoder implements opusEncoder for testing without the real Opus CGO
// dependency.
type fakeEncoder struct {
	lastPCM   []int16
	bitrate   int
	lossPerc  int
	failEncode bool
}

func (f *fakeEncoder) Encode(pcm []int16, data []byte) (int, error) {
	if f.failEncode {
		return 0, errors.New("boom")
	}
	f.lastPCM = append([]int16(nil), pcm...)
	n := copy(data, []byte{0xAA, 0xBB})
	return n, nil
}
func (f *fakeEncoder) SetBitrate(b int) error         { f.bitrate = b; return nil }
func (f *fakeEncoder) SetDTX(bool) error              { return nil }
func (f *fakeEncoder) SetInBandFEC(bool) error        { return nil }
func (f *fakeEncoder) SetPacketLossPerc(p int) error  { f.lossPerc = p; return nil }

// fakeDecoder implements opusDecoder for testing.
type fakeDecoder struct {
	failDecode bool
}

func (f *fakeDecoder) Decode(data []byte, pcm []int16) (int, error) {
	if f.failDecode {
		return 0, errors.New("corrupt packet")
	}
	for i := range pcm {
		pcm[i] = int16(i + 1)
	}
	return len(pcm), nil
}
func (f *fakeDecoder) DecodeFEC(data []byte, pcm []int16) error { return nil }

func newTestCodec(enc *fakeEncoder, dec *fakeDecoder) *Codec {
	return &Codec{
		sampleRate: 16000,
		channels:   1,
		frameSize:  960,
		enc:        enc,
		dec:        dec,
		logger:     zap.NewNop().Sugar(),
	}
}

func TestCodecEncodePadsShortFrame(t *testing.T) {
	enc := &fakeEncoder{}
	c := newTestCodec(enc, &fakeDecoder{})

	_, err := c.Encode([]int16{1, 2, 3})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(enc.lastPCM) != c.frameSize {
		t.Errorf("encoder saw pcm len %d, want %d (zero-padded)", len(enc.lastPCM), c.frameSize)
	}
}

func TestCodecEncodeError(t *testing.T) {
	c := newTestCodec(&fakeEncoder{failEncode: true}, &fakeDecoder{})
	if _, err := c.Encode(make([]int16, 960)); err == nil {
		t.Error("expected error from failing encoder")
	}
}

func TestCodecDecodeFallsBackToSilenceOnError(t *testing.T) {
	c := newTestCodec(&fakeEncoder{}, &fakeDecoder{failDecode: true})
	pcm := c.Decode([]byte{0x01, 0x02})
	if len(pcm) != c.frameSize {
		t.Fatalf("len=%d, want %d", len(pcm), c.frameSize)
	}
	for i, s := range pcm {
		if s != 0 {
			t.Fatalf("pcm[%d] = %d, want 0 (silence fallback)", i, s)
		}
	}
}

func TestCodecDecodeEmptyPacketIsPLC(t *testing.T) {
	c := newTestCodec(&fakeEncoder{}, &fakeDecoder{})
	pcm := c.Decode(nil)
	if len(pcm) != c.frameSize {
		t.Fatalf("len=%d, want %d", len(pcm), c.frameSize)
	}
}

func TestCodecDecodeSuccess(t *testing.T) {
	c := newTestCodec(&fakeEncoder{}, &fakeDecoder{})
	pcm := c.Decode([]byte{0x01, 0x02})
	if pcm[0] != 1 || pcm[1] != 2 {
		t.Errorf("unexpected decode output: %v", pcm[:2])
	}
}

func TestCodecSetBitrateClamped(t *testing.T) {
	enc := &fakeEncoder{}
	c := newTestCodec(enc, &fakeDecoder{})

	c.SetBitrate(0)
	if enc.bitrate != 6000 {
		t.Errorf("bitrate clamped low: got %d, want 6000", enc.bitrate)
	}
	c.SetBitrate(1000)
	if enc.bitrate != 510000 {
		t.Errorf("bitrate clamped high: got %d, want 510000", enc.bitrate)
	}
}

func TestCodecSetPacketLossClamped(t *testing.T) {
	enc := &fakeEncoder{}
	c := newTestCodec(enc, &fakeDecoder{})

	c.SetPacketLoss(-5)
	if enc.lossPerc != 0 {
		t.Errorf("loss clamped low: got %d, want 0", enc.lossPerc)
	}
	c.SetPacketLoss(150)
	if enc.lossPerc != 100 {
		t.Errorf("loss clamped high: got %d, want 100", enc.lossPerc)
	}
}
