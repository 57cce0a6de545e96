package codec

import (
	"bytes"
	"testing"

	"github.com/Sheraz67/Lanstreaming/media"
)

func testFrame(t *testing.T, w, h uint32, seed byte, pts int64) *media.RawVideoFrame {
	t.Helper()
	data := make([]byte, media.YUV420Size(w, h))
	for i := range data {
		data[i] = byte(i)*seed + seed
	}
	f := &media.RawVideoFrame{Data: data, Width: w, Height: h, PTSMicros: pts}
	if err := f.Validate(); err != nil {
		t.Fatal(err)
	}
	return f
}

func newPair(t *testing.T, w, h uint32) (*ZstdVideoEncoder, *ZstdVideoDecoder) {
	t.Helper()
	enc, err := NewZstdVideoEncoder(w, h, 30, 6_000_000)
	if err != nil {
		t.Fatal(err)
	}
	dec, err := NewZstdVideoDecoder()
	if err != nil {
		t.Fatal(err)
	}
	if err := dec.SetExtraData(enc.ExtraData()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { enc.Close(); dec.Close() })
	return enc, dec
}

func TestVideoKeyframeRoundTrip(t *testing.T) {
	t.Parallel()
	enc, dec := newPair(t, 64, 48)

	raw := testFrame(t, 64, 48, 3, 1000)
	pkt, err := enc.Encode(raw)
	if err != nil {
		t.Fatal(err)
	}
	if pkt.Type != media.VideoKeyframe {
		t.Errorf("first frame type = %v, want keyframe", pkt.Type)
	}
	if pkt.PTSMicros != 1000 {
		t.Errorf("pts = %d, want 1000", pkt.PTSMicros)
	}

	got, err := dec.Decode(pkt)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got.Data, raw.Data) {
		t.Error("keyframe round trip lost data")
	}
	if got.Width != 64 || got.Height != 48 {
		t.Errorf("decoded %dx%d, want 64x48", got.Width, got.Height)
	}
}

func TestVideoDeltaRoundTrip(t *testing.T) {
	t.Parallel()
	enc, dec := newPair(t, 32, 16)

	frames := []*media.RawVideoFrame{
		testFrame(t, 32, 16, 1, 0),
		testFrame(t, 32, 16, 2, 33_333),
		testFrame(t, 32, 16, 5, 66_666),
	}
	for i, raw := range frames {
		pkt, err := enc.Encode(raw)
		if err != nil {
			t.Fatal(err)
		}
		wantType := media.VideoPFrame
		if i == 0 {
			wantType = media.VideoKeyframe
		}
		if pkt.Type != wantType {
			t.Errorf("frame %d type = %v, want %v", i, pkt.Type, wantType)
		}
		if pkt.FrameID != uint16(i) {
			t.Errorf("frame %d id = %d", i, pkt.FrameID)
		}

		got, err := dec.Decode(pkt)
		if err != nil {
			t.Fatalf("decode frame %d: %v", i, err)
		}
		if !bytes.Equal(got.Data, raw.Data) {
			t.Errorf("frame %d round trip lost data", i)
		}
	}
}

func TestVideoForceKeyframe(t *testing.T) {
	t.Parallel()
	enc, _ := newPair(t, 32, 16)

	if _, err := enc.Encode(testFrame(t, 32, 16, 1, 0)); err != nil {
		t.Fatal(err)
	}
	enc.ForceKeyframe()
	pkt, err := enc.Encode(testFrame(t, 32, 16, 2, 1))
	if err != nil {
		t.Fatal(err)
	}
	if pkt.Type != media.VideoKeyframe {
		t.Errorf("forced frame type = %v, want keyframe", pkt.Type)
	}

	// Flag is consumed; the next frame is a delta again.
	pkt, err = enc.Encode(testFrame(t, 32, 16, 3, 2))
	if err != nil {
		t.Fatal(err)
	}
	if pkt.Type != media.VideoPFrame {
		t.Errorf("post-force frame type = %v, want pframe", pkt.Type)
	}
}

func TestVideoPeriodicKeyframe(t *testing.T) {
	t.Parallel()
	enc, err := NewZstdVideoEncoder(32, 16, 2, 6_000_000) // gop = 4 frames
	if err != nil {
		t.Fatal(err)
	}
	defer enc.Close()

	keyframes := 0
	for i := 0; i < 9; i++ {
		pkt, err := enc.Encode(testFrame(t, 32, 16, byte(i+1), int64(i)))
		if err != nil {
			t.Fatal(err)
		}
		if pkt.Type == media.VideoKeyframe {
			keyframes++
		}
	}
	// Frames 0, 4, 8 are keyframes at a gop of 4.
	if keyframes != 3 {
		t.Errorf("got %d keyframes in 9 frames, want 3", keyframes)
	}
}

func TestVideoDeltaWithoutKeyframe(t *testing.T) {
	t.Parallel()
	enc, dec := newPair(t, 32, 16)

	enc.Encode(testFrame(t, 32, 16, 1, 0)) // keyframe, not delivered
	pkt, err := enc.Encode(testFrame(t, 32, 16, 2, 1))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := dec.Decode(pkt); err == nil {
		t.Error("delta frame decoded without a reference keyframe")
	}
}

func TestVideoReconfigurePreservesGeometry(t *testing.T) {
	t.Parallel()
	enc, dec := newPair(t, 64, 48)

	if _, err := enc.Encode(testFrame(t, 64, 48, 1, 0)); err != nil {
		t.Fatal(err)
	}
	if err := enc.Reconfigure(3_000_000); err != nil {
		t.Fatal(err)
	}
	if enc.Bitrate() != 3_000_000 {
		t.Errorf("bitrate = %d, want 3000000", enc.Bitrate())
	}

	enc.ForceKeyframe()
	raw := testFrame(t, 64, 48, 7, 100)
	pkt, err := enc.Encode(raw)
	if err != nil {
		t.Fatal(err)
	}
	got, err := dec.Decode(pkt)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got.Data, raw.Data) {
		t.Error("round trip lost data after reconfigure")
	}
}

func TestVideoDecoderRejects(t *testing.T) {
	t.Parallel()
	dec, err := NewZstdVideoDecoder()
	if err != nil {
		t.Fatal(err)
	}
	defer dec.Close()

	if _, err := dec.Decode(&media.EncodedFrame{Type: media.VideoKeyframe}); err == nil {
		t.Error("decode before extradata succeeded")
	}
	if err := dec.SetExtraData([]byte("garbage")); err == nil {
		t.Error("garbage extradata accepted")
	}
}

func TestVideoEncoderRejectsWrongGeometry(t *testing.T) {
	t.Parallel()
	enc, _ := newPair(t, 32, 16)
	if _, err := enc.Encode(testFrame(t, 64, 48, 1, 0)); err == nil {
		t.Error("mismatched frame dimensions accepted")
	}
}
