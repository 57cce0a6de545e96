package codec

import (
	"math"
	"testing"

	"github.com/Sheraz67/Lanstreaming/media"
)

func sineFrame(t *testing.T, sampleRate uint32, channels uint16, n int) *media.RawAudioFrame {
	t.Helper()
	samples := make([]float32, n*int(channels))
	for i := 0; i < n; i++ {
		v := float32(0.5 * math.Sin(2*math.Pi*440*float64(i)/float64(sampleRate)))
		for ch := 0; ch < int(channels); ch++ {
			samples[i*int(channels)+ch] = v
		}
	}
	f := &media.RawAudioFrame{
		Samples:    samples,
		SampleRate: sampleRate,
		Channels:   channels,
		NumSamples: uint32(n),
		PTSMicros:  42,
	}
	if err := f.Validate(); err != nil {
		t.Fatal(err)
	}
	return f
}

func TestAudioEncodeDecode(t *testing.T) {
	t.Parallel()
	enc, err := NewG722Encoder(48000, 2)
	if err != nil {
		t.Fatal(err)
	}
	dec, err := NewG722Decoder(48000, 2)
	if err != nil {
		t.Fatal(err)
	}

	// 20 ms at 48 kHz.
	in := sineFrame(t, 48000, 2, 960)
	pkt, err := enc.Encode(in)
	if err != nil {
		t.Fatal(err)
	}
	if pkt.Type != media.Audio {
		t.Errorf("type = %v, want audio", pkt.Type)
	}
	if pkt.PTSMicros != 42 {
		t.Errorf("pts = %d, want 42", pkt.PTSMicros)
	}
	// 960 samples decimate to 160 voice samples at 6 bits each.
	if len(pkt.Data) == 0 || len(pkt.Data) > 160 {
		t.Errorf("encoded frame = %d bytes", len(pkt.Data))
	}

	out, err := dec.Decode(pkt)
	if err != nil {
		t.Fatal(err)
	}
	if err := out.Validate(); err != nil {
		t.Errorf("decoded frame invalid: %v", err)
	}
	if out.SampleRate != 48000 || out.Channels != 2 {
		t.Errorf("decoded format %d ch @ %d Hz", out.Channels, out.SampleRate)
	}
	if out.NumSamples != in.NumSamples {
		t.Errorf("decoded %d samples per channel, want %d", out.NumSamples, in.NumSamples)
	}
}

func TestAudioFrameIDAdvances(t *testing.T) {
	t.Parallel()
	enc, err := NewG722Encoder(48000, 2)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		pkt, err := enc.Encode(sineFrame(t, 48000, 2, 960))
		if err != nil {
			t.Fatal(err)
		}
		if pkt.FrameID != uint16(i) {
			t.Errorf("frame %d id = %d", i, pkt.FrameID)
		}
	}
}

func TestAudioRejectsBadFormats(t *testing.T) {
	t.Parallel()
	if _, err := NewG722Encoder(44100, 2); err == nil {
		t.Error("44.1 kHz accepted (not a multiple of 8000)")
	}
	if _, err := NewG722Encoder(48000, 0); err == nil {
		t.Error("zero channels accepted")
	}
	if _, err := NewG722Decoder(44100, 2); err == nil {
		t.Error("decoder accepted 44.1 kHz")
	}

	enc, err := NewG722Encoder(48000, 2)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := enc.Encode(sineFrame(t, 16000, 1, 160)); err == nil {
		t.Error("mismatched frame format accepted")
	}
}

func TestAudioDecoderRejectsVideo(t *testing.T) {
	t.Parallel()
	dec, err := NewG722Decoder(48000, 2)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := dec.Decode(&media.EncodedFrame{Type: media.VideoKeyframe, Data: []byte{1}}); err == nil {
		t.Error("video frame accepted by audio decoder")
	}
}
