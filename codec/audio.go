package codec

import (
	"fmt"

	g722 "github.com/gotranspile/g722"

	"github.com/Sheraz67/Lanstreaming/media"
)

// The voice codec runs G.722 at an 8 kHz mono core rate. Stream audio at
// any multiple of 8 kHz is downmixed and decimated on encode and expanded
// back on decode.
const (
	voiceSampleRate   = 8000
	g722Rate          = g722.Rate48000
	g722BitsPerSample = 6
	g722Options       = g722.FlagSampleRate8000 | g722.FlagPacked
)

// G722Encoder compresses PCM audio for the wire. Stereo input is downmixed
// to mono and decimated to the 8 kHz voice band before G.722 encoding.
type G722Encoder struct {
	enc        *g722.Encoder
	sampleRate uint32
	channels   uint16
	ratio      int
	frameID    uint16
}

// NewG722Encoder creates an encoder for interleaved float32 PCM at the given
// stream format. The sample rate must be a multiple of 8000.
func NewG722Encoder(sampleRate uint32, channels uint16) (*G722Encoder, error) {
	if channels == 0 {
		return nil, fmt.Errorf("audio encoder needs at least one channel")
	}
	if sampleRate == 0 || sampleRate%voiceSampleRate != 0 {
		return nil, fmt.Errorf("sample rate %d is not a multiple of %d", sampleRate, voiceSampleRate)
	}
	return &G722Encoder{
		enc:        g722.NewEncoder(g722Rate, g722Options),
		sampleRate: sampleRate,
		channels:   channels,
		ratio:      int(sampleRate / voiceSampleRate),
	}, nil
}

// Encode downmixes, decimates, and G.722-encodes one PCM frame.
func (e *G722Encoder) Encode(frame *media.RawAudioFrame) (*media.EncodedFrame, error) {
	if err := frame.Validate(); err != nil {
		return nil, err
	}
	if frame.SampleRate != e.sampleRate || frame.Channels != e.channels {
		return nil, fmt.Errorf("audio frame %d ch @ %d Hz does not match encoder %d ch @ %d Hz",
			frame.Channels, frame.SampleRate, e.channels, e.sampleRate)
	}

	pcm := downmixDecimate(frame.Samples, int(e.channels), e.ratio)
	if len(pcm) == 0 {
		return nil, fmt.Errorf("audio frame too short to encode")
	}

	buf := make([]byte, (len(pcm)*g722BitsPerSample+7)/8)
	written := e.enc.Encode(buf, pcm)
	if written <= 0 {
		return nil, fmt.Errorf("g722 encode produced %d bytes", written)
	}

	out := &media.EncodedFrame{
		Data:      buf[:written],
		Type:      media.Audio,
		PTSMicros: frame.PTSMicros,
		FrameID:   e.frameID,
	}
	e.frameID++
	return out, nil
}

// Close releases the encoder.
func (e *G722Encoder) Close() error {
	return nil
}

// G722Decoder expands G.722 voice frames back to the stream PCM format.
type G722Decoder struct {
	dec        *g722.Decoder
	sampleRate uint32
	channels   uint16
	ratio      int
}

// NewG722Decoder creates a decoder producing interleaved float32 PCM at the
// given stream format. The sample rate must be a multiple of 8000.
func NewG722Decoder(sampleRate uint32, channels uint16) (*G722Decoder, error) {
	if channels == 0 {
		return nil, fmt.Errorf("audio decoder needs at least one channel")
	}
	if sampleRate == 0 || sampleRate%voiceSampleRate != 0 {
		return nil, fmt.Errorf("sample rate %d is not a multiple of %d", sampleRate, voiceSampleRate)
	}
	return &G722Decoder{
		dec:        g722.NewDecoder(g722Rate, g722Options),
		sampleRate: sampleRate,
		channels:   channels,
		ratio:      int(sampleRate / voiceSampleRate),
	}, nil
}

// Decode G.722-decodes one frame and expands it to the stream format by
// sample repetition and channel replication.
func (d *G722Decoder) Decode(frame *media.EncodedFrame) (*media.RawAudioFrame, error) {
	if frame.Type != media.Audio {
		return nil, fmt.Errorf("%v frame fed to audio decoder", frame.Type)
	}
	if len(frame.Data) == 0 {
		return nil, fmt.Errorf("empty audio frame")
	}

	scratch := make([]int16, len(frame.Data)*8/g722BitsPerSample+2)
	written := d.dec.Decode(scratch, frame.Data)
	if written <= 0 {
		return nil, fmt.Errorf("g722 decode produced %d samples", written)
	}
	mono := scratch[:written]
	// The packed decoder can return fewer samples than the frame carries
	// codes for (a trailing code stays buffered until the next call); repeat
	// the final sample so the frame keeps the length the encoder produced.
	if want := len(frame.Data) * 8 / g722BitsPerSample; written < want {
		for len(mono) < want {
			mono = append(mono, mono[len(mono)-1])
		}
		written = want
	}

	perChannel := written * d.ratio
	samples := make([]float32, 0, perChannel*int(d.channels))
	for _, s := range mono {
		v := float32(s) / 32768
		for r := 0; r < d.ratio; r++ {
			for ch := uint16(0); ch < d.channels; ch++ {
				samples = append(samples, v)
			}
		}
	}

	return &media.RawAudioFrame{
		Samples:    samples,
		SampleRate: d.sampleRate,
		Channels:   d.channels,
		NumSamples: uint32(perChannel),
		PTSMicros:  frame.PTSMicros,
	}, nil
}

// Close releases the decoder.
func (d *G722Decoder) Close() error {
	return nil
}

// downmixDecimate averages interleaved channels to mono, then averages each
// run of ratio samples down to the voice band, clamping to int16.
func downmixDecimate(samples []float32, channels, ratio int) []int16 {
	perChannel := len(samples) / channels
	outLen := perChannel / ratio
	out := make([]int16, outLen)

	for i := 0; i < outLen; i++ {
		var acc float32
		for r := 0; r < ratio; r++ {
			base := (i*ratio + r) * channels
			var mix float32
			for ch := 0; ch < channels; ch++ {
				mix += samples[base+ch]
			}
			acc += mix / float32(channels)
		}
		v := acc / float32(ratio) * 32767
		switch {
		case v > 32767:
			v = 32767
		case v < -32768:
			v = -32768
		}
		out[i] = int16(v)
	}
	return out
}
