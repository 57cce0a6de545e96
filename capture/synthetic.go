package capture

import (
	"math"
	"time"

	"github.com/Sheraz67/Lanstreaming/media"
)

// SyntheticScreen generates a moving color-gradient test pattern. It stands
// in for a platform screen grabber in tests and on hosts with no capture
// backend, and produces content whose inter-frame motion exercises the
// delta path of the video codec.
type SyntheticScreen struct {
	width  uint32
	height uint32
	frame  uint64
}

// NewSyntheticScreen creates a pattern source at the given even dimensions.
func NewSyntheticScreen(width, height uint32) *SyntheticScreen {
	if width%2 != 0 {
		width++
	}
	if height%2 != 0 {
		height++
	}
	return &SyntheticScreen{width: width, height: height}
}

// Size returns the pattern dimensions.
func (s *SyntheticScreen) Size() (uint32, uint32) {
	return s.width, s.height
}

// Capture renders the next pattern frame. Never fails.
func (s *SyntheticScreen) Capture() (*media.RawVideoFrame, error) {
	w, h := int(s.width), int(s.height)
	data := make([]byte, media.YUV420Size(s.width, s.height))

	phase := float64(s.frame) * 0.05
	shift := int(s.frame * 2)

	// Luma: diagonal gradient scrolling with the frame counter.
	for y := 0; y < h; y++ {
		row := data[y*w : (y+1)*w]
		for x := 0; x < w; x++ {
			row[x] = byte(x + y + shift)
		}
	}

	// Chroma: slow sinusoidal color wash.
	uPlane := data[w*h:]
	vPlane := data[w*h+(w/2)*(h/2):]
	u := byte(128 + 64*math.Sin(phase))
	v := byte(128 + 64*math.Cos(phase))
	for i := 0; i < (w/2)*(h/2); i++ {
		uPlane[i] = u
		vPlane[i] = v
	}

	s.frame++
	return &media.RawVideoFrame{
		Data:      data,
		Width:     s.width,
		Height:    s.height,
		PTSMicros: media.NowMicros(),
	}, nil
}

// Close is a no-op; the pattern holds no resources.
func (s *SyntheticScreen) Close() error {
	return nil
}

// SyntheticAudio generates a sine tone in the stream PCM format, standing in
// for a system-audio grabber. Each Capture returns frameSamples samples per
// channel, blocking as a real device would so production stays real-time.
type SyntheticAudio struct {
	sampleRate   uint32
	channels     uint16
	frameSamples uint32
	pos          uint64
	next         time.Time
}

// NewSyntheticAudio creates a tone source producing 20 ms frames.
func NewSyntheticAudio(sampleRate uint32, channels uint16) *SyntheticAudio {
	return &SyntheticAudio{
		sampleRate:   sampleRate,
		channels:     channels,
		frameSamples: sampleRate / 50,
		next:         time.Now(),
	}
}

// Capture returns the next 20 ms of tone, sleeping to the frame cadence.
func (s *SyntheticAudio) Capture() (*media.RawAudioFrame, error) {
	if wait := time.Until(s.next); wait > 0 {
		time.Sleep(wait)
	}
	s.next = s.next.Add(20 * time.Millisecond)
	if time.Until(s.next) < -time.Second {
		s.next = time.Now() // resync after a long stall
	}

	n := int(s.frameSamples)
	samples := make([]float32, n*int(s.channels))
	for i := 0; i < n; i++ {
		v := float32(0.2 * math.Sin(2*math.Pi*440*float64(s.pos)/float64(s.sampleRate)))
		for ch := 0; ch < int(s.channels); ch++ {
			samples[i*int(s.channels)+ch] = v
		}
		s.pos++
	}
	return &media.RawAudioFrame{
		Samples:    samples,
		SampleRate: s.sampleRate,
		Channels:   s.channels,
		NumSamples: s.frameSamples,
		PTSMicros:  media.NowMicros(),
	}, nil
}

// Close is a no-op.
func (s *SyntheticAudio) Close() error {
	return nil
}
