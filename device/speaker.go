package device

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sync"

	malgo "github.com/gen2brain/malgo"

	"github.com/Sheraz67/Lanstreaming/media"
)

// speakerBufferLimit caps buffered playback samples (per channel ~250 ms at
// 48 kHz stereo); beyond that, old audio is cut rather than drifting behind
// the video.
const speakerBufferLimit = 24000

// Speaker plays interleaved float32 PCM on the default output device. Play
// never blocks: the device callback drains an internal buffer, and overflow
// drops the oldest samples.
type Speaker struct {
	log *slog.Logger
	ctx *malgo.AllocatedContext
	dev *malgo.Device

	mu      sync.Mutex
	pending []float32
	closed  bool
}

// OpenSpeaker starts playback at the given format.
func OpenSpeaker(sampleRate uint32, channels uint16, log *slog.Logger) (*Speaker, error) {
	if log == nil {
		log = slog.Default()
	}
	splog := log.With("component", "speaker")

	mCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		splog.Debug("malgo", "message", message)
	})
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}

	s := &Speaker{log: splog, ctx: mCtx}

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatF32
	cfg.Playback.Channels = uint32(channels)
	cfg.SampleRate = sampleRate

	callbacks := malgo.DeviceCallbacks{
		Data: func(pOutput, pInput []byte, frameCount uint32) {
			s.fill(pOutput)
		},
	}

	dev, err := malgo.InitDevice(mCtx.Context, cfg, callbacks)
	if err != nil {
		mCtx.Uninit()
		return nil, fmt.Errorf("init playback device: %w", err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		mCtx.Uninit()
		return nil, fmt.Errorf("start playback device: %w", err)
	}
	s.dev = dev
	return s, nil
}

// Play queues one decoded frame for the device. Never blocks.
func (s *Speaker) Play(frame *media.RawAudioFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.pending = append(s.pending, frame.Samples...)
	if over := len(s.pending) - speakerBufferLimit; over > 0 {
		s.pending = s.pending[over:]
	}
}

// fill copies buffered samples into the device buffer, zero-padding when
// the buffer runs dry.
func (s *Speaker) fill(out []byte) {
	want := len(out) / 4

	s.mu.Lock()
	n := want
	if n > len(s.pending) {
		n = len(s.pending)
	}
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(s.pending[i]))
	}
	s.pending = s.pending[n:]
	s.mu.Unlock()

	for i := n; i < want; i++ {
		binary.LittleEndian.PutUint32(out[i*4:], 0)
	}
}

// Close stops the device and releases the audio context.
func (s *Speaker) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	_ = s.dev.Stop()
	s.dev.Uninit()
	s.ctx.Uninit()
	return nil
}
