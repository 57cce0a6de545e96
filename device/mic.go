// Package device provides audio capture and playback backed by miniaudio
// (via malgo). These are the default implementations of the capture source
// and playback sink seams on platforms with a working audio stack.
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

// Microphone captures interleaved float32 PCM from the default input
// device. Capture blocks until the device delivers the next buffer.
type Microphone struct {
	log        *slog.Logger
	ctx        *malgo.AllocatedContext
	dev        *malgo.Device
	frames     chan []float32
	sampleRate uint32
	channels   uint16

	mu     sync.Mutex
	closed bool
}

// OpenMicrophone starts capturing at the given format.
func OpenMicrophone(sampleRate uint32, channels uint16, log *slog.Logger) (*Microphone, error) {
	if log == nil {
		log = slog.Default()
	}
	mlog := log.With("component", "microphone")

	mCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		mlog.Debug("malgo", "message", message)
	})
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}

	m := &Microphone{
		log:        mlog,
		ctx:        mCtx,
		frames:     make(chan []float32, 16),
		sampleRate: sampleRate,
		channels:   channels,
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatF32
	cfg.Capture.Channels = uint32(channels)
	cfg.SampleRate = sampleRate

	callbacks := malgo.DeviceCallbacks{
		Data: func(pOutput, pInput []byte, frameCount uint32) {
			if len(pInput) == 0 {
				return
			}
			samples := bytesToFloat32(pInput)
			select {
			case m.frames <- samples:
			default:
				// Consumer lagging; the freshest audio wins.
			}
		},
	}

	dev, err := malgo.InitDevice(mCtx.Context, cfg, callbacks)
	if err != nil {
		mCtx.Uninit()
		return nil, fmt.Errorf("init capture device: %w", err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		mCtx.Uninit()
		return nil, fmt.Errorf("start capture device: %w", err)
	}
	m.dev = dev
	return m, nil
}

// Capture returns the next captured PCM frame, blocking until the device
// delivers one or the microphone is closed.
func (m *Microphone) Capture() (*media.RawAudioFrame, error) {
	samples, ok := <-m.frames
	if !ok {
		return nil, fmt.Errorf("microphone closed")
	}
	return &media.RawAudioFrame{
		Samples:    samples,
		SampleRate: m.sampleRate,
		Channels:   m.channels,
		NumSamples: uint32(len(samples) / int(m.channels)),
		PTSMicros:  media.NowMicros(),
	}, nil
}

// Close stops the device and releases the audio context.
func (m *Microphone) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	_ = m.dev.Stop()
	m.dev.Uninit()
	m.ctx.Uninit()
	close(m.frames)
	return nil
}

// bytesToFloat32 reinterprets a little-endian float32 PCM byte buffer.
func bytesToFloat32(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}
