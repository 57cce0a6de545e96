// Package host orchestrates the broadcast pipeline: paced screen capture,
// encode, fragment-and-send, protocol polling with adaptive bitrate, and
// the optional audio path, each on its own goroutine joined by bounded
// queues that drop rather than block.
package host

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Sheraz67/Lanstreaming/broadcast"
	"github.com/Sheraz67/Lanstreaming/capture"
	"github.com/Sheraz67/Lanstreaming/codec"
	"github.com/Sheraz67/Lanstreaming/media"
	"github.com/Sheraz67/Lanstreaming/queue"
)

// AudioSink plays back viewer microphone audio on the host. Optional.
type AudioSink interface {
	Play(frame *media.RawAudioFrame)
	Close() error
}

// bitrateInterval spaces the adaptive bitrate decisions far enough apart
// that each decision sees RTT samples taken at the previous rate.
const bitrateInterval = 5 * time.Second

// desiredBitrate maps the worst peer round-trip time onto a bitrate target:
// a congested peer (>100ms) halves the rate, a strained one (>50ms) takes
// three quarters, and a healthy fleet runs at the configured target.
func desiredBitrate(target uint32, worstRTT time.Duration) uint32 {
	switch {
	case worstRTT > 100*time.Millisecond:
		return target / 2
	case worstRTT > 50*time.Millisecond:
		return target / 4 * 3
	default:
		return target
	}
}

// Config carries the host session parameters.
type Config struct {
	Port          uint16
	FPS           uint32
	Bitrate       uint32
	EnableAudio   bool
	AudioRate     uint32
	AudioChannels uint16
}

// Session owns the host pipeline. Collaborators are injected so platform
// capture backends and native codecs slot in without touching the pipeline.
type Session struct {
	log    *slog.Logger
	cfg    Config
	screen capture.ScreenSource
	venc   codec.VideoEncoder

	audioSrc capture.AudioSource
	aenc     codec.AudioEncoder
	adec     codec.AudioDecoder
	sink     AudioSink

	server *broadcast.Server

	rawQ     *queue.SPSC[*media.RawVideoFrame]
	encodedQ *queue.SPSC[*media.EncodedFrame]
	audioRaw *queue.MPSC[*media.RawAudioFrame]
	audioEnc *queue.MPSC[*media.EncodedFrame]
	upstream *queue.MPSC[*media.EncodedFrame]

	framesDropped uint64
}

// SessionConfig assembles a Session. AudioSrc/AudioEnc are required only when
// Cfg.EnableAudio is set; AudioDec/Sink enable viewer microphone playback.
type SessionConfig struct {
	Cfg      Config
	Screen   capture.ScreenSource
	VideoEnc codec.VideoEncoder
	AudioSrc capture.AudioSource
	AudioEnc codec.AudioEncoder
	AudioDec codec.AudioDecoder
	Sink     AudioSink
	Log      *slog.Logger
}

// NewSession binds the host port and prepares the pipeline.
func NewSession(sc SessionConfig) (*Session, error) {
	if sc.Screen == nil || sc.VideoEnc == nil {
		return nil, fmt.Errorf("session needs a screen source and a video encoder")
	}
	if sc.Cfg.EnableAudio && (sc.AudioSrc == nil || sc.AudioEnc == nil) {
		return nil, fmt.Errorf("audio enabled without a source and encoder")
	}
	log := sc.Log
	if log == nil {
		log = slog.Default()
	}

	w, h := sc.Screen.Size()
	streamCfg := media.StreamConfig{
		Width:           w,
		Height:          h,
		FPS:             sc.Cfg.FPS,
		VideoBitrate:    sc.Cfg.Bitrate,
		AudioSampleRate: sc.Cfg.AudioRate,
		AudioChannels:   sc.Cfg.AudioChannels,
		CodecData:       sc.VideoEnc.ExtraData(),
	}
	if err := streamCfg.Validate(); err != nil {
		return nil, err
	}

	server, err := broadcast.NewServer(sc.Cfg.Port, streamCfg, log)
	if err != nil {
		return nil, err
	}

	s := &Session{
		log:      log.With("component", "host-session"),
		cfg:      sc.Cfg,
		screen:   sc.Screen,
		venc:     sc.VideoEnc,
		audioSrc: sc.AudioSrc,
		aenc:     sc.AudioEnc,
		adec:     sc.AudioDec,
		sink:     sc.Sink,
		server:   server,
		rawQ:     queue.NewSPSC[*media.RawVideoFrame](media.RawVideoQueueCap),
		encodedQ: queue.NewSPSC[*media.EncodedFrame](media.EncodedVideoQueueCap),
		audioRaw: queue.NewMPSC[*media.RawAudioFrame](media.AudioQueueCap),
		audioEnc: queue.NewMPSC[*media.EncodedFrame](media.AudioQueueCap),
		upstream: queue.NewMPSC[*media.EncodedFrame](media.AudioFrameQueueCap),
	}
	server.SetHandler(s)
	return s, nil
}

// KeyframeRequested implements broadcast.Handler.
func (s *Session) KeyframeRequested() {
	s.venc.ForceKeyframe()
}

// ClientAudio implements broadcast.Handler.
func (s *Session) ClientAudio(frame *media.EncodedFrame, from netip.AddrPort) {
	s.upstream.Push(frame)
}

// Server exposes the protocol endpoint, mainly for stats and tests.
func (s *Session) Server() *broadcast.Server {
	return s.server
}

// Run starts every pipeline goroutine and blocks until the context is
// cancelled, then shuts down in reverse order: stop signal, queue close,
// join, release resources.
func (s *Session) Run(ctx context.Context) error {
	w, h := s.screen.Size()
	s.log.Info("host started",
		"port", s.server.LocalPort(),
		"stream", fmt.Sprintf("%dx%d@%d", w, h, s.cfg.FPS),
		"bitrate", s.cfg.Bitrate,
		"audio", s.cfg.EnableAudio)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { s.captureLoop(ctx); return nil })
	g.Go(func() error { s.encodeLoop(ctx); return nil })
	g.Go(func() error { s.sendLoop(ctx); return nil })
	g.Go(func() error { s.pollLoop(ctx); return nil })
	if s.cfg.EnableAudio {
		g.Go(func() error { s.audioCaptureLoop(ctx); return nil })
		g.Go(func() error { s.audioEncodeLoop(ctx); return nil })
	}
	if s.adec != nil && s.sink != nil {
		g.Go(func() error { s.clientAudioLoop(ctx); return nil })
	}

	<-ctx.Done()

	s.audioRaw.Close()
	s.audioEnc.Close()
	s.upstream.Close()
	err := g.Wait()

	s.server.Close()
	s.screen.Close()
	s.venc.Close()
	if s.audioSrc != nil {
		s.audioSrc.Close()
	}
	if s.aenc != nil {
		s.aenc.Close()
	}
	if s.sink != nil {
		s.sink.Close()
	}

	s.log.Info("host stopped", "frames_dropped", s.framesDropped)
	return err
}

// captureLoop pulls frames at the stream rate, pacing with sleep-to-deadline
// so capture jitter does not accumulate. A full ring drops the frame: the
// producer never blocks.
func (s *Session) captureLoop(ctx context.Context) {
	interval := time.Second / time.Duration(s.cfg.FPS)
	s.log.Debug("capture loop started", "interval", interval)

	for ctx.Err() == nil {
		start := time.Now()

		frame, err := s.screen.Capture()
		if err != nil {
			s.log.Warn("capture failed", "error", err)
		} else if !s.rawQ.TryPush(frame) {
			s.framesDropped++
			s.log.Debug("raw queue full, frame dropped")
		}

		if sleep := interval - time.Since(start); sleep > 0 {
			time.Sleep(sleep)
		}
	}
	s.log.Debug("capture loop ended")
}

func (s *Session) encodeLoop(ctx context.Context) {
	s.log.Debug("encode loop started")
	for ctx.Err() == nil {
		frame, ok := s.rawQ.TryPop()
		if !ok {
			time.Sleep(time.Millisecond)
			continue
		}
		pkt, err := s.venc.Encode(frame)
		if err != nil {
			s.log.Warn("encode failed", "error", err)
			continue
		}
		if !s.encodedQ.TryPush(pkt) {
			s.log.Debug("encoded queue full, frame dropped")
		}
	}
	s.log.Debug("encode loop ended")
}

// sendLoop drains one video frame and one audio frame per tick so neither
// stream starves the other.
func (s *Session) sendLoop(ctx context.Context) {
	s.log.Debug("send loop started")
	for ctx.Err() == nil {
		sent := false
		if frame, ok := s.encodedQ.TryPop(); ok {
			s.server.Broadcast(frame)
			sent = true
		}
		if frame, ok := s.audioEnc.TryPop(); ok {
			s.server.Broadcast(frame)
			sent = true
		}
		if !sent {
			time.Sleep(time.Millisecond)
		}
	}
	s.log.Debug("send loop ended")
}

// pollLoop services the protocol endpoint and runs the adaptive bitrate
// decision. RTT above the thresholds steps the encoder down and forces a
// keyframe so viewers converge on the new rate immediately.
func (s *Session) pollLoop(ctx context.Context) {
	s.log.Debug("poll loop started")
	current := s.cfg.Bitrate
	lastCheck := time.Now()

	for ctx.Err() == nil {
		s.server.Poll()

		if time.Since(lastCheck) < bitrateInterval {
			continue
		}
		lastCheck = time.Now()

		worst := s.server.MaxRTT()
		desired := desiredBitrate(s.cfg.Bitrate, worst)
		if desired == current {
			continue
		}
		if err := s.venc.Reconfigure(desired); err != nil {
			s.log.Warn("bitrate reconfigure failed", "desired", desired, "error", err)
			continue
		}
		s.venc.ForceKeyframe()
		s.log.Info("bitrate adapted", "from", current, "to", desired, "worst_rtt", worst)
		current = desired
	}
	s.log.Debug("poll loop ended")
}

func (s *Session) audioCaptureLoop(ctx context.Context) {
	s.log.Debug("audio capture loop started")
	for ctx.Err() == nil {
		frame, err := s.audioSrc.Capture()
		if err != nil {
			s.log.Warn("audio capture failed", "error", err)
			return
		}
		s.audioRaw.Push(frame)
	}
	s.log.Debug("audio capture loop ended")
}

func (s *Session) audioEncodeLoop(ctx context.Context) {
	s.log.Debug("audio encode loop started")
	for ctx.Err() == nil {
		frame, ok := s.audioRaw.WaitPop(5 * time.Millisecond)
		if !ok {
			if s.audioRaw.Closed() {
				return
			}
			continue
		}
		pkt, err := s.aenc.Encode(frame)
		if err != nil {
			s.log.Warn("audio encode failed", "error", err)
			continue
		}
		s.audioEnc.Push(pkt)
	}
	s.log.Debug("audio encode loop ended")
}

// clientAudioLoop decodes and plays viewer microphone frames.
func (s *Session) clientAudioLoop(ctx context.Context) {
	s.log.Debug("client audio loop started")
	for ctx.Err() == nil {
		frame, ok := s.upstream.WaitPop(100 * time.Millisecond)
		if !ok {
			if s.upstream.Closed() {
				return
			}
			continue
		}
		raw, err := s.adec.Decode(frame)
		if err != nil {
			s.log.Debug("client audio decode failed", "error", err)
			continue
		}
		s.sink.Play(raw)
	}
	s.log.Debug("client audio loop ended")
}
