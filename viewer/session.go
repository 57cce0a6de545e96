package viewer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Sheraz67/Lanstreaming/capture"
	"github.com/Sheraz67/Lanstreaming/codec"
	"github.com/Sheraz67/Lanstreaming/media"
	"github.com/Sheraz67/Lanstreaming/queue"
)

// Renderer presents decoded video. The session calls it only from the
// goroutine that entered Run, so window-system thread affinity holds.
type Renderer interface {
	// PollEvents pumps the windowing system; false means the user quit.
	PollEvents() bool
	Render(frame *media.RawVideoFrame) error
	Close() error
}

// AudioSink plays decoded PCM. Implementations own their device buffer.
type AudioSink interface {
	Play(frame *media.RawAudioFrame)
	Close() error
}

// keyframeReqInterval rate-limits recovery requests after decode failures so
// a burst of undecodable deltas produces one request, not a storm.
const keyframeReqInterval = time.Second

// Session drives a connected Client: a receive goroutine feeds reassembled
// frames into queues, decode goroutines turn them into raw frames, and the
// goroutine calling Run renders. Rendering always skips to the newest
// decoded frame; for a mirrored screen, latency beats completeness.
type Session struct {
	log      *slog.Logger
	client   *Client
	videoDec codec.VideoDecoder
	audioDec codec.AudioDecoder
	renderer Renderer
	audio    AudioSink

	mic    capture.AudioSource
	micEnc codec.AudioEncoder
}

// SessionConfig assembles a Session's collaborators. AudioDec and Audio may
// be nil to disable playback; Mic and MicEnc may be nil to disable the
// microphone back-channel.
type SessionConfig struct {
	Client   *Client
	VideoDec codec.VideoDecoder
	AudioDec codec.AudioDecoder
	Renderer Renderer
	Audio    AudioSink
	Mic      capture.AudioSource
	MicEnc   codec.AudioEncoder
	Log      *slog.Logger
}

// NewSession wires a session from an already connected client.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.Client == nil || cfg.VideoDec == nil || cfg.Renderer == nil {
		return nil, fmt.Errorf("session needs a client, a video decoder, and a renderer")
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Session{
		log:      log.With("component", "viewer-session"),
		client:   cfg.Client,
		videoDec: cfg.VideoDec,
		audioDec: cfg.AudioDec,
		renderer: cfg.Renderer,
		audio:    cfg.Audio,
		mic:      cfg.Mic,
		micEnc:   cfg.MicEnc,
	}, nil
}

// Run blocks until the context is cancelled or the renderer reports quit.
// The calling goroutine becomes the render loop.
func (s *Session) Run(ctx context.Context) error {
	cfg := s.client.Config()
	if len(cfg.CodecData) > 0 {
		if err := s.videoDec.SetExtraData(cfg.CodecData); err != nil {
			return fmt.Errorf("apply codec data: %w", err)
		}
	}

	videoQ := queue.NewMPSC[*media.EncodedFrame](media.VideoFrameQueueCap)
	audioQ := queue.NewMPSC[*media.EncodedFrame](media.AudioFrameQueueCap)
	decodedQ := queue.NewMPSC[*media.RawVideoFrame](media.DecodedVideoQueueCap)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Start decodable: ask for a keyframe before the first frame arrives.
	s.client.RequestKeyframe()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.recvLoop(ctx, videoQ, audioQ)
		return nil
	})
	g.Go(func() error {
		s.videoDecodeLoop(ctx, videoQ, decodedQ)
		return nil
	})
	if s.audioDec != nil && s.audio != nil {
		g.Go(func() error {
			s.audioDecodeLoop(ctx, audioQ)
			return nil
		})
	}
	if s.mic != nil && s.micEnc != nil {
		g.Go(func() error {
			s.micLoop(ctx)
			return nil
		})
	}

	s.renderLoop(ctx, decodedQ, cancel)

	videoQ.Close()
	audioQ.Close()
	decodedQ.Close()
	err := g.Wait()
	s.client.Disconnect()
	s.renderer.Close()
	if s.audio != nil {
		s.audio.Close()
	}
	return err
}

func (s *Session) recvLoop(ctx context.Context, videoQ, audioQ *queue.MPSC[*media.EncodedFrame]) {
	s.log.Debug("receive loop started")
	for ctx.Err() == nil {
		s.client.Poll(videoQ, audioQ)
	}
	s.log.Debug("receive loop ended")
}

func (s *Session) videoDecodeLoop(ctx context.Context, in *queue.MPSC[*media.EncodedFrame], out *queue.MPSC[*media.RawVideoFrame]) {
	s.log.Debug("video decode loop started")
	lastReq := time.Now()

	for ctx.Err() == nil {
		frame, ok := in.WaitPop(streamRecvTimeout)
		if !ok {
			if in.Closed() {
				return
			}
			continue
		}

		raw, err := s.videoDec.Decode(frame)
		if err != nil {
			// Likely a delta with no reference; resync on a keyframe.
			s.log.Debug("decode failed", "frame", frame.FrameID, "error", err)
			if time.Since(lastReq) >= keyframeReqInterval {
				s.client.RequestKeyframe()
				lastReq = time.Now()
			}
			continue
		}
		out.Push(raw)
	}
	s.log.Debug("video decode loop ended")
}

func (s *Session) audioDecodeLoop(ctx context.Context, in *queue.MPSC[*media.EncodedFrame]) {
	s.log.Debug("audio decode loop started")
	for ctx.Err() == nil {
		frame, ok := in.WaitPop(streamRecvTimeout)
		if !ok {
			if in.Closed() {
				return
			}
			continue
		}
		raw, err := s.audioDec.Decode(frame)
		if err != nil {
			s.log.Debug("audio decode failed", "frame", frame.FrameID, "error", err)
			continue
		}
		s.audio.Play(raw)
	}
	s.log.Debug("audio decode loop ended")
}

func (s *Session) micLoop(ctx context.Context) {
	s.log.Debug("microphone loop started")
	for ctx.Err() == nil {
		raw, err := s.mic.Capture()
		if err != nil {
			s.log.Debug("microphone capture failed", "error", err)
			return
		}
		frame, err := s.micEnc.Encode(raw)
		if err != nil {
			s.log.Debug("microphone encode failed", "error", err)
			continue
		}
		s.client.SendAudio(frame)
	}
	s.log.Debug("microphone loop ended")
}

func (s *Session) renderLoop(ctx context.Context, decodedQ *queue.MPSC[*media.RawVideoFrame], cancel context.CancelFunc) {
	s.log.Debug("render loop started")
	rendered := 0

	for ctx.Err() == nil {
		if !s.renderer.PollEvents() {
			cancel()
			break
		}

		// Drain to the newest frame; stale pictures only add latency.
		var latest *media.RawVideoFrame
		for {
			frame, ok := decodedQ.TryPop()
			if !ok {
				break
			}
			latest = frame
		}

		if latest == nil {
			time.Sleep(time.Millisecond)
			continue
		}
		if err := s.renderer.Render(latest); err != nil {
			s.log.Warn("render failed", "error", err)
			continue
		}
		rendered++
	}
	s.log.Info("render loop ended", "frames", rendered)
}
