package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Sheraz67/Lanstreaming/codec"
	"github.com/Sheraz67/Lanstreaming/device"
	"github.com/Sheraz67/Lanstreaming/media"
	"github.com/Sheraz67/Lanstreaming/viewer"
)

func newViewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "view <host-ip>",
		Short: "Connect to a host and play its stream",
		Args:  cobra.ExactArgs(1),
		RunE:  runView,
	}
	cmd.Flags().Bool("audio", false, "play stream audio on the default output device")
	cmd.Flags().Bool("mic", false, "send this machine's microphone back to the host")
	_ = viper.BindPFlag("view-audio", cmd.Flags().Lookup("audio"))
	_ = viper.BindPFlag("view-mic", cmd.Flags().Lookup("mic"))
	return cmd
}

func runView(cmd *cobra.Command, args []string) error {
	log := slog.Default()

	client := viewer.NewClient(log)
	if err := client.Connect(args[0], uint16(viper.GetUint("port"))); err != nil {
		return err
	}

	dec, err := codec.NewZstdVideoDecoder()
	if err != nil {
		return fmt.Errorf("init video decoder: %w", err)
	}

	cfg := viewer.SessionConfig{
		Client:   client,
		VideoDec: dec,
		Renderer: newStatsRenderer(log),
		Log:      log,
	}

	stream := client.Config()
	if viper.GetBool("view-audio") && stream.AudioSampleRate > 0 {
		speaker, err := device.OpenSpeaker(stream.AudioSampleRate, stream.AudioChannels, log)
		if err != nil {
			log.Warn("no playback device, audio disabled", "error", err)
		} else {
			adec, err := codec.NewG722Decoder(stream.AudioSampleRate, stream.AudioChannels)
			if err != nil {
				return fmt.Errorf("init audio decoder: %w", err)
			}
			cfg.AudioDec = adec
			cfg.Audio = speaker
		}
	}
	if viper.GetBool("view-mic") && stream.AudioSampleRate > 0 {
		mic, err := device.OpenMicrophone(stream.AudioSampleRate, stream.AudioChannels, log)
		if err != nil {
			log.Warn("no capture device, microphone disabled", "error", err)
		} else {
			menc, err := codec.NewG722Encoder(stream.AudioSampleRate, stream.AudioChannels)
			if err != nil {
				return fmt.Errorf("init microphone encoder: %w", err)
			}
			cfg.Mic = mic
			cfg.MicEnc = menc
		}
	}

	session, err := viewer.NewSession(cfg)
	if err != nil {
		return err
	}
	return session.Run(cmd.Context())
}

// statsRenderer is the headless presentation sink: it counts frames and logs
// throughput once a second. A windowed renderer (SDL, ebiten) implements the
// same viewer.Renderer interface.
type statsRenderer struct {
	log      *slog.Logger
	frames   int
	lastTick time.Time
	lastN    int
}

func newStatsRenderer(log *slog.Logger) *statsRenderer {
	return &statsRenderer{
		log:      log.With("component", "renderer"),
		lastTick: time.Now(),
	}
}

func (r *statsRenderer) PollEvents() bool { return true }

func (r *statsRenderer) Render(frame *media.RawVideoFrame) error {
	r.frames++
	if since := time.Since(r.lastTick); since >= time.Second {
		fps := float64(r.frames-r.lastN) / since.Seconds()
		r.log.Info("playing", "size", fmt.Sprintf("%dx%d", frame.Width, frame.Height),
			"fps", fmt.Sprintf("%.1f", fps), "frames", r.frames)
		r.lastTick = time.Now()
		r.lastN = r.frames
	}
	return nil
}

func (r *statsRenderer) Close() error { return nil }
