package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Sheraz67/Lanstreaming/capture"
	"github.com/Sheraz67/Lanstreaming/codec"
	"github.com/Sheraz67/Lanstreaming/device"
	"github.com/Sheraz67/Lanstreaming/host"
)

const (
	defaultAudioRate     = 48000
	defaultAudioChannels = 2
)

func newHostCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "host",
		Short: "Broadcast this machine's screen (and optionally audio)",
		RunE:  runHost,
	}
	cmd.Flags().Uint32("fps", defaultFPS, "capture frame rate")
	cmd.Flags().Uint32("bitrate", defaultBitrate, "target video bitrate in bits/s")
	cmd.Flags().String("resolution", "1280x720", "capture resolution WxH")
	cmd.Flags().Bool("audio", false, "also broadcast audio from the default input device")

	for _, name := range []string{"fps", "bitrate", "resolution", "audio"} {
		_ = viper.BindPFlag(name, cmd.Flags().Lookup(name))
	}
	return cmd
}

func runHost(cmd *cobra.Command, args []string) error {
	w, h, err := parseResolution(viper.GetString("resolution"))
	if err != nil {
		return err
	}
	fps := viper.GetUint32("fps")
	bitrate := viper.GetUint32("bitrate")
	enableAudio := viper.GetBool("audio")
	log := slog.Default()

	// The synthetic pattern source stands in until a platform grabber
	// (X11, DXGI, ScreenCaptureKit) is wired up behind capture.ScreenSource.
	screen := capture.NewSyntheticScreen(w, h)
	w, h = screen.Size()

	venc, err := codec.NewZstdVideoEncoder(w, h, fps, bitrate)
	if err != nil {
		return fmt.Errorf("init video encoder: %w", err)
	}

	sc := host.SessionConfig{
		Cfg: host.Config{
			Port:          uint16(viper.GetUint("port")),
			FPS:           fps,
			Bitrate:       bitrate,
			EnableAudio:   enableAudio,
			AudioRate:     defaultAudioRate,
			AudioChannels: defaultAudioChannels,
		},
		Screen:   screen,
		VideoEnc: venc,
		Log:      log,
	}

	if enableAudio {
		mic, err := device.OpenMicrophone(defaultAudioRate, defaultAudioChannels, log)
		if err != nil {
			return fmt.Errorf("open audio input: %w", err)
		}
		aenc, err := codec.NewG722Encoder(defaultAudioRate, defaultAudioChannels)
		if err != nil {
			return fmt.Errorf("init audio encoder: %w", err)
		}
		sc.AudioSrc = mic
		sc.AudioEnc = aenc

		// Viewer microphones play back on the host speaker when available.
		if speaker, err := device.OpenSpeaker(defaultAudioRate, defaultAudioChannels, log); err == nil {
			adec, err := codec.NewG722Decoder(defaultAudioRate, defaultAudioChannels)
			if err != nil {
				return fmt.Errorf("init audio decoder: %w", err)
			}
			sc.AudioDec = adec
			sc.Sink = speaker
		} else {
			log.Warn("no playback device, viewer microphones disabled", "error", err)
		}
	}

	session, err := host.NewSession(sc)
	if err != nil {
		return err
	}
	return session.Run(cmd.Context())
}
