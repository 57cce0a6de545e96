package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Defaults for the streaming parameters.
const (
	defaultPort    = 7878
	defaultFPS     = 30
	defaultBitrate = 6_000_000
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "lancast",
		Short:         "Low-latency LAN screen and audio streaming",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().Uint16("port", defaultPort, "UDP port")

	viper.SetEnvPrefix("LANCAST")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	_ = viper.BindPFlag("port", root.PersistentFlags().Lookup("port"))

	root.AddCommand(newHostCmd())
	root.AddCommand(newViewCmd())
	return root
}

// parseResolution splits a WxH argument like "1920x1080".
func parseResolution(s string) (uint32, uint32, error) {
	var w, h uint32
	if _, err := fmt.Sscanf(s, "%dx%d", &w, &h); err != nil {
		return 0, 0, fmt.Errorf("parse resolution %q (want WxH): %w", s, err)
	}
	if w == 0 || h == 0 {
		return 0, 0, fmt.Errorf("resolution %q has a zero dimension", s)
	}
	return w, h, nil
}
