// Package media defines the frame types that flow through the capture,
// encode, transport, decode, and render stages, along with the stream
// configuration exchanged during the connection handshake.
package media

import "fmt"

// Queue capacities used by the host and viewer pipelines to decouple stage
// production from consumption. The video hot path uses small rings so a slow
// consumer costs dropped frames rather than latency; audio queues are deeper
// because audio frames are small and gaps are far more audible than lag.
const (
	RawVideoQueueCap     = 4
	EncodedVideoQueueCap = 8
	AudioQueueCap        = 16
	VideoFrameQueueCap   = 32
	AudioFrameQueueCap   = 64
	DecodedVideoQueueCap = 4
)

// FrameType tags an encoded frame with its stream and decode dependency.
type FrameType uint8

const (
	// VideoKeyframe is a self-contained video frame (decodable standalone).
	VideoKeyframe FrameType = iota
	// VideoPFrame is a video frame predicted from previously decoded frames.
	VideoPFrame
	// Audio is one encoded audio frame.
	Audio
)

func (t FrameType) String() string {
	switch t {
	case VideoKeyframe:
		return "keyframe"
	case VideoPFrame:
		return "pframe"
	case Audio:
		return "audio"
	default:
		return fmt.Sprintf("frametype(%d)", uint8(t))
	}
}

// RawVideoFrame is one uncompressed picture in planar YUV420p layout: the
// full-resolution Y plane followed by the quarter-resolution U and V planes,
// each contiguous with no padding.
type RawVideoFrame struct {
	Data      []byte
	Width     uint32
	Height    uint32
	PTSMicros int64
}

// Validate checks the YUV420p size invariant and that both dimensions are even.
func (f *RawVideoFrame) Validate() error {
	if f.Width == 0 || f.Height == 0 || f.Width%2 != 0 || f.Height%2 != 0 {
		return fmt.Errorf("invalid video dimensions %dx%d", f.Width, f.Height)
	}
	want := YUV420Size(f.Width, f.Height)
	if len(f.Data) != want {
		return fmt.Errorf("video frame data %d bytes, want %d for %dx%d", len(f.Data), want, f.Width, f.Height)
	}
	return nil
}

// YUV420Size returns the byte size of a planar YUV420p frame.
func YUV420Size(w, h uint32) int {
	return int(w*h) + 2*int(w/2)*int(h/2)
}

// RawAudioFrame is one uncompressed block of interleaved float32 PCM.
type RawAudioFrame struct {
	Samples    []float32
	SampleRate uint32
	Channels   uint16
	NumSamples uint32 // samples per channel
	PTSMicros  int64
}

// Validate checks the interleaving invariant.
func (f *RawAudioFrame) Validate() error {
	if f.Channels == 0 || f.SampleRate == 0 {
		return fmt.Errorf("invalid audio format %d ch @ %d Hz", f.Channels, f.SampleRate)
	}
	if len(f.Samples) != int(f.NumSamples)*int(f.Channels) {
		return fmt.Errorf("audio frame %d samples, want %d (%d per channel x %d channels)",
			len(f.Samples), int(f.NumSamples)*int(f.Channels), f.NumSamples, f.Channels)
	}
	return nil
}

// EncodedFrame is one encoded media unit as produced by an encoder and
// consumed by a decoder. Data is opaque codec bytes. FrameID is assigned by
// the encoder, monotonic mod 2^16 independently per stream type.
type EncodedFrame struct {
	Data      []byte
	Type      FrameType
	PTSMicros int64
	FrameID   uint16
}

// StreamConfig describes the stream a host broadcasts. It is packed into the
// WELCOME payload during the handshake; CodecData travels separately in
// STREAM_CONFIG datagrams because it is opaque, variable-length codec
// initialization data (e.g. SPS/PPS for H.264).
type StreamConfig struct {
	Width           uint32
	Height          uint32
	FPS             uint32
	VideoBitrate    uint32
	AudioSampleRate uint32
	AudioChannels   uint16
	CodecData       []byte
}

// Validate rejects configs a viewer could not set up a decoder for.
func (c *StreamConfig) Validate() error {
	if c.Width == 0 || c.Height == 0 || c.Width%2 != 0 || c.Height%2 != 0 {
		return fmt.Errorf("invalid stream dimensions %dx%d", c.Width, c.Height)
	}
	if c.FPS == 0 {
		return fmt.Errorf("invalid stream fps %d", c.FPS)
	}
	return nil
}
