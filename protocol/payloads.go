package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/Sheraz67/Lanstreaming/media"
)

// Fixed payload sizes.
const (
	WelcomePayloadSize = 22
	PingPayloadSize    = 8
	nackFixedSize      = 4
)

// WelcomePayload carries the stream parameters a viewer needs before the
// first media datagram arrives. Codec extradata travels separately in
// STREAM_CONFIG datagrams because it is variable-length.
type WelcomePayload struct {
	Width           uint32
	Height          uint32
	FPS             uint32
	VideoBitrate    uint32
	AudioSampleRate uint32
	AudioChannels   uint16
}

// WelcomeFromConfig packs the handshake fields of a stream config.
func WelcomeFromConfig(cfg *media.StreamConfig) WelcomePayload {
	return WelcomePayload{
		Width:           cfg.Width,
		Height:          cfg.Height,
		FPS:             cfg.FPS,
		VideoBitrate:    cfg.VideoBitrate,
		AudioSampleRate: cfg.AudioSampleRate,
		AudioChannels:   cfg.AudioChannels,
	}
}

// Config expands the payload back into a stream config (no codec data yet).
func (w *WelcomePayload) Config() media.StreamConfig {
	return media.StreamConfig{
		Width:           w.Width,
		Height:          w.Height,
		FPS:             w.FPS,
		VideoBitrate:    w.VideoBitrate,
		AudioSampleRate: w.AudioSampleRate,
		AudioChannels:   w.AudioChannels,
	}
}

// Marshal serializes the payload.
func (w *WelcomePayload) Marshal() []byte {
	b := make([]byte, WelcomePayloadSize)
	binary.LittleEndian.PutUint32(b[0:4], w.Width)
	binary.LittleEndian.PutUint32(b[4:8], w.Height)
	binary.LittleEndian.PutUint32(b[8:12], w.FPS)
	binary.LittleEndian.PutUint32(b[12:16], w.VideoBitrate)
	binary.LittleEndian.PutUint32(b[16:20], w.AudioSampleRate)
	binary.LittleEndian.PutUint16(b[20:22], w.AudioChannels)
	return b
}

// ParseWelcome decodes a WELCOME payload.
func ParseWelcome(b []byte) (WelcomePayload, error) {
	if len(b) < WelcomePayloadSize {
		return WelcomePayload{}, fmt.Errorf("welcome: %w", ErrShortPayload)
	}
	return WelcomePayload{
		Width:           binary.LittleEndian.Uint32(b[0:4]),
		Height:          binary.LittleEndian.Uint32(b[4:8]),
		FPS:             binary.LittleEndian.Uint32(b[8:12]),
		VideoBitrate:    binary.LittleEndian.Uint32(b[12:16]),
		AudioSampleRate: binary.LittleEndian.Uint32(b[16:20]),
		AudioChannels:   binary.LittleEndian.Uint16(b[20:22]),
	}, nil
}

// PingPayload carries the sender's monotonic microsecond clock. The receiver
// echoes it back verbatim in a PONG so the sender can compute the round trip
// against its own clock.
type PingPayload struct {
	TimestampMicros uint64
}

// Marshal serializes the payload.
func (p *PingPayload) Marshal() []byte {
	b := make([]byte, PingPayloadSize)
	binary.LittleEndian.PutUint64(b, p.TimestampMicros)
	return b
}

// ParsePing decodes a PING or PONG payload.
func ParsePing(b []byte) (PingPayload, error) {
	if len(b) < PingPayloadSize {
		return PingPayload{}, fmt.Errorf("ping: %w", ErrShortPayload)
	}
	return PingPayload{TimestampMicros: binary.LittleEndian.Uint64(b)}, nil
}

// NackPayload names the fragments of a frame the receiver is still missing.
type NackPayload struct {
	FrameID uint16
	Missing []uint16
}

// Marshal serializes the payload: frame_id, count, then the indices.
func (n *NackPayload) Marshal() []byte {
	b := make([]byte, nackFixedSize+2*len(n.Missing))
	binary.LittleEndian.PutUint16(b[0:2], n.FrameID)
	binary.LittleEndian.PutUint16(b[2:4], uint16(len(n.Missing)))
	for i, idx := range n.Missing {
		binary.LittleEndian.PutUint16(b[nackFixedSize+2*i:], idx)
	}
	return b
}

// ParseNack decodes a NACK payload. A count that overruns the datagram is
// truncated to the indices actually present, mirroring the lenient parse
// policy for LAN traffic.
func ParseNack(b []byte) (NackPayload, error) {
	if len(b) < nackFixedSize {
		return NackPayload{}, fmt.Errorf("nack: %w", ErrShortPayload)
	}
	n := NackPayload{FrameID: binary.LittleEndian.Uint16(b[0:2])}
	count := int(binary.LittleEndian.Uint16(b[2:4]))
	for i := 0; i < count; i++ {
		off := nackFixedSize + 2*i
		if off+2 > len(b) {
			break
		}
		n.Missing = append(n.Missing, binary.LittleEndian.Uint16(b[off:]))
	}
	return n, nil
}
