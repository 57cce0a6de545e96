package codec

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/klauspost/compress/zstd"

	"github.com/Sheraz67/Lanstreaming/media"
)

// extradata layout: magic, width, height, fps (little-endian u32 each).
var videoExtraMagic = [4]byte{'L', 'C', 'Z', '2'}

const videoExtraSize = 16

// keyframeIntervalSeconds spaces periodic keyframes so a joining viewer or a
// loss-desynced decoder recovers within a couple of seconds without a NACK.
const keyframeIntervalSeconds = 2

// ZstdVideoEncoder is the built-in software video encoder. Keyframes carry a
// full zstd-compressed YUV picture; delta frames carry the zstd-compressed
// XOR residual against the previous picture, which compresses extremely well
// for mostly-static screen content. Bitrate maps onto the zstd effort level:
// a lower target spends more CPU to squeeze the stream harder.
type ZstdVideoEncoder struct {
	mu       sync.Mutex
	enc      *zstd.Encoder
	width    uint32
	height   uint32
	fps      uint32
	bitrate  uint32
	gop      int
	sinceKey int
	prev     []byte
	frameID  uint16

	forceKey atomic.Bool
}

// NewZstdVideoEncoder creates an encoder for the given stream geometry.
func NewZstdVideoEncoder(width, height, fps, bitrate uint32) (*ZstdVideoEncoder, error) {
	if width == 0 || height == 0 || width%2 != 0 || height%2 != 0 {
		return nil, fmt.Errorf("invalid encoder dimensions %dx%d", width, height)
	}
	if fps == 0 {
		return nil, fmt.Errorf("invalid encoder fps %d", fps)
	}

	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(levelForBitrate(bitrate)),
		zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("init zstd encoder: %w", err)
	}

	return &ZstdVideoEncoder{
		enc:     enc,
		width:   width,
		height:  height,
		fps:     fps,
		bitrate: bitrate,
		gop:     int(fps) * keyframeIntervalSeconds,
	}, nil
}

func levelForBitrate(bitrate uint32) zstd.EncoderLevel {
	switch {
	case bitrate >= 4_000_000:
		return zstd.SpeedFastest
	case bitrate >= 1_500_000:
		return zstd.SpeedDefault
	default:
		return zstd.SpeedBetterCompression
	}
}

// ExtraData returns the stream initialization bytes a decoder needs before
// its first frame.
func (e *ZstdVideoEncoder) ExtraData() []byte {
	b := make([]byte, videoExtraSize)
	copy(b, videoExtraMagic[:])
	binary.LittleEndian.PutUint32(b[4:8], e.width)
	binary.LittleEndian.PutUint32(b[8:12], e.height)
	binary.LittleEndian.PutUint32(b[12:16], e.fps)
	return b
}

// Bitrate returns the current target bitrate.
func (e *ZstdVideoEncoder) Bitrate() uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bitrate
}

// ForceKeyframe makes the next Encode emit a keyframe. Safe to call from any
// goroutine; the flag is sampled and cleared by the next Encode.
func (e *ZstdVideoEncoder) ForceKeyframe() {
	e.forceKey.Store(true)
}

// Reconfigure retargets the bitrate, tearing down and rebuilding the
// compressor at the matching effort level. Dimensions and frame rate are
// preserved. Exclusive with Encode.
func (e *ZstdVideoEncoder) Reconfigure(bitrate uint32) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if bitrate == e.bitrate {
		return nil
	}

	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(levelForBitrate(bitrate)),
		zstd.WithEncoderConcurrency(1))
	if err != nil {
		return fmt.Errorf("reconfigure zstd encoder: %w", err)
	}
	e.enc.Close()
	e.enc = enc
	e.bitrate = bitrate
	return nil
}

// Encode compresses one raw frame. The first frame, every gop-th frame, and
// any frame after ForceKeyframe is a keyframe.
func (e *ZstdVideoEncoder) Encode(frame *media.RawVideoFrame) (*media.EncodedFrame, error) {
	if err := frame.Validate(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if frame.Width != e.width || frame.Height != e.height {
		return nil, fmt.Errorf("frame %dx%d does not match encoder %dx%d",
			frame.Width, frame.Height, e.width, e.height)
	}

	forced := e.forceKey.Swap(false)
	keyframe := e.prev == nil || e.sinceKey >= e.gop || forced

	var payload []byte
	if keyframe {
		payload = e.enc.EncodeAll(frame.Data, nil)
		e.sinceKey = 1
	} else {
		residual := make([]byte, len(frame.Data))
		for i, b := range frame.Data {
			residual[i] = b ^ e.prev[i]
		}
		payload = e.enc.EncodeAll(residual, nil)
		e.sinceKey++
	}

	if e.prev == nil {
		e.prev = make([]byte, len(frame.Data))
	}
	copy(e.prev, frame.Data)

	ftype := media.VideoPFrame
	if keyframe {
		ftype = media.VideoKeyframe
	}

	out := &media.EncodedFrame{
		Data:      payload,
		Type:      ftype,
		PTSMicros: frame.PTSMicros,
		FrameID:   e.frameID,
	}
	e.frameID++
	return out, nil
}

// Close releases the compressor.
func (e *ZstdVideoEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.enc.Close()
	return nil
}

// ZstdVideoDecoder is the inverse of ZstdVideoEncoder. It needs the stream
// extradata before the first frame and a keyframe before any delta frame.
type ZstdVideoDecoder struct {
	dec    *zstd.Decoder
	width  uint32
	height uint32
	fps    uint32
	prev   []byte
}

// NewZstdVideoDecoder creates a decoder; call SetExtraData before Decode.
func NewZstdVideoDecoder() (*ZstdVideoDecoder, error) {
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("init zstd decoder: %w", err)
	}
	return &ZstdVideoDecoder{dec: dec}, nil
}

// SetExtraData parses the stream geometry from the encoder's extradata.
func (d *ZstdVideoDecoder) SetExtraData(data []byte) error {
	if len(data) < videoExtraSize || [4]byte(data[:4]) != videoExtraMagic {
		return fmt.Errorf("unrecognized video extradata (%d bytes)", len(data))
	}
	d.width = binary.LittleEndian.Uint32(data[4:8])
	d.height = binary.LittleEndian.Uint32(data[8:12])
	d.fps = binary.LittleEndian.Uint32(data[12:16])
	if d.width == 0 || d.height == 0 {
		return fmt.Errorf("extradata carries zero dimensions")
	}
	d.prev = nil
	return nil
}

// Decode decompresses one frame. Delta frames require a prior keyframe.
func (d *ZstdVideoDecoder) Decode(frame *media.EncodedFrame) (*media.RawVideoFrame, error) {
	if d.width == 0 {
		return nil, fmt.Errorf("decode before extradata")
	}
	if frame.Type == media.Audio {
		return nil, fmt.Errorf("audio frame fed to video decoder")
	}

	plane, err := d.dec.DecodeAll(frame.Data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decode frame %d: %w", frame.FrameID, err)
	}
	want := media.YUV420Size(d.width, d.height)
	if len(plane) != want {
		return nil, fmt.Errorf("frame %d decoded to %d bytes, want %d", frame.FrameID, len(plane), want)
	}

	switch frame.Type {
	case media.VideoKeyframe:
		d.prev = plane
	case media.VideoPFrame:
		if d.prev == nil {
			return nil, fmt.Errorf("delta frame %d before any keyframe", frame.FrameID)
		}
		for i, b := range d.prev {
			plane[i] ^= b
		}
		d.prev = plane
	}

	out := make([]byte, len(plane))
	copy(out, plane)
	return &media.RawVideoFrame{
		Data:      out,
		Width:     d.width,
		Height:    d.height,
		PTSMicros: frame.PTSMicros,
	}, nil
}

// Close releases the decompressor.
func (d *ZstdVideoDecoder) Close() error {
	d.dec.Close()
	return nil
}
