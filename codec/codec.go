// Package codec defines the encoder and decoder seams the pipelines consume
// and provides two built-in software implementations: a zstd-based video
// codec with keyframe/delta frames, and a G.722 voice codec for the
// microphone back-channel. Native codecs (x264 and friends) plug in behind
// the same interfaces.
package codec

import "github.com/Sheraz67/Lanstreaming/media"

// VideoEncoder turns raw frames into encoded frames. Implementations assign
// FrameID monotonically and decide keyframe placement; ForceKeyframe makes
// the next encoded frame a keyframe. Reconfigure retargets the bitrate
// without changing dimensions or frame rate; it is exclusive with Encode.
type VideoEncoder interface {
	Encode(frame *media.RawVideoFrame) (*media.EncodedFrame, error)
	Reconfigure(bitrate uint32) error
	ForceKeyframe()
	ExtraData() []byte
	Bitrate() uint32
	Close() error
}

// VideoDecoder turns encoded frames back into raw frames. SetExtraData must
// be called with the stream's codec data before the first Decode. Decoding a
// delta frame with no reference available fails; the caller requests a
// keyframe and drops the frame.
type VideoDecoder interface {
	SetExtraData(data []byte) error
	Decode(frame *media.EncodedFrame) (*media.RawVideoFrame, error)
	Close() error
}

// AudioEncoder turns raw PCM frames into encoded audio frames.
type AudioEncoder interface {
	Encode(frame *media.RawAudioFrame) (*media.EncodedFrame, error)
	Close() error
}

// AudioDecoder turns encoded audio frames back into raw PCM.
type AudioDecoder interface {
	Decode(frame *media.EncodedFrame) (*media.RawAudioFrame, error)
	Close() error
}
