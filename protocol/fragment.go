package protocol

import (
	"math"
	"sync/atomic"

	"github.com/Sheraz67/Lanstreaming/media"
)

// Sequence is a monotonically increasing datagram counter shared by all
// packets an endpoint emits, media and control alike. Safe for concurrent
// use; wraparound at 2^32 is benign.
type Sequence struct {
	n atomic.Uint32
}

// Next returns the current value and advances the counter.
func (s *Sequence) Next() uint32 {
	return s.n.Add(1) - 1
}

// Fragment splits an encoded frame into MTU-sized data packets. Each packet
// carries the frame id, its index and the total count so the receiver can
// reassemble out of order. The first and last fragments are flagged, and
// every fragment of a keyframe carries FlagKeyframe so incomplete keyframes
// are recognizable from any subset. An empty frame yields no packets.
func Fragment(frame *media.EncodedFrame, seq *Sequence) []Packet {
	if len(frame.Data) == 0 {
		return nil
	}

	numFrags := (len(frame.Data) + MaxFragmentPayload - 1) / MaxFragmentPayload
	if numFrags > math.MaxUint16 {
		// Larger than any frame a real encoder emits; unrepresentable on
		// the wire, so the frame is dropped rather than sent corrupted.
		return nil
	}

	ptype := TypeVideoData
	flags := uint8(0)
	switch frame.Type {
	case media.VideoKeyframe:
		flags |= FlagKeyframe
	case media.Audio:
		ptype = TypeAudioData
	}

	packets := make([]Packet, 0, numFrags)
	for i := 0; i < numFrags; i++ {
		f := flags
		if i == 0 {
			f |= FlagFirst
		}
		if i == numFrags-1 {
			f |= FlagLast
		}

		off := i * MaxFragmentPayload
		end := off + MaxFragmentPayload
		if end > len(frame.Data) {
			end = len(frame.Data)
		}

		packets = append(packets, Packet{
			Header: Header{
				Type:            ptype,
				Flags:           f,
				Sequence:        seq.Next(),
				TimestampMicros: uint32(frame.PTSMicros),
				FrameID:         frame.FrameID,
				FragIndex:       uint16(i),
				FragTotal:       uint16(numFrags),
			},
			Payload: frame.Data[off:end],
		})
	}
	return packets
}
