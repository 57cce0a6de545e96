package protocol

import (
	"time"

	"github.com/Sheraz67/Lanstreaming/media"
)

// Reassembly timing defaults. A keyframe with holes older than NackMinAge is
// worth a retransmit request; anything incomplete after StaleTimeout will
// never complete and is evicted.
const (
	NackMinAge   = 100 * time.Millisecond
	StaleTimeout = 500 * time.Millisecond
)

type frameKey struct {
	frameID uint16
	ptype   PacketType
}

type pendingFrame struct {
	total     uint16
	received  uint16
	slots     [][]byte
	flags     uint8
	timestamp uint32
	created   time.Time
	nackSent  bool
}

// IncompleteKeyframe reports a keyframe stuck waiting on lost fragments,
// suitable for turning into a NACK.
type IncompleteKeyframe struct {
	FrameID   uint16
	FragTotal uint16
	Missing   []uint16
}

// Assembler buffers data fragments per (frame id, stream type) and emits each
// frame once all its fragments have arrived. Fragments may arrive in any
// order and duplicated; frames interleave freely. Not safe for concurrent
// use: each receive loop owns its own Assembler.
type Assembler struct {
	pending map[frameKey]*pendingFrame
}

// NewAssembler creates an empty Assembler.
func NewAssembler() *Assembler {
	return &Assembler{pending: make(map[frameKey]*pendingFrame)}
}

// Feed absorbs one data packet. It returns the assembled frame when this
// packet completes it, nil otherwise. Duplicate and malformed fragments are
// dropped without disturbing reassembly state.
func (a *Assembler) Feed(p Packet) *media.EncodedFrame {
	h := p.Header
	if h.FragTotal == 0 || h.FragIndex >= h.FragTotal {
		return nil
	}

	key := frameKey{frameID: h.FrameID, ptype: h.Type}
	state, ok := a.pending[key]
	if !ok {
		state = &pendingFrame{
			total:     h.FragTotal,
			slots:     make([][]byte, h.FragTotal),
			timestamp: h.TimestampMicros,
			created:   time.Now(),
		}
		a.pending[key] = state
	}

	if h.FragIndex >= state.total || state.slots[h.FragIndex] != nil {
		return nil
	}

	// Payload aliases the receive buffer; copy before the next recv reuses it.
	payload := make([]byte, len(p.Payload))
	copy(payload, p.Payload)
	state.slots[h.FragIndex] = payload
	state.received++
	state.flags |= h.Flags

	if state.received < state.total {
		return nil
	}

	size := 0
	for _, s := range state.slots {
		size += len(s)
	}
	data := make([]byte, 0, size)
	for _, s := range state.slots {
		data = append(data, s...)
	}

	ftype := media.VideoPFrame
	switch {
	case h.Type == TypeAudioData:
		ftype = media.Audio
	case state.flags&FlagKeyframe != 0:
		ftype = media.VideoKeyframe
	}

	delete(a.pending, key)
	return &media.EncodedFrame{
		Data:      data,
		Type:      ftype,
		PTSMicros: int64(state.timestamp),
		FrameID:   h.FrameID,
	}
}

// IncompleteKeyframes reports keyframes older than minAge that still have
// holes, marking each so it is reported at most once in its lifetime. Lost
// P-frames are deliberately not reported: a later keyframe resynchronizes
// the decoder, and NACK-ing every loss would amplify congestion.
func (a *Assembler) IncompleteKeyframes(minAge time.Duration) []IncompleteKeyframe {
	var out []IncompleteKeyframe
	now := time.Now()

	for key, state := range a.pending {
		if state.flags&FlagKeyframe == 0 || state.nackSent {
			continue
		}
		if now.Sub(state.created) < minAge {
			continue
		}

		kf := IncompleteKeyframe{FrameID: key.frameID, FragTotal: state.total}
		for i := uint16(0); i < state.total; i++ {
			if state.slots[i] == nil {
				kf.Missing = append(kf.Missing, i)
			}
		}
		if len(kf.Missing) > 0 {
			state.nackSent = true
			out = append(out, kf)
		}
	}
	return out
}

// PurgeStale evicts reassembly state older than timeout, bounding memory
// for frames that will never complete.
func (a *Assembler) PurgeStale(timeout time.Duration) {
	now := time.Now()
	for key, state := range a.pending {
		if now.Sub(state.created) > timeout {
			delete(a.pending, key)
		}
	}
}

// PendingCount returns the number of frames currently awaiting fragments.
func (a *Assembler) PendingCount() int {
	return len(a.pending)
}
