package protocol

import (
	"bytes"
	"testing"
	"time"

	"github.com/Sheraz67/Lanstreaming/media"
)

func fragmentFrame(t *testing.T, frame *media.EncodedFrame) []Packet {
	t.Helper()
	var seq Sequence
	frags := Fragment(frame, &seq)
	if len(frags) == 0 {
		t.Fatal("no fragments produced")
	}
	return frags
}

func TestAssembleSingleFragment(t *testing.T) {
	t.Parallel()
	frame := &media.EncodedFrame{
		Data:      []byte{0, 1, 2, 3, 4},
		Type:      media.VideoPFrame,
		PTSMicros: 100000,
		FrameID:   1,
	}

	a := NewAssembler()
	out := a.Feed(fragmentFrame(t, frame)[0])
	if out == nil {
		t.Fatal("single fragment did not complete the frame")
	}
	if out.Type != media.VideoPFrame {
		t.Errorf("type = %v, want pframe", out.Type)
	}
	if !bytes.Equal(out.Data, frame.Data) {
		t.Errorf("data = %v, want %v", out.Data, frame.Data)
	}
	if a.PendingCount() != 0 {
		t.Errorf("pending = %d after completion, want 0", a.PendingCount())
	}
}

func TestAssembleOutOfOrder(t *testing.T) {
	t.Parallel()
	// 3*MaxFragmentPayload+100 bytes fragments into exactly 4 packets.
	frame := &media.EncodedFrame{
		Data:    makeData(3*MaxFragmentPayload + 100),
		Type:    media.VideoKeyframe,
		FrameID: 42,
	}
	frags := fragmentFrame(t, frame)
	if len(frags) != 4 {
		t.Fatalf("got %d fragments, want 4", len(frags))
	}

	a := NewAssembler()
	var out *media.EncodedFrame
	for i, idx := range []int{3, 1, 0, 2} {
		out = a.Feed(frags[idx])
		if i < 3 && out != nil {
			t.Fatalf("frame emitted after %d fragments", i+1)
		}
	}
	if out == nil {
		t.Fatal("frame not emitted after all fragments")
	}
	if out.Type != media.VideoKeyframe {
		t.Errorf("type = %v, want keyframe", out.Type)
	}
	if !bytes.Equal(out.Data, frame.Data) {
		t.Error("reassembled data differs from original")
	}
}

func TestAssembleDuplicateFragment(t *testing.T) {
	t.Parallel()
	frame := &media.EncodedFrame{Data: makeData(MaxFragmentPayload + 10), Type: media.VideoPFrame, FrameID: 5}
	frags := fragmentFrame(t, frame)
	if len(frags) != 2 {
		t.Fatalf("got %d fragments, want 2", len(frags))
	}

	a := NewAssembler()
	if a.Feed(frags[0]) != nil {
		t.Fatal("emitted after first fragment")
	}
	if a.Feed(frags[0]) != nil {
		t.Fatal("emitted after duplicate fragment")
	}
	out := a.Feed(frags[1])
	if out == nil {
		t.Fatal("not emitted after final fragment")
	}
	if !bytes.Equal(out.Data, frame.Data) {
		t.Error("duplicate corrupted reassembly")
	}
}

func TestAssembleInterleavedFrames(t *testing.T) {
	t.Parallel()
	f1 := &media.EncodedFrame{Data: makeData(2 * MaxFragmentPayload), Type: media.VideoPFrame, FrameID: 1}
	f2 := &media.EncodedFrame{Data: makeData(MaxFragmentPayload + 5), Type: media.VideoPFrame, FrameID: 2}
	frags1 := fragmentFrame(t, f1)
	frags2 := fragmentFrame(t, f2)

	a := NewAssembler()
	if a.Feed(frags1[0]) != nil || a.Feed(frags2[0]) != nil {
		t.Fatal("emitted too early")
	}
	out1 := a.Feed(frags1[1])
	if out1 == nil || out1.FrameID != 1 {
		t.Fatal("frame 1 not emitted on its last fragment")
	}
	out2 := a.Feed(frags2[1])
	if out2 == nil || out2.FrameID != 2 {
		t.Fatal("frame 2 not emitted on its last fragment")
	}
	if !bytes.Equal(out1.Data, f1.Data) || !bytes.Equal(out2.Data, f2.Data) {
		t.Error("interleaved frames corrupted")
	}
}

func TestAssembleSeparateStreams(t *testing.T) {
	t.Parallel()
	// Video and audio counters are independent, so the same frame id on
	// both streams must not collide.
	video := &media.EncodedFrame{Data: makeData(10), Type: media.VideoPFrame, FrameID: 3}
	audio := &media.EncodedFrame{Data: makeData(20), Type: media.Audio, FrameID: 3}

	a := NewAssembler()
	outV := a.Feed(fragmentFrame(t, video)[0])
	outA := a.Feed(fragmentFrame(t, audio)[0])
	if outV == nil || outV.Type != media.VideoPFrame {
		t.Error("video frame lost")
	}
	if outA == nil || outA.Type != media.Audio {
		t.Error("audio frame lost")
	}
}

func TestAssembleRejectsMalformed(t *testing.T) {
	t.Parallel()
	a := NewAssembler()

	zeroTotal := Packet{Header: Header{Type: TypeVideoData, FragTotal: 0}}
	if a.Feed(zeroTotal) != nil || a.PendingCount() != 0 {
		t.Error("frag_total=0 accepted")
	}

	idxOutOfRange := Packet{Header: Header{Type: TypeVideoData, FragIndex: 2, FragTotal: 2}}
	if a.Feed(idxOutOfRange) != nil || a.PendingCount() != 0 {
		t.Error("frag_idx >= frag_total accepted")
	}
}

func TestIncompleteKeyframesNackOnce(t *testing.T) {
	t.Parallel()
	frame := &media.EncodedFrame{Data: makeData(2*MaxFragmentPayload + 1), Type: media.VideoKeyframe, FrameID: 7}
	frags := fragmentFrame(t, frame)
	if len(frags) != 3 {
		t.Fatalf("got %d fragments, want 3", len(frags))
	}

	a := NewAssembler()
	a.Feed(frags[0])
	a.Feed(frags[1])

	// Too young to report.
	if got := a.IncompleteKeyframes(time.Minute); len(got) != 0 {
		t.Fatalf("reported %d keyframes before min age", len(got))
	}

	got := a.IncompleteKeyframes(0)
	if len(got) != 1 {
		t.Fatalf("reported %d keyframes, want 1", len(got))
	}
	if got[0].FrameID != 7 || got[0].FragTotal != 3 {
		t.Errorf("report = %+v", got[0])
	}
	if len(got[0].Missing) != 1 || got[0].Missing[0] != 2 {
		t.Errorf("missing = %v, want [2]", got[0].Missing)
	}

	// Reported at most once per entry lifetime.
	if again := a.IncompleteKeyframes(0); len(again) != 0 {
		t.Errorf("keyframe reported twice")
	}

	// The retransmitted fragment still completes the frame.
	out := a.Feed(frags[2])
	if out == nil || !bytes.Equal(out.Data, frame.Data) {
		t.Error("frame not completed after retransmit")
	}
}

func TestIncompleteKeyframesIgnoresPFrames(t *testing.T) {
	t.Parallel()
	frame := &media.EncodedFrame{Data: makeData(2 * MaxFragmentPayload), Type: media.VideoPFrame, FrameID: 9}
	a := NewAssembler()
	a.Feed(fragmentFrame(t, frame)[0])

	if got := a.IncompleteKeyframes(0); len(got) != 0 {
		t.Errorf("incomplete p-frame reported for NACK")
	}
}

func TestPurgeStale(t *testing.T) {
	t.Parallel()
	frame := &media.EncodedFrame{Data: makeData(2 * MaxFragmentPayload), Type: media.VideoKeyframe, FrameID: 11}
	a := NewAssembler()
	a.Feed(fragmentFrame(t, frame)[0])
	if a.PendingCount() != 1 {
		t.Fatalf("pending = %d, want 1", a.PendingCount())
	}

	a.PurgeStale(time.Minute)
	if a.PendingCount() != 1 {
		t.Error("young entry purged")
	}

	a.PurgeStale(0)
	if a.PendingCount() != 0 {
		t.Error("stale entry survived purge")
	}
}

func TestRoundTripPermutationsWithDuplicates(t *testing.T) {
	t.Parallel()
	frame := &media.EncodedFrame{
		Data:      makeData(4*MaxFragmentPayload + 321),
		Type:      media.VideoKeyframe,
		PTSMicros: 55555,
		FrameID:   1000,
	}
	frags := fragmentFrame(t, frame)

	orders := [][]int{
		{0, 1, 2, 3, 4},
		{4, 3, 2, 1, 0},
		{2, 0, 4, 1, 3},
	}
	for _, order := range orders {
		a := NewAssembler()
		var out *media.EncodedFrame
		emitted := 0
		for _, idx := range order {
			// Feed every fragment twice; duplicates must not emit or corrupt.
			for i := 0; i < 2; i++ {
				if got := a.Feed(frags[idx]); got != nil {
					out = got
					emitted++
				}
			}
		}
		if emitted != 1 {
			t.Fatalf("order %v: emitted %d frames, want 1", order, emitted)
		}
		if !bytes.Equal(out.Data, frame.Data) {
			t.Errorf("order %v: data mismatch", order)
		}
		if out.Type != media.VideoKeyframe || out.FrameID != 1000 {
			t.Errorf("order %v: got type %v id %d", order, out.Type, out.FrameID)
		}
	}
}
