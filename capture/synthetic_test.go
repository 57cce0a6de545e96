package capture

import "testing"

func TestSyntheticScreenFrames(t *testing.T) {
	t.Parallel()
	s := NewSyntheticScreen(160, 120)
	w, h := s.Size()
	if w != 160 || h != 120 {
		t.Fatalf("size = %dx%d, want 160x120", w, h)
	}

	prev, err := s.Capture()
	if err != nil {
		t.Fatal(err)
	}
	if err := prev.Validate(); err != nil {
		t.Fatal(err)
	}

	next, err := s.Capture()
	if err != nil {
		t.Fatal(err)
	}
	if next.PTSMicros < prev.PTSMicros {
		t.Error("pts not monotonic")
	}

	// The pattern must actually move between frames.
	same := true
	for i := range prev.Data {
		if prev.Data[i] != next.Data[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("consecutive pattern frames are identical")
	}
}

func TestSyntheticScreenRoundsOddDimensions(t *testing.T) {
	t.Parallel()
	s := NewSyntheticScreen(161, 121)
	w, h := s.Size()
	if w%2 != 0 || h%2 != 0 {
		t.Errorf("size = %dx%d, want even dimensions", w, h)
	}
	f, err := s.Capture()
	if err != nil {
		t.Fatal(err)
	}
	if err := f.Validate(); err != nil {
		t.Error(err)
	}
}

func TestSyntheticAudioFrames(t *testing.T) {
	t.Parallel()
	s := NewSyntheticAudio(48000, 2)
	f, err := s.Capture()
	if err != nil {
		t.Fatal(err)
	}
	if err := f.Validate(); err != nil {
		t.Fatal(err)
	}
	if f.NumSamples != 960 {
		t.Errorf("frame = %d samples per channel, want 960 (20ms at 48kHz)", f.NumSamples)
	}
}
