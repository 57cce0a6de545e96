package queue

import (
	"testing"
	"time"
)

func TestSPSCCapacityValidation(t *testing.T) {
	t.Parallel()
	for _, bad := range []int{0, 1, 3, 6, 100} {
		func() {
			defer func() {
				if recover() == nil {
					t.Errorf("capacity %d accepted", bad)
				}
			}()
			NewSPSC[int](bad)
		}()
	}
}

func TestSPSCFIFO(t *testing.T) {
	t.Parallel()
	q := NewSPSC[int](8)
	for i := 0; i < 5; i++ {
		if !q.TryPush(i) {
			t.Fatalf("push %d failed", i)
		}
	}
	for i := 0; i < 5; i++ {
		v, ok := q.TryPop()
		if !ok || v != i {
			t.Fatalf("pop = %d,%v, want %d,true", v, ok, i)
		}
	}
	if _, ok := q.TryPop(); ok {
		t.Error("pop on empty succeeded")
	}
}

func TestSPSCFull(t *testing.T) {
	t.Parallel()
	q := NewSPSC[int](4) // holds 3
	pushed := 0
	for i := 0; i < 10; i++ {
		if q.TryPush(i) {
			pushed++
		}
	}
	if pushed != 3 {
		t.Errorf("pushed %d items into cap-4 ring, want 3", pushed)
	}
	if q.Len() != 3 {
		t.Errorf("len = %d, want 3", q.Len())
	}
}

func TestSPSCConcurrent(t *testing.T) {
	t.Parallel()
	const n = 100_000
	q := NewSPSC[int](64)

	done := make(chan []int)
	go func() {
		var got []int
		for len(got) < n {
			if v, ok := q.TryPop(); ok {
				got = append(got, v)
			}
		}
		done <- got
	}()

	for i := 0; i < n; {
		if q.TryPush(i) {
			i++
		}
	}

	select {
	case got := <-done:
		for i, v := range got {
			if v != i {
				t.Fatalf("got[%d] = %d, FIFO order violated", i, v)
			}
		}
	case <-time.After(10 * time.Second):
		t.Fatal("consumer did not finish")
	}
}
