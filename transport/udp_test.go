package transport

import (
	"bytes"
	"net/netip"
	"sync"
	"testing"
	"time"
)

func loopback(t *testing.T) (*Conn, netip.AddrPort) {
	t.Helper()
	c, err := Bind(0, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	return c, netip.AddrPortFrom(netip.MustParseAddr("127.0.0.1"), c.LocalPort())
}

func TestSendRecvLoopback(t *testing.T) {
	t.Parallel()
	a, _ := loopback(t)
	b, bAddr := loopback(t)

	payload := []byte("hello over loopback")
	a.SendTo(payload, bAddr)

	b.SetRecvTimeout(2 * time.Second)
	buf := make([]byte, 2048)
	n, from, ok := b.RecvFrom(buf)
	if !ok {
		t.Fatal("recv timed out")
	}
	if !bytes.Equal(buf[:n], payload) {
		t.Errorf("got %q, want %q", buf[:n], payload)
	}
	if from.Port() != a.LocalPort() {
		t.Errorf("source port = %d, want %d", from.Port(), a.LocalPort())
	}
}

func TestRecvTimeout(t *testing.T) {
	t.Parallel()
	c, _ := loopback(t)
	c.SetRecvTimeout(30 * time.Millisecond)

	start := time.Now()
	_, _, ok := c.RecvFrom(make([]byte, 64))
	if ok {
		t.Fatal("recv on silent socket succeeded")
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond || elapsed > time.Second {
		t.Errorf("timeout after %v, expected ~30ms", elapsed)
	}
}

func TestConcurrentSendRecv(t *testing.T) {
	t.Parallel()
	a, aAddr := loopback(t)
	b, bAddr := loopback(t)

	const n = 200
	a.SetRecvTimeout(time.Second)
	b.SetRecvTimeout(time.Second)

	var wg sync.WaitGroup
	wg.Add(2)

	received := 0
	go func() {
		defer wg.Done()
		buf := make([]byte, 256)
		for i := 0; i < n; i++ {
			if _, _, ok := b.RecvFrom(buf); ok {
				received++
			}
		}
	}()
	go func() {
		defer wg.Done()
		// b also sends back to a while receiving, exercising concurrent
		// send and recv on one socket.
		for i := 0; i < n; i++ {
			b.SendTo([]byte{byte(i)}, aAddr)
		}
	}()

	for i := 0; i < n; i++ {
		a.SendTo([]byte{byte(i)}, bAddr)
		time.Sleep(100 * time.Microsecond)
	}
	wg.Wait()

	// Loopback can still drop under burst; most datagrams must arrive.
	if received < n/2 {
		t.Errorf("received %d of %d datagrams", received, n)
	}
}

func TestRecvAfterClose(t *testing.T) {
	t.Parallel()
	c, _ := loopback(t)
	c.SetRecvTimeout(5 * time.Second)

	done := make(chan bool, 1)
	go func() {
		_, _, ok := c.RecvFrom(make([]byte, 64))
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	c.Close()

	select {
	case ok := <-done:
		if ok {
			t.Error("recv succeeded after close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("recv did not unblock on close")
	}
}
