// Package viewer implements the viewer side of the streaming protocol: the
// connection handshake, the receive/dispatch loop with NACK-based keyframe
// recovery, and the session that drives decode and render.
package viewer

import (
	"fmt"
	"log/slog"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/Sheraz67/Lanstreaming/media"
	"github.com/Sheraz67/Lanstreaming/protocol"
	"github.com/Sheraz67/Lanstreaming/queue"
	"github.com/Sheraz67/Lanstreaming/transport"
)

// State is the connection lifecycle of a Client.
type State int32

// Client connection states.
const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

const (
	handshakeTimeout = 1 * time.Second
	// streamRecvTimeout keeps the receive loop responsive once streaming:
	// short enough that NACK checks and shutdown run promptly.
	streamRecvTimeout = 5 * time.Millisecond
)

// Client is the viewer protocol endpoint. Connect, Poll, and the send
// helpers may be used from different goroutines, but Poll must only run on
// one goroutine at a time; it owns the reassembler and the socket reads.
type Client struct {
	log   *slog.Logger
	conn  *transport.Conn
	state atomic.Int32

	server    netip.AddrPort
	cfg       media.StreamConfig
	haveExtra atomic.Bool
	asm       *protocol.Assembler
	seq       protocol.Sequence

	recvBuf [protocol.MaxDatagram + 64]byte
}

// NewClient creates a disconnected client.
func NewClient(log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		log: log.With("component", "client"),
		asm: protocol.NewAssembler(),
	}
}

// State returns the current connection state.
func (c *Client) State() State {
	return State(c.state.Load())
}

// Config returns the stream configuration received in the handshake,
// including any codec extradata seen so far.
func (c *Client) Config() media.StreamConfig {
	return c.cfg
}

// Connect binds an ephemeral port, sends HELLO, and waits for the host's
// WELCOME and STREAM_CONFIG. The two replies ride separate datagrams with
// no ordering guarantee, so both orders are accepted; WELCOME is required
// within the handshake timeout, codec data may also trickle in later during
// Poll. On failure the client returns to Disconnected.
func (c *Client) Connect(host string, port uint16) error {
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return fmt.Errorf("parse host address %q: %w", host, err)
	}

	c.state.Store(int32(Connecting))
	ok := false
	defer func() {
		if !ok {
			c.state.Store(int32(Disconnected))
			if c.conn != nil {
				c.conn.Close()
				c.conn = nil
			}
		}
	}()

	c.conn, err = transport.Bind(0, c.log)
	if err != nil {
		return err
	}
	c.server = netip.AddrPortFrom(addr.Unmap(), port)

	hello := protocol.Packet{Header: protocol.Header{Type: protocol.TypeHello, Sequence: c.seq.Next()}}
	c.conn.SendTo(hello.Marshal(), c.server)
	c.log.Info("sent hello", "server", c.server)

	c.conn.SetRecvTimeout(handshakeTimeout)
	deadline := time.Now().Add(2 * handshakeTimeout)
	welcomed := false

	for time.Now().Before(deadline) && !(welcomed && c.haveExtra.Load()) {
		n, from, got := c.conn.RecvFrom(c.recvBuf[:])
		if !got {
			break
		}
		if from != c.server {
			continue
		}
		pkt, err := protocol.ParsePacket(c.recvBuf[:n])
		if err != nil {
			continue
		}

		switch pkt.Header.Type {
		case protocol.TypeWelcome:
			payload, err := protocol.ParseWelcome(pkt.Payload)
			if err != nil {
				return fmt.Errorf("malformed welcome: %w", err)
			}
			cfg := payload.Config()
			cfg.CodecData = c.cfg.CodecData
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("stream config rejected: %w", err)
			}
			c.cfg = cfg
			welcomed = true
		case protocol.TypeStreamConfig:
			c.storeExtraData(pkt.Payload)
		}
	}

	if !welcomed {
		return fmt.Errorf("connection timed out waiting for welcome from %s", c.server)
	}

	c.conn.SetRecvTimeout(streamRecvTimeout)
	c.state.Store(int32(Connected))
	ok = true
	c.log.Info("connected", "server", c.server,
		"stream", fmt.Sprintf("%dx%d@%d", c.cfg.Width, c.cfg.Height, c.cfg.FPS),
		"codec_data", len(c.cfg.CodecData))
	return nil
}

func (c *Client) storeExtraData(payload []byte) {
	if c.haveExtra.Load() || len(payload) == 0 {
		return
	}
	data := make([]byte, len(payload))
	copy(data, payload)
	c.cfg.CodecData = data
	c.haveExtra.Store(true)
	c.log.Info("received stream config", "bytes", len(data))
}

// HasExtraData reports whether codec extradata has arrived.
func (c *Client) HasExtraData() bool {
	return c.haveExtra.Load()
}

// Poll runs one receive-and-dispatch step. Completed frames are routed by
// type into the given queues via their drop-oldest push. After dispatch it
// turns aged incomplete keyframes into NACKs and evicts hopeless entries.
func (c *Client) Poll(videoQ, audioQ *queue.MPSC[*media.EncodedFrame]) {
	if c.State() != Connected {
		return
	}

	n, from, ok := c.conn.RecvFrom(c.recvBuf[:])
	if ok && from == c.server {
		if pkt, err := protocol.ParsePacket(c.recvBuf[:n]); err == nil {
			c.dispatch(pkt, videoQ, audioQ)
		}
	}

	for _, kf := range c.asm.IncompleteKeyframes(protocol.NackMinAge) {
		c.sendNack(kf)
	}
	c.asm.PurgeStale(protocol.StaleTimeout)
}

func (c *Client) dispatch(pkt protocol.Packet, videoQ, audioQ *queue.MPSC[*media.EncodedFrame]) {
	switch pkt.Header.Type {
	case protocol.TypeVideoData, protocol.TypeAudioData:
		frame := c.asm.Feed(pkt)
		if frame == nil {
			return
		}
		if frame.Type == media.Audio {
			audioQ.Push(frame)
		} else {
			videoQ.Push(frame)
		}
	case protocol.TypePing:
		// Echo the payload so the host measures RTT against its own clock.
		pong := protocol.Packet{
			Header: protocol.Header{
				Type:     protocol.TypePong,
				Sequence: pkt.Header.Sequence,
			},
			Payload: pkt.Payload,
		}
		c.conn.SendTo(pong.Marshal(), c.server)
	case protocol.TypeStreamConfig:
		c.storeExtraData(pkt.Payload)
	}
}

func (c *Client) sendNack(kf protocol.IncompleteKeyframe) {
	payload := protocol.NackPayload{FrameID: kf.FrameID, Missing: kf.Missing}
	pkt := protocol.Packet{
		Header:  protocol.Header{Type: protocol.TypeNack, Sequence: c.seq.Next()},
		Payload: payload.Marshal(),
	}
	c.conn.SendTo(pkt.Marshal(), c.server)
	c.log.Debug("sent nack", "frame", kf.FrameID, "missing", len(kf.Missing))
}

// RequestKeyframe asks the host for a fresh keyframe, used at session start
// and when the decoder loses sync.
func (c *Client) RequestKeyframe() {
	if c.State() != Connected {
		return
	}
	pkt := protocol.Packet{Header: protocol.Header{Type: protocol.TypeKeyframeReq, Sequence: c.seq.Next()}}
	c.conn.SendTo(pkt.Marshal(), c.server)
	c.log.Debug("requested keyframe")
}

// SendAudio fragments one encoded microphone frame and sends it upstream.
func (c *Client) SendAudio(frame *media.EncodedFrame) {
	if c.State() != Connected {
		return
	}
	for _, pkt := range protocol.Fragment(frame, &c.seq) {
		c.conn.SendTo(pkt.Marshal(), c.server)
	}
}

// Disconnect sends a best-effort BYE and releases the socket.
func (c *Client) Disconnect() {
	if c.State() == Disconnected {
		return
	}
	if c.conn != nil {
		bye := protocol.Packet{Header: protocol.Header{Type: protocol.TypeBye, Sequence: c.seq.Next()}}
		c.conn.SendTo(bye.Marshal(), c.server)
		c.conn.Close()
		c.conn = nil
	}
	c.state.Store(int32(Disconnected))
	c.log.Info("disconnected")
}
