// Package broadcast implements the host side of the streaming protocol: it
// tracks connected viewers, fans encoded frames out as fragment datagrams,
// measures per-viewer round-trip times, services keyframe retransmit
// requests, and reassembles viewer microphone audio.
package broadcast

import (
	"log/slog"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Sheraz67/Lanstreaming/media"
	"github.com/Sheraz67/Lanstreaming/protocol"
	"github.com/Sheraz67/Lanstreaming/transport"
)

const (
	// PingInterval spaces the RTT probes sent to every peer.
	PingInterval = 2 * time.Second
	// peerTimeout evicts peers that stopped answering pings without a BYE.
	peerTimeout = 15 * time.Second
	// maxRTT rejects nonsense round-trip samples (clock skew, replays).
	maxRTT = 10 * time.Second

	recvTimeout = 100 * time.Millisecond
)

// Handler receives the upcalls the protocol endpoint cannot act on itself.
// The pipeline registers one before Poll runs; the endpoint holds nothing
// but this narrow interface, so no reference cycle forms.
type Handler interface {
	// KeyframeRequested is invoked when any viewer asks for a keyframe.
	KeyframeRequested()
	// ClientAudio delivers one reassembled microphone frame from a viewer.
	ClientAudio(frame *media.EncodedFrame, from netip.AddrPort)
}

// Peer is a snapshot of one connected viewer.
type Peer struct {
	Addr     netip.AddrPort
	RTT      time.Duration
	RTTValid bool
	LastSeen time.Time
}

type peerState struct {
	addr        netip.AddrPort
	rtt         time.Duration
	rttValid    bool
	lastSeen    time.Time
	configAcked bool // stop re-sending STREAM_CONFIG once the peer talks back
}

// Stats is a snapshot of broadcast-side counters.
type Stats struct {
	FramesSent    uint64
	FragmentsSent uint64
	BytesSent     uint64
	Peers         int
}

// Server is the host protocol endpoint. Broadcast and Poll are safe to call
// concurrently from different goroutines; the peer table and the keyframe
// cache are guarded by separate locks so NACK servicing never stalls a
// broadcast and vice versa. Neither lock is held while acquiring the other.
type Server struct {
	log  *slog.Logger
	conn *transport.Conn
	cfg  media.StreamConfig
	seq  protocol.Sequence

	mu    sync.Mutex // peer table
	peers map[netip.AddrPort]*peerState

	kfMu        sync.Mutex // keyframe cache
	kfFrameID   uint16
	kfValid     bool
	kfFragments [][]byte

	handler  Handler
	lastPing time.Time

	// Microphone reassembly is keyed per source endpoint so concurrent
	// viewer microphones cannot collide on (frame id, type). Touched only
	// by the Poll goroutine.
	upstream map[netip.AddrPort]*protocol.Assembler

	framesSent    atomic.Uint64
	fragmentsSent atomic.Uint64
	bytesSent     atomic.Uint64

	recvBuf [protocol.MaxDatagram + 64]byte
}

// NewServer binds the host UDP port and prepares the endpoint. Bind failure
// is fatal to session start.
func NewServer(port uint16, cfg media.StreamConfig, log *slog.Logger) (*Server, error) {
	if log == nil {
		log = slog.Default()
	}
	conn, err := transport.Bind(port, log)
	if err != nil {
		return nil, err
	}
	conn.SetRecvTimeout(recvTimeout)

	return &Server{
		log:      log.With("component", "server"),
		conn:     conn,
		cfg:      cfg,
		peers:    make(map[netip.AddrPort]*peerState),
		upstream: make(map[netip.AddrPort]*protocol.Assembler),
		lastPing: time.Now(),
	}, nil
}

// SetHandler registers the pipeline upcalls. Must be set before Poll runs.
func (s *Server) SetHandler(h Handler) {
	s.handler = h
}

// LocalPort returns the bound UDP port.
func (s *Server) LocalPort() uint16 {
	return s.conn.LocalPort()
}

// Broadcast fragments one encoded frame and sends every fragment to every
// peer. Keyframe fragments are additionally cached for NACK retransmission,
// replacing the previous keyframe wholesale.
func (s *Server) Broadcast(frame *media.EncodedFrame) {
	packets := protocol.Fragment(frame, &s.seq)
	if len(packets) == 0 {
		return
	}

	wire := make([][]byte, len(packets))
	for i := range packets {
		wire[i] = packets[i].Marshal()
	}

	if frame.Type == media.VideoKeyframe {
		s.kfMu.Lock()
		s.kfFrameID = frame.FrameID
		s.kfValid = true
		s.kfFragments = wire
		s.kfMu.Unlock()
	}

	s.mu.Lock()
	for _, peer := range s.peers {
		for _, b := range wire {
			s.conn.SendTo(b, peer.addr)
			s.fragmentsSent.Add(1)
			s.bytesSent.Add(uint64(len(b)))
		}
	}
	s.mu.Unlock()

	s.framesSent.Add(1)
}

// Poll runs one receive-and-dispatch step; the recv goroutine calls it in a
// loop. Every PingInterval it probes all peers, re-sends STREAM_CONFIG to
// peers that have not talked back yet, and evicts silent peers.
func (s *Server) Poll() {
	if time.Since(s.lastPing) >= PingInterval {
		s.pingTick()
		s.lastPing = time.Now()
	}

	n, from, ok := s.conn.RecvFrom(s.recvBuf[:])
	if !ok {
		return
	}

	pkt, err := protocol.ParsePacket(s.recvBuf[:n])
	if err != nil {
		// Malformed traffic on a LAN port: drop without ceremony.
		return
	}

	switch pkt.Header.Type {
	case protocol.TypeHello:
		s.handleHello(from)
	case protocol.TypeBye:
		s.removePeer(from)
	case protocol.TypeKeyframeReq:
		s.markSeen(from, true)
		s.log.Debug("keyframe requested", "peer", from)
		if s.handler != nil {
			s.handler.KeyframeRequested()
		}
	case protocol.TypePong:
		s.handlePong(pkt, from)
	case protocol.TypeNack:
		s.markSeen(from, true)
		s.handleNack(pkt, from)
	case protocol.TypeVideoData, protocol.TypeAudioData:
		s.markSeen(from, true)
		s.handleClientData(pkt, from)
	}
}

func (s *Server) pingTick() {
	payload := protocol.PingPayload{TimestampMicros: uint64(media.NowMicros())}
	ping := protocol.Packet{
		Header:  protocol.Header{Type: protocol.TypePing, Sequence: s.seq.Next()},
		Payload: payload.Marshal(),
	}
	wire := ping.Marshal()

	var resendConfig []netip.AddrPort
	var stale []netip.AddrPort

	s.mu.Lock()
	now := time.Now()
	for addr, peer := range s.peers {
		if now.Sub(peer.lastSeen) > peerTimeout {
			stale = append(stale, addr)
			continue
		}
		s.conn.SendTo(wire, peer.addr)
		if !peer.configAcked {
			resendConfig = append(resendConfig, addr)
		}
	}
	for _, addr := range stale {
		delete(s.peers, addr)
	}
	s.mu.Unlock()

	for _, addr := range stale {
		s.log.Info("peer timed out", "peer", addr)
		delete(s.upstream, addr)
	}
	// STREAM_CONFIG rides UDP with no ordering guarantee relative to
	// WELCOME, so keep re-sending it until the peer proves it is running.
	for _, addr := range resendConfig {
		s.sendStreamConfig(addr)
	}
}

func (s *Server) handleHello(from netip.AddrPort) {
	s.mu.Lock()
	if _, known := s.peers[from]; known {
		s.peers[from].lastSeen = time.Now()
		s.mu.Unlock()
		return
	}
	s.peers[from] = &peerState{addr: from, lastSeen: time.Now()}
	count := len(s.peers)
	s.mu.Unlock()

	s.log.Info("peer connected", "peer", from, "peers", count)

	welcome := protocol.WelcomeFromConfig(&s.cfg)
	pkt := protocol.Packet{
		Header:  protocol.Header{Type: protocol.TypeWelcome, Sequence: s.seq.Next()},
		Payload: welcome.Marshal(),
	}
	s.conn.SendTo(pkt.Marshal(), from)
	s.sendStreamConfig(from)
}

func (s *Server) sendStreamConfig(to netip.AddrPort) {
	if len(s.cfg.CodecData) == 0 {
		return
	}
	pkt := protocol.Packet{
		Header:  protocol.Header{Type: protocol.TypeStreamConfig, Sequence: s.seq.Next()},
		Payload: s.cfg.CodecData,
	}
	s.conn.SendTo(pkt.Marshal(), to)
	s.log.Debug("sent stream config", "peer", to, "bytes", len(s.cfg.CodecData))
}

func (s *Server) removePeer(from netip.AddrPort) {
	s.mu.Lock()
	_, known := s.peers[from]
	delete(s.peers, from)
	count := len(s.peers)
	s.mu.Unlock()

	delete(s.upstream, from)
	if known {
		s.log.Info("peer disconnected", "peer", from, "peers", count)
	}
}

// markSeen refreshes a known peer's liveness; acked additionally records
// that the peer has spoken post-handshake, ending STREAM_CONFIG re-sends.
func (s *Server) markSeen(from netip.AddrPort, acked bool) {
	s.mu.Lock()
	if peer, known := s.peers[from]; known {
		peer.lastSeen = time.Now()
		if acked {
			peer.configAcked = true
		}
	}
	s.mu.Unlock()
}

func (s *Server) handlePong(pkt protocol.Packet, from netip.AddrPort) {
	payload, err := protocol.ParsePing(pkt.Payload)
	if err != nil {
		return
	}

	rtt := time.Duration(media.NowMicros()-int64(payload.TimestampMicros)) * time.Microsecond
	if rtt <= 0 || rtt > maxRTT {
		return
	}

	s.mu.Lock()
	if peer, known := s.peers[from]; known {
		peer.rtt = rtt
		peer.rttValid = true
		peer.lastSeen = time.Now()
		peer.configAcked = true
	}
	s.mu.Unlock()

	s.log.Debug("pong", "peer", from, "rtt", rtt)
}

func (s *Server) handleNack(pkt protocol.Packet, from netip.AddrPort) {
	nack, err := protocol.ParseNack(pkt.Payload)
	if err != nil {
		return
	}

	s.kfMu.Lock()
	defer s.kfMu.Unlock()

	if !s.kfValid || nack.FrameID != s.kfFrameID {
		s.log.Debug("nack for stale keyframe", "peer", from,
			"requested", nack.FrameID, "cached", s.kfFrameID)
		return
	}

	resent := 0
	for _, idx := range nack.Missing {
		if int(idx) < len(s.kfFragments) {
			s.conn.SendTo(s.kfFragments[idx], from)
			resent++
		}
	}
	s.log.Debug("nack serviced", "peer", from, "frame", nack.FrameID,
		"resent", resent, "requested", len(nack.Missing))
}

func (s *Server) handleClientData(pkt protocol.Packet, from netip.AddrPort) {
	asm, ok := s.upstream[from]
	if !ok {
		asm = protocol.NewAssembler()
		s.upstream[from] = asm
	}

	frame := asm.Feed(pkt)
	asm.PurgeStale(protocol.StaleTimeout)
	if frame == nil || frame.Type != media.Audio {
		return
	}
	if s.handler != nil {
		s.handler.ClientAudio(frame, from)
	}
}

// MaxRTT returns the worst valid round-trip time across peers, or zero when
// none is known. The adaptive bitrate loop keys off this.
func (s *Server) MaxRTT() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	var worst time.Duration
	for _, peer := range s.peers {
		if peer.rttValid && peer.rtt > worst {
			worst = peer.rtt
		}
	}
	return worst
}

// PeerCount returns the number of connected viewers.
func (s *Server) PeerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

// Peers returns a snapshot of all connected viewers.
func (s *Server) Peers() []Peer {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Peer, 0, len(s.peers))
	for _, p := range s.peers {
		out = append(out, Peer{Addr: p.addr, RTT: p.rtt, RTTValid: p.rttValid, LastSeen: p.lastSeen})
	}
	return out
}

// Stats returns a snapshot of the broadcast counters.
func (s *Server) Stats() Stats {
	return Stats{
		FramesSent:    s.framesSent.Load(),
		FragmentsSent: s.fragmentsSent.Load(),
		BytesSent:     s.bytesSent.Load(),
		Peers:         s.PeerCount(),
	}
}

// Close releases the socket.
func (s *Server) Close() error {
	return s.conn.Close()
}
