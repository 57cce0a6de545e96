// Package protocol implements the datagram wire format for LAN streaming:
// the fixed packet header, the typed control payloads, and the
// fragmentation/reassembly of encoded frames into MTU-sized datagrams.
//
// All multi-byte integers are little-endian. Every datagram fits in
// MaxDatagram bytes so it never triggers IP fragmentation on common links.
//
// Frame ids are 16-bit per-stream counters. Wraparound at 65536 is safe
// because reassembly state for a frame ages out within half a second,
// orders of magnitude sooner than a counter wrap at realistic frame rates.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// Magic is the first byte of every datagram.
	Magic = 0xAA
	// Version is the wire protocol version. Version 2 widened the fragment
	// index and total fields to 16 bits so a single frame can span up to
	// 65535 fragments (a 1080p keyframe needs ~2600); version 1 datagrams
	// fail the version check and are dropped.
	Version = 2

	// DefaultPort is the UDP port a host binds when none is configured.
	DefaultPort = 7878

	// MaxDatagram is the serialized size budget for one datagram, chosen to
	// fit typical Ethernet/PPPoE MTUs without IP fragmentation.
	MaxDatagram = 1200
	// HeaderSize is the serialized size of Header.
	HeaderSize = 18
	// MaxFragmentPayload is the data budget left for fragment payload bytes.
	MaxFragmentPayload = MaxDatagram - HeaderSize
)

// PacketType identifies the payload carried by a datagram.
type PacketType uint8

// Wire packet type codes.
const (
	TypeVideoData    PacketType = 0x01
	TypeAudioData    PacketType = 0x02
	TypeHello        PacketType = 0x10
	TypeWelcome      PacketType = 0x11
	TypeAck          PacketType = 0x12
	TypeNack         PacketType = 0x13
	TypeKeyframeReq  PacketType = 0x14
	TypePing         PacketType = 0x20
	TypePong         PacketType = 0x21
	TypeBye          PacketType = 0x30
	TypeStreamConfig PacketType = 0x40
)

// Header flag bits.
const (
	FlagKeyframe = 0x01
	FlagFirst    = 0x02
	FlagLast     = 0x04
)

// Parse errors. Malformed traffic on a LAN port is expected; callers drop
// the datagram silently rather than surfacing these.
var (
	ErrShortPacket  = errors.New("packet shorter than header")
	ErrBadMagic     = errors.New("bad magic byte")
	ErrBadVersion   = errors.New("unsupported protocol version")
	ErrShortPayload = errors.New("payload shorter than fixed layout")
)

// Header is the fixed preamble of every datagram.
//
// Layout (little-endian, packed, 18 bytes):
//
//	| magic(1) | version(1) | type(1) | flags(1) | sequence(4) |
//	| timestamp_us(4) | frame_id(2) | frag_idx(2) | frag_total(2) |
type Header struct {
	Type            PacketType
	Flags           uint8
	Sequence        uint32
	TimestampMicros uint32 // low 32 bits of the frame's pts_us
	FrameID         uint16
	FragIndex       uint16
	FragTotal       uint16
}

// AppendTo serializes the header onto buf and returns the extended slice.
func (h *Header) AppendTo(buf []byte) []byte {
	var b [HeaderSize]byte
	b[0] = Magic
	b[1] = Version
	b[2] = byte(h.Type)
	b[3] = h.Flags
	binary.LittleEndian.PutUint32(b[4:8], h.Sequence)
	binary.LittleEndian.PutUint32(b[8:12], h.TimestampMicros)
	binary.LittleEndian.PutUint16(b[12:14], h.FrameID)
	binary.LittleEndian.PutUint16(b[14:16], h.FragIndex)
	binary.LittleEndian.PutUint16(b[16:18], h.FragTotal)
	return append(buf, b[:]...)
}

// ParseHeader decodes and validates the fixed preamble.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("%w: %d bytes", ErrShortPacket, len(b))
	}
	if b[0] != Magic {
		return Header{}, ErrBadMagic
	}
	if b[1] != Version {
		return Header{}, fmt.Errorf("%w: %d", ErrBadVersion, b[1])
	}
	return Header{
		Type:            PacketType(b[2]),
		Flags:           b[3],
		Sequence:        binary.LittleEndian.Uint32(b[4:8]),
		TimestampMicros: binary.LittleEndian.Uint32(b[8:12]),
		FrameID:         binary.LittleEndian.Uint16(b[12:14]),
		FragIndex:       binary.LittleEndian.Uint16(b[14:16]),
		FragTotal:       binary.LittleEndian.Uint16(b[16:18]),
	}, nil
}

// Packet is one datagram: header plus opaque payload bytes.
type Packet struct {
	Header  Header
	Payload []byte
}

// Marshal serializes the packet into a fresh buffer.
func (p *Packet) Marshal() []byte {
	buf := make([]byte, 0, HeaderSize+len(p.Payload))
	buf = p.Header.AppendTo(buf)
	return append(buf, p.Payload...)
}

// ParsePacket decodes a received datagram. The payload slice aliases b.
func ParsePacket(b []byte) (Packet, error) {
	h, err := ParseHeader(b)
	if err != nil {
		return Packet{}, err
	}
	return Packet{Header: h, Payload: b[HeaderSize:]}, nil
}
