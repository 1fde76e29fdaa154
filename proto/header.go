package proto

import "encoding/binary"

// Header is the fixed 8-byte prefix of every packet on the wire.
//
//	[0]    packet type
//	[1..3] subpackets remaining, big-endian u16
//	[3..7] real frame size in bytes, big-endian u32
//	[7]    frame id, wraps modulo 256
type Header struct {
	Type      PacketType
	Remaining uint16
	Size      uint32
	ID        uint8
}

// WriteHeader writes h's 8-byte encoding into the start of buf. buf must be
// at least Header bytes long. WriteHeader performs no allocation and no I/O.
func WriteHeader(h Header, buf []byte) {
	buf[0] = byte(h.Type)
	binary.BigEndian.PutUint16(buf[1:3], h.Remaining)
	binary.BigEndian.PutUint32(buf[3:7], h.Size)
	buf[7] = h.ID
}

// WritePacketType overwrites just the type byte of an already-written
// header buffer, used by the fragmenter when emitting XOR parity packets
// that otherwise share a header template with the data stream.
func WritePacketType(t PacketType, buf []byte) {
	buf[0] = byte(t)
}

// WriteRemaining overwrites just the remaining-count field, used by the
// fragmenter as it descends the counter across subpackets of one frame.
func WriteRemaining(remaining uint16, buf []byte) {
	binary.BigEndian.PutUint16(buf[1:3], remaining)
}

// ParseHeader decodes the 8-byte header at the start of buf. buf must be
// at least Header bytes long, otherwise ErrShortPacket is returned. A type
// byte that is not a valid wire packet type (see PacketType.Valid) yields
// ErrUnknownPacketType.
func ParseHeader(buf []byte) (Header, error) {
	if len(buf) < Header {
		return Header{}, ErrShortPacket
	}
	h := Header{
		Type:      PacketType(buf[0]),
		Remaining: binary.BigEndian.Uint16(buf[1:3]),
		Size:      binary.BigEndian.Uint32(buf[3:7]),
		ID:        buf[7],
	}
	if !h.Type.Valid() {
		return Header{}, ErrUnknownPacketType
	}
	return h, nil
}

// The following accessors read a single header field directly out of a raw
// subpacket buffer without validating the type byte. The reassembler uses
// these on buffers it already received as whole subpackets — re-validating
// the type on every field access would be wasted work on the hot path.

// PeekRemaining reads the remaining-count field directly from a subpacket.
func PeekRemaining(buf []byte) uint16 { return binary.BigEndian.Uint16(buf[1:3]) }

// PeekSize reads the real-frame-size field directly from a subpacket.
func PeekSize(buf []byte) uint32 { return binary.BigEndian.Uint32(buf[3:7]) }

// PeekID reads the frame-id field directly from a subpacket.
func PeekID(buf []byte) uint8 { return buf[7] }

// PeekType reads the packet-type field directly from a subpacket.
func PeekType(buf []byte) PacketType { return PacketType(buf[0]) }
