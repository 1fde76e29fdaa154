package proto

// Sealer encrypts a whole frame before it is fragmented. The Fragmenter
// calls it once per frame when a session key is installed; implementations
// live in package cryptoenv and are injected so this package stays free of
// a crypto dependency.
type Sealer interface {
	Seal(plaintext []byte) ([]byte, error)
}

// Broadcaster receives one emitted subpacket at a time. The slice passed
// to Broadcast is only valid for the duration of the call — the
// Fragmenter reuses its internal buffer across subpackets.
type Broadcaster interface {
	Broadcast(subpacket []byte)
}

// BroadcasterFunc adapts a plain function to the Broadcaster interface.
type BroadcasterFunc func(subpacket []byte)

// Broadcast implements Broadcaster.
func (f BroadcasterFunc) Broadcast(subpacket []byte) { f(subpacket) }

// Fragmenter splits an application frame into MTU-sized subpackets and
// emits them one at a time via a Broadcaster. Each Fragmenter owns its own
// frame-id counter; the caller must use a dedicated Fragmenter per output
// stream (video, audio, server-state, ...) so that two streams never
// advance the same id sequence.
type Fragmenter struct {
	packetType PacketType
	frameID    uint8
	xor        bool
	sealer     Sealer

	buf    [MTU]byte
	xorBuf [MTU]byte
}

// NewFragmenter creates a Fragmenter for packetType. When xor is true,
// frames with more than 2 subpackets also emit XOR parity packets ahead of
// the data packets (see emitParity). sealer may be nil, in which case
// frames are sent in the clear (used for unencrypted control packets).
func NewFragmenter(packetType PacketType, xor bool, sealer Sealer) *Fragmenter {
	f := &Fragmenter{
		packetType: packetType,
		frameID:    1,
		xor:        xor,
		sealer:     sealer,
	}
	WritePacketType(packetType, f.buf[:])
	WritePacketType(XOR, f.xorBuf[:])
	return f
}

// SubpacketCount returns ceil(size/PAYLOAD), the number of data subpackets
// a frame of size bytes requires.
func SubpacketCount(size uint32) uint16 {
	if size == 0 {
		return 0
	}
	return uint16((uint64(size) + Payload - 1) / Payload)
}

// Send splits frame into subpackets and hands each to b in send order. If
// a sealer is installed, frame is sealed first and the sealed blob's
// length becomes the wire Header.Size. An empty frame (after sealing, if
// any) emits no subpackets and does not advance the frame id, matching the
// original PacketDeployer's N=0 behavior.
func (f *Fragmenter) Send(frame []byte, b Broadcaster) error {
	payload := frame
	if f.sealer != nil {
		sealed, err := f.sealer.Seal(frame)
		if err != nil {
			return err
		}
		payload = sealed
	}

	size := uint32(len(payload))
	subpackets := SubpacketCount(size)
	if subpackets == 0 {
		return nil
	}

	WriteHeader(Header{Type: f.packetType, Size: size, ID: f.frameID}, f.buf[:])
	WriteHeader(Header{Type: XOR, Size: size, ID: f.frameID}, f.xorBuf[:])

	if f.xor && subpackets > 2 {
		f.emitParity(subpackets, payload, b)
	}

	for i := uint16(0); i < subpackets; i++ {
		WriteRemaining(subpackets-i-1, f.buf[:])

		start := int(i) * Payload
		end := start + Payload
		if end > len(payload) {
			end = len(payload)
		}
		n := copy(f.buf[Header:], payload[start:end])
		b.Broadcast(f.buf[:Header+n])
	}

	f.frameID++ // wraps modulo 256 via uint8 overflow
	return nil
}

// emitParity emits ceil(subpackets/3) XOR parity packets ahead of the data
// packets. Parity packet i covers data packets i, i+P, i+2P
// (byte-wise XOR, missing inputs treated as zero). Parity is advisory: the
// Reassembler in this package never consumes XOR packets.
func (f *Fragmenter) emitParity(subpackets uint16, payload []byte, b Broadcaster) {
	parityCount := (int(subpackets) + 2) / 3

	for i := 0; i < parityCount; i++ {
		WriteRemaining(subpackets-uint16(i)-1, f.xorBuf[:])

		for n := 0; n < Payload; n++ {
			var x byte
			for slot := 0; slot < 3; slot++ {
				packetIdx := i + parityCount*slot
				off := packetIdx*Payload + n
				if off < len(payload) {
					x ^= payload[off]
				}
			}
			f.xorBuf[Header+n] = x
		}
		b.Broadcast(f.xorBuf[:])
	}
}
