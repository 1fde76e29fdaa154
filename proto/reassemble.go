package proto

import "sort"

// CacheMaxEntries bounds the number of distinct frame ids the Reassembler
// will hold orphaned subpackets for before evicting the oldest entry by
// insertion order. Frame ids wrap at 256, so a numeric "oldest id" has no
// meaning; an unbounded cache would otherwise grow without limit for a
// peer whose packets keep reordering across frames that never complete.
const CacheMaxEntries = 32

// Reassembler collects subpackets arriving in arbitrary order for one
// producer stream from one peer and emits completed frames. A server or
// client keeps one Reassembler per (peer, stream) pair.
type Reassembler struct {
	current           [][]byte // subpackets of the in-progress frame, arrival order
	previousRemaining int32    // -1 sentinel; last observed "remaining" counter
	mismatch          bool

	cache      map[uint8][][]byte
	cacheOrder []uint8 // insertion order of cache keys, for bounded eviction
}

// NewReassembler returns an empty Reassembler.
func NewReassembler() *Reassembler {
	return &Reassembler{
		previousRemaining: -1,
		cache:             make(map[uint8][][]byte),
	}
}

// Push consumes one arrived subpacket (the full datagram, header
// included). It returns (frame, KindNone, nil) once buf completes a frame
// cleanly; (frame, KindReassemblySurplus, nil) when the frame completed but
// only after filtering out subpackets belonging to a different, interleaved
// frame; (nil, KindNone, nil) for an ordinary in-progress frame still
// waiting on more subpackets; (nil, KindReassemblyDeficient, nil) when the
// terminal subpacket arrived but too few bytes had been collected to match
// its advertised size, so the frame was discarded; and a non-nil error
// (with a matching KindShortPacket) only when buf itself is too short to
// carry a header. Callers should log and meter every case except the two
// KindNone outcomes, which are routine.
func (r *Reassembler) Push(buf []byte) ([]byte, ErrorKind, error) {
	if len(buf) < Header {
		return nil, KindShortPacket, ErrShortPacket
	}
	remaining := PeekRemaining(buf)
	size := PeekSize(buf)

	if r.previousRemaining != int32(remaining)+1 && r.previousRemaining > 0 {
		r.mismatch = true
	}
	r.previousRemaining = int32(remaining)

	cp := make([]byte, len(buf))
	copy(cp, buf)
	r.current = append(r.current, cp)

	if remaining != 0 {
		return nil, KindNone, nil
	}

	kind := KindNone
	if r.mismatch {
		kind = r.repair(size)
		if kind == KindReassemblyDeficient {
			r.previousRemaining = -1
			return nil, kind, nil
		}
	}

	frame := make([]byte, 0, len(r.current)*Payload)
	for _, sub := range r.current {
		frame = append(frame, sub[Header:]...)
	}
	r.current = r.current[:0]
	r.previousRemaining = -1
	return frame, kind, nil
}

// repair runs when the terminal subpacket (remaining == 0) arrives but the
// arrival order was disturbed somewhere in the frame. advertisedSize is
// the Header.Size carried by every subpacket of this frame. It returns
// KindReassemblyDeficient when the frame had to be abandoned,
// KindReassemblySurplus when it recovered after dropping outlier
// subpackets, or KindNone when a reorder-only sort sufficed.
func (r *Reassembler) repair(advertisedSize uint32) ErrorKind {
	last := r.current[len(r.current)-1]
	lastID := PeekID(last)

	collected := uint32((len(r.current)-1)*Payload + len(last) - Header)

	kind := KindNone
	switch {
	case advertisedSize > collected:
		// Fewer bytes than advertised: some subpacket of this frame
		// hasn't arrived yet (or was lost). Hand everything held so far to
		// cacheDeficient and give up on this attempt.
		r.cacheDeficient()
		return KindReassemblyDeficient
	case advertisedSize < collected:
		// More bytes than advertised: current holds subpackets from a
		// different, interleaved frame. Drop or cache the outliers,
		// keeping only those that belong to lastID.
		r.filterSurplus(lastID)
		kind = KindReassemblySurplus
	}

	sort.SliceStable(r.current, func(i, j int) bool {
		return PeekRemaining(r.current[i]) > PeekRemaining(r.current[j])
	})
	r.mismatch = false
	return kind
}

// cacheDeficient mirrors the original reassembler's
// reconstruct_when_deficient: if the cache already holds an entry under the
// terminal subpacket's own frame id, this attempt is dropped without
// touching the cache again (the original only ever logs "found cached
// packets" here and never actually appends to them — see
// reconstructSurplusStub for the matching surplus-side stub). Otherwise
// every held subpacket is cached under its own frame id for a possible
// future reconstruction.
func (r *Reassembler) cacheDeficient() {
	lastID := PeekID(r.current[len(r.current)-1])
	if _, exists := r.cache[lastID]; !exists {
		for _, sub := range r.current {
			r.cachePacket(PeekID(sub), sub)
		}
	}
	r.current = r.current[:0]
	r.mismatch = false
}

func (r *Reassembler) filterSurplus(lastID uint8) {
	kept := r.current[:0]
	for _, sub := range r.current {
		id := PeekID(sub)
		switch {
		case id == lastID:
			kept = append(kept, sub)
		case id < lastID:
			r.reconstructSurplusStub(id, sub)
		default:
			r.cachePacket(id, sub)
		}
	}
	r.current = kept
}

// reconstructSurplusStub stands in for the original reassembler's surplus
// reconciliation path. It does nothing with the outlier it is given: the
// subpacket is neither cached nor spliced into a frame, so it is discarded.
//
// TODO: complete this path once a verified splice order is defined for
// recombining r.cache[id] with the bytes already discarded here; the
// original implementation never finished it either.
func (r *Reassembler) reconstructSurplusStub(id uint8, buf []byte) {
	_ = id
	_ = buf
}

func (r *Reassembler) cachePacket(id uint8, buf []byte) {
	if _, exists := r.cache[id]; !exists {
		if len(r.cacheOrder) >= CacheMaxEntries {
			oldest := r.cacheOrder[0]
			r.cacheOrder = r.cacheOrder[1:]
			delete(r.cache, oldest)
		}
		r.cacheOrder = append(r.cacheOrder, id)
	}
	r.cache[id] = append(r.cache[id], buf)
}
