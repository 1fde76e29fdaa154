package proto

import (
	"bytes"
	"testing"

	"github.com/mahitmehta/mrial/cryptoenv"
)

type keySealer struct{ key cryptoenv.Key }

func (s keySealer) Seal(plaintext []byte) ([]byte, error) { return cryptoenv.Seal(s.key, plaintext) }

func TestSubpacketCount(t *testing.T) {
	cases := []struct {
		size uint32
		want uint16
	}{
		{0, 0},
		{1, 1},
		{Payload, 1},
		{Payload + 1, 2},
		{2628, 3}, // matches the worked example: a 2600-byte frame sealed to 2628 bytes
	}
	for _, c := range cases {
		if got := SubpacketCount(c.size); got != c.want {
			t.Errorf("SubpacketCount(%d) = %d, want %d", c.size, got, c.want)
		}
	}
}

func TestFragmenterSendSizesAndRemaining(t *testing.T) {
	key := cryptoenv.GenerateKey()
	f := NewFragmenter(NAL, false, keySealer{key})

	frame := bytes.Repeat([]byte{0x42}, 2600)

	var subpackets [][]byte
	err := f.Send(frame, BroadcasterFunc(func(sub []byte) {
		cp := make([]byte, len(sub))
		copy(cp, sub)
		subpackets = append(subpackets, cp)
	}))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if len(subpackets) != 3 {
		t.Fatalf("got %d subpackets, want 3", len(subpackets))
	}
	wantSizes := []int{1032, 1032, 588}
	wantRemaining := []uint16{2, 1, 0}
	for i, sub := range subpackets {
		if len(sub) != wantSizes[i] {
			t.Errorf("subpacket %d length = %d, want %d", i, len(sub), wantSizes[i])
		}
		if got := PeekRemaining(sub); got != wantRemaining[i] {
			t.Errorf("subpacket %d remaining = %d, want %d", i, got, wantRemaining[i])
		}
		if got := PeekID(sub); got != 1 {
			t.Errorf("subpacket %d id = %d, want 1", i, got)
		}
	}
}

func TestFragmenterEmptyFrameSendsNothingAndDoesNotAdvanceID(t *testing.T) {
	f := NewFragmenter(InputState, false, nil)
	var calls int
	if err := f.Send(nil, BroadcasterFunc(func([]byte) { calls++ })); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if calls != 0 {
		t.Fatalf("Send(empty) invoked broadcaster %d times, want 0", calls)
	}
	if f.frameID != 1 {
		t.Fatalf("frameID = %d, want 1 (unchanged)", f.frameID)
	}
}

func TestFragmenterAdvancesIDAcrossFrames(t *testing.T) {
	f := NewFragmenter(InputState, false, nil)
	send := func(n int) {
		f.Send(bytes.Repeat([]byte{1}, n), BroadcasterFunc(func([]byte) {}))
	}
	send(10)
	if f.frameID != 2 {
		t.Fatalf("frameID after first frame = %d, want 2", f.frameID)
	}
	send(10)
	if f.frameID != 3 {
		t.Fatalf("frameID after second frame = %d, want 3", f.frameID)
	}
}

func TestFragmenterXORParityOnlyAboveTwoSubpackets(t *testing.T) {
	f := NewFragmenter(NAL, true, nil)
	var types []PacketType
	frame := bytes.Repeat([]byte{1}, 2*Payload) // exactly 2 subpackets, no parity
	f.Send(frame, BroadcasterFunc(func(sub []byte) {
		types = append(types, PeekType(sub))
	}))
	for _, typ := range types {
		if typ == XOR {
			t.Fatal("2-subpacket frame should not emit XOR parity")
		}
	}

	f2 := NewFragmenter(NAL, true, nil)
	var types2 []PacketType
	frame3 := bytes.Repeat([]byte{1}, 3*Payload) // 3 subpackets, parity expected
	f2.Send(frame3, BroadcasterFunc(func(sub []byte) {
		types2 = append(types2, PeekType(sub))
	}))
	var sawXOR bool
	for _, typ := range types2 {
		if typ == XOR {
			sawXOR = true
		}
	}
	if !sawXOR {
		t.Fatal("3-subpacket frame should emit at least one XOR parity packet")
	}
}

func TestReassemblerInOrderRoundTrip(t *testing.T) {
	key := cryptoenv.GenerateKey()
	f := NewFragmenter(NAL, false, keySealer{key})
	frame := bytes.Repeat([]byte{0x7}, 5000)

	r := NewReassembler()
	var got []byte
	f.Send(frame, BroadcasterFunc(func(sub []byte) {
		if out, _, err := r.Push(sub); err == nil && out != nil {
			got = out
		}
	}))

	sealed := make([]byte, 0, len(got))
	sealed = append(sealed, got...)
	plaintext, err := cryptoenv.Open(key, sealed)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(plaintext, frame) {
		t.Fatal("round-tripped frame does not match original")
	}
}

func TestReassemblerInterleavedFramesDoNotMixBytes(t *testing.T) {
	key := cryptoenv.GenerateKey()
	f := NewFragmenter(NAL, false, keySealer{key})

	frameA := bytes.Repeat([]byte{0xAA}, 3000)
	frameB := bytes.Repeat([]byte{0xBB}, 3000)

	var subsA, subsB [][]byte
	collect := func(dst *[][]byte) func([]byte) {
		return func(sub []byte) {
			cp := make([]byte, len(sub))
			copy(cp, sub)
			*dst = append(*dst, cp)
		}
	}
	f.Send(frameA, BroadcasterFunc(collect(&subsA))) // frame id 1
	f.Send(frameB, BroadcasterFunc(collect(&subsB))) // frame id 2
	if PeekID(subsA[0]) == PeekID(subsB[0]) {
		t.Fatal("the two frames should have distinct ids")
	}

	r := NewReassembler()
	var gotB []byte
	for _, sub := range subsB {
		var err error
		gotB, _, err = r.Push(sub)
		if err != nil {
			t.Fatalf("Push(frame B): %v", err)
		}
	}
	if gotB == nil {
		t.Fatal("frame B should reassemble complete and intact even though frame A is still pending")
	}
	plaintextB, err := cryptoenv.Open(key, gotB)
	if err != nil {
		t.Fatalf("Open(frame B): %v", err)
	}
	if !bytes.Equal(plaintextB, frameB) {
		t.Fatal("frame B's bytes were contaminated by frame A's pending subpackets")
	}

	var gotA []byte
	for _, sub := range subsA {
		var err error
		gotA, _, err = r.Push(sub)
		if err != nil {
			t.Fatalf("Push(frame A): %v", err)
		}
	}
	if gotA == nil {
		t.Fatal("frame A should still reassemble after frame B completed")
	}
	plaintextA, err := cryptoenv.Open(key, gotA)
	if err != nil {
		t.Fatalf("Open(frame A): %v", err)
	}
	if !bytes.Equal(plaintextA, frameA) {
		t.Fatal("frame A's bytes were contaminated by frame B")
	}
}

func TestReassemblerReorderedRoundTrip(t *testing.T) {
	key := cryptoenv.GenerateKey()
	f := NewFragmenter(NAL, false, keySealer{key})
	frame := bytes.Repeat([]byte{0x9}, 5000)

	var subpackets [][]byte
	f.Send(frame, BroadcasterFunc(func(sub []byte) {
		cp := make([]byte, len(sub))
		copy(cp, sub)
		subpackets = append(subpackets, cp)
	}))
	if len(subpackets) < 3 {
		t.Fatalf("expected at least 3 subpackets, got %d", len(subpackets))
	}
	// swap the first two to simulate reordering; the terminal (remaining==0)
	// subpacket always arrives last in this test so repair() has a
	// complete set to sort.
	subpackets[0], subpackets[1] = subpackets[1], subpackets[0]

	r := NewReassembler()
	var got []byte
	for _, sub := range subpackets {
		var err error
		got, _, err = r.Push(sub)
		if err != nil {
			t.Fatalf("Push: %v", err)
		}
	}
	if got == nil {
		t.Fatal("reassembly did not complete for a reordered-but-complete frame")
	}
	plaintext, err := cryptoenv.Open(key, got)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(plaintext, frame) {
		t.Fatal("reordered round-tripped frame does not match original")
	}
}
