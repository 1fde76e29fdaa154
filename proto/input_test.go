package proto

import (
	"encoding/binary"
	"testing"
)

func newInputBuf() []byte { return make([]byte, InputPayloadSize) }

func TestEncodeDecodeCoordRoundTrip(t *testing.T) {
	cases := []float64{0, 0.25, 0.5, 0.999, 1}
	for _, frac := range cases {
		enc := EncodeCoord(frac)
		got := DecodeCoord(enc, 1000)
		want := int(frac * 1000)
		if diff := got - want; diff < -1 || diff > 1 {
			t.Errorf("EncodeCoord/DecodeCoord(%v) over 1000px = %d, want ~%d", frac, got, want)
		}
	}
	if DecodeCoord(0, 1000) != 0 {
		t.Fatal("DecodeCoord(0) should mean absent -> 0")
	}
}

func TestClickRoundTrip(t *testing.T) {
	buf := newInputBuf()
	WriteClick(buf, EncodeCoord(0.5), EncodeCoord(0.75), true, true)

	if !ClickRequested(buf) {
		t.Fatal("ClickRequested() = false, want true")
	}
	x, y, right := ParseClick(buf, 1000, 2000)
	if !right {
		t.Fatal("right click bit lost in round trip")
	}
	if x < 490 || x > 510 {
		t.Errorf("x = %d, want ~500", x)
	}
	if y < 1490 || y > 1510 {
		t.Errorf("y = %d, want ~1500", y)
	}
}

func TestClickEncodingMatchesWireLayout(t *testing.T) {
	buf := newInputBuf()
	x := EncodeCoord(0.25)
	y := EncodeCoord(0.5)
	if x != 2501 {
		t.Fatalf("EncodeCoord(0.25) = %d, want 2501", x)
	}
	if y != 5001 {
		t.Fatalf("EncodeCoord(0.5) = %d, want 5001", y)
	}
	WriteClick(buf, x, y, true, true)

	got := binary.BigEndian.Uint16(buf[clickXOff:])
	if got != x|rightClickBit<<8 {
		t.Fatalf("buf[4..6] = %#04x, want %#04x", got, x|rightClickBit<<8)
	}
	if got := binary.BigEndian.Uint16(buf[clickYOff:]); got != 5001 {
		t.Fatalf("buf[6..8] = %d, want 5001", got)
	}
}

func TestClickNotRequestedWhenAbsent(t *testing.T) {
	buf := newInputBuf()
	WriteClick(buf, 0, 0, false, false)
	if ClickRequested(buf) {
		t.Fatal("ClickRequested() = true for an absent click")
	}
}

func TestMoveRoundTrip(t *testing.T) {
	buf := newInputBuf()
	WriteMove(buf, EncodeCoord(0.1), EncodeCoord(0.9), true)

	if IsScroll(buf) {
		t.Fatal("a move payload must not set the scroll discriminator bit")
	}
	if !MoveRequested(buf) {
		t.Fatal("MoveRequested() = false, want true")
	}
	x, y, held := ParseMove(buf, 1000, 1000)
	if !held {
		t.Fatal("button-held flag lost in round trip")
	}
	if x < 95 || x > 105 {
		t.Errorf("x = %d, want ~100", x)
	}
	if y < 885 || y > 895 {
		t.Errorf("y = %d, want ~900", y)
	}
}

func TestScrollRoundTrip(t *testing.T) {
	buf := newInputBuf()
	WriteScroll(buf, -42, 17)

	if !IsScroll(buf) {
		t.Fatal("IsScroll() = false after WriteScroll")
	}
	if MoveRequested(buf) {
		t.Fatal("a scroll payload must never also report as a move")
	}
	dx, dy := ParseScroll(buf)
	if dx != -42 || dy != 17 {
		t.Fatalf("ParseScroll() = (%d, %d), want (-42, 17)", dx, dy)
	}
}

func TestScrollAndMoveDiscriminatorDoesNotDisturbModifiers(t *testing.T) {
	buf := newInputBuf()
	WriteModifiers(buf, ModifierPress, 1, 0, 1)
	WriteScroll(buf, 5, 5)

	control, shift, alt, meta := ParseModifiers(buf)
	if control != ModifierPress {
		t.Fatalf("control modifier = %d, want %d (discriminator bit must not leak into it)", control, ModifierPress)
	}
	if shift != 1 || alt != 0 || meta != 1 {
		t.Fatalf("modifiers = (%d,%d,%d), want (1,0,1)", shift, alt, meta)
	}
}

func TestKeyPressedReleasedRoundTrip(t *testing.T) {
	buf := newInputBuf()
	WriteKeyPressed(buf, 'a')
	WriteKeyReleased(buf, KeyEnter)

	if KeyPressed(buf) != 'a' {
		t.Fatalf("KeyPressed() = %d, want 'a'", KeyPressed(buf))
	}
	if KeyReleased(buf) != KeyEnter {
		t.Fatalf("KeyReleased() = %d, want KeyEnter", KeyReleased(buf))
	}
}
