package input

import (
	"bytes"
	"encoding/hex"
	"strings"
	"testing"
)

func bytesFromHex(t *testing.T, spaced string) []byte {
	t.Helper()
	out, err := hex.DecodeString(strings.ReplaceAll(spaced, " ", ""))
	if err != nil {
		t.Fatalf("bad hex %q: %v", spaced, err)
	}
	return out
}

// TestHandshakeNewFormat covers the new-format handshake: 526 header word
// followed by a 2-byte protocol version.
func TestHandshakeNewFormat(t *testing.T) {
	in := bytesFromHex(t, "0E 02 03 00")
	res, ok := DecodeHandshake(in)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if !res.NewFormat {
		t.Error("expected new-format handshake")
	}
	if res.Version != 3 {
		t.Errorf("version = %d, want 3", res.Version)
	}
	if !bytes.Equal(res.EchoBytes, in) {
		t.Errorf("echo bytes = % X, want % X", res.EchoBytes, in)
	}
}

// TestHandshakeOldFormat covers the old-format handshake, where the first
// word itself is the protocol version.
func TestHandshakeOldFormat(t *testing.T) {
	in := bytesFromHex(t, "02 00")
	res, ok := DecodeHandshake(in)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if res.NewFormat {
		t.Error("expected old-format handshake")
	}
	if res.Version != 2 {
		t.Errorf("version = %d, want 2", res.Version)
	}
	if !bytes.Equal(res.EchoBytes, in) {
		t.Errorf("echo bytes = % X, want % X", res.EchoBytes, in)
	}
}

func TestDecodeHandshakeTooShort(t *testing.T) {
	if _, ok := DecodeHandshake([]byte{0x01}); ok {
		t.Fatal("expected ok=false for a single byte")
	}
}

// TestRelativeFrameV3Envelope checks the exact wire bytes for dx=5, dy=-7
// at ts=1000us, wrapped in the v3 envelope.
func TestRelativeFrameV3Envelope(t *testing.T) {
	frame := EncodeMouseRelative(5, -7, 1000)
	wrapped := WrapV3Envelope(frame, 1000)

	wantEnvelope := bytesFromHex(t, "23 00 00 00 00 00 00 03 E8 22")
	if !bytes.Equal(wrapped[:10], wantEnvelope) {
		t.Errorf("envelope = % X, want % X", wrapped[:10], wantEnvelope)
	}

	wantFrame := bytesFromHex(t, "07 00 00 00 00 05 FF F9 00 00 00 00 00 00 00 00 00 00 00 00 03 E8")
	if !bytes.Equal(wrapped[10:], wantFrame) {
		t.Errorf("frame = % X, want % X", wrapped[10:], wantFrame)
	}
	if len(wrapped) != 32 {
		t.Errorf("len(wrapped) = %d, want 32", len(wrapped))
	}
}

// TestFrameSizesAndTypes checks the invariant that every frame size is in
// {18,22,26} and the LE type field is in {3,4,5,7,8,9,10}.
func TestFrameSizesAndTypes(t *testing.T) {
	cases := []struct {
		name string
		want EventType
		size int
		data []byte
	}{
		{"key-down", EventKeyDown, 18, EncodeKeyEvent(true, 0x41, 0, 0, 0)},
		{"key-up", EventKeyUp, 18, EncodeKeyEvent(false, 0x41, 0, 0, 0)},
		{"mouse-abs", EventMouseAbsolute, 26, EncodeMouseAbsolute(100, 200, 0)},
		{"mouse-rel", EventMouseRelative, 22, EncodeMouseRelative(1, -1, 0)},
		{"btn-down", EventMouseButtonDown, 18, EncodeMouseButton(true, 1, 0)},
		{"btn-up", EventMouseButtonUp, 18, EncodeMouseButton(false, 1, 0)},
		{"wheel", EventMouseWheel, 22, EncodeMouseWheel(0, -120, 0)},
	}
	for _, c := range cases {
		if len(c.data) != c.size {
			t.Errorf("%s: size = %d, want %d", c.name, len(c.data), c.size)
		}
		gotType := EventType(uint32(c.data[0]) | uint32(c.data[1])<<8 | uint32(c.data[2])<<16 | uint32(c.data[3])<<24)
		if gotType != c.want {
			t.Errorf("%s: type = %d, want %d", c.name, gotType, c.want)
		}
	}
}

func TestQuantizeWheelZero(t *testing.T) {
	if got := QuantizeWheel(0); got != 0 {
		t.Errorf("QuantizeWheel(0) = %d, want 0", got)
	}
	if got := QuantizeWheel(1); got != -120 {
		t.Errorf("QuantizeWheel(1) = %d, want -120", got)
	}
	if got := QuantizeWheel(-1); got != 120 {
		t.Errorf("QuantizeWheel(-1) = %d, want 120", got)
	}
}

func TestClampAbsoluteBounds(t *testing.T) {
	if got := ClampAbsolute(-10, 1920); got != 0 {
		t.Errorf("ClampAbsolute(-10, 1920) = %d, want 0", got)
	}
	if got := ClampAbsolute(10000, 1920); got != 65535 {
		t.Errorf("ClampAbsolute(10000, 1920) = %d, want 65535", got)
	}
}

func TestVKCodeTotalFunction(t *testing.T) {
	ids := []string{"KeyW", "KeyA", "Digit0", "ArrowUp", "F1", "ShiftLeft", "Numpad0", "IntlRo", "Lang1", "Unknown123"}
	for _, id := range ids {
		vk := VKCode(id)
		if vk > 255 {
			t.Errorf("VKCode(%q) = %d, out of range 0-255", id, vk)
		}
	}
}

func TestModifierMaskSuppressesSelfModifier(t *testing.T) {
	mask := ModifierMask("ShiftLeft", true, false, false, false)
	if mask != 0 {
		t.Errorf("expected no ModShift bit on Shift's own key-down, got mask=%d", mask)
	}
	mask2 := ModifierMask("KeyA", true, false, false, false)
	if mask2 != ModShift {
		t.Errorf("expected ModShift set for KeyA+shift, got mask=%d", mask2)
	}
}
