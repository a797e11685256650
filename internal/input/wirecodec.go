// Package input implements the GFN binary input protocol: the
// handshake-echo decoder and the per-event frame encoder (WireCodec), plus
// the polling pipeline that drives them (InputPipeline). WireCodec itself
// is pure and does no I/O.
package input

import "encoding/binary"

// EventType identifies an input frame's wire type. Values match the GFN
// protocol exactly; they are not an internal enumeration choice.
type EventType uint32

const (
	EventKeyDown        EventType = 3
	EventKeyUp          EventType = 4
	EventMouseAbsolute  EventType = 5
	EventMouseRelative  EventType = 7
	EventMouseButtonDown EventType = 8
	EventMouseButtonUp   EventType = 9
	EventMouseWheel      EventType = 10
)

const handshakeNewFormatWord = 0x020E // 526

// HandshakeResult is what DecodeHandshake extracts from the server's first
// input-channel message.
type HandshakeResult struct {
	Version    uint16
	NewFormat  bool
	EchoBytes  []byte // exact bytes to send back unmodified
}

// DecodeHandshake parses the server's handshake bytes (2-4 bytes). The
// caller is responsible for sending EchoBytes back verbatim and then
// arming the pipeline.
func DecodeHandshake(b []byte) (HandshakeResult, bool) {
	if len(b) < 2 {
		return HandshakeResult{}, false
	}
	word := binary.LittleEndian.Uint16(b[0:2])

	echo := make([]byte, len(b))
	copy(echo, b)

	if word == handshakeNewFormatWord {
		res := HandshakeResult{NewFormat: true, EchoBytes: echo}
		if len(b) >= 4 {
			res.Version = binary.LittleEndian.Uint16(b[2:4])
		}
		return res, true
	}

	return HandshakeResult{Version: word, NewFormat: false, EchoBytes: echo}, true
}

func putType(buf []byte, t EventType) {
	binary.LittleEndian.PutUint32(buf[0:4], uint32(t))
}

// EncodeKeyEvent builds an 18-byte key down/up frame.
func EncodeKeyEvent(down bool, vk, modMask, scancode uint16, tsUs uint64) []byte {
	t := EventKeyUp
	if down {
		t = EventKeyDown
	}
	buf := make([]byte, 18)
	putType(buf, t)
	binary.BigEndian.PutUint16(buf[4:6], vk)
	binary.BigEndian.PutUint16(buf[6:8], modMask)
	binary.BigEndian.PutUint16(buf[8:10], scancode)
	binary.BigEndian.PutUint64(buf[10:18], tsUs)
	return buf
}

// EncodeMouseAbsolute builds a 26-byte absolute-position frame. x and y
// must already be clamped into [0, 65535] by the caller (ClampAbsolute
// does this).
func EncodeMouseAbsolute(x, y uint16, tsUs uint64) []byte {
	buf := make([]byte, 26)
	putType(buf, EventMouseAbsolute)
	binary.BigEndian.PutUint16(buf[4:6], x)
	binary.BigEndian.PutUint16(buf[6:8], y)
	binary.BigEndian.PutUint16(buf[8:10], 0)
	binary.BigEndian.PutUint16(buf[10:12], 65535)
	binary.BigEndian.PutUint16(buf[12:14], 65535)
	binary.BigEndian.PutUint32(buf[14:18], 0)
	binary.BigEndian.PutUint64(buf[18:26], tsUs)
	return buf
}

// EncodeMouseRelative builds a 22-byte relative-motion frame.
func EncodeMouseRelative(dx, dy int16, tsUs uint64) []byte {
	buf := make([]byte, 22)
	putType(buf, EventMouseRelative)
	binary.BigEndian.PutUint16(buf[4:6], uint16(dx))
	binary.BigEndian.PutUint16(buf[6:8], uint16(dy))
	binary.BigEndian.PutUint16(buf[8:10], 0)
	binary.BigEndian.PutUint32(buf[10:14], 0)
	binary.BigEndian.PutUint64(buf[14:22], tsUs)
	return buf
}

// EncodeMouseButton builds an 18-byte button down/up frame. button is
// 1-based (GFN numbering), not the 0-based browser/OS convention —
// callers should run the raw button index through MapButton first.
func EncodeMouseButton(down bool, button uint8, tsUs uint64) []byte {
	t := EventMouseButtonUp
	if down {
		t = EventMouseButtonDown
	}
	buf := make([]byte, 18)
	putType(buf, t)
	buf[4] = button
	buf[5] = 0
	binary.BigEndian.PutUint32(buf[6:10], 0)
	binary.BigEndian.PutUint64(buf[10:18], tsUs)
	return buf
}

// EncodeMouseWheel builds a 22-byte wheel frame. horiz/vert are already
// quantised to units of ±120 (see QuantizeWheel).
func EncodeMouseWheel(horiz, vert int16, tsUs uint64) []byte {
	buf := make([]byte, 22)
	putType(buf, EventMouseWheel)
	binary.BigEndian.PutUint16(buf[4:6], uint16(horiz))
	binary.BigEndian.PutUint16(buf[6:8], uint16(vert))
	binary.BigEndian.PutUint16(buf[8:10], 0)
	binary.BigEndian.PutUint32(buf[10:14], 0)
	binary.BigEndian.PutUint64(buf[14:22], tsUs)
	return buf
}

// WrapV3Envelope prepends the 10-byte protocol-v3 envelope
// [0x23][ts_us: u64 BE][0x22] to a frame, only used when the handshake
// recorded a protocol version > 2.
func WrapV3Envelope(frame []byte, tsUs uint64) []byte {
	out := make([]byte, 0, len(frame)+10)
	out = append(out, 0x23)
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], tsUs)
	out = append(out, ts[:]...)
	out = append(out, 0x22)
	out = append(out, frame...)
	return out
}

// MapButton converts a 0-based browser/OS button index to the 1-based GFN
// button numbering.
func MapButton(osButton int) uint8 {
	return uint8(osButton + 1)
}

// QuantizeWheel converts a notch count (how many standard wheel clicks the
// host UI reported, positive = away from the user) into the GFN wire
// value: units of 120 per notch, sign inverted. A notch count of 0 stays
// 0 — no sign-division-by-zero.
func QuantizeWheel(notches int) int16 {
	if notches == 0 {
		return 0
	}
	return int16(-120 * notches)
}

// ClampAbsolute maps a viewport-relative coordinate into [0, 65535].
func ClampAbsolute(v, extent int) uint16 {
	if extent <= 0 {
		return 0
	}
	scaled := v * 65535 / extent
	if scaled < 0 {
		return 0
	}
	if scaled > 65535 {
		return 65535
	}
	return uint16(scaled)
}
