package input

import "strings"

// vkTable maps physical key identifiers (the `code` values a browser-style
// keyboard event would carry, e.g. "KeyW", "ArrowUp", "ShiftLeft") to
// Windows virtual-key codes, because the GFN wire protocol carries VK
// codes regardless of the client platform. Keyed by physical key
// identifier rather than typed character, since input here is forwarded
// key-by-key, not typed text.
var vkTable = map[string]uint16{
	"Enter":     0x0D,
	"Tab":       0x09,
	"Space":     0x20,
	"Backspace": 0x08,
	"Escape":    0x1B,
	"Delete":    0x2E,
	"Insert":    0x2D,

	"Home":     0x24,
	"End":      0x23,
	"PageUp":   0x21,
	"PageDown": 0x22,
	"ArrowUp":    0x26,
	"ArrowDown":  0x28,
	"ArrowLeft":  0x25,
	"ArrowRight": 0x27,

	"F1": 0x70, "F2": 0x71, "F3": 0x72, "F4": 0x73,
	"F5": 0x74, "F6": 0x75, "F7": 0x76, "F8": 0x77,
	"F9": 0x78, "F10": 0x79, "F11": 0x7A, "F12": 0x7B,

	"Minus":      0xBD, // VK_OEM_MINUS
	"Equal":      0xBB, // VK_OEM_PLUS
	"BracketLeft":  0xDB,
	"BracketRight": 0xDD,
	"Backslash":   0xDC,
	"Semicolon":   0xBA,
	"Quote":       0xDE,
	"Backquote":   0xC0,
	"Comma":       0xBC,
	"Period":      0xBE,
	"Slash":       0xBF,

	"Numpad0": 0x60, "Numpad1": 0x61, "Numpad2": 0x62,
	"Numpad3": 0x63, "Numpad4": 0x64, "Numpad5": 0x65,
	"Numpad6": 0x66, "Numpad7": 0x67, "Numpad8": 0x68,
	"Numpad9":        0x69,
	"NumpadMultiply": 0x6A,
	"NumpadAdd":      0x6B,
	"NumpadSubtract": 0x6D,
	"NumpadDecimal":  0x6E,
	"NumpadDivide":   0x6F,

	"CapsLock":   0x14,
	"NumLock":    0x90,
	"ScrollLock": 0x91,

	"PrintScreen": 0x2C,
	"Pause":       0x13,

	"ShiftLeft": 0xA0, "ShiftRight": 0xA1,
	"ControlLeft": 0xA2, "ControlRight": 0xA3,
	"AltLeft": 0xA4, "AltRight": 0xA5,
	"MetaLeft": 0x5B, "MetaRight": 0x5C,

	// JIS/ISO-layout extras present on some international keyboards.
	"IntlRo":      0xC1,
	"IntlYen":     0xC2,
	"IntlBackslash": 0xE2,
	"Lang1":       0x15, // Hangul/English toggle (Korean) / Kana (Japanese)
	"Lang2":       0x19, // Hanja (Korean) / Kanji (Japanese)
}

// VKCode maps a physical key identifier to its Windows virtual-key code.
// Single uppercase letters (A-Z) and digits (0-9), expressed as "KeyA" and
// "Digit0" per the browser `code` convention, map directly to their ASCII
// value. Unknown identifiers map to 0, keeping the mapper a total function
// whose return value is always in 0-255.
func VKCode(keyID string) uint16 {
	if strings.HasPrefix(keyID, "Key") && len(keyID) == 4 {
		c := keyID[3]
		if c >= 'A' && c <= 'Z' {
			return uint16(c)
		}
	}
	if strings.HasPrefix(keyID, "Digit") && len(keyID) == 6 {
		c := keyID[5]
		if c >= '0' && c <= '9' {
			return uint16(c)
		}
	}
	if vk, ok := vkTable[keyID]; ok {
		return vk
	}
	return 0
}

// Modifier mask bits sent in the key-event frame.
const (
	ModShift uint16 = 1 << 0
	ModCtrl  uint16 = 1 << 1
	ModAlt   uint16 = 1 << 2
	ModMeta  uint16 = 1 << 3
)

// ModifierMask builds the modifier bitmask for a key event, suppressing
// the bit for a modifier that is itself the key being reported (pressing
// Shift must not set bit ModShift on its own key-down).
func ModifierMask(keyID string, shift, ctrl, alt, meta bool) uint16 {
	var mask uint16
	if shift && !isShiftKey(keyID) {
		mask |= ModShift
	}
	if ctrl && !isCtrlKey(keyID) {
		mask |= ModCtrl
	}
	if alt && !isAltKey(keyID) {
		mask |= ModAlt
	}
	if meta && !isMetaKey(keyID) {
		mask |= ModMeta
	}
	return mask
}

func isShiftKey(keyID string) bool { return keyID == "ShiftLeft" || keyID == "ShiftRight" }
func isCtrlKey(keyID string) bool  { return keyID == "ControlLeft" || keyID == "ControlRight" }
func isAltKey(keyID string) bool   { return keyID == "AltLeft" || keyID == "AltRight" }
func isMetaKey(keyID string) bool  { return keyID == "MetaLeft" || keyID == "MetaRight" }
