package hid

// Keyboard usage IDs (HID usage page 0x07)
const (
	KeyA         byte = 0x04
	KeyZ         byte = 0x1D
	Key1         byte = 0x1E
	Key0         byte = 0x27
	KeyEnter     byte = 0x28
	KeyEscape    byte = 0x29
	KeyBackspace byte = 0x2A
	KeyTab       byte = 0x2B
	KeySpace     byte = 0x2C
)

const shiftedDigits = "!@#$%^&*()"

// KeycodeRune maps a keyboard usage to the character it types on a US layout
func KeycodeRune(code byte, shift bool) (rune, bool) {
	switch {
	case code >= KeyA && code <= KeyZ:
		if shift {
			return rune('A' + code - KeyA), true
		}
		return rune('a' + code - KeyA), true
	case code >= Key1 && code < Key0:
		if shift {
			return rune(shiftedDigits[code-Key1]), true
		}
		return rune('1' + code - Key1), true
	case code == Key0:
		if shift {
			return ')', true
		}
		return '0', true
	case code == KeyEnter:
		return '\n', true
	case code == KeyTab:
		return '\t', true
	case code == KeySpace:
		return ' ', true
	}
	return 0, false
}

// LetterKeycode returns the usage of the n-th letter of the alphabet, wrapping at 26
func LetterKeycode(n int) byte {
	if n < 0 {
		n = -n
	}
	return KeyA + byte(n%26)
}
