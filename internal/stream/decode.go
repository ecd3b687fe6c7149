package stream

import (
	"strings"
	"unicode/utf8"
)

// Placeholder replaces received bytes that are not valid UTF-8.
const Placeholder = "\uFFFD"

// decoder turns received chunks into text.  A multi-byte rune split
// across two chunks is held back and completed by the next chunk.
// Not safe for concurrent use; it lives on the connection's queue.
type decoder struct {
	carry []byte
}

func (d *decoder) decode(p []byte) string {
	buf := p
	if len(d.carry) > 0 {
		buf = append(d.carry, p...)
		d.carry = nil
	}
	if cut := incompleteTail(buf); cut < len(buf) {
		d.carry = append([]byte(nil), buf[cut:]...)
		buf = buf[:cut]
	}
	return strings.ToValidUTF8(string(buf), Placeholder)
}

// flush returns a placeholder for bytes still held at end of stream.
func (d *decoder) flush() string {
	if len(d.carry) == 0 {
		return ""
	}
	d.carry = nil
	return Placeholder
}

// incompleteTail returns the offset of a trailing rune prefix that
// could still be completed by more input, or len(b) if there is none.
func incompleteTail(b []byte) int {
	for i := len(b) - 1; i >= 0 && i > len(b)-utf8.UTFMax; i-- {
		if utf8.RuneStart(b[i]) {
			if !utf8.FullRune(b[i:]) {
				return i
			}
			break
		}
	}
	return len(b)
}
