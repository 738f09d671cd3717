package optimize

import (
	"bytes"
	"encoding/binary"

	"golang.org/x/sys/cpu"
)

// Wide-scan capability detection
var useWide bool

func init() {
	// SWAR word scanning pays off when the CPU has fast unaligned 64-bit
	// loads; that is the case on amd64 with SSE4.2 and on ARMv8 (ASIMD).
	if cpu.X86.HasSSE42 || cpu.ARM64.HasASIMD {
		useWide = true
	}
}

const (
	swarLo = 0x0101010101010101
	swarHi = 0x8080808080808080
)

// IndexNewline returns the index of the first '\n' in b, or -1.
// The parser calls this on every fill, so it is the hottest scan in the
// request path.
func IndexNewline(b []byte) int {
	if !useWide || len(b) < 16 {
		return bytes.IndexByte(b, '\n')
	}

	i := 0
	for ; i+8 <= len(b); i += 8 {
		w := binary.LittleEndian.Uint64(b[i:])
		// Standard SWAR zero-byte test applied to w XOR '\n...\n'
		x := w ^ (swarLo * '\n')
		if (x-swarLo)&^x&swarHi != 0 {
			break
		}
	}

	for ; i < len(b); i++ {
		if b[i] == '\n' {
			return i
		}
	}
	return -1
}

// tokenTable marks the characters permitted in an HTTP token (RFC 9110
// tchar): used for methods and header field names.
var tokenTable = [256]bool{
	'!': true, '#': true, '$': true, '%': true, '&': true, '\'': true,
	'*': true, '+': true, '-': true, '.': true, '^': true, '_': true,
	'`': true, '|': true, '~': true,
	'0': true, '1': true, '2': true, '3': true, '4': true,
	'5': true, '6': true, '7': true, '8': true, '9': true,
	'A': true, 'B': true, 'C': true, 'D': true, 'E': true, 'F': true,
	'G': true, 'H': true, 'I': true, 'J': true, 'K': true, 'L': true,
	'M': true, 'N': true, 'O': true, 'P': true, 'Q': true, 'R': true,
	'S': true, 'T': true, 'U': true, 'V': true, 'W': true, 'X': true,
	'Y': true, 'Z': true,
	'a': true, 'b': true, 'c': true, 'd': true, 'e': true, 'f': true,
	'g': true, 'h': true, 'i': true, 'j': true, 'k': true, 'l': true,
	'm': true, 'n': true, 'o': true, 'p': true, 'q': true, 'r': true,
	's': true, 't': true, 'u': true, 'v': true, 'w': true, 'x': true,
	'y': true, 'z': true,
}

// IsToken reports whether c is a valid HTTP token character.
func IsToken(c byte) bool {
	return tokenTable[c]
}

// ValidToken reports whether b is a non-empty sequence of token characters.
func ValidToken(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	for _, c := range b {
		if !tokenTable[c] {
			return false
		}
	}
	return true
}

// EqualFold reports whether two ASCII strings are equal ignoring case.
// Header values like "Keep-Alive" vs "keep-alive" are compared with this;
// it never allocates.
func EqualFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if ca >= 'A' && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if cb >= 'A' && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
