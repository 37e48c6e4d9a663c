package waveform

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// PlaintextLen is the AES-128 block size.
const PlaintextLen = 16

// NameSep separates the hex tokens of a record file name.
const NameSep = "_"

// ErrMalformedIdentifier reports a file name that does not encode 16 plaintext bytes.
var ErrMalformedIdentifier = errors.New("malformed trace identifier")

// ParsePlaintext decodes the plaintext encoded in a record file name:
// 16 hex tokens joined by NameSep, the last one cut to its first two
// characters so any extension after it is ignored. Each token is taken
// modulo 256. Tokens after the 16th are ignored.
func ParsePlaintext(name string) ([PlaintextLen]byte, error) {
	var pt [PlaintextLen]byte
	tok := strings.Split(name, NameSep)
	if len(tok) < PlaintextLen {
		return pt, fmt.Errorf("waveform: %q has %d tokens, want %d: %w", name, len(tok), PlaintextLen, ErrMalformedIdentifier)
	}
	last := tok[PlaintextLen-1]
	if len(last) < 2 {
		return pt, fmt.Errorf("waveform: %q last token %q shorter than 2: %w", name, last, ErrMalformedIdentifier)
	}
	tok[PlaintextLen-1] = last[:2]
	for i := 0; i < PlaintextLen; i++ {
		v, err := strconv.ParseUint(tok[i], 16, 64)
		if err != nil {
			return pt, fmt.Errorf("waveform: %q token %d %q: %w", name, i, tok[i], ErrMalformedIdentifier)
		}
		pt[i] = byte(v & 0xff)
	}
	return pt, nil
}

// FormatName returns the canonical record file name for pt, e.g.
// "00_11_..._ff.wfm" for ext ".wfm".
func FormatName(pt [PlaintextLen]byte, ext string) string {
	var sb strings.Builder
	for i, b := range pt {
		if i > 0 {
			sb.WriteString(NameSep)
		}
		fmt.Fprintf(&sb, "%02x", b)
	}
	sb.WriteString(ext)
	return sb.String()
}
