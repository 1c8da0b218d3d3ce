package parser

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// maxCarry bounds how many trailing bytes may be held back as an unfinished
// escape or UTF-8 sequence. Anything longer is treated as malformed.
const maxCarry = 64

var (
	// ansiSequence matches complete escape sequences: CSI, OSC (BEL or ST
	// terminated), DCS/SOS/PM/APC strings, and two-byte / nF escapes such as
	// charset selection. Introducers of the longer forms are excluded from
	// the short form so a malformed CSI or OSC is left in place. String
	// sequences never span a line break; one that would is malformed.
	ansiSequence = regexp.MustCompile(
		`\x1b\[[0-?]*[ -/]*[@-~]` +
			`|\x1b\][^\x07\x1b\n]*(?:\x07|\x1b\\)` +
			`|\x1b[PX^_][^\x1b\n]*\x1b\\` +
			`|\x1b[ -/]*[0-OQ-WYZ\\\x60-~]`)

	// ansiIncomplete matches an escape sequence cut off at the end of a chunk.
	ansiIncomplete = regexp.MustCompile(
		`(?:\x1b\[[0-?]*[ -/]*` +
			`|\x1b\][^\x07\x1b\n]*\x1b?` +
			`|\x1b[PX^_][^\x1b\n]*\x1b?` +
			`|\x1b[ -/]*)$`)
)

// StripANSI removes recognised terminal escape sequences and leaves every
// other byte untouched. Unrecognised or malformed sequences pass through.
func StripANSI(s string) string {
	if strings.IndexByte(s, 0x1b) < 0 {
		return s
	}
	return ansiSequence.ReplaceAllString(s, "")
}

// sanitize drops carriage returns and C0 control bytes that have no
// rendering. Line feeds, tabs and backspaces survive for line assembly, and
// ESC survives so malformed sequences stay visible.
func sanitize(s string) string {
	clean := true
	for i := 0; i < len(s); i++ {
		if dropControl(s[i]) {
			clean = false
			break
		}
	}
	if clean {
		return s
	}

	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if !dropControl(s[i]) {
			out = append(out, s[i])
		}
	}
	return string(out)
}

func dropControl(ch byte) bool {
	switch ch {
	case '\n', '\t', '\b', 0x1b:
		return false
	}
	return ch < 0x20 || ch == 0x7f
}

// eraseBackspaces applies backspace to the preceding rune of the line.
func eraseBackspaces(line string) string {
	if strings.IndexByte(line, '\b') < 0 {
		return line
	}
	out := make([]byte, 0, len(line))
	for i := 0; i < len(line); i++ {
		if line[i] != '\b' {
			out = append(out, line[i])
			continue
		}
		if len(out) == 0 {
			continue
		}
		_, size := utf8.DecodeLastRune(out)
		out = out[:len(out)-size]
	}
	return string(out)
}

// Clean is the full per-flush transformation short of line splitting.
func Clean(s string) string {
	return sanitize(StripANSI(s))
}

// splitIncomplete separates a trailing unfinished escape sequence or
// partial UTF-8 encoding from b. The tail is returned for the next flush.
func splitIncomplete(b []byte) (complete, tail []byte) {
	window := b
	offset := 0
	if len(window) > maxCarry {
		offset = len(window) - maxCarry
		window = window[offset:]
	}

	if loc := ansiIncomplete.FindIndex(window); loc != nil {
		cut := offset + loc[0]
		if len(b)-cut <= maxCarry {
			return b[:cut], b[cut:]
		}
	}

	if n := incompleteRuneLen(b); n > 0 {
		return b[:len(b)-n], b[len(b)-n:]
	}
	return b, nil
}

func incompleteRuneLen(b []byte) int {
	for i := 1; i < utf8.UTFMax && i <= len(b); i++ {
		c := b[len(b)-i]
		if !utf8.RuneStart(c) {
			continue
		}
		if c >= utf8.RuneSelf && !utf8.FullRune(b[len(b)-i:]) {
			return i
		}
		return 0
	}
	return 0
}
