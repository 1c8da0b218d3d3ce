package parser

import (
	"bytes"
	"testing"
)

func TestStripANSI(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "no ANSI codes",
			input:    "plain text",
			expected: "plain text",
		},
		{
			name:     "color codes SGR",
			input:    "\x1b[31mred text\x1b[0m",
			expected: "red text",
		},
		{
			name:     "multiple color codes",
			input:    "\x1b[1;32;40mbold green\x1b[0m normal",
			expected: "bold green normal",
		},
		{
			name:     "cursor movement",
			input:    "\x1b[2J\x1b[Hclear screen",
			expected: "clear screen",
		},
		{
			name:     "OSC sequence with bell",
			input:    "\x1b]0;window title\x07text",
			expected: "text",
		},
		{
			name:     "OSC sequence with ST",
			input:    "\x1b]0;title\x1b\\text",
			expected: "text",
		},
		{
			name:     "charset selection",
			input:    "\x1b(Btext\x1b)0more",
			expected: "textmore",
		},
		{
			name:     "private mode and keypad mode",
			input:    "\x1b[?1h\x1b=\x1b[?2004htext\x1b[?2004l\x1b[?1l\x1b>",
			expected: "text",
		},
		{
			name:     "DCS string",
			input:    "a\x1bPq#0;2;0;0;0\x1b\\b",
			expected: "ab",
		},
		{
			name:     "save and restore cursor",
			input:    "\x1b7saved\x1b8",
			expected: "saved",
		},
		{
			name:     "malformed CSI passes through",
			input:    "x\x1b[\x01y",
			expected: "x\x1b[\x01y",
		},
		{
			name:     "carriage return kept for sanitize",
			input:    "line1\r\nline2",
			expected: "line1\r\nline2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := StripANSI(tt.input)
			if result != tt.expected {
				t.Errorf("StripANSI() = %q, want %q", result, tt.expected)
			}
		})
	}
}

func TestClean(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"printable unchanged", "echo hello world ~!@#", "echo hello world ~!@#"},
		{"unicode unchanged", "héllo ✓ 世界", "héllo ✓ 世界"},
		{"tab kept", "a\tb", "a\tb"},
		{"carriage return removal", "line1\r\nline2\r", "line1\nline2"},
		{"bell removed", "ding\x07", "ding"},
		{"other control bytes removed", "a\x00b\x1fc\x7f", "abc"},
		{"color around text", "\x1b[1;31mERR\x1b[0m: bad", "ERR: bad"},
		{"backspace kept for assembly", "ab\bc", "ab\bc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Clean(tt.input); got != tt.expected {
				t.Errorf("Clean(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestEraseBackspaces(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"e\becho", "echo"},
		{"\b\bstart", "start"},
		{"abc\b\b", "a"},
		{"é\bx", "x"},
	}
	for _, tt := range tests {
		if got := eraseBackspaces(tt.input); got != tt.expected {
			t.Errorf("eraseBackspaces(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestSplitIncomplete(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		complete string
		tail     string
	}{
		{"plain", "hello", "hello", ""},
		{"complete sequence", "a\x1b[31mb", "a\x1b[31mb", ""},
		{"bare escape", "abc\x1b", "abc", "\x1b"},
		{"partial CSI", "abc\x1b[31", "abc", "\x1b[31"},
		{"partial OSC", "x\x1b]0;title", "x", "\x1b]0;title"},
		{"OSC awaiting ST", "x\x1b]0;title\x1b", "x", "\x1b]0;title\x1b"},
		{"terminated OSC then escape", "\x1b]0;t\x07y\x1b", "\x1b]0;t\x07y", "\x1b"},
		{"OSC broken by line feed", "a\x1b]bad\nworld", "a\x1b]bad\nworld", ""},
		{"DCS broken by line feed", "n\x1bP then\ndone\n$ ", "n\x1bP then\ndone\n$ ", ""},
		{"partial utf8", "caf\xc3", "caf", "\xc3"},
		{"partial 4 byte rune", "ok\xf0\x9f\x98", "ok", "\xf0\x9f\x98"},
		{"complete utf8", "café", "café", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			complete, tail := splitIncomplete([]byte(tt.input))
			if string(complete) != tt.complete || string(tail) != tt.tail {
				t.Errorf("splitIncomplete(%q) = (%q, %q), want (%q, %q)", tt.input, complete, tail, tt.complete, tt.tail)
			}
		})
	}
}

func TestSplitIncompleteOverlongPassesThrough(t *testing.T) {
	input := append([]byte("x\x1b]"), bytes.Repeat([]byte("a"), maxCarry+10)...)
	complete, tail := splitIncomplete(input)
	if len(tail) != 0 {
		t.Fatalf("tail = %q, want empty for an overlong sequence", tail)
	}
	if !bytes.Equal(complete, input) {
		t.Fatal("overlong sequence must be passed through unchanged")
	}
}

func TestStripANSIStringSequenceStopsAtLineBreak(t *testing.T) {
	input := "a\x1b]bad\nb\x07c"
	if got := StripANSI(input); got != input {
		t.Fatalf("StripANSI(%q) = %q, want input unchanged", input, got)
	}
}
