package shell

import (
	"reflect"
	"strings"
	"testing"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		input string
		want  []string
	}{
		{"bash", []string{"bash"}},
		{"/bin/zsh --login -i", []string{"/bin/zsh", "--login", "-i"}},
		{`sh -c 'echo hello'`, []string{"sh", "-c", "echo hello"}},
		{`"/opt/my shell/bin/fish" -l`, []string{"/opt/my shell/bin/fish", "-l"}},
	}
	for _, tt := range tests {
		got, err := ParseCommand(tt.input)
		if err != nil {
			t.Fatalf("ParseCommand(%q) error = %v", tt.input, err)
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("ParseCommand(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestParseCommandEmptyUsesDefault(t *testing.T) {
	got, err := ParseCommand("   ")
	if err != nil {
		t.Fatalf("ParseCommand() error = %v", err)
	}
	if !reflect.DeepEqual(got, DefaultCommand()) {
		t.Errorf("ParseCommand(\"\") = %v, want %v", got, DefaultCommand())
	}
}

func TestParseCommandUnterminatedQuote(t *testing.T) {
	if _, err := ParseCommand(`sh -c 'echo`); err == nil {
		t.Fatal("expected error for unterminated quote")
	}
}

func TestChildEnvDeclaresColourTerminal(t *testing.T) {
	t.Setenv("TERM", "dumb")
	env := childEnv([]string{"EXTRA=1"})

	var terms []string
	for _, kv := range env {
		if strings.HasPrefix(kv, "TERM=") {
			terms = append(terms, kv)
		}
	}
	if len(terms) != 1 || terms[0] != "TERM=xterm-256color" {
		t.Errorf("TERM entries = %v, want [TERM=xterm-256color]", terms)
	}
	if env[len(env)-1] != "EXTRA=1" {
		t.Errorf("last env entry = %q, want EXTRA=1", env[len(env)-1])
	}
}

func TestControlBytes(t *testing.T) {
	tests := []struct {
		key  string
		want string
		ok   bool
	}{
		{"C-c", "\x03", true},
		{"interrupt", "\x03", true},
		{"eof", "\x04", true},
		{"Tab", "\t", true},
		{"enter", "\n", true},
		{"up", "", false},
	}
	for _, tt := range tests {
		got, ok := ControlBytes(tt.key)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ControlBytes(%q) = %q, %v, want %q, %v", tt.key, got, ok, tt.want, tt.ok)
		}
	}
}
