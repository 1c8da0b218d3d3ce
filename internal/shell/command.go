package shell

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/kballard/go-shellquote"
)

// DefaultCommand returns the interactive login shell for the current platform.
func DefaultCommand() []string {
	if runtime.GOOS == "windows" {
		return []string{"powershell.exe", "-NoLogo", "-NoExit", "-Command", "-"}
	}
	sh := os.Getenv("SHELL")
	if sh == "" {
		sh = "/bin/bash"
	}
	return []string{sh, "--login", "-i"}
}

// ParseCommand splits a configured command line into argv using POSIX shell
// quoting rules. An empty line yields the platform default.
func ParseCommand(line string) ([]string, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return DefaultCommand(), nil
	}
	argv, err := shellquote.Split(line)
	if err != nil {
		return nil, fmt.Errorf("parse shell command %q: %w", line, err)
	}
	if len(argv) == 0 {
		return DefaultCommand(), nil
	}
	return argv, nil
}

// childEnv is the parent environment with a full-colour terminal declared.
// No terminal device backs it; programs that check for a tty still see pipes.
func childEnv(extra []string) []string {
	base := os.Environ()
	env := make([]string, 0, len(base)+len(extra)+2)
	for _, kv := range base {
		if strings.HasPrefix(kv, "TERM=") || strings.HasPrefix(kv, "COLORTERM=") {
			continue
		}
		env = append(env, kv)
	}
	env = append(env, "TERM=xterm-256color", "COLORTERM=truecolor")
	return append(env, extra...)
}

// ControlBytes translates a named key to the bytes written to the shell.
// Only keys that make sense without a terminal device are recognised.
func ControlBytes(name string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "enter":
		return "\n", true
	case "interrupt", "c-c":
		return "\x03", true
	case "eof", "c-d":
		return "\x04", true
	case "tab":
		return "\t", true
	default:
		return "", false
	}
}
