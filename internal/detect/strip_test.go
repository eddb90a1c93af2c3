package detect

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStrip(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "hello world", "hello world"},
		{"sgr", "\x1b[31mred\x1b[0m text", "red text"},
		{"osc bel", "\x1b]633;A\x07> ", "> "},
		{"osc st", "\x1b]0;title\x1b\\body", "body"},
		{"private csi", "\x1b[?2026hframe\x1b[?2026l", "frame"},
		{"newlines kept", "a\nb", "a\nb"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Strip(tt.in))
		})
	}
}

func TestWorkingDirectory(t *testing.T) {
	dir, ok := WorkingDirectory("\x1b]7;file://mbp.local/Users/dev/my%20app\x1b\\> ")
	assert.True(t, ok)
	assert.Equal(t, "/Users/dev/my app", dir)

	dir, ok = WorkingDirectory("\x1b]7;file:///srv/app\x07")
	assert.True(t, ok)
	assert.Equal(t, "/srv/app", dir)

	// Last report wins.
	dir, ok = WorkingDirectory("\x1b]7;file://h/a\x07\x1b]7;file://h/b\x07")
	assert.True(t, ok)
	assert.Equal(t, "/b", dir)

	// A malformed escape is reported as-is.
	dir, ok = WorkingDirectory("\x1b]7;file://h/tmp/100%zz\x07")
	assert.True(t, ok)
	assert.Equal(t, "/tmp/100%zz", dir)

	_, ok = WorkingDirectory("no escape here")
	assert.False(t, ok)
}

func TestPromptPatterns(t *testing.T) {
	assert.True(t, exitedToShell("output\n$ "))
	assert.False(t, exitedToShell("cost: $5"))
	assert.True(t, agentPrompt.MatchString("│ ❯  "))
	assert.False(t, agentPrompt.MatchString("❯ typed text"))
}
