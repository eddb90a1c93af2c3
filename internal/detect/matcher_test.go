package detect

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const (
	bel = "\x07"
	st  = "\x1b\\"
)

// active returns an Input for a running agent with the chunk as the whole buffer.
func active(chunk string) Input {
	return Input{Chunk: chunk, Buffer: chunk, AgentActive: true}
}

func TestClassify_Activation(t *testing.T) {
	tests := []struct {
		name  string
		chunk string
	}{
		{"banner", "╭─────────────────────╮\n│ ✻ Welcome to Claude Code! │"},
		{"banner lowercase", "starting claude-code v1.0"},
		{"tips", "Tips: run /help"},
		{"spinner", "⠙ Reticulating"},
		{"tool marker", "⏺ Read(main.go)"},
		{"agent prompt", "\x1b[2m❯ \x1b[0m"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Classify(Input{Chunk: tt.chunk, Buffer: tt.chunk})
			assert.Equal(t, Activate, v.Directive)
			assert.Equal(t, RuleActivation, v.Rule)
		})
	}
}

func TestClassify_InactiveIgnoresEverythingElse(t *testing.T) {
	for _, chunk := range []string{
		"Do you want to proceed?",
		"\x1b]633;C" + bel,
		"some ordinary shell output\n",
	} {
		v := Classify(Input{Chunk: chunk, Buffer: chunk})
		assert.Equal(t, None, v.Directive, chunk)
	}
}

func TestClassify_Deactivation(t *testing.T) {
	v := Classify(active("exiting\n> "))
	assert.Equal(t, Deactivate, v.Directive)
	assert.True(t, v.ClearBuffer)

	v = Classify(active("done\n$ "))
	assert.Equal(t, Deactivate, v.Directive)
}

func TestClassify_ShellPromptWithAgentPromptStaysActive(t *testing.T) {
	// The agent's own prompt glyph at the end means the agent is still there.
	in := active("\n> \n❯ ")
	v := Classify(in)
	assert.NotEqual(t, Deactivate, v.Directive)
	assert.Equal(t, Idle, v.Directive)
	assert.Equal(t, RuleAgentPrompt, v.Rule)
}

func TestClassify_InputRequest(t *testing.T) {
	tests := []struct {
		name  string
		chunk string
	}{
		{"question", "Do you want to create main.go?"},
		{"question before options", "Proceed?\n  yes\n  no"},
		{"yes no", "Overwrite file (y/n)"},
		{"Yes no", "Continue (Y/n)"},
		{"other option", "  1. Red\n  Other"},
		{"radio", "◯ Option A"},
		{"checkbox", "☐ Add tests"},
		{"bracket checkbox", "  [x] lint\n"},
		{"arrow hint", "Use arrow keys to navigate"},
		{"select", "Select a model:"},
		{"numbered", "1) yes\n2) no"},
		{"numbered dot with cursor", "❯ 1. Yes\n  2. No, and tell Claude"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Classify(active(tt.chunk))
			assert.Equal(t, WaitingInput, v.Directive)
			assert.Equal(t, RuleInputRequest, v.Rule)
		})
	}
}

func TestClassify_SingleNumberedLineIsNotAQuestion(t *testing.T) {
	in := active("1. Updated the parser")
	in.Processing = true
	v := Classify(in)
	assert.NotEqual(t, WaitingInput, v.Directive)
}

func TestClassify_SelectionBeatsPromptEndMarker(t *testing.T) {
	chunk := "Choose an approach:\n○ Refactor\n○ Rewrite\n\x1b]633;B" + bel
	v := Classify(active(chunk))
	assert.Equal(t, WaitingInput, v.Directive)

	chunk = "1) yes\n2) no\n\x1b]133;A" + st
	v = Classify(active(chunk))
	assert.Equal(t, WaitingInput, v.Directive)
}

func TestClassify_ShellIntegration(t *testing.T) {
	tests := []struct {
		name  string
		chunk string
		want  Directive
	}{
		{"633 command start", "\x1b]633;C" + bel, Processing},
		{"633 command start st", "\x1b]633;C" + st, Processing},
		{"133 command start", "\x1b]133;C" + bel, Processing},
		{"633 command end", "\x1b]633;D;0" + bel, ExtendProcessing},
		{"133 command end", "\x1b]133;D" + st, ExtendProcessing},
		{"633 prompt start", "\x1b]633;A" + bel, Idle},
		{"633 prompt end", "\x1b]633;B" + bel, Idle},
		{"133 prompt start", "\x1b]133;A" + bel, Idle},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Classify(active(tt.chunk))
			assert.Equal(t, tt.want, v.Directive)
			assert.Equal(t, RuleShellMarker, v.Rule)
		})
	}
}

func TestClassify_PromptMarkerDoesNotOverrideWaiting(t *testing.T) {
	in := active("\x1b]633;A" + bel)
	in.WaitingInput = true
	v := Classify(in)
	assert.Equal(t, None, v.Directive)
	assert.Equal(t, RuleShellMarker, v.Rule)
}

func TestClassify_SyncOutputOnlyExtends(t *testing.T) {
	start := active("\x1b[?2026h")
	v := Classify(start)
	assert.Equal(t, None, v.Directive)
	assert.Equal(t, RuleSyncOutput, v.Rule)

	end := active("redraw\x1b[?2026l")
	v = Classify(end)
	assert.Equal(t, None, v.Directive, "idle redraw must not start processing")

	end.Processing = true
	v = Classify(end)
	assert.Equal(t, ExtendProcessing, v.Directive)
}

func TestClassify_SyncStartSwallowsSpinner(t *testing.T) {
	v := Classify(active("\x1b[?2026h⠋ Thinking"))
	assert.Equal(t, None, v.Directive)
}

func TestClassify_AgentPromptIdle(t *testing.T) {
	v := Classify(active("│ ❯ "))
	assert.Equal(t, Idle, v.Directive)
	assert.True(t, v.ClearBuffer)

	in := active("│ ❯ ")
	in.WaitingInput = true
	v = Classify(in)
	assert.Equal(t, None, v.Directive)
	assert.Equal(t, RuleAgentPrompt, v.Rule)
}

func TestClassify_Spinner(t *testing.T) {
	v := Classify(active("⠼ Compiling"))
	assert.Equal(t, Processing, v.Directive)
	assert.Equal(t, RuleSpinner, v.Rule)
}

func TestClassify_Extension(t *testing.T) {
	in := active("writing internal/detect/matcher.go")
	in.Processing = true
	v := Classify(in)
	assert.Equal(t, ExtendProcessing, v.Directive)
	assert.Equal(t, RuleExtension, v.Rule)

	// Not processing: plain output is not a signal.
	in.Processing = false
	assert.Equal(t, None, Classify(in).Directive)

	// Only control codes: nothing visible.
	in = active("\x1b[2K\x1b[1G")
	in.Processing = true
	assert.Equal(t, None, Classify(in).Directive)
}

func TestClassify_BareShellPromptIsNotExtension(t *testing.T) {
	in := Input{Chunk: "  > ", AgentActive: true, Processing: true}
	_, ok := extension(&text{in: in, chunk: Strip(in.Chunk), rawChunk: in.Chunk})
	assert.False(t, ok)

	in.Chunk = "> compiled 3 files"
	v, ok := extension(&text{in: in, chunk: Strip(in.Chunk), rawChunk: in.Chunk})
	assert.True(t, ok)
	assert.Equal(t, ExtendProcessing, v.Directive)
}

func TestClassify_PendingExit(t *testing.T) {
	in := Input{Chunk: "^C", Buffer: "^C", AgentActive: true, PendingExit: true}
	v := Classify(in)
	assert.Equal(t, None, v.Directive)
	assert.Equal(t, RulePendingExit, v.Rule)

	// Spinner output is ignored while waiting for the shell.
	in = Input{Chunk: "⠋", Buffer: "^C⠋", AgentActive: true, PendingExit: true}
	assert.Equal(t, None, Classify(in).Directive)

	in = Input{Chunk: "> ", Buffer: "^C> ", AgentActive: true, PendingExit: true}
	v = Classify(in)
	assert.Equal(t, Deactivate, v.Directive)
	assert.True(t, v.ClearBuffer)
}

func TestClassify_HookPriority(t *testing.T) {
	in := active("⠋ Thinking")
	in.HookPriority = true
	v := Classify(in)
	assert.Equal(t, None, v.Directive)
	assert.Equal(t, RuleHookPriority, v.Rule)

	in = active("Continue?")
	in.HookPriority = true
	assert.Equal(t, None, Classify(in).Directive)

	in = active("bye\n$ ")
	in.HookPriority = true
	v = Classify(in)
	assert.Equal(t, Deactivate, v.Directive)
}

func TestDirectiveString(t *testing.T) {
	assert.Equal(t, "extend-processing", ExtendProcessing.String())
	assert.Equal(t, "none", None.String())
	assert.Equal(t, "unknown", Directive(99).String())
}
