// Package detect classifies terminal output into candidate agent-state
// directives. It holds no state between calls.
package detect

import "strings"

// Directive is the candidate transition proposed for a chunk.
type Directive int

const (
	None Directive = iota
	// Activate marks the agent as running and processing.
	Activate
	// Deactivate marks the agent as gone; the pane is back at a shell prompt.
	Deactivate
	WaitingInput
	Processing
	Idle
	// ExtendProcessing (re)arms idle reversion without changing state.
	ExtendProcessing
)

var directiveNames = [...]string{
	None:             "none",
	Activate:         "activate",
	Deactivate:       "deactivate",
	WaitingInput:     "waiting-input",
	Processing:       "processing",
	Idle:             "idle",
	ExtendProcessing: "extend-processing",
}

func (d Directive) String() string {
	if d < 0 || int(d) >= len(directiveNames) {
		return "unknown"
	}
	return directiveNames[d]
}

// Input is everything a classification needs. Buffer already contains Chunk.
type Input struct {
	Chunk  string
	Buffer string

	AgentActive  bool
	Processing   bool
	WaitingInput bool

	// PendingExit is set after an interrupt while the agent was running.
	PendingExit bool
	// HookPriority is set while a recent hook update outranks patterns.
	HookPriority bool
}

// Verdict is the outcome of Classify.
type Verdict struct {
	Directive Directive
	// Rule names the rule that claimed the input, empty if none did.
	Rule string
	// ClearBuffer asks the caller to drop the activity buffer.
	ClearBuffer bool
}

// Rule names, in evaluation order.
const (
	RulePendingExit  = "pending-exit"
	RuleHookPriority = "hook-priority"
	RuleActivation   = "activation"
	RuleDeactivation = "deactivation"
	RuleInputRequest = "input-request"
	RuleShellMarker  = "shell-integration"
	RuleSyncOutput   = "sync-output"
	RuleAgentPrompt  = "agent-prompt"
	RuleSpinner      = "spinner"
	RuleExtension    = "extension"
)

// text carries the per-call stripped variants so each rule does not redo them.
type text struct {
	in       Input
	buffer   string // stripped buffer
	chunk    string // stripped chunk
	rawChunk string
}

type rule struct {
	name  string
	match func(t *text) (Verdict, bool)
}

// rules is the precedence table. The first rule that claims the input wins,
// including rules whose verdict is None.
var rules = []rule{
	{RulePendingExit, pendingExit},
	{RuleHookPriority, hookPriority},
	{RuleActivation, activation},
	{RuleDeactivation, deactivation},
	{RuleInputRequest, inputRequested},
	{RuleShellMarker, shellIntegration},
	{RuleSyncOutput, synchronizedOutput},
	{RuleAgentPrompt, agentIdlePrompt},
	{RuleSpinner, spinnerGlyph},
	{RuleExtension, extension},
}

// Classify runs the precedence table over in.
func Classify(in Input) Verdict {
	t := &text{
		in:       in,
		buffer:   Strip(in.Buffer),
		chunk:    Strip(in.Chunk),
		rawChunk: in.Chunk,
	}
	for _, r := range rules {
		if v, ok := r.match(t); ok {
			v.Rule = r.name
			return v
		}
	}
	return Verdict{Directive: None}
}

func pendingExit(t *text) (Verdict, bool) {
	if !t.in.PendingExit {
		return Verdict{}, false
	}
	if shellPrompt.MatchString(t.buffer) || lenientShellPrompt.MatchString(t.buffer) {
		return Verdict{Directive: Deactivate, ClearBuffer: true}, true
	}
	return Verdict{Directive: None}, true
}

func hookPriority(t *text) (Verdict, bool) {
	if !t.in.HookPriority {
		return Verdict{}, false
	}
	if t.in.AgentActive && exitedToShell(t.buffer) {
		return Verdict{Directive: Deactivate, ClearBuffer: true}, true
	}
	return Verdict{Directive: None}, true
}

func activation(t *text) (Verdict, bool) {
	if t.in.AgentActive {
		return Verdict{}, false
	}
	if startupBanner.MatchString(t.chunk) ||
		spinner.MatchString(t.rawChunk) ||
		agentPrompt.MatchString(t.buffer) {
		return Verdict{Directive: Activate}, true
	}
	// Nothing below applies while the agent is not running.
	return Verdict{Directive: None}, true
}

func deactivation(t *text) (Verdict, bool) {
	if exitedToShell(t.buffer) {
		return Verdict{Directive: Deactivate, ClearBuffer: true}, true
	}
	return Verdict{}, false
}

// exitedToShell: a shell prompt with no agent prompt in the same buffer.
func exitedToShell(stripped string) bool {
	return shellPrompt.MatchString(stripped) && !agentPrompt.MatchString(stripped)
}

// inputRequested runs before the shell-integration markers so a "ready"
// sequence printed alongside a question does not read as idle.
func inputRequested(t *text) (Verdict, bool) {
	if selectionUI.MatchString(t.buffer) ||
		hasNumberedOptions(t.buffer) ||
		inputRequest.MatchString(t.buffer) {
		return Verdict{Directive: WaitingInput}, true
	}
	return Verdict{}, false
}

func shellIntegration(t *text) (Verdict, bool) {
	raw := t.rawChunk
	switch {
	case matchAny(raw, osc633CommandStart, osc133CommandStart):
		return Verdict{Directive: Processing}, true
	case matchAny(raw, osc633CommandEnd, osc133CommandEnd):
		// Trailing output is absorbed by idle reversion.
		return Verdict{Directive: ExtendProcessing}, true
	case matchAny(raw, osc633PromptStart, osc633PromptEnd, osc133PromptStart, osc133PromptEnd):
		if t.in.WaitingInput {
			return Verdict{Directive: None}, true
		}
		return Verdict{Directive: Idle}, true
	}
	return Verdict{}, false
}

// synchronizedOutput never starts a transition: resize redraws use the same
// framing as real work.
func synchronizedOutput(t *text) (Verdict, bool) {
	if syncOutputStart.MatchString(t.rawChunk) {
		return Verdict{Directive: None}, true
	}
	if syncOutputEnd.MatchString(t.rawChunk) {
		if t.in.Processing {
			return Verdict{Directive: ExtendProcessing}, true
		}
		return Verdict{Directive: None}, true
	}
	return Verdict{}, false
}

func agentIdlePrompt(t *text) (Verdict, bool) {
	if !agentPrompt.MatchString(t.buffer) {
		return Verdict{}, false
	}
	if t.in.WaitingInput {
		return Verdict{Directive: None}, true
	}
	return Verdict{Directive: Idle, ClearBuffer: true}, true
}

func spinnerGlyph(t *text) (Verdict, bool) {
	if spinner.MatchString(t.rawChunk) {
		return Verdict{Directive: Processing}, true
	}
	return Verdict{}, false
}

func extension(t *text) (Verdict, bool) {
	if !t.in.Processing {
		return Verdict{}, false
	}
	visible := strings.TrimSpace(t.chunk)
	if visible == "" || bareShellPrompt.MatchString(visible) {
		return Verdict{}, false
	}
	return Verdict{Directive: ExtendProcessing}, true
}
