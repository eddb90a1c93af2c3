package detect

import "regexp"

// Agent and shell prompt patterns, evaluated against stripped text.
var (
	agentPrompt = regexp.MustCompile(`❯\s*$`)
	shellPrompt = regexp.MustCompile(`(?:^|\n|\r)\s*[>$]\s*$`)

	// After an interrupt the prompt often follows ^C on the same line.
	lenientShellPrompt = regexp.MustCompile(`[>$]\s*$`)
	bareShellPrompt    = regexp.MustCompile(`^[>$]\s*$`)

	startupBanner = regexp.MustCompile(`(?i)Claude Code|claude-code|╭─|Tips:`)

	// Braille spinner frames plus the tool-execution marker.
	spinner = regexp.MustCompile(`[⠋⠙⠹⠸⠼⠴⠦⠧⠇⠏⏺]`)

	inputRequest = regexp.MustCompile(`(?im)\?\s*$|\?\s*\n|\(y/n\)|\(Y/n\)|Other\s*$`)
	selectionUI  = regexp.MustCompile(`(?im)[○●◯◉☐☑☒□■]|^\s*\(\s*[●○x ]?\s*\)|^\s*\[\s*[xX ]?\s*\]|Use arrow|Select.*:|Choose.*:|press enter`)
	numberedItem = regexp.MustCompile(`(?m)^\s*(?:❯\s*)?\d+[.)]\s+\S`)
)

// Shell integration markers, evaluated against the raw chunk.
var (
	// OSC 633 (VS Code shell integration).
	osc633PromptStart  = regexp.MustCompile(`\x1b\]633;A(?:\x07|\x1b\\)`)
	osc633PromptEnd    = regexp.MustCompile(`\x1b\]633;B(?:\x07|\x1b\\)`)
	osc633CommandStart = regexp.MustCompile(`\x1b\]633;C(?:\x07|\x1b\\)`)
	osc633CommandEnd   = regexp.MustCompile(`\x1b\]633;D(?:;\d+)?(?:\x07|\x1b\\)`)

	// OSC 133 (FinalTerm / iTerm2).
	osc133PromptStart  = regexp.MustCompile(`\x1b\]133;A(?:\x07|\x1b\\)`)
	osc133PromptEnd    = regexp.MustCompile(`\x1b\]133;B(?:\x07|\x1b\\)`)
	osc133CommandStart = regexp.MustCompile(`\x1b\]133;C(?:\x07|\x1b\\)`)
	osc133CommandEnd   = regexp.MustCompile(`\x1b\]133;D(?:;\d+)?(?:\x07|\x1b\\)`)

	syncOutputStart = regexp.MustCompile(`\x1b\[\?2026h`)
	syncOutputEnd   = regexp.MustCompile(`\x1b\[\?2026l`)
)

func matchAny(s string, res ...*regexp.Regexp) bool {
	for _, re := range res {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

// hasNumberedOptions reports whether text lists at least two numbered choices.
func hasNumberedOptions(text string) bool {
	return len(numberedItem.FindAllStringIndex(text, 2)) >= 2
}
