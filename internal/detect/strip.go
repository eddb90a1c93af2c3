package detect

import (
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"github.com/charmbracelet/x/ansi"

	"agentwatch/internal/logging"
)

var detectLog = logging.ForComponent(logging.CompDetect)

// Strip removes terminal control sequences (CSI, OSC, DCS and friends) from
// s, leaving printable text and line breaks.
func Strip(s string) string {
	if strings.IndexByte(s, '\x1b') < 0 && strings.IndexByte(s, '\x9b') < 0 {
		return s
	}
	return ansi.Strip(s)
}

// osc7 matches ESC ] 7 ; file://host/path terminated by BEL or ST.
var osc7 = regexp.MustCompile(`\x1b\]7;file://[^/\x07\x1b]*(/[^\x07\x1b]*)(?:\x07|\x1b\\)`)

// WorkingDirectory extracts the last directory reported via OSC 7 in chunk.
func WorkingDirectory(chunk string) (string, bool) {
	matches := osc7.FindAllStringSubmatch(chunk, -1)
	if len(matches) == 0 {
		return "", false
	}
	raw := matches[len(matches)-1][1]
	dir, err := url.PathUnescape(raw)
	if err != nil {
		detectLog.Debug("osc7_unescape_failed", slog.String("path", raw), slog.String("error", err.Error()))
		return raw, true
	}
	return dir, true
}
