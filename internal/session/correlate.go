package session

import (
	"path/filepath"
	"strings"
	"time"
)

// MatchTier identifies how a hook event was attributed to a session.
type MatchTier int

const (
	TierNone MatchTier = iota
	TierExactActive
	TierExact
	TierPrefix
	TierActiveAgent
	TierRecent
)

func (t MatchTier) String() string {
	switch t {
	case TierExactActive:
		return "exact-active"
	case TierExact:
		return "exact"
	case TierPrefix:
		return "prefix"
	case TierActiveAgent:
		return "active-agent"
	case TierRecent:
		return "recent"
	}
	return "none"
}

// normalizePath cleans p for comparison. Empty stays empty.
func normalizePath(p string) string {
	if p == "" {
		return ""
	}
	return filepath.Clean(p)
}

// isWithin reports whether child is parent or lies below it.
func isWithin(child, parent string) bool {
	if child == parent {
		return true
	}
	if parent == string(filepath.Separator) {
		return strings.HasPrefix(child, parent)
	}
	return strings.HasPrefix(child, parent+string(filepath.Separator))
}

// correlate picks the session a hook event with working directory cwd
// belongs to. sessions must be in creation order; earlier sessions win ties
// in the directory tiers.
func correlate(sessions []*Session, cwd string, now time.Time, recency time.Duration) (*Session, MatchTier) {
	target := normalizePath(cwd)
	if target == "" {
		return nil, TierNone
	}

	for _, s := range sessions {
		if normalizePath(s.WorkingDirectory) == target && s.Activity.AgentActive() {
			return s, TierExactActive
		}
	}

	for _, s := range sessions {
		if normalizePath(s.WorkingDirectory) == target {
			return s, TierExact
		}
	}

	for _, s := range sessions {
		dir := normalizePath(s.WorkingDirectory)
		if dir == "" {
			continue
		}
		if isWithin(target, dir) || isWithin(dir, target) {
			return s, TierPrefix
		}
	}

	// The fallbacks prefer whichever session saw output most recently.
	if s := mostRecent(sessions, func(s *Session) bool { return s.Activity.AgentActive() }); s != nil {
		return s, TierActiveAgent
	}

	if s := mostRecent(sessions, func(s *Session) bool { return now.Sub(s.LastActivityAt) < recency }); s != nil {
		return s, TierRecent
	}

	return nil, TierNone
}

func mostRecent(sessions []*Session, keep func(*Session) bool) *Session {
	var best *Session
	for _, s := range sessions {
		if !keep(s) {
			continue
		}
		if best == nil || s.LastActivityAt.After(best.LastActivityAt) {
			best = s
		}
	}
	return best
}
