package hooks

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"text/template"
)

// ScriptName marks our entries in the agent's settings.json.
const ScriptName = "agentwatch-hook.sh"

// InstallConfig locates the files the installer touches.
type InstallConfig struct {
	// SettingsDir holds the agent's settings.json (usually ~/.claude).
	SettingsDir string
	// ScriptDir receives the forwarding script.
	ScriptDir string
	// Endpoint is the URL the script posts payloads to.
	Endpoint string
	// SpoolDir receives payloads the script could not post.
	SpoolDir string
}

func (c InstallConfig) settingsPath() string {
	return filepath.Join(c.SettingsDir, "settings.json")
}

// ScriptPath returns where the forwarding script is installed.
func (c InstallConfig) ScriptPath() string {
	return filepath.Join(c.ScriptDir, ScriptName)
}

type hookEntry struct {
	Type    string `json:"type"`
	Command string `json:"command"`
}

type hookMatcher struct {
	Matcher string      `json:"matcher"`
	Hooks   []hookEntry `json:"hooks"`
}

// hookEvents are the events we subscribe to. Tool events need a matcher.
var hookEvents = []struct {
	Event   string
	Matcher string
}{
	{Event: EventPreToolUse, Matcher: "*"},
	{Event: EventPostToolUse, Matcher: "*"},
	{Event: EventPermissionRequest, Matcher: "*"},
	{Event: EventStop},
	{Event: EventSubagentStop},
	{Event: EventUserPromptSubmit},
	{Event: EventSessionEnd},
}

var scriptTemplate = template.Must(template.New("hook").Funcs(template.FuncMap{
	"shq": shellQuote,
}).Parse(`#!/bin/sh
# agentwatch hook: forwards the payload on stdin to the local agentwatch server.
payload=$(cat)
if ! printf '%s' "$payload" | curl -s -f -m 2 -X POST {{shq .Endpoint}} \
  -H "Content-Type: application/json" -d @- >/dev/null 2>&1; then
  spool={{shq .SpoolDir}}
  mkdir -p "$spool"
  f="$spool/$(date +%s)-$$"
  printf '%s' "$payload" > "$f.tmp" && mv "$f.tmp" "$f.json"
fi
# Never block the agent.
exit 0
`))

// shellQuote renders s as a single-quoted sh word.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Status reports how much of the hook wiring is in place.
type Status struct {
	Configured  bool     `json:"configured"`
	HasScript   bool     `json:"hasScript"`
	HasSettings bool     `json:"hasSettings"`
	Missing     []string `json:"missing,omitempty"`
}

// Install writes the forwarding script and merges our hook entries into
// settings.json, preserving everything else in the file. It reports whether
// settings.json was changed.
func Install(cfg InstallConfig) (bool, error) {
	if err := writeScript(cfg); err != nil {
		return false, err
	}

	settings, hooks, err := readSettings(cfg.settingsPath())
	if err != nil {
		return false, err
	}

	command := cfg.ScriptPath()
	changed := false
	for _, ev := range hookEvents {
		merged, added := mergeEvent(hooks[ev.Event], ev.Matcher, command)
		if added {
			hooks[ev.Event] = merged
			changed = true
		}
	}
	if !changed {
		return false, nil
	}

	if err := writeSettings(cfg.SettingsDir, settings, hooks); err != nil {
		return false, err
	}
	hooksLog.Info("hooks_installed",
		slog.String("settings", cfg.settingsPath()),
		slog.String("script", command))
	return true, nil
}

// Remove deletes our hook entries and the script. It reports whether
// settings.json was changed.
func Remove(cfg InstallConfig) (bool, error) {
	if err := os.Remove(cfg.ScriptPath()); err != nil && !os.IsNotExist(err) {
		return false, fmt.Errorf("remove hook script: %w", err)
	}

	if _, err := os.Stat(cfg.settingsPath()); os.IsNotExist(err) {
		return false, nil
	}
	settings, hooks, err := readSettings(cfg.settingsPath())
	if err != nil {
		return false, err
	}

	removed := false
	for _, ev := range hookEvents {
		raw, ok := hooks[ev.Event]
		if !ok {
			continue
		}
		cleaned, didRemove := removeFromEvent(raw)
		if !didRemove {
			continue
		}
		removed = true
		if cleaned == nil {
			delete(hooks, ev.Event)
		} else {
			hooks[ev.Event] = cleaned
		}
	}
	if !removed {
		return false, nil
	}

	if err := writeSettings(cfg.SettingsDir, settings, hooks); err != nil {
		return false, err
	}
	hooksLog.Info("hooks_removed", slog.String("settings", cfg.settingsPath()))
	return true, nil
}

// CheckStatus inspects the script and settings.json without modifying them.
func CheckStatus(cfg InstallConfig) Status {
	st := Status{}
	if info, err := os.Stat(cfg.ScriptPath()); err == nil && !info.IsDir() {
		st.HasScript = true
	}

	allEvents := make([]string, 0, len(hookEvents))
	for _, ev := range hookEvents {
		allEvents = append(allEvents, ev.Event)
	}

	data, err := os.ReadFile(cfg.settingsPath())
	if err != nil {
		st.Missing = allEvents
		return st
	}
	var settings map[string]json.RawMessage
	if err := json.Unmarshal(data, &settings); err != nil {
		st.Missing = allEvents
		return st
	}
	st.HasSettings = true

	var hooks map[string]json.RawMessage
	if raw, ok := settings["hooks"]; ok {
		_ = json.Unmarshal(raw, &hooks)
	}
	for _, ev := range allEvents {
		if !eventHasOurHook(hooks[ev]) {
			st.Missing = append(st.Missing, ev)
		}
	}
	st.Configured = st.HasScript && len(st.Missing) == 0
	return st
}

func writeScript(cfg InstallConfig) error {
	if err := os.MkdirAll(cfg.ScriptDir, 0755); err != nil {
		return fmt.Errorf("create script dir: %w", err)
	}
	var b strings.Builder
	if err := scriptTemplate.Execute(&b, cfg); err != nil {
		return fmt.Errorf("render hook script: %w", err)
	}
	return writeFileAtomic(cfg.ScriptPath(), []byte(b.String()), 0755)
}

// readSettings loads settings.json, or empty maps when it does not exist.
func readSettings(path string) (map[string]json.RawMessage, map[string]json.RawMessage, error) {
	settings := make(map[string]json.RawMessage)
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, nil, fmt.Errorf("read settings.json: %w", err)
		}
	} else if err := json.Unmarshal(data, &settings); err != nil {
		return nil, nil, fmt.Errorf("parse settings.json: %w", err)
	}

	hooks := make(map[string]json.RawMessage)
	if raw, ok := settings["hooks"]; ok {
		if err := json.Unmarshal(raw, &hooks); err != nil {
			// Not an object; start the section over.
			hooks = make(map[string]json.RawMessage)
		}
	}
	return settings, hooks, nil
}

func writeSettings(dir string, settings, hooks map[string]json.RawMessage) error {
	if len(hooks) == 0 {
		delete(settings, "hooks")
	} else {
		raw, err := json.Marshal(hooks)
		if err != nil {
			return fmt.Errorf("marshal hooks: %w", err)
		}
		settings["hooks"] = raw
	}

	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	return writeFileAtomic(filepath.Join(dir, "settings.json"), data, 0644)
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(tmp), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", filepath.Base(path), err)
	}
	return nil
}

func isOurs(h hookEntry) bool {
	return strings.Contains(h.Command, ScriptName)
}

func eventHasOurHook(raw json.RawMessage) bool {
	if raw == nil {
		return false
	}
	var matchers []hookMatcher
	if err := json.Unmarshal(raw, &matchers); err != nil {
		return false
	}
	for _, m := range matchers {
		for _, h := range m.Hooks {
			if isOurs(h) {
				return true
			}
		}
	}
	return false
}

// mergeEvent adds our hook under matcher, keeping existing entries. The
// second result is false when our hook was already present.
func mergeEvent(existing json.RawMessage, matcher, command string) (json.RawMessage, bool) {
	if eventHasOurHook(existing) {
		return existing, false
	}

	var matchers []hookMatcher
	if existing != nil {
		if err := json.Unmarshal(existing, &matchers); err != nil {
			matchers = nil
		}
	}

	entry := hookEntry{Type: "command", Command: command}
	placed := false
	for i, m := range matchers {
		if m.Matcher == matcher {
			matchers[i].Hooks = append(matchers[i].Hooks, entry)
			placed = true
			break
		}
	}
	if !placed {
		matchers = append(matchers, hookMatcher{Matcher: matcher, Hooks: []hookEntry{entry}})
	}

	result, _ := json.Marshal(matchers)
	return result, true
}

// removeFromEvent drops our entries. It returns nil JSON when nothing is left.
func removeFromEvent(raw json.RawMessage) (json.RawMessage, bool) {
	var matchers []hookMatcher
	if err := json.Unmarshal(raw, &matchers); err != nil {
		return raw, false
	}

	removed := false
	var cleaned []hookMatcher
	for _, m := range matchers {
		var kept []hookEntry
		for _, h := range m.Hooks {
			if isOurs(h) {
				removed = true
				continue
			}
			kept = append(kept, h)
		}
		if len(kept) > 0 {
			m.Hooks = kept
			cleaned = append(cleaned, m)
		}
	}

	if !removed {
		return raw, false
	}
	if len(cleaned) == 0 {
		return nil, true
	}
	result, _ := json.Marshal(cleaned)
	return result, true
}
