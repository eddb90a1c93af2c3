// Package session tracks the inferred agent state of each terminal pane.
//
// The Tracker is the single writer of session state. Terminal output goes
// through the detect package's precedence table; hook events are attributed
// to a session by working directory and override pattern results for a
// short priority window.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"agentwatch/internal/detect"
	"agentwatch/internal/logging"
)

var trackerLog = logging.ForComponent(logging.CompTracker)

const (
	DefaultIdleTimeout       = 800 * time.Millisecond
	DefaultPriorityWindow    = 5 * time.Second
	DefaultForcedExitTimeout = 2 * time.Second
	DefaultRecencyWindow     = 30 * time.Second
	DefaultBufferCap         = 1200

	defaultSubscriberBufCap = 100
	defaultHistorySize      = 256
)

// interruptByte is what the terminal sends for Ctrl+C.
const interruptByte = "\x03"

var (
	ErrNotFound = errors.New("session not found")
	ErrClosed   = errors.New("tracker closed")
	ErrLimit    = errors.New("maximum session limit reached")
)

// Options configures a Tracker. Zero values take the defaults.
type Options struct {
	IdleTimeout       time.Duration
	PriorityWindow    time.Duration
	ForcedExitTimeout time.Duration
	RecencyWindow     time.Duration
	BufferCap         int
	HistorySize       int
	// MaxSessions caps concurrently tracked sessions; 0 means unlimited.
	MaxSessions int
	Clock       Clock
}

func (o Options) withDefaults() Options {
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = DefaultIdleTimeout
	}
	if o.PriorityWindow <= 0 {
		o.PriorityWindow = DefaultPriorityWindow
	}
	if o.ForcedExitTimeout <= 0 {
		o.ForcedExitTimeout = DefaultForcedExitTimeout
	}
	if o.RecencyWindow <= 0 {
		o.RecencyWindow = DefaultRecencyWindow
	}
	if o.BufferCap <= 0 {
		o.BufferCap = DefaultBufferCap
	}
	if o.HistorySize <= 0 {
		o.HistorySize = defaultHistorySize
	}
	if o.Clock == nil {
		o.Clock = RealClock()
	}
	return o
}

// HookResult describes how a hook event was applied.
type HookResult struct {
	SessionID string
	Tier      MatchTier
	Changed   bool
}

// Tracker arbitrates between pattern and hook signals for all sessions.
type Tracker struct {
	mu       sync.Mutex
	opts     Options
	clock    Clock
	registry *Registry
	sched    *Scheduler
	history  *RingBuffer

	// subscribers receive events for every session. key: subscription id
	subscribers map[string]chan StateEvent
	closed      bool
}

// NewTracker creates a tracker with no sessions.
func NewTracker(opts Options) *Tracker {
	opts = opts.withDefaults()
	t := &Tracker{
		opts:        opts,
		clock:       opts.Clock,
		registry:    NewRegistry(opts.BufferCap),
		history:     NewRingBuffer(opts.HistorySize),
		subscribers: make(map[string]chan StateEvent),
	}
	t.sched = NewScheduler(opts.Clock, &t.mu)
	return t
}

// Register starts tracking a pane in the idle state. Registering an id
// that already exists resets it.
func (t *Tracker) Register(id, workingDirectory string) (Info, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return Info{}, ErrClosed
	}
	_, exists := t.registry.Get(id)
	if !exists && t.opts.MaxSessions > 0 && t.registry.Len() >= t.opts.MaxSessions {
		return Info{}, fmt.Errorf("%w (%d)", ErrLimit, t.opts.MaxSessions)
	}
	t.sched.Cancel(id)
	s, err := t.registry.Create(id, workingDirectory, t.clock.Now())
	if err != nil {
		return Info{}, err
	}
	if exists {
		t.history.Forget(id)
	}
	trackerLog.Info("session_registered", slog.String("session", id), slog.String("cwd", workingDirectory))
	return s.info(), nil
}

// Destroy stops tracking a pane. Its timer is cancelled and its subscriber
// closed before Destroy returns. Unknown ids are ignored.
func (t *Tracker) Destroy(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.sched.Cancel(id)
	if !t.registry.Destroy(id) {
		return false
	}
	t.history.Forget(id)
	trackerLog.Info("session_destroyed", slog.String("session", id))
	return true
}

// UpdateWorkingDirectory records a directory change reported by the terminal.
func (t *Tracker) UpdateWorkingDirectory(id, path string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.registry.UpdateWorkingDirectory(id, path)
}

// GetState returns the session's state, or DefaultInfo for unknown ids.
func (t *Tracker) GetState(id string) Info {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.registry.Get(id)
	if !ok {
		return DefaultInfo(id)
	}
	return s.info()
}

// Exists reports whether id is registered.
func (t *Tracker) Exists(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.registry.Get(id)
	return ok
}

// History returns the recent transitions across all sessions, oldest first.
func (t *Tracker) History() []StateEvent {
	return t.history.ReadAll()
}

// List returns the state of every session in registration order.
func (t *Tracker) List() []Info {
	t.mu.Lock()
	defer t.mu.Unlock()

	sessions := t.registry.List()
	result := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		result = append(result, s.info())
	}
	return result
}

// ProcessOutput feeds a chunk of raw terminal output for the session.
func (t *Tracker) ProcessOutput(id, chunk string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.registry.Get(id)
	if !ok {
		return
	}
	now := t.clock.Now()
	s.LastActivityAt = now

	priority := t.hookPriority(s, now)

	// Inside the hook window chunks are only inspected for an agent exit
	// and never committed to the buffer.
	var buffer string
	if priority && !s.PendingForcedExit {
		buffer = s.Buffer.With(chunk)
	} else {
		s.Buffer.Append(chunk)
		buffer = s.Buffer.String()
	}

	v := detect.Classify(detect.Input{
		Chunk:        chunk,
		Buffer:       buffer,
		AgentActive:  s.Activity.AgentActive(),
		Processing:   s.Activity == AgentProcessing,
		WaitingInput: s.Activity == AgentWaiting,
		PendingExit:  s.PendingForcedExit,
		HookPriority: priority,
	})
	t.applyVerdict(s, v)
}

func (t *Tracker) hookPriority(s *Session, now time.Time) bool {
	return s.Source == SourceHooks && now.Sub(s.LastHookUpdateAt) < t.opts.PriorityWindow
}

func (t *Tracker) applyVerdict(s *Session, v detect.Verdict) {
	if v.Directive != detect.None {
		trackerLog.Debug("pattern_verdict",
			slog.String("session", s.ID),
			slog.String("rule", v.Rule),
			slog.String("directive", v.Directive.String()))
	}

	switch v.Directive {
	case detect.Activate, detect.Processing:
		t.transition(s, AgentProcessing, SourcePattern)
	case detect.Deactivate:
		s.PendingForcedExit = false
		t.sched.Cancel(s.ID)
		t.transition(s, ShellIdle, SourcePattern)
	case detect.WaitingInput:
		if t.transition(s, AgentWaiting, SourcePattern) {
			t.cancelIdle(s)
		}
	case detect.Idle:
		if t.transition(s, AgentIdle, SourcePattern) {
			t.cancelIdle(s)
		}
	case detect.ExtendProcessing:
		t.scheduleIdle(s)
	}

	if v.ClearBuffer {
		s.Buffer.Reset()
	}
}

// NotifyInput inspects bytes written to the pane. An interrupt while the
// agent runs starts the forced-exit countdown.
func (t *Tracker) NotifyInput(id, data string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.registry.Get(id)
	if !ok || !strings.Contains(data, interruptByte) || !s.Activity.AgentActive() {
		return
	}

	trackerLog.Info("interrupt_detected", slog.String("session", id))
	s.PendingForcedExit = true
	s.Buffer.Reset()
	t.sched.Reschedule(id, TimeoutForcedExit, t.opts.ForcedExitTimeout, func() {
		t.forceExit(id, s)
	})
}

// forceExit runs with t.mu held.
func (t *Tracker) forceExit(id string, s *Session) {
	if cur, ok := t.registry.Get(id); !ok || cur != s || !s.PendingForcedExit {
		return
	}
	trackerLog.Info("forced_exit", slog.String("session", id))
	s.PendingForcedExit = false
	s.Buffer.Reset()
	t.transition(s, ShellIdle, SourcePattern)
}

func (t *Tracker) scheduleIdle(s *Session) {
	if s.Activity == AgentWaiting || s.PendingForcedExit {
		return
	}
	id := s.ID
	var fire func()
	fire = func() {
		if cur, ok := t.registry.Get(id); !ok || cur != s {
			return
		}
		if s.Activity != AgentProcessing {
			return
		}
		// Any output since the timer was armed postpones reversion.
		if quiet := t.clock.Now().Sub(s.LastActivityAt); quiet < t.opts.IdleTimeout {
			t.sched.Reschedule(id, TimeoutIdle, t.opts.IdleTimeout-quiet, fire)
			return
		}
		t.transition(s, AgentIdle, SourcePattern)
		s.Buffer.Reset()
	}
	t.sched.Reschedule(id, TimeoutIdle, t.opts.IdleTimeout, fire)
}

func (t *Tracker) cancelIdle(s *Session) {
	if t.sched.Pending(s.ID) == TimeoutIdle {
		t.sched.Cancel(s.ID)
	}
}

// ApplyHook applies an authoritative state reported by the agent's hooks
// for the given working directory. The second result is false when no
// session could be attributed; the event is then dropped.
func (t *Tracker) ApplyHook(cwd string, state State, agentActive bool) (HookResult, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	s, tier := correlate(t.registry.List(), cwd, now, t.opts.RecencyWindow)
	if s == nil {
		trackerLog.Info("hook_unresolved",
			slog.String("cwd", cwd),
			slog.Int("sessions", t.registry.Len()))
		return HookResult{Tier: TierNone}, false
	}

	if tier == TierPrefix {
		s.WorkingDirectory = normalizePath(cwd)
	}

	trackerLog.Debug("hook_matched",
		slog.String("session", s.ID),
		slog.String("tier", tier.String()),
		slog.String("state", string(state)))

	s.LastHookUpdateAt = now
	s.Source = SourceHooks
	s.PendingForcedExit = false
	t.sched.Cancel(s.ID)

	changed := t.transition(s, ActivityOf(state, agentActive), SourceHooks)
	return HookResult{SessionID: s.ID, Tier: tier, Changed: changed}, true
}

// transition applies act if it differs from the current activity and
// notifies subscribers. It reports whether anything changed.
func (t *Tracker) transition(s *Session, act Activity, src Source) bool {
	if s.Activity == act {
		return false
	}
	prev := s.Activity
	s.Activity = act
	s.Source = src
	s.Buffer.Reset()

	ev := StateEvent{
		SessionID:   s.ID,
		State:       act.State(),
		AgentActive: act.AgentActive(),
		Source:      src,
		At:          t.clock.Now(),
	}
	trackerLog.Info("state_change",
		slog.String("session", s.ID),
		slog.String("from", prev.String()),
		slog.String("to", act.String()),
		slog.String("source", string(src)))
	t.emit(s, ev)
	return true
}

// emit delivers ev without blocking; a full subscriber misses the event.
func (t *Tracker) emit(s *Session, ev StateEvent) {
	t.history.Write(ev)

	if s.sub != nil {
		select {
		case s.sub <- ev:
		default:
			trackerLog.Warn("subscriber_full", slog.String("session", s.ID))
		}
	}
	for _, ch := range t.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe installs the session's single subscriber slot, replacing (and
// closing) any previous one. The channel is closed when the session is
// destroyed.
func (t *Tracker) Subscribe(id string) (<-chan StateEvent, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.registry.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	ch := make(chan StateEvent, defaultSubscriberBufCap)
	s.setSub(ch)
	return ch, nil
}

// SubscribeAll returns a feed of transitions for every session together
// with the recent history, oldest first.
func (t *Tracker) SubscribeAll() (string, <-chan StateEvent, []StateEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()

	subID := uuid.New().String()
	ch := make(chan StateEvent, defaultSubscriberBufCap)
	if t.closed {
		close(ch)
		return subID, ch, nil
	}
	t.subscribers[subID] = ch
	return subID, ch, t.history.ReadAll()
}

// Unsubscribe closes a feed returned by SubscribeAll.
func (t *Tracker) Unsubscribe(subID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if ch, ok := t.subscribers[subID]; ok {
		close(ch)
		delete(t.subscribers, subID)
	}
}

// Close cancels every timer, drops every session and closes every feed.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}
	t.closed = true
	t.sched.CancelAll()
	for _, s := range t.registry.List() {
		t.registry.Destroy(s.ID)
	}
	for id, ch := range t.subscribers {
		close(ch)
		delete(t.subscribers, id)
	}
}
