package session

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	bannerChunk   = "╭──────────────╮\r\n│ Welcome to Claude Code │\r\n"
	workingChunk  = "Reading files...\r\n"
	agentPrompt   = "\r\n❯ "
	questionChunk = "Do you want to proceed?\r\n❯ 1. Yes\r\n  2. No\r\n"
	spinnerChunk  = "⠙ Thinking"
)

func newTestTracker(t *testing.T) (*Tracker, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	tr := NewTracker(Options{Clock: clock})
	t.Cleanup(tr.Close)
	return tr, clock
}

func register(t *testing.T, tr *Tracker, id, cwd string) <-chan StateEvent {
	t.Helper()
	_, err := tr.Register(id, cwd)
	require.NoError(t, err)
	ch, err := tr.Subscribe(id)
	require.NoError(t, err)
	return ch
}

// drain returns the events currently queued on ch without blocking.
func drain(ch <-chan StateEvent) []StateEvent {
	var events []StateEvent
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		default:
			return events
		}
	}
}

func assertState(t *testing.T, tr *Tracker, id string, state State, active bool, src Source) {
	t.Helper()
	info := tr.GetState(id)
	assert.Equal(t, state, info.State, "state")
	assert.Equal(t, active, info.AgentActive, "agentActive")
	assert.Equal(t, src, info.Source, "source")
}

func TestTracker_RegisterStartsIdle(t *testing.T) {
	tr, _ := newTestTracker(t)

	info, err := tr.Register("p1", "/work")
	require.NoError(t, err)
	assert.Equal(t, Info{SessionID: "p1", State: StateIdle, Source: SourceInitial, WorkingDirectory: "/work"}, info)

	_, err = tr.Register("", "/work")
	assert.ErrorIs(t, err, ErrInvalidID)
}

func TestTracker_UnknownSessionDefaults(t *testing.T) {
	tr, _ := newTestTracker(t)

	assert.Equal(t, DefaultInfo("ghost"), tr.GetState("ghost"))
	assert.False(t, tr.Destroy("ghost"))
	assert.False(t, tr.UpdateWorkingDirectory("ghost", "/x"))
	tr.ProcessOutput("ghost", bannerChunk)
	tr.NotifyInput("ghost", "\x03")

	_, err := tr.Subscribe("ghost")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, tr.List())
}

func TestTracker_MaxSessions(t *testing.T) {
	tr := NewTracker(Options{Clock: newFakeClock(), MaxSessions: 1})
	defer tr.Close()

	_, err := tr.Register("a", "")
	require.NoError(t, err)
	_, err = tr.Register("a", "/again")
	require.NoError(t, err, "re-registering an existing id is not a new session")
	_, err = tr.Register("b", "")
	assert.ErrorIs(t, err, ErrLimit)
}

func TestTracker_ActivationAndIdleReversion(t *testing.T) {
	tr, clock := newTestTracker(t)
	ch := register(t, tr, "p1", "/work")

	tr.ProcessOutput("p1", bannerChunk)
	assertState(t, tr, "p1", StateProcessing, true, SourcePattern)

	tr.ProcessOutput("p1", workingChunk)
	assert.Equal(t, TimeoutIdle, tr.sched.Pending("p1"))

	clock.Advance(799 * time.Millisecond)
	assertState(t, tr, "p1", StateProcessing, true, SourcePattern)

	clock.Advance(time.Millisecond)
	assertState(t, tr, "p1", StateIdle, true, SourcePattern)

	events := drain(ch)
	require.Len(t, events, 2)
	assert.Equal(t, StateProcessing, events[0].State)
	assert.Equal(t, StateIdle, events[1].State)
	assert.True(t, events[1].AgentActive)
}

func TestTracker_ExtendingOutputPostponesIdle(t *testing.T) {
	tr, clock := newTestTracker(t)
	register(t, tr, "p1", "/work")

	tr.ProcessOutput("p1", bannerChunk)
	tr.ProcessOutput("p1", workingChunk)
	clock.Advance(600 * time.Millisecond)
	tr.ProcessOutput("p1", "compiling main.go\r\n")
	clock.Advance(600 * time.Millisecond)
	assertState(t, tr, "p1", StateProcessing, true, SourcePattern)

	clock.Advance(200 * time.Millisecond)
	assertState(t, tr, "p1", StateIdle, true, SourcePattern)
	assert.Equal(t, 0, clock.armed())
}

func TestTracker_SpinnerKeepsProcessingUntilQuiet(t *testing.T) {
	tr, clock := newTestTracker(t)
	ch := register(t, tr, "p1", "/work")

	tr.ProcessOutput("p1", bannerChunk)
	tr.ProcessOutput("p1", workingChunk)
	drain(ch)

	for i := 0; i < 20; i++ {
		clock.Advance(100 * time.Millisecond)
		tr.ProcessOutput("p1", spinnerChunk)
	}
	assertState(t, tr, "p1", StateProcessing, true, SourcePattern)
	assert.Empty(t, drain(ch), "spinner frames never let the pane go idle")

	// Once the spinner stops, reversion counts from the last frame.
	clock.Advance(799 * time.Millisecond)
	assertState(t, tr, "p1", StateProcessing, true, SourcePattern)
	clock.Advance(time.Millisecond)
	assertState(t, tr, "p1", StateIdle, true, SourcePattern)

	events := drain(ch)
	require.Len(t, events, 1)
	assert.Equal(t, StateIdle, events[0].State)
}

func TestTracker_AgentPromptIsIdle(t *testing.T) {
	tr, _ := newTestTracker(t)
	register(t, tr, "p1", "/work")

	tr.ProcessOutput("p1", bannerChunk)
	tr.ProcessOutput("p1", "Done.\r\n")
	tr.ProcessOutput("p1", agentPrompt)

	assertState(t, tr, "p1", StateIdle, true, SourcePattern)
	assert.Equal(t, TimeoutNone, tr.sched.Pending("p1"))
}

func TestTracker_WaitingInputSurvivesTimers(t *testing.T) {
	tr, clock := newTestTracker(t)
	register(t, tr, "p1", "/work")

	tr.ProcessOutput("p1", bannerChunk)
	tr.ProcessOutput("p1", workingChunk)
	tr.ProcessOutput("p1", questionChunk)
	assertState(t, tr, "p1", StateWaiting, true, SourcePattern)

	// Redraws of the dialog do not change anything.
	tr.ProcessOutput("p1", "\x1b]633;A\x07")
	tr.ProcessOutput("p1", "  2. No")
	clock.Advance(5 * time.Second)
	assertState(t, tr, "p1", StateWaiting, true, SourcePattern)

	// Work resumes once the user answers.
	tr.ProcessOutput("p1", spinnerChunk)
	assertState(t, tr, "p1", StateProcessing, true, SourcePattern)
}

func TestTracker_ShellExitDeactivates(t *testing.T) {
	tr, _ := newTestTracker(t)
	register(t, tr, "p1", "/work")

	tr.ProcessOutput("p1", bannerChunk)
	tr.ProcessOutput("p1", "Goodbye!\r\n$ ")

	assertState(t, tr, "p1", StateIdle, false, SourcePattern)
}

func TestTracker_ShellIntegrationMarkers(t *testing.T) {
	tr, clock := newTestTracker(t)
	register(t, tr, "p1", "/work")

	tr.ProcessOutput("p1", bannerChunk)
	tr.ProcessOutput("p1", "\x1b]633;A\x07")
	assertState(t, tr, "p1", StateIdle, true, SourcePattern)

	tr.ProcessOutput("p1", "\x1b]633;C\x07")
	assertState(t, tr, "p1", StateProcessing, true, SourcePattern)

	tr.ProcessOutput("p1", "\x1b]633;D;0\x07")
	assert.Equal(t, TimeoutIdle, tr.sched.Pending("p1"))
	clock.Advance(DefaultIdleTimeout)
	assertState(t, tr, "p1", StateIdle, true, SourcePattern)
}

func TestTracker_InterruptForcesExitAfterTimeout(t *testing.T) {
	tr, clock := newTestTracker(t)
	ch := register(t, tr, "p1", "/work")

	tr.ProcessOutput("p1", bannerChunk)
	tr.ProcessOutput("p1", workingChunk)
	drain(ch)

	tr.NotifyInput("p1", "\x03")
	assert.Equal(t, TimeoutForcedExit, tr.sched.Pending("p1"), "interrupt replaces idle reversion")

	// Output other than a shell prompt is ignored while the exit is pending.
	tr.ProcessOutput("p1", "Interrupted by user\r\n")
	clock.Advance(1999 * time.Millisecond)
	assertState(t, tr, "p1", StateProcessing, true, SourcePattern)

	clock.Advance(time.Millisecond)
	assertState(t, tr, "p1", StateIdle, false, SourcePattern)

	events := drain(ch)
	require.Len(t, events, 1)
	assert.False(t, events[0].AgentActive)
}

func TestTracker_InterruptThenShellPrompt(t *testing.T) {
	tr, clock := newTestTracker(t)
	register(t, tr, "p1", "/work")

	tr.ProcessOutput("p1", bannerChunk)
	tr.NotifyInput("p1", "\x03")
	tr.ProcessOutput("p1", "^C\r\nuser@host app $ ")

	assertState(t, tr, "p1", StateIdle, false, SourcePattern)
	assert.Equal(t, TimeoutNone, tr.sched.Pending("p1"))
	assert.Equal(t, 0, tr.registry.sessions["p1"].Buffer.Len())

	clock.Advance(time.Minute)
	assertState(t, tr, "p1", StateIdle, false, SourcePattern)
}

func TestTracker_InterruptIgnoredWithoutAgent(t *testing.T) {
	tr, _ := newTestTracker(t)
	register(t, tr, "p1", "/work")

	tr.NotifyInput("p1", "\x03")
	assert.Equal(t, TimeoutNone, tr.sched.Pending("p1"))
	assert.False(t, tr.registry.sessions["p1"].PendingForcedExit)

	tr.ProcessOutput("p1", bannerChunk)
	tr.NotifyInput("p1", "ls -la\r")
	assert.False(t, tr.registry.sessions["p1"].PendingForcedExit)
}

func TestTracker_HookOverridesPatterns(t *testing.T) {
	tr, clock := newTestTracker(t)
	ch := register(t, tr, "p1", "/work/app")

	tr.ProcessOutput("p1", bannerChunk)
	tr.ProcessOutput("p1", questionChunk)
	assertState(t, tr, "p1", StateWaiting, true, SourcePattern)

	res, ok := tr.ApplyHook("/work/app", StateIdle, true)
	require.True(t, ok)
	assert.Equal(t, HookResult{SessionID: "p1", Tier: TierExactActive, Changed: true}, res)
	assertState(t, tr, "p1", StateIdle, true, SourceHooks)

	// Inside the priority window patterns are suppressed and not buffered.
	clock.Advance(4 * time.Second)
	tr.ProcessOutput("p1", spinnerChunk)
	assertState(t, tr, "p1", StateIdle, true, SourceHooks)
	assert.Equal(t, 0, tr.registry.sessions["p1"].Buffer.Len())

	// The window is over at exactly five seconds.
	clock.Advance(time.Second)
	tr.ProcessOutput("p1", spinnerChunk)
	assertState(t, tr, "p1", StateProcessing, true, SourcePattern)

	events := drain(ch)
	require.Len(t, events, 4)
	assert.Equal(t, []State{StateProcessing, StateWaiting, StateIdle, StateProcessing},
		[]State{events[0].State, events[1].State, events[2].State, events[3].State})
	assert.Equal(t, SourceHooks, events[2].Source)
}

func TestTracker_ShellExitBeatsHookPriority(t *testing.T) {
	tr, _ := newTestTracker(t)
	register(t, tr, "p1", "/work")

	tr.ProcessOutput("p1", bannerChunk)
	_, ok := tr.ApplyHook("/work", StateProcessing, true)
	require.True(t, ok)

	tr.ProcessOutput("p1", "bye\r\n$ ")
	assertState(t, tr, "p1", StateIdle, false, SourcePattern)
}

func TestTracker_HookWithSameStateStampsPriority(t *testing.T) {
	tr, _ := newTestTracker(t)
	ch := register(t, tr, "p1", "/work")

	tr.ProcessOutput("p1", bannerChunk)
	drain(ch)

	res, ok := tr.ApplyHook("/work", StateProcessing, true)
	require.True(t, ok)
	assert.False(t, res.Changed)
	assert.Empty(t, drain(ch), "no notification without a change")

	info := tr.GetState("p1")
	assert.Equal(t, SourceHooks, info.Source)
	assert.False(t, tr.registry.sessions["p1"].LastHookUpdateAt.IsZero())
}

func TestTracker_HookCancelsPendingTimers(t *testing.T) {
	tr, clock := newTestTracker(t)
	register(t, tr, "p1", "/work")

	tr.ProcessOutput("p1", bannerChunk)
	tr.NotifyInput("p1", "\x03")
	require.Equal(t, TimeoutForcedExit, tr.sched.Pending("p1"))

	_, ok := tr.ApplyHook("/work", StateProcessing, true)
	require.True(t, ok)
	assert.Equal(t, TimeoutNone, tr.sched.Pending("p1"))
	assert.False(t, tr.registry.sessions["p1"].PendingForcedExit)

	clock.Advance(time.Minute)
	assertState(t, tr, "p1", StateProcessing, true, SourceHooks)
}

func TestTracker_HookEndsAgent(t *testing.T) {
	tr, _ := newTestTracker(t)
	register(t, tr, "p1", "/work")
	tr.ProcessOutput("p1", bannerChunk)

	_, ok := tr.ApplyHook("/work", StateIdle, false)
	require.True(t, ok)
	assertState(t, tr, "p1", StateIdle, false, SourceHooks)
}

func TestTracker_HookFromSubdirectoryAdoptsCwd(t *testing.T) {
	tr, _ := newTestTracker(t)
	register(t, tr, "p1", "/work/app")

	res, ok := tr.ApplyHook("/work/app/cmd/", StateProcessing, true)
	require.True(t, ok)
	assert.Equal(t, TierPrefix, res.Tier)

	info := tr.GetState("p1")
	assert.Equal(t, "/work/app/cmd", info.WorkingDirectory)
	assert.Equal(t, StateProcessing, info.State)
	assert.True(t, info.AgentActive)
}

func TestTracker_HookUnresolved(t *testing.T) {
	tr, clock := newTestTracker(t)

	_, ok := tr.ApplyHook("/work", StateProcessing, true)
	assert.False(t, ok)

	register(t, tr, "p1", "/elsewhere")
	clock.Advance(time.Minute)

	res, ok := tr.ApplyHook("/work", StateProcessing, true)
	assert.False(t, ok)
	assert.Equal(t, TierNone, res.Tier)
	assertState(t, tr, "p1", StateIdle, false, SourceInitial)

	_, ok = tr.ApplyHook("", StateProcessing, true)
	assert.False(t, ok)
}

func TestTracker_HookRecentFallback(t *testing.T) {
	tr, clock := newTestTracker(t)
	register(t, tr, "p1", "/a")
	register(t, tr, "p2", "/b")

	clock.Advance(10 * time.Second)
	tr.ProcessOutput("p2", "make\r\n")

	res, ok := tr.ApplyHook("/unrelated", StateProcessing, true)
	require.True(t, ok)
	assert.Equal(t, "p2", res.SessionID)
	assert.Equal(t, TierRecent, res.Tier)
}

func TestTracker_NoDuplicateNotifications(t *testing.T) {
	tr, _ := newTestTracker(t)
	ch := register(t, tr, "p1", "/work")

	tr.ProcessOutput("p1", bannerChunk)
	tr.ProcessOutput("p1", spinnerChunk)
	tr.ProcessOutput("p1", bannerChunk)
	tr.ProcessOutput("p1", "\x1b]633;C\x07")

	events := drain(ch)
	require.Len(t, events, 1)
	assert.Equal(t, StateProcessing, events[0].State)
}

func TestTracker_BufferStaysBounded(t *testing.T) {
	tr, _ := newTestTracker(t)
	register(t, tr, "p1", "/work")
	tr.ProcessOutput("p1", bannerChunk)

	line := strings.Repeat("x", 333) + "\r\n"
	for i := 0; i < 20; i++ {
		tr.ProcessOutput("p1", line)
		assert.LessOrEqual(t, tr.registry.sessions["p1"].Buffer.Len(), DefaultBufferCap)
	}
	assert.Equal(t, DefaultBufferCap, tr.registry.sessions["p1"].Buffer.Len())
}

func TestTracker_DestroyCancelsEverything(t *testing.T) {
	tr, clock := newTestTracker(t)
	ch := register(t, tr, "p1", "/work")
	_, all, _ := tr.SubscribeAll()

	tr.ProcessOutput("p1", bannerChunk)
	tr.ProcessOutput("p1", workingChunk)
	drain(ch)
	<-all

	require.True(t, tr.Destroy("p1"))
	assert.Equal(t, 0, clock.armed())

	_, open := <-ch
	assert.False(t, open, "session subscriber is closed on destroy")

	clock.Advance(time.Minute)
	assert.Empty(t, drain(all))
	assert.Equal(t, DefaultInfo("p1"), tr.GetState("p1"))

	_, _, history := tr.SubscribeAll()
	assert.Empty(t, history)
}

func TestTracker_SubscribeAllReplaysHistory(t *testing.T) {
	tr, _ := newTestTracker(t)
	register(t, tr, "p1", "/a")
	register(t, tr, "p2", "/b")

	tr.ProcessOutput("p1", bannerChunk)
	tr.ProcessOutput("p2", bannerChunk)

	subID, ch, history := tr.SubscribeAll()
	require.Len(t, history, 2)
	assert.Equal(t, "p1", history[0].SessionID)
	assert.Equal(t, "p2", history[1].SessionID)

	tr.ProcessOutput("p1", agentPrompt)
	ev := <-ch
	assert.Equal(t, "p1", ev.SessionID)
	assert.Equal(t, StateIdle, ev.State)

	tr.Unsubscribe(subID)
	_, open := <-ch
	assert.False(t, open)
}

func TestTracker_ReregisterDropsOldHistory(t *testing.T) {
	tr, _ := newTestTracker(t)
	register(t, tr, "p1", "/a")
	register(t, tr, "p2", "/b")

	tr.ProcessOutput("p1", bannerChunk)
	tr.ProcessOutput("p2", bannerChunk)

	_, err := tr.Register("p1", "/a")
	require.NoError(t, err)
	assertState(t, tr, "p1", StateIdle, false, SourceInitial)

	_, _, history := tr.SubscribeAll()
	require.Len(t, history, 1)
	assert.Equal(t, "p2", history[0].SessionID)
}

func TestTracker_ResubscribeReplacesSlot(t *testing.T) {
	tr, _ := newTestTracker(t)
	first := register(t, tr, "p1", "/a")

	second, err := tr.Subscribe("p1")
	require.NoError(t, err)

	_, open := <-first
	assert.False(t, open)

	tr.ProcessOutput("p1", bannerChunk)
	assert.Len(t, drain(second), 1)
}

func TestTracker_ListAndCwd(t *testing.T) {
	tr, _ := newTestTracker(t)
	register(t, tr, "p1", "/a")
	register(t, tr, "p2", "/b")

	assert.True(t, tr.UpdateWorkingDirectory("p2", "/c"))

	list := tr.List()
	require.Len(t, list, 2)
	assert.Equal(t, "p1", list[0].SessionID)
	assert.Equal(t, "/c", list[1].WorkingDirectory)
}

func TestTracker_CloseRejectsRegister(t *testing.T) {
	tr, clock := newTestTracker(t)
	register(t, tr, "p1", "/a")
	tr.ProcessOutput("p1", bannerChunk)
	tr.ProcessOutput("p1", workingChunk)

	tr.Close()
	assert.Equal(t, 0, clock.armed())
	assert.Empty(t, tr.List())

	_, err := tr.Register("p2", "/b")
	assert.ErrorIs(t, err, ErrClosed)

	_, ch, _ := tr.SubscribeAll()
	_, open := <-ch
	assert.False(t, open)
}
