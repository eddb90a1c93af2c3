package session

import (
	"sync"
	"time"
)

// TimeoutKind identifies what a scheduled action is for.
type TimeoutKind int

const (
	TimeoutNone TimeoutKind = iota
	TimeoutIdle
	TimeoutForcedExit
)

func (k TimeoutKind) String() string {
	switch k {
	case TimeoutIdle:
		return "idle-reversion"
	case TimeoutForcedExit:
		return "forced-exit"
	}
	return "none"
}

type slot struct {
	kind  TimeoutKind
	timer Timer
	seq   uint64
}

// Scheduler keeps at most one pending delayed action per key.
//
// Reschedule, Cancel and Pending must be called with lock held. Actions run
// with lock held, and an action whose slot was replaced or cancelled after
// its timer fired is dropped.
type Scheduler struct {
	clock Clock
	lock  sync.Locker
	slots map[string]*slot
	seq   uint64
}

// NewScheduler creates a scheduler that serializes actions through lock.
func NewScheduler(clock Clock, lock sync.Locker) *Scheduler {
	return &Scheduler{
		clock: clock,
		lock:  lock,
		slots: make(map[string]*slot),
	}
}

// Reschedule cancels any pending action for key and arms a new one.
func (s *Scheduler) Reschedule(key string, kind TimeoutKind, d time.Duration, action func()) {
	s.Cancel(key)

	s.seq++
	seq := s.seq
	sl := &slot{kind: kind, seq: seq}
	s.slots[key] = sl
	sl.timer = s.clock.AfterFunc(d, func() {
		s.lock.Lock()
		defer s.lock.Unlock()

		cur, ok := s.slots[key]
		if !ok || cur.seq != seq {
			return
		}
		delete(s.slots, key)
		action()
	})
}

// Cancel stops the pending action for key, if any.
func (s *Scheduler) Cancel(key string) {
	if sl, ok := s.slots[key]; ok {
		sl.timer.Stop()
		delete(s.slots, key)
	}
}

// Pending reports the kind of the action currently armed for key.
func (s *Scheduler) Pending(key string) TimeoutKind {
	if sl, ok := s.slots[key]; ok {
		return sl.kind
	}
	return TimeoutNone
}

// CancelAll stops every pending action.
func (s *Scheduler) CancelAll() {
	for key := range s.slots {
		s.Cancel(key)
	}
}
