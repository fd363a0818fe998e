// Package scheduler provides polled timers owned by a single component.
//
// Timers never fire on their own goroutine. The owner calls Update with the
// current time and every due callback runs synchronously on the caller, so
// callbacks see the same single-writer guarantees as message handlers.
package scheduler

import (
	"sort"
	"sync"
	"time"
)

// Handle identifies a scheduled timer. The zero Handle is never issued.
type Handle uint64

type Func func(now time.Time)

type timer struct {
	id       Handle
	name     string
	interval time.Duration
	repeat   bool
	nextRun  time.Time
	fn       Func
}

type Scheduler struct {
	mu      sync.Mutex
	timers  map[Handle]*timer
	nextID  Handle
	clock   func() time.Time
	stopped bool
}

// New creates a scheduler. A nil clock uses time.Now.
func New(clock func() time.Time) *Scheduler {
	if clock == nil {
		clock = time.Now
	}
	return &Scheduler{
		timers: make(map[Handle]*timer),
		clock:  clock,
	}
}

// After runs fn once, d after now.
func (s *Scheduler) After(name string, d time.Duration, fn Func) Handle {
	return s.add(name, d, false, fn)
}

// Every runs fn each interval, starting one interval after now.
func (s *Scheduler) Every(name string, interval time.Duration, fn Func) Handle {
	if interval <= 0 {
		return 0
	}
	return s.add(name, interval, true, fn)
}

func (s *Scheduler) add(name string, d time.Duration, repeat bool, fn Func) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped || fn == nil {
		return 0
	}

	s.nextID++
	t := &timer{
		id:       s.nextID,
		name:     name,
		interval: d,
		repeat:   repeat,
		nextRun:  s.clock().Add(d),
		fn:       fn,
	}
	s.timers[t.id] = t
	return t.id
}

// Cancel removes the timer and reports whether it was still pending.
func (s *Scheduler) Cancel(h Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.timers[h]; !ok {
		return false
	}
	delete(s.timers, h)
	return true
}

// Stop cancels every timer. Later After/Every calls are ignored.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	s.timers = make(map[Handle]*timer)
}

func (s *Scheduler) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Pending returns the names of all scheduled timers, ordered by next run.
func (s *Scheduler) Pending() []string {
	s.mu.Lock()
	due := s.sorted(func(*timer) bool { return true })
	s.mu.Unlock()

	names := make([]string, len(due))
	for i, t := range due {
		names[i] = t.name
	}
	return names
}

// Update runs every timer due at now and returns how many fired.
// Due timers run in order of their scheduled time, then creation order.
// A repeating timer fires at most once per Update.
func (s *Scheduler) Update(now time.Time) int {
	s.mu.Lock()
	due := s.sorted(func(t *timer) bool { return !now.Before(t.nextRun) })
	for _, t := range due {
		if !t.repeat {
			continue
		}
		t.nextRun = t.nextRun.Add(t.interval)
		if !now.Before(t.nextRun) {
			t.nextRun = now.Add(t.interval)
		}
	}
	s.mu.Unlock()

	fired := 0
	for _, t := range due {
		// an earlier callback may have cancelled this one
		if !s.claim(t) {
			continue
		}
		t.fn(now)
		fired++
	}
	return fired
}

func (s *Scheduler) claim(t *timer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.timers[t.id]; !ok {
		return false
	}
	if !t.repeat {
		delete(s.timers, t.id)
	}
	return true
}

func (s *Scheduler) sorted(keep func(*timer) bool) []*timer {
	var out []*timer
	for _, t := range s.timers {
		if keep(t) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].nextRun.Equal(out[j].nextRun) {
			return out[i].nextRun.Before(out[j].nextRun)
		}
		return out[i].id < out[j].id
	})
	return out
}
