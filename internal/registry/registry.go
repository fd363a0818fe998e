// Package registry owns the set of live sessions and matches joining
// players into them.
package registry

import (
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/siohaza/dogfight/internal/callbacks"
	"github.com/siohaza/dogfight/internal/protocol"
	"github.com/siohaza/dogfight/internal/scheduler"
	"github.com/siohaza/dogfight/internal/session"
	"github.com/siohaza/dogfight/internal/telemetry"
	"github.com/siohaza/dogfight/internal/validation"
)

type Options struct {
	Clock     func() time.Time
	Rand      *rand.Rand
	NewID     func() string
	Publisher session.Publisher
	Callbacks callbacks.Callbacks
	Metrics   *telemetry.Metrics
	Logger    *slog.Logger
}

// Registry is not safe for concurrent use; like the sessions it holds, it
// belongs to one goroutine.
type Registry struct {
	cfg      session.Config
	sessions map[string]*session.Session
	order    []string
	sched    *scheduler.Scheduler
	opts     Options
	logger   *slog.Logger
}

func New(cfg session.Config, sweepInterval time.Duration, opts Options) *Registry {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return uuid.NewString() }
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	r := &Registry{
		cfg:      cfg,
		sessions: make(map[string]*session.Session),
		sched:    scheduler.New(opts.Clock),
		opts:     opts,
		logger:   opts.Logger,
	}
	r.sched.Every("sweep", sweepInterval, func(time.Time) { r.Sweep() })
	return r
}

// FindOrCreate returns the oldest open session, creating and starting a new
// one when none has room.
func (r *Registry) FindOrCreate() *session.Session {
	for _, id := range r.order {
		s := r.sessions[id]
		if s.IsOpen() {
			return s
		}
	}
	return r.create()
}

func (r *Registry) create() *session.Session {
	id := r.opts.NewID()
	s := session.New(id, r.cfg, session.Options{
		Clock:     r.opts.Clock,
		Rand:      rand.New(rand.NewSource(r.opts.Rand.Int63())),
		Publisher: r.opts.Publisher,
		Callbacks: r.opts.Callbacks,
		Metrics:   r.opts.Metrics,
		Logger:    r.logger,
	})
	s.Start()

	r.sessions[id] = s
	r.order = append(r.order, id)
	r.opts.Metrics.SessionCreated()
	r.logger.Info("session created", "session", id, "sessions", len(r.sessions))
	return s
}

// Join validates the name and places the player into a session.
func (r *Registry) Join(playerID, name string) (*session.Session, protocol.PlayerState, error) {
	if _, err := validation.Username(name, r.cfg.Limits); err != nil {
		return nil, protocol.PlayerState{}, fmt.Errorf("%w: %w", session.ErrInvalidName, err)
	}

	s := r.FindOrCreate()
	state, err := s.AddPlayer(playerID, name)
	if err != nil {
		return nil, protocol.PlayerState{}, err
	}
	return s, state, nil
}

func (r *Registry) Get(id string) (*session.Session, bool) {
	s, ok := r.sessions[id]
	return s, ok
}

// Remove closes the session and forgets it. Unknown ids are a no-op.
func (r *Registry) Remove(id string) bool {
	return r.remove(id, "removed")
}

func (r *Registry) remove(id, reason string) bool {
	s, ok := r.sessions[id]
	if !ok {
		return false
	}

	s.Close()
	delete(r.sessions, id)
	for i, sid := range r.order {
		if sid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}

	r.opts.Metrics.SessionRemoved(reason)
	r.logger.Info("session removed", "session", id, "reason", reason, "sessions", len(r.sessions))
	return true
}

// Sweep removes every session that is empty or past its match duration.
// Expired sessions are ended first so members learn the result.
func (r *Registry) Sweep() int {
	removed := 0
	for _, id := range r.ids() {
		s := r.sessions[id]
		switch {
		case s.PlayerCount() == 0:
			if r.remove(id, "empty") {
				removed++
			}
		case s.IsEnded():
			s.End()
			if r.remove(id, "expired") {
				removed++
			}
		}
	}
	return removed
}

// Update runs every due session timer and the registry sweep.
func (r *Registry) Update(now time.Time) int {
	fired := 0
	for _, id := range r.ids() {
		if s, ok := r.sessions[id]; ok {
			fired += s.Update(now)
		}
	}
	return fired + r.sched.Update(now)
}

// Close removes every session and stops the sweep.
func (r *Registry) Close() {
	for _, id := range r.ids() {
		r.remove(id, "shutdown")
	}
	r.sched.Stop()
}

func (r *Registry) Len() int {
	return len(r.sessions)
}

func (r *Registry) PlayerCount() int {
	n := 0
	for _, s := range r.sessions {
		n += s.PlayerCount()
	}
	return n
}

// Sessions returns the live sessions in creation order.
func (r *Registry) Sessions() []*session.Session {
	out := make([]*session.Session, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.sessions[id])
	}
	return out
}

func (r *Registry) ids() []string {
	return append([]string(nil), r.order...)
}
