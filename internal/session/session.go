// Package session implements a single match: its players, capture sites,
// scores and timers.
//
// A Session is not safe for concurrent use. Every method, including the
// timer callbacks run from Update, must be called from the goroutine that
// owns the session.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/siohaza/dogfight/internal/callbacks"
	"github.com/siohaza/dogfight/internal/capture"
	"github.com/siohaza/dogfight/internal/combat"
	"github.com/siohaza/dogfight/internal/player"
	"github.com/siohaza/dogfight/internal/protocol"
	"github.com/siohaza/dogfight/internal/scheduler"
	"github.com/siohaza/dogfight/internal/telemetry"
	"github.com/siohaza/dogfight/internal/validation"
)

var (
	ErrInvalidName     = errors.New("invalid name")
	ErrInvalidChat     = errors.New("invalid chat message")
	ErrChatRejected    = errors.New("chat message rejected")
	ErrUnknownPlayer   = errors.New("unknown player")
	ErrSessionFull     = errors.New("session is full")
	ErrSessionEnded    = errors.New("session has ended")
	ErrDuplicatePlayer = errors.New("player already in session")
)

// Publisher delivers outbound events to the members of a session.
type Publisher interface {
	Publish(sessionID string, ev protocol.Event)
}

type PublisherFunc func(sessionID string, ev protocol.Event)

func (f PublisherFunc) Publish(sessionID string, ev protocol.Event) {
	f(sessionID, ev)
}

type Options struct {
	Clock     func() time.Time
	Rand      *rand.Rand
	Publisher Publisher
	Callbacks callbacks.Callbacks
	Metrics   *telemetry.Metrics
	Logger    *slog.Logger
}

type Session struct {
	id        string
	cfg       Config
	status    protocol.SessionStatus
	startTime time.Time

	players *player.Manager
	rosters [2]map[string]struct{}
	scores  protocol.Scores
	sites   []*capture.Site

	sched    *scheduler.Scheduler
	resolver *combat.Resolver
	clock    func() time.Time
	rng      *rand.Rand

	publisher Publisher
	hooks     callbacks.Callbacks
	metrics   *telemetry.Metrics
	logger    *slog.Logger
}

func New(id string, cfg Config, opts Options) *Session {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if opts.Publisher == nil {
		opts.Publisher = PublisherFunc(func(string, protocol.Event) {})
	}
	if opts.Callbacks == nil {
		opts.Callbacks = &callbacks.DefaultCallbacks{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Session{
		id:        id,
		cfg:       cfg,
		status:    protocol.StatusWaiting,
		startTime: opts.Clock(),
		players:   player.NewManager(),
		rosters:   [2]map[string]struct{}{make(map[string]struct{}), make(map[string]struct{})},
		sites:     capture.NewSites(cfg.Sites),
		sched:     scheduler.New(opts.Clock),
		resolver:  combat.NewResolver(cfg.combatRules()),
		clock:     opts.Clock,
		rng:       opts.Rand,
		publisher: opts.Publisher,
		hooks:     opts.Callbacks,
		metrics:   opts.Metrics,
		logger:    opts.Logger.With("session", id),
	}
}

// Start schedules the capture tick, the scoring tick and the end of match.
func (s *Session) Start() {
	s.sched.Every("capture", s.cfg.CaptureTick, func(time.Time) { s.CaptureTick() })
	s.sched.Every("score", s.cfg.ScoreInterval, func(time.Time) { s.ScoreTick() })
	s.sched.After("match_end", s.cfg.MatchDuration, func(time.Time) { s.End() })
}

// Update runs every session timer that is due at now.
func (s *Session) Update(now time.Time) int {
	return s.sched.Update(now)
}

// Close cancels all timers. The session must not be used afterwards.
func (s *Session) Close() {
	s.sched.Stop()
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Status() protocol.SessionStatus {
	if s.status != protocol.StatusEnded && s.IsEnded() {
		return protocol.StatusEnded
	}
	return s.status
}

func (s *Session) PlayerCount() int {
	return s.players.Count()
}

func (s *Session) HasPlayer(id string) bool {
	return s.players.Contains(id)
}

// PlayerIDs returns the member ids in id order.
func (s *Session) PlayerIDs() []string {
	records := s.players.GetAll()
	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}
	return ids
}

func (s *Session) Scores() protocol.Scores {
	return s.scores
}

// IsEnded reports whether the match duration has elapsed.
func (s *Session) IsEnded() bool {
	return s.clock().Sub(s.startTime) >= s.cfg.MatchDuration
}

// IsOpen reports whether a new player may be matched into this session.
func (s *Session) IsOpen() bool {
	return s.Status() == protocol.StatusWaiting && s.players.Count() < s.cfg.Capacity
}

func (s *Session) TimeRemaining() time.Duration {
	remaining := s.cfg.MatchDuration - s.clock().Sub(s.startTime)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// AddPlayer places a new player on the smaller team, Red on a tie, at a
// spawn point for that team.
func (s *Session) AddPlayer(id, name string) (protocol.PlayerState, error) {
	name, err := validation.Username(name, s.cfg.Limits)
	if err != nil {
		return protocol.PlayerState{}, fmt.Errorf("%w: %w", ErrInvalidName, err)
	}
	if s.Status() == protocol.StatusEnded {
		return protocol.PlayerState{}, ErrSessionEnded
	}
	if s.players.Contains(id) {
		return protocol.PlayerState{}, fmt.Errorf("%w: %s", ErrDuplicatePlayer, id)
	}
	if s.players.Count() >= s.cfg.Capacity {
		return protocol.PlayerState{}, ErrSessionFull
	}

	team := s.nextTeam()
	rec := player.New(id, name, team, s.SpawnFor(team), s.cfg.MaxHealth, s.cfg.MaxEnergy, s.clock())
	s.players.Add(rec)
	s.rosters[team][id] = struct{}{}

	if s.players.Count() >= s.cfg.Capacity {
		s.status = protocol.StatusPlaying
	}

	state := rec.State()
	s.logger.Info("player joined", "player", id, "name", name, "team", team)
	s.metrics.PlayerJoined(team)

	s.publish(protocol.Direct(protocol.MsgSessionJoined, protocol.SessionJoined{
		Player:   state,
		Snapshot: s.Snapshot(),
	}, id))
	s.publish(protocol.BroadcastExcept(protocol.MsgPlayerJoined, state, id))
	s.hooks.OnPlayerJoin(s.id, state)

	return state, nil
}

func (s *Session) nextTeam() protocol.Team {
	if len(s.rosters[protocol.TeamRed]) <= len(s.rosters[protocol.TeamBlue]) {
		return protocol.TeamRed
	}
	return protocol.TeamBlue
}

// TeamSize returns the roster size of team.
func (s *Session) TeamSize(team protocol.Team) int {
	if !team.Valid() {
		return 0
	}
	return len(s.rosters[team])
}

// SpawnFor returns the team base perturbed by a bounded planar offset.
func (s *Session) SpawnFor(team protocol.Team) protocol.Vector3 {
	base := s.cfg.spawnBase(team)
	j := s.cfg.SpawnJitter
	if j <= 0 {
		return base
	}
	base.X += (s.rng.Float64()*2 - 1) * j
	base.Z += (s.rng.Float64()*2 - 1) * j
	return base
}

// RemovePlayer drops the player from the session. Unknown ids are a no-op.
func (s *Session) RemovePlayer(id string) bool {
	rec, ok := s.players.Remove(id)
	if !ok {
		return false
	}
	delete(s.rosters[rec.Team], id)

	if s.status == protocol.StatusPlaying && s.players.Count() < s.cfg.Capacity {
		s.status = protocol.StatusWaiting
	}

	s.logger.Info("player left", "player", id, "remaining", s.players.Count())
	s.publish(protocol.Broadcast(protocol.MsgPlayerLeft, protocol.PlayerLeft{ID: id}))
	s.hooks.OnPlayerLeave(s.id, rec.State())
	return true
}

// UpdatePosition validates and commits a movement update. Updates with a
// non-finite x or z are dropped. A planar jump longer than the configured
// maximum is clamped to that distance along the same heading and recorded
// as a violation.
func (s *Session) UpdatePosition(id string, pos, rot protocol.Vector3, energy *float64) bool {
	rec, ok := s.players.Get(id)
	if !ok {
		return false
	}
	if s.Status() == protocol.StatusEnded {
		return false
	}
	if !validation.IsValidPosition(pos) {
		return false
	}

	if !validation.IsFinite(pos.Y) {
		pos.Y = rec.Position.Y
	}
	if !validation.IsValidRotation(rot) {
		rot = rec.Rotation
	}
	if energy != nil && !validation.IsFinite(*energy) {
		energy = nil
	}

	if rec.LastPosition != nil {
		last := *rec.LastPosition
		if d := last.PlanarDistance(pos); d > s.cfg.MaxDisplacement {
			pos = clampDisplacement(last, pos, d, s.cfg.MaxDisplacement)
			rec.Violations++
			s.metrics.Violation()
			s.logger.Warn("displacement over limit, clamped",
				"player", id,
				"distance", d,
				"max", s.cfg.MaxDisplacement,
				"violations", rec.Violations)
		}
	}

	rec.Move(pos, rot, energy, s.cfg.MaxEnergy, s.clock())

	s.publish(protocol.BroadcastExcept(protocol.MsgPlayerMoved, protocol.PlayerMoved{
		ID:       id,
		Position: rec.Position,
		Rotation: rec.Rotation,
		Energy:   rec.Energy,
	}, id))
	return true
}

func clampDisplacement(from, to protocol.Vector3, dist, limit float64) protocol.Vector3 {
	scale := limit / dist
	if math.IsNaN(scale) || math.IsInf(scale, 0) {
		return from
	}
	out := protocol.Vector3{
		X: from.X + (to.X-from.X)*scale,
		Y: to.Y,
		Z: from.Z + (to.Z-from.Z)*scale,
	}
	if !out.PlanarFinite() {
		return from
	}
	return out
}

// HandleHit resolves a hit and reports whether it killed the target.
// A kill schedules the target's respawn.
func (s *Session) HandleHit(attackerID, targetID string, damage float64) bool {
	if s.Status() == protocol.StatusEnded {
		return false
	}

	out := s.resolver.Hit(s.players, &s.scores, attackerID, targetID, damage)
	if !out.Applied {
		return false
	}

	s.metrics.Hit(out.Team, out.Killed)
	s.publish(protocol.Broadcast(protocol.MsgCombatResult, protocol.CombatResult{
		AttackerID:    attackerID,
		TargetID:      targetID,
		Damage:        out.Damage,
		Killed:        out.Killed,
		Scores:        s.scores,
		TimeRemaining: s.TimeRemaining().Seconds(),
	}))

	if !out.Killed {
		return false
	}

	s.logger.Info("player killed", "attacker", attackerID, "target", targetID, "assists", len(out.Assists))
	s.sched.After("respawn:"+targetID, s.cfg.RespawnDelay, func(time.Time) {
		s.Respawn(targetID)
	})

	attacker, _ := s.players.Get(attackerID)
	target, _ := s.players.Get(targetID)
	s.hooks.OnPlayerKill(s.id, attacker.State(), target.State())
	return true
}

// Respawn restores a player at a fresh spawn point. The player may have
// left while the respawn was pending, in which case nothing happens.
func (s *Session) Respawn(id string) bool {
	rec, ok := s.players.Get(id)
	if !ok {
		s.logger.Debug("respawn for departed player ignored", "player", id)
		return false
	}

	rec.Respawn(s.SpawnFor(rec.Team), s.cfg.MaxHealth, s.cfg.MaxEnergy)

	state := rec.State()
	s.publish(protocol.Broadcast(protocol.MsgPlayerRespawned, protocol.PlayerRespawned{Player: state}))
	s.hooks.OnPlayerRespawn(s.id, state)
	return true
}

// CaptureTick advances every capture site by one tick interval.
func (s *Session) CaptureTick() {
	occupants := make([]capture.Occupant, 0, s.players.Count())
	s.players.ForEach(func(r *player.Record) {
		occupants = append(occupants, capture.Occupant{Team: r.Team, Position: r.Position})
	})

	res := capture.Tick(s.sites, occupants, s.cfg.Capture, s.cfg.CaptureTick.Seconds())

	for _, site := range res.Captured {
		team := *site.Owner
		s.logger.Info("site captured", "site", site.ID, "team", team)
		s.metrics.Captured(team)
		s.hooks.OnSiteCaptured(s.id, site.State(), team)
	}

	if len(res.Changed) > 0 {
		s.publish(protocol.Broadcast(protocol.MsgCaptureUpdate, protocol.CaptureUpdate{
			Sites: capture.States(res.Changed),
		}))
	}
}

// ScoreTick awards one point per owned site to its owner.
func (s *Session) ScoreTick() {
	if capture.Score(s.sites, &s.scores) == 0 {
		return
	}
	s.publish(protocol.Broadcast(protocol.MsgScoreUpdate, protocol.ScoreUpdate{Scores: s.scores}))
}

// AddScore adjusts a team score outside of combat and capture.
func (s *Session) AddScore(team protocol.Team, points int) bool {
	if !team.Valid() || s.scores.Get(team)+points < 0 {
		return false
	}
	s.scores.Add(team, points)
	s.publish(protocol.Broadcast(protocol.MsgScoreUpdate, protocol.ScoreUpdate{Scores: s.scores}))
	return true
}

// Chat validates a message from a member and relays it to the others.
// It returns the sanitized text.
func (s *Session) Chat(id, text string) (string, error) {
	rec, ok := s.players.Get(id)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownPlayer, id)
	}

	clean, err := validation.ChatMessage(text, s.cfg.Limits)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidChat, err)
	}

	state := rec.State()
	if !s.hooks.OnChatMessage(s.id, state, clean) {
		return "", ErrChatRejected
	}

	s.publish(protocol.BroadcastExcept(protocol.MsgChatMessage, protocol.ChatMessage{
		ID:      id,
		Name:    rec.Name,
		Team:    protocol.TeamPtr(rec.Team),
		Message: clean,
	}, id))
	return clean, nil
}

// SystemChat sends a server notice to every member.
func (s *Session) SystemChat(text string) {
	s.publish(protocol.Broadcast(protocol.MsgChatMessage, protocol.ChatMessage{
		Name:    "server",
		Message: text,
	}))
}

// End finishes the match, announces the result and stops all timers.
// Calling End again has no effect.
func (s *Session) End() {
	if s.status == protocol.StatusEnded {
		return
	}
	s.status = protocol.StatusEnded
	s.sched.Stop()

	var winner *protocol.Team
	if team, ok := s.scores.Leader(); ok {
		winner = protocol.TeamPtr(team)
	}

	s.logger.Info("match ended", "red", s.scores.Red, "blue", s.scores.Blue, "players", s.players.Count())
	s.publish(protocol.Broadcast(protocol.MsgMatchEnded, protocol.MatchEnded{
		Scores: s.scores,
		Winner: winner,
	}))
	s.hooks.OnMatchEnd(s.id, s.scores, winner)
}

// Player returns a copy of the player's current state.
func (s *Session) Player(id string) (protocol.PlayerState, bool) {
	rec, ok := s.players.Get(id)
	if !ok {
		return protocol.PlayerState{}, false
	}
	return rec.State(), true
}

// Snapshot returns a value copy of the whole match state.
func (s *Session) Snapshot() protocol.SessionSnapshot {
	records := s.players.GetAll()
	players := make([]protocol.PlayerState, len(records))
	for i, r := range records {
		players[i] = r.State()
	}

	return protocol.SessionSnapshot{
		ID:            s.id,
		Status:        s.Status(),
		Players:       players,
		Scores:        s.scores,
		TimeRemaining: s.TimeRemaining().Seconds(),
		Sites:         capture.States(s.sites),
	}
}

// PendingTimers lists the names of the scheduled timers.
func (s *Session) PendingTimers() []string {
	return s.sched.Pending()
}

func (s *Session) publish(ev protocol.Event) {
	s.publisher.Publish(s.id, ev)
}
