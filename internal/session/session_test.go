package session

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siohaza/dogfight/internal/callbacks"
	"github.com/siohaza/dogfight/internal/capture"
	"github.com/siohaza/dogfight/internal/protocol"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) time.Time {
	c.now = c.now.Add(d)
	return c.now
}

type recorder struct {
	events []protocol.Event
}

func (r *recorder) Publish(sessionID string, ev protocol.Event) {
	r.events = append(r.events, ev)
}

func (r *recorder) ofType(msgType string) []protocol.Event {
	var out []protocol.Event
	for _, ev := range r.events {
		if ev.Type == msgType {
			out = append(out, ev)
		}
	}
	return out
}

type harness struct {
	s     *Session
	clock *fakeClock
	pub   *recorder
}

func newHarness(t *testing.T, mutate func(*Config), hooks callbacks.Callbacks) *harness {
	t.Helper()

	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	clock := &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	pub := &recorder{}
	s := New("s1", cfg, Options{
		Clock:     clock.Now,
		Rand:      rand.New(rand.NewSource(1)),
		Publisher: pub,
		Callbacks: hooks,
	})
	s.Start()

	return &harness{s: s, clock: clock, pub: pub}
}

// tick advances the clock in capture-tick steps, running timers each step.
func (h *harness) tick(n int) {
	for range n {
		h.s.Update(h.clock.Advance(h.s.cfg.CaptureTick))
	}
}

func (h *harness) join(t *testing.T, id string) protocol.PlayerState {
	t.Helper()
	state, err := h.s.AddPlayer(id, "pilot "+id)
	require.NoError(t, err)
	return state
}

func (h *harness) record(t *testing.T, id string) protocol.PlayerState {
	t.Helper()
	state, ok := h.s.Player(id)
	require.True(t, ok)
	return state
}

func TestTeamAssignment(t *testing.T) {
	h := newHarness(t, nil, nil)

	var teams []protocol.Team
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		teams = append(teams, h.join(t, id).Team)
	}
	assert.Equal(t, []protocol.Team{
		protocol.TeamRed, protocol.TeamBlue, protocol.TeamRed, protocol.TeamBlue, protocol.TeamRed,
	}, teams)

	require.True(t, h.s.RemovePlayer("b"))
	require.True(t, h.s.RemovePlayer("d"))
	assert.Equal(t, protocol.TeamBlue, h.join(t, "f").Team)

	assert.Equal(t, 3, h.s.TeamSize(protocol.TeamRed))
	assert.Equal(t, 1, h.s.TeamSize(protocol.TeamBlue))
}

func TestSpawnNearTeamBase(t *testing.T) {
	h := newHarness(t, nil, nil)
	cfg := h.s.cfg

	for i := range 10 {
		state := h.join(t, string(rune('a'+i)))
		base := cfg.spawnBase(state.Team)
		assert.LessOrEqual(t, math.Abs(state.Position.X-base.X), cfg.SpawnJitter)
		assert.LessOrEqual(t, math.Abs(state.Position.Z-base.Z), cfg.SpawnJitter)
		assert.Equal(t, base.Y, state.Position.Y)
		assert.Equal(t, cfg.MaxHealth, state.Health)
		assert.Equal(t, cfg.MaxEnergy, state.Energy)
	}
}

func TestStatusTransitions(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.Capacity = 2 }, nil)

	assert.Equal(t, protocol.StatusWaiting, h.s.Status())
	assert.True(t, h.s.IsOpen())

	h.join(t, "a")
	h.join(t, "b")
	assert.Equal(t, protocol.StatusPlaying, h.s.Status())
	assert.False(t, h.s.IsOpen())

	_, err := h.s.AddPlayer("c", "late")
	assert.ErrorIs(t, err, ErrSessionFull)

	h.s.RemovePlayer("a")
	assert.Equal(t, protocol.StatusWaiting, h.s.Status())
	assert.True(t, h.s.IsOpen())
}

func TestAddPlayerErrors(t *testing.T) {
	h := newHarness(t, nil, nil)

	_, err := h.s.AddPlayer("a", "bad<name>")
	assert.ErrorIs(t, err, ErrInvalidName)

	_, err = h.s.AddPlayer("a", "this name is far too long")
	assert.ErrorIs(t, err, ErrInvalidName)

	h.join(t, "a")
	_, err = h.s.AddPlayer("a", "again")
	assert.ErrorIs(t, err, ErrDuplicatePlayer)
	assert.Equal(t, 1, h.s.PlayerCount())
}

func TestJoinEvents(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.join(t, "a")
	h.join(t, "b")

	joined := h.pub.ofType(protocol.MsgSessionJoined)
	require.Len(t, joined, 2)
	assert.Equal(t, "b", joined[1].Target)
	payload := joined[1].Payload.(protocol.SessionJoined)
	assert.Equal(t, "b", payload.Player.ID)
	assert.Len(t, payload.Snapshot.Players, 2)

	announced := h.pub.ofType(protocol.MsgPlayerJoined)
	require.Len(t, announced, 2)
	assert.Equal(t, "b", announced[1].Exclude)
}

func TestUpdatePositionRejectsNonFinite(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.join(t, "a")
	before := h.record(t, "a")

	for _, pos := range []protocol.Vector3{
		{X: math.NaN(), Y: 0, Z: 0},
		{X: 0, Y: 0, Z: math.Inf(1)},
		{X: math.Inf(-1), Y: 0, Z: math.NaN()},
	} {
		assert.False(t, h.s.UpdatePosition("a", pos, protocol.Vector3{}, nil))
	}

	assert.Equal(t, before, h.record(t, "a"))
	assert.Empty(t, h.pub.ofType(protocol.MsgPlayerMoved))
}

func TestUpdatePositionUnknownPlayer(t *testing.T) {
	h := newHarness(t, nil, nil)
	assert.False(t, h.s.UpdatePosition("ghost", protocol.Vector3{}, protocol.Vector3{}, nil))
}

func TestDisplacementClamped(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.join(t, "a")

	require.True(t, h.s.UpdatePosition("a", protocol.Vector3{X: 0, Y: 60, Z: 0}, protocol.Vector3{}, nil))
	require.True(t, h.s.UpdatePosition("a", protocol.Vector3{X: 300, Y: 70, Z: 400}, protocol.Vector3{}, nil))

	state := h.record(t, "a")
	assert.True(t, state.Position.IsFinite())
	assert.InDelta(t, 30.0, state.Position.X, 1e-9)
	assert.InDelta(t, 40.0, state.Position.Z, 1e-9)
	assert.Equal(t, 70.0, state.Position.Y)

	rec, _ := h.s.players.Get("a")
	assert.Equal(t, 1, rec.Violations)
	require.NotNil(t, rec.LastPosition)
	assert.Equal(t, state.Position, *rec.LastPosition)
}

func TestHugeCoordinatesRejected(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.join(t, "a")
	before := h.record(t, "a")

	assert.False(t, h.s.UpdatePosition("a", protocol.Vector3{X: 1.7e308, Y: 60, Z: 0}, protocol.Vector3{}, nil))
	assert.False(t, h.s.UpdatePosition("a", protocol.Vector3{X: -1.7e308, Y: 60, Z: 0}, protocol.Vector3{}, nil))
	assert.Equal(t, before, h.record(t, "a"))

	require.True(t, h.s.UpdatePosition("a", protocol.Vector3{X: 10, Y: 60, Z: 0}, protocol.Vector3{}, nil))
	require.True(t, h.s.UpdatePosition("a", protocol.Vector3{X: 500, Y: 60, Z: 0}, protocol.Vector3{}, nil))

	state := h.record(t, "a")
	assert.True(t, state.Position.IsFinite())
	assert.InDelta(t, 60.0, state.Position.X, 1e-9)

	_, err := protocol.Encode(protocol.MsgSessionJoined, h.s.Snapshot())
	assert.NoError(t, err)
}

func TestClampDisplacementStaysFinite(t *testing.T) {
	from := protocol.Vector3{X: 1.7e308, Y: 60}
	to := protocol.Vector3{X: -1.7e308, Y: 60}

	out := clampDisplacement(from, to, from.PlanarDistance(to), 50)
	assert.True(t, out.PlanarFinite())
	assert.Equal(t, from.X, out.X)
}

func TestAltitudeNotPartOfDisplacement(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.join(t, "a")

	h.s.UpdatePosition("a", protocol.Vector3{X: 0, Y: 0, Z: 0}, protocol.Vector3{}, nil)
	h.s.UpdatePosition("a", protocol.Vector3{X: 10, Y: 5000, Z: 10}, protocol.Vector3{}, nil)

	state := h.record(t, "a")
	assert.Equal(t, protocol.Vector3{X: 10, Y: 5000, Z: 10}, state.Position)
	rec, _ := h.s.players.Get("a")
	assert.Zero(t, rec.Violations)
}

func TestUpdatePositionEnergyAndFallbacks(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.join(t, "a")

	energy := 140.0
	require.True(t, h.s.UpdatePosition("a", protocol.Vector3{X: 1, Y: 80, Z: 1}, protocol.Vector3{Y: 1}, &energy))
	assert.Equal(t, 100.0, h.record(t, "a").Energy)

	energy = 35
	nan := math.NaN()
	require.True(t, h.s.UpdatePosition("a", protocol.Vector3{X: 2, Y: nan, Z: 2}, protocol.Vector3{X: nan}, &energy))
	state := h.record(t, "a")
	assert.Equal(t, 80.0, state.Position.Y)
	assert.Equal(t, protocol.Vector3{Y: 1}, state.Rotation)
	assert.Equal(t, 35.0, state.Energy)

	require.True(t, h.s.UpdatePosition("a", protocol.Vector3{X: 3, Y: 80, Z: 3}, protocol.Vector3{}, &nan))
	assert.Equal(t, 35.0, h.record(t, "a").Energy)

	moved := h.pub.ofType(protocol.MsgPlayerMoved)
	require.Len(t, moved, 3)
	assert.Equal(t, "a", moved[0].Exclude)
}

func TestRemoveUnknownPlayer(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.join(t, "a")
	before := h.s.Snapshot()
	events := len(h.pub.events)

	assert.False(t, h.s.RemovePlayer("ghost"))
	assert.Equal(t, before, h.s.Snapshot())
	assert.Len(t, h.pub.events, events)
}

func TestFriendlyFire(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.join(t, "r1")
	h.join(t, "b1")
	h.join(t, "r2")

	assert.False(t, h.s.HandleHit("r1", "r2", 100))
	assert.Equal(t, 100.0, h.record(t, "r2").Health)
	assert.Zero(t, h.record(t, "r1").Kills)
	assert.Zero(t, h.record(t, "r2").Deaths)
	assert.Equal(t, protocol.Scores{}, h.s.Scores())
	assert.Empty(t, h.pub.ofType(protocol.MsgCombatResult))
}

func TestKillAndRespawn(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.MaxDamage = 500 }, nil)
	h.join(t, "r1")
	h.join(t, "b1")

	h.s.UpdatePosition("b1", protocol.Vector3{X: 0, Y: 10, Z: 0}, protocol.Vector3{}, nil)

	assert.True(t, h.s.HandleHit("r1", "b1", 150))

	result := h.pub.ofType(protocol.MsgCombatResult)
	require.Len(t, result, 1)
	payload := result[0].Payload.(protocol.CombatResult)
	assert.Equal(t, 100.0, payload.Damage)
	assert.True(t, payload.Killed)
	assert.Equal(t, protocol.Scores{Red: 1}, payload.Scores)

	assert.Equal(t, 1, h.record(t, "r1").Kills)
	assert.Equal(t, 1, h.record(t, "b1").Deaths)
	assert.Equal(t, 0.0, h.record(t, "b1").Health)
	assert.Contains(t, h.s.PendingTimers(), "respawn:b1")

	h.s.Update(h.clock.Advance(2 * time.Second))
	assert.Equal(t, 0.0, h.record(t, "b1").Health)

	h.s.Update(h.clock.Advance(time.Second))
	state := h.record(t, "b1")
	assert.Equal(t, 100.0, state.Health)
	assert.Equal(t, 100.0, state.Energy)
	base := h.s.cfg.BlueSpawn
	assert.LessOrEqual(t, math.Abs(state.Position.X-base.X), h.s.cfg.SpawnJitter)
	assert.LessOrEqual(t, math.Abs(state.Position.Z-base.Z), h.s.cfg.SpawnJitter)
	assert.Len(t, h.pub.ofType(protocol.MsgPlayerRespawned), 1)

	rec, _ := h.s.players.Get("b1")
	assert.Nil(t, rec.LastPosition)

	// the respawn jump is not a teleport
	h.s.UpdatePosition("b1", state.Position, protocol.Vector3{}, nil)
	assert.Zero(t, rec.Violations)
}

func TestRespawnAfterDisconnect(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.join(t, "r1")
	h.join(t, "b1")

	require.True(t, h.s.HandleHit("r1", "b1", 100))
	require.True(t, h.s.RemovePlayer("b1"))

	assert.NotPanics(t, func() {
		h.s.Update(h.clock.Advance(h.s.cfg.RespawnDelay))
	})
	assert.Empty(t, h.pub.ofType(protocol.MsgPlayerRespawned))
	assert.False(t, h.s.HasPlayer("b1"))
}

func TestCaptureProgressThroughSession(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.Sites = []capture.Template{{ID: "mill", X: 0, Z: 0}}
	}, nil)
	h.join(t, "r1")
	require.True(t, h.s.UpdatePosition("r1", protocol.Vector3{X: 5, Y: 300, Z: 5}, protocol.Vector3{}, nil))

	h.tick(5)

	snap := h.s.Snapshot()
	require.Len(t, snap.Sites, 1)
	assert.InDelta(t, 0.5, snap.Sites[0].Progress, 1e-9)
	require.NotNil(t, snap.Sites[0].ContestingTeam)
	assert.Equal(t, protocol.TeamRed, *snap.Sites[0].ContestingTeam)
	assert.Len(t, h.pub.ofType(protocol.MsgCaptureUpdate), 5)
}

func TestCaptureSwitchesSides(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.Sites = []capture.Template{{ID: "mill", X: 0, Z: 0}}
	}, nil)
	h.join(t, "r1")
	h.join(t, "b1")
	h.s.UpdatePosition("r1", protocol.Vector3{X: 0, Y: 50, Z: 0}, protocol.Vector3{}, nil)
	h.tick(5)

	h.s.UpdatePosition("r1", protocol.Vector3{X: 45, Y: 50, Z: 0}, protocol.Vector3{}, nil)
	h.s.UpdatePosition("b1", protocol.Vector3{X: 0, Y: 50, Z: 10}, protocol.Vector3{}, nil)
	h.tick(1)

	site := h.s.Snapshot().Sites[0]
	require.NotNil(t, site.ContestingTeam)
	assert.Equal(t, protocol.TeamBlue, *site.ContestingTeam)
	assert.InDelta(t, 0.1, site.Progress, 1e-9)
}

func TestScoringTick(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.s.sites[0].Owner = protocol.TeamPtr(protocol.TeamBlue)
	h.s.sites[0].Progress = 1
	h.s.sites[2].Owner = protocol.TeamPtr(protocol.TeamBlue)
	h.s.sites[2].Progress = 1
	h.s.scores.Red = 4

	h.s.Update(h.clock.Advance(h.s.cfg.ScoreInterval))

	assert.Equal(t, protocol.Scores{Red: 4, Blue: 2}, h.s.Scores())
	updates := h.pub.ofType(protocol.MsgScoreUpdate)
	require.Len(t, updates, 1)
	assert.Equal(t, protocol.Scores{Red: 4, Blue: 2}, updates[0].Payload.(protocol.ScoreUpdate).Scores)
}

type vetoChat struct {
	callbacks.DefaultCallbacks
}

func (v *vetoChat) OnChatMessage(sessionID string, p protocol.PlayerState, message string) bool {
	return message != "blocked"
}

func TestChat(t *testing.T) {
	h := newHarness(t, nil, &vetoChat{})
	h.join(t, "a")
	h.join(t, "b")

	clean, err := h.s.Chat("a", "  hello\x07 team ")
	require.NoError(t, err)
	assert.Equal(t, "hello team", clean)

	chats := h.pub.ofType(protocol.MsgChatMessage)
	require.Len(t, chats, 1)
	assert.Equal(t, "a", chats[0].Exclude)
	msg := chats[0].Payload.(protocol.ChatMessage)
	assert.Equal(t, "pilot a", msg.Name)
	assert.Equal(t, "hello team", msg.Message)

	_, err = h.s.Chat("a", "")
	assert.ErrorIs(t, err, ErrInvalidChat)

	_, err = h.s.Chat("a", "blocked")
	assert.ErrorIs(t, err, ErrChatRejected)

	_, err = h.s.Chat("ghost", "hi")
	assert.ErrorIs(t, err, ErrUnknownPlayer)

	assert.Len(t, h.pub.ofType(protocol.MsgChatMessage), 1)
}

func TestMatchEnds(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.MatchDuration = time.Minute }, nil)
	h.join(t, "r1")
	h.s.scores.Red = 3

	assert.False(t, h.s.IsEnded())
	h.clock.Advance(time.Minute)
	assert.True(t, h.s.IsEnded())
	assert.Equal(t, protocol.StatusEnded, h.s.Status())
	assert.Zero(t, h.s.TimeRemaining())

	h.s.Update(h.clock.Now())

	ended := h.pub.ofType(protocol.MsgMatchEnded)
	require.Len(t, ended, 1)
	payload := ended[0].Payload.(protocol.MatchEnded)
	require.NotNil(t, payload.Winner)
	assert.Equal(t, protocol.TeamRed, *payload.Winner)
	assert.Empty(t, h.s.PendingTimers())

	_, err := h.s.AddPlayer("late", "late")
	assert.ErrorIs(t, err, ErrSessionEnded)
	assert.False(t, h.s.UpdatePosition("r1", protocol.Vector3{}, protocol.Vector3{}, nil))

	h.s.End()
	assert.Len(t, h.pub.ofType(protocol.MsgMatchEnded), 1)
}

func TestCloseCancelsTimers(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.join(t, "r1")
	h.join(t, "b1")
	h.s.HandleHit("r1", "b1", 100)
	require.NotEmpty(t, h.s.PendingTimers())

	h.s.Close()
	assert.Empty(t, h.s.PendingTimers())
	events := len(h.pub.events)
	h.tick(20)
	assert.Len(t, h.pub.events, events)
}

func TestSnapshotIsCopy(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.join(t, "a")

	snap := h.s.Snapshot()
	snap.Players[0].Health = 1
	snap.Sites[0].Progress = 0.9

	assert.Equal(t, 100.0, h.record(t, "a").Health)
	assert.Zero(t, h.s.Snapshot().Sites[0].Progress)
	assert.Equal(t, protocol.StatusWaiting, snap.Status)
	assert.Equal(t, h.s.cfg.MatchDuration.Seconds(), snap.TimeRemaining)
}

func TestAddScore(t *testing.T) {
	h := newHarness(t, nil, nil)
	assert.True(t, h.s.AddScore(protocol.TeamBlue, 3))
	assert.False(t, h.s.AddScore(protocol.TeamBlue, -10))
	assert.False(t, h.s.AddScore(protocol.Team(9), 1))
	assert.Equal(t, protocol.Scores{Blue: 3}, h.s.Scores())
}
