package combat

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siohaza/dogfight/internal/player"
	"github.com/siohaza/dogfight/internal/protocol"
)

func setup(t *testing.T) (*player.Manager, *Resolver) {
	t.Helper()

	roster := player.NewManager()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, p := range []struct {
		id   string
		team protocol.Team
	}{
		{"r1", protocol.TeamRed},
		{"r2", protocol.TeamRed},
		{"b1", protocol.TeamBlue},
		{"b2", protocol.TeamBlue},
	} {
		roster.Add(player.New(p.id, p.id, p.team, protocol.Vector3{}, 100, 100, now))
	}

	return roster, NewResolver(Rules{MaxDamage: 150, MaxHealth: 100})
}

func health(t *testing.T, roster *player.Manager, id string) float64 {
	t.Helper()
	r, ok := roster.Get(id)
	require.True(t, ok)
	return r.Health
}

func TestFriendlyFireIgnored(t *testing.T) {
	roster, resolver := setup(t)
	var scores protocol.Scores

	out := resolver.Hit(roster, &scores, "r1", "r2", 100)

	assert.False(t, out.Applied)
	assert.Equal(t, 100.0, health(t, roster, "r2"))
	assert.Equal(t, protocol.Scores{}, scores)
	r1, _ := roster.Get("r1")
	r2, _ := roster.Get("r2")
	assert.Zero(t, r1.Kills)
	assert.Zero(t, r2.Deaths)
}

func TestDamageClampedToMaxHealth(t *testing.T) {
	roster, resolver := setup(t)
	var scores protocol.Scores

	out := resolver.Hit(roster, &scores, "r1", "b1", 150)

	assert.True(t, out.Applied)
	assert.Equal(t, 100.0, out.Damage)
	assert.True(t, out.Killed)
	assert.Equal(t, 0.0, health(t, roster, "b1"))
}

func TestKillCredits(t *testing.T) {
	roster, resolver := setup(t)
	var scores protocol.Scores

	resolver.Hit(roster, &scores, "b2", "r1", 40)
	out := resolver.Hit(roster, &scores, "b1", "r1", 60)

	require.True(t, out.Killed)
	assert.Equal(t, []string{"b2"}, out.Assists)
	assert.Equal(t, protocol.Scores{Blue: 1}, scores)

	b1, _ := roster.Get("b1")
	b2, _ := roster.Get("b2")
	r1, _ := roster.Get("r1")
	assert.Equal(t, 1, b1.Kills)
	assert.Equal(t, 1, b2.Assists)
	assert.Equal(t, 1, r1.Deaths)
}

func TestIgnoredHits(t *testing.T) {
	roster, resolver := setup(t)
	var scores protocol.Scores

	assert.False(t, resolver.Hit(roster, &scores, "ghost", "b1", 10).Applied)
	assert.False(t, resolver.Hit(roster, &scores, "r1", "ghost", 10).Applied)
	assert.False(t, resolver.Hit(roster, &scores, "r1", "r1", 10).Applied)

	resolver.Hit(roster, &scores, "r1", "b1", 100)
	assert.False(t, resolver.Hit(roster, &scores, "r2", "b1", 10).Applied, "target already dead")
	assert.False(t, resolver.Hit(roster, &scores, "b1", "r2", 10).Applied, "attacker is dead")
	assert.Equal(t, protocol.Scores{Red: 1}, scores)
}

func TestNonFiniteDamage(t *testing.T) {
	roster, resolver := setup(t)
	var scores protocol.Scores

	out := resolver.Hit(roster, &scores, "r1", "b1", math.NaN())
	assert.True(t, out.Applied)
	assert.Zero(t, out.Damage)
	assert.Equal(t, 100.0, health(t, roster, "b1"))

	out = resolver.Hit(roster, &scores, "r1", "b1", -20)
	assert.Zero(t, out.Damage)
}

func TestClampDamage(t *testing.T) {
	resolver := NewResolver(Rules{MaxDamage: 25, MaxHealth: 100})
	assert.Equal(t, 25.0, resolver.ClampDamage(90))
	assert.Equal(t, 0.0, resolver.ClampDamage(math.Inf(1)))
}
