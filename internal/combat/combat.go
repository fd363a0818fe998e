package combat

import (
	"github.com/siohaza/dogfight/internal/player"
	"github.com/siohaza/dogfight/internal/protocol"
	"github.com/siohaza/dogfight/internal/validation"
)

// Roster looks up the records of one session.
type Roster interface {
	Get(id string) (*player.Record, bool)
}

type Rules struct {
	MaxDamage float64
	MaxHealth float64
}

// Outcome describes a resolved hit. A zero Outcome means the hit was ignored.
type Outcome struct {
	Applied    bool
	AttackerID string
	TargetID   string
	Team       protocol.Team
	Damage     float64
	Killed     bool
	Assists    []string
}

// Resolver applies hit rules against a roster. It holds no state of its own.
type Resolver struct {
	rules Rules
}

func NewResolver(rules Rules) *Resolver {
	return &Resolver{rules: rules}
}

// MaxDamage is the most a single hit can deal.
func (r *Resolver) MaxDamage() float64 {
	return min(r.rules.MaxDamage, r.rules.MaxHealth)
}

func (r *Resolver) ClampDamage(requested float64) float64 {
	if !validation.IsFinite(requested) {
		return 0
	}
	return validation.Clamp(requested, 0, r.MaxDamage())
}

// Hit applies requested damage from attacker to target. Unknown ids, dead
// players and friendly fire are ignored. On a kill the attacker's team
// score is incremented; scheduling the respawn is left to the caller.
func (r *Resolver) Hit(roster Roster, scores *protocol.Scores, attackerID, targetID string, requested float64) Outcome {
	attacker, ok := roster.Get(attackerID)
	if !ok {
		return Outcome{}
	}
	target, ok := roster.Get(targetID)
	if !ok {
		return Outcome{}
	}
	if attackerID == targetID || !attacker.IsAlive() || !target.IsAlive() {
		return Outcome{}
	}
	if attacker.Team == target.Team {
		return Outcome{}
	}

	applied, killed := target.Damage(r.ClampDamage(requested), attackerID)
	out := Outcome{
		Applied:    true,
		AttackerID: attackerID,
		TargetID:   targetID,
		Team:       attacker.Team,
		Damage:     applied,
		Killed:     killed,
	}
	if !killed {
		return out
	}

	attacker.Kills++
	target.Deaths++
	scores.Add(attacker.Team, 1)

	for _, id := range target.Assisters(attackerID) {
		helper, ok := roster.Get(id)
		if !ok || helper.Team != attacker.Team {
			continue
		}
		helper.Assists++
		out.Assists = append(out.Assists, id)
	}

	return out
}
