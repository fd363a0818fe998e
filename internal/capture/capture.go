// Package capture implements the territory control state machine.
//
// A site is Neutral (no owner, no progress), Capturing a team (progress
// accumulating toward that team), Contested (both teams present, frozen for
// the tick) or Owned by a team (progress 1). Sites are only mutated by Tick.
package capture

import (
	"github.com/siohaza/dogfight/internal/protocol"
)

// Template places a site in the world at session creation.
type Template struct {
	ID string
	X  float64
	Z  float64
}

// DefaultTemplates are the four windmills.
var DefaultTemplates = []Template{
	{ID: "windmill-north", X: 0, Z: -250},
	{ID: "windmill-east", X: 250, Z: 0},
	{ID: "windmill-south", X: 0, Z: 250},
	{ID: "windmill-west", X: -250, Z: 0},
}

// epsilon absorbs float drift from summing fractional steps.
const epsilon = 1e-9

type Rules struct {
	Radius    float64
	Rate      float64
	DecayRate float64
}

type Site struct {
	ID             string
	X              float64
	Z              float64
	Owner          *protocol.Team
	Progress       float64
	ContestingTeam *protocol.Team
	Contested      bool
}

// Occupant is a player position considered for occupancy.
type Occupant struct {
	Team     protocol.Team
	Position protocol.Vector3
}

func NewSites(templates []Template) []*Site {
	sites := make([]*Site, 0, len(templates))
	for _, t := range templates {
		sites = append(sites, &Site{ID: t.ID, X: t.X, Z: t.Z})
	}
	return sites
}

func (s *Site) Location() protocol.Vector3 {
	return protocol.Vector3{X: s.X, Z: s.Z}
}

// OwnedBy reports whether team currently owns the site.
func (s *Site) OwnedBy(team protocol.Team) bool {
	return s.Owner != nil && *s.Owner == team
}

func (s *Site) State() protocol.SiteState {
	return protocol.SiteState{
		ID:             s.ID,
		X:              s.X,
		Z:              s.Z,
		Owner:          copyTeam(s.Owner),
		Progress:       s.Progress,
		ContestingTeam: copyTeam(s.ContestingTeam),
		Contested:      s.Contested,
	}
}

// Occupancy counts the occupants of each team within radius of the site on
// the ground plane. Altitude does not matter.
func (s *Site) Occupancy(occupants []Occupant, radius float64) (red, blue int) {
	loc := s.Location()
	for _, o := range occupants {
		if !o.Position.PlanarFinite() || loc.PlanarDistance(o.Position) > radius {
			continue
		}
		switch o.Team {
		case protocol.TeamRed:
			red++
		case protocol.TeamBlue:
			blue++
		}
	}
	return red, blue
}

// Step advances the site by dt seconds given the team counts in range.
// It reports whether any visible state changed and whether the site was
// captured this step.
func (s *Site) Step(red, blue int, rules Rules, dt float64) (changed, captured bool) {
	before := s.State()
	captured = s.step(red, blue, rules, dt)
	return !sameState(before, s.State()), captured
}

func (s *Site) step(red, blue int, rules Rules, dt float64) bool {
	if red > 0 && blue > 0 {
		s.Contested = true
		return false
	}
	s.Contested = false

	var capturing protocol.Team
	switch {
	case red > 0:
		capturing = protocol.TeamRed
	case blue > 0:
		capturing = protocol.TeamBlue
	default:
		if s.Owner == nil && s.Progress > 0 {
			s.Progress -= rules.DecayRate * dt
			if s.Progress <= epsilon {
				s.Progress = 0
				s.ContestingTeam = nil
			}
		}
		return false
	}

	if s.OwnedBy(capturing) {
		return false
	}

	if s.ContestingTeam == nil || *s.ContestingTeam != capturing {
		s.Progress = 0
		s.ContestingTeam = protocol.TeamPtr(capturing)
	}

	s.Progress += rules.Rate * dt
	if s.Progress >= 1-epsilon {
		s.Progress = 1
		s.Owner = protocol.TeamPtr(capturing)
		return true
	}
	return false
}

// Result is the outcome of one capture tick across all sites.
type Result struct {
	Changed  []*Site
	Captured []*Site
}

// Tick steps every site independently.
func Tick(sites []*Site, occupants []Occupant, rules Rules, dt float64) Result {
	var res Result
	for _, site := range sites {
		red, blue := site.Occupancy(occupants, rules.Radius)
		changed, captured := site.Step(red, blue, rules, dt)
		if changed {
			res.Changed = append(res.Changed, site)
		}
		if captured {
			res.Captured = append(res.Captured, site)
		}
	}
	return res
}

// Score adds one point per owned site to its owner and returns the number
// of points awarded.
func Score(sites []*Site, scores *protocol.Scores) int {
	awarded := 0
	for _, site := range sites {
		if site.Owner == nil {
			continue
		}
		scores.Add(*site.Owner, 1)
		awarded++
	}
	return awarded
}

func States(sites []*Site) []protocol.SiteState {
	states := make([]protocol.SiteState, len(sites))
	for i, s := range sites {
		states[i] = s.State()
	}
	return states
}

func copyTeam(t *protocol.Team) *protocol.Team {
	if t == nil {
		return nil
	}
	return protocol.TeamPtr(*t)
}

func sameTeam(a, b *protocol.Team) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// sameState ignores the contested flag: a contested tick changes nothing.
func sameState(a, b protocol.SiteState) bool {
	return sameTeam(a.Owner, b.Owner) &&
		sameTeam(a.ContestingTeam, b.ContestingTeam) &&
		a.Progress == b.Progress
}
