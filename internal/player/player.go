package player

import (
	"sort"
	"sync"
	"time"

	"github.com/siohaza/dogfight/internal/protocol"
)

// Record is the server side state of one participant in one match.
type Record struct {
	ID       string
	Name     string
	Team     protocol.Team
	Health   float64
	Energy   float64
	Position protocol.Vector3
	Rotation protocol.Vector3

	// LastPosition is the anti-cheat baseline. Nil until the first accepted
	// update after a spawn.
	LastPosition *protocol.Vector3
	LastUpdate   time.Time
	JoinedAt     time.Time

	Kills      int
	Deaths     int
	Assists    int
	Violations int

	damagedBy map[string]struct{}
}

func New(id, name string, team protocol.Team, spawn protocol.Vector3, maxHealth, maxEnergy float64, now time.Time) *Record {
	return &Record{
		ID:         id,
		Name:       name,
		Team:       team,
		Health:     maxHealth,
		Energy:     maxEnergy,
		Position:   spawn,
		LastUpdate: now,
		JoinedAt:   now,
		damagedBy:  make(map[string]struct{}),
	}
}

func (r *Record) IsAlive() bool {
	return r.Health > 0
}

// Damage subtracts amount from health, floored at zero, and remembers the
// attacker for assist credit. It returns the damage actually applied.
func (r *Record) Damage(amount float64, attackerID string) (float64, bool) {
	if amount <= 0 || !r.IsAlive() {
		return 0, false
	}
	if amount > r.Health {
		amount = r.Health
	}

	r.Health -= amount
	if attackerID != "" {
		r.damagedBy[attackerID] = struct{}{}
	}
	return amount, r.Health <= 0
}

// Assisters returns everyone who damaged this player since the last spawn,
// except the given id, sorted.
func (r *Record) Assisters(except string) []string {
	var ids []string
	for id := range r.damagedBy {
		if id != except {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Move commits a validated transform. Energy is optional.
func (r *Record) Move(pos, rot protocol.Vector3, energy *float64, maxEnergy float64, now time.Time) {
	r.Position = pos
	r.Rotation = rot
	if energy != nil {
		r.Energy = clamp(*energy, 0, maxEnergy)
	}
	last := pos
	r.LastPosition = &last
	r.LastUpdate = now
}

// Respawn restores the player at pos and resets the anti-cheat baseline.
func (r *Record) Respawn(pos protocol.Vector3, maxHealth, maxEnergy float64) {
	r.Health = maxHealth
	r.Energy = maxEnergy
	r.Position = pos
	r.Rotation = protocol.Vector3{}
	r.LastPosition = nil
	clear(r.damagedBy)
}

func (r *Record) State() protocol.PlayerState {
	return protocol.PlayerState{
		ID:       r.ID,
		Name:     r.Name,
		Team:     r.Team,
		Health:   r.Health,
		Energy:   r.Energy,
		Position: r.Position,
		Rotation: r.Rotation,
		Kills:    r.Kills,
		Deaths:   r.Deaths,
		Assists:  r.Assists,
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Manager indexes the records of one session.
type Manager struct {
	players map[string]*Record
	mu      sync.RWMutex
}

func NewManager() *Manager {
	return &Manager{
		players: make(map[string]*Record),
	}
}

func (m *Manager) Add(r *Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.players[r.ID] = r
}

func (m *Manager) Remove(id string) (*Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.players[id]
	if ok {
		delete(m.players, id)
	}
	return r, ok
}

func (m *Manager) Get(id string) (*Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.players[id]
	return r, ok
}

func (m *Manager) Contains(id string) bool {
	_, ok := m.Get(id)
	return ok
}

func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.players)
}

// GetAll returns every record ordered by id.
func (m *Manager) GetAll() []*Record {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := make([]*Record, 0, len(m.players))
	for _, r := range m.players {
		records = append(records, r)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].ID < records[j].ID
	})
	return records
}

func (m *Manager) ForEach(fn func(*Record)) {
	for _, r := range m.GetAll() {
		fn(r)
	}
}

