package protocol

import (
	"fmt"
	"strings"
)

// Team is one of the two sides of a match. The zero value is Red.
type Team uint8

const (
	TeamRed Team = iota
	TeamBlue
)

func (t Team) String() string {
	switch t {
	case TeamRed:
		return "red"
	case TeamBlue:
		return "blue"
	default:
		return "unknown"
	}
}

func (t Team) Valid() bool {
	return t == TeamRed || t == TeamBlue
}

func (t Team) Opponent() Team {
	if t == TeamRed {
		return TeamBlue
	}
	return TeamRed
}

func ParseTeam(s string) (Team, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "red":
		return TeamRed, nil
	case "blue":
		return TeamBlue, nil
	default:
		return 0, fmt.Errorf("invalid team: %q", s)
	}
}

func (t Team) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid team value: %d", uint8(t))
	}
	return []byte(t.String()), nil
}

func (t *Team) UnmarshalText(text []byte) error {
	parsed, err := ParseTeam(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// TeamPtr returns a pointer to a copy of t, for optional team fields.
func TeamPtr(t Team) *Team {
	return &t
}

// Scores holds the per-team match score.
type Scores struct {
	Red  int `json:"red"`
	Blue int `json:"blue"`
}

func (s *Scores) Add(team Team, n int) {
	switch team {
	case TeamRed:
		s.Red += n
	case TeamBlue:
		s.Blue += n
	}
}

func (s Scores) Get(team Team) int {
	if team == TeamBlue {
		return s.Blue
	}
	return s.Red
}

// Leader returns the team with the higher score, or false on a draw.
func (s Scores) Leader() (Team, bool) {
	switch {
	case s.Red > s.Blue:
		return TeamRed, true
	case s.Blue > s.Red:
		return TeamBlue, true
	default:
		return 0, false
	}
}

// SessionStatus is the lifecycle state of a match.
type SessionStatus uint8

const (
	StatusWaiting SessionStatus = iota
	StatusPlaying
	StatusEnded
)

func (s SessionStatus) String() string {
	switch s {
	case StatusWaiting:
		return "waiting"
	case StatusPlaying:
		return "playing"
	case StatusEnded:
		return "ended"
	default:
		return "unknown"
	}
}

func (s SessionStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *SessionStatus) UnmarshalText(text []byte) error {
	switch string(text) {
	case "waiting":
		*s = StatusWaiting
	case "playing":
		*s = StatusPlaying
	case "ended":
		*s = StatusEnded
	default:
		return fmt.Errorf("invalid session status: %q", text)
	}
	return nil
}
