package protocol

// Inbound message types.
const (
	MsgJoin      = "join"
	MsgPosition  = "position"
	MsgCombatHit = "combatHit"
	MsgChat      = "chat"
)

// Outbound message types.
const (
	MsgSessionJoined   = "sessionJoined"
	MsgPlayerJoined    = "playerJoined"
	MsgPlayerLeft      = "playerLeft"
	MsgPlayerMoved     = "playerMoved"
	MsgPlayerRespawned = "playerRespawned"
	MsgCombatResult    = "combatResult"
	MsgCaptureUpdate   = "captureUpdate"
	MsgScoreUpdate     = "scoreUpdate"
	MsgChatMessage     = "chat"
	MsgMatchEnded      = "matchEnded"
	MsgError           = "error"
)

// Error codes sent with MsgError.
const (
	ErrCodeInvalidName = "invalid_name"
	ErrCodeNotJoined   = "not_joined"
	ErrCodeJoinFailed  = "join_failed"
	ErrCodeInvalidChat = "invalid_chat"
	ErrCodeBadMessage  = "bad_message"
)

type JoinRequest struct {
	Name string `json:"name"`
}

type PositionRequest struct {
	Position VectorInput `json:"position"`
	Rotation VectorInput `json:"rotation"`
	Energy   *float64    `json:"energy"`
}

type CombatHitRequest struct {
	TargetID string  `json:"targetId"`
	Damage   float64 `json:"damage"`
}

type ChatRequest struct {
	Message string `json:"message"`
}

type PlayerState struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Team     Team    `json:"team"`
	Health   float64 `json:"health"`
	Energy   float64 `json:"energy"`
	Position Vector3 `json:"position"`
	Rotation Vector3 `json:"rotation"`
	Kills    int     `json:"kills"`
	Deaths   int     `json:"deaths"`
	Assists  int     `json:"assists"`
}

type SiteState struct {
	ID             string  `json:"id"`
	X              float64 `json:"x"`
	Z              float64 `json:"z"`
	Owner          *Team   `json:"owner"`
	Progress       float64 `json:"progress"`
	ContestingTeam *Team   `json:"contestingTeam"`
	Contested      bool    `json:"contested"`
}

type SessionSnapshot struct {
	ID            string        `json:"id"`
	Status        SessionStatus `json:"status"`
	Players       []PlayerState `json:"players"`
	Scores        Scores        `json:"scores"`
	TimeRemaining float64       `json:"timeRemaining"`
	Sites         []SiteState   `json:"sites"`
}

type SessionJoined struct {
	Player   PlayerState     `json:"player"`
	Snapshot SessionSnapshot `json:"snapshot"`
}

type PlayerLeft struct {
	ID string `json:"id"`
}

type PlayerMoved struct {
	ID       string  `json:"id"`
	Position Vector3 `json:"position"`
	Rotation Vector3 `json:"rotation"`
	Energy   float64 `json:"energy"`
}

type PlayerRespawned struct {
	Player PlayerState `json:"player"`
}

type CombatResult struct {
	AttackerID    string  `json:"attackerId"`
	TargetID      string  `json:"targetId"`
	Damage        float64 `json:"damage"`
	Killed        bool    `json:"killed"`
	Scores        Scores  `json:"scores"`
	TimeRemaining float64 `json:"timeRemaining"`
}

type CaptureUpdate struct {
	Sites []SiteState `json:"sites"`
}

type ScoreUpdate struct {
	Scores Scores `json:"scores"`
}

// ChatMessage is relayed chat. Server notices have no ID and no team.
type ChatMessage struct {
	ID      string `json:"id,omitempty"`
	Name    string `json:"name"`
	Team    *Team  `json:"team,omitempty"`
	Message string `json:"message"`
}

type MatchEnded struct {
	Scores Scores `json:"scores"`
	Winner *Team  `json:"winner"`
}

type ErrorNotice struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Event is an outbound message addressed to members of one session.
// An empty Target means every member except Exclude.
type Event struct {
	Type    string
	Payload any
	Target  string
	Exclude string
}

func Broadcast(msgType string, payload any) Event {
	return Event{Type: msgType, Payload: payload}
}

func BroadcastExcept(msgType string, payload any, exclude string) Event {
	return Event{Type: msgType, Payload: payload, Exclude: exclude}
}

func Direct(msgType string, payload any, target string) Event {
	return Event{Type: msgType, Payload: payload, Target: target}
}

// Recipient reports whether the member id should receive the event.
func (e Event) Recipient(id string) bool {
	if e.Target != "" {
		return e.Target == id
	}
	return id != e.Exclude
}
