package lua

import (
	"log/slog"

	"github.com/Shopify/go-lua"

	"github.com/siohaza/dogfight/internal/protocol"
)

// Pusher is a Go value that knows how to push itself as a Lua table.
type Pusher interface {
	PushLua(state *lua.State)
}

// MatchAPI is what match scripts may do to a running session.
type MatchAPI interface {
	SendSystemChat(sessionID, message string) bool
	TeamScore(sessionID string, team protocol.Team) (int, bool)
	AddTeamScore(sessionID string, team protocol.Team, points int) bool
}

type GameAPI struct {
	match  MatchAPI
	logger *slog.Logger
}

func NewGameAPI(match MatchAPI, logger *slog.Logger) *GameAPI {
	if logger == nil {
		logger = slog.Default()
	}
	return &GameAPI{
		match:  match,
		logger: logger,
	}
}

func (api *GameAPI) RegisterFunctions(vm *VM) {
	state := vm.State()

	state.Register("log", api.log)
	state.Register("send_chat", api.sendChat)
	state.Register("get_team_score", api.getTeamScore)
	state.Register("add_team_score", api.addTeamScore)
}

func (api *GameAPI) log(state *lua.State) int {
	msg := lua.CheckString(state, 1)
	api.logger.Info("lua", "message", msg)
	return 0
}

func (api *GameAPI) sendChat(state *lua.State) int {
	sessionID := lua.CheckString(state, 1)
	msg := lua.CheckString(state, 2)
	if api.match == nil {
		state.PushBoolean(false)
		return 1
	}
	state.PushBoolean(api.match.SendSystemChat(sessionID, msg))
	return 1
}

func (api *GameAPI) getTeamScore(state *lua.State) int {
	sessionID := lua.CheckString(state, 1)
	team, ok := checkTeam(state, 2)
	if !ok || api.match == nil {
		state.PushNil()
		return 1
	}
	score, ok := api.match.TeamScore(sessionID, team)
	if !ok {
		state.PushNil()
		return 1
	}
	state.PushInteger(score)
	return 1
}

func (api *GameAPI) addTeamScore(state *lua.State) int {
	sessionID := lua.CheckString(state, 1)
	team, ok := checkTeam(state, 2)
	points := lua.CheckInteger(state, 3)
	if !ok || api.match == nil {
		state.PushBoolean(false)
		return 1
	}
	state.PushBoolean(api.match.AddTeamScore(sessionID, team, points))
	return 1
}

func checkTeam(state *lua.State, idx int) (protocol.Team, bool) {
	name := lua.CheckString(state, idx)
	team, err := protocol.ParseTeam(name)
	return team, err == nil
}

// Player pushes a player state as a table.
type Player protocol.PlayerState

func (p Player) PushLua(state *lua.State) {
	state.NewTable()
	state.PushString(p.ID)
	state.SetField(-2, "id")
	state.PushString(p.Name)
	state.SetField(-2, "name")
	state.PushString(p.Team.String())
	state.SetField(-2, "team")
	state.PushNumber(p.Health)
	state.SetField(-2, "health")
	state.PushNumber(p.Energy)
	state.SetField(-2, "energy")
	state.PushInteger(p.Kills)
	state.SetField(-2, "kills")
	state.PushInteger(p.Deaths)
	state.SetField(-2, "deaths")
	state.PushInteger(p.Assists)
	state.SetField(-2, "assists")

	state.NewTable()
	state.PushNumber(p.Position.X)
	state.SetField(-2, "x")
	state.PushNumber(p.Position.Y)
	state.SetField(-2, "y")
	state.PushNumber(p.Position.Z)
	state.SetField(-2, "z")
	state.SetField(-2, "position")
}

// Site pushes a capture site state as a table.
type Site protocol.SiteState

func (s Site) PushLua(state *lua.State) {
	state.NewTable()
	state.PushString(s.ID)
	state.SetField(-2, "id")
	state.PushNumber(s.X)
	state.SetField(-2, "x")
	state.PushNumber(s.Z)
	state.SetField(-2, "z")
	state.PushNumber(s.Progress)
	state.SetField(-2, "progress")
	if s.Owner != nil {
		state.PushString(s.Owner.String())
		state.SetField(-2, "owner")
	}
}

// Scores pushes team scores as a table.
type Scores protocol.Scores

func (s Scores) PushLua(state *lua.State) {
	state.NewTable()
	state.PushInteger(s.Red)
	state.SetField(-2, "red")
	state.PushInteger(s.Blue)
	state.SetField(-2, "blue")
}
