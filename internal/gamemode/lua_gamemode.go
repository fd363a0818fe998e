package gamemode

import (
	"fmt"
	"log/slog"

	"github.com/siohaza/dogfight/internal/protocol"
	"github.com/siohaza/dogfight/pkg/lua"
)

type LuaGameMode struct {
	vm     *lua.VM
	name   string
	logger *slog.Logger
}

func NewLuaGameMode(scriptPath string, api *lua.GameAPI, logger *slog.Logger) (*LuaGameMode, error) {
	vm := lua.NewVM()

	if api != nil {
		api.RegisterFunctions(vm)
	}

	if err := vm.LoadFile(scriptPath); err != nil {
		return nil, fmt.Errorf("failed to load gamemode script: %w", err)
	}

	return newLuaGameMode(vm, logger)
}

func newLuaGameMode(vm *lua.VM, logger *slog.Logger) (*LuaGameMode, error) {
	name, err := vm.GetGlobalString("name")
	if err != nil {
		name = "lua_gamemode"
	}

	gm := &LuaGameMode{
		vm:     vm,
		name:   name,
		logger: logger,
	}

	if vm.HasFunction("on_init") {
		if err := vm.CallFunction("on_init"); err != nil {
			return nil, fmt.Errorf("failed to call on_init: %w", err)
		}
	}

	return gm, nil
}

func (gm *LuaGameMode) Name() string {
	return gm.name
}

func (gm *LuaGameMode) call(hook string, args ...interface{}) {
	if !gm.vm.HasFunction(hook) {
		return
	}
	if err := gm.vm.CallFunction(hook, args...); err != nil {
		if gm.logger != nil {
			gm.logger.Error("lua gamemode "+hook+" error", "error", err)
		}
	}
}

func (gm *LuaGameMode) OnPlayerJoin(sessionID string, p protocol.PlayerState) {
	gm.call("on_player_join", sessionID, lua.Player(p))
}

func (gm *LuaGameMode) OnPlayerLeave(sessionID string, p protocol.PlayerState) {
	gm.call("on_player_leave", sessionID, lua.Player(p))
}

func (gm *LuaGameMode) OnPlayerKill(sessionID string, killer, victim protocol.PlayerState) {
	gm.call("on_player_kill", sessionID, lua.Player(killer), lua.Player(victim))
}

func (gm *LuaGameMode) OnPlayerRespawn(sessionID string, p protocol.PlayerState) {
	gm.call("on_player_respawn", sessionID, lua.Player(p))
}

func (gm *LuaGameMode) OnSiteCaptured(sessionID string, site protocol.SiteState, team protocol.Team) {
	gm.call("on_site_captured", sessionID, lua.Site(site), team.String())
}

func (gm *LuaGameMode) OnChatMessage(sessionID string, p protocol.PlayerState, message string) bool {
	if !gm.vm.HasFunction("on_chat_message") {
		return true
	}

	results, err := gm.vm.CallFunctionWithReturn("on_chat_message", 1, sessionID, lua.Player(p), message)
	if err != nil {
		if gm.logger != nil {
			gm.logger.Error("lua gamemode on_chat_message error", "error", err)
		}
		return true
	}
	if len(results) > 0 {
		if allow, ok := results[0].(bool); ok {
			return allow
		}
	}
	return true
}

func (gm *LuaGameMode) OnMatchEnd(sessionID string, scores protocol.Scores, winner *protocol.Team) {
	var w interface{}
	if winner != nil {
		w = winner.String()
	}
	gm.call("on_match_end", sessionID, lua.Scores(scores), w)
}
