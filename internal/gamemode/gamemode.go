package gamemode

import (
	"log/slog"

	"github.com/siohaza/dogfight/internal/callbacks"
	"github.com/siohaza/dogfight/pkg/lua"
)

type GameMode interface {
	callbacks.Callbacks
	Name() string
}

type BaseGameMode struct {
	callbacks.DefaultCallbacks
	name string
}

func NewBaseGameMode(name string) *BaseGameMode {
	return &BaseGameMode{name: name}
}

func (b *BaseGameMode) Name() string {
	return b.name
}

// Load returns the Lua game mode at scriptPath, or the built-in mode when no
// script is configured.
func Load(scriptPath string, api *lua.GameAPI, logger *slog.Logger) (GameMode, error) {
	if scriptPath == "" {
		return NewBaseGameMode("territory"), nil
	}
	gm, err := NewLuaGameMode(scriptPath, api, logger)
	if err != nil {
		return nil, err
	}
	return gm, nil
}
