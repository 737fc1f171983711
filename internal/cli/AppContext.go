package cli

import (
	"context"

	"filewatch/internal/config"
)

// RunFunc запускает сервис до отмены ctx или завершения наблюдения
type RunFunc func(ctx context.Context, cfg *config.Config) error

// AppContext хранит зависимости, которые используются в командах CLI
type AppContext struct {
	ConfigPath string
	Run        RunFunc
}

func NewAppContext(run RunFunc) *AppContext {
	return &AppContext{Run: run}
}

func (a *AppContext) loadConfig() (*config.Config, error) {
	return config.Load(a.ConfigPath)
}
