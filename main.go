package main

import (
	"context"
	"database/sql"
	"time"

	"github.com/heroiclabs/nakama-common/runtime"

	"stackforge/stackforge"
)

// configEnvKey names the runtime env entry holding the stacks config path.
const configEnvKey = "stackforge_config"

// noinspection GoUnusedExportedFunction
func InitModule(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, initializer runtime.Initializer) error {
	initStart := time.Now()

	logger.Info("Loading Stackforge Nakama plugin...")

	configFile := ""
	if env, ok := ctx.Value(runtime.RUNTIME_CTX_ENV).(map[string]string); ok {
		configFile = env[configEnvKey]
	}

	if _, err := stackforge.Init(ctx, logger, db, nk, initializer, configFile); err != nil {
		logger.Error("Failed to initialize stacks system: %v", err)
		return err
	}

	logger.Info("Stackforge Nakama plugin loaded in '%d' msec.", time.Since(initStart).Milliseconds())
	return nil
}
