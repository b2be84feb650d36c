// cmd/sessionrunner/main.go runs the session-runner role: one process
// representing one session:{id} with max_slots concurrent games.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/nimblegames/arena/internal/config"
	"github.com/nimblegames/arena/internal/ids"
	"github.com/nimblegames/arena/internal/logging"
	"github.com/nimblegames/arena/internal/sessionrunner"
	"github.com/nimblegames/arena/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("session-runner", "info", "text").WithError(err).Fatal("failed to load configuration")
	}

	logger := logging.New("session-runner", cfg.LogLevel, cfg.LogFormat)
	entry := logging.WithRole(logger, "session-runner")

	st, err := store.New(cfg.RedisAddr(), cfg.RedisDB)
	if err != nil {
		entry.WithError(err).Fatal("failed to connect to coordination store")
	}
	defer st.Close()

	sessionID := ids.ResolveSessionID(cfg.SessionID)
	runner := sessionrunner.New(st, cfg, entry, sessionID)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := runner.Start(ctx); err != nil {
		entry.WithError(err).Fatal("failed to start session runner")
	}

	entry.WithField("session_id", sessionID).Info("session runner starting")
	runner.Run(ctx)
	entry.Info("session runner stopped")
}
