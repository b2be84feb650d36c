// cmd/matchmaker/main.go runs the matchmaker role: it forms fixed-size
// batches of ready players and places them onto session capacity. Safe
// to run more than one instance concurrently.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/nimblegames/arena/internal/config"
	"github.com/nimblegames/arena/internal/logging"
	"github.com/nimblegames/arena/internal/matchmaker"
	"github.com/nimblegames/arena/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("matchmaker", "info", "text").WithError(err).Fatal("failed to load configuration")
	}

	logger := logging.New("matchmaker", cfg.LogLevel, cfg.LogFormat)
	entry := logging.WithRole(logger, "matchmaker")

	st, err := store.New(cfg.RedisAddr(), cfg.RedisDB)
	if err != nil {
		entry.WithError(err).Fatal("failed to connect to coordination store")
	}
	defer st.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	entry.WithField("players_per_game", cfg.PlayersPerGame).Info("matchmaker starting")
	matchmaker.New(st, cfg, entry).Run(ctx)
	entry.Info("matchmaker stopped")
}
