// cmd/reaper/main.go runs the reaper role: a background sweeper of
// stale player records and stale ready-queue entries.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/nimblegames/arena/internal/config"
	"github.com/nimblegames/arena/internal/logging"
	"github.com/nimblegames/arena/internal/reaper"
	"github.com/nimblegames/arena/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("reaper", "info", "text").WithError(err).Fatal("failed to load configuration")
	}

	logger := logging.New("reaper", cfg.LogLevel, cfg.LogFormat)
	entry := logging.WithRole(logger, "reaper")

	st, err := store.New(cfg.RedisAddr(), cfg.RedisDB)
	if err != nil {
		entry.WithError(err).Fatal("failed to connect to coordination store")
	}
	defer st.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	entry.WithField("stale_ms", cfg.StaleMs).Info("reaper starting")
	reaper.New(st, cfg, entry).Run(ctx)
	entry.Info("reaper stopped")
}
