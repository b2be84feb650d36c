// cmd/capacityprovider/main.go runs the capacity-provider role: it
// watches demand and grows or shrinks the pool of session runners. The
// concrete hypervisor-backed Backend is out of scope for this core;
// this entrypoint wires the in-memory capacity.FakeBackend shipped for
// tests. A production deployment swaps in a real Backend implementation
// here without touching the policy logic in internal/capacity.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/nimblegames/arena/internal/capacity"
	"github.com/nimblegames/arena/internal/config"
	"github.com/nimblegames/arena/internal/logging"
	"github.com/nimblegames/arena/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("capacity-provider", "info", "text").WithError(err).Fatal("failed to load configuration")
	}

	logger := logging.New("capacity-provider", cfg.LogLevel, cfg.LogFormat)
	entry := logging.WithRole(logger, "capacity-provider")

	st, err := store.New(cfg.RedisAddr(), cfg.RedisDB)
	if err != nil {
		entry.WithError(err).Fatal("failed to connect to coordination store")
	}
	defer st.Close()

	backend := capacity.NewFakeBackend()
	provider := capacity.New(st, cfg, backend, entry)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	entry.WithFields(map[string]interface{}{
		"min_sessions": cfg.MinSessions,
		"max_sessions": cfg.MaxSessions,
	}).Info("capacity provider starting")
	provider.Run(ctx)
	entry.Info("capacity provider stopped")
}
