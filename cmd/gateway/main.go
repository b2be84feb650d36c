// cmd/gateway/main.go runs the gateway role: it accepts player
// connections over a websocket and serves the HELLO/READY_UP/UNREADY/
// HEARTBEAT/LEAVE operations.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/nimblegames/arena/internal/config"
	"github.com/nimblegames/arena/internal/gateway"
	"github.com/nimblegames/arena/internal/logging"
	"github.com/nimblegames/arena/internal/middleware"
	"github.com/nimblegames/arena/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("gateway", "info", "text").WithError(err).Fatal("failed to load configuration")
	}

	logger := logging.New("gateway", cfg.LogLevel, cfg.LogFormat)
	entry := logging.WithRole(logger, "gateway")

	st, err := store.New(cfg.RedisAddr(), cfg.RedisDB)
	if err != nil {
		entry.WithError(err).Fatal("failed to connect to coordination store")
	}
	defer st.Close()

	srv := gateway.NewServer(st, cfg, entry)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go srv.ForwardEvents(ctx)

	mux := http.NewServeMux()
	mux.Handle("/ws", middleware.LogMiddleware(logger)(srv.Handler()))

	httpServer := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.GatewayPort),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	entry.WithField("port", cfg.GatewayPort).Info("gateway listening")
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		entry.WithError(err).Fatal("gateway exited")
	}
}
