package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Jishnu-21/chat-app/internal/auth"
	"github.com/Jishnu-21/chat-app/internal/config"
	"github.com/Jishnu-21/chat-app/internal/data"
	"github.com/Jishnu-21/chat-app/internal/db"
	"github.com/Jishnu-21/chat-app/internal/hub"
	"github.com/Jishnu-21/chat-app/internal/logging"
	appmw "github.com/Jishnu-21/chat-app/internal/middleware"
)

func main() {
	cfg := config.New()
	logger := logging.New(cfg.LogFormat)

	ctx := context.Background()

	// Initialize database and ensure indexes exist before serving.
	dbClient, err := db.New(ctx, cfg.MongoURI)
	if err != nil {
		logger.Error("failed to connect to DB", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = dbClient.Close(ctx)
	}()

	if err := dbClient.CreateIndexes(ctx); err != nil {
		logger.Error("failed to create indexes", "error", err)
		os.Exit(1)
	}

	usersStore := data.NewUsersStore(dbClient.UsersCollection())
	msgsStore := data.NewMessagesStore(dbClient.MessagesCollection())

	// Tokens stay valid for 24 hours; clients re-login after expiry.
	jwtMgr := auth.NewJWTManager(cfg.JWTSecret, 24*time.Hour)

	// Rate limiter for the register and login endpoints (small burst to
	// allow a couple of quick retries).
	limiterStore := appmw.NewLimiterStore(cfg.RateLimitRPM, 3, 1*time.Minute)
	defer limiterStore.Stop()

	connHub := hub.New(logger)
	srv := newServer(usersStore, msgsStore, jwtMgr, connHub, logger)
	e := newRouter(srv, limiterStore)

	go func() {
		logger.Info("server listening", "port", cfg.Port)
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server exit", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "error", err)
	}
}
