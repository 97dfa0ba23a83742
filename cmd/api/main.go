package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Bevor-Protocol/certaik-api/internal/bootstrap"
	"github.com/Bevor-Protocol/certaik-api/internal/config"
	"github.com/Bevor-Protocol/certaik-api/internal/infra/httpserver"
)

// drainTimeout bounds how long shutdown waits for background audit runs
const drainTimeout = 30 * time.Second

func main() {
	// load config
	cfg, err := config.Load(config.PathFromEnv())
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	logger, err := cfg.Log.NewLogger()
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	ctx := context.Background()

	// database, prompts, openai, redis, minio
	app, err := bootstrap.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("startup failed", zap.Error(err))
	}
	defer app.Close()

	router := httpserver.NewRouter(app.Service, logger, httpserver.Options{
		CorsOrigins: cfg.Server.CorsOrigins,
		Checkers:    app.Checkers,
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// run server
	go func() {
		logger.Info("server listening",
			zap.String("addr", addr),
			zap.String("driver", cfg.Database.Driver),
			zap.String("model", cfg.Pipeline.Model),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	logger.Info("shutting down server")

	ctx2, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx2); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}

	// runs still going after drainTimeout are cancelled, then given a few
	// seconds to store their failed status before the database closes
	ctx3, cancel3 := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel3()
	if err := router.Drain(ctx3); err != nil {
		logger.Warn("background audits cancelled", zap.Error(err))
		ctx4, cancel4 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel4()
		if err := router.Drain(ctx4); err != nil {
			logger.Error("background audits abandoned", zap.Error(err))
		}
	}
}
