package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chauhan112/MyAIChat/internal/api"
	"github.com/chauhan112/MyAIChat/internal/config"
	"github.com/chauhan112/MyAIChat/internal/db"
	"github.com/chauhan112/MyAIChat/internal/llm"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// The logger depends on config, so fall back to a production logger here.
		logger, _ := zap.NewProduction()
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	logger, err := newLogger(cfg)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		logger.Fatal("failed to initialize database",
			zap.Error(err),
			zap.String("dbPath", cfg.DBPath))
	}
	defer database.Close()

	model, err := llm.NewModel(cfg.LLM)
	if err != nil {
		logger.Fatal("failed to initialize LLM client",
			zap.Error(err),
			zap.String("provider", cfg.LLM.Provider))
	}
	qa := llm.New(model, database, cfg.LLM.Model, cfg.LLM.Timeout, logger)

	if !cfg.LogDevelopment {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.NewRouter(api.NewHandler(database, qa, logger))

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("Starting server",
			zap.String("addr", cfg.ListenAddr),
			zap.String("provider", cfg.LLM.Provider),
			zap.String("model", cfg.LLM.Model))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shut down server", zap.Error(err))
	}
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	zcfg := zap.NewProductionConfig()
	if cfg.LogDevelopment {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}
