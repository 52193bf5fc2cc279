package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"nirogai/backend/internal/api"
	"nirogai/backend/internal/auth"
	"nirogai/backend/internal/config"
	"nirogai/backend/internal/predictor"
	"nirogai/backend/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("load config: %v", err)
	}
	if err := cfg.Logging.Apply(logrus.StandardLogger()); err != nil {
		logrus.Fatalf("configure logging: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logrus.Fatalf("invalid config: %v", err)
	}
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	logrus.WithFields(logrus.Fields{
		"environment":    cfg.Environment,
		"db_driver":      cfg.Database.Driver,
		"ml_service":     cfg.Predictor.BaseURL,
		"allow_degraded": cfg.Predictor.AllowDegraded,
	}).Info("configuration loaded")

	if cfg.Database.Driver == store.DriverSQLite {
		if err := ensureDir(cfg.Database.DSN); err != nil {
			logrus.Fatalf("create data directory: %v", err)
		}
	}

	db, err := store.Open(store.Config{
		Driver:          cfg.Database.Driver,
		DSN:             cfg.Database.DSN,
		Silent:          cfg.Database.Silent,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		AcquireTimeout:  cfg.Database.AcquireTimeout,
	})
	if err != nil {
		logrus.Fatalf("open database: %v", err)
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			logrus.WithError(cerr).Warn("close database")
		}
	}()

	client, err := predictor.NewClient(predictor.Config{
		BaseURL: cfg.Predictor.BaseURL,
		Timeout: cfg.Predictor.Timeout,
	})
	if err != nil {
		logrus.Fatalf("predictor client: %v", err)
	}

	verifier, err := auth.NewJWTVerifier(cfg.Auth.JWTSecret)
	if err != nil {
		logrus.Fatalf("auth verifier: %v", err)
	}

	server, err := api.NewServer(api.Config{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Policy:         predictor.Policy{AllowDegraded: cfg.Predictor.AllowDegraded},
	}, db, client, verifier)
	if err != nil {
		logrus.Fatalf("create server: %v", err)
	}

	router, err := server.Router()
	if err != nil {
		logrus.Fatalf("configure router: %v", err)
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logrus.Infof("starting nirog screening backend on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Fatalf("server exited: %v", err)
		}
	}()

	<-ctx.Done()
	logrus.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Error("graceful shutdown")
	}
}

// ensureDir creates the parent directory of a sqlite database file.
func ensureDir(dsn string) error {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || strings.Contains(path, ":memory:") {
		return nil
	}
	return os.MkdirAll(filepath.Dir(path), 0o755)
}
