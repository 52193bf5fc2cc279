package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"nirogai/backend/internal/auth"
	"nirogai/backend/internal/predictor"
	"nirogai/backend/internal/store"
)

// Client-facing messages. Driver and transport detail never leaves the server.
var (
	errBadBody      = errors.New("request body must be a JSON object")
	errUnavailable  = errors.New("ML service unavailable")
	errSaveFailed   = errors.New("failed to save screening")
	errLoadFailed   = errors.New("failed to load screenings")
	errNotFound     = errors.New("screening not found")
	errBadID        = errors.New("invalid screening id")
	errInternal     = errors.New("internal server error")
	errUnauthorized = errors.New("authentication required")
)

// Store is the audit persistence used by the handlers.
type Store interface {
	Append(ctx context.Context, s *store.Screening) error
	History(ctx context.Context, q store.HistoryQuery) ([]store.Screening, error)
	GetByID(ctx context.Context, userID, id uint) (*store.Screening, error)
	Ping(ctx context.Context) error
}

// Config defines server settings.
type Config struct {
	AllowedOrigins []string
	Policy         predictor.Policy
	HealthTimeout  time.Duration
}

// Server wires HTTP handlers with the predictor, the audit store and auth.
type Server struct {
	db             Store
	predictor      predictor.Predictor
	verifier       auth.Verifier
	allowedOrigins []string
	policy         predictor.Policy
	healthTimeout  time.Duration
}

// NewServer constructs the API server.
func NewServer(cfg Config, db Store, p predictor.Predictor, v auth.Verifier) (*Server, error) {
	if db == nil {
		return nil, errors.New("store required")
	}
	if p == nil {
		return nil, errors.New("predictor required")
	}
	if v == nil {
		return nil, errors.New("verifier required")
	}
	healthTimeout := cfg.HealthTimeout
	if healthTimeout <= 0 {
		healthTimeout = 3 * time.Second
	}

	logrus.WithField("allow_degraded", cfg.Policy.AllowDegraded).Info("prediction policy")

	return &Server{
		db:             db,
		predictor:      p,
		verifier:       v,
		allowedOrigins: cfg.AllowedOrigins,
		policy:         cfg.Policy,
		healthTimeout:  healthTimeout,
	}, nil
}

// Router configures gin routes.
func (s *Server) Router() (*gin.Engine, error) {
	r := gin.New()
	r.Use(correlationID(), accessLog(), gin.CustomRecovery(s.recoverPanic))

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowCredentials = true
	if len(s.allowedOrigins) == 0 {
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowCredentials = false
	} else {
		corsCfg.AllowOrigins = s.allowedOrigins
	}
	corsCfg.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", requestIDHeader}
	corsCfg.ExposeHeaders = []string{requestIDHeader}
	corsCfg.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	r.Use(cors.New(corsCfg))

	r.GET("/api/healthz", s.handleHealth)

	diabetes := r.Group("/api/screen/diabetes", auth.RequireAuth(s.verifier))
	{
		diabetes.POST("/predict", s.handlePredict)
		diabetes.GET("/history", s.handleHistory)
		diabetes.GET("/result/:id", s.handleResult)
	}

	return r, nil
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.healthTimeout)
	defer cancel()

	status := http.StatusOK
	body := gin.H{"status": "ok", "database": "ok", "ml_service": "ok"}

	if err := s.db.Ping(ctx); err != nil {
		logEntry(c).WithError(err).Error("health: database ping failed")
		status = http.StatusServiceUnavailable
		body["status"] = "unavailable"
		body["database"] = "unavailable"
	}
	if err := s.predictor.Health(ctx); err != nil {
		logEntry(c).WithError(err).Warn("health: ml service unreachable")
		body["ml_service"] = "unavailable"
		if status == http.StatusOK {
			body["status"] = "degraded"
		}
	}
	body["allow_degraded"] = s.policy.AllowDegraded
	c.JSON(status, body)
}

func (s *Server) recoverPanic(c *gin.Context, recovered any) {
	logEntry(c).WithField("panic", recovered).Error("handler panic")
	s.renderError(c, http.StatusInternalServerError, errInternal)
}

func (s *Server) renderError(c *gin.Context, status int, err error) {
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

func parseUintParam(value string) (uint, error) {
	id, err := strconv.ParseUint(value, 10, 64)
	if err != nil || id == 0 {
		return 0, errBadID
	}
	return uint(id), nil
}
