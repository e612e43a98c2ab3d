package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/elkanatum/tarpaulin-api/internal/auth"
	"github.com/elkanatum/tarpaulin-api/internal/authz"
	"github.com/elkanatum/tarpaulin-api/internal/blob"
	"github.com/elkanatum/tarpaulin-api/internal/config"
	"github.com/elkanatum/tarpaulin-api/internal/db"
	"github.com/elkanatum/tarpaulin-api/internal/enrollment"
	"github.com/elkanatum/tarpaulin-api/internal/events"
	"github.com/elkanatum/tarpaulin-api/internal/identity"
	"github.com/elkanatum/tarpaulin-api/internal/jobs"
)

// Authenticator exchanges user credentials for an access token.
type Authenticator interface {
	Login(ctx context.Context, username, password string) (string, error)
}

// HealthReporter exposes the last dependency probe.
type HealthReporter interface {
	Snapshot() (bool, []jobs.CheckResult)
}

type Dependencies struct {
	Store    db.Store
	Bucket   blob.Bucket
	Decoder  auth.Decoder
	Cache    identity.UserCache
	Login    Authenticator
	Events   events.Publisher
	Health   HealthReporter
	Logger   *zap.Logger
	Registry *prometheus.Registry
}

type Server struct {
	cfg        config.Config
	store      db.Store
	bucket     blob.Bucket
	resolver   *identity.Resolver
	enrollment *enrollment.Manager
	login      Authenticator
	events     events.Publisher
	health     HealthReporter
	logger     *zap.Logger
	registry   *prometheus.Registry
	metrics    *metrics
}

func NewServer(cfg config.Config, deps Dependencies) (*Server, error) {
	if deps.Store == nil {
		return nil, errors.New("store is required")
	}
	if deps.Bucket == nil {
		return nil, errors.New("blob bucket is required")
	}
	if deps.Decoder == nil {
		deps.Decoder = auth.UnverifiedDecoder{}
	}
	if deps.Events == nil {
		deps.Events = events.Nop{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Registry == nil {
		deps.Registry = prometheus.NewRegistry()
		deps.Registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	m, err := newMetrics(deps.Registry)
	if err != nil {
		return nil, err
	}
	logger := deps.Logger.With(zap.String("service", "http"))
	return &Server{
		cfg:        cfg,
		store:      deps.Store,
		bucket:     deps.Bucket,
		resolver:   identity.NewResolver(deps.Decoder, deps.Store, deps.Cache, logger),
		enrollment: enrollment.NewManager(deps.Store),
		login:      deps.Login,
		events:     deps.Events,
		health:     deps.Health,
		logger:     logger,
		registry:   deps.Registry,
		metrics:    m,
	}, nil
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"message": "Tarpaulin API is running"})
	})
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	r.Post("/users/login", s.handleLogin)
	r.With(s.authMiddleware).Get("/users", s.handleListUsers)
	r.With(s.authMiddleware).Get("/users/{userId}", s.handleGetUser)
	r.Post("/users/{userId}/avatar", s.handleCreateAvatar)
	r.With(s.authMiddleware).Get("/users/{userId}/avatar", s.handleGetAvatar)
	r.With(s.authMiddleware).Delete("/users/{userId}/avatar", s.handleDeleteAvatar)

	r.Get("/courses", s.handleListCourses)
	r.With(s.authMiddleware).Post("/courses", s.handleCreateCourse)
	r.Get("/courses/{courseId}", s.handleGetCourse)
	r.With(s.authMiddleware).Patch("/courses/{courseId}", s.handlePatchCourse)
	r.With(s.authMiddleware).Delete("/courses/{courseId}", s.handleDeleteCourse)
	r.With(s.authMiddleware).Get("/courses/{courseId}/students", s.handleGetCourseStudents)
	r.With(s.authMiddleware).Patch("/courses/{courseId}/students", s.handlePatchCourseStudents)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	healthy, checks := s.health.Snapshot()
	status, code := "ok", http.StatusOK
	if !healthy {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]interface{}{"status": status, "checks": checks})
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		route := routePattern(r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		s.metrics.observe(r.Method, route, status, elapsed)
		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("duration", elapsed),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

// Errors

var errInvalidBody = errors.New("invalid_body")

const (
	msgInvalidBody  = "The request body is invalid"
	msgUnauthorized = "Unauthorized"
	msgForbidden    = "You don't have permission on this resource"
	msgNotFound     = "Not found"
	msgConflict     = "Enrollment data is invalid"
	msgInternal     = "Internal server error"
)

func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, errInvalidBody):
		writeError(w, http.StatusBadRequest, msgInvalidBody)
	case errors.Is(err, identity.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, msgUnauthorized)
	case errors.Is(err, authz.ErrForbidden):
		writeError(w, http.StatusForbidden, msgForbidden)
	case errors.Is(err, db.ErrNotFound), errors.Is(err, blob.ErrObjectNotFound):
		writeError(w, http.StatusNotFound, msgNotFound)
	case errors.Is(err, enrollment.ErrConflict):
		writeError(w, http.StatusConflict, msgConflict)
	default:
		s.logger.Error("request failed",
			zap.String("route", routePattern(r)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, msgInternal)
	}
}

func (s *Server) publish(ctx context.Context, key string, payload interface{}) {
	if err := s.events.Publish(ctx, key, payload); err != nil {
		s.logger.Warn("event publish failed", zap.String("key", key), zap.Error(err))
	}
}

// Helpers

// pathID parses an integer path parameter. Ids that are not positive
// integers name no resource.
func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func (s *Server) baseURL(r *http.Request) string {
	if s.cfg.PublicBaseURL != "" {
		return s.cfg.PublicBaseURL
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = strings.ToLower(strings.TrimSpace(strings.Split(proto, ",")[0]))
	}
	return scheme + "://" + r.Host
}

func decodeJSON(r *http.Request, out interface{}) error {
	return json.NewDecoder(r.Body).Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"Error": message})
}
