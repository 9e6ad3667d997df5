// Package server exposes the hook endpoint, the read API, the live event
// socket and the operational probes over a single fiber app.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/clnode/internal/broadcast"
	perrors "github.com/p-blackswan/clnode/internal/errors"
	"github.com/p-blackswan/clnode/internal/health"
	"github.com/p-blackswan/clnode/internal/hooks"
	"github.com/p-blackswan/clnode/internal/metrics"
	"github.com/p-blackswan/clnode/internal/requestid"
	"github.com/p-blackswan/clnode/internal/store"
)

// Config holds the HTTP server settings.
type Config struct {
	ListenAddr  string
	CORSOrigins string
}

// HookHandler processes one hook call. *hooks.Dispatcher satisfies it.
type HookHandler interface {
	Handle(ctx context.Context, event string, body []byte) hooks.Response
}

// ProblemDetail is the error body returned by every route.
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Error    string `json:"error"`
	Instance string `json:"instance,omitempty"`
}

// Server is the daemon's fiber application.
type Server struct {
	app     *fiber.App
	store   *store.Store
	hooks   HookHandler
	hub     *broadcast.Hub
	checker *health.Checker
	metrics *metrics.Metrics
	logger  zerolog.Logger
	config  Config

	// closed on Shutdown so open sockets stop streaming.
	done chan struct{}
}

// New creates and configures the server.
func New(
	cfg Config,
	st *store.Store,
	hh HookHandler,
	hub *broadcast.Hub,
	checker *health.Checker,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *Server {
	logger = logger.With().Str("component", "server").Logger()
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler(logger),
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
	})

	s := &Server{
		app:     app,
		store:   st,
		hooks:   hh,
		hub:     hub,
		checker: checker,
		metrics: m,
		logger:  logger,
		config:  cfg,
		done:    make(chan struct{}),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.app.Use(recover.New(recover.Config{EnableStackTrace: true}))

	s.app.Use(func(c *fiber.Ctx) error {
		ctx, id := requestid.Ensure(c.UserContext(), c.Get(requestid.Header))
		c.SetUserContext(ctx)
		c.Set(requestid.Header, id)
		c.Locals("request_id", id)
		return c.Next()
	})

	if s.config.CORSOrigins != "" {
		s.app.Use(cors.New(cors.Config{
			AllowOrigins: s.config.CORSOrigins,
			AllowHeaders: "Origin, Content-Type, Accept, X-Request-ID",
			AllowMethods: "GET, POST, PATCH, DELETE, OPTIONS",
		}))
	}

	s.app.Use(func(c *fiber.Ctx) error {
		path := c.Path()
		if path == "/healthz" || path == "/readyz" || path == "/metrics" || path == "/ws" {
			return c.Next()
		}
		start := time.Now()
		err := c.Next()
		s.logger.Info().
			Str("method", c.Method()).
			Str("path", path).
			Int("status", c.Response().StatusCode()).
			Dur("latency", time.Since(start)).
			Str("request_id", requestid.FromContext(c.UserContext())).
			Msg("request")
		return err
	})
}

func (s *Server) setupRoutes() {
	s.app.Get("/healthz", health.LivenessHandler())
	s.app.Get("/readyz", s.checker.ReadinessHandler())
	s.app.Get("/metrics", adaptor.HTTPHandler(s.metrics.Handler()))

	s.app.Post("/hooks/:event", s.handleHook)

	s.app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	s.app.Get("/ws", websocket.New(s.streamEvents))

	api := s.app.Group("/api")
	api.Get("/health", s.health)
	api.Get("/stats", s.stats)

	api.Get("/projects", s.listProjects)
	api.Post("/projects", s.registerProject)
	api.Get("/projects/:id", s.getProject)

	api.Get("/sessions", s.listSessions)
	api.Get("/sessions/:id", s.getSession)
	api.Get("/sessions/:id/agents", s.sessionAgents)
	api.Get("/sessions/:id/context", s.sessionContext)
	api.Delete("/sessions/:id/context", s.deleteSessionContext)
	api.Get("/sessions/:id/files", s.sessionFiles)
	api.Get("/sessions/:id/activities", s.sessionActivities)
	api.Get("/sessions/:id/events", s.sessionEvents)

	api.Get("/agents", s.listAgents)
	api.Get("/agents/:id", s.getAgent)
	api.Get("/agents/:id/context", s.agentContext)
	api.Get("/agents/:id/files", s.agentFiles)

	api.Post("/context", s.addContext)

	api.Get("/tasks", s.listTasks)
	api.Post("/tasks", s.createTask)
	api.Get("/tasks/:id", s.getTask)
	api.Patch("/tasks/:id", s.updateTask)
	api.Delete("/tasks/:id", s.deleteTask)
	api.Get("/tasks/:id/comments", s.listComments)
	api.Post("/tasks/:id/comments", s.addComment)

	api.Get("/activities", s.listActivities)
	api.Get("/events", s.listEvents)
}

// handleHook always answers 200; the dispatcher absorbs every failure.
func (s *Server) handleHook(c *fiber.Ctx) error {
	// fasthttp reuses the request buffer once the handler returns.
	body := append([]byte(nil), c.Body()...)
	resp := s.hooks.Handle(c.UserContext(), c.Params("event"), body)
	return c.JSON(resp)
}

// Listen serves on the configured address. Blocks until stopped.
func (s *Server) Listen() error {
	addr := s.config.ListenAddr
	if addr == "" {
		addr = "127.0.0.1:3100"
	}
	s.logger.Info().Str("addr", addr).Msg("server starting")
	return s.app.Listen(addr)
}

// Serve serves on an existing listener. Blocks until stopped.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("server starting")
	return s.app.Listener(ln)
}

// Shutdown stops accepting requests and waits for in-flight ones until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("server shutting down")
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	return s.app.ShutdownWithContext(ctx)
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

func errorHandler(logger zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		title := "Internal Server Error"
		typ := "internal_error"
		detail := "an internal error occurred"

		var fe *fiber.Error
		switch {
		case errors.As(err, &fe):
			code = fe.Code
			title = utils.StatusMessage(code)
			typ = "request_error"
			detail = fe.Message
		case errors.Is(err, perrors.ErrInvalidInput):
			code = fiber.StatusBadRequest
			title = "Bad Request"
			typ = "invalid_input"
			detail = err.Error()
		case errors.Is(err, perrors.ErrNotFound):
			code = fiber.StatusNotFound
			title = "Not Found"
			typ = "not_found"
			detail = err.Error()
		}

		ev := logger.Warn()
		if code >= fiber.StatusInternalServerError {
			ev = logger.Error()
		}
		ev.Err(err).
			Int("status", code).
			Str("path", c.Path()).
			Str("method", c.Method()).
			Msg("request failed")

		return c.Status(code).JSON(ProblemDetail{
			Type:     typ,
			Title:    title,
			Status:   code,
			Error:    detail,
			Instance: c.Path(),
		})
	}
}
