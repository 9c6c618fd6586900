// Package httpapi implements spec.md §4.10's resource-oriented RPC
// surface plus the auxiliary HTTP endpoints in §6, over fiber. Grounded
// on raito's internal/http/router.go: the same request-logging-plus-
// metrics middleware chain, the same JSON response envelope convention
// (handlers_jobs.go's {success, code, error, ...} shape), generalized
// from raito's multi-tenant/API-key auth to Sitebookify's public,
// login-free surface — there is no principal to scope by, so every
// route runs unauthenticated except the worker-only /internal group.
package httpapi

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"sitebookify/internal/config"
	"sitebookify/internal/dispatch"
	"sitebookify/internal/metrics"
	"sitebookify/internal/store"
)

// Server wraps the fiber app and the dependencies every handler needs.
type Server struct {
	app           *fiber.App
	cfg           *config.Config
	jobStore      store.JobStore
	artifactStore store.ArtifactStore
	dispatcher    dispatch.JobDispatcher
	logger        *slog.Logger
}

// NewServer wires up routes and middleware. dispatcher is whichever
// JobDispatcher this process runs with — InProcessDispatcher for an
// all-in-one deployment or the API half of a split deployment,
// RemoteDispatcher when this process only accepts CreateJob and hands
// execution to a separate worker. The worker process itself also calls
// NewServer, but with an InProcessDispatcher, so that
// POST /internal/jobs/{id}/run can reuse the same dispatch path
// CreateJob uses.
func NewServer(cfg *config.Config, jobStore store.JobStore, artifactStore store.ArtifactStore, dispatcher dispatch.JobDispatcher, logger *slog.Logger) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	s := &Server{
		app:           app,
		cfg:           cfg,
		jobStore:      jobStore,
		artifactStore: artifactStore,
		dispatcher:    dispatcher,
		logger:        logger,
	}

	app.Use(func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		method := c.Method()
		path := c.Route().Path

		metrics.RecordHTTPRequest(method, path, status, time.Since(start).Seconds())
		if logger != nil {
			logger.Info("request",
				"method", method,
				"path", path,
				"status", status,
				"latency_ms", time.Since(start).Milliseconds(),
			)
		}
		return err
	})

	promHandler := fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler())
	app.Get("/healthz", s.healthzHandler)
	app.Get("/metrics", func(c *fiber.Ctx) error {
		promHandler(c.Context())
		return nil
	})

	v1 := app.Group("/v1")
	v1.Post("/jobs", s.createJobHandler)
	v1.Get("/jobs", s.listJobsHandler)
	v1.Get("/jobs/:id", s.getJobHandler)
	v1.Post("/jobs/:id/download-url", s.generateJobDownloadURLHandler)
	v1.Post("/preview", s.previewHandler)

	app.Get("/jobs/:id/book.md", s.bookMarkdownHandler)
	app.Get("/jobs/:id/book.epub", s.bookEPUBHandler)
	app.Get("/artifacts/:id", s.artifactHandler)

	internal := app.Group("/internal", s.workerAuthMiddleware)
	internal.Post("/jobs/:id/run", s.internalRunHandler)

	return s
}

// Listen starts the HTTP server on cfg.Server.Host:Port.
func (s *Server) Listen() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	return s.app.Listen(addr)
}

// App exposes the underlying fiber app for tests that drive requests
// with app.Test(req) rather than a live listener.
func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) healthzHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// workerAuthMiddleware guards the /internal group with the shared
// dispatch secret spec.md §4.11 names (worker_auth_token). A missing
// configured token means this process never accepts worker calls.
func (s *Server) workerAuthMiddleware(c *fiber.Ctx) error {
	token := s.cfg.Dispatch.WorkerAuthToken
	if token == "" {
		return c.Status(fiber.StatusForbidden).JSON(errorResponse("DISPATCH_FAILURE", "worker auth token not configured"))
	}
	got := c.Get("Authorization")
	if got != "Bearer "+token {
		return c.Status(fiber.StatusUnauthorized).JSON(errorResponse("UNAUTHENTICATED", "invalid or missing worker auth token"))
	}
	return c.Next()
}

// errorResponse is the JSON envelope every failing handler returns,
// matching raito's {success, code, error} shape from handlers_jobs.go.
func errorResponse(code, message string) fiber.Map {
	return fiber.Map{"success": false, "code": code, "error": message}
}
