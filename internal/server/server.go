// Package server exposes the command dispatcher over HTTP.
package server

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"go.uber.org/zap"

	"seclens/internal/apperr"
	"seclens/internal/dispatch"
)

// Server serves the command API.
type Server struct {
	app     *fiber.App
	d       *dispatch.Dispatcher
	logger  *zap.Logger
	version string

	// ctx bounds commands started over HTTP; it ends on Shutdown.
	ctx    context.Context
	cancel context.CancelFunc
}

// New builds a Server around d. Commands run synchronously within the
// request; a second command while one is running gets 409 Conflict.
func New(d *dispatch.Dispatcher, version string, logger *zap.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		d:       d,
		logger:  logger,
		version: version,
		ctx:     ctx,
		cancel:  cancel,
	}
	s.app = fiber.New(fiber.Config{
		AppName:     "seclens",
		ReadTimeout: 30 * time.Second,
	})
	s.app.Use(recover.New())
	s.app.Use(s.logRequests)
	s.Register(s.app)
	return s
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App { return s.app }

// Register sets up the API routes.
func (s *Server) Register(router fiber.Router) {
	api := router.Group("/api/v1")
	api.Get("/health", s.Health)
	api.Get("/status", s.Status)
	api.Post("/commands", s.Command)
	api.Post("/cancel", s.Cancel)
}

// Listen serves on addr until Shutdown.
func (s *Server) Listen(addr string) error {
	s.logger.Info("http api listening", zap.String("addr", addr))
	return s.app.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true})
}

// Shutdown cancels the running command and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) logRequests(c fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	s.logger.Debug("http request",
		zap.String("method", c.Method()),
		zap.String("path", c.Path()),
		zap.Int("status", c.Response().StatusCode()),
		zap.Duration("elapsed", time.Since(start)))
	return err
}

// Health reports liveness.
func (s *Server) Health(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "healthy", "version": s.version})
}

// Status reports the dispatcher state.
func (s *Server) Status(c fiber.Ctx) error {
	return c.JSON(s.d.Status())
}

// Cancel aborts the running command.
func (s *Server) Cancel(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"cancelled": s.d.Cancel()})
}

type commandRequest struct {
	// Line is a full command line; when set the other fields are ignored.
	Line       string `json:"line"`
	Command    string `json:"command"`
	Arg        string `json:"arg"`
	OutputFile string `json:"output_file"`
	Format     string `json:"format"`
}

type commandResponse struct {
	dispatch.Outcome
	Error    string `json:"error,omitempty"`
	ExitCode int    `json:"exit_code"`
}

// Command runs one command and returns its outcome.
func (s *Server) Command(c fiber.Ctx) error {
	var body commandRequest
	if err := c.Bind().JSON(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	line := body.Line
	if line == "" {
		line = quoteCommand(body)
	}
	cmd, err := dispatch.ParseCommand(line)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	if cmd.Name == dispatch.CmdExit {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "exit is not available over HTTP"})
	}

	out := s.d.Dispatch(s.ctx, cmd)
	resp := commandResponse{Outcome: out, ExitCode: out.ExitCode()}
	if out.Err != nil {
		resp.Error = out.Err.Error()
	}
	return c.Status(statusFor(out.Err)).JSON(resp)
}

// quoteCommand rebuilds a command line from structured fields.
func quoteCommand(body commandRequest) string {
	parts := []string{body.Command}
	if body.Arg != "" {
		parts = append(parts, `"`+strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(body.Arg)+`"`)
	}
	if body.OutputFile != "" {
		parts = append(parts, "--output-file", `"`+body.OutputFile+`"`)
	}
	if body.Format != "" {
		parts = append(parts, "--format", body.Format)
	}
	return strings.Join(parts, " ")
}

func statusFor(err error) int {
	switch {
	case err == nil, apperr.IsCancellation(err):
		return fiber.StatusOK
	case errors.Is(err, apperr.ErrCommandInProgress):
		return fiber.StatusConflict
	case errors.Is(err, dispatch.ErrUsage), errors.Is(err, apperr.ErrUnsupportedLanguage),
		errors.Is(err, apperr.ErrMalformedPatch):
		return fiber.StatusBadRequest
	case errors.Is(err, apperr.ErrIndexMissing), errors.Is(err, apperr.ErrIndexStale):
		return fiber.StatusPreconditionFailed
	case errors.Is(err, apperr.ErrStoreUnavailable):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}
