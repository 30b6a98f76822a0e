package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/Grace-Conversational-Commerce/agent/contract"
	tenantx "github.com/tanpawarit/Grace-Conversational-Commerce/agent/tenant"
	toolx "github.com/tanpawarit/Grace-Conversational-Commerce/agent/tool"
)

type Config struct {
	Port       string `default:"8080"`
	AdminToken string `split_words:"true"`
	// PublicURL is the externally visible base URL, used to check QStash signatures.
	PublicURL string `split_words:"true"`
	BodyLimit int    `split_words:"true" default:"4194304"`
}

// Dialogue is the orchestrator surface the transport drives.
type Dialogue interface {
	HandleMessage(ctx context.Context, msg contractx.InboundMessage) (contractx.Reply, error)
	ClearEscalation(ctx context.Context, tenantID, customerID string) error
	ConfirmPayment(ctx context.Context, tenantID, code string) (toolx.Confirmation, error)
	ArchiveIdle(ctx context.Context) (int, error)
}

type Tenants interface {
	AccountantFor(sender string) (tenantx.Tenant, bool)
	Reload(ctx context.Context) (int64, error)
}

type CacheFlusher interface {
	Flush()
}

type SignatureVerifier interface {
	Verify(signature string, body []byte, destinationURL string) error
}

// Deps wires the transport. Catalog and Signatures are optional.
type Deps struct {
	Dialogue   Dialogue
	Tenants    Tenants
	Catalog    CacheFlusher
	Signatures SignatureVerifier
}

type Server struct {
	app  *fiber.App
	cfg  Config
	deps Deps
}

func New(cfg Config, deps Deps) (*Server, error) {
	if deps.Dialogue == nil {
		return nil, errors.New("dialogue is required")
	}
	if deps.Tenants == nil {
		return nil, errors.New("tenants are required")
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.BodyLimit <= 0 {
		cfg.BodyLimit = 4 * 1024 * 1024
	}

	app := fiber.New(fiber.Config{
		AppName:               "grace",
		BodyLimit:             cfg.BodyLimit,
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})
	app.Use(recover.New())

	s := &Server{app: app, cfg: cfg, deps: deps}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	s.app.Post("/webhook", s.webhook)

	admin := s.app.Group("/admin")
	admin.Post("/reload", s.requireAdmin, s.reload)
	admin.Post("/payments/verify", s.requireAdmin, s.verifyPayment)
	admin.Post("/sessions/archive", s.requireAdminOrSignature, s.archive)
	admin.Post("/sessions/:tenant/:customer/release", s.requireAdmin, s.release)
}

func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) Run() error {
	log.Info().Str("port", s.cfg.Port).Msg("server listening")
	return s.app.Listen(":" + s.cfg.Port)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	if code >= fiber.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.Path()).Msg("request failed")
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}

func requestContext(c *fiber.Ctx, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.UserContext(), timeout)
}

func badRequest(format string, args ...any) error {
	return fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf(format, args...))
}
