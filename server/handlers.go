package server

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/Grace-Conversational-Commerce/agent/contract"
	replyx "github.com/tanpawarit/Grace-Conversational-Commerce/agent/reply"
	statex "github.com/tanpawarit/Grace-Conversational-Commerce/agent/state"
	tenantx "github.com/tanpawarit/Grace-Conversational-Commerce/agent/tenant"
	toolx "github.com/tanpawarit/Grace-Conversational-Commerce/agent/tool"
)

const (
	adminTokenHeader = "X-Admin-Token"
	signatureHeader  = "Upstash-Signature"
	maxTwilioMedia   = 10

	turnTimeout  = 30 * time.Second
	adminTimeout = 60 * time.Second
)

var verificationCodePattern = regexp.MustCompile(`\b(\d{4})\b`)

type webhookPayload struct {
	Sender  string   `json:"sender"`
	Channel string   `json:"channel"`
	Name    string   `json:"name"`
	Text    string   `json:"text"`
	Media   []string `json:"media"`
}

type webhookResponse struct {
	Segments   []string `json:"segments"`
	Suppressed bool     `json:"suppressed"`
}

func parseInbound(c *fiber.Ctx) (contractx.InboundMessage, error) {
	if c.Is("json") {
		var p webhookPayload
		if err := c.BodyParser(&p); err != nil {
			return contractx.InboundMessage{}, badRequest("invalid json body: %v", err)
		}
		return contractx.InboundMessage{
			Channel:    p.Channel,
			CustomerID: p.Sender,
			Name:       p.Name,
			Text:       p.Text,
			MediaURLs:  p.Media,
		}, nil
	}

	msg := contractx.InboundMessage{
		Channel:    c.FormValue("To"),
		CustomerID: c.FormValue("From"),
		Name:       c.FormValue("ProfileName"),
		Text:       c.FormValue("Body"),
	}
	for i := 0; i < maxTwilioMedia; i++ {
		if u := strings.TrimSpace(c.FormValue(fmt.Sprintf("MediaUrl%d", i))); u != "" {
			msg.MediaURLs = append(msg.MediaURLs, u)
		}
	}
	return msg, nil
}

func (s *Server) webhook(c *fiber.Ctx) error {
	msg, err := parseInbound(c)
	if err != nil {
		return err
	}

	if t, ok := s.deps.Tenants.AccountantFor(msg.CustomerID); ok {
		return c.JSON(s.accountantReply(c, t, msg.Text))
	}

	ctx, cancel := requestContext(c, turnTimeout)
	defer cancel()

	reply, err := s.deps.Dialogue.HandleMessage(ctx, msg)
	if err != nil && !reply.Suppressed && len(reply.Segments) == 0 {
		return badRequest("%v", err)
	}
	return c.JSON(webhookResponse{Segments: reply.Segments, Suppressed: reply.Suppressed})
}

// accountantReply settles a deposit from a message like "4821 received" or "CONFIRM-4821".
// Messages without a code are acknowledged silently.
func (s *Server) accountantReply(c *fiber.Ctx, t tenantx.Tenant, text string) webhookResponse {
	m := verificationCodePattern.FindStringSubmatch(text)
	if m == nil {
		log.Info().Str("tenant_id", t.ID).Msg("accountant message ignored, no verification code")
		return webhookResponse{Segments: []string{}, Suppressed: true}
	}
	code := m[1]

	ctx, cancel := requestContext(c, adminTimeout)
	defer cancel()

	conf, err := s.deps.Dialogue.ConfirmPayment(ctx, t.ID, code)
	var line string
	switch {
	case err == nil:
		line = fmt.Sprintf("Payment %s confirmed: %s from %s.",
			conf.Reference, replyx.FormatAmount(conf.Amount, conf.Currency), conf.CustomerID)
	case errors.Is(err, toolx.ErrPaymentNotFound):
		line = fmt.Sprintf("No pending payment matches code %s.", code)
	case errors.Is(err, toolx.ErrAlreadyConfirmed):
		line = fmt.Sprintf("Code %s was already confirmed.", code)
	default:
		log.Error().Err(err).Str("tenant_id", t.ID).Msg("accountant confirmation failed")
		line = fmt.Sprintf("Could not confirm code %s right now. Please try again shortly.", code)
	}
	return webhookResponse{Segments: []string{line}}
}

func (s *Server) reload(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c, adminTimeout)
	defer cancel()

	version, err := s.deps.Tenants.Reload(ctx)
	if err != nil {
		return fiber.NewError(fiber.StatusUnprocessableEntity, err.Error())
	}
	if s.deps.Catalog != nil {
		s.deps.Catalog.Flush()
	}
	log.Info().Int64("version", version).Msg("tenants reloaded")
	return c.JSON(fiber.Map{"version": version})
}

type verifyRequest struct {
	Code string `json:"code"`
}

func (s *Server) verifyPayment(c *fiber.Ctx) error {
	var req verifyRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest("invalid body: %v", err)
	}

	ctx, cancel := requestContext(c, adminTimeout)
	defer cancel()

	conf, err := s.deps.Dialogue.ConfirmPayment(ctx, "", req.Code)
	switch {
	case err == nil:
		return c.JSON(fiber.Map{
			"reference":   conf.Reference,
			"tenant_id":   conf.TenantID,
			"customer_id": conf.CustomerID,
			"amount":      conf.Amount,
			"currency":    conf.Currency,
		})
	case errors.Is(err, contractx.ErrValidation):
		return badRequest("%v", err)
	case errors.Is(err, toolx.ErrPaymentNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, toolx.ErrAlreadyConfirmed):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	}
}

func (s *Server) archive(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c, adminTimeout)
	defer cancel()

	n, err := s.deps.Dialogue.ArchiveIdle(ctx)
	if err != nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	}
	return c.JSON(fiber.Map{"archived": n})
}

func (s *Server) release(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c, adminTimeout)
	defer cancel()

	err := s.deps.Dialogue.ClearEscalation(ctx, c.Params("tenant"), c.Params("customer"))
	switch {
	case err == nil:
		return c.SendStatus(fiber.StatusNoContent)
	case errors.Is(err, statex.ErrInvalidSession):
		return badRequest("%v", err)
	case errors.Is(err, statex.ErrStateNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, statex.ErrSessionBusy):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	}
}

func (s *Server) adminAuthorized(c *fiber.Ctx) bool {
	if s.cfg.AdminToken == "" {
		return false
	}
	token := c.Get(adminTokenHeader)
	if token == "" {
		token = strings.TrimPrefix(c.Get(fiber.HeaderAuthorization), "Bearer ")
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AdminToken)) == 1
}

func (s *Server) requireAdmin(c *fiber.Ctx) error {
	if !s.adminAuthorized(c) {
		return fiber.NewError(fiber.StatusUnauthorized, "admin token required")
	}
	return c.Next()
}

// requireAdminOrSignature also admits QStash schedule deliveries signed for this URL.
func (s *Server) requireAdminOrSignature(c *fiber.Ctx) error {
	if s.adminAuthorized(c) {
		return c.Next()
	}
	sig := c.Get(signatureHeader)
	if sig == "" || s.deps.Signatures == nil || s.cfg.PublicURL == "" {
		return fiber.NewError(fiber.StatusUnauthorized, "admin token or signature required")
	}
	dest := strings.TrimRight(s.cfg.PublicURL, "/") + c.Path()
	if err := s.deps.Signatures.Verify(sig, c.Body(), dest); err != nil {
		log.Warn().Err(err).Str("path", c.Path()).Msg("rejected signed request")
		return fiber.NewError(fiber.StatusUnauthorized, "invalid signature")
	}
	return c.Next()
}
