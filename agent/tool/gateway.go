package tool

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/Grace-Conversational-Commerce/agent/contract"
	tenantx "github.com/tanpawarit/Grace-Conversational-Commerce/agent/tenant"
	metricsx "github.com/tanpawarit/Grace-Conversational-Commerce/pkg/metrics"
)

const (
	DefaultToolTimeout = 4 * time.Second
	DefaultTopK        = 5
	turnMemory         = 2 * time.Minute
)

var ErrProviderMissing = errors.New("tool provider is not configured")

type CatalogProvider interface {
	Search(ctx context.Context, t tenantx.Tenant, query, sku string, limit int) ([]contractx.Product, error)
}

type PaymentProvider interface {
	Status(ctx context.Context, t tenantx.Tenant, reference string) (contractx.PaymentInfo, error)
}

// ImageMatcher reports the catalog item closest to a customer photo. ok is false when
// nothing clears the matching service's threshold.
type ImageMatcher interface {
	Match(ctx context.Context, t tenantx.Tenant, imageURL string) (product contractx.Product, ok bool, err error)
}

type Config struct {
	Timeout time.Duration `split_words:"true" default:"4s"`
	TopK    int           `split_words:"true" default:"5"`
}

// Gateway is the single door to external capabilities. Every call is bounded by the
// tool timeout and each tool kind runs at most once per turn.
type Gateway struct {
	catalog  CatalogProvider
	payments PaymentProvider
	images   ImageMatcher
	cfg      Config
	turns    *gocache.Cache
}

var _ contractx.ToolGateway = (*Gateway)(nil)

func NewGateway(catalog CatalogProvider, payments PaymentProvider, images ImageMatcher, cfg Config) *Gateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultToolTimeout
	}
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	return &Gateway{
		catalog:  catalog,
		payments: payments,
		images:   images,
		cfg:      cfg,
		turns:    gocache.New(turnMemory, turnMemory),
	}
}

func (g *Gateway) Invoke(ctx context.Context, turnID string, t tenantx.Tenant, req contractx.ToolRequest) contractx.ToolResult {
	start := time.Now()
	res := g.invoke(ctx, turnID, t, req)

	reason := string(res.Reason)
	if res.OK {
		reason = "ok"
	}
	metricsx.ToolCalls.WithLabelValues(string(req.Kind), reason).Inc()
	metricsx.ToolDuration.WithLabelValues(string(req.Kind)).Observe(time.Since(start).Seconds())
	return res
}

func (g *Gateway) invoke(ctx context.Context, turnID string, t tenantx.Tenant, req contractx.ToolRequest) contractx.ToolResult {
	fail := func(reason contractx.FailureReason) contractx.ToolResult {
		return contractx.ToolResult{Kind: req.Kind, Reason: reason}
	}

	if err := validateRequest(req); err != nil {
		log.Warn().Err(err).Str("tenant_id", t.ID).Str("tool", string(req.Kind)).Msg("rejected tool request")
		return fail(contractx.ReasonInvalid)
	}

	if strings.TrimSpace(turnID) != "" {
		if err := g.turns.Add(turnID+":"+string(req.Kind), struct{}{}, gocache.DefaultExpiration); err != nil {
			log.Warn().Str("tenant_id", t.ID).Str("turn_id", turnID).Str("tool", string(req.Kind)).
				Msg("duplicate tool call in one turn")
			return fail(contractx.ReasonDuplicate)
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	type outcome struct {
		res contractx.ToolResult
		err error
	}
	// Buffered so a provider that ignores ctx can still finish after we stop waiting.
	done := make(chan outcome, 1)
	go func() {
		res, err := g.call(callCtx, t, req)
		done <- outcome{res: res, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-callCtx.Done():
		out = outcome{err: callCtx.Err()}
	}

	if out.err == nil {
		out.res.Kind = req.Kind
		return out.res
	}

	switch {
	case errors.Is(out.err, context.DeadlineExceeded), errors.Is(out.err, contractx.ErrToolTimeout):
		log.Warn().Err(fmt.Errorf("%w: %v", contractx.ErrToolTimeout, out.err)).
			Str("tenant_id", t.ID).Str("tool", string(req.Kind)).Dur("timeout", g.cfg.Timeout).Msg("tool call timed out")
		return fail(contractx.ReasonTimeout)
	default:
		log.Warn().Err(fmt.Errorf("%w: %v", contractx.ErrToolTransport, out.err)).
			Str("tenant_id", t.ID).Str("tool", string(req.Kind)).Msg("tool call failed")
		return fail(contractx.ReasonTransport)
	}
}

func (g *Gateway) call(ctx context.Context, t tenantx.Tenant, req contractx.ToolRequest) (contractx.ToolResult, error) {
	switch req.Kind {
	case contractx.ToolCatalogMatch:
		if g.catalog == nil {
			return contractx.ToolResult{}, fmt.Errorf("%w: catalog", ErrProviderMissing)
		}
		products, err := g.catalog.Search(ctx, t, req.Query, req.SKU, g.cfg.TopK)
		if err != nil {
			return contractx.ToolResult{}, err
		}
		if len(products) > g.cfg.TopK {
			products = products[:g.cfg.TopK]
		}
		if len(products) == 0 {
			return contractx.ToolResult{Reason: contractx.ReasonNotFound}, nil
		}
		return contractx.ToolResult{OK: true, Products: products}, nil

	case contractx.ToolImageMatch:
		if g.images == nil {
			return contractx.ToolResult{}, fmt.Errorf("%w: image matcher", ErrProviderMissing)
		}
		product, ok, err := g.images.Match(ctx, t, req.ImageURL)
		if err != nil {
			return contractx.ToolResult{}, err
		}
		if !ok {
			return contractx.ToolResult{Reason: contractx.ReasonNotFound}, nil
		}
		return contractx.ToolResult{OK: true, MatchedSKU: product.SKU, Products: []contractx.Product{product}}, nil

	case contractx.ToolPaymentStatus:
		if g.payments == nil {
			return contractx.ToolResult{}, fmt.Errorf("%w: payments", ErrProviderMissing)
		}
		info, err := g.payments.Status(ctx, t, req.Reference)
		if err != nil {
			return contractx.ToolResult{}, err
		}
		if info.State == contractx.PaymentStateNotFound {
			return contractx.ToolResult{Reason: contractx.ReasonNotFound, Payment: &info}, nil
		}
		return contractx.ToolResult{OK: true, Payment: &info}, nil
	}
	return contractx.ToolResult{}, fmt.Errorf("unsupported tool kind %q", req.Kind)
}

func validateRequest(req contractx.ToolRequest) error {
	switch req.Kind {
	case contractx.ToolCatalogMatch:
		if strings.TrimSpace(req.Query) == "" && strings.TrimSpace(req.SKU) == "" {
			return fmt.Errorf("%w: catalog_match needs a query or sku", contractx.ErrValidation)
		}
	case contractx.ToolImageMatch:
		if strings.TrimSpace(req.ImageURL) == "" {
			return fmt.Errorf("%w: image_match needs an image url", contractx.ErrValidation)
		}
	case contractx.ToolPaymentStatus:
		if strings.TrimSpace(req.Reference) == "" {
			return fmt.Errorf("%w: payment_status needs an order reference", contractx.ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown tool kind %q", contractx.ErrValidation, req.Kind)
	}
	return nil
}
