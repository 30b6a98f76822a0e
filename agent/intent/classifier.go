package intent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/Grace-Conversational-Commerce/agent/contract"
	statex "github.com/tanpawarit/Grace-Conversational-Commerce/agent/state"
	metricsx "github.com/tanpawarit/Grace-Conversational-Commerce/pkg/metrics"
)

const (
	DefaultConfidenceThreshold = 0.55
	defaultModelTimeout        = 8 * time.Second
	defaultRetryBackoff        = 150 * time.Millisecond
)

type Config struct {
	ConfidenceThreshold float64       `split_words:"true" default:"0.55"`
	ModelTimeout        time.Duration `split_words:"true" default:"8s"`
	RetryBackoff        time.Duration `split_words:"true" default:"150ms"`
}

// Classifier runs the keyword heuristic first and asks the model only when the
// heuristic is unsure. Stage bias is applied to whichever answer wins.
type Classifier struct {
	heuristic Heuristic
	model     contractx.IntentModel
	cfg       Config
}

var _ contractx.Classifier = (*Classifier)(nil)

// New builds a classifier. model may be nil, in which case only heuristics are used.
func New(model contractx.IntentModel, cfg Config) *Classifier {
	if cfg.ConfidenceThreshold <= 0 || cfg.ConfidenceThreshold > 1 {
		cfg.ConfidenceThreshold = DefaultConfidenceThreshold
	}
	if cfg.ModelTimeout <= 0 {
		cfg.ModelTimeout = defaultModelTimeout
	}
	if cfg.RetryBackoff < 0 {
		cfg.RetryBackoff = defaultRetryBackoff
	}
	return &Classifier{model: model, cfg: cfg}
}

func (c *Classifier) Threshold() float64 {
	return c.cfg.ConfidenceThreshold
}

// Classify never fails on model errors: it degrades to the heuristic answer or to unknown.
// An error is returned only for unusable input.
func (c *Classifier) Classify(ctx context.Context, s *statex.Session, msg statex.Message) (contractx.Intent, error) {
	if s == nil {
		return contractx.Intent{}, fmt.Errorf("%w: session is nil", contractx.ErrValidation)
	}
	if strings.TrimSpace(msg.Text) == "" && !msg.HasMedia() {
		return contractx.Intent{}, fmt.Errorf("%w: message has neither text nor media", contractx.ErrValidation)
	}

	got := c.heuristic.Classify(s, msg)
	if c.model != nil && (got.Label == contractx.IntentUnknown || got.Confidence < c.cfg.ConfidenceThreshold) {
		predicted, err := c.predictWithRetry(ctx, s, msg)
		switch {
		case err == nil:
			if predicted.Slots.SKU == "" {
				predicted.Slots.SKU = got.Slots.SKU
			}
			if predicted.Slots.ImageURL == "" {
				predicted.Slots.ImageURL = got.Slots.ImageURL
			}
			if predicted.Slots.Quantity == 0 {
				predicted.Slots.Quantity = got.Slots.Quantity
			}
			if predicted.Slots.Query == "" {
				predicted.Slots.Query = got.Slots.Query
			}
			if predicted.Label == contractx.IntentProductInquiry && predicted.Slots.Query == "" {
				predicted.Slots.Query = normalize(msg.Text)
			}
			got = predicted
		case got.Label == contractx.IntentUnknown:
			got.Source = contractx.SourceFallback
		}
		if err != nil {
			log.Warn().Err(err).
				Str("tenant_id", s.TenantID).
				Str("customer_id", s.CustomerID).
				Str("fallback_label", string(got.Label)).
				Msg("intent model failed, using fallback")
		}
	}

	got = ApplyStageBias(s, msg, got)
	metricsx.IntentsClassified.WithLabelValues(string(got.Label), string(got.Source)).Inc()
	return got, nil
}

func (c *Classifier) predictWithRetry(ctx context.Context, s *statex.Session, msg statex.Message) (contractx.Intent, error) {
	req := contractx.IntentRequest{
		Text:       strings.TrimSpace(msg.Text),
		HasMedia:   msg.HasMedia(),
		Stage:      s.Stage,
		Candidates: append([]string(nil), s.Candidates...),
		History:    s.History(),
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 && c.cfg.RetryBackoff > 0 {
			select {
			case <-ctx.Done():
				return contractx.Intent{}, fmt.Errorf("%w: %v", contractx.ErrClassification, ctx.Err())
			case <-time.After(c.cfg.RetryBackoff):
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, c.cfg.ModelTimeout)
		out, err := c.model.Predict(callCtx, req)
		cancel()
		if err == nil && out.Label.Valid() {
			out.Source = contractx.SourceLLM
			return out, nil
		}
		if err == nil {
			err = fmt.Errorf("%w: label=%q", contractx.ErrSchemaViolation, out.Label)
		}
		lastErr = err
		if errors.Is(ctx.Err(), context.Canceled) {
			break
		}
	}
	return contractx.Intent{}, fmt.Errorf("%w: %v", contractx.ErrClassification, lastErr)
}
