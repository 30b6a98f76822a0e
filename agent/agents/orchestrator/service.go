package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/compose"
	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/Grace-Conversational-Commerce/agent/contract"
	funnelx "github.com/tanpawarit/Grace-Conversational-Commerce/agent/funnel"
	intentx "github.com/tanpawarit/Grace-Conversational-Commerce/agent/intent"
	nodex "github.com/tanpawarit/Grace-Conversational-Commerce/agent/nodes/orchestrator"
	replyx "github.com/tanpawarit/Grace-Conversational-Commerce/agent/reply"
	statex "github.com/tanpawarit/Grace-Conversational-Commerce/agent/state"
	tenantx "github.com/tanpawarit/Grace-Conversational-Commerce/agent/tenant"
	toolx "github.com/tanpawarit/Grace-Conversational-Commerce/agent/tool"
	metricsx "github.com/tanpawarit/Grace-Conversational-Commerce/pkg/metrics"
)

var (
	ErrInvalidMessage  = nodex.ErrInvalidMessage
	ErrInvalidCustomer = nodex.ErrInvalidCustomer
	ErrInvalidChannel  = nodex.ErrInvalidChannel
	ErrPaymentsOff     = errors.New("payment verification is not configured")
)

type Config struct {
	WindowSize     int           `split_words:"true" default:"10"`
	LoadRetryDelay time.Duration `split_words:"true" default:"200ms"`
	ArchiveAfter   time.Duration `split_words:"true" default:"720h"`
}

// PaymentConfirmer settles a pending deposit from the accountant's verification code.
type PaymentConfirmer interface {
	Confirm(ctx context.Context, tenantID, code string) (toolx.Confirmation, error)
}

type thresholder interface {
	Threshold() float64
}

// Deps are the collaborators of one orchestrator. Ledger, Confirmer and Notifier are optional.
type Deps struct {
	Tenants    contractx.TenantResolver
	Store      statex.Store
	Locker     statex.Locker
	Classifier contractx.Classifier
	Machine    *funnelx.Machine
	Tools      contractx.ToolGateway
	Composer   contractx.Composer
	Ledger     contractx.PaymentLedger
	Confirmer  PaymentConfirmer
	Notifier   contractx.Notifier
}

type Orchestrator struct {
	tenants    contractx.TenantResolver
	store      statex.Store
	locker     statex.Locker
	classifier contractx.Classifier
	machine    *funnelx.Machine
	tools      contractx.ToolGateway
	composer   contractx.Composer
	ledger     contractx.PaymentLedger
	confirmer  PaymentConfirmer
	notifier   contractx.Notifier

	graphRunner compose.Runnable[nodex.GraphInput, nodex.GraphOutput]

	cfg Config
	now func() time.Time
}

func New(deps Deps, cfg Config) (*Orchestrator, error) {
	if deps.Tenants == nil {
		return nil, errors.New("tenant resolver is required")
	}
	if deps.Store == nil {
		return nil, errors.New("session store is required")
	}
	if deps.Classifier == nil {
		return nil, errors.New("intent classifier is required")
	}
	if deps.Tools == nil {
		return nil, errors.New("tool gateway is required")
	}
	if deps.Composer == nil {
		return nil, errors.New("reply composer is required")
	}
	if deps.Locker == nil {
		deps.Locker = statex.NewLocalLocker()
	}
	threshold := intentx.DefaultConfidenceThreshold
	if tc, ok := deps.Classifier.(thresholder); ok {
		threshold = tc.Threshold()
	}
	if deps.Machine == nil {
		deps.Machine = funnelx.New(funnelx.Policy{ConfidenceThreshold: threshold})
	}
	if deps.Machine.Threshold() != threshold {
		return nil, fmt.Errorf("funnel confidence threshold %.2f differs from classifier %.2f",
			deps.Machine.Threshold(), threshold)
	}

	if cfg.WindowSize <= 0 {
		cfg.WindowSize = statex.DefaultWindowSize
	}
	if cfg.LoadRetryDelay <= 0 {
		cfg.LoadRetryDelay = 200 * time.Millisecond
	}
	if cfg.ArchiveAfter <= 0 {
		cfg.ArchiveAfter = 30 * 24 * time.Hour
	}

	o := &Orchestrator{
		tenants:    deps.Tenants,
		store:      deps.Store,
		locker:     deps.Locker,
		classifier: deps.Classifier,
		machine:    deps.Machine,
		tools:      deps.Tools,
		composer:   deps.Composer,
		ledger:     deps.Ledger,
		confirmer:  deps.Confirmer,
		notifier:   deps.Notifier,
		cfg:        cfg,
		now:        time.Now,
	}

	graphRunner, err := o.compileHandleMessageGraph(context.Background())
	if err != nil {
		return nil, err
	}
	o.graphRunner = graphRunner

	return o, nil
}

// HandleMessage runs one customer turn. When the turn cannot complete, the returned
// reply is the fallback to send and err says why; invalid input yields an empty reply.
func (o *Orchestrator) HandleMessage(ctx context.Context, msg contractx.InboundMessage) (contractx.Reply, error) {
	start := o.now()
	lock := &nodex.LockHandle{}
	defer lock.Release()

	out, err := o.graphRunner.Invoke(ctx, nodex.GraphInput{Message: msg, Lock: lock})
	if err == nil {
		o.observe(out.TenantID, "ok", start)
		return out.Reply, nil
	}

	tenantID := ""
	if t, rerr := o.tenants.Resolve(msg.Channel); rerr == nil {
		tenantID = t.ID
	}

	var ob contractx.Obligation
	var outcome string
	switch {
	case errors.Is(err, ErrInvalidMessage), errors.Is(err, ErrInvalidCustomer), errors.Is(err, ErrInvalidChannel):
		o.observe(tenantID, "invalid", start)
		return contractx.Reply{}, err
	case errors.Is(err, tenantx.ErrUnknownTenant):
		ob, outcome = contractx.ObligationUnknownTenant, "unknown_tenant"
	case errors.Is(err, statex.ErrSessionBusy):
		ob, outcome = contractx.ObligationSessionBusy, "busy"
	default:
		ob, outcome = contractx.ObligationTransientFailure, "failed"
	}
	o.observe(tenantID, outcome, start)

	log.Error().
		Err(err).
		Str("tenant_id", tenantID).
		Str("channel", msg.Channel).
		Str("customer_id", msg.CustomerID).
		Str("outcome", outcome).
		Msg("turn aborted")

	return replyx.Fallback(ob), err
}

// ClearEscalation hands a conversation back to automation after a human takeover.
func (o *Orchestrator) ClearEscalation(ctx context.Context, tenantID, customerID string) error {
	tenantID = strings.TrimSpace(tenantID)
	customerID = strings.TrimSpace(customerID)
	if tenantID == "" || customerID == "" {
		return statex.ErrInvalidSession
	}

	release, err := o.locker.Acquire(ctx, statex.SessionKey(tenantID, customerID))
	if err != nil {
		return err
	}
	defer release()

	s, err := o.store.Load(ctx, tenantID, customerID)
	if err != nil {
		return err
	}

	from := s.Stage
	s.ClearEscalation()
	s.Touch(o.now())
	if err := o.store.Save(ctx, s); err != nil {
		return err
	}

	log.Info().
		Str("tenant_id", tenantID).
		Str("customer_id", customerID).
		Str("from", string(from)).
		Str("stage", string(s.Stage)).
		Msg("escalation cleared")
	return nil
}

// ConfirmPayment settles the deposit behind an accountant's verification code. An empty
// tenantID matches any tenant. The customer's session observes the confirmation
// through the payment status tool.
func (o *Orchestrator) ConfirmPayment(ctx context.Context, tenantID, code string) (toolx.Confirmation, error) {
	if o.confirmer == nil {
		return toolx.Confirmation{}, ErrPaymentsOff
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return toolx.Confirmation{}, fmt.Errorf("%w: verification code is required", contractx.ErrValidation)
	}

	c, err := o.confirmer.Confirm(ctx, tenantID, code)
	if err != nil {
		return toolx.Confirmation{}, err
	}

	log.Info().
		Str("tenant_id", c.TenantID).
		Str("customer_id", c.CustomerID).
		Str("reference", c.Reference).
		Int64("amount", c.Amount).
		Msg("payment confirmed by accountant")
	return c, nil
}

// ArchiveIdle archives sessions idle for longer than the configured window.
func (o *Orchestrator) ArchiveIdle(ctx context.Context) (int, error) {
	n, err := o.store.ArchiveStale(ctx, o.now().Add(-o.cfg.ArchiveAfter))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metricsx.SessionsArchived.Add(float64(n))
		log.Info().Int("sessions", n).Msg("idle sessions archived")
	}
	return n, nil
}

func (o *Orchestrator) observe(tenantID, outcome string, start time.Time) {
	if tenantID == "" {
		tenantID = "unknown"
	}
	metricsx.TurnsHandled.WithLabelValues(tenantID, outcome).Inc()
	metricsx.TurnDuration.WithLabelValues(tenantID).Observe(o.now().Sub(start).Seconds())
}
