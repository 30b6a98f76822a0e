package reply

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/Grace-Conversational-Commerce/agent/contract"
	statex "github.com/tanpawarit/Grace-Conversational-Commerce/agent/state"
	tenantx "github.com/tanpawarit/Grace-Conversational-Commerce/agent/tenant"
)

const (
	DefaultListingWordBudget     = 120
	DefaultEscalationOfferAfter  = 2
	DefaultEscalationOfferWindow = 10 * time.Minute
	defaultRewriteTimeout        = 8 * time.Second
)

type Config struct {
	ListingWordBudget     int           `split_words:"true" default:"120"`
	EscalationOfferAfter  int           `split_words:"true" default:"2"`
	EscalationOfferWindow time.Duration `split_words:"true" default:"10m"`
	RewriteTimeout        time.Duration `split_words:"true" default:"8s"`
}

// Composer turns a funnel Decision into customer-facing bubbles. Critical facts come
// from fixed templates; the optional Writer may only restyle them.
type Composer struct {
	writer contractx.Writer
	cfg    Config
	now    func() time.Time
}

var _ contractx.Composer = (*Composer)(nil)

func New(writer contractx.Writer, cfg Config) *Composer {
	if cfg.ListingWordBudget <= 0 {
		cfg.ListingWordBudget = DefaultListingWordBudget
	}
	if cfg.EscalationOfferAfter <= 0 {
		cfg.EscalationOfferAfter = DefaultEscalationOfferAfter
	}
	if cfg.EscalationOfferWindow <= 0 {
		cfg.EscalationOfferWindow = DefaultEscalationOfferWindow
	}
	if cfg.RewriteTimeout <= 0 {
		cfg.RewriteTimeout = defaultRewriteTimeout
	}
	return &Composer{writer: writer, cfg: cfg, now: time.Now}
}

// Compose renders d for s. It records handoff acknowledgement and fallback counts on s.
func (c *Composer) Compose(ctx context.Context, t tenantx.Tenant, s *statex.Session, d contractx.Decision) contractx.Reply {
	if d.Suppress {
		if s.HandoffAcknowledged {
			return contractx.Reply{Suppressed: true, Stage: s.Stage}
		}
		s.HandoffAcknowledged = true
		segments := Split(render(contractx.ObligationHandoff, c.data(t, s)))
		return contractx.Reply{Segments: c.withNotes(t, contractx.ObligationHandoff, segments), Stage: s.Stage}
	}

	data := c.data(t, s)
	draft := render(d.Obligation, data)
	text := c.rewrite(ctx, t, s, d.Obligation, draft, keyFacts(d.Obligation, s.Stage, data))

	var items []contractx.Product
	if d.Listing && d.Result != nil {
		items = d.Result.Products
		if text != draft && !c.introFits(text, items, t.Currency()) {
			log.Debug().Str("tenant_id", t.ID).Msg("rewritten listing intro exceeds word budget, using template")
			text = draft
		}
	}

	segments := Split(text)
	if len(items) > 0 {
		segments = append(segments, c.listing(text, items, t.Currency())...)
		segments = append(segments, listingFooter)
	}
	segments = c.withNotes(t, d.Obligation, segments)

	if d.Obligation.IsFallback() {
		if n := s.RecordFallback(c.now(), c.cfg.EscalationOfferWindow); n >= c.cfg.EscalationOfferAfter {
			segments = append(segments, escalationOffer)
		}
	}

	return contractx.Reply{Segments: segments, Stage: s.Stage}
}

// Fallback is the reply used when no tenant or session is available.
func Fallback(ob contractx.Obligation) contractx.Reply {
	return contractx.Reply{Segments: Split(render(ob, draftData{}))}
}

func (c *Composer) data(t tenantx.Tenant, s *statex.Session) draftData {
	d := draftData{
		Brand:         t.BrandName,
		Name:          strings.TrimSpace(s.CustomerName),
		BankName:      t.Payment.BankName,
		AccountName:   t.Payment.AccountName,
		AccountNumber: t.Payment.AccountNumber,
		Amount:        FormatAmount(t.DepositAmount(), t.Currency()),
		Selection:     strings.Join(s.PendingSelections, ", "),
	}
	if len(s.Candidates) > 0 {
		d.ExampleSKU = s.Candidates[0]
	}
	if o := s.Order; o != nil {
		d.Reference = o.Reference
		if o.DepositAmount > 0 {
			d.Amount = FormatAmount(o.DepositAmount, o.Currency)
		}
		if len(o.SKUs) > 0 {
			d.Selection = strings.Join(o.SKUs, ", ")
		}
	}
	d.NextStep = nextStep(s, d)
	return d
}

// withNotes appends tenant notes: business hours where a human must act next,
// social links where the customer is being pointed elsewhere.
func (c *Composer) withNotes(t tenantx.Tenant, ob contractx.Obligation, segments []string) []string {
	switch ob {
	case contractx.ObligationHandoff, contractx.ObligationPaymentReceivedPending:
		if !t.Hours.Open(c.now()) {
			if note := strings.TrimSpace(execute(outOfHoursTemplate, t.Hours)); note != "" {
				segments = append(segments, note)
			}
		}
	case contractx.ObligationRedirect, contractx.ObligationClosed:
		if links := socialLinks(t.SocialLinks); links != "" {
			segments = append(segments, execute(socialTemplate, links))
		}
	}
	return segments
}

// socialLinks renders links sorted by network name.
func socialLinks(links map[string]string) string {
	names := make([]string, 0, len(links))
	for name, url := range links {
		if strings.TrimSpace(url) != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+" "+strings.TrimSpace(links[name]))
	}
	return strings.Join(parts, ", ")
}

// keyFacts are substrings a paraphrase must keep verbatim.
func keyFacts(ob contractx.Obligation, stage statex.Stage, d draftData) []string {
	var facts []string
	add := func(vs ...string) {
		for _, v := range vs {
			if strings.TrimSpace(v) != "" {
				facts = append(facts, v)
			}
		}
	}
	switch ob {
	case contractx.ObligationPaymentInstructions:
		add(d.Amount, d.Reference, d.AccountNumber, "receipt")
	case contractx.ObligationPaymentConfirmed:
		add(d.Amount, d.Reference, "processing")
	case contractx.ObligationPaymentReceivedPending, contractx.ObligationFulfillment, contractx.ObligationClosed:
		add(d.Reference)
	case contractx.ObligationOrderSummary:
		add(d.Selection)
	case contractx.ObligationClarify, contractx.ObligationRedirect:
		if stage == statex.StagePaymentPending {
			add(d.Reference)
		}
	}
	return facts
}

// rewritable obligations are the ones worth voicing in the tenant's tone.
func rewritable(ob contractx.Obligation) bool {
	switch ob {
	case contractx.ObligationHandoff, contractx.ObligationSessionBusy,
		contractx.ObligationUnknownTenant, contractx.ObligationTransientFailure:
		return false
	default:
		return true
	}
}

func (c *Composer) rewrite(
	ctx context.Context,
	t tenantx.Tenant,
	s *statex.Session,
	ob contractx.Obligation,
	draft string,
	facts []string,
) string {
	if c.writer == nil || !rewritable(ob) {
		return draft
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.RewriteTimeout)
	defer cancel()

	out, err := c.writer.Rewrite(callCtx, contractx.RewriteRequest{
		BrandName:  t.BrandName,
		Tone:       t.Tone,
		Obligation: ob,
		Draft:      draft,
		Facts:      facts,
		History:    s.History(),
	})
	if err != nil {
		log.Warn().Err(err).Str("tenant_id", t.ID).Str("obligation", string(ob)).Msg("reply rewrite failed, using template")
		return draft
	}
	out = strings.TrimSpace(out)
	if out == "" || !containsFacts(out, facts) {
		log.Debug().Str("tenant_id", t.ID).Str("obligation", string(ob)).Msg("rewrite dropped a key fact, using template")
		return draft
	}
	return out
}

func containsFacts(text string, facts []string) bool {
	lower := strings.ToLower(text)
	for _, f := range facts {
		if !strings.Contains(lower, strings.ToLower(f)) {
			return false
		}
	}
	return true
}

// introFits reports whether intro, the footer and the first product fit the word budget.
func (c *Composer) introFits(intro string, products []contractx.Product, currency string) bool {
	used := wordCount(intro) + wordCount(listingFooter)
	if len(products) > 0 {
		used += wordCount(productLine(products[0], currency))
	}
	return used <= c.cfg.ListingWordBudget
}

// listing renders one bubble per product, dropping trailing products once the
// word budget (counted with the intro) would be exceeded. At least one product is kept.
func (c *Composer) listing(intro string, products []contractx.Product, currency string) []string {
	used := wordCount(intro) + wordCount(listingFooter)
	out := make([]string, 0, len(products))
	for _, p := range products {
		item := productLine(p, currency)
		words := wordCount(item)
		if len(out) > 0 && used+words > c.cfg.ListingWordBudget {
			break
		}
		used += words
		out = append(out, item)
	}
	return out
}

func productLine(p contractx.Product, currency string) string {
	cur := p.Currency
	if cur == "" {
		cur = currency
	}
	var b strings.Builder
	b.WriteString(p.Name)
	b.WriteString(" (")
	b.WriteString(p.SKU)
	b.WriteString(")")
	if p.Price > 0 {
		b.WriteString(" - ")
		b.WriteString(formatPrice(p.Price, cur))
	}
	if !p.InStock {
		b.WriteString(" (pre-order)")
	}
	if p.ImageURL != "" {
		b.WriteString("\n")
		b.WriteString(p.ImageURL)
	}
	return b.String()
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}

var blankLine = regexp.MustCompile(`\n[ \t]*\n`)

// Split breaks text into chat bubbles on blank lines.
func Split(text string) []string {
	parts := blankLine.Split(strings.ReplaceAll(text, "\r\n", "\n"), -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
