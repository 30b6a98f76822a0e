package contract

import (
	"strings"
	"time"

	statex "github.com/tanpawarit/Grace-Conversational-Commerce/agent/state"
)

// InboundMessage is one customer message as received from a channel.
type InboundMessage struct {
	// Channel is the business identity the customer wrote to (e.g. the tenant's WhatsApp number).
	Channel    string    `json:"channel"`
	CustomerID string    `json:"customer_id"`
	Name       string    `json:"name,omitempty"`
	Text       string    `json:"text,omitempty"`
	MediaURLs  []string  `json:"media_urls,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// Reply is what goes back to the channel. Each segment is sent as its own bubble.
type Reply struct {
	Segments   []string     `json:"segments"`
	Suppressed bool         `json:"suppressed"`
	Stage      statex.Stage `json:"stage,omitempty"`
}

func (r Reply) Text() string {
	return strings.Join(r.Segments, "\n\n")
}

/* -------------------------------- Intent -------------------------------- */

type IntentLabel string

const (
	IntentGreeting        IntentLabel = "greeting"
	IntentProductInquiry  IntentLabel = "product_inquiry"
	IntentFabricSelection IntentLabel = "fabric_selection"
	IntentPaymentProof    IntentLabel = "payment_proof"
	IntentOffTopic        IntentLabel = "off_topic"
	IntentEscalation      IntentLabel = "escalation"
	IntentImageSubmission IntentLabel = "image_submission"
	IntentUnknown         IntentLabel = "unknown"
)

var intentLabels = map[IntentLabel]struct{}{
	IntentGreeting:        {},
	IntentProductInquiry:  {},
	IntentFabricSelection: {},
	IntentPaymentProof:    {},
	IntentOffTopic:        {},
	IntentEscalation:      {},
	IntentImageSubmission: {},
	IntentUnknown:         {},
}

func (l IntentLabel) Valid() bool {
	_, ok := intentLabels[l]
	return ok
}

type IntentSource string

const (
	SourceHeuristic IntentSource = "heuristic"
	SourceLLM       IntentSource = "llm"
	SourceFallback  IntentSource = "fallback"
)

type Slots struct {
	SKU      string `json:"sku,omitempty"`
	Quantity int    `json:"quantity,omitempty"`
	Query    string `json:"query,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

type Intent struct {
	Label      IntentLabel  `json:"label"`
	Confidence float64      `json:"confidence"`
	Slots      Slots        `json:"slots"`
	Source     IntentSource `json:"source"`
}

// IntentRequest is the model-facing view of a turn.
type IntentRequest struct {
	Text       string       `json:"text"`
	HasMedia   bool         `json:"has_media"`
	Stage      statex.Stage `json:"stage"`
	Candidates []string     `json:"candidates,omitempty"`
	History    []string     `json:"history,omitempty"`
}

/* --------------------------------- Tools -------------------------------- */

type ToolKind string

const (
	ToolCatalogMatch  ToolKind = "catalog_match"
	ToolPaymentStatus ToolKind = "payment_status"
	ToolImageMatch    ToolKind = "image_match"
)

type ToolRequest struct {
	Kind      ToolKind `json:"kind"`
	Query     string   `json:"query,omitempty"`
	SKU       string   `json:"sku,omitempty"`
	ImageURL  string   `json:"image_url,omitempty"`
	Reference string   `json:"reference,omitempty"`
}

type FailureReason string

const (
	ReasonNone      FailureReason = ""
	ReasonTimeout   FailureReason = "timeout"
	ReasonTransport FailureReason = "transport"
	ReasonNotFound  FailureReason = "not_found"
	ReasonInvalid   FailureReason = "invalid"
	ReasonDuplicate FailureReason = "duplicate"
)

type Product struct {
	SKU      string  `json:"sku"`
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	Currency string  `json:"currency,omitempty"`
	ImageURL string  `json:"image_url,omitempty"`
	InStock  bool    `json:"in_stock"`
}

type PaymentState string

const (
	PaymentStateConfirmed PaymentState = "confirmed"
	PaymentStatePending   PaymentState = "pending"
	PaymentStateNotFound  PaymentState = "not_found"
)

type PaymentInfo struct {
	State       PaymentState `json:"state"`
	Amount      int64        `json:"amount,omitempty"`
	ConfirmedAt time.Time    `json:"confirmed_at,omitempty"`
}

// ToolResult is the normalized outcome of one tool call. Failures are values, not errors.
type ToolResult struct {
	Kind       ToolKind      `json:"kind"`
	OK         bool          `json:"ok"`
	Reason     FailureReason `json:"reason,omitempty"`
	Products   []Product     `json:"products,omitempty"`
	Payment    *PaymentInfo  `json:"payment,omitempty"`
	MatchedSKU string        `json:"matched_sku,omitempty"`
}

// Failed reports a transport-level failure as opposed to an empty answer.
func (r ToolResult) Failed() bool {
	return !r.OK && r.Reason != ReasonNotFound
}

/* ------------------------------- Decisions ------------------------------ */

// Obligation is what the reply must accomplish this turn.
type Obligation string

const (
	ObligationGreet                  Obligation = "greet"
	ObligationClarify                Obligation = "clarify"
	ObligationClarifySelection       Obligation = "clarify_selection"
	ObligationRedirect               Obligation = "redirect"
	ObligationPromptDiscovery        Obligation = "prompt_discovery"
	ObligationListing                Obligation = "listing"
	ObligationOfferAlternatives      Obligation = "offer_alternatives"
	ObligationToolUnavailable        Obligation = "tool_unavailable"
	ObligationOrderSummary           Obligation = "order_summary"
	ObligationPaymentInstructions    Obligation = "payment_instructions"
	ObligationPaymentReceivedPending Obligation = "payment_received_pending"
	ObligationPaymentConfirmed       Obligation = "payment_confirmed"
	ObligationFulfillment            Obligation = "fulfillment"
	ObligationClosed                 Obligation = "closed"
	ObligationHandoff                Obligation = "handoff"
	ObligationTransientFailure       Obligation = "transient_failure"
	ObligationSessionBusy            Obligation = "session_busy"
	ObligationUnknownTenant          Obligation = "unknown_tenant"
)

// IsFallback reports obligations that mean the assistant could not move the customer forward.
func (o Obligation) IsFallback() bool {
	switch o {
	case ObligationClarify, ObligationClarifySelection, ObligationToolUnavailable, ObligationTransientFailure:
		return true
	default:
		return false
	}
}

// Decision is the funnel's verdict for one turn.
type Decision struct {
	From       statex.Stage `json:"from"`
	To         statex.Stage `json:"to"`
	Obligation Obligation   `json:"obligation"`
	Tool       *ToolRequest `json:"tool,omitempty"`
	Result     *ToolResult  `json:"result,omitempty"`
	Listing    bool         `json:"listing,omitempty"`
	Suppress   bool         `json:"suppress,omitempty"`
	// OpenPayment asks for a ledger entry and accountant alert for the session order.
	OpenPayment       bool     `json:"open_payment,omitempty"`
	NotifyFulfillment bool     `json:"notify_fulfillment,omitempty"`
	Notes             []string `json:"notes,omitempty"`
}

/* -------------------------------- Writer -------------------------------- */

// RewriteRequest asks the language model to voice a drafted reply in the tenant's tone.
type RewriteRequest struct {
	BrandName  string     `json:"brand_name"`
	Tone       string     `json:"tone"`
	Obligation Obligation `json:"obligation"`
	Draft      string     `json:"draft"`
	// Facts must survive the rewrite verbatim.
	Facts   []string `json:"facts,omitempty"`
	History []string `json:"history,omitempty"`
}

/* -------------------------------- Events -------------------------------- */

type PaymentRequestedEvent struct {
	TenantID         string    `json:"tenant_id"`
	CustomerID       string    `json:"customer_id"`
	Reference        string    `json:"reference"`
	Amount           int64     `json:"amount"`
	Currency         string    `json:"currency"`
	VerificationCode string    `json:"verification_code"`
	Accountant       string    `json:"accountant"`
	At               time.Time `json:"at"`
}

type FulfillmentEvent struct {
	TenantID   string    `json:"tenant_id"`
	CustomerID string    `json:"customer_id"`
	Reference  string    `json:"reference"`
	SKUs       []string  `json:"skus"`
	Amount     int64     `json:"amount"`
	Currency   string    `json:"currency"`
	At         time.Time `json:"at"`
}
