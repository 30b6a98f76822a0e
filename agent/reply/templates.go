package reply

import (
	"strconv"
	"strings"
	"text/template"

	contractx "github.com/tanpawarit/Grace-Conversational-Commerce/agent/contract"
	statex "github.com/tanpawarit/Grace-Conversational-Commerce/agent/state"
)

// draftData is what every template may reference.
type draftData struct {
	Brand         string
	Name          string
	Amount        string
	Reference     string
	BankName      string
	AccountName   string
	AccountNumber string
	Selection     string
	ExampleSKU    string
	// NextStep restates what the current stage is waiting for.
	NextStep string
}

var templateText = map[contractx.Obligation]string{
	contractx.ObligationGreet: `Hi{{with .Name}} {{.}}{{end}}! Welcome to {{.Brand}}.

What are you shopping for today? Describe a fabric or send a photo and I'll find it for you.`,

	contractx.ObligationClarify: `Sorry, I didn't quite get that. {{with .NextStep}}{{.}}{{else}}Which fabric, colour or occasion do you have in mind?{{end}}`,

	contractx.ObligationClarifySelection: `Which one would you like? Reply with the item code{{with .ExampleSKU}} (for example {{.}}){{end}} or its number in the list.`,

	contractx.ObligationRedirect: `I can only help with {{.Brand}} products and orders. {{with .NextStep}}{{.}}{{else}}What can I help you find today?{{end}}`,

	contractx.ObligationPromptDiscovery: `Tell me what you have in mind (fabric type, colour, occasion) or send a photo, and I'll show you matching pieces.`,

	contractx.ObligationListing: `Here's what we have for you:`,

	contractx.ObligationOfferAlternatives: `I couldn't find an exact match. Would you like to see our new arrivals, or describe it a little differently?`,

	contractx.ObligationToolUnavailable: `I'm having trouble checking that right now. Please try again in a few minutes.`,

	contractx.ObligationOrderSummary: `Great choice! Your order: {{.Selection}}.

Reply OK and I'll send the payment details for your deposit.`,

	contractx.ObligationPaymentInstructions: `To confirm order {{.Reference}}, please pay a deposit of {{.Amount}} to:

{{.BankName}}
{{.AccountName}}
{{.AccountNumber}}

Send your transfer receipt here once done.`,

	contractx.ObligationPaymentReceivedPending: `Thank you! We've received your proof of payment for order {{.Reference}}. Our team is verifying it and will confirm shortly.`,

	contractx.ObligationPaymentConfirmed: `We've confirmed your {{.Amount}} deposit for order {{.Reference}}. Thank you! We'll start processing your order right away.`,

	contractx.ObligationFulfillment: `Your order {{.Reference}} is being prepared. We'll message you as soon as it ships.`,

	contractx.ObligationClosed: `Your order {{.Reference}} is complete. Thank you for shopping with {{.Brand}}!`,

	contractx.ObligationHandoff: `Thanks for your patience. A member of our team will take it from here.`,

	contractx.ObligationTransientFailure: `Sorry, something went wrong on our side. Please send your message again in a moment.`,

	contractx.ObligationSessionBusy: `Still working on your previous message, one moment please.`,

	contractx.ObligationUnknownTenant: `Sorry, this number isn't set up to take orders yet.`,
}

const (
	escalationOffer = `If you'd prefer, reply "agent" anytime to chat with a member of our team.`
	listingFooter   = `Reply with the code of the one you like.`
)

var stepText = map[statex.Stage]string{
	statex.StageGreeting:         `Which fabric, colour or occasion do you have in mind?`,
	statex.StageDiscovery:        `Which fabric, colour or occasion do you have in mind? You can also send a photo.`,
	statex.StageSelection:        `Which one would you like? Reply with the item code{{with .ExampleSKU}} (for example {{.}}){{end}}.`,
	statex.StageOrderSummary:     `Reply OK to confirm {{.Selection}} and I'll send the payment details.`,
	statex.StagePaymentPending:   `To confirm order {{.Reference}}, please pay the {{.Amount}} deposit to {{.BankName}} {{.AccountNumber}} and send your receipt here.`,
	statex.StagePaymentConfirmed: `Your order {{.Reference}} is confirmed and being processed.`,
	statex.StageFulfillment:      `Your order {{.Reference}} is being prepared. We'll message you as soon as it ships.`,
	statex.StageClosed:           `Tell me what you'd like to shop for next.`,
}

// verifyingStep replaces the PAYMENT_PENDING step once proof has been sent.
const verifyingStep = `We're still verifying your payment for order {{.Reference}} and will confirm shortly.`

const (
	outOfHoursNote = `Our team is available from {{.Start}} to {{.End}}{{with .Timezone}} ({{.}}){{end}} and will follow up then.`
	socialNote     = `Follow us for new arrivals: {{.}}`
)

func mustParse(name, text string) *template.Template {
	return template.Must(template.New(name).Option("missingkey=zero").Parse(text))
}

var templates = func() map[contractx.Obligation]*template.Template {
	out := make(map[contractx.Obligation]*template.Template, len(templateText))
	for ob, text := range templateText {
		out[ob] = mustParse(string(ob), text)
	}
	return out
}()

var (
	stepTemplates = func() map[statex.Stage]*template.Template {
		out := make(map[statex.Stage]*template.Template, len(stepText))
		for stage, text := range stepText {
			out[stage] = mustParse(string(stage), text)
		}
		return out
	}()
	verifyingTemplate  = mustParse("verifying", verifyingStep)
	outOfHoursTemplate = mustParse("out_of_hours", outOfHoursNote)
	socialTemplate     = mustParse("social", socialNote)
)

func execute(tpl *template.Template, data any) string {
	var b strings.Builder
	if err := tpl.Execute(&b, data); err != nil {
		return ""
	}
	return b.String()
}

// nextStep renders the current stage's obligation for clarify and redirect replies.
func nextStep(s *statex.Session, data draftData) string {
	if s.Stage == statex.StagePaymentPending && s.PaymentStatus == statex.PaymentProofSubmitted {
		return execute(verifyingTemplate, data)
	}
	tpl, ok := stepTemplates[s.Stage]
	if !ok {
		return ""
	}
	return execute(tpl, data)
}

func render(ob contractx.Obligation, data draftData) string {
	tpl, ok := templates[ob]
	if !ok {
		tpl = templates[contractx.ObligationClarify]
	}
	var b strings.Builder
	if err := tpl.Execute(&b, data); err != nil {
		return templateText[contractx.ObligationTransientFailure]
	}
	return b.String()
}

var currencySymbols = map[string]string{
	"NGN": "₦",
	"USD": "$",
	"GBP": "£",
	"EUR": "€",
}

// FormatAmount renders whole currency units with thousands separators, e.g. ₦125,000.
func FormatAmount(amount int64, currency string) string {
	neg := amount < 0
	if neg {
		amount = -amount
	}
	digits := strconv.FormatInt(amount, 10)
	var b strings.Builder
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	num := b.String()
	if neg {
		num = "-" + num
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if sym, ok := currencySymbols[currency]; ok {
		return sym + num
	}
	if currency == "" {
		return num
	}
	return currency + " " + num
}

func formatPrice(price float64, currency string) string {
	return FormatAmount(int64(price+0.5), currency)
}
