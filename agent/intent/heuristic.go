package intent

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	contractx "github.com/tanpawarit/Grace-Conversational-Commerce/agent/contract"
	statex "github.com/tanpawarit/Grace-Conversational-Commerce/agent/state"
)

// keywordIntents lists phrases per label. Earlier labels win ties.
var keywordIntents = []struct {
	label   contractx.IntentLabel
	phrases []string
}{
	{contractx.IntentEscalation, []string{
		"human", "real person", "speak to someone", "talk to someone", "customer care",
		"manager", "agent", "complain", "complaint", "call me",
	}},
	{contractx.IntentPaymentProof, []string{
		"paid", "transferred", "i have sent", "i've sent", "receipt", "proof of payment",
		"payment proof", "made payment", "sent the money", "deposit sent",
	}},
	{contractx.IntentFabricSelection, []string{
		"i'll take", "i will take", "i want this", "i want that", "i choose", "i pick",
		"confirm order", "order now", "place order", "ready to buy", "book for me",
		"lock in my order", "finalize my order", "add to cart", "this one", "that one",
	}},
	{contractx.IntentProductInquiry, []string{
		"colors", "colours", "prints", "catalog", "catalogue", "designs", "styles",
		"new arrivals", "collections", "available designs", "do you have", "in stock",
		"availability", "how much", "price", "show me", "pictures", "samples",
		"fabric", "lace", "ankara", "aso oke", "package", "wholesale",
	}},
	{contractx.IntentGreeting, []string{
		"hi", "hello", "hey", "good morning", "good afternoon", "good evening",
		"greetings", "howdy", "good day", "what's up", "yo",
	}},
}

// acknowledgements count only when nothing else matched. They carry an order
// summary forward without naming a product.
var acknowledgements = []string{
	"ok", "okay", "yes", "yeah", "yep", "sure", "alright", "fine", "go ahead", "proceed",
}

var offTopicPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bweather\b`),
	regexp.MustCompile(`\byour name\b`),
	regexp.MustCompile(`\bwhere are you\b`),
	regexp.MustCompile(`\bwho are you\b`),
	regexp.MustCompile(`\bhow old are you\b`),
	regexp.MustCompile(`\btell me a joke\b`),
	regexp.MustCompile(`\bare you real\b`),
	regexp.MustCompile(`\bfootball\b`),
	regexp.MustCompile(`\bholiday\b`),
	regexp.MustCompile(`\bfunny\b`),
}

var (
	skuPattern      = regexp.MustCompile(`(?i)\b([a-z]{2,5}-\d{2,6})\b`)
	quantityPattern = regexp.MustCompile(`(?i)\b(\d{1,4})\s*(pcs|pieces|yards|yds|units|bundles|x)\b`)
	ordinalWords    = []string{"first", "second", "third", "fourth", "fifth"}
	ordinalShort    = []string{"1st", "2nd", "3rd", "4th", "5th"}
	numberPick      = regexp.MustCompile(`(?i)(?:^|\b(?:number|no\.?|option|#)\s*)([1-9])$`)
)

const (
	confidencePhrase  = 0.9
	confidenceWord    = 0.75
	confidenceContest = 0.5
	confidenceMedia   = 0.8
)

// Heuristic is a deterministic keyword/regex classifier.
type Heuristic struct{}

// Classify labels text given the session's offered candidates. It never fails.
func (Heuristic) Classify(s *statex.Session, msg statex.Message) contractx.Intent {
	text := normalize(msg.Text)
	out := contractx.Intent{
		Label:  contractx.IntentUnknown,
		Source: contractx.SourceHeuristic,
		Slots:  extractSlots(s, text),
	}
	if msg.HasMedia() {
		out.Slots.ImageURL = msg.MediaURLs[0]
	}

	if text == "" {
		if msg.HasMedia() {
			out.Label = contractx.IntentImageSubmission
			out.Confidence = confidenceMedia
		}
		return out
	}

	type hit struct {
		label contractx.IntentLabel
		score float64
		order int
	}
	var hits []hit
	for i, group := range keywordIntents {
		best := 0.0
		for _, phrase := range group.phrases {
			if !containsPhrase(text, phrase) {
				continue
			}
			score := confidenceWord
			if strings.Contains(phrase, " ") {
				score = confidencePhrase
			}
			if score > best {
				best = score
			}
		}
		if best > 0 {
			hits = append(hits, hit{label: group.label, score: best, order: i})
		}
	}
	for _, re := range offTopicPatterns {
		if re.MatchString(text) {
			hits = append(hits, hit{label: contractx.IntentOffTopic, score: confidenceWord, order: len(keywordIntents)})
			break
		}
	}

	if out.Slots.SKU != "" {
		hits = append(hits, hit{label: contractx.IntentFabricSelection, score: confidencePhrase, order: 2})
	}

	if len(hits) == 0 && !msg.HasMedia() {
		for _, phrase := range acknowledgements {
			if containsPhrase(text, phrase) {
				hits = append(hits, hit{label: contractx.IntentFabricSelection, score: confidenceWord, order: 2})
				break
			}
		}
	}

	if len(hits) == 0 {
		if msg.HasMedia() {
			out.Label = contractx.IntentImageSubmission
			out.Confidence = confidenceMedia
		}
		return out
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].order < hits[j].order
	})

	top := hits[0]
	out.Label = top.label
	out.Confidence = top.score

	// Greeting words often open real requests ("hi, do you have lace?").
	if top.label == contractx.IntentGreeting && len(hits) > 1 {
		out.Label = hits[1].label
		out.Confidence = hits[1].score
	} else if len(hits) > 1 && hits[1].score == top.score && hits[1].label != contractx.IntentGreeting &&
		top.label != contractx.IntentEscalation {
		out.Confidence = confidenceContest
	}

	if out.Label == contractx.IntentProductInquiry && out.Slots.Query == "" {
		out.Slots.Query = text
	}
	return out
}

func extractSlots(s *statex.Session, text string) contractx.Slots {
	var slots contractx.Slots
	if text == "" {
		return slots
	}

	if m := quantityPattern.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			slots.Quantity = n
		}
	}

	ambiguous := false
	if s != nil && len(s.Candidates) > 0 {
		slots.SKU, ambiguous = pickCandidate(s, text)
	}
	if slots.SKU == "" && !ambiguous {
		if m := skuPattern.FindStringSubmatch(text); m != nil {
			slots.SKU = strings.ToUpper(m[1])
		}
	}
	return slots
}

// pickCandidate resolves text to one offered SKU. Naming more than one offered
// SKU is ambiguous and resolves to nothing.
func pickCandidate(s *statex.Session, text string) (sku string, ambiguous bool) {
	var named []string
	for _, c := range s.Candidates {
		if containsPhrase(text, strings.ToLower(c)) {
			named = append(named, c)
		}
	}
	switch len(named) {
	case 0:
	case 1:
		return named[0], false
	default:
		return "", true
	}

	for idx := range ordinalWords {
		if idx >= len(s.Candidates) {
			break
		}
		if containsPhrase(text, ordinalWords[idx]) || containsPhrase(text, ordinalShort[idx]) {
			return s.Candidates[idx], false
		}
	}
	if m := numberPick.FindStringSubmatch(strings.TrimSpace(text)); m != nil {
		idx, _ := strconv.Atoi(m[1])
		if idx >= 1 && idx <= len(s.Candidates) {
			return s.Candidates[idx-1], false
		}
	}
	return "", false
}

func normalize(text string) string {
	text = strings.ToLower(strings.TrimSpace(text))
	text = strings.NewReplacer("’", "'", "‘", "'").Replace(text)
	return strings.Join(strings.Fields(text), " ")
}

// containsPhrase matches phrase on word boundaries.
func containsPhrase(text, phrase string) bool {
	idx := 0
	for {
		i := strings.Index(text[idx:], phrase)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(phrase)
		if (start == 0 || !isWordByte(text[start-1])) && (end == len(text) || !isWordByte(text[end])) {
			return true
		}
		idx = start + 1
	}
}

func isWordByte(b byte) bool {
	return b == '_' || b == '\'' || (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9')
}
