package tool

import (
	"sort"
	"strings"
	"unicode"

	contractx "github.com/tanpawarit/Grace-Conversational-Commerce/agent/contract"
)

// rankable is a catalog item plus the free text it can be matched on.
type rankable struct {
	product contractx.Product
	text    string
}

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "do": {}, "you": {}, "have": {}, "any": {}, "me": {},
	"show": {}, "i": {}, "want": {}, "for": {}, "of": {}, "some": {}, "please": {}, "your": {},
	"is": {}, "are": {}, "there": {}, "what": {}, "in": {}, "with": {}, "and": {}, "to": {},
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-'
	})
	out := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, "-")
		if f == "" {
			continue
		}
		if _, stop := stopWords[f]; stop {
			continue
		}
		out = append(out, f)
	}
	return out
}

// rankByOverlap orders items by how many query tokens they contain. An exact SKU hit
// always ranks first; items sharing no token are dropped. Ties keep catalog order.
func rankByOverlap(items []rankable, query, sku string, limit int) []contractx.Product {
	qTokens := tokenize(query)
	sku = strings.TrimSpace(sku)

	type scored struct {
		product contractx.Product
		score   int
	}
	hits := make([]scored, 0, len(items))
	for _, it := range items {
		score := 0
		if sku != "" && strings.EqualFold(it.product.SKU, sku) {
			score += 1000
		}
		if len(qTokens) > 0 {
			have := make(map[string]struct{})
			for _, tok := range tokenize(it.text + " " + it.product.Name + " " + it.product.SKU) {
				have[tok] = struct{}{}
			}
			for _, q := range qTokens {
				if _, ok := have[q]; ok {
					score += 10
				}
			}
		}
		if score == 0 {
			continue
		}
		if it.product.InStock {
			score++
		}
		hits = append(hits, scored{product: it.product, score: score})
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]contractx.Product, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.product)
	}
	return out
}
