package intent

import (
	contractx "github.com/tanpawarit/Grace-Conversational-Commerce/agent/contract"
	statex "github.com/tanpawarit/Grace-Conversational-Commerce/agent/state"
)

var escalationPhrases = keywordIntents[0].phrases

// ApplyStageBias adjusts a classified intent using the funnel stage.
//   - escalation words always win
//   - PAYMENT_PENDING: an image or image_submission is a payment proof
//   - SELECTION: naming an offered SKU is a selection
func ApplyStageBias(s *statex.Session, msg statex.Message, in contractx.Intent) contractx.Intent {
	text := normalize(msg.Text)
	for _, p := range escalationPhrases {
		if containsPhrase(text, p) {
			in.Label = contractx.IntentEscalation
			if in.Confidence < confidencePhrase {
				in.Confidence = confidencePhrase
			}
			return in
		}
	}

	switch s.Stage {
	case statex.StagePaymentPending:
		if in.Label == contractx.IntentImageSubmission ||
			(msg.HasMedia() && in.Label != contractx.IntentEscalation && in.Label != contractx.IntentOffTopic) {
			in.Label = contractx.IntentPaymentProof
			if in.Confidence < confidenceMedia {
				in.Confidence = confidenceMedia
			}
		}
	case statex.StageSelection:
		if sku := s.CandidateSKU(in.Slots.SKU); sku != "" &&
			(in.Label == contractx.IntentUnknown || in.Label == contractx.IntentProductInquiry || in.Label == contractx.IntentFabricSelection) {
			in.Label = contractx.IntentFabricSelection
			in.Slots.SKU = sku
			if in.Confidence < confidencePhrase {
				in.Confidence = confidencePhrase
			}
		}
	}
	return in
}
