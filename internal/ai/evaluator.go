package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"
)

const evaluatorSystemPrompt = `You are a quality gatekeeper for a consulting slide library. You receive the first pages of a PDF as images and decide whether the document is worth ingesting.

ACCEPT a document when either:
1. It was authored by a major consulting firm. Recognized firms: McKinsey, BCG, Bain, Deloitte, PwC, EY, KPMG, Accenture, Roland Berger, A.T. Kearney, Arthur D. Little. Look for logos, copyright lines, and distinctive templates.
2. It is a professionally designed slide deck of high visual quality, even without a firm attribution.

SKIP everything else: plain text documents, scanned books, forms, low-effort decks.

Respond with a single JSON object with exactly these keys:
- "decision": "ACCEPT" or "SKIP".
- "reason": short English reason, e.g. "Major Firm: McKinsey", "High Design Quality", "Low Design Quality / Not a slide deck".
- "firm_name": the recognized firm name, or "" when none.
- "design_rating": "High" or "Low".

Return ONLY the JSON object.`

// Evaluation decisions.
const (
	DecisionAccept = "ACCEPT"
	DecisionSkip   = "SKIP"
)

// DeckEvaluation is the whole-deck quality verdict from the vision model.
type DeckEvaluation struct {
	Decision     string `json:"decision"`
	Reason       string `json:"reason"`
	FirmName     string `json:"firm_name"`
	DesignRating string `json:"design_rating"`
}

// Accepted reports whether the deck passed the quality gate.
func (e DeckEvaluation) Accepted() bool {
	return e.Decision == DecisionAccept
}

// EvaluateDeck judges a deck from its first pages. Unparseable output is an
// error; the caller decides what a failed evaluation means for the file.
func (vc *VisionClient) EvaluateDeck(ctx context.Context, pages [][]byte) (DeckEvaluation, error) {
	if len(pages) == 0 {
		return DeckEvaluation{}, fmt.Errorf("evaluate deck: no pages provided")
	}

	parts := make([]genai.Part, 0, len(pages)+1)
	parts = append(parts, genai.Text(fmt.Sprintf(
		"Evaluate this document based on its first %d pages.", len(pages))))
	for _, img := range pages {
		parts = append(parts, genai.ImageData("jpeg", img))
	}

	raw, err := vc.generateJSON(ctx, vc.evaluator, "vision.evaluate_deck", parts)
	if err != nil {
		return DeckEvaluation{}, fmt.Errorf("evaluate deck: %w", err)
	}

	var eval DeckEvaluation
	if err := json.Unmarshal([]byte(stripJSONFences(raw)), &eval); err != nil {
		return DeckEvaluation{}, fmt.Errorf("evaluate deck: parse response: %w", err)
	}

	eval.Decision = strings.ToUpper(strings.TrimSpace(eval.Decision))
	if eval.Decision != DecisionAccept && eval.Decision != DecisionSkip {
		return DeckEvaluation{}, fmt.Errorf("evaluate deck: unexpected decision %q", eval.Decision)
	}
	return eval, nil
}
