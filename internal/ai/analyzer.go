package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"
)

const analyzerSystemPrompt = `You are a consulting slide analyst. You receive a batch of slide images from a single presentation deck, in order. For each slide you produce a structural analysis.

Respond with a JSON array, one object per slide, in the same order as the images. Each object has exactly these keys:
- "structure_type": the slide's structural pattern in English, e.g. "Title Slide", "Agenda", "2x2 Matrix", "Waterfall Chart", "Process Flow", "Executive Summary", "Comparison Table", "Timeline".
- "key_message": the single main message of the slide, in Japanese, at most 80 characters.
- "description": a description of the slide's layout and visual elements, in Japanese, at most 250 characters.

Return ONLY the JSON array.`

const (
	maxKeyMessageRunes  = 80
	maxDescriptionRunes = 250
)

// SlideAnalysis is the per-slide structural analysis produced by the vision
// model. StructureType is English; KeyMessage and Description are Japanese.
type SlideAnalysis struct {
	StructureType string `json:"structure_type"`
	KeyMessage    string `json:"key_message"`
	Description   string `json:"description"`
}

// AnalyzeSlides analyses a window of slide images in one model call and
// returns exactly one analysis per image. Slides the model skipped come back
// as error placeholders rather than failing the window.
func (vc *VisionClient) AnalyzeSlides(ctx context.Context, images [][]byte) ([]SlideAnalysis, error) {
	if len(images) == 0 {
		return nil, nil
	}

	parts := make([]genai.Part, 0, len(images)+1)
	parts = append(parts, genai.Text(fmt.Sprintf(
		"Analyze the following %d slides. Return a JSON array with exactly %d objects.",
		len(images), len(images))))
	for _, img := range images {
		parts = append(parts, genai.ImageData("jpeg", img))
	}

	raw, err := vc.generateJSON(ctx, vc.analyzer, "vision.analyze_slides", parts)
	if err != nil {
		return nil, fmt.Errorf("analyze slides: %w", err)
	}
	return parseSlideAnalyses(raw, len(images)), nil
}

// parseSlideAnalyses normalizes model output to exactly n analyses. Parse
// failures and missing entries become error placeholders so one bad response
// never drops a whole window.
func parseSlideAnalyses(raw string, n int) []SlideAnalysis {
	raw = stripJSONFences(raw)

	var analyses []SlideAnalysis
	if err := json.Unmarshal([]byte(raw), &analyses); err != nil {
		// Some responses come back as a single object instead of an array.
		var one SlideAnalysis
		if err := json.Unmarshal([]byte(raw), &one); err == nil && n == 1 {
			analyses = []SlideAnalysis{one}
		}
	}

	out := make([]SlideAnalysis, 0, n)
	for i := 0; i < n; i++ {
		if i < len(analyses) {
			out = append(out, clampAnalysis(analyses[i]))
			continue
		}
		out = append(out, SlideAnalysis{
			StructureType: "Error",
			KeyMessage:    "Analysis missing",
		})
	}
	return out
}

func clampAnalysis(a SlideAnalysis) SlideAnalysis {
	a.StructureType = strings.TrimSpace(a.StructureType)
	if a.StructureType == "" {
		a.StructureType = "Unknown"
	}
	a.KeyMessage = truncateRunes(strings.TrimSpace(a.KeyMessage), maxKeyMessageRunes)
	a.Description = truncateRunes(strings.TrimSpace(a.Description), maxDescriptionRunes)
	return a
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

// stripJSONFences removes a leading/trailing markdown code fence that models
// sometimes wrap around JSON despite the response MIME type.
func stripJSONFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}
