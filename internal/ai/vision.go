package ai

import (
	"context"
	"fmt"
	"log"
	"time"

	"cloud.google.com/go/vertexai/genai"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
)

// VisionClient wraps the Vertex AI Gemini multimodal models used by the
// pipeline: one model configured for per-slide structural analysis and one
// for whole-deck evaluation. Both are forced to JSON output at temperature 0
// so responses stay machine-parseable. All calls go through a shared circuit
// breaker and rate limiter.
type VisionClient struct {
	client    *genai.Client
	analyzer  *genai.GenerativeModel
	evaluator *genai.GenerativeModel
	breaker   *gobreaker.CircuitBreaker
	limiter   *rate.Limiter
}

func NewVisionClient(ctx context.Context, projectID, location, model string) (*VisionClient, error) {
	if projectID == "" || location == "" {
		return nil, fmt.Errorf("projectID and location must be provided to create a vision client")
	}

	client, err := genai.NewClient(ctx, projectID, location)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vertex AI client: %w", err)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "VertexVision",
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("Circuit breaker %s: %s -> %s", name, from, to)
		},
	})

	vc := &VisionClient{
		client:    client,
		analyzer:  configureModel(client, model, analyzerSystemPrompt),
		evaluator: configureModel(client, model, evaluatorSystemPrompt),
		breaker:   breaker,
		// Vertex multimodal quota is per-minute; keep a small burst.
		limiter: rate.NewLimiter(rate.Limit(2), 4),
	}
	return vc, nil
}

func configureModel(client *genai.Client, model, systemPrompt string) *genai.GenerativeModel {
	m := client.GenerativeModel(model)
	m.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(systemPrompt)},
	}
	m.GenerationConfig = genai.GenerationConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0.0),
	}
	m.SafetySettings = []*genai.SafetySetting{
		{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockNone},
	}
	return m
}

// generateJSON runs one model call through the limiter and breaker and
// returns the concatenated text of the first candidate.
func (vc *VisionClient) generateJSON(ctx context.Context, model *genai.GenerativeModel, op string, parts []genai.Part) (string, error) {
	tracer := otel.Tracer("vision-client")
	ctx, span := tracer.Start(ctx, op)
	defer span.End()
	span.SetAttributes(attribute.Int("vision.parts", len(parts)))

	if err := vc.limiter.Wait(ctx); err != nil {
		span.SetAttributes(attribute.Bool("vision.rate_limited", true))
		return "", err
	}

	result, err := vc.breaker.Execute(func() (interface{}, error) {
		resp, err := model.GenerateContent(ctx, parts...)
		if err != nil {
			return nil, err
		}
		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			return nil, fmt.Errorf("empty response from model")
		}
		var text string
		for _, part := range resp.Candidates[0].Content.Parts {
			if t, ok := part.(genai.Text); ok {
				text += string(t)
			}
		}
		return text, nil
	})
	if err != nil {
		span.SetAttributes(attribute.Bool("vision.error", true))
		span.SetAttributes(attribute.String("vision.error_message", err.Error()))
		return "", err
	}

	span.SetAttributes(attribute.Bool("vision.success", true))
	return result.(string), nil
}

// Close releases the underlying client.
func (vc *VisionClient) Close() error {
	if vc.client != nil {
		return vc.client.Close()
	}
	return nil
}
