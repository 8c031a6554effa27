package ai

import (
	"context"
	"encoding/base64"
	"fmt"

	aiplatform "cloud.google.com/go/aiplatform/apiv1"
	"cloud.google.com/go/aiplatform/apiv1/aiplatformpb"
	"google.golang.org/api/option"
	"google.golang.org/protobuf/types/known/structpb"
)

// EmbeddingClient produces multimodal embeddings via the Vertex AI prediction
// API. Image and text are fused into a single vector per call; text longer
// than maxContextChars runes is truncated before submission.
type EmbeddingClient struct {
	client          *aiplatform.PredictionClient
	endpoint        string
	dimension       int
	maxContextChars int
}

func NewEmbeddingClient(ctx context.Context, projectID, location, model string, dimension, maxContextChars int) (*EmbeddingClient, error) {
	if projectID == "" || location == "" {
		return nil, fmt.Errorf("projectID and location must be provided to create an embedding client")
	}

	client, err := aiplatform.NewPredictionClient(ctx,
		option.WithEndpoint(fmt.Sprintf("%s-aiplatform.googleapis.com:443", location)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create prediction client: %w", err)
	}

	return &EmbeddingClient{
		client: client,
		endpoint: fmt.Sprintf("projects/%s/locations/%s/publishers/google/models/%s",
			projectID, location, model),
		dimension:       dimension,
		maxContextChars: maxContextChars,
	}, nil
}

// Dimension returns the configured embedding dimensionality.
func (ec *EmbeddingClient) Dimension() int {
	return ec.dimension
}

// Embed returns one vector for the given image and/or context text. At least
// one input must be non-empty. When both are given the image embedding is
// preferred; it already reflects the text through the joint model.
func (ec *EmbeddingClient) Embed(ctx context.Context, image []byte, contextText string) ([]float32, error) {
	if len(image) == 0 && contextText == "" {
		return nil, fmt.Errorf("embed: image or context text required")
	}

	instance := map[string]any{}
	if len(image) > 0 {
		instance["image"] = map[string]any{
			"bytesBase64Encoded": base64.StdEncoding.EncodeToString(image),
		}
	}
	if contextText != "" {
		instance["text"] = truncateRunes(contextText, ec.maxContextChars)
	}

	instanceValue, err := structpb.NewValue(instance)
	if err != nil {
		return nil, fmt.Errorf("embed: build instance: %w", err)
	}
	params, err := structpb.NewValue(map[string]any{
		"dimension": ec.dimension,
	})
	if err != nil {
		return nil, fmt.Errorf("embed: build parameters: %w", err)
	}

	resp, err := ec.client.Predict(ctx, &aiplatformpb.PredictRequest{
		Endpoint:   ec.endpoint,
		Instances:  []*structpb.Value{instanceValue},
		Parameters: params,
	})
	if err != nil {
		return nil, fmt.Errorf("embed: predict: %w", err)
	}
	if len(resp.Predictions) == 0 {
		return nil, fmt.Errorf("embed: no predictions returned")
	}

	fields := resp.Predictions[0].GetStructValue().GetFields()
	vec := extractVector(fields, "imageEmbedding")
	if vec == nil {
		vec = extractVector(fields, "textEmbedding")
	}
	if vec == nil {
		return nil, fmt.Errorf("embed: no embedding in prediction")
	}
	if len(vec) != ec.dimension {
		return nil, fmt.Errorf("embed: got %d dimensions, want %d", len(vec), ec.dimension)
	}
	return vec, nil
}

func extractVector(fields map[string]*structpb.Value, key string) []float32 {
	v, ok := fields[key]
	if !ok {
		return nil
	}
	values := v.GetListValue().GetValues()
	if len(values) == 0 {
		return nil
	}
	vec := make([]float32, len(values))
	for i, n := range values {
		vec[i] = float32(n.GetNumberValue())
	}
	return vec
}

// Close releases the underlying client.
func (ec *EmbeddingClient) Close() error {
	return ec.client.Close()
}
