package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// RemoteEmbedder calls an HTTP embedding backend that maps a batch of
// strings to a batch of equal-length float32 vectors, matching the
// Embedding backend external interface: a function from a batch of
// strings to a batch of equal-length f32 vectors of a configured dimension.
type RemoteEmbedder struct {
	endpoint   string
	apiKey     string
	model      string
	dimensions int
	httpClient *http.Client
}

// NewRemote creates a new HTTP-backed embedder.
func NewRemote(endpoint, apiKey, model string, dimensions int) *RemoteEmbedder {
	return &RemoteEmbedder{
		endpoint:   endpoint,
		apiKey:     apiKey,
		model:      model,
		dimensions: dimensions,
		httpClient: &http.Client{
			Timeout: 20 * time.Second,
		},
	}
}

type remoteRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type remoteResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed generates an embedding for a single text input.
func (r *RemoteEmbedder) Embed(ctx context.Context, text string) (*Embedding, error) {
	embeddings, err := r.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

// EmbedBatch generates embeddings for multiple texts in a single request.
func (r *RemoteEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]*Embedding, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(remoteRequest{Model: r.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: status %d: %s", ErrEmbeddingUnavailable, resp.StatusCode, string(data))
	}

	var out remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}
	if len(out.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding backend returned %d vectors for %d inputs", len(out.Embeddings), len(texts))
	}

	result := make([]*Embedding, len(texts))
	for i, vec := range out.Embeddings {
		if r.dimensions > 0 && len(vec) != r.dimensions {
			return nil, fmt.Errorf("%w: expected dimension %d, got %d", ErrEmbeddingDimensionMismatch, r.dimensions, len(vec))
		}
		result[i] = &Embedding{Text: texts[i], Vector: vec, Model: r.Model()}
	}
	return result, nil
}

// Dimensions returns the configured vector dimensionality.
func (r *RemoteEmbedder) Dimensions() int { return r.dimensions }

// Model returns the model identifier.
func (r *RemoteEmbedder) Model() string { return fmt.Sprintf("remote/%s", r.model) }

// RemoteProvider implements Provider for RemoteEmbedder.
type RemoteProvider struct{}

// Name returns the provider identifier.
func (p *RemoteProvider) Name() string { return "remote" }

// Create instantiates a remote embedder from the given configuration.
func (p *RemoteProvider) Create(config map[string]interface{}) (Embedder, error) {
	endpoint, _ := config["endpoint"].(string)
	if endpoint == "" {
		return nil, fmt.Errorf("endpoint is required for remote provider")
	}
	apiKey, _ := config["api_key"].(string)
	model, _ := config["model"].(string)

	dimensions := 0
	switch v := config["dimensions"].(type) {
	case int:
		dimensions = v
	case float64:
		dimensions = int(v)
	}

	return NewRemote(endpoint, apiKey, model, dimensions), nil
}

func init() {
	if err := Register(&RemoteProvider{}); err != nil {
		panic(fmt.Sprintf("failed to register remote provider: %v", err))
	}
}
