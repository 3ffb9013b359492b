// Package vectorgateway implements service.VectorGateway and
// service.VectorGatewayFactory against Google's genai embedding API,
// grounded on the teacher's gemini.ProviderFactory: API keys are
// per-tenant, so a fresh client is built per request rather than shared.
package vectorgateway

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/sogos/etlcore/internal/domain/service"
)

// Client implements service.VectorGateway over a single genai.Client
// bound to one tenant's API key and endpoint.
type Client struct {
	genaiClient *genai.Client
}

// NewClient builds a Client for one tenant's decrypted API key. baseURL
// is honored as an HTTPOptions override, letting the fallback gateway
// point at a distinct endpoint per spec §4.5.
func NewClient(ctx context.Context, apiKey, baseURL string) (*Client, error) {
	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}

	c, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Client{genaiClient: c}, nil
}

var _ service.VectorGateway = (*Client)(nil)

func (c *Client) Embed(ctx context.Context, model string, text string) ([]float32, error) {
	resp, err := c.genaiClient.Models.EmbedContent(ctx, model, genai.Text(text), nil)
	if err != nil {
		return nil, fmt.Errorf("embed content: %w", err)
	}
	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("embed content: provider returned no embeddings")
	}
	return resp.Embeddings[0].Values, nil
}
