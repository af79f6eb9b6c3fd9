// Package provider implements the HTTP client for the local model server
// (Ollama wire format): embeddings, text generation and a model-presence
// health check.
//
// The client performs no retries. Callers own retry policy and pass their
// deadline through ctx; a deadline or network failure is reported as
// ErrUnavailable, a response the server returned but we cannot interpret as
// ErrParse.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrUnavailable indicates the model server could not be reached or did
	// not answer in time.
	ErrUnavailable = errors.New("model server unavailable")

	// ErrParse indicates the model server answered with an unexpected
	// response shape.
	ErrParse = errors.New("malformed model server response")
)

// Config for the provider client.
type Config struct {
	// Host is the base URL of the model server, e.g. "http://localhost:11434".
	Host string
	// EmbedModel is the embedding model name.
	EmbedModel string
	// ChatModel is the generation model name.
	ChatModel string
	// Temperature for generation.
	Temperature float32
	// MaxTokens caps generated tokens (num_predict).
	MaxTokens int
	// HTTPTimeout is the fallback request timeout when the caller's context
	// carries no deadline. Default 2 minutes.
	HTTPTimeout time.Duration
}

// Client is a thin JSON-over-HTTP client for an Ollama-compatible server.
// Safe for concurrent use.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// New creates a provider client.
func New(cfg Config) (*Client, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("provider host is required")
	}
	if cfg.EmbedModel == "" || cfg.ChatModel == "" {
		return nil, fmt.Errorf("embed and chat model names are required")
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 2 * time.Minute
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
	}, nil
}

// EmbedModel returns the configured embedding model name.
func (c *Client) EmbedModel() string { return c.cfg.EmbedModel }

type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed returns the embedding vector for text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	var resp embedResponse
	err := c.post(ctx, "/api/embeddings", embedRequest{
		Model:  c.cfg.EmbedModel,
		Prompt: text,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if len(resp.Embedding) == 0 {
		return nil, fmt.Errorf("%w: empty embedding", ErrParse)
	}
	return resp.Embedding, nil
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
	Context []int           `json:"context,omitempty"`
}

type generateOptions struct {
	Temperature float32 `json:"temperature"`
	NumPredict  int     `json:"num_predict"`
}

type generateResponse struct {
	Response string `json:"response"`
	Context  []int  `json:"context"`
	Done     bool   `json:"done"`
}

// GenerateResult carries a completed generation. Context is the server's
// opaque conversation state and may be fed back into the next Generate call.
type GenerateResult struct {
	Text    string
	Context []int
}

// Generate runs a non-streaming completion. genCtx is optional prior state
// from a previous GenerateResult; nil starts fresh.
func (c *Client) Generate(ctx context.Context, prompt string, genCtx []int) (GenerateResult, error) {
	var resp generateResponse
	err := c.post(ctx, "/api/generate", generateRequest{
		Model:  c.cfg.ChatModel,
		Prompt: prompt,
		Stream: false,
		Options: generateOptions{
			Temperature: c.cfg.Temperature,
			NumPredict:  c.cfg.MaxTokens,
		},
		Context: genCtx,
	}, &resp)
	if err != nil {
		return GenerateResult{}, err
	}
	if !resp.Done {
		return GenerateResult{}, fmt.Errorf("%w: generation did not complete", ErrParse)
	}
	return GenerateResult{Text: resp.Response, Context: resp.Context}, nil
}

// Health reports whether the configured models are present on the server.
type Health struct {
	EmbedModelPresent bool `json:"embed_model_present"`
	ChatModelPresent  bool `json:"chat_model_present"`
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// Health lists the server's models and checks the configured names are
// present. Model tags ("llama3.1:latest") match by prefix.
func (c *Client) Health(ctx context.Context) (Health, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.Host+"/api/tags", nil)
	if err != nil {
		return Health{}, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Health{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Health{}, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return Health{}, fmt.Errorf("%w: %v", ErrParse, err)
	}

	var h Health
	for _, m := range tags.Models {
		if matchesModel(m.Name, c.cfg.EmbedModel) {
			h.EmbedModelPresent = true
		}
		if matchesModel(m.Name, c.cfg.ChatModel) {
			h.ChatModelPresent = true
		}
	}
	return h, nil
}

// matchesModel compares a server model tag against a configured name,
// ignoring the ":tag" suffix on either side.
func matchesModel(tag, configured string) bool {
	return strings.TrimSuffix(tag, ":latest") == strings.TrimSuffix(configured, ":latest") ||
		strings.SplitN(tag, ":", 2)[0] == strings.SplitN(configured, ":", 2)[0]
}

// post sends a JSON body and decodes the JSON response into result.
func (c *Client) post(ctx context.Context, path string, body, result any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Host+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Covers connection refusal, DNS failure and context deadline:
		// all mean the server did not answer.
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return fmt.Errorf("%w: reading body: %v", ErrUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, truncate(respBody, 256))
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("%w: %v", ErrParse, err)
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
