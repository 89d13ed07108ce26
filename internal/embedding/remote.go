package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// RemoteConfig configures an OpenAI-compatible embeddings endpoint.
type RemoteConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Remote calls an OpenAI-compatible embeddings API:
//
//	POST {baseURL}/embeddings
//	{"model": "...", "input": "..."}
//
// It is the provider of choice when model-grade embeddings matter more than
// offline operation. The dimension is learned from the first response and
// stored atomically, because one instance serves all in-flight queries.
type Remote struct {
	model   string
	apiKey  string
	baseURL string
	client  *http.Client
	logger  *zap.Logger
	dim     atomic.Int64
}

// NewRemote constructs a remote embeddings provider.
func NewRemote(cfg RemoteConfig, logger *zap.Logger) *Remote {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Remote{
		model:   cfg.Model,
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

func (p *Remote) ModelID() string { return "remote:" + p.model }

func (p *Remote) Dimension() int { return int(p.dim.Load()) }

func (p *Remote) Embed(ctx context.Context, text string) ([]float32, error) {
	if p.model == "" || p.apiKey == "" {
		return nil, fmt.Errorf("remote embeddings provider is not configured")
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("cannot embed empty text")
	}

	body, err := json.Marshal(map[string]any{"model": p.model, "input": text})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embeddings request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("embeddings request failed: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var parsed struct {
		Data []struct {
			Embedding []float64 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("cannot parse embeddings response: %w", err)
	}
	if len(parsed.Data) == 0 || len(parsed.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("embeddings response missing embedding")
	}

	emb := parsed.Data[0].Embedding
	got := int64(len(emb))
	if !p.dim.CompareAndSwap(0, got) {
		if want := p.dim.Load(); want != got {
			return nil, fmt.Errorf("embedding dimension changed: got %d want %d", got, want)
		}
	}

	out := make([]float32, len(emb))
	for i, v := range emb {
		out[i] = float32(v)
	}
	return NormalizeL2(out), nil
}
