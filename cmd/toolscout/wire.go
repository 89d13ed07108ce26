package main

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/orlevy/toolscout/internal/compose"
	"github.com/orlevy/toolscout/internal/config"
	"github.com/orlevy/toolscout/internal/embedding"
	"github.com/orlevy/toolscout/internal/index"
	"github.com/orlevy/toolscout/internal/interpret"
	"github.com/orlevy/toolscout/internal/llm"
	"github.com/orlevy/toolscout/internal/rank"
	"github.com/orlevy/toolscout/internal/recommend"
	"github.com/orlevy/toolscout/internal/stats"
	"github.com/orlevy/toolscout/internal/websearch"
)

// app holds the wired components a command needs.
type app struct {
	cfg      *config.Config
	service  *recommend.Service
	snapshot *index.Snapshot
	registry *prometheus.Registry
	logger   *zap.Logger
}

// newApp builds the full pipeline from configuration. The index snapshot
// starts empty; callers load or rebuild as appropriate.
func newApp(cfg *config.Config, logger *zap.Logger) (*app, error) {
	factory, err := providerFactory(cfg, logger)
	if err != nil {
		return nil, err
	}

	snapshot := index.NewSnapshot(nil)
	registry := prometheus.NewRegistry()
	recorder := stats.NewPrometheus(registry, logger)

	llmClient := llm.New(llm.Config{
		BaseURL:    cfg.LLMBaseURL,
		APIKey:     cfg.LLMAPIKey,
		Model:      cfg.LLMModel,
		Timeout:    cfg.LLMTimeout,
		MaxTokens:  cfg.LLMMaxTokens,
		MaxRetries: 2,
		RateLimit:  cfg.RateLimit,
		RateBurst:  cfg.RateBurst,
	}, logger)

	searcher := websearch.New(websearch.Config{
		Endpoint:   cfg.SearchEndpoint,
		APIKey:     cfg.SearchAPIKey,
		Timeout:    cfg.SearchTimeout,
		MaxResults: cfg.SearchMaxResults,
		RateLimit:  cfg.RateLimit,
		RateBurst:  cfg.RateBurst,
	}, logger)

	service := recommend.NewService(recommend.Options{
		CatalogPath: cfg.CatalogPath,
		IndexDir:    cfg.IndexDir,
		Interpreter: interpret.New(llmClient, cfg.LLMTimeout, logger),
		Ranker:      rank.New(snapshot, cfg.TopK, cfg.ConfidenceThreshold, cfg.EmbedTimeout, logger),
		Searcher:    searcher,
		Composer:    compose.New(llmClient, cfg.ResultLimit, cfg.LLMTimeout, logger),
		Snapshot:    snapshot,
		Provider:    factory,
		Recorder:    recorder,
		Logger:      logger,
	})

	return &app{
		cfg:      cfg,
		service:  service,
		snapshot: snapshot,
		registry: registry,
		logger:   logger,
	}, nil
}

func providerFactory(cfg *config.Config, logger *zap.Logger) (recommend.ProviderFactory, error) {
	switch cfg.EmbeddingProvider {
	case config.ProviderTFIDF:
		return func() embedding.Provider { return embedding.NewTFIDF() }, nil
	case config.ProviderRemote:
		remote := embedding.NewRemote(embedding.RemoteConfig{
			BaseURL: cfg.EmbeddingBaseURL,
			APIKey:  cfg.EmbeddingAPIKey,
			Model:   cfg.EmbeddingModel,
			Timeout: cfg.EmbedTimeout,
		}, logger)
		return func() embedding.Provider { return remote }, nil
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", cfg.EmbeddingProvider)
	}
}

// loadIndex tries to load an existing artifact from disk into the snapshot.
func (a *app) loadIndex() error {
	factory, err := providerFactory(a.cfg, a.logger)
	if err != nil {
		return err
	}
	artifact, err := index.Load(a.cfg.IndexDir, factory())
	if err != nil {
		return err
	}
	a.snapshot.Swap(artifact)
	a.logger.Info("index loaded",
		zap.String("dir", a.cfg.IndexDir),
		zap.Int("tools", artifact.Len()),
		zap.String("model", artifact.Manifest.ModelID))
	return nil
}
