// Package recommend wires the query pipeline together: interpret the request,
// rank catalog candidates, fall back to live search on low confidence, and
// compose the final response. It also owns the index rebuild lifecycle.
package recommend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/orlevy/toolscout/internal/catalog"
	"github.com/orlevy/toolscout/internal/compose"
	"github.com/orlevy/toolscout/internal/embedding"
	"github.com/orlevy/toolscout/internal/index"
	"github.com/orlevy/toolscout/internal/interpret"
	"github.com/orlevy/toolscout/internal/rank"
	"github.com/orlevy/toolscout/internal/stats"
	"github.com/orlevy/toolscout/internal/websearch"
)

// ProviderFactory returns a fresh embedding provider for an index build. The
// tfidf provider is fitted during the build, so each build needs its own
// instance; remote providers can return a shared one.
type ProviderFactory func() embedding.Provider

// Options configures a Service.
type Options struct {
	CatalogPath string
	IndexDir    string

	Interpreter *interpret.Interpreter
	Ranker      *rank.Ranker
	Searcher    *websearch.Client
	Composer    *compose.Composer

	Snapshot *index.Snapshot
	Provider ProviderFactory
	Recorder stats.Recorder

	Logger *zap.Logger
}

// Service answers recommendation queries and rebuilds the index from the
// catalog on demand.
type Service struct {
	catalogPath string
	indexDir    string

	interpreter *interpret.Interpreter
	ranker      *rank.Ranker
	searcher    *websearch.Client
	composer    *compose.Composer

	snapshot *index.Snapshot
	provider ProviderFactory
	job      *index.Job
	recorder stats.Recorder

	logger *zap.Logger
}

// NewService builds a Service from its collaborators.
func NewService(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	recorder := opts.Recorder
	if recorder == nil {
		recorder = stats.Nop{}
	}
	return &Service{
		catalogPath: opts.CatalogPath,
		indexDir:    opts.IndexDir,
		interpreter: opts.Interpreter,
		ranker:      opts.Ranker,
		searcher:    opts.Searcher,
		composer:    opts.Composer,
		snapshot:    opts.Snapshot,
		provider:    opts.Provider,
		job:         index.NewJob(),
		recorder:    recorder,
		logger:      logger,
	}
}

// Recommend serves one query end to end. Degraded collaborators are reported
// through flags on the response rather than as errors; the only hard failure
// is an unavailable index.
func (s *Service) Recommend(ctx context.Context, query string) (compose.Response, error) {
	start := time.Now()

	qctx := s.interpreter.Interpret(ctx, query)
	var degradations []string
	if !qctx.Enriched {
		degradations = append(degradations, compose.DegradedInterpretation)
	}

	ranked, err := s.ranker.Rank(ctx, qctx)
	if err != nil {
		s.recorder.Query(stats.QueryRecord{
			Outcome:  stats.OutcomeFailed,
			Duration: time.Since(start),
		})
		return compose.Response{}, fmt.Errorf("ranking failed: %w", err)
	}

	var live []rank.Candidate
	if ranked.LowConfidence {
		live = s.searcher.Search(ctx, qctx.Normalized)
		if len(live) == 0 {
			degradations = append(degradations, compose.DegradedLiveSearch)
		}
	}

	resp := s.composer.Compose(ctx, qctx, ranked, live, s.ranker.Threshold(), degradations)

	outcome := stats.OutcomeMatched
	if resp.UsedFallback {
		outcome = stats.OutcomeFallback
	}
	s.recorder.Query(stats.QueryRecord{
		Outcome:    outcome,
		Confidence: ranked.Confidence,
		Duration:   time.Since(start),
		Degraded:   len(resp.Degradations) > 0,
	})

	s.logger.Info("query served",
		zap.String("query", query),
		zap.Float64("confidence", ranked.Confidence),
		zap.Bool("low_confidence", ranked.LowConfidence),
		zap.Bool("used_fallback", resp.UsedFallback),
		zap.Strings("degradations", resp.Degradations),
		zap.Duration("duration", time.Since(start)))

	return resp, nil
}

// Rebuild loads the catalog, builds a new index artifact on disk, and swaps
// it in. At most one rebuild runs at a time; a second call while one is in
// flight returns index.ErrRebuildInProgress. Queries keep serving the
// previous artifact for the whole duration.
func (s *Service) Rebuild(ctx context.Context) (*index.Manifest, error) {
	if err := s.job.Begin(); err != nil {
		return nil, err
	}
	start := time.Now()

	manifest, err := s.rebuild(ctx)
	if err != nil {
		s.job.Fail(err)
		s.recorder.Rebuild(false, time.Since(start))
		s.logger.Error("index rebuild failed", zap.Error(err))
		return nil, err
	}

	s.job.Finish()
	s.recorder.Rebuild(true, time.Since(start))
	s.logger.Info("index rebuilt",
		zap.Int("tools", manifest.Count),
		zap.Int("dimension", manifest.Dim),
		zap.Duration("duration", time.Since(start)))
	return manifest, nil
}

func (s *Service) rebuild(ctx context.Context) (*index.Manifest, error) {
	records, err := catalog.Load(s.catalogPath)
	if err != nil {
		return nil, err
	}

	manifest, err := index.Build(ctx, records, s.provider(), s.indexDir, s.logger)
	if err != nil {
		return nil, err
	}

	artifact, err := index.Load(s.indexDir, s.provider())
	if err != nil {
		return nil, fmt.Errorf("failed to load rebuilt index: %w", err)
	}
	s.snapshot.Swap(artifact)
	return manifest, nil
}

// Status reports the rebuild job state plus the served artifact, if any.
type Status struct {
	Job       index.JobStatus `json:"job"`
	IndexedAt string          `json:"indexed_at,omitempty"`
	ModelID   string          `json:"model_id,omitempty"`
	Tools     int             `json:"tools"`
	Dimension int             `json:"dimension,omitempty"`
}

// Status returns the current rebuild and index state.
func (s *Service) Status() Status {
	st := Status{Job: s.job.Status()}
	artifact, err := s.snapshot.Current()
	if err != nil {
		return st
	}
	st.IndexedAt = artifact.Manifest.CreatedAt
	st.ModelID = artifact.Manifest.ModelID
	st.Tools = artifact.Len()
	st.Dimension = artifact.Manifest.Dim
	return st
}

// CatalogStats summarizes the served catalog and usage counters.
type CatalogStats struct {
	Tools      int            `json:"tools"`
	Categories map[string]int `json:"categories,omitempty"`
	Counters   stats.Counters `json:"counters"`
}

// CatalogStats reports catalog composition and query counters. Counters are
// only populated when the recorder supports them.
func (s *Service) CatalogStats() (CatalogStats, error) {
	artifact, err := s.snapshot.Current()
	if err != nil {
		return CatalogStats{}, err
	}
	cs := CatalogStats{Tools: artifact.Len()}
	for _, e := range artifact.Entries {
		if e.Category == "" {
			continue
		}
		if cs.Categories == nil {
			cs.Categories = make(map[string]int)
		}
		cs.Categories[e.Category]++
	}
	if counted, ok := s.recorder.(interface{ Counters() stats.Counters }); ok {
		cs.Counters = counted.Counters()
	}
	return cs, nil
}

// IndexAvailable reports whether the service currently holds a searchable
// artifact.
func (s *Service) IndexAvailable() bool {
	_, err := s.snapshot.Current()
	return !errors.Is(err, index.ErrUnavailable)
}
