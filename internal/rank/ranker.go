// Package rank executes nearest-neighbor retrieval against the served
// index snapshot and turns scores into a fallback decision.
package rank

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/orlevy/toolscout/internal/catalog"
	"github.com/orlevy/toolscout/internal/index"
	"github.com/orlevy/toolscout/internal/interpret"
)

// Source says where a candidate came from.
type Source string

const (
	SourceCatalog    Source = "catalog"
	SourceLiveSearch Source = "live-search"
)

// Candidate is one ranked recommendation candidate. Live-search candidates
// carry Score 0: they are unranked against catalog vectors.
type Candidate struct {
	Record catalog.ToolRecord
	Score  float64
	Source Source
}

// Result is the outcome of ranking one query. LowConfidence, not the raw
// scores, drives the live-search fallback decision.
type Result struct {
	Candidates    []Candidate
	Confidence    float64
	Margin        float64
	LowConfidence bool
}

// Ranker retrieves and scores catalog candidates.
type Ranker struct {
	snap      *index.Snapshot
	topK      int
	threshold float64
	timeout   time.Duration
	logger    *zap.Logger
}

// New returns a ranker. threshold is the confidence level below which the
// low-confidence signal fires; timeout bounds the query embedding call.
func New(snap *index.Snapshot, topK int, threshold float64, timeout time.Duration, logger *zap.Logger) *Ranker {
	if topK <= 0 {
		topK = 15
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Ranker{snap: snap, topK: topK, threshold: threshold, timeout: timeout, logger: logger}
}

// Threshold returns the configured confidence threshold.
func (r *Ranker) Threshold() float64 { return r.threshold }

// Rank embeds the interpreted query with the snapshot's own provider and
// returns the top candidates. Confidence is the top-1 similarity; Margin is
// the gap between top-1 and top-2, zero when there is no runner-up.
func (r *Ranker) Rank(ctx context.Context, qctx interpret.Context) (Result, error) {
	artifact, err := r.snap.Current()
	if err != nil {
		return Result{}, err
	}

	embedCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	vec, err := artifact.Provider().Embed(embedCtx, qctx.Normalized)
	if err != nil {
		return Result{}, fmt.Errorf("cannot embed query: %w", err)
	}

	hits, err := artifact.Search(vec, r.topK)
	if err != nil {
		return Result{}, err
	}

	res := Result{Candidates: make([]Candidate, len(hits))}
	for i, h := range hits {
		res.Candidates[i] = Candidate{Record: h.Entry.ToolRecord, Score: h.Score, Source: SourceCatalog}
	}
	if len(hits) > 0 {
		res.Confidence = hits[0].Score
		// Margin is only meaningful with a runner-up to compare against.
		if len(hits) > 1 {
			res.Margin = hits[0].Score - hits[1].Score
		}
	}
	res.LowConfidence = res.Confidence < r.threshold

	r.logger.Debug("ranked query",
		zap.String("query", qctx.Normalized),
		zap.Int("candidates", len(res.Candidates)),
		zap.Float64("confidence", res.Confidence),
		zap.Bool("low_confidence", res.LowConfidence))
	return res, nil
}
