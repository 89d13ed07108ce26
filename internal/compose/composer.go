// Package compose merges ranked catalog candidates and live-search
// supplements into the final recommendation set, with an optional
// LLM-generated summary and a templated fallback rendering.
package compose

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/orlevy/toolscout/internal/interpret"
	"github.com/orlevy/toolscout/internal/llm"
	"github.com/orlevy/toolscout/internal/rank"
)

// Degradation markers reported in responses when a component fell back.
const (
	DegradedInterpretation = "interpretation"
	DegradedLiveSearch     = "live-search"
	DegradedComposition    = "composition"
)

// Recommendation is one entry of the final, user-facing recommendation set.
type Recommendation struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	URL         string  `json:"url,omitempty"`
	Pricing     string  `json:"pricing,omitempty"`
	Score       float64 `json:"score"`
	Source      string  `json:"source"`
}

// Response is the complete answer for one query. A response is always
// produced, possibly with degradation markers.
type Response struct {
	Query           string           `json:"query"`
	Recommendations []Recommendation `json:"recommendations"`
	Summary         string           `json:"summary"`
	Confidence      float64          `json:"confidence"`
	UsedFallback    bool             `json:"used_fallback"`
	Degradations    []string         `json:"degradations,omitempty"`
}

const rerankPrompt = `You are a smart tool recommendation engine.
Given a user request and candidate tools, pick the best matches and explain briefly.
Respond with a JSON object:
{"best_matches": ["<tool name>", ...], "summary": "<2-3 sentence recommendation>"}
Only use tool names that appear in the candidate list. Respond with JSON only.`

// Composer builds responses. A nil or unconfigured LLM client means every
// response uses the templated rendering.
type Composer struct {
	llm     *llm.Client
	limit   int
	timeout time.Duration
	logger  *zap.Logger
}

// New returns a composer. limit caps the recommendations per response.
func New(client *llm.Client, limit int, timeout time.Duration, logger *zap.Logger) *Composer {
	if limit <= 0 {
		limit = 5
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Composer{llm: client, limit: limit, timeout: timeout, logger: logger}
}

// Compose merges catalog and live-search candidates into an ordered
// response: confident catalog matches first (by score), live-search
// supplements after. threshold filters catalog candidates; degradations
// accumulated upstream are carried into the response.
func (c *Composer) Compose(ctx context.Context, qctx interpret.Context, ranked rank.Result, live []rank.Candidate, threshold float64, degradations []string) Response {
	var recs []Recommendation
	for _, cand := range ranked.Candidates {
		if cand.Score < threshold {
			continue
		}
		recs = append(recs, toRecommendation(cand))
	}
	for _, cand := range live {
		recs = append(recs, toRecommendation(cand))
	}
	if len(recs) > c.limit {
		recs = recs[:c.limit]
	}

	resp := Response{
		Query:           qctx.Raw,
		Recommendations: recs,
		Confidence:      ranked.Confidence,
		UsedFallback:    len(live) > 0,
		Degradations:    degradations,
	}

	if len(recs) == 0 {
		resp.Summary = fmt.Sprintf("No tool in the catalog matches %q well enough, and live search found nothing usable.", qctx.Raw)
		return resp
	}

	summary, reordered, err := c.summarize(ctx, qctx, resp.Recommendations)
	if err != nil {
		c.logger.Warn("summarization unavailable, using templated response",
			zap.Error(err))
		resp.Summary = renderTemplate(qctx, resp.Recommendations)
		resp.Degradations = append(resp.Degradations, DegradedComposition)
		return resp
	}

	resp.Summary = summary
	resp.Recommendations = reordered
	return resp
}

// summarize asks the LLM to pick best matches among the catalog hits and
// write a short justification. Only catalog recommendations are reordered;
// live-search supplements keep their position after them.
func (c *Composer) summarize(ctx context.Context, qctx interpret.Context, recs []Recommendation) (string, []Recommendation, error) {
	if c.llm == nil || !c.llm.Configured() {
		return "", nil, fmt.Errorf("llm client is not configured")
	}

	candidates, err := json.Marshal(recs)
	if err != nil {
		return "", nil, err
	}
	user := fmt.Sprintf("User request: %q\n\nCandidates:\n%s", qctx.Raw, candidates)

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	text, err := c.llm.Complete(callCtx, rerankPrompt, user, true)
	if err != nil {
		return "", nil, err
	}

	var parsed struct {
		BestMatches []string `json:"best_matches"`
		Summary     string   `json:"summary"`
	}
	if err := json.Unmarshal([]byte(llm.StripFences(text)), &parsed); err != nil {
		return "", nil, fmt.Errorf("cannot parse summary response: %w", err)
	}
	if strings.TrimSpace(parsed.Summary) == "" {
		return "", nil, fmt.Errorf("summary response is empty")
	}

	return parsed.Summary, reorder(recs, parsed.BestMatches), nil
}

// reorder moves catalog recommendations named in bestMatches to the front,
// in the order given; unknown names are ignored, everything else keeps its
// score order.
func reorder(recs []Recommendation, bestMatches []string) []Recommendation {
	if len(bestMatches) == 0 {
		return recs
	}
	byName := make(map[string]int, len(recs))
	for i, r := range recs {
		byName[strings.ToLower(r.Name)] = i
	}

	picked := make([]bool, len(recs))
	out := make([]Recommendation, 0, len(recs))
	for _, name := range bestMatches {
		if i, ok := byName[strings.ToLower(name)]; ok && !picked[i] && recs[i].Source == string(rank.SourceCatalog) {
			out = append(out, recs[i])
			picked[i] = true
		}
	}
	for i, r := range recs {
		if !picked[i] {
			out = append(out, r)
		}
	}
	return out
}

// renderTemplate is the non-LLM rendering used whenever summarization is
// unavailable.
func renderTemplate(qctx interpret.Context, recs []Recommendation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Top matches for %q:\n", qctx.Raw)
	for i, r := range recs {
		fmt.Fprintf(&b, "%d. %s: %s", i+1, r.Name, r.Description)
		if r.URL != "" {
			fmt.Fprintf(&b, " (%s)", r.URL)
		}
		if r.Source == string(rank.SourceLiveSearch) {
			b.WriteString(" [web]")
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func toRecommendation(cand rank.Candidate) Recommendation {
	return Recommendation{
		Name:        cand.Record.Name,
		Description: cand.Record.Description,
		URL:         cand.Record.URL,
		Pricing:     cand.Record.Pricing,
		Score:       cand.Score,
		Source:      string(cand.Source),
	}
}
