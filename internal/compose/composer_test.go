package compose

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"

	"github.com/orlevy/toolscout/internal/catalog"
	"github.com/orlevy/toolscout/internal/interpret"
	"github.com/orlevy/toolscout/internal/llm"
	"github.com/orlevy/toolscout/internal/rank"
)

type ComposerTestSuite struct {
	suite.Suite
	ctx    context.Context
	qctx   interpret.Context
	ranked rank.Result
	live   []rank.Candidate
}

func TestComposerTestSuite(t *testing.T) {
	suite.Run(t, new(ComposerTestSuite))
}

func (s *ComposerTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.qctx = interpret.Context{Raw: "compress my photos", Normalized: "compress my photos"}
	s.ranked = rank.Result{
		Candidates: []rank.Candidate{
			{Record: catalog.ToolRecord{Name: "Tool A", Description: "image compression utility", URL: "https://a.example"}, Score: 0.82, Source: rank.SourceCatalog},
			{Record: catalog.ToolRecord{Name: "Tool C", Description: "generic file shrinker"}, Score: 0.51, Source: rank.SourceCatalog},
			{Record: catalog.ToolRecord{Name: "Tool B", Description: "audio transcription service"}, Score: 0.05, Source: rank.SourceCatalog},
		},
		Confidence: 0.82,
	}
	s.live = []rank.Candidate{
		{Record: catalog.ToolRecord{Name: "WebTool", Description: "an online compressor", URL: "https://web.example"}, Source: rank.SourceLiveSearch},
	}
}

func (s *ComposerTestSuite) composerWith(srvURL string) *Composer {
	var client *llm.Client
	if srvURL != "" {
		client = llm.New(llm.Config{BaseURL: srvURL, APIKey: "k", Model: "m"}, zap.NewNop())
	}
	return New(client, 5, time.Second, zap.NewNop())
}

func (s *ComposerTestSuite) TestTemplatedResponseWithoutLLM() {
	resp := s.composerWith("").Compose(s.ctx, s.qctx, s.ranked, s.live, 0.35, nil)

	// Below-threshold Tool B is dropped; live hit comes after catalog hits.
	require.Len(s.T(), resp.Recommendations, 3)
	require.Equal(s.T(), "Tool A", resp.Recommendations[0].Name)
	require.Equal(s.T(), "Tool C", resp.Recommendations[1].Name)
	require.Equal(s.T(), "WebTool", resp.Recommendations[2].Name)

	require.True(s.T(), resp.UsedFallback)
	require.NotEmpty(s.T(), resp.Summary)
	require.Contains(s.T(), resp.Summary, "Tool A")
	require.Contains(s.T(), resp.Degradations, DegradedComposition)
}

func (s *ComposerTestSuite) TestLLMSummaryAndReorder() {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":
			"{\"best_matches\": [\"Tool C\", \"Nonexistent\", \"WebTool\"], \"summary\": \"Tool C fits best.\"}"
		}}]}`))
	}))
	defer srv.Close()

	resp := s.composerWith(srv.URL).Compose(s.ctx, s.qctx, s.ranked, s.live, 0.35, nil)

	require.Equal(s.T(), "Tool C fits best.", resp.Summary)
	require.Empty(s.T(), resp.Degradations)
	// Tool C promoted; unknown names ignored; live-search hits never
	// promoted above catalog order.
	require.Equal(s.T(), "Tool C", resp.Recommendations[0].Name)
	require.Equal(s.T(), "Tool A", resp.Recommendations[1].Name)
	require.Equal(s.T(), "WebTool", resp.Recommendations[2].Name)
}

func (s *ComposerTestSuite) TestLLMFailureFallsBackToTemplate() {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	resp := s.composerWith(srv.URL).Compose(s.ctx, s.qctx, s.ranked, nil, 0.35, []string{DegradedInterpretation})

	require.NotEmpty(s.T(), resp.Summary)
	require.False(s.T(), resp.UsedFallback)
	require.Equal(s.T(), []string{DegradedInterpretation, DegradedComposition}, resp.Degradations)
}

func (s *ComposerTestSuite) TestEmptyCandidates() {
	resp := s.composerWith("").Compose(s.ctx, s.qctx, rank.Result{}, nil, 0.35, nil)

	require.Empty(s.T(), resp.Recommendations)
	require.NotEmpty(s.T(), resp.Summary)
	require.False(s.T(), resp.UsedFallback)
}

func (s *ComposerTestSuite) TestLimitCapsRecommendations() {
	resp := New(nil, 2, time.Second, zap.NewNop()).Compose(s.ctx, s.qctx, s.ranked, s.live, 0.0, nil)
	require.Len(s.T(), resp.Recommendations, 2)
}
