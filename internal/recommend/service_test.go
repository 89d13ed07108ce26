package recommend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"

	"github.com/orlevy/toolscout/internal/catalog"
	"github.com/orlevy/toolscout/internal/compose"
	"github.com/orlevy/toolscout/internal/embedding"
	"github.com/orlevy/toolscout/internal/index"
	"github.com/orlevy/toolscout/internal/interpret"
	"github.com/orlevy/toolscout/internal/llm"
	"github.com/orlevy/toolscout/internal/rank"
	"github.com/orlevy/toolscout/internal/stats"
	"github.com/orlevy/toolscout/internal/websearch"
)

const testThreshold = 0.35

// recorderStub captures emitted statistics for assertions.
type recorderStub struct {
	mu       sync.Mutex
	queries  []stats.QueryRecord
	rebuilds []bool
}

func (r *recorderStub) Query(rec stats.QueryRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queries = append(r.queries, rec)
}

func (r *recorderStub) Rebuild(success bool, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rebuilds = append(r.rebuilds, success)
}

func (r *recorderStub) lastQuery() stats.QueryRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.queries[len(r.queries)-1]
}

type ServiceTestSuite struct {
	suite.Suite

	dir      string
	recorder *recorderStub
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceTestSuite))
}

func (s *ServiceTestSuite) SetupTest() {
	s.dir = s.T().TempDir()
	s.recorder = &recorderStub{}
}

func (s *ServiceTestSuite) writeCatalog(records []catalog.ToolRecord) string {
	path := filepath.Join(s.dir, "tools.json")
	data, err := json.Marshal(records)
	s.Require().NoError(err)
	s.Require().NoError(os.WriteFile(path, data, 0o644))
	return path
}

func (s *ServiceTestSuite) defaultCatalog() string {
	return s.writeCatalog([]catalog.ToolRecord{
		{
			Name:        "PixSqueeze",
			Description: "Lossless image compression utility for photos and pictures",
			Category:    "media",
			URL:         "https://pixsqueeze.example.com",
		},
		{
			Name:        "LogHarvest",
			Description: "Centralized log aggregation and search service",
			Category:    "observability",
			URL:         "https://logharvest.example.com",
		},
		{
			Name:        "DeployPilot",
			Description: "Continuous deployment orchestrator for container workloads",
			Category:    "delivery",
			URL:         "https://deploypilot.example.com",
		},
	})
}

func (s *ServiceTestSuite) newService(catalogPath, searchEndpoint string) *Service {
	logger := zap.NewNop()
	snap := index.NewSnapshot(nil)

	searchCfg := websearch.Config{MaxResults: 5}
	if searchEndpoint != "" {
		searchCfg.Endpoint = searchEndpoint
		searchCfg.APIKey = "test-key"
	}
	unconfigured := llm.New(llm.Config{}, logger)

	return NewService(Options{
		CatalogPath: catalogPath,
		IndexDir:    filepath.Join(s.dir, "index"),
		Interpreter: interpret.New(nil, time.Second, logger),
		Ranker:      rank.New(snap, 15, testThreshold, time.Second, logger),
		Searcher:    websearch.New(searchCfg, logger),
		Composer:    compose.New(unconfigured, 5, time.Second, logger),
		Snapshot:    snap,
		Provider:    func() embedding.Provider { return embedding.NewTFIDF() },
		Recorder:    s.recorder,
		Logger:      logger,
	})
}

func (s *ServiceTestSuite) TestRebuildThenRecommend() {
	svc := s.newService(s.defaultCatalog(), "")

	manifest, err := svc.Rebuild(context.Background())
	s.Require().NoError(err)
	s.Equal(3, manifest.Count)
	s.True(svc.IndexAvailable())

	resp, err := svc.Recommend(context.Background(), "compress my photos")
	s.Require().NoError(err)

	s.Require().NotEmpty(resp.Recommendations)
	s.Equal("PixSqueeze", resp.Recommendations[0].Name)
	s.False(resp.UsedFallback)
	s.GreaterOrEqual(resp.Confidence, testThreshold)

	last := s.recorder.lastQuery()
	s.Equal(stats.OutcomeMatched, last.Outcome)
	s.InDelta(resp.Confidence, last.Confidence, 1e-9)
}

func (s *ServiceTestSuite) TestLowConfidenceUsesLiveSearch() {
	search := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"organic": [
			{"title": "QKD Simulator", "snippet": "Quantum key distribution sandbox", "link": "https://qkd.example.com"}
		]}`)
	}))
	defer search.Close()

	svc := s.newService(s.defaultCatalog(), search.URL)
	_, err := svc.Rebuild(context.Background())
	s.Require().NoError(err)

	resp, err := svc.Recommend(context.Background(), "quantum cryptography research")
	s.Require().NoError(err)

	s.True(resp.UsedFallback)
	s.Require().NotEmpty(resp.Recommendations)
	s.Equal("QKD Simulator", resp.Recommendations[0].Name)
	s.Equal(string(rank.SourceLiveSearch), resp.Recommendations[0].Source)

	s.Equal(stats.OutcomeFallback, s.recorder.lastQuery().Outcome)
}

func (s *ServiceTestSuite) TestLiveSearchUnavailableDegrades() {
	svc := s.newService(s.defaultCatalog(), "")
	_, err := svc.Rebuild(context.Background())
	s.Require().NoError(err)

	resp, err := svc.Recommend(context.Background(), "quantum cryptography research")
	s.Require().NoError(err)

	s.False(resp.UsedFallback)
	s.Empty(resp.Recommendations)
	s.Contains(resp.Degradations, compose.DegradedLiveSearch)
	s.NotEmpty(resp.Summary)
}

func (s *ServiceTestSuite) TestRecommendWithoutIndexFails() {
	svc := s.newService(s.defaultCatalog(), "")

	_, err := svc.Recommend(context.Background(), "compress my photos")
	s.Require().Error(err)
	s.ErrorIs(err, index.ErrUnavailable)

	s.Equal(stats.OutcomeFailed, s.recorder.lastQuery().Outcome)
}

func (s *ServiceTestSuite) TestRebuildFailsOnBrokenCatalog() {
	path := filepath.Join(s.dir, "tools.json")
	s.Require().NoError(os.WriteFile(path, []byte(`[{"name": "", "description": ""}]`), 0o644))

	svc := s.newService(path, "")
	_, err := svc.Rebuild(context.Background())
	s.Require().Error(err)

	var verr *catalog.ValidationError
	s.ErrorAs(err, &verr)
	s.Equal(index.JobFailed, svc.Status().Job.State)
	s.False(svc.IndexAvailable())
	s.Equal([]bool{false}, s.recorder.rebuilds)
}

// blockingProvider parks inside Embed until released, keeping a rebuild in
// flight long enough to observe the in-progress state.
type blockingProvider struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (p *blockingProvider) ModelID() string { return "stub/blocking" }
func (p *blockingProvider) Dimension() int  { return 3 }

func (p *blockingProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	p.once.Do(func() {
		close(p.started)
		<-p.release
	})
	return embedding.NormalizeL2([]float32{1, float32(len(text)), 2}), nil
}

func (s *ServiceTestSuite) TestConcurrentRebuildRejected() {
	provider := &blockingProvider{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	svc := s.newService(s.defaultCatalog(), "")
	svc.provider = func() embedding.Provider { return provider }

	done := make(chan error, 1)
	go func() {
		_, err := svc.Rebuild(context.Background())
		done <- err
	}()

	<-provider.started
	s.Equal(index.JobBuilding, svc.Status().Job.State)

	_, err := svc.Rebuild(context.Background())
	s.ErrorIs(err, index.ErrRebuildInProgress)

	close(provider.release)
	s.Require().NoError(<-done)
	s.Equal(index.JobReady, svc.Status().Job.State)
}

func (s *ServiceTestSuite) TestStatusAndCatalogStats() {
	svc := s.newService(s.defaultCatalog(), "")

	st := svc.Status()
	s.Equal(index.JobIdle, st.Job.State)
	s.Zero(st.Tools)

	_, err := svc.Rebuild(context.Background())
	s.Require().NoError(err)

	st = svc.Status()
	s.Equal(index.JobReady, st.Job.State)
	s.Equal(3, st.Tools)
	s.NotEmpty(st.ModelID)
	s.NotEmpty(st.IndexedAt)

	_, err = svc.Recommend(context.Background(), "compress my photos")
	s.Require().NoError(err)

	cs, err := svc.CatalogStats()
	s.Require().NoError(err)
	s.Equal(3, cs.Tools)
	s.Equal(1, cs.Categories["media"])
	s.Equal(1, cs.Categories["observability"])
}
