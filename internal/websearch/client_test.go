package websearch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/orlevy/toolscout/internal/rank"
)

func TestSearchParsesOrganicResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "search-key", r.Header.Get("X-API-KEY"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "quantum cryptography research", body["q"])

		_, _ = w.Write([]byte(`{"organic":[
			{"title": "QKD Toolkit", "snippet": "quantum key distribution library", "link": "https://qkd.example"},
			{"title": "", "snippet": "untitled result is dropped", "link": "https://skip.example"},
			{"title": "LatticeCrypt", "snippet": "post-quantum crypto suite", "link": "https://lattice.example"}
		]}`))
	}))
	defer srv.Close()

	c := New(Config{Endpoint: srv.URL, APIKey: "search-key"}, zap.NewNop())
	got := c.Search(context.Background(), "quantum cryptography research")

	require.Len(t, got, 2)
	require.Equal(t, "QKD Toolkit", got[0].Record.Name)
	require.Equal(t, "https://qkd.example", got[0].Record.URL)
	require.Equal(t, rank.SourceLiveSearch, got[0].Source)
	require.Zero(t, got[0].Score)
}

func TestSearchFailsOpenOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := New(Config{Endpoint: srv.URL, APIKey: "k"}, zap.NewNop())
	require.Nil(t, c.Search(context.Background(), "anything"))
}

func TestSearchFailsOpenWhenUnconfigured(t *testing.T) {
	c := New(Config{}, zap.NewNop())
	require.False(t, c.Configured())
	require.Nil(t, c.Search(context.Background(), "anything"))
}

func TestSearchCapsResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"organic":[
			{"title": "a", "link": "https://a"}, {"title": "b", "link": "https://b"},
			{"title": "c", "link": "https://c"}, {"title": "d", "link": "https://d"}
		]}`))
	}))
	defer srv.Close()

	c := New(Config{Endpoint: srv.URL, APIKey: "k", MaxResults: 2}, zap.NewNop())
	require.Len(t, c.Search(context.Background(), "q"), 2)
}
