package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// tfidfModelID is recorded in index manifests. Bump it whenever the
// tokenizer or weighting changes, so stale artifacts are rejected on load.
const tfidfModelID = "tfidf/v1"

// TFIDF is a corpus-fitted TF-IDF embedding provider. It is the default
// provider: pure Go, no network calls, deterministic for a fixed catalog.
//
// The vocabulary is kept in sorted term order so that two fits over the
// same corpus produce bit-identical vectors.
type TFIDF struct {
	terms  []string           // sorted vocabulary, index = vector dimension
	index  map[string]int     // term -> position in terms
	idf    []float64          // parallel to terms
	fitted bool
}

// NewTFIDF returns an unfitted TF-IDF provider. Fit must be called before
// Embed.
func NewTFIDF() *TFIDF {
	return &TFIDF{index: make(map[string]int)}
}

// Fit builds the vocabulary and inverse document frequencies from the
// corpus. It replaces any previous fit.
func (e *TFIDF) Fit(documents []string) {
	docFreq := make(map[string]int)
	total := len(documents)

	for _, doc := range documents {
		seen := make(map[string]bool)
		for _, term := range tokenize(doc) {
			if !seen[term] {
				docFreq[term]++
				seen[term] = true
			}
		}
	}

	terms := make([]string, 0, len(docFreq))
	for term := range docFreq {
		terms = append(terms, term)
	}
	sort.Strings(terms)

	e.terms = terms
	e.index = make(map[string]int, len(terms))
	e.idf = make([]float64, len(terms))
	for i, term := range terms {
		e.index[term] = i
		// Smoothed IDF, always positive.
		e.idf[i] = math.Log(float64(total+1)/float64(docFreq[term]+1)) + 1.0
	}
	e.fitted = true
}

func (e *TFIDF) ModelID() string { return tfidfModelID }

func (e *TFIDF) Dimension() int {
	if !e.fitted {
		return 0
	}
	return len(e.terms)
}

// Embed returns the L2-normalized TF-IDF vector for text. Text with no
// vocabulary overlap embeds to the zero vector, which scores 0 against
// every catalog entry.
func (e *TFIDF) Embed(_ context.Context, text string) ([]float32, error) {
	if !e.fitted {
		return nil, fmt.Errorf("tfidf provider is not fitted")
	}

	tokens := tokenize(text)
	termFreq := make(map[string]int, len(tokens))
	for _, t := range tokens {
		termFreq[t]++
	}

	vec := make([]float32, len(e.terms))
	if len(tokens) == 0 {
		return vec, nil
	}
	total := float64(len(tokens))
	for term, count := range termFreq {
		if i, ok := e.index[term]; ok {
			vec[i] = float32(float64(count) / total * e.idf[i])
		}
	}
	return NormalizeL2(vec), nil
}

// tfidfState is the serialized fit, stored inside the index artifact so the
// identical embedding function can be reconstructed at query time.
type tfidfState struct {
	ModelID string    `json:"model_id"`
	Terms   []string  `json:"terms"`
	IDF     []float64 `json:"idf"`
}

// MarshalState serializes the fitted vocabulary and IDF table.
func (e *TFIDF) MarshalState() ([]byte, error) {
	if !e.fitted {
		return nil, fmt.Errorf("cannot serialize unfitted tfidf provider")
	}
	return json.Marshal(tfidfState{ModelID: tfidfModelID, Terms: e.terms, IDF: e.idf})
}

// RestoreTFIDF reconstructs a fitted provider from MarshalState output.
func RestoreTFIDF(data []byte) (*TFIDF, error) {
	var st tfidfState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("invalid tfidf state: %w", err)
	}
	if st.ModelID != tfidfModelID {
		return nil, fmt.Errorf("tfidf state model mismatch: got %q want %q", st.ModelID, tfidfModelID)
	}
	if len(st.Terms) != len(st.IDF) {
		return nil, fmt.Errorf("tfidf state corrupt: %d terms but %d idf values", len(st.Terms), len(st.IDF))
	}

	e := &TFIDF{
		terms:  st.Terms,
		index:  make(map[string]int, len(st.Terms)),
		idf:    st.IDF,
		fitted: true,
	}
	for i, term := range st.Terms {
		e.index[term] = i
	}
	return e, nil
}

// NormalizeL2 returns v scaled to unit L2 norm. A zero vector is returned
// unchanged.
func NormalizeL2(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := float32(1.0 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
	return v
}
