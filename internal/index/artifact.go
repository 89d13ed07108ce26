// Package index builds, persists, loads, and searches the vector index
// artifact over the tool catalog.
//
// An artifact is a directory of files written together and swapped together:
// a manifest, the ordered id-to-record mapping, the raw vector matrix, and
// (for corpus-fitted providers) the serialized embedder state. A served
// artifact is never patched in place; rebuilds stage a new directory and
// atomically rename it over the old one.
package index

import (
	"errors"
	"fmt"
	"sort"

	"github.com/orlevy/toolscout/internal/catalog"
	"github.com/orlevy/toolscout/internal/embedding"
)

const (
	manifestFile = "manifest.json"
	recordsFile  = "records.jsonl"
	vectorsFile  = "vectors.f32"
	embedderFile = "embedder.json"

	currentVersion = 1
	metricCosine   = "cosine"
)

// ErrUnavailable is returned when no index artifact exists where one is
// expected. At startup this is fatal: serving cannot begin without an index.
var ErrUnavailable = errors.New("index artifact unavailable")

// BuildError aborts a rebuild. A BuildError never disturbs a previously
// built artifact.
type BuildError struct {
	Stage string
	Err   error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("index build failed during %s: %v", e.Stage, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

// Manifest describes an artifact and how to interpret its files.
type Manifest struct {
	Version      int    `json:"version"`
	CreatedAt    string `json:"created_at"`
	ModelID      string `json:"model_id"`
	Dim          int    `json:"dim"`
	Metric       string `json:"metric"`
	Count        int    `json:"count"`
	RecordsFile  string `json:"records_file"`
	VectorsFile  string `json:"vectors_file"`
	EmbedderFile string `json:"embedder_file,omitempty"`
}

// Entry is one row of the id-to-record mapping. ID is the internal vector
// id, fixed by catalog order at build time.
type Entry struct {
	ID                 int `json:"id"`
	catalog.ToolRecord `yaml:",inline"`
}

// Hit is one nearest-neighbor result. Score is cosine similarity clamped to
// [0, 1].
type Hit struct {
	Entry Entry
	Score float64
}

// Artifact is a loaded, read-only index snapshot. It is safe for concurrent
// use; nothing mutates it after Load.
type Artifact struct {
	Manifest Manifest
	Entries  []Entry

	vectors  []float32 // row-major, len = Count*Dim, rows L2-normalized
	provider embedding.Provider
}

// Provider returns the embedding provider that must be used for query text
// against this artifact.
func (a *Artifact) Provider() embedding.Provider { return a.provider }

// Len returns the number of indexed records.
func (a *Artifact) Len() int { return len(a.Entries) }

// Search returns the k nearest entries to vec by cosine similarity, ordered
// by descending score with ties broken by insertion order. vec need not be
// normalized.
func (a *Artifact) Search(vec []float32, k int) ([]Hit, error) {
	if len(vec) != a.Manifest.Dim {
		return nil, fmt.Errorf("query vector dimension %d does not match index dimension %d", len(vec), a.Manifest.Dim)
	}
	if k <= 0 || a.Len() == 0 {
		return nil, nil
	}

	q := make([]float32, len(vec))
	copy(q, vec)
	q = embedding.NormalizeL2(q)

	hits := make([]Hit, a.Len())
	dim := a.Manifest.Dim
	for i := range a.Entries {
		row := a.vectors[i*dim : (i+1)*dim]
		var dot float64
		for j, x := range q {
			dot += float64(x) * float64(row[j])
		}
		// Stored rows are unit vectors, so dot is the cosine. Clamp the
		// tiny negatives float error can produce.
		if dot < 0 {
			dot = 0
		} else if dot > 1 {
			dot = 1
		}
		hits[i] = Hit{Entry: a.Entries[i], Score: dot}
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })

	if k > len(hits) {
		k = len(hits)
	}
	return hits[:k], nil
}
