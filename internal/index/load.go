package index

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/orlevy/toolscout/internal/embedding"
)

// Load reads a complete artifact from dir and cross-validates its parts.
//
// For corpus-fitted providers the embedder is reconstructed from the
// artifact itself and queryProvider may be nil. For remote providers,
// queryProvider must be supplied and its ModelID must match the manifest.
func Load(dir string, queryProvider embedding.Provider) (*Artifact, error) {
	mb, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: no manifest in %s", ErrUnavailable, dir)
		}
		return nil, fmt.Errorf("cannot read manifest in %s: %w", dir, err)
	}

	var m Manifest
	if err := json.Unmarshal(mb, &m); err != nil {
		return nil, fmt.Errorf("invalid manifest in %s: %w", dir, err)
	}
	if m.Version != currentVersion {
		return nil, fmt.Errorf("unsupported artifact version %d in %s", m.Version, dir)
	}
	if m.Dim <= 0 {
		return nil, fmt.Errorf("invalid dimension %d in manifest %s", m.Dim, dir)
	}
	if m.Metric != metricCosine {
		return nil, fmt.Errorf("unsupported similarity metric %q in %s", m.Metric, dir)
	}

	entries, err := loadEntries(filepath.Join(dir, m.RecordsFile))
	if err != nil {
		return nil, err
	}
	if len(entries) != m.Count {
		return nil, fmt.Errorf("record count mismatch in %s: manifest says %d, records file has %d", dir, m.Count, len(entries))
	}

	vectors, err := loadVectors(filepath.Join(dir, m.VectorsFile), len(entries), m.Dim)
	if err != nil {
		return nil, err
	}

	provider := queryProvider
	if m.EmbedderFile != "" {
		state, err := os.ReadFile(filepath.Join(dir, m.EmbedderFile))
		if err != nil {
			return nil, fmt.Errorf("cannot read embedder state in %s: %w", dir, err)
		}
		tfidf, err := embedding.RestoreTFIDF(state)
		if err != nil {
			return nil, err
		}
		if tfidf.Dimension() != m.Dim {
			return nil, fmt.Errorf("embedder dimension %d does not match manifest %d", tfidf.Dimension(), m.Dim)
		}
		provider = tfidf
	}
	if provider == nil {
		return nil, fmt.Errorf("artifact %s needs an external query provider for model %s", dir, m.ModelID)
	}
	if provider.ModelID() != m.ModelID {
		return nil, fmt.Errorf("provider model %q does not match artifact model %q", provider.ModelID(), m.ModelID)
	}

	return &Artifact{Manifest: m, Entries: entries, vectors: vectors, provider: provider}, nil
}

func loadEntries(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open records file %s: %w", path, err)
	}
	defer f.Close()

	var out []Entry
	scanner := bufio.NewScanner(f)
	// Records can exceed the default 64KB token limit.
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("invalid records JSONL %s: %w", path, err)
		}
		if e.ID != len(out) {
			return nil, fmt.Errorf("records file %s out of order: got id %d at line %d", path, e.ID, len(out))
		}
		out = append(out, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("cannot read records file %s: %w", path, err)
	}
	return out, nil
}

func loadVectors(path string, count, dim int) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open vectors file %s: %w", path, err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("cannot stat vectors file %s: %w", path, err)
	}
	expected := int64(count * dim * 4)
	if st.Size() != expected {
		return nil, fmt.Errorf("vectors file %s size mismatch: got %d want %d (count=%d dim=%d)", path, st.Size(), expected, count, dim)
	}

	out := make([]float32, count*dim)
	if err := binary.Read(io.LimitReader(f, expected), binary.LittleEndian, out); err != nil {
		return nil, fmt.Errorf("cannot read vectors from %s: %w", path, err)
	}
	return out, nil
}
