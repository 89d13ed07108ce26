package index

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"github.com/orlevy/toolscout/internal/catalog"
	"github.com/orlevy/toolscout/internal/embedding"
)

// Build embeds every catalog record with provider and writes a complete
// artifact to dir. The artifact is staged in a sibling directory and renamed
// into place only once every file has been written, so a failed build leaves
// any previous artifact untouched.
//
// A file lock beside dir serializes concurrent builders across processes.
func Build(ctx context.Context, records []catalog.ToolRecord, provider embedding.Provider, dir string, logger *zap.Logger) (*Manifest, error) {
	if len(records) == 0 {
		return nil, &BuildError{Stage: "validate", Err: fmt.Errorf("catalog is empty")}
	}

	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return nil, &BuildError{Stage: "prepare", Err: err}
	}

	lock := flock.New(dir + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, &BuildError{Stage: "lock", Err: err}
	}
	if !locked {
		return nil, &BuildError{Stage: "lock", Err: fmt.Errorf("another build holds the index lock")}
	}
	defer func() { _ = lock.Unlock() }()

	texts := make([]string, len(records))
	for i, r := range records {
		texts[i] = r.SearchText()
	}

	// Corpus-fitted providers learn their vocabulary from this catalog.
	if tfidf, ok := provider.(*embedding.TFIDF); ok {
		tfidf.Fit(texts)
	}

	logger.Info("embedding catalog",
		zap.Int("records", len(records)),
		zap.String("model", provider.ModelID()))

	var (
		vectors []float32
		dim     int
	)
	for i, text := range texts {
		vec, err := provider.Embed(ctx, text)
		if err != nil {
			return nil, &BuildError{Stage: "embed", Err: fmt.Errorf("record %q: %w", records[i].Name, err)}
		}
		if dim == 0 {
			dim = len(vec)
		}
		if len(vec) != dim {
			return nil, &BuildError{Stage: "embed", Err: fmt.Errorf("dimension changed mid-build: got %d want %d", len(vec), dim)}
		}
		vectors = append(vectors, vec...)
	}
	if dim == 0 {
		return nil, &BuildError{Stage: "embed", Err: fmt.Errorf("provider produced zero-dimension vectors")}
	}

	entries := make([]Entry, len(records))
	for i, r := range records {
		entries[i] = Entry{ID: i, ToolRecord: r}
	}

	manifest := Manifest{
		Version:     currentVersion,
		CreatedAt:   time.Now().UTC().Format(time.RFC3339),
		ModelID:     provider.ModelID(),
		Dim:         dim,
		Metric:      metricCosine,
		Count:       len(entries),
		RecordsFile: recordsFile,
		VectorsFile: vectorsFile,
	}

	var embedderState []byte
	if tfidf, ok := provider.(*embedding.TFIDF); ok {
		embedderState, err = tfidf.MarshalState()
		if err != nil {
			return nil, &BuildError{Stage: "serialize", Err: err}
		}
		manifest.EmbedderFile = embedderFile
	}

	staging := dir + ".staging"
	_ = os.RemoveAll(staging)
	if err := writeArtifact(staging, manifest, entries, vectors, embedderState); err != nil {
		_ = os.RemoveAll(staging)
		return nil, &BuildError{Stage: "write", Err: err}
	}
	if err := swapDirs(staging, dir); err != nil {
		_ = os.RemoveAll(staging)
		return nil, &BuildError{Stage: "swap", Err: err}
	}

	logger.Info("index artifact written",
		zap.String("dir", dir),
		zap.Int("count", manifest.Count),
		zap.Int("dim", manifest.Dim))
	return &manifest, nil
}

func writeArtifact(dir string, manifest Manifest, entries []Entry, vectors []float32, embedderState []byte) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create artifact dir %s: %w", dir, err)
	}

	mb, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, manifestFile), mb, 0o644); err != nil {
		return fmt.Errorf("cannot write manifest: %w", err)
	}

	rf, err := os.Create(filepath.Join(dir, manifest.RecordsFile))
	if err != nil {
		return fmt.Errorf("cannot create records file: %w", err)
	}
	bw := bufio.NewWriter(rf)
	for _, e := range entries {
		line, err := json.Marshal(e)
		if err != nil {
			_ = rf.Close()
			return err
		}
		if _, err := bw.Write(line); err != nil {
			_ = rf.Close()
			return err
		}
		if err := bw.WriteByte('\n'); err != nil {
			_ = rf.Close()
			return err
		}
	}
	if err := bw.Flush(); err != nil {
		_ = rf.Close()
		return err
	}
	if err := rf.Close(); err != nil {
		return err
	}

	vf, err := os.Create(filepath.Join(dir, manifest.VectorsFile))
	if err != nil {
		return fmt.Errorf("cannot create vectors file: %w", err)
	}
	if err := binary.Write(vf, binary.LittleEndian, vectors); err != nil {
		_ = vf.Close()
		return fmt.Errorf("cannot write vectors: %w", err)
	}
	if err := vf.Close(); err != nil {
		return err
	}

	if manifest.EmbedderFile != "" {
		if err := os.WriteFile(filepath.Join(dir, manifest.EmbedderFile), embedderState, 0o644); err != nil {
			return fmt.Errorf("cannot write embedder state: %w", err)
		}
	}
	return nil
}

// swapDirs replaces dest with src by renaming, keeping a backup until the
// swap succeeds.
func swapDirs(src, dest string) error {
	backup := dest + ".bak"
	_ = os.RemoveAll(backup)
	if _, err := os.Stat(dest); err == nil {
		if err := os.Rename(dest, backup); err != nil {
			return err
		}
	}
	if err := os.Rename(src, dest); err != nil {
		if _, stErr := os.Stat(backup); stErr == nil {
			_ = os.Rename(backup, dest)
		}
		return err
	}
	_ = os.RemoveAll(backup)
	return nil
}
