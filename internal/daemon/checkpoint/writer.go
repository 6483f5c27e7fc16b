package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	coorderr "github.com/harborhq/contextd/errors"
	"github.com/harborhq/contextd/pkg/models"
)

// ArtifactWriter persists checkpoint artifacts to durable storage.
type ArtifactWriter interface {
	// Write persists the artifact and returns its final location and
	// size. The location must only ever name a completely written
	// artifact.
	Write(ctx context.Context, artifact *models.CheckpointArtifact) (string, int64, error)
}

// FileWriter writes artifacts as JSON files using a
// write-then-atomically-publish pattern: bytes go to a temporary file,
// are synced, and only a successful rename exposes the final name. A
// failure mid-write leaves at most an orphaned temp file, never a final
// artifact with partial bytes.
type FileWriter struct {
	dir string
}

// NewFileWriter creates a FileWriter rooted at dir.
func NewFileWriter(dir string) (*FileWriter, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	return &FileWriter{dir: dir}, nil
}

// Write implements ArtifactWriter.
func (w *FileWriter) Write(ctx context.Context, artifact *models.CheckpointArtifact) (string, int64, error) {
	if err := ctx.Err(); err != nil {
		return "", 0, err
	}

	data, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return "", 0, coorderr.CheckpointWriteFailed(artifact.CheckpointID, err)
	}

	final := filepath.Join(w.dir, artifact.CheckpointID+".json")
	tmp := filepath.Join(w.dir, "."+artifact.CheckpointID+".tmp")

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return "", 0, coorderr.CheckpointWriteFailed(artifact.CheckpointID, err)
	}

	cleanup := func() { _ = os.Remove(tmp) }

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		cleanup()
		return "", 0, coorderr.CheckpointWriteFailed(artifact.CheckpointID, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		cleanup()
		return "", 0, coorderr.CheckpointWriteFailed(artifact.CheckpointID, err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", 0, coorderr.CheckpointWriteFailed(artifact.CheckpointID, err)
	}

	if err := ctx.Err(); err != nil {
		cleanup()
		return "", 0, err
	}

	// Publish: the rename is the atomic commit point.
	if err := os.Rename(tmp, final); err != nil {
		cleanup()
		return "", 0, coorderr.CheckpointWriteFailed(artifact.CheckpointID, err)
	}

	return final, int64(len(data)), nil
}
