package database

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"c2c/internal/report"
)

// SpoolArtifact is a pass report kept on disk while InfluxDB is unavailable.
type SpoolArtifact struct {
	Version int `json:"version"`

	CreatedAt time.Time `json:"created_at"`

	RunID string       `json:"run_id"`
	Pass  *report.Pass `json:"pass"`

	Metadata *RunMetadata `json:"metadata,omitempty"`
}

func DefaultSpoolDir() string {
	if v := strings.TrimSpace(os.Getenv("C2C_SPOOL_DIR")); v != "" {
		return v
	}
	return "spool"
}

// WriteSpoolArtifact writes a gzip-compressed JSON artifact to disk atomically.
// It returns the final file path.
func WriteSpoolArtifact(dir string, artifact *SpoolArtifact) (string, error) {
	if artifact == nil || artifact.Pass == nil {
		return "", fmt.Errorf("spool artifact is empty")
	}
	if dir == "" {
		dir = DefaultSpoolDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	name := fmt.Sprintf(
		"pass_%s_%06d_%s.json.gz",
		artifact.RunID,
		artifact.Pass.Number,
		artifact.CreatedAt.UTC().Format("20060102T150405Z"),
	)
	finalPath := filepath.Join(dir, name)

	tmp, err := os.CreateTemp(dir, name+".tmp.*")
	if err != nil {
		return "", err
	}
	tmpPath := tmp.Name()

	ok := false
	defer func() {
		_ = tmp.Close()
		if !ok {
			_ = os.Remove(tmpPath)
		}
	}()

	gz := gzip.NewWriter(tmp)
	enc := json.NewEncoder(gz)
	enc.SetIndent("", "  ")
	if err := enc.Encode(artifact); err != nil {
		_ = gz.Close()
		return "", err
	}
	if err := gz.Close(); err != nil {
		return "", err
	}
	if err := tmp.Sync(); err != nil {
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		return "", err
	}
	ok = true
	return finalPath, nil
}

// Spool is the pass observer used instead of InfluxDB when the database is
// disabled or unreachable.
type Spool struct {
	dir      string
	metadata *RunMetadata
	written  bool
}

func NewSpool(dir string, metadata *RunMetadata) *Spool {
	if dir == "" {
		dir = DefaultSpoolDir()
	}
	return &Spool{dir: dir, metadata: metadata}
}

func (s *Spool) Dir() string { return s.dir }

// ObservePass spools the pass. Run metadata rides along with the first artifact only.
func (s *Spool) ObservePass(_ context.Context, pass *report.Pass) error {
	artifact := &SpoolArtifact{
		Version:   1,
		CreatedAt: time.Now(),
		RunID:     pass.RunID,
		Pass:      pass,
	}
	if !s.written {
		artifact.Metadata = s.metadata
	}
	if _, err := WriteSpoolArtifact(s.dir, artifact); err != nil {
		return fmt.Errorf("failed to spool pass %d: %w", pass.Number, err)
	}
	s.written = true
	return nil
}

// ReadSpoolArtifact loads an artifact written by WriteSpoolArtifact.
func ReadSpoolArtifact(path string) (*SpoolArtifact, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer gz.Close()

	var artifact SpoolArtifact
	if err := json.NewDecoder(gz).Decode(&artifact); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return &artifact, nil
}
