package artifacts

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ArtifactStore records produced artifacts.
type ArtifactStore interface {
	StoreArtifact(artifactPath string, kind ArtifactKind, metadata map[string]any) (Artifact, error)
	RemoveArtifact(artifact Artifact) error
}

// LocalArtifactStore leaves artifacts where they were written and records a
// JSON metadata document next to each one.
type LocalArtifactStore struct{}

var _ ArtifactStore = (*LocalArtifactStore)(nil)

// StoreArtifact checksums the artifact and writes <artifact>.json beside it.
func (store *LocalArtifactStore) StoreArtifact(artifactPath string, kind ArtifactKind, metadata map[string]any) (Artifact, error) {
	if artifactPath == "" {
		return Artifact{}, errors.New("artifact path is required")
	}

	absPath, err := filepath.Abs(artifactPath)
	if err != nil {
		return Artifact{}, err
	}

	checksum, size, err := sha256File(absPath)
	if err != nil {
		return Artifact{}, err
	}

	artifact := Artifact{
		ID:          uuid.NewString(),
		Kind:        kind,
		URI:         fileURI(absPath),
		Name:        filepath.Base(absPath),
		Checksum:    &checksum,
		Size:        size,
		ContentType: detectContentType(absPath),
		CreatedAt:   time.Now().UTC(),
		Metadata:    cloneMetadata(metadata),
	}

	if err := store.writeMetadata(absPath, artifact); err != nil {
		return Artifact{}, err
	}
	return artifact, nil
}

// RemoveArtifact deletes the artifact file and its metadata document.
func (store *LocalArtifactStore) RemoveArtifact(artifact Artifact) error {
	path, err := PathFromURI(artifact.URI)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	if err := os.Remove(MetadataPath(path)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// MetadataPath returns where the metadata document for path is kept.
func MetadataPath(path string) string {
	return path + ".json"
}

// List reads every metadata document in dir and returns the recorded
// artifacts, newest first. A missing dir yields no artifacts. When imageID is
// set only artifacts built for that image are returned.
func (store *LocalArtifactStore) List(dir, imageID string) ([]Artifact, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var found []Artifact
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		artifact, err := loadMetadata(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		if artifact == nil {
			continue
		}
		if imageID != "" && artifact.Metadata["image_id"] != imageID {
			continue
		}
		found = append(found, *artifact)
	}

	sort.SliceStable(found, func(i, j int) bool {
		return found[i].CreatedAt.After(found[j].CreatedAt)
	})
	return found, nil
}

// Prune removes the recorded artifacts in dir, and their metadata documents,
// except for the newest keep. It returns what was removed.
func (store *LocalArtifactStore) Prune(dir, imageID string, keep int) ([]Artifact, error) {
	found, err := store.List(dir, imageID)
	if err != nil {
		return nil, err
	}
	keep = max(keep, 0)
	if len(found) <= keep {
		return nil, nil
	}

	var removed []Artifact
	for _, artifact := range found[keep:] {
		if err := store.RemoveArtifact(artifact); err != nil {
			return removed, fmt.Errorf("remove artifact %s: %w", artifact.Name, err)
		}
		removed = append(removed, artifact)
	}
	return removed, nil
}

// loadMetadata returns nil for JSON files that are not artifact records.
func loadMetadata(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var artifact Artifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return nil, nil
	}
	if artifact.Kind == "" || artifact.URI == "" {
		return nil, nil
	}
	return &artifact, nil
}

func (store *LocalArtifactStore) writeMetadata(filePath string, artifact Artifact) error {
	payload, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(MetadataPath(filePath), append(payload, '\n'), 0o644)
}

func sha256File(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, fmt.Errorf("checksum %s: %w", path, err)
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil)), n, nil
}

func detectContentType(path string) string {
	switch filepath.Ext(path) {
	case ".gz":
		return "application/gzip"
	case ".json":
		return "application/json"
	case ".txt":
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}

func cloneMetadata(metadata map[string]any) map[string]any {
	if metadata == nil {
		return nil
	}
	cloned := make(map[string]any, len(metadata))
	for k, v := range metadata {
		cloned[k] = v
	}
	return cloned
}
