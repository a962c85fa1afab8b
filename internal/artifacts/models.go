package artifacts

import "time"

type ArtifactKind string

const (
	ImageArtifact ArtifactKind = "image" // compressed root filesystem archive
)

type Artifact struct {
	ID   string       `json:"id"`
	Kind ArtifactKind `json:"kind"`
	URI  string       `json:"uri"`
	Name string       `json:"name"`

	Checksum    *string        `json:"checksum,omitempty"`
	Size        int64          `json:"size"`
	ContentType string         `json:"content_type"`
	CreatedAt   time.Time      `json:"created_at"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// ArchiveSpec describes one archival run.
type ArchiveSpec struct {
	Root       string
	OutputPath string
	// Excludes are glob patterns matched against "./"-relative entry names.
	Excludes []string
	// ModTime clamps entry modification times; zero keeps them as-is.
	ModTime time.Time
}
