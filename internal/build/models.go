package build

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/cochaviz/rootbake/arch"
)

// DefaultDocsURL is used when a request does not name its own documentation.
const DefaultDocsURL = "https://docs.voidlinux.org"

// BuildStatus captures overall lifecycle states for an image build run.
type BuildStatus string

// Supported build statuses.
const (
	BuildStatusRunning   BuildStatus = "running"
	BuildStatusSucceeded BuildStatus = "succeeded"
	BuildStatusFailed    BuildStatus = "failed"
	BuildStatusCancelled BuildStatus = "cancelled"
)

// BuildRequest carries the operator-supplied parameters of one image build.
type BuildRequest struct {
	Architecture arch.Architecture
	InstallDir   string
	MirrorURL    string
	ImageID      string
	DisplayName  string
	Description  string
	DocsURL      string
}

// FieldError reports a single missing or malformed request parameter.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Validate checks every required field and returns a normalized copy of the
// request. All problems are reported together, one FieldError per field.
func (r BuildRequest) Validate() (BuildRequest, error) {
	var errs []error
	missing := func(field string) {
		errs = append(errs, &FieldError{Field: field, Reason: "is required"})
	}

	normalized := BuildRequest{
		MirrorURL:   strings.TrimRight(strings.TrimSpace(r.MirrorURL), "/"),
		ImageID:     strings.TrimSpace(r.ImageID),
		DisplayName: strings.TrimSpace(r.DisplayName),
		Description: strings.TrimSpace(r.Description),
		DocsURL:     strings.TrimSpace(r.DocsURL),
	}

	switch raw := strings.TrimSpace(string(r.Architecture)); {
	case raw == "":
		missing("architecture")
	default:
		parsed, err := arch.Parse(raw)
		if err != nil {
			errs = append(errs, &FieldError{Field: "architecture", Reason: err.Error()})
		}
		normalized.Architecture = parsed
	}

	if dir := strings.TrimSpace(r.InstallDir); dir == "" {
		missing("install directory")
	} else {
		abs, err := filepath.Abs(dir)
		switch {
		case err != nil:
			errs = append(errs, &FieldError{Field: "install directory", Reason: fmt.Sprintf("resolve %q: %v", dir, err)})
		case abs == string(filepath.Separator):
			errs = append(errs, &FieldError{Field: "install directory", Reason: "refusing to use the filesystem root"})
		default:
			normalized.InstallDir = filepath.Clean(abs)
		}
	}

	if normalized.MirrorURL == "" {
		missing("mirror")
	}

	switch {
	case normalized.ImageID == "":
		missing("image id")
	case strings.ContainsAny(normalized.ImageID, `/\`) || normalized.ImageID == "." || normalized.ImageID == "..":
		errs = append(errs, &FieldError{Field: "image id", Reason: fmt.Sprintf("%q is not a valid file name component", normalized.ImageID)})
	}

	if normalized.DisplayName == "" {
		missing("display name")
	}
	if normalized.Description == "" {
		missing("description")
	}
	if normalized.DocsURL == "" {
		normalized.DocsURL = DefaultDocsURL
	}

	if len(errs) > 0 {
		return BuildRequest{}, errors.Join(errs...)
	}
	return normalized, nil
}

// BuildContext provides the shared context passed across pipeline stages.
type BuildContext struct {
	BuildID string
	Request BuildRequest
	Profile Profile
	// BuildDate is YYYYMMDD, fixed once at process start.
	BuildDate string
	WorkDir   string
	OutputDir string
}

// InstallTarget scopes package-manager operations to one root.
type InstallTarget struct {
	Root         string
	Architecture arch.Architecture
	Repository   string
}

// RepositoryURL derives the package repository for an architecture from the mirror base URL.
func RepositoryURL(mirror string, a arch.Architecture) string {
	base := strings.TrimRight(mirror, "/") + "/current"
	if a.Libc() == arch.Musl {
		return base + "/musl"
	}
	return base
}

// Toolchain locates an extracted static xbps distribution.
type Toolchain struct {
	Dir string
}

// Bin returns the path of a toolchain executable. Static builds carry a
// ".static" suffix, which is preferred when present.
func (t Toolchain) Bin(name string) string {
	return t.binWith(name, fileExists)
}

func (t Toolchain) binWith(name string, exists func(string) bool) string {
	plain := filepath.Join(t.Dir, "usr", "bin", name)
	if static := plain + ".static"; exists(static) {
		return static
	}
	return plain
}

// KeysDir is where the toolchain ships the repository signing keys.
func (t Toolchain) KeysDir() string {
	return filepath.Join(t.Dir, "var", "db", "xbps", "keys")
}
