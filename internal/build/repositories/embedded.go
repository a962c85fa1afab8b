package repositories

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/cochaviz/rootbake/internal/build"
)

//go:embed assets/profiles/*.yaml
var embeddedProfiles embed.FS

const profileDir = "assets/profiles"

// DefaultProfileName is the embedded profile used when none is requested.
const DefaultProfileName = "default"

var _ build.ProfileRepository = (*EmbeddedProfileRepository)(nil)

// EmbeddedProfileRepository contains the built-in image profiles, each a YAML
// overlay on build.DefaultProfile.
type EmbeddedProfileRepository struct {
	profiles map[string]build.Profile
	order    []string
}

// NewEmbeddedProfileRepository parses every embedded profile.
func NewEmbeddedProfileRepository() (*EmbeddedProfileRepository, error) {
	repo := &EmbeddedProfileRepository{profiles: make(map[string]build.Profile)}

	entries, err := fs.ReadDir(embeddedProfiles, profileDir)
	if err != nil {
		return nil, fmt.Errorf("list embedded profiles: %w", err)
	}
	for _, entry := range entries {
		name := strings.TrimSuffix(entry.Name(), path.Ext(entry.Name()))
		data, err := embeddedProfiles.ReadFile(path.Join(profileDir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read embedded profile %s: %w", name, err)
		}
		profile, err := build.ParseProfile(data)
		if err != nil {
			return nil, fmt.Errorf("embedded profile %s: %w", name, err)
		}
		repo.profiles[name] = profile
		repo.order = append(repo.order, name)
	}
	sort.Strings(repo.order)
	return repo, nil
}

// Get returns the profile registered under name.
func (r *EmbeddedProfileRepository) Get(name string) (build.Profile, error) {
	profile, ok := r.profiles[name]
	if !ok {
		return build.Profile{}, fmt.Errorf("profile %q not found (known: %s)", name, strings.Join(r.order, ", "))
	}
	return profile, nil
}

// ListAll returns every embedded profile name.
func (r *EmbeddedProfileRepository) ListAll() ([]string, error) {
	return append([]string(nil), r.order...), nil
}
