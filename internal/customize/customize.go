// Package customize applies the image-specific mutations to an installed
// target root as an ordered list of named steps.
package customize

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	securejoin "github.com/cyphar/filepath-securejoin"

	"github.com/cochaviz/rootbake/internal/build"
	"github.com/cochaviz/rootbake/internal/logging"
)

// Target is what a step mutates: a root directory plus the build it belongs to.
type Target struct {
	Root  string
	Build build.BuildContext
	// Hooks may be nil when no package manager is available, e.g. in tests.
	Hooks build.PackageHooks
}

// Profile is a shorthand for the profile of the build being customized.
func (t Target) Profile() build.Profile {
	return t.Build.Profile
}

// Path resolves an image path such as /etc/shadow inside the root. Symlinks
// are resolved as the image would see them and never leave the root.
func (t Target) Path(p string) (string, error) {
	resolved, err := securejoin.SecureJoin(t.Root, p)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", p, err)
	}
	return resolved, nil
}

// LinkPath resolves only the parent of p, so the returned path names the link
// itself rather than whatever it points to.
func (t Target) LinkPath(p string) (string, error) {
	parent, err := t.Path(filepath.Dir(p))
	if err != nil {
		return "", err
	}
	return filepath.Join(parent, filepath.Base(p)), nil
}

// Step is one independently re-runnable mutation.
type Step struct {
	Name  string
	Apply func(ctx context.Context, target Target) error
}

// DefaultSteps returns the image mutations in the order they are applied.
func DefaultSteps() []Step {
	return []Step{
		{Name: "locale", Apply: ConfigureLocale},
		{Name: "core-services", Apply: MaskCoreServices},
		{Name: "enable-services", Apply: EnableServices},
		{Name: "disable-consoles", Apply: DisableConsoles},
		{Name: "root-password", Apply: ClearRootPassword},
		{Name: "timezone", Apply: SetTimezone},
		{Name: "sshd-hardening", Apply: HardenSSH},
		{Name: "identity", Apply: WriteIdentity},
	}
}

var _ build.ImageCustomizer = (*Customizer)(nil)

// Customizer runs steps in order and stops at the first failure.
type Customizer struct {
	Logger *slog.Logger
	Steps  []Step
}

// New returns a Customizer with DefaultSteps.
func New(logger *slog.Logger) *Customizer {
	return &Customizer{Logger: logger, Steps: DefaultSteps()}
}

// Customize applies every step to the install dir of buildContext.
func (c *Customizer) Customize(ctx context.Context, buildContext build.BuildContext, hooks build.PackageHooks) error {
	logger := logging.Ensure(c.Logger)
	target := Target{Root: buildContext.Request.InstallDir, Build: buildContext, Hooks: hooks}
	if target.Root == "" {
		return errors.New("target root is required")
	}

	for _, step := range c.Steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		logger.Info("applying customization", "step", step.Name)
		if err := step.Apply(ctx, target); err != nil {
			return fmt.Errorf("%s: %w", step.Name, err)
		}
	}
	return nil
}

// writeFile replaces the content of path, keeping its mode when it already
// exists and creating parents when it does not.
func writeFile(path string, content []byte, mode fs.FileMode) error {
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create parent of %s: %w", path, err)
	}
	if err := os.WriteFile(path, content, mode); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// ensureSymlink makes link point at target, replacing anything else at link.
func ensureSymlink(target, link string) error {
	if current, err := os.Readlink(link); err == nil && current == target {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(link), 0o755); err != nil {
		return fmt.Errorf("create parent of %s: %w", link, err)
	}
	if err := removeIfExists(link); err != nil {
		return err
	}
	if err := os.Symlink(target, link); err != nil {
		return fmt.Errorf("symlink %s: %w", link, err)
	}
	return nil
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}
