package xbps

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	securejoin "github.com/cyphar/filepath-securejoin"

	"github.com/cochaviz/rootbake/internal/build"
	"github.com/cochaviz/rootbake/internal/command"
	"github.com/cochaviz/rootbake/internal/logging"
)

// keysDir is where xbps looks for trusted repository keys, relative to a root.
const keysDir = "var/db/xbps/keys"

var _ build.PackageManager = (*Installer)(nil)

// Installer runs the bootstrapped xbps tools against a target root.
type Installer struct {
	Runner command.Runner
	Logger *slog.Logger
}

func (i *Installer) runner() command.Runner {
	if i.Runner != nil {
		return i.Runner
	}
	return &command.ExecRunner{Logger: i.Logger}
}

// CopyKeys installs the repository signing keys shipped with the toolchain into root.
func (i *Installer) CopyKeys(toolchain build.Toolchain, root string) error {
	entries, err := os.ReadDir(toolchain.KeysDir())
	if err != nil {
		return fmt.Errorf("read toolchain keys: %w", err)
	}

	dest, err := securejoin.SecureJoin(root, keysDir)
	if err != nil {
		return fmt.Errorf("resolve keys dir: %w", err)
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("create keys dir: %w", err)
	}

	copied := 0
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		src := filepath.Join(toolchain.KeysDir(), entry.Name())
		if err := copyFile(src, filepath.Join(dest, entry.Name())); err != nil {
			return fmt.Errorf("copy key %s: %w", entry.Name(), err)
		}
		copied++
	}
	logging.Ensure(i.Logger).Debug("copied repository keys", "count", copied, "dir", dest)
	return nil
}

// Install syncs the repository index and installs or updates packages in the target root.
func (i *Installer) Install(ctx context.Context, toolchain build.Toolchain, target build.InstallTarget, packages []string) error {
	if err := checkTarget(target); err != nil {
		return err
	}
	if len(packages) == 0 {
		return errors.New("no packages to install")
	}

	args := []string{"-S", "-y", "-u", "-r", target.Root, "-R", target.Repository}
	args = append(args, packages...)

	logging.Ensure(i.Logger).Info("installing packages", "count", len(packages), "repository", target.Repository)
	return i.runner().Run(ctx, command.Command{
		Name: toolchain.Bin("xbps-install"),
		Args: args,
		Env:  archEnv(target),
	})
}

// Reconfigure forces the post-install hooks of packages to run inside the
// target root. With no packages every installed package is reconfigured.
func (i *Installer) Reconfigure(ctx context.Context, toolchain build.Toolchain, target build.InstallTarget, packages ...string) error {
	if err := checkTarget(target); err != nil {
		return err
	}

	args := []string{"-r", target.Root, "-f"}
	if len(packages) == 0 {
		args = append(args, "-a")
	} else {
		args = append(args, packages...)
	}

	logging.Ensure(i.Logger).Info("reconfiguring packages", "packages", packages)
	return i.runner().Run(ctx, command.Command{
		Name: toolchain.Bin("xbps-reconfigure"),
		Args: args,
		Env:  archEnv(target),
	})
}

func checkTarget(target build.InstallTarget) error {
	var errs []error
	if target.Root == "" {
		errs = append(errs, errors.New("target root is required"))
	}
	if target.Architecture == "" {
		errs = append(errs, errors.New("target architecture is required"))
	}
	if target.Repository == "" {
		errs = append(errs, errors.New("repository is required"))
	}
	return errors.Join(errs...)
}

// archEnv scopes the architecture to the child process instead of our own environment.
func archEnv(target build.InstallTarget) []string {
	return []string{"XBPS_ARCH=" + target.Architecture.String()}
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.Remove(dest); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
