package rootfs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/cochaviz/rootbake/internal/logging"
)

// TargetReset destroys whatever a previous run left in a target directory
// and recreates it empty.
type TargetReset struct {
	Guard  *MountGuard
	Logger *slog.Logger
}

// Reset releases kernel mounts under root, deletes it, and recreates it. No
// deletion happens while anything is still mounted below root.
func (r *TargetReset) Reset(ctx context.Context, root string) error {
	logger := logging.Ensure(r.Logger).With("root", root)

	if !filepath.IsAbs(root) {
		return fmt.Errorf("target %q must be an absolute path", root)
	}
	root = filepath.Clean(root)
	if root == string(filepath.Separator) {
		return errors.New("refusing to reset the filesystem root")
	}

	guard := r.Guard
	if guard == nil {
		guard = &MountGuard{Logger: r.Logger}
	}

	_, err := os.Lstat(root)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		logger.Info("target does not exist yet")
	case err != nil:
		return fmt.Errorf("stat target %s: %w", root, err)
	default:
		resolved, err := filepath.EvalSymlinks(root)
		if err != nil {
			return fmt.Errorf("resolve target %s: %w", root, err)
		}
		if err := guard.Release(ctx, resolved); err != nil {
			return err
		}
		if err := guard.EnsureNoMounts(resolved); err != nil {
			return err
		}

		mountPoint, err := guard.IsMountPoint(resolved)
		if err != nil {
			return err
		}
		if mountPoint {
			logger.Info("target is a mount point; clearing its contents")
			if err := clearDir(resolved); err != nil {
				return err
			}
		} else {
			logger.Info("removing previous target")
			if err := os.RemoveAll(root); err != nil {
				return fmt.Errorf("remove target %s: %w", root, err)
			}
		}
	}

	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("create target %s: %w", root, err)
	}
	logger.Info("target reset")
	return nil
}

func clearDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read target %s: %w", dir, err)
	}
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			return fmt.Errorf("remove %s: %w", path, err)
		}
	}
	return nil
}
