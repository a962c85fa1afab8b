// Package rootfs owns the lifecycle of a target root directory: releasing
// kernel mounts a previous run left behind and resetting the tree to empty.
package rootfs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/moby/sys/mountinfo"
	"golang.org/x/sys/unix"

	"github.com/cochaviz/rootbake/internal/logging"
)

// KernelMounts lists the kernel-special subpaths a chroot build mounts.
var KernelMounts = []string{"proc", "sys", "dev", "dev/pts", "run"}

// ErrLiveMount matches errors caused by a mount that is still attached below a target.
var ErrLiveMount = errors.New("live mount under target")

// MountRecord is the observed mount state of one kernel-special subpath.
type MountRecord struct {
	Path    string
	Mounted bool
}

// Mounter inspects and detaches mounts.
type Mounter interface {
	// MountsUnder lists the mount points at or below dir.
	MountsUnder(dir string) ([]string, error)
	Unmount(path string) error
}

// SystemMounter reads the live mount table of the current process.
type SystemMounter struct{}

var _ Mounter = SystemMounter{}

func (SystemMounter) MountsUnder(dir string) ([]string, error) {
	infos, err := mountinfo.GetMounts(mountinfo.PrefixFilter(dir))
	if err != nil {
		return nil, fmt.Errorf("read mount table: %w", err)
	}

	points := make([]string, 0, len(infos))
	for _, info := range infos {
		if within(dir, info.Mountpoint) {
			points = append(points, info.Mountpoint)
		}
	}
	return points, nil
}

func (SystemMounter) Unmount(path string) error {
	return unix.Unmount(path, 0)
}

// UnmountError reports a mount that could not be released.
type UnmountError struct {
	Path string
	Err  error
}

func (e *UnmountError) Error() string {
	return fmt.Sprintf("unmount %s: %v", e.Path, e.Err)
}

func (e *UnmountError) Unwrap() error {
	return e.Err
}

func (e *UnmountError) Is(target error) bool {
	return target == ErrLiveMount
}

// MountGuard releases kernel-special mounts below a target root.
type MountGuard struct {
	Mounter Mounter
	Logger  *slog.Logger
	// Paths overrides KernelMounts.
	Paths []string
}

func (g *MountGuard) mounter() Mounter {
	if g.Mounter != nil {
		return g.Mounter
	}
	return SystemMounter{}
}

func (g *MountGuard) paths() []string {
	if len(g.Paths) > 0 {
		return g.Paths
	}
	return KernelMounts
}

// Inspect reports, for each kernel-special subpath of root, whether it is a
// mount point right now. Nothing is cached between calls.
func (g *MountGuard) Inspect(root string) ([]MountRecord, error) {
	records := make([]MountRecord, 0, len(g.paths()))
	for _, sub := range g.paths() {
		path := filepath.Join(root, sub)
		mounts, err := g.mounter().MountsUnder(path)
		if err != nil {
			return nil, err
		}
		records = append(records, MountRecord{Path: path, Mounted: slices.Contains(mounts, path)})
	}
	return records, nil
}

// Release unmounts every mount at or below the kernel-special subpaths of
// root, deepest first, and verifies none remain.
func (g *MountGuard) Release(ctx context.Context, root string) error {
	logger := logging.Ensure(g.Logger)

	mounts, err := g.collect(root)
	if err != nil {
		return err
	}

	for _, path := range mounts {
		if err := ctx.Err(); err != nil {
			return err
		}
		logger.Info("unmounting leftover mount", "path", path)
		if err := g.mounter().Unmount(path); err != nil {
			return &UnmountError{Path: path, Err: err}
		}
	}

	remaining, err := g.collect(root)
	if err != nil {
		return err
	}
	if len(remaining) > 0 {
		return &UnmountError{Path: remaining[0], Err: errors.New("still mounted after unmount")}
	}
	return nil
}

// EnsureNoMounts fails if anything is mounted strictly below root.
func (g *MountGuard) EnsureNoMounts(root string) error {
	mounts, err := g.mounter().MountsUnder(root)
	if err != nil {
		return err
	}
	for _, path := range deepestFirst(mounts) {
		if path != root {
			return &UnmountError{Path: path, Err: errors.New("mounted below target; refusing to delete")}
		}
	}
	return nil
}

// IsMountPoint reports whether root itself is a mount point.
func (g *MountGuard) IsMountPoint(root string) (bool, error) {
	mounts, err := g.mounter().MountsUnder(root)
	if err != nil {
		return false, err
	}
	return slices.Contains(mounts, root), nil
}

func (g *MountGuard) collect(root string) ([]string, error) {
	seen := make(map[string]bool)
	var all []string
	for _, sub := range g.paths() {
		mounts, err := g.mounter().MountsUnder(filepath.Join(root, sub))
		if err != nil {
			return nil, err
		}
		for _, m := range mounts {
			if !seen[m] {
				seen[m] = true
				all = append(all, m)
			}
		}
	}
	return deepestFirst(all), nil
}

// deepestFirst orders mount points so children precede their parents.
func deepestFirst(paths []string) []string {
	sorted := append([]string(nil), paths...)
	sort.SliceStable(sorted, func(i, j int) bool {
		di, dj := strings.Count(sorted[i], "/"), strings.Count(sorted[j], "/")
		if di != dj {
			return di > dj
		}
		return sorted[i] > sorted[j]
	})
	return sorted
}

func within(dir, path string) bool {
	if path == dir {
		return true
	}
	prefix := strings.TrimSuffix(dir, "/") + "/"
	return strings.HasPrefix(path, prefix)
}
