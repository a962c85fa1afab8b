package setup

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"golang.org/x/sys/unix"
)

var StorageDir = "/var/lib/rootbake/"
var GuestToolingDir = "/usr/libexec/rootbake/guest/"

// geteuid is swapped in tests.
var geteuid = unix.Geteuid

// Verify checks that the host can run a build: root privileges for mounts and
// chroot ownership, and an executable guest tooling installer.
func Verify(guestInstaller string) error {
	var errs []error

	if uid := geteuid(); uid != 0 {
		errs = append(errs, fmt.Errorf("building an image requires root privileges (effective uid %d)", uid))
	}

	info, err := os.Stat(guestInstaller)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		errs = append(errs, fmt.Errorf("guest tooling installer %s does not exist", guestInstaller))
	case err != nil:
		errs = append(errs, fmt.Errorf("stat guest tooling installer: %w", err))
	case info.IsDir() || info.Mode().Perm()&0o111 == 0:
		errs = append(errs, fmt.Errorf("guest tooling installer %s is not executable", guestInstaller))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	getLogger().Debug("host prerequisites satisfied", "guest_installer", guestInstaller)
	return nil
}

// ClearWorkDir removes the scratch workspace, including any cached bootstrap toolchain.
func ClearWorkDir(dir string) error {
	if dir == "" || dir == "/" {
		return fmt.Errorf("refusing to clear work directory %q", dir)
	}
	getLogger().Info("clearing work directory", "dir", dir)

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove %s: %w", dir, err)
	}
	return nil
}
