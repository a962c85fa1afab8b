package customize

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/cochaviz/rootbake/arch"
	"github.com/cochaviz/rootbake/internal/build"
)

type recordingHooks struct {
	calls [][]string
}

func (h *recordingHooks) Reconfigure(_ context.Context, packages ...string) error {
	h.calls = append(h.calls, packages)
	return nil
}

func writeSeed(t *testing.T, root, rel, content string, mode fs.FileMode) {
	t.Helper()
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", rel, err)
	}
	if err := os.WriteFile(path, []byte(content), mode); err != nil {
		t.Fatalf("write %s: %v", rel, err)
	}
}

// seedRoot lays out the parts of a freshly installed Void root the steps touch.
func seedRoot(t *testing.T) string {
	t.Helper()
	root := t.TempDir()

	writeSeed(t, root, "etc/shadow", "root:$6$salt$hash:19000:0:99999:7:::\nbin:*:19000::::::\n", 0o600)
	writeSeed(t, root, "etc/ssh/sshd_config", "#PermitRootLogin prohibit-password\n#PasswordAuthentication yes\nPasswordAuthentication yes\nUsePAM no\n", 0o644)
	writeSeed(t, root, "etc/default/libc-locales", "#en_US.UTF-8 UTF-8\n#de_DE.UTF-8 UTF-8", 0o644)
	writeSeed(t, root, "etc/sv/sshd/run", "#!/bin/sh\nexec /usr/bin/sshd -D\n", 0o755)
	for _, name := range []string{"01-static-devnodes.sh", "02-kmods.sh", "02-udev.sh", "03-filesystems.sh", "04-swap.sh"} {
		writeSeed(t, root, filepath.Join("etc/runit/core-services", name), "echo probing\n", 0o644)
	}
	for tty := 1; tty <= 6; tty++ {
		name := fmt.Sprintf("agetty-tty%d", tty)
		writeSeed(t, root, filepath.Join("etc/sv", name, "run"), "#!/bin/sh\nexec agetty\n", 0o755)
		link := filepath.Join(root, "etc/runit/runsvdir/default", name)
		if err := os.MkdirAll(filepath.Dir(link), 0o755); err != nil {
			t.Fatalf("mkdir runsvdir: %v", err)
		}
		if err := os.Symlink("/etc/sv/"+name, link); err != nil {
			t.Fatalf("symlink %s: %v", name, err)
		}
	}
	return root
}

func buildContext(root string, a arch.Architecture) build.BuildContext {
	return build.BuildContext{
		BuildID: "test",
		Request: build.BuildRequest{
			Architecture: a,
			InstallDir:   root,
			MirrorURL:    "https://mirror.test",
			ImageID:      "void",
			DisplayName:  "Void Linux",
			Description:  "Minimal Void Linux image",
			DocsURL:      "https://example.com/docs",
		},
		Profile:   build.DefaultProfile(),
		BuildDate: "20240101",
	}
}

func readFile(t *testing.T, root, rel string) string {
	t.Helper()
	content, err := os.ReadFile(filepath.Join(root, rel))
	if err != nil {
		t.Fatalf("read %s: %v", rel, err)
	}
	return string(content)
}

// snapshot records the type, mode and content or link target of every entry below root.
func snapshot(t *testing.T, root string) map[string]string {
	t.Helper()
	out := make(map[string]string)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(root, path)
		info, err := d.Info()
		if err != nil {
			return err
		}
		switch {
		case d.Type()&fs.ModeSymlink != 0:
			target, err := os.Readlink(path)
			if err != nil {
				return err
			}
			out[rel] = "link:" + target
		case d.IsDir():
			out[rel] = "dir"
		default:
			content, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			out[rel] = fmt.Sprintf("%v:%s", info.Mode().Perm(), content)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	return out
}

func TestCustomizeIsRepeatable(t *testing.T) {
	t.Parallel()

	root := seedRoot(t)
	bc := buildContext(root, arch.X86_64)
	customizer := New(nil)

	hooks := &recordingHooks{}
	if err := customizer.Customize(context.Background(), bc, hooks); err != nil {
		t.Fatalf("first Customize() error = %v", err)
	}
	first := snapshot(t, root)

	if err := customizer.Customize(context.Background(), bc, hooks); err != nil {
		t.Fatalf("second Customize() error = %v", err)
	}
	if diff := cmp.Diff(first, snapshot(t, root)); diff != "" {
		t.Fatalf("second run changed the tree (-first +second):\n%s", diff)
	}

	if diff := cmp.Diff([][]string{{"glibc-locales"}, {"glibc-locales"}}, hooks.calls); diff != "" {
		t.Fatalf("reconfigure calls mismatch (-want +got):\n%s", diff)
	}
}

func TestCustomizeOutcome(t *testing.T) {
	t.Parallel()

	root := seedRoot(t)
	if err := New(nil).Customize(context.Background(), buildContext(root, arch.X86_64), nil); err != nil {
		t.Fatalf("Customize() error = %v", err)
	}

	if got := readFile(t, root, "etc/default/libc-locales"); got != "#en_US.UTF-8 UTF-8\n#de_DE.UTF-8 UTF-8\nen_US.UTF-8 UTF-8\n" {
		t.Fatalf("libc-locales = %q", got)
	}
	for _, name := range []string{"02-kmods.sh", "02-udev.sh", "03-filesystems.sh", "04-swap.sh"} {
		if got := readFile(t, root, "etc/runit/core-services/"+name); got != MaskMarker {
			t.Fatalf("%s = %q, want mask marker", name, got)
		}
	}
	if got := readFile(t, root, "etc/runit/core-services/01-static-devnodes.sh"); got != "echo probing\n" {
		t.Fatalf("unlisted core service was touched: %q", got)
	}
	if target, err := os.Readlink(filepath.Join(root, "etc/runit/runsvdir/default/sshd")); err != nil || target != "/etc/sv/sshd" {
		t.Fatalf("sshd link = %q, err = %v", target, err)
	}
	for tty := 1; tty <= 6; tty++ {
		name := fmt.Sprintf("agetty-tty%d", tty)
		if _, err := os.Stat(filepath.Join(root, "etc/sv", name, "down")); err != nil {
			t.Fatalf("%s has no down file: %v", name, err)
		}
		if _, err := os.Lstat(filepath.Join(root, "etc/runit/runsvdir/default", name)); !errors.Is(err, fs.ErrNotExist) {
			t.Fatalf("%s still linked: err = %v", name, err)
		}
	}
	if got := readFile(t, root, "etc/shadow"); got != "root::19000:0:99999:7:::\nbin:*:19000::::::\n" {
		t.Fatalf("shadow = %q", got)
	}
	if info, err := os.Stat(filepath.Join(root, "etc/shadow")); err != nil || info.Mode().Perm() != 0o600 {
		t.Fatalf("shadow mode changed: %v, err = %v", info.Mode(), err)
	}
	if target, err := os.Readlink(filepath.Join(root, "etc/localtime")); err != nil || target != "/usr/share/zoneinfo/UTC" {
		t.Fatalf("localtime = %q, err = %v", target, err)
	}
	if got := readFile(t, root, "etc/ssh/sshd_config"); got != "#PermitRootLogin prohibit-password\nPasswordAuthentication no\nUsePAM no\n" {
		t.Fatalf("sshd_config = %q", got)
	}

	motd := readFile(t, root, "etc/motd")
	product := readFile(t, root, "etc/product")
	if got := readFile(t, root, "etc/image-release"); got != motd+product {
		t.Fatalf("image-release = %q, want motd followed by product", got)
	}
}

func TestLocaleSkipsReconfigureOnMusl(t *testing.T) {
	t.Parallel()

	root := seedRoot(t)
	hooks := &recordingHooks{}
	target := Target{Root: root, Build: buildContext(root, arch.X86_64Musl), Hooks: hooks}

	if err := ConfigureLocale(context.Background(), target); err != nil {
		t.Fatalf("ConfigureLocale() error = %v", err)
	}
	if len(hooks.calls) != 0 {
		t.Fatalf("reconfigure called on musl: %v", hooks.calls)
	}
	if !strings.Contains(readFile(t, root, "etc/default/libc-locales"), "\nen_US.UTF-8 UTF-8\n") {
		t.Fatal("locale not declared")
	}
}

func TestCustomizeStopsAtFirstFailure(t *testing.T) {
	t.Parallel()

	var ran []string
	step := func(name string, err error) Step {
		return Step{Name: name, Apply: func(context.Context, Target) error {
			ran = append(ran, name)
			return err
		}}
	}
	boom := errors.New("disk full")
	customizer := &Customizer{Steps: []Step{step("a", nil), step("b", boom), step("c", nil)}}

	err := customizer.Customize(context.Background(), buildContext(t.TempDir(), arch.X86_64), nil)
	if !errors.Is(err, boom) {
		t.Fatalf("Customize() error = %v, want %v", err, boom)
	}
	if !strings.HasPrefix(err.Error(), "b: ") {
		t.Fatalf("error %q does not name the failing step", err)
	}
	if diff := cmp.Diff([]string{"a", "b"}, ran); diff != "" {
		t.Fatalf("steps ran mismatch (-want +got):\n%s", diff)
	}
}

func TestClearRootPasswordRequiresEntry(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeSeed(t, root, "etc/shadow", "bin:*:19000::::::\n", 0o600)
	target := Target{Root: root, Build: buildContext(root, arch.X86_64)}

	if err := ClearRootPassword(context.Background(), target); err == nil {
		t.Fatal("ClearRootPassword() error = nil, want non-nil")
	}
}

func TestTargetPathStaysInsideRoot(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "etc"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.Symlink("/", filepath.Join(root, "etc", "ssh")); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	got, err := Target{Root: root}.Path("/etc/ssh/sshd_config")
	if err != nil {
		t.Fatalf("Path() error = %v", err)
	}
	if want := filepath.Join(root, "sshd_config"); got != want {
		t.Fatalf("Path() = %q, want %q", got, want)
	}
}
