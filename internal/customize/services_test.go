package customize

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/cochaviz/rootbake/arch"
)

type serviceView struct {
	linked bool
	down   bool
	run    string
}

func viewService(t *testing.T, root, name string) serviceView {
	t.Helper()
	var view serviceView
	if target, err := os.Readlink(filepath.Join(root, "etc/runit/runsvdir/default", name)); err == nil {
		if target != "/etc/sv/"+name {
			t.Fatalf("%s linked to %q", name, target)
		}
		view.linked = true
	}
	if _, err := os.Stat(filepath.Join(root, "etc/sv", name, "down")); err == nil {
		view.down = true
	} else if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("stat down: %v", err)
	}
	if content, err := os.ReadFile(filepath.Join(root, "etc/sv", name, "run")); err == nil {
		view.run = string(content)
	}
	return view
}

func TestApplyServiceStateTransitions(t *testing.T) {
	t.Parallel()

	root := seedRoot(t)
	target := Target{Root: root, Build: buildContext(root, arch.X86_64)}
	sshd := Service{Name: "sshd", Kind: Supervised}
	original := "#!/bin/sh\nexec /usr/bin/sshd -D\n"

	steps := []struct {
		state ServiceState
		want  serviceView
	}{
		{Enabled, serviceView{linked: true, run: original}},
		{Enabled, serviceView{linked: true, run: original}},
		{Disabled, serviceView{down: true, run: original}},
		{Masked, serviceView{down: true, run: maskedRunScript}},
		{Enabled, serviceView{linked: true, run: maskedRunScript}},
	}
	for i, step := range steps {
		if err := ApplyServiceState(target, sshd, step.state); err != nil {
			t.Fatalf("step %d ApplyServiceState(%s) error = %v", i, step.state, err)
		}
		if got := viewService(t, root, "sshd"); got != step.want {
			t.Fatalf("step %d after %s: got %+v, want %+v", i, step.state, got, step.want)
		}
	}
}

func TestApplyServiceStateCoreService(t *testing.T) {
	t.Parallel()

	root := seedRoot(t)
	target := Target{Root: root, Build: buildContext(root, arch.X86_64)}
	svc := Service{Name: "04-swap.sh", Kind: CoreService}

	if err := ApplyServiceState(target, svc, Enabled); err == nil {
		t.Fatal("ApplyServiceState(core service, enabled) error = nil, want non-nil")
	}
	if err := ApplyServiceState(target, svc, Masked); err != nil {
		t.Fatalf("ApplyServiceState() error = %v", err)
	}
	if got := readFile(t, root, "etc/runit/core-services/04-swap.sh"); got != MaskMarker {
		t.Fatalf("script = %q, want mask marker", got)
	}
}

func TestApplyServiceStateRejectsBadNames(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	target := Target{Root: root, Build: buildContext(root, arch.X86_64)}
	for _, name := range []string{"", "../sshd", "sv/sshd"} {
		if err := ApplyServiceState(target, Service{Name: name}, Enabled); err == nil {
			t.Fatalf("ApplyServiceState(%q) error = nil, want non-nil", name)
		}
	}
}
