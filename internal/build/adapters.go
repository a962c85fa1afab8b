package build

import (
	"context"

	"github.com/cochaviz/rootbake/internal/artifacts"
)

// TargetResetter destroys a previous target root and recreates it empty.
type TargetResetter interface {
	Reset(ctx context.Context, root string) error
}

// BootstrapFetcher retrieves a static package-manager toolchain into workDir.
type BootstrapFetcher interface {
	Fetch(ctx context.Context, mirrorURL, workDir string) (Toolchain, error)
}

// PackageManager drives the bootstrapped package manager against a target root.
type PackageManager interface {
	CopyKeys(toolchain Toolchain, root string) error
	Install(ctx context.Context, toolchain Toolchain, target InstallTarget, packages []string) error
	// Reconfigure reruns post-install hooks; no packages means all of them.
	Reconfigure(ctx context.Context, toolchain Toolchain, target InstallTarget, packages ...string) error
}

// PackageHooks exposes reconfiguration to the customizer, bound to the current target.
type PackageHooks interface {
	Reconfigure(ctx context.Context, packages ...string) error
}

// ImageCustomizer applies the image-specific mutations to the target root.
type ImageCustomizer interface {
	Customize(ctx context.Context, buildContext BuildContext, hooks PackageHooks) error
}

// GuestToolingInvoker hands the target root to the external guest-tooling installer.
type GuestToolingInvoker interface {
	Invoke(ctx context.Context, root string) error
}

// ImageArchiver seals the target root into the distributable artifact.
type ImageArchiver interface {
	Archive(ctx context.Context, spec artifacts.ArchiveSpec) (artifacts.Artifact, error)
}

type boundHooks struct {
	manager   PackageManager
	toolchain Toolchain
	target    InstallTarget
}

func (h boundHooks) Reconfigure(ctx context.Context, packages ...string) error {
	return h.manager.Reconfigure(ctx, h.toolchain, h.target, packages...)
}
