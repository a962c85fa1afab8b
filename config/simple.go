package simple

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/cochaviz/rootbake/internal/artifacts"
	"github.com/cochaviz/rootbake/internal/build"
	"github.com/cochaviz/rootbake/internal/build/adapters/xbps"
	profiles "github.com/cochaviz/rootbake/internal/build/repositories"
	"github.com/cochaviz/rootbake/internal/command"
	"github.com/cochaviz/rootbake/internal/customize"
	"github.com/cochaviz/rootbake/internal/guest"
	"github.com/cochaviz/rootbake/internal/logging"
	"github.com/cochaviz/rootbake/internal/rootfs"
	"github.com/cochaviz/rootbake/internal/setup"
)

var DefaultWorkDir = setup.StorageDir + "work"
var DefaultGuestInstaller = setup.GuestToolingDir + "install.sh"
var DefaultMirrorURL = "https://repo-default.voidlinux.org"

// BuildOptions holds the host-side settings of a build that are not part of
// the image request itself.
type BuildOptions struct {
	WorkDir        string
	OutputDir      string // defaults to the current working directory
	GuestInstaller string
	// Profile is an embedded profile name or a path to a YAML profile.
	Profile   string
	BuildDate time.Time
	// HTTPClient overrides the client used to fetch the bootstrap toolchain.
	HTTPClient *http.Client
}

// Build runs the full pipeline for request with the default stage implementations.
func Build(ctx context.Context, request build.BuildRequest, options BuildOptions) (artifacts.Artifact, error) {
	return BuildWithLogger(ctx, request, options, nil)
}

// BuildWithLogger is Build with an explicit logger.
func BuildWithLogger(ctx context.Context, request build.BuildRequest, options BuildOptions, logger *slog.Logger) (artifacts.Artifact, error) {
	logger = logging.Ensure(logger).With("component", "config.simple")

	profile, err := ResolveProfile(options.Profile)
	if err != nil {
		return artifacts.Artifact{}, err
	}

	if options.WorkDir == "" {
		options.WorkDir = DefaultWorkDir
	}
	if options.GuestInstaller == "" {
		options.GuestInstaller = DefaultGuestInstaller
	}
	if options.OutputDir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return artifacts.Artifact{}, fmt.Errorf("determine working directory: %w", err)
		}
		options.OutputDir = cwd
	}
	if options.BuildDate.IsZero() {
		options.BuildDate = time.Now().UTC()
	}

	runner := &command.ExecRunner{Logger: logger.With("component", "exec")}

	buildService := build.BuildService{
		Logger: logger.With("service", "build"),
		Resetter: &rootfs.TargetReset{
			Guard:  &rootfs.MountGuard{Logger: logger.With("component", "mount-guard")},
			Logger: logger.With("component", "reset"),
		},
		Bootstrapper: &xbps.BootstrapFetcher{
			Client: options.HTTPClient,
			Logger: logger.With("component", "bootstrap"),
		},
		PackageManager: &xbps.Installer{
			Runner: runner,
			Logger: logger.With("component", "xbps"),
		},
		Customizer: customize.New(logger.With("component", "customize")),
		GuestTooling: &guest.Invoker{
			Installer: options.GuestInstaller,
			Runner:    runner,
			Logger:    logger.With("component", "guest"),
		},
		Archiver:      &artifacts.Archiver{Logger: logger.With("component", "archive")},
		ArtifactStore: &artifacts.LocalArtifactStore{},
		Profile:       profile,
		BuildDate:     options.BuildDate,
		WorkDir:       options.WorkDir,
		OutputDir:     options.OutputDir,
	}

	return buildService.Run(ctx, request)
}

// ResolveProfile loads ref as a YAML file when one exists at that path and
// otherwise looks it up among the embedded profiles. An empty ref selects the
// embedded default.
func ResolveProfile(ref string) (build.Profile, error) {
	if ref == "" {
		ref = profiles.DefaultProfileName
	}

	info, err := os.Stat(ref)
	switch {
	case err == nil && !info.IsDir():
		return build.LoadProfile(ref)
	case err != nil && !errors.Is(err, fs.ErrNotExist):
		return build.Profile{}, fmt.Errorf("stat profile %s: %w", ref, err)
	}

	repository, err := profiles.NewEmbeddedProfileRepository()
	if err != nil {
		return build.Profile{}, err
	}
	return repository.Get(ref)
}

// List returns the names of the embedded profiles.
func List() ([]string, error) {
	repository, err := profiles.NewEmbeddedProfileRepository()
	if err != nil {
		return nil, err
	}
	return repository.ListAll()
}
