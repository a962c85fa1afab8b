package build

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cochaviz/rootbake/internal/artifacts"
	"github.com/cochaviz/rootbake/internal/command"
	"github.com/cochaviz/rootbake/internal/logging"
	"github.com/cochaviz/rootbake/internal/rootfs"
)

// Stage names one step of the provisioning pipeline.
type Stage string

const (
	StageValidate    Stage = "validate"
	StageReset       Stage = "reset"
	StageBootstrap   Stage = "bootstrap"
	StageInstall     Stage = "install"
	StageReconfigure Stage = "reconfigure"
	StageCustomize   Stage = "customize"
	StageGuest       Stage = "guest-tooling"
	StageArchive     Stage = "archive"
)

// BuildService runs the provisioning pipeline: reset the target, bootstrap
// xbps, install and reconfigure the base set, customize, hand over to the
// guest tooling and archive the result.
type BuildService struct {
	Logger         *slog.Logger
	Resetter       TargetResetter
	Bootstrapper   BootstrapFetcher
	PackageManager PackageManager
	Customizer     ImageCustomizer
	GuestTooling   GuestToolingInvoker
	Archiver       ImageArchiver
	// ArtifactStore records checksum and metadata next to the archive; optional.
	ArtifactStore artifacts.ArtifactStore

	// Profile defaults to DefaultProfile when it lists no packages.
	Profile Profile
	// BuildDate is captured once at process start and names the artifact.
	BuildDate time.Time
	// WorkDir holds the bootstrap toolchain and must lie outside the install dir.
	WorkDir string
	// OutputDir receives the archive and must lie outside the install dir.
	OutputDir string

	NewBuildID func() string
}

// Run validates request and executes every stage in order, stopping at the
// first failure. Nothing touches the filesystem before validation succeeds.
func (s *BuildService) Run(ctx context.Context, request BuildRequest) (artifacts.Artifact, error) {
	validated, err := request.Validate()
	if err != nil {
		return artifacts.Artifact{}, stageError(StageValidate, KindValidation, "invalid build request", err)
	}
	buildContext, err := s.newBuildContext(validated)
	if err != nil {
		return artifacts.Artifact{}, stageError(StageValidate, KindValidation, "invalid build configuration", err)
	}

	root := validated.InstallDir
	name := artifacts.Name(validated.ImageID, buildContext.BuildDate)
	logger := s.logger().With("build_id", buildContext.BuildID)
	logger.Info("starting image build",
		"status", BuildStatusRunning,
		"architecture", validated.Architecture,
		"root", root,
		"artifact", name,
	)

	target := InstallTarget{
		Root:         root,
		Architecture: validated.Architecture,
		Repository:   RepositoryURL(validated.MirrorURL, validated.Architecture),
	}
	var toolchain Toolchain
	var archive artifacts.Artifact

	stages := []struct {
		stage   Stage
		message string
		run     func() error
	}{
		{StageReset, "reset target root", func() error {
			return s.Resetter.Reset(ctx, root)
		}},
		{StageBootstrap, "fetch bootstrap toolchain", func() error {
			toolchain, err = s.Bootstrapper.Fetch(ctx, validated.MirrorURL, buildContext.WorkDir)
			return err
		}},
		{StageInstall, "install base packages", func() error {
			if err := s.PackageManager.CopyKeys(toolchain, root); err != nil {
				return err
			}
			return s.PackageManager.Install(ctx, toolchain, target, buildContext.Profile.PackagesFor(target.Architecture))
		}},
		{StageReconfigure, "reconfigure installed packages", func() error {
			return s.PackageManager.Reconfigure(ctx, toolchain, target)
		}},
		{StageCustomize, "customize image", func() error {
			return s.Customizer.Customize(ctx, buildContext, boundHooks{manager: s.PackageManager, toolchain: toolchain, target: target})
		}},
		{StageGuest, "install guest tooling", func() error {
			return s.GuestTooling.Invoke(ctx, root)
		}},
		{StageArchive, "archive target root", func() error {
			archive, err = s.Archiver.Archive(ctx, artifacts.ArchiveSpec{
				Root:       root,
				OutputPath: filepath.Join(buildContext.OutputDir, name),
				Excludes:   buildContext.Profile.Excludes,
				ModTime:    s.BuildDate,
			})
			return err
		}},
	}

	for _, st := range stages {
		stageLogger := logger.With(logging.StageKey, string(st.stage))
		if err := ctx.Err(); err != nil {
			stageLogger.Warn("build interrupted", "status", BuildStatusCancelled)
			return artifacts.Artifact{}, stageError(st.stage, KindState, "interrupted before "+st.message, err)
		}

		stageLogger.Info(st.message)
		if err := st.run(); err != nil {
			buildErr := stageError(st.stage, classify(st.stage, err), "failed to "+st.message, err)
			status := BuildStatusFailed
			if errors.Is(err, context.Canceled) {
				status = BuildStatusCancelled
			}
			stageLogger.Error("stage failed", "status", status, "kind", buildErr.Kind, "error", err)
			return artifacts.Artifact{}, buildErr
		}
	}

	if s.ArtifactStore != nil {
		path, err := artifacts.PathFromURI(archive.URI)
		if err != nil {
			return artifacts.Artifact{}, stageError(StageArchive, KindFilesystem, "locate archive", err)
		}
		archive, err = s.ArtifactStore.StoreArtifact(path, artifacts.ImageArtifact, map[string]any{
			"build_id":     buildContext.BuildID,
			"image_id":     validated.ImageID,
			"display_name": validated.DisplayName,
			"architecture": validated.Architecture.String(),
			"build_date":   buildContext.BuildDate,
			"mirror":       validated.MirrorURL,
			"repository":   target.Repository,
		})
		if err != nil {
			return artifacts.Artifact{}, stageError(StageArchive, KindFilesystem, "record artifact metadata", err)
		}
	}

	logger.Info("image build finished", "status", BuildStatusSucceeded, "artifact", archive.URI)
	return archive, nil
}

func (s *BuildService) newBuildContext(request BuildRequest) (BuildContext, error) {
	var errs []error
	if s.Resetter == nil || s.Bootstrapper == nil || s.PackageManager == nil ||
		s.Customizer == nil || s.GuestTooling == nil || s.Archiver == nil {
		errs = append(errs, errors.New("build service is missing a stage implementation"))
	}
	if s.BuildDate.IsZero() {
		errs = append(errs, errors.New("build date is not set"))
	}

	workDir, err := outsideRoot("work directory", s.WorkDir, request.InstallDir)
	if err != nil {
		errs = append(errs, err)
	}
	outputDir, err := outsideRoot("output directory", s.OutputDir, request.InstallDir)
	if err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return BuildContext{}, errors.Join(errs...)
	}

	profile := s.Profile
	if len(profile.Packages) == 0 {
		profile = DefaultProfile()
	}
	newID := s.NewBuildID
	if newID == nil {
		newID = uuid.NewString
	}
	return BuildContext{
		BuildID:   newID(),
		Request:   request,
		Profile:   profile,
		BuildDate: artifacts.BuildDate(s.BuildDate),
		WorkDir:   workDir,
		OutputDir: outputDir,
	}, nil
}

// outsideRoot resolves dir and rejects it when the reset of root would destroy
// it, either by path or through a symlink on the way to either directory.
func outsideRoot(field, dir, root string) (string, error) {
	if dir == "" {
		return "", &FieldError{Field: field, Reason: "is required"}
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", &FieldError{Field: field, Reason: err.Error()}
	}
	if within(abs, root) || within(resolveExisting(abs), resolveExisting(root)) {
		return "", &FieldError{Field: field, Reason: fmt.Sprintf("%s lies inside the install directory", abs)}
	}
	return abs, nil
}

func within(path, root string) bool {
	return path == root || strings.HasPrefix(path, strings.TrimSuffix(root, string(filepath.Separator))+string(filepath.Separator))
}

// resolveExisting evaluates symlinks in the longest existing prefix of path
// and appends the part that does not exist yet.
func resolveExisting(path string) string {
	existing := path
	var missing []string
	for {
		if resolved, err := filepath.EvalSymlinks(existing); err == nil {
			return filepath.Join(append([]string{resolved}, missing...)...)
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			return path
		}
		missing = append([]string{filepath.Base(existing)}, missing...)
		existing = parent
	}
}

func classify(stage Stage, err error) ErrorKind {
	var cmdErr *command.Error
	if errors.As(err, &cmdErr) {
		return KindTool
	}
	switch stage {
	case StageReset:
		if errors.Is(err, rootfs.ErrLiveMount) {
			return KindState
		}
		return KindFilesystem
	case StageBootstrap, StageInstall, StageReconfigure, StageGuest:
		return KindTool
	default:
		return KindFilesystem
	}
}

func (s *BuildService) logger() *slog.Logger {
	return logging.Ensure(s.Logger)
}
