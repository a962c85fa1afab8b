package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cochaviz/rootbake/arch"
	config "github.com/cochaviz/rootbake/config"
	"github.com/cochaviz/rootbake/internal/artifacts"
	"github.com/cochaviz/rootbake/internal/build"
	"github.com/cochaviz/rootbake/internal/logging"
	"github.com/cochaviz/rootbake/internal/setup"
)

const defaultLogLevel = "info"

// cli holds the state shared by all subcommands. The logger is replaced once
// the persistent log flags are parsed, so commands read it when they run.
type cli struct {
	stderr   io.Writer
	levelVar slog.LevelVar
	logger   *slog.Logger
	// started names the artifact after the day the process started, even if
	// the build runs past midnight.
	started time.Time
}

func newCLI(stderr io.Writer, started time.Time) *cli {
	c := &cli{stderr: stderr, started: started}
	c.levelVar.Set(slog.LevelInfo)
	c.useLogger(logging.NewText(stderr, &c.levelVar))
	return c
}

func (c *cli) useLogger(logger *slog.Logger) {
	c.logger = logger
	slog.SetDefault(logger)
	setup.SetLogger(logger.With("component", "setup"))
}

func main() {
	c := newCLI(os.Stderr, time.Now().UTC())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCommand(c)
	if err := root.ExecuteContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			c.logger.Warn("command interrupted", "error", err)
			os.Exit(130)
		}
		c.logger.Error("command execution failed", "error", err)
		var buildErr *build.BuildError
		if errors.As(err, &buildErr) && buildErr.Output != "" {
			fmt.Fprintln(os.Stderr, buildErr.Output)
		}
		os.Exit(1)
	}
}

func newRootCommand(c *cli) *cobra.Command {
	logLevel := defaultLogLevel
	logFormat := "text"

	root := &cobra.Command{
		Use:           "rootbake",
		Short:         "Build Void Linux root filesystem images",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	root.PersistentFlags().StringVar(&logLevel, "log-level", defaultLogLevel, "Set log verbosity (debug, info, warning, error)")
	root.PersistentFlags().StringVar(&logFormat, "log-format", logFormat, "Log output format (text, json)")
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		level, err := logging.ParseLevel(logLevel)
		if err != nil {
			return err
		}
		mode, err := logging.ParseMode(logFormat)
		if err != nil {
			return err
		}
		c.levelVar.Set(level)
		c.useLogger(logging.New(mode, c.stderr, &c.levelVar))
		return nil
	}

	root.AddCommand(
		newBuildCommand(c),
		newVerifyCommand(c),
		newNameCommand(c),
		newProfilesCommand(),
		newImagesCommand(),
		newCleanCommand(c),
	)
	return root
}

func verifySetup(logger *slog.Logger, guestInstaller string) error {
	logger = logger.With("action", "verify_setup")
	logger.Info("verifying host prerequisites")
	if err := setup.Verify(guestInstaller); err != nil {
		logger.Error("setup verification failed", "error", err)
		return err
	}
	logger.Info("setup verification succeeded")
	return nil
}

func newBuildCommand(c *cli) *cobra.Command {
	var (
		architecture string
		request      build.BuildRequest
		options      config.BuildOptions
		skipVerify   bool
	)

	cmd := &cobra.Command{
		Use:   "build",
		Args:  cobra.NoArgs,
		Short: "Build a root filesystem archive",
		RunE: func(cmd *cobra.Command, args []string) error {
			request.Architecture = arch.Architecture(architecture)
			if _, err := request.Validate(); err != nil {
				return fmt.Errorf("invalid build request:\n%w", err)
			}

			cmdLogger := c.logger.With("command", "build", "image", request.ImageID)
			if !skipVerify {
				guestInstaller := options.GuestInstaller
				if guestInstaller == "" {
					guestInstaller = config.DefaultGuestInstaller
				}
				if err := verifySetup(cmdLogger, guestInstaller); err != nil {
					return err
				}
			}

			options.BuildDate = c.started
			artifact, err := config.BuildWithLogger(cmd.Context(), request, options, cmdLogger)
			if err != nil {
				return err
			}

			path, err := artifacts.PathFromURI(artifact.URI)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}

	cmd.Flags().StringVar(&architecture, "arch", "", fmt.Sprintf("Target architecture (%s)", strings.Join(supportedArchitectures(), ", ")))
	cmd.Flags().StringVar(&request.InstallDir, "install-dir", "", "Directory the image root is built in; destroyed and recreated")
	cmd.Flags().StringVar(&request.MirrorURL, "mirror", config.DefaultMirrorURL, "Base URL of the package mirror")
	cmd.Flags().StringVar(&request.ImageID, "image-id", "", "Image identifier used in the artifact name")
	cmd.Flags().StringVar(&request.DisplayName, "display-name", "", "Human readable image name")
	cmd.Flags().StringVar(&request.Description, "description", "", "Image description")
	cmd.Flags().StringVar(&request.DocsURL, "docs-url", "", "Documentation URL (default "+build.DefaultDocsURL+")")
	cmd.Flags().StringVar(&options.GuestInstaller, "guest-installer", config.DefaultGuestInstaller, "Guest tooling installer invoked with the image root")
	cmd.Flags().StringVar(&options.WorkDir, "work-dir", config.DefaultWorkDir, "Scratch directory for the bootstrap toolchain")
	cmd.Flags().StringVar(&options.OutputDir, "output-dir", "", "Directory the archive is written to (default: current directory)")
	cmd.Flags().StringVar(&options.Profile, "profile", "", "Embedded profile name or path to a YAML profile")
	cmd.Flags().BoolVar(&skipVerify, "skip-verify", false, "Do not check host prerequisites before building")

	return cmd
}

func newVerifyCommand(c *cli) *cobra.Command {
	var guestInstaller string

	cmd := &cobra.Command{
		Use:   "verify",
		Args:  cobra.NoArgs,
		Short: "Check that this host can build images",
		RunE: func(cmd *cobra.Command, args []string) error {
			return verifySetup(c.logger.With("command", "verify"), guestInstaller)
		},
	}

	cmd.Flags().StringVar(&guestInstaller, "guest-installer", config.DefaultGuestInstaller, "Guest tooling installer to check")
	return cmd
}

func newNameCommand(c *cli) *cobra.Command {
	var (
		imageID string
		date    string
	)

	cmd := &cobra.Command{
		Use:   "name",
		Args:  cobra.NoArgs,
		Short: "Print the artifact name a build would produce",
		RunE: func(cmd *cobra.Command, args []string) error {
			imageID = strings.TrimSpace(imageID)
			if imageID == "" {
				return fmt.Errorf("image id is required")
			}
			buildDate := artifacts.BuildDate(c.started)
			if date != "" {
				if _, err := artifacts.ParseBuildDate(date); err != nil {
					return err
				}
				buildDate = date
			}
			fmt.Fprintln(cmd.OutOrStdout(), artifacts.Name(imageID, buildDate))
			return nil
		},
	}

	cmd.Flags().StringVar(&imageID, "image-id", "", "Image identifier")
	cmd.Flags().StringVar(&date, "date", "", "Build date as YYYYMMDD (default: today, UTC)")
	return cmd
}

func newProfilesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "profiles",
		Args:  cobra.NoArgs,
		Short: "List the embedded image profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			names, err := config.List()
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}

func newImagesCommand() *cobra.Command {
	var (
		outputDir string
		imageID   string
	)

	cmd := &cobra.Command{
		Use:   "images",
		Args:  cobra.NoArgs,
		Short: "List built archives recorded in an output directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := outputDirOrCwd(outputDir)
			if err != nil {
				return err
			}

			store := &artifacts.LocalArtifactStore{}
			found, err := store.List(dir, imageID)
			if err != nil {
				return fmt.Errorf("list artifacts: %w", err)
			}
			for _, artifact := range found {
				checksum := ""
				if artifact.Checksum != nil {
					checksum = *artifact.Checksum
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\t%s\t%s\n", artifact.Name, artifact.Size, artifact.CreatedAt.Format(time.RFC3339), checksum)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&outputDir, "output-dir", "", "Directory holding built archives (default: current directory)")
	cmd.Flags().StringVar(&imageID, "image-id", "", "Only list archives of this image")
	return cmd
}

func newCleanCommand(c *cli) *cobra.Command {
	var (
		workDir   string
		images    bool
		outputDir string
		imageID   string
		keep      int
	)

	cmd := &cobra.Command{
		Use:   "clean",
		Args:  cobra.NoArgs,
		Short: "Remove the scratch work directory and, optionally, old archives",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := c.logger.With("command", "clean")
			if err := setup.ClearWorkDir(workDir); err != nil {
				return fmt.Errorf("clear work directory: %w", err)
			}
			logger.Info("work directory removed", "dir", workDir)

			if !images {
				return nil
			}
			dir, err := outputDirOrCwd(outputDir)
			if err != nil {
				return err
			}
			store := &artifacts.LocalArtifactStore{}
			removed, err := store.Prune(dir, imageID, keep)
			for _, artifact := range removed {
				logger.Info("archive removed", "name", artifact.Name)
			}
			if err != nil {
				return fmt.Errorf("prune archives: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&workDir, "work-dir", config.DefaultWorkDir, "Scratch directory to remove")
	cmd.Flags().BoolVar(&images, "images", false, "Also remove recorded archives and their metadata")
	cmd.Flags().StringVar(&outputDir, "output-dir", "", "Directory holding built archives (default: current directory)")
	cmd.Flags().StringVar(&imageID, "image-id", "", "Only remove archives of this image")
	cmd.Flags().IntVar(&keep, "keep", 0, "Number of newest archives to keep")
	return cmd
}

func outputDirOrCwd(dir string) (string, error) {
	if dir != "" {
		return dir, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("determine working directory: %w", err)
	}
	return cwd, nil
}

func supportedArchitectures() []string {
	var names []string
	for _, a := range arch.Supported() {
		names = append(names, a.String())
	}
	return names
}
