// Package guest hands a finished target root to the external guest-tooling installer.
package guest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/cochaviz/rootbake/internal/command"
	"github.com/cochaviz/rootbake/internal/logging"
)

// Invoker runs Installer with the target root as its only argument.
type Invoker struct {
	Installer string
	Runner    command.Runner
	Logger    *slog.Logger
}

// Invoke runs the installer from its own directory and returns its exit status.
func (i *Invoker) Invoke(ctx context.Context, root string) error {
	if i.Installer == "" {
		return errors.New("guest tooling installer is not configured")
	}
	installer, err := filepath.Abs(i.Installer)
	if err != nil {
		return fmt.Errorf("resolve guest installer: %w", err)
	}
	if _, err := os.Stat(installer); err != nil {
		return fmt.Errorf("guest installer: %w", err)
	}

	runner := i.Runner
	if runner == nil {
		runner = &command.ExecRunner{Logger: i.Logger}
	}

	logging.Ensure(i.Logger).Info("running guest tooling installer", "installer", installer, "root", root)
	return runner.Run(ctx, command.Command{
		Name: installer,
		Args: []string{root},
		Dir:  filepath.Dir(installer),
	})
}
