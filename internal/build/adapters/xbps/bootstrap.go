// Package xbps drives the Void Linux package manager: it fetches the static
// bootstrap toolchain and runs it against a target root.
package xbps

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/ulikunitz/xz"

	"github.com/cochaviz/rootbake/arch"
	"github.com/cochaviz/rootbake/internal/build"
	"github.com/cochaviz/rootbake/internal/logging"
)

// ToolchainDirName is the directory under the work dir that holds the extracted toolchain.
const ToolchainDirName = "xbps-static"

var _ build.BootstrapFetcher = (*BootstrapFetcher)(nil)

// BootstrapFetcher downloads the statically linked xbps distribution for the
// host and unpacks it into a scratch directory.
type BootstrapFetcher struct {
	Client *http.Client
	// HostArch selects the tarball; defaults to the architecture of this process.
	HostArch arch.Architecture
	Logger   *slog.Logger
}

// BootstrapURL returns the location of the static toolchain tarball for host on mirror.
func BootstrapURL(mirror string, host arch.Architecture) string {
	return fmt.Sprintf("%s/static/xbps-static-latest.%s-musl.tar.xz", strings.TrimRight(mirror, "/"), host.Base())
}

// Fetch downloads and extracts the toolchain into <workDir>/xbps-static. The
// work dir is created when missing; a previous extraction is always replaced.
func (f *BootstrapFetcher) Fetch(ctx context.Context, mirrorURL, workDir string) (build.Toolchain, error) {
	host := f.HostArch
	if host == "" {
		host = arch.Host()
	}
	if host == "" {
		return build.Toolchain{}, errors.New("no static xbps toolchain exists for this host architecture")
	}
	url := BootstrapURL(mirrorURL, host)
	logger := logging.Ensure(f.Logger).With("url", url)

	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return build.Toolchain{}, fmt.Errorf("create workdir: %w", err)
	}
	dir := filepath.Join(workDir, ToolchainDirName)
	if err := os.RemoveAll(dir); err != nil {
		return build.Toolchain{}, fmt.Errorf("remove stale toolchain: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return build.Toolchain{}, fmt.Errorf("create toolchain dir: %w", err)
	}

	logger.Info("downloading bootstrap toolchain")
	body, err := f.download(ctx, url)
	if err != nil {
		return build.Toolchain{}, err
	}
	defer body.Close()

	decompressed, err := xz.NewReader(body)
	if err != nil {
		return build.Toolchain{}, fmt.Errorf("open xz stream %s: %w", url, err)
	}
	count, err := extract(tar.NewReader(decompressed), dir)
	if err != nil {
		return build.Toolchain{}, fmt.Errorf("extract %s: %w", url, err)
	}

	toolchain := build.Toolchain{Dir: dir}
	installer := toolchain.Bin("xbps-install")
	if _, err := os.Stat(installer); err != nil {
		return build.Toolchain{}, fmt.Errorf("toolchain from %s has no xbps-install: %w", url, err)
	}
	logger.Info("bootstrap toolchain ready", "dir", dir, "entries", count)
	return toolchain, nil
}

func (f *BootstrapFetcher) download(ctx context.Context, url string) (io.ReadCloser, error) {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download toolchain: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, fmt.Errorf("download %s: %s", url, resp.Status)
	}
	return resp.Body, nil
}

// extract unpacks tr below dir. Every name, including link targets of hard
// links, is resolved inside dir.
func extract(tr *tar.Reader, dir string) (int, error) {
	count := 0
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return count, nil
		}
		if err != nil {
			return count, err
		}

		dest, err := securejoin.SecureJoin(dir, hdr.Name)
		if err != nil {
			return count, fmt.Errorf("resolve %s: %w", hdr.Name, err)
		}
		if dest == dir {
			continue
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return count, fmt.Errorf("create dir %s: %w", hdr.Name, err)
			}
		case tar.TypeReg:
			if err := writeFile(dest, tr, hdr.FileInfo().Mode().Perm()); err != nil {
				return count, fmt.Errorf("write %s: %w", hdr.Name, err)
			}
		case tar.TypeSymlink:
			if err := replace(dest, func() error { return os.Symlink(hdr.Linkname, dest) }); err != nil {
				return count, fmt.Errorf("symlink %s: %w", hdr.Name, err)
			}
		case tar.TypeLink:
			target, err := securejoin.SecureJoin(dir, hdr.Linkname)
			if err != nil {
				return count, fmt.Errorf("resolve link %s: %w", hdr.Linkname, err)
			}
			if err := replace(dest, func() error { return os.Link(target, dest) }); err != nil {
				return count, fmt.Errorf("hardlink %s: %w", hdr.Name, err)
			}
		default:
			continue
		}
		count++
	}
}

func writeFile(dest string, r io.Reader, mode fs.FileMode) error {
	return replace(dest, func() error {
		file, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_EXCL, mode)
		if err != nil {
			return err
		}
		if _, err := io.Copy(file, r); err != nil {
			file.Close()
			return err
		}
		return file.Close()
	})
}

// replace removes whatever is at dest, ensures its parent exists, then runs create.
func replace(dest string, create func() error) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	if err := os.Remove(dest); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return create()
}
