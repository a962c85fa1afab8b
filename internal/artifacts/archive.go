package artifacts

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gobwas/glob"
	"github.com/klauspost/pgzip"

	"github.com/cochaviz/rootbake/internal/logging"
)

// Archiver packages a directory tree into a gzip-compressed tarball.
type Archiver struct {
	Logger *slog.Logger
	// Level is the gzip compression level; zero selects the default.
	Level int
}

// Archive writes spec.Root to spec.OutputPath. Entries are emitted in lexical
// order with owner names cleared and mtimes clamped to spec.ModTime, so two
// runs over the same tree produce the same stream. The output only appears at
// OutputPath once it is complete.
func (a *Archiver) Archive(ctx context.Context, spec ArchiveSpec) (Artifact, error) {
	logger := logging.Ensure(a.Logger)

	if spec.Root == "" {
		return Artifact{}, errors.New("archive root is required")
	}
	if spec.OutputPath == "" {
		return Artifact{}, errors.New("archive output path is required")
	}

	root, err := filepath.Abs(spec.Root)
	if err != nil {
		return Artifact{}, fmt.Errorf("resolve archive root: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return Artifact{}, fmt.Errorf("stat archive root: %w", err)
	}
	if !info.IsDir() {
		return Artifact{}, fmt.Errorf("archive root %s is not a directory", root)
	}

	outputPath, err := filepath.Abs(spec.OutputPath)
	if err != nil {
		return Artifact{}, fmt.Errorf("resolve output path: %w", err)
	}

	excludes, err := compileExcludes(spec.Excludes)
	if err != nil {
		return Artifact{}, err
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return Artifact{}, fmt.Errorf("create output dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(outputPath), "."+filepath.Base(outputPath)+".*")
	if err != nil {
		return Artifact{}, fmt.Errorf("create temporary archive: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	level := a.Level
	if level == 0 {
		level = pgzip.DefaultCompression
	}
	gz, err := pgzip.NewWriterLevel(tmp, level)
	if err != nil {
		return Artifact{}, fmt.Errorf("create gzip writer: %w", err)
	}
	tw := tar.NewWriter(gz)

	walker := &treeWriter{
		root:     root,
		tar:      tw,
		excludes: excludes,
		clamp:    spec.ModTime.Truncate(time.Second),
		skip:     map[string]bool{tmp.Name(): true, outputPath: true},
		links:    make(map[inodeKey]string),
	}
	if err := walker.walk(ctx); err != nil {
		return Artifact{}, fmt.Errorf("archive %s: %w", root, err)
	}

	if err := tw.Close(); err != nil {
		return Artifact{}, fmt.Errorf("finalize tar stream: %w", err)
	}
	if err := gz.Close(); err != nil {
		return Artifact{}, fmt.Errorf("finalize gzip stream: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return Artifact{}, fmt.Errorf("sync archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return Artifact{}, fmt.Errorf("close archive: %w", err)
	}
	if err := os.Rename(tmp.Name(), outputPath); err != nil {
		return Artifact{}, fmt.Errorf("move archive into place: %w", err)
	}
	committed = true

	stat, err := os.Stat(outputPath)
	if err != nil {
		return Artifact{}, fmt.Errorf("stat archive: %w", err)
	}

	logger.Info("archive written",
		"path", outputPath,
		"entries", walker.entries,
		"excluded", walker.excluded,
		"bytes", stat.Size(),
	)

	return Artifact{
		Kind:        ImageArtifact,
		Name:        filepath.Base(outputPath),
		URI:         fileURI(outputPath),
		Size:        stat.Size(),
		ContentType: "application/gzip",
		CreatedAt:   time.Now().UTC(),
	}, nil
}

type inodeKey struct {
	dev uint64
	ino uint64
}

type treeWriter struct {
	root     string
	tar      *tar.Writer
	excludes []glob.Glob
	clamp    time.Time
	skip     map[string]bool
	links    map[inodeKey]string

	entries  int
	excluded int
}

func (w *treeWriter) walk(ctx context.Context) error {
	return filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if w.skip[path] {
			return nil
		}

		name, err := entryName(w.root, path)
		if err != nil {
			return err
		}
		if name != "./" && w.isExcluded(name) {
			w.excluded++
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		return w.writeEntry(path, name, info)
	})
}

func (w *treeWriter) writeEntry(path, name string, info fs.FileInfo) error {
	mode := info.Mode()
	if mode&fs.ModeSocket != 0 {
		return nil
	}

	var link string
	if mode&fs.ModeSymlink != 0 {
		target, err := os.Readlink(path)
		if err != nil {
			return err
		}
		link = target
	}

	hdr, err := tar.FileInfoHeader(info, link)
	if err != nil {
		return fmt.Errorf("header for %s: %w", name, err)
	}
	hdr.Name = name
	if info.IsDir() && !strings.HasSuffix(hdr.Name, "/") {
		hdr.Name += "/"
	}
	hdr.Uname = ""
	hdr.Gname = ""
	hdr.AccessTime = time.Time{}
	hdr.ChangeTime = time.Time{}
	hdr.ModTime = hdr.ModTime.Truncate(time.Second)
	if !w.clamp.IsZero() && hdr.ModTime.After(w.clamp) {
		hdr.ModTime = w.clamp
	}

	if mode.IsRegular() {
		if key, ok := hardlinkKey(info); ok {
			if first, seen := w.links[key]; seen {
				hdr.Typeflag = tar.TypeLink
				hdr.Linkname = first
				hdr.Size = 0
				w.entries++
				return w.tar.WriteHeader(hdr)
			}
			w.links[key] = name
		}
	}

	if err := w.tar.WriteHeader(hdr); err != nil {
		return fmt.Errorf("write header for %s: %w", name, err)
	}
	w.entries++

	if hdr.Typeflag != tar.TypeReg {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := io.Copy(w.tar, f); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

func (w *treeWriter) isExcluded(name string) bool {
	for _, g := range w.excludes {
		if g.Match(name) {
			return true
		}
	}
	return false
}

func entryName(root, path string) (string, error) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return "", err
	}
	if rel == "." {
		return "./", nil
	}
	return "./" + filepath.ToSlash(rel), nil
}

func compileExcludes(patterns []string) ([]glob.Glob, error) {
	compiled := make([]glob.Glob, 0, len(patterns))
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		if !strings.HasPrefix(pattern, "./") {
			pattern = "./" + strings.TrimPrefix(pattern, "/")
		}
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("compile exclude pattern %q: %w", pattern, err)
		}
		compiled = append(compiled, g)
	}
	return compiled, nil
}

func hardlinkKey(info fs.FileInfo) (inodeKey, bool) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok || st.Nlink < 2 {
		return inodeKey{}, false
	}
	return inodeKey{dev: uint64(st.Dev), ino: uint64(st.Ino)}, true
}
