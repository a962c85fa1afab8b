package artifacts

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestName(t *testing.T) {
	t.Parallel()

	if got := Name("void", "20240101"); got != "void-20240101.tar.gz" {
		t.Fatalf("Name() = %q, want void-20240101.tar.gz", got)
	}
}

func TestBuildDateRoundTrip(t *testing.T) {
	t.Parallel()

	stamp := BuildDate(time.Date(2024, 1, 1, 23, 59, 0, 0, time.UTC))
	if stamp != "20240101" {
		t.Fatalf("BuildDate() = %q, want 20240101", stamp)
	}
	parsed, err := ParseBuildDate(stamp)
	if err != nil {
		t.Fatalf("ParseBuildDate() error = %v", err)
	}
	if !parsed.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("ParseBuildDate() = %v", parsed)
	}
	if _, err := ParseBuildDate("2024-01-01"); err == nil {
		t.Fatal("ParseBuildDate(2024-01-01) error = nil, want non-nil")
	}
}

func writeTree(t *testing.T, root string) {
	t.Helper()

	files := map[string]string{
		"etc/motd":                "hello\n",
		"etc/hostname":            "void\n",
		"proc/cpuinfo":            "fake\n",
		"var/cache/xbps/pkg.xbps": "blob",
		"usr/bin/sh":              "#!binary",
	}
	for rel, content := range files {
		path := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", rel, err)
		}
	}
	if err := os.MkdirAll(filepath.Join(root, "sys", "kernel"), 0o755); err != nil {
		t.Fatalf("mkdir sys: %v", err)
	}
	if err := os.Symlink("/usr/share/zoneinfo/UTC", filepath.Join(root, "etc", "localtime")); err != nil {
		t.Fatalf("symlink: %v", err)
	}
	if err := os.Link(filepath.Join(root, "usr", "bin", "sh"), filepath.Join(root, "usr", "bin", "bash")); err != nil {
		t.Fatalf("hardlink: %v", err)
	}
}

type entry struct {
	Name     string
	Type     byte
	Linkname string
}

func readArchive(t *testing.T, path string) ([]entry, []*tar.Header) {
	t.Helper()

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	tr := tar.NewReader(gz)

	var entries []entry
	var headers []*tar.Header
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("read tar: %v", err)
		}
		entries = append(entries, entry{Name: hdr.Name, Type: hdr.Typeflag, Linkname: hdr.Linkname})
		headers = append(headers, hdr)
	}
	return entries, headers
}

func TestArchiveExcludesAndOrders(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeTree(t, root)
	out := filepath.Join(t.TempDir(), Name("void", "20240101"))
	clamp := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	artifact, err := (&Archiver{}).Archive(context.Background(), ArchiveSpec{
		Root:       root,
		OutputPath: out,
		Excludes:   []string{"./proc/*", "./sys/*", "var/cache/xbps/*"},
		ModTime:    clamp,
	})
	if err != nil {
		t.Fatalf("Archive() error = %v", err)
	}
	if artifact.Name != "void-20240101.tar.gz" {
		t.Fatalf("artifact name = %q", artifact.Name)
	}
	if artifact.URI != "file://"+out {
		t.Fatalf("artifact URI = %q", artifact.URI)
	}

	entries, headers := readArchive(t, out)
	want := []entry{
		{Name: "./", Type: tar.TypeDir},
		{Name: "./etc/", Type: tar.TypeDir},
		{Name: "./etc/hostname", Type: tar.TypeReg},
		{Name: "./etc/localtime", Type: tar.TypeSymlink, Linkname: "/usr/share/zoneinfo/UTC"},
		{Name: "./etc/motd", Type: tar.TypeReg},
		{Name: "./proc/", Type: tar.TypeDir},
		{Name: "./sys/", Type: tar.TypeDir},
		{Name: "./usr/", Type: tar.TypeDir},
		{Name: "./usr/bin/", Type: tar.TypeDir},
		{Name: "./usr/bin/bash", Type: tar.TypeReg},
		{Name: "./usr/bin/sh", Type: tar.TypeLink, Linkname: "./usr/bin/bash"},
		{Name: "./var/", Type: tar.TypeDir},
		{Name: "./var/cache/", Type: tar.TypeDir},
		{Name: "./var/cache/xbps/", Type: tar.TypeDir},
	}
	if diff := cmp.Diff(want, entries); diff != "" {
		t.Fatalf("archive entries mismatch (-want +got):\n%s", diff)
	}

	for _, hdr := range headers {
		if hdr.ModTime.After(clamp) {
			t.Fatalf("%s mtime %v after clamp %v", hdr.Name, hdr.ModTime, clamp)
		}
		if hdr.Uname != "" || hdr.Gname != "" {
			t.Fatalf("%s carries owner names %q/%q", hdr.Name, hdr.Uname, hdr.Gname)
		}
	}
}

func TestArchiveIsRepeatable(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeTree(t, root)
	outDir := t.TempDir()
	spec := ArchiveSpec{Root: root, Excludes: []string{"./proc/*"}, ModTime: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}

	spec.OutputPath = filepath.Join(outDir, "a.tar.gz")
	if _, err := (&Archiver{}).Archive(context.Background(), spec); err != nil {
		t.Fatalf("first Archive() error = %v", err)
	}
	spec.OutputPath = filepath.Join(outDir, "b.tar.gz")
	if _, err := (&Archiver{}).Archive(context.Background(), spec); err != nil {
		t.Fatalf("second Archive() error = %v", err)
	}

	first, _ := readArchive(t, filepath.Join(outDir, "a.tar.gz"))
	second, _ := readArchive(t, filepath.Join(outDir, "b.tar.gz"))
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("archives differ (-first +second):\n%s", diff)
	}
}

func TestArchiveSkipsOutputInsideRoot(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeTree(t, root)
	out := filepath.Join(root, "image.tar.gz")

	if _, err := (&Archiver{}).Archive(context.Background(), ArchiveSpec{Root: root, OutputPath: out}); err != nil {
		t.Fatalf("Archive() error = %v", err)
	}

	entries, _ := readArchive(t, out)
	for _, e := range entries {
		if e.Name == "./image.tar.gz" {
			t.Fatal("archive contains itself")
		}
	}
}

func TestArchiveLeavesNoPartialOutput(t *testing.T) {
	t.Parallel()

	outDir := t.TempDir()
	out := filepath.Join(outDir, "void.tar.gz")
	_, err := (&Archiver{}).Archive(context.Background(), ArchiveSpec{
		Root:       filepath.Join(outDir, "missing"),
		OutputPath: out,
	})
	if err == nil {
		t.Fatal("Archive() error = nil, want non-nil")
	}

	left, err := os.ReadDir(outDir)
	if err != nil {
		t.Fatalf("read output dir: %v", err)
	}
	if len(left) != 0 {
		t.Fatalf("output dir not empty after failure: %v", left)
	}
}
