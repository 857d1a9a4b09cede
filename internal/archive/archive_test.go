package archive

import (
	"archive/tar"
	"compress/gzip"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestVersionFromName(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"htop-3.2.1.tar.gz", "3.2.1"},
		{"cmatrix-v2.0.0.tar.gz", "2.0.0"},
		{"project_1.4.2.tar.xz", "1.4.2"},
		{"tool-1.5.tgz", "1.5"},
		{"app-2.0.0-rc1.tar.bz2", "2.0.0-rc1"},
		{"noversion.tar.gz", "0.0.0"},
		{"/some/path/htop-3.2.1.tar.gz", "3.2.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VersionFromName(tt.name); got != tt.want {
				t.Errorf("VersionFromName(%q) = %q, want %q", tt.name, got, tt.want)
			}
		})
	}
}

func TestProjectFromName(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"htop-3.2.1.tar.gz", "htop"},
		{"cmatrix-v2.0.0.tgz", "cmatrix"},
		{"gnu-hello-2.12.tar.gz", "gnu-hello"},
		{"noversion.tar", "noversion"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ProjectFromName(tt.name); got != tt.want {
				t.Errorf("ProjectFromName(%q) = %q, want %q", tt.name, got, tt.want)
			}
		})
	}
}

// makeTarGz builds a small gzipped tarball from name->content pairs.
func makeTarGz(t *testing.T, path string, entries map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	gw := gzip.NewWriter(f)
	tw := tar.NewWriter(gw)
	for name, content := range entries {
		if strings.HasSuffix(name, "/") {
			if err := tw.WriteHeader(&tar.Header{Name: name, Typeflag: tar.TypeDir, Mode: 0o755}); err != nil {
				t.Fatal(err)
			}
			continue
		}
		hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(content))}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gw.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestExtractSingleTopLevelDir(t *testing.T) {
	dir := t.TempDir()
	tarball := filepath.Join(dir, "proj-1.0.0.tar.gz")
	makeTarGz(t, tarball, map[string]string{
		"proj-1.0.0/":          "",
		"proj-1.0.0/configure": "#!/bin/sh\n",
		"proj-1.0.0/src/x.c":   "int x;\n",
	})

	dest := t.TempDir()
	root, err := Extract(tarball, dest)
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(dest, "proj-1.0.0"); root != want {
		t.Errorf("root = %q, want %q", root, want)
	}
	data, err := os.ReadFile(filepath.Join(root, "src", "x.c"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "int x;\n" {
		t.Errorf("x.c = %q", data)
	}
}

func TestExtractFlatArchive(t *testing.T) {
	dir := t.TempDir()
	tarball := filepath.Join(dir, "flat.tar.gz")
	makeTarGz(t, tarball, map[string]string{
		"README":   "hi\n",
		"Makefile": "all:\n",
	})

	dest := t.TempDir()
	root, err := Extract(tarball, dest)
	if err != nil {
		t.Fatal(err)
	}
	if root != dest {
		t.Errorf("root = %q, want %q for multi-entry archive", root, dest)
	}
}

func TestExtractRejectsSymlinkEscape(t *testing.T) {
	dir := t.TempDir()
	tarball := filepath.Join(dir, "evil-link.tar.gz")

	f, err := os.Create(tarball)
	if err != nil {
		t.Fatal(err)
	}
	gw := gzip.NewWriter(f)
	tw := tar.NewWriter(gw)
	if err := tw.WriteHeader(&tar.Header{
		Name: "pkg/link", Typeflag: tar.TypeSymlink, Linkname: "../../outside", Mode: 0o777,
	}); err != nil {
		t.Fatal(err)
	}
	content := "owned\n"
	if err := tw.WriteHeader(&tar.Header{
		Name: "pkg/link/evil.txt", Typeflag: tar.TypeReg, Mode: 0o644, Size: int64(len(content)),
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := tw.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	parent := t.TempDir()
	dest := filepath.Join(parent, "deep", "dest")
	if err := os.MkdirAll(dest, 0o755); err != nil {
		t.Fatal(err)
	}
	if _, err := Extract(tarball, dest); err == nil {
		t.Fatal("escaping symlink accepted")
	}
	if _, err := os.Lstat(filepath.Join(parent, "outside", "evil.txt")); !os.IsNotExist(err) {
		t.Fatal("file written outside the destination through a symlink")
	}
}

func TestExtractRejectsAbsoluteSymlink(t *testing.T) {
	dir := t.TempDir()
	tarball := filepath.Join(dir, "abs-link.tar.gz")

	f, err := os.Create(tarball)
	if err != nil {
		t.Fatal(err)
	}
	gw := gzip.NewWriter(f)
	tw := tar.NewWriter(gw)
	if err := tw.WriteHeader(&tar.Header{
		Name: "pkg/etc", Typeflag: tar.TypeSymlink, Linkname: "/etc", Mode: 0o777,
	}); err != nil {
		t.Fatal(err)
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	if _, err := Extract(tarball, t.TempDir()); err == nil {
		t.Fatal("absolute symlink accepted")
	}
}

func TestExtractAllowsInternalSymlink(t *testing.T) {
	dir := t.TempDir()
	tarball := filepath.Join(dir, "ok-link.tar.gz")

	f, err := os.Create(tarball)
	if err != nil {
		t.Fatal(err)
	}
	gw := gzip.NewWriter(f)
	tw := tar.NewWriter(gw)
	content := "real\n"
	if err := tw.WriteHeader(&tar.Header{
		Name: "pkg/data.txt", Typeflag: tar.TypeReg, Mode: 0o644, Size: int64(len(content)),
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := tw.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := tw.WriteHeader(&tar.Header{
		Name: "pkg/alias", Typeflag: tar.TypeSymlink, Linkname: "data.txt", Mode: 0o777,
	}); err != nil {
		t.Fatal(err)
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	dest := t.TempDir()
	root, err := Extract(tarball, dest)
	if err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(root, "alias"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != content {
		t.Errorf("alias = %q, want %q", data, content)
	}
}

func TestLinkEscapes(t *testing.T) {
	tests := []struct {
		entry, link string
		want        bool
	}{
		{"pkg/link", "../../outside", true},
		{"pkg/link", "/etc/passwd", true},
		{"link", "..", true},
		{"pkg/alias", "data.txt", false},
		{"pkg/alias", "../sibling", false},
		{"a/b/c", "../../up-two", false},
	}
	for _, tt := range tests {
		t.Run(tt.entry+" -> "+tt.link, func(t *testing.T) {
			if got := linkEscapes(tt.entry, tt.link); got != tt.want {
				t.Errorf("linkEscapes(%q, %q) = %v, want %v", tt.entry, tt.link, got, tt.want)
			}
		})
	}
}

func TestExtractRejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	tarball := filepath.Join(dir, "evil.tar.gz")
	makeTarGz(t, tarball, map[string]string{
		"../escape.txt": "nope\n",
	})

	if _, err := Extract(tarball, t.TempDir()); err == nil {
		t.Fatal("traversal entry accepted")
	}
}

func TestExtractUnsupportedFormat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "archive.rar")
	if err := os.WriteFile(path, []byte("junk"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Extract(path, t.TempDir()); err == nil {
		t.Fatal("unsupported format accepted")
	}
}
