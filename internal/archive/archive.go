// Package archive extracts source tarballs and derives project name
// and release version from archive filenames.
package archive

import (
	"archive/tar"
	"compress/bzip2"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ulikunitz/xz"
)

// Extract unpacks a tarball into destDir and returns the source root:
// the single top-level directory when the tarball has one, destDir
// otherwise. Entries escaping destDir are rejected.
func Extract(tarballPath, destDir string) (string, error) {
	f, err := os.Open(tarballPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	r, err := decompress(tarballPath, f)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", err
	}
	resolvedDest, err := filepath.EvalSymlinks(destDir)
	if err != nil {
		return "", err
	}

	tr := tar.NewReader(r)
	topLevel := make(map[string]bool)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read %s: %w", filepath.Base(tarballPath), err)
		}

		name := filepath.Clean(hdr.Name)
		if name == "." {
			continue
		}
		if filepath.IsAbs(name) || strings.HasPrefix(name, "..") {
			return "", fmt.Errorf("archive entry escapes destination: %s", hdr.Name)
		}
		topLevel[strings.SplitN(name, string(filepath.Separator), 2)[0]] = true
		target := filepath.Join(destDir, name)

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return "", err
			}
		case tar.TypeSymlink:
			if linkEscapes(name, hdr.Linkname) {
				return "", fmt.Errorf("archive symlink escapes destination: %s -> %s", hdr.Name, hdr.Linkname)
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return "", err
			}
			if err := os.Symlink(hdr.Linkname, target); err != nil && !os.IsExist(err) {
				return "", err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return "", err
			}
			if err := checkParent(resolvedDest, target); err != nil {
				return "", fmt.Errorf("archive entry escapes destination: %s", hdr.Name)
			}
			if err := writeFile(target, tr, hdr.FileInfo().Mode().Perm()); err != nil {
				return "", err
			}
		}
	}

	if len(topLevel) == 1 {
		for name := range topLevel {
			root := filepath.Join(destDir, name)
			if info, err := os.Stat(root); err == nil && info.IsDir() {
				return root, nil
			}
		}
	}
	return destDir, nil
}

func decompress(path string, f io.Reader) (io.Reader, error) {
	switch {
	case strings.HasSuffix(path, ".tar.gz"), strings.HasSuffix(path, ".tgz"):
		return gzip.NewReader(f)
	case strings.HasSuffix(path, ".tar.xz"), strings.HasSuffix(path, ".txz"):
		return xz.NewReader(f)
	case strings.HasSuffix(path, ".tar.bz2"), strings.HasSuffix(path, ".tbz2"):
		return bzip2.NewReader(f), nil
	case strings.HasSuffix(path, ".tar"):
		return f, nil
	}
	return nil, fmt.Errorf("unsupported archive format: %s", filepath.Base(path))
}

// linkEscapes reports whether a symlink entry points outside the
// extraction root: absolute targets, or relative targets that climb
// above it once joined with the entry's own directory.
func linkEscapes(entryName, linkname string) bool {
	if filepath.IsAbs(linkname) {
		return true
	}
	joined := filepath.Clean(filepath.Join(filepath.Dir(entryName), linkname))
	return joined == ".." || strings.HasPrefix(joined, ".."+string(filepath.Separator))
}

// checkParent verifies that target's directory, with any symlinks on
// disk resolved, is still under the extraction root.
func checkParent(resolvedDest, target string) error {
	parent, err := filepath.EvalSymlinks(filepath.Dir(target))
	if err != nil {
		return err
	}
	if parent != resolvedDest && !strings.HasPrefix(parent, resolvedDest+string(filepath.Separator)) {
		return fmt.Errorf("%s resolves outside %s", target, resolvedDest)
	}
	return nil
}

func writeFile(target string, r io.Reader, perm os.FileMode) error {
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, r)
	return err
}
