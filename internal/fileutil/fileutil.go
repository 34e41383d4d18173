package fileutil

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// FileExists reports whether path names an existing regular file. Stat
// errors other than "not found" are treated as absent.
func FileExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular()
}

// IsNotExist reports whether err means the path does not exist.
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

// TempSibling returns a path in the same directory as path that keeps its
// extension, so tools that check the suffix still accept it.
func TempSibling(path, tag string) string {
	dir, base := filepath.Split(path)
	ext := filepath.Ext(base)
	stem := base[:len(base)-len(ext)]
	return filepath.Join(dir, fmt.Sprintf(".%s.%s%s", stem, tag, ext))
}

// WriteFileAtomic streams r into a temporary file next to dst and renames it
// into place once fully written. dst is never left half-written.
func WriteFileAtomic(dst string, r io.Reader, mode os.FileMode) (int64, error) {
	dir := filepath.Dir(dst)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dst)+".*.part")
	if err != nil {
		return 0, err
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	written, err := io.Copy(tmp, r)
	if err != nil {
		_ = tmp.Close()
		cleanup()
		return written, err
	}
	if err := tmp.Chmod(mode); err != nil {
		_ = tmp.Close()
		cleanup()
		return written, err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return written, err
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		cleanup()
		return written, err
	}
	return written, nil
}

// CheckSize returns an error unless path is exactly want bytes long.
func CheckSize(path string, want int64) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.Size() != want {
		return fmt.Errorf("size mismatch for %s: got %d bytes, want %d", filepath.Base(path), info.Size(), want)
	}
	return nil
}
