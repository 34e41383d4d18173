package fileutil

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/iotest"
)

func TestFileExists(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "bunny.raw")
	if FileExists(file) {
		t.Fatal("expected missing file to report false")
	}
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if !FileExists(file) {
		t.Fatal("expected existing file to report true")
	}
	if FileExists(dir) {
		t.Fatal("expected directory to report false")
	}
	if FileExists("") {
		t.Fatal("expected empty path to report false")
	}
}

func TestTempSiblingKeepsExtension(t *testing.T) {
	got := TempSibling("/data/processed/bunny_8x8x8_uint8.raw", "tmp")
	want := "/data/processed/.bunny_8x8x8_uint8.tmp.raw"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, "bunny.obj")

	n, err := WriteFileAtomic(dst, strings.NewReader("v 0 0 0\n"), 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if n != 8 {
		t.Fatalf("expected 8 bytes written, got %d", n)
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "v 0 0 0\n" {
		t.Fatalf("content mismatch: %q", got)
	}
}

func TestWriteFileAtomicLeavesNothingOnReadError(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, "bunny.obj")
	boom := errors.New("connection reset")

	if _, err := WriteFileAtomic(dst, iotest.ErrReader(boom), 0o644); !errors.Is(err, boom) {
		t.Fatalf("expected read error, got %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty directory, found %d entries", len(entries))
	}
}

func TestCheckSize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "v.raw")
	if err := os.WriteFile(path, make([]byte, 27), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := CheckSize(path, 27); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := CheckSize(path, 64); err == nil {
		t.Fatal("expected size mismatch")
	}
	if err := CheckSize(filepath.Join(dir, "missing.raw"), 1); !IsNotExist(err) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}
