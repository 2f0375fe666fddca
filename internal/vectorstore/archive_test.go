package vectorstore

import (
	"archive/tar"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
)

func TestTarballRoundTrip(t *testing.T) {
	src := t.TempDir()
	if err := os.MkdirAll(filepath.Join(src, "abc123"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "abc123", "00000000.gob"), []byte("payload"), 0o644); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := writeTarball(&buf, src); err != nil {
		t.Fatalf("writeTarball() error = %v", err)
	}
	dst := filepath.Join(t.TempDir(), "restored")
	if err := readTarball(&buf, dst); err != nil {
		t.Fatalf("readTarball() error = %v", err)
	}
	got, err := os.ReadFile(filepath.Join(dst, "abc123", "00000000.gob"))
	if err != nil {
		t.Fatalf("read restored file: %v", err)
	}
	if string(got) != "payload" {
		t.Fatalf("restored payload = %q", got)
	}
}

func TestReadTarballRejectsTraversal(t *testing.T) {
	var buf bytes.Buffer
	encoder, err := zstd.NewWriter(&buf)
	if err != nil {
		t.Fatal(err)
	}
	tw := tar.NewWriter(encoder)
	body := []byte("x")
	if err := tw.WriteHeader(&tar.Header{Name: "../evil", Mode: 0o644, Size: int64(len(body)), Typeflag: tar.TypeReg}); err != nil {
		t.Fatal(err)
	}
	if _, err := tw.Write(body); err != nil {
		t.Fatal(err)
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := encoder.Close(); err != nil {
		t.Fatal(err)
	}

	if err := readTarball(&buf, filepath.Join(t.TempDir(), "store")); err == nil {
		t.Fatal("expected traversal error")
	}
}
