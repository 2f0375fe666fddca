package vectorstore

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/sqlscribe/sqlscribe/internal/storage"
)

// archiveFormat is written as object metadata; Restore refuses other values.
const archiveFormat = "tar+zstd/v1"

// ErrArchiveMismatch reports an archive that is not a store for the
// requested namespace in a format this build can read.
var ErrArchiveMismatch = errors.New("store archive does not match")

// Archive copies project store directories to object storage so a fresh
// node can serve projects that were indexed elsewhere.
type Archive struct {
	objects storage.ObjectStore
}

func NewArchive(objects storage.ObjectStore) (*Archive, error) {
	if objects == nil {
		return nil, fmt.Errorf("object store is required")
	}
	return &Archive{objects: objects}, nil
}

// Save uploads dir as a zstd compressed tarball under the namespace key.
func (a *Archive) Save(ctx context.Context, dir, namespace string) error {
	key, err := storage.BuildStoreArchiveKey(namespace)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp("", "sqlscribe-archive-*.tar.zst")
	if err != nil {
		return fmt.Errorf("create archive file: %w", err)
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	if err := writeTarball(tmp, dir); err != nil {
		return fmt.Errorf("pack store %s: %w", namespace, err)
	}
	size, err := tmp.Seek(0, io.SeekCurrent)
	if err != nil {
		return fmt.Errorf("size archive file: %w", err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind archive file: %w", err)
	}
	opts := storage.PutOptions{
		ContentType: "application/zstd",
		Metadata:    map[string]string{"format": archiveFormat, "namespace": namespace},
	}
	if _, err := a.objects.Put(ctx, key, tmp, size, opts); err != nil {
		return fmt.Errorf("upload store %s: %w", namespace, err)
	}
	return nil
}

// Restore unpacks the namespace archive into dir. It reports false when no
// archive exists.
func (a *Archive) Restore(ctx context.Context, namespace, dir string) (bool, error) {
	key, err := storage.BuildStoreArchiveKey(namespace)
	if err != nil {
		return false, err
	}
	info, err := a.objects.Stat(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("stat store archive %s: %w", namespace, err)
	}
	if err := checkArchive(info, namespace); err != nil {
		return false, err
	}
	body, err := a.objects.Get(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("download store %s: %w", namespace, err)
	}
	defer func() { _ = body.Close() }()

	staging := dir + ".restore"
	_ = os.RemoveAll(staging)
	if err := readTarball(body, staging); err != nil {
		_ = os.RemoveAll(staging)
		return false, fmt.Errorf("unpack store %s: %w", namespace, err)
	}
	if err := os.Rename(staging, dir); err != nil {
		_ = os.RemoveAll(staging)
		return false, fmt.Errorf("install store %s: %w", namespace, err)
	}
	return true, nil
}

// checkArchive rejects a foreign format or namespace. Missing metadata passes.
func checkArchive(info storage.ObjectInfo, namespace string) error {
	if format := info.Metadata["format"]; format != "" && format != archiveFormat {
		return fmt.Errorf("%w: %s has format %q", ErrArchiveMismatch, info.Key, format)
	}
	if ns := info.Metadata["namespace"]; ns != "" && ns != namespace {
		return fmt.Errorf("%w: %s belongs to namespace %q", ErrArchiveMismatch, info.Key, ns)
	}
	return nil
}

func writeTarball(w io.Writer, dir string) error {
	encoder, err := zstd.NewWriter(w)
	if err != nil {
		return err
	}
	tw := tar.NewWriter(encoder)

	walkErr := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil || rel == "." {
			return err
		}
		info, err := entry.Info()
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() && !info.IsDir() {
			return nil
		}
		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		file, err := os.Open(path)
		if err != nil {
			return err
		}
		defer func() { _ = file.Close() }()
		_, err = io.Copy(tw, file)
		return err
	})
	if walkErr != nil {
		_ = tw.Close()
		_ = encoder.Close()
		return walkErr
	}
	if err := tw.Close(); err != nil {
		_ = encoder.Close()
		return err
	}
	return encoder.Close()
}

func readTarball(r io.Reader, dir string) error {
	decoder, err := zstd.NewReader(r)
	if err != nil {
		return err
	}
	defer decoder.Close()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tr := tar.NewReader(decoder)
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		target := filepath.Join(dir, filepath.FromSlash(header.Name))
		if !strings.HasPrefix(target, filepath.Clean(dir)+string(os.PathSeparator)) {
			return fmt.Errorf("archive entry %q escapes store directory", header.Name)
		}
		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := writeFile(target, tr); err != nil {
				return err
			}
		default:
			return fmt.Errorf("archive entry %q has unsupported type %d", header.Name, header.Typeflag)
		}
	}
}

func writeFile(path string, r io.Reader) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(file, r); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}
