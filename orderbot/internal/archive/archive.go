// CLAUDE:SUMMARY Zips a directory tree (the receipts folder) into a single archive, atomically.
// Package archive bundles the receipts directory into one zip file.
package archive

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// Directory writes every regular file under dir (recursively) into a zip
// at dest and returns the number of entries. Entry names are relative to
// dir with forward slashes. A missing or empty dir produces an empty
// archive. The zip is built in a temp file next to dest and renamed, so a
// failed call never leaves a truncated archive behind. dest itself is
// skipped if it lives under dir.
func Directory(ctx context.Context, dir, dest string) (int, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, fmt.Errorf("archive: mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".*.tmp")
	if err != nil {
		return 0, fmt.Errorf("archive: create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	zw := zip.NewWriter(tmp)
	n, err := addTree(ctx, zw, dir, dest, tmpName)
	if err != nil {
		zw.Close()
		tmp.Close()
		return 0, err
	}
	if err := zw.Close(); err != nil {
		tmp.Close()
		return 0, fmt.Errorf("archive: finalize: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("archive: close: %w", err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return 0, fmt.Errorf("archive: rename: %w", err)
	}
	return n, nil
}

func addTree(ctx context.Context, zw *zip.Writer, dir, dest, tmpName string) (int, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return 0, nil
	}
	skipDest, _ := filepath.Abs(dest)
	skipTmp, _ := filepath.Abs(tmpName)

	n := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if abs, _ := filepath.Abs(path); abs == skipDest || abs == skipTmp {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if err := addFile(zw, path, filepath.ToSlash(rel), d); err != nil {
			return err
		}
		n++
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("archive: walk %s: %w", dir, err)
	}
	return n, nil
}

func addFile(zw *zip.Writer, path, name string, d fs.DirEntry) error {
	info, err := d.Info()
	if err != nil {
		return err
	}
	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	hdr.Name = name
	hdr.Method = zip.Deflate

	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return err
}
