package build

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/klauspost/compress/flate"
)

// archivePack zips the pack directory into <root>.zip next to it. Entries
// are added in sorted path order with zeroed timestamps so a deterministic
// provider yields a byte-identical archive on re-runs.
func archivePack(root string) (string, error) {
	var paths []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.Mode().IsRegular() {
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			paths = append(paths, filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("unable to walk pack directory: %w", err)
	}
	sort.Strings(paths)

	zipPath := root + ".zip"
	out, err := os.Create(zipPath)
	if err != nil {
		return "", fmt.Errorf("unable to create archive: %w", err)
	}
	defer out.Close() //nolint:errcheck

	zw := zip.NewWriter(out)
	zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, flate.BestCompression)
	})

	base := filepath.Base(root)
	for _, rel := range paths {
		hdr := &zip.FileHeader{
			Name:   base + "/" + rel,
			Method: zip.Deflate,
		}
		// Timestamps stay zeroed for reproducibility.
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			zw.Close()
			return "", fmt.Errorf("unable to add %s to archive: %w", rel, err)
		}
		f, err := os.Open(filepath.Join(root, filepath.FromSlash(rel)))
		if err != nil {
			zw.Close()
			return "", fmt.Errorf("unable to open %s: %w", rel, err)
		}
		_, err = io.Copy(w, f)
		f.Close() //nolint:errcheck,gosec
		if err != nil {
			zw.Close()
			return "", fmt.Errorf("unable to compress %s: %w", rel, err)
		}
	}

	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("unable to finish archive: %w", err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("unable to close archive: %w", err)
	}
	return zipPath, nil
}
