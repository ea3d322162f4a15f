package build

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// manifestName is the checksum manifest written at the pack root. Lines use
// sha256sum format ("<hex>  <relative path>") sorted by path, so the
// manifest itself is stable across re-runs with identical input.
const manifestName = "checksums.sha256"

// writeChecksumManifest hashes every .wav under root and writes the
// manifest. It returns the SHA-256 of the manifest body, a single digest
// identifying the whole pack.
func writeChecksumManifest(root string) (string, error) {
	var paths []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() || !strings.HasSuffix(path, ".wav") {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("unable to walk pack directory: %w", err)
	}
	sort.Strings(paths)

	var b strings.Builder
	for _, rel := range paths {
		sum, err := hashFile(filepath.Join(root, filepath.FromSlash(rel)))
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "%s  %s\n", sum, rel)
	}

	body := []byte(b.String())
	if err := writeFileAtomic(filepath.Join(root, manifestName), body); err != nil {
		return "", err
	}
	digest := sha256.Sum256(body)
	return hex.EncodeToString(digest[:]), nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("unable to open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("unable to hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
