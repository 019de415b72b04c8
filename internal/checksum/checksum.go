// Package checksum produces and verifies md5 manifests in the historical
// "hash  path" layout consumed by the boot-time self test.
package checksum

import (
	"bufio"
	"crypto/md5"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FileDigest returns the hex md5 digest of the file at path.
func FileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// WriteFileManifest writes a single-entry manifest for the file at path,
// keyed by its base name. Used for the self-test manifest next to the
// compressed root image.
func WriteFileManifest(path, manifestPath string) error {
	digest, err := FileDigest(path)
	if err != nil {
		return err
	}
	line := fmt.Sprintf("%s  %s\n", digest, filepath.Base(path))
	if err := os.WriteFile(manifestPath, []byte(line), 0o644); err != nil {
		return fmt.Errorf("write manifest %s: %w", manifestPath, err)
	}
	return nil
}

// WriteTreeManifest hashes every regular file under the named subdirs of
// baseDir and writes one "hash  relpath" line per file, sorted by path.
// Missing subdirs are skipped.
func WriteTreeManifest(manifestPath, baseDir string, subdirs ...string) error {
	var paths []string
	for _, sub := range subdirs {
		root := filepath.Join(baseDir, sub)
		if _, err := os.Stat(root); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.Type().IsRegular() {
				paths = append(paths, path)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	sort.Strings(paths)

	var b strings.Builder
	for _, path := range paths {
		digest, err := FileDigest(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(baseDir, path)
		if err != nil {
			return err
		}
		fmt.Fprintf(&b, "%s  %s\n", digest, filepath.ToSlash(rel))
	}

	if err := os.WriteFile(manifestPath, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write manifest %s: %w", manifestPath, err)
	}
	return nil
}

// Entry is one manifest line.
type Entry struct {
	Digest string
	Path   string
}

// ReadManifest parses a manifest file.
func ReadManifest(manifestPath string) ([]Entry, error) {
	f, err := os.Open(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("open manifest %s: %w", manifestPath, err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		digest, rest, ok := strings.Cut(line, " ")
		if !ok {
			return nil, fmt.Errorf("manifest %s: malformed line %q", manifestPath, line)
		}
		entries = append(entries, Entry{
			Digest: digest,
			Path:   strings.TrimSpace(rest),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", manifestPath, err)
	}
	return entries, nil
}

// Verify re-hashes every entry of the manifest against files under baseDir
// and reports the first mismatch.
func Verify(manifestPath, baseDir string) error {
	entries, err := ReadManifest(manifestPath)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		digest, err := FileDigest(filepath.Join(baseDir, filepath.FromSlash(entry.Path)))
		if err != nil {
			return err
		}
		if digest != entry.Digest {
			return fmt.Errorf("checksum mismatch for %s: manifest %s, file %s", entry.Path, entry.Digest, digest)
		}
	}
	return nil
}
