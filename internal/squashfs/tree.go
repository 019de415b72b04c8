package squashfs

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// CopyTree mirrors a root tree into dst, preserving permissions,
// modification times and symlinks. Sockets, fifos and device nodes are
// skipped; a bootstrapped root tree does not carry any that matter inside
// a read-only image.
func CopyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		info, err := d.Info()
		if err != nil {
			return err
		}
		mode := info.Mode()

		switch {
		case d.IsDir():
			if rel == "." {
				return os.MkdirAll(dst, mode.Perm())
			}
			return os.MkdirAll(target, mode.Perm())
		case mode&os.ModeSymlink != 0:
			dest, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(dest, target)
		case mode.IsRegular():
			if err := copyFile(path, target, mode.Perm()); err != nil {
				return err
			}
			return os.Chtimes(target, info.ModTime(), info.ModTime())
		default:
			return nil
		}
	})
}

func copyFile(src, dst string, perm fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// TreeSize returns the total size of regular files under root.
func TreeSize(root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			total += info.Size()
		}
		return nil
	})
	return total, err
}

// PinTimestamps sets the modification time of the named files (relative to
// root) to the modification time of reference (also relative to root).
// Files rewritten on every bootstrap are pinned before compression so that
// unchanged input produces a byte-stable image. Missing files are skipped.
func PinTimestamps(root, reference string, files ...string) error {
	refInfo, err := os.Stat(filepath.Join(root, reference))
	if err != nil {
		return fmt.Errorf("stat reference %s: %w", reference, err)
	}
	refTime := refInfo.ModTime()

	for _, file := range files {
		path := filepath.Join(root, file)
		if _, err := os.Lstat(path); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}
		if err := os.Chtimes(path, refTime, refTime); err != nil {
			return fmt.Errorf("pin timestamp of %s: %w", file, err)
		}
	}
	return nil
}
