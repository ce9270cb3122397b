// Package probe estimates knowledge artifact sizes from the file system.
package probe

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FileSize returns the size of the file at ref, or the summed size of every
// regular file under ref when it is a directory.
func FileSize(ref string) (int64, error) {
	info, err := os.Stat(ref)
	if err != nil {
		return 0, fmt.Errorf("stat artifact: %w", err)
	}
	if !info.IsDir() {
		return info.Size(), nil
	}

	var total int64
	err = filepath.WalkDir(ref, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		total += fi.Size()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("walk artifact: %w", err)
	}
	return total, nil
}

// Rooted returns a probe that resolves relative refs against root.
func Rooted(root string) func(ref string) (int64, error) {
	return func(ref string) (int64, error) {
		if !filepath.IsAbs(ref) && root != "" {
			ref = filepath.Join(root, ref)
		}
		return FileSize(ref)
	}
}
