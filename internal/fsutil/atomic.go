// Package fsutil holds the write-to-temp-then-rename helper shared by the
// config file, the timetable store and the account store.
package fsutil

import (
	"os"
	"path/filepath"
)

// WriteFileAtomic writes data to path so that readers observe either the old
// file or the complete new one, never a partial write.
//
//   - The temp file is created in the same directory (rename must not cross
//     filesystems) using pattern, e.g. ".timetable-*.tmp".
//   - Data is synced and the file closed before chmod/rename.
//   - On any failure the temp file is removed and path is left untouched.
func WriteFileAtomic(path string, data []byte, perm os.FileMode, pattern string) error {
	dir := filepath.Dir(path)
	if pattern == "" {
		pattern = ".tmp-*"
	}

	tmp, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// No-op after a successful rename.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, perm); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}
