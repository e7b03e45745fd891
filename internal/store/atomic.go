package store

import (
	"os"
	"path/filepath"
)

// TempPrefix starts the name of every temporary file this tool creates. It
// never matches a bundle family glob.
const TempPrefix = ".modelstamp-"

// WriteFileAtomic writes data to path through a temp file in the same
// directory and a rename, so readers see either the old or the new file.
// On failure the original is left unchanged.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), TempPrefix+"*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

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
	if err := os.Chmod(tmpPath, perm); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}
	success = true
	return nil
}

// FileMode returns the permission bits of path, or def if it cannot be read.
func FileMode(path string, def os.FileMode) os.FileMode {
	info, err := os.Stat(path)
	if err != nil {
		return def
	}
	return info.Mode().Perm()
}
