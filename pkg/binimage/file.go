package binimage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// WriteFile replaces path with data atomically: the bytes go to a temporary
// file in the same directory which is synced and renamed over the target.
// On failure the target keeps its previous content.
func WriteFile(path string, data []byte, perm os.FileMode) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if info, statErr := os.Stat(path); statErr == nil {
		perm = info.Mode().Perm()
	}
	if err = os.Chmod(tmpName, perm); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Backup copies filename to a timestamped sibling, or into dir when dir is
// set, and returns the backup path. A missing source is not an error and
// yields an empty path.
func Backup(filename, dir string) (string, error) {
	data, err := os.ReadFile(filename)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}

	timestamp := time.Now().Format("20060102_150405")
	backupName := filename + ".backup_" + timestamp
	if dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", fmt.Errorf("create backup dir: %w", err)
		}
		backupName = filepath.Join(dir, filepath.Base(filename)+".backup_"+timestamp)
	}
	if err := WriteFile(backupName, data, 0644); err != nil {
		return "", err
	}
	return backupName, nil
}
