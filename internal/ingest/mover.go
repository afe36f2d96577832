package ingest

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

type fileMover struct {
	rename func(oldpath, newpath string) error
	remove func(name string) error
}

var osMover = fileMover{rename: os.Rename, remove: os.Remove}

// MoveFileToDir moves srcPath into dstDir keeping its base name. An existing
// file of the same name is replaced. When rename fails (for example across
// devices) the content is copied next to the destination and renamed over it.
// If the source cannot be removed afterwards the copy is deleted again, so the
// file only ever exists in one of the two folders.
func MoveFileToDir(srcPath, dstDir string) (string, error) {
	return osMover.moveToDir(srcPath, dstDir)
}

func (m fileMover) moveToDir(srcPath, dstDir string) (string, error) {
	if strings.TrimSpace(dstDir) == "" {
		return "", fmt.Errorf("dstDir is empty")
	}
	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return "", err
	}
	dstPath := filepath.Join(dstDir, filepath.Base(srcPath))

	if err := m.rename(srcPath, dstPath); err == nil {
		return dstPath, nil
	}

	if err := copyReplace(srcPath, dstPath); err != nil {
		return "", err
	}
	if err := m.remove(srcPath); err != nil {
		if rmErr := os.Remove(dstPath); rmErr != nil {
			return "", fmt.Errorf("failed to remove %s: %w (copy left at %s: %v)", srcPath, err, dstPath, rmErr)
		}
		return "", fmt.Errorf("failed to remove %s after copy: %w", srcPath, err)
	}
	return dstPath, nil
}

func copyReplace(srcPath, dstPath string) error {
	in, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dstPath), "."+filepath.Base(dstPath)+".*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	_, copyErr := io.Copy(tmp, in)
	closeErr := tmp.Close()
	if copyErr != nil {
		_ = os.Remove(tmpPath)
		return copyErr
	}
	if closeErr != nil {
		_ = os.Remove(tmpPath)
		return closeErr
	}
	if err := os.Rename(tmpPath, dstPath); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}
