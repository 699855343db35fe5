package util

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ValidateFolderPath checks if a folder path is valid and writable.
// Relative paths are resolved against basePath. If the folder does not
// exist, it checks that it can be created.
func ValidateFolderPath(folderPath string, basePath string) error {
	if folderPath == "" {
		return fmt.Errorf("folder path cannot be empty")
	}

	if strings.Contains(folderPath, "..") {
		return fmt.Errorf("folder path contains invalid directory traversal")
	}

	cleanPath := filepath.Clean(folderPath)
	if filepath.IsAbs(cleanPath) {
		return validateAbsolutePath(cleanPath)
	}
	return validateAbsolutePath(filepath.Join(basePath, cleanPath))
}

func validateAbsolutePath(fullPath string) error {
	info, err := os.Stat(fullPath)
	if err == nil {
		if !info.IsDir() {
			return fmt.Errorf("path exists but is not a directory: %s", fullPath)
		}
		if err := checkWritePermission(fullPath); err != nil {
			return fmt.Errorf("no write permission for existing directory: %w", err)
		}
		return nil
	}

	if os.IsNotExist(err) {
		return checkCanCreatePath(fullPath)
	}

	return fmt.Errorf("cannot access path: %w", err)
}

func checkWritePermission(dirPath string) error {
	f, err := os.CreateTemp(dirPath, ".setlist_write_check_*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	os.Remove(name)
	return nil
}

// checkCanCreatePath walks up to the nearest existing ancestor and checks
// that it is a writable directory. Nothing is created.
func checkCanCreatePath(fullPath string) error {
	parent := filepath.Dir(fullPath)
	for {
		info, err := os.Stat(parent)
		if err == nil {
			if !info.IsDir() {
				return fmt.Errorf("parent path exists but is not a directory: %s", parent)
			}
			if err := checkWritePermission(parent); err != nil {
				return fmt.Errorf("no write permission for parent directory: %w", err)
			}
			return nil
		}
		if !os.IsNotExist(err) {
			return fmt.Errorf("cannot access parent directory: %w", err)
		}
		next := filepath.Dir(parent)
		if next == parent {
			return fmt.Errorf("no existing ancestor for %s", fullPath)
		}
		parent = next
	}
}
