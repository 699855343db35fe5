package util

import (
	"os"
	"path/filepath"
	"testing"
)

func TestValidateFolderPath(t *testing.T) {
	tempDir := t.TempDir()
	basePath := filepath.Join(tempDir, "work")
	if err := os.MkdirAll(basePath, 0755); err != nil {
		t.Fatalf("Failed to create base directory: %v", err)
	}
	filePath := filepath.Join(basePath, "file.txt")
	if err := os.WriteFile(filePath, []byte("x"), 0644); err != nil {
		t.Fatalf("Failed to create file: %v", err)
	}
	os.MkdirAll(filepath.Join(basePath, "existing"), 0755)

	tests := []struct {
		name        string
		folderPath  string
		expectError bool
	}{
		{"valid existing directory", "existing", false},
		{"valid non-existing directory", "new_folder", false},
		{"valid nested directory", "nested/deep/folder", false},
		{"absolute path", filepath.Join(tempDir, "abs"), false},
		{"empty folder path", "", true},
		{"directory traversal attempt", "../../etc", true},
		{"path is a file", "file.txt", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFolderPath(tt.folderPath, basePath)
			if tt.expectError && err == nil {
				t.Errorf("Expected error for %q, got nil", tt.folderPath)
			}
			if !tt.expectError && err != nil {
				t.Errorf("Expected no error for %q, got %v", tt.folderPath, err)
			}
		})
	}

	// Validation must not leave anything behind.
	if _, err := os.Stat(filepath.Join(basePath, "nested")); !os.IsNotExist(err) {
		t.Errorf("Expected validation to not create directories")
	}
}
