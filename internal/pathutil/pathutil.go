// Package pathutil provides shared path validation helpers.
package pathutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DirPerm is the mode used for directories created on behalf of output files.
const DirPerm = 0o755

// ValidateFilePath rejects empty paths, paths made only of whitespace and
// paths containing null bytes. Relative segments such as ".." are allowed:
// every path is operator-supplied and resolved against the working directory.
func ValidateFilePath(filePath string) error {
	if strings.TrimSpace(filePath) == "" {
		return fmt.Errorf("file path cannot be empty")
	}
	if strings.ContainsRune(filePath, 0) {
		return fmt.Errorf("file path contains invalid characters")
	}
	return nil
}

// EnsureParentDir creates the missing parent directories of filePath.
// It returns the directory it checked, or "" when filePath has no parent.
func EnsureParentDir(filePath string) (string, error) {
	dir := filepath.Dir(filePath)
	if dir == "" || dir == "." {
		return "", nil
	}
	if err := os.MkdirAll(dir, DirPerm); err != nil {
		return dir, err
	}
	return dir, nil
}
