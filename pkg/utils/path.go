package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	gap "github.com/muesli/go-app-paths"
)

// CacheDirEnv overrides the platform cache directory when set.
const CacheDirEnv = "IMAGELOADER_CACHE_HOME"

// ResolveCacheDirectory returns the directory the disk tier should use.
//
// An explicit directory wins. Otherwise the platform user cache directory for
// name is used (XDG_CACHE_HOME on Linux, ~/Library/Caches on macOS), unless
// IMAGELOADER_CACHE_HOME is set.
func ResolveCacheDirectory(name, explicit string) (string, error) {
	if explicit != "" {
		return filepath.Clean(explicit), nil
	}
	if name == "" {
		return "", fmt.Errorf("cache directory name cannot be empty")
	}
	if err := ValidatePath(name, false); err != nil {
		return "", err
	}
	if base := os.Getenv(CacheDirEnv); base != "" {
		return filepath.Join(base, name), nil
	}

	scope := gap.NewScope(gap.User, name)
	dir, err := scope.CacheDir()
	if err != nil {
		return "", fmt.Errorf("resolve cache directory: %w", err)
	}
	return dir, nil
}

// ValidatePath validates that a file path is safe and does not contain directory traversal attempts.
//
// Returns an error if the path contains:
//   - ".." directory traversal sequences
//   - Absolute paths when not expected
func ValidatePath(path string, allowAbsolute bool) error {
	if path == "" {
		return fmt.Errorf("path cannot be empty")
	}

	cleanPath := filepath.Clean(path)

	if strings.Contains(cleanPath, "..") {
		return fmt.Errorf("path contains directory traversal: %s", path)
	}

	if !allowAbsolute && filepath.IsAbs(cleanPath) {
		return fmt.Errorf("absolute paths not allowed: %s", path)
	}

	return nil
}

// SecureJoin safely joins path elements and ensures the result stays within the base directory.
// Unlike filepath.Join, this function validates that the result doesn't escape the base through
// directory traversal.
func SecureJoin(base string, elements ...string) (string, error) {
	if base == "" {
		return "", fmt.Errorf("base path cannot be empty")
	}

	cleanBase := filepath.Clean(base)
	fullPath := filepath.Join(append([]string{cleanBase}, elements...)...)

	if !strings.HasPrefix(fullPath, cleanBase+string(filepath.Separator)) &&
		fullPath != cleanBase {
		return "", fmt.Errorf("path escapes base directory")
	}

	return fullPath, nil
}
