package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"specdeck/internal/domain"
)

// filePathPattern admits alphanumerics, underscore, dash, dot and slash.
// Everything else (spaces, shell metacharacters, unicode tricks) is rejected
// outright rather than escaped.
var filePathPattern = regexp.MustCompile(`^[\w\-./]+$`)

// ValidateFilePath checks a proposal-relative file path like "proposal.md"
// or "specs/auth/spec.md" and returns it normalized (forward slashes, no
// leading/trailing slashes or whitespace). Traversal segments, absolute
// paths and null bytes fail with domain.ErrValidation.
func ValidateFilePath(filePath string) (string, error) {
	if strings.Contains(filePath, "..") {
		return "", fmt.Errorf("%w: path traversal (..) not allowed", domain.ErrValidation)
	}

	if strings.HasPrefix(filePath, "/") || (len(filePath) > 1 && filePath[1] == ':') {
		return "", fmt.Errorf("%w: absolute paths not allowed", domain.ErrValidation)
	}

	if strings.ContainsRune(filePath, 0) {
		return "", fmt.Errorf("%w: null bytes not allowed in path", domain.ErrValidation)
	}

	normalized := strings.ReplaceAll(filePath, "\\", "/")
	normalized = strings.Trim(strings.TrimSpace(normalized), "/")

	if normalized == "" || !filePathPattern.MatchString(normalized) {
		return "", fmt.Errorf("%w: invalid characters in path: %s", domain.ErrValidation, filePath)
	}

	return normalized, nil
}

// ValidatePath resolves path and verifies it stays within allowedRoot.
// Returns the canonical absolute path.
func ValidatePath(path, allowedRoot string) (string, error) {
	canonicalPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("%w: invalid path '%s': %v", domain.ErrValidation, path, err)
	}
	canonicalRoot, err := filepath.Abs(allowedRoot)
	if err != nil {
		return "", fmt.Errorf("%w: invalid root '%s': %v", domain.ErrValidation, allowedRoot, err)
	}

	canonicalPath = filepath.Clean(canonicalPath)
	canonicalRoot = filepath.Clean(canonicalRoot)

	rel, err := filepath.Rel(canonicalRoot, canonicalPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: path '%s' is outside allowed root '%s'", domain.ErrValidation, path, allowedRoot)
	}

	return canonicalPath, nil
}

// ValidateProjectDirectory verifies path exists, is a directory, and is
// readable. Returns the canonical absolute path.
func ValidateProjectDirectory(path string) (string, error) {
	canonical, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("%w: invalid path '%s': %v", domain.ErrValidation, path, err)
	}

	info, err := os.Stat(canonical)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: directory does not exist: %s", domain.ErrValidation, path)
		}
		if os.IsPermission(err) {
			return "", fmt.Errorf("%w: permission denied: %s", domain.ErrValidation, path)
		}
		return "", fmt.Errorf("%w: cannot access directory '%s': %v", domain.ErrValidation, path, err)
	}

	if !info.IsDir() {
		return "", fmt.Errorf("%w: path is not a directory: %s", domain.ErrValidation, path)
	}

	// Read access check
	if _, err := os.ReadDir(canonical); err != nil {
		return "", fmt.Errorf("%w: permission denied: %s", domain.ErrValidation, path)
	}

	return canonical, nil
}

// EnsureDirectory creates path (and parents) after verifying it stays
// within allowedRoot.
func EnsureDirectory(path, allowedRoot string) (string, error) {
	canonical, err := ValidatePath(path, allowedRoot)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(canonical, 0o755); err != nil {
		return "", fmt.Errorf("create directory '%s': %w", canonical, err)
	}
	return canonical, nil
}
