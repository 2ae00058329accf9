package materialize

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"specdeck/internal/domain/models"
	"specdeck/internal/utils"
)

// changesSubdir is where openspec expects active change directories.
const changesSubdir = "openspec/changes"

// Service writes proposal content out to a project's openspec tree.
// Database content is the source of truth; the filesystem copy exists only
// so the openspec CLI can validate and archive it. A failed write removes
// the partially written change directory.
type Service struct {
	logger *slog.Logger
}

// NewService creates a new materialization service
func NewService(logger *slog.Logger) *Service {
	return &Service{logger: logger}
}

// ChangeDir returns the on-disk directory for one change.
func ChangeDir(projectRoot, proposalName string) string {
	return filepath.Join(projectRoot, changesSubdir, proposalName)
}

// WriteChange writes all content files under
// {projectRoot}/openspec/changes/{proposalName}, creating parent
// directories as needed. Every target path must stay inside the change
// directory, so Cleanup can always undo a partial write. On any failure
// the change directory is removed and the error returned.
func (s *Service) WriteChange(projectRoot, proposalName string, contents []models.ContentItem) (string, error) {
	changesDir, err := utils.EnsureDirectory(ChangeDir(projectRoot, proposalName), projectRoot)
	if err != nil {
		return "", err
	}

	for _, item := range contents {
		if err := s.writeFile(changesDir, item); err != nil {
			s.Cleanup(changesDir)
			return "", err
		}
	}

	s.logger.Info("change materialized",
		"path", changesDir,
		"files", len(contents),
	)

	return changesDir, nil
}

func (s *Service) writeFile(changesDir string, item models.ContentItem) error {
	target, err := utils.ValidatePath(filepath.Join(changesDir, item.FilePath), changesDir)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create directory for '%s': %w", item.FilePath, err)
	}

	if err := os.WriteFile(target, []byte(item.Content), 0o644); err != nil {
		return fmt.Errorf("write '%s': %w", item.FilePath, err)
	}

	return nil
}

// WriteTemp materializes contents into a fresh temporary openspec tree for
// validation that must not touch the project. Returns the temp root, the
// change directory inside it, and a cleanup function.
func (s *Service) WriteTemp(proposalName string, contents []models.ContentItem) (root, changesDir string, cleanup func(), err error) {
	root, err = os.MkdirTemp("", "specdeck-validate-*")
	if err != nil {
		return "", "", nil, fmt.Errorf("create temp dir: %w", err)
	}
	cleanup = func() {
		if err := os.RemoveAll(root); err != nil {
			s.logger.Warn("temp dir cleanup failed", "path", root, "error", err)
		}
	}

	changesDir, err = s.WriteChange(root, proposalName, contents)
	if err != nil {
		cleanup()
		return "", "", nil, err
	}

	return root, changesDir, cleanup, nil
}

// Cleanup removes a change directory, tolerating its absence.
func (s *Service) Cleanup(changesDir string) {
	if err := os.RemoveAll(changesDir); err != nil {
		s.logger.Warn("change directory cleanup failed", "path", changesDir, "error", err)
	}
}
