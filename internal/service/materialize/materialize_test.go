package materialize

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"specdeck/internal/domain/models"
)

func newService() *Service {
	return NewService(slog.New(slog.DiscardHandler))
}

func TestWriteChange(t *testing.T) {
	root := t.TempDir()
	svc := newService()

	contents := []models.ContentItem{
		{FilePath: "proposal.md", Content: "# Change: add-auth\n"},
		{FilePath: "tasks.md", Content: "# Tasks\n"},
		{FilePath: "specs/auth/spec.md", Content: "## ADDED Requirements\n"},
	}

	dir, err := svc.WriteChange(root, "add-auth", contents)
	if err != nil {
		t.Fatalf("write change: %v", err)
	}

	want := filepath.Join(root, "openspec", "changes", "add-auth")
	if dir != want {
		t.Errorf("dir = %q, want %q", dir, want)
	}

	for _, item := range contents {
		data, err := os.ReadFile(filepath.Join(dir, item.FilePath))
		if err != nil {
			t.Fatalf("read %s: %v", item.FilePath, err)
		}
		if string(data) != item.Content {
			t.Errorf("%s content = %q, want %q", item.FilePath, data, item.Content)
		}
	}
}

func TestWriteChangeRejectsEscapingPath(t *testing.T) {
	root := t.TempDir()
	svc := newService()

	contents := []models.ContentItem{
		{FilePath: "proposal.md", Content: "ok"},
		{FilePath: "../../../outside.md", Content: "bad"},
	}

	if _, err := svc.WriteChange(root, "add-auth", contents); err == nil {
		t.Fatal("expected error for path escaping project root")
	}

	// Partial write must be cleaned up
	if _, err := os.Stat(filepath.Join(root, "openspec", "changes", "add-auth")); !os.IsNotExist(err) {
		t.Error("change directory left behind after failed write")
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(root), "outside.md")); !os.IsNotExist(err) {
		t.Error("file written outside project root")
	}
	// A traversal landing inside the project but outside the change
	// directory is just as bad: Cleanup could never remove it.
	if _, err := os.Stat(filepath.Join(root, "outside.md")); !os.IsNotExist(err) {
		t.Error("file written outside the change directory")
	}
}

func TestWriteTemp(t *testing.T) {
	svc := newService()

	contents := []models.ContentItem{
		{FilePath: "proposal.md", Content: "# Change: draft-check\n"},
	}

	root, dir, cleanup, err := svc.WriteTemp("draft-check", contents)
	if err != nil {
		t.Fatalf("write temp: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "proposal.md")); err != nil {
		t.Errorf("temp content missing: %v", err)
	}

	cleanup()
	if _, err := os.Stat(root); !os.IsNotExist(err) {
		t.Error("temp root not removed by cleanup")
	}
}

func TestCleanupTolerant(t *testing.T) {
	svc := newService()
	// Missing directory is not an error
	svc.Cleanup(filepath.Join(t.TempDir(), "never-existed"))
}
