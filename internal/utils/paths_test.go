package utils

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"specdeck/internal/domain"
)

func TestValidateFilePath(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{
			name:  "simple file",
			input: "proposal.md",
			want:  "proposal.md",
		},
		{
			name:  "nested spec path",
			input: "specs/auth/spec.md",
			want:  "specs/auth/spec.md",
		},
		{
			name:  "backslashes normalized",
			input: `specs\auth\spec.md`,
			want:  "specs/auth/spec.md",
		},
		{
			name:    "leading and trailing slashes stripped",
			input:   "/specs/auth/spec.md/",
			wantErr: true, // leading slash is an absolute path
		},
		{
			name:  "trailing slash stripped",
			input: "specs/auth/",
			want:  "specs/auth",
		},
		{
			name:    "traversal rejected",
			input:   "../etc/passwd",
			wantErr: true,
		},
		{
			name:    "embedded traversal rejected",
			input:   "specs/../../secret.md",
			wantErr: true,
		},
		{
			name:    "windows drive rejected",
			input:   `C:\Windows\system32`,
			wantErr: true,
		},
		{
			name:    "null byte rejected",
			input:   "proposal.md\x00.txt",
			wantErr: true,
		},
		{
			name:    "shell metacharacters rejected",
			input:   "proposal.md; rm -rf /",
			wantErr: true,
		},
		{
			name:    "spaces rejected",
			input:   "my proposal.md",
			wantErr: true,
		},
		{
			name:    "empty rejected",
			input:   "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateFilePath(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				if !errors.Is(err, domain.ErrValidation) {
					t.Errorf("expected validation error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValidatePath(t *testing.T) {
	root := t.TempDir()

	inside, err := ValidatePath(filepath.Join(root, "openspec", "changes"), root)
	if err != nil {
		t.Fatalf("path inside root rejected: %v", err)
	}
	if !filepath.IsAbs(inside) {
		t.Errorf("expected absolute path, got %q", inside)
	}

	if _, err := ValidatePath(filepath.Join(root, "..", "escape"), root); err == nil {
		t.Error("expected error for path escaping root")
	}

	// The root itself is within the root
	if _, err := ValidatePath(root, root); err != nil {
		t.Errorf("root rejected: %v", err)
	}
}

func TestValidateProjectDirectory(t *testing.T) {
	dir := t.TempDir()

	got, err := ValidateProjectDirectory(dir)
	if err != nil {
		t.Fatalf("valid directory rejected: %v", err)
	}
	if got == "" {
		t.Error("expected canonical path")
	}

	if _, err := ValidateProjectDirectory(filepath.Join(dir, "missing")); err == nil {
		t.Error("expected error for missing directory")
	}

	file := filepath.Join(dir, "file.txt")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ValidateProjectDirectory(file); err == nil {
		t.Error("expected error for non-directory path")
	}
}

func TestEnsureDirectory(t *testing.T) {
	root := t.TempDir()

	target := filepath.Join(root, "openspec", "changes", "add-auth")
	got, err := EnsureDirectory(target, root)
	if err != nil {
		t.Fatalf("ensure directory: %v", err)
	}
	info, err := os.Stat(got)
	if err != nil || !info.IsDir() {
		t.Fatalf("directory not created: %v", err)
	}

	if _, err := EnsureDirectory(filepath.Join(root, "..", "escape"), root); err == nil {
		t.Error("expected error for directory outside root")
	}
}
