package openspec

import (
	"errors"
	"log/slog"
	"testing"
	"time"
)

func TestParseValidation(t *testing.T) {
	tests := []struct {
		name         string
		result       *Result
		wantPassed   bool
		wantErrors   []string
		wantWarnings []string
	}{
		{
			name:       "clean pass",
			result:     &Result{Success: true, Stdout: "Change 'add-auth' is valid\n"},
			wantPassed: true,
		},
		{
			name: "errors and warnings classified",
			result: &Result{
				Success: false,
				Stdout:  "ERROR: missing ## Why section\nWarning: tasks.md has no checklist\nall good here\n",
			},
			wantPassed:   false,
			wantErrors:   []string{"ERROR: missing ## Why section"},
			wantWarnings: []string{"Warning: tasks.md has no checklist"},
		},
		{
			name: "error wins over warning on same line",
			result: &Result{
				Success: false,
				Stdout:  "error: warning threshold exceeded\n",
			},
			wantErrors: []string{"error: warning threshold exceeded"},
		},
		{
			name: "classification is case insensitive",
			result: &Result{
				Success: false,
				Stdout:  "  Error in specs/auth/spec.md  \n  WARNING: loose heading  \n",
			},
			wantErrors:   []string{"Error in specs/auth/spec.md"},
			wantWarnings: []string{"WARNING: loose heading"},
		},
		{
			name:       "stderr included in output but not classified",
			result:     &Result{Success: true, Stdout: "ok\n", Stderr: "error: spurious\n"},
			wantPassed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vr := parseValidation(tt.result)

			if vr.Passed != tt.wantPassed {
				t.Errorf("passed = %v, want %v", vr.Passed, tt.wantPassed)
			}
			if len(vr.Errors) != len(tt.wantErrors) {
				t.Fatalf("errors = %v, want %v", vr.Errors, tt.wantErrors)
			}
			for i := range tt.wantErrors {
				if vr.Errors[i] != tt.wantErrors[i] {
					t.Errorf("errors[%d] = %q, want %q", i, vr.Errors[i], tt.wantErrors[i])
				}
			}
			if len(vr.Warnings) != len(tt.wantWarnings) {
				t.Fatalf("warnings = %v, want %v", vr.Warnings, tt.wantWarnings)
			}
			for i := range tt.wantWarnings {
				if vr.Warnings[i] != tt.wantWarnings[i] {
					t.Errorf("warnings[%d] = %q, want %q", i, vr.Warnings[i], tt.wantWarnings[i])
				}
			}
			if vr.Output != tt.result.Stdout+tt.result.Stderr {
				t.Errorf("output should combine stdout and stderr")
			}
		})
	}
}

func TestIsTimeout(t *testing.T) {
	if !IsTimeout(&CLIError{Message: "timed out", Timeout: true}) {
		t.Error("timeout error not recognized")
	}
	if IsTimeout(&CLIError{Message: "exit 1"}) {
		t.Error("non-timeout CLIError misclassified")
	}
	if IsTimeout(errors.New("plain")) {
		t.Error("plain error misclassified")
	}
}

func TestLockForReusesPerDirectory(t *testing.T) {
	c := NewClient(time.Second, slog.New(slog.DiscardHandler))

	a := c.lockFor("/projects/alpha")
	b := c.lockFor("/projects/beta")
	if a == b {
		t.Error("different directories must get different locks")
	}
	if c.lockFor("/projects/alpha") != a {
		t.Error("same directory must reuse its lock")
	}
}
