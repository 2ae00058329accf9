package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// logFilePattern matches the files OpenLogWriter creates, used for pruning.
const logFilePattern = "specdeck-*.log"

// OpenLogWriter returns a writer that duplicates log output to stdout and
// a timestamped file under dir, pruning all but the maxFiles newest files.
// When dir is empty, logs go to stdout only and the returned closer is a
// no-op.
func OpenLogWriter(dir string, maxFiles int) (io.Writer, func() error, error) {
	if dir == "" {
		return os.Stdout, func() error { return nil }, nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create log directory: %w", err)
	}

	name := fmt.Sprintf("specdeck-%s.log", time.Now().Format("2006-01-02T15-04-05"))
	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return nil, nil, fmt.Errorf("create log file: %w", err)
	}

	if err := pruneLogs(dir, maxFiles); err != nil {
		// Pruning failure never blocks startup; logging still works.
		fmt.Fprintf(os.Stderr, "warning: failed to prune old logs: %v\n", err)
	}

	return io.MultiWriter(os.Stdout, f), f.Close, nil
}

// pruneLogs removes the oldest log files once the count exceeds maxFiles.
// The timestamp in the filename sorts chronologically.
func pruneLogs(dir string, maxFiles int) error {
	files, err := filepath.Glob(filepath.Join(dir, logFilePattern))
	if err != nil {
		return err
	}
	if len(files) <= maxFiles {
		return nil
	}

	sort.Strings(files)
	for _, stale := range files[:len(files)-maxFiles] {
		if err := os.Remove(stale); err != nil {
			return fmt.Errorf("remove %s: %w", stale, err)
		}
	}
	return nil
}
