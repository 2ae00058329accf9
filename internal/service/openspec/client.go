package openspec

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// CLIError reports a failed openspec invocation with its captured output.
type CLIError struct {
	Message    string
	Stdout     string
	Stderr     string
	ReturnCode int
	Timeout    bool
}

func (e *CLIError) Error() string {
	return e.Message
}

// IsTimeout reports whether err is a CLI timeout.
func IsTimeout(err error) bool {
	var cliErr *CLIError
	return errors.As(err, &cliErr) && cliErr.Timeout
}

// Result holds the output of one CLI command.
type Result struct {
	Success    bool
	Stdout     string
	Stderr     string
	ReturnCode int
}

// ValidationResult is the parsed output of openspec validate. Lines are
// classified case-insensitively: any line containing "error" is an error,
// otherwise any line containing "warning" is a warning.
type ValidationResult struct {
	Passed   bool     `json:"passed"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
	Output   string   `json:"output"`
}

// Client wraps the openspec CLI. Commands run in the project's working
// directory with a hard timeout; timeouts are retried up to three attempts
// with exponential backoff since the CLI occasionally stalls on slow
// filesystems. Invocations targeting the same project directory are
// serialized so concurrent validate/archive runs cannot corrupt the
// openspec/ tree.
type Client struct {
	timeout time.Duration
	logger  *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewClient creates a new CLI client
func NewClient(timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		timeout: timeout,
		logger:  logger,
		locks:   make(map[string]*sync.Mutex),
	}
}

// lockFor returns the mutex serializing commands for one project directory.
func (c *Client) lockFor(dir string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	if l, ok := c.locks[dir]; ok {
		return l
	}
	l := &sync.Mutex{}
	c.locks[dir] = l
	return l
}

// run executes one openspec command and captures its output.
func (c *Client) run(ctx context.Context, dir string, args ...string) (*Result, error) {
	lock := c.lockFor(dir)
	lock.Lock()
	defer lock.Unlock()

	runCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "openspec", args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	c.logger.Debug("openspec command finished",
		"args", strings.Join(args, " "),
		"dir", dir,
		"duration_ms", elapsed.Milliseconds(),
		"error", err,
	)

	if runCtx.Err() == context.DeadlineExceeded {
		return nil, &CLIError{
			Message: fmt.Sprintf("command timed out after %s: openspec %s", c.timeout, strings.Join(args, " ")),
			Stdout:  stdout.String(),
			Stderr:  stderr.String(),
			Timeout: true,
		}
	}

	result := &Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ReturnCode = exitErr.ExitCode()
			return result, nil
		}
		return nil, &CLIError{
			Message:    fmt.Sprintf("run openspec %s: %v", strings.Join(args, " "), err),
			Stderr:     stderr.String(),
			ReturnCode: 1,
		}
	}

	result.Success = true
	return result, nil
}

// runWithRetry retries run on timeout only. Non-timeout failures surface
// immediately.
func (c *Client) runWithRetry(ctx context.Context, dir string, args ...string) (*Result, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Second
	policy.MaxInterval = 10 * time.Second

	var result *Result
	operation := func() error {
		var err error
		result, err = c.run(ctx, dir, args...)
		if err != nil && !IsTimeout(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, 2), ctx))
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Init initializes the openspec directory structure for a project.
// The compliance standard lives in the database, not in openspec, so init
// always runs with --tools none.
func (c *Client) Init(ctx context.Context, path string) (*Result, error) {
	return c.runWithRetry(ctx, path, "init", "--tools", "none")
}

// Validate runs openspec validate for one change and parses the output.
func (c *Client) Validate(ctx context.Context, path, proposalName string, strict bool) (*ValidationResult, error) {
	args := []string{"validate", proposalName}
	if strict {
		args = append(args, "--strict")
	}

	result, err := c.runWithRetry(ctx, path, args...)
	if err != nil {
		return nil, err
	}

	return parseValidation(result), nil
}

func parseValidation(result *Result) *ValidationResult {
	vr := &ValidationResult{
		Passed:   result.Success,
		Errors:   []string{},
		Warnings: []string{},
		Output:   result.Stdout + result.Stderr,
	}

	for _, line := range strings.Split(result.Stdout, "\n") {
		lower := strings.ToLower(line)
		switch {
		case strings.Contains(lower, "error"):
			vr.Errors = append(vr.Errors, strings.TrimSpace(line))
		case strings.Contains(lower, "warning"):
			vr.Warnings = append(vr.Warnings, strings.TrimSpace(line))
		}
	}

	return vr
}

// ValidateStream runs openspec validate and streams combined output lines
// as they appear. The returned channel closes when the command exits; the
// final error, if any, is delivered through errc.
func (c *Client) ValidateStream(ctx context.Context, path, proposalName string, strict bool) (<-chan string, <-chan error) {
	lines := make(chan string)
	errc := make(chan error, 1)

	args := []string{"validate", proposalName}
	if strict {
		args = append(args, "--strict")
	}

	go func() {
		defer close(lines)
		defer close(errc)

		lock := c.lockFor(path)
		lock.Lock()
		defer lock.Unlock()

		runCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		cmd := exec.CommandContext(runCtx, "openspec", args...)
		cmd.Dir = path

		pr, pw := io.Pipe()
		cmd.Stdout = pw
		cmd.Stderr = pw

		if err := cmd.Start(); err != nil {
			errc <- &CLIError{Message: fmt.Sprintf("start openspec validate: %v", err), ReturnCode: 1}
			return
		}

		go func() {
			pw.CloseWithError(cmd.Wait())
		}()

		scanner := bufio.NewScanner(pr)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- strings.TrimRight(scanner.Text(), "\r"):
			case <-runCtx.Done():
				errc <- &CLIError{
					Message: fmt.Sprintf("command timed out after %s: openspec %s", c.timeout, strings.Join(args, " ")),
					Timeout: true,
				}
				return
			}
		}
	}()

	return lines, errc
}

// List runs openspec list in the project directory.
func (c *Client) List(ctx context.Context, path string) (*Result, error) {
	return c.run(ctx, path, "list")
}

// Show runs openspec show for one change.
func (c *Client) Show(ctx context.Context, path, changeID string, jsonOutput bool) (*Result, error) {
	args := []string{"show", changeID}
	if jsonOutput {
		args = append(args, "--json")
	}
	return c.run(ctx, path, args...)
}

// Archive runs openspec archive for a merged change.
func (c *Client) Archive(ctx context.Context, path, changeID string, skipSpecs bool) (*Result, error) {
	args := []string{"archive", changeID, "--yes"}
	if skipSpecs {
		args = append(args, "--skip-specs")
	}
	return c.run(ctx, path, args...)
}
