package ctags

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/apilookup-mcp/internal/logger"
)

// DefaultBinary is the extractor looked up on PATH
const DefaultBinary = "ctags"

// Extension is appended to the source directory name to form the artifact file name
const Extension = ".ctags"

var (
	// ErrToolNotFound is returned when the ctags binary can't be executed
	ErrToolNotFound = errors.New("ctags command not found; install Universal Ctags (e.g. 'brew install universal-ctags')")
	// ErrInvalidSource is returned when the source directory is missing or not a directory
	ErrInvalidSource = errors.New("invalid source directory")
)

// InvocationError reports a ctags run that exited non-zero
type InvocationError struct {
	ExitCode int
	Stderr   string
	Stdout   string
	Err      error
}

func (e *InvocationError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("ctags generation failed (exit %d): %s", e.ExitCode, msg)
}

func (e *InvocationError) Unwrap() error {
	return e.Err
}

// Result describes a successful extractor run
type Result struct {
	SourceDir  string
	OutputFile string
	Artifact   string
	Excludes   []string
	Exclusions *Exclusions // nil when the source has no .gitignore
	Duration   time.Duration
}

// Runner invokes Universal Ctags over a source tree
type Runner struct {
	binary string
	logger *zap.Logger
}

// NewRunner creates a Runner; an empty binary means DefaultBinary
func NewRunner(binary string, l *zap.Logger) *Runner {
	if binary == "" {
		binary = DefaultBinary
	}
	return &Runner{binary: binary, logger: logger.OrNop(l)}
}

// Args builds the ctags argument list: JSON output, signature and file
// fields, C prototypes, recursive traversal.
func Args(outputFile, sourceDir string, excludes []string) []string {
	args := []string{
		"--output-format=json",
		"--fields=+Sf",
		"--kinds-C=+p",
		"-R",
		"-f", outputFile,
	}
	for _, pattern := range excludes {
		args = append(args, "--exclude="+pattern)
	}
	return append(args, sourceDir)
}

// Generate runs ctags over sourceDir and writes <outputDir>/<basename>.ctags
func (r *Runner) Generate(ctx context.Context, sourceDir, outputDir string) (*Result, error) {
	start := time.Now()

	absSource, err := filepath.Abs(sourceDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSource, err)
	}
	info, err := os.Stat(absSource)
	if err != nil {
		return nil, fmt.Errorf("%w: '%s' does not exist", ErrInvalidSource, sourceDir)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: '%s' is not a directory", ErrInvalidSource, sourceDir)
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	artifact := filepath.Base(absSource)
	result := &Result{
		SourceDir:  absSource,
		OutputFile: filepath.Join(outputDir, artifact+Extension),
		Artifact:   artifact,
	}

	result.Excludes, result.Exclusions, err = LoadExclusions(absSource)
	if err != nil {
		return nil, err
	}

	args := Args(result.OutputFile, absSource, result.Excludes)
	r.logger.Info("running ctags",
		zap.String("binary", r.binary),
		zap.Strings("args", args),
	)

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.binary, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			r.logger.Error("ctags binary not found", zap.String("binary", r.binary), zap.Error(err))
			return nil, fmt.Errorf("%w: %v", ErrToolNotFound, err)
		}

		invErr := &InvocationError{
			ExitCode: -1,
			Stderr:   stderr.String(),
			Stdout:   stdout.String(),
			Err:      err,
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			invErr.ExitCode = exitErr.ExitCode()
		}
		r.logger.Error("ctags failed",
			zap.Int("exit_code", invErr.ExitCode),
			zap.String("stderr", invErr.Stderr),
			zap.String("stdout", invErr.Stdout),
		)
		return nil, invErr
	}

	result.Duration = time.Since(start)
	r.logger.Info("ctags complete",
		zap.String("output", result.OutputFile),
		zap.Duration("duration", result.Duration),
	)
	return result, nil
}
