package ctags

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"
)

// Exclusions matches artifact source paths against a source tree's .gitignore.
// Paths are expected in indexed form, "<root>/<path inside the tree>".
type Exclusions struct {
	root    string
	matcher *ignore.GitIgnore
}

// NewExclusions compiles gitignore lines for the tree named root
func NewExclusions(root string, lines ...string) *Exclusions {
	return &Exclusions{root: root, matcher: ignore.CompileIgnoreLines(lines...)}
}

// MatchesPath reports whether path is ignored
func (e *Exclusions) MatchesPath(path string) bool {
	path = filepath.ToSlash(path)
	path = strings.TrimPrefix(path, e.root+"/")
	return e.matcher.MatchesPath(path)
}

// LoadExclusions reads <sourceDir>/.gitignore.
// It returns the patterns to pass to ctags as --exclude flags and a matcher
// for filtering during ingestion. A missing .gitignore yields nothing.
func LoadExclusions(sourceDir string) ([]string, *Exclusions, error) {
	path := filepath.Join(sourceDir, ".gitignore")
	file, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read .gitignore: %w", err)
	}
	defer func() { _ = file.Close() }()

	var lines, patterns []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		lines = append(lines, line)
		if pattern, ok := excludePattern(line); ok {
			patterns = append(patterns, pattern)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to read .gitignore: %w", err)
	}

	return patterns, NewExclusions(filepath.Base(sourceDir), lines...), nil
}

// excludePattern converts a .gitignore line into a ctags --exclude value.
// Comments, blanks and negations have no ctags equivalent and are dropped.
func excludePattern(line string) (string, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
		return "", false
	}
	line = strings.Trim(line, "/")
	if line == "" {
		return "", false
	}
	return line, true
}
