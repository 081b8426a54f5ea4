package ctags

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dshills/apilookup-mcp/internal/ctags/ctagstest"
)

const fixture = `{"_type": "tag", "name": "sqrt", "path": "/src/math/sqrt.c", "line": 1, "kind": "function"}
`

func TestArgs(t *testing.T) {
	args := Args("apis/math.ctags", "/src/math", []string{"venv", "build"})
	assert.Equal(t, []string{
		"--output-format=json",
		"--fields=+Sf",
		"--kinds-C=+p",
		"-R",
		"-f", "apis/math.ctags",
		"--exclude=venv",
		"--exclude=build",
		"/src/math",
	}, args)
}

func TestGenerate(t *testing.T) {
	src := filepath.Join(t.TempDir(), "math")
	require.NoError(t, os.Mkdir(src, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, ".gitignore"), []byte("# deps\nvenv/\n!keep\n/build/\n\n"), 0o644))
	out := t.TempDir()

	bin := ctagstest.FakeBinary(t, fixture)
	r := NewRunner(bin, zaptest.NewLogger(t))

	result, err := r.Generate(context.Background(), src, out)
	require.NoError(t, err)
	assert.Equal(t, "math", result.Artifact)
	assert.Equal(t, filepath.Join(out, "math.ctags"), result.OutputFile)
	assert.Equal(t, []string{"venv", "build"}, result.Excludes)
	require.NotNil(t, result.Exclusions)

	data, err := os.ReadFile(result.OutputFile)
	require.NoError(t, err)
	assert.Equal(t, fixture, string(data))

	args := ctagstest.RecordedArgs(t, bin)
	assert.Contains(t, args, "--exclude=venv")
	assert.Equal(t, src, args[len(args)-1])
}

func TestGenerate_InvalidSource(t *testing.T) {
	r := NewRunner(ctagstest.FakeBinary(t, fixture), nil)
	dir := t.TempDir()

	_, err := r.Generate(context.Background(), filepath.Join(dir, "missing"), dir)
	assert.ErrorIs(t, err, ErrInvalidSource)

	file := filepath.Join(dir, "file.c")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	_, err = r.Generate(context.Background(), file, dir)
	assert.ErrorIs(t, err, ErrInvalidSource)
}

func TestGenerate_ToolNotFound(t *testing.T) {
	src := t.TempDir()

	r := NewRunner(filepath.Join(t.TempDir(), "no-such-ctags"), nil)
	_, err := r.Generate(context.Background(), src, t.TempDir())
	assert.ErrorIs(t, err, ErrToolNotFound)

	r = NewRunner("definitely-not-a-real-ctags-binary", nil)
	_, err = r.Generate(context.Background(), src, t.TempDir())
	assert.ErrorIs(t, err, ErrToolNotFound)
}

func TestGenerate_NonZeroExit(t *testing.T) {
	r := NewRunner(ctagstest.FailingBinary(t, 2, "ctags: Warning: cannot open input file"), nil)

	_, err := r.Generate(context.Background(), t.TempDir(), t.TempDir())
	require.Error(t, err)

	var invErr *InvocationError
	require.True(t, errors.As(err, &invErr))
	assert.Equal(t, 2, invErr.ExitCode)
	assert.Contains(t, invErr.Stderr, "cannot open input file")
	assert.Contains(t, invErr.Error(), "exit 2")
}

func TestLoadExclusions(t *testing.T) {
	src := filepath.Join(t.TempDir(), "proj")
	require.NoError(t, os.Mkdir(src, 0o755))

	patterns, excl, err := LoadExclusions(src)
	require.NoError(t, err)
	assert.Nil(t, patterns)
	assert.Nil(t, excl)

	require.NoError(t, os.WriteFile(filepath.Join(src, ".gitignore"), []byte("venv/\n/build\n*.pyc\n"), 0o644))
	patterns, excl, err = LoadExclusions(src)
	require.NoError(t, err)
	assert.Equal(t, []string{"venv", "build", "*.pyc"}, patterns)

	tests := []struct {
		path string
		want bool
	}{
		{path: "proj/venv/lib/site.py", want: true},
		{path: "proj/build/out.c", want: true},
		{path: "proj/src/build/out.c", want: false},
		{path: "proj/pkg/mod.pyc", want: true},
		{path: "proj/app.py", want: false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, excl.MatchesPath(tt.path), tt.path)
	}
}

func TestExcludePattern(t *testing.T) {
	tests := []struct {
		line string
		want string
		ok   bool
	}{
		{line: "venv/", want: "venv", ok: true},
		{line: "  /build/ ", want: "build", ok: true},
		{line: "*.o", want: "*.o", ok: true},
		{line: "# comment", ok: false},
		{line: "!important.c", ok: false},
		{line: "", ok: false},
		{line: "/", ok: false},
	}
	for _, tt := range tests {
		got, ok := excludePattern(tt.line)
		assert.Equal(t, tt.ok, ok, tt.line)
		assert.Equal(t, tt.want, got, tt.line)
	}
}
