// Package ctagstest provides stand-in ctags binaries for tests.
package ctagstest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// FakeBinary writes an executable that copies fixture to the file named by
// its -f argument and records its arguments in <dir>/args.txt.
// It returns the binary path.
func FakeBinary(t testing.TB, fixture string) string {
	t.Helper()
	dir := t.TempDir()

	fixturePath := filepath.Join(dir, "fixture.json")
	if err := os.WriteFile(fixturePath, []byte(fixture), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	script := fmt.Sprintf(`#!/bin/sh
printf '%%s\n' "$@" > %q
out=""
prev=""
for a in "$@"; do
  if [ "$prev" = "-f" ]; then out="$a"; fi
  prev="$a"
done
cat %q > "$out"
`, filepath.Join(dir, "args.txt"), fixturePath)

	return writeScript(t, dir, script)
}

// FailingBinary writes an executable that prints stderr and exits with code
func FailingBinary(t testing.TB, code int, stderr string) string {
	t.Helper()
	dir := t.TempDir()
	script := fmt.Sprintf("#!/bin/sh\necho %q >&2\nexit %d\n", stderr, code)
	return writeScript(t, dir, script)
}

// RecordedArgs returns the arguments of the last FakeBinary invocation
func RecordedArgs(t testing.TB, binary string) []string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(filepath.Dir(binary), "args.txt"))
	if err != nil {
		t.Fatalf("read args: %v", err)
	}
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

func writeScript(t testing.TB, dir, script string) string {
	t.Helper()
	path := filepath.Join(dir, "ctags")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}
