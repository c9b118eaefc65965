// Package testutil holds helpers shared by package tests: repository paths,
// synthetic prescription images and canned provider payloads.
package testutil

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

// RepoFile returns the absolute path of rel inside the repository and fails
// the test when it does not exist. The repository root is the nearest
// directory above this file that holds a go.mod.
func RepoFile(t testing.TB, rel string) string {
	t.Helper()
	_, self, _, ok := runtime.Caller(0)
	require.True(t, ok, "no caller information")

	root := filepath.Dir(self)
	for {
		if _, err := os.Stat(filepath.Join(root, "go.mod")); err == nil {
			break
		}
		parent := filepath.Dir(root)
		require.NotEqual(t, root, parent, "no go.mod above %s", self)
		root = parent
	}

	path := filepath.Join(root, filepath.FromSlash(rel))
	_, err := os.Stat(path)
	require.NoError(t, err, "repository file %s", rel)
	return path
}

// WriteFile writes data below dir, creating parent directories, and returns
// the full path.
func WriteFile(t testing.TB, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}
