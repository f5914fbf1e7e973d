// Package testutil builds on-disk corpora for tests from txtar archives.
package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/tools/txtar"
)

// WriteArchive unpacks a txtar archive into a fresh temporary directory and
// returns its path.
func WriteArchive(t *testing.T, archive *txtar.Archive) string {
	t.Helper()
	dir := t.TempDir()
	for _, f := range archive.Files {
		path := filepath.Join(dir, filepath.FromSlash(f.Name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, f.Data, 0o644))
	}
	return dir
}

// LoadArchive parses the txtar file at path and unpacks it like WriteArchive.
func LoadArchive(t *testing.T, path string) string {
	t.Helper()
	archive, err := txtar.ParseFile(path)
	require.NoError(t, err)
	return WriteArchive(t, archive)
}

// Corpus unpacks an inline txtar document.
func Corpus(t *testing.T, src string) string {
	t.Helper()
	return WriteArchive(t, txtar.Parse([]byte(src)))
}

// Fixture renders a fixture file with the given metadata and payload.
// Payload lines of the form "//! report KIND LOCATION" are understood by the
// fake analyzer in package invoke's tests.
func Fixture(testType string, expected []string, payload string) string {
	quoted := make([]string, len(expected))
	for i, e := range expected {
		quoted[i] = fmt.Sprintf("%q", e)
	}
	return fmt.Sprintf("/*!\n```rudra-test\ntest_type = %q\nexpected_analyzers = [%s]\n```\n!*/\n\n%s",
		testType, strings.Join(quoted, ", "), payload)
}
