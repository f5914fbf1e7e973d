package main

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rudra-tools/rudratest/internal/testutil"
)

func TestMain(m *testing.M) {
	testutil.RunFakeAnalyzerIfRequested()
	os.Exit(m.Run())
}

// writeConfig points both runs at the fake analyzer.
func writeConfig(t *testing.T, extra string) string {
	t.Helper()
	command, env := testutil.FakeAnalyzerArgs()
	key, value, _ := strings.Cut(env[0], "=")
	path := filepath.Join(t.TempDir(), "rudratest.yaml")
	cfg := fmt.Sprintf(`analyzer:
  command: %q
  env:
    %s: %q
  temp_dir: %q
remote:
  command: %q
%s`, command, key, value, t.TempDir(), command, extra)
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(t.Context(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRunLocalTests(t *testing.T) {
	passing := fmt.Sprintf("-- a/ok.rs --\n%s-- a/fp.rs --\n%s-- b/none.rs --\n%s-- b/plain.rs --\nfn main() {}\n",
		testutil.Fixture("normal", []string{"UnsafeDataflow"}, "//! report UnsafeDataflow a/ok.rs:1:1\n"),
		testutil.Fixture("fp", []string{"SendSyncVariance"}, "//! report SendSyncVariance a/fp.rs:2:1\n"),
		testutil.Fixture("normal", nil, "fn f() {}\n"),
	)

	t.Run("all_pass", func(t *testing.T) {
		corpus := testutil.Corpus(t, passing)
		code, stdout, stderr := execute(t, "--config", writeConfig(t, ""), "run-local-tests", "--corpus-dir", corpus, "--workers", "2")
		require.Equal(t, 0, code, stderr)
		require.Contains(t, stdout, "SUCCESS         "+filepath.Join(corpus, "a", "ok.rs"))
		require.Contains(t, stdout, "FALSE-POSITIVE  "+filepath.Join(corpus, "a", "fp.rs"))
		require.True(t, strings.HasSuffix(stdout, "False-positives: 1/1\nNormal: 2/2\n"), stdout)
		require.NotContains(t, stdout, "plain.rs")
	})

	t.Run("include_filter", func(t *testing.T) {
		corpus := testutil.Corpus(t, passing)
		code, stdout, _ := execute(t, "--config", writeConfig(t, ""), "run-local-tests", "--corpus-dir", corpus, "--include", "b/**")
		require.Equal(t, 0, code)
		require.True(t, strings.HasSuffix(stdout, "False-positives: 0/0\nNormal: 1/1\n"), stdout)
	})

	t.Run("mismatch_fails", func(t *testing.T) {
		corpus := testutil.Corpus(t, passing+"-- c/regressed.rs --\n"+
			testutil.Fixture("normal", nil, "//! report UnsafeDataflow c/regressed.rs:3:1\n"))
		code, stdout, _ := execute(t, "--config", writeConfig(t, ""), "run-local-tests", "--corpus-dir", corpus)
		require.Equal(t, exitTestsFailed, code)
		require.Contains(t, stdout, "FAIL            "+filepath.Join(corpus, "c", "regressed.rs"))
		require.Contains(t, stdout, `unexpected ["UnsafeDataflow"]`)
		require.Contains(t, stdout, "Normal: 2/3\n")
	})

	t.Run("corpus_from_config", func(t *testing.T) {
		corpus := testutil.Corpus(t, passing)
		cfg := writeConfig(t, fmt.Sprintf("local:\n  corpus_dir: %q\n  workers: 3\n", corpus))
		code, stdout, _ := execute(t, "--config", cfg, "run-local-tests")
		require.Equal(t, 0, code)
		require.Contains(t, stdout, "Normal: 2/2\n")
	})

	t.Run("missing_corpus_is_setup_failure", func(t *testing.T) {
		code, stdout, stderr := execute(t, "--config", writeConfig(t, ""), "run-local-tests",
			"--corpus-dir", filepath.Join(t.TempDir(), "missing"))
		require.Equal(t, exitError, code)
		require.Empty(t, stdout)
		require.Contains(t, stderr, "corpus root")
	})

	t.Run("invalid_workers", func(t *testing.T) {
		code, _, stderr := execute(t, "--config", writeConfig(t, ""), "run-local-tests",
			"--corpus-dir", t.TempDir(), "--workers", "0")
		require.Equal(t, exitError, code)
		require.Contains(t, stderr, "local.workers")
	})

	t.Run("missing_explicit_config", func(t *testing.T) {
		code, _, stderr := execute(t, "--config", filepath.Join(t.TempDir(), "nope.yaml"), "run-local-tests")
		require.Equal(t, exitError, code)
		require.Contains(t, stderr, "read config")
	})
}

func crateArchive(t *testing.T, name, version, lib string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	root := name + "-" + version + "/"
	for path, content := range map[string]string{
		root + "Cargo.toml": fmt.Sprintf("[package]\nname = %q\nversion = %q\n", name, version),
		root + "src/lib.rs": lib,
	} {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: path, Mode: 0o644, Size: int64(len(content)), Typeflag: tar.TypeReg}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func TestRunRemoteTests(t *testing.T) {
	archive := crateArchive(t, "smallvec", "0.6.9", "//! report UnsafeDataflow src/lib.rs:1012:5: 1019:6\n")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/smallvec/smallvec-0.6.9.crate" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(archive)
	}))
	defer srv.Close()

	writeDescriptor := func(t *testing.T, location string) string {
		path := filepath.Join(t.TempDir(), "end_to_end_test.toml")
		require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf(`[[crates]]
name = "smallvec"
version = "0.6.9"
expected_reports = [["UnsafeDataflow", %q]]
`, location)), 0o644))
		return path
	}

	t.Run("success", func(t *testing.T) {
		code, stdout, stderr := execute(t, "--config", writeConfig(t, ""), "run-remote-tests",
			"--descriptor", writeDescriptor(t, "src/lib.rs:1012:5: 1019:6"), "--registry-url", srv.URL)
		require.Equal(t, 0, code, stderr)
		require.Equal(t, "SUCCESS\n", stdout)
	})

	t.Run("missing_report", func(t *testing.T) {
		code, stdout, _ := execute(t, "--config", writeConfig(t, ""), "run-remote-tests",
			"--descriptor", writeDescriptor(t, "src/lib.rs:1:1: 1:2"), "--registry-url", srv.URL,
			"--work-dir", t.TempDir())
		require.Equal(t, exitTestsFailed, code)
		require.Equal(t, "MISSING REPORTS\n(\"smallvec\", \"UnsafeDataflow\", \"src/lib.rs:1:1: 1:2\")\n", stdout)
	})

	t.Run("malformed_descriptor", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.toml")
		require.NoError(t, os.WriteFile(path, []byte("[[crates]]\nname = \"x\"\nversion = \"one\"\n"), 0o644))
		code, stdout, stderr := execute(t, "--config", writeConfig(t, ""), "run-remote-tests", "--descriptor", path)
		require.Equal(t, exitError, code)
		require.Empty(t, stdout)
		require.Contains(t, stderr, "invalid version")
	})
}
