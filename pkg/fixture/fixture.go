// Package fixture discovers analyzer test fixtures in a corpus tree and parses
// their embedded expectations.
//
// A fixture is a source file whose first bytes are exactly Prefix, followed by
// a TOML block and a closing fence line:
//
//	/*!
//	```rudra-test
//	test_type = "normal"
//	expected_analyzers = ["UnsafeDataflow"]
//	```
//	!*/
//
// Everything after the fence is payload handed to the analyzer unmodified.
package fixture

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
)

const (
	// Prefix is the sentinel that marks a file as a fixture.
	Prefix = "/*!\n```rudra-test\n"

	closingFence = "```"
)

// Fixture is a corpus file carrying the sentinel prefix.
type Fixture struct {
	// Path is the file path, rooted at the loader's corpus root.
	Path string

	// err records an I/O failure hit while classifying the file.
	err error
}

// Metadata reads and parses the fixture's embedded block.
// Failures are returned as *MetadataError.
func (f *Fixture) Metadata() (*Metadata, error) {
	if f.err != nil {
		return nil, &MetadataError{Path: f.Path, Err: f.err}
	}

	file, err := os.Open(f.Path)
	if err != nil {
		return nil, &MetadataError{Path: f.Path, Err: err}
	}
	defer file.Close()

	md, err := ParseMetadata(file)
	if err != nil {
		return nil, &MetadataError{Path: f.Path, Err: err}
	}
	return md, nil
}

func (f *Fixture) String() string {
	return f.Path
}

// LoaderOptions configures fixture discovery.
type LoaderOptions struct {
	// Include restricts discovery to files whose slash-separated path
	// relative to the root matches one of these doublestar patterns.
	// Empty means every file is a candidate.
	Include []string
}

// Loader walks a corpus root for fixtures.
type Loader struct {
	root string
	opts LoaderOptions
}

// NewLoader validates the corpus root and include patterns.
func NewLoader(root string, opts LoaderOptions) (*Loader, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("corpus root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("corpus root %s is not a directory", root)
	}
	for _, pattern := range opts.Include {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid include pattern %q", pattern)
		}
	}
	return &Loader{root: root, opts: opts}, nil
}

// Root returns the corpus root.
func (l *Loader) Root() string {
	return l.root
}

// Fixtures walks the corpus root and yields every fixture it finds.
// Each call performs a fresh walk, so the sequence can be iterated again.
// Files without the sentinel prefix are skipped silently; files that cannot
// be read are yielded so the failure is reported against them.
func (l *Loader) Fixtures() iter.Seq[*Fixture] {
	return func(yield func(*Fixture) bool) {
		stop := errors.New("stop")
		err := filepath.WalkDir(l.root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if path == l.root {
					return err
				}
				slog.Warn("skipping unreadable corpus entry", "path", path, "err", err)
				if d != nil && d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if !isFile(path, d) || !l.included(path) {
				return nil
			}

			ok, err := HasPrefix(path)
			if !ok && err == nil {
				return nil
			}
			if !yield(&Fixture{Path: path, err: err}) {
				return stop
			}
			return nil
		})
		if err != nil && !errors.Is(err, stop) {
			slog.Error("corpus walk failed", "root", l.root, "err", err)
		}
	}
}

// isFile reports whether the entry is a regular file, following symlinks.
// Symlinked directories are not descended into.
func isFile(path string, d fs.DirEntry) bool {
	if d.Type()&fs.ModeSymlink == 0 {
		return d.Type().IsRegular()
	}
	info, err := os.Stat(path)
	if err != nil {
		slog.Warn("skipping dangling symlink", "path", path, "err", err)
		return false
	}
	return info.Mode().IsRegular()
}

func (l *Loader) included(path string) bool {
	if len(l.opts.Include) == 0 {
		return true
	}
	rel, err := filepath.Rel(l.root, path)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	for _, pattern := range l.opts.Include {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

// HasPrefix reports whether the file at path starts with the sentinel prefix.
func HasPrefix(path string) (bool, error) {
	file, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer file.Close()

	buf := make([]byte, len(Prefix))
	if _, err := io.ReadFull(file, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return false, nil
		}
		return false, err
	}
	return bytes.Equal(buf, []byte(Prefix)), nil
}
