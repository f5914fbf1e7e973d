package campaign

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// Fetcher downloads a package version and unpacks it below dest, returning
// the package root.
type Fetcher interface {
	Fetch(ctx context.Context, name, version, dest string) (string, error)
}

// HTTPFetcher downloads .crate archives (gzipped tarballs) from a static
// registry laid out as <RegistryURL>/<name>/<name>-<version>.crate.
type HTTPFetcher struct {
	RegistryURL string

	// Client defaults to http.DefaultClient.
	Client *http.Client
}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, name, version, dest string) (string, error) {
	url := fmt.Sprintf("%s/%s/%s-%s.crate", strings.TrimRight(f.RegistryURL, "/"), name, name, version)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}

	slog.Info("downloading package", "url", url)
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download %s: unexpected status %s", url, resp.Status)
	}

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return "", err
	}
	root, err := unpack(resp.Body, dest)
	if err != nil {
		return "", fmt.Errorf("unpack %s: %w", url, err)
	}
	return root, nil
}

// unpack extracts a gzipped tarball into dest and returns the directory named
// by the first entry's leading path component.
func unpack(r io.Reader, dest string) (string, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return "", err
	}
	defer gz.Close()

	root := ""
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}

		name := filepath.FromSlash(strings.TrimPrefix(hdr.Name, "./"))
		if !filepath.IsLocal(name) {
			return "", fmt.Errorf("archive entry %q escapes the destination", hdr.Name)
		}
		if root == "" {
			root, _, _ = strings.Cut(filepath.ToSlash(name), "/")
		}

		target := filepath.Join(dest, name)
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return "", err
			}
		case tar.TypeReg:
			if err := writeEntry(target, tr, hdr.FileInfo().Mode().Perm()); err != nil {
				return "", err
			}
		default:
			slog.Debug("skipping archive entry", "name", hdr.Name, "type", hdr.Typeflag)
		}
	}
	if root == "" {
		return "", errors.New("empty archive")
	}
	return filepath.Join(dest, root), nil
}

func writeEntry(path string, r io.Reader, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm|0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
