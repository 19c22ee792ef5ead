// Package models resolves detector model references. A reference is either a
// local file or an http(s) URL that is downloaded once into a models
// directory and reused afterwards.
package models

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
)

// Fetcher downloads remote models into Dir
type Fetcher struct {
	mu     sync.Mutex
	Dir    string
	Client *http.Client
	logger *slog.Logger
}

// NewFetcher creates a fetcher storing models in dir
func NewFetcher(dir string) *Fetcher {
	return &Fetcher{
		Dir:    dir,
		Client: &http.Client{},
		logger: slog.Default().With("component", "model_fetcher"),
	}
}

// IsRemote reports whether ref is an http(s) URL
func IsRemote(ref string) bool {
	return strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://")
}

// LocalPath returns where a remote reference is stored
func (f *Fetcher) LocalPath(ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("invalid model URL: %w", err)
	}
	name := path.Base(u.Path)
	if name == "" || name == "/" || name == "." {
		return "", fmt.Errorf("model URL has no file name: %s", ref)
	}
	return filepath.Join(f.Dir, name), nil
}

// Resolve returns a local path for ref, downloading it first when it is a
// URL that has not been fetched yet
func (f *Fetcher) Resolve(ctx context.Context, ref string) (string, error) {
	if ref == "" {
		return "", fmt.Errorf("model reference is empty")
	}
	if !IsRemote(ref) {
		if _, err := os.Stat(ref); err != nil {
			return "", fmt.Errorf("model file not found: %s", ref)
		}
		return ref, nil
	}

	dest, err := f.LocalPath(ref)
	if err != nil {
		return "", err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, err := os.Stat(dest); err == nil {
		f.logger.Info("Model already downloaded", "path", dest)
		return dest, nil
	}
	if err := os.MkdirAll(f.Dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create models directory: %w", err)
	}

	f.logger.Info("Starting model download", "url", ref)
	if err := f.download(ctx, ref, dest); err != nil {
		f.logger.Error("Model download failed", "url", ref, "error", err)
		return "", err
	}
	f.logger.Info("Model download completed", "path", dest)
	return dest, nil
}

// download streams ref into dest through a temp file
func (f *Fetcher) download(ctx context.Context, ref, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed with status: %d", resp.StatusCode)
	}

	tmpPath := dest + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	written, err := io.Copy(file, &progressReader{
		r:      resp.Body,
		total:  resp.ContentLength,
		logger: f.logger,
	})
	closeErr := file.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("download error: %w", err)
	}
	if resp.ContentLength > 0 && written != resp.ContentLength {
		os.Remove(tmpPath)
		return fmt.Errorf("short download: got %d of %d bytes", written, resp.ContentLength)
	}

	if err := os.Rename(tmpPath, dest); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to finalize: %w", err)
	}
	return nil
}

// progressReader logs every 25% of a download with a known size
type progressReader struct {
	r      io.Reader
	total  int64
	done   int64
	logged int64
	logger *slog.Logger
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.done += int64(n)
	if p.total > 0 {
		pct := p.done * 100 / p.total
		if pct/25 > p.logged/25 {
			p.logged = pct
			p.logger.Debug("Model download progress", "progress", pct, "bytes", p.done)
		}
	}
	return n, err
}
