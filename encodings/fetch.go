package encodings

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/tokenkit/tokenkit/api"
	"github.com/tokenkit/tokenkit/format"
)

// progressWriter counts bytes written and reports them at most every
// interval.
type progressWriter struct {
	name      string
	total     int64
	completed int64
	reported  time.Time
	fn        func(api.ProgressResponse)
}

func (w *progressWriter) Write(p []byte) (int, error) {
	w.completed += int64(len(p))
	if time.Since(w.reported) > 100*time.Millisecond {
		w.report()
	}

	return len(p), nil
}

func (w *progressWriter) report() {
	w.reported = time.Now()
	w.fn(api.ProgressResponse{
		Status:    "pulling " + w.name,
		Digest:    w.name,
		Total:     w.total,
		Completed: w.completed,
	})
}

type progressKey struct{}

// WithProgress returns a context whose rank file downloads report progress
// to fn instead of the registry's OnProgress.
func WithProgress(ctx context.Context, fn func(api.ProgressResponse)) context.Context {
	return context.WithValue(ctx, progressKey{}, fn)
}

func (r *Registry) progressFunc(ctx context.Context) func(api.ProgressResponse) {
	if fn, ok := ctx.Value(progressKey{}).(func(api.ProgressResponse)); ok && fn != nil {
		return fn
	}

	return r.OnProgress
}

// rankFile returns a local path holding the verified rank file for def,
// downloading it into the cache when needed.
func (r *Registry) rankFile(ctx context.Context, def Definition) (string, error) {
	u, err := url.Parse(def.URL)
	if err != nil {
		return "", fmt.Errorf("%s: parse url: %w", def.Name, err)
	}

	if u.Scheme == "file" || u.Scheme == "" {
		path := u.Path
		if u.Scheme == "" {
			path = def.URL
		}

		if err := verifyFile(path, def.SHA256); err != nil {
			return "", fmt.Errorf("%s: %w", def.Name, err)
		}

		return path, nil
	}

	sum := sha256.Sum256([]byte(def.URL))
	path := filepath.Join(r.CacheDir, hex.EncodeToString(sum[:]))

	switch err := verifyFile(path, def.SHA256); {
	case err == nil:
		slog.Debug("using cached rank file", "encoding", def.Name, "path", path)
		return path, nil
	case errors.Is(err, ErrChecksumMismatch):
		slog.Warn("cached rank file is corrupt, removing", "encoding", def.Name, "path", path, "error", err)
		if err := os.Remove(path); err != nil {
			return "", err
		}
	case !errors.Is(err, os.ErrNotExist):
		return "", err
	}

	if r.Offline {
		return "", fmt.Errorf("%s: %w: %s", def.Name, ErrNotCached, def.URL)
	}

	if err := r.download(ctx, def, path); err != nil {
		return "", fmt.Errorf("%s: %w", def.Name, err)
	}

	return path, nil
}

func (r *Registry) download(ctx context.Context, def Definition, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, def.URL, nil)
	if err != nil {
		return err
	}

	slog.Info("downloading rank file", "encoding", def.Name, "url", def.URL)
	started := time.Now()

	resp, err := r.client().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download %s: %s", def.URL, resp.Status)
	}

	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+"-partial-*")
	if err != nil {
		return err
	}
	defer os.Remove(f.Name())

	h := sha256.New()
	w := io.MultiWriter(f, h)

	var pw *progressWriter
	if fn := r.progressFunc(ctx); fn != nil {
		pw = &progressWriter{name: def.Name, total: resp.ContentLength, fn: fn}
		w = io.MultiWriter(w, pw)
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		_ = f.Close()
		return err
	}

	if err := f.Close(); err != nil {
		return err
	}

	if pw != nil {
		pw.report()
	}

	if got := hex.EncodeToString(h.Sum(nil)); def.SHA256 != "" && got != def.SHA256 {
		return fmt.Errorf("%w: want %s, got %s", ErrChecksumMismatch, def.SHA256, got)
	}

	if err := os.Chmod(f.Name(), 0o644); err != nil {
		return err
	}

	if err := os.Rename(f.Name(), path); err != nil {
		return err
	}

	slog.Info("downloaded rank file", "encoding", def.Name, "size", format.HumanBytes(n), "elapsed", time.Since(started).Round(time.Millisecond))
	return nil
}

// verifyFile checks that path exists and, when want is set, that its
// sha256 matches.
func verifyFile(path, want string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if want == "" {
		return nil
	}

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return err
	}

	if got := hex.EncodeToString(h.Sum(nil)); got != want {
		return fmt.Errorf("%w: want %s, got %s", ErrChecksumMismatch, want, got)
	}

	return nil
}
