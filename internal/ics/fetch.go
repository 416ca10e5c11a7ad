package ics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	appLog "eventdesk/internal/log"
)

var (
	ErrEmptyLocation = errors.New("ics: empty location")
	ErrNoCachedCopy  = errors.New("ics: not modified but no cached copy")
)

// Payload is a loaded calendar.
type Payload struct {
	Location string
	Body     []byte
	// FromCache is set when a remote calendar was served from disk.
	FromCache bool
}

type cacheMeta struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Fetcher loads calendars from local files or http(s) URLs. Remote bodies
// are kept under cacheDir with their validators; the cached copy answers a
// 304 and stands in when the origin fails.
type Fetcher struct {
	client   *http.Client
	cacheDir string
}

// NewFetcher creates a fetcher. An empty cacheDir disables the disk cache.
func NewFetcher(cacheDir string, timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Fetcher{
		client:   &http.Client{Timeout: timeout},
		cacheDir: cacheDir,
	}
}

// Fetch loads location, a file path or an http(s) URL.
func (f *Fetcher) Fetch(ctx context.Context, location string) (Payload, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return Payload{}, ErrEmptyLocation
	}
	if !isRemote(location) {
		body, err := os.ReadFile(location)
		if err != nil {
			return Payload{}, fmt.Errorf("read calendar: %w", err)
		}
		return Payload{Location: location, Body: body}, nil
	}
	return f.fetchRemote(ctx, location)
}

func (f *Fetcher) fetchRemote(ctx context.Context, rawURL string) (Payload, error) {
	dir := f.cachePath(rawURL)
	meta, cached := f.readCache(dir)
	fallback := func(cause error) (Payload, error) {
		if len(cached) == 0 {
			return Payload{}, cause
		}
		appLog.Warn("ics origin failed, serving cached copy", "url", redactURL(rawURL), "err", cause)
		return Payload{Location: rawURL, Body: cached, FromCache: true}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Payload{}, fmt.Errorf("build calendar request: %w", err)
	}
	if len(cached) > 0 {
		if meta.ETag != "" {
			req.Header.Set("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", meta.LastModified)
		}
	}

	appLog.Info("ics fetch start", "url", redactURL(rawURL))
	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Payload{}, fmt.Errorf("fetch calendar: %w", ctx.Err())
		}
		return fallback(fmt.Errorf("fetch calendar: %w", err))
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fallback(fmt.Errorf("read calendar body: %w", err))
		}
		if dir != "" {
			next := cacheMeta{
				URL:          rawURL,
				ETag:         resp.Header.Get("ETag"),
				LastModified: resp.Header.Get("Last-Modified"),
				UpdatedAt:    time.Now().UTC(),
			}
			if err := writeCache(dir, next, body); err != nil {
				appLog.Error("ics cache save failed", err, "url", redactURL(rawURL))
			}
		}
		appLog.Info("ics fetch success", "url", redactURL(rawURL), "bytes", len(body))
		return Payload{Location: rawURL, Body: body}, nil

	case http.StatusNotModified:
		if len(cached) == 0 {
			return Payload{}, ErrNoCachedCopy
		}
		appLog.Info("ics not modified", "url", redactURL(rawURL))
		return Payload{Location: rawURL, Body: cached, FromCache: true}, nil

	default:
		return fallback(fmt.Errorf("fetch calendar: unexpected status %s", resp.Status))
	}
}

func (f *Fetcher) cachePath(rawURL string) string {
	if f.cacheDir == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(rawURL))
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8]))
}

func (f *Fetcher) readCache(dir string) (cacheMeta, []byte) {
	var meta cacheMeta
	if dir == "" {
		return meta, nil
	}
	body, err := os.ReadFile(filepath.Join(dir, "body.ics"))
	if err != nil {
		return meta, nil
	}
	if data, err := os.ReadFile(filepath.Join(dir, "meta.json")); err == nil {
		_ = json.Unmarshal(data, &meta)
	}
	return meta, body
}

// writeCache stores the body before the metadata so that validators never
// describe a missing body.
func writeCache(dir string, meta cacheMeta, body []byte) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	if err := writeFileAtomic(filepath.Join(dir, "body.ics"), body); err != nil {
		return err
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(dir, "meta.json"), data)
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func isRemote(location string) bool {
	lower := strings.ToLower(location)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// redactURL keeps scheme and host only; calendar URLs often carry secrets.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "ics://...(redacted)"
	}
	return u.Scheme + "://" + u.Host + "/...(redacted)"
}
