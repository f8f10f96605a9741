package images

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var (
	ErrEmptySource = errors.New("image source is empty")
	ErrTooLarge    = errors.New("image exceeds size limit")
)

// Options controls how image sources are materialized
type Options struct {
	AllowURLs    bool
	FetchTimeout time.Duration
	MaxBytes     int64
	HTTPClient   *http.Client
}

// Materializer writes job images to disk
type Materializer struct {
	opts   Options
	client *http.Client
}

func NewMaterializer(opts Options) *Materializer {
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.FetchTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Materializer{opts: opts, client: client}
}

// IsURL reports whether source should be fetched rather than decoded
func IsURL(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}

// Decode decodes a base64 image, discarding a data-URI header if present
func Decode(source string) ([]byte, error) {
	if i := strings.IndexByte(source, ','); i >= 0 {
		source = source[i+1:]
	}
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, ErrEmptySource
	}

	data, err := base64.StdEncoding.DecodeString(source)
	if err != nil {
		// Some clients strip padding
		if raw, rawErr := base64.RawStdEncoding.DecodeString(strings.TrimRight(source, "=")); rawErr == nil {
			return raw, nil
		}
		return nil, fmt.Errorf("failed to decode base64 image: %w", err)
	}
	return data, nil
}

// Save materializes source at path and returns the number of bytes written.
// The parent directory is created if missing.
func (m *Materializer) Save(ctx context.Context, source, path string) (int64, error) {
	var data []byte
	var err error
	if m.opts.AllowURLs && IsURL(source) {
		data, err = m.fetch(ctx, source)
	} else {
		data, err = Decode(source)
	}
	if err != nil {
		return 0, err
	}
	if m.opts.MaxBytes > 0 && int64(len(data)) > m.opts.MaxBytes {
		return 0, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(data))
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("failed to create input directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return 0, fmt.Errorf("failed to write image: %w", err)
	}
	return int64(len(data)), nil
}

func (m *Materializer) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download failed with status: %d", resp.StatusCode)
	}

	var body io.Reader = resp.Body
	if m.opts.MaxBytes > 0 {
		// One extra byte distinguishes "exactly at the limit" from "over it"
		body = io.LimitReader(resp.Body, m.opts.MaxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	return data, nil
}
