package ingest

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/redis/go-redis/v9"

	"property-sync/utils"
)

const (
	maxBodyBytes     = 32 << 20
	defaultUserAgent = "property-sync/1.0"
)

// ErrBodyTooLarge is returned when a downloaded dataset exceeds the size limit.
var ErrBodyTooLarge = errors.New("response body exceeds size limit")

// Source yields the raw dataset text.
type Source interface {
	Name() string
	Fetch(ctx context.Context) (string, error)
}

// Mirror receives a copy of every dataset text that was synced successfully.
type Mirror interface {
	Name() string
	Store(ctx context.Context, text string) error
}

// HTTPError carries status and body for non-2xx responses.
type HTTPError struct {
	Method     string
	URL        string
	StatusCode int
	Body       []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http error: %s %s status=%d body=%s", e.Method, e.URL, e.StatusCode, snippet(e.Body, 200))
}

// Temporary reports whether the request is worth repeating.
func (e *HTTPError) Temporary() bool {
	switch e.StatusCode {
	case http.StatusTooManyRequests, http.StatusRequestTimeout, http.StatusTooEarly:
		return true
	}
	return e.StatusCode >= 500
}

func snippet(b []byte, max int) string {
	s := strings.TrimSpace(string(b))
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// FileSource reads the dataset from the local filesystem.
type FileSource struct {
	Path string
}

func (s *FileSource) Name() string { return "file:" + s.Path }

func (s *FileSource) Fetch(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	b, err := os.ReadFile(s.Path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", s.Path, err)
	}
	return string(b), nil
}

// HTTPSource downloads the dataset, for example a published spreadsheet
// exported as CSV.
type HTTPSource struct {
	URL       string
	Client    *http.Client
	Retry     *utils.RetryConfig
	UserAgent string
	// MaxBodyBytes bounds the decoded body; 0 means 32 MiB.
	MaxBodyBytes int64
}

func (s *HTTPSource) Name() string { return s.URL }

func (s *HTTPSource) Fetch(ctx context.Context) (string, error) {
	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	retry := s.Retry
	if retry == nil {
		retry = &utils.RetryConfig{MaxAttempts: 1}
	}
	if retry.Retryable == nil {
		cp := *retry
		cp.Retryable = retryableHTTP
		retry = &cp
	}

	var text string
	err := retry.Do(ctx, "fetch "+s.URL, func(ctx context.Context) error {
		body, err := s.get(ctx, client)
		if err != nil {
			return err
		}
		text = body
		return nil
	})
	if err != nil {
		return "", err
	}
	return text, nil
}

func (s *HTTPSource) get(ctx context.Context, client *http.Client) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return "", utils.Permanent(err)
	}
	ua := s.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept", "text/csv, text/plain;q=0.9, */*;q=0.5")
	req.Header.Set("Accept-Encoding", "br, gzip")

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	limit := s.MaxBodyBytes
	if limit <= 0 {
		limit = maxBodyBytes
	}
	body, err := decodeBody(resp, limit)
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &HTTPError{
			Method:     req.Method,
			URL:        req.URL.String(),
			StatusCode: resp.StatusCode,
			Body:       body,
		}
	}
	return string(body), nil
}

// decodeBody reads the response, undoing brotli or gzip content encoding.
// A body longer than limit is an error rather than a truncated read.
func decodeBody(resp *http.Response, limit int64) ([]byte, error) {
	var r io.Reader = resp.Body
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "br":
		r = brotli.NewReader(resp.Body)
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		r = gz
	}
	body, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("%w (%d bytes)", ErrBodyTooLarge, limit)
	}
	return body, nil
}

func retryableHTTP(err error) bool {
	var herr *HTTPError
	if errors.As(err, &herr) {
		return herr.Temporary()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF)
}

// RedisSource reads dataset text stored under a key, typically written by a
// RedisMirror on another instance.
type RedisSource struct {
	Client *redis.Client
	Key    string
}

func (s *RedisSource) Name() string { return "redis://" + s.Key }

func (s *RedisSource) Fetch(ctx context.Context) (string, error) {
	text, err := s.Client.Get(ctx, s.Key).Result()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("redis key %q not found", s.Key)
	}
	if err != nil {
		return "", fmt.Errorf("redis get %q: %w", s.Key, err)
	}
	return text, nil
}

// RedisMirror stores synced dataset text under a key with an optional TTL.
type RedisMirror struct {
	Client *redis.Client
	Key    string
	TTL    time.Duration
}

func (m *RedisMirror) Name() string { return "redis://" + m.Key }

func (m *RedisMirror) Store(ctx context.Context, text string) error {
	if err := m.Client.Set(ctx, m.Key, text, m.TTL).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", m.Key, err)
	}
	return nil
}

// SourceDeps carries the shared clients sources may need.
type SourceDeps struct {
	HTTPClient *http.Client
	Redis      *redis.Client
	Retry      *utils.RetryConfig
	ChromeBin  string
	Logger     *utils.Logger
}

// ParseSources turns configured location strings into sources, keeping their
// order. Recognised forms:
//
//	path/to/base.csv, file:path   local file
//	http://..., https://...       HTTP download
//	redis://key                   Redis string value
//	browser+https://...           page rendered in headless Chrome
func ParseSources(specs []string, deps SourceDeps) ([]Source, error) {
	sources := make([]Source, 0, len(specs))
	for _, spec := range specs {
		spec = strings.TrimSpace(spec)
		if spec == "" {
			continue
		}

		switch {
		case strings.HasPrefix(spec, "browser+"):
			target := strings.TrimPrefix(spec, "browser+")
			if !isHTTPURL(target) {
				return nil, fmt.Errorf("source %q: browser sources need an http(s) url", spec)
			}
			sources = append(sources, &BrowserSource{
				URL:       target,
				ChromeBin: deps.ChromeBin,
				Retry:     deps.Retry,
				Logger:    deps.Logger,
			})
		case isHTTPURL(spec):
			sources = append(sources, &HTTPSource{URL: spec, Client: deps.HTTPClient, Retry: deps.Retry})
		case strings.HasPrefix(spec, "redis://"):
			if deps.Redis == nil {
				return nil, fmt.Errorf("source %q: redis is not configured", spec)
			}
			key := strings.TrimPrefix(spec, "redis://")
			if key == "" {
				return nil, fmt.Errorf("source %q: missing key", spec)
			}
			sources = append(sources, &RedisSource{Client: deps.Redis, Key: key})
		case strings.HasPrefix(spec, "file:"):
			sources = append(sources, &FileSource{Path: strings.TrimPrefix(strings.TrimPrefix(spec, "file:"), "//")})
		default:
			sources = append(sources, &FileSource{Path: spec})
		}
	}

	if len(sources) == 0 {
		return nil, errors.New("no dataset sources configured")
	}
	return sources, nil
}

func isHTTPURL(s string) bool {
	lower := strings.ToLower(s)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}
