package ingest

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"property-sync/utils"
)

func fastRetry(attempts int) *utils.RetryConfig {
	return &utils.RetryConfig{MaxAttempts: attempts, BaseDelay: time.Millisecond}
}

func TestFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "base.csv")
	require.NoError(t, os.WriteFile(path, []byte(sampleCSV), 0o644))

	text, err := (&FileSource{Path: path}).Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sampleCSV, text)

	_, err = (&FileSource{Path: filepath.Join(t.TempDir(), "missing.csv")}).Fetch(context.Background())
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestHTTPSourcePlain(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "br, gzip", r.Header.Get("Accept-Encoding"))
		w.Write([]byte(sampleCSV))
	}))
	defer srv.Close()

	text, err := (&HTTPSource{URL: srv.URL}).Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sampleCSV, text)
}

func TestHTTPSourceDecodesBrotliAndGzip(t *testing.T) {
	var br bytes.Buffer
	bw := brotli.NewWriter(&br)
	_, _ = bw.Write([]byte(sampleCSV))
	require.NoError(t, bw.Close())

	var gz bytes.Buffer
	gw := gzip.NewWriter(&gz)
	_, _ = gw.Write([]byte(sampleCSV))
	require.NoError(t, gw.Close())

	tests := []struct {
		encoding string
		body     []byte
	}{
		{"br", br.Bytes()},
		{"gzip", gz.Bytes()},
	}

	for _, tt := range tests {
		t.Run(tt.encoding, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Encoding", tt.encoding)
				w.Write(tt.body)
			}))
			defer srv.Close()

			text, err := (&HTTPSource{URL: srv.URL}).Fetch(context.Background())
			require.NoError(t, err)
			assert.Equal(t, sampleCSV, text)
		})
	}
}

func TestHTTPSourceRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			http.Error(w, "try later", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(sampleCSV))
	}))
	defer srv.Close()

	text, err := (&HTTPSource{URL: srv.URL, Retry: fastRetry(3)}).Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sampleCSV, text)
	assert.EqualValues(t, 3, hits.Load())
}

func TestHTTPSourceDoesNotRetryClientErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := (&HTTPSource{URL: srv.URL, Retry: fastRetry(5)}).Fetch(context.Background())
	require.Error(t, err)

	var herr *HTTPError
	require.True(t, errors.As(err, &herr))
	assert.Equal(t, http.StatusNotFound, herr.StatusCode)
	assert.False(t, herr.Temporary())
	assert.EqualValues(t, 1, hits.Load())
}

func TestHTTPErrorTemporary(t *testing.T) {
	tests := []struct {
		code int
		want bool
	}{
		{429, true},
		{408, true},
		{500, true},
		{503, true},
		{400, false},
		{403, false},
		{404, false},
	}

	for _, tt := range tests {
		got := (&HTTPError{StatusCode: tt.code}).Temporary()
		if got != tt.want {
			t.Errorf("HTTPError{%d}.Temporary() = %v; want %v", tt.code, got, tt.want)
		}
	}
}

func TestCacheWithHTTPSourceEndToEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleCSV))
	}))
	defer srv.Close()

	sources, err := ParseSources([]string{"./does-not-exist.csv", srv.URL}, SourceDeps{Retry: fastRetry(1)})
	require.NoError(t, err)

	c := newTestCache(sources)
	res := c.Sync(context.Background())
	require.NoError(t, res.Err)
	assert.Equal(t, srv.URL, res.Source)
	assert.Equal(t, 2, res.Count)
}

func TestParseSources(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer rdb.Close()

	sources, err := ParseSources([]string{
		"../base.csv",
		" file:///srv/data/base.csv ",
		"",
		"https://docs.google.com/spreadsheets/d/e/X/pub?output=csv",
		"redis://property-sync:dataset",
		"browser+https://example.com/sheet",
	}, SourceDeps{Redis: rdb})
	require.NoError(t, err)
	require.Len(t, sources, 5)

	assert.IsType(t, &FileSource{}, sources[0])
	assert.Equal(t, "../base.csv", sources[0].(*FileSource).Path)
	assert.Equal(t, "/srv/data/base.csv", sources[1].(*FileSource).Path)
	assert.IsType(t, &HTTPSource{}, sources[2])
	assert.Equal(t, "redis://property-sync:dataset", sources[3].Name())
	assert.IsType(t, &BrowserSource{}, sources[4])
	assert.Equal(t, "https://example.com/sheet", sources[4].(*BrowserSource).URL)
}

func TestParseSourcesErrors(t *testing.T) {
	tests := [][]string{
		{},
		{"  "},
		{"redis://key"},
		{"browser+ftp://example.com"},
	}

	for _, specs := range tests {
		_, err := ParseSources(specs, SourceDeps{})
		assert.Error(t, err, "ParseSources(%q)", specs)
	}
}

func TestHTTPSourceRejectsOversizedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleCSV))
	}))
	defer srv.Close()

	_, err := (&HTTPSource{URL: srv.URL, MaxBodyBytes: int64(len(sampleCSV) - 1)}).Fetch(context.Background())
	assert.ErrorIs(t, err, ErrBodyTooLarge)

	text, err := (&HTTPSource{URL: srv.URL, MaxBodyBytes: int64(len(sampleCSV))}).Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sampleCSV, text)
}

func TestCacheKeepsSnapshotWhenBodyTooLarge(t *testing.T) {
	var grown atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleCSV))
		if grown.Load() {
			w.Write([]byte("C3 Court,4,99000,https://x/d.jpg\n"))
		}
	}))
	defer srv.Close()

	src := &HTTPSource{URL: srv.URL, MaxBodyBytes: int64(len(sampleCSV))}
	c := newTestCache([]Source{src})
	require.True(t, c.Sync(context.Background()).Success)

	grown.Store(true)
	res := c.Sync(context.Background())
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, ErrBodyTooLarge)
	assert.Equal(t, PhaseFailed, c.Phase())
	assert.Len(t, c.GetAll(), 2)
}
