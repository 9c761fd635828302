package source

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockLogger is a no-op logger for testing purposes.
type mockLogger struct{}

func (m *mockLogger) Debugf(format string, v ...interface{}) {}
func (m *mockLogger) Infof(format string, v ...interface{})  {}
func (m *mockLogger) Warnf(format string, v ...interface{})  {}
func (m *mockLogger) Errorf(format string, v ...interface{}) {}

type countingReader struct {
	reads atomic.Int32
}

func (r *countingReader) ReadFile(ctx context.Context, path string) ([]byte, error) {
	r.reads.Add(1)
	return []byte("contents of " + path), nil
}

func TestLocalReadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clip.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"sampleRate":44100}`), 0o644))

	data, err := Local{}.ReadFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, `{"sampleRate":44100}`, string(data))

	data, err = Local{}.ReadFile(context.Background(), "file://"+path)
	require.NoError(t, err)
	assert.NotEmpty(t, data)

	_, err = Local{}.ReadFile(context.Background(), filepath.Join(dir, "missing"))
	assert.ErrorIs(t, err, fs.ErrNotExist)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Local{}.ReadFile(ctx, path)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHTTPReadFile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		fmt.Fprint(w, "segment data")
	}))
	defer server.Close()

	h := NewHTTP(&mockLogger{}, "test-agent", 2, time.Second)
	data, err := h.ReadFile(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, "segment data", string(data))
}

func TestHTTPRetryThenSuccess(t *testing.T) {
	var requestCount int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&requestCount, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, "final data")
	}))
	defer server.Close()

	h := NewHTTP(&mockLogger{}, "", 3, time.Second)
	data, err := h.ReadFile(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, "final data", string(data))
	assert.Equal(t, int32(3), atomic.LoadInt32(&requestCount), "Expected exactly 3 attempts")
}

func TestHTTPAllAttemptsFail(t *testing.T) {
	var requestCount int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requestCount, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	h := NewHTTP(&mockLogger{}, "", 2, time.Second)
	_, err := h.ReadFile(context.Background(), server.URL)
	assert.ErrorContains(t, err, "after 2 attempts")
	assert.Equal(t, int32(2), atomic.LoadInt32(&requestCount))
}

func TestHTTPNotFoundIsNotRetried(t *testing.T) {
	var requestCount int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requestCount, 1)
		http.NotFound(w, r)
	}))
	defer server.Close()

	h := NewHTTP(&mockLogger{}, "", 3, time.Second)
	_, err := h.ReadFile(context.Background(), server.URL+"/clip.time")
	assert.ErrorIs(t, err, fs.ErrNotExist)
	assert.Equal(t, int32(1), atomic.LoadInt32(&requestCount))
}

func TestHTTPTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		fmt.Fprint(w, "this should not be sent")
	}))
	defer server.Close()

	h := NewHTTP(&mockLogger{}, "", 1, 50*time.Millisecond)
	_, err := h.ReadFile(context.Background(), server.URL)
	assert.Error(t, err)
}

func TestMux(t *testing.T) {
	local, remote := &countingReader{}, &countingReader{}
	m := Mux{Local: local, Remote: remote}

	data, err := m.ReadFile(context.Background(), "https://cdn.example/a.wav")
	require.NoError(t, err)
	assert.Equal(t, "contents of https://cdn.example/a.wav", string(data))
	_, err = m.ReadFile(context.Background(), "/tmp/a.wav")
	require.NoError(t, err)
	assert.Equal(t, int32(1), local.reads.Load())
	assert.Equal(t, int32(1), remote.reads.Load())

	_, err = Mux{Local: local}.ReadFile(context.Background(), "http://cdn.example/a.wav")
	assert.Error(t, err)
}

func TestRedisCacheFallsBackWhenUnavailable(t *testing.T) {
	next := &countingReader{}
	c := NewRedisCache(RedisConfig{Addr: "127.0.0.1:1", TTL: time.Minute}, next, &mockLogger{})
	defer c.Close()

	assert.False(t, c.IsAvailable())
	for i := 0; i < 2; i++ {
		data, err := c.ReadFile(context.Background(), "a.wav")
		require.NoError(t, err)
		assert.Equal(t, "contents of a.wav", string(data))
	}
	assert.Equal(t, int32(2), next.reads.Load())
}

func TestRedisCacheSurvivesCallerCancellation(t *testing.T) {
	next := &countingReader{}
	c := &RedisCache{
		next:   next,
		client: redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1}),
		logger: &mockLogger{},
		ttl:    time.Minute,
	}
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	data, err := c.ReadFile(ctx, "a.wav")
	require.NoError(t, err)
	assert.Equal(t, "contents of a.wav", string(data))
	assert.True(t, c.IsAvailable())

	ctx, cancel = context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()
	_, err = c.ReadFile(ctx, "a.wav")
	require.NoError(t, err)
	assert.True(t, c.IsAvailable())

	_, err = c.ReadFile(context.Background(), "a.wav")
	require.NoError(t, err)
	assert.False(t, c.IsAvailable())
	assert.Equal(t, int32(3), next.reads.Load())
}

func TestResolver(t *testing.T) {
	r := Resolver{Dir: "/srv/clips"}
	tests := []struct {
		ref  string
		want string
	}{
		{"a.json", "/srv/clips/a.json"},
		{"sub/../b.wav", "/srv/clips/b.wav"},
		{"/abs/c.wav", "/abs/c.wav"},
		{"https://cdn.example/d.wav", "https://cdn.example/d.wav"},
	}
	for _, tt := range tests {
		got, err := r.Resolve(tt.ref)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.ref)
	}

	web := Resolver{Dir: "https://cdn.example/clips"}
	got, err := web.Resolve("a.json")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/clips/a.json", got)

	_, err = r.Resolve("")
	assert.Error(t, err)
}
