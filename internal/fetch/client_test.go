package fetch

import (
	"animeagg/internal/components/telemetry"
	"animeagg/internal/proxy"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	config := DefaultConfig()
	config.Backoff = time.Millisecond * 5
	config.Timeout = time.Second * 2
	return config
}

type staticProxies struct {
	record proxy.Record
}

func (s staticProxies) NextProxy() (proxy.Record, bool) {
	return s.record, s.record.Address != ""
}

func TestFetchRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("<html>ok</html>"))
	}))
	defer server.Close()

	client := NewClient(testConfig(), nil, telemetry.NewRecordingAPI())
	body, err := client.Fetch(context.Background(), server.URL, Options{})
	require.NoError(t, err)
	require.Equal(t, "<html>ok</html>", string(body))
	require.EqualValues(t, 3, calls.Load())
}

func TestFetchExhausted(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	tel := telemetry.NewRecordingAPI()
	client := NewClient(testConfig(), nil, tel)

	start := time.Now()
	_, err := client.Fetch(context.Background(), server.URL, Options{})
	elapsed := time.Since(start)

	var fetchErr FetchError
	require.ErrorAs(t, err, &fetchErr)
	require.Equal(t, 4, fetchErr.Attempts)
	require.Equal(t, server.URL, fetchErr.URL)

	var statusErr StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusServiceUnavailable, statusErr.Code)

	require.EqualValues(t, 4, calls.Load())
	// linear backoff: 5ms + 10ms + 15ms
	require.GreaterOrEqual(t, elapsed, time.Millisecond*30)
	require.True(t, tel.Has("warning", report_client_fetch))
}

func TestFetchCancelled(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	config := testConfig()
	config.Backoff = time.Second * 10
	client := NewClient(config, nil, telemetry.NewRecordingAPI())

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond*100)
	defer cancel()

	start := time.Now()
	_, err := client.Fetch(ctx, server.URL, Options{})
	require.Error(t, err)
	require.Less(t, time.Since(start), time.Second*5)
	require.EqualValues(t, 1, calls.Load())

	var fetchErr FetchError
	require.True(t, errors.As(err, &fetchErr))
	require.Equal(t, 1, fetchErr.Attempts)
}

func TestFetchHeaders(t *testing.T) {
	var (
		mutex   sync.Mutex
		headers http.Header
		method  string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mutex.Lock()
		headers = r.Header.Clone()
		method = r.Method
		mutex.Unlock()
	}))
	defer server.Close()

	client := NewClient(testConfig(), nil, telemetry.NewRecordingAPI())

	_, err := client.Fetch(context.Background(), server.URL, Options{
		Headers: map[string]string{
			"Referer":         "https://gogoanime3.co/",
			"Accept-Language": "ja",
		},
	})
	require.NoError(t, err)
	require.Equal(t, http.MethodGet, method)
	require.Equal(t, DefaultHeaders()["User-Agent"], headers.Get("User-Agent"))
	require.Equal(t, "https://gogoanime3.co/", headers.Get("Referer"))
	require.Equal(t, "ja", headers.Get("Accept-Language"))

	_, err = client.Fetch(context.Background(), server.URL, Options{
		Method:       "post",
		ResponseType: ResponseJSON,
	})
	require.NoError(t, err)
	require.Equal(t, http.MethodPost, method)
	require.Contains(t, headers.Get("Accept"), "application/json")
}

func TestFetchThroughProxy(t *testing.T) {
	var seen atomic.Value
	proxyServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen.Store(r.URL.String())
		w.Write([]byte("proxied"))
	}))
	defer proxyServer.Close()

	selector := staticProxies{record: proxy.NewRecord(proxyServer.URL)}
	client := NewClient(testConfig(), selector, telemetry.NewRecordingAPI())

	body, err := client.Fetch(context.Background(), "http://zoro.invalid/trending", Options{})
	require.NoError(t, err)
	require.Equal(t, "proxied", string(body))
	require.Equal(t, "http://zoro.invalid/trending", seen.Load())

	t.Run("no proxy goes direct", func(t *testing.T) {
		direct := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("direct"))
		}))
		defer direct.Close()

		client := NewClient(testConfig(), staticProxies{}, telemetry.NewRecordingAPI())
		body, err := client.Fetch(context.Background(), direct.URL, Options{})
		require.NoError(t, err)
		require.Equal(t, "direct", string(body))
	})
}

func TestFetchDump(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>dumped</html>"))
	}))
	defer server.Close()

	config := testConfig()
	config.DumpDir = filepath.Join(t.TempDir(), "dumps")
	client := NewClient(config, nil, telemetry.NewRecordingAPI())

	_, err := client.Fetch(context.Background(), server.URL+"/category/one-piece", Options{})
	require.NoError(t, err)

	entries, err := os.ReadDir(config.DumpDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	contents, err := os.ReadFile(filepath.Join(config.DumpDir, entries[0].Name()))
	require.NoError(t, err)
	require.Contains(t, string(contents), "/category/one-piece")
	require.Contains(t, string(contents), "<html>dumped</html>")
}
