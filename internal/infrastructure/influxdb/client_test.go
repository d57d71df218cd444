package influxdb_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/knxbridge/internal/infrastructure/config"
	"github.com/nerrad567/knxbridge/internal/infrastructure/influxdb"
)

// fakeInflux answers /ping and records line protocol posted to /api/v2/write.
type fakeInflux struct {
	*httptest.Server

	mu        sync.Mutex
	lines     []string
	failWrite bool
	unhealthy bool
}

func newFakeInflux(t *testing.T) *fakeInflux {
	t.Helper()
	f := &fakeInflux{}
	f.Server = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeInflux) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case strings.HasSuffix(r.URL.Path, "/ping"):
		if f.unhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case strings.HasSuffix(r.URL.Path, "/write"):
		if f.failWrite {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"code":"invalid","message":"bad line protocol"}`)
			return
		}
		body, _ := io.ReadAll(r.Body)
		for _, line := range strings.Split(strings.TrimSpace(string(body)), "\n") {
			if line != "" {
				f.lines = append(f.lines, line)
			}
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeInflux) written() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lines...)
}

func (f *fakeInflux) config() config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           f.URL,
		Token:         "test-token",
		Org:           "home",
		Bucket:        "knx",
		BatchSize:     10,
		FlushInterval: 1,
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 5*time.Second, 10*time.Millisecond)
}

func connect(t *testing.T, cfg config.InfluxDBConfig, tags map[string]string) *influxdb.Client {
	t.Helper()
	client, err := influxdb.Connect(cfg, tags)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestConnect(t *testing.T) {
	srv := newFakeInflux(t)
	client := connect(t, srv.config(), nil)

	assert.True(t, client.IsConnected())
	assert.NoError(t, client.HealthCheck(context.Background()))
}

func TestConnectDisabled(t *testing.T) {
	cfg := config.InfluxDBConfig{URL: "http://127.0.0.1:1"}

	_, err := influxdb.Connect(cfg, nil)
	assert.ErrorIs(t, err, influxdb.ErrDisabled)
}

func TestConnectFailures(t *testing.T) {
	t.Run("unreachable", func(t *testing.T) {
		srv := newFakeInflux(t)
		cfg := srv.config()
		srv.Close()

		_, err := influxdb.Connect(cfg, nil)
		assert.ErrorIs(t, err, influxdb.ErrConnectionFailed)
	})

	t.Run("unhealthy", func(t *testing.T) {
		srv := newFakeInflux(t)
		srv.unhealthy = true

		_, err := influxdb.Connect(srv.config(), nil)
		assert.ErrorIs(t, err, influxdb.ErrConnectionFailed)
	})
}

func TestConnectDefaultBatchSettings(t *testing.T) {
	srv := newFakeInflux(t)
	cfg := srv.config()
	cfg.BatchSize = -5
	cfg.FlushInterval = 0

	client := connect(t, cfg, nil)
	assert.True(t, client.IsConnected())
}

func TestWritePoint(t *testing.T) {
	srv := newFakeInflux(t)
	client := connect(t, srv.config(), map[string]string{"bridge": "house"})

	ts := time.Unix(1_760_000_000, 0)
	client.WritePoint("bus_traffic",
		map[string]string{"destination": "1/0/1", "kind": "write"},
		map[string]any{"value": 1.0},
		ts)
	client.WritePoint("empty", nil, nil, ts) // dropped: no fields
	client.Flush()

	waitFor(t, func() bool { return len(srv.written()) >= 1 })

	lines := srv.written()
	require.Len(t, lines, 1)
	for _, want := range []string{"bus_traffic,", "bridge=house", "destination=1/0/1", "kind=write", "value=1", "1760000000000000000"} {
		assert.Contains(t, lines[0], want)
	}
}

func TestWriteErrorsReachCallback(t *testing.T) {
	srv := newFakeInflux(t)
	srv.failWrite = true
	client := connect(t, srv.config(), nil)

	var (
		mu     sync.Mutex
		gotErr error
	)
	client.SetOnError(func(err error) {
		mu.Lock()
		gotErr = err
		mu.Unlock()
	})

	client.WritePoint("bus_traffic", nil, map[string]any{"value": 1.0}, time.Time{})
	client.Flush()

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return gotErr != nil
	})
	mu.Lock()
	defer mu.Unlock()
	assert.ErrorIs(t, gotErr, influxdb.ErrWriteFailed)
}

func TestClose(t *testing.T) {
	srv := newFakeInflux(t)

	client, err := influxdb.Connect(srv.config(), nil)
	require.NoError(t, err)

	require.NoError(t, client.Close())
	require.NoError(t, client.Close(), "second close")
	assert.False(t, client.IsConnected())
	assert.ErrorIs(t, client.HealthCheck(context.Background()), influxdb.ErrNotConnected)

	// Dropped without panicking.
	client.WritePoint("bus_traffic", nil, map[string]any{"value": 1.0}, time.Time{})
	client.Flush()
}

func TestCloseNil(t *testing.T) {
	var client *influxdb.Client
	assert.NoError(t, client.Close())
}
