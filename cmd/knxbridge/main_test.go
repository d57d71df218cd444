package main

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/knxbridge/internal/infrastructure/database"
	"github.com/nerrad567/knxbridge/internal/knx"
	"github.com/nerrad567/knxbridge/internal/knx/knxtest"
	"github.com/nerrad567/knxbridge/internal/recorder"
)

func writeConfig(t *testing.T, content string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	t.Setenv("KNXBRIDGE_CONFIG", path)
}

// closedAddr returns a loopback address nothing listens on.
func closedAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func TestRunInvalidConfigPath(t *testing.T) {
	t.Setenv("KNXBRIDGE_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loading config")
}

func TestRunGatewayUnreachable(t *testing.T) {
	writeConfig(t, `
gateway:
  url: "tcp://`+closedAddr(t)+`"
  connect_timeout: 2
mqtt:
  enabled: false
logging:
  level: error
switches:
  - name: Hall
    group_address: "1/0/1"
`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connecting to gateway")
}

func TestRunBrokerUnreachable(t *testing.T) {
	srv := knxtest.NewServer(t)
	host, port, err := net.SplitHostPort(closedAddr(t))
	require.NoError(t, err)

	writeConfig(t, `
gateway:
  url: "tcp://`+srv.Addr()+`"
mqtt:
  enabled: true
  broker:
    host: "`+host+`"
    port: `+port+`
  reconnect:
    max_attempts: 1
logging:
  level: error
`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = run(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connecting to MQTT")
}

func TestRunStartsRecorderAndShutsDown(t *testing.T) {
	srv := knxtest.NewServer(t)
	srv.SetValue(knx.MustParseGroupAddress("1/0/1"), []byte{0x01})

	dbPath := filepath.Join(t.TempDir(), "knxbridge.db")
	writeConfig(t, `
bridge:
  id: test-house
gateway:
  url: "tcp://`+srv.Addr()+`"
mqtt:
  enabled: false
recorder:
  enabled: true
database:
  path: "`+dbPath+`"
  wal_mode: true
  busy_timeout: 5
logging:
  level: error
  format: text
switches:
  - id: hall
    name: Hall
    group_address: "1/0/1"
`)

	ctx, cancel := context.WithTimeout(context.Background(), 1500*time.Millisecond)
	defer cancel()

	require.NoError(t, run(ctx))

	var sawRead bool
	for _, f := range srv.Frames() {
		if f.Destination.String() == "1/0/1" {
			sawRead = true
		}
	}
	assert.True(t, sawRead, "switch subscription did not read its address")

	db, err := database.Open(database.Config{Path: dbPath})
	require.NoError(t, err)
	defer db.Close()

	gas, err := recorder.New(db.DB).GroupAddresses(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, gas, 1)
	assert.Equal(t, "1/0/1", gas[0].Address)
	assert.True(t, gas[0].HasReadResponse)
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("KNXBRIDGE_CONFIG", "")
	assert.Equal(t, defaultConfigPath, getConfigPath())

	t.Setenv("KNXBRIDGE_CONFIG", "/etc/knxbridge/config.yaml")
	assert.Equal(t, "/etc/knxbridge/config.yaml", getConfigPath())
}

func TestHealthCheckWithoutOptionalStores(t *testing.T) {
	assert.NoError(t, healthCheck(context.Background(), nil, nil, nil))
}
