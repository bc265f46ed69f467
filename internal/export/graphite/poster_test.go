package graphite

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// listen starts a carbon-like TCP listener and streams received lines.
func listen(t *testing.T) (string, int, <-chan string) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	lines := make(chan string, 16)

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)

	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	return host, port, lines
}

func next(t *testing.T, lines <-chan string) string {
	t.Helper()

	select {
	case l := <-lines:
		return l
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for graphite line")

		return ""
	}
}

func TestPoster_Send(t *testing.T) {
	host, port, lines := listen(t)

	p, err := New(logrus.New(), Config{Host: host, Port: port, Prefix: "relay"})
	require.NoError(t, err)
	defer p.Close()

	ts := time.Unix(1700000000, 0)

	require.NoError(t, p.SendMetricDataPoint(context.Background(), "cpu", 0.5, ts))
	assert.Equal(t, "relay.cpu 0.5 1700000000", next(t, lines))

	require.NoError(t, p.SendInstanceMetricDataPoint(context.Background(), "up", 1, ts, "i-123"))
	assert.Equal(t, "relay.i-123.up 1 1700000000", next(t, lines))
}

func TestNew_ConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	addr := ln.Addr().(*net.TCPAddr)
	ln.Close()

	_, err = New(logrus.New(), Config{Host: "127.0.0.1", Port: addr.Port, Timeout: time.Second})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connecting to graphite")
}

func TestConfig_Validate(t *testing.T) {
	cfg := Config{}
	cfg.ApplyDefaults()

	assert.Equal(t, 2003, cfg.Port)
	assert.Equal(t, "tcp", cfg.Protocol)
	assert.ErrorContains(t, cfg.Validate(), "graphite host is required")

	cfg.Host = "carbon"
	cfg.Protocol = "sctp"
	assert.ErrorContains(t, cfg.Validate(), "tcp or udp")

	cfg.Protocol = "udp"
	assert.NoError(t, cfg.Validate())
}
