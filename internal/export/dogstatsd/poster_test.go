package dogstatsd

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listenUDP(t *testing.T) *net.UDPConn {
	t.Helper()

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return conn
}

// readAll collects datagrams until the listener goes quiet.
func readAll(t *testing.T, conn *net.UDPConn) string {
	t.Helper()

	var sb strings.Builder

	buf := make([]byte, 65535)

	for {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(500*time.Millisecond)))

		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			return sb.String()
		}

		sb.Write(buf[:n])
		sb.WriteByte('\n')
	}
}

func TestPoster_Send(t *testing.T) {
	conn := listenUDP(t)

	p, err := New(logrus.New(), Config{
		Addr:      conn.LocalAddr().String(),
		Namespace: "relay.",
	})
	require.NoError(t, err)

	ts := time.Unix(1700000000, 0)

	require.NoError(t, p.SendMetricDataPoint(context.Background(), "cpu", 0.5, ts))
	require.NoError(t, p.SendInstanceMetricDataPoint(context.Background(), "up", 1, ts, "i-123"))
	require.NoError(t, p.Close())

	received := readAll(t, conn)

	assert.Contains(t, received, "relay.cpu:0.5|g")
	assert.Contains(t, received, "relay.up:1|g|#instance:i-123")
	assert.Contains(t, received, "|T1700000000")
}

func TestConfig_ApplyDefaults(t *testing.T) {
	cfg := Config{}
	cfg.ApplyDefaults()

	assert.Equal(t, "127.0.0.1:8125", cfg.Addr)
}

func TestPoster_Name(t *testing.T) {
	conn := listenUDP(t)

	p, err := New(logrus.New(), Config{Addr: conn.LocalAddr().String()})
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, "dogstatsd", p.Name())
}
