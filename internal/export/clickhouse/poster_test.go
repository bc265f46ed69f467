package clickhouse

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_ApplyDefaults(t *testing.T) {
	cfg := Config{Endpoint: "localhost:9000"}
	cfg.ApplyDefaults()

	assert.Equal(t, "default", cfg.Database)
	assert.Equal(t, "data_points", cfg.Table)
	assert.Equal(t, 5*time.Second, cfg.DialTimeout)
	require.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{
			name:    "missing endpoint",
			cfg:     Config{Database: "metrics", Table: "points"},
			wantErr: "clickhouse endpoint is required",
		},
		{
			name:    "bad database",
			cfg:     Config{Endpoint: "h:9000", Database: "metrics; DROP", Table: "points"},
			wantErr: "invalid clickhouse database name",
		},
		{
			name:    "bad table",
			cfg:     Config{Endpoint: "h:9000", Database: "metrics", Table: "1points"},
			wantErr: "invalid clickhouse table name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_DSN(t *testing.T) {
	cfg := Config{Endpoint: "ch:9000", Database: "metrics"}
	assert.Equal(t, "clickhouse://ch:9000/metrics", cfg.DSN())

	cfg.Username = "relay"
	cfg.Password = "pw"
	assert.Equal(t, "clickhouse://relay:pw@ch:9000/metrics", cfg.DSN())
}

func TestInsertQuery(t *testing.T) {
	assert.Equal(t,
		"INSERT INTO metrics.points (name, value, timestamp, instance_id)",
		insertQuery("metrics", "points"),
	)
}

func TestNew_InvalidConfig(t *testing.T) {
	_, err := New(context.Background(), logrus.New(), Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

type fakeBatch struct {
	driver.Batch

	conn    *fakeConn
	row     []any
	aborted bool
}

func (b *fakeBatch) Append(v ...any) error {
	if b.conn.appendErr != nil {
		return b.conn.appendErr
	}

	b.row = v

	return nil
}

func (b *fakeBatch) Abort() error {
	b.aborted = true

	return nil
}

func (b *fakeBatch) Send() error {
	if b.conn.sendErr != nil {
		return b.conn.sendErr
	}

	b.conn.rows = append(b.conn.rows, b.row)

	return nil
}

type fakeConn struct {
	driver.Conn

	queries   []string
	rows      [][]any
	batches   []*fakeBatch
	appendErr error
	sendErr   error
}

func (c *fakeConn) PrepareBatch(
	_ context.Context,
	query string,
	_ ...driver.PrepareBatchOption,
) (driver.Batch, error) {
	c.queries = append(c.queries, query)

	b := &fakeBatch{conn: c}
	c.batches = append(c.batches, b)

	return b, nil
}

func testPoster(conn *fakeConn) *Poster {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	cfg := Config{Endpoint: "h:9000"}
	cfg.ApplyDefaults()

	return newPoster(log, cfg, conn)
}

func TestPoster_InsertsOneRowPerPoint(t *testing.T) {
	conn := &fakeConn{}
	p := testPoster(conn)

	ts := time.UnixMilli(1700000000123)

	require.NoError(t, p.SendMetricDataPoint(context.Background(), "cpu", 0.5, ts))
	require.NoError(t, p.SendInstanceMetricDataPoint(context.Background(), "up", 1, ts, "i-123"))

	require.Len(t, conn.queries, 2)
	assert.Equal(t,
		"INSERT INTO default.data_points (name, value, timestamp, instance_id)",
		conn.queries[0],
	)

	require.Len(t, conn.rows, 2)
	assert.Equal(t, []any{"cpu", 0.5, ts, ""}, conn.rows[0])
	assert.Equal(t, []any{"up", 1.0, ts, "i-123"}, conn.rows[1])

	got, ok := conn.rows[0][2].(time.Time)
	require.True(t, ok)
	assert.Equal(t, int64(1700000000123), got.UnixMilli())
}

func TestPoster_SendError(t *testing.T) {
	conn := &fakeConn{sendErr: errors.New("connection reset")}
	p := testPoster(conn)

	err := p.SendMetricDataPoint(context.Background(), "cpu", 0.5, time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "inserting cpu")
	assert.Empty(t, conn.rows)
}

func TestPoster_AppendErrorAbortsBatch(t *testing.T) {
	conn := &fakeConn{appendErr: errors.New("bad column")}
	p := testPoster(conn)

	err := p.SendInstanceMetricDataPoint(context.Background(), "up", 1, time.Now(), "i-123")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "appending up")

	require.Len(t, conn.batches, 1)
	assert.True(t, conn.batches[0].aborted)
}
