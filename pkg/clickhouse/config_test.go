package clickhouse

import (
	"testing"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptionsMapping(t *testing.T) {
	cfg := defaultConfig()
	for _, opt := range []Option{
		WithAddr("ch-1", 9000),
		WithAddr("ch-2", 9000),
		WithDatabase("sensorpull"),
		WithCredentials("svc", "secret"),
		WithHTTP(true),
		WithAsyncInsert(true, true),
		WithMaxExecutionTime(1500 * time.Millisecond),
		WithCompression(true),
	} {
		opt(cfg)
	}

	o := cfg.options()
	assert.Equal(t, []string{"ch-1:9000", "ch-2:9000"}, o.Addr)
	assert.Equal(t, clickhouse.HTTP, o.Protocol)
	assert.Equal(t, "sensorpull", o.Auth.Database)
	assert.Equal(t, "svc", o.Auth.Username)
	assert.Equal(t, 1, o.Settings["async_insert"])
	assert.Equal(t, 1, o.Settings["wait_for_async_insert"])
	assert.Equal(t, 1, o.Settings["max_execution_time"])
	require.NotNil(t, o.Compression)
	assert.Equal(t, clickhouse.CompressionLZ4, o.Compression.Method)
}

func TestAsyncInsertCanBeTurnedOff(t *testing.T) {
	cfg := defaultConfig()
	WithAsyncInsert(true, true)(cfg)
	WithAsyncInsert(false, false)(cfg)
	WithMaxExecutionTime(0)(cfg)

	o := cfg.options()
	assert.Empty(t, o.Settings)
	assert.Nil(t, o.Compression)
	assert.Equal(t, clickhouse.Native, o.Protocol)
}

func TestNewClientRequiresAddress(t *testing.T) {
	_, err := NewClient(WithDatabase("x"))
	require.Error(t, err)
}

func TestDDLTarget(t *testing.T) {
	assert.Equal(t, "sensor_readings", ddlTarget("CREATE TABLE IF NOT EXISTS sensor_readings (ts DateTime64(3))"))
	assert.Equal(t, "t1", ddlTarget("CREATE TABLE t1 (a Int8)"))
	assert.Equal(t, "?", ddlTarget("SELECT"))
}
