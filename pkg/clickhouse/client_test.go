package clickhouse

import (
	"testing"
	"time"

	ch "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/stretchr/testify/assert"
)

func TestOptions(t *testing.T) {
	o := options(Config{
		Host:        "ch.internal",
		Port:        8123,
		Database:    "marketpull",
		User:        "svc",
		Password:    "pw",
		UseHTTP:     true,
		AsyncInsert: true,
		MaxExecTime: 30 * time.Second,
		DialTimeout: time.Second,
	})

	assert.Equal(t, []string{"ch.internal:8123"}, o.Addr)
	assert.Equal(t, ch.HTTP, o.Protocol)
	assert.Equal(t, "marketpull", o.Auth.Database)
	assert.Equal(t, "svc", o.Auth.Username)
	assert.Equal(t, 30, o.Settings["max_execution_time"])
	assert.Equal(t, 1, o.Settings["async_insert"])
	assert.Equal(t, 0, o.Settings["wait_for_async_insert"])
}

func TestNewClientRequiresHost(t *testing.T) {
	_, err := NewClient(WithAddress("", 9000))
	assert.Error(t, err)
}
