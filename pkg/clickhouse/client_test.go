package clickhouse

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBuildDSN(t *testing.T) {
	dsn := buildDSN(ClientConfig{
		Host: "ch", Port: 9000, Database: "amberpull", User: "u", Password: "p",
		DialTimeout: 5 * time.Second, AsyncInsert: true, WaitForAsync: true,
	})
	assert.Equal(t, "clickhouse://u:p@ch:9000/amberpull?dial_timeout=5s&async_insert=1&wait_for_async_insert=1", dsn)

	assert.Equal(t, "http://default:@h:8123/db", buildDSN(ClientConfig{
		Host: "h", Port: 8123, Database: "db", User: "default", UseHTTP: true,
	}))
}
