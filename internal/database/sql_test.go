package database

import (
	"path/filepath"
	"testing"

	"ssl-monitor/internal/conf"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenSQL_SQLiteBusyTimeoutFromDSN(t *testing.T) {
	// same parameter syntax as the sample in config/config.yaml
	dsn := "file:" + filepath.Join(t.TempDir(), "sslmon.db") + "?_busy_timeout=7000"

	db, err := OpenSQL("sqlite", conf.SQLConfig{DSN: dsn})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	var timeout int
	require.NoError(t, db.Raw("PRAGMA busy_timeout").Scan(&timeout).Error)
	assert.Equal(t, 7000, timeout)
	assert.Equal(t, 1, sqlDB.Stats().MaxOpenConnections)
}

func TestOpenSQL_UnknownDriver(t *testing.T) {
	_, err := OpenSQL("mysql", conf.SQLConfig{DSN: "x"})
	assert.ErrorContains(t, err, "unsupported sql driver")
}
