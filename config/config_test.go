package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetEnvList(t *testing.T) {
	t.Setenv("TEST_LIST", " a.csv , ,https://x/b.csv,")
	assert.Equal(t, []string{"a.csv", "https://x/b.csv"}, getEnvList("TEST_LIST", nil))

	t.Setenv("TEST_LIST", " , ")
	assert.Equal(t, []string{"fallback"}, getEnvList("TEST_LIST", []string{"fallback"}))
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("TEST_INT", "12")
	assert.Equal(t, 12, getEnvInt("TEST_INT", 3))

	t.Setenv("TEST_INT", "twelve")
	assert.Equal(t, 3, getEnvInt("TEST_INT", 3))
}

func TestLoadDefaultsValidate(t *testing.T) {
	t.Setenv("DATASET_SOURCES", "")
	t.Setenv("PHOTO_MAX", "")
	t.Setenv("SYNC_TIMEOUT_SEC", "5")

	cfg := Load()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 10, cfg.PhotoMax)
	assert.Equal(t, 800, cfg.PhotoThumbWidth)
	assert.Equal(t, 5*time.Second, cfg.SyncTimeout)
	assert.Len(t, cfg.DatasetSources, 3)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Load()
	cfg.PhotoMax = 25
	assert.Error(t, cfg.Validate())

	cfg = Load()
	cfg.DatasetSources = nil
	assert.Error(t, cfg.Validate())

	cfg = Load()
	cfg.LogFormat = "xml"
	assert.Error(t, cfg.Validate())
}

func TestDSN(t *testing.T) {
	cfg := &Config{
		PostgresHost: "db", PostgresPort: "5433", PostgresUser: "u",
		PostgresPassword: "p", PostgresDB: "d", PostgresSSLMode: "disable",
	}
	assert.Equal(t, "host=db port=5433 user=u password=p dbname=d sslmode=disable", cfg.DSN())
}
