package config_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/timesheet-engine/config"
)

func TestRead_FullConfig(t *testing.T) {
	// GIVEN: A complete TOML config
	// WHEN: Reading it
	// THEN: Every field is decoded, durations included

	input := `
[database]
path = "/var/lib/engine/engine.db"

[processor]
drain_interval = "10s"
batch_limit = 25
lease_window = "90s"
backoff_base = "5s"
max_attempts = 3
workers = 2

[http]
addr = "0.0.0.0:9000"

[log]
level = "debug"
pretty = true
`
	cfg, err := config.Read(strings.NewReader(input))
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/engine/engine.db", cfg.Database.Path)
	assert.Equal(t, 10*time.Second, cfg.DrainInterval())
	assert.Equal(t, 25, cfg.Processor.BatchLimit)
	assert.Equal(t, 90*time.Second, cfg.LeaseWindow())
	assert.Equal(t, 5*time.Second, cfg.BackoffBase())
	assert.Equal(t, 3, cfg.Processor.MaxAttempts)
	assert.Equal(t, 2, cfg.Processor.Workers)
	assert.Equal(t, "0.0.0.0:9000", cfg.HTTP.Addr)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.Pretty)
}

func TestRead_PartialConfig_KeepsDefaults(t *testing.T) {
	// GIVEN: A config setting only the database path
	// WHEN: Reading it
	// THEN: Processor settings fall back to defaults

	input := `
[database]
path = "custom.db"
`
	cfg, err := config.Read(strings.NewReader(input))
	require.NoError(t, err)

	def := config.Default()
	assert.Equal(t, "custom.db", cfg.Database.Path)
	assert.Equal(t, def.DrainInterval(), cfg.DrainInterval())
	assert.Equal(t, def.Processor.MaxAttempts, cfg.Processor.MaxAttempts)
	assert.Equal(t, def.Processor.Workers, cfg.Processor.Workers)
	assert.Equal(t, def.HTTP.Addr, cfg.HTTP.Addr)
}

func TestRead_InvalidDuration_Rejected(t *testing.T) {
	input := `
[processor]
drain_interval = "soon"
`
	_, err := config.Read(strings.NewReader(input))
	assert.Error(t, err)
}

func TestRead_NonPositiveWorkers_Rejected(t *testing.T) {
	input := `
[processor]
workers = 0
`
	_, err := config.Read(strings.NewReader(input))
	assert.Error(t, err)
}

func TestDefault_Validates(t *testing.T) {
	// The shipped defaults must always pass their own validation.
	cfg := config.Default()
	_, err := config.Read(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, cfg.Database.Path, "engine.db")
}
