package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadShippedConfigFile(t *testing.T) {
	config, err := LoadFromFile("../../deployments/local/aranea.toml")
	require.NoError(t, err)

	assert.Equal(t, "localhost", config.Server.Host)
	assert.Equal(t, 8080, config.Server.Port)
	assert.Equal(t, "crawl_jobs", config.Queue.JobQueueName)

	assert.Equal(t, 5*time.Second, config.Queue.SchedulerInterval.Duration())
	assert.Equal(t, 5*time.Second, config.Queue.PopTimeout.Duration())
	assert.Equal(t, 60*time.Second, config.Monitoring.CrawlerTimeout.Duration())
	assert.Equal(t, 10*time.Second, config.Monitoring.HeartbeatInterval.Duration())
}

func TestLoadFromFilesParsesDurationStrings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aranea.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[queue]
scheduler_interval = "250ms"
pop_timeout = "1m30s"

[monitoring]
crawler_timeout = "2m"
heartbeat_interval = "15s"
`), 0644))

	config, err := LoadFromFiles(path)
	require.NoError(t, err)

	assert.Equal(t, 250*time.Millisecond, config.Queue.SchedulerInterval.Duration())
	assert.Equal(t, 90*time.Second, config.Queue.PopTimeout.Duration())
	assert.Equal(t, 2*time.Minute, config.Monitoring.CrawlerTimeout.Duration())
	assert.Equal(t, 15*time.Second, config.Monitoring.HeartbeatInterval.Duration())
}

func TestLoadFromFilesRejectsMalformedDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aranea.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[queue]
scheduler_interval = "not-a-duration"
`), 0644))

	_, err := LoadFromFiles(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not-a-duration")
}

func TestDefaultConfigDurations(t *testing.T) {
	config := NewDefaultConfig()

	assert.Equal(t, 5*time.Second, config.Queue.SchedulerInterval.Duration())
	assert.Equal(t, 5*time.Second, config.Queue.PopTimeout.Duration())
	assert.Equal(t, 60*time.Second, config.Monitoring.CrawlerTimeout.Duration())
	assert.Equal(t, 10*time.Second, config.Monitoring.HeartbeatInterval.Duration())
	assert.Equal(t, "redis", config.Storage.Type)
}
