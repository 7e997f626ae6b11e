package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

// TestConfigReplacement_Integration tests that key reference replacement works
// against the actual Config struct used by the application.
func TestConfigReplacement_Integration(t *testing.T) {
	logger := arbor.NewLogger()
	kvMap := map[string]string{
		"courtlistener_api_key":  "cl-token-12345",
		"courtlistener_base_url": "https://www.courtlistener.com/api/rest/v4",
		"db-path":                "/data/casestrainer.db",
		"queue-name":             "custom_jobs",
		"progress-throttle":      "250ms",
	}

	config := NewDefaultConfig()
	config.Database.APIKey = "{courtlistener_api_key}"
	config.Database.BaseURL = "{courtlistener_base_url}"
	config.Storage.Badger.Path = "{db-path}"
	config.Queue.QueueName = "{queue-name}"
	config.WebSocket.ThrottleIntervals["job_progress"] = "{progress-throttle}"

	err := ReplaceInStruct(config, kvMap, logger)
	require.NoError(t, err)

	assert.Equal(t, "cl-token-12345", config.Database.APIKey)
	assert.Equal(t, "https://www.courtlistener.com/api/rest/v4", config.Database.BaseURL)
	assert.Equal(t, "/data/casestrainer.db", config.Storage.Badger.Path)
	assert.Equal(t, "custom_jobs", config.Queue.QueueName)
	assert.Equal(t, "250ms", config.WebSocket.ThrottleIntervals["job_progress"])
}

// TestConfigReplacement_UnresolvedLeftIntact verifies that a reference to a
// missing key survives replacement unchanged so the problem is visible in
// logs and downstream validation instead of silently becoming empty.
func TestConfigReplacement_UnresolvedLeftIntact(t *testing.T) {
	logger := arbor.NewLogger()
	kvMap := map[string]string{}

	config := NewDefaultConfig()
	config.Database.APIKey = "{missing_api_key}"

	err := ReplaceInStruct(config, kvMap, logger)
	require.NoError(t, err)

	assert.Equal(t, "{missing_api_key}", config.Database.APIKey)
}

// TestConfigReplacement_StaticValuesUntouched verifies defaults without
// references come through replacement byte-for-byte.
func TestConfigReplacement_StaticValuesUntouched(t *testing.T) {
	logger := arbor.NewLogger()
	kvMap := map[string]string{
		"unused": "value",
	}

	config := NewDefaultConfig()
	before := *config

	err := ReplaceInStruct(config, kvMap, logger)
	require.NoError(t, err)

	assert.Equal(t, before.Server.Port, config.Server.Port)
	assert.Equal(t, before.Database.BaseURL, config.Database.BaseURL)
	assert.Equal(t, before.Verify.Concurrency, config.Verify.Concurrency)
	assert.Equal(t, before.Queue.QueueName, config.Queue.QueueName)
}
