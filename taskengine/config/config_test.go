package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/antinvestor/taskengine/config"
)

func TestEngineConfig_RetryPolicyDurationsConvertsSecondsToDurations(t *testing.T) {
	cfg := config.EngineConfig{
		InitialDelaySeconds:   2,
		MaxDelaySeconds:       30,
		AttemptTimeoutSeconds: 5,
	}

	initial, maxDelay, attemptTimeout := cfg.RetryPolicyDurations()

	assert.Equal(t, 2*time.Second, initial)
	assert.Equal(t, 30*time.Second, maxDelay)
	assert.Equal(t, 5*time.Second, attemptTimeout)
}

func TestEngineConfig_RetryPolicyDurationsZeroValue(t *testing.T) {
	var cfg config.EngineConfig

	initial, maxDelay, attemptTimeout := cfg.RetryPolicyDurations()

	assert.Zero(t, initial)
	assert.Zero(t, maxDelay)
	assert.Zero(t, attemptTimeout)
}
