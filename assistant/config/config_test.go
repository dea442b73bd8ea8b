package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	internal "github.com/ZanzyTHEbar/guild-assistant/assistant"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// ConfigTestSuite tests the config package functionality
type ConfigTestSuite struct {
	suite.Suite
	tempDir string
	origDir string
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigTestSuite))
}

func (suite *ConfigTestSuite) SetupTest() {
	var err error
	suite.origDir, err = os.Getwd()
	require.NoError(suite.T(), err)

	suite.tempDir = suite.T().TempDir()

	// Change to temp directory so no stray config.yaml is picked up
	require.NoError(suite.T(), os.Chdir(suite.tempDir))
}

func (suite *ConfigTestSuite) TearDownTest() {
	if suite.origDir != "" {
		_ = os.Chdir(suite.origDir)
	}
}

func (suite *ConfigTestSuite) TestLoadConfigWithDefaults() {
	cfg, err := LoadConfig("")

	require.NoError(suite.T(), err)
	require.NotNil(suite.T(), cfg)

	assert.Equal(suite.T(), 50, cfg.Memory.MaxMessages)
	assert.Equal(suite.T(), 30*time.Minute, cfg.Memory.TTL)
	assert.Equal(suite.T(), 5*time.Minute, cfg.Memory.SweepInterval)
	assert.Equal(suite.T(), 5, cfg.Retrieval.K)
	assert.InDelta(suite.T(), 0.7, cfg.Retrieval.Threshold, 1e-9)
	assert.Equal(suite.T(), "openai", cfg.Provider.Name)
	assert.Equal(suite.T(), 5, cfg.Harness.MaxIterations)
	assert.Equal(suite.T(), internal.DefaultDatabaseDSN, cfg.Knowledge.DSN)
	assert.Equal(suite.T(), "ws://127.0.0.1:8765/tools", cfg.Bridge.BridgeURL())
}

func (suite *ConfigTestSuite) TestLoadConfigWithFile() {
	configContent := `
memory:
  max_messages: 10
  ttl: 5m
provider:
  name: Claude
  model: claude-3-5-haiku-latest
bridge:
  host: backend.internal
  port: 9000
  path: rpc
harness:
  allowed_tools: ["ticket.*", "lookup_user"]
`
	configFile := filepath.Join(suite.tempDir, "config.yaml")
	require.NoError(suite.T(), os.WriteFile(configFile, []byte(configContent), 0o644))

	cfg, err := LoadConfig(configFile)

	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), 10, cfg.Memory.MaxMessages)
	assert.Equal(suite.T(), 5*time.Minute, cfg.Memory.TTL)
	assert.Equal(suite.T(), "Claude", cfg.Provider.Name)
	assert.Equal(suite.T(), "ws://backend.internal:9000/rpc", cfg.Bridge.BridgeURL())
	assert.Equal(suite.T(), []string{"ticket.*", "lookup_user"}, cfg.Harness.AllowedTools)
	// Untouched sections keep their defaults
	assert.Equal(suite.T(), 5, cfg.Retrieval.K)
}

func (suite *ConfigTestSuite) TestEnvironmentOverridesDefaults() {
	suite.T().Setenv("ASSISTANT_MEMORY_MAX_MESSAGES", "12")
	suite.T().Setenv("ASSISTANT_PROVIDER_NAME", "ollama")

	cfg, err := LoadConfig("")

	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), 12, cfg.Memory.MaxMessages)
	assert.Equal(suite.T(), "ollama", cfg.Provider.Name)
}

func (suite *ConfigTestSuite) TestLoadConfigInvalidFile() {
	cfg, err := LoadConfig("/nonexistent/path/config.yaml")

	// An explicit path that does not exist is an error
	assert.Error(suite.T(), err)
	assert.Nil(suite.T(), cfg)
}

func (suite *ConfigTestSuite) TestLoadConfigMalformedFile() {
	malformedContent := `
memory:
  max_messages: 10
  invalid_yaml: [unclosed bracket
`
	configFile := filepath.Join(suite.tempDir, "malformed.yaml")
	require.NoError(suite.T(), os.WriteFile(configFile, []byte(malformedContent), 0o644))

	cfg, err := LoadConfig(configFile)

	assert.Error(suite.T(), err)
	assert.Nil(suite.T(), cfg)
}

func (suite *ConfigTestSuite) TestValidationRejectsZeroMaxMessages() {
	configFile := filepath.Join(suite.tempDir, "zero.yaml")
	require.NoError(suite.T(), os.WriteFile(configFile, []byte("memory:\n  max_messages: 0\n"), 0o644))

	cfg, err := LoadConfig(configFile)

	require.Error(suite.T(), err)
	assert.Nil(suite.T(), cfg)

	var cfgErr *internal.ConfigurationError
	require.True(suite.T(), errors.As(err, &cfgErr))
	assert.Equal(suite.T(), "memory.max_messages", cfgErr.Field)
}

// BenchmarkLoadConfig benchmarks config loading performance
func BenchmarkLoadConfig(b *testing.B) {
	for b.Loop() {
		if _, err := LoadConfig(""); err != nil {
			b.Fatal(err)
		}
	}
}
