package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalConfig = `{
  "primary": {
    "cloudName": "aws-primary",
    "host": "pg.aws.example.com",
    "port": 5432,
    "user": "app",
    "password": "secret",
    "database": "postgres",
    "schemas": ["public", "app"],
    "defaultSchema": "public",
    "db_configs": [{"name": "mydb"}, {"name": "audit"}]
  },
  "secondaries": [
    {
      "cloudName": "gcp-secondary",
      "host": "pg.gcp.example.com",
      "port": 5432,
      "user": "app",
      "password": "secret",
      "database": "postgres",
      "schemas": ["public"],
      "defaultSchema": "public",
      "db_configs": [{"name": "mydb"}]
    }
  ],
  "kvClouds": [
    {"cloudName": "aws-cache", "host": "redis.aws.example.com", "port": 6379},
    {"cloudName": "gcp-cache", "host": "redis.gcp.example.com", "port": 6379}
  ]
}`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "aws-primary", cfg.Primary.CloudName)
	assert.Len(t, cfg.Secondaries, 1)
	assert.Len(t, cfg.KVClouds, 2)
	assert.Len(t, cfg.SQLClouds(), 2)

	assert.True(t, cfg.Primary.HasDatabase("mydb"))
	assert.True(t, cfg.Primary.HasDatabase("audit"))
	assert.False(t, cfg.Primary.HasDatabase("missing"))

	require.NotNil(t, cfg.SQLCloud("gcp-secondary"))
	assert.Nil(t, cfg.SQLCloud("nope"))
	require.NotNil(t, cfg.KVCloud("aws-cache"))
	assert.Nil(t, cfg.KVCloud("aws-primary"))
}

func TestParseRejectsMissingFields(t *testing.T) {
	tests := []struct {
		name string
		json string
	}{
		{"empty document", `{}`},
		{
			"primary missing password",
			`{"primary": {"cloudName": "p", "host": "h", "port": 5432, "user": "u",
			  "database": "d", "schemas": ["public"], "defaultSchema": "public",
			  "db_configs": [{"name": "mydb"}]}}`,
		},
		{
			"primary without databases",
			`{"primary": {"cloudName": "p", "host": "h", "port": 5432, "user": "u",
			  "password": "pw", "database": "d", "schemas": ["public"],
			  "defaultSchema": "public", "db_configs": []}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.json))
			assert.Error(t, err)
		})
	}
}

func TestValidateRejectsDuplicateCloudNames(t *testing.T) {
	cfg, err := Parse([]byte(minimalConfig))
	require.NoError(t, err)

	cfg.Secondaries[0].CloudName = cfg.Primary.CloudName
	assert.ErrorContains(t, cfg.Validate(), "duplicate cloud name")

	cfg, err = Parse([]byte(minimalConfig))
	require.NoError(t, err)
	cfg.KVClouds[0].CloudName = cfg.Primary.CloudName
	assert.ErrorContains(t, cfg.Validate(), "duplicate cloud name")
}

func TestValidateRejectsDuplicateDatabases(t *testing.T) {
	cfg, err := Parse([]byte(minimalConfig))
	require.NoError(t, err)

	cfg.Primary.Databases = append(cfg.Primary.Databases, DatabaseConfig{Name: "mydb"})
	assert.ErrorContains(t, cfg.Validate(), "twice")
}

func TestSettingsFromEnv(t *testing.T) {
	logger := slog.Default()

	t.Run("defaults", func(t *testing.T) {
		t.Setenv(EnvRedisHost, "")
		t.Setenv(EnvRedisPort, "")
		t.Setenv(EnvExecutionTTLSeconds, "")

		s := SettingsFromEnv(logger)
		assert.Equal(t, "localhost", s.RedisHost)
		assert.Equal(t, DefaultRedisPort, s.RedisPort)
		assert.Equal(t, DefaultExecutionTTL, s.ExecutionTTL)
		assert.Equal(t, DefaultStatementTimeout, s.StatementTimeout)
		assert.True(t, s.SharedStoreIsLocal())
	})

	t.Run("overrides", func(t *testing.T) {
		t.Setenv(EnvRedisHost, "redis.internal.example.com")
		t.Setenv(EnvRedisPort, "6380")
		t.Setenv(EnvRedisClusterMode, "true")
		t.Setenv(EnvExecutionTTLSeconds, "60")
		t.Setenv(EnvStatementTimeoutMs, "15000")

		s := SettingsFromEnv(logger)
		assert.Equal(t, "redis.internal.example.com", s.RedisHost)
		assert.Equal(t, 6380, s.RedisPort)
		assert.True(t, s.RedisClusterMode)
		assert.Equal(t, 60*time.Second, s.ExecutionTTL)
		assert.Equal(t, 15*time.Second, s.StatementTimeout)
		assert.False(t, s.SharedStoreIsLocal())
	})

	t.Run("invalid values fall back to defaults", func(t *testing.T) {
		t.Setenv(EnvRedisPort, "not-a-port")
		t.Setenv(EnvExecutionTTLSeconds, "-5")

		s := SettingsFromEnv(logger)
		assert.Equal(t, DefaultRedisPort, s.RedisPort)
		assert.Equal(t, DefaultExecutionTTL, s.ExecutionTTL)
	})
}
