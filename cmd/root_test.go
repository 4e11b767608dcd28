package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCommand(t *testing.T) {
	SetVersion("v1.2.3")
	cmd := newVersionCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)

	cmd.Run(cmd, nil)
	assert.Equal(t, "dbfleet version v1.2.3\n", out.String())
}

func TestServeCommandFlags(t *testing.T) {
	cmd := newServeCmd()

	cfg, err := cmd.Flags().GetString("config")
	require.NoError(t, err)
	assert.Equal(t, defaultConfigPath, cfg)

	addr, err := cmd.Flags().GetString("listen")
	require.NoError(t, err)
	assert.Equal(t, defaultListenAddr, addr)

	level, err := cmd.Flags().GetString("log-level")
	require.NoError(t, err)
	assert.Equal(t, "info", level)
}

func TestNewLogger(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error"} {
		logger, err := newLogger(level)
		require.NoError(t, err)
		require.NotNil(t, logger)
	}

	_, err := newLogger("loud")
	assert.Error(t, err)
}
