package cmd

import (
	"os"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrawl-dev/scrawl/internal/config"

	"gopkg.in/yaml.v3"
)

func TestRegisteredCommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, want := range []string{"serve", "init", "tail", "version"} {
		assert.True(t, names[want], "command %q is registered", want)
	}
}

func TestInitCommandWritesDefaultConfig(t *testing.T) {
	tempDir := t.TempDir()

	oldDir, err := os.Getwd()
	require.NoError(t, err)
	defer os.Chdir(oldDir)
	require.NoError(t, os.Chdir(tempDir))

	cmd := &cobra.Command{}
	cmd.Flags().Bool("force", false, "")
	require.NoError(t, runInit(cmd, nil))
	assert.FileExists(t, ".scrawl.yml")

	data, err := os.ReadFile(".scrawl.yml")
	require.NoError(t, err)

	var cfg config.Config
	require.NoError(t, yaml.Unmarshal(data, &cfg))
	assert.Equal(t, config.Default().Server.Port, cfg.Server.Port)
}

func TestInitCommandRefusesOverwrite(t *testing.T) {
	tempDir := t.TempDir()

	oldDir, err := os.Getwd()
	require.NoError(t, err)
	defer os.Chdir(oldDir)
	require.NoError(t, os.Chdir(tempDir))

	require.NoError(t, os.WriteFile(".scrawl.yml", []byte("server:\n  port: 9999\n"), 0o644))

	cmd := &cobra.Command{}
	cmd.Flags().Bool("force", false, "")
	err = runInit(cmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	forced := &cobra.Command{}
	forced.Flags().Bool("force", true, "")
	require.NoError(t, runInit(forced, nil))

	data, err := os.ReadFile(".scrawl.yml")
	require.NoError(t, err)
	assert.NotContains(t, string(data), "9999")
}
