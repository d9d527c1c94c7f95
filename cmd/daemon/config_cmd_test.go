// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const validConfig = `
discord:
  token: discord-secret
plex:
  url: http://plex.local:32400
  token: plex-secret
redis:
  host: redis
  port: 6380
  password: hunter2
`

func TestConfigCLI_Usage(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, 0, configCLI(nil, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "plexcord config validate")

	stderr.Reset()
	assert.Equal(t, 2, configCLI([]string{"frobnicate"}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "Unknown subcommand: frobnicate")
}

func TestConfigValidate(t *testing.T) {
	t.Setenv(envConfigPath, "")

	t.Run("valid file", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		path := writeConfig(t, validConfig)
		require.Equal(t, 0, configCLI([]string{"validate", "-f", path}, &stdout, &stderr), stderr.String())
		assert.Contains(t, stdout.String(), "is valid")
	})

	t.Run("invalid values", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		path := writeConfig(t, "redis:\n  port: 70000\n")
		assert.Equal(t, 1, configCLI([]string{"validate", "--file", path}, &stdout, &stderr))
		assert.Contains(t, stderr.String(), "redis.port")
	})

	t.Run("unknown field", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		path := writeConfig(t, "plex:\n  colour: red\n")
		assert.Equal(t, 1, configCLI([]string{"validate", "-f", path}, &stdout, &stderr))
	})

	t.Run("path from environment", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		path := writeConfig(t, validConfig)
		t.Setenv(envConfigPath, path)
		require.Equal(t, 0, configCLI([]string{"validate"}, &stdout, &stderr), stderr.String())
		assert.Contains(t, stdout.String(), path)
	})

	t.Run("bad flag", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		assert.Equal(t, 2, configCLI([]string{"validate", "--nope"}, &stdout, &stderr))
	})
}

func TestConfigDump(t *testing.T) {
	t.Setenv(envConfigPath, "")
	path := writeConfig(t, validConfig)

	t.Run("requires effective", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		assert.Equal(t, 2, configCLI([]string{"dump", "-f", path}, &stdout, &stderr))
		assert.Contains(t, stderr.String(), "--effective is required")
	})

	t.Run("yaml is redacted", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		require.Equal(t, 0, configCLI([]string{"dump", "--effective", "-f", path}, &stdout, &stderr), stderr.String())

		out := stdout.String()
		assert.NotContains(t, out, "discord-secret")
		assert.NotContains(t, out, "plex-secret")
		assert.NotContains(t, out, "hunter2")

		var doc map[string]any
		require.NoError(t, yaml.Unmarshal(stdout.Bytes(), &doc))
		redis := doc["redis"].(map[string]any)
		assert.Equal(t, "redis", redis["host"])
		assert.Equal(t, 6380, redis["port"])
		assert.Equal(t, "***", redis["password"])
	})

	t.Run("json", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		require.Equal(t, 0, configCLI([]string{"dump", "--effective", "--format=json", "-f", path}, &stdout, &stderr), stderr.String())
		var doc map[string]any
		require.NoError(t, json.Unmarshal(stdout.Bytes(), &doc))
		assert.Contains(t, doc, "Plex")
		assert.NotContains(t, stdout.String(), "plex-secret")
	})

	t.Run("unsupported format", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		assert.Equal(t, 2, configCLI([]string{"dump", "--effective", "--format=toml", "-f", path}, &stdout, &stderr))
	})
}
