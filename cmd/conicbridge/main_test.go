package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/codefionn/conicbridge/internal/config"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseArgsKeepsEnvironmentDefaults(t *testing.T) {
	env := config.DefaultConfig()
	env.WSPort = "9999"
	env.CoreBin = "/env/conicrypt"

	cfg, opts, err := parseArgs(nil, env, &bytes.Buffer{})
	require.NoError(t, err)

	assert.Equal(t, "9999", cfg.WSPort)
	assert.Equal(t, "/env/conicrypt", cfg.CoreBin)
	assert.Equal(t, "cooperative", opts.gate)
	assert.False(t, opts.echo)
}

func TestParseArgsOverrides(t *testing.T) {
	cfg, opts, err := parseArgs([]string{
		"--host", "0.0.0.0",
		"-p", "8080",
		"--core-url", "http://core:5000",
		"--plotter-url", "http://plotter:5001",
		"--core-bin", "./conicrypt",
		"--liveness", "all",
		"--max-concurrent", "8",
		"--max-connections", "2",
		"--backend-timeout", "5s",
		"--gate", "blocking",
		"--echo",
		"--log-level", "debug",
	}, config.DefaultConfig(), &bytes.Buffer{})
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.BindAddr())
	assert.Equal(t, "core:5000", cfg.CoreAddr())
	assert.Equal(t, "plotter:5001", cfg.PlotterAddr())
	assert.Equal(t, "./conicrypt", cfg.CoreBin)
	assert.Equal(t, "all", cfg.Liveness)
	assert.Equal(t, 8, cfg.MaxConcurrent)
	assert.Equal(t, 2, cfg.MaxConnections)
	assert.Equal(t, 5*time.Second, cfg.BackendTimeout)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "blocking", opts.gate)
	assert.True(t, opts.echo)
}

func TestParseArgsRejectsInvalid(t *testing.T) {
	tests := [][]string{
		{"--liveness", "sometimes"},
		{"--max-concurrent", "0"},
		{"--max-connections", "-1"},
		{"--backend-timeout", "-1s"},
		{"--bogus"},
		{"extra"},
	}

	for _, args := range tests {
		_, _, err := parseArgs(args, config.DefaultConfig(), &bytes.Buffer{})
		assert.Error(t, err, "args %v", args)
	}
}

func TestParseArgsHelp(t *testing.T) {
	var out bytes.Buffer
	_, _, err := parseArgs([]string{"--help"}, config.DefaultConfig(), &out)
	assert.ErrorIs(t, err, pflag.ErrHelp)
	assert.Contains(t, out.String(), "--max-concurrent")
	assert.Contains(t, out.String(), config.EnvCoreURL)
}

func TestParseArgsAcceptsEnvironmentValues(t *testing.T) {
	env := config.ResolveFrom(func(key string) string {
		return map[string]string{
			config.EnvBackendTimeout: "0",
			config.EnvMaxConnections: "0",
		}[key]
	})

	cfg, _, err := parseArgs(nil, env, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Zero(t, cfg.BackendTimeout, "zero disables the backend deadline")
	assert.Zero(t, cfg.MaxConnections)

	cfg, _, err = parseArgs([]string{"--backend-timeout", "0"}, config.DefaultConfig(), &bytes.Buffer{})
	require.NoError(t, err)
	assert.Zero(t, cfg.BackendTimeout)
}
