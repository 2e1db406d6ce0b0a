package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	cfg, runnable, err := Parse([]string{"127.0.0.1:7000"})
	require.NoError(t, err)
	require.True(t, runnable)
	require.Equal(t, defaultPort, cfg.Port)
	require.Equal(t, defaultThreads, cfg.Threads)
	require.Equal(t, MultiplexAuto, cfg.DisableMultiplex)
	require.Equal(t, "127.0.0.1:7000", cfg.BootstrapAddr)
	require.False(t, cfg.BootstrapIsUnix)
}

func TestParseUnixSocketTarget(t *testing.T) {
	cfg, runnable, err := Parse([]string{"/var/run/valkey.sock"})
	require.NoError(t, err)
	require.True(t, runnable)
	require.True(t, cfg.BootstrapIsUnix)
	require.Equal(t, "/var/run/valkey.sock", cfg.BootstrapAddr)
}

func TestParseHelp(t *testing.T) {
	_, runnable, err := Parse([]string{"--help"})
	require.NoError(t, err)
	require.False(t, runnable)
}

func TestParseRejectsBadThreads(t *testing.T) {
	_, _, err := Parse([]string{"--threads=0", "127.0.0.1:7000"})
	require.Error(t, err)
}

func TestParseRejectsBadMultiplexMode(t *testing.T) {
	_, _, err := Parse([]string{"--disable-multiplexing=sometimes", "127.0.0.1:7000"})
	require.Error(t, err)
}

func TestParseRejectsMissingPositional(t *testing.T) {
	_, _, err := Parse([]string{"--port=7000"})
	require.Error(t, err)
}

func TestParseRejectsMalformedAddress(t *testing.T) {
	_, _, err := Parse([]string{"not-an-address"})
	require.Error(t, err)
}

func TestParseOverrides(t *testing.T) {
	cfg, runnable, err := Parse([]string{
		"--port", "9999",
		"--threads", "4",
		"--disable-multiplexing", "never",
		"--auth", "s3cret",
		"--metrics-addr", "",
		"127.0.0.1:7000",
	})
	require.NoError(t, err)
	require.True(t, runnable)
	require.Equal(t, 9999, cfg.Port)
	require.Equal(t, 4, cfg.Threads)
	require.Equal(t, MultiplexNever, cfg.DisableMultiplex)
	require.Equal(t, "s3cret", cfg.Auth)
	require.Equal(t, "", cfg.MetricsAddr)
}
