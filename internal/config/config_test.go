package config

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func newViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	return v
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(newViper())
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1", cfg.Bind)
	require.Equal(t, 7777, cfg.Port)
	require.Equal(t, 4, cfg.Workers)
	require.Equal(t, 16, cfg.MaxRedirections)
	require.Equal(t, "info", cfg.LogLevel)
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value interface{}
	}{
		{"zero_workers", "workers", 0},
		{"zero_redirections", "max-redirections", 0},
		{"bad_entry", "entry", "localhost"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newViper()
			v.Set(tt.key, tt.value)
			_, err := Load(v)
			require.Error(t, err)
		})
	}
}

func TestEntryPoint(t *testing.T) {
	cfg := &Config{Entry: "10.1.2.3:6390"}
	host, port, socket, err := cfg.EntryPoint()
	require.NoError(t, err)
	require.Equal(t, "10.1.2.3", host)
	require.Equal(t, 6390, port)
	require.Empty(t, socket)

	cfg = &Config{Entry: "/var/run/redis.sock"}
	host, port, socket, err = cfg.EntryPoint()
	require.NoError(t, err)
	require.Empty(t, host)
	require.Zero(t, port)
	require.Equal(t, "/var/run/redis.sock", socket)
}
