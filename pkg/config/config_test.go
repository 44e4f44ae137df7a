package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type retryOptions struct {
	MaxAttempts uint          `json:"maxAttempts" mapstructure:"maxAttempts"`
	Timeout     time.Duration `json:"timeout" mapstructure:"timeout"`
}

type testOptions struct {
	Listen string        `json:"listen" mapstructure:"listen"`
	Bucket string        `json:"bucket" mapstructure:"bucket"`
	Debug  bool          `json:"debug" mapstructure:"debug"`
	Retry  *retryOptions `json:"retry" mapstructure:"retry"`
}

func defaults() *testOptions {
	return &testOptions{
		Listen: ":8080",
		Retry:  &retryOptions{MaxAttempts: 3, Timeout: time.Minute},
	}
}

func TestLoad_Defaults(t *testing.T) {
	options := defaults()
	require.NoError(t, Load("", options))
	assert.Equal(t, defaults(), options)
}

func TestLoad_File(t *testing.T) {
	file := filepath.Join(t.TempDir(), "airlock.yaml")
	content := "bucket: robotics-staging\nretry:\n  timeout: 5s\n"
	require.NoError(t, os.WriteFile(file, []byte(content), 0o644))

	options := defaults()
	require.NoError(t, Load(file, options))
	assert.Equal(t, "robotics-staging", options.Bucket)
	assert.Equal(t, ":8080", options.Listen)
	assert.Equal(t, 5*time.Second, options.Retry.Timeout)
	assert.Equal(t, uint(3), options.Retry.MaxAttempts)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "airlock.yaml")
	require.NoError(t, os.WriteFile(file, []byte("listen: :9000\n"), 0o644))
	t.Setenv("AIRLOCK_LISTEN", ":9090")
	t.Setenv("AIRLOCK_RETRY_MAXATTEMPTS", "5")
	t.Setenv("AIRLOCK_DEBUG", "true")

	options := defaults()
	require.NoError(t, Load(file, options))
	assert.Equal(t, ":9090", options.Listen)
	assert.Equal(t, uint(5), options.Retry.MaxAttempts)
	assert.True(t, options.Debug)
}

func TestLoad_MissingFile(t *testing.T) {
	err := Load(filepath.Join(t.TempDir(), "missing.yaml"), defaults())
	assert.Error(t, err)
}

func TestFlatten(t *testing.T) {
	got := flatten("", map[string]any{
		"a": 1,
		"b": map[string]any{"c": "x", "d": map[string]any{"e": true}},
		"f": map[string]any{},
	})
	assert.Equal(t, map[string]any{"a": 1, "b.c": "x", "b.d.e": true, "f": map[string]any{}}, got)
}

func TestLoadWithFlags(t *testing.T) {
	file := filepath.Join(t.TempDir(), "airlock.yaml")
	require.NoError(t, os.WriteFile(file, []byte("listen: :9090\nbucket: from-file\nretry:\n  maxAttempts: 5\n"), 0o644))

	options := defaults()
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.StringVar(&options.Listen, "listen", options.Listen, "")
	flags.UintVar(&options.Retry.MaxAttempts, "max-attempts", options.Retry.MaxAttempts, "")
	require.NoError(t, flags.Parse([]string{"--max-attempts", "9"}))

	require.NoError(t, LoadWithFlags(flags, file, options))
	assert.Equal(t, ":9090", options.Listen)
	assert.Equal(t, "from-file", options.Bucket)
	assert.Equal(t, uint(9), options.Retry.MaxAttempts)
	assert.Equal(t, time.Minute, options.Retry.Timeout)
}
