package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lookupFrom(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestFromLookup_Defaults(t *testing.T) {
	cfg, err := FromLookup(lookupFrom(map[string]string{
		"TELEGRAM_BOT_TOKEN": "123:abc",
		"REMOVE_BG_API_KEY":  "key",
	}))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, DefaultRemoveBGURL, cfg.RemoveBGURL)
	assert.Equal(t, "auto", cfg.RemoveBGSize)
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, time.Second, cfg.RetryBaseDelay)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, 30*24*time.Hour, cfg.JournalRetention)
	assert.Equal(t, "@every 1h", cfg.SweepSchedule)
	assert.Empty(t, cfg.DatabaseURL)
}

func TestFromLookup_LegacyNames(t *testing.T) {
	cfg, err := FromLookup(lookupFrom(map[string]string{
		"tg_token": "42:xyz",
		"rmbg_key": "legacy",
	}))
	require.NoError(t, err)
	assert.Equal(t, "42:xyz", cfg.TelegramBotToken)
	assert.Equal(t, "legacy", cfg.RemoveBGAPIKey)
}

func TestFromLookup_PrefersUppercaseNames(t *testing.T) {
	cfg, err := FromLookup(lookupFrom(map[string]string{
		"TELEGRAM_BOT_TOKEN": "new",
		"tg_token":           "old",
		"REMOVE_BG_API_KEY":  "new-key",
		"rmbg_key":           "old-key",
	}))
	require.NoError(t, err)
	assert.Equal(t, "new", cfg.TelegramBotToken)
	assert.Equal(t, "new-key", cfg.RemoveBGAPIKey)
}

func TestFromLookup_Missing(t *testing.T) {
	_, err := FromLookup(lookupFrom(map[string]string{"REMOVE_BG_API_KEY": "key"}))
	require.ErrorIs(t, err, ErrMissing)
	assert.Contains(t, err.Error(), "TELEGRAM_BOT_TOKEN")

	_, err = FromLookup(lookupFrom(map[string]string{"TELEGRAM_BOT_TOKEN": "   "}))
	require.ErrorIs(t, err, ErrMissing)
	assert.Contains(t, err.Error(), "TELEGRAM_BOT_TOKEN")
	assert.Contains(t, err.Error(), "REMOVE_BG_API_KEY")
}

func TestFromLookup_Overrides(t *testing.T) {
	cfg, err := FromLookup(lookupFrom(map[string]string{
		"TELEGRAM_BOT_TOKEN": "t",
		"REMOVE_BG_API_KEY":  "k",
		"MAX_RETRIES":        "3",
		"RETRY_BASE_DELAY":   "250ms",
		"WORKERS":            "1",
		"REMOVE_BG_SIZE":     "preview",
		"PORT":               "9000",
	}))
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.RetryBaseDelay)
	assert.Equal(t, 1, cfg.Workers)
	assert.Equal(t, "preview", cfg.RemoveBGSize)
	assert.Equal(t, "9000", cfg.Port)
}

func TestFromLookup_BadValues(t *testing.T) {
	base := map[string]string{"TELEGRAM_BOT_TOKEN": "t", "REMOVE_BG_API_KEY": "k"}

	tests := []struct {
		key, value string
	}{
		{"MAX_RETRIES", "many"},
		{"MAX_RETRIES", "0"},
		{"WORKERS", "x"},
		{"RETRY_BASE_DELAY", "soon"},
		{"JOURNAL_RETENTION", "forever"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			env := map[string]string{tt.key: tt.value}
			for k, v := range base {
				env[k] = v
			}
			_, err := FromLookup(lookupFrom(env))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

func TestLoad_EnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("RMBG_TEST_ONLY=1\n"), 0o600))

	t.Setenv("TELEGRAM_BOT_TOKEN", "t")
	t.Setenv("REMOVE_BG_API_KEY", "k")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "t", cfg.TelegramBotToken)
	assert.Equal(t, "1", os.Getenv("RMBG_TEST_ONLY"))
	t.Cleanup(func() { _ = os.Unsetenv("RMBG_TEST_ONLY") })
}

func TestLoad_MissingEnvFileIsFine(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "t")
	t.Setenv("REMOVE_BG_API_KEY", "k")

	_, err := Load(filepath.Join(t.TempDir(), "absent.env"))
	require.NoError(t, err)
}
