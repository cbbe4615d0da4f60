package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/victornm/chatquiz/internal/config"
)

type testConfig struct {
	Discord struct {
		Token string
	}

	Bot struct {
		Prefix string
		Role   string
	}

	HTTP struct {
		Port int32
	}

	Wait struct {
		Timeout time.Duration
	}
}

func defaults() testConfig {
	var c testConfig
	c.Bot.Prefix = "Heidi, "
	c.Bot.Role = "QuizMaster"
	c.HTTP.Port = 8080
	return c
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	c := defaults()

	require.NoError(t, config.Load("", &c))

	require.Equal(t, "Heidi, ", c.Bot.Prefix)
	require.Equal(t, int32(8080), c.HTTP.Port)
	require.Zero(t, c.Wait.Timeout)
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
bot:
  role: Moderator
http:
  port: 9000
wait:
  timeout: 5m
`), 0o600))

	t.Setenv("DISCORD_TOKEN", "secret")
	t.Setenv("HTTP_PORT", "9100")

	c := defaults()
	require.NoError(t, config.Load(file, &c))

	require.Equal(t, "secret", c.Discord.Token)
	require.Equal(t, "Moderator", c.Bot.Role)
	require.Equal(t, "Heidi, ", c.Bot.Prefix, "unset keys should keep their default")
	require.Equal(t, int32(9100), c.HTTP.Port, "env should win over file")
	require.Equal(t, 5*time.Minute, c.Wait.Timeout)
}

func TestLoad_MissingFile(t *testing.T) {
	c := defaults()

	err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"), &c)
	require.Error(t, err)
}
