package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/arcward/quartermaster/quartermaster"
	"github.com/bwmarrin/discordgo"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertLogLevel(t testing.TB, expected slog.Level, v any) {
	t.Helper()

	lvl, ok := v.(*slog.LevelVar)
	require.Truef(t, ok, "could not convert %#v (%T) to *slog.LevelVar", v, v)
	assert.Equal(t, expected, lvl.Level())
}

func TestLoadConfigFromEnvFile(t *testing.T) {
	// Save the original environment
	originalEnv := os.Environ()
	t.Cleanup(
		func() {
			os.Clearenv()
			for _, envVar := range originalEnv {
				parts := strings.SplitN(envVar, "=", 2)
				os.Setenv(parts[0], parts[1])
			}
		},
	)

	// Clear the environment before the test
	os.Clearenv()

	tmpdir := t.TempDir()

	// Set up the test environment file
	envFile := filepath.Join(tmpdir, "test.env")

	envContent := `
# General/database config

QM_DATABASE=/home/foo/quartermaster.sqlite3
QM_DATABASE_TYPE=sqlite
QM_DATABASE_LOG_LEVEL=INFO
QM_DATABASE_SLOW_THRESHOLD=200ms
QM_LOG_LEVEL=INFO
QM_STARTUP_TIMEOUT=30s
QM_SHUTDOWN_TIMEOUT=60s

# OpenAI gateway config

QM_OPENAI_TOKEN=your-gateway-token
QM_OPENAI_GATEWAY_URL=https://gateway.example.com/v1
QM_OPENAI_LOG_LEVEL=INFO
QM_OPENAI_CHAT_MODEL=gpt-4o
QM_OPENAI_MAX_REQUESTS_PER_SECOND=2

# Classifier config

QM_CLASSIFIER_URL=https://classifier.example.com
QM_CLASSIFIER_TOKEN=your-classifier-token
QM_CLASSIFIER_MODEL=@cf/microsoft/resnet-50
QM_CLASSIFIER_LOG_LEVEL=DEBUG

# Discord bot config

QM_DISCORD_TOKEN=your-discord-bot-token
QM_DISCORD_APPLICATION_ID=your-discord-bot-app-id
QM_DISCORD_GUILD_ID=
QM_DISCORD_NOTIFICATION_CHANNEL_ID=12345
QM_DISCORD_LOG_LEVEL=WARN
QM_DISCORD_DISCORDGO_LOG_LEVEL=WARN
QM_DISCORD_STARTUP_MESSAGE="I'm here!"
QM_DISCORD_GATEWAY_INTENTS=3243773

# Status API server

QM_API_ENABLED=true
QM_API_LISTEN=127.0.0.1:5000
QM_API_LOG_LEVEL=DEBUG
QM_API_CORS_ALLOW_ORIGINS=https://127.0.0.1:5000 https://localhost:5000
QM_API_CORS_ALLOW_METHODS=GET OPTIONS HEAD
QM_API_READ_TIMEOUT=5s
QM_API_READ_HEADER_TIMEOUT=5s
QM_API_WRITE_TIMEOUT=10s
QM_API_IDLE_TIMEOUT=30s
`

	err := os.WriteFile(envFile, []byte(envContent), 0644)
	assert.NoError(t, err)

	rootCmd.SetArgs([]string{fmt.Sprintf("--config=%s", envFile), "version"})
	require.NoError(t, rootCmd.Execute())

	assert.Equal(t, "/home/foo/quartermaster.sqlite3", cfg.Database)
	assert.Equal(t, "/home/foo/quartermaster.sqlite3", viper.GetString("database"))
	assert.Equal(t, "sqlite", viper.GetString("database_type"))

	assertLogLevel(t, slog.LevelInfo, viper.Get("database_log_level"))

	assert.Equal(t, 200*time.Millisecond, viper.GetDuration("database_slow_threshold"))
	assertLogLevel(t, slog.LevelInfo, viper.Get("log_level"))
	assert.Equal(t, 30*time.Second, viper.GetDuration("startup_timeout"))
	assert.Equal(t, 60*time.Second, viper.GetDuration("shutdown_timeout"))

	assert.Equal(t, "your-gateway-token", viper.GetString("openai.token"))
	assert.Equal(
		t,
		"https://gateway.example.com/v1",
		viper.GetString("openai.gateway_url"),
	)
	assertLogLevel(t, slog.LevelInfo, viper.Get("openai.log_level"))
	assert.Equal(t, 2, viper.GetInt("openai.max_requests_per_second"))

	assert.Equal(
		t,
		"https://classifier.example.com",
		viper.GetString("classifier.url"),
	)
	assert.Equal(t, "your-classifier-token", viper.GetString("classifier.token"))
	assert.Equal(t, "@cf/microsoft/resnet-50", viper.GetString("classifier.model"))
	assertLogLevel(t, slog.LevelDebug, viper.Get("classifier.log_level"))

	assert.Equal(t, "your-discord-bot-token", viper.GetString("discord.token"))
	assert.Equal(t, "your-discord-bot-app-id", viper.GetString("discord.application_id"))
	assert.Equal(t, "", viper.GetString("discord.guild_id"))
	assert.Equal(t, "12345", viper.GetString("discord.notification_channel_id"))

	assertLogLevel(t, slog.LevelWarn, viper.Get("discord.log_level"))
	assertLogLevel(t, slog.LevelWarn, viper.Get("discord.discordgo_log_level"))
	assert.Equal(t, "I'm here!", viper.GetString("discord.startup_message"))
	assert.Equal(t, 3243773, viper.GetInt("discord.gateway_intents"))

	assert.True(t, viper.GetBool("api.enabled"))
	assert.Equal(t, "127.0.0.1:5000", viper.GetString("api.listen"))
	assertLogLevel(t, slog.LevelDebug, viper.Get("api.log_level"))
	assert.Equal(t, slog.LevelDebug, cfg.API.LogLevel.Level())
	assert.Equal(
		t,
		[]string{"https://127.0.0.1:5000", "https://localhost:5000"},
		viper.GetStringSlice("api.cors.allow_origins"),
	)
	assert.Equal(
		t,
		[]string{"GET", "OPTIONS", "HEAD"},
		viper.GetStringSlice("api.cors.allow_methods"),
	)
	assert.Equal(t, 12*time.Hour, viper.GetDuration("api.cors.max_age"))
	assert.Equal(t, 5*time.Second, viper.GetDuration("api.read_timeout"))
	assert.Equal(t, 5*time.Second, viper.GetDuration("api.read_header_timeout"))
	assert.Equal(t, 10*time.Second, viper.GetDuration("api.write_timeout"))
	assert.Equal(t, 30*time.Second, viper.GetDuration("api.idle_timeout"))

	// Unmarshal the configuration into a quartermaster.Config struct
	var config quartermaster.Config
	err = viper.Unmarshal(
		&config, viper.DecodeHook(
			mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				LevelToStringHookFunc(),
			),
		),
	)
	assert.NoError(t, err)

	// Verify some key fields in the Config struct
	assert.Equal(t, "/home/foo/quartermaster.sqlite3", config.Database)
	assert.Equal(t, "sqlite", config.DatabaseType)
	assert.Equal(t, slog.LevelInfo, config.DatabaseLogLevel.Level())
	assert.Equal(t, 200*time.Millisecond, config.DatabaseSlowThreshold)
	assert.Equal(t, slog.LevelInfo, config.LogLevel.Level())
	assert.Equal(t, 30*time.Second, config.StartupTimeout)
	assert.Equal(t, 60*time.Second, config.ShutdownTimeout)

	assert.Equal(t, "your-gateway-token", config.OpenAI.Token)
	assert.Equal(t, "https://gateway.example.com/v1", config.OpenAI.GatewayURL)
	assert.Equal(t, slog.LevelInfo, config.OpenAI.LogLevel.Level())
	assert.Equal(t, "gpt-4o", config.OpenAI.ChatModel)
	assert.Equal(t, 2, config.OpenAI.MaxRequestsPerSecond)

	assert.Equal(t, "https://classifier.example.com", config.Classifier.URL)
	assert.Equal(t, "your-classifier-token", config.Classifier.Token)
	assert.Equal(t, "@cf/microsoft/resnet-50", config.Classifier.Model)

	assert.Equal(t, "your-discord-bot-token", config.Discord.Token)
	assert.Equal(t, "your-discord-bot-app-id", config.Discord.ApplicationID)
	assert.Equal(t, "", config.Discord.GuildID)
	assert.Equal(t, "12345", config.Discord.NotificationChannelID)
	assert.Equal(t, slog.LevelWarn, config.Discord.LogLevel.Level())
	assert.Equal(t, slog.LevelWarn, config.Discord.DiscordGoLogLevel.Level())
	assert.Equal(t, "I'm here!", config.Discord.StartupMessage)
	assert.Equal(t, discordgo.Intent(3243773), config.Discord.GatewayIntents)

	assert.True(t, config.API.Enabled)
	assert.Equal(t, "127.0.0.1:5000", config.API.Listen)
	assert.Equal(t, slog.LevelDebug, config.API.LogLevel.Level())
	assert.Equal(
		t,
		[]string{"https://127.0.0.1:5000", "https://localhost:5000"},
		config.API.CORS.AllowOrigins,
	)
	assert.Equal(
		t,
		[]string{"GET", "OPTIONS", "HEAD"},
		config.API.CORS.AllowMethods,
	)
}
