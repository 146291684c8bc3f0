package cmd

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"

	"github.com/arcward/quartermaster/quartermaster"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfg        = quartermaster.DefaultConfig()
	configFile string
)

var rootCmd = &cobra.Command{
	Use: "quartermaster [flags]",
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		err := viper.Unmarshal(
			cfg,
			viper.DecodeHook(
				mapstructure.ComposeDecodeHookFunc(
					mapstructure.StringToTimeDurationHookFunc(),
					LevelToStringHookFunc(),
				),
			),
		)
		if err != nil {
			log.Fatalln(err)
		}
	},
}

func getLogLevel(level string) (slog.Level, error) {
	switch level {
	case slog.LevelDebug.String():
		return slog.LevelDebug, nil
	case slog.LevelInfo.String():
		return slog.LevelInfo, nil
	case slog.LevelWarn.String():
		return slog.LevelWarn, nil
	case slog.LevelError.String():
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
}

func LevelToStringHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data any,
	) (any, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		if t.Kind() != reflect.Ptr {
			return data, nil
		}

		typ := t.Elem()

		if typ != reflect.TypeOf(slog.LevelVar{}) {
			return data, nil
		}
		lvl, err := getLogLevel(data.(string))
		if err != nil {
			return nil, fmt.Errorf("invalid log level: %s", data)
		}
		lvlVar := &slog.LevelVar{}
		lvlVar.Set(lvl)
		return lvlVar, nil
	}
}

func Execute() {
	ctx, cancel := context.WithCancel(context.Background())
	rootCmd.SetContext(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(
		signals,
		os.Interrupt,
		syscall.SIGHUP,
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer func() {
		signal.Stop(signals)
		cancel()
	}()
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
			//
		}
	}()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func initConfig() {
	if configFile == "" {
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found")
		}
	} else {
		fmt.Println("loading env from file", configFile)
		if err := godotenv.Load(configFile); err != nil {
			log.Println("No .env file found")
		}
	}

	viper.SetDefault("database", quartermaster.DefaultDatabase)
	viper.SetDefault("database_type", quartermaster.DefaultDatabaseType)
	viper.SetDefault(
		"database_slow_threshold",
		quartermaster.DefaultDatabaseSlowThreshold,
	)
	viper.SetDefault(
		"database_log_level",
		quartermaster.DefaultDatabaseLogLevel.String(),
	)

	viper.SetDefault("log_level", quartermaster.DefaultLogLevel.String())
	viper.SetDefault("startup_timeout", quartermaster.DefaultStartupTimeout)
	viper.SetDefault("shutdown_timeout", quartermaster.DefaultShutdownTimeout)

	// OpenAI config
	viper.SetDefault("openai.log_level", quartermaster.DefaultOpenAILogLevel.String())
	viper.SetDefault("openai.token", "")
	viper.SetDefault("openai.gateway_url", "")
	viper.SetDefault("openai.chat_model", quartermaster.DefaultOpenAIChatModel)
	viper.SetDefault("openai.image_model", quartermaster.DefaultOpenAIImageModel)
	viper.SetDefault("openai.persona", quartermaster.DefaultChatPersona)
	viper.SetDefault("openai.banned_words", quartermaster.DefaultBannedWords)
	viper.SetDefault(
		"openai.max_requests_per_second",
		quartermaster.DefaultOpenAIMaxRequestsPerSecond,
	)

	// Classifier config
	viper.SetDefault(
		"classifier.log_level",
		quartermaster.DefaultClassifierLogLevel.String(),
	)
	viper.SetDefault("classifier.url", "")
	viper.SetDefault("classifier.token", "")
	viper.SetDefault("classifier.model", quartermaster.DefaultClassifierModel)

	// Discord config
	viper.SetDefault("discord.token", "")
	viper.SetDefault("discord.application_id", "")
	viper.SetDefault("discord.guild_id", "")
	viper.SetDefault("discord.notification_channel_id", "")
	viper.SetDefault(
		"discord.log_level",
		quartermaster.DefaultDiscordLogLevel.String(),
	)
	viper.SetDefault(
		"discord.discordgo_log_level",
		quartermaster.DefaultDiscordgoLogLevel.String(),
	)
	viper.SetDefault(
		"discord.gateway_intents",
		quartermaster.DefaultDiscordGatewayIntent,
	)
	viper.SetDefault(
		"discord.startup_message",
		quartermaster.DefaultDiscordStartupMessage,
	)
	viper.SetDefault(
		"discord.custom_status",
		quartermaster.DefaultDiscordCustomStatus,
	)
	viper.SetDefault(
		"discord.error_message",
		quartermaster.DefaultDiscordErrorMessage,
	)

	// API config
	viper.SetDefault("api.enabled", false)
	viper.SetDefault("api.listen", quartermaster.DefaultAPIListen)
	viper.SetDefault("api.listen_network", "tcp")
	viper.SetDefault("api.log_level", quartermaster.DefaultAPILogLevel.String())
	viper.SetDefault("api.read_timeout", quartermaster.DefaultReadTimeout)
	viper.SetDefault(
		"api.read_header_timeout",
		quartermaster.DefaultReadHeaderTimeout,
	)
	viper.SetDefault("api.write_timeout", quartermaster.DefaultWriteTimeout)
	viper.SetDefault("api.idle_timeout", quartermaster.DefaultIdleTimeout)

	// API: CORS config
	viper.SetDefault(
		"api.cors.allow_headers",
		quartermaster.DefaultCORSAllowHeaders,
	)
	viper.SetDefault(
		"api.cors.allow_methods",
		quartermaster.DefaultCORSAllowMethods,
	)
	viper.SetDefault(
		"api.cors.expose_headers",
		quartermaster.DefaultCORSExposeHeaders,
	)
	viper.SetDefault("api.cors.allow_origins", []string{})
	viper.SetDefault("api.cors.max_age", quartermaster.DefaultCORSMaxAge)
	viper.SetDefault(
		"api.cors.allow_credentials",
		quartermaster.DefaultAPICORSAllowCredentials,
	)

	envPrefix := os.Getenv(quartermaster.EnvvarSetEnvPrefix)
	if envPrefix == "" {
		envPrefix = quartermaster.DefaultEnvPrefix
	}
	viper.SetEnvPrefix(envPrefix)

	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()

	// Convert values to correct types
	viper.Set(
		"api.cors.allow_headers",
		viper.GetStringSlice("api.cors.allow_headers"),
	)
	viper.Set(
		"api.cors.allow_origins",
		viper.GetStringSlice("api.cors.allow_origins"),
	)
	viper.Set(
		"api.cors.allow_methods",
		viper.GetStringSlice("api.cors.allow_methods"),
	)
	viper.Set(
		"api.cors.expose_headers",
		viper.GetStringSlice("api.cors.expose_headers"),
	)
	viper.Set(
		"openai.banned_words",
		viper.GetStringSlice("openai.banned_words"),
	)

	for _, levelKey := range []string{
		"log_level",
		"database_log_level",
		"discord.log_level",
		"discord.discordgo_log_level",
		"openai.log_level",
		"classifier.log_level",
		"api.log_level",
	} {
		logLevelVar, err := levelStringToLevelVar(viper.GetString(levelKey))
		if err != nil {
			log.Fatalf("error parsing %s: %v", levelKey, err)
		}
		viper.Set(levelKey, logLevelVar)
	}
}

func levelStringToLevelVar(lvl string) (*slog.LevelVar, error) {
	level := &slog.LevelVar{}
	err := level.UnmarshalText([]byte(lvl))
	return level, err
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(
		&configFile,
		"config",
		"",
		"Config file to use",
	)
}
