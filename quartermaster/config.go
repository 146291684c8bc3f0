//nolint:lll // struct tags can't be split
package quartermaster

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gin-contrib/cors"
	openai "github.com/sashabaranov/go-openai"
)

const (
	EnvvarSetEnvPrefix = "QUARTERMASTER_ENV_PREFIX"
	DefaultEnvPrefix   = "QM"

	DefaultDatabaseType = "sqlite"
	DefaultDatabase     = "quartermaster.sqlite3"
	DefaultLogLevel     = slog.LevelInfo

	DefaultStartupTimeout  = 30 * time.Second
	DefaultShutdownTimeout = 60 * time.Second

	DefaultOpenAIChatModel             = openai.GPT4o
	DefaultOpenAIImageModel            = openai.CreateImageModelDallE3
	DefaultOpenAIMaxRequestsPerSecond  = 1
	DefaultClassifierModel             = "@cf/microsoft/resnet-50"
	DefaultDiscordGatewayIntent        = discordgo.IntentsAllWithoutPrivileged
	DefaultDiscordCustomStatus         = "/tag, /imagine, /describe"
	DefaultDiscordStartupMessage       = "I'm here!"
	DefaultDiscordErrorMessage         = "sorry, something went wrong!"
	DefaultDiscordGuildOnlyMessage     = "That only works in a server!"
	DefaultChatPersona                 = "You are Quartermaster, a helpful and slightly sarcastic Discord bot. Keep your answers short enough to fit in a Discord message. "
	DefaultDiscordgoLogLevel           = slog.LevelWarn
	DefaultDiscordLogLevel             = slog.LevelWarn
	DefaultOpenAILogLevel              = slog.LevelInfo
	DefaultClassifierLogLevel          = slog.LevelInfo
	DefaultDatabaseLogLevel            = slog.LevelInfo
	DefaultAPILogLevel                 = slog.LevelInfo
	DefaultDatabaseSlowThreshold       = 200 * time.Millisecond
	DefaultAPIListen                   = "127.0.0.1:5000"
	defaultListenNetwork               = "tcp"
	DefaultReadTimeout                 = 5 * time.Second
	DefaultReadHeaderTimeout           = 5 * time.Second
	DefaultWriteTimeout                = 10 * time.Second
	DefaultIdleTimeout                 = 30 * time.Second
	DefaultAPICORSAllowCredentials     = false
	discordMaxMessageLength            = 2000
	DiscordSlashCommandTag             = "tag"
	DiscordSlashCommandImagine         = "imagine"
	DiscordSlashCommandDescribe        = "describe"
	DefaultImagineCommandDescription   = "Generate an image from a prompt"
	DefaultDescribeCommandDescription  = "Describe an uploaded image"
	DefaultTagCommandDescription       = "Store and retrieve text snippets"
	DefaultClassifierRequestTimeout    = time.Minute
	DefaultOpenAIRequestTimeout        = 2 * time.Minute
)

var (
	DefaultCORSAllowMethods = []string{
		http.MethodGet,
		http.MethodOptions,
		http.MethodHead,
	}
	DefaultCORSAllowHeaders = []string{
		"Origin",
		"Content-Length",
		"Content-Type",
		"Accept",
		"Cache-Control",
	}
	DefaultCORSExposeHeaders = []string{
		"Content-Type",
		"Content-Length",
		"Accept-Encoding",
	}
	DefaultCORSMaxAge = 12 * time.Hour

	// DefaultBannedWords seeds the /imagine prompt filter. Matching is a
	// case-sensitive substring check, same as the prompt filter this
	// replaced.
	DefaultBannedWords = []string{
		"gore",
		"beheading",
		"dismember",
		"nude",
		"naked",
	}
)

// Config is the top-level bot configuration, loaded once at startup.
// Fields tagged `binding:"required"` are validated in
// [Quartermaster.ValidateConfig]; a missing credential is fatal.
type Config struct {
	// Database connection string, or SQLite file path
	Database string `yaml:"database" mapstructure:"database" json:"database"`

	// DatabaseType specifies the type of database, either 'sqlite' or 'postgres'
	DatabaseType string `yaml:"database_type" mapstructure:"database_type" json:"database_type" binding:"oneof=sqlite postgres"`

	// DatabaseLogLevel sets the log level for database operations
	DatabaseLogLevel *slog.LevelVar `yaml:"database_log_level" mapstructure:"database_log_level" json:"database_log_level"`

	// DatabaseSlowThreshold is the duration threshold for identifying slow database queries
	DatabaseSlowThreshold time.Duration `yaml:"database_slow_threshold" mapstructure:"database_slow_threshold" json:"database_slow_threshold"`

	// OpenAI holds the configuration for the chat/image gateway
	OpenAI *OpenAIConfig `yaml:"openai" mapstructure:"openai" json:"openai"`

	// Classifier holds the configuration for the image classification service
	Classifier *ClassifierConfig `yaml:"classifier" mapstructure:"classifier" json:"classifier"`

	// API configures the read-only status API server
	API *APIConfig `yaml:"api" mapstructure:"api" json:"api"`

	// Discord configures aspects of the Discord bot itself
	Discord *DiscordConfig `yaml:"discord" mapstructure:"discord" json:"discord"`

	// LogLevel is the base log level, for the default logger
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// StartupTimeout sets a limit on the amount of time the bot has to
	// initialize. If this is passed, the bot will abort startup.
	StartupTimeout time.Duration `yaml:"startup_timeout" mapstructure:"startup_timeout" json:"startup_timeout"`

	// ShutdownTimeout is the time to allow for a graceful shutdown. After this
	// elapses, the bot will force close all connections and exit.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" json:"shutdown_timeout"`

	HTTPClient *http.Client `log:"[redacted]"`
}

func (c Config) LogValue() slog.Value {
	return structToSlogValue(c)
}

// DiscordConfig configures the discord bot itself.
//
//nolint:lll // can't break tags
type DiscordConfig struct {
	// Discord bot token (from the 'Bot' tab in the discord dev portal)
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" binding:"required"`

	// Discord application ID (from the 'General Information' tab in the discord dev portal)
	ApplicationID string `yaml:"application_id" mapstructure:"application_id" json:"application_id" binding:"required"`

	// GuildID specifies the guild ID used when registering slash commands.
	// Leave empty for commands to be registered as global.
	GuildID string `yaml:"guild_id" mapstructure:"guild_id" json:"guild_id"`

	// NotificationChannelID, if set, receives StartupMessage whenever the
	// bot connects to the discord gateway.
	NotificationChannelID string `yaml:"notification_channel_id" mapstructure:"notification_channel_id" json:"notification_channel_id"`

	// StartupMessage is sent to NotificationChannelID on gateway connect
	StartupMessage string `yaml:"startup_message" mapstructure:"startup_message" json:"startup_message"`

	// CustomStatus is set as the bot user's status on connect
	CustomStatus string `yaml:"custom_status" mapstructure:"custom_status" json:"custom_status"`

	// ErrorMessage is the generic user-facing message sent when an external
	// call fails. The underlying error is only ever logged.
	ErrorMessage string `yaml:"error_message" mapstructure:"error_message" json:"error_message"`

	// Base discord logging level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Log level for the `discordgo` library's logger
	DiscordGoLogLevel *slog.LevelVar `yaml:"discordgo_log_level" mapstructure:"discordgo_log_level" json:"discordgo_log_level"`

	// Discord gateway intents. See: https://discord.com/developers/docs/topics/gateway#gateway-intents
	GatewayIntents discordgo.Intent `yaml:"gateway_intents" mapstructure:"gateway_intents" json:"gateway_intents"`

	httpClient *http.Client
}

// OpenAIConfig configures the OpenAI-compatible gateway used for
// chat completions and image generation.
//
//nolint:lll // can't break tags
type OpenAIConfig struct {
	// API token for the gateway
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" binding:"required"`

	// GatewayURL is the base URL requests are routed through
	// (ex: a Cloudflare AI Gateway endpoint)
	GatewayURL string `yaml:"gateway_url" mapstructure:"gateway_url" json:"gateway_url" binding:"required,url"`

	// ChatModel is the model used for mention-triggered chat replies
	ChatModel string `yaml:"chat_model" mapstructure:"chat_model" json:"chat_model"`

	// ImageModel is the model used for /imagine
	ImageModel string `yaml:"image_model" mapstructure:"image_model" json:"image_model"`

	// Persona is the system prompt prefix for chat replies. The caller's
	// display name is appended at request time.
	Persona string `yaml:"persona" mapstructure:"persona" json:"persona"`

	// BannedWords rejects /imagine prompts before any API call is made.
	// Case-sensitive substring match.
	BannedWords []string `yaml:"banned_words" mapstructure:"banned_words" json:"banned_words"`

	// MaxRequestsPerSecond limits outgoing gateway requests
	MaxRequestsPerSecond int `yaml:"max_requests_per_second" mapstructure:"max_requests_per_second" json:"max_requests_per_second" binding:"min=1"`

	// OpenAI base log level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`
}

// ClassifierConfig configures the image classification service used
// by /describe.
//
//nolint:lll // can't break tags
type ClassifierConfig struct {
	// URL is the base URL of the classification service
	URL string `yaml:"url" mapstructure:"url" json:"url" binding:"required,url"`

	// Token is the bearer credential sent with classification requests
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" binding:"required"`

	// Model is the model path appended to URL
	Model string `yaml:"model" mapstructure:"model" json:"model"`

	// Classifier log level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`
}

// APIConfig configures the read-only status API server
//
//nolint:lll // can't break tags
type APIConfig struct {
	// Enabled determines whether the status API is served at all
	Enabled bool `yaml:"enabled" mapstructure:"enabled" json:"enabled"`

	// The address and port on which the server should listen (e.g., "127.0.0.1:5000").
	Listen string `yaml:"listen" mapstructure:"listen" json:"listen" binding:"required_if=Enabled true,hostname|filepath"`

	// The network type for listening (e.g., "tcp", "tcp4", "tcp6", "unix").
	ListenNetwork string `yaml:"listen_network" mapstructure:"listen_network" json:"listen_network" binding:"required_if=Enabled true,oneof=tcp tcp4 tcp6 unix"`

	// The logging level for the API server.
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Cross-origin configuration
	CORS CORSConfig `yaml:"cors" mapstructure:"cors" json:"cors"`

	// Maximum duration for reading the entire request, including the body.
	ReadTimeout time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" json:"read_timeout" binding:"required_if=Enabled true,min=1s"`

	// Amount of time allowed to read request headers.
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" mapstructure:"read_header_timeout" json:"read_header_timeout"  binding:"required_if=Enabled true,min=1s"`

	// Maximum duration before timing out writes of the response.
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" json:"write_timeout"  binding:"required_if=Enabled true,min=1s"`

	// Maximum amount of time to wait for the next request when keep-alives are enabled.
	IdleTimeout time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" json:"idle_timeout"  binding:"required_if=Enabled true,min=1s"`
}

// CORSConfig specifies cross-origin resource sharing settings
type CORSConfig struct {
	AllowOrigins     []string      `yaml:"allow_origins" mapstructure:"allow_origins" json:"allow_origins"`
	AllowMethods     []string      `yaml:"allow_methods" mapstructure:"allow_methods" json:"allow_methods"`
	AllowHeaders     []string      `yaml:"allow_headers" mapstructure:"allow_headers" json:"allow_headers"`
	ExposeHeaders    []string      `yaml:"expose_headers" mapstructure:"expose_headers" json:"expose_headers"`
	AllowCredentials bool          `yaml:"allow_credentials" mapstructure:"allow_credentials" json:"allow_credentials"`
	MaxAge           time.Duration `yaml:"max_age" mapstructure:"max_age" json:"max_age"`
}

func (c CORSConfig) GINConfig() cors.Config {
	return cors.Config{
		AllowOrigins:     c.AllowOrigins,
		AllowMethods:     c.AllowMethods,
		AllowHeaders:     c.AllowHeaders,
		MaxAge:           c.MaxAge,
		ExposeHeaders:    c.ExposeHeaders,
		AllowCredentials: c.AllowCredentials,
	}
}

func DefaultCORSConfig() CORSConfig {
	defaultMethods := make([]string, len(DefaultCORSAllowMethods))
	copy(defaultMethods, DefaultCORSAllowMethods)

	defaultHeaders := make([]string, len(DefaultCORSAllowHeaders))
	copy(defaultHeaders, DefaultCORSAllowHeaders)

	defaultExpose := make([]string, len(DefaultCORSExposeHeaders))
	copy(defaultExpose, DefaultCORSExposeHeaders)

	return CORSConfig{
		AllowOrigins:     []string{},
		AllowMethods:     defaultMethods,
		AllowHeaders:     defaultHeaders,
		ExposeHeaders:    defaultExpose,
		MaxAge:           DefaultCORSMaxAge,
		AllowCredentials: DefaultAPICORSAllowCredentials,
	}
}

// DefaultConfig returns a Config with all default settings populated
func DefaultConfig() *Config {
	mainLogLevel := &slog.LevelVar{}
	openaiLogLevel := &slog.LevelVar{}
	classifierLogLevel := &slog.LevelVar{}
	discordLogLevel := &slog.LevelVar{}
	discordgoLogLevel := &slog.LevelVar{}
	dbLogLevel := &slog.LevelVar{}
	apiLogLevel := &slog.LevelVar{}

	mainLogLevel.Set(DefaultLogLevel)
	openaiLogLevel.Set(DefaultOpenAILogLevel)
	classifierLogLevel.Set(DefaultClassifierLogLevel)
	discordLogLevel.Set(DefaultDiscordLogLevel)
	discordgoLogLevel.Set(DefaultDiscordgoLogLevel)
	dbLogLevel.Set(DefaultDatabaseLogLevel)
	apiLogLevel.Set(DefaultAPILogLevel)

	bannedWords := make([]string, len(DefaultBannedWords))
	copy(bannedWords, DefaultBannedWords)

	return &Config{
		DatabaseType:          DefaultDatabaseType,
		Database:              DefaultDatabase,
		DatabaseLogLevel:      dbLogLevel,
		DatabaseSlowThreshold: DefaultDatabaseSlowThreshold,
		LogLevel:              mainLogLevel,
		StartupTimeout:        DefaultStartupTimeout,
		ShutdownTimeout:       DefaultShutdownTimeout,
		OpenAI: &OpenAIConfig{
			ChatModel:            DefaultOpenAIChatModel,
			ImageModel:           DefaultOpenAIImageModel,
			Persona:              DefaultChatPersona,
			BannedWords:          bannedWords,
			MaxRequestsPerSecond: DefaultOpenAIMaxRequestsPerSecond,
			LogLevel:             openaiLogLevel,
		},
		Classifier: &ClassifierConfig{
			Model:    DefaultClassifierModel,
			LogLevel: classifierLogLevel,
		},
		Discord: &DiscordConfig{
			GatewayIntents:    DefaultDiscordGatewayIntent,
			LogLevel:          discordLogLevel,
			DiscordGoLogLevel: discordgoLogLevel,
			StartupMessage:    DefaultDiscordStartupMessage,
			CustomStatus:      DefaultDiscordCustomStatus,
			ErrorMessage:      DefaultDiscordErrorMessage,
		},
		API: &APIConfig{
			Enabled:           false,
			Listen:            DefaultAPIListen,
			ListenNetwork:     defaultListenNetwork,
			LogLevel:          apiLogLevel,
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
			ReadTimeout:       DefaultReadTimeout,
			WriteTimeout:      DefaultWriteTimeout,
			IdleTimeout:       DefaultIdleTimeout,
			CORS:              DefaultCORSConfig(),
		},
	}
}
