package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

type Config struct {
	Twitter   TwitterConfig
	OpenAI    OpenAIConfig
	Replicate ReplicateConfig
	Redis     RedisConfig

	PostgresURL        string
	PostgresSecretPath string

	PostInterval time.Duration
	StatusPort   int

	LogLevel        log.Level
	LogFormat       LogFormat
	TestModeEnabled bool
}

type TwitterConfig struct {
	BotUserName      string
	SecretPath       string
	Secrets          TwitterSecretData // populated from env when no secret path is set
	TimelinePageSize int
}

type OpenAIConfig struct {
	APIKey string
}

type ReplicateConfig struct {
	APIToken string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
}

func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type LogFormat string

const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

type EnvfileKey string

const (
	// Postgres connection string to use for database connections
	EnvfileKeyPostgresURL = "POSTGRES_URL"
	// AWS Secrets Manager path where Postgres connection string can be found
	EnvfileKeyPostgresSecretsPath = "POSTGRES_SECRETS_PATH"

	// AWS Secrets Manager path where X API secrets can be found.
	// When unset, the five TWITTER_* credential keys below are required.
	EnvfileKeyTwitterSecretPath = "TWITTER_SECRETS_PATH"
	// X username of the bot, used for tracking mentions
	EnvfileKeyTwitterUserName = "TWITTER_USERNAME"
	// Number of posts to request per call to the timeline mentions endpoint
	EnvfileKeyTwitterTimelinePageSize = "TWITTER_TIMELINE_PAGE_SIZE"

	EnvfileKeyTwitterBearerToken       = "TWITTER_BEARER_TOKEN"
	EnvfileKeyTwitterAPIKey            = "TWITTER_API_KEY"
	EnvfileKeyTwitterAPISecret         = "TWITTER_API_SECRET"
	EnvfileKeyTwitterAccessToken       = "TWITTER_ACCESS_TOKEN"
	EnvfileKeyTwitterAccessTokenSecret = "TWITTER_ACCESS_TOKEN_SECRET"

	// API key for text generation and content analysis
	EnvfileKeyOpenAIAPIKey = "OPENAI_API_KEY"
	// API token for image generation
	EnvfileKeyReplicateAPIToken = "REPLICATE_API_TOKEN"

	// Redis connection for the mention task queue
	EnvfileKeyRedisHost     = "REDIS_HOST"
	EnvfileKeyRedisPort     = "REDIS_PORT"
	EnvfileKeyRedisPassword = "REDIS_PASSWORD"

	// Seconds between scheduled posts (default 14400, i.e. 4 hours)
	EnvfileKeyPostInterval = "POST_INTERVAL"
	// Port for the status/healthcheck HTTP server (default 8080)
	EnvfileKeyStatusPort = "STATUS_PORT"

	// Log level (e.g. "debug", "info", "warn", "error")
	EnvfileKeyLogLevel = "LOG_LEVEL"
	// Log output format (e.g. "text", "json")
	EnvfileKeyLogFormat = "LOG_FORMAT"
	// Enables "test mode" (server simulates posting, etc.)
	EnvfileKeyTestMode = "TEST_MODE"
)

const defaultPostInterval = 4 * time.Hour

// FromEnvfile loads configuration from a .env file with plain environment
// variables taking precedence. The process refuses to start when a
// required credential or connection value is missing.
func FromEnvfile() Config {
	viper.AddConfigPath(".")
	viper.SetConfigName(".env")
	viper.SetConfigType("dotenv")

	err := viper.ReadInConfig()
	if err != nil {
		log.Fatalf("error reading config: %v", err)
	}

	twitterUsername := getConfigString(EnvfileKeyTwitterUserName)
	if twitterUsername == "" {
		log.Fatalf("must supply username for bot")
	}

	twitterSecretPath := getConfigString(EnvfileKeyTwitterSecretPath)
	var twitterSecrets TwitterSecretData
	if twitterSecretPath == "" {
		twitterSecrets = TwitterSecretData{
			BearerToken:       getConfigString(EnvfileKeyTwitterBearerToken),
			ConsumerKey:       getConfigString(EnvfileKeyTwitterAPIKey),
			ConsumerSecret:    getConfigString(EnvfileKeyTwitterAPISecret),
			AccessToken:       getConfigString(EnvfileKeyTwitterAccessToken),
			AccessTokenSecret: getConfigString(EnvfileKeyTwitterAccessTokenSecret),
		}
		requireAll(map[string]string{
			EnvfileKeyTwitterBearerToken:       twitterSecrets.BearerToken,
			EnvfileKeyTwitterAPIKey:            twitterSecrets.ConsumerKey,
			EnvfileKeyTwitterAPISecret:         twitterSecrets.ConsumerSecret,
			EnvfileKeyTwitterAccessToken:       twitterSecrets.AccessToken,
			EnvfileKeyTwitterAccessTokenSecret: twitterSecrets.AccessTokenSecret,
		})
	}

	openAIKey := getConfigString(EnvfileKeyOpenAIAPIKey)
	replicateToken := getConfigString(EnvfileKeyReplicateAPIToken)
	requireAll(map[string]string{
		EnvfileKeyOpenAIAPIKey:      openAIKey,
		EnvfileKeyReplicateAPIToken: replicateToken,
	})

	redisHost := getConfigString(EnvfileKeyRedisHost)
	redisPort := getConfigInt(EnvfileKeyRedisPort)
	redisPassword := getConfigString(EnvfileKeyRedisPassword)
	if redisHost == "" || redisPort == 0 {
		log.Fatal("redis not configured")
	}

	twitterTimelineSize := getConfigInt(EnvfileKeyTwitterTimelinePageSize)
	if twitterTimelineSize == 0 {
		// Default to 5 if not set
		twitterTimelineSize = 5
	}

	postInterval := defaultPostInterval
	if seconds := getConfigInt(EnvfileKeyPostInterval); seconds > 0 {
		postInterval = time.Duration(seconds) * time.Second
	}

	statusPort := getConfigInt(EnvfileKeyStatusPort)
	if statusPort == 0 {
		statusPort = 8080
	}

	logLevel, err := log.ParseLevel(getConfigString(EnvfileKeyLogLevel))
	if err != nil {
		// Default to info level but log a warning
		log.Warnf("unable to parse log level: %v", err)
		logLevel = log.InfoLevel
	}

	logFormat, err := parseLogFormat(getConfigString(EnvfileKeyLogFormat))
	if err != nil {
		// Default to text formatter but log a warning
		log.Warnf("unable to parse log format: %v", err)
		logFormat = LogFormatText
	}

	postgresURL := getConfigString(EnvfileKeyPostgresURL)
	postgresSecretsPath := getConfigString(EnvfileKeyPostgresSecretsPath)
	if postgresURL == "" && postgresSecretsPath == "" {
		log.Fatal("postgres not configured")
	}

	isTestMode := viper.GetBool(EnvfileKeyTestMode)

	return Config{
		Twitter: TwitterConfig{
			BotUserName:      twitterUsername,
			SecretPath:       twitterSecretPath,
			Secrets:          twitterSecrets,
			TimelinePageSize: twitterTimelineSize,
		},
		OpenAI: OpenAIConfig{
			APIKey: openAIKey,
		},
		Replicate: ReplicateConfig{
			APIToken: replicateToken,
		},
		Redis: RedisConfig{
			Host:     redisHost,
			Port:     redisPort,
			Password: redisPassword,
		},
		PostgresURL:        postgresURL,
		PostgresSecretPath: postgresSecretsPath,
		PostInterval:       postInterval,
		StatusPort:         statusPort,
		LogLevel:           logLevel,
		LogFormat:          logFormat,
		TestModeEnabled:    isTestMode,
	}
}

func requireAll(values map[string]string) {
	var missing []string
	for key, value := range values {
		if value == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		log.Fatalf("missing required configuration: %s", strings.Join(missing, ", "))
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(raw) {
	case LogFormatJSON:
		return LogFormatJSON, nil
	case LogFormatText:
		return LogFormatText, nil
	default:
		return "", fmt.Errorf("unidentified log format: %s", raw)
	}
}

// Gets a config value as a string from env vars or a .env file
func getConfigString(key string) string {
	value := os.Getenv(key)
	if value == "" {
		value = viper.GetString(key)
	}
	return value
}

// Gets a config value as an int from env vars or a .env file
func getConfigInt(key string) int {
	envVarValue := os.Getenv(key)
	if envVarValue == "" {
		return viper.GetInt(key)
	}
	value, err := strconv.Atoi(envVarValue)
	if err != nil {
		return 0
	}
	return value
}
