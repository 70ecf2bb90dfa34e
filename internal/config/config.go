// Package config loads and validates the application configuration.
package config

import (
	"errors"
	"fmt"

	"github.com/spf13/viper"
)

// Conf holds all settings loaded from the configuration file.
var Conf Config

// Config mirrors the structure of configs/config.yaml.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	JWT           JWTConfig           `mapstructure:"jwt"`
	Log           LogConfig           `mapstructure:"log"`
	Notify        NotifyConfig        `mapstructure:"notify"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Tenancy       TenancyConfig       `mapstructure:"tenancy"`
	Retrieval     RetrievalConfig     `mapstructure:"retrieval"`
	Conversation  ConversationConfig  `mapstructure:"conversation"`
	Escalation    EscalationConfig    `mapstructure:"escalation"`
}

// ServerConfig stores HTTP server settings.
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig stores all datastore connection settings.
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig stores the MySQL DSN.
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig stores Redis connection settings.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// JWTConfig stores token signing settings.
type JWTConfig struct {
	Secret                 string `mapstructure:"secret"`
	AccessTokenExpireHours int    `mapstructure:"access_token_expire_hours"`
	RefreshTokenExpireDays int    `mapstructure:"refresh_token_expire_days"`
}

// LogConfig stores logging settings.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// NotifyConfig stores the reviewer notification channel settings.
type NotifyConfig struct {
	Brokers      string `mapstructure:"brokers"`
	Topic        string `mapstructure:"topic"`
	RepliesTopic string `mapstructure:"replies_topic"`
	ChannelID    string `mapstructure:"channel_id"`
}

// ElasticsearchConfig stores knowledge index settings. The per-tenant index
// name is IndexPrefix + "_" + schema.
type ElasticsearchConfig struct {
	Addresses   string `mapstructure:"addresses"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	IndexPrefix string `mapstructure:"index_prefix"`
}

// MinIOConfig stores object storage settings for transcript archives.
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// EmbeddingConfig stores embedding service settings.
type EmbeddingConfig struct {
	APIKey     string `mapstructure:"api_key"`
	BaseURL    string `mapstructure:"base_url"`
	Model      string `mapstructure:"model"`
	Dimensions int    `mapstructure:"dimensions"`
	TimeoutSec int    `mapstructure:"timeout_sec"`
	MaxRetries int    `mapstructure:"max_retries"`
}

// LLMConfig stores completion service settings.
type LLMConfig struct {
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Model      string              `mapstructure:"model"`
	TimeoutSec int                 `mapstructure:"timeout_sec"`
	MaxRetries int                 `mapstructure:"max_retries"`
	Generation LLMGenerationConfig `mapstructure:"generation"`
	Prompt     LLMPromptConfig     `mapstructure:"prompt"`
}

// LLMGenerationConfig holds optional generation parameters.
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// LLMPromptConfig holds prompt text overrides. Empty fields fall back to
// built-in defaults in the answer service.
type LLMPromptConfig struct {
	Rules            string `mapstructure:"rules"`
	RefStart         string `mapstructure:"ref_start"`
	RefEnd           string `mapstructure:"ref_end"`
	NoResultText     string `mapstructure:"no_result_text"`
	EscalationPhrase string `mapstructure:"escalation_phrase"`
	RefusalPhrase    string `mapstructure:"refusal_phrase"`
}

// TenancyConfig stores the tenant schema registry and the fallback schema used
// when an inbound correlation token lacks a schema segment.
type TenancyConfig struct {
	DefaultSchema string   `mapstructure:"default_schema"`
	Schemas       []string `mapstructure:"schemas"`
}

// RetrievalConfig stores knowledge search settings.
type RetrievalConfig struct {
	MinSimilarity float64 `mapstructure:"min_similarity"`
	TopK          int     `mapstructure:"top_k"`
}

// ConversationConfig stores conversation store limits.
type ConversationConfig struct {
	MaxStoredTurns  int `mapstructure:"max_stored_turns"`
	MaxContextTurns int `mapstructure:"max_context_turns"`
	SessionTTLHours int `mapstructure:"session_ttl_hours"`
}

// EscalationConfig stores the escalation policy.
//
// Trigger accepts "no_knowledge" (default), "poor_match" or "low_confidence".
// The default is the narrowest trigger: it keeps reviewer notification volume
// down and trusts the model to use whatever weak signal exists.
type EscalationConfig struct {
	Enabled             bool    `mapstructure:"enabled"`
	Trigger             string  `mapstructure:"trigger"`
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
	MaxAnswerPreviewLen int     `mapstructure:"max_answer_preview_len"`
}

// Init reads the YAML file at configPath into Conf.
func Init(configPath string) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("failed to read config file: %w", err))
	}

	if err := viper.Unmarshal(&Conf); err != nil {
		panic(fmt.Errorf("failed to unmarshal config: %w", err))
	}

	applyDefaults(&Conf)
}

func applyDefaults(c *Config) {
	if c.Retrieval.MinSimilarity == 0 {
		c.Retrieval.MinSimilarity = 0.4
	}
	if c.Retrieval.TopK == 0 {
		c.Retrieval.TopK = 5
	}
	if c.Conversation.MaxStoredTurns == 0 {
		c.Conversation.MaxStoredTurns = 20
	}
	if c.Conversation.MaxContextTurns == 0 {
		c.Conversation.MaxContextTurns = 10
	}
	if c.Conversation.SessionTTLHours == 0 {
		c.Conversation.SessionTTLHours = 24
	}
	if c.Escalation.Trigger == "" {
		c.Escalation.Trigger = "no_knowledge"
	}
	if c.Escalation.ConfidenceThreshold == 0 {
		c.Escalation.ConfidenceThreshold = 0.5
	}
	if c.Escalation.MaxAnswerPreviewLen == 0 {
		c.Escalation.MaxAnswerPreviewLen = 500
	}
	if c.Embedding.MaxRetries == 0 {
		c.Embedding.MaxRetries = 3
	}
	if c.LLM.MaxRetries == 0 {
		c.LLM.MaxRetries = 2
	}
	if c.Embedding.TimeoutSec == 0 {
		c.Embedding.TimeoutSec = 15
	}
	if c.LLM.TimeoutSec == 0 {
		c.LLM.TimeoutSec = 60
	}
}

// Validate enforces the fatal-configuration rule: the service refuses to start
// without the credentials its external calls depend on.
func Validate(c *Config) error {
	if c.Embedding.APIKey == "" || c.Embedding.BaseURL == "" {
		return errors.New("embedding api_key and base_url are required")
	}
	if c.LLM.APIKey == "" || c.LLM.BaseURL == "" {
		return errors.New("llm api_key and base_url are required")
	}
	if c.JWT.Secret == "" {
		return errors.New("jwt secret is required")
	}
	if c.Tenancy.DefaultSchema == "" {
		return errors.New("tenancy default_schema is required")
	}
	switch c.Escalation.Trigger {
	case "no_knowledge", "poor_match", "low_confidence":
	default:
		return fmt.Errorf("unknown escalation trigger %q", c.Escalation.Trigger)
	}
	return nil
}
