package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config is the full process configuration. OpenAI credentials are validated
// at load time: a missing key, endpoint, or model name is a configuration
// error and nothing else may initialize behind it.
type Config struct {
	Server  ServerConfig
	OpenAI  OpenAIConfig
	Storage StorageConfig
	Log     LogConfig
}

type ServerConfig struct {
	Port int
	// APIToken, when set, gates the HTTP API behind bearer auth.
	APIToken string
}

// OpenAIConfig holds Azure OpenAI credentials and deployment names.
type OpenAIConfig struct {
	APIKey     string
	APIBase    string
	APIVersion string
	ChatModel  string
	EmbedModel string
}

type StorageConfig struct {
	// DataDir holds the vector store namespaces (one subdirectory per store).
	DataDir string
	// DatabasePath is the SQLite file queries run against.
	DatabasePath string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4600,
		},
		OpenAI: OpenAIConfig{
			APIVersion: "2024-02-01",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".insightgenix"
	}
	return filepath.Join(home, ".insightgenix")
}

// Load reads configuration from an optional .env file in the working
// directory and from environment variables, then validates the OpenAI
// credentials. Environment variables always win over the .env file.
func Load() (Config, error) {
	// Best effort: a missing .env file is not an error.
	godotenv.Load()

	cfg := defaults()
	applyEnv(&cfg)

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.OpenAI.APIKey, "OPENAI_API_KEY")
	setString(&cfg.OpenAI.APIBase, "OPENAI_API_BASE")
	setString(&cfg.OpenAI.APIVersion, "OPENAI_API_VERSION")
	setString(&cfg.OpenAI.ChatModel, "CHAT_MODEL_NAME")
	setString(&cfg.OpenAI.EmbedModel, "EMBEDDING_MODEL_NAME")
	setString(&cfg.Storage.DataDir, "INSIGHTGENIX_DATA_DIR")
	setString(&cfg.Storage.DatabasePath, "INSIGHTGENIX_DB_FILE")
	setString(&cfg.Log.Level, "INSIGHTGENIX_LOG_LEVEL")
	setString(&cfg.Server.APIToken, "INSIGHTGENIX_API_TOKEN")

	if v := os.Getenv("INSIGHTGENIX_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// validate fails fast on missing credentials so that no component is
// constructed against a half-configured provider.
func validate(cfg Config) error {
	var missing []string
	if cfg.OpenAI.APIKey == "" {
		missing = append(missing, "OPENAI_API_KEY")
	}
	if cfg.OpenAI.APIBase == "" {
		missing = append(missing, "OPENAI_API_BASE")
	}
	if cfg.OpenAI.ChatModel == "" {
		missing = append(missing, "CHAT_MODEL_NAME")
	}
	if cfg.OpenAI.EmbedModel == "" {
		missing = append(missing, "EMBEDDING_MODEL_NAME")
	}
	if len(missing) > 0 {
		return fmt.Errorf(
			"missing required config: %s. Set them as environment variables or in a .env file next to the binary",
			strings.Join(missing, ", "))
	}
	return nil
}
