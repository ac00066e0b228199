package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/joho/godotenv"
)

// ErrInvalid is returned when a loaded value fails validation.
var ErrInvalid = errors.New("invalid config")

type Config struct {
	Server    ServerConfig
	Ollama    OllamaConfig
	Storage   StorageConfig
	Retrieval RetrievalConfig
	Corpus    CorpusConfig
	Intent    IntentConfig
	Mail      MailConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port     int
	MCPStdio bool
}

type OllamaConfig struct {
	BaseURL    string
	FastModel  string
	EmbedModel string
}

type StorageConfig struct {
	DataDir string
}

type RetrievalConfig struct {
	TopK int
	// Backends is a comma-separated preference list of "vector" and "keyword".
	Backends string
}

// BackendList returns the configured backends in preference order.
func (r RetrievalConfig) BackendList() []string {
	var out []string
	for _, b := range strings.Split(r.Backends, ",") {
		if b = strings.TrimSpace(strings.ToLower(b)); b != "" {
			out = append(out, b)
		}
	}
	return out
}

type CorpusConfig struct {
	Dir string
}

type IntentConfig struct {
	Classifier string
}

type MailConfig struct {
	From         string
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
}

type LogConfig struct {
	Level string
}

// SlogLevel maps Level onto slog; unknown values mean info.
func (l LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		Ollama: OllamaConfig{
			BaseURL:    "http://localhost:11434",
			FastModel:  "phi3.5",
			EmbedModel: "nomic-embed-text",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Retrieval: RetrievalConfig{
			TopK:     5,
			Backends: "vector,keyword",
		},
		Corpus: CorpusConfig{
			Dir: "sample_docs",
		},
		Intent: IntentConfig{
			Classifier: "keyword",
		},
		Mail: MailConfig{
			From:     "support@deskflow.local",
			SMTPPort: 587,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from, in increasing precedence: built-in
// defaults, the JSON file at $XDG_CONFIG_HOME/deskflow/config.json, and
// environment variables (DESKFLOW_*). A .env file in the working directory
// is loaded into the environment first without overriding variables that
// are already set. Secrets are read from the environment only.
func Load() (Config, error) {
	_ = godotenv.Load()
	return loadWith(newPlatformBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: server.port %d out of range", ErrInvalid, c.Server.Port)
	}
	if c.Retrieval.TopK <= 0 {
		return fmt.Errorf("%w: retrieval.top_k must be positive, got %d", ErrInvalid, c.Retrieval.TopK)
	}
	backends := c.Retrieval.BackendList()
	if len(backends) == 0 {
		return fmt.Errorf("%w: retrieval.backends is empty", ErrInvalid)
	}
	for _, b := range backends {
		if b != "vector" && b != "keyword" {
			return fmt.Errorf("%w: unknown retrieval backend %q", ErrInvalid, b)
		}
	}
	switch c.Intent.Classifier {
	case "keyword", "llm":
	default:
		return fmt.Errorf("%w: intent.classifier must be keyword or llm, got %q", ErrInvalid, c.Intent.Classifier)
	}
	if c.Mail.SMTPHost != "" && (c.Mail.SMTPPort <= 0 || c.Mail.SMTPPort > 65535) {
		return fmt.Errorf("%w: mail.smtp_port %d out of range", ErrInvalid, c.Mail.SMTPPort)
	}
	return nil
}
