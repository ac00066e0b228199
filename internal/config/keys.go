package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
)

// keySpec binds a dotted config key to its env var and Config field.
type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "DESKFLOW_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.mcp_stdio", typ: kBool, env: "DESKFLOW_SERVER_MCP_STDIO",
		apply:   func(cfg *Config, v any) { cfg.Server.MCPStdio = v.(bool) },
		extract: func(cfg Config) any { return cfg.Server.MCPStdio },
	},
	{
		key: "ollama.base_url", typ: kString, env: "DESKFLOW_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.fast_model", typ: kString, env: "DESKFLOW_OLLAMA_FAST_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.FastModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.FastModel },
	},
	{
		key: "ollama.embed_model", typ: kString, env: "DESKFLOW_OLLAMA_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.EmbedModel },
	},
	{
		key: "storage.data_dir", typ: kString, env: "DESKFLOW_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "retrieval.top_k", typ: kInt, env: "DESKFLOW_RETRIEVAL_TOP_K",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.TopK = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.TopK },
	},
	{
		key: "retrieval.backends", typ: kString, env: "DESKFLOW_RETRIEVAL_BACKENDS",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.Backends = v.(string) },
		extract: func(cfg Config) any { return cfg.Retrieval.Backends },
	},
	{
		key: "corpus.dir", typ: kString, env: "DESKFLOW_CORPUS_DIR",
		apply:   func(cfg *Config, v any) { cfg.Corpus.Dir = v.(string) },
		extract: func(cfg Config) any { return cfg.Corpus.Dir },
	},
	{
		key: "intent.classifier", typ: kString, env: "DESKFLOW_INTENT_CLASSIFIER",
		apply:   func(cfg *Config, v any) { cfg.Intent.Classifier = v.(string) },
		extract: func(cfg Config) any { return cfg.Intent.Classifier },
	},
	{
		key: "mail.from", typ: kString, env: "DESKFLOW_MAIL_FROM",
		apply:   func(cfg *Config, v any) { cfg.Mail.From = v.(string) },
		extract: func(cfg Config) any { return cfg.Mail.From },
	},
	{
		key: "mail.smtp_host", typ: kString, env: "DESKFLOW_MAIL_SMTP_HOST",
		apply:   func(cfg *Config, v any) { cfg.Mail.SMTPHost = v.(string) },
		extract: func(cfg Config) any { return cfg.Mail.SMTPHost },
	},
	{
		key: "mail.smtp_port", typ: kInt, env: "DESKFLOW_MAIL_SMTP_PORT",
		apply:   func(cfg *Config, v any) { cfg.Mail.SMTPPort = v.(int) },
		extract: func(cfg Config) any { return cfg.Mail.SMTPPort },
	},
	{
		key: "mail.smtp_username", typ: kString, env: "DESKFLOW_MAIL_SMTP_USERNAME",
		apply:   func(cfg *Config, v any) { cfg.Mail.SMTPUsername = v.(string) },
		extract: func(cfg Config) any { return cfg.Mail.SMTPUsername },
	},
	{
		key: "mail.smtp_password", typ: kString, env: "DESKFLOW_MAIL_SMTP_PASSWORD",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Mail.SMTPPassword = v.(string) },
		extract: func(cfg Config) any { return cfg.Mail.SMTPPassword },
	},
	{
		key: "log.level", typ: kString, env: "DESKFLOW_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func lookupSpec(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}

// parseValue converts raw into the Go type the spec expects.
func (s keySpec) parseValue(raw string) (any, error) {
	switch s.typ {
	case kInt:
		i, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid integer value for %s: %w", s.key, err)
		}
		return i, nil
	case kBool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid bool value for %s: %w", s.key, err)
		}
		return b, nil
	}
	return raw, nil
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := s.parseValue(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] ignoring env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}
