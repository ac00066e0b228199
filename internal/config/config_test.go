package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// unsetEnv clears key for the test and restores it afterwards.
func unsetEnv(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	os.Unsetenv(key)
}

// TestDefaults verifies all default values are applied when no config file exists.
func TestDefaults(t *testing.T) {
	cfg, err := loadWith(newFileBackend(filepath.Join(t.TempDir(), "missing.json")))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4100 {
		t.Errorf("Server.Port = %d, want 4100", cfg.Server.Port)
	}
	if cfg.Server.MCPStdio {
		t.Error("Server.MCPStdio = true, want false")
	}
	if cfg.Ollama.BaseURL != "http://localhost:11434" {
		t.Errorf("Ollama.BaseURL = %q", cfg.Ollama.BaseURL)
	}
	if cfg.Ollama.EmbedModel != "nomic-embed-text" {
		t.Errorf("Ollama.EmbedModel = %q", cfg.Ollama.EmbedModel)
	}
	if cfg.Retrieval.TopK != 5 {
		t.Errorf("Retrieval.TopK = %d, want 5", cfg.Retrieval.TopK)
	}
	if got := cfg.Retrieval.BackendList(); len(got) != 2 || got[0] != "vector" || got[1] != "keyword" {
		t.Errorf("BackendList = %v, want [vector keyword]", got)
	}
	if cfg.Corpus.Dir != "sample_docs" {
		t.Errorf("Corpus.Dir = %q", cfg.Corpus.Dir)
	}
	if cfg.Intent.Classifier != "keyword" {
		t.Errorf("Intent.Classifier = %q", cfg.Intent.Classifier)
	}
	if cfg.Mail.SMTPPort != 587 || cfg.Mail.SMTPHost != "" {
		t.Errorf("Mail = %+v", cfg.Mail)
	}
	if cfg.Log.SlogLevel() != slog.LevelInfo {
		t.Errorf("log level = %v, want info", cfg.Log.SlogLevel())
	}
}

func TestFileBackendValues(t *testing.T) {
	path := writeTempConfig(t, `{
  "server.port": 5100,
  "server.mcp_stdio": true,
  "storage.data_dir": "/tmp/deskflow-test",
  "retrieval.backends": "keyword",
  "intent.classifier": "llm",
  "mail.smtp_host": "smtp.example.com",
  "mail.smtp_port": "2525",
  "mail.smtp_password": "ignored"
}`)

	cfg, err := loadWith(newFileBackend(path))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 5100 || !cfg.Server.MCPStdio {
		t.Errorf("Server = %+v", cfg.Server)
	}
	if cfg.Storage.DataDir != "/tmp/deskflow-test" {
		t.Errorf("DataDir = %q", cfg.Storage.DataDir)
	}
	if got := cfg.Retrieval.BackendList(); len(got) != 1 || got[0] != "keyword" {
		t.Errorf("BackendList = %v", got)
	}
	if cfg.Intent.Classifier != "llm" {
		t.Errorf("Classifier = %q", cfg.Intent.Classifier)
	}
	if cfg.Mail.SMTPHost != "smtp.example.com" || cfg.Mail.SMTPPort != 2525 {
		t.Errorf("Mail = %+v", cfg.Mail)
	}
	if cfg.Mail.SMTPPassword != "" {
		t.Error("secret was read from the config file")
	}
}

func TestEnvOverride(t *testing.T) {
	path := writeTempConfig(t, `{"server.port": 5100}`)
	t.Setenv("DESKFLOW_SERVER_PORT", "9999")
	t.Setenv("DESKFLOW_LOG_LEVEL", "debug")
	t.Setenv("DESKFLOW_MAIL_SMTP_PASSWORD", "hunter2")
	t.Setenv("DESKFLOW_RETRIEVAL_TOP_K", "not-a-number")

	cfg, err := loadWith(newFileBackend(path))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("Server.Port = %d, want 9999", cfg.Server.Port)
	}
	if cfg.Log.SlogLevel() != slog.LevelDebug {
		t.Errorf("log level = %v, want debug", cfg.Log.SlogLevel())
	}
	if cfg.Mail.SMTPPassword != "hunter2" {
		t.Error("secret not read from environment")
	}
	if cfg.Retrieval.TopK != 5 {
		t.Errorf("unparseable env value applied: TopK = %d", cfg.Retrieval.TopK)
	}
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name string
		file string
	}{
		{"port out of range", `{"server.port": 70000}`},
		{"zero top_k", `{"retrieval.top_k": 0}`},
		{"unknown backend", `{"retrieval.backends": "vector,bm25"}`},
		{"empty backends", `{"retrieval.backends": " , "}`},
		{"unknown classifier", `{"intent.classifier": "regex"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadWith(newFileBackend(writeTempConfig(t, tt.file)))
			if !errors.Is(err, ErrInvalid) {
				t.Errorf("error = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestInvalidIntegerInFile(t *testing.T) {
	path := writeTempConfig(t, `{"server.port": 41.5}`)
	if _, err := loadWith(newFileBackend(path)); err == nil {
		t.Fatal("expected error for non-integer port")
	}
}

func TestSetKeyRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deskflow", "config.json")
	b := newFileBackend(path)

	if err := setKeyWith(b, "server.port", "4300"); err != nil {
		t.Fatalf("set port: %v", err)
	}
	if err := setKeyWith(b, "server.mcp_stdio", "true"); err != nil {
		t.Fatalf("set mcp_stdio: %v", err)
	}
	if err := setKeyWith(b, "corpus.dir", "/srv/docs"); err != nil {
		t.Fatalf("set corpus: %v", err)
	}

	cfg, err := loadWith(newFileBackend(path))
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if cfg.Server.Port != 4300 || !cfg.Server.MCPStdio || cfg.Corpus.Dir != "/srv/docs" {
		t.Errorf("reloaded cfg = %+v", cfg)
	}
}

func TestSetKeyRejects(t *testing.T) {
	b := newFileBackend(filepath.Join(t.TempDir(), "config.json"))

	if err := setKeyWith(b, "proxy.default_model", "x"); err == nil {
		t.Error("unknown key accepted")
	}
	if err := setKeyWith(b, "mail.smtp_password", "x"); err == nil {
		t.Error("secret accepted")
	}
	if err := setKeyWith(b, "server.port", "abc"); err == nil {
		t.Error("non-integer port accepted")
	}
	if err := setKeyWith(b, "server.mcp_stdio", "maybe"); err == nil {
		t.Error("non-bool accepted")
	}
}

func TestShowAllHidesSecrets(t *testing.T) {
	cfg := defaults()
	cfg.Mail.SMTPPassword = "hunter2"

	for _, k := range ShowAll(cfg) {
		if k.Key == "mail.smtp_password" || k.Value == "hunter2" {
			t.Errorf("secret listed: %+v", k)
		}
	}
	if len(ShowAll(cfg)) != len(ValidKeys()) {
		t.Error("ShowAll and ValidKeys disagree")
	}
}

func TestLoadReadsDotEnvAndConfigFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	unsetEnv(t, "DESKFLOW_SERVER_PORT")
	unsetEnv(t, "DESKFLOW_CORPUS_DIR")

	if err := SetKey("corpus.dir", "/from/file"); err != nil {
		t.Fatalf("SetKey: %v", err)
	}
	if ConfigFilePath() != filepath.Join(dir, "deskflow", "config.json") {
		t.Errorf("ConfigFilePath = %s", ConfigFilePath())
	}

	work := t.TempDir()
	if err := os.WriteFile(filepath.Join(work, ".env"), []byte("DESKFLOW_SERVER_PORT=4200\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Chdir(work)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 4200 {
		t.Errorf("Server.Port = %d, want 4200 from .env", cfg.Server.Port)
	}
	if cfg.Corpus.Dir != "/from/file" {
		t.Errorf("Corpus.Dir = %q, want value from config file", cfg.Corpus.Dir)
	}
}
