package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/deskflow/internal/api"
	"github.com/kalambet/deskflow/internal/automation"
	"github.com/kalambet/deskflow/internal/config"
	"github.com/kalambet/deskflow/internal/corpus"
	"github.com/kalambet/deskflow/internal/engine"
	"github.com/kalambet/deskflow/internal/ingest"
	"github.com/kalambet/deskflow/internal/intent"
	"github.com/kalambet/deskflow/internal/mail"
	"github.com/kalambet/deskflow/internal/retrieval"
	"github.com/kalambet/deskflow/internal/storage"
	"github.com/kalambet/deskflow/internal/telemetry"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the deskflow server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running deskflow server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show deskflow system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "deskflow.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

// app is the wired service graph behind the HTTP and MCP surfaces.
type app struct {
	cfg      config.Config
	store    *storage.Store
	index    *retrieval.Shared
	orch     *automation.Orchestrator
	reviewer *automation.Reviewer
	worker   *ingest.Worker
	handler  http.Handler
}

// retrievalProviders maps backend names onto providers, keeping the
// configured preference order.
func retrievalProviders(names []string, eng engine.Engine, embedModel string, store *storage.Store) []retrieval.Provider {
	var providers []retrieval.Provider
	for _, name := range names {
		switch name {
		case "vector":
			providers = append(providers, retrieval.VectorProvider(eng, embedModel, store.DB()))
		case "keyword":
			providers = append(providers, retrieval.KeywordProvider(store))
		default:
			slog.Warn("ignoring unknown retrieval backend", "backend", name)
		}
	}
	return providers
}

func newClassifier(cfg config.Config, eng engine.Engine) intent.Classifier {
	if cfg.Intent.Classifier == "llm" {
		return intent.NewLLMClassifier(eng, cfg.Ollama.FastModel)
	}
	return intent.KeywordClassifier{}
}

// newMailer returns an SMTP mailer when a host is configured and a mailer
// that only logs otherwise.
func newMailer(cfg config.MailConfig) (mail.Mailer, error) {
	if cfg.SMTPHost == "" {
		return &mail.LogMailer{Logger: slog.Default()}, nil
	}
	return mail.NewSMTPMailer(mail.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.From,
	})
}

func newApp(cfg config.Config, store *storage.Store, eng engine.Engine) (*app, error) {
	mailer, err := newMailer(cfg.Mail)
	if err != nil {
		return nil, fmt.Errorf("configuring mail: %w", err)
	}

	index := retrieval.NewShared(retrievalProviders(cfg.Retrieval.BackendList(), eng, cfg.Ollama.EmbedModel, store), store)
	orch := automation.NewOrchestrator(automation.Deps{
		TopK:       cfg.Retrieval.TopK,
		Retriever:  index,
		Classifier: newClassifier(cfg, eng),
		Records:    store,
		Tickets:    store,
		Corpus:     store,
		Index:      index,
		LoadCorpus: corpus.Load,
		Logger:     slog.Default(),
	})
	reviewer := automation.NewReviewer(store, mailer, slog.Default())

	handler := api.NewHandler(api.Deps{
		Automation: orch,
		Reviewer:   reviewer,
		Store:      store,
		CorpusDir:  cfg.Corpus.Dir,
		Metrics:    telemetry.Handler(),
		Logger:     slog.Default(),
	})

	return &app{
		cfg:      cfg,
		store:    store,
		index:    index,
		orch:     orch,
		reviewer: reviewer,
		worker:   ingest.NewWorker(store, index, 500*time.Millisecond),
		handler:  handler,
	}, nil
}

// seedCorpus loads the configured corpus when the store has no documents
// yet. A failure is logged and the server starts with an empty index.
func (a *app) seedCorpus(ctx context.Context) {
	docs, err := a.store.AllContextDocs(ctx)
	if err != nil {
		slog.Warn("could not inspect stored documents", "error", err)
		return
	}
	if len(docs) > 0 {
		return
	}
	status, err := a.orch.RebuildIndex(ctx, a.cfg.Corpus.Dir)
	if err != nil {
		slog.Warn("initial corpus load failed; queries will fail until POST /rebuild succeeds", "corpus", a.cfg.Corpus.Dir, "error", err)
		return
	}
	slog.Info("corpus indexed", "backend", status.Backend, "documents", status.Documents)
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "deskflow version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Log.SlogLevel()})))

	// Write PID file. Check if server is already running via health endpoint.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("deskflow is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("deskflow is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The keyword backend and classifier work without a local model, so an
	// unreachable engine is a warning here.
	eng := engine.NewOllamaEngine(cfg.Ollama.BaseURL)
	var chatModel, embedModel string
	if cfg.Intent.Classifier == "llm" {
		chatModel = cfg.Ollama.FastModel
	}
	if slices.Contains(cfg.Retrieval.BackendList(), "vector") {
		embedModel = cfg.Ollama.EmbedModel
	}
	if chatModel != "" || embedModel != "" {
		if err := engine.EnsureReady(ctx, eng, chatModel, embedModel, os.Stderr); err != nil {
			slog.Warn("local inference engine not ready; falling back where possible", "error", err)
		}
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	a, err := newApp(cfg, store, eng)
	if err != nil {
		return err
	}
	a.seedCorpus(ctx)

	go a.worker.Run(ctx)

	if cfg.Server.MCPStdio {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Automation: a.orch,
			Reviewer:   a.reviewer,
			CorpusDir:  cfg.Corpus.Dir,
			Version:    version,
		})
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("deskflow listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("deskflow is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop deskflow (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to deskflow (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	running := false
	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	ollamaResp, err := client.Get(cfg.Ollama.BaseURL + "/api/version")
	if err != nil {
		printStatus("Ollama", "not running")
	} else {
		ollamaResp.Body.Close()
		printStatus("Ollama", "running at %s", cfg.Ollama.BaseURL)
	}

	printStatus("Retrieval", "%s", cfg.Retrieval.Backends)
	printStatus("Classifier", "%s", cfg.Intent.Classifier)
	printStatus("Embed model", "%s", cfg.Ollama.EmbedModel)

	if running {
		if n, ok := countItems(client, serverURL+"/drafts"); ok {
			printStatus("Pending drafts", "%d", n)
		}
		if n, ok := countItems(client, serverURL+"/tickets?limit=100"); ok {
			printStatus("Tickets", "%s", countLabel(n, 100))
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

// countItems fetches a JSON array and reports its length.
func countItems(client *http.Client, url string) (int, bool) {
	resp, err := client.Get(url)
	if err != nil {
		return 0, false
	}
	defer resp.Body.Close()
	var items []json.RawMessage
	if resp.StatusCode != http.StatusOK || json.NewDecoder(resp.Body).Decode(&items) != nil {
		return 0, false
	}
	return len(items), true
}

func countLabel(count, limit int) string {
	if count >= limit {
		return fmt.Sprintf("%d+", count)
	}
	return fmt.Sprintf("%d", count)
}
