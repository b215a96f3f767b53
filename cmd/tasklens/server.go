package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/tasklens/internal/advisor"
	"github.com/kalambet/tasklens/internal/api"
	"github.com/kalambet/tasklens/internal/config"
	"github.com/kalambet/tasklens/internal/openai"
	"github.com/kalambet/tasklens/internal/risk"
	"github.com/kalambet/tasklens/internal/snapshot"
	"github.com/kalambet/tasklens/internal/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the tasklens server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running tasklens server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show tasklens system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "tasklens.pid")
}

func snapshotDir(dataDir string) string {
	return filepath.Join(dataDir, "snapshot")
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

func advisorConfig(cfg config.Config) advisor.Config {
	return advisor.Config{
		TopSimilar:     cfg.Advisor.TopSimilar,
		TopDisplay:     cfg.Advisor.TopDisplay,
		TopExperts:     cfg.Advisor.TopExperts,
		SpreadMultiple: cfg.Advisor.SpreadMultiple,
		AlignThreshold: cfg.Advisor.AlignThreshold,
		Risk: risk.Config{
			DriftThreshold:      cfg.Advisor.DriftThreshold,
			ScopeDriftThreshold: cfg.Advisor.ScopeDriftThreshold,
			ReviewFlagCount:     cfg.Advisor.ReviewFlagCount,
		},
	}
}

func newEmbedder(client *openai.Client, model string) advisor.EmbedderFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return client.Embed(ctx, model, text)
	}
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "tasklens version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Initialize structured logging.
	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// Ensure API token exists in platform secret store.
	apiToken, err := config.GetAPIToken(config.NewKeychain())
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}
	slog.Info("API bearer token available")

	// Write PID file. Check if server is already running via health endpoint.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/api/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("tasklens is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("tasklens is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open storage.
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	// Build the analysis stack.
	client := openai.New(cfg.OpenAI.BaseURL, cfg.OpenAI.APIKey)
	embedder := newEmbedder(client, cfg.OpenAI.EmbedModel)
	narrator := advisor.NewChatNarrator(client, cfg.OpenAI.ChatModel)
	adv := advisor.New(embedder, narrator, advisorConfig(cfg))

	// Load the last snapshot if one exists. A fresh install serves 503s
	// until the first rebuild.
	snapshots := &snapshot.Holder{}
	snapDir := snapshotDir(cfg.Storage.DataDir)
	if snap, err := snapshot.Load(snapDir); err == nil {
		snapshots.Swap(snap)
		slog.Info("snapshot loaded", "id", snap.Manifest.ID, "indexed", snap.Manifest.Count)
	} else if errors.Is(err, os.ErrNotExist) {
		slog.Info("no snapshot yet, run `tasklens rebuild`")
	} else {
		slog.Warn("could not load snapshot", "error", err)
	}

	deps := api.Deps{
		Snapshots:   snapshots,
		Advisor:     adv,
		Store:       store,
		Token:       apiToken,
		SnapshotDir: snapDir,
		Logger:      slog.Default(),
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: api.NewHandler(deps),
	}

	// Build and start MCP server (stdio transport in a goroutine).
	mcpSrv := api.NewMCPServer(deps)
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "tasklens listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with timeout.
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
		printError("tasklens is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop tasklens (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to tasklens (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/api/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		var health struct {
			Status  string `json:"status"`
			Indexed int    `json:"indexed"`
		}
		decodeErr := json.NewDecoder(resp.Body).Decode(&health)
		resp.Body.Close()
		switch {
		case resp.StatusCode != 200:
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		case decodeErr != nil:
			printStatus("Server", "error (%v)", decodeErr)
		default:
			printStatus("Server", "running on port %d", cfg.Server.Port)
			printStatus("Indexed", "%d tickets", health.Indexed)
		}
	}

	printStatus("Embed model", "%s", cfg.OpenAI.EmbedModel)
	printStatus("Chat model", "%s", cfg.OpenAI.ChatModel)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
