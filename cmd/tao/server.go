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

	"github.com/kartalabs/tao/internal/analysis"
	"github.com/kartalabs/tao/internal/api"
	"github.com/kartalabs/tao/internal/classify"
	"github.com/kartalabs/tao/internal/config"
	"github.com/kartalabs/tao/internal/embed"
	"github.com/kartalabs/tao/internal/store"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the tao server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running tao server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show tao system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "tao.pid")
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

// indexConfig maps the configured index parameters onto the analysis package's
// form.
func indexConfig(cfg config.Config) analysis.IndexConfig {
	return analysis.IndexConfig{
		Weights: analysis.IndexWeights{
			Velocity:       cfg.Index.VelocityWeight,
			Sophistication: cfg.Index.SophisticationWeight,
			ChainDepth:     cfg.Index.ChainDepthWeight,
			Retention:      cfg.Index.RetentionWeight,
		},
		MasteryQueries: cfg.Index.MasteryQueries,
		RecallQueries:  cfg.Index.RecallQueries,
		ChainGap:       cfg.Analysis.ChainGap(),
		RecallGap:      time.Duration(cfg.Index.RecallGapHours) * time.Hour,
	}
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "tao version %s\n", version)

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
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("tao is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("tao is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open the interaction log and benchmark store.
	log, err := store.OpenLog(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening interaction log: %w", err)
	}
	benchmarks, err := store.OpenBenchmarks(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening benchmark store: %w", err)
	}
	defer func() {
		if err := benchmarks.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing benchmark store: %v\n", err)
		}
	}()

	// The semantic strategy is only registered when an embedding engine is
	// configured and answering.
	var embedder embed.Embedder
	if cfg.Embed.Enabled {
		client := embed.NewOllamaClient(cfg.Embed.BaseURL, cfg.Embed.Model)
		if client.IsRunning(ctx) {
			embedder = client
			slog.Info("semantic strategy enabled", "base_url", cfg.Embed.BaseURL, "model", cfg.Embed.Model)
		} else {
			printWarning("Embedding engine not reachable at %s; semantic strategy disabled", cfg.Embed.BaseURL)
		}
	}

	finder, err := analysis.NewFinder(cfg.Analysis.TemporalWindow(), embedder)
	if err != nil {
		return fmt.Errorf("building related-item finder: %w", err)
	}

	deps := api.Deps{
		Log:        log,
		Benchmarks: benchmarks,
		Classifier: classify.New(),
		Finder:     finder,
		Analysis:   cfg.Analysis,
		Index:      indexConfig(cfg),
		Token:      apiToken,
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
		fmt.Fprintf(os.Stderr, "tao listening on %s\n", addr)
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
		printError("tao is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop tao (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to tao (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	// Check server health.
	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	// Check the embedding engine.
	if cfg.Embed.Enabled {
		embedClient := embed.NewOllamaClient(cfg.Embed.BaseURL, cfg.Embed.Model)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if embedClient.IsRunning(ctx) {
			printStatus("Embedding", "running at %s (%s)", cfg.Embed.BaseURL, cfg.Embed.Model)
		} else {
			printStatus("Embedding", "not running")
		}
		cancel()
	} else {
		printStatus("Embedding", "disabled")
	}

	// Show domains if server is running.
	apiToken, tokenErr := config.GetAPIToken(config.NewKeychain())
	if tokenErr == nil && resp != nil && resp.StatusCode == 200 {
		domainsResp, err := apiGet(client, serverURL+"/domains", apiToken)
		if err == nil {
			var result struct {
				Domains []string `json:"domains"`
			}
			if json.NewDecoder(domainsResp.Body).Decode(&result) == nil {
				if len(result.Domains) == 0 {
					printStatus("Domains", "none")
				} else {
					printStatus("Domains", "%s", strings.Join(result.Domains, ", "))
				}
			}
			domainsResp.Body.Close()
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func apiGet(client *http.Client, url, token string) (*http.Response, error) {
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return client.Do(req)
}
