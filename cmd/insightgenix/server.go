package main

import (
	"context"
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

	"github.com/insightgenix/insightgenix/internal/api"
	"github.com/insightgenix/insightgenix/internal/config"
	"github.com/insightgenix/insightgenix/internal/openai"
	"github.com/insightgenix/insightgenix/internal/session"
	"github.com/insightgenix/insightgenix/internal/training"
	"github.com/insightgenix/insightgenix/internal/vector"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the insightgenix server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running insightgenix server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show insightgenix system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "insightgenix.pid")
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

// buildStack constructs the retrieval and conversation components shared by
// the server and the in-process chat REPL. The caller must Close the
// returned store.
func buildStack(cfg config.Config) (*vector.Store, *session.Session, *training.Manager, error) {
	client, err := openai.NewClient(openai.Options{
		APIKey:     cfg.OpenAI.APIKey,
		APIBase:    cfg.OpenAI.APIBase,
		APIVersion: cfg.OpenAI.APIVersion,
		ChatModel:  cfg.OpenAI.ChatModel,
		EmbedModel: cfg.OpenAI.EmbedModel,
	})
	if err != nil {
		return nil, nil, nil, err
	}

	slog.Info("completion provider ready", "chat_model", client.ChatModel())

	store, namespace, err := vector.OpenNamespace(cfg.Storage.DataDir, client)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("opening vector store: %w", err)
	}
	slog.Info("vector store attached", "namespace", namespace)

	manager := training.NewManager(store, client)
	sess := session.New(client, manager, cfg.Storage.DatabasePath)
	return store, sess, manager, nil
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "insightgenix version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// Refuse to double-start: probe the health endpoint first.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("insightgenix is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("insightgenix is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, sess, manager, err := buildStack(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing vector store: %v\n", err)
		}
	}()

	handler := api.NewHandler(api.Deps{
		Session: sess,
		Manager: manager,
		Token:   cfg.Server.APIToken,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// MCP server on stdio transport.
	mcpSrv := api.NewMCPServer(api.MCPDeps{Session: sess, Manager: manager})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "insightgenix listening on %s\n", addr)
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
		printError("insightgenix is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop insightgenix (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to insightgenix (PID %d)", pid)
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

	printStatus("Chat model", "%s", cfg.OpenAI.ChatModel)
	printStatus("Embed model", "%s", cfg.OpenAI.EmbedModel)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	if cfg.Storage.DatabasePath != "" {
		printStatus("Database", "%s", cfg.Storage.DatabasePath)
	} else {
		printStatus("Database", "not configured (set INSIGHTGENIX_DB_FILE)")
	}

	// Show training data counts when the server is up.
	if resp != nil && resp.StatusCode == 200 {
		apiC, err := newAPIClient()
		if err == nil {
			listResp, err := apiC.get(context.Background(), "/training-data")
			if err == nil {
				var listing struct {
					Data []struct {
						Type string `json:"training_data_type"`
					} `json:"data"`
				}
				if decodeJSON(listResp, &listing) == nil {
					counts := map[string]int{}
					for _, row := range listing.Data {
						counts[row.Type]++
					}
					printStatus("Training data", "%d sql, %d ddl, %d documentation",
						counts["sql"], counts["ddl"], counts["documentation"])
				}
			}
		}
	}

	return nil
}
