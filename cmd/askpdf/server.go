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
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/net/netutil"

	"github.com/kalambet/askpdf/internal/api"
	"github.com/kalambet/askpdf/internal/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the askpdf HTTP API (or an MCP server on stdio with --mcp)",
	RunE: func(cmd *cobra.Command, args []string) error {
		host, _ := cmd.Flags().GetString("host")
		mcp, _ := cmd.Flags().GetBool("mcp")
		return runServer(host, mcp)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show askpdf system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func init() {
	serveCmd.Flags().String("host", "127.0.0.1", "interface to listen on")
	serveCmd.Flags().Bool("mcp", false, "serve MCP over stdin/stdout instead of HTTP")
}

func runServer(host string, mcpMode bool) error {
	fmt.Fprintf(os.Stderr, "askpdf version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// stdout belongs to the MCP transport, so readiness output goes to stderr.
	a, err := buildApp(ctx, cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	if mcpMode {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Sessions: a.sessions,
			Store:    a.store,
			Version:  version,
		})
		slog.Info("MCP server started (stdio transport)")
		stdioSrv := server.NewStdioServer(mcpSrv)
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("MCP stdio server: %w", err)
		}
		return nil
	}

	if cfg.Server.Token == "" {
		printWarning("server.token is not set; the API accepts unauthenticated requests")
	}

	addr := net.JoinHostPort(host, fmt.Sprint(cfg.Server.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	if cfg.Server.MaxConns > 0 {
		ln = netutil.LimitListener(ln, cfg.Server.MaxConns)
	}

	srv := &http.Server{
		Handler: api.NewHandler(api.Deps{
			Sessions: a.sessions,
			Store:    a.store,
			Token:    cfg.Server.Token,
		}),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "askpdf listening on %s\n", addr)
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
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

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	client := newAPIClientFor(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	running := false
	resp, err := client.get(ctx, "/health")
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

	printStatus("Index", "%s %q (%d dims, %s)", cfg.Index.Backend, cfg.Index.Name, cfg.Index.Dimension, cfg.Index.Metric)
	printStatus("Generation", "%s/%s", cfg.Generation.Provider, cfg.Generation.Model)
	printStatus("Embedding", "%s/%s", cfg.Embedding.Provider, cfg.Embedding.Model)

	// Show doc/interaction counts if server is running.
	if running {
		if n, err := countItems(ctx, client, "/documents?limit=100"); err == nil {
			printStatus("Documents", "%s", countLabel(n, 100))
		}
		if n, err := countItems(ctx, client, "/interactions?limit=100"); err == nil {
			printStatus("Interactions", "%s", countLabel(n, 100))
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func countItems(ctx context.Context, client *apiClient, path string) (int, error) {
	resp, err := client.get(ctx, path)
	if err != nil {
		return 0, err
	}
	var items []json.RawMessage
	if err := decodeJSON(resp, &items); err != nil {
		return 0, err
	}
	return len(items), nil
}

func countLabel(count, limit int) string {
	if count >= limit {
		return fmt.Sprintf("%d+", count)
	}
	return fmt.Sprintf("%d", count)
}
