package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/giantswarm/agent-testing/internal/invoker"
	mcptools "github.com/giantswarm/agent-testing/internal/mcp"
	"github.com/giantswarm/agent-testing/internal/metrics"
	"github.com/giantswarm/agent-testing/internal/server"
)

const (
	transportStdio          = "stdio"
	transportStreamableHTTP = "streamable-http"
)

func newServeCmd() *cobra.Command {
	var (
		transport    string
		httpAddr     string
		httpEndpoint string
		inCluster    bool
		results      storeFlags
		tester       llmFlags
		judgeLLM     llmFlags
		suitesDir    string
		agentTimeout time.Duration
		concurrency  int
		debug        bool

		enableOAuth bool
		oauthCfg    server.OAuthConfig
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server",
		Long: `Start the MCP server to expose agent testing tools via the Model Context Protocol.

Supports multiple transport types:
  - stdio: Standard input/output (default, for IDE integration)
  - streamable-http: HTTP with streaming support (for remote access)

The HTTP transport also serves /healthz and Prometheus metrics on /metrics.
When using streamable-http transport, OAuth 2.1 authentication can be enabled.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if debug {
				format, _ := cmd.Flags().GetString("log-format")
				if err := setupLogging(true, format); err != nil {
					return err
				}
			}

			// Set up graceful shutdown.
			shutdownCtx, cancel := signal.NotifyContext(context.Background(),
				os.Interrupt, syscall.SIGTERM)
			defer cancel()

			st, closeStore, err := results.open()
			if err != nil {
				return err
			}
			defer func() {
				if err := closeStore(); err != nil {
					slog.Warn("failed to close result store", "error", err)
				}
			}()

			sc := &server.ServerContext{
				Models:       newDiscovery(cmd, inCluster),
				JudgeModel:   judgeLLM.modelName(),
				Store:        st,
				Metrics:      metrics.New(prometheus.NewRegistry()),
				SuitesDir:    suitesDir,
				AgentTimeout: agentTimeout,
				Concurrency:  concurrency,
			}
			if sc.Models == nil {
				slog.Warn("model discovery not available, list_models and served tester models are disabled")
			}

			// Test runs may override the tester per call, so a missing default
			// is not fatal here.
			if sc.Tester, err = newLLMClient(shutdownCtx, tester, sc.Models, "OPENAI_API_KEY"); err != nil {
				slog.Warn("default tester LLM not configured", "error", err)
			}
			if judgeLLM != (llmFlags{}) {
				if sc.Judge, err = newLLMClient(shutdownCtx, judgeLLM, sc.Models, "JUDGE_API_KEY", "OPENAI_API_KEY"); err != nil {
					return fmt.Errorf("failed to configure judge LLM: %w", err)
				}
			}

			mcpSrv := mcpserver.NewMCPServer("agent-testing", rootCmd.Version,
				mcpserver.WithToolCapabilities(true),
			)
			if err := mcptools.RegisterTools(mcpSrv, sc); err != nil {
				return fmt.Errorf("failed to register MCP tools: %w", err)
			}

			switch transport {
			case transportStdio:
				return runStdioServer(mcpSrv)
			case transportStreamableHTTP:
				fmt.Printf("Starting agent-testing MCP server with %s transport...\n", transport)
				if enableOAuth {
					oauthCfg.ApplyEnv()
					return runOAuthHTTPServer(shutdownCtx, mcpSrv, httpAddr, httpEndpoint, sc.Metrics.Handler(), oauthCfg)
				}
				return runHTTPServer(shutdownCtx, server.NewHTTPServer(mcpSrv, httpAddr, httpEndpoint, sc.Metrics.Handler()), httpEndpoint)
			default:
				return fmt.Errorf("unsupported transport: %s (supported: stdio, streamable-http)", transport)
			}
		},
	}

	tester.register(cmd, "tester", "Default tester")
	judgeLLM.register(cmd, "judge", "Judge")
	results.register(cmd)
	cmd.Flags().StringVar(&transport, "transport", transportStdio, "Transport type: stdio or streamable-http")
	cmd.Flags().StringVar(&httpAddr, "http-addr", ":8080", "HTTP server address (for streamable-http)")
	cmd.Flags().StringVar(&httpEndpoint, "http-endpoint", "/mcp", "HTTP endpoint path (for streamable-http)")
	cmd.Flags().BoolVar(&inCluster, "in-cluster", false, "Use in-cluster Kubernetes authentication")
	cmd.Flags().StringVar(&suitesDir, "suites-dir", "", "External test suites directory (optional)")
	cmd.Flags().DurationVar(&agentTimeout, "agent-timeout", invoker.DefaultTimeout, "Timeout for each call to the agent endpoint")
	cmd.Flags().IntVar(&concurrency, "concurrency", 1, "Number of conversations a test run executes in parallel")
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging")

	// OAuth flags.
	cmd.Flags().BoolVar(&enableOAuth, "enable-oauth", false, "Enable OAuth 2.1 authentication (for HTTP transport)")
	cmd.Flags().StringVar(&oauthCfg.BaseURL, "oauth-base-url", "", "OAuth base URL (e.g. https://agent-testing.example.com)")
	cmd.Flags().StringVar(&oauthCfg.Provider, "oauth-provider", server.OAuthProviderDex, "OAuth provider: dex")
	cmd.Flags().StringVar(&oauthCfg.DexIssuerURL, "dex-issuer-url", "", "Dex OIDC issuer URL (or "+server.EnvDexIssuerURL+")")
	cmd.Flags().StringVar(&oauthCfg.DexClientID, "dex-client-id", "", "Dex OAuth client ID (or "+server.EnvDexClientID+")")
	cmd.Flags().StringVar(&oauthCfg.DexClientSecret, "dex-client-secret", "", "Dex OAuth client secret (or "+server.EnvDexClientSecret+")")

	return cmd
}

func runStdioServer(mcpSrv *mcpserver.MCPServer) error {
	if err := mcpserver.ServeStdio(mcpSrv); err != nil {
		return fmt.Errorf("server stopped with error: %w", err)
	}
	return nil
}

func runHTTPServer(ctx context.Context, httpServer *http.Server, endpoint string) error {
	fmt.Printf("  Address: %s\n", httpServer.Addr)
	fmt.Printf("  HTTP endpoint: %s\n", endpoint)
	fmt.Printf("  Health: /healthz\n")
	fmt.Printf("  Metrics: /metrics\n")

	return serveUntilDone(ctx, "HTTP server", httpServer.ListenAndServe, httpServer.Shutdown)
}

func runOAuthHTTPServer(ctx context.Context, mcpSrv *mcpserver.MCPServer, addr, endpoint string, metricsHandler http.Handler, cfg server.OAuthConfig) error {
	oauthSrv, err := server.NewOAuthHTTPServer(mcpSrv, endpoint, cfg, metricsHandler)
	if err != nil {
		return fmt.Errorf("failed to create OAuth HTTP server: %w", err)
	}

	fmt.Printf("OAuth-enabled HTTP server starting on %s\n", addr)
	fmt.Printf("  Base URL: %s\n", cfg.BaseURL)
	fmt.Printf("  Provider: %s\n", cfg.Provider)
	fmt.Printf("  MCP endpoint: %s (requires OAuth Bearer token)\n", endpoint)
	fmt.Printf("  Health: /healthz\n")
	fmt.Printf("  Metrics: /metrics\n")
	fmt.Printf("  OAuth endpoints:\n")
	fmt.Printf("    - Authorization Server Metadata: /.well-known/oauth-authorization-server\n")
	fmt.Printf("    - Protected Resource Metadata: /.well-known/oauth-protected-resource\n")
	fmt.Printf("    - Client Registration: /oauth/register\n")
	fmt.Printf("    - Authorization: /oauth/authorize\n")
	fmt.Printf("    - Token: /oauth/token\n")
	fmt.Printf("    - Callback: /oauth/callback\n")

	return serveUntilDone(ctx, "OAuth HTTP server",
		func() error { return oauthSrv.Start(addr) },
		oauthSrv.Shutdown,
	)
}

// serveUntilDone runs serve until it fails or ctx is cancelled, in which case
// the server is shut down gracefully.
func serveUntilDone(ctx context.Context, name string, serve func() error, shutdown func(context.Context) error) error {
	serverDone := make(chan error, 1)
	go func() {
		defer close(serverDone)
		if err := serve(); err != nil && err != http.ErrServerClosed {
			serverDone <- err
		}
	}()

	select {
	case <-ctx.Done():
		fmt.Printf("Shutdown signal received, stopping %s...\n", name)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("error shutting down %s: %w", name, err)
		}
	case err := <-serverDone:
		if err != nil {
			return fmt.Errorf("%s error: %w", name, err)
		}
	}

	fmt.Printf("%s stopped\n", name)
	return nil
}
