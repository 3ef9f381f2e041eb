package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"

	oauth "github.com/giantswarm/mcp-oauth"
	"github.com/giantswarm/mcp-oauth/providers/dex"
	oauthserver "github.com/giantswarm/mcp-oauth/server"
	"github.com/giantswarm/mcp-oauth/storage/memory"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

const (
	// OAuthProviderDex is the Dex OIDC provider, the only one supported.
	OAuthProviderDex = "dex"

	defaultReadHeaderTimeout = 10 * time.Second
	defaultWriteTimeout      = 120 * time.Second
	defaultIdleTimeout       = 120 * time.Second

	maxClientsPerIP = 10
)

// Environment variables read by OAuthConfig.ApplyEnv.
const (
	EnvDexIssuerURL    = "DEX_ISSUER_URL"
	EnvDexClientID     = "DEX_CLIENT_ID"
	EnvDexClientSecret = "DEX_CLIENT_SECRET"
)

// OAuthConfig configures the OAuth 2.1 protected MCP endpoint.
type OAuthConfig struct {
	// BaseURL is the public URL clients reach the server on, e.g.
	// https://agent-testing.example.com. It is the token issuer.
	BaseURL  string
	Provider string

	DexIssuerURL    string
	DexClientID     string
	DexClientSecret string
}

// ApplyEnv fills the Dex settings that were not set explicitly.
func (c *OAuthConfig) ApplyEnv() {
	for _, f := range []struct {
		dst *string
		env string
	}{
		{&c.DexIssuerURL, EnvDexIssuerURL},
		{&c.DexClientID, EnvDexClientID},
		{&c.DexClientSecret, EnvDexClientSecret},
	} {
		if *f.dst == "" {
			*f.dst = os.Getenv(f.env)
		}
	}
}

// Validate reports the first missing or unusable setting.
func (c OAuthConfig) Validate() error {
	if c.Provider != "" && c.Provider != OAuthProviderDex {
		return fmt.Errorf("unsupported OAuth provider %q (supported: %s)", c.Provider, OAuthProviderDex)
	}
	if err := checkBaseURL(c.BaseURL); err != nil {
		return fmt.Errorf("invalid OAuth base URL: %w", err)
	}
	switch {
	case c.DexIssuerURL == "":
		return fmt.Errorf("dex issuer URL is required (--dex-issuer-url or %s)", EnvDexIssuerURL)
	case c.DexClientID == "":
		return fmt.Errorf("dex client ID is required (--dex-client-id or %s)", EnvDexClientID)
	case c.DexClientSecret == "":
		return fmt.Errorf("dex client secret is required (--dex-client-secret or %s)", EnvDexClientSecret)
	}
	return nil
}

// CallbackURL is where Dex redirects after login.
func (c OAuthConfig) CallbackURL() string {
	return c.BaseURL + "/oauth/callback"
}

// OAuthHTTPServer serves the MCP endpoint behind OAuth bearer tokens, the
// OAuth endpoints themselves and the public health and metrics routes.
type OAuthHTTPServer struct {
	mcpServer   *mcpserver.MCPServer
	mcpEndpoint string
	metrics     http.Handler

	oauthServer  *oauth.Server
	oauthHandler *oauth.Handler
	httpServer   *http.Server
}

// NewOAuthHTTPServer validates cfg and sets up the Dex-backed OAuth server.
// Tokens live in memory, so the server is meant to run as a single replica.
// metricsHandler may be nil.
func NewOAuthHTTPServer(mcpSrv *mcpserver.MCPServer, mcpEndpoint string, cfg OAuthConfig, metricsHandler http.Handler) (*OAuthHTTPServer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	provider, err := dex.NewProvider(&dex.Config{
		IssuerURL:    cfg.DexIssuerURL,
		ClientID:     cfg.DexClientID,
		ClientSecret: cfg.DexClientSecret,
		RedirectURL:  cfg.CallbackURL(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Dex provider: %w", err)
	}

	tokens := memory.New()
	logger := slog.Default().With("component", "oauth")

	oauthSrv, err := oauth.NewServer(provider, tokens, tokens, tokens,
		&oauthserver.Config{
			Issuer:                    cfg.BaseURL,
			AllowRefreshTokenRotation: true,
			MaxClientsPerIP:           maxClientsPerIP,
		},
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OAuth server: %w", err)
	}

	return &OAuthHTTPServer{
		mcpServer:    mcpSrv,
		mcpEndpoint:  mcpEndpoint,
		metrics:      metricsHandler,
		oauthServer:  oauthSrv,
		oauthHandler: oauth.NewHandler(oauthSrv, logger),
	}, nil
}

// Handler returns the complete route table.
func (s *OAuthHTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()

	h := s.oauthHandler
	h.RegisterAuthorizationServerMetadataRoutes(mux)
	h.RegisterProtectedResourceMetadataRoutes(mux, s.mcpEndpoint)
	for path, fn := range map[string]http.HandlerFunc{
		"/oauth/authorize":  h.ServeAuthorization,
		"/oauth/token":      h.ServeToken,
		"/oauth/callback":   h.ServeCallback,
		"/oauth/register":   h.ServeClientRegistration,
		"/oauth/revoke":     h.ServeTokenRevocation,
		"/oauth/introspect": h.ServeTokenIntrospection,
	} {
		mux.HandleFunc(path, fn)
	}

	mux.Handle(s.mcpEndpoint, h.ValidateToken(mcpserver.NewStreamableHTTPServer(s.mcpServer,
		mcpserver.WithEndpointPath(s.mcpEndpoint),
	)))
	registerPublicRoutes(mux, s.metrics)
	return mux
}

// Start listens on addr and blocks until the server stops.
func (s *OAuthHTTPServer) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: defaultReadHeaderTimeout,
		WriteTimeout:      defaultWriteTimeout,
		IdleTimeout:       defaultIdleTimeout,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown stops the OAuth background work, then drains the HTTP server.
func (s *OAuthHTTPServer) Shutdown(ctx context.Context) error {
	var errs []error
	if s.oauthServer != nil {
		if err := s.oauthServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shut down OAuth server: %w", err))
		}
	}
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var loopbackHosts = map[string]bool{"localhost": true, "127.0.0.1": true, "::1": true}

// checkBaseURL requires https, except for loopback hosts during development.
func checkBaseURL(baseURL string) error {
	if baseURL == "" {
		return fmt.Errorf("base URL is required (--oauth-base-url)")
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "https":
		return nil
	case "http":
		if loopbackHosts[u.Hostname()] {
			return nil
		}
		return fmt.Errorf("OAuth 2.1 requires https outside of localhost (got %s)", baseURL)
	default:
		return fmt.Errorf("unsupported URL scheme %q (use https, or http for localhost)", u.Scheme)
	}
}
