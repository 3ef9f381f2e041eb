package server

import (
	"net/http"

	mcpserver "github.com/mark3labs/mcp-go/server"
)

// NewHTTPServer serves the MCP endpoint without authentication, next to the
// health and metrics routes.
func NewHTTPServer(mcpSrv *mcpserver.MCPServer, addr, mcpEndpoint string, metricsHandler http.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(mcpEndpoint, mcpserver.NewStreamableHTTPServer(mcpSrv,
		mcpserver.WithEndpointPath(mcpEndpoint),
	))
	registerPublicRoutes(mux, metricsHandler)

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: defaultReadHeaderTimeout,
		WriteTimeout:      defaultWriteTimeout,
		IdleTimeout:       defaultIdleTimeout,
	}
}

// registerPublicRoutes adds the unauthenticated routes. /metrics is only
// served when metricsHandler is non-nil.
func registerPublicRoutes(mux *http.ServeMux, metricsHandler http.Handler) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}
}
