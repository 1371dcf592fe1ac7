// server is the knowledge base pipeline binary: it loads configuration,
// assembles the DI container, and serves the MCP tool surface (stdio or
// HTTP JSON-RPC) alongside the HTTP/WebSocket API, sharing the same
// underlying services.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/fredcamaral/gomcp-sdk/protocol"
	"github.com/fredcamaral/gomcp-sdk/server"
	"github.com/fredcamaral/gomcp-sdk/transport"

	"knowledgebase/internal/api"
	"knowledgebase/internal/config"
	"knowledgebase/internal/di"
	"knowledgebase/internal/logging"
	"knowledgebase/internal/mcp"
)

const (
	serviceName    = "knowledgebase"
	serviceVersion = "0.1.0"
)

func main() {
	transportFlag := flag.String("transport", "", "override MCP transport: stdio or http (defaults to MCP_TRANSPORT/config)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load configuration: %v", err)
	}
	if *transportFlag != "" {
		cfg.MCP.Transport = *transportFlag
	}

	container, err := di.New(cfg)
	if err != nil {
		log.Fatalf("assemble container: %v", err)
	}
	logger := container.Logger()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := container.Serve(ctx); err != nil {
		log.Fatalf("start services: %v", err)
	}

	mcpServer := mcp.New(container, serviceName, serviceVersion)

	var httpServer *http.Server
	if cfg.MCP.Transport == "http" {
		httpServer = startHTTPServer(ctx, logger, cfg, container, mcpServer)
	} else {
		stdioTransport := transport.NewStdioTransport()
		mcpServer.GetMCPServer().SetTransport(stdioTransport)
		go func() {
			if err := mcpServer.GetMCPServer().Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("mcp stdio server failed", "error", err)
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down")

	container.Drain()

	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown", "error", err)
		}
	}

	if err := container.Close(); err != nil {
		logger.Error("close container", "error", err)
	}
}

// startHTTPServer mounts the REST/WebSocket API (internal/api) alongside a
// /mcp JSON-RPC endpoint serving the same tool set as stdio mode, so a
// single process can back both a CLI MCP client and the browser UI.
func startHTTPServer(ctx context.Context, logger logging.Logger, cfg *config.Config, container *di.Container, mcpServer *mcp.Server) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/", api.New(container).Handler())
	mux.HandleFunc("/mcp", mcpHTTPHandler(mcpServer.GetMCPServer()))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      0, // disabled: /ws holds long-lived connections
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logger.Info("http server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
		}
	}()

	return httpServer
}

// mcpHTTPHandler adapts the MCP server's request dispatch to a plain JSON-RPC
// POST endpoint, for MCP clients that speak HTTP rather than stdio.
func mcpHTTPHandler(mcpServer *server.Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req protocol.JSONRPCRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid JSON-RPC request", http.StatusBadRequest)
			return
		}
		resp := mcpServer.HandleRequest(r.Context(), &req)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp) //nolint:errcheck // response already committed by the time encoding could fail
	}
}
