// Package api provides the HTTP surface over the content lifecycle
// pipeline: folder/file CRUD, metadata and settings, remote-sync control,
// and the live-update WebSocket. Handlers stay thin and delegate to the
// services on di.Container.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"knowledgebase/internal/di"
	"knowledgebase/internal/kberrors"
	"knowledgebase/internal/logging"
	"knowledgebase/internal/types"
)

// Router is the HTTP surface's chi.Mux plus the container it delegates to.
type Router struct {
	container *di.Container
	mux       *chi.Mux
	logger    logging.Logger
}

// New builds a Router wired to container and mounts every route.
func New(container *di.Container) *Router {
	r := &Router{
		container: container,
		mux:       chi.NewRouter(),
		logger:    container.Logger().WithComponent("api"),
	}
	r.setupMiddleware()
	r.setupRoutes()
	return r
}

// Handler returns the assembled http.Handler, for mounting under cmd/server.
func (r *Router) Handler() http.Handler { return r.mux }

func (r *Router) setupMiddleware() {
	r.mux.Use(chimiddleware.Recoverer)
	r.mux.Use(chimiddleware.RequestID)
	r.mux.Use(chimiddleware.Timeout(30 * time.Second))
	r.mux.Use(r.corsMiddleware)
}

// corsMiddleware allows any origin to call the API and WebSocket
// endpoints; there is no browser-facing auth model of its own.
func (r *Router) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		origin := req.Header.Get("Origin")
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-User-Identity")
		}
		if req.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, req)
	})
}

func (r *Router) setupRoutes() {
	r.mux.Get("/health", r.handleHealth)

	r.mux.Route("/api/folders", func(rt chi.Router) {
		rt.Post("/", r.handleCreateFolder)
		rt.Get("/*", r.handleGetFolder)
		rt.Delete("/*", r.handleDeleteFolder)
	})

	r.mux.Post("/api/files/upload", r.handleUploadFile)
	r.mux.Get("/api/files/download", r.handleDownloadFile)

	r.mux.Get("/api/details/*", r.handleGetDetails)
	r.mux.Put("/api/metadata/*", r.handlePutMetadata)

	// {path} may itself contain slashes, so the "/search-active" and
	// "/reindex" suffixes are split out of the wildcard tail rather than
	// matched as separate chi route segments.
	r.mux.Put("/api/settings/folders/*", r.handleSettingsFoldersPut)
	r.mux.Post("/api/settings/folders/*", r.handleSettingsFoldersPost)

	r.mux.Route("/api/sync", func(rt chi.Router) {
		rt.Get("/oauth/auth", r.handleOAuthAuth)
		rt.Get("/oauth/callback", r.handleOAuthCallback)
		rt.Get("/git/branches", r.handleListGitBranches)
		rt.Get("/google-drive/folders", r.handleListDriveFolders)
		rt.Get("/*", r.handleGetSync)
		rt.Put("/*", r.handleSetSync)
		rt.Delete("/*", r.handleDeleteSync)
		// {path} may itself contain slashes, so "/trigger" is split out of
		// the wildcard tail rather than matched as a separate chi segment.
		rt.Post("/*", r.handleSyncPost)
	})

	r.mux.Get("/ws", r.handleWebSocket)
}

func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	if err := r.container.HealthCheck(req.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// userIdentity reads the caller identity from the X-User-Identity header.
// Populating it is the transport layer's concern; the value is treated as
// an opaque token.
func userIdentity(req *http.Request) types.UserIdentity {
	return types.UserIdentity(req.Header.Get("X-User-Identity"))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err to its HTTP status via kberrors.HTTPStatus and
// writes a JSON error body.
func writeError(w http.ResponseWriter, err error) {
	status := kberrors.HTTPStatus(err)
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
