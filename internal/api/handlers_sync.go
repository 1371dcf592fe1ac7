package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"knowledgebase/internal/kberrors"
	"knowledgebase/internal/sync"
	"knowledgebase/internal/types"
)

// handleSyncPost dispatches POST /api/sync/{path}/trigger, the only
// literal-suffix POST route under /api/sync.
func (r *Router) handleSyncPost(w http.ResponseWriter, req *http.Request) {
	raw := chi.URLParam(req, "*")
	rest := strings.TrimSuffix(raw, "/trigger")
	if rest == raw {
		writeError(w, kberrors.New("handleSyncPost", kberrors.InvalidPath, fmt.Errorf("unknown sync action")))
		return
	}
	r.handleTriggerSync(w, req, rest)
}

func (r *Router) handleGetSync(w http.ResponseWriter, req *http.Request) {
	path, err := pathParam(req)
	if err != nil {
		writeError(w, kberrors.New("handleGetSync", kberrors.InvalidPath, err))
		return
	}
	src, err := r.container.Store.GetSyncSource(req.Context(), path)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, src)
}

func (r *Router) handleSetSync(w http.ResponseWriter, req *http.Request) {
	path, err := pathParam(req)
	if err != nil {
		writeError(w, kberrors.New("handleSetSync", kberrors.InvalidPath, err))
		return
	}
	var src types.SyncSource
	if err := json.NewDecoder(req.Body).Decode(&src); err != nil {
		writeError(w, kberrors.New("handleSetSync", kberrors.InvalidPath, err))
		return
	}
	src.FolderPath = path
	if err := r.container.Store.SetSyncSource(req.Context(), &src); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, src)
}

func (r *Router) handleDeleteSync(w http.ResponseWriter, req *http.Request) {
	path, err := pathParam(req)
	if err != nil {
		writeError(w, kberrors.New("handleDeleteSync", kberrors.InvalidPath, err))
		return
	}
	if err := r.container.Store.ClearSyncSource(req.Context(), path); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Router) handleTriggerSync(w http.ResponseWriter, req *http.Request, raw string) {
	path, err := types.NormalizePath(raw)
	if err != nil {
		writeError(w, kberrors.New("handleTriggerSync", kberrors.InvalidPath, err))
		return
	}
	if err := r.container.Sync.Trigger(req.Context(), path); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"folder_path": path, "status": "triggered"})
}

// handleOAuthAuth returns the provider-specific authorize URL for the
// folder's sync source, built from an oauth2.Config whose client
// credentials come from environment.
func (r *Router) handleOAuthAuth(w http.ResponseWriter, req *http.Request) {
	folderPath := req.URL.Query().Get("folder_path")
	path, err := types.NormalizePath(folderPath)
	if err != nil || path == "" {
		writeError(w, kberrors.New("handleOAuthAuth", kberrors.InvalidPath, err))
		return
	}
	src, err := r.container.Store.GetSyncSource(req.Context(), path)
	if err != nil {
		writeError(w, err)
		return
	}
	cfg, err := sync.OAuthConfigFor(src.Kind)
	if err != nil {
		writeError(w, kberrors.New("handleOAuthAuth", kberrors.InvalidPath, err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"auth_url": cfg.AuthCodeURL(path),
	})
}

// handleOAuthCallback receives the provider redirect, exchanges the code
// for a token, and hands the completed token to the sync engine. The state
// parameter carries the folder path the flow was started for.
func (r *Router) handleOAuthCallback(w http.ResponseWriter, req *http.Request) {
	code := req.URL.Query().Get("code")
	path, err := types.NormalizePath(req.URL.Query().Get("state"))
	if err != nil || code == "" || path == "" {
		writeError(w, kberrors.New("handleOAuthCallback", kberrors.InvalidPath, fmt.Errorf("code and state are required")))
		return
	}
	src, err := r.container.Store.GetSyncSource(req.Context(), path)
	if err != nil {
		writeError(w, err)
		return
	}
	cfg, err := sync.OAuthConfigFor(src.Kind)
	if err != nil {
		writeError(w, kberrors.New("handleOAuthCallback", kberrors.InvalidPath, err))
		return
	}
	tok, err := cfg.Exchange(req.Context(), code)
	if err != nil {
		writeError(w, kberrors.New("handleOAuthCallback", kberrors.ProviderTransient, err))
		return
	}
	if err := r.container.Sync.CompleteOAuth(req.Context(), path, tok); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":      "connected",
		"provider":    string(src.Kind),
		"folder_path": path,
	})
}

func (r *Router) handleListGitBranches(w http.ResponseWriter, req *http.Request) {
	repo := req.URL.Query().Get("repo")
	folderPath := req.URL.Query().Get("folder_path")
	if repo == "" || folderPath == "" {
		writeError(w, kberrors.New("handleListGitBranches", kberrors.InvalidPath, fmt.Errorf("repo and folder_path are required")))
		return
	}
	src, err := r.container.Store.GetSyncSource(req.Context(), folderPath)
	if err != nil {
		writeError(w, err)
		return
	}
	branches, err := sync.ListGitHubBranches(req.Context(), src.Credential, repo)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"branches": branches})
}

func (r *Router) handleListDriveFolders(w http.ResponseWriter, req *http.Request) {
	folderPath := req.URL.Query().Get("folder_path")
	if folderPath == "" {
		writeError(w, kberrors.New("handleListDriveFolders", kberrors.InvalidPath, fmt.Errorf("folder_path is required")))
		return
	}
	src, err := r.container.Store.GetSyncSource(req.Context(), folderPath)
	if err != nil {
		writeError(w, err)
		return
	}
	parentID := req.URL.Query().Get("parent_id")
	folders, err := sync.ListGoogleDriveFolders(req.Context(), src.Credential, parentID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"folders": folders})
}
