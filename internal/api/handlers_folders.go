package api

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"knowledgebase/internal/kberrors"
	"knowledgebase/internal/store"
	"knowledgebase/internal/types"
	"knowledgebase/internal/vectorstore"
)

func pathParam(req *http.Request) (string, error) {
	raw := chi.URLParam(req, "*")
	return types.NormalizePath(raw)
}

type createFolderRequest struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

func (r *Router) handleCreateFolder(w http.ResponseWriter, req *http.Request) {
	var body createFolderRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, kberrors.New("handleCreateFolder", kberrors.InvalidPath, err))
		return
	}
	path, err := types.NormalizePath(body.Path)
	if err != nil || path == "" {
		writeError(w, kberrors.New("handleCreateFolder", kberrors.InvalidPath, err))
		return
	}
	abs := filepath.Join(r.container.Config.RootPath, filepath.FromSlash(path))
	if err := os.MkdirAll(abs, 0o755); err != nil {
		writeError(w, kberrors.New("handleCreateFolder", kberrors.PermissionDenied, err))
		return
	}
	f := &types.Folder{Path: path, IndexingEnabled: true, IndexStatus: types.IndexStatusPending}
	if err := r.container.Store.UpsertFolder(req.Context(), f); err != nil {
		writeError(w, err)
		return
	}
	r.container.Indexer.Enqueue(path)
	writeJSON(w, http.StatusCreated, f)
}

func (r *Router) handleGetFolder(w http.ResponseWriter, req *http.Request) {
	path, err := pathParam(req)
	if err != nil {
		writeError(w, kberrors.New("handleGetFolder", kberrors.InvalidPath, err))
		return
	}
	f, err := r.container.Store.GetFolder(req.Context(), path)
	if err != nil {
		writeError(w, err)
		return
	}
	children, err := r.container.Store.ListFolders(req.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	var subfolders []string
	for _, c := range children {
		if c.Path == path {
			continue
		}
		if strings.HasPrefix(c.Path, path+"/") || path == "" {
			subfolders = append(subfolders, c.Path)
		}
	}
	files, err := r.container.Store.ListFiles(req.Context(), store.FileFilter{FolderPath: path, Prefix: true})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"folder":     f,
		"subfolders": subfolders,
		"files":      files,
	})
}

func (r *Router) handleDeleteFolder(w http.ResponseWriter, req *http.Request) {
	path, err := pathParam(req)
	if err != nil || path == "" {
		writeError(w, kberrors.New("handleDeleteFolder", kberrors.InvalidPath, err))
		return
	}
	abs := filepath.Join(r.container.Config.RootPath, filepath.FromSlash(path))
	if err := os.RemoveAll(abs); err != nil {
		writeError(w, kberrors.New("handleDeleteFolder", kberrors.PermissionDenied, err))
		return
	}
	// Vectors first, so a concurrent search sees either the folder or
	// nothing, never chunks whose state rows are already gone.
	if err := r.container.Vector.DeleteByFilter(req.Context(), vectorstore.Filter{FolderPath: path}); err != nil {
		writeError(w, err)
		return
	}
	if err := r.container.Store.DeleteFolder(req.Context(), path); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Router) handleGetDetails(w http.ResponseWriter, req *http.Request) {
	path, err := pathParam(req)
	if err != nil {
		writeError(w, kberrors.New("handleGetDetails", kberrors.InvalidPath, err))
		return
	}
	if f, err := r.container.Store.GetFolder(req.Context(), path); err == nil {
		stats, serr := r.container.Store.StatsByExtension(req.Context(), path)
		if serr != nil {
			writeError(w, serr)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"kind": "folder", "folder": f, "extension_stats": stats})
		return
	}
	file, err := r.container.Store.GetFile(req.Context(), path)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"kind": "file", "file": file})
}

type metadataRequest struct {
	MetadataText string `json:"metadata_text"`
}

func (r *Router) handlePutMetadata(w http.ResponseWriter, req *http.Request) {
	path, err := pathParam(req)
	if err != nil {
		writeError(w, kberrors.New("handlePutMetadata", kberrors.InvalidPath, err))
		return
	}
	var body metadataRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, kberrors.New("handlePutMetadata", kberrors.InvalidPath, err))
		return
	}
	f, err := r.container.Store.GetFolder(req.Context(), path)
	if err != nil {
		writeError(w, err)
		return
	}
	f.MetadataText = body.MetadataText
	f.MetadataUpdatedBy = userIdentity(req)
	if err := r.container.Store.UpsertFolder(req.Context(), f); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

type enabledRequest struct {
	Enabled bool `json:"enabled"`
}

// handleSettingsFoldersPut dispatches PUT /api/settings/folders/{path} and
// PUT /api/settings/folders/{path}/search-active, distinguished by the
// wildcard tail since {path} may itself contain slashes.
func (r *Router) handleSettingsFoldersPut(w http.ResponseWriter, req *http.Request) {
	raw := chi.URLParam(req, "*")
	if rest := strings.TrimSuffix(raw, "/search-active"); rest != raw {
		r.handleSetFolderSearchActive(w, req, rest)
		return
	}
	r.handleSetFolderEnabled(w, req, raw)
}

// handleSettingsFoldersPost dispatches POST /api/settings/folders/{path}/reindex.
func (r *Router) handleSettingsFoldersPost(w http.ResponseWriter, req *http.Request) {
	raw := chi.URLParam(req, "*")
	rest := strings.TrimSuffix(raw, "/reindex")
	if rest == raw {
		writeError(w, kberrors.New("handleSettingsFoldersPost", kberrors.InvalidPath, nil))
		return
	}
	r.handleReindexFolder(w, req, rest)
}

func (r *Router) handleSetFolderEnabled(w http.ResponseWriter, req *http.Request, raw string) {
	path, err := types.NormalizePath(raw)
	if err != nil {
		writeError(w, kberrors.New("handleSetFolderEnabled", kberrors.InvalidPath, err))
		return
	}
	var body enabledRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, kberrors.New("handleSetFolderEnabled", kberrors.InvalidPath, err))
		return
	}
	f, err := r.container.Store.GetFolder(req.Context(), path)
	if err != nil {
		writeError(w, err)
		return
	}
	f.IndexingEnabled = body.Enabled
	if body.Enabled {
		f.IndexStatus = types.IndexStatusPending
	} else {
		// Disabling purges the folder's vectors and drops it back to
		// "none" rather than leaving stale points searchable. The file
		// rows' index bookkeeping is reset with them: hashes would
		// otherwise still match on re-enable and the planner would skip
		// every file, leaving rows that claim chunks the vector store no
		// longer holds.
		if err := r.container.Vector.DeleteByFilter(req.Context(), vectorstore.Filter{FolderPath: path}); err != nil {
			writeError(w, err)
			return
		}
		if err := r.container.Store.ResetFolderIndexState(req.Context(), path); err != nil {
			writeError(w, err)
			return
		}
		f.IndexStatus = types.IndexStatusNone
	}
	if err := r.container.Store.UpsertFolder(req.Context(), f); err != nil {
		writeError(w, err)
		return
	}
	if body.Enabled {
		r.container.Indexer.Enqueue(path)
	}
	writeJSON(w, http.StatusOK, f)
}

type searchActiveRequest struct {
	SearchActive bool `json:"search_active"`
}

func (r *Router) handleSetFolderSearchActive(w http.ResponseWriter, req *http.Request, raw string) {
	path, err := types.NormalizePath(raw)
	if err != nil {
		writeError(w, kberrors.New("handleSetFolderSearchActive", kberrors.InvalidPath, err))
		return
	}
	user := userIdentity(req)
	if user == "" {
		writeError(w, kberrors.New("handleSetFolderSearchActive", kberrors.PermissionDenied, nil))
		return
	}
	var body searchActiveRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, kberrors.New("handleSetFolderSearchActive", kberrors.InvalidPath, err))
		return
	}
	if err := r.container.Store.SetUserVisibility(req.Context(), &types.UserFolderVisibility{
		User:       user,
		FolderPath: path,
		Active:     body.SearchActive,
	}); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"folder_path": path, "search_active": body.SearchActive})
}

func (r *Router) handleReindexFolder(w http.ResponseWriter, req *http.Request, raw string) {
	path, err := types.NormalizePath(raw)
	if err != nil {
		writeError(w, kberrors.New("handleReindexFolder", kberrors.InvalidPath, err))
		return
	}
	if _, err := r.container.Store.GetFolder(req.Context(), path); err != nil {
		writeError(w, err)
		return
	}
	r.container.Indexer.Enqueue(path)
	writeJSON(w, http.StatusAccepted, map[string]string{"folder_path": path, "status": "enqueued"})
}
