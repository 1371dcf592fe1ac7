package api

import (
	"io"
	"net/http"
	"path/filepath"

	"knowledgebase/internal/kberrors"
	"knowledgebase/internal/sync"
	"knowledgebase/internal/types"
)

const maxUploadBytes = 100 << 20 // 100MiB, generous for a documents/knowledge-base corpus

func (r *Router) handleUploadFile(w http.ResponseWriter, req *http.Request) {
	if err := req.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, kberrors.New("handleUploadFile", kberrors.InvalidPath, err))
		return
	}
	rawPath := req.FormValue("path")
	path, err := types.NormalizePath(rawPath)
	if err != nil || path == "" {
		writeError(w, kberrors.New("handleUploadFile", kberrors.InvalidPath, err))
		return
	}
	file, _, err := req.FormFile("file")
	if err != nil {
		writeError(w, kberrors.New("handleUploadFile", kberrors.InvalidPath, err))
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		writeError(w, kberrors.New("handleUploadFile", kberrors.InvalidPath, err))
		return
	}
	abs := filepath.Join(r.container.Config.RootPath, filepath.FromSlash(path))
	if err := sync.WriteAtomic(abs, content); err != nil {
		writeError(w, kberrors.New("handleUploadFile", kberrors.PermissionDenied, err))
		return
	}

	// The filesystem observer will also pick this write up, but enqueueing
	// directly gives the caller a prompt index rather than waiting out the
	// debounce window.
	r.container.Indexer.Enqueue(types.ParentPath(path))

	writeJSON(w, http.StatusAccepted, map[string]string{"path": path, "status": "uploaded"})
}

func (r *Router) handleDownloadFile(w http.ResponseWriter, req *http.Request) {
	token := req.URL.Query().Get("token")
	if token == "" {
		writeError(w, kberrors.New("handleDownloadFile", kberrors.InvalidPath, nil))
		return
	}
	path, err := r.container.Downloads.Verify(token)
	if err != nil {
		writeError(w, kberrors.New("handleDownloadFile", kberrors.PermissionDenied, err))
		return
	}
	if _, err := r.container.Store.GetFile(req.Context(), path); err != nil {
		writeError(w, err)
		return
	}
	abs := filepath.Join(r.container.Config.RootPath, filepath.FromSlash(path))
	http.ServeFile(w, req, abs)
}
