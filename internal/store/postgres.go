package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"knowledgebase/internal/config"
	"knowledgebase/internal/kberrors"
	"knowledgebase/internal/types"
)

// Postgres is the durable Store backed by a relational schema:
// database/sql with the lib/pq driver, upsert via ON CONFLICT, explicit
// row scanning.
type Postgres struct {
	db *sql.DB
}

// Open connects to Postgres per cfg and configures the pool.
func Open(cfg config.PostgresConfig) (*Postgres, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	return &Postgres{db: db}, nil
}

// NewWithDB wraps an already-opened *sql.DB, for callers that manage the
// connection lifecycle themselves.
func NewWithDB(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) Close() error { return p.db.Close() }

func wrapStoreErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return kberrors.New(op, kberrors.NotFound, err)
	}
	return kberrors.New(op, kberrors.StoreUnavailable, err)
}

// --- Folders ---------------------------------------------------------------

func (p *Postgres) GetFolder(ctx context.Context, path string) (*types.Folder, error) {
	const q = `
		SELECT path, indexing_enabled, sync_status, last_synced_at, last_sync_error,
		       index_status, metadata_text, metadata_updated_by, created_at, updated_at
		FROM folders WHERE path = $1`
	row := p.db.QueryRowContext(ctx, q, path)
	f, err := scanFolder(row)
	if err != nil {
		return nil, wrapStoreErr("GetFolder", err)
	}
	return f, nil
}

func (p *Postgres) ListFolders(ctx context.Context) ([]*types.Folder, error) {
	const q = `
		SELECT path, indexing_enabled, sync_status, last_synced_at, last_sync_error,
		       index_status, metadata_text, metadata_updated_by, created_at, updated_at
		FROM folders ORDER BY path`
	rows, err := p.db.QueryContext(ctx, q)
	if err != nil {
		return nil, wrapStoreErr("ListFolders", err)
	}
	defer rows.Close()

	var out []*types.Folder
	for rows.Next() {
		f, err := scanFolder(rows)
		if err != nil {
			return nil, wrapStoreErr("ListFolders", err)
		}
		out = append(out, f)
	}
	return out, wrapStoreErr("ListFolders", rows.Err())
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanFolder(row rowScanner) (*types.Folder, error) {
	var f types.Folder
	var lastSyncedAt sql.NullTime
	var lastSyncError, metadataText, metadataUpdatedBy sql.NullString

	err := row.Scan(&f.Path, &f.IndexingEnabled, &f.SyncStatus, &lastSyncedAt, &lastSyncError,
		&f.IndexStatus, &metadataText, &metadataUpdatedBy, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if lastSyncedAt.Valid {
		f.LastSyncedAt = &lastSyncedAt.Time
	}
	f.LastSyncError = lastSyncError.String
	f.MetadataText = metadataText.String
	f.MetadataUpdatedBy = types.UserIdentity(metadataUpdatedBy.String)
	return &f, nil
}

func (p *Postgres) UpsertFolder(ctx context.Context, f *types.Folder) error {
	const q = `
		INSERT INTO folders (path, indexing_enabled, sync_status, last_synced_at, last_sync_error,
		                      index_status, metadata_text, metadata_updated_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (path) DO UPDATE SET
			indexing_enabled = EXCLUDED.indexing_enabled,
			sync_status = EXCLUDED.sync_status,
			last_synced_at = EXCLUDED.last_synced_at,
			last_sync_error = EXCLUDED.last_sync_error,
			index_status = EXCLUDED.index_status,
			metadata_text = EXCLUDED.metadata_text,
			metadata_updated_by = EXCLUDED.metadata_updated_by,
			updated_at = EXCLUDED.updated_at`
	now := time.Now().UTC()
	if f.CreatedAt.IsZero() {
		f.CreatedAt = now
	}
	f.UpdatedAt = now
	_, err := p.db.ExecContext(ctx, q, f.Path, f.IndexingEnabled, f.SyncStatus, f.LastSyncedAt,
		nullString(f.LastSyncError), f.IndexStatus, nullString(f.MetadataText),
		nullString(string(f.MetadataUpdatedBy)), f.CreatedAt, f.UpdatedAt)
	return wrapStoreErr("UpsertFolder", err)
}

// DeleteFolder removes path and every folder row beneath it. Files, chunks,
// sync sources and visibility rows go with their folder via ON DELETE
// CASCADE.
func (p *Postgres) DeleteFolder(ctx context.Context, path string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM folders WHERE path = $1 OR path LIKE $1 || '/%'`, path)
	return wrapStoreErr("DeleteFolder", err)
}

// --- Files -------------------------------------------------------------------

func (p *Postgres) GetFile(ctx context.Context, path string) (*types.File, error) {
	const q = `
		SELECT path, folder_path, size, mtime, content_hash, mime, index_status,
		       indexed_at, indexed_hash, chunk_count, error_message
		FROM files WHERE path = $1`
	f, err := scanFile(p.db.QueryRowContext(ctx, q, path))
	if err != nil {
		return nil, wrapStoreErr("GetFile", err)
	}
	return f, nil
}

func (p *Postgres) ListFiles(ctx context.Context, filter FileFilter) ([]*types.File, error) {
	q := `
		SELECT path, folder_path, size, mtime, content_hash, mime, index_status,
		       indexed_at, indexed_hash, chunk_count, error_message
		FROM files`
	var args []interface{}
	if filter.FolderPath != "" {
		if filter.Prefix {
			q += ` WHERE folder_path = $1 OR folder_path LIKE $2`
			args = append(args, filter.FolderPath, filter.FolderPath+"/%")
		} else {
			q += ` WHERE folder_path = $1`
			args = append(args, filter.FolderPath)
		}
	}
	q += ` ORDER BY path`

	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, wrapStoreErr("ListFiles", err)
	}
	defer rows.Close()

	var out []*types.File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, wrapStoreErr("ListFiles", err)
		}
		out = append(out, f)
	}
	return out, wrapStoreErr("ListFiles", rows.Err())
}

func scanFile(row rowScanner) (*types.File, error) {
	var f types.File
	var indexedAt sql.NullTime
	var indexedHash, errMsg sql.NullString
	var chunkCount sql.NullInt64

	err := row.Scan(&f.Path, &f.FolderPath, &f.Size, &f.MTime, &f.ContentHash, &f.MIME,
		&f.IndexStatus, &indexedAt, &indexedHash, &chunkCount, &errMsg)
	if err != nil {
		return nil, err
	}
	if indexedAt.Valid {
		f.IndexedAt = &indexedAt.Time
	}
	f.IndexedHash = indexedHash.String
	f.ChunkCount = int(chunkCount.Int64)
	f.ErrorMessage = errMsg.String
	return &f, nil
}

func (p *Postgres) UpsertFile(ctx context.Context, f *types.File) error {
	const q = `
		INSERT INTO files (path, folder_path, size, mtime, content_hash, mime, index_status,
		                    indexed_at, indexed_hash, chunk_count, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (path) DO UPDATE SET
			folder_path = EXCLUDED.folder_path,
			size = EXCLUDED.size,
			mtime = EXCLUDED.mtime,
			content_hash = EXCLUDED.content_hash,
			mime = EXCLUDED.mime,
			index_status = EXCLUDED.index_status,
			indexed_at = EXCLUDED.indexed_at,
			indexed_hash = EXCLUDED.indexed_hash,
			chunk_count = EXCLUDED.chunk_count,
			error_message = EXCLUDED.error_message`
	_, err := p.db.ExecContext(ctx, q, f.Path, f.FolderPath, f.Size, f.MTime, f.ContentHash, f.MIME,
		f.IndexStatus, f.IndexedAt, nullString(f.IndexedHash), f.ChunkCount, nullString(f.ErrorMessage))
	return wrapStoreErr("UpsertFile", err)
}

func (p *Postgres) DeleteFile(ctx context.Context, path string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM files WHERE path = $1`, path)
	return wrapStoreErr("DeleteFile", err)
}

func (p *Postgres) MarkFileIndexStatus(ctx context.Context, path string, status types.IndexStatus, errMsg string) error {
	const q = `UPDATE files SET index_status = $2, error_message = $3 WHERE path = $1`
	res, err := p.db.ExecContext(ctx, q, path, status, nullString(errMsg))
	if err != nil {
		return wrapStoreErr("MarkFileIndexStatus", err)
	}
	return checkRowsAffected("MarkFileIndexStatus", res, path)
}

func checkRowsAffected(op string, res sql.Result, path string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return wrapStoreErr(op, err)
	}
	if n == 0 {
		return kberrors.New(op, kberrors.NotFound, fmt.Errorf("no row for path %q", path))
	}
	return nil
}

// --- Chunks ------------------------------------------------------------------

// SwapChunks deletes all chunks for path, inserts the new set, and flips
// the file to indexed with its indexed_hash and chunk_count, all inside a
// single transaction, so readers never observe a stale chunk_count.
func (p *Postgres) SwapChunks(ctx context.Context, path string, chunks []*types.Chunk, indexedHash string) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapStoreErr("SwapChunks", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE file_path = $1`, path); err != nil {
		return wrapStoreErr("SwapChunks", err)
	}

	const insertQ = `
		INSERT INTO chunks (file_path, ordinal, text, token_count, char_start, char_end,
		                     embedding_version, dense_vector_id, sparse_vector_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	for _, c := range chunks {
		if _, err := tx.ExecContext(ctx, insertQ, path, c.Ordinal, c.Text, c.TokenCount,
			c.CharStart, c.CharEnd, c.EmbeddingVersion, c.DenseVectorID, nullString(c.SparseVectorID)); err != nil {
			return wrapStoreErr("SwapChunks", err)
		}
	}

	const markQ = `
		UPDATE files SET index_status = $2, indexed_hash = $3, chunk_count = $4, indexed_at = $5
		WHERE path = $1`
	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, markQ, path, types.IndexStatusIndexed, indexedHash, len(chunks), now)
	if err != nil {
		return wrapStoreErr("SwapChunks", err)
	}
	if err := checkRowsAffected("SwapChunks", res, path); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return wrapStoreErr("SwapChunks", err)
	}
	return nil
}

func (p *Postgres) ListChunks(ctx context.Context, path string) ([]*types.Chunk, error) {
	const q = `
		SELECT file_path, ordinal, text, token_count, char_start, char_end,
		       embedding_version, dense_vector_id, sparse_vector_id
		FROM chunks WHERE file_path = $1 ORDER BY ordinal`
	rows, err := p.db.QueryContext(ctx, q, path)
	if err != nil {
		return nil, wrapStoreErr("ListChunks", err)
	}
	defer rows.Close()

	var out []*types.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, wrapStoreErr("ListChunks", err)
		}
		out = append(out, c)
	}
	return out, wrapStoreErr("ListChunks", rows.Err())
}

func (p *Postgres) GetChunk(ctx context.Context, path string, ordinal int) (*types.Chunk, error) {
	const q = `
		SELECT file_path, ordinal, text, token_count, char_start, char_end,
		       embedding_version, dense_vector_id, sparse_vector_id
		FROM chunks WHERE file_path = $1 AND ordinal = $2`
	c, err := scanChunk(p.db.QueryRowContext(ctx, q, path, ordinal))
	if err != nil {
		return nil, wrapStoreErr("GetChunk", err)
	}
	return c, nil
}

func scanChunk(row rowScanner) (*types.Chunk, error) {
	var c types.Chunk
	var sparseID sql.NullString
	err := row.Scan(&c.FilePath, &c.Ordinal, &c.Text, &c.TokenCount, &c.CharStart, &c.CharEnd,
		&c.EmbeddingVersion, &c.DenseVectorID, &sparseID)
	if err != nil {
		return nil, err
	}
	c.SparseVectorID = sparseID.String
	return &c, nil
}

// --- Sync sources --------------------------------------------------------------

func (p *Postgres) GetSyncSource(ctx context.Context, folderPath string) (*types.SyncSource, error) {
	const q = `
		SELECT folder_path, kind, credential_json, repo, branch, root,
		       drive_id, site_id, folder_id, project_key, space_key, base_url, cursor
		FROM sync_sources WHERE folder_path = $1`
	row := p.db.QueryRowContext(ctx, q, folderPath)

	var s types.SyncSource
	var credJSON string
	var repo, branch, root, driveID, siteID, folderID, projectKey, spaceKey, baseURL, cursor sql.NullString
	err := row.Scan(&s.FolderPath, &s.Kind, &credJSON, &repo, &branch, &root,
		&driveID, &siteID, &folderID, &projectKey, &spaceKey, &baseURL, &cursor)
	if err != nil {
		return nil, wrapStoreErr("GetSyncSource", err)
	}
	if err := json.Unmarshal([]byte(credJSON), &s.Credential); err != nil {
		return nil, kberrors.New("GetSyncSource", kberrors.StoreUnavailable, fmt.Errorf("decode credential: %w", err))
	}
	s.Repo, s.Branch, s.Root = repo.String, branch.String, root.String
	s.DriveID, s.SiteID, s.FolderID = driveID.String, siteID.String, folderID.String
	s.ProjectKey, s.SpaceKey = projectKey.String, spaceKey.String
	s.BaseURL, s.Cursor = baseURL.String, cursor.String
	return &s, nil
}

// ListSyncSources returns every configured sync source, for the sync
// scheduler's periodic pass.
func (p *Postgres) ListSyncSources(ctx context.Context) ([]*types.SyncSource, error) {
	const q = `
		SELECT folder_path, kind, credential_json, repo, branch, root,
		       drive_id, site_id, folder_id, project_key, space_key, base_url, cursor
		FROM sync_sources ORDER BY folder_path`
	rows, err := p.db.QueryContext(ctx, q)
	if err != nil {
		return nil, wrapStoreErr("ListSyncSources", err)
	}
	defer rows.Close()

	var out []*types.SyncSource
	for rows.Next() {
		var s types.SyncSource
		var credJSON string
		var repo, branch, root, driveID, siteID, folderID, projectKey, spaceKey, baseURL, cursor sql.NullString
		if err := rows.Scan(&s.FolderPath, &s.Kind, &credJSON, &repo, &branch, &root,
			&driveID, &siteID, &folderID, &projectKey, &spaceKey, &baseURL, &cursor); err != nil {
			return nil, wrapStoreErr("ListSyncSources", err)
		}
		if err := json.Unmarshal([]byte(credJSON), &s.Credential); err != nil {
			return nil, kberrors.New("ListSyncSources", kberrors.StoreUnavailable, fmt.Errorf("decode credential: %w", err))
		}
		s.Repo, s.Branch, s.Root = repo.String, branch.String, root.String
		s.DriveID, s.SiteID, s.FolderID = driveID.String, siteID.String, folderID.String
		s.ProjectKey, s.SpaceKey = projectKey.String, spaceKey.String
		s.BaseURL, s.Cursor = baseURL.String, cursor.String
		out = append(out, &s)
	}
	return out, wrapStoreErr("ListSyncSources", rows.Err())
}

// SetSyncSource replaces a folder's sync source wholesale, never
// field-by-field: callers always pass a complete types.SyncSource and this
// upserts the whole row.
func (p *Postgres) SetSyncSource(ctx context.Context, src *types.SyncSource) error {
	credJSON, err := json.Marshal(src.Credential)
	if err != nil {
		return kberrors.New("SetSyncSource", kberrors.InvalidPath, fmt.Errorf("encode credential: %w", err))
	}
	const q = `
		INSERT INTO sync_sources (folder_path, kind, credential_json, repo, branch, root,
		                          drive_id, site_id, folder_id, project_key, space_key, base_url, cursor)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (folder_path) DO UPDATE SET
			kind = EXCLUDED.kind,
			credential_json = EXCLUDED.credential_json,
			repo = EXCLUDED.repo, branch = EXCLUDED.branch, root = EXCLUDED.root,
			drive_id = EXCLUDED.drive_id, site_id = EXCLUDED.site_id, folder_id = EXCLUDED.folder_id,
			project_key = EXCLUDED.project_key, space_key = EXCLUDED.space_key,
			base_url = EXCLUDED.base_url, cursor = EXCLUDED.cursor`
	_, err = p.db.ExecContext(ctx, q, src.FolderPath, src.Kind, string(credJSON),
		nullString(src.Repo), nullString(src.Branch), nullString(src.Root),
		nullString(src.DriveID), nullString(src.SiteID), nullString(src.FolderID),
		nullString(src.ProjectKey), nullString(src.SpaceKey), nullString(src.BaseURL), nullString(src.Cursor))
	return wrapStoreErr("SetSyncSource", err)
}

func (p *Postgres) ClearSyncSource(ctx context.Context, folderPath string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM sync_sources WHERE folder_path = $1`, folderPath)
	return wrapStoreErr("ClearSyncSource", err)
}

func (p *Postgres) GetSyncETags(ctx context.Context, folderPath string) (map[string]string, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT path, etag FROM sync_file_etags WHERE folder_path = $1`, folderPath)
	if err != nil {
		return nil, wrapStoreErr("GetSyncETags", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var path, etag string
		if err := rows.Scan(&path, &etag); err != nil {
			return nil, wrapStoreErr("GetSyncETags", err)
		}
		out[path] = etag
	}
	return out, wrapStoreErr("GetSyncETags", rows.Err())
}

func (p *Postgres) SetSyncETag(ctx context.Context, folderPath, path, etag string) error {
	const q = `
		INSERT INTO sync_file_etags (folder_path, path, etag)
		VALUES ($1, $2, $3)
		ON CONFLICT (folder_path, path) DO UPDATE SET etag = EXCLUDED.etag`
	_, err := p.db.ExecContext(ctx, q, folderPath, path, etag)
	return wrapStoreErr("SetSyncETag", err)
}

func (p *Postgres) DeleteSyncETag(ctx context.Context, folderPath, path string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM sync_file_etags WHERE folder_path = $1 AND path = $2`, folderPath, path)
	return wrapStoreErr("DeleteSyncETag", err)
}

// ResetFolderIndexState drops chunk rows and index bookkeeping for every
// file under folderPath (the folder itself and its subtree), in one
// transaction so a concurrent reader never sees chunks without their
// file's reset status.
func (p *Postgres) ResetFolderIndexState(ctx context.Context, folderPath string) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapStoreErr("ResetFolderIndexState", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	const delChunks = `
		DELETE FROM chunks WHERE file_path IN (
			SELECT path FROM files WHERE folder_path = $1 OR folder_path LIKE $1 || '/%'
		)`
	if _, err := tx.ExecContext(ctx, delChunks, folderPath); err != nil {
		return wrapStoreErr("ResetFolderIndexState", err)
	}
	const resetFiles = `
		UPDATE files
		SET index_status = 'none', indexed_hash = NULL, chunk_count = 0, indexed_at = NULL
		WHERE folder_path = $1 OR folder_path LIKE $1 || '/%'`
	if _, err := tx.ExecContext(ctx, resetFiles, folderPath); err != nil {
		return wrapStoreErr("ResetFolderIndexState", err)
	}
	return wrapStoreErr("ResetFolderIndexState", tx.Commit())
}

// --- Visibility ----------------------------------------------------------------

func (p *Postgres) GetUserVisibility(ctx context.Context, user types.UserIdentity, folderPath string) (bool, error) {
	const q = `SELECT active FROM user_folder_visibility WHERE user_id = $1 AND folder_path = $2`
	var active bool
	err := p.db.QueryRowContext(ctx, q, string(user), folderPath).Scan(&active)
	if errors.Is(err, sql.ErrNoRows) {
		return true, nil // folders are visible until a user opts out
	}
	if err != nil {
		return false, wrapStoreErr("GetUserVisibility", err)
	}
	return active, nil
}

func (p *Postgres) SetUserVisibility(ctx context.Context, v *types.UserFolderVisibility) error {
	const q = `
		INSERT INTO user_folder_visibility (user_id, folder_path, active)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, folder_path) DO UPDATE SET active = EXCLUDED.active`
	_, err := p.db.ExecContext(ctx, q, string(v.User), v.FolderPath, v.Active)
	return wrapStoreErr("SetUserVisibility", err)
}

// --- Stats -----------------------------------------------------------------------

func (p *Postgres) StatsByExtension(ctx context.Context, folderPath string) ([]ExtensionStats, error) {
	const q = `
		SELECT
			COALESCE(NULLIF(substring(path from '\.([^./]+)$'), ''), '(none)') AS ext,
			count(*), COALESCE(sum(size), 0)
		FROM files
		WHERE folder_path = $1 OR folder_path LIKE $2
		GROUP BY ext
		ORDER BY ext`
	rows, err := p.db.QueryContext(ctx, q, folderPath, folderPath+"/%")
	if err != nil {
		return nil, wrapStoreErr("StatsByExtension", err)
	}
	defer rows.Close()

	var out []ExtensionStats
	for rows.Next() {
		var s ExtensionStats
		if err := rows.Scan(&s.Extension, &s.FileCount, &s.ByteSize); err != nil {
			return nil, wrapStoreErr("StatsByExtension", err)
		}
		out = append(out, s)
	}
	return out, wrapStoreErr("StatsByExtension", rows.Err())
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// isUniqueViolation reports whether err is a Postgres unique-constraint
// violation (SQLSTATE 23505, or an error text containing "duplicate key").
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "duplicate key")
}
