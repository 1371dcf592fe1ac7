// Package mcp exposes the content lifecycle pipeline's search/browse
// surface as MCP tools.
package mcp

import (
	"context"
	"fmt"

	mcp "github.com/fredcamaral/gomcp-sdk"
	"github.com/fredcamaral/gomcp-sdk/server"

	"knowledgebase/internal/di"
	"knowledgebase/internal/kberrors"
	"knowledgebase/internal/logging"
	"knowledgebase/internal/search"
	"knowledgebase/internal/types"
)

// Server wraps the gomcp-sdk server with the pipeline's seven tools, each
// delegating straight into the container's search engine, indexer and
// state store rather than re-implementing any domain logic here.
type Server struct {
	container *di.Container
	mcpServer *server.Server
	logger    logging.Logger
}

// New builds a Server bound to container and registers every tool. It does
// not start serving; call GetMCPServer().Start/SetTransport from cmd/server.
func New(container *di.Container, serviceName, serviceVersion string) *Server {
	s := &Server{
		container: container,
		mcpServer: mcp.NewServer(serviceName, serviceVersion),
		logger:    container.Logger().WithComponent("mcp"),
	}
	s.registerTools()
	return s
}

// GetMCPServer returns the underlying transport-agnostic server so
// cmd/server can attach stdio/HTTP transports.
func (s *Server) GetMCPServer() *server.Server { return s.mcpServer }

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool(
		"search",
		"Search indexed content using natural language. Returns ranked chunks from files the caller can see.",
		mcp.ObjectSchema("Search parameters", map[string]interface{}{
			"query":           mcp.StringParam("Natural language search query", true),
			"limit":           map[string]interface{}{"type": "integer", "description": "Maximum number of results", "minimum": 1, "maximum": 100},
			"include_folders": mcp.ArraySchema("Restrict results to these folder paths", map[string]interface{}{"type": "string"}),
			"exclude_folders": mcp.ArraySchema("Exclude results from these folder paths", map[string]interface{}{"type": "string"}),
		}, []string{"query"}),
	), mcp.ToolHandlerFunc(s.handleSearch))

	s.mcpServer.AddTool(mcp.NewTool(
		"list_indexed_folders",
		"List every managed folder with its index status and file/chunk counts.",
		mcp.ObjectSchema("No parameters", map[string]interface{}{}, []string{}),
	), mcp.ToolHandlerFunc(s.handleListIndexedFolders))

	s.mcpServer.AddTool(mcp.NewTool(
		"get_file",
		"Return the full reconstructed text of an indexed file.",
		mcp.ObjectSchema("Get file parameters", map[string]interface{}{
			"file_path": mcp.StringParam("Logical path of the file, relative to the managed root", true),
		}, []string{"file_path"}),
	), mcp.ToolHandlerFunc(s.handleGetFile))

	s.mcpServer.AddTool(mcp.NewTool(
		"get_chunk_range",
		"Return the merged text of a contiguous range of a file's chunks.",
		mcp.ObjectSchema("Get chunk range parameters", map[string]interface{}{
			"file_path": mcp.StringParam("Logical path of the file", true),
			"start":     map[string]interface{}{"type": "integer", "description": "First chunk ordinal, inclusive", "minimum": 0},
			"end":       map[string]interface{}{"type": "integer", "description": "Last chunk ordinal, inclusive", "minimum": 0},
		}, []string{"file_path", "start", "end"}),
	), mcp.ToolHandlerFunc(s.handleGetChunkRange))

	s.mcpServer.AddTool(mcp.NewTool(
		"get_file_uri",
		"Return an ephemeral download URI for a file's current content.",
		mcp.ObjectSchema("Get file URI parameters", map[string]interface{}{
			"file_path": mcp.StringParam("Logical path of the file", true),
		}, []string{"file_path"}),
	), mcp.ToolHandlerFunc(s.handleGetFileURI))

	s.mcpServer.AddTool(mcp.NewTool(
		"set_folder_active",
		"Toggle whether a folder's indexed content is visible to the calling user's searches.",
		mcp.ObjectSchema("Set folder active parameters", map[string]interface{}{
			"folder_path": mcp.StringParam("Logical folder path", true),
			"active":      map[string]interface{}{"type": "boolean", "description": "Whether the folder is visible to this user's searches"},
		}, []string{"folder_path", "active"}),
	), mcp.ToolHandlerFunc(s.handleSetFolderActive))

	s.mcpServer.AddTool(mcp.NewTool(
		"get_folder_active_states",
		"Return the calling user's per-folder visibility map.",
		mcp.ObjectSchema("No parameters", map[string]interface{}{}, []string{}),
	), mcp.ToolHandlerFunc(s.handleGetFolderActiveStates))
}

// userFromParams reads the caller identity the transport attached to
// params under "_user". UserIdentity is purely an opaque visibility-filter
// key; how it's populated is the transport layer's concern.
func userFromParams(params map[string]interface{}) types.UserIdentity {
	if v, ok := params["_user"].(string); ok {
		return types.UserIdentity(v)
	}
	return ""
}

func stringsFromParam(params map[string]interface{}, key string) []string {
	raw, ok := params[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func (s *Server) handleSearch(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	query, _ := params["query"].(string)
	if query == "" {
		return nil, fmt.Errorf("query parameter is required")
	}
	limit := 0
	if v, ok := params["limit"].(float64); ok {
		limit = int(v)
	}
	results, err := s.container.Search.Query(ctx, search.Request{
		QueryText:      query,
		Limit:          limit,
		IncludeFolders: stringsFromParam(params, "include_folders"),
		ExcludeFolders: stringsFromParam(params, "exclude_folders"),
		User:           userFromParams(params),
	})
	if err != nil {
		return nil, err
	}
	out := make([]map[string]interface{}, 0, len(results))
	for _, r := range results {
		out = append(out, map[string]interface{}{
			"score":         r.Score,
			"file_path":     r.FilePath,
			"file_name":     r.FileName,
			"folder_path":   r.FolderPath,
			"chunk_text":    r.ChunkText,
			"chunk_ordinal": r.ChunkOrdinal,
			"token_count":   r.TokenCount,
		})
	}
	return map[string]interface{}{"results": out}, nil
}

func (s *Server) handleListIndexedFolders(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
	folders, err := s.container.Search.ListIndexedFolders(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]interface{}, 0, len(folders))
	for _, f := range folders {
		out = append(out, map[string]interface{}{
			"path":         f.Path,
			"index_status": string(f.IndexStatus),
			"file_count":   f.FileCount,
			"chunk_count":  f.ChunkCount,
		})
	}
	return map[string]interface{}{"folders": out}, nil
}

func (s *Server) handleGetFile(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	path, _ := params["file_path"].(string)
	if path == "" {
		return nil, fmt.Errorf("file_path parameter is required")
	}
	text, err := s.container.Search.GetFile(ctx, path)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"file_path": path, "content": text}, nil
}

func (s *Server) handleGetChunkRange(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	path, _ := params["file_path"].(string)
	if path == "" {
		return nil, fmt.Errorf("file_path parameter is required")
	}
	start, _ := params["start"].(float64)
	end, _ := params["end"].(float64)
	text, err := s.container.Search.GetChunkRange(ctx, path, int(start), int(end))
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"file_path": path, "content": text}, nil
}

func (s *Server) handleGetFileURI(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	path, _ := params["file_path"].(string)
	if path == "" {
		return nil, fmt.Errorf("file_path parameter is required")
	}
	if _, err := s.container.Store.GetFile(ctx, path); err != nil {
		return nil, err
	}
	uri, err := s.container.Downloads.IssueURI(path)
	if err != nil {
		return nil, kberrors.New("handleGetFileURI", kberrors.StoreUnavailable, err)
	}
	return map[string]interface{}{"file_path": path, "uri": uri}, nil
}

func (s *Server) handleSetFolderActive(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	folderPath, _ := params["folder_path"].(string)
	if folderPath == "" {
		return nil, fmt.Errorf("folder_path parameter is required")
	}
	active, _ := params["active"].(bool)
	user := userFromParams(params)
	if user == "" {
		return nil, fmt.Errorf("set_folder_active requires a caller identity")
	}
	if err := s.container.Store.SetUserVisibility(ctx, &types.UserFolderVisibility{
		User:       user,
		FolderPath: folderPath,
		Active:     active,
	}); err != nil {
		return nil, err
	}
	return map[string]interface{}{"folder_path": folderPath, "active": active}, nil
}

func (s *Server) handleGetFolderActiveStates(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	user := userFromParams(params)
	if user == "" {
		return nil, fmt.Errorf("get_folder_active_states requires a caller identity")
	}
	folders, err := s.container.Store.ListFolders(ctx)
	if err != nil {
		return nil, err
	}
	states := make(map[string]bool, len(folders))
	for _, f := range folders {
		active, err := s.container.Store.GetUserVisibility(ctx, user, f.Path)
		if err != nil {
			return nil, err
		}
		states[f.Path] = active
	}
	return map[string]interface{}{"folders": states}, nil
}
