package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"knowledgebase/internal/kberrors"
	"knowledgebase/internal/types"
)

func init() {
	Register(types.ProviderBox, func() Provider { return &BoxProvider{} })
}

// BoxProvider lists a Box folder's items via the Box Content API v2.0.
type BoxProvider struct{}

const boxAPIBase = "https://api.box.com/2.0"

func (p *BoxProvider) Authorize(_ context.Context, src *types.SyncSource) (AuthResult, error) {
	if src.Credential.Token == "" {
		return AuthResult{NeedsReconnect: true}, nil
	}
	if src.Credential.Expired() && src.Credential.RefreshToken == "" {
		return AuthResult{NeedsReconnect: true}, nil
	}
	return AuthResult{Credential: src.Credential}, nil
}

type boxItemList struct {
	Entries []struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Name string `json:"name"`
		Etag string `json:"etag"`
	} `json:"entries"`
	Offset     int `json:"offset"`
	Limit      int `json:"limit"`
	TotalCount int `json:"total_count"`
}

func (p *BoxProvider) Plan(ctx context.Context, src *types.SyncSource) (PlanResult, error) {
	cl := newHTTPClient(ctx, src.Credential, 30*time.Second)

	var entries []RemoteEntry
	offset := 0
	const pageSize = 1000
	for {
		endpoint := fmt.Sprintf("%s/folders/%s/items?offset=%d&limit=%d&fields=name,etag,type", boxAPIBase, src.FolderID, offset, pageSize)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return PlanResult{}, kberrors.New("BoxProvider.Plan", kberrors.ProviderFatal, err)
		}
		resp, err := cl.Do(req)
		if err != nil {
			return PlanResult{}, kberrors.New("BoxProvider.Plan", kberrors.ProviderTransient, err)
		}
		var list boxItemList
		decodeErr := json.NewDecoder(resp.Body).Decode(&list)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return PlanResult{}, kberrors.New("BoxProvider.Plan", kberrors.ProviderTransient, fmt.Errorf("box list: status %d", resp.StatusCode))
		}
		if decodeErr != nil {
			return PlanResult{}, kberrors.New("BoxProvider.Plan", kberrors.ProviderFatal, decodeErr)
		}
		for _, item := range list.Entries {
			if item.Type != "file" {
				continue
			}
			fileID := item.ID
			entries = append(entries, RemoteEntry{
				RemotePath: item.Name,
				ETag:       item.Etag,
				Fetch: func(ctx context.Context) ([]byte, error) {
					return fetchBoxFile(ctx, cl, fileID)
				},
			})
		}
		offset += len(list.Entries)
		if len(list.Entries) == 0 || offset >= list.TotalCount {
			break
		}
	}
	return PlanResult{Entries: entries, NextCursor: src.Cursor}, nil
}

func fetchBoxFile(ctx context.Context, cl *http.Client, fileID string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/files/%s/content", boxAPIBase, fileID), nil)
	if err != nil {
		return nil, err
	}
	resp, err := cl.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("box content %s: status %d", fileID, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
