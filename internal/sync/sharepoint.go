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
	Register(types.ProviderSharePoint, func() Provider { return &SharePointProvider{} })
}

// SharePointProvider lists a document library folder via Microsoft
// Graph's drive-items API, against the v1.0 REST endpoint directly.
type SharePointProvider struct{}

const graphAPIBase = "https://graph.microsoft.com/v1.0"

// azureADTokenURL builds the tenant-scoped v2.0 token endpoint; TenantID
// falls back to "common" for multi-tenant app registrations.
func azureADTokenURL(tenantID string) string {
	if tenantID == "" {
		tenantID = "common"
	}
	return "https://login.microsoftonline.com/" + tenantID + "/oauth2/v2.0/token"
}

func (p *SharePointProvider) Authorize(ctx context.Context, src *types.SyncSource) (AuthResult, error) {
	if src.Credential.Token == "" {
		return AuthResult{NeedsReconnect: true}, nil
	}
	if !src.Credential.Expired() {
		return AuthResult{Credential: src.Credential}, nil
	}
	if src.Credential.RefreshToken == "" {
		return AuthResult{NeedsReconnect: true}, nil
	}
	refreshed, err := refreshOAuth2Token(ctx, azureADTokenURL(src.Credential.TenantID), src.Credential)
	if err != nil {
		return AuthResult{NeedsReconnect: true}, nil
	}
	return AuthResult{Credential: refreshed}, nil
}

type graphDriveItemList struct {
	Value []struct {
		ID   string  `json:"id"`
		Name string  `json:"name"`
		ETag string  `json:"eTag"`
		File *struct{} `json:"file"`
	} `json:"value"`
	NextLink string `json:"@odata.nextLink"`
}

func (p *SharePointProvider) Plan(ctx context.Context, src *types.SyncSource) (PlanResult, error) {
	cl := newHTTPClient(ctx, src.Credential, 30*time.Second)
	endpoint := fmt.Sprintf("%s/sites/%s/drives/%s/items/%s/children", graphAPIBase, src.SiteID, src.DriveID, src.FolderID)

	var entries []RemoteEntry
	for endpoint != "" {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return PlanResult{}, kberrors.New("SharePointProvider.Plan", kberrors.ProviderFatal, err)
		}
		resp, err := cl.Do(req)
		if err != nil {
			return PlanResult{}, kberrors.New("SharePointProvider.Plan", kberrors.ProviderTransient, err)
		}
		var list graphDriveItemList
		decodeErr := json.NewDecoder(resp.Body).Decode(&list)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return PlanResult{}, kberrors.New("SharePointProvider.Plan", kberrors.ProviderTransient, fmt.Errorf("graph list: status %d", resp.StatusCode))
		}
		if decodeErr != nil {
			return PlanResult{}, kberrors.New("SharePointProvider.Plan", kberrors.ProviderFatal, decodeErr)
		}
		for _, item := range list.Value {
			if item.File == nil {
				continue // subfolder; SharePoint sync does not recurse automatically
			}
			itemID := item.ID
			entries = append(entries, RemoteEntry{
				RemotePath: item.Name,
				ETag:       item.ETag,
				Fetch: func(ctx context.Context) ([]byte, error) {
					return fetchGraphContent(ctx, cl, src.SiteID, src.DriveID, itemID)
				},
			})
		}
		endpoint = list.NextLink
	}
	return PlanResult{Entries: entries, NextCursor: src.Cursor}, nil
}

func fetchGraphContent(ctx context.Context, cl *http.Client, siteID, driveID, itemID string) ([]byte, error) {
	endpoint := fmt.Sprintf("%s/sites/%s/drives/%s/items/%s/content", graphAPIBase, siteID, driveID, itemID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := cl.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("graph content %s: status %d", itemID, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
