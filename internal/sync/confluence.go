package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"knowledgebase/internal/kberrors"
	"knowledgebase/internal/types"
)

func init() {
	Register(types.ProviderConfluence, func() Provider { return &ConfluenceProvider{} })
}

// ConfluenceProvider mirrors a space's pages as one HTML file per page,
// using the page's version number as the etag.
type ConfluenceProvider struct{}

func (p *ConfluenceProvider) Authorize(_ context.Context, src *types.SyncSource) (AuthResult, error) {
	if src.Credential.Token == "" {
		return AuthResult{NeedsReconnect: true}, nil
	}
	return AuthResult{Credential: src.Credential}, nil
}

type confluenceContentResult struct {
	Results []struct {
		Title string `json:"title"`
		Body  struct {
			Storage struct {
				Value string `json:"value"`
			} `json:"storage"`
		} `json:"body"`
		Version struct {
			Number int `json:"number"`
		} `json:"version"`
	} `json:"results"`
}

func (p *ConfluenceProvider) Plan(ctx context.Context, src *types.SyncSource) (PlanResult, error) {
	if src.BaseURL == "" {
		return PlanResult{}, kberrors.New("ConfluenceProvider.Plan", kberrors.InvalidPath, fmt.Errorf("sync source has no base URL"))
	}
	cl := newHTTPClient(ctx, src.Credential, 30*time.Second)

	var entries []RemoteEntry
	start := 0
	const limit = 50
	for {
		endpoint := fmt.Sprintf("%s/wiki/rest/api/content?spaceKey=%s&expand=body.storage,version&start=%d&limit=%d",
			src.BaseURL, src.SpaceKey, start, limit)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return PlanResult{}, kberrors.New("ConfluenceProvider.Plan", kberrors.ProviderFatal, err)
		}
		resp, err := cl.Do(req)
		if err != nil {
			return PlanResult{}, kberrors.New("ConfluenceProvider.Plan", kberrors.ProviderTransient, err)
		}
		var result confluenceContentResult
		decodeErr := json.NewDecoder(resp.Body).Decode(&result)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return PlanResult{}, kberrors.New("ConfluenceProvider.Plan", kberrors.ProviderTransient, fmt.Errorf("confluence list: status %d", resp.StatusCode))
		}
		if decodeErr != nil {
			return PlanResult{}, kberrors.New("ConfluenceProvider.Plan", kberrors.ProviderFatal, decodeErr)
		}
		for _, page := range result.Results {
			body := page.Body.Storage.Value
			title := page.Title
			entries = append(entries, RemoteEntry{
				RemotePath: sanitizeTitle(title) + ".html",
				ETag:       strconv.Itoa(page.Version.Number),
				Fetch: func(context.Context) ([]byte, error) {
					return []byte(fmt.Sprintf("<h1>%s</h1>\n%s", title, body)), nil
				},
			})
		}
		start += len(result.Results)
		if len(result.Results) < limit {
			break
		}
	}
	return PlanResult{Entries: entries, NextCursor: src.Cursor}, nil
}

func sanitizeTitle(title string) string {
	r := strings.NewReplacer("/", "-", "\\", "-", ":", "-")
	return r.Replace(title)
}
