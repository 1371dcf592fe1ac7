package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"knowledgebase/internal/kberrors"
	"knowledgebase/internal/types"
)

func init() {
	Register(types.ProviderJira, func() Provider { return &JiraProvider{} })
}

// JiraProvider mirrors a project's issues as one markdown file per issue,
// keyed by issue key, using the issue's "updated" timestamp as the etag.
type JiraProvider struct{}

func (p *JiraProvider) Authorize(_ context.Context, src *types.SyncSource) (AuthResult, error) {
	if src.Credential.Token == "" {
		return AuthResult{NeedsReconnect: true}, nil
	}
	return AuthResult{Credential: src.Credential}, nil
}

type jiraSearchResult struct {
	StartAt int `json:"startAt"`
	Total   int `json:"total"`
	Issues  []struct {
		Key    string `json:"key"`
		Fields struct {
			Summary     string `json:"summary"`
			Description string `json:"description"`
			Updated     string `json:"updated"`
		} `json:"fields"`
	} `json:"issues"`
}

func (p *JiraProvider) Plan(ctx context.Context, src *types.SyncSource) (PlanResult, error) {
	if src.BaseURL == "" {
		return PlanResult{}, kberrors.New("JiraProvider.Plan", kberrors.InvalidPath, fmt.Errorf("sync source has no base URL"))
	}
	cl := newHTTPClient(ctx, src.Credential, 30*time.Second)

	var entries []RemoteEntry
	startAt := 0
	for {
		jql := fmt.Sprintf("project=%s ORDER BY updated DESC", src.ProjectKey)
		endpoint := fmt.Sprintf("%s/rest/api/2/search?jql=%s&startAt=%d&maxResults=100",
			src.BaseURL, url.QueryEscape(jql), startAt)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return PlanResult{}, kberrors.New("JiraProvider.Plan", kberrors.ProviderFatal, err)
		}
		resp, err := cl.Do(req)
		if err != nil {
			return PlanResult{}, kberrors.New("JiraProvider.Plan", kberrors.ProviderTransient, err)
		}
		var result jiraSearchResult
		decodeErr := json.NewDecoder(resp.Body).Decode(&result)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return PlanResult{}, kberrors.New("JiraProvider.Plan", kberrors.ProviderTransient, fmt.Errorf("jira search: status %d", resp.StatusCode))
		}
		if decodeErr != nil {
			return PlanResult{}, kberrors.New("JiraProvider.Plan", kberrors.ProviderFatal, decodeErr)
		}
		for _, issue := range result.Issues {
			summary := issue.Fields.Summary
			description := issue.Fields.Description
			key := issue.Key
			entries = append(entries, RemoteEntry{
				RemotePath: key + ".md",
				ETag:       issue.Fields.Updated,
				Fetch: func(context.Context) ([]byte, error) {
					return []byte(fmt.Sprintf("# %s: %s\n\n%s\n", key, summary, description)), nil
				},
			})
		}
		startAt += len(result.Issues)
		if len(result.Issues) == 0 || startAt >= result.Total {
			break
		}
	}
	return PlanResult{Entries: entries, NextCursor: src.Cursor}, nil
}
