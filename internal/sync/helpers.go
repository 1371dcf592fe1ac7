package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/go-github/v45/github"

	"knowledgebase/internal/kberrors"
	"knowledgebase/internal/types"
)

// BranchRef is one branch of a GitHub repository, as surfaced by the
// /api/sync/git/branches helper route.
type BranchRef struct {
	Name   string
	SHA    string
	Exists bool
}

// ListGitHubBranches returns every branch of owner/repo, used by the HTTP
// surface's folder-setup UI to populate a branch picker before a sync
// source is saved.
func ListGitHubBranches(ctx context.Context, cred types.Credential, repo string) ([]BranchRef, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, kberrors.New("ListGitHubBranches", kberrors.InvalidPath, err)
	}
	p := &GitHubProvider{}
	cl := p.client(ctx, cred)

	opts := &github.BranchListOptions{ListOptions: github.ListOptions{PerPage: 100}}
	out := []BranchRef{}
	for {
		branches, resp, err := cl.Repositories.ListBranches(ctx, owner, name, opts)
		if err != nil {
			return nil, kberrors.New("ListGitHubBranches", kberrors.ProviderTransient, err)
		}
		for _, b := range branches {
			out = append(out, BranchRef{Name: b.GetName(), SHA: b.GetCommit().GetSHA(), Exists: true})
		}
		if resp.NextPage == 0 {
			return out, nil
		}
		opts.Page = resp.NextPage
	}
}

// DriveFolder is one Drive folder entry returned by ListGoogleDriveFolders.
type DriveFolder struct {
	ID   string
	Name string
}

// ListGoogleDriveFolders lists the sub-folders of parentID (or "root") the
// credential can see, for the /api/sync/google-drive/folders helper route.
func ListGoogleDriveFolders(ctx context.Context, cred types.Credential, parentID string) ([]DriveFolder, error) {
	if parentID == "" {
		parentID = "root"
	}
	cl := newHTTPClient(ctx, cred, 30*time.Second)

	q := url.Values{}
	q.Set("q", fmt.Sprintf("'%s' in parents and trashed = false and mimeType = 'application/vnd.google-apps.folder'", parentID))
	q.Set("fields", "files(id, name)")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, driveAPIBase+"/files?"+q.Encode(), nil)
	if err != nil {
		return nil, kberrors.New("ListGoogleDriveFolders", kberrors.ProviderFatal, err)
	}
	resp, err := cl.Do(req)
	if err != nil {
		return nil, kberrors.New("ListGoogleDriveFolders", kberrors.ProviderTransient, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, kberrors.New("ListGoogleDriveFolders", kberrors.ProviderTransient, fmt.Errorf("drive folder list: status %d", resp.StatusCode))
	}
	var list struct {
		Files []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"files"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, kberrors.New("ListGoogleDriveFolders", kberrors.ProviderFatal, err)
	}
	out := make([]DriveFolder, 0, len(list.Files))
	for _, f := range list.Files {
		out = append(out, DriveFolder{ID: f.ID, Name: f.Name})
	}
	return out, nil
}
