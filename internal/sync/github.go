package sync

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/go-github/v45/github"
	"golang.org/x/oauth2"

	"knowledgebase/internal/kberrors"
	"knowledgebase/internal/types"
)

func init() {
	Register(types.ProviderGitHub, func() Provider { return &GitHubProvider{} })
}

// GitHubProvider mirrors a repository subtree via the GitHub tree API,
// using each blob's SHA as the provider etag.
type GitHubProvider struct{}

func (p *GitHubProvider) client(ctx context.Context, cred types.Credential) *github.Client {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cred.Token})
	return github.NewClient(oauth2.NewClient(ctx, ts))
}

// Authorize reports whether src's token is usable. GitHub personal-access
// and installation tokens do not generally carry a refresh token, so an
// expired token with nothing to refresh surfaces as a reconnect prompt
// rather than a hard failure.
func (p *GitHubProvider) Authorize(_ context.Context, src *types.SyncSource) (AuthResult, error) {
	if src.Credential.Token == "" {
		return AuthResult{NeedsReconnect: true}, nil
	}
	if src.Credential.Expired() && src.Credential.RefreshToken == "" {
		return AuthResult{NeedsReconnect: true}, nil
	}
	return AuthResult{Credential: src.Credential}, nil
}

func (p *GitHubProvider) Plan(ctx context.Context, src *types.SyncSource) (PlanResult, error) {
	owner, repo, err := splitRepo(src.Repo)
	if err != nil {
		return PlanResult{}, kberrors.New("GitHubProvider.Plan", kberrors.InvalidPath, err)
	}
	cl := p.client(ctx, src.Credential)

	ref := src.Branch
	if ref == "" {
		ref = "HEAD"
	}
	branch, _, err := cl.Repositories.GetBranch(ctx, owner, repo, ref, true)
	if err != nil {
		return PlanResult{}, kberrors.New("GitHubProvider.Plan", kberrors.ProviderTransient, err)
	}
	commitSHA := branch.GetCommit().GetSHA()
	if commitSHA == "" {
		return PlanResult{}, kberrors.New("GitHubProvider.Plan", kberrors.ProviderFatal, fmt.Errorf("branch %q has no commit", ref))
	}
	if commitSHA == src.Cursor {
		return PlanResult{NextCursor: commitSHA}, nil
	}

	tree, _, err := cl.Git.GetTree(ctx, owner, repo, commitSHA, true)
	if err != nil {
		return PlanResult{}, kberrors.New("GitHubProvider.Plan", kberrors.ProviderTransient, err)
	}

	var entries []RemoteEntry
	for _, entry := range tree.Entries {
		if entry.GetType() != "blob" {
			continue
		}
		relPath := entry.GetPath()
		if src.Root != "" {
			if !strings.HasPrefix(relPath, src.Root+"/") {
				continue
			}
			relPath = strings.TrimPrefix(relPath, src.Root+"/")
		}
		sha := entry.GetSHA()
		entries = append(entries, RemoteEntry{
			RemotePath: relPath,
			ETag:       sha,
			Fetch: func(ctx context.Context) ([]byte, error) {
				blob, _, err := cl.Git.GetBlobRaw(ctx, owner, repo, sha)
				if err != nil {
					return nil, err
				}
				return blob, nil
			},
		})
	}
	return PlanResult{Entries: entries, NextCursor: commitSHA}, nil
}

func splitRepo(repo string) (owner, name string, err error) {
	parts := strings.SplitN(repo, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("repo must be \"owner/name\", got %q", repo)
	}
	return parts[0], parts[1], nil
}
