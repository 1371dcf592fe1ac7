package sync

import (
	"context"
	"io"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/storage/memory"

	"knowledgebase/internal/kberrors"
	"knowledgebase/internal/types"
)

func init() {
	Register(types.ProviderAzureDevOps, func() Provider { return &GitRepoProvider{} })
}

// GitRepoProvider mirrors a git repository's working tree at a branch HEAD
// using a shallow in-memory clone. An unchanged HEAD (equal to the cursor)
// yields an empty plan; otherwise every file of the tree is listed with its
// blob hash as the etag.
// Used for Azure DevOps Repos and any bare git remote.
type GitRepoProvider struct{}

func (p *GitRepoProvider) auth(cred types.Credential) *githttp.BasicAuth {
	if cred.Token == "" {
		return nil
	}
	return &githttp.BasicAuth{Username: "token", Password: cred.Token}
}

func (p *GitRepoProvider) Authorize(_ context.Context, src *types.SyncSource) (AuthResult, error) {
	if src.Credential.Token == "" {
		return AuthResult{NeedsReconnect: true}, nil
	}
	return AuthResult{Credential: src.Credential}, nil
}

func (p *GitRepoProvider) Plan(ctx context.Context, src *types.SyncSource) (PlanResult, error) {
	repo, err := git.CloneContext(ctx, memory.NewStorage(), nil, &git.CloneOptions{
		URL:           src.Repo,
		Auth:          p.auth(src.Credential),
		ReferenceName: plumbing.NewBranchReferenceName(branchOr(src.Branch, "main")),
		SingleBranch:  true,
		Depth:         1,
	})
	if err != nil {
		return PlanResult{}, kberrors.New("GitRepoProvider.Plan", kberrors.ProviderTransient, err)
	}

	head, err := repo.Head()
	if err != nil {
		return PlanResult{}, kberrors.New("GitRepoProvider.Plan", kberrors.ProviderFatal, err)
	}
	commitSHA := head.Hash().String()
	if commitSHA == src.Cursor {
		return PlanResult{NextCursor: commitSHA}, nil
	}

	commit, err := repo.CommitObject(head.Hash())
	if err != nil {
		return PlanResult{}, kberrors.New("GitRepoProvider.Plan", kberrors.ProviderFatal, err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return PlanResult{}, kberrors.New("GitRepoProvider.Plan", kberrors.ProviderFatal, err)
	}

	var entries []RemoteEntry
	seen := make(map[plumbing.Hash]bool)
	walker := object.NewTreeWalker(tree, true, seen)
	defer walker.Close()
	for {
		name, entry, werr := walker.Next()
		if werr == io.EOF {
			break
		}
		if werr != nil {
			return PlanResult{}, kberrors.New("GitRepoProvider.Plan", kberrors.ProviderFatal, werr)
		}
		if !entry.Mode.IsFile() {
			continue
		}
		relPath := name
		if src.Root != "" {
			if !strings.HasPrefix(relPath, src.Root+"/") {
				continue
			}
			relPath = strings.TrimPrefix(relPath, src.Root+"/")
		}
		blobHash := entry.Hash
		entries = append(entries, RemoteEntry{
			RemotePath: relPath,
			ETag:       blobHash.String(),
			Fetch: func(context.Context) ([]byte, error) {
				f, err := tree.File(name)
				if err != nil {
					return nil, err
				}
				r, err := f.Reader()
				if err != nil {
					return nil, err
				}
				defer r.Close()
				return io.ReadAll(r)
			},
		})
	}
	return PlanResult{Entries: entries, NextCursor: commitSHA}, nil
}

func branchOr(branch, fallback string) string {
	if branch == "" {
		return fallback
	}
	return branch
}
