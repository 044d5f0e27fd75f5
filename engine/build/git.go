package build

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/lightdash/metricflow-service/engine/core"
	"github.com/lightdash/metricflow-service/engine/environment"
	"github.com/lightdash/metricflow-service/pkg/logger"
)

// GitSyncer brings a project directory up to date with its remote before a
// build runs.
type GitSyncer interface {
	Sync(ctx context.Context, env *environment.Config, ref string) error
	HeadCommit(env *environment.Config) (string, error)
}

// gitClient is the go-git backed syncer.
type gitClient struct{}

// NewGitClient returns the default syncer.
func NewGitClient() GitSyncer {
	return gitClient{}
}

// Sync clones the repository when the project directory is not yet a
// repository, otherwise fetches and hard-resets onto origin/<ref>. When the
// remote ref cannot be resolved it falls back to a plain pull.
func (gitClient) Sync(ctx context.Context, env *environment.Config, ref string) error {
	repo, err := git.PlainOpen(env.ProjectDir)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return clone(ctx, env, ref)
	}
	if err != nil {
		return core.WrapError(core.CodeInternalError, http.StatusInternalServerError,
			"failed to open repository: "+env.ProjectDir, err)
	}

	fetchErr := repo.FetchContext(ctx, &git.FetchOptions{
		RemoteName: git.DefaultRemoteName,
		Force:      true,
		Tags:       git.AllTags,
	})
	if fetchErr != nil && !errors.Is(fetchErr, git.NoErrAlreadyUpToDate) {
		return core.WrapError(core.CodeInternalError, http.StatusInternalServerError,
			"failed to fetch from origin", fetchErr)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return core.WrapError(core.CodeInternalError, http.StatusInternalServerError,
			"failed to open worktree", err)
	}

	if ref != "" {
		remoteRef, refErr := repo.Reference(
			plumbing.NewRemoteReferenceName(git.DefaultRemoteName, ref), true)
		if refErr == nil {
			return resetOnto(repo, worktree, ref, remoteRef.Hash())
		}
		logger.Warn("ref not found on origin, falling back to pull",
			"project_dir", env.ProjectDir, "ref", ref)
	}

	pullErr := worktree.PullContext(ctx, &git.PullOptions{
		RemoteName: git.DefaultRemoteName,
		Force:      true,
	})
	if pullErr != nil && !errors.Is(pullErr, git.NoErrAlreadyUpToDate) {
		return core.WrapError(core.CodeInternalError, http.StatusInternalServerError,
			"failed to pull from origin", pullErr)
	}
	return nil
}

func clone(ctx context.Context, env *environment.Config, ref string) error {
	if env.RepoURL == "" {
		return core.NewError(core.CodeConfigInvalid, http.StatusInternalServerError,
			"project directory is not a git repository and no repo url is configured: "+env.ProjectDir)
	}
	opts := &git.CloneOptions{URL: env.RepoURL}
	if ref != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(ref)
	}
	if _, err := git.PlainCloneContext(ctx, env.ProjectDir, false, opts); err != nil {
		return core.WrapError(core.CodeInternalError, http.StatusInternalServerError,
			"failed to clone "+env.RepoURL, err)
	}
	return nil
}

// resetOnto checks out the local branch for ref, creating it at the remote
// hash when absent, then hard-resets and cleans the worktree.
func resetOnto(repo *git.Repository, worktree *git.Worktree, ref string, hash plumbing.Hash) error {
	branch := plumbing.NewBranchReferenceName(ref)
	checkout := &git.CheckoutOptions{Branch: branch, Force: true}
	if _, err := repo.Reference(branch, false); err != nil {
		checkout.Create = true
		checkout.Hash = hash
	}
	if err := worktree.Checkout(checkout); err != nil {
		return core.WrapError(core.CodeInternalError, http.StatusInternalServerError,
			"failed to checkout "+ref, err)
	}
	if err := worktree.Reset(&git.ResetOptions{Commit: hash, Mode: git.HardReset}); err != nil {
		return core.WrapError(core.CodeInternalError, http.StatusInternalServerError,
			"failed to reset onto origin/"+ref, err)
	}
	if err := worktree.Clean(&git.CleanOptions{Dir: true}); err != nil {
		return core.WrapError(core.CodeInternalError, http.StatusInternalServerError,
			"failed to clean worktree", err)
	}
	return nil
}

// HeadCommit returns the current HEAD hash of the project repository.
func (gitClient) HeadCommit(env *environment.Config) (string, error) {
	repo, err := git.PlainOpen(env.ProjectDir)
	if err != nil {
		return "", err
	}
	head, err := repo.Head()
	if err != nil {
		return "", err
	}
	return head.Hash().String(), nil
}
