// Package gitsync keeps the local kernel source tree identical to the
// remote branch tip. Each run starts from pristine upstream state: an
// existing tree is fetched, force-checked-out and hard-reset, discarding
// local modifications including patches applied by earlier runs.
package gitsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"

	"github.com/joshschmelzle/wlanpi-kernel/internal/config"
	"github.com/joshschmelzle/wlanpi-kernel/internal/logfields"
	"github.com/joshschmelzle/wlanpi-kernel/internal/retry"
)

// Source describes the upstream tree to mirror.
type Source struct {
	URL    string
	Branch string
	Path   string
	Depth  int // shallow depth; 0 clones full history
	Auth   *config.AuthConfig
}

// Sync guarantees on return that s.Path contains a working tree whose
// revision equals the remote branch tip. It returns the synced head hash.
func Sync(ctx context.Context, s Source) (string, error) {
	if _, err := os.Stat(filepath.Join(s.Path, ".git")); err == nil {
		return update(ctx, s)
	}
	return clone(ctx, s)
}

func clone(ctx context.Context, s Source) (string, error) {
	slog.Info("Cloning kernel source", logfields.Repository(s.URL), logfields.Branch(s.Branch), logfields.Path(s.Path))

	auth, err := authMethod(s.Auth)
	if err != nil {
		return "", err
	}

	var repo *git.Repository
	err = retry.Do(ctx, retry.DefaultPolicy(), func() error {
		// A failed attempt can leave a partial checkout behind.
		if err := os.RemoveAll(s.Path); err != nil {
			return err
		}
		repo, err = git.PlainCloneContext(ctx, s.Path, false, &git.CloneOptions{
			URL:           s.URL,
			ReferenceName: plumbing.NewBranchReferenceName(s.Branch),
			SingleBranch:  true,
			Depth:         s.Depth,
			Auth:          auth,
		})
		return err
	})
	if err != nil {
		return "", fmt.Errorf("clone %s: %w", s.URL, err)
	}

	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("read HEAD after clone: %w", err)
	}
	slog.Info("Kernel source cloned", logfields.Branch(s.Branch), slog.String("commit", shortHash(head.Hash())))
	return head.Hash().String(), nil
}

func update(ctx context.Context, s Source) (string, error) {
	slog.Info("Updating kernel source", logfields.Repository(s.URL), logfields.Branch(s.Branch), logfields.Path(s.Path))

	repo, err := git.PlainOpen(s.Path)
	if err != nil {
		return "", fmt.Errorf("open repository: %w", err)
	}

	auth, err := authMethod(s.Auth)
	if err != nil {
		return "", err
	}

	refspec := gitconfig.RefSpec(fmt.Sprintf("+refs/heads/%s:refs/remotes/origin/%s", s.Branch, s.Branch))
	err = retry.Do(ctx, retry.DefaultPolicy(), func() error {
		err := repo.FetchContext(ctx, &git.FetchOptions{
			RemoteName: "origin",
			RefSpecs:   []gitconfig.RefSpec{refspec},
			Depth:      s.Depth,
			Force:      true,
			Auth:       auth,
		})
		if errors.Is(err, git.NoErrAlreadyUpToDate) {
			return nil
		}
		return err
	})
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", s.Branch, err)
	}

	remote, err := repo.Reference(plumbing.NewRemoteReferenceName("origin", s.Branch), true)
	if err != nil {
		return "", fmt.Errorf("resolve origin/%s: %w", s.Branch, err)
	}

	// Point the local branch at the fetched tip, then force the worktree
	// onto it. Hard reset discards tracked local changes.
	local := plumbing.NewBranchReferenceName(s.Branch)
	if err := repo.Storer.SetReference(plumbing.NewHashReference(local, remote.Hash())); err != nil {
		return "", fmt.Errorf("update local branch %s: %w", s.Branch, err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("open worktree: %w", err)
	}
	if err := worktree.Checkout(&git.CheckoutOptions{Branch: local, Force: true}); err != nil {
		return "", fmt.Errorf("checkout %s: %w", s.Branch, err)
	}
	if err := worktree.Reset(&git.ResetOptions{Mode: git.HardReset, Commit: remote.Hash()}); err != nil {
		return "", fmt.Errorf("hard reset to origin/%s: %w", s.Branch, err)
	}

	slog.Info("Kernel source reset to branch tip", logfields.Branch(s.Branch), slog.String("commit", shortHash(remote.Hash())))
	return remote.Hash().String(), nil
}

func authMethod(auth *config.AuthConfig) (transport.AuthMethod, error) {
	if auth == nil {
		return nil, nil
	}
	switch auth.Type {
	case "", "none":
		return nil, nil

	case "ssh":
		keyPath := auth.KeyPath
		if keyPath == "" {
			keyPath = filepath.Join(os.Getenv("HOME"), ".ssh", "id_rsa")
		}
		keys, err := ssh.NewPublicKeysFromFile("git", keyPath, "")
		if err != nil {
			return nil, fmt.Errorf("load SSH key from %s: %w", keyPath, err)
		}
		return keys, nil

	case "token":
		if auth.Token == "" {
			return nil, fmt.Errorf("token authentication requires a token")
		}
		return &http.BasicAuth{Username: "token", Password: auth.Token}, nil

	case "basic":
		if auth.Username == "" || auth.Password == "" {
			return nil, fmt.Errorf("basic authentication requires username and password")
		}
		return &http.BasicAuth{Username: auth.Username, Password: auth.Password}, nil

	default:
		return nil, fmt.Errorf("unsupported authentication type: %s", auth.Type)
	}
}

func shortHash(h plumbing.Hash) string {
	return h.String()[:8]
}
