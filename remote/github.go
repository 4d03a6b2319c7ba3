package remote

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-github/v62/github"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"
)

const defaultConcurrency = 8

// Options configures a GitHub store.
type Options struct {
	Token  string // personal access token with contents:write
	Repo   string // "owner/name"
	Branch string // default "main"
	// BaseURL overrides the REST API root (GitHub Enterprise, tests).
	BaseURL string
	// HTTPClient is the transport wrapped by the token source.
	HTTPClient *http.Client
	// Concurrency bounds parallel blob uploads in Commit (default 8).
	Concurrency int
}

// GitHub stores files in a GitHub repository branch through the REST API.
type GitHub struct {
	client      *github.Client
	owner       string
	repo        string
	branch      string
	concurrency int
}

// NewGitHub creates a GitHub store authenticated with opts.Token.
func NewGitHub(ctx context.Context, opts Options) (*GitHub, error) {
	if opts.Token == "" {
		return nil, errors.New("remote: github token is required")
	}
	owner, repo, ok := strings.Cut(opts.Repo, "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return nil, fmt.Errorf("remote: invalid repository %q, want owner/name", opts.Repo)
	}
	if opts.Branch == "" {
		opts.Branch = "main"
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}

	if opts.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, opts.HTTPClient)
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.Token})
	client := github.NewClient(oauth2.NewClient(ctx, ts))

	if opts.BaseURL != "" {
		u, err := url.Parse(strings.TrimSuffix(opts.BaseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("remote: invalid api url: %w", err)
		}
		client.BaseURL = u
	}

	return &GitHub{
		client:      client,
		owner:       owner,
		repo:        repo,
		branch:      opts.Branch,
		concurrency: opts.Concurrency,
	}, nil
}

// Branch returns the branch the store writes to.
func (g *GitHub) Branch() string {
	return g.branch
}

// Get reads path from the branch head. It returns ErrNotExist when the path
// is absent.
func (g *GitHub) Get(ctx context.Context, path string) (*File, error) {
	fc, _, resp, err := g.client.Repositories.GetContents(ctx, g.owner, g.repo, path,
		&github.RepositoryContentGetOptions{Ref: g.branch})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, ErrNotExist
		}
		return nil, fmt.Errorf("remote: get %s: %w", path, err)
	}
	if fc == nil {
		return nil, fmt.Errorf("remote: %s is a directory", path)
	}

	f := &File{Path: path, SHA: fc.GetSHA()}
	// Files above 1 MB come back with encoding "none" and no content; only
	// the SHA is usable then.
	if fc.GetEncoding() != "none" {
		text, err := fc.GetContent()
		if err != nil {
			return nil, fmt.Errorf("remote: decode %s: %w", path, err)
		}
		f.Content = []byte(text)
	}
	return f, nil
}

// Put creates or replaces path with content. sha must be the current blob
// SHA when the path exists and empty when it does not. content is raw bytes;
// the base64 encoding required by the API happens here, once.
func (g *GitHub) Put(ctx context.Context, path string, content []byte, sha, message string) error {
	opts := &github.RepositoryContentFileOptions{
		Message: github.String(message),
		Content: content,
		Branch:  github.String(g.branch),
	}
	var err error
	if sha == "" {
		_, _, err = g.client.Repositories.CreateFile(ctx, g.owner, g.repo, path, opts)
	} else {
		opts.SHA = github.String(sha)
		_, _, err = g.client.Repositories.UpdateFile(ctx, g.owner, g.repo, path, opts)
	}
	if err != nil {
		return fmt.Errorf("remote: put %s: %w", path, err)
	}
	return nil
}

// Delete removes path. sha must be its current blob SHA.
func (g *GitHub) Delete(ctx context.Context, path, sha, message string) error {
	_, _, err := g.client.Repositories.DeleteFile(ctx, g.owner, g.repo, path, &github.RepositoryContentFileOptions{
		Message: github.String(message),
		SHA:     github.String(sha),
		Branch:  github.String(g.branch),
	})
	if err != nil {
		return fmt.Errorf("remote: delete %s: %w", path, err)
	}
	return nil
}

// Commit writes all entries in a single commit on top of the branch head and
// returns the new commit SHA. Blobs are uploaded concurrently; the branch
// only moves once every blob, the tree and the commit exist, so a failure
// leaves the repository untouched.
func (g *GitHub) Commit(ctx context.Context, message string, entries []Entry) (string, error) {
	if len(entries) == 0 {
		return "", errors.New("remote: empty commit")
	}

	ref, _, err := g.client.Git.GetRef(ctx, g.owner, g.repo, "refs/heads/"+g.branch)
	if err != nil {
		return "", fmt.Errorf("remote: read branch %s: %w", g.branch, err)
	}
	parentSHA := ref.GetObject().GetSHA()
	parent, _, err := g.client.Git.GetCommit(ctx, g.owner, g.repo, parentSHA)
	if err != nil {
		return "", fmt.Errorf("remote: read commit %s: %w", parentSHA, err)
	}

	tree := make([]*github.TreeEntry, len(entries))
	eg, ectx := errgroup.WithContext(ctx)
	eg.SetLimit(g.concurrency)
	for i, e := range entries {
		eg.Go(func() error {
			blob, _, err := g.client.Git.CreateBlob(ectx, g.owner, g.repo, newBlob(e.Payload))
			if err != nil {
				return fmt.Errorf("remote: upload %s: %w", e.Path, err)
			}
			tree[i] = &github.TreeEntry{
				Path: github.String(e.Path),
				Mode: github.String("100644"),
				Type: github.String("blob"),
				SHA:  blob.SHA,
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return "", err
	}

	newTree, _, err := g.client.Git.CreateTree(ctx, g.owner, g.repo, parent.GetTree().GetSHA(), tree)
	if err != nil {
		return "", fmt.Errorf("remote: create tree: %w", err)
	}
	commit, _, err := g.client.Git.CreateCommit(ctx, g.owner, g.repo, &github.Commit{
		Message: github.String(message),
		Tree:    &github.Tree{SHA: newTree.SHA},
		Parents: []*github.Commit{{SHA: github.String(parentSHA)}},
	}, nil)
	if err != nil {
		return "", fmt.Errorf("remote: create commit: %w", err)
	}
	_, _, err = g.client.Git.UpdateRef(ctx, g.owner, g.repo, &github.Reference{
		Ref:    github.String("refs/heads/" + g.branch),
		Object: &github.GitObject{SHA: commit.SHA},
	}, false)
	if err != nil {
		return "", fmt.Errorf("remote: move branch %s: %w", g.branch, err)
	}
	return commit.GetSHA(), nil
}

func newBlob(p Payload) *github.Blob {
	switch v := p.(type) {
	case Text:
		return &github.Blob{Content: github.String(string(v)), Encoding: github.String("utf-8")}
	case Binary:
		return &github.Blob{
			Content:  github.String(base64.StdEncoding.EncodeToString(v)),
			Encoding: github.String("base64"),
		}
	}
	return &github.Blob{
		Content:  github.String(base64.StdEncoding.EncodeToString(p.Bytes())),
		Encoding: github.String("base64"),
	}
}
