package vcs

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"intake/pkg/platform/sentinel"
)

// Repository is the subset of the repository resource the adapter needs.
type Repository struct {
	Name          string `json:"name"`
	FullName      string `json:"full_name"`
	DefaultBranch string `json:"default_branch"`
	Private       bool   `json:"private"`
}

// PullRequest is an opened review unit.
type PullRequest struct {
	Number  int    `json:"number"`
	HTMLURL string `json:"html_url"`
	State   string `json:"state"`
	Merged  bool   `json:"merged"`
}

// File is a file read from a branch. SHA is the blob version token.
type File struct {
	Path    string
	SHA     string
	Content []byte
}

// CommitResult reports whether CommitFile created or updated the path.
type CommitResult struct {
	Path      string
	SHA       string
	CommitSHA string
	Updated   bool
}

// EnsureRepository returns the configured repository, creating it with an
// initial commit on the default branch when it does not exist.
func (c *Client) EnsureRepository(ctx context.Context) (*Repository, error) {
	var repo Repository
	err := c.do(ctx, "get repository", http.MethodGet, c.repoPath(""), nil, &repo)
	if err == nil {
		return &repo, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, err
	}

	createPath := "/user/repos"
	if c.org {
		createPath = fmt.Sprintf("/orgs/%s/repos", c.owner)
	}
	req := map[string]any{
		"name":        c.repo,
		"private":     true,
		"auto_init":   true,
		"description": "Contact submissions",
	}
	if err := c.do(ctx, "create repository", http.MethodPost, createPath, req, &repo); err != nil {
		return nil, err
	}
	c.logger.InfoContext(ctx, "created repository",
		"repository", c.owner+"/"+c.repo,
		"default_branch", repo.DefaultBranch,
	)
	return &repo, nil
}

type gitRef struct {
	Ref    string `json:"ref"`
	Object struct {
		SHA string `json:"sha"`
	} `json:"object"`
}

// CreateBranch creates name from the head of base. An existing branch of the
// same name is logged as a warning and treated as success.
func (c *Client) CreateBranch(ctx context.Context, name, base string) error {
	if base == "" {
		base = c.defaultBranch
	}
	var head gitRef
	if err := c.do(ctx, "get base ref", http.MethodGet, c.repoPath("/git/ref/heads/%s", url.PathEscape(base)), nil, &head); err != nil {
		return err
	}

	req := map[string]string{
		"ref": "refs/heads/" + name,
		"sha": head.Object.SHA,
	}
	err := c.do(ctx, "create branch", http.MethodPost, c.repoPath("/git/refs"), req, nil)
	if err != nil && isStatus(err, http.StatusUnprocessableEntity) && errorMentions(err, "already exists") {
		c.logger.WarnContext(ctx, "branch already exists",
			"branch", name,
			"base", base,
		)
		return nil
	}
	return err
}

// DeleteBranch removes a branch. A branch that is already gone is not an error.
func (c *Client) DeleteBranch(ctx context.Context, name string) error {
	err := c.do(ctx, "delete branch", http.MethodDelete, c.repoPath("/git/refs/heads/%s", url.PathEscape(name)), nil, nil)
	if err != nil && (errors.Is(err, sentinel.ErrNotFound) || isStatus(err, http.StatusUnprocessableEntity)) {
		return nil
	}
	return err
}

type contentResponse struct {
	Path     string `json:"path"`
	SHA      string `json:"sha"`
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

// GetFile reads path on branch. A missing file returns sentinel.ErrNotFound.
func (c *Client) GetFile(ctx context.Context, path, branch string) (*File, error) {
	var out contentResponse
	p := c.repoPath("/contents/%s", escapePath(path))
	if branch != "" {
		p += "?ref=" + url.QueryEscape(branch)
	}
	if err := c.do(ctx, "get file", http.MethodGet, p, nil, &out); err != nil {
		return nil, err
	}
	f := &File{Path: out.Path, SHA: out.SHA}
	if out.Encoding == "base64" {
		decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(out.Content, "\n", ""))
		if err != nil {
			return nil, c.wrap("get file", http.StatusOK, fmt.Errorf("failed to decode content: %w", err))
		}
		f.Content = decoded
	} else {
		f.Content = []byte(out.Content)
	}
	return f, nil
}

type putContentRequest struct {
	Message string `json:"message"`
	Content string `json:"content"`
	Branch  string `json:"branch,omitempty"`
	SHA     string `json:"sha,omitempty"`
}

type putContentResponse struct {
	Content struct {
		Path string `json:"path"`
		SHA  string `json:"sha"`
	} `json:"content"`
	Commit struct {
		SHA string `json:"sha"`
	} `json:"commit"`
}

// CommitFile writes content to path on branch. When the file already exists
// its blob SHA is sent so the host performs an update against that version
// instead of rejecting a blind create.
func (c *Client) CommitFile(ctx context.Context, path string, content []byte, message, branch string) (*CommitResult, error) {
	req := putContentRequest{
		Message: message,
		Content: base64.StdEncoding.EncodeToString(content),
		Branch:  branch,
	}
	existing, err := c.GetFile(ctx, path, branch)
	switch {
	case err == nil:
		req.SHA = existing.SHA
	case errors.Is(err, sentinel.ErrNotFound):
	default:
		return nil, err
	}

	var out putContentResponse
	if err := c.do(ctx, "commit file", http.MethodPut, c.repoPath("/contents/%s", escapePath(path)), req, &out); err != nil {
		return nil, err
	}
	return &CommitResult{
		Path:      out.Content.Path,
		SHA:       out.Content.SHA,
		CommitSHA: out.Commit.SHA,
		Updated:   req.SHA != "",
	}, nil
}

// CreatePullRequest opens a pull request from head into base.
func (c *Client) CreatePullRequest(ctx context.Context, title, head, base, body string) (*PullRequest, error) {
	if base == "" {
		base = c.defaultBranch
	}
	req := map[string]string{
		"title": title,
		"head":  head,
		"base":  base,
		"body":  body,
	}
	var pr PullRequest
	if err := c.do(ctx, "create pull request", http.MethodPost, c.repoPath("/pulls"), req, &pr); err != nil {
		return nil, err
	}
	return &pr, nil
}

type mergeResponse struct {
	SHA     string `json:"sha"`
	Merged  bool   `json:"merged"`
	Message string `json:"message"`
}

// MergePullRequest merges pull request number with a merge commit.
func (c *Client) MergePullRequest(ctx context.Context, number int) error {
	var out mergeResponse
	req := map[string]string{"merge_method": "merge"}
	if err := c.do(ctx, "merge pull request", http.MethodPut, c.repoPath("/pulls/%d/merge", number), req, &out); err != nil {
		return err
	}
	if !out.Merged {
		return c.wrap("merge pull request", http.StatusOK, fmt.Errorf("pull request %d not merged: %s", number, out.Message))
	}
	return nil
}

// Health checks that the host is reachable and the credentials are accepted.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, "health", http.MethodGet, "/rate_limit", nil, nil)
}

// escapePath escapes each segment of a repository path, keeping separators.
func escapePath(p string) string {
	segments := strings.Split(strings.TrimPrefix(p, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}
