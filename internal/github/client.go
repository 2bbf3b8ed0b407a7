package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/conduit-ci/conduit/pkg/log"
	"github.com/pkg/errors"
	"github.com/sethgrid/pester"
)

// API is the source-control capability the executor drives.
// Every call may fail with a transport or authorization error,
// which the executor treats as a step failure.
type API interface {
	TriggerWorkflow(ctx context.Context, repo, workflow, ref string, inputs map[string]string) error
	ListWorkflowRuns(ctx context.Context, repo string, req *ListWorkflowRunsRequest) ([]*WorkflowRun, error)
	CreateBranch(ctx context.Context, repo, branch, fromRef string) (string, error)
	CreatePullRequest(ctx context.Context, repo, title, body, head, base string) (*PullRequest, error)
	MergePullRequest(ctx context.Context, repo string, number int, method string) error
	CreateRelease(ctx context.Context, repo, tag, name, body string, prerelease bool) (*Release, error)
	CloseIssue(ctx context.Context, repo string, number int) error
	AddIssueComment(ctx context.Context, repo string, number int, body string) error
}

type client struct {
	baseURL string
	token   string
	http    *pester.Client
}

// New creates a GitHub API client. The token may be empty, in
// which case calls run unauthenticated and rate limited.
func New(baseURL, token string) API {
	p := pester.New()
	p.MaxRetries = 3
	p.Backoff = pester.ExponentialBackoff
	p.Timeout = 30 * time.Second
	p.RetryOnHTTP429 = true

	if token == "" {
		log.Warn("no github token configured, api calls will be limited")
	}

	return &client{
		baseURL: baseURL,
		token:   token,
		http:    p,
	}
}

func (c *client) TriggerWorkflow(ctx context.Context, repo, workflow, ref string, inputs map[string]string) error {
	if inputs == nil {
		inputs = map[string]string{}
	}

	endpoint := fmt.Sprintf("/repos/%s/actions/workflows/%s/dispatches", repo, workflow)
	err := c.request(ctx, http.MethodPost, endpoint, map[string]interface{}{
		"ref":    ref,
		"inputs": inputs,
	}, nil, nil)
	if err != nil {
		return err
	}

	log.Info("triggered workflow", "workflow", workflow, "repo", repo, "ref", ref)
	return nil
}

func (c *client) ListWorkflowRuns(ctx context.Context, repo string, req *ListWorkflowRunsRequest) ([]*WorkflowRun, error) {
	if req == nil {
		req = &ListWorkflowRunsRequest{}
	}

	endpoint := fmt.Sprintf("/repos/%s/actions/runs", repo)
	if req.Workflow != "" {
		endpoint = fmt.Sprintf("/repos/%s/actions/workflows/%s/runs", repo, req.Workflow)
	}

	params := url.Values{}
	if req.PerPage > 0 {
		params.Set("per_page", strconv.Itoa(req.PerPage))
	}
	if req.Branch != "" {
		params.Set("branch", req.Branch)
	}
	if req.Status != "" {
		params.Set("status", req.Status)
	}

	var out struct {
		WorkflowRuns []*WorkflowRun `json:"workflow_runs"`
	}

	if err := c.request(ctx, http.MethodGet, endpoint, nil, params, &out); err != nil {
		return nil, err
	}

	return out.WorkflowRuns, nil
}

func (c *client) CreateBranch(ctx context.Context, repo, branch, fromRef string) (string, error) {
	var ref struct {
		Object struct {
			SHA string `json:"sha"`
		} `json:"object"`
	}

	endpoint := fmt.Sprintf("/repos/%s/git/ref/heads/%s", repo, fromRef)
	if err := c.request(ctx, http.MethodGet, endpoint, nil, nil, &ref); err != nil {
		return "", err
	}

	err := c.request(ctx, http.MethodPost, fmt.Sprintf("/repos/%s/git/refs", repo), map[string]interface{}{
		"ref": "refs/heads/" + branch,
		"sha": ref.Object.SHA,
	}, nil, nil)
	if err != nil {
		return "", err
	}

	log.Info("created branch", "branch", branch, "from", fromRef, "repo", repo)
	return ref.Object.SHA, nil
}

func (c *client) CreatePullRequest(ctx context.Context, repo, title, body, head, base string) (*PullRequest, error) {
	if base == "" {
		base = "main"
	}

	pr := &PullRequest{}
	err := c.request(ctx, http.MethodPost, fmt.Sprintf("/repos/%s/pulls", repo), map[string]interface{}{
		"title": title,
		"body":  body,
		"head":  head,
		"base":  base,
	}, nil, pr)
	if err != nil {
		return nil, err
	}

	log.Info("created pull request", "number", pr.Number, "repo", repo)
	return pr, nil
}

func (c *client) MergePullRequest(ctx context.Context, repo string, number int, method string) error {
	if method == "" {
		method = "merge"
	}

	endpoint := fmt.Sprintf("/repos/%s/pulls/%d/merge", repo, number)
	err := c.request(ctx, http.MethodPut, endpoint, map[string]interface{}{
		"merge_method": method,
	}, nil, nil)
	if err != nil {
		return err
	}

	log.Info("merged pull request", "number", number, "repo", repo, "method", method)
	return nil
}

func (c *client) CreateRelease(ctx context.Context, repo, tag, name, body string, prerelease bool) (*Release, error) {
	release := &Release{}
	err := c.request(ctx, http.MethodPost, fmt.Sprintf("/repos/%s/releases", repo), map[string]interface{}{
		"tag_name":               tag,
		"name":                   name,
		"body":                   body,
		"prerelease":             prerelease,
		"generate_release_notes": true,
	}, nil, release)
	if err != nil {
		return nil, err
	}

	log.Info("created release", "tag", release.TagName, "repo", repo)
	return release, nil
}

func (c *client) CloseIssue(ctx context.Context, repo string, number int) error {
	endpoint := fmt.Sprintf("/repos/%s/issues/%d", repo, number)
	err := c.request(ctx, http.MethodPatch, endpoint, map[string]interface{}{
		"state": "closed",
	}, nil, nil)
	if err != nil {
		return err
	}

	log.Info("closed issue", "number", number, "repo", repo)
	return nil
}

func (c *client) AddIssueComment(ctx context.Context, repo string, number int, body string) error {
	endpoint := fmt.Sprintf("/repos/%s/issues/%d/comments", repo, number)
	return c.request(ctx, http.MethodPost, endpoint, map[string]interface{}{
		"body": body,
	}, nil, nil)
}

func (c *client) request(ctx context.Context, method, endpoint string, body map[string]interface{}, params url.Values, out interface{}) error {
	u := c.baseURL + endpoint
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "failed to encode request body")
		}
		payload = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, payload)
	if err != nil {
		return errors.Wrap(err, "failed to build request")
	}

	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s failed", method, endpoint)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "failed to read response body")
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return errors.Errorf("%s %s returned %d: %s",
			method, endpoint, resp.StatusCode, truncate(data, 200))
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return errors.Wrap(err, "failed to decode response body")
		}
	}

	return nil
}

func truncate(data []byte, n int) string {
	if len(data) <= n {
		return string(data)
	}
	return string(data[:n])
}
