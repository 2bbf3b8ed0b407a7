package github

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/suite"
)

type ClientTestSuite struct {
	suite.Suite
	server   *httptest.Server
	requests []recordedRequest
	status   int
	response interface{}
}

type recordedRequest struct {
	method string
	path   string
	query  string
	auth   string
	body   map[string]interface{}
}

func TestClientTestSuite(t *testing.T) {
	suite.Run(t, new(ClientTestSuite))
}

func (s *ClientTestSuite) SetupTest() {
	s.requests = nil
	s.status = http.StatusOK
	s.response = nil

	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recordedRequest{
			method: r.Method,
			path:   r.URL.Path,
			query:  r.URL.RawQuery,
			auth:   r.Header.Get("Authorization"),
		}
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&rec.body)
		}
		s.requests = append(s.requests, rec)

		w.WriteHeader(s.status)
		if s.response != nil {
			_ = json.NewEncoder(w).Encode(s.response)
		}
	}))
}

func (s *ClientTestSuite) TearDownTest() {
	s.server.Close()
}

func (s *ClientTestSuite) client() API {
	return New(s.server.URL, "test-token")
}

func (s *ClientTestSuite) TestTriggerWorkflow() {
	s.status = http.StatusNoContent

	err := s.client().TriggerWorkflow(context.Background(), "org/app", "ci.yml", "main", nil)
	s.Require().NoError(err)

	s.Require().Len(s.requests, 1)
	s.Equal(http.MethodPost, s.requests[0].method)
	s.Equal("/repos/org/app/actions/workflows/ci.yml/dispatches", s.requests[0].path)
	s.Equal("Bearer test-token", s.requests[0].auth)
	s.Equal("main", s.requests[0].body["ref"])
}

func (s *ClientTestSuite) TestListWorkflowRuns() {
	s.response = map[string]interface{}{
		"workflow_runs": []map[string]interface{}{
			{"id": 7, "name": "ci", "status": "completed", "conclusion": "success"},
		},
	}

	runs, err := s.client().ListWorkflowRuns(context.Background(), "org/app", &ListWorkflowRunsRequest{
		Workflow: "ci.yml",
		Branch:   "main",
		PerPage:  5,
	})
	s.Require().NoError(err)

	s.Require().Len(runs, 1)
	s.Equal(int64(7), runs[0].ID)
	s.Equal(WorkflowStatusCompleted, runs[0].Status)
	s.Equal(WorkflowConclusionSuccess, runs[0].Conclusion)

	s.Require().Len(s.requests, 1)
	s.Equal("/repos/org/app/actions/workflows/ci.yml/runs", s.requests[0].path)
	s.Contains(s.requests[0].query, "branch=main")
	s.Contains(s.requests[0].query, "per_page=5")
}

func (s *ClientTestSuite) TestCreatePullRequest() {
	s.response = map[string]interface{}{
		"number":   42,
		"title":    "feat: thing",
		"html_url": "https://example.com/pr/42",
		"state":    "open",
	}

	pr, err := s.client().CreatePullRequest(context.Background(), "org/app", "feat: thing", "body", "feature", "")
	s.Require().NoError(err)

	s.Equal(42, pr.Number)
	s.Equal("https://example.com/pr/42", pr.HTMLURL)

	s.Require().Len(s.requests, 1)
	s.Equal("/repos/org/app/pulls", s.requests[0].path)
	s.Equal("main", s.requests[0].body["base"])
}

func (s *ClientTestSuite) TestMergePullRequest() {
	err := s.client().MergePullRequest(context.Background(), "org/app", 42, "")
	s.Require().NoError(err)

	s.Require().Len(s.requests, 1)
	s.Equal(http.MethodPut, s.requests[0].method)
	s.Equal("/repos/org/app/pulls/42/merge", s.requests[0].path)
	s.Equal("merge", s.requests[0].body["merge_method"])
}

func (s *ClientTestSuite) TestCreateRelease() {
	s.response = map[string]interface{}{
		"id":       9,
		"tag_name": "v1.2.3",
		"name":     "Release 1.2.3",
		"html_url": "https://example.com/releases/v1.2.3",
	}

	release, err := s.client().CreateRelease(context.Background(), "org/app", "v1.2.3", "Release 1.2.3", "notes", false)
	s.Require().NoError(err)

	s.Equal("v1.2.3", release.TagName)
	s.Equal("/repos/org/app/releases", s.requests[0].path)
}

func (s *ClientTestSuite) TestCloseIssue() {
	err := s.client().CloseIssue(context.Background(), "org/app", 17)
	s.Require().NoError(err)

	s.Require().Len(s.requests, 1)
	s.Equal(http.MethodPatch, s.requests[0].method)
	s.Equal("/repos/org/app/issues/17", s.requests[0].path)
	s.Equal("closed", s.requests[0].body["state"])
}

func (s *ClientTestSuite) TestErrorStatusSurfacesAsError() {
	s.status = http.StatusForbidden

	err := s.client().CloseIssue(context.Background(), "org/app", 17)
	s.Require().Error(err)
	s.Contains(err.Error(), "403")
}
