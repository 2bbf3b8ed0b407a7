package github

import "time"

// WorkflowStatus is the lifecycle state of a remote workflow run.
type WorkflowStatus string

const (
	WorkflowStatusQueued     WorkflowStatus = "queued"
	WorkflowStatusInProgress WorkflowStatus = "in_progress"
	WorkflowStatusCompleted  WorkflowStatus = "completed"
)

// WorkflowConclusion is the outcome of a completed workflow run.
type WorkflowConclusion string

const (
	WorkflowConclusionSuccess        WorkflowConclusion = "success"
	WorkflowConclusionFailure        WorkflowConclusion = "failure"
	WorkflowConclusionCancelled      WorkflowConclusion = "cancelled"
	WorkflowConclusionSkipped        WorkflowConclusion = "skipped"
	WorkflowConclusionTimedOut       WorkflowConclusion = "timed_out"
	WorkflowConclusionActionRequired WorkflowConclusion = "action_required"
)

// WorkflowRun is one remote CI run.
type WorkflowRun struct {
	ID         int64              `json:"id"`
	Name       string             `json:"name"`
	Status     WorkflowStatus     `json:"status"`
	Conclusion WorkflowConclusion `json:"conclusion,omitempty"`
	HTMLURL    string             `json:"html_url"`
	HeadBranch string             `json:"head_branch"`
	CreatedAt  time.Time          `json:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

// PullRequest is a change request on the remote host.
type PullRequest struct {
	Number  int    `json:"number"`
	Title   string `json:"title"`
	HTMLURL string `json:"html_url"`
	State   string `json:"state"`
	Merged  bool   `json:"merged"`
}

// Release is a published release on the remote host.
type Release struct {
	ID      int64  `json:"id"`
	TagName string `json:"tag_name"`
	Name    string `json:"name"`
	HTMLURL string `json:"html_url"`
}

// ListWorkflowRunsRequest filters a workflow run listing.
type ListWorkflowRunsRequest struct {
	Workflow string
	Branch   string
	Status   string
	PerPage  int
}
