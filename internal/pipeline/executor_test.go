package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/conduit-ci/conduit/internal/approval"
	"github.com/conduit-ci/conduit/internal/event"
	"github.com/conduit-ci/conduit/internal/github"
	"github.com/conduit-ci/conduit/internal/models"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/suite"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// fakeGithub is an in-memory github.API whose workflow
// conclusions and action errors are scripted per test.
type fakeGithub struct {
	mu sync.Mutex

	workflowConclusions map[string]github.WorkflowConclusion
	workflowPending     map[string]bool
	createPRErr         error

	triggered    []string
	comments     []string
	closedIssues []int
	mergedPRs    []int
	releases     []string
}

func newFakeGithub() *fakeGithub {
	return &fakeGithub{
		workflowConclusions: map[string]github.WorkflowConclusion{},
		workflowPending:     map[string]bool{},
	}
}

func (f *fakeGithub) TriggerWorkflow(ctx context.Context, repo, workflow, ref string, inputs map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggered = append(f.triggered, workflow)
	return nil
}

func (f *fakeGithub) ListWorkflowRuns(ctx context.Context, repo string, req *github.ListWorkflowRunsRequest) ([]*github.WorkflowRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.workflowPending[req.Workflow] {
		return []*github.WorkflowRun{{
			ID:     1,
			Name:   req.Workflow,
			Status: github.WorkflowStatusInProgress,
		}}, nil
	}

	conclusion, ok := f.workflowConclusions[req.Workflow]
	if !ok {
		conclusion = github.WorkflowConclusionSuccess
	}

	return []*github.WorkflowRun{{
		ID:         1,
		Name:       req.Workflow,
		Status:     github.WorkflowStatusCompleted,
		Conclusion: conclusion,
		HTMLURL:    "https://github.test/run/1",
	}}, nil
}

func (f *fakeGithub) CreateBranch(ctx context.Context, repo, branch, fromRef string) (string, error) {
	return "abc1234", nil
}

func (f *fakeGithub) CreatePullRequest(ctx context.Context, repo, title, body, head, base string) (*github.PullRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createPRErr != nil {
		return nil, f.createPRErr
	}
	return &github.PullRequest{Number: 7, Title: title, HTMLURL: "https://github.test/pr/7"}, nil
}

func (f *fakeGithub) MergePullRequest(ctx context.Context, repo string, number int, method string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mergedPRs = append(f.mergedPRs, number)
	return nil
}

func (f *fakeGithub) CreateRelease(ctx context.Context, repo, tag, name, body string, prerelease bool) (*github.Release, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releases = append(f.releases, tag)
	return &github.Release{ID: 1, TagName: tag, Name: name, HTMLURL: "https://github.test/release/" + tag}, nil
}

func (f *fakeGithub) CloseIssue(ctx context.Context, repo string, number int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closedIssues = append(f.closedIssues, number)
	return nil
}

func (f *fakeGithub) AddIssueComment(ctx context.Context, repo string, number int, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.comments = append(f.comments, body)
	return nil
}

func (f *fakeGithub) snapshot() fakeGithub {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fakeGithub{
		triggered:    append([]string(nil), f.triggered...),
		comments:     append([]string(nil), f.comments...),
		closedIssues: append([]int(nil), f.closedIssues...),
		mergedPRs:    append([]int(nil), f.mergedPRs...),
		releases:     append([]string(nil), f.releases...),
	}
}

type ExecutorTestSuite struct {
	suite.Suite
	db        *gorm.DB
	gh        *fakeGithub
	approvals approval.Approval
	exec      Executor
	cancel    context.CancelFunc
}

func TestExecutorTestSuite(t *testing.T) {
	suite.Run(t, new(ExecutorTestSuite))
}

func (s *ExecutorTestSuite) SetupTest() {
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	s.Require().NoError(err)
	s.Require().NoError(db.AutoMigrate(models.All...))
	s.db = db

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.gh = newFakeGithub()
	s.approvals = approval.New(ctx).
		WithDatabase(db).
		WithTimeout(time.Hour)

	s.exec = (&executor{
		ctx:      ctx,
		registry: NewRegistry(),
	}).
		WithDatabase(db).
		WithBus(event.New(event.DefaultBufferSize)).
		WithGithub(s.gh).
		WithApprovals(s.approvals).
		WithIntervals(5*time.Millisecond, 5*time.Millisecond, 5*time.Millisecond)
}

func (s *ExecutorTestSuite) TearDownTest() {
	s.exec.Shutdown()
	s.cancel()
	if s.db != nil {
		sqlDB, _ := s.db.DB()
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}
}

func (s *ExecutorTestSuite) createPipeline(trigger models.TriggerKind, data datatypes.JSONMap) *models.Pipeline {
	p := &models.Pipeline{
		ID:          uuid.New(),
		Repo:        "org/app",
		Ref:         "refs/heads/main",
		Version:     "1.2.3",
		Status:      models.PipelineStatusPending,
		Trigger:     trigger,
		TriggerData: data,
	}
	s.Require().NoError(s.db.Create(p).Error)
	return p
}

// autoApprove resolves every pending approval as it appears
// until ctx is cancelled.
func (s *ExecutorTestSuite) autoApprove(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Millisecond):
			}

			pending, err := s.approvals.Pending()
			if err != nil {
				continue
			}
			for _, a := range pending {
				_, _ = s.approvals.Approve(a.ID, "reviewer", "lgtm")
			}
		}
	}()
}

func (s *ExecutorTestSuite) pipelineStatus(id uuid.UUID) models.PipelineStatus {
	p := &models.Pipeline{}
	s.Require().NoError(s.db.First(p, "id = ?", id).Error)
	return p.Status
}

func (s *ExecutorTestSuite) step(id uuid.UUID, name string) *models.Step {
	step := &models.Step{}
	s.Require().NoError(s.db.First(step, "pipeline_id = ? AND name = ?", id, name).Error)
	return step
}

func (s *ExecutorTestSuite) TestStartUnknownPipelineFails() {
	_, err := s.exec.Start(uuid.New())
	s.Error(err)
}

func (s *ExecutorTestSuite) TestStartWhileTaskRegisteredFails() {
	p := s.createPipeline(models.TriggerManual, nil)

	// occupy the registry slot as a racing start would
	_, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Require().True(s.exec.(*executor).registry.Add(p.ID, cancel))

	_, err := s.exec.Start(p.ID)
	s.Error(err)
	s.Contains(err.Error(), "already running")

	// the rejected start left the pipeline untouched
	s.Equal(models.PipelineStatusPending, s.pipelineStatus(p.ID))
}

func (s *ExecutorTestSuite) TestTriggerDataNumbersSurviveReload() {
	p := s.createPipeline(models.TriggerIssueLabeled, datatypes.JSONMap{
		"issue_number": float64(42),
		"pr_number":    float64(7),
	})

	// a reloaded JSONMap carries json.Number values, not the
	// float64s it was written with
	fresh := &models.Pipeline{}
	s.Require().NoError(s.db.First(fresh, "id = ?", p.ID).Error)

	number, ok := triggerInt(fresh, "issue_number")
	s.True(ok)
	s.Equal(42, number)

	number, ok = triggerInt(fresh, "pr_number")
	s.True(ok)
	s.Equal(7, number)

	_, ok = triggerInt(fresh, "missing")
	s.False(ok)
}

func (s *ExecutorTestSuite) TestStartWrongStateFails() {
	p := s.createPipeline(models.TriggerManual, nil)
	s.Require().NoError(
		s.db.Model(p).Update("status", models.PipelineStatusCompleted).Error)

	_, err := s.exec.Start(p.ID)
	s.Error(err)
	s.Contains(err.Error(), "cannot be started")
}

func (s *ExecutorTestSuite) TestStartMaterializesAllSteps() {
	p := s.createPipeline(models.TriggerManual, nil)

	started, err := s.exec.Start(p.ID)
	s.Require().NoError(err)
	s.Equal(models.PipelineStatusRunning, started.Status)

	var count int64
	s.db.Model(&models.Step{}).Where("pipeline_id = ?", p.ID).Count(&count)

	want := 0
	for _, stage := range Stages() {
		want += len(stage.Steps)
	}
	s.Equal(int64(want), count)

	merge := s.step(p.ID, "pr-merge")
	s.True(merge.RequiresApproval)
	s.Equal("review", merge.Stage)
}

func (s *ExecutorTestSuite) TestFullRunCompletes() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.autoApprove(ctx)

	p := s.createPipeline(models.TriggerIssueLabeled, datatypes.JSONMap{
		"issue_number": float64(42),
		"issue_title":  "ship it",
	})

	_, err := s.exec.Start(p.ID)
	s.Require().NoError(err)

	s.Require().Eventually(func() bool {
		return s.pipelineStatus(p.ID) == models.PipelineStatusCompleted
	}, 10*time.Second, 10*time.Millisecond)

	gh := s.gh.snapshot()
	s.Contains(gh.triggered, "ci.yml")
	s.Contains(gh.triggered, "docker-build.yml")
	s.Contains(gh.triggered, "appliance-build.yml")
	s.Contains(gh.releases, "v1.2.3")
	s.Contains(gh.closedIssues, 42)

	fresh := &models.Pipeline{}
	s.Require().NoError(s.db.First(fresh, "id = ?", p.ID).Error)
	s.Require().NotNil(fresh.CompletedAt)

	steps := make(models.Steps, 0)
	s.Require().NoError(s.db.Where("pipeline_id = ?", p.ID).Find(&steps).Error)
	for _, step := range steps {
		s.Equal(models.StepStatusCompleted, step.Status, step.Name)
	}
}

func (s *ExecutorTestSuite) TestValidateFailureAbortsPipeline() {
	s.gh.workflowConclusions["ci.yml"] = github.WorkflowConclusionFailure

	p := s.createPipeline(models.TriggerManual, nil)
	_, err := s.exec.Start(p.ID)
	s.Require().NoError(err)

	s.Require().Eventually(func() bool {
		return s.pipelineStatus(p.ID) == models.PipelineStatusFailed
	}, 10*time.Second, 10*time.Millisecond)

	lint := s.step(p.ID, "lint")
	s.Equal(models.StepStatusFailed, lint.Status)
	s.Contains(lint.Error, "failure")

	// abort policy stops the stage: the later steps never ran
	s.Equal(models.StepStatusPending, s.step(p.ID, "test").Status)
}

func (s *ExecutorTestSuite) TestNotifyPolicyContinuesAndComments() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.autoApprove(ctx)

	s.gh.createPRErr = errors.New("boom")

	p := s.createPipeline(models.TriggerIssueLabeled, datatypes.JSONMap{
		"issue_number": float64(9),
	})

	_, err := s.exec.Start(p.ID)
	s.Require().NoError(err)

	s.Require().Eventually(func() bool {
		return s.pipelineStatus(p.ID) == models.PipelineStatusCompleted
	}, 10*time.Second, 10*time.Millisecond)

	s.Equal(models.StepStatusFailed, s.step(p.ID, "create-pr").Status)
	s.Equal(models.StepStatusCompleted, s.step(p.ID, "wait-ci").Status)

	gh := s.gh.snapshot()
	s.Require().NotEmpty(gh.comments)
	s.Contains(gh.comments[0], "create-pr")
}

func (s *ExecutorTestSuite) TestRollbackPolicyFailsPipeline() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.autoApprove(ctx)

	s.gh.workflowConclusions["docker-build.yml"] = github.WorkflowConclusionFailure

	p := s.createPipeline(models.TriggerManual, nil)
	_, err := s.exec.Start(p.ID)
	s.Require().NoError(err)

	s.Require().Eventually(func() bool {
		return s.pipelineStatus(p.ID) == models.PipelineStatusFailed
	}, 10*time.Second, 10*time.Millisecond)

	s.Equal(models.StepStatusFailed, s.step(p.ID, "docker-push").Status)
}

func (s *ExecutorTestSuite) TestAbortSkipsNonTerminalSteps() {
	s.gh.workflowPending["ci.yml"] = true

	p := s.createPipeline(models.TriggerManual, nil)
	_, err := s.exec.Start(p.ID)
	s.Require().NoError(err)

	s.Require().Eventually(func() bool {
		return s.step(p.ID, "lint").Status == models.StepStatusRunning
	}, 10*time.Second, 10*time.Millisecond)

	aborted, err := s.exec.Abort(p.ID)
	s.Require().NoError(err)
	s.Equal(models.PipelineStatusAborted, aborted.Status)
	s.Require().NotNil(aborted.CompletedAt)

	steps := make(models.Steps, 0)
	s.Require().NoError(s.db.Where("pipeline_id = ?", p.ID).Find(&steps).Error)
	for _, step := range steps {
		s.Equal(models.StepStatusSkipped, step.Status, step.Name)
	}

	// second abort is a no-op, not an error
	_, err = s.exec.Abort(p.ID)
	s.NoError(err)

	s.Require().Eventually(func() bool {
		ids, _ := s.exec.Running()
		return len(ids) == 0
	}, 10*time.Second, 10*time.Millisecond)

	// the cancelled task never remarks the pipeline
	s.Equal(models.PipelineStatusAborted, s.pipelineStatus(p.ID))
}

func (s *ExecutorTestSuite) TestRejectedApprovalFailsStep() {
	p := s.createPipeline(models.TriggerManual, nil)
	_, err := s.exec.Start(p.ID)
	s.Require().NoError(err)

	s.Require().Eventually(func() bool {
		pending, err := s.approvals.Pending()
		return err == nil && len(pending) == 1
	}, 10*time.Second, 10*time.Millisecond)

	pending, err := s.approvals.Pending()
	s.Require().NoError(err)
	rejected := pending[0]
	_, err = s.approvals.Reject(rejected.ID, "reviewer", "not ready")
	s.Require().NoError(err)

	s.Require().Eventually(func() bool {
		return s.step(p.ID, "pr-merge").Status == models.StepStatusFailed
	}, 10*time.Second, 10*time.Millisecond)
	s.Contains(s.step(p.ID, "pr-merge").Error, "reviewer")

	// the review stage's notify policy swallows the failure, so
	// execution proceeds to the release stage's approval gate
	s.Require().Eventually(func() bool {
		pending, err := s.approvals.Pending()
		return err == nil && len(pending) == 1 && pending[0].ID != rejected.ID
	}, 10*time.Second, 10*time.Millisecond)
}

func (s *ExecutorTestSuite) TestRetryStepResetsFailedStep() {
	p := s.createPipeline(models.TriggerManual, nil)
	s.Require().NoError(s.db.Model(p).Update("status", models.PipelineStatusFailed).Error)

	now := time.Now().UTC()
	step := &models.Step{
		ID:          uuid.New(),
		PipelineID:  p.ID,
		Name:        "lint",
		Stage:       "validate",
		Status:      models.StepStatusFailed,
		StartedAt:   &now,
		CompletedAt: &now,
		Error:       "conclusion: failure",
	}
	s.Require().NoError(s.db.Create(step).Error)

	reset, err := s.exec.RetryStep(p.ID, step.ID)
	s.Require().NoError(err)
	s.Equal(models.StepStatusPending, reset.Status)
	s.Empty(reset.Error)
	s.Nil(reset.StartedAt)
	s.Nil(reset.CompletedAt)

	s.Equal(models.PipelineStatusRunning, s.pipelineStatus(p.ID))
}

func (s *ExecutorTestSuite) TestRetryStepRequiresFailedStatus() {
	p := s.createPipeline(models.TriggerManual, nil)

	step := &models.Step{
		ID:         uuid.New(),
		PipelineID: p.ID,
		Name:       "lint",
		Stage:      "validate",
		Status:     models.StepStatusCompleted,
	}
	s.Require().NoError(s.db.Create(step).Error)

	_, err := s.exec.RetryStep(p.ID, step.ID)
	s.Error(err)
	s.Contains(err.Error(), "cannot be retried")
}

func (s *ExecutorTestSuite) TestResumeSkipsCompletedSteps() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.autoApprove(ctx)

	// first run fails in the release stage at docker-push
	s.gh.mu.Lock()
	s.gh.workflowConclusions["docker-build.yml"] = github.WorkflowConclusionFailure
	s.gh.mu.Unlock()

	p := s.createPipeline(models.TriggerManual, nil)
	_, err := s.exec.Start(p.ID)
	s.Require().NoError(err)

	s.Require().Eventually(func() bool {
		return s.pipelineStatus(p.ID) == models.PipelineStatusFailed
	}, 10*time.Second, 10*time.Millisecond)

	lint := s.step(p.ID, "lint")
	s.Require().Equal(models.StepStatusCompleted, lint.Status)
	firstRun := *lint.CompletedAt
	s.Equal(models.StepStatusFailed, s.step(p.ID, "docker-push").Status)
	s.Equal(models.StepStatusPending, s.step(p.ID, "appliance-build").Status)

	// second run resumes past everything already completed
	s.gh.mu.Lock()
	s.gh.workflowConclusions["docker-build.yml"] = github.WorkflowConclusionSuccess
	s.gh.mu.Unlock()

	_, err = s.exec.Start(p.ID)
	s.Require().NoError(err)

	s.Require().Eventually(func() bool {
		return s.pipelineStatus(p.ID) == models.PipelineStatusCompleted
	}, 10*time.Second, 10*time.Millisecond)

	// the completed validate step was not re-run
	s.Equal(firstRun, *s.step(p.ID, "lint").CompletedAt)

	// materialization did not duplicate step rows
	var count int64
	s.db.Model(&models.Step{}).Where("pipeline_id = ?", p.ID).Count(&count)
	want := 0
	for _, stage := range Stages() {
		want += len(stage.Steps)
	}
	s.Equal(int64(want), count)
}
