package pipeline

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/conduit-ci/conduit/internal/approval"
	"github.com/conduit-ci/conduit/internal/event"
	"github.com/conduit-ci/conduit/internal/github"
	"github.com/conduit-ci/conduit/internal/models"
	"github.com/conduit-ci/conduit/pkg/db"
	"github.com/conduit-ci/conduit/pkg/env"
	"github.com/conduit-ci/conduit/pkg/log"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// Executor drives pipelines through the fixed stage table.
// Start, Abort and RetryStep are synchronous control calls;
// execution itself happens in one background task per pipeline.
type Executor interface {
	WithDatabase(*gorm.DB) Executor
	WithBus(event.Bus) Executor
	WithGithub(github.API) Executor
	WithApprovals(approval.Approval) Executor
	WithIntervals(workflowPoll, startDelay, approvalPoll time.Duration) Executor
	Start(id uuid.UUID) (*models.Pipeline, error)
	Abort(id uuid.UUID) (*models.Pipeline, error)
	RetryStep(pipelineID, stepID uuid.UUID) (*models.Step, error)
	Running() ([]uuid.UUID, error)
	Shutdown()
}

type executor struct {
	ctx          context.Context
	db           *gorm.DB
	bus          event.Bus
	github       github.API
	approvals    approval.Approval
	registry     *Registry
	workflowPoll time.Duration
	startDelay   time.Duration
	approvalPoll time.Duration
}

// New creates an executor bound to ctx, using the shared
// database connection and the configured polling intervals.
func New(ctx context.Context) Executor {
	vars := env.Variables()
	return &executor{
		ctx:          ctx,
		db:           db.Connection(),
		github:       github.New(vars.GithubAPIURL, vars.GithubToken),
		registry:     NewRegistry(),
		workflowPoll: vars.WorkflowPollInterval,
		startDelay:   vars.WorkflowStartDelay,
		approvalPoll: vars.ApprovalPollInterval,
	}
}

func (e *executor) WithDatabase(conn *gorm.DB) Executor {
	e.db = conn
	return e
}

func (e *executor) WithBus(bus event.Bus) Executor {
	e.bus = bus
	return e
}

func (e *executor) WithGithub(api github.API) Executor {
	e.github = api
	return e
}

func (e *executor) WithApprovals(a approval.Approval) Executor {
	e.approvals = a
	return e
}

func (e *executor) WithIntervals(workflowPoll, startDelay, approvalPoll time.Duration) Executor {
	e.workflowPoll = workflowPoll
	e.startDelay = startDelay
	e.approvalPoll = approvalPoll
	return e
}

// Start materializes the step rows for a pending or failed
// pipeline, moves it to running, and launches its background
// execution task. It returns before the pipeline runs.
func (e *executor) Start(id uuid.UUID) (*models.Pipeline, error) {
	p, err := e.pipeline(id)
	if err != nil {
		return nil, err
	}

	if p.Status != models.PipelineStatusPending && p.Status != models.PipelineStatusFailed {
		return nil, errors.Errorf(
			"pipeline %v cannot be started (status: %v)", id, p.Status)
	}

	// claim the registry slot before touching any state, so a
	// racing second start cannot launch a duplicate task
	runCtx, cancel := context.WithCancel(e.ctx)
	if !e.registry.Add(id, cancel) {
		cancel()
		return nil, errors.Errorf("pipeline %v is already running", id)
	}

	if err := e.materializeSteps(p); err != nil {
		e.registry.Cancel(id)
		return nil, err
	}

	if err := e.setPipelineStatus(p, models.PipelineStatusRunning, nil); err != nil {
		e.registry.Cancel(id)
		return nil, err
	}

	log.Info("starting pipeline", "id", id, "repo", p.Repo, "ref", p.Ref)

	go e.run(runCtx, id)

	return p, nil
}

// Abort cancels the background task if one exists, marks the
// pipeline aborted, and skips every step not yet terminal.
// Calling it twice is a no-op the second time.
func (e *executor) Abort(id uuid.UUID) (*models.Pipeline, error) {
	p, err := e.pipeline(id)
	if err != nil {
		return nil, err
	}

	e.registry.Cancel(id)

	now := time.Now().UTC()
	if err := e.setPipelineStatus(p, models.PipelineStatusAborted, &now); err != nil {
		return nil, err
	}

	err = e.db.WithContext(e.ctx).
		Model(&models.Step{}).
		Where("pipeline_id = ? AND status IN ?", id,
			[]models.StepStatus{models.StepStatusPending, models.StepStatusRunning}).
		Update("status", models.StepStatusSkipped).Error
	if err != nil {
		return nil, err
	}

	log.Info("aborted pipeline", "id", id)

	e.publish(event.TypePipelineCompleted, &event.PipelineCompleted{
		ID:     id,
		Status: string(models.PipelineStatusAborted),
	})

	return p, nil
}

// RetryStep resets a failed step to pending so a subsequent
// Start resumes from it. It does not itself resume execution.
func (e *executor) RetryStep(pipelineID, stepID uuid.UUID) (*models.Step, error) {
	step := &models.Step{}
	err := e.db.WithContext(e.ctx).
		First(step, "id = ? AND pipeline_id = ?", stepID, pipelineID).Error
	if err != nil {
		return nil, errors.Wrapf(err, "step %v", stepID)
	}

	if step.Status != models.StepStatusFailed {
		return nil, errors.Errorf(
			"step %v cannot be retried (status: %v)", stepID, step.Status)
	}

	err = e.db.WithContext(e.ctx).Model(step).Updates(map[string]interface{}{
		"status":       models.StepStatusPending,
		"error":        "",
		"started_at":   nil,
		"completed_at": nil,
	}).Error
	if err != nil {
		return nil, err
	}
	step.Status = models.StepStatusPending
	step.Error = ""
	step.StartedAt = nil
	step.CompletedAt = nil

	p, err := e.pipeline(pipelineID)
	if err != nil {
		return nil, err
	}
	if p.Status == models.PipelineStatusFailed {
		if err := e.setPipelineStatus(p, models.PipelineStatusRunning, nil); err != nil {
			return nil, err
		}
	}

	log.Info("reset step for retry", "step_id", stepID, "pipeline_id", pipelineID)

	return step, nil
}

// Running returns the pipelines with an in-flight background
// task.
func (e *executor) Running() ([]uuid.UUID, error) {
	return e.registry.Running(), nil
}

// Shutdown cancels every in-flight background task.
func (e *executor) Shutdown() {
	e.registry.Shutdown()
}

// run is the background execution task: every stage in order,
// every step in order. It owns the pipeline's terminal state
// except when cancelled, in which case Abort already applied
// it.
func (e *executor) run(ctx context.Context, id uuid.UUID) {
	defer e.registry.Remove(id)

	started := time.Now().UTC()

	for _, stage := range stages {
		if err := e.runStage(ctx, id, stage); err != nil {
			if ctx.Err() != nil {
				log.Info("pipeline cancelled", "id", id)
				return
			}

			log.Error("pipeline failed", "id", id, "error", err)

			if err := e.setPipelineStatusByID(id, models.PipelineStatusFailed, nil); err != nil {
				log.Error("failed to mark pipeline failed", "id", id, "error", err)
			}
			e.publish(event.TypePipelineCompleted, &event.PipelineCompleted{
				ID:              id,
				Status:          string(models.PipelineStatusFailed),
				DurationSeconds: time.Since(started).Seconds(),
			})
			return
		}
	}

	now := time.Now().UTC()
	if err := e.setPipelineStatusByID(id, models.PipelineStatusCompleted, &now); err != nil {
		log.Error("failed to mark pipeline completed", "id", id, "error", err)
		return
	}

	log.Info("pipeline completed", "id", id)

	e.publish(event.TypePipelineCompleted, &event.PipelineCompleted{
		ID:              id,
		Status:          string(models.PipelineStatusCompleted),
		DurationSeconds: now.Sub(started).Seconds(),
	})
}

func (e *executor) runStage(ctx context.Context, id uuid.UUID, stage StageDef) error {
	log.Info("starting stage", "stage", stage.Name, "pipeline_id", id)

	for _, def := range stage.Steps {
		err := e.runStep(ctx, id, stage, def)
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return err
		}

		log.Error("step failed",
			"step", def.Name, "stage", stage.Name,
			"pipeline_id", id, "error", err)

		switch stage.OnFailure {
		case FailureAbort:
			return err
		case FailureRollback:
			log.Warn("rollback requested but compensating actions are not implemented, aborting",
				"stage", stage.Name, "pipeline_id", id)
			return err
		case FailureNotify:
			e.notifyFailure(ctx, id, def.Name, err)
		}
	}

	return nil
}

func (e *executor) runStep(ctx context.Context, id uuid.UUID, stage StageDef, def StepDef) error {
	step := &models.Step{}
	err := e.db.WithContext(e.ctx).
		First(step, "pipeline_id = ? AND name = ? AND stage = ?", id, def.Name, stage.Name).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Warn("step row missing, skipping", "step", def.Name, "pipeline_id", id)
		return nil
	}
	if err != nil {
		return err
	}

	if step.Status == models.StepStatusCompleted {
		log.Info("step already completed, skipping", "step", def.Name)
		return nil
	}

	if def.RequiresApproval {
		if err := e.waitForApproval(ctx, id, step); err != nil {
			// a cancelled wait is not a step failure; Abort
			// already applied the terminal state
			if ctx.Err() != nil {
				return err
			}
			return e.failStep(step, err)
		}
	}

	// persist the running state before doing any work so
	// progress survives a process crash
	now := time.Now().UTC()
	err = e.db.WithContext(e.ctx).Model(step).Updates(map[string]interface{}{
		"status":     models.StepStatusRunning,
		"started_at": &now,
	}).Error
	if err != nil {
		return err
	}
	step.Status = models.StepStatusRunning
	step.StartedAt = &now

	e.publish(event.TypeStepStarted, &event.StepStarted{
		PipelineID: id,
		StepID:     step.ID,
		Name:       step.Name,
		Stage:      step.Stage,
	})

	var body error
	switch def.Kind {
	case StepKindWorkflow:
		body = e.runWorkflowStep(ctx, id, step, def)
	default:
		body = e.runActionStep(ctx, id, step, def)
	}

	if body != nil {
		if ctx.Err() != nil {
			return body
		}
		return e.failStep(step, body)
	}

	done := time.Now().UTC()
	err = e.db.WithContext(e.ctx).Model(step).Updates(map[string]interface{}{
		"status":       models.StepStatusCompleted,
		"completed_at": &done,
	}).Error
	if err != nil {
		return err
	}
	step.Status = models.StepStatusCompleted
	step.CompletedAt = &done

	log.Info("step completed", "step", step.Name, "pipeline_id", id)

	e.publish(event.TypeStepCompleted, &event.StepCompleted{
		PipelineID:      id,
		StepID:          step.ID,
		Name:            step.Name,
		Status:          string(models.StepStatusCompleted),
		DurationSeconds: done.Sub(now).Seconds(),
	})

	return nil
}

func (e *executor) failStep(step *models.Step, cause error) error {
	now := time.Now().UTC()
	err := e.db.WithContext(e.ctx).Model(step).Updates(map[string]interface{}{
		"status":       models.StepStatusFailed,
		"completed_at": &now,
		"error":        cause.Error(),
	}).Error
	if err != nil {
		return err
	}
	step.Status = models.StepStatusFailed
	step.CompletedAt = &now
	step.Error = cause.Error()

	e.publish(event.TypeStepCompleted, &event.StepCompleted{
		PipelineID: step.PipelineID,
		StepID:     step.ID,
		Name:       step.Name,
		Status:     string(models.StepStatusFailed),
		Error:      cause.Error(),
	})

	return cause
}

// waitForApproval blocks the background task on the approval
// gate, polling until the approval resolves, times out, or the
// pipeline is aborted.
func (e *executor) waitForApproval(ctx context.Context, id uuid.UUID, step *models.Step) error {
	log.Info("waiting for approval", "step", step.Name, "pipeline_id", id)

	a, err := e.approvals.Request(id, step.ID)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		p, err := e.pipeline(id)
		if err != nil {
			return err
		}
		if p.Status == models.PipelineStatusAborted {
			return errors.New("pipeline was aborted")
		}

		current, err := e.approvals.Get(a.ID)
		if err != nil {
			return err
		}

		switch current.Status {
		case models.ApprovalStatusApproved:
			log.Info("approval granted",
				"step", step.Name, "responder", current.RespondedBy)
			return nil
		case models.ApprovalStatusRejected:
			return errors.Errorf("approval rejected by %s: %s",
				current.RespondedBy, current.Comment)
		}

		timedOut, err := e.approvals.CheckTimeout(a.ID)
		if err != nil {
			return err
		}
		if timedOut {
			return errors.New("approval timed out")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(e.approvalPoll):
		}
	}
}

// runWorkflowStep triggers the remote run and polls it to a
// terminal state or the step's timeout.
func (e *executor) runWorkflowStep(ctx context.Context, id uuid.UUID, step *models.Step, def StepDef) error {
	p, err := e.pipeline(id)
	if err != nil {
		return err
	}

	log.Info("triggering workflow",
		"workflow", def.Workflow, "pipeline_id", id)

	if err := e.github.TriggerWorkflow(ctx, p.Repo, def.Workflow, p.Ref, nil); err != nil {
		return err
	}

	e.appendStepLog(id, step, "triggered workflow "+def.Workflow)

	// give the remote host a moment to register the run
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(e.startDelay):
	}

	deadline := time.Now().UTC().Add(def.Timeout)
	branch := strings.TrimPrefix(p.Ref, "refs/heads/")

	for {
		if time.Now().UTC().After(deadline) {
			return errors.Errorf("workflow %s timed out after %v", def.Workflow, def.Timeout)
		}

		runs, err := e.github.ListWorkflowRuns(ctx, p.Repo, &github.ListWorkflowRunsRequest{
			Workflow: def.Workflow,
			Branch:   branch,
			PerPage:  5,
		})
		if err != nil {
			return err
		}

		if len(runs) > 0 && runs[0].Status == github.WorkflowStatusCompleted {
			latest := runs[0]
			if latest.Conclusion == github.WorkflowConclusionSuccess {
				e.appendStepLog(id, step, "workflow completed: "+latest.HTMLURL)
				return nil
			}
			return errors.Errorf("workflow %s failed with conclusion: %s",
				def.Workflow, latest.Conclusion)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(e.workflowPoll):
		}
	}
}

// notifyFailure is the notify policy: record the failure on
// the triggering issue when there is one, never fail the stage
// over it.
func (e *executor) notifyFailure(ctx context.Context, id uuid.UUID, stepName string, cause error) {
	p, err := e.pipeline(id)
	if err != nil {
		log.Error("failed to load pipeline for failure notification",
			"id", id, "error", err)
		return
	}

	number, ok := triggerInt(p, "issue_number")
	if !ok {
		return
	}

	body := "Pipeline step `" + stepName + "` failed: " + cause.Error()
	if err := e.github.AddIssueComment(ctx, p.Repo, number, body); err != nil {
		log.Error("failed to post failure notification",
			"repo", p.Repo, "issue", number, "error", err)
	}
}

// materializeSteps creates the step rows for the stage table.
// Rows that already exist, from an earlier run of the same
// pipeline, are left alone so resume skips completed work.
func (e *executor) materializeSteps(p *models.Pipeline) error {
	existing := make(models.Steps, 0)
	err := e.db.WithContext(e.ctx).
		Where("pipeline_id = ?", p.ID).Find(&existing).Error
	if err != nil {
		return err
	}

	have := make(map[string]bool, len(existing))
	for _, s := range existing {
		have[s.Stage+"/"+s.Name] = true
	}

	for _, stage := range stages {
		for _, def := range stage.Steps {
			if have[stage.Name+"/"+def.Name] {
				continue
			}
			step := &models.Step{
				ID:               uuid.New(),
				PipelineID:       p.ID,
				Name:             def.Name,
				Stage:            stage.Name,
				Status:           models.StepStatusPending,
				RequiresApproval: def.RequiresApproval,
			}
			if err := e.db.WithContext(e.ctx).Create(step).Error; err != nil {
				return err
			}
		}
	}

	return nil
}

func (e *executor) appendStepLog(id uuid.UUID, step *models.Step, line string) {
	logs := step.Logs
	if logs != "" {
		logs += "\n"
	}
	logs += line

	err := e.db.WithContext(e.ctx).Model(step).Update("logs", logs).Error
	if err != nil {
		log.Error("failed to append step log",
			"step_id", step.ID, "error", err)
		return
	}
	step.Logs = logs

	e.publish(event.TypeStepLog, &event.StepLog{
		PipelineID: id,
		StepID:     step.ID,
		Line:       line,
		Timestamp:  time.Now().UTC(),
	})
}

func (e *executor) pipeline(id uuid.UUID) (*models.Pipeline, error) {
	p := &models.Pipeline{}
	err := e.db.WithContext(e.ctx).First(p, "id = ?", id).Error
	if err != nil {
		return nil, errors.Wrapf(err, "pipeline %v", id)
	}
	return p, nil
}

func (e *executor) setPipelineStatus(p *models.Pipeline, status models.PipelineStatus, completedAt *time.Time) error {
	updates := map[string]interface{}{"status": status}
	if completedAt != nil {
		updates["completed_at"] = completedAt
	}

	err := e.db.WithContext(e.ctx).Model(p).Updates(updates).Error
	if err != nil {
		return err
	}
	p.Status = status
	if completedAt != nil {
		p.CompletedAt = completedAt
	}

	e.publish(event.TypePipelineUpdated, &event.PipelineUpdated{
		ID:     p.ID,
		Status: string(status),
	})

	return nil
}

func (e *executor) setPipelineStatusByID(id uuid.UUID, status models.PipelineStatus, completedAt *time.Time) error {
	p, err := e.pipeline(id)
	if err != nil {
		return err
	}
	return e.setPipelineStatus(p, status, completedAt)
}

func (e *executor) publish(t event.Type, data event.Payload) {
	if e.bus != nil {
		e.bus.Publish(t, data)
	}
}

// triggerInt reads a numeric trigger value. A pipeline loaded
// from storage carries json.Number values, since JSONMap decodes
// with UseNumber; one built in process carries native ints or
// float64s.
func triggerInt(p *models.Pipeline, key string) (int, bool) {
	if p.TriggerData == nil {
		return 0, false
	}
	switch n := p.TriggerData[key].(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	}
	return 0, false
}
