package pipeline

import "time"

// StepKind distinguishes steps that delegate to a remote CI
// workflow from steps that run an in-process action.
type StepKind string

const (
	StepKindWorkflow StepKind = "workflow"
	StepKindAction   StepKind = "action"
)

// FailurePolicy is a stage's reaction to a failed step.
type FailurePolicy string

const (
	// FailureAbort stops the pipeline immediately.
	FailureAbort FailurePolicy = "abort"
	// FailureNotify records the failure and continues with the
	// next step.
	FailureNotify FailurePolicy = "notify"
	// FailureRollback is declared for the release stage.
	// Compensating actions are not implemented; it currently
	// behaves as abort.
	FailureRollback FailurePolicy = "rollback"
)

// Action identifies an in-process step body. The set is closed:
// adding a step means adding a variant here and a case to the
// executor's dispatch, checked at compile time.
type Action int

const (
	ActionNone Action = iota
	ActionCreatePR
	ActionWaitCI
	ActionMergePR
	ActionCreateRelease
	ActionCloseIssue
)

// StepDef is the static definition of one step in the stage
// table.
type StepDef struct {
	Name             string
	Kind             StepKind
	Workflow         string
	Job              string
	Action           Action
	RequiresApproval bool
	Timeout          time.Duration
}

// StageDef is a named, ordered group of steps sharing one
// failure policy.
type StageDef struct {
	Name      string
	Steps     []StepDef
	OnFailure FailurePolicy
}

const defaultStepTimeout = 30 * time.Minute

// stages is the fixed stage table every pipeline runs through.
var stages = []StageDef{
	{
		Name:      "validate",
		OnFailure: FailureAbort,
		Steps: []StepDef{
			{Name: "lint", Kind: StepKindWorkflow, Workflow: "ci.yml", Job: "lint", Timeout: defaultStepTimeout},
			{Name: "test", Kind: StepKindWorkflow, Workflow: "ci.yml", Job: "test", Timeout: defaultStepTimeout},
			{Name: "security", Kind: StepKindWorkflow, Workflow: "ci.yml", Job: "security", Timeout: defaultStepTimeout},
			{Name: "docker-build", Kind: StepKindWorkflow, Workflow: "ci.yml", Job: "docker", Timeout: defaultStepTimeout},
		},
	},
	{
		Name:      "review",
		OnFailure: FailureNotify,
		Steps: []StepDef{
			{Name: "create-pr", Kind: StepKindAction, Action: ActionCreatePR, Timeout: defaultStepTimeout},
			{Name: "wait-ci", Kind: StepKindAction, Action: ActionWaitCI, Timeout: defaultStepTimeout},
			{Name: "pr-merge", Kind: StepKindAction, Action: ActionMergePR, RequiresApproval: true, Timeout: defaultStepTimeout},
		},
	},
	{
		Name:      "release",
		OnFailure: FailureRollback,
		Steps: []StepDef{
			{Name: "create-release", Kind: StepKindAction, Action: ActionCreateRelease, RequiresApproval: true, Timeout: defaultStepTimeout},
			{Name: "docker-push", Kind: StepKindWorkflow, Workflow: "docker-build.yml", Timeout: defaultStepTimeout},
			{Name: "appliance-build", Kind: StepKindWorkflow, Workflow: "appliance-build.yml", Timeout: defaultStepTimeout},
			{Name: "close-issue", Kind: StepKindAction, Action: ActionCloseIssue, Timeout: defaultStepTimeout},
		},
	},
}

// Stages returns the fixed stage table.
func Stages() []StageDef {
	return stages
}
