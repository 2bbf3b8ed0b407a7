package env

import (
	"time"

	"github.com/conduit-ci/conduit/pkg/log"
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
)

var variables = new(Environment)

// Process the environment variables set for conduit.
func Process() error {
	if err := envconfig.Process("conduit", variables); err != nil {
		return errors.Wrap(err, "failed to process environment variables")
	}

	// set the log level
	if err := log.SetLevel(variables.LogLevel); err != nil {
		return errors.Wrap(err, "failed to set log level")
	}

	return nil
}

// Variables returns the processed environment variables.
func Variables() Environment {
	return *variables
}

// Environment defines the environment variables used
// by conduit.
type Environment struct {
	LogLevel              string        `default:"info"`
	Port                  int           `default:"8080"`
	DatabaseType          string        `default:"sqlite"`
	DatabaseDSN           string        `default:"file:conduit.db?cache=shared"`
	GithubToken           string        `default:""`
	GithubAPIURL          string        `default:"https://api.github.com"`
	WebhookSecret         string        `default:""`
	DefaultBranch         string        `default:"main"`
	ApprovalTimeout       time.Duration `default:"4h"`
	ApprovalPollInterval  time.Duration `default:"10s"`
	ApprovalSweepSchedule string        `default:"@every 1m"`
	WorkflowPollInterval  time.Duration `default:"30s"`
	WorkflowStartDelay    time.Duration `default:"5s"`
	HeartbeatInterval     time.Duration `default:"30s"`
	EventBufferSize       int           `default:"100"`
}
