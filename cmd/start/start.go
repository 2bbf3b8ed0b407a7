package start

import (
	"context"
	"os"
	"os/signal"
	"runtime/pprof"
	"syscall"

	"github.com/conduit-ci/conduit/api"
	approvalctl "github.com/conduit-ci/conduit/api/rest/controller/approval"
	eventctl "github.com/conduit-ci/conduit/api/rest/controller/event"
	pipelinectl "github.com/conduit-ci/conduit/api/rest/controller/pipeline"
	webhookctl "github.com/conduit-ci/conduit/api/rest/controller/webhook"
	"github.com/conduit-ci/conduit/api/rest/v1"
	"github.com/conduit-ci/conduit/internal/approval"
	"github.com/conduit-ci/conduit/internal/event"
	"github.com/conduit-ci/conduit/internal/pipeline"
	"github.com/conduit-ci/conduit/pkg/db"
	"github.com/conduit-ci/conduit/pkg/env"
	"github.com/conduit-ci/conduit/pkg/log"
	"github.com/spf13/cobra"
)

const (
	usage   = "start"
	short   = "Start a conduit orchestration instance"
	long    = "This command starts a conduit pipeline orchestration instance"
	example = "conduit start"
)

var (
	// Cmd is the start command.
	Cmd = &cobra.Command{
		Use:        usage,
		Short:      short,
		Long:       long,
		Aliases:    []string{"s"},
		SuggestFor: []string{"launch", "boot", "up", "run", "begin"},
		Example:    example,
		RunE:       start,
	}
)

var (
	cancel   context.CancelFunc
	executor pipeline.Executor
)

func start(cmd *cobra.Command, args []string) error {
	signalChan := make(chan os.Signal, 1)

	go func() {
		for s := range signalChan {
			switch s {
			case syscall.SIGUSR1:
				log.Info("dumping stack traces due to SIGUSR1 signal")
				if profile := pprof.Lookup("goroutine"); profile != nil {
					if err := profile.WriteTo(os.Stdout, 1); err != nil {
						log.Error("write goroutine profile", "error", err)
					}
				}
			case syscall.SIGINT:
				log.Info("gracefully shutting down due to SIGINT signal")
				shutdown()
				os.Exit(0)
			}
		}
	}()

	signal.Notify(signalChan, syscall.SIGUSR1, syscall.SIGINT)

	var errs = make(chan error)
	ctx, cancelFunc := context.WithCancel(context.Background())
	cancel = cancelFunc

	log.Info("migrating database")
	if err := db.Migrate(); err != nil {
		log.Fatal("database migration failure", "error", err)
	}

	vars := env.Variables()

	bus := event.New(vars.EventBufferSize)
	approvals := approval.New(ctx).WithBus(bus)
	executor = pipeline.New(ctx).
		WithBus(bus).
		WithApprovals(approvals)

	go func() {
		log.Info("starting heartbeat", "interval", vars.HeartbeatInterval)
		event.Heartbeats(ctx, bus, vars.HeartbeatInterval)
	}()

	sweeper, err := approval.NewSweeper(approvals, vars.ApprovalSweepSchedule)
	if err != nil {
		log.Fatal("approval sweeper configuration failure", "error", err)
	}
	log.Info("starting approval sweeper", "schedule", vars.ApprovalSweepSchedule)
	sweeper.Start(ctx)

	controllers := &rest.Controllers{
		Pipelines: pipelinectl.New(executor, bus),
		Approvals: approvalctl.New(bus),
		Webhooks:  webhookctl.New(bus),
		Events:    eventctl.New(bus),
	}

	go func() {
		log.Info("spinning up api", "port", vars.Port)
		errs <- api.Start(controllers)
	}()

	defer shutdown()

	return <-errs
}

func shutdown() {
	if cancel != nil {
		cancel()
	}
	if executor != nil {
		executor.Shutdown()
	}
	if err := api.Shutdown(); err != nil {
		log.Error("api shutdown failure", "error", err)
	}
}
