// Package worker runs the Temporal worker hosting the campaign, lead
// outreach and monitor workflows together with their activities.
package worker

import (
	"github.com/jackc/pgx/v5/pgxpool"
	sdkworker "go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/outflowhq/outflow/internal/gateway"
	"github.com/outflowhq/outflow/internal/ratelimit"
	oftemporal "github.com/outflowhq/outflow/internal/temporal"
	"github.com/outflowhq/outflow/internal/temporal/activities"
	"github.com/outflowhq/outflow/internal/temporal/workflows"
	"github.com/outflowhq/outflow/pkg/config"
	"github.com/outflowhq/outflow/pkg/kafka"
	"github.com/outflowhq/outflow/pkg/logger"
)

// Worker wraps the Temporal worker with our dependencies.
type Worker struct {
	worker     sdkworker.Worker
	log        *logger.Logger
	activities *activities.Activities
}

// Config holds configuration for creating a worker.
type Config struct {
	Temporal   config.TemporalConfig
	Client     *oftemporal.Client
	DB         *pgxpool.Pool
	Logger     *logger.Logger
	Gateway    gateway.Gateway
	Limiter    ratelimit.Limiter
	Alerts     *kafka.Producer
	AlertTopic string
}

// New creates a worker on the client's task queue with every workflow and
// activity registered. Workflow registration names must stay stable: they
// are the type names used by visibility queries and client starts.
func New(cfg Config) *Worker {
	log := cfg.Logger.WithComponent("temporal-worker")

	workerOpts := sdkworker.Options{
		MaxConcurrentWorkflowTaskExecutionSize: cfg.Temporal.MaxConcurrentWorkflows,
		MaxConcurrentActivityExecutionSize:     cfg.Temporal.MaxConcurrentActivities,
	}
	if workerOpts.MaxConcurrentWorkflowTaskExecutionSize == 0 {
		workerOpts.MaxConcurrentWorkflowTaskExecutionSize = 100
	}
	if workerOpts.MaxConcurrentActivityExecutionSize == 0 {
		workerOpts.MaxConcurrentActivityExecutionSize = 50
	}

	w := sdkworker.New(cfg.Client.Raw(), cfg.Client.TaskQueue(), workerOpts)

	w.RegisterWorkflowWithOptions(workflows.CampaignWorkflow,
		workflow.RegisterOptions{Name: oftemporal.WorkflowTypeCampaign})
	w.RegisterWorkflowWithOptions(workflows.LeadOutreachWorkflow,
		workflow.RegisterOptions{Name: oftemporal.WorkflowTypeLeadOutreach})
	w.RegisterWorkflowWithOptions(workflows.LeadMonitorWorkflow,
		workflow.RegisterOptions{Name: oftemporal.WorkflowTypeLeadMonitor})
	w.RegisterWorkflowWithOptions(workflows.CompanyMonitorWorkflow,
		workflow.RegisterOptions{Name: oftemporal.WorkflowTypeCompanyMonitor})

	acts := activities.NewActivities(cfg.DB, cfg.Logger, cfg.Gateway, cfg.Limiter, cfg.Alerts, cfg.AlertTopic)

	// Campaign activities
	w.RegisterActivity(acts.FetchOutreachPlan)
	w.RegisterActivity(acts.FetchCampaignLeads)
	w.RegisterActivity(acts.UpdateCampaignStatus)
	w.RegisterActivity(acts.RecordCampaignProgress)

	// Lead outreach activities
	w.RegisterActivity(acts.ExecuteOutreachStep)
	w.RegisterActivity(acts.RecordLeadStepOutcome)
	w.RegisterActivity(acts.MarkLeadTerminal)

	// Monitor activities
	w.RegisterActivity(acts.FetchProfileSnapshot)
	w.RegisterActivity(acts.CreateMonitorAlert)
	w.RegisterActivity(acts.SaveMonitorState)

	log.Info("Temporal worker created",
		"task_queue", cfg.Client.TaskQueue(),
		"namespace", cfg.Temporal.Namespace,
	)

	return &Worker{
		worker:     w,
		log:        log,
		activities: acts,
	}
}

// Start starts the worker without blocking.
func (w *Worker) Start() error {
	w.log.Info("Starting Temporal worker")
	return w.worker.Start()
}

// Run starts the worker and blocks until interrupted.
func (w *Worker) Run(interrupt <-chan interface{}) error {
	w.log.Info("Running Temporal worker")
	return w.worker.Run(interrupt)
}

// Stop stops the worker gracefully.
func (w *Worker) Stop() {
	w.log.Info("Stopping Temporal worker")
	w.worker.Stop()
}
