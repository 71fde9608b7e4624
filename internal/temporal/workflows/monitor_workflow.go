package workflows

import (
	"fmt"
	"sort"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/outflowhq/outflow/internal/gateway"
	"github.com/outflowhq/outflow/pkg/models"
)

// MonitorPolicy is the polling and retry policy for a monitor run. Values
// come from configuration and are carried across continue-as-new boundaries.
type MonitorPolicy struct {
	PollInterval     time.Duration `json:"poll_interval"`
	FetchMaxAttempts int           `json:"fetch_max_attempts"`

	// MaxIterationsPerRun bounds workflow history growth; the run rotates
	// into a fresh execution once reached.
	MaxIterationsPerRun int `json:"max_iterations_per_run"`
}

// MonitorWorkflowInput starts or continues a lead/company monitor.
type MonitorWorkflowInput struct {
	State     models.MonitorState `json:"state"`
	TargetRef string              `json:"target_ref"`
	Policy    MonitorPolicy       `json:"policy"`
}

// FetchSnapshotInput is input for the profile snapshot fetch activity.
type FetchSnapshotInput struct {
	EntityType models.MonitorEntityType `json:"entity_type"`
	EntityID   string                   `json:"entity_id"`
	AccountID  string                   `json:"account_id"`
	TargetRef  string                   `json:"target_ref"`
}

// CreateAlertInput asks the alert sink to append one change alert.
type CreateAlertInput struct {
	OrgID      string                   `json:"org_id"`
	EntityType models.MonitorEntityType `json:"entity_type"`
	EntityID   string                   `json:"entity_id"`
	Priority   models.AlertPriority     `json:"priority"`
	Kind       string                   `json:"kind"`
	Message    string                   `json:"message"`
}

// LeadMonitorWorkflow polls one lead's profile for changes.
func LeadMonitorWorkflow(ctx workflow.Context, input MonitorWorkflowInput) error {
	input.State.EntityType = models.MonitorEntityLead
	return runMonitor(ctx, input)
}

// CompanyMonitorWorkflow polls one company's profile for changes.
func CompanyMonitorWorkflow(ctx workflow.Context, input MonitorWorkflowInput) error {
	input.State.EntityType = models.MonitorEntityCompany
	return runMonitor(ctx, input)
}

// runMonitor is the shared monitor loop. On a timer it fetches the current
// profile through the gateway, diffs it against the stored snapshot and
// emits priority-classified alerts for material changes.
//
// The workflow instance exclusively owns its MonitorState: external callers
// read it through the monitoring-status query and mutate it only through
// pause/resume/rotate signals. The database row written by SaveMonitorState
// is a visibility copy, never the source of truth.
func runMonitor(ctx workflow.Context, input MonitorWorkflowInput) error {
	logger := workflow.GetLogger(ctx)
	state := input.State
	entity := state.EntityType

	logger.Info("Monitor run starting",
		"entity_type", entity,
		"entity_id", state.EntityID,
		"generation", state.Generation,
		"paused", state.IsPaused,
	)

	if err := workflow.SetQueryHandler(ctx, MonitoringStatusQuery(entity), func() (models.MonitorStatus, error) {
		return models.MonitorStatus{
			IsPaused:      state.IsPaused,
			LastCheckedAt: state.LastCheckedAt,
			Generation:    state.Generation,
			AccountID:     state.AccountID,
		}, nil
	}); err != nil {
		return err
	}

	var rotate bool
	pauseCh := workflow.GetSignalChannel(ctx, PauseMonitoringSignal(entity))
	resumeCh := workflow.GetSignalChannel(ctx, ResumeMonitoringSignal(entity))
	rotateCh := workflow.GetSignalChannel(ctx, SignalRotateRun)

	// Signals delivered via signal-with-start are buffered ahead of the
	// first workflow task. Drain them now so "pause an entity with no
	// running monitor" lands before the first poll.
	for {
		var sig PauseSignal
		if !pauseCh.ReceiveAsync(&sig) {
			break
		}
		state.IsPaused = true
	}
	for {
		var sig ResumeSignal
		if !resumeCh.ReceiveAsync(&sig) {
			break
		}
		state.IsPaused = false
	}

	workflow.Go(ctx, func(gctx workflow.Context) {
		for {
			var sig PauseSignal
			pauseCh.Receive(gctx, &sig)
			state.IsPaused = true
			logger.Info("Monitoring paused", "entity_id", state.EntityID, "reason", sig.Reason)
		}
	})
	workflow.Go(ctx, func(gctx workflow.Context) {
		for {
			var sig ResumeSignal
			resumeCh.Receive(gctx, &sig)
			state.IsPaused = false
			logger.Info("Monitoring resumed", "entity_id", state.EntityID)
		}
	})
	workflow.Go(ctx, func(gctx workflow.Context) {
		for {
			rotateCh.Receive(gctx, nil)
			rotate = true
		}
	})

	// Fetch retries are durable activity retries, never ad-hoc process-local
	// timers: a worker crash mid-backoff resumes the schedule on replay.
	fetchCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    10 * time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    5 * time.Minute,
			MaximumAttempts:    int32(input.Policy.FetchMaxAttempts),
			NonRetryableErrorTypes: []string{
				string(gateway.ErrCodeDisconnectedAccount),
				string(gateway.ErrCodeNotFound),
			},
		},
	})
	shortCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 5},
	})

	saveState := func() {
		_ = workflow.ExecuteActivity(shortCtx, "SaveMonitorState", state).Get(shortCtx, nil)
	}

	maxIterations := input.Policy.MaxIterationsPerRun
	if maxIterations <= 0 {
		maxIterations = 500
	}

	for iter := 0; iter < maxIterations && !rotate; iter++ {
		if state.IsPaused {
			saveState()
			if err := workflow.Await(ctx, func() bool { return !state.IsPaused || rotate }); err != nil {
				return persistAndExit(ctx, state)
			}
			continue
		}

		var snapshot gateway.ProfileSnapshot
		err := workflow.ExecuteActivity(fetchCtx, "FetchProfileSnapshot", FetchSnapshotInput{
			EntityType: entity,
			EntityID:   state.EntityID,
			AccountID:  state.AccountID,
			TargetRef:  input.TargetRef,
		}).Get(fetchCtx, &snapshot)

		now := workflow.Now(ctx)
		switch {
		case err != nil && stepFailureCode(err) != gateway.ErrCodeUnknown && stepFailureCode(err) != gateway.ErrCodeRateLimited:
			// Permanent fetch failure. Pausing instead of failing keeps the
			// "is this entity monitored" invariant answerable by this
			// workflow's status until an operator resumes or cancels it.
			logger.Error("Permanent fetch failure, pausing monitor",
				"entity_id", state.EntityID, "error", err)
			state.IsPaused = true
			saveState()
			continue
		case err != nil:
			logger.Warn("Snapshot fetch failed, skipping poll",
				"entity_id", state.EntityID, "error", err)
		default:
			if hash := snapshot.Hash(); hash != state.SnapshotHash {
				if state.SnapshotHash != "" {
					emitChangeAlerts(ctx, shortCtx, state, snapshot.Fields())
				}
				state.SnapshotHash = hash
				state.SnapshotFields = snapshot.Fields()
			}
			state.LastCheckedAt = &now
			saveState()
		}

		_, _ = workflow.AwaitWithTimeout(ctx, input.Policy.PollInterval, func() bool {
			return rotate || state.IsPaused
		})
		if ctx.Err() != nil {
			return persistAndExit(ctx, state)
		}
	}

	if rotate {
		state.Generation++
		logger.Info("Rotating monitor run",
			"entity_id", state.EntityID, "generation", state.Generation)
	}

	// Continue as a fresh execution under the same identity, carrying the
	// snapshot so the first poll of the new run diffs against it.
	next := input
	next.State = state
	return workflow.NewContinueAsNewError(ctx, workflow.GetInfo(ctx).WorkflowType.Name, next)
}

// emitChangeAlerts diffs the stored snapshot fields against the fresh ones
// and creates one alert per materially changed field.
func emitChangeAlerts(ctx workflow.Context, actCtx workflow.Context, state models.MonitorState, fresh map[string]string) {
	logger := workflow.GetLogger(ctx)

	fields := make([]string, 0, len(fresh))
	for field := range fresh {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	for _, field := range fields {
		oldVal := state.SnapshotFields[field]
		newVal := fresh[field]
		if oldVal == newVal {
			continue
		}
		priority := models.ClassifyChangePriority(field)
		logger.Info("Profile change detected",
			"entity_id", state.EntityID,
			"field", field,
			"priority", priority,
		)
		if err := workflow.ExecuteActivity(actCtx, "CreateMonitorAlert", CreateAlertInput{
			OrgID:      state.OrgID,
			EntityType: state.EntityType,
			EntityID:   state.EntityID,
			Priority:   priority,
			Kind:       fmt.Sprintf("%s_changed", field),
			Message:    fmt.Sprintf("%s changed from %q to %q", field, oldVal, newVal),
		}).Get(actCtx, nil); err != nil {
			logger.Error("Failed to create alert",
				"entity_id", state.EntityID, "field", field, "error", err)
		}
	}
}

// persistAndExit saves the monitor state on cancellation using a
// disconnected context, then lets the run end.
func persistAndExit(ctx workflow.Context, state models.MonitorState) error {
	dctx, _ := workflow.NewDisconnectedContext(ctx)
	dctx = workflow.WithActivityOptions(dctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 3},
	})
	_ = workflow.ExecuteActivity(dctx, "SaveMonitorState", state).Get(dctx, nil)
	return nil
}
