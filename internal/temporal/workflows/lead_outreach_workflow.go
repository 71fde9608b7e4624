package workflows

import (
	"errors"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/outflowhq/outflow/internal/gateway"
	"github.com/outflowhq/outflow/pkg/models"
)

// Lead outreach terminal statuses.
const (
	LeadStatusCompleted = "completed"
	LeadStatusFailed    = "failed"
	LeadStatusStopped   = "stopped"
)

// OutreachPolicy is the retry and timeout policy applied to every outreach
// step. Values come from configuration; the workflow never hardcodes them.
type OutreachPolicy struct {
	MaxStepAttempts   int           `json:"max_step_attempts"`
	StepTimeout       time.Duration `json:"step_timeout"`
	RetryInitialDelay time.Duration `json:"retry_initial_delay"`
	RetryMaxDelay     time.Duration `json:"retry_max_delay"`
}

// LeadOutreachInput starts one lead's walk through an outreach plan.
type LeadOutreachInput struct {
	CampaignID string              `json:"campaign_id"`
	OrgID      string              `json:"org_id"`
	AccountID  string              `json:"account_id"`
	LeadID     string              `json:"lead_id"`
	TargetRef  string              `json:"target_ref"`
	Plan       models.OutreachPlan `json:"plan"`
	Policy     OutreachPolicy      `json:"policy"`
}

// LeadOutreachResult is returned to the parent campaign.
type LeadOutreachResult struct {
	LeadID      string `json:"lead_id"`
	Status      string `json:"status"`
	StepsRun    int    `json:"steps_run"`
	FailureCode string `json:"failure_code,omitempty"`

	// AccountDisconnected flags an account-level failure. The parent halts
	// further admission instead of counting it as an ordinary lead failure.
	AccountDisconnected bool `json:"account_disconnected"`
}

// ExecuteStepInput is input for the outreach step executor activity.
type ExecuteStepInput struct {
	CampaignID string             `json:"campaign_id"`
	OrgID      string             `json:"org_id"`
	AccountID  string             `json:"account_id"`
	LeadID     string             `json:"lead_id"`
	TargetRef  string             `json:"target_ref"`
	Step       models.OutreachStep `json:"step"`
}

// ExecuteStepOutput is the structured result of one executed step.
type ExecuteStepOutput struct {
	Outcome models.StepOutcome `json:"outcome"`
	Detail  string             `json:"detail,omitempty"`

	// Accepted carries the invitation decision for check_invitation steps.
	Accepted *bool `json:"accepted,omitempty"`
}

// RecordStepOutcomeInput persists one step's outcome and the advanced cursor.
type RecordStepOutcomeInput struct {
	CampaignID     string             `json:"campaign_id"`
	LeadID         string             `json:"lead_id"`
	StepIndex      int                `json:"step_index"`
	Outcome        models.StepOutcome `json:"outcome"`
	NextStepIndex  int                `json:"next_step_index"`
	NextEligibleAt *time.Time         `json:"next_eligible_at,omitempty"`
}

// MarkLeadTerminalInput persists a lead's terminal status.
type MarkLeadTerminalInput struct {
	CampaignID string `json:"campaign_id"`
	LeadID     string `json:"lead_id"`
	Status     string `json:"status"`
	Reason     string `json:"reason,omitempty"`
}

// LeadOutreachWorkflow walks one lead through its campaign's outreach plan:
// execute the current step, persist the outcome, pick the next step per the
// plan's branch rules, wait out the inter-step delay, repeat. Inter-step
// delays can span days; every wait is a durable suspension point.
//
// Error discipline: transient failures retry inside the activity's retry
// policy and, once exhausted, take the step's failure branch. Permanent
// failures (target gone, account disconnected) end the lead immediately and
// are never retried.
func LeadOutreachWorkflow(ctx workflow.Context, input LeadOutreachInput) (*LeadOutreachResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting lead outreach",
		"campaign_id", input.CampaignID,
		"lead_id", input.LeadID,
		"plan_id", input.Plan.ID,
		"steps", len(input.Plan.Steps),
	)

	result := &LeadOutreachResult{LeadID: input.LeadID}

	if err := input.Plan.Validate(); err != nil {
		result.Status = LeadStatusFailed
		result.FailureCode = "invalid_plan"
		markLeadTerminal(ctx, input, LeadStatusFailed, err.Error())
		return result, nil
	}

	stepCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: input.Policy.StepTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    input.Policy.RetryInitialDelay,
			BackoffCoefficient: 2.0,
			MaximumInterval:    input.Policy.RetryMaxDelay,
			MaximumAttempts:    int32(input.Policy.MaxStepAttempts),
			NonRetryableErrorTypes: []string{
				string(gateway.ErrCodeDisconnectedAccount),
				string(gateway.ErrCodeNotFound),
			},
		},
	})

	recordCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 5},
	})

	// Parent-issued pause/resume/stop, observed at every suspension boundary.
	var paused, stopRequested bool
	workflow.Go(ctx, func(gctx workflow.Context) {
		ch := workflow.GetSignalChannel(gctx, SignalLeadPause)
		for {
			var sig PauseSignal
			ch.Receive(gctx, &sig)
			paused = true
		}
	})
	workflow.Go(ctx, func(gctx workflow.Context) {
		ch := workflow.GetSignalChannel(gctx, SignalLeadResume)
		for {
			var sig ResumeSignal
			ch.Receive(gctx, &sig)
			paused = false
		}
	})
	workflow.Go(ctx, func(gctx workflow.Context) {
		ch := workflow.GetSignalChannel(gctx, SignalLeadStop)
		for {
			var sig StopSignal
			ch.Receive(gctx, &sig)
			stopRequested = true
		}
	})

	idx := 0
	for idx != models.StepTerminal {
		if stopRequested || ctx.Err() != nil {
			result.Status = LeadStatusStopped
			markLeadTerminal(ctx, input, LeadStatusStopped, "campaign stopped")
			return result, nil
		}
		if paused {
			if err := workflow.Await(ctx, func() bool { return !paused || stopRequested }); err != nil {
				result.Status = LeadStatusStopped
				markLeadTerminal(ctx, input, LeadStatusStopped, "cancelled while paused")
				return result, nil
			}
			continue
		}

		step := input.Plan.Steps[idx]
		var out ExecuteStepOutput
		err := workflow.ExecuteActivity(stepCtx, "ExecuteOutreachStep", ExecuteStepInput{
			CampaignID: input.CampaignID,
			OrgID:      input.OrgID,
			AccountID:  input.AccountID,
			LeadID:     input.LeadID,
			TargetRef:  input.TargetRef,
			Step:       step,
		}).Get(stepCtx, &out)

		outcome := out.Outcome
		accepted := out.Accepted
		if err != nil {
			switch code := stepFailureCode(err); code {
			case gateway.ErrCodeDisconnectedAccount:
				logger.Error("Sending account disconnected, halting lead",
					"lead_id", input.LeadID, "step", idx)
				result.Status = LeadStatusFailed
				result.FailureCode = string(code)
				result.AccountDisconnected = true
				markLeadTerminal(ctx, input, LeadStatusFailed, "sending account disconnected")
				notifyParentProgress(ctx, input.LeadID, idx, models.StepOutcomeFailed)
				return result, nil
			case gateway.ErrCodeNotFound:
				logger.Warn("Target not found, lead terminal",
					"lead_id", input.LeadID, "step", idx)
				result.Status = LeadStatusFailed
				result.FailureCode = string(code)
				markLeadTerminal(ctx, input, LeadStatusFailed, "target not found")
				notifyParentProgress(ctx, input.LeadID, idx, models.StepOutcomeFailed)
				return result, nil
			default:
				// Retries exhausted on a transient failure. The step is
				// failed; the plan's failure branch decides what happens
				// next, never a silent abort of the whole lead.
				logger.Warn("Step failed after retries, taking failure branch",
					"lead_id", input.LeadID, "step", idx, "error", err)
				outcome = models.StepOutcomeFailed
				accepted = nil
			}
		}

		next := step.Next(outcome, accepted)

		var nextEligible *time.Time
		if next != models.StepTerminal && step.Delay > 0 {
			t := workflow.Now(ctx).Add(step.Delay)
			nextEligible = &t
		}
		_ = workflow.ExecuteActivity(recordCtx, "RecordLeadStepOutcome", RecordStepOutcomeInput{
			CampaignID:     input.CampaignID,
			LeadID:         input.LeadID,
			StepIndex:      idx,
			Outcome:        outcome,
			NextStepIndex:  next,
			NextEligibleAt: nextEligible,
		}).Get(recordCtx, nil)

		result.StepsRun++
		notifyParentProgress(ctx, input.LeadID, idx, outcome)

		if next == models.StepTerminal {
			if outcome == models.StepOutcomeFailed {
				result.Status = LeadStatusFailed
				result.FailureCode = "step_failed"
				markLeadTerminal(ctx, input, LeadStatusFailed, "failure branch terminal")
			} else {
				result.Status = LeadStatusCompleted
				markLeadTerminal(ctx, input, LeadStatusCompleted, "")
			}
			return result, nil
		}

		if step.Delay > 0 {
			// Durable inter-step wait; wakes early on stop.
			_, _ = workflow.AwaitWithTimeout(ctx, step.Delay, func() bool { return stopRequested })
		}
		idx = next
	}

	result.Status = LeadStatusCompleted
	return result, nil
}

// stepFailureCode maps an exhausted activity error back onto the gateway
// error taxonomy. Activities surface the classification as the application
// error type.
func stepFailureCode(err error) gateway.ErrorCode {
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		switch code := gateway.ErrorCode(appErr.Type()); code {
		case gateway.ErrCodeDisconnectedAccount, gateway.ErrCodeNotFound, gateway.ErrCodeRateLimited:
			return code
		}
	}
	return gateway.ErrCodeUnknown
}

// markLeadTerminal persists the lead's terminal status. Runs on a
// disconnected context so it still executes when the workflow was cancelled.
func markLeadTerminal(ctx workflow.Context, input LeadOutreachInput, status, reason string) {
	dctx, _ := workflow.NewDisconnectedContext(ctx)
	dctx = workflow.WithActivityOptions(dctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 5},
	})
	if err := workflow.ExecuteActivity(dctx, "MarkLeadTerminal", MarkLeadTerminalInput{
		CampaignID: input.CampaignID,
		LeadID:     input.LeadID,
		Status:     status,
		Reason:     reason,
	}).Get(dctx, nil); err != nil {
		workflow.GetLogger(ctx).Error("Failed to persist lead terminal status",
			"lead_id", input.LeadID, "error", err)
	}
}

// notifyParentProgress tells the parent campaign this lead finished a step so
// its admission slot can be released. No-op when running without a parent.
func notifyParentProgress(ctx workflow.Context, leadID string, stepIndex int, outcome models.StepOutcome) {
	parent := workflow.GetInfo(ctx).ParentWorkflowExecution
	if parent == nil {
		return
	}
	dctx, _ := workflow.NewDisconnectedContext(ctx)
	if err := workflow.SignalExternalWorkflow(dctx, parent.ID, parent.RunID, SignalCampaignLeadProgress, LeadProgressSignal{
		LeadID:    leadID,
		StepIndex: stepIndex,
		Outcome:   outcome,
	}).Get(dctx, nil); err != nil {
		workflow.GetLogger(ctx).Warn("Failed to notify parent of lead progress",
			"lead_id", leadID, "error", err)
	}
}
