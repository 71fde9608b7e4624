package workflows

import (
	"time"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	oftemporal "github.com/outflowhq/outflow/internal/temporal"
	"github.com/outflowhq/outflow/pkg/models"
)

// CampaignWorkflowInput starts one campaign execution.
type CampaignWorkflowInput struct {
	CampaignID         string         `json:"campaign_id"`
	OrgID              string         `json:"org_id"`
	SenderAccountID    string         `json:"sender_account_id"`
	LeadListID         string         `json:"lead_list_id"`
	MaxConcurrentLeads int            `json:"max_concurrent_leads"`
	Policy             OutreachPolicy `json:"policy"`
}

// CampaignWorkflowResult is the final accounting for a campaign execution.
type CampaignWorkflowResult struct {
	CampaignID     string                `json:"campaign_id"`
	Status         models.CampaignStatus `json:"status"`
	StatusReason   string                `json:"status_reason,omitempty"`
	LeadsProcessed int                   `json:"leads_processed"`
	LeadsFailed    int                   `json:"leads_failed"`
	LeadsRemaining int                   `json:"leads_remaining"`
}

// CampaignStatusReport is served by the campaign-status query from the
// workflow's live counters, without touching the database.
type CampaignStatusReport struct {
	Status         models.CampaignStatus `json:"status"`
	LeadsProcessed int                   `json:"leads_processed"`
	LeadsFailed    int                   `json:"leads_failed"`
	LeadsRemaining int                   `json:"leads_remaining"`
	InFlight       int                   `json:"in_flight"`
}

// CampaignLead is one entry of the campaign's lead list.
type CampaignLead struct {
	LeadID    string `json:"lead_id"`
	TargetRef string `json:"target_ref"`
}

// UpdateCampaignStatusInput persists a campaign status transition.
type UpdateCampaignStatusInput struct {
	CampaignID string                `json:"campaign_id"`
	Status     models.CampaignStatus `json:"status"`
	Reason     string                `json:"reason,omitempty"`
}

// CampaignProgressInput persists the campaign's aggregate counters.
type CampaignProgressInput struct {
	CampaignID     string `json:"campaign_id"`
	LeadsProcessed int    `json:"leads_processed"`
	LeadsFailed    int    `json:"leads_failed"`
	LeadsRemaining int    `json:"leads_remaining"`
}

// leadRun tracks one admitted child. holdsSlot is true until the lead
// advances past its current step or terminates.
type leadRun struct {
	future    workflow.ChildWorkflowFuture
	cancel    workflow.CancelFunc
	holdsSlot bool
}

// CampaignWorkflow fans a campaign out to per-lead outreach children under a
// concurrency cap and relays pause/resume/stop control into them.
//
// The cap is a semaphore over in-flight children, not a bound on total
// leads: a slot is held from child admission until the child reports
// finishing its current step (the campaign-lead-progress signal) or
// terminates, whichever comes first.
//
// Status machine: pending -> active <-> paused -> {stopped, completed};
// active/paused -> failed on an account-level error. A single lead's failure
// is counted, never escalated.
func CampaignWorkflow(ctx workflow.Context, input CampaignWorkflowInput) (*CampaignWorkflowResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting campaign",
		"campaign_id", input.CampaignID,
		"org_id", input.OrgID,
		"lead_list_id", input.LeadListID,
		"max_concurrent_leads", input.MaxConcurrentLeads,
	)

	status := models.CampaignStatusPending
	processed, failedCount := 0, 0
	inFlight := make(map[string]*leadRun)
	var order []string // admission order; map iteration is not deterministic
	var pending []CampaignLead

	if err := workflow.SetQueryHandler(ctx, QueryCampaignStatus, func() (CampaignStatusReport, error) {
		return CampaignStatusReport{
			Status:         status,
			LeadsProcessed: processed,
			LeadsFailed:    failedCount,
			LeadsRemaining: len(pending) + len(inFlight),
			InFlight:       len(inFlight),
		}, nil
	}); err != nil {
		return nil, err
	}

	shortCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 5},
	})

	setStatus := func(s models.CampaignStatus, reason string) {
		status = s
		_ = workflow.ExecuteActivity(shortCtx, "UpdateCampaignStatus", UpdateCampaignStatusInput{
			CampaignID: input.CampaignID,
			Status:     s,
			Reason:     reason,
		}).Get(shortCtx, nil)
	}
	recordProgress := func() {
		_ = workflow.ExecuteActivity(shortCtx, "RecordCampaignProgress", CampaignProgressInput{
			CampaignID:     input.CampaignID,
			LeadsProcessed: processed,
			LeadsFailed:    failedCount,
			LeadsRemaining: len(pending) + len(inFlight),
		}).Get(shortCtx, nil)
	}

	var plan models.OutreachPlan
	if err := workflow.ExecuteActivity(shortCtx, "FetchOutreachPlan", input.CampaignID).Get(shortCtx, &plan); err != nil {
		setStatus(models.CampaignStatusFailed, "outreach plan unavailable")
		return nil, err
	}
	if err := workflow.ExecuteActivity(shortCtx, "FetchCampaignLeads", input.LeadListID).Get(shortCtx, &pending); err != nil {
		setStatus(models.CampaignStatusFailed, "lead list unavailable")
		return nil, err
	}

	setStatus(models.CampaignStatusActive, "")
	recordProgress()

	maxConcurrent := input.MaxConcurrentLeads
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	slotsUsed := 0

	var paused, stopping, accountHalted bool
	var stopSig StopSignal
	var haltReason string

	pauseCh := workflow.GetSignalChannel(ctx, SignalCampaignPause)
	resumeCh := workflow.GetSignalChannel(ctx, SignalCampaignResume)
	stopCh := workflow.GetSignalChannel(ctx, SignalCampaignStop)
	progressCh := workflow.GetSignalChannel(ctx, SignalCampaignLeadProgress)

	relay := func(signalName string, payload interface{}) {
		for _, id := range order {
			run := inFlight[id]
			if err := run.future.SignalChildWorkflow(ctx, signalName, payload).Get(ctx, nil); err != nil {
				logger.Warn("Failed to relay signal to lead", "lead_id", id, "signal", signalName, "error", err)
			}
		}
	}

	releaseSlot := func(leadID string) {
		if run, ok := inFlight[leadID]; ok && run.holdsSlot {
			run.holdsSlot = false
			slotsUsed--
		}
	}

	removeFromOrder := func(leadID string) {
		for i, id := range order {
			if id == leadID {
				order = append(order[:i], order[i+1:]...)
				return
			}
		}
	}

	admit := func() {
		for !paused && !stopping && !accountHalted && slotsUsed < maxConcurrent && len(pending) > 0 {
			lead := pending[0]
			pending = pending[1:]

			childCtx := workflow.WithChildOptions(ctx, workflow.ChildWorkflowOptions{
				WorkflowID:        oftemporal.LeadOutreachWorkflowID(input.CampaignID, lead.LeadID),
				ParentClosePolicy: enumspb.PARENT_CLOSE_POLICY_REQUEST_CANCEL,
			})
			childCtx, cancel := workflow.WithCancel(childCtx)
			future := workflow.ExecuteChildWorkflow(childCtx, LeadOutreachWorkflow, LeadOutreachInput{
				CampaignID: input.CampaignID,
				OrgID:      input.OrgID,
				AccountID:  input.SenderAccountID,
				LeadID:     lead.LeadID,
				TargetRef:  lead.TargetRef,
				Plan:       plan,
				Policy:     input.Policy,
			})
			if err := future.GetChildWorkflowExecution().Get(ctx, nil); err != nil {
				// Start refused, usually a live duplicate under the same ID.
				logger.Error("Failed to admit lead", "lead_id", lead.LeadID, "error", err)
				failedCount++
				cancel()
				continue
			}

			inFlight[lead.LeadID] = &leadRun{future: future, cancel: cancel, holdsSlot: true}
			order = append(order, lead.LeadID)
			slotsUsed++
			logger.Info("Admitted lead", "lead_id", lead.LeadID, "in_flight", len(inFlight))
		}
	}

	for {
		admit()

		if len(inFlight) == 0 && (len(pending) == 0 || stopping || accountHalted) {
			break
		}

		selector := workflow.NewSelector(ctx)
		selector.AddReceive(pauseCh, func(c workflow.ReceiveChannel, more bool) {
			var sig PauseSignal
			c.Receive(ctx, &sig)
			if paused || stopping {
				return
			}
			paused = true
			logger.Info("Campaign paused", "reason", sig.Reason)
			setStatus(models.CampaignStatusPaused, sig.Reason)
			relay(SignalLeadPause, sig)
		})
		selector.AddReceive(resumeCh, func(c workflow.ReceiveChannel, more bool) {
			var sig ResumeSignal
			c.Receive(ctx, &sig)
			if !paused || stopping {
				return
			}
			paused = false
			logger.Info("Campaign resumed")
			setStatus(models.CampaignStatusActive, "")
			relay(SignalLeadResume, sig)
		})
		selector.AddReceive(stopCh, func(c workflow.ReceiveChannel, more bool) {
			var sig StopSignal
			c.Receive(ctx, &sig)
			if stopping {
				return
			}
			stopping = true
			stopSig = sig
			pending = nil
			logger.Info("Campaign stopping",
				"reason", sig.Reason,
				"complete_current", sig.CompleteCurrentExecutions,
			)
			if sig.CompleteCurrentExecutions {
				relay(SignalLeadStop, sig)
			} else {
				for _, id := range order {
					inFlight[id].cancel()
				}
			}
		})
		selector.AddReceive(progressCh, func(c workflow.ReceiveChannel, more bool) {
			var sig LeadProgressSignal
			c.Receive(ctx, &sig)
			releaseSlot(sig.LeadID)
		})
		for _, id := range order {
			id := id
			run := inFlight[id]
			selector.AddFuture(run.future, func(f workflow.Future) {
				var res LeadOutreachResult
				err := f.Get(ctx, &res)
				releaseSlot(id)
				delete(inFlight, id)
				removeFromOrder(id)

				switch {
				case err != nil:
					logger.Error("Lead outreach failed", "lead_id", id, "error", err)
					failedCount++
				case res.Status == LeadStatusCompleted:
					processed++
				case res.Status == LeadStatusStopped:
					// Neither processed nor failed; the stop accounting is
					// carried by the campaign status itself.
				default:
					failedCount++
					if res.AccountDisconnected && !accountHalted {
						accountHalted = true
						haltReason = "sender account disconnected"
						pending = nil
						logger.Error("Account-level failure, halting admission",
							"campaign_id", input.CampaignID, "lead_id", id)
					}
				}
				recordProgress()
			})
		}
		selector.Select(ctx)
	}

	switch {
	case accountHalted:
		setStatus(models.CampaignStatusFailed, haltReason)
	case stopping && !stopSig.CompleteCurrentExecutions:
		setStatus(models.CampaignStatusStopped, stopSig.Reason)
	default:
		setStatus(models.CampaignStatusCompleted, stopSig.Reason)
	}
	recordProgress()

	result := &CampaignWorkflowResult{
		CampaignID:     input.CampaignID,
		Status:         status,
		StatusReason:   haltReason,
		LeadsProcessed: processed,
		LeadsFailed:    failedCount,
		LeadsRemaining: len(pending),
	}
	logger.Info("Campaign finished",
		"campaign_id", input.CampaignID,
		"status", status,
		"processed", processed,
		"failed", failedCount,
	)
	return result, nil
}
