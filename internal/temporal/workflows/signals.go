// Package workflows defines the durable workflows driving campaign
// orchestration, per-lead outreach sequences and lead/company monitoring.
package workflows

import (
	"fmt"

	"github.com/outflowhq/outflow/pkg/models"
)

// Campaign signal and query names.
const (
	SignalCampaignPause        = "pause-campaign"
	SignalCampaignResume       = "resume-campaign"
	SignalCampaignStop         = "stop-campaign"
	SignalCampaignLeadProgress = "campaign-lead-progress"

	QueryCampaignStatus = "campaign-status"
)

// Lead outreach signal names, sent by the parent campaign.
const (
	SignalLeadPause  = "pause-lead-outreach"
	SignalLeadResume = "resume-lead-outreach"
	SignalLeadStop   = "stop-lead-outreach"
)

// SignalRotateRun asks a monitor to close out its current execution
// generation and continue as a fresh run under the same identity.
const SignalRotateRun = "rotate-run"

// PauseSignal carries the operator-supplied reason for a pause.
type PauseSignal struct {
	Reason string `json:"reason,omitempty"`
}

// ResumeSignal clears a pause.
type ResumeSignal struct{}

// StopSignal terminates a campaign. When CompleteCurrentExecutions is set,
// in-flight leads finish their current step before halting; otherwise they
// are cancelled immediately.
type StopSignal struct {
	Reason                    string `json:"reason,omitempty"`
	CompleteCurrentExecutions bool   `json:"complete_current_executions"`
}

// LeadProgressSignal is sent child-to-parent whenever a lead completes a
// step. The orchestrator uses it to release the lead's admission slot.
type LeadProgressSignal struct {
	LeadID    string             `json:"lead_id"`
	StepIndex int                `json:"step_index"`
	Outcome   models.StepOutcome `json:"outcome"`
}

// PauseMonitoringSignal returns the pause signal name for an entity type,
// e.g. "pause-lead-monitoring".
func PauseMonitoringSignal(entityType models.MonitorEntityType) string {
	return fmt.Sprintf("pause-%s-monitoring", entityType)
}

// ResumeMonitoringSignal returns the resume signal name for an entity type.
func ResumeMonitoringSignal(entityType models.MonitorEntityType) string {
	return fmt.Sprintf("resume-%s-monitoring", entityType)
}

// MonitoringStatusQuery returns the status query name for an entity type,
// e.g. "get-company-monitoring-status".
func MonitoringStatusQuery(entityType models.MonitorEntityType) string {
	return fmt.Sprintf("get-%s-monitoring-status", entityType)
}
