// Package temporal provides the durable-execution runtime integration:
// the deterministic workflow identity scheme and the client wrapper used to
// start, signal, query and list workflow instances.
package temporal

import (
	"fmt"

	"github.com/outflowhq/outflow/pkg/models"
)

// Workflow type names as registered with the worker. Used for visibility
// queries ("all running monitors"), never for identity.
const (
	WorkflowTypeCampaign       = "CampaignWorkflow"
	WorkflowTypeLeadOutreach   = "LeadOutreachWorkflow"
	WorkflowTypeLeadMonitor    = "LeadMonitorWorkflow"
	WorkflowTypeCompanyMonitor = "CompanyMonitorWorkflow"
)

// Workflow IDs are derived from domain keys. The ID is both identity and
// lookup key: locating a running instance needs no side index, and starting
// twice against a live ID is a conflict, not a duplicate. Do not add a
// database-backed registry next to this.

// CampaignWorkflowID returns the identity of a campaign execution.
func CampaignWorkflowID(campaignID string) string {
	return fmt.Sprintf("campaign-%s", campaignID)
}

// LeadOutreachWorkflowID returns the identity of a per-lead outreach
// sequence within a campaign.
func LeadOutreachWorkflowID(campaignID, leadID string) string {
	return fmt.Sprintf("lead-outreach-%s-%s", campaignID, leadID)
}

// LeadMonitorWorkflowID returns the identity of a lead monitor.
func LeadMonitorWorkflowID(leadID string) string {
	return fmt.Sprintf("lead-monitor-%s", leadID)
}

// CompanyMonitorWorkflowID returns the identity of a company monitor.
func CompanyMonitorWorkflowID(companyID string) string {
	return fmt.Sprintf("company-monitor-%s", companyID)
}

// MonitorWorkflowID returns the monitor identity for an entity type.
func MonitorWorkflowID(entityType models.MonitorEntityType, entityID string) string {
	if entityType == models.MonitorEntityCompany {
		return CompanyMonitorWorkflowID(entityID)
	}
	return LeadMonitorWorkflowID(entityID)
}

// MonitorWorkflowType returns the registered workflow type name for an
// entity type.
func MonitorWorkflowType(entityType models.MonitorEntityType) string {
	if entityType == models.MonitorEntityCompany {
		return WorkflowTypeCompanyMonitor
	}
	return WorkflowTypeLeadMonitor
}
