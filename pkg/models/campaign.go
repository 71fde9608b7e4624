package models

import (
	"time"

	"github.com/google/uuid"
)

// CampaignStatus represents the lifecycle state of a campaign execution.
type CampaignStatus string

const (
	CampaignStatusPending   CampaignStatus = "pending"
	CampaignStatusActive    CampaignStatus = "active"
	CampaignStatusPaused    CampaignStatus = "paused"
	CampaignStatusStopped   CampaignStatus = "stopped"
	CampaignStatusCompleted CampaignStatus = "completed"
	CampaignStatusFailed    CampaignStatus = "failed"
)

// IsTerminal reports whether the status allows no further transitions.
func (s CampaignStatus) IsTerminal() bool {
	switch s {
	case CampaignStatusStopped, CampaignStatusCompleted, CampaignStatusFailed:
		return true
	}
	return false
}

// CampaignExecution identifies one running campaign instance. The workflow
// owns the live counters; this row exists for operator visibility.
type CampaignExecution struct {
	ID                 uuid.UUID      `json:"id" db:"id"`
	CampaignID         string         `json:"campaignId" db:"campaign_id"`
	OrgID              string         `json:"orgId" db:"org_id"`
	SenderAccountID    string         `json:"senderAccountId" db:"sender_account_id"`
	LeadListID         string         `json:"leadListId" db:"lead_list_id"`
	MaxConcurrentLeads int            `json:"maxConcurrentLeads" db:"max_concurrent_leads"`
	Status             CampaignStatus `json:"status" db:"status"`
	LeadsProcessed     int            `json:"leadsProcessed" db:"leads_processed"`
	LeadsFailed        int            `json:"leadsFailed" db:"leads_failed"`
	LeadsRemaining     int            `json:"leadsRemaining" db:"leads_remaining"`
	StatusReason       string         `json:"statusReason,omitempty" db:"status_reason"`
	StartedAt          time.Time      `json:"startedAt" db:"started_at"`
	CompletedAt        *time.Time     `json:"completedAt,omitempty" db:"completed_at"`
}
