package models

import (
	"time"

	"github.com/google/uuid"
)

// AlertPriority classifies how urgently a monitor-detected change should be
// surfaced.
type AlertPriority string

const (
	AlertPriorityLow    AlertPriority = "low"
	AlertPriorityMedium AlertPriority = "medium"
	AlertPriorityHigh   AlertPriority = "high"
)

// ClassifyChangePriority maps a changed profile field to an alert priority.
// Job and company moves are the signals outreach users act on, name and
// headline edits are secondary, everything else is noise-level.
func ClassifyChangePriority(field string) AlertPriority {
	switch field {
	case "position", "job_title", "company", "company_id":
		return AlertPriorityHigh
	case "name", "full_name", "headline":
		return AlertPriorityMedium
	default:
		return AlertPriorityLow
	}
}

// Alert records one monitor-detected profile change. Alerts are append-only;
// the notification/listing surface that consumes them lives elsewhere.
type Alert struct {
	ID         uuid.UUID         `json:"id" db:"id"`
	OrgID      string            `json:"orgId" db:"org_id"`
	EntityType MonitorEntityType `json:"entityType" db:"entity_type"`
	EntityID   string            `json:"entityId" db:"entity_id"`
	Priority   AlertPriority     `json:"priority" db:"priority"`
	Kind       string            `json:"kind" db:"kind"`
	Message    string            `json:"message" db:"message"`
	CreatedAt  time.Time         `json:"createdAt" db:"created_at"`
}
