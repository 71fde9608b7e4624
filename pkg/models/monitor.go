package models

import "time"

// MonitorEntityType distinguishes lead monitors from company monitors.
type MonitorEntityType string

const (
	MonitorEntityLead    MonitorEntityType = "lead"
	MonitorEntityCompany MonitorEntityType = "company"
)

// MonitorState is the monitor workflow's internal state. It is owned
// exclusively by the workflow instance; external callers read it through the
// monitoring-status query and mutate it only through signals. The database
// row is a visibility copy, never the source of truth.
type MonitorState struct {
	EntityType MonitorEntityType `json:"entityType" db:"entity_type"`
	EntityID   string            `json:"entityId" db:"entity_id"`
	OrgID      string            `json:"orgId" db:"org_id"`
	AccountID  string            `json:"accountId" db:"account_id"`

	IsPaused      bool       `json:"isPaused" db:"is_paused"`
	LastCheckedAt *time.Time `json:"lastCheckedAt,omitempty" db:"last_checked_at"`

	// SnapshotHash and SnapshotFields hold the last-known profile state for
	// change detection across polls and continue-as-new boundaries.
	SnapshotHash   string            `json:"snapshotHash,omitempty" db:"snapshot_hash"`
	SnapshotFields map[string]string `json:"snapshotFields,omitempty" db:"-"`

	// Generation counts rotate-run cycles under the same identity.
	Generation int `json:"generation" db:"generation"`
}

// MonitorStatus is the synchronous, non-mutating view served by the
// monitoring-status query.
type MonitorStatus struct {
	IsPaused      bool       `json:"isPaused"`
	LastCheckedAt *time.Time `json:"lastCheckedAt,omitempty"`
	Generation    int        `json:"generation"`

	// AccountID identifies the owning sending account, letting callers
	// filter bulk operations like account disconnection.
	AccountID string `json:"accountId"`
}
