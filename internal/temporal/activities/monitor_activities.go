package activities

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/outflowhq/outflow/internal/gateway"
	"github.com/outflowhq/outflow/internal/temporal/workflows"
	"github.com/outflowhq/outflow/pkg/kafka"
	"github.com/outflowhq/outflow/pkg/models"
)

// FetchProfileSnapshot fetches the current profile state for a monitored
// entity. Retry pacing lives in the workflow's activity retry policy;
// classification happens here.
func (a *Activities) FetchProfileSnapshot(ctx context.Context, input workflows.FetchSnapshotInput) (*gateway.ProfileSnapshot, error) {
	a.log.Debug("Fetching profile snapshot",
		"entity_type", input.EntityType,
		"entity_id", input.EntityID,
	)

	snap, err := a.gw.VisitProfile(ctx, gateway.VisitProfileRequest{
		AccountID:  input.AccountID,
		ProfileRef: input.TargetRef,
	})
	if err != nil {
		return nil, classifyGatewayError(err)
	}
	return snap, nil
}

// CreateMonitorAlert appends one change alert to Postgres and, when Kafka is
// enabled, publishes it for downstream notification surfaces. Alerts exist
// only for monitor-detected changes, never for plumbing errors.
func (a *Activities) CreateMonitorAlert(ctx context.Context, input workflows.CreateAlertInput) error {
	alert := models.Alert{
		ID:         uuid.New(),
		OrgID:      input.OrgID,
		EntityType: input.EntityType,
		EntityID:   input.EntityID,
		Priority:   input.Priority,
		Kind:       input.Kind,
		Message:    input.Message,
		CreatedAt:  time.Now().UTC(),
	}

	_, err := a.db.Exec(ctx, `
		INSERT INTO alerts (id, org_id, entity_type, entity_id, priority, kind, message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, alert.ID, alert.OrgID, alert.EntityType, alert.EntityID,
		alert.Priority, alert.Kind, alert.Message, alert.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}

	a.log.Info("Alert created",
		"alert_id", alert.ID,
		"entity_id", alert.EntityID,
		"kind", alert.Kind,
		"priority", alert.Priority,
	)

	if a.alerts != nil {
		event := kafka.Event{
			ID:        alert.ID.String(),
			Type:      "monitor.alert.created",
			Source:    "outflow",
			Timestamp: alert.CreatedAt,
			Data:      alert,
		}
		if err := a.alerts.PublishEvent(ctx, a.alertTopic, event); err != nil {
			// The alert row is committed; a publish failure must not fail
			// the monitor's poll.
			a.log.Error("Failed to publish alert event", "alert_id", alert.ID, "error", err)
		}
	}
	return nil
}
