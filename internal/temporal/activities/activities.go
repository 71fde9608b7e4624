// Package activities implements the Temporal activities behind the campaign,
// lead outreach and monitor workflows: provider calls through the gateway,
// rate-limit enforcement and persistence of workflow-owned state.
package activities

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.temporal.io/sdk/activity"

	"github.com/outflowhq/outflow/internal/gateway"
	"github.com/outflowhq/outflow/internal/ratelimit"
	"github.com/outflowhq/outflow/internal/temporal/workflows"
	"github.com/outflowhq/outflow/pkg/kafka"
	"github.com/outflowhq/outflow/pkg/logger"
	"github.com/outflowhq/outflow/pkg/models"
)

// Activities holds dependencies for activity implementations.
type Activities struct {
	db      *pgxpool.Pool
	log     *logger.Logger
	gw      gateway.Gateway
	limiter ratelimit.Limiter

	// alerts is nil when Kafka is disabled; alerts then land in Postgres only.
	alerts     *kafka.Producer
	alertTopic string
}

// NewActivities creates a new Activities instance.
func NewActivities(db *pgxpool.Pool, log *logger.Logger, gw gateway.Gateway, limiter ratelimit.Limiter, alerts *kafka.Producer, alertTopic string) *Activities {
	return &Activities{
		db:         db,
		log:        log.WithComponent("temporal-activities"),
		gw:         gw,
		limiter:    limiter,
		alerts:     alerts,
		alertTopic: alertTopic,
	}
}

// FetchOutreachPlan loads a campaign's immutable outreach plan. Plans are
// read once at workflow start; a campaign edit means a new execution.
func (a *Activities) FetchOutreachPlan(ctx context.Context, campaignID string) (*models.OutreachPlan, error) {
	var raw []byte
	err := a.db.QueryRow(ctx, `
		SELECT plan
		FROM outreach_plans
		WHERE campaign_id = $1
	`, campaignID).Scan(&raw)
	if err != nil {
		return nil, fmt.Errorf("failed to load plan for campaign %s: %w", campaignID, err)
	}

	var plan models.OutreachPlan
	if err := json.Unmarshal(raw, &plan); err != nil {
		return nil, fmt.Errorf("failed to decode plan for campaign %s: %w", campaignID, err)
	}
	if err := plan.Validate(); err != nil {
		return nil, fmt.Errorf("stored plan for campaign %s is invalid: %w", campaignID, err)
	}
	return &plan, nil
}

// FetchCampaignLeads loads the lead list a campaign fans out over.
func (a *Activities) FetchCampaignLeads(ctx context.Context, leadListID string) ([]workflows.CampaignLead, error) {
	rows, err := a.db.Query(ctx, `
		SELECT lead_id, target_ref
		FROM lead_list_entries
		WHERE lead_list_id = $1
		ORDER BY position
	`, leadListID)
	if err != nil {
		return nil, fmt.Errorf("failed to load lead list %s: %w", leadListID, err)
	}
	defer rows.Close()

	var leads []workflows.CampaignLead
	for rows.Next() {
		var lead workflows.CampaignLead
		if err := rows.Scan(&lead.LeadID, &lead.TargetRef); err != nil {
			return nil, fmt.Errorf("failed to scan lead list entry: %w", err)
		}
		leads = append(leads, lead)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read lead list %s: %w", leadListID, err)
	}
	return leads, nil
}

// UpdateCampaignStatus persists a campaign status transition.
func (a *Activities) UpdateCampaignStatus(ctx context.Context, input workflows.UpdateCampaignStatusInput) error {
	info := activity.GetInfo(ctx)
	a.log.Debug("Updating campaign status",
		"campaign_id", input.CampaignID,
		"status", input.Status,
		"activity_id", info.ActivityID,
	)

	now := time.Now().UTC()
	_, err := a.db.Exec(ctx, `
		UPDATE campaign_executions
		SET status = $1, status_reason = $2, updated_at = $3
		WHERE campaign_id = $4
	`, input.Status, input.Reason, now, input.CampaignID)
	if err != nil {
		return fmt.Errorf("failed to update campaign status: %w", err)
	}

	if input.Status == models.CampaignStatusActive {
		_, _ = a.db.Exec(ctx, `
			UPDATE campaign_executions
			SET started_at = $1
			WHERE campaign_id = $2 AND started_at IS NULL
		`, now, input.CampaignID)
	}
	if input.Status.IsTerminal() {
		_, _ = a.db.Exec(ctx, `
			UPDATE campaign_executions
			SET completed_at = $1
			WHERE campaign_id = $2 AND completed_at IS NULL
		`, now, input.CampaignID)
	}
	return nil
}

// RecordCampaignProgress persists the campaign's aggregate counters.
func (a *Activities) RecordCampaignProgress(ctx context.Context, input workflows.CampaignProgressInput) error {
	_, err := a.db.Exec(ctx, `
		UPDATE campaign_executions
		SET leads_processed = $1, leads_failed = $2, leads_remaining = $3, updated_at = $4
		WHERE campaign_id = $5
	`, input.LeadsProcessed, input.LeadsFailed, input.LeadsRemaining, time.Now().UTC(), input.CampaignID)
	if err != nil {
		return fmt.Errorf("failed to record campaign progress: %w", err)
	}
	return nil
}

// RecordLeadStepOutcome upserts the per-lead cursor after each step. The
// lead's workflow instance is the only writer of this row.
func (a *Activities) RecordLeadStepOutcome(ctx context.Context, input workflows.RecordStepOutcomeInput) error {
	a.log.Debug("Recording lead step outcome",
		"campaign_id", input.CampaignID,
		"lead_id", input.LeadID,
		"step", input.StepIndex,
		"outcome", input.Outcome,
	)

	_, err := a.db.Exec(ctx, `
		INSERT INTO lead_outreach_state (
			campaign_id, lead_id, current_step_index,
			last_outcome, last_outcome_at, next_eligible_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $5)
		ON CONFLICT (campaign_id, lead_id) DO UPDATE SET
			current_step_index = EXCLUDED.current_step_index,
			last_outcome = EXCLUDED.last_outcome,
			last_outcome_at = EXCLUDED.last_outcome_at,
			next_eligible_at = EXCLUDED.next_eligible_at,
			updated_at = EXCLUDED.updated_at
	`, input.CampaignID, input.LeadID, input.NextStepIndex,
		input.Outcome, time.Now().UTC(), input.NextEligibleAt)
	if err != nil {
		return fmt.Errorf("failed to record step outcome: %w", err)
	}
	return nil
}

// MarkLeadTerminal persists a lead's terminal status.
func (a *Activities) MarkLeadTerminal(ctx context.Context, input workflows.MarkLeadTerminalInput) error {
	_, err := a.db.Exec(ctx, `
		INSERT INTO lead_outreach_state (
			campaign_id, lead_id, current_step_index,
			terminal, terminal_reason, updated_at
		) VALUES ($1, $2, $3, TRUE, $4, $5)
		ON CONFLICT (campaign_id, lead_id) DO UPDATE SET
			terminal = TRUE,
			terminal_reason = EXCLUDED.terminal_reason,
			updated_at = EXCLUDED.updated_at
	`, input.CampaignID, input.LeadID, models.StepTerminal,
		terminalReason(input), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to mark lead terminal: %w", err)
	}
	return nil
}

func terminalReason(input workflows.MarkLeadTerminalInput) string {
	if input.Reason == "" {
		return input.Status
	}
	return fmt.Sprintf("%s: %s", input.Status, input.Reason)
}

// SaveMonitorState upserts the visibility copy of a monitor's state. The
// workflow instance remains the source of truth.
func (a *Activities) SaveMonitorState(ctx context.Context, state models.MonitorState) error {
	fields, err := json.Marshal(state.SnapshotFields)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot fields: %w", err)
	}

	_, err = a.db.Exec(ctx, `
		INSERT INTO monitor_state (
			entity_type, entity_id, org_id, account_id,
			is_paused, last_checked_at, snapshot_hash, snapshot_fields,
			generation, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (entity_type, entity_id) DO UPDATE SET
			is_paused = EXCLUDED.is_paused,
			last_checked_at = EXCLUDED.last_checked_at,
			snapshot_hash = EXCLUDED.snapshot_hash,
			snapshot_fields = EXCLUDED.snapshot_fields,
			generation = EXCLUDED.generation,
			updated_at = EXCLUDED.updated_at
	`, state.EntityType, state.EntityID, state.OrgID, state.AccountID,
		state.IsPaused, state.LastCheckedAt, state.SnapshotHash, fields,
		state.Generation, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save monitor state: %w", err)
	}
	return nil
}
