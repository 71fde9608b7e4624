// Package service exposes the campaign and monitor control operations the
// API layer calls. Services translate domain requests into workflow starts,
// signals and queries; they never mutate workflow-owned state directly.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	oftemporal "github.com/outflowhq/outflow/internal/temporal"
	"github.com/outflowhq/outflow/internal/temporal/workflows"
	"github.com/outflowhq/outflow/pkg/config"
	"github.com/outflowhq/outflow/pkg/logger"
	"github.com/outflowhq/outflow/pkg/models"
)

// Runtime is the slice of the workflow client the services depend on.
type Runtime interface {
	Start(ctx context.Context, workflowID, workflowType string, args ...interface{}) (string, error)
	SignalWithStart(ctx context.Context, workflowID, signalName string, signalArg interface{}, workflowType string, args ...interface{}) (string, error)
	Signal(ctx context.Context, workflowID, signalName string, signalArg interface{}) error
	Query(ctx context.Context, workflowID, queryType string, out interface{}, args ...interface{}) error
	Cancel(ctx context.Context, workflowID string) error
	Describe(ctx context.Context, workflowID string) (*oftemporal.WorkflowStatus, error)
	IsRunning(ctx context.Context, workflowID string) (bool, error)
	ListRunning(ctx context.Context, workflowType string) ([]string, error)
}

// Execer is the subset of pgxpool.Pool the campaign service writes through.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// CampaignService starts and controls campaign executions.
type CampaignService struct {
	runtime Runtime
	db      Execer
	cfg     config.OutreachConfig
	log     *logger.Logger
}

// NewCampaignService creates a campaign service.
func NewCampaignService(runtime Runtime, db Execer, cfg config.OutreachConfig, log *logger.Logger) *CampaignService {
	return &CampaignService{
		runtime: runtime,
		db:      db,
		cfg:     cfg,
		log:     log.WithComponent("campaign-service"),
	}
}

// StartCampaignRequest carries the parameters of a new campaign execution.
type StartCampaignRequest struct {
	CampaignID         string `json:"campaignId"`
	OrgID              string `json:"orgId"`
	SenderAccountID    string `json:"senderAccountId"`
	LeadListID         string `json:"leadListId"`
	MaxConcurrentLeads int    `json:"maxConcurrentLeads"`
}

// Start begins a new campaign execution. A live execution under the same
// campaign ID yields oftemporal.ErrAlreadyRunning.
func (s *CampaignService) Start(ctx context.Context, req StartCampaignRequest) error {
	if req.CampaignID == "" || req.OrgID == "" || req.SenderAccountID == "" || req.LeadListID == "" {
		return fmt.Errorf("campaign id, org id, sender account id and lead list id are required")
	}

	// Visibility row first. The workflow only updates it; a start that
	// loses the ID race below leaves the previous execution's row intact.
	_, err := s.db.Exec(ctx, `
		INSERT INTO campaign_executions (
			id, campaign_id, org_id, sender_account_id, lead_list_id,
			max_concurrent_leads, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		ON CONFLICT (campaign_id) DO UPDATE SET
			sender_account_id = EXCLUDED.sender_account_id,
			lead_list_id = EXCLUDED.lead_list_id,
			max_concurrent_leads = EXCLUDED.max_concurrent_leads,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at
	`, uuid.New(), req.CampaignID, req.OrgID, req.SenderAccountID, req.LeadListID,
		req.MaxConcurrentLeads, models.CampaignStatusPending, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to create campaign execution record: %w", err)
	}

	_, err = s.runtime.Start(ctx, oftemporal.CampaignWorkflowID(req.CampaignID), oftemporal.WorkflowTypeCampaign,
		workflows.CampaignWorkflowInput{
			CampaignID:         req.CampaignID,
			OrgID:              req.OrgID,
			SenderAccountID:    req.SenderAccountID,
			LeadListID:         req.LeadListID,
			MaxConcurrentLeads: req.MaxConcurrentLeads,
			Policy: workflows.OutreachPolicy{
				MaxStepAttempts:   s.cfg.MaxStepAttempts,
				StepTimeout:       s.cfg.StepTimeout,
				RetryInitialDelay: s.cfg.RetryInitialDelay,
				RetryMaxDelay:     s.cfg.RetryMaxDelay,
			},
		})
	if err != nil {
		return err
	}

	s.log.WithOrg(req.OrgID).Info("Campaign started",
		"campaign_id", req.CampaignID,
		"lead_list_id", req.LeadListID,
	)
	return nil
}

// Pause stops admission of new leads and pauses in-flight ones. Idempotent
// on an already-paused campaign.
func (s *CampaignService) Pause(ctx context.Context, campaignID, reason string) error {
	return s.runtime.Signal(ctx, oftemporal.CampaignWorkflowID(campaignID),
		workflows.SignalCampaignPause, workflows.PauseSignal{Reason: reason})
}

// Resume clears a pause.
func (s *CampaignService) Resume(ctx context.Context, campaignID string) error {
	return s.runtime.Signal(ctx, oftemporal.CampaignWorkflowID(campaignID),
		workflows.SignalCampaignResume, workflows.ResumeSignal{})
}

// Stop terminates a campaign. When completeCurrent is set, in-flight leads
// finish their current step first. Terminal; a fresh Start is required
// afterwards.
func (s *CampaignService) Stop(ctx context.Context, campaignID, reason string, completeCurrent bool) error {
	return s.runtime.Signal(ctx, oftemporal.CampaignWorkflowID(campaignID),
		workflows.SignalCampaignStop, workflows.StopSignal{
			Reason:                    reason,
			CompleteCurrentExecutions: completeCurrent,
		})
}

// Status queries the running campaign's live counters.
func (s *CampaignService) Status(ctx context.Context, campaignID string) (*workflows.CampaignStatusReport, error) {
	var report workflows.CampaignStatusReport
	if err := s.runtime.Query(ctx, oftemporal.CampaignWorkflowID(campaignID), workflows.QueryCampaignStatus, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// Describe reports the campaign workflow's execution status, including for
// closed executions the status query can no longer reach.
func (s *CampaignService) Describe(ctx context.Context, campaignID string) (*oftemporal.WorkflowStatus, error) {
	return s.runtime.Describe(ctx, oftemporal.CampaignWorkflowID(campaignID))
}
