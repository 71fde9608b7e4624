package service

import (
	"context"
	"errors"
	"fmt"

	oftemporal "github.com/outflowhq/outflow/internal/temporal"
	"github.com/outflowhq/outflow/internal/temporal/workflows"
	"github.com/outflowhq/outflow/pkg/config"
	"github.com/outflowhq/outflow/pkg/logger"
	"github.com/outflowhq/outflow/pkg/models"
)

// ErrActiveMonitors rejects an account disconnect while the account still
// owns running, non-paused monitors. The owner must pause them first.
var ErrActiveMonitors = errors.New("account has active monitors")

// MonitorService starts and controls lead/company monitors. Monitors are
// lazy: the first monitoring request for an entity starts its workflow,
// and the deterministic identity makes every later start idempotent.
type MonitorService struct {
	runtime Runtime
	cfg     config.MonitorConfig
	log     *logger.Logger
}

// NewMonitorService creates a monitor service.
func NewMonitorService(runtime Runtime, cfg config.MonitorConfig, log *logger.Logger) *MonitorService {
	return &MonitorService{
		runtime: runtime,
		cfg:     cfg,
		log:     log.WithComponent("monitor-service"),
	}
}

// MonitorRequest identifies the entity to monitor and the account polling it.
type MonitorRequest struct {
	EntityType models.MonitorEntityType `json:"entityType"`
	EntityID   string                   `json:"entityId"`
	OrgID      string                   `json:"orgId"`
	AccountID  string                   `json:"accountId"`
	TargetRef  string                   `json:"targetRef"`
}

func (s *MonitorService) policy() workflows.MonitorPolicy {
	return workflows.MonitorPolicy{
		PollInterval:        s.cfg.PollInterval,
		FetchMaxAttempts:    s.cfg.FetchMaxAttempts,
		MaxIterationsPerRun: s.cfg.MaxIterationsPerRun,
	}
}

func (s *MonitorService) input(req MonitorRequest, startPaused bool) workflows.MonitorWorkflowInput {
	return workflows.MonitorWorkflowInput{
		State: models.MonitorState{
			EntityType: req.EntityType,
			EntityID:   req.EntityID,
			OrgID:      req.OrgID,
			AccountID:  req.AccountID,
			IsPaused:   startPaused,
		},
		TargetRef: req.TargetRef,
		Policy:    s.policy(),
	}
}

// Start begins monitoring an entity. Starting an already-monitored entity
// is a no-op.
func (s *MonitorService) Start(ctx context.Context, req MonitorRequest) error {
	workflowID := oftemporal.MonitorWorkflowID(req.EntityType, req.EntityID)
	_, err := s.runtime.Start(ctx, workflowID,
		oftemporal.MonitorWorkflowType(req.EntityType), s.input(req, false))
	if errors.Is(err, oftemporal.ErrAlreadyRunning) {
		return nil
	}
	if err != nil {
		return err
	}
	s.log.Info("Monitor started", "workflow_id", workflowID)
	return nil
}

// Pause halts an entity's polling. An entity with no running monitor gets a
// fresh monitor started with the pause delivered ahead of its first poll,
// so "is monitored / is paused" stays answerable from one workflow's state.
func (s *MonitorService) Pause(ctx context.Context, req MonitorRequest, reason string) error {
	workflowID := oftemporal.MonitorWorkflowID(req.EntityType, req.EntityID)
	_, err := s.runtime.SignalWithStart(ctx, workflowID,
		workflows.PauseMonitoringSignal(req.EntityType), workflows.PauseSignal{Reason: reason},
		oftemporal.MonitorWorkflowType(req.EntityType), s.input(req, false))
	return err
}

// Resume restarts an entity's polling. With no running monitor, a fresh one
// starts paused and the buffered resume lands before the first poll, ending
// with isPaused=false.
func (s *MonitorService) Resume(ctx context.Context, req MonitorRequest) error {
	workflowID := oftemporal.MonitorWorkflowID(req.EntityType, req.EntityID)
	_, err := s.runtime.SignalWithStart(ctx, workflowID,
		workflows.ResumeMonitoringSignal(req.EntityType), workflows.ResumeSignal{},
		oftemporal.MonitorWorkflowType(req.EntityType), s.input(req, true))
	return err
}

// Rotate closes out the monitor's current execution generation; the
// successor run shares the identity and the last snapshot.
func (s *MonitorService) Rotate(ctx context.Context, entityType models.MonitorEntityType, entityID string) error {
	return s.runtime.Signal(ctx, oftemporal.MonitorWorkflowID(entityType, entityID),
		workflows.SignalRotateRun, nil)
}

// Stop cancels an entity's monitor outright.
func (s *MonitorService) Stop(ctx context.Context, entityType models.MonitorEntityType, entityID string) error {
	return s.runtime.Cancel(ctx, oftemporal.MonitorWorkflowID(entityType, entityID))
}

// Status reads the monitor's live state. Safe at arbitrary frequency; the
// query never mutates workflow state.
func (s *MonitorService) Status(ctx context.Context, entityType models.MonitorEntityType, entityID string) (*models.MonitorStatus, error) {
	var status models.MonitorStatus
	if err := s.runtime.Query(ctx, oftemporal.MonitorWorkflowID(entityType, entityID),
		workflows.MonitoringStatusQuery(entityType), &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// IsMonitored reports whether an entity has a live monitor, paused or not.
func (s *MonitorService) IsMonitored(ctx context.Context, entityType models.MonitorEntityType, entityID string) (bool, error) {
	return s.runtime.IsRunning(ctx, oftemporal.MonitorWorkflowID(entityType, entityID))
}

// DisconnectAccount enforces the disconnect ordering rule: every monitor the
// account owns must be paused first; the disconnect then cancels the paused
// ones. Non-paused monitors reject the disconnect with ErrActiveMonitors.
//
// Running monitors are found through the runtime's visibility listing, never
// an application-side index that could drift from engine state.
func (s *MonitorService) DisconnectAccount(ctx context.Context, accountID string) error {
	var owned []string
	var active []string

	for _, workflowType := range []string{
		oftemporal.WorkflowTypeLeadMonitor,
		oftemporal.WorkflowTypeCompanyMonitor,
	} {
		entityType := models.MonitorEntityLead
		if workflowType == oftemporal.WorkflowTypeCompanyMonitor {
			entityType = models.MonitorEntityCompany
		}

		ids, err := s.runtime.ListRunning(ctx, workflowType)
		if err != nil {
			return fmt.Errorf("failed to list running monitors: %w", err)
		}
		for _, id := range ids {
			var status models.MonitorStatus
			if err := s.runtime.Query(ctx, id, workflows.MonitoringStatusQuery(entityType), &status); err != nil {
				// The monitor may have closed between listing and querying.
				s.log.Warn("Failed to query monitor during disconnect", "workflow_id", id, "error", err)
				continue
			}
			if status.AccountID != accountID {
				continue
			}
			owned = append(owned, id)
			if !status.IsPaused {
				active = append(active, id)
			}
		}
	}

	if len(active) > 0 {
		return fmt.Errorf("%w: %d of %d monitors still polling", ErrActiveMonitors, len(active), len(owned))
	}

	for _, id := range owned {
		if err := s.runtime.Cancel(ctx, id); err != nil {
			return fmt.Errorf("failed to cancel monitor %s: %w", id, err)
		}
		s.log.Info("Monitor cancelled for account disconnect",
			"workflow_id", id, "account_id", accountID)
	}
	return nil
}
