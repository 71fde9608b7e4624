package workflows

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/converter"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"
	"go.temporal.io/sdk/workflow"

	"github.com/outflowhq/outflow/internal/gateway"
	"github.com/outflowhq/outflow/pkg/models"
)

// monitorHarness stubs the monitor activities and records alert and state
// writes for assertions.
type monitorHarness struct {
	env *testsuite.TestWorkflowEnvironment

	mu         sync.Mutex
	fetchCalls int
	alerts     []CreateAlertInput
	saved      []models.MonitorState

	fetch func(FetchSnapshotInput) (gateway.ProfileSnapshot, error)
}

func newMonitorHarness(t *testing.T, fetch func(FetchSnapshotInput) (gateway.ProfileSnapshot, error)) *monitorHarness {
	t.Helper()
	h := &monitorHarness{
		env:   (&testsuite.WorkflowTestSuite{}).NewTestWorkflowEnvironment(),
		fetch: fetch,
	}
	h.env.RegisterWorkflow(LeadMonitorWorkflow)
	h.env.RegisterWorkflow(CompanyMonitorWorkflow)

	h.env.RegisterActivityWithOptions(func(ctx context.Context, in FetchSnapshotInput) (gateway.ProfileSnapshot, error) {
		h.mu.Lock()
		h.fetchCalls++
		h.mu.Unlock()
		return h.fetch(in)
	}, activity.RegisterOptions{Name: "FetchProfileSnapshot"})

	h.env.RegisterActivityWithOptions(func(ctx context.Context, in CreateAlertInput) error {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.alerts = append(h.alerts, in)
		return nil
	}, activity.RegisterOptions{Name: "CreateMonitorAlert"})

	h.env.RegisterActivityWithOptions(func(ctx context.Context, state models.MonitorState) error {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.saved = append(h.saved, state)
		return nil
	}, activity.RegisterOptions{Name: "SaveMonitorState"})

	return h
}

// runExpectingRotation executes the workflow and decodes the input of the
// continue-as-new run every monitor ends with.
func (h *monitorHarness) runExpectingRotation(t *testing.T, wf interface{}, input MonitorWorkflowInput) MonitorWorkflowInput {
	t.Helper()
	h.env.ExecuteWorkflow(wf, input)

	if !h.env.IsWorkflowCompleted() {
		t.Fatal("monitor workflow did not complete")
	}
	err := h.env.GetWorkflowError()
	if err == nil {
		t.Fatal("expected a continue-as-new completion")
	}
	var canErr *workflow.ContinueAsNewError
	if !errors.As(err, &canErr) {
		t.Fatalf("expected continue-as-new, got %v", err)
	}

	var next MonitorWorkflowInput
	if err := converter.GetDefaultDataConverter().FromPayloads(canErr.Input, &next); err != nil {
		t.Fatalf("failed to decode continue-as-new input: %v", err)
	}
	return next
}

func (h *monitorHarness) fetchCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.fetchCalls
}

func (h *monitorHarness) alertList() []CreateAlertInput {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]CreateAlertInput, len(h.alerts))
	copy(out, h.alerts)
	return out
}

func monitorTestInput(policy MonitorPolicy) MonitorWorkflowInput {
	return MonitorWorkflowInput{
		State: models.MonitorState{
			EntityID:  "lead-7",
			OrgID:     "org-1",
			AccountID: "acct-1",
		},
		TargetRef: "profile-7",
		Policy:    policy,
	}
}

func snapshotFixture() gateway.ProfileSnapshot {
	return gateway.ProfileSnapshot{
		ProviderID: "p-7",
		FullName:   "Ada Example",
		Headline:   "Engineer at Acme",
		Company:    "Acme",
		Position:   "Engineer",
		Location:   "Berlin",
	}
}

func TestLeadMonitorWorkflow_FirstPollSeedsBaselineWithoutAlerts(t *testing.T) {
	snapshot := snapshotFixture()
	h := newMonitorHarness(t, func(in FetchSnapshotInput) (gateway.ProfileSnapshot, error) {
		return snapshot, nil
	})

	next := h.runExpectingRotation(t, LeadMonitorWorkflow, monitorTestInput(MonitorPolicy{
		PollInterval:        6 * time.Hour,
		FetchMaxAttempts:    3,
		MaxIterationsPerRun: 1,
	}))

	if got := len(h.alertList()); got != 0 {
		t.Errorf("first poll must not alert, got %d alerts", got)
	}
	if next.State.SnapshotHash != snapshot.Hash() {
		t.Error("baseline snapshot hash not carried into the next run")
	}
	if next.State.EntityType != models.MonitorEntityLead {
		t.Errorf("entity type = %s, want lead", next.State.EntityType)
	}
	if next.State.LastCheckedAt == nil {
		t.Error("LastCheckedAt not set after a successful poll")
	}
	if next.State.Generation != 0 {
		t.Errorf("generation = %d, want 0 without a rotate", next.State.Generation)
	}
}

func TestLeadMonitorWorkflow_ChangeEmitsClassifiedAlerts(t *testing.T) {
	before := snapshotFixture()
	after := before
	after.Company = "Globex"
	after.Headline = "Engineer at Globex"

	polls := 0
	h := newMonitorHarness(t, func(in FetchSnapshotInput) (gateway.ProfileSnapshot, error) {
		polls++
		if polls == 1 {
			return before, nil
		}
		return after, nil
	})

	next := h.runExpectingRotation(t, LeadMonitorWorkflow, monitorTestInput(MonitorPolicy{
		PollInterval:        6 * time.Hour,
		FetchMaxAttempts:    3,
		MaxIterationsPerRun: 2,
	}))

	alerts := h.alertList()
	if len(alerts) != 2 {
		t.Fatalf("expected 2 alerts, got %d: %+v", len(alerts), alerts)
	}
	// Fields alert in sorted order: company before headline.
	if alerts[0].Kind != "company_changed" {
		t.Errorf("alert 0 kind = %s, want company_changed", alerts[0].Kind)
	}
	if alerts[0].Priority != models.AlertPriorityHigh {
		t.Errorf("company change priority = %s, want high", alerts[0].Priority)
	}
	if alerts[1].Kind != "headline_changed" {
		t.Errorf("alert 1 kind = %s, want headline_changed", alerts[1].Kind)
	}
	if alerts[1].Priority != models.AlertPriorityMedium {
		t.Errorf("headline change priority = %s, want medium", alerts[1].Priority)
	}
	if alerts[0].OrgID != "org-1" || alerts[0].EntityID != "lead-7" {
		t.Errorf("alert misattributed: %+v", alerts[0])
	}

	if next.State.SnapshotHash != after.Hash() {
		t.Error("next run must diff against the fresh snapshot")
	}
}

func TestLeadMonitorWorkflow_UnchangedSnapshotStaysQuiet(t *testing.T) {
	snapshot := snapshotFixture()
	h := newMonitorHarness(t, func(in FetchSnapshotInput) (gateway.ProfileSnapshot, error) {
		return snapshot, nil
	})

	h.runExpectingRotation(t, LeadMonitorWorkflow, monitorTestInput(MonitorPolicy{
		PollInterval:        6 * time.Hour,
		FetchMaxAttempts:    3,
		MaxIterationsPerRun: 3,
	}))

	if got := h.fetchCount(); got != 3 {
		t.Errorf("expected 3 polls, got %d", got)
	}
	if got := len(h.alertList()); got != 0 {
		t.Errorf("unchanged profile must not alert, got %d alerts", got)
	}
}

func TestLeadMonitorWorkflow_RotateIncrementsGeneration(t *testing.T) {
	h := newMonitorHarness(t, func(in FetchSnapshotInput) (gateway.ProfileSnapshot, error) {
		return snapshotFixture(), nil
	})

	h.env.RegisterDelayedCallback(func() {
		h.env.SignalWorkflow(SignalRotateRun, nil)
	}, time.Hour)

	input := monitorTestInput(MonitorPolicy{
		PollInterval:        6 * time.Hour,
		FetchMaxAttempts:    3,
		MaxIterationsPerRun: 100,
	})
	input.State.Generation = 4

	next := h.runExpectingRotation(t, LeadMonitorWorkflow, input)

	if next.State.Generation != 5 {
		t.Errorf("generation = %d, want 5 after rotate", next.State.Generation)
	}
	if got := h.fetchCount(); got != 1 {
		t.Errorf("expected a single poll before the rotate, got %d", got)
	}
}

func TestLeadMonitorWorkflow_StartPausedDoesNotPoll(t *testing.T) {
	h := newMonitorHarness(t, func(in FetchSnapshotInput) (gateway.ProfileSnapshot, error) {
		return snapshotFixture(), nil
	})

	h.env.RegisterDelayedCallback(func() {
		if got := h.fetchCount(); got != 0 {
			t.Errorf("paused monitor polled %d times", got)
		}
		h.env.SignalWorkflow(ResumeMonitoringSignal(models.MonitorEntityLead), ResumeSignal{})
	}, 2*time.Hour)
	h.env.RegisterDelayedCallback(func() {
		h.env.SignalWorkflow(SignalRotateRun, nil)
	}, 4*time.Hour)

	input := monitorTestInput(MonitorPolicy{
		PollInterval:        6 * time.Hour,
		FetchMaxAttempts:    3,
		MaxIterationsPerRun: 100,
	})
	input.State.IsPaused = true

	next := h.runExpectingRotation(t, LeadMonitorWorkflow, input)

	if got := h.fetchCount(); got != 1 {
		t.Errorf("expected one poll after resume, got %d", got)
	}
	if next.State.IsPaused {
		t.Error("monitor must carry the resumed state forward")
	}
}

func TestLeadMonitorWorkflow_PauseSignalAndStatusQuery(t *testing.T) {
	h := newMonitorHarness(t, func(in FetchSnapshotInput) (gateway.ProfileSnapshot, error) {
		return snapshotFixture(), nil
	})

	query := MonitoringStatusQuery(models.MonitorEntityLead)

	h.env.RegisterDelayedCallback(func() {
		h.env.SignalWorkflow(PauseMonitoringSignal(models.MonitorEntityLead), PauseSignal{Reason: "account under review"})
	}, time.Hour)
	h.env.RegisterDelayedCallback(func() {
		val, err := h.env.QueryWorkflow(query)
		if err != nil {
			t.Fatalf("status query failed: %v", err)
		}
		var status models.MonitorStatus
		if err := val.Get(&status); err != nil {
			t.Fatalf("failed to decode status: %v", err)
		}
		if !status.IsPaused {
			t.Error("expected paused status")
		}
		if status.AccountID != "acct-1" {
			t.Errorf("status account = %s, want acct-1", status.AccountID)
		}
		if status.LastCheckedAt == nil {
			t.Error("expected LastCheckedAt from the poll before the pause")
		}
	}, 2*time.Hour)
	h.env.RegisterDelayedCallback(func() {
		h.env.SignalWorkflow(SignalRotateRun, nil)
	}, 3*time.Hour)

	next := h.runExpectingRotation(t, LeadMonitorWorkflow, monitorTestInput(MonitorPolicy{
		PollInterval:        6 * time.Hour,
		FetchMaxAttempts:    3,
		MaxIterationsPerRun: 100,
	}))

	if got := h.fetchCount(); got != 1 {
		t.Errorf("expected a single poll before the pause, got %d", got)
	}
	if !next.State.IsPaused {
		t.Error("pause must carry into the next run")
	}
}

func TestLeadMonitorWorkflow_PermanentFetchFailurePausesMonitor(t *testing.T) {
	h := newMonitorHarness(t, func(in FetchSnapshotInput) (gateway.ProfileSnapshot, error) {
		return gateway.ProfileSnapshot{}, temporal.NewNonRetryableApplicationError(
			"target profile gone", string(gateway.ErrCodeNotFound), nil)
	})

	h.env.RegisterDelayedCallback(func() {
		h.env.SignalWorkflow(SignalRotateRun, nil)
	}, 2*time.Hour)

	next := h.runExpectingRotation(t, LeadMonitorWorkflow, monitorTestInput(MonitorPolicy{
		PollInterval:        6 * time.Hour,
		FetchMaxAttempts:    3,
		MaxIterationsPerRun: 10,
	}))

	if got := h.fetchCount(); got != 1 {
		t.Errorf("permanent failure must not re-poll, got %d polls", got)
	}
	if !next.State.IsPaused {
		t.Error("permanent fetch failure must pause the monitor, not kill it")
	}
}

func TestLeadMonitorWorkflow_TransientFetchFailureSkipsPoll(t *testing.T) {
	h := newMonitorHarness(t, func(in FetchSnapshotInput) (gateway.ProfileSnapshot, error) {
		return gateway.ProfileSnapshot{}, temporal.NewApplicationError(
			"provider returned status 503", string(gateway.ErrCodeUnknown))
	})

	next := h.runExpectingRotation(t, LeadMonitorWorkflow, monitorTestInput(MonitorPolicy{
		PollInterval:        6 * time.Hour,
		FetchMaxAttempts:    2,
		MaxIterationsPerRun: 1,
	}))

	if next.State.IsPaused {
		t.Error("transient failure must not pause the monitor")
	}
	if next.State.SnapshotHash != "" {
		t.Error("skipped poll must not update the snapshot")
	}
	if got := len(h.alertList()); got != 0 {
		t.Errorf("skipped poll must not alert, got %d alerts", got)
	}
}

func TestCompanyMonitorWorkflow_SetsEntityType(t *testing.T) {
	h := newMonitorHarness(t, func(in FetchSnapshotInput) (gateway.ProfileSnapshot, error) {
		if in.EntityType != models.MonitorEntityCompany {
			t.Errorf("fetch entity type = %s, want company", in.EntityType)
		}
		return snapshotFixture(), nil
	})

	input := monitorTestInput(MonitorPolicy{
		PollInterval:        24 * time.Hour,
		FetchMaxAttempts:    3,
		MaxIterationsPerRun: 1,
	})
	input.State.EntityID = "acme"

	next := h.runExpectingRotation(t, CompanyMonitorWorkflow, input)

	if next.State.EntityType != models.MonitorEntityCompany {
		t.Errorf("entity type = %s, want company", next.State.EntityType)
	}
}
