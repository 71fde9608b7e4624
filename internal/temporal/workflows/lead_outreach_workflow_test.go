package workflows

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"github.com/outflowhq/outflow/internal/gateway"
	"github.com/outflowhq/outflow/pkg/models"
)

func testOutreachPolicy() OutreachPolicy {
	return OutreachPolicy{
		MaxStepAttempts:   3,
		StepTimeout:       time.Minute,
		RetryInitialDelay: time.Second,
		RetryMaxDelay:     10 * time.Second,
	}
}

// leadRecorder captures the persistence and step activity calls a lead
// outreach run makes, so tests can assert on execution order and terminal
// state without a database.
type leadRecorder struct {
	mu        sync.Mutex
	steps     []models.ActionType
	outcomes  []RecordStepOutcomeInput
	terminals []MarkLeadTerminalInput
}

func (r *leadRecorder) recordStep(action models.ActionType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, action)
}

func (r *leadRecorder) Steps() []models.ActionType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.ActionType, len(r.steps))
	copy(out, r.steps)
	return out
}

func (r *leadRecorder) LastTerminal() (MarkLeadTerminalInput, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.terminals) == 0 {
		return MarkLeadTerminalInput{}, false
	}
	return r.terminals[len(r.terminals)-1], true
}

// registerLeadStubs registers the persistence activities under their worker
// names and the step executor with per-action behavior.
func registerLeadStubs(env *testsuite.TestWorkflowEnvironment, rec *leadRecorder, execute func(ExecuteStepInput) (*ExecuteStepOutput, error)) {
	env.RegisterActivityWithOptions(func(ctx context.Context, in ExecuteStepInput) (*ExecuteStepOutput, error) {
		rec.recordStep(in.Step.Action)
		return execute(in)
	}, activity.RegisterOptions{Name: "ExecuteOutreachStep"})

	env.RegisterActivityWithOptions(func(ctx context.Context, in RecordStepOutcomeInput) error {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		rec.outcomes = append(rec.outcomes, in)
		return nil
	}, activity.RegisterOptions{Name: "RecordLeadStepOutcome"})

	env.RegisterActivityWithOptions(func(ctx context.Context, in MarkLeadTerminalInput) error {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		rec.terminals = append(rec.terminals, in)
		return nil
	}, activity.RegisterOptions{Name: "MarkLeadTerminal"})
}

func runLeadWorkflow(t *testing.T, env *testsuite.TestWorkflowEnvironment, input LeadOutreachInput) LeadOutreachResult {
	t.Helper()
	env.RegisterWorkflow(LeadOutreachWorkflow)
	env.ExecuteWorkflow(LeadOutreachWorkflow, input)

	if !env.IsWorkflowCompleted() {
		t.Fatal("workflow did not complete")
	}
	if err := env.GetWorkflowError(); err != nil {
		t.Fatalf("workflow error: %v", err)
	}
	var result LeadOutreachResult
	if err := env.GetWorkflowResult(&result); err != nil {
		t.Fatalf("failed to decode result: %v", err)
	}
	return result
}

func leadInput(plan models.OutreachPlan) LeadOutreachInput {
	return LeadOutreachInput{
		CampaignID: "camp-1",
		OrgID:      "org-1",
		AccountID:  "acct-1",
		LeadID:     "lead-1",
		TargetRef:  "profile-1",
		Plan:       plan,
		Policy:     testOutreachPolicy(),
	}
}

func TestLeadOutreachWorkflow_CompletesLinearPlan(t *testing.T) {
	env := (&testsuite.WorkflowTestSuite{}).NewTestWorkflowEnvironment()
	rec := &leadRecorder{}
	registerLeadStubs(env, rec, func(in ExecuteStepInput) (*ExecuteStepOutput, error) {
		return &ExecuteStepOutput{Outcome: models.StepOutcomeSuccess}, nil
	})

	actions := []models.ActionType{models.ActionVisitProfile, models.ActionSendConnection, models.ActionSendFollowUp}
	result := runLeadWorkflow(t, env, leadInput(models.NewLinearPlan("p1", actions, 48*time.Hour)))

	if result.Status != LeadStatusCompleted {
		t.Errorf("expected status completed, got %s", result.Status)
	}
	if result.StepsRun != 3 {
		t.Errorf("expected 3 steps run, got %d", result.StepsRun)
	}

	steps := rec.Steps()
	if len(steps) != 3 {
		t.Fatalf("expected 3 executed steps, got %d", len(steps))
	}
	for i, action := range actions {
		if steps[i] != action {
			t.Errorf("step %d: expected %s, got %s", i, action, steps[i])
		}
	}

	terminal, ok := rec.LastTerminal()
	if !ok {
		t.Fatal("terminal status was never persisted")
	}
	if terminal.Status != LeadStatusCompleted {
		t.Errorf("persisted terminal status = %s, want completed", terminal.Status)
	}
}

func TestLeadOutreachWorkflow_AcceptanceBranches(t *testing.T) {
	// 0: send_connection -> 1: check_invitation -> accepted 2 / not accepted 3.
	branchingPlan := models.OutreachPlan{
		ID:      "p-branch",
		Version: 1,
		Steps: []models.OutreachStep{
			{Index: 0, Action: models.ActionSendConnection, OnSuccess: 1, OnFailure: models.StepTerminal, OnAccepted: models.StepTerminal, OnNotAccepted: models.StepTerminal},
			{Index: 1, Action: models.ActionCheckInvitation, OnSuccess: 2, OnFailure: models.StepTerminal, OnAccepted: 2, OnNotAccepted: 3},
			{Index: 2, Action: models.ActionSendFollowUp, OnSuccess: models.StepTerminal, OnFailure: models.StepTerminal, OnAccepted: models.StepTerminal, OnNotAccepted: models.StepTerminal},
			{Index: 3, Action: models.ActionWithdrawRequest, OnSuccess: models.StepTerminal, OnFailure: models.StepTerminal, OnAccepted: models.StepTerminal, OnNotAccepted: models.StepTerminal},
		},
	}

	tests := []struct {
		name       string
		accepted   bool
		wantAction models.ActionType
		skipAction models.ActionType
	}{
		{"accepted invitation follows up", true, models.ActionSendFollowUp, models.ActionWithdrawRequest},
		{"ignored invitation is withdrawn", false, models.ActionWithdrawRequest, models.ActionSendFollowUp},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := (&testsuite.WorkflowTestSuite{}).NewTestWorkflowEnvironment()
			rec := &leadRecorder{}
			accepted := tt.accepted
			registerLeadStubs(env, rec, func(in ExecuteStepInput) (*ExecuteStepOutput, error) {
				out := &ExecuteStepOutput{Outcome: models.StepOutcomeSuccess}
				if in.Step.Action == models.ActionCheckInvitation {
					out.Accepted = &accepted
				}
				return out, nil
			})

			result := runLeadWorkflow(t, env, leadInput(branchingPlan))
			if result.Status != LeadStatusCompleted {
				t.Errorf("expected status completed, got %s", result.Status)
			}

			var sawWant, sawSkip bool
			for _, action := range rec.Steps() {
				if action == tt.wantAction {
					sawWant = true
				}
				if action == tt.skipAction {
					sawSkip = true
				}
			}
			if !sawWant {
				t.Errorf("expected %s to execute", tt.wantAction)
			}
			if sawSkip {
				t.Errorf("expected %s to be skipped", tt.skipAction)
			}
		})
	}
}

func TestLeadOutreachWorkflow_TransientFailureTakesFailureBranch(t *testing.T) {
	// 0: send_connection, on failure falls back to 1: visit_profile.
	plan := models.OutreachPlan{
		ID:      "p-fallback",
		Version: 1,
		Steps: []models.OutreachStep{
			{Index: 0, Action: models.ActionSendConnection, OnSuccess: models.StepTerminal, OnFailure: 1, OnAccepted: models.StepTerminal, OnNotAccepted: models.StepTerminal},
			{Index: 1, Action: models.ActionVisitProfile, OnSuccess: models.StepTerminal, OnFailure: models.StepTerminal, OnAccepted: models.StepTerminal, OnNotAccepted: models.StepTerminal},
		},
	}

	env := (&testsuite.WorkflowTestSuite{}).NewTestWorkflowEnvironment()
	rec := &leadRecorder{}
	attempts := 0
	registerLeadStubs(env, rec, func(in ExecuteStepInput) (*ExecuteStepOutput, error) {
		if in.Step.Action == models.ActionSendConnection {
			attempts++
			return nil, temporal.NewApplicationError("provider returned status 502", string(gateway.ErrCodeUnknown))
		}
		return &ExecuteStepOutput{Outcome: models.StepOutcomeSuccess}, nil
	})

	result := runLeadWorkflow(t, env, leadInput(plan))

	if attempts != testOutreachPolicy().MaxStepAttempts {
		t.Errorf("expected %d attempts before the failure branch, got %d", testOutreachPolicy().MaxStepAttempts, attempts)
	}
	if result.Status != LeadStatusCompleted {
		t.Errorf("expected failure branch to recover to completed, got %s", result.Status)
	}
	steps := rec.Steps()
	if steps[len(steps)-1] != models.ActionVisitProfile {
		t.Errorf("expected visit_profile fallback to run, got %v", steps)
	}

	rec.mu.Lock()
	firstOutcome := rec.outcomes[0]
	rec.mu.Unlock()
	if firstOutcome.Outcome != models.StepOutcomeFailed {
		t.Errorf("expected step 0 recorded as failed, got %s", firstOutcome.Outcome)
	}
	if firstOutcome.NextStepIndex != 1 {
		t.Errorf("expected cursor advanced to failure branch 1, got %d", firstOutcome.NextStepIndex)
	}
}

func TestLeadOutreachWorkflow_ExhaustedRetriesWithTerminalFailureBranch(t *testing.T) {
	env := (&testsuite.WorkflowTestSuite{}).NewTestWorkflowEnvironment()
	rec := &leadRecorder{}
	registerLeadStubs(env, rec, func(in ExecuteStepInput) (*ExecuteStepOutput, error) {
		return nil, temporal.NewApplicationError("provider returned status 500", string(gateway.ErrCodeUnknown))
	})

	plan := models.NewLinearPlan("p1", []models.ActionType{models.ActionSendConnection, models.ActionSendFollowUp}, time.Hour)
	result := runLeadWorkflow(t, env, leadInput(plan))

	if result.Status != LeadStatusFailed {
		t.Errorf("expected status failed, got %s", result.Status)
	}
	if result.FailureCode != "step_failed" {
		t.Errorf("expected failure code step_failed, got %s", result.FailureCode)
	}
	if result.StepsRun != 1 {
		t.Errorf("expected 1 step run, got %d", result.StepsRun)
	}
}

func TestLeadOutreachWorkflow_NotFoundIsTerminalWithoutRetry(t *testing.T) {
	env := (&testsuite.WorkflowTestSuite{}).NewTestWorkflowEnvironment()
	rec := &leadRecorder{}
	attempts := 0
	registerLeadStubs(env, rec, func(in ExecuteStepInput) (*ExecuteStepOutput, error) {
		attempts++
		return nil, temporal.NewNonRetryableApplicationError("target profile gone", string(gateway.ErrCodeNotFound), nil)
	})

	plan := models.NewLinearPlan("p1", []models.ActionType{models.ActionVisitProfile, models.ActionSendConnection}, time.Hour)
	result := runLeadWorkflow(t, env, leadInput(plan))

	if attempts != 1 {
		t.Errorf("permanent failure must not retry, got %d attempts", attempts)
	}
	if result.Status != LeadStatusFailed {
		t.Errorf("expected status failed, got %s", result.Status)
	}
	if result.FailureCode != string(gateway.ErrCodeNotFound) {
		t.Errorf("expected failure code not_found, got %s", result.FailureCode)
	}
	if result.AccountDisconnected {
		t.Error("not_found must not flag the account as disconnected")
	}

	terminal, ok := rec.LastTerminal()
	if !ok {
		t.Fatal("terminal status was never persisted")
	}
	if terminal.Status != LeadStatusFailed {
		t.Errorf("persisted terminal status = %s, want failed", terminal.Status)
	}
}

func TestLeadOutreachWorkflow_DisconnectedAccountFlagsParent(t *testing.T) {
	env := (&testsuite.WorkflowTestSuite{}).NewTestWorkflowEnvironment()
	rec := &leadRecorder{}
	registerLeadStubs(env, rec, func(in ExecuteStepInput) (*ExecuteStepOutput, error) {
		return nil, temporal.NewNonRetryableApplicationError("session revoked", string(gateway.ErrCodeDisconnectedAccount), nil)
	})

	plan := models.NewLinearPlan("p1", []models.ActionType{models.ActionSendConnection}, 0)
	result := runLeadWorkflow(t, env, leadInput(plan))

	if result.Status != LeadStatusFailed {
		t.Errorf("expected status failed, got %s", result.Status)
	}
	if !result.AccountDisconnected {
		t.Error("expected AccountDisconnected to be set")
	}
	if result.FailureCode != string(gateway.ErrCodeDisconnectedAccount) {
		t.Errorf("expected failure code disconnected_account, got %s", result.FailureCode)
	}
}

func TestLeadOutreachWorkflow_InvalidPlanFailsWithoutExecuting(t *testing.T) {
	env := (&testsuite.WorkflowTestSuite{}).NewTestWorkflowEnvironment()
	rec := &leadRecorder{}
	registerLeadStubs(env, rec, func(in ExecuteStepInput) (*ExecuteStepOutput, error) {
		return &ExecuteStepOutput{Outcome: models.StepOutcomeSuccess}, nil
	})

	plan := models.NewLinearPlan("p1", []models.ActionType{models.ActionVisitProfile}, 0)
	plan.Steps[0].OnSuccess = 7 // dangling branch

	result := runLeadWorkflow(t, env, leadInput(plan))

	if result.Status != LeadStatusFailed {
		t.Errorf("expected status failed, got %s", result.Status)
	}
	if result.FailureCode != "invalid_plan" {
		t.Errorf("expected failure code invalid_plan, got %s", result.FailureCode)
	}
	if len(rec.Steps()) != 0 {
		t.Errorf("expected no steps executed, got %d", len(rec.Steps()))
	}
}

func TestLeadOutreachWorkflow_StopWakesInterStepDelay(t *testing.T) {
	env := (&testsuite.WorkflowTestSuite{}).NewTestWorkflowEnvironment()
	rec := &leadRecorder{}
	registerLeadStubs(env, rec, func(in ExecuteStepInput) (*ExecuteStepOutput, error) {
		return &ExecuteStepOutput{Outcome: models.StepOutcomeSuccess}, nil
	})

	// Stop lands while the lead sleeps between step 0 and step 1.
	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalLeadStop, StopSignal{Reason: "operator stop"})
	}, 30*time.Minute)

	plan := models.NewLinearPlan("p1", []models.ActionType{models.ActionVisitProfile, models.ActionSendConnection}, time.Hour)
	result := runLeadWorkflow(t, env, leadInput(plan))

	if result.Status != LeadStatusStopped {
		t.Errorf("expected status stopped, got %s", result.Status)
	}
	if got := len(rec.Steps()); got != 1 {
		t.Errorf("expected only the first step to run, got %d", got)
	}
}

func TestLeadOutreachWorkflow_PauseHoldsNextStep(t *testing.T) {
	env := (&testsuite.WorkflowTestSuite{}).NewTestWorkflowEnvironment()
	rec := &leadRecorder{}
	registerLeadStubs(env, rec, func(in ExecuteStepInput) (*ExecuteStepOutput, error) {
		return &ExecuteStepOutput{Outcome: models.StepOutcomeSuccess}, nil
	})

	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalLeadPause, PauseSignal{Reason: "campaign paused"})
	}, 30*time.Minute)
	env.RegisterDelayedCallback(func() {
		// Well past the 1h inter-step delay; step 1 must not have run.
		if got := len(rec.Steps()); got != 1 {
			t.Errorf("expected step 1 held while paused, got %d steps", got)
		}
		env.SignalWorkflow(SignalLeadResume, ResumeSignal{})
	}, 5*time.Hour)

	plan := models.NewLinearPlan("p1", []models.ActionType{models.ActionVisitProfile, models.ActionSendConnection}, time.Hour)
	result := runLeadWorkflow(t, env, leadInput(plan))

	if result.Status != LeadStatusCompleted {
		t.Errorf("expected status completed after resume, got %s", result.Status)
	}
	if got := len(rec.Steps()); got != 2 {
		t.Errorf("expected both steps to run, got %d", got)
	}
}
