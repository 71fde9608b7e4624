package models

import (
	"testing"
	"time"
)

func boolPtr(b bool) *bool { return &b }

func TestOutreachStepNext(t *testing.T) {
	invitation := OutreachStep{
		Index:         1,
		Action:        ActionCheckInvitation,
		OnSuccess:     2,
		OnFailure:     StepTerminal,
		OnAccepted:    3,
		OnNotAccepted: 4,
	}

	tests := []struct {
		name     string
		step     OutreachStep
		outcome  StepOutcome
		accepted *bool
		want     int
	}{
		{
			name:    "success follows OnSuccess",
			step:    OutreachStep{Action: ActionVisitProfile, OnSuccess: 1, OnFailure: StepTerminal},
			outcome: StepOutcomeSuccess,
			want:    1,
		},
		{
			name:    "failure follows OnFailure",
			step:    OutreachStep{Action: ActionVisitProfile, OnSuccess: 1, OnFailure: 5},
			outcome: StepOutcomeFailed,
			want:    5,
		},
		{
			name:     "invitation accepted",
			step:     invitation,
			outcome:  StepOutcomeSuccess,
			accepted: boolPtr(true),
			want:     3,
		},
		{
			name:     "invitation not accepted",
			step:     invitation,
			outcome:  StepOutcomeSuccess,
			accepted: boolPtr(false),
			want:     4,
		},
		{
			name:    "invitation without decision follows OnSuccess",
			step:    invitation,
			outcome: StepOutcomeSuccess,
			want:    2,
		},
		{
			name: "invitation with terminal acceptance branches follows OnSuccess",
			step: OutreachStep{
				Action:        ActionCheckInvitation,
				OnSuccess:     2,
				OnAccepted:    StepTerminal,
				OnNotAccepted: StepTerminal,
			},
			outcome:  StepOutcomeSuccess,
			accepted: boolPtr(true),
			want:     2,
		},
		{
			name:     "acceptance decision ignored for other actions",
			step:     OutreachStep{Action: ActionSendFollowUp, OnSuccess: 6, OnAccepted: 3},
			outcome:  StepOutcomeSuccess,
			accepted: boolPtr(true),
			want:     6,
		},
		{
			name:     "failure wins over acceptance",
			step:     invitation,
			outcome:  StepOutcomeFailed,
			accepted: boolPtr(true),
			want:     StepTerminal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.step.Next(tt.outcome, tt.accepted); got != tt.want {
				t.Errorf("Next(%s, %v) = %d, want %d", tt.outcome, tt.accepted, got, tt.want)
			}
		})
	}
}

func TestOutreachPlanValidate(t *testing.T) {
	valid := NewLinearPlan("p1", []ActionType{ActionVisitProfile, ActionSendConnection}, time.Hour)

	tests := []struct {
		name    string
		mutate  func(*OutreachPlan)
		wantErr bool
	}{
		{"linear plan is valid", func(p *OutreachPlan) {}, false},
		{"empty plan", func(p *OutreachPlan) { p.Steps = nil }, true},
		{"non-positional index", func(p *OutreachPlan) { p.Steps[1].Index = 5 }, true},
		{"branch past end", func(p *OutreachPlan) { p.Steps[0].OnSuccess = 9 }, true},
		{"negative non-terminal branch", func(p *OutreachPlan) { p.Steps[0].OnFailure = -3 }, true},
		{"negative delay", func(p *OutreachPlan) { p.Steps[0].Delay = -time.Second }, true},
		{"self-loop is allowed", func(p *OutreachPlan) { p.Steps[0].OnFailure = 0 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := valid
			plan.Steps = make([]OutreachStep, len(valid.Steps))
			copy(plan.Steps, valid.Steps)
			tt.mutate(&plan)

			err := plan.Validate()
			if tt.wantErr && err == nil {
				t.Error("expected validation error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected validation error: %v", err)
			}
		})
	}
}

func TestNewLinearPlan(t *testing.T) {
	plan := NewLinearPlan("p1", []ActionType{ActionVisitProfile, ActionSendConnection, ActionSendFollowUp}, 48*time.Hour)

	if len(plan.Steps) != 3 {
		t.Fatalf("got %d steps, want 3", len(plan.Steps))
	}
	for i, step := range plan.Steps {
		if step.Index != i {
			t.Errorf("step %d has index %d", i, step.Index)
		}
		if step.Delay != 48*time.Hour {
			t.Errorf("step %d delay = %s", i, step.Delay)
		}
		if step.OnFailure != StepTerminal {
			t.Errorf("step %d OnFailure = %d, want terminal", i, step.OnFailure)
		}
	}
	if plan.Steps[0].OnSuccess != 1 || plan.Steps[1].OnSuccess != 2 {
		t.Error("linear plan does not chain steps in order")
	}
	if plan.Steps[2].OnSuccess != StepTerminal {
		t.Errorf("last step OnSuccess = %d, want terminal", plan.Steps[2].OnSuccess)
	}
}
