package models

import (
	"fmt"
	"time"
)

// ActionType identifies one outreach provider capability. The same values key
// the per-account rate-limit windows.
type ActionType string

const (
	ActionVisitProfile    ActionType = "visit_profile"
	ActionSendConnection  ActionType = "send_connection"
	ActionCheckInvitation ActionType = "check_invitation"
	ActionSendFollowUp    ActionType = "send_follow_up"
	ActionWithdrawRequest ActionType = "withdraw_request"
	ActionLikePost        ActionType = "like_post"
	ActionCommentPost     ActionType = "comment_post"
)

// StepOutcome is the recorded result of executing one plan step.
type StepOutcome string

const (
	StepOutcomeSuccess StepOutcome = "success"
	StepOutcomeFailed  StepOutcome = "failed"
	StepOutcomeSkipped StepOutcome = "skipped"
)

// StepTerminal marks a branch target that ends the lead's outreach path.
const StepTerminal = -1

// OutreachStep is one entry in an outreach plan. Branch targets are indices
// into the plan's step slice; StepTerminal ends the sequence.
type OutreachStep struct {
	Index  int               `json:"index"`
	Action ActionType        `json:"action"`
	Config map[string]string `json:"config,omitempty"`

	// Delay is the wait applied after this step before the branch target
	// runs. It can span days and must survive process restarts.
	Delay time.Duration `json:"delay"`

	OnSuccess int `json:"onSuccess"`
	OnFailure int `json:"onFailure"`

	// Acceptance branches apply to check_invitation steps only. When both
	// are StepTerminal the OnSuccess branch is used regardless of the
	// invitation outcome.
	OnAccepted    int `json:"onAccepted"`
	OnNotAccepted int `json:"onNotAccepted"`
}

// Next returns the index of the step that follows this one for the given
// outcome. accepted carries the invitation decision for check_invitation
// steps and is ignored otherwise.
func (s OutreachStep) Next(outcome StepOutcome, accepted *bool) int {
	if outcome == StepOutcomeFailed {
		return s.OnFailure
	}
	if s.Action == ActionCheckInvitation && accepted != nil {
		if *accepted && s.OnAccepted != StepTerminal {
			return s.OnAccepted
		}
		if !*accepted && s.OnNotAccepted != StepTerminal {
			return s.OnNotAccepted
		}
	}
	return s.OnSuccess
}

// OutreachPlan is the ordered, immutable step sequence a campaign walks per
// lead. Plans are read once at workflow start; editing a campaign means
// starting a new execution, never patching a running one.
type OutreachPlan struct {
	ID      string         `json:"id"`
	Version int            `json:"version"`
	Steps   []OutreachStep `json:"steps"`
}

// Validate checks that every branch target is either StepTerminal or a valid
// step index, and that step indices are positional.
func (p OutreachPlan) Validate() error {
	if len(p.Steps) == 0 {
		return fmt.Errorf("plan %s has no steps", p.ID)
	}
	for i, step := range p.Steps {
		if step.Index != i {
			return fmt.Errorf("plan %s: step at position %d has index %d", p.ID, i, step.Index)
		}
		for _, target := range []int{step.OnSuccess, step.OnFailure, step.OnAccepted, step.OnNotAccepted} {
			if target == StepTerminal {
				continue
			}
			if target < 0 || target >= len(p.Steps) {
				return fmt.Errorf("plan %s: step %d branches to invalid index %d", p.ID, i, target)
			}
		}
		if step.Delay < 0 {
			return fmt.Errorf("plan %s: step %d has negative delay", p.ID, i)
		}
	}
	return nil
}

// NewLinearPlan builds a plan that runs the given actions in order with a
// uniform inter-step delay. Failure of any step ends the sequence.
func NewLinearPlan(id string, actions []ActionType, delay time.Duration) OutreachPlan {
	steps := make([]OutreachStep, len(actions))
	for i, action := range actions {
		next := i + 1
		if next == len(actions) {
			next = StepTerminal
		}
		steps[i] = OutreachStep{
			Index:         i,
			Action:        action,
			Delay:         delay,
			OnSuccess:     next,
			OnFailure:     StepTerminal,
			OnAccepted:    StepTerminal,
			OnNotAccepted: StepTerminal,
		}
	}
	return OutreachPlan{ID: id, Version: 1, Steps: steps}
}

// LeadOutreachState is the per-lead cursor. It is owned exclusively by one
// lead outreach workflow instance; nothing else writes it.
type LeadOutreachState struct {
	LeadID           string      `json:"leadId" db:"lead_id"`
	CampaignID       string      `json:"campaignId" db:"campaign_id"`
	CurrentStepIndex int         `json:"currentStepIndex" db:"current_step_index"`
	LastOutcome      StepOutcome `json:"lastOutcome,omitempty" db:"last_outcome"`
	LastOutcomeAt    *time.Time  `json:"lastOutcomeAt,omitempty" db:"last_outcome_at"`
	NextEligibleAt   *time.Time  `json:"nextEligibleAt,omitempty" db:"next_eligible_at"`
	Terminal         bool        `json:"terminal" db:"terminal"`
	TerminalReason   string      `json:"terminalReason,omitempty" db:"terminal_reason"`
}
