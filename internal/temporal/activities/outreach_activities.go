package activities

import (
	"context"
	"errors"
	"fmt"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/outflowhq/outflow/internal/gateway"
	"github.com/outflowhq/outflow/internal/temporal/workflows"
	"github.com/outflowhq/outflow/pkg/models"
)

// ExecuteOutreachStep performs one outreach plan step: check-and-consume the
// account's rate-limit budget, invoke the matching gateway capability, and
// classify any failure before it crosses the activity boundary.
//
// Classification contract: the error's application type carries the gateway
// error code. disconnected_account and not_found are non-retryable; the
// workflow's retry policy handles everything else.
func (a *Activities) ExecuteOutreachStep(ctx context.Context, input workflows.ExecuteStepInput) (*workflows.ExecuteStepOutput, error) {
	info := activity.GetInfo(ctx)
	a.log.Info("Executing outreach step",
		"campaign_id", input.CampaignID,
		"lead_id", input.LeadID,
		"step", input.Step.Index,
		"action", input.Step.Action,
		"attempt", info.Attempt,
	)

	decision, err := a.limiter.CheckAndConsume(ctx, input.AccountID, input.Step.Action)
	if err != nil {
		return nil, fmt.Errorf("rate limit check failed: %w", err)
	}
	if !decision.Allowed {
		a.log.Warn("Rate limit exhausted, rescheduling step",
			"account_id", input.AccountID,
			"action", input.Step.Action,
			"retry_after", decision.RetryAfter,
		)
		// Denied budget is a transient condition: the retry wakes up when
		// the window resets, it never fails the lead.
		return nil, temporal.NewApplicationErrorWithOptions(
			fmt.Sprintf("rate limit exhausted for %s", input.Step.Action),
			string(gateway.ErrCodeRateLimited),
			temporal.ApplicationErrorOptions{NextRetryDelay: decision.RetryAfter},
		)
	}

	out, err := a.performAction(ctx, input)
	if err != nil {
		return nil, classifyGatewayError(err)
	}
	return out, nil
}

// performAction dispatches a plan step onto the gateway capability it names.
func (a *Activities) performAction(ctx context.Context, input workflows.ExecuteStepInput) (*workflows.ExecuteStepOutput, error) {
	accountID, target := input.AccountID, input.TargetRef
	cfg := input.Step.Config

	switch input.Step.Action {
	case models.ActionVisitProfile:
		snap, err := a.gw.VisitProfile(ctx, gateway.VisitProfileRequest{AccountID: accountID, ProfileRef: target})
		if err != nil {
			return nil, err
		}
		return &workflows.ExecuteStepOutput{
			Outcome: models.StepOutcomeSuccess,
			Detail:  fmt.Sprintf("visited %s", snap.ProviderID),
		}, nil

	case models.ActionSendConnection:
		res, err := a.gw.SendConnectionRequest(ctx, gateway.ConnectionRequest{
			AccountID:  accountID,
			ProfileRef: target,
			Note:       cfg["note"],
		})
		if err != nil {
			return nil, err
		}
		return &workflows.ExecuteStepOutput{Outcome: models.StepOutcomeSuccess, Detail: res.Detail}, nil

	case models.ActionCheckInvitation:
		st, err := a.gw.CheckInvitationStatus(ctx, gateway.InvitationStatusRequest{AccountID: accountID, ProfileRef: target})
		if err != nil {
			return nil, err
		}
		accepted := st.Accepted
		return &workflows.ExecuteStepOutput{
			Outcome:  models.StepOutcomeSuccess,
			Accepted: &accepted,
		}, nil

	case models.ActionSendFollowUp:
		res, err := a.gw.SendFollowUp(ctx, gateway.FollowUpRequest{
			AccountID:  accountID,
			ProfileRef: target,
			Message:    cfg["message"],
		})
		if err != nil {
			return nil, err
		}
		return &workflows.ExecuteStepOutput{Outcome: models.StepOutcomeSuccess, Detail: res.Detail}, nil

	case models.ActionWithdrawRequest:
		res, err := a.gw.WithdrawRequest(ctx, gateway.WithdrawInput{AccountID: accountID, ProfileRef: target})
		if err != nil {
			return nil, err
		}
		return &workflows.ExecuteStepOutput{Outcome: models.StepOutcomeSuccess, Detail: res.Detail}, nil

	case models.ActionLikePost:
		res, err := a.gw.LikePost(ctx, gateway.PostActionRequest{AccountID: accountID, PostRef: postRef(cfg, target)})
		if err != nil {
			return nil, err
		}
		return &workflows.ExecuteStepOutput{Outcome: models.StepOutcomeSuccess, Detail: res.Detail}, nil

	case models.ActionCommentPost:
		res, err := a.gw.CommentPost(ctx, gateway.CommentRequest{
			AccountID: accountID,
			PostRef:   postRef(cfg, target),
			Text:      cfg["text"],
		})
		if err != nil {
			return nil, err
		}
		return &workflows.ExecuteStepOutput{Outcome: models.StepOutcomeSuccess, Detail: res.Detail}, nil

	default:
		return nil, temporal.NewNonRetryableApplicationError(
			fmt.Sprintf("unknown action type %q", input.Step.Action),
			string(gateway.ErrCodeUnknown), nil)
	}
}

func postRef(cfg map[string]string, fallback string) string {
	if ref, ok := cfg["post_ref"]; ok && ref != "" {
		return ref
	}
	return fallback
}

// classifyGatewayError maps a typed gateway error onto a Temporal
// application error whose type is the gateway error code.
func classifyGatewayError(err error) error {
	var gwErr *gateway.Error
	if !errors.As(err, &gwErr) {
		return fmt.Errorf("gateway call failed: %w", err)
	}

	switch {
	case gateway.IsPermanent(gwErr):
		return temporal.NewNonRetryableApplicationError(gwErr.Message, string(gwErr.Code), gwErr)
	case gwErr.Code == gateway.ErrCodeRateLimited:
		return temporal.NewApplicationErrorWithOptions(gwErr.Message, string(gwErr.Code),
			temporal.ApplicationErrorOptions{NextRetryDelay: gwErr.RetryAfter})
	default:
		return temporal.NewApplicationError(gwErr.Message, string(gwErr.Code))
	}
}
