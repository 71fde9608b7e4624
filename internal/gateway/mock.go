package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Mock is an in-process Gateway for development and tests. Every method
// succeeds unless a hook overrides it; calls are recorded for assertions.
type Mock struct {
	mu    sync.Mutex
	calls []MockCall

	// Hooks override individual capabilities when set.
	VisitProfileFn    func(ctx context.Context, req VisitProfileRequest) (*ProfileSnapshot, error)
	SendConnectionFn  func(ctx context.Context, req ConnectionRequest) (*ActionResult, error)
	CheckInvitationFn func(ctx context.Context, req InvitationStatusRequest) (*InvitationStatus, error)
	SendFollowUpFn    func(ctx context.Context, req FollowUpRequest) (*ActionResult, error)
	WithdrawFn        func(ctx context.Context, req WithdrawInput) (*ActionResult, error)
	LikePostFn        func(ctx context.Context, req PostActionRequest) (*ActionResult, error)
	CommentPostFn     func(ctx context.Context, req CommentRequest) (*ActionResult, error)
	GetOwnProfileFn   func(ctx context.Context, req AccountRef) (*ProfileSnapshot, error)
}

// MockCall records one gateway invocation.
type MockCall struct {
	Capability string
	AccountID  string
	TargetRef  string
}

// NewMock creates a mock gateway.
func NewMock() *Mock {
	return &Mock{}
}

// Calls returns a copy of the recorded calls.
func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockCall, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *Mock) record(capability, accountID, targetRef string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockCall{Capability: capability, AccountID: accountID, TargetRef: targetRef})
}

func (m *Mock) VisitProfile(ctx context.Context, req VisitProfileRequest) (*ProfileSnapshot, error) {
	m.record("visitProfile", req.AccountID, req.ProfileRef)
	if m.VisitProfileFn != nil {
		return m.VisitProfileFn(ctx, req)
	}
	return defaultSnapshot(req.ProfileRef), nil
}

func (m *Mock) SendConnectionRequest(ctx context.Context, req ConnectionRequest) (*ActionResult, error) {
	m.record("sendConnectionRequest", req.AccountID, req.ProfileRef)
	if m.SendConnectionFn != nil {
		return m.SendConnectionFn(ctx, req)
	}
	return defaultResult(), nil
}

func (m *Mock) CheckInvitationStatus(ctx context.Context, req InvitationStatusRequest) (*InvitationStatus, error) {
	m.record("checkInvitationStatus", req.AccountID, req.ProfileRef)
	if m.CheckInvitationFn != nil {
		return m.CheckInvitationFn(ctx, req)
	}
	return &InvitationStatus{Accepted: true, CheckedAt: time.Now().UTC()}, nil
}

func (m *Mock) SendFollowUp(ctx context.Context, req FollowUpRequest) (*ActionResult, error) {
	m.record("sendFollowUp", req.AccountID, req.ProfileRef)
	if m.SendFollowUpFn != nil {
		return m.SendFollowUpFn(ctx, req)
	}
	return defaultResult(), nil
}

func (m *Mock) WithdrawRequest(ctx context.Context, req WithdrawInput) (*ActionResult, error) {
	m.record("withdrawRequest", req.AccountID, req.ProfileRef)
	if m.WithdrawFn != nil {
		return m.WithdrawFn(ctx, req)
	}
	return defaultResult(), nil
}

func (m *Mock) LikePost(ctx context.Context, req PostActionRequest) (*ActionResult, error) {
	m.record("likePost", req.AccountID, req.PostRef)
	if m.LikePostFn != nil {
		return m.LikePostFn(ctx, req)
	}
	return defaultResult(), nil
}

func (m *Mock) CommentPost(ctx context.Context, req CommentRequest) (*ActionResult, error) {
	m.record("commentPost", req.AccountID, req.PostRef)
	if m.CommentPostFn != nil {
		return m.CommentPostFn(ctx, req)
	}
	return defaultResult(), nil
}

func (m *Mock) GetOwnProfile(ctx context.Context, req AccountRef) (*ProfileSnapshot, error) {
	m.record("getOwnProfile", req.AccountID, "")
	if m.GetOwnProfileFn != nil {
		return m.GetOwnProfileFn(ctx, req)
	}
	return defaultSnapshot("self"), nil
}

func defaultSnapshot(ref string) *ProfileSnapshot {
	return &ProfileSnapshot{
		ProviderID: ref,
		FullName:   fmt.Sprintf("Profile %s", ref),
		Headline:   "Placeholder headline",
		FetchedAt:  time.Now().UTC(),
	}
}

func defaultResult() *ActionResult {
	return &ActionResult{
		ActionID:    uuid.New().String(),
		PerformedAt: time.Now().UTC(),
	}
}
