// Package gateway wraps the outreach provider behind a capability interface
// with a uniform result and error contract. The orchestration core only ever
// talks to the provider through this package.
package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Gateway is the capability set the outreach provider exposes. Every call
// returns a structured payload or a typed *Error.
type Gateway interface {
	VisitProfile(ctx context.Context, req VisitProfileRequest) (*ProfileSnapshot, error)
	SendConnectionRequest(ctx context.Context, req ConnectionRequest) (*ActionResult, error)
	CheckInvitationStatus(ctx context.Context, req InvitationStatusRequest) (*InvitationStatus, error)
	SendFollowUp(ctx context.Context, req FollowUpRequest) (*ActionResult, error)
	WithdrawRequest(ctx context.Context, req WithdrawInput) (*ActionResult, error)
	LikePost(ctx context.Context, req PostActionRequest) (*ActionResult, error)
	CommentPost(ctx context.Context, req CommentRequest) (*ActionResult, error)
	GetOwnProfile(ctx context.Context, req AccountRef) (*ProfileSnapshot, error)
}

// AccountRef identifies a connected sending account.
type AccountRef struct {
	AccountID string `json:"accountId"`
}

// VisitProfileRequest asks the provider to open a profile page.
type VisitProfileRequest struct {
	AccountID  string `json:"accountId"`
	ProfileRef string `json:"profileRef"`
}

// ConnectionRequest sends a connection invite, optionally with a note.
type ConnectionRequest struct {
	AccountID  string `json:"accountId"`
	ProfileRef string `json:"profileRef"`
	Note       string `json:"note,omitempty"`
}

// InvitationStatusRequest checks whether a previously sent invite was accepted.
type InvitationStatusRequest struct {
	AccountID  string `json:"accountId"`
	ProfileRef string `json:"profileRef"`
}

// FollowUpRequest sends a direct message to an accepted connection.
type FollowUpRequest struct {
	AccountID  string `json:"accountId"`
	ProfileRef string `json:"profileRef"`
	Message    string `json:"message"`
}

// WithdrawInput withdraws a pending connection invite.
type WithdrawInput struct {
	AccountID  string `json:"accountId"`
	ProfileRef string `json:"profileRef"`
}

// PostActionRequest targets a post for a like.
type PostActionRequest struct {
	AccountID string `json:"accountId"`
	PostRef   string `json:"postRef"`
}

// CommentRequest posts a comment.
type CommentRequest struct {
	AccountID string `json:"accountId"`
	PostRef   string `json:"postRef"`
	Text      string `json:"text"`
}

// ActionResult is the uniform success payload for fire-and-forget actions.
type ActionResult struct {
	ActionID    string    `json:"actionId"`
	Detail      string    `json:"detail,omitempty"`
	PerformedAt time.Time `json:"performedAt"`
}

// InvitationStatus reports the state of a sent invite.
type InvitationStatus struct {
	Accepted  bool      `json:"accepted"`
	Pending   bool      `json:"pending"`
	CheckedAt time.Time `json:"checkedAt"`
}

// ProfileSnapshot is the provider's view of a profile at one point in time.
// Monitors diff consecutive snapshots to detect changes.
type ProfileSnapshot struct {
	ProviderID string    `json:"providerId"`
	FullName   string    `json:"fullName"`
	Headline   string    `json:"headline,omitempty"`
	Company    string    `json:"company,omitempty"`
	Position   string    `json:"position,omitempty"`
	Location   string    `json:"location,omitempty"`
	PictureURL string    `json:"pictureUrl,omitempty"`
	FetchedAt  time.Time `json:"fetchedAt"`
}

// Fields returns the snapshot's comparable fields. FetchedAt and ProviderID
// are excluded; they change without the profile changing.
func (s *ProfileSnapshot) Fields() map[string]string {
	return map[string]string{
		"full_name":   s.FullName,
		"headline":    s.Headline,
		"company":     s.Company,
		"position":    s.Position,
		"location":    s.Location,
		"picture_url": s.PictureURL,
	}
}

// Hash returns a stable digest of the comparable fields.
func (s *ProfileSnapshot) Hash() string {
	fields := s.Fields()
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%s\n", k, fields[k])
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
