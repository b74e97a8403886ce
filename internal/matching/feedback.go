package matching

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerline/recon-engine/pkg/models"
)

// Feedback actions a reviewer can take on a match result.
const (
	FeedbackApprove = "approve"
	FeedbackReject  = "reject"
	FeedbackModify  = "modify"
)

// UserFeedback applies a review decision to a match result and appends
// a user_feedback audit event carrying the before/after status.
func (e *Engine) UserFeedback(ctx context.Context, matchResultID uuid.UUID, action string, actor models.Actor, notes string) (*models.MatchResult, error) {
	m, err := e.store.GetMatchResult(ctx, e.tenantID, matchResultID)
	if err != nil {
		return nil, fmt.Errorf("load match result: %w", err)
	}

	oldStatus := m.MatchStatus
	now := time.Now().UTC()
	m.ReviewedAt = &now
	m.RequiresReview = false

	switch action {
	case FeedbackApprove:
		m.MatchStatus = models.MatchStatusApproved
		m.ApprovedAt = &now
		m.ApprovedBy = actor.UserID
		m.ReviewNotes = notes
	case FeedbackReject:
		m.MatchStatus = models.MatchStatusRejected
		m.ApprovedAt = nil
		m.AutoApproved = false
		m.ReviewNotes = notes
	case FeedbackModify:
		m.MatchStatus = models.MatchStatusManualReview
		m.RequiresReview = true
		m.ReviewNotes = notes
	default:
		return nil, fmt.Errorf("unknown feedback action %q", action)
	}

	if err := e.store.UpdateMatchReview(ctx, m); err != nil {
		return nil, fmt.Errorf("update match result: %w", err)
	}

	if err := e.audit.Append(ctx, &models.AuditEvent{
		TenantID:         e.tenantID,
		MatchResultID:    m.ID,
		EventType:        models.EventUserFeedback,
		EventDescription: fmt.Sprintf("reviewer action: %s", action),
		DecisionFactors:  map[string]any{"action": action, "notes": notes},
		OldValues:        map[string]any{"match_status": oldStatus},
		NewValues:        map[string]any{"match_status": m.MatchStatus},
		Actor:            actor,
	}); err != nil {
		return nil, fmt.Errorf("append audit event: %w", err)
	}
	return m, nil
}
