package db

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ledgerline/recon-engine/pkg/models"
)

// LastEventHash returns the hash of the newest audit event for a match
// result, or "" for a fresh chain.
func (s *PostgresStore) LastEventHash(ctx context.Context, tenantID, matchResultID uuid.UUID) (string, error) {
	var hash string
	err := s.pool.QueryRow(ctx, `
		SELECT event_hash FROM audit_events
		WHERE tenant_id = $1 AND match_result_id = $2
		ORDER BY occurred_at DESC, id DESC
		LIMIT 1`, tenantID, matchResultID).Scan(&hash)
	if err == pgx.ErrNoRows {
		return "", nil
	}
	return hash, err
}

// InsertAuditEvent appends one event. The table is append-only; there
// is deliberately no update or delete counterpart.
func (s *PostgresStore) InsertAuditEvent(ctx context.Context, e *models.AuditEvent) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_events (id, tenant_id, match_result_id, event_type,
			event_description, decision_factors, algorithm_version, confidence_breakdown,
			old_values, new_values, actor_user_id, actor_role, actor_ip, actor_user_agent,
			occurred_at, event_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		e.ID, e.TenantID, e.MatchResultID, e.EventType,
		e.EventDescription, e.DecisionFactors, e.AlgorithmVersion, e.ConfidenceBreakdown,
		e.OldValues, e.NewValues, e.Actor.UserID, e.Actor.Role, e.Actor.IP, e.Actor.UserAgent,
		e.OccurredAt, e.EventHash)
	return err
}

// ListAuditEvents returns a match result's full chain in append order,
// the input to chain verification.
func (s *PostgresStore) ListAuditEvents(ctx context.Context, tenantID, matchResultID uuid.UUID) ([]models.AuditEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, tenant_id, match_result_id, event_type, event_description,
			decision_factors, algorithm_version, confidence_breakdown,
			old_values, new_values, actor_user_id, actor_role, actor_ip,
			actor_user_agent, occurred_at, event_hash
		FROM audit_events
		WHERE tenant_id = $1 AND match_result_id = $2
		ORDER BY occurred_at, id`, tenantID, matchResultID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]models.AuditEvent, 0)
	for rows.Next() {
		var e models.AuditEvent
		if err := rows.Scan(&e.ID, &e.TenantID, &e.MatchResultID, &e.EventType,
			&e.EventDescription, &e.DecisionFactors, &e.AlgorithmVersion,
			&e.ConfidenceBreakdown, &e.OldValues, &e.NewValues, &e.Actor.UserID,
			&e.Actor.Role, &e.Actor.IP, &e.Actor.UserAgent, &e.OccurredAt,
			&e.EventHash); err != nil {
			return nil, err
		}
		e.Actor.TenantID = e.TenantID
		events = append(events, e)
	}
	return events, rows.Err()
}
