// Package audit maintains the tamper-evident event log for match
// results. Every event for a match result links to its predecessor via a
// SHA-256 hash over a canonical JSON rendering, so any mutation of a
// stored event breaks the chain from that point on.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ledgerline/recon-engine/pkg/models"
)

// AlgorithmVersion is stamped on every event the matching engines emit.
const AlgorithmVersion = "2.3"

// Store is the persistence surface the audit logger needs. The relational
// implementation must keep audit_events append-only.
type Store interface {
	// LastEventHash returns the most recent event hash for the match
	// result, or "" when the chain is empty.
	LastEventHash(ctx context.Context, tenantID, matchResultID uuid.UUID) (string, error)
	InsertAuditEvent(ctx context.Context, ev *models.AuditEvent) error
}

// Logger appends hash-chained audit events. Writes for the same match
// result are serialized through a per-key mutex so the chain never forks.
type Logger struct {
	store Store
	log   *zap.Logger

	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

// NewLogger builds an audit logger over the given store.
func NewLogger(store Store, log *zap.Logger) *Logger {
	return &Logger{
		store: store,
		log:   log,
		locks: make(map[uuid.UUID]*sync.Mutex),
	}
}

// ComputeEventHash derives the chain hash for one event:
//
//	sha256_hex(stable_json({event_type, decision_factors, occurred_at_iso, prior_hash}))
//
// encoding/json renders map keys in sorted order, which gives the stable
// canonical form the chain depends on.
func ComputeEventHash(eventType string, decisionFactors map[string]any, occurredAt time.Time, priorHash string) (string, error) {
	canonical, err := json.Marshal(map[string]any{
		"event_type":       eventType,
		"decision_factors": decisionFactors,
		"occurred_at":      occurredAt.UTC().Format(time.RFC3339Nano),
		"prior_hash":       priorHash,
	})
	if err != nil {
		return "", fmt.Errorf("canonicalize audit event: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// Append computes the event hash from the stored predecessor and persists
// the event. The event's ID, OccurredAt and EventHash fields are filled
// in here.
func (l *Logger) Append(ctx context.Context, ev *models.AuditEvent) error {
	lock := l.lockFor(ev.MatchResultID)
	lock.Lock()
	defer lock.Unlock()

	prior, err := l.store.LastEventHash(ctx, ev.TenantID, ev.MatchResultID)
	if err != nil {
		return fmt.Errorf("load prior event hash: %w", err)
	}

	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	if ev.AlgorithmVersion == "" {
		ev.AlgorithmVersion = AlgorithmVersion
	}

	hash, err := ComputeEventHash(ev.EventType, ev.DecisionFactors, ev.OccurredAt, prior)
	if err != nil {
		return err
	}
	ev.EventHash = hash

	if err := l.store.InsertAuditEvent(ctx, ev); err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}

	l.log.Debug("audit event appended",
		zap.String("matchResultId", ev.MatchResultID.String()),
		zap.String("eventType", ev.EventType),
		zap.String("eventHash", ev.EventHash))
	return nil
}

// Verify walks an event chain in order and recomputes every hash,
// returning the index of the first corrupted event, or -1 when the chain
// is intact.
func Verify(events []models.AuditEvent) (int, error) {
	prior := ""
	for i, ev := range events {
		hash, err := ComputeEventHash(ev.EventType, ev.DecisionFactors, ev.OccurredAt, prior)
		if err != nil {
			return i, err
		}
		if hash != ev.EventHash {
			return i, nil
		}
		prior = ev.EventHash
	}
	return -1, nil
}

func (l *Logger) lockFor(matchResultID uuid.UUID) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[matchResultID]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[matchResultID] = lock
	}
	return lock
}
