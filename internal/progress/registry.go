// Package progress fans import lifecycle events out to per-batch
// subscribers and mirrors the latest payload into a short-lived cache
// so late subscribers can catch up. Cancellation travels the other way
// as a cache flag the ingestion pipeline polls at its checkpoints.
package progress

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Message types delivered to subscribers.
const (
	TypeProgress     = "import_progress"
	TypeStatusChange = "import_status_change"
	TypeError        = "import_error"
	TypeConnected    = "connection_established"
	TypeSubscribed   = "subscription_confirmed"
	TypePong         = "pong"
)

// snapshotTTL bounds how long the last payload stays fetchable.
const snapshotTTL = time.Hour

func snapshotKey(batchID uuid.UUID) string { return "import_progress:" + batchID.String() }
func cancelKey(batchID uuid.UUID) string   { return "cancel_import:" + batchID.String() }

// Message is the structured event handed to the transport.
type Message struct {
	Type      string    `json:"type"`
	BatchID   string    `json:"batch_id,omitempty"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Subscriber receives messages. Notify must not block: transports queue
// internally and drop on overflow.
type Subscriber interface {
	SubscriberID() string
	Notify(msg Message)
}

type ownerKey struct {
	tenantID     uuid.UUID
	subscriberID string
}

// Registry is the process-local fanout table. All methods are safe for
// concurrent use.
type Registry struct {
	cache Cache
	log   *zap.Logger

	mu      sync.RWMutex
	byBatch map[uuid.UUID]map[string]Subscriber
	byOwner map[ownerKey]map[uuid.UUID]struct{}
}

// NewRegistry builds a registry over the given snapshot cache.
func NewRegistry(cache Cache, log *zap.Logger) *Registry {
	return &Registry{
		cache:   cache,
		log:     log,
		byBatch: make(map[uuid.UUID]map[string]Subscriber),
		byOwner: make(map[ownerKey]map[uuid.UUID]struct{}),
	}
}

// Subscribe registers a subscriber for a batch and confirms it.
func (r *Registry) Subscribe(tenantID uuid.UUID, sub Subscriber, batchID uuid.UUID) {
	r.mu.Lock()
	if r.byBatch[batchID] == nil {
		r.byBatch[batchID] = make(map[string]Subscriber)
	}
	r.byBatch[batchID][sub.SubscriberID()] = sub

	key := ownerKey{tenantID, sub.SubscriberID()}
	if r.byOwner[key] == nil {
		r.byOwner[key] = make(map[uuid.UUID]struct{})
	}
	r.byOwner[key][batchID] = struct{}{}
	r.mu.Unlock()

	sub.Notify(Message{
		Type:      TypeSubscribed,
		BatchID:   batchID.String(),
		Timestamp: time.Now().UTC(),
	})
}

// Unsubscribe removes one (subscriber, batch) edge.
func (r *Registry) Unsubscribe(tenantID uuid.UUID, subscriberID string, batchID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if subs := r.byBatch[batchID]; subs != nil {
		delete(subs, subscriberID)
		if len(subs) == 0 {
			delete(r.byBatch, batchID)
		}
	}
	key := ownerKey{tenantID, subscriberID}
	if batches := r.byOwner[key]; batches != nil {
		delete(batches, batchID)
		if len(batches) == 0 {
			delete(r.byOwner, key)
		}
	}
}

// UnsubscribeAll drops every batch edge a subscriber holds, used when a
// connection closes.
func (r *Registry) UnsubscribeAll(tenantID uuid.UUID, subscriberID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := ownerKey{tenantID, subscriberID}
	for batchID := range r.byOwner[key] {
		if subs := r.byBatch[batchID]; subs != nil {
			delete(subs, subscriberID)
			if len(subs) == 0 {
				delete(r.byBatch, batchID)
			}
		}
	}
	delete(r.byOwner, key)
}

// PublishProgress fans a progress payload out to the batch's
// subscribers and snapshots it for late joiners.
func (r *Registry) PublishProgress(ctx context.Context, batchID uuid.UUID, payload map[string]any) {
	r.publish(ctx, Message{
		Type:      TypeProgress,
		BatchID:   batchID.String(),
		Data:      payload,
		Timestamp: time.Now().UTC(),
	})
}

// PublishStatus announces a lifecycle transition.
func (r *Registry) PublishStatus(ctx context.Context, batchID, tenantID uuid.UUID, status string, payload map[string]any) {
	data := map[string]any{"status": status, "tenant_id": tenantID.String()}
	for k, v := range payload {
		data[k] = v
	}
	r.publish(ctx, Message{
		Type:      TypeStatusChange,
		BatchID:   batchID.String(),
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
}

// PublishError reports a batch-level failure.
func (r *Registry) PublishError(ctx context.Context, batchID, tenantID uuid.UUID, errMsg string) {
	r.publish(ctx, Message{
		Type:      TypeError,
		BatchID:   batchID.String(),
		Data:      map[string]any{"error": errMsg, "tenant_id": tenantID.String()},
		Timestamp: time.Now().UTC(),
	})
}

func (r *Registry) publish(ctx context.Context, msg Message) {
	r.mu.RLock()
	batchID, err := uuid.Parse(msg.BatchID)
	var subs []Subscriber
	if err == nil {
		for _, s := range r.byBatch[batchID] {
			subs = append(subs, s)
		}
	}
	r.mu.RUnlock()

	for _, s := range subs {
		s.Notify(msg)
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		r.log.Warn("marshal progress snapshot", zap.Error(err))
		return
	}
	if err := r.cache.Set(ctx, snapshotKey(batchID), string(raw), snapshotTTL); err != nil {
		r.log.Warn("store progress snapshot", zap.String("batchId", msg.BatchID), zap.Error(err))
	}
}

// LastSnapshot fetches the most recent message for a batch, or nil when
// none is cached.
func (r *Registry) LastSnapshot(ctx context.Context, batchID uuid.UUID) (*Message, error) {
	raw, err := r.cache.Get(ctx, snapshotKey(batchID))
	if err != nil || raw == "" {
		return nil, err
	}
	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// RequestCancel raises the cancellation flag the pipeline polls.
func (r *Registry) RequestCancel(ctx context.Context, batchID uuid.UUID) error {
	return r.cache.Set(ctx, cancelKey(batchID), "1", snapshotTTL)
}

// IsCancelled reports whether cancellation has been requested.
func (r *Registry) IsCancelled(ctx context.Context, batchID uuid.UUID) bool {
	val, err := r.cache.Get(ctx, cancelKey(batchID))
	if err != nil {
		r.log.Warn("poll cancellation flag", zap.String("batchId", batchID.String()), zap.Error(err))
		return false
	}
	return val != ""
}

// ClearCancel removes the flag once the pipeline has acted on it.
func (r *Registry) ClearCancel(ctx context.Context, batchID uuid.UUID) {
	if err := r.cache.Delete(ctx, cancelKey(batchID)); err != nil {
		r.log.Warn("clear cancellation flag", zap.String("batchId", batchID.String()), zap.Error(err))
	}
}
