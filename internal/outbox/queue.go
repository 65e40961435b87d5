// Package outbox guarantees a user-authored message is never silently
// lost: every send is visible immediately with status sending, kept in a
// durable queue until the server confirms it, and surfaced as failed
// (retryable) rather than dropped when the network call does not go
// through.
package outbox

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/citydesk/appealsync/internal/bus"
	"github.com/citydesk/appealsync/internal/client"
	"github.com/citydesk/appealsync/internal/model"
	"github.com/citydesk/appealsync/internal/reconcile"
	"github.com/citydesk/appealsync/internal/store"
	"go.uber.org/zap"
)

// MessageSender is what the queue needs from the network layer.
type MessageSender interface {
	AddAppealMessage(ctx context.Context, appealID int64, p model.SendPayload) (client.MessageAck, error)
}

// Queue owns the pending-send lifecycle. It is the only writer of the
// sending and failed statuses.
type Queue struct {
	engine *reconcile.Engine
	sender MessageSender
	store  *store.Store
	bus    *bus.Bus
	logger *zap.Logger

	retryInterval time.Duration

	mu       sync.Mutex
	entries  []model.OutboxEntry
	inFlight map[string]bool

	cancel context.CancelFunc
}

// NewQueue creates an outbox queue. retryInterval drives the periodic
// sweep started by Start; on-demand Retry works regardless.
func NewQueue(engine *reconcile.Engine, sender MessageSender, st *store.Store, b *bus.Bus, logger *zap.Logger, retryInterval time.Duration) *Queue {
	return &Queue{
		engine:        engine,
		sender:        sender,
		store:         st,
		bus:           b,
		logger:        logger,
		retryInterval: retryInterval,
		inFlight:      make(map[string]bool),
	}
}

// Hydrate loads the persisted queue. Restored entries are not in flight:
// a send whose confirmation was lost to a crash will be re-sent by the
// next sweep (at-least-once, deduplicated server-side by tempId).
func (q *Queue) Hydrate() {
	q.mu.Lock()
	defer q.mu.Unlock()
	var entries []model.OutboxEntry
	if q.store.Load(store.NSOutbox, &entries) {
		q.entries = entries
	}
	if len(q.entries) > 0 {
		q.logger.Info("outbox hydrated", zap.Int("pending", len(q.entries)))
	}
}

// Entries returns a copy of the current queue.
func (q *Queue) Entries() []model.OutboxEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]model.OutboxEntry(nil), q.entries...)
}

// Send queues one message and attempts delivery. The optimistic message
// appears in the reconcile engine before the network call starts;
// failure is surfaced as a status flip, never as a lost message.
// Returns the generated tempId.
func (q *Queue) Send(ctx context.Context, appealID int64, payload model.SendPayload, from model.Sender) string {
	tempID := newTempID()
	now := time.Now()

	q.engine.UpsertMessage(appealID, model.Message{
		TempID:      tempID,
		AppealID:    appealID,
		Text:        payload.Text,
		CreatedAt:   now,
		Sender:      from,
		Attachments: payload.Files,
		Status:      model.StatusSending,
	})

	entry := model.OutboxEntry{AppealID: appealID, TempID: tempID, Payload: payload}
	q.mu.Lock()
	q.entries = append(q.entries, entry)
	q.inFlight[tempID] = true
	q.mu.Unlock()
	q.persist()

	q.deliver(ctx, entry)
	return tempID
}

// Retry re-attempts every queue entry sequentially over a materialized
// snapshot. Entries currently in flight are skipped, so a sweep cannot
// double-send a message whose first attempt has not resolved yet.
func (q *Queue) Retry(ctx context.Context) {
	q.mu.Lock()
	snapshot := append([]model.OutboxEntry(nil), q.entries...)
	q.mu.Unlock()

	for _, entry := range snapshot {
		q.mu.Lock()
		if q.inFlight[entry.TempID] || !q.contains(entry.TempID) {
			q.mu.Unlock()
			continue
		}
		q.inFlight[entry.TempID] = true
		q.mu.Unlock()

		// Retry returns the message to sending before the attempt.
		q.engine.UpdateMessage(entry.AppealID, 0, entry.TempID, reconcile.MessagePatch{
			Status: statusPtr(model.StatusSending),
		})
		q.deliver(ctx, entry)
	}
}

// deliver runs one network attempt for an entry already marked in
// flight.
func (q *Queue) deliver(ctx context.Context, entry model.OutboxEntry) {
	ack, err := q.sender.AddAppealMessage(ctx, entry.AppealID, entry.Payload)

	if err != nil {
		// The failed flip must land before the in-flight flag clears:
		// otherwise a concurrent sweep could start its retry between
		// the two and the late failed patch would clobber its result.
		q.engine.UpdateMessage(entry.AppealID, 0, entry.TempID, reconcile.MessagePatch{
			Status: statusPtr(model.StatusFailed),
		})
		q.mu.Lock()
		delete(q.inFlight, entry.TempID)
		q.mu.Unlock()

		q.logger.Warn("send failed, entry kept for retry",
			zap.Int64("appeal_id", entry.AppealID),
			zap.String("temp_id", entry.TempID),
			zap.Error(err))
		q.bus.Publish("message.send_failed", entry.TempID)
		return
	}

	q.mu.Lock()
	delete(q.inFlight, entry.TempID)
	q.removeLocked(entry.TempID)
	q.mu.Unlock()

	q.persist()
	q.engine.UpdateMessage(entry.AppealID, 0, entry.TempID, reconcile.MessagePatch{
		ID:        &ack.ID,
		CreatedAt: &ack.CreatedAt,
		Status:    statusPtr(model.StatusSent),
	})
	q.logger.Info("message sent",
		zap.Int64("appeal_id", entry.AppealID),
		zap.String("temp_id", entry.TempID),
		zap.Int64("server_id", ack.ID))
	q.bus.Publish("message.send_ack", entry.TempID)
}

// Start begins the periodic retry sweep.
func (q *Queue) Start(ctx context.Context) {
	ctx, q.cancel = context.WithCancel(ctx)
	go q.loop(ctx)
}

// Stop stops the sweep loop.
func (q *Queue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
}

func (q *Queue) loop(ctx context.Context) {
	ticker := time.NewTicker(q.retryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			q.Retry(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (q *Queue) persist() {
	q.mu.Lock()
	snapshot := append([]model.OutboxEntry(nil), q.entries...)
	q.mu.Unlock()
	q.store.Persist(store.NSOutbox, snapshot)
}

func (q *Queue) contains(tempID string) bool {
	for _, e := range q.entries {
		if e.TempID == tempID {
			return true
		}
	}
	return false
}

func (q *Queue) removeLocked(tempID string) {
	for i, e := range q.entries {
		if e.TempID == tempID {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return
		}
	}
}

func newTempID() string {
	frag := strings.SplitN(uuid.New().String(), "-", 2)[0]
	return fmt.Sprintf("tmp-%d-%s", time.Now().UnixMilli(), frag)
}

func statusPtr(s model.DeliveryStatus) *model.DeliveryStatus { return &s }
