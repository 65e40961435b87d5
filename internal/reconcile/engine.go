// Package reconcile maintains the canonical in-memory view of messages
// per appeal. Local optimistic sends, realtime events, and page fetches
// all funnel through the same identity-based upsert, so the result is
// convergent no matter which path wins the race.
package reconcile

import (
	"sort"
	"sync"

	"github.com/citydesk/appealsync/internal/bus"
	"github.com/citydesk/appealsync/internal/model"
	"github.com/citydesk/appealsync/internal/store"
	"go.uber.org/zap"
)

// Listener receives a full snapshot of an appeal's messages after every
// mutation. The initial snapshot is delivered immediately on subscribe.
type Listener func(messages []model.Message)

// Engine is the single source of truth for what messages each appeal
// currently has, in what order, with what status. It fans mutations out
// to subscribers synchronously and persists asynchronously.
type Engine struct {
	viewerID int64
	store    *store.Store
	bus      *bus.Bus
	logger   *zap.Logger

	mu        sync.Mutex
	messages  map[int64][]model.Message
	appeals   map[int64]model.Appeal
	lists     map[string][]int64
	listeners map[int64]map[int]Listener
	nextSub   int
}

// NewEngine creates an engine for the given viewer. The viewer identity
// drives unread counting: only messages authored by someone else count.
func NewEngine(viewerID int64, st *store.Store, b *bus.Bus, logger *zap.Logger) *Engine {
	return &Engine{
		viewerID:  viewerID,
		store:     st,
		bus:       b,
		logger:    logger,
		messages:  make(map[int64][]model.Message),
		appeals:   make(map[int64]model.Appeal),
		lists:     make(map[string][]int64),
		listeners: make(map[int64]map[int]Listener),
	}
}

// Hydrate loads persisted snapshots. A missing or corrupt snapshot
// leaves the corresponding state empty.
func (e *Engine) Hydrate() {
	e.mu.Lock()
	defer e.mu.Unlock()

	var msgs map[int64][]model.Message
	if e.store.Load(store.NSMessages, &msgs) && msgs != nil {
		e.messages = msgs
	}
	var appeals appealSnapshot
	if e.store.Load(store.NSAppeals, &appeals) {
		if appeals.AppealsByID != nil {
			e.appeals = appeals.AppealsByID
		}
		if appeals.ListsByKey != nil {
			e.lists = appeals.ListsByKey
		}
	}
	e.logger.Info("reconcile state hydrated",
		zap.Int("appeals_with_messages", len(e.messages)),
		zap.Int("appeals", len(e.appeals)))
}

type appealSnapshot struct {
	AppealsByID map[int64]model.Appeal `json:"appealsById"`
	ListsByKey  map[string][]int64     `json:"listsByKey"`
}

// Subscribe registers a listener for one appeal and immediately invokes
// it with the current snapshot. Returns an unsubscribe function.
func (e *Engine) Subscribe(appealID int64, fn Listener) func() {
	e.mu.Lock()
	if e.listeners[appealID] == nil {
		e.listeners[appealID] = make(map[int]Listener)
	}
	id := e.nextSub
	e.nextSub++
	e.listeners[appealID][id] = fn
	snapshot := cloneMessages(e.messages[appealID])
	e.mu.Unlock()

	// No missed initial state: deliver the current view right away.
	fn(snapshot)

	return func() {
		e.mu.Lock()
		delete(e.listeners[appealID], id)
		e.mu.Unlock()
	}
}

// Snapshot returns a copy of the current message list for an appeal.
func (e *Engine) Snapshot(appealID int64) []model.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneMessages(e.messages[appealID])
}

// SetMessages replaces an appeal's message list wholesale, used after a
// fresh server page fetch.
func (e *Engine) SetMessages(appealID int64, msgs []model.Message) {
	e.mu.Lock()
	list := cloneMessages(msgs)
	sortByCreated(list)
	e.messages[appealID] = list
	e.mu.Unlock()

	e.notify(appealID)
	e.persistMessages()
	e.bus.Publish("message.replaced", appealID)
}

// UpsertMessage merges a message into an appeal's list by server ID or
// TempID, appending when no match exists. This is the single
// de-duplication point for the optimistic-local and realtime-remote
// paths.
func (e *Engine) UpsertMessage(appealID int64, msg model.Message) {
	e.mu.Lock()
	list := e.messages[appealID]
	idx := findMessage(list, msg.ID, msg.TempID)
	inserted := false
	if idx >= 0 {
		merged := mergeMessage(list[idx], msg)
		list[idx] = merged
	} else {
		msg = msg.Clone()
		list = append(list, msg)
		inserted = true
	}
	sortByCreated(list)
	e.messages[appealID] = list

	if inserted {
		e.bumpAppealLocked(appealID, msg)
	}
	e.mu.Unlock()

	e.notify(appealID)
	e.persistMessages()
	if inserted {
		e.persistAppeals()
	}
	e.bus.Publish("message.upserted", appealID)
}

// UpdateMessage applies a partial patch to a message found by either
// identity kind. Returns false when no message matches.
func (e *Engine) UpdateMessage(appealID int64, id int64, tempID string, patch MessagePatch) bool {
	e.mu.Lock()
	list := e.messages[appealID]
	idx := findMessage(list, id, tempID)
	if idx < 0 {
		e.mu.Unlock()
		return false
	}
	applyPatch(&list[idx], patch)
	sortByCreated(list)
	e.mu.Unlock()

	e.notify(appealID)
	e.persistMessages()
	e.bus.Publish("message.updated", appealID)
	return true
}

// DeleteMessage removes a message by server ID. Only an explicit delete
// event from the server goes through here.
func (e *Engine) DeleteMessage(appealID int64, id int64) {
	e.mu.Lock()
	list := e.messages[appealID]
	idx := findMessage(list, id, "")
	if idx < 0 {
		e.mu.Unlock()
		return
	}
	e.messages[appealID] = append(list[:idx], list[idx+1:]...)
	e.mu.Unlock()

	e.notify(appealID)
	e.persistMessages()
	e.bus.Publish("message.deleted", appealID)
}

// ApplyRead records a confirmed read receipt: readers are appended to
// each message's read-by set and viewer-authored messages flip to read.
// When the viewer is the reader, the appeal's unread count resets.
func (e *Engine) ApplyRead(r model.ReadReceipt) {
	e.mu.Lock()
	list := e.messages[r.AppealID]
	for _, id := range r.MessageIDs {
		idx := findMessage(list, id, "")
		if idx < 0 {
			continue
		}
		list[idx].MarkReadBy(r.ReaderID, r.ReadAt)
		if r.ReaderID != e.viewerID && list[idx].Sender.UserID == e.viewerID &&
			model.CanTransition(list[idx].Status, model.StatusRead) {
			list[idx].Status = model.StatusRead
		}
	}
	resetUnread := r.ReaderID == e.viewerID
	if resetUnread {
		if a, ok := e.appeals[r.AppealID]; ok {
			a.UnreadCount = 0
			e.appeals[r.AppealID] = a
		}
	}
	e.mu.Unlock()

	e.notify(r.AppealID)
	e.persistMessages()
	if resetUnread {
		e.persistAppeals()
	}
	e.bus.Publish("message.read", r)
}

// bumpAppealLocked updates the cached appeal summary for a newly
// inserted message: last message reference always, unread count only for
// peer-authored arrivals. Caller holds e.mu.
func (e *Engine) bumpAppealLocked(appealID int64, msg model.Message) {
	a := e.appeals[appealID]
	a.ID = appealID
	last := msg.Clone()
	a.LastMessage = &last
	if msg.Sender.UserID != e.viewerID {
		a.UnreadCount++
	}
	e.appeals[appealID] = a
}

func (e *Engine) notify(appealID int64) {
	e.mu.Lock()
	subs := make([]Listener, 0, len(e.listeners[appealID]))
	for _, fn := range e.listeners[appealID] {
		subs = append(subs, fn)
	}
	snapshot := cloneMessages(e.messages[appealID])
	e.mu.Unlock()

	// Iterate a snapshot of the listener set so a handler that
	// unsubscribes mid-notify cannot corrupt iteration.
	for _, fn := range subs {
		fn(cloneMessages(snapshot))
	}
}

func (e *Engine) persistMessages() {
	e.mu.Lock()
	out := make(map[int64][]model.Message, len(e.messages))
	for k, v := range e.messages {
		out[k] = cloneMessages(v)
	}
	e.mu.Unlock()
	e.store.Persist(store.NSMessages, out)
}

func (e *Engine) persistAppeals() {
	e.mu.Lock()
	snap := appealSnapshot{
		AppealsByID: make(map[int64]model.Appeal, len(e.appeals)),
		ListsByKey:  make(map[string][]int64, len(e.lists)),
	}
	for k, v := range e.appeals {
		snap.AppealsByID[k] = v
	}
	for k, v := range e.lists {
		snap.ListsByKey[k] = append([]int64(nil), v...)
	}
	e.mu.Unlock()
	e.store.Persist(store.NSAppeals, snap)
}

func findMessage(list []model.Message, id int64, tempID string) int {
	for i := range list {
		if list[i].Matches(id, tempID) {
			return i
		}
	}
	return -1
}

func cloneMessages(list []model.Message) []model.Message {
	out := make([]model.Message, len(list))
	for i := range list {
		out[i] = list[i].Clone()
	}
	return out
}

func sortByCreated(list []model.Message) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
}
