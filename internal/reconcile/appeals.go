package reconcile

import "github.com/citydesk/appealsync/internal/model"

// AppealPatch is a partial update to a cached appeal summary.
type AppealPatch struct {
	Status       *string
	Priority     *string
	AssigneeID   *int64
	DepartmentID *int64
}

// Appeal returns the cached summary for an appeal, if any.
func (e *Engine) Appeal(appealID int64) (model.Appeal, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.appeals[appealID]
	return a, ok
}

// UpsertAppeal replaces the cached summary for an appeal, preserving the
// incrementally maintained unread count and last message reference when
// the incoming summary carries none.
func (e *Engine) UpsertAppeal(a model.Appeal) {
	e.mu.Lock()
	if prev, ok := e.appeals[a.ID]; ok {
		if a.UnreadCount == 0 {
			a.UnreadCount = prev.UnreadCount
		}
		if a.LastMessage == nil {
			a.LastMessage = prev.LastMessage
		}
	}
	e.appeals[a.ID] = a
	e.mu.Unlock()

	e.persistAppeals()
	e.bus.Publish("appeal.upserted", a.ID)
}

// PatchAppeal applies a partial metadata update from a realtime event.
func (e *Engine) PatchAppeal(appealID int64, p AppealPatch) {
	e.mu.Lock()
	a := e.appeals[appealID]
	a.ID = appealID
	if p.Status != nil {
		a.Status = *p.Status
	}
	if p.Priority != nil {
		a.Priority = *p.Priority
	}
	if p.AssigneeID != nil {
		a.AssigneeID = *p.AssigneeID
	}
	if p.DepartmentID != nil {
		a.DepartmentID = *p.DepartmentID
	}
	e.appeals[appealID] = a
	e.mu.Unlock()

	e.persistAppeals()
	e.bus.Publish("appeal.updated", appealID)
}

// ResetUnread zeroes the unread counter after a local mark-read
// completes.
func (e *Engine) ResetUnread(appealID int64) {
	e.mu.Lock()
	a, ok := e.appeals[appealID]
	if ok {
		a.UnreadCount = 0
		e.appeals[appealID] = a
	}
	e.mu.Unlock()
	if !ok {
		return
	}
	e.persistAppeals()
	e.bus.Publish("appeal.unread_reset", appealID)
}

// SetList stores an ordered appeal id list under a key ("inbox",
// "department:3", ...), mirroring server-provided list pages.
func (e *Engine) SetList(key string, ids []int64) {
	e.mu.Lock()
	e.lists[key] = append([]int64(nil), ids...)
	e.mu.Unlock()
	e.persistAppeals()
}

// List returns the appeal ids stored under a key.
func (e *Engine) List(key string) []int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]int64(nil), e.lists[key]...)
}

// KnownSenders returns the distinct user ids seen as message senders,
// excluding the viewer. Used to scope presence polling.
func (e *Engine) KnownSenders() []int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	seen := make(map[int64]struct{})
	var out []int64
	for _, list := range e.messages {
		for i := range list {
			id := list[i].Sender.UserID
			if id == 0 || id == e.viewerID {
				continue
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}
