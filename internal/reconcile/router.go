package reconcile

import (
	"encoding/json"
	"time"

	"github.com/citydesk/appealsync/internal/bus"
	"github.com/citydesk/appealsync/internal/model"
	"github.com/citydesk/appealsync/internal/presence"
	"go.uber.org/zap"
)

// Router interprets realtime events and applies them to the engine and
// presence cache. The realtime bridge does no filtering of its own; all
// domain logic for which event kinds matter lives here.
type Router struct {
	engine   *Engine
	presence *presence.Cache
	bus      *bus.Bus
	logger   *zap.Logger
}

// NewRouter creates an event router.
func NewRouter(e *Engine, p *presence.Cache, b *bus.Bus, logger *zap.Logger) *Router {
	return &Router{engine: e, presence: p, bus: b, logger: logger}
}

type wireRead struct {
	AppealID   int64     `json:"appealId"`
	MessageIDs []int64   `json:"messageIds"`
	ReaderID   int64     `json:"readerId"`
	ReadAt     time.Time `json:"readAt"`
}

type wireDelete struct {
	AppealID  int64 `json:"appealId"`
	MessageID int64 `json:"messageId"`
}

type wireAppeal struct {
	AppealID     int64   `json:"appealId"`
	Status       *string `json:"status,omitempty"`
	Priority     *string `json:"priority,omitempty"`
	AssigneeID   *int64  `json:"assigneeId,omitempty"`
	DepartmentID *int64  `json:"departmentId,omitempty"`
}

// Handle routes one realtime event by name. Unknown events are
// republished on the bus for embedders and otherwise ignored.
func (r *Router) Handle(event string, data json.RawMessage) {
	switch event {
	case "messageAdded", "messageEdited":
		var msg model.Message
		if err := r.decode(event, data, &msg); err != nil {
			return
		}
		if msg.Status == "" {
			msg.Status = model.StatusSent
		}
		r.engine.UpsertMessage(msg.AppealID, msg)

	case "messageDeleted":
		var del wireDelete
		if err := r.decode(event, data, &del); err != nil {
			return
		}
		r.engine.DeleteMessage(del.AppealID, del.MessageID)

	case "messageRead":
		var read wireRead
		if err := r.decode(event, data, &read); err != nil {
			return
		}
		r.engine.ApplyRead(model.ReadReceipt{
			AppealID:   read.AppealID,
			MessageIDs: read.MessageIDs,
			ReaderID:   read.ReaderID,
			ReadAt:     read.ReadAt,
		})

	case "appealUpdated", "statusUpdated", "assigneesUpdated", "departmentChanged":
		var a wireAppeal
		if err := r.decode(event, data, &a); err != nil {
			return
		}
		r.engine.PatchAppeal(a.AppealID, AppealPatch{
			Status:       a.Status,
			Priority:     a.Priority,
			AssigneeID:   a.AssigneeID,
			DepartmentID: a.DepartmentID,
		})

	case "presenceChanged":
		var p model.PresenceInfo
		if err := r.decode(event, data, &p); err != nil {
			return
		}
		r.presence.ApplyPush(p)

	case "watchersUpdated":
		// No local cache for watchers; surface to embedders as-is.
		r.bus.Publish("appeal.watchers_updated", data)

	default:
		r.logger.Debug("unhandled realtime event", zap.String("event", event))
	}
}

func (r *Router) decode(event string, data json.RawMessage, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		r.logger.Warn("malformed realtime payload", zap.String("event", event), zap.Error(err))
		return err
	}
	return nil
}
