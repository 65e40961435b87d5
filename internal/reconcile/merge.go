package reconcile

import (
	"time"

	"github.com/citydesk/appealsync/internal/model"
)

// MessagePatch is a partial update applied by either identity kind. Nil
// fields leave the base value untouched; set fields always win.
type MessagePatch struct {
	ID          *int64
	Text        *string
	CreatedAt   *time.Time
	Status      *model.DeliveryStatus
	Attachments *[]model.Attachment
}

// mergeMessage folds an incoming message into an existing one. Set
// fields of the incoming message win; the base value survives only where
// the incoming field is zero. The TempID is kept so the in-flight outbox
// record can still be matched after the server ID lands. Delivery status
// honors the forward-only progression.
func mergeMessage(base, in model.Message) model.Message {
	out := base.Clone()
	if in.ID != 0 {
		out.ID = in.ID
	}
	if in.TempID != "" {
		out.TempID = in.TempID
	}
	if in.Text != "" {
		out.Text = in.Text
	}
	if !in.CreatedAt.IsZero() {
		out.CreatedAt = in.CreatedAt
	}
	if in.Sender.UserID != 0 {
		out.Sender = in.Sender
	}
	if in.Attachments != nil {
		out.Attachments = append([]model.Attachment(nil), in.Attachments...)
	}
	if in.Status != "" && model.CanTransition(out.Status, in.Status) {
		out.Status = in.Status
	}
	for userID, at := range in.ReadBy {
		out.MarkReadBy(userID, at)
	}
	return out
}

func applyPatch(m *model.Message, p MessagePatch) {
	if p.ID != nil {
		m.ID = *p.ID
	}
	if p.Text != nil {
		m.Text = *p.Text
	}
	if p.CreatedAt != nil {
		m.CreatedAt = *p.CreatedAt
	}
	if p.Status != nil && model.CanTransition(m.Status, *p.Status) {
		m.Status = *p.Status
	}
	if p.Attachments != nil {
		m.Attachments = append([]model.Attachment(nil), (*p.Attachments)...)
	}
}
