package model

import "time"

// DeliveryStatus is the externally visible lifecycle stage of a message.
type DeliveryStatus string

const (
	StatusSending   DeliveryStatus = "sending"
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusRead      DeliveryStatus = "read"
	StatusFailed    DeliveryStatus = "failed"
)

// statusRank orders the forward-only delivery progression. Failed sits
// outside the progression: it may be retried back to sending.
var statusRank = map[DeliveryStatus]int{
	StatusSending:   0,
	StatusSent:      1,
	StatusDelivered: 2,
	StatusRead:      3,
}

// CanTransition reports whether a message may move from one delivery
// status to another. Status only moves forward, except failed, which is
// terminal until a retry returns it to sending.
func CanTransition(from, to DeliveryStatus) bool {
	if from == to {
		return true
	}
	if to == StatusFailed {
		return from == StatusSending
	}
	if from == StatusFailed {
		return to == StatusSending
	}
	return statusRank[to] > statusRank[from]
}

// Sender holds the minimal display info carried with each message.
type Sender struct {
	UserID int64  `json:"userId"`
	Name   string `json:"name,omitempty"`
}

// Attachment is a file reference attached to a message.
type Attachment struct {
	URI      string `json:"uri"`
	Filename string `json:"filename,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// Message is a single chat entry within an appeal. Identity is the
// server-assigned ID once confirmed, or the client-generated TempID while
// the send is unconfirmed. After confirmation the server ID is
// authoritative; TempID is retained only to match the in-flight outbox
// record.
type Message struct {
	ID          int64               `json:"id,omitempty"`
	TempID      string              `json:"tempId,omitempty"`
	AppealID    int64               `json:"appealId"`
	Text        string              `json:"text,omitempty"`
	CreatedAt   time.Time           `json:"createdAt"`
	Sender      Sender              `json:"sender"`
	Attachments []Attachment        `json:"attachments,omitempty"`
	Status      DeliveryStatus      `json:"status"`
	ReadBy      map[int64]time.Time `json:"readBy,omitempty"`
}

// Matches reports whether two messages refer to the same logical message,
// by server ID or by TempID.
func (m *Message) Matches(id int64, tempID string) bool {
	if id != 0 && m.ID == id {
		return true
	}
	return tempID != "" && m.TempID == tempID
}

// ReadByUser reports whether the given user appears in the read-by set.
func (m *Message) ReadByUser(userID int64) bool {
	_, ok := m.ReadBy[userID]
	return ok
}

// MarkReadBy appends a reader to the read-by set. Existing entries keep
// their original timestamp.
func (m *Message) MarkReadBy(userID int64, at time.Time) {
	if m.ReadBy == nil {
		m.ReadBy = make(map[int64]time.Time)
	}
	if _, ok := m.ReadBy[userID]; !ok {
		m.ReadBy[userID] = at
	}
}

// Clone returns a deep copy so snapshots handed to subscribers cannot
// alias engine-owned state.
func (m *Message) Clone() Message {
	out := *m
	if m.Attachments != nil {
		out.Attachments = append([]Attachment(nil), m.Attachments...)
	}
	if m.ReadBy != nil {
		out.ReadBy = make(map[int64]time.Time, len(m.ReadBy))
		for k, v := range m.ReadBy {
			out.ReadBy[k] = v
		}
	}
	return out
}
