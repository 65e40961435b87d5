package model

import "time"

// Appeal is the denormalized ticket metadata cached locally per appeal.
// UnreadCount is maintained incrementally: incremented on arrival of a
// message not authored by the viewer, reset to zero when a local mark-read
// completes.
type Appeal struct {
	ID           int64    `json:"id"`
	Status       string   `json:"status,omitempty"`
	Priority     string   `json:"priority,omitempty"`
	LastMessage  *Message `json:"lastMessage,omitempty"`
	UnreadCount  int      `json:"unreadCount"`
	AssigneeID   int64    `json:"assigneeId,omitempty"`
	DepartmentID int64    `json:"departmentId,omitempty"`
}

// SendPayload is the body of an outgoing message send.
type SendPayload struct {
	Text  string       `json:"text,omitempty"`
	Files []Attachment `json:"files,omitempty"`
}

// OutboxEntry is one not-yet-confirmed send, owned exclusively by the
// outbox queue and referenced by TempID from the optimistic message.
type OutboxEntry struct {
	AppealID int64       `json:"appealId"`
	TempID   string      `json:"tempId"`
	Payload  SendPayload `json:"payload"`
}

// PresenceInfo is a volatile, non-persisted view of a user's availability.
// The latest realtime event is authoritative; polling only fills gaps.
type PresenceInfo struct {
	UserID     int64     `json:"userId"`
	IsOnline   bool      `json:"isOnline"`
	LastSeenAt time.Time `json:"lastSeenAt"`
}

// ReadReceipt is a confirmed bulk read acknowledgement.
type ReadReceipt struct {
	AppealID   int64     `json:"appealId"`
	MessageIDs []int64   `json:"messageIds"`
	ReaderID   int64     `json:"readerId"`
	ReadAt     time.Time `json:"readAt"`
}
