package reconcile

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/citydesk/appealsync/internal/bus"
	"github.com/citydesk/appealsync/internal/model"
	"github.com/citydesk/appealsync/internal/store"
	"go.uber.org/zap"
)

const viewerID = int64(7)

func testStore(t *testing.T) *store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	s := store.New(db, zap.NewNop())
	t.Cleanup(func() {
		s.Close()
		_ = db.Close()
	})
	return s
}

func testEngine(t *testing.T) *Engine {
	t.Helper()
	return NewEngine(viewerID, testStore(t), bus.New(), zap.NewNop())
}

func ts(sec int) time.Time {
	return time.Date(2024, 1, 1, 0, 0, sec, 0, time.UTC)
}

func TestUpsertIdempotentByServerID(t *testing.T) {
	e := testEngine(t)

	e.UpsertMessage(42, model.Message{ID: 501, AppealID: 42, Text: "v1", CreatedAt: ts(1), Sender: model.Sender{UserID: 9}})
	e.UpsertMessage(42, model.Message{ID: 501, AppealID: 42, Text: "v2", CreatedAt: ts(1), Sender: model.Sender{UserID: 9}})

	msgs := e.Snapshot(42)
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1 (idempotent upsert)", len(msgs))
	}
	if msgs[0].Text != "v2" {
		t.Errorf("text = %q, want v2 (later call wins)", msgs[0].Text)
	}
}

func TestUpsertMergesByTempID(t *testing.T) {
	e := testEngine(t)

	e.UpsertMessage(42, model.Message{TempID: "tmp-1", AppealID: 42, Text: "hello", CreatedAt: ts(1), Sender: model.Sender{UserID: viewerID}, Status: model.StatusSending})
	// Server-confirmed copy arrives with the id and the same tempId.
	e.UpsertMessage(42, model.Message{ID: 501, TempID: "tmp-1", AppealID: 42, Text: "hello", CreatedAt: ts(2), Sender: model.Sender{UserID: viewerID}, Status: model.StatusSent})

	msgs := e.Snapshot(42)
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1 (tempId convergence)", len(msgs))
	}
	if msgs[0].ID != 501 || msgs[0].Status != model.StatusSent {
		t.Errorf("got id=%d status=%s, want id=501 status=sent", msgs[0].ID, msgs[0].Status)
	}
	if msgs[0].TempID != "tmp-1" {
		t.Error("tempId dropped; must be retained for outbox matching")
	}
}

// Unrelated local and remote messages must stay distinct entries.
func TestConcurrentDistinctIdentities(t *testing.T) {
	e := testEngine(t)

	e.UpsertMessage(42, model.Message{ID: 502, AppealID: 42, Text: "remote", CreatedAt: ts(1), Sender: model.Sender{UserID: 9}})
	e.UpsertMessage(42, model.Message{TempID: "tmp-X", AppealID: 42, Text: "local", CreatedAt: ts(2), Sender: model.Sender{UserID: viewerID}, Status: model.StatusSending})

	msgs := e.Snapshot(42)
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2 distinct entries", len(msgs))
	}
}

func TestUpsertOrderIndependent(t *testing.T) {
	e := testEngine(t)

	// Arrival order reversed relative to timestamps.
	e.UpsertMessage(42, model.Message{ID: 2, AppealID: 42, CreatedAt: ts(2), Sender: model.Sender{UserID: 9}})
	e.UpsertMessage(42, model.Message{ID: 1, AppealID: 42, CreatedAt: ts(1), Sender: model.Sender{UserID: 9}})

	msgs := e.Snapshot(42)
	if len(msgs) != 2 || msgs[0].ID != 1 || msgs[1].ID != 2 {
		t.Errorf("messages not ordered by creation time: %+v", msgs)
	}
}

func TestStatusNeverRegresses(t *testing.T) {
	e := testEngine(t)

	e.UpsertMessage(42, model.Message{ID: 501, AppealID: 42, CreatedAt: ts(1), Sender: model.Sender{UserID: viewerID}, Status: model.StatusRead})
	// A stale event with an earlier status must not move it backwards.
	e.UpsertMessage(42, model.Message{ID: 501, AppealID: 42, CreatedAt: ts(1), Sender: model.Sender{UserID: viewerID}, Status: model.StatusSent})

	msgs := e.Snapshot(42)
	if msgs[0].Status != model.StatusRead {
		t.Errorf("status = %s, want read (forward-only)", msgs[0].Status)
	}
}

func TestSubscribeDeliversInitialSnapshot(t *testing.T) {
	e := testEngine(t)
	e.UpsertMessage(42, model.Message{ID: 1, AppealID: 42, CreatedAt: ts(1), Sender: model.Sender{UserID: 9}})

	var got []model.Message
	unsub := e.Subscribe(42, func(msgs []model.Message) {
		got = msgs
	})
	defer unsub()

	if len(got) != 1 {
		t.Fatalf("initial snapshot has %d messages, want 1", len(got))
	}
}

func TestSubscribeNotifiedOnMutation(t *testing.T) {
	e := testEngine(t)

	var snapshots [][]model.Message
	unsub := e.Subscribe(42, func(msgs []model.Message) {
		snapshots = append(snapshots, msgs)
	})
	defer unsub()

	e.UpsertMessage(42, model.Message{ID: 1, AppealID: 42, CreatedAt: ts(1), Sender: model.Sender{UserID: 9}})

	if len(snapshots) != 2 {
		t.Fatalf("got %d notifications, want 2 (initial + upsert)", len(snapshots))
	}
	if len(snapshots[1]) != 1 {
		t.Errorf("second snapshot has %d messages, want 1", len(snapshots[1]))
	}
}

// A listener that unsubscribes during notification must not corrupt
// iteration over the listener set.
func TestUnsubscribeDuringNotify(t *testing.T) {
	e := testEngine(t)

	var unsub1 func()
	calls1 := 0
	unsub1 = e.Subscribe(42, func([]model.Message) {
		calls1++
		if unsub1 != nil {
			unsub1()
		}
	})
	calls2 := 0
	unsub2 := e.Subscribe(42, func([]model.Message) { calls2++ })
	defer unsub2()

	e.UpsertMessage(42, model.Message{ID: 1, AppealID: 42, CreatedAt: ts(1), Sender: model.Sender{UserID: 9}})
	e.UpsertMessage(42, model.Message{ID: 2, AppealID: 42, CreatedAt: ts(2), Sender: model.Sender{UserID: 9}})

	if calls2 != 3 {
		t.Errorf("second listener called %d times, want 3", calls2)
	}
	if calls1 > 2 {
		t.Errorf("first listener called %d times after unsubscribing", calls1)
	}
}

func TestSetMessagesReplacesWholesale(t *testing.T) {
	e := testEngine(t)
	e.UpsertMessage(42, model.Message{ID: 1, AppealID: 42, CreatedAt: ts(1), Sender: model.Sender{UserID: 9}})

	e.SetMessages(42, []model.Message{
		{ID: 10, AppealID: 42, CreatedAt: ts(5), Sender: model.Sender{UserID: 9}},
		{ID: 11, AppealID: 42, CreatedAt: ts(6), Sender: model.Sender{UserID: 9}},
	})

	msgs := e.Snapshot(42)
	if len(msgs) != 2 || msgs[0].ID != 10 {
		t.Errorf("replace failed: %+v", msgs)
	}
}

func TestUpdateMessageByEitherIdentity(t *testing.T) {
	e := testEngine(t)
	e.UpsertMessage(42, model.Message{TempID: "tmp-9", AppealID: 42, Text: "old", CreatedAt: ts(1), Sender: model.Sender{UserID: viewerID}, Status: model.StatusSending})

	newText := "edited"
	if !e.UpdateMessage(42, 0, "tmp-9", MessagePatch{Text: &newText}) {
		t.Fatal("update by tempId failed")
	}
	id := int64(700)
	st := model.StatusSent
	if !e.UpdateMessage(42, 0, "tmp-9", MessagePatch{ID: &id, Status: &st}) {
		t.Fatal("id swap failed")
	}
	if !e.UpdateMessage(42, 700, "", MessagePatch{Text: &newText}) {
		t.Fatal("update by server id after swap failed")
	}
	if e.UpdateMessage(42, 999, "", MessagePatch{Text: &newText}) {
		t.Error("update for unknown id reported success")
	}

	msgs := e.Snapshot(42)
	if msgs[0].Text != "edited" || msgs[0].ID != 700 {
		t.Errorf("got %+v", msgs[0])
	}
}

func TestUnreadCounter(t *testing.T) {
	e := testEngine(t)

	// Peer message increments.
	e.UpsertMessage(42, model.Message{ID: 1, AppealID: 42, CreatedAt: ts(1), Sender: model.Sender{UserID: 9}})
	a, _ := e.Appeal(42)
	if a.UnreadCount != 1 {
		t.Errorf("unread = %d after peer message, want 1", a.UnreadCount)
	}

	// Own message does not.
	e.UpsertMessage(42, model.Message{ID: 2, AppealID: 42, CreatedAt: ts(2), Sender: model.Sender{UserID: viewerID}})
	a, _ = e.Appeal(42)
	if a.UnreadCount != 1 {
		t.Errorf("unread = %d after own message, want 1", a.UnreadCount)
	}

	// Re-upsert of the same id does not double count.
	e.UpsertMessage(42, model.Message{ID: 1, AppealID: 42, CreatedAt: ts(1), Sender: model.Sender{UserID: 9}})
	a, _ = e.Appeal(42)
	if a.UnreadCount != 1 {
		t.Errorf("unread = %d after duplicate upsert, want 1", a.UnreadCount)
	}

	// Viewer read resets.
	e.ApplyRead(model.ReadReceipt{AppealID: 42, MessageIDs: []int64{1}, ReaderID: viewerID, ReadAt: ts(3)})
	a, _ = e.Appeal(42)
	if a.UnreadCount != 0 {
		t.Errorf("unread = %d after mark read, want 0", a.UnreadCount)
	}
}

func TestApplyReadFlipsOwnMessagesToRead(t *testing.T) {
	e := testEngine(t)
	e.UpsertMessage(42, model.Message{ID: 5, AppealID: 42, CreatedAt: ts(1), Sender: model.Sender{UserID: viewerID}, Status: model.StatusSent})

	e.ApplyRead(model.ReadReceipt{AppealID: 42, MessageIDs: []int64{5}, ReaderID: 9, ReadAt: ts(2)})

	msgs := e.Snapshot(42)
	if msgs[0].Status != model.StatusRead {
		t.Errorf("status = %s, want read after peer read receipt", msgs[0].Status)
	}
	if !msgs[0].ReadByUser(9) {
		t.Error("reader missing from read-by set")
	}
}

func TestDeleteMessage(t *testing.T) {
	e := testEngine(t)
	e.UpsertMessage(42, model.Message{ID: 5, AppealID: 42, CreatedAt: ts(1), Sender: model.Sender{UserID: 9}})

	e.DeleteMessage(42, 5)

	if msgs := e.Snapshot(42); len(msgs) != 0 {
		t.Errorf("got %d messages after delete, want 0", len(msgs))
	}
}

func TestHydrateRestoresState(t *testing.T) {
	st := testStore(t)
	b := bus.New()

	e := NewEngine(viewerID, st, b, zap.NewNop())
	e.UpsertMessage(42, model.Message{ID: 1, AppealID: 42, Text: "persisted", CreatedAt: ts(1), Sender: model.Sender{UserID: 9}})

	// Give the async writer a moment, then rehydrate a fresh engine.
	time.Sleep(100 * time.Millisecond)

	e2 := NewEngine(viewerID, st, b, zap.NewNop())
	e2.Hydrate()

	msgs := e2.Snapshot(42)
	if len(msgs) != 1 || msgs[0].Text != "persisted" {
		t.Errorf("hydrated snapshot = %+v, want the persisted message", msgs)
	}
	a, ok := e2.Appeal(42)
	if !ok || a.UnreadCount != 1 {
		t.Errorf("hydrated appeal = %+v, want unread 1", a)
	}
}
