package store

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/citydesk/appealsync/internal/model"
	"go.uber.org/zap"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestPersistAndLoad(t *testing.T) {
	db := testDB(t)
	s := New(db, zap.NewNop())

	in := map[int64][]model.Message{
		42: {{ID: 501, AppealID: 42, Text: "hello", Status: model.StatusSent}},
	}
	s.Persist(NSMessages, in)
	s.Close()

	s2 := New(db, zap.NewNop())
	defer s2.Close()

	var out map[int64][]model.Message
	if !s2.Load(NSMessages, &out) {
		t.Fatal("Load() = false, want true")
	}
	if len(out[42]) != 1 || out[42][0].Text != "hello" {
		t.Errorf("loaded snapshot = %+v, want one message with text=hello", out)
	}
}

func TestLoadMissing(t *testing.T) {
	db := testDB(t)
	s := New(db, zap.NewNop())
	defer s.Close()

	var out []model.OutboxEntry
	if s.Load(NSOutbox, &out) {
		t.Error("Load() = true for missing namespace, want false")
	}
}

// A corrupt on-disk snapshot must read as empty state, never crash.
func TestLoadCorruptSnapshot(t *testing.T) {
	db := testDB(t)
	if err := db.SaveSnapshot(NSAppeals, []byte("{not json")); err != nil {
		t.Fatal(err)
	}

	s := New(db, zap.NewNop())
	defer s.Close()

	var out map[int64]model.Appeal
	if s.Load(NSAppeals, &out) {
		t.Error("Load() = true for corrupt snapshot, want false")
	}
}

// Bursts of writes to the same namespace coalesce; the last one wins.
func TestPersistLastWriteWins(t *testing.T) {
	db := testDB(t)
	s := New(db, zap.NewNop())

	for i := 0; i < 10; i++ {
		s.Persist(NSOutbox, []model.OutboxEntry{
			{AppealID: 42, TempID: fmt.Sprintf("tmp-%d", i)},
		})
	}
	s.Close()

	s2 := New(db, zap.NewNop())
	defer s2.Close()

	var out []model.OutboxEntry
	if !s2.Load(NSOutbox, &out) {
		t.Fatal("Load() = false, want true")
	}
	if len(out) != 1 || out[0].TempID != "tmp-9" {
		t.Errorf("loaded outbox = %+v, want single entry tmp-9", out)
	}
}

func TestPersistAfterCloseIsNoop(t *testing.T) {
	db := testDB(t)
	s := New(db, zap.NewNop())
	s.Close()

	// Must not panic or write.
	s.Persist(NSMessages, map[int64][]model.Message{1: {}})

	s2 := New(db, zap.NewNop())
	defer s2.Close()
	var out map[int64][]model.Message
	if s2.Load(NSMessages, &out) {
		t.Error("Load() = true, want false (persist after close dropped)")
	}
}
