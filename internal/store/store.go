// Package store persists sync state snapshots to a per-profile SQLite
// database so local message history and the pending-send queue survive
// process restarts. Durability is best effort: the network remains the
// source of truth, and a stale or missing snapshot only costs a refetch.
package store

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

// Store provides fire-and-forget snapshot persistence on top of DB.
// Persist marshals synchronously (capturing state at the call site) and
// hands the blob to a single writer goroutine; bursts of writes to the
// same namespace coalesce to the latest blob.
type Store struct {
	db     *DB
	logger *zap.Logger

	mu      sync.Mutex
	pending map[string][]byte
	wake    chan struct{}
	done    chan struct{}
	closed  bool
}

// New creates a Store and starts its writer goroutine.
func New(db *DB, logger *zap.Logger) *Store {
	s := &Store{
		db:      db,
		logger:  logger,
		pending: make(map[string][]byte),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go s.writeLoop()
	return s
}

// Load unmarshals the persisted snapshot for a namespace into v. Returns
// false when no snapshot exists or the stored blob is unparseable; a
// corrupt snapshot is treated as empty state, never an error.
func (s *Store) Load(namespace string, v any) bool {
	body, err := s.db.LoadSnapshot(namespace)
	if err != nil {
		s.logger.Warn("snapshot load failed", zap.String("namespace", namespace), zap.Error(err))
		return false
	}
	if body == nil {
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		s.logger.Warn("snapshot unparseable, treating as empty", zap.String("namespace", namespace), zap.Error(err))
		return false
	}
	return true
}

// Persist schedules an asynchronous write of v as the namespace's
// snapshot. Marshal and write failures are swallowed after logging.
func (s *Store) Persist(namespace string, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		s.logger.Warn("snapshot marshal failed", zap.String("namespace", namespace), zap.Error(err))
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.pending[namespace] = body
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Close flushes pending writes and stops the writer.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	close(s.wake)
	<-s.done
}

func (s *Store) writeLoop() {
	defer close(s.done)
	for range s.wake {
		s.flush()
	}
	// Final flush after Close.
	s.flush()
}

func (s *Store) flush() {
	s.mu.Lock()
	batch := s.pending
	s.pending = make(map[string][]byte)
	s.mu.Unlock()

	for namespace, body := range batch {
		if err := s.db.SaveSnapshot(namespace, body); err != nil {
			s.logger.Warn("snapshot write failed", zap.String("namespace", namespace), zap.Error(err))
		}
	}
}
