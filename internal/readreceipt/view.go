// Package readreceipt decides when the viewer has actually seen which
// messages and batches read acknowledgements to the server. "Read" means
// the user looked at the message, not that it rendered off-screen for a
// moment during a fast scroll, so acknowledgement is gated behind an
// arming step.
package readreceipt

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/citydesk/appealsync/internal/bus"
	"github.com/citydesk/appealsync/internal/client"
	"github.com/citydesk/appealsync/internal/model"
	"github.com/citydesk/appealsync/internal/reconcile"
	"go.uber.org/zap"
)

// Flusher is the network call a view needs.
type Flusher interface {
	MarkMessagesReadBulk(ctx context.Context, appealID int64, messageIDs []int64) (client.ReadAck, error)
}

// ArmReason is why a view transitions from observing to acknowledging.
type ArmReason string

const (
	// ReasonAutoBottom: the viewer is scrolled to the bottom after the
	// initial load.
	ReasonAutoBottom ArmReason = "auto_bottom"
	// ReasonIncomingAtBottom: a new message arrived while already at
	// the bottom.
	ReasonIncomingAtBottom ArmReason = "incoming_at_bottom"
	// ReasonUserInteraction: the viewer touched or scrolled the view.
	ReasonUserInteraction ArmReason = "user_interaction"
)

const (
	defaultArmDelay   = 280 * time.Millisecond
	defaultFlushDelay = 300 * time.Millisecond
)

// Options tunes the view's debounce windows.
type Options struct {
	ArmDelay   time.Duration
	FlushDelay time.Duration
}

// View tracks read state for one open appeal view. Visible message ids
// are always recorded, but nothing is acknowledged until the view arms;
// once armed it stays armed for its lifetime.
type View struct {
	appealID int64
	viewerID int64
	engine   *reconcile.Engine
	flusher  Flusher
	bus      *bus.Bus
	logger   *zap.Logger
	opts     Options

	mu           sync.Mutex
	armed        bool
	arming       bool
	initialReady bool
	atBottom     bool
	interacted   bool
	visible      []int64
	pending      map[int64]struct{}
	armTimer     *time.Timer
	flushTimer   *time.Timer
	closed       bool
}

// NewView creates a view for one appeal.
func NewView(appealID, viewerID int64, engine *reconcile.Engine, flusher Flusher, b *bus.Bus, logger *zap.Logger, opts Options) *View {
	if opts.ArmDelay <= 0 {
		opts.ArmDelay = defaultArmDelay
	}
	if opts.FlushDelay <= 0 {
		opts.FlushDelay = defaultFlushDelay
	}
	return &View{
		appealID: appealID,
		viewerID: viewerID,
		engine:   engine,
		flusher:  flusher,
		bus:      b,
		logger:   logger,
		opts:     opts,
		pending:  make(map[int64]struct{}),
	}
}

// SetInitialPositionReady marks the initial scroll position as
// stabilized. Arming is impossible before this.
func (v *View) SetInitialPositionReady() {
	v.mu.Lock()
	v.initialReady = true
	v.mu.Unlock()
	v.requestArm(ReasonAutoBottom)
}

// SetAtBottom records whether the viewer is currently at the bottom.
func (v *View) SetAtBottom(atBottom bool) {
	v.mu.Lock()
	v.atBottom = atBottom
	v.mu.Unlock()
	if atBottom {
		v.requestArm(ReasonAutoBottom)
	}
}

// NoteInteraction records that the viewer touched or scrolled the view.
func (v *View) NoteInteraction() {
	v.mu.Lock()
	v.interacted = true
	v.mu.Unlock()
	v.requestArm(ReasonUserInteraction)
}

// NoteIncoming records a new message arriving while the view is open.
func (v *View) NoteIncoming() {
	v.requestArm(ReasonIncomingAtBottom)
}

// ObserveVisible records the currently visible message ids. Before
// arming the batch is only tracked; after arming it is funneled straight
// into the pending set.
func (v *View) ObserveVisible(ids []int64) {
	v.mu.Lock()
	v.visible = append([]int64(nil), ids...)
	armed := v.armed
	v.mu.Unlock()
	if armed {
		v.enqueue(ids)
	}
}

// requestArm starts the arm debounce when the reason's gates pass.
func (v *View) requestArm(reason ArmReason) {
	v.mu.Lock()
	if v.closed || v.armed || v.arming || !v.initialReady {
		v.mu.Unlock()
		return
	}
	switch reason {
	case ReasonUserInteraction:
		if !v.interacted {
			v.mu.Unlock()
			return
		}
	case ReasonAutoBottom, ReasonIncomingAtBottom:
		if !v.atBottom {
			v.mu.Unlock()
			return
		}
	}
	v.arming = true
	v.armTimer = time.AfterFunc(v.opts.ArmDelay, v.arm)
	v.mu.Unlock()
}

// arm latches the view into acknowledging mode and enqueues whatever is
// currently visible.
func (v *View) arm() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.arming = false
	v.armed = true
	visible := append([]int64(nil), v.visible...)
	v.mu.Unlock()

	v.enqueue(visible)
}

// enqueue adds eligible ids (not the viewer's own, not already read) to
// the pending set and (re)starts the flush debounce.
func (v *View) enqueue(ids []int64) {
	if len(ids) == 0 {
		return
	}
	eligible := v.filterEligible(ids)
	if len(eligible) == 0 {
		return
	}

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	for _, id := range eligible {
		v.pending[id] = struct{}{}
	}
	if v.flushTimer != nil {
		v.flushTimer.Stop()
	}
	v.flushTimer = time.AfterFunc(v.opts.FlushDelay, v.flush)
	v.mu.Unlock()
}

func (v *View) filterEligible(ids []int64) []int64 {
	byID := make(map[int64]model.Message)
	for _, m := range v.engine.Snapshot(v.appealID) {
		if m.ID != 0 {
			byID[m.ID] = m
		}
	}
	var out []int64
	for _, id := range ids {
		m, ok := byID[id]
		if !ok {
			continue
		}
		if m.Sender.UserID == v.viewerID || m.ReadByUser(v.viewerID) {
			continue
		}
		out = append(out, id)
	}
	return out
}

// flush issues one bulk mark-read call for the pending set. Success is
// propagated into the reconcile engine; failure is silently dropped
// because the next arming cycle re-detects the same messages as
// still-visible-and-unread.
func (v *View) flush() {
	v.mu.Lock()
	if v.closed || len(v.pending) == 0 {
		v.mu.Unlock()
		return
	}
	ids := make([]int64, 0, len(v.pending))
	for id := range v.pending {
		ids = append(ids, id)
	}
	v.pending = make(map[int64]struct{})
	v.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	ack, err := v.flusher.MarkMessagesReadBulk(context.Background(), v.appealID, ids)
	if err != nil {
		v.logger.Debug("read flush dropped", zap.Int64("appeal_id", v.appealID), zap.Error(err))
		return
	}

	v.engine.ApplyRead(model.ReadReceipt{
		AppealID:   v.appealID,
		MessageIDs: ack.MessageIDs,
		ReaderID:   v.viewerID,
		ReadAt:     ack.ReadAt,
	})
	// Embedders clear notification badges for these ids on this event.
	v.bus.Publish("read.flushed", model.ReadReceipt{
		AppealID:   v.appealID,
		MessageIDs: ack.MessageIDs,
		ReaderID:   v.viewerID,
		ReadAt:     ack.ReadAt,
	})
}

// Armed reports whether the view has latched into acknowledging mode.
func (v *View) Armed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.armed
}

// Close stops both debounce timers so nothing fires into a disposed
// view. Ids pending at close are discarded.
func (v *View) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	v.closed = true
	if v.armTimer != nil {
		v.armTimer.Stop()
	}
	if v.flushTimer != nil {
		v.flushTimer.Stop()
	}
	v.pending = make(map[int64]struct{})
}
