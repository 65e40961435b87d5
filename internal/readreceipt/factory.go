package readreceipt

import (
	"github.com/citydesk/appealsync/internal/bus"
	"github.com/citydesk/appealsync/internal/reconcile"
	"go.uber.org/zap"
)

// Factory builds views that share the daemon's collaborators and
// configured debounce windows. Embedders open one view per appeal the
// user is looking at and close it when the conversation leaves the
// screen.
type Factory struct {
	viewerID int64
	engine   *reconcile.Engine
	flusher  Flusher
	bus      *bus.Bus
	logger   *zap.Logger
	opts     Options
}

// NewFactory creates a view factory. Zero fields in opts fall back to
// the package defaults per view.
func NewFactory(viewerID int64, engine *reconcile.Engine, flusher Flusher, b *bus.Bus, logger *zap.Logger, opts Options) *Factory {
	return &Factory{
		viewerID: viewerID,
		engine:   engine,
		flusher:  flusher,
		bus:      b,
		logger:   logger,
		opts:     opts,
	}
}

// Open creates a view for one appeal.
func (f *Factory) Open(appealID int64) *View {
	return NewView(appealID, f.viewerID, f.engine, f.flusher, f.bus, f.logger, f.opts)
}
