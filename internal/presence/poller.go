package presence

import (
	"context"
	"time"

	"github.com/citydesk/appealsync/internal/model"
	"go.uber.org/zap"
)

// Fetcher is the polling side of the presence boundary.
type Fetcher interface {
	FetchPresence(ctx context.Context, userIDs []int64) ([]model.PresenceInfo, error)
}

// Poller periodically fills presence gaps for the users supplied by
// userIDs. Poll failures are swallowed: presence is an invisible
// maintenance concern with no user-facing error surface.
type Poller struct {
	cache    *Cache
	fetcher  Fetcher
	userIDs  func() []int64
	interval time.Duration
	logger   *zap.Logger
	cancel   context.CancelFunc
}

// NewPoller creates a poller. userIDs is consulted on every tick so the
// polled set tracks the conversations currently known locally.
func NewPoller(cache *Cache, fetcher Fetcher, userIDs func() []int64, interval time.Duration, logger *zap.Logger) *Poller {
	return &Poller{
		cache:    cache,
		fetcher:  fetcher,
		userIDs:  userIDs,
		interval: interval,
		logger:   logger,
	}
}

// Start begins polling.
func (p *Poller) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	go p.loop(ctx)
}

// Stop stops the poll loop.
func (p *Poller) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
}

func (p *Poller) loop(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.poll(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	ids := p.userIDs()
	if len(ids) == 0 {
		return
	}
	infos, err := p.fetcher.FetchPresence(ctx, ids)
	if err != nil {
		p.logger.Debug("presence poll failed", zap.Error(err))
		return
	}
	p.cache.ApplyPoll(infos)
	p.cache.Sweep(2 * p.interval)
}
