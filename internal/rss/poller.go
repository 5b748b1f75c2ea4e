package rss

import (
	"context"
	"sync"
	"time"

	"github.com/KRYPTOHAUS/hyperfeed/internal/logging"
)

// cycleTimeout bounds a single SyncAll run.
const cycleTimeout = 10 * time.Minute

// Poller runs continuous polling.
type Poller struct {
	syncer   *Syncer
	floor    time.Duration
	log      logging.Logger
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewPoller creates a background poller. The interval is read from the
// catalog setting before every cycle and never drops below floor or the
// package minimum.
func NewPoller(syncer *Syncer, floor time.Duration, log logging.Logger) *Poller {
	if log == nil {
		log = logging.Discard()
	}
	return &Poller{
		syncer:   syncer,
		floor:    floor,
		log:      log,
		stopChan: make(chan struct{}),
	}
}

func (p *Poller) interval(ctx context.Context) time.Duration {
	mins, err := p.syncer.db.GetPollingInterval(ctx)
	if err != nil {
		p.log.Warn(ctx, "read polling interval", "error", err)
	}
	if mins < MinPollingIntervalMinutes {
		mins = MinPollingIntervalMinutes
	}
	d := time.Duration(mins) * time.Minute
	if d < p.floor {
		d = p.floor
	}
	return d
}

// Start begins the polling loop. The first cycle runs immediately.
func (p *Poller) Start() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			ctx, cancel := context.WithTimeout(context.Background(), cycleTimeout)
			go func() {
				select {
				case <-p.stopChan:
					cancel()
				case <-ctx.Done():
				}
			}()
			interval := p.interval(ctx)
			p.log.Info(ctx, "poller: syncing all feeds", "interval", interval)

			results, err := p.syncer.SyncAll(ctx)
			if err != nil {
				p.log.Error(ctx, "poller error", "error", err)
			} else {
				saved := 0
				for _, st := range results {
					saved += st.Saved
				}
				p.log.Info(ctx, "poller: cycle done", "saved", saved, "feeds", len(results))
			}
			cancel()

			select {
			case <-p.stopChan:
				return
			case <-time.After(interval):
			}
		}
	}()
}

// Stop stops the poller gracefully. An in-flight cycle is cancelled.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() { close(p.stopChan) })
	p.wg.Wait()
}
