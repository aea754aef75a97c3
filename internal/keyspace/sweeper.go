package keyspace

import (
	"log/slog"
	"time"
)

// DefaultSweepInterval is the default interval between active expiry sweeps.
const DefaultSweepInterval = time.Minute

// Sweeper periodically removes expired entries so keys that are set with an
// expiry and never read again do not accumulate. It is a pure addition on
// top of lazy expiry: the read/write contract is unchanged whether or not a
// sweeper runs.
type Sweeper struct {
	store    *Store
	interval time.Duration
	logger   *slog.Logger

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewSweeper creates a sweeper for the given store. An interval of zero or
// less falls back to DefaultSweepInterval.
func NewSweeper(store *Store, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Sweeper{
		store:    store,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the background sweep loop.
func (sw *Sweeper) Start() {
	go sw.loop()
}

func (sw *Sweeper) loop() {
	defer close(sw.doneCh)

	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if removed := sw.store.DeleteExpired(); removed > 0 {
				sw.logger.Debug("expiry sweep reclaimed entries", "count", removed)
			}

		case <-sw.stopCh:
			return
		}
	}
}

// Stop terminates the sweep loop and waits for it to finish.
func (sw *Sweeper) Stop() {
	close(sw.stopCh)
	<-sw.doneCh
}
