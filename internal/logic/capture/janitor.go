package capture

import (
	"context"
	"time"

	"github.com/cjeanneret/camask/internal/debug"
)

// Janitor sweeps a store periodically so abandoned artifacts are removed
// even when no capture is requested.
type Janitor struct {
	Store     Store
	Every     time.Duration
	OlderThan time.Duration
}

// NewJanitor sweeps every olderThan window.
func NewJanitor(store Store, olderThan time.Duration) *Janitor {
	return &Janitor{Store: store, Every: olderThan, OlderThan: olderThan}
}

// Run sweeps once immediately, then on every tick until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	every := j.Every
	if every <= 0 {
		every = DefaultSweepAfter
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	j.sweep()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.sweep()
		}
	}
}

func (j *Janitor) sweep() {
	removed, err := j.Store.Sweep(j.OlderThan)
	if err != nil {
		debug.Error(err)
		return
	}
	for _, name := range removed {
		debug.Trace("Janitor: removed %s", name)
	}
}
