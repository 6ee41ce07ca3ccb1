// Package retrytick sends a periodic AutoRetryTick to the StateStore. It
// owns no state of its own; it only obeys the shared shutdown context.
package retrytick

import (
	"context"
	"log"
	"time"
)

// DefaultInterval is the auto-retry cadence.
const DefaultInterval = 5 * time.Minute

// StateStore is the narrow capability this ticker needs.
type StateStore interface {
	AutoRetryTick(ctx context.Context) error
}

// Config configures a Ticker.
type Config struct {
	Interval time.Duration
	Store    StateStore
	Logger   *log.Logger
}

func (c *Config) setDefaults() {
	if c.Interval == 0 {
		c.Interval = DefaultInterval
	}
	if c.Logger == nil {
		c.Logger = log.New(log.Writer(), "[RetryTick] ", log.LstdFlags)
	}
}

// Ticker drives the periodic AutoRetryTick signal.
type Ticker struct {
	cfg    Config
	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs a Ticker. Start must be called to begin firing.
func New(cfg Config) *Ticker {
	cfg.setDefaults()
	return &Ticker{cfg: cfg}
}

// Start runs the ticker's loop in a new goroutine. It returns once the
// goroutine has been launched; call Stop (or cancel ctx) to end it.
func (t *Ticker) Start(ctx context.Context) {
	t.stopCh = make(chan struct{})
	t.doneCh = make(chan struct{})
	go t.run(ctx)
}

// Stop signals the loop to exit and waits for it to finish.
func (t *Ticker) Stop() {
	if t.stopCh == nil {
		return
	}
	close(t.stopCh)
	<-t.doneCh
}

func (t *Ticker) run(ctx context.Context) {
	defer close(t.doneCh)

	ticker := time.NewTicker(t.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stopCh:
			return
		case <-ticker.C:
			if err := t.cfg.Store.AutoRetryTick(ctx); err != nil {
				t.cfg.Logger.Printf("auto retry tick dropped: %v", err)
			}
		}
	}
}
