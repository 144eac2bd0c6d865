package chain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrHeightDecreased is returned when trying to move the ledger height
// backwards.
var ErrHeightDecreased = errors.New("height can't decrease")

type (
	// A Store persists the ledger height.
	Store interface {
		ChainHeight(ctx context.Context) (uint64, error)
		UpdateChainHeight(ctx context.Context, height uint64) error
	}

	// A Tracker keeps track of the current ledger height. The height never
	// decreases.
	Tracker struct {
		store  Store
		logger *zap.SugaredLogger

		mu          sync.Mutex
		height      uint64
		subscribers map[int]func(uint64)
		nextID      int
	}
)

// NewTracker returns a tracker that continues at the height persisted in the
// store.
func NewTracker(ctx context.Context, store Store, l *zap.Logger) (*Tracker, error) {
	height, err := store.ChainHeight(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch chain height: %w", err)
	}
	return &Tracker{
		store:       store,
		logger:      l.Named("chain").Sugar(),
		height:      height,
		subscribers: make(map[int]func(uint64)),
	}, nil
}

// Height returns the current ledger height.
func (t *Tracker) Height() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.height
}

// Advance moves the ledger height to the given height. Advancing to the
// current height is a no-op.
func (t *Tracker) Advance(ctx context.Context, height uint64) error {
	t.mu.Lock()
	if height < t.height {
		current := t.height
		t.mu.Unlock()
		return fmt.Errorf("%w: current height %d, new height %d", ErrHeightDecreased, current, height)
	} else if height == t.height {
		t.mu.Unlock()
		return nil
	} else if err := t.store.UpdateChainHeight(ctx, height); err != nil {
		t.mu.Unlock()
		return fmt.Errorf("failed to persist chain height: %w", err)
	}
	t.height = height
	subscribers := make([]func(uint64), 0, len(t.subscribers))
	for _, fn := range t.subscribers {
		subscribers = append(subscribers, fn)
	}
	t.mu.Unlock()

	t.logger.Debugw("height advanced", "height", height)
	for _, fn := range subscribers {
		fn(height)
	}
	return nil
}

// OnAdvance registers a function that is called with the new height every
// time the height advances.
func (t *Tracker) OnAdvance(fn func(uint64)) (cancel func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextID
	t.nextID++
	t.subscribers[id] = fn
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.subscribers, id)
	}
}

// Run advances the height by one every blockTime until the context is
// cancelled. It is used when no external process reports the ledger height.
func (t *Tracker) Run(ctx context.Context, blockTime time.Duration) {
	ticker := time.NewTicker(blockTime)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := t.Advance(ctx, t.Height()+1); err != nil && !errors.Is(err, context.Canceled) {
			t.logger.Errorw("failed to advance height", zap.Error(err))
		}
	}
}
