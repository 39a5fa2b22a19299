package subscription

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const sweepBatchSize = 100

// TaskOptions contains the configuration for the expiry sweeper
type TaskOptions struct {
	Manager  *Manager
	Logger   *zap.Logger
	Interval time.Duration
}

// Task re-checks profiles whose paid period has lapsed. The provider keeps
// reporting cancel_at_period_end subscriptions as active until the period
// ends, so without this sweep an expired profile only corrects itself the
// next time the user is looked up.
type Task struct {
	TaskOptions
}

// NewTask returns the expiry sweeper
func NewTask(option TaskOptions) (*Task, error) {
	if option.Manager == nil {
		return nil, fmt.Errorf("nil Manager is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if option.Interval <= 0 {
		return nil, fmt.Errorf("non-positive Interval is invalid")
	}
	return &Task{
		TaskOptions: option,
	}, nil
}

// Run sweeps on every tick until ctx is cancelled
func (t *Task) Run(ctx context.Context) {
	tick := time.NewTicker(t.Interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			t.sweep(ctx)
		}
	}
}

func (t *Task) sweep(ctx context.Context) {
	expired, err := t.Manager.Store.ListExpired(ctx, time.Now(), sweepBatchSize)
	if err != nil {
		t.Logger.Error("Unable to list expired profiles",
			zap.Error(err),
		)
		return
	}
	for _, p := range expired {
		if _, err := t.Manager.Refresh(ctx, p.Email); err != nil {
			t.Logger.Error("Unable to refresh expired profile",
				zap.String("Email", p.Email),
				zap.Error(err),
			)
			continue
		}
	}
	if len(expired) > 0 {
		t.Logger.Info("Expiry sweep completed",
			zap.Int("Swept", len(expired)),
		)
	}
}
