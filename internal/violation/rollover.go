package violation

import (
	"context"
	"log/slog"
	"time"
)

// DefaultRolloverInterval is how often the rollover loop checks the date.
const DefaultRolloverInterval = 10 * time.Minute

// Roller is anything that can clear itself when the day changes. Store
// implements it, as does the moderation pipeline that wraps one.
type Roller interface {
	CheckAndRollover(now time.Time) (int, bool)
}

// StartRollover checks for a day change immediately and then on every tick
// until ctx is cancelled. now should be the clock the store stamps reset
// dates with; nil means time.Now. onReset, if set, receives the number of
// authors cleared. Running several loops against one store is safe; only
// one of them performs each day's reset.
func StartRollover(ctx context.Context, r Roller, interval time.Duration, now func() time.Time, logger *slog.Logger, onReset func(cleared int)) {
	if interval <= 0 {
		interval = DefaultRolloverInterval
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "rollover")

	check := func() {
		if n, ok := r.CheckAndRollover(now()); ok {
			logger.Info("daily violation reset", "authors", n)
			if onReset != nil {
				onReset(n)
			}
		}
	}

	check()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("rollover loop stopped")
			return
		case <-ticker.C:
			check()
		}
	}
}
