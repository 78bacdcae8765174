package workers

import (
	"context"
	stderrors "errors"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// BadgerGC periodically rewrites Badger value-log files so an on-disk store
// does not grow without bound. Pointless for in-memory stores; the caller
// only registers it when a filepath is configured.
type BadgerGC struct {
	db       *badger.DB
	log      *slog.Logger
	interval time.Duration
}

func NewBadgerGC(db *badger.DB, log *slog.Logger, interval time.Duration) *BadgerGC {
	return &BadgerGC{db: db, log: log, interval: interval}
}

func (w *BadgerGC) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			// Reclaim until Badger reports there is nothing left to rewrite.
			for {
				err := w.db.RunValueLogGC(0.5)
				if err == nil {
					continue
				}
				if !stderrors.Is(err, badger.ErrNoRewrite) {
					w.log.Warn("value log GC failed", "error", err)
				}
				break
			}
		}
	}
}
