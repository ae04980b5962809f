package db

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"gorm.io/gorm"
)

// WithSerializableRetry runs fn inside a transaction at the strictest
// isolation level the dialect supports and retries transient
// serialization conflicts with exponential backoff. attempts bounds the
// total number of tries; the last error is returned unchanged.
func WithSerializableRetry(ctx context.Context, conn *gorm.DB, attempts int, backoff time.Duration, fn func(tx *gorm.DB) error) error {
	if attempts < 1 {
		attempts = 1
	}
	if backoff <= 0 {
		backoff = 100 * time.Millisecond
	}

	var opts []*sql.TxOptions
	// sqlite runs serializable by default and rejects explicit levels.
	if !strings.EqualFold(conn.Dialector.Name(), "sqlite") {
		opts = append(opts, &sql.TxOptions{Isolation: sql.LevelSerializable})
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff << (attempt - 1)):
			}
		}

		err = conn.WithContext(ctx).Transaction(fn, opts...)
		if err == nil || !IsSerializationFailure(err) {
			return err
		}
	}
	return err
}
