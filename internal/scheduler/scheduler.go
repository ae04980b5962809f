// Package scheduler advances billing periods for elapsed subscriptions.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	billingdomain "github.com/smallbiznis/meterline/internal/billing/domain"
	"github.com/smallbiznis/meterline/internal/clock"
	"github.com/smallbiznis/meterline/internal/observability"
	subscriptiondomain "github.com/smallbiznis/meterline/internal/subscription/domain"
	usagedomain "github.com/smallbiznis/meterline/internal/usage/domain"
	"github.com/smallbiznis/meterline/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	BillingSvc billingdomain.Service
	UsageSvc   usagedomain.Service
	Metrics    *observability.Metrics `optional:"true"`
	Config     Config                 `optional:"true"`
}

type Scheduler struct {
	db         *gorm.DB
	log        *zap.Logger
	cfg        Config
	clock      clock.Clock
	billingSvc billingdomain.Service
	usageSvc   usagedomain.Service
	metrics    *observability.Metrics
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.Clock == nil || p.BillingSvc == nil || p.UsageSvc == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:         p.DB,
		log:        p.Log.Named("scheduler"),
		cfg:        p.Config.withDefaults(),
		clock:      p.Clock,
		billingSvc: p.BillingSvc,
		usageSvc:   p.UsageSvc,
		metrics:    p.Metrics,
	}, nil
}

// RunOnce executes one rollover sweep.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	start := time.Now()
	if s.metrics != nil {
		s.metrics.RolloverRuns.Inc()
		defer func() {
			s.metrics.RolloverDuration.Observe(time.Since(start).Seconds())
		}()
	}
	return s.RolloverJob(ctx)
}

// RunForever runs sweeps on the configured interval until ctx ends.
func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("rollover sweep finished with failures", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RolloverJob rolls over every active subscription whose period has
// elapsed. Each subscription gets its own serializable transaction so
// one failure cannot block the batch.
func (s *Scheduler) RolloverJob(ctx context.Context) error {
	now := s.clock.Now()

	var due []subscriptiondomain.Subscription
	err := s.db.WithContext(ctx).
		Where("status = ? AND current_period_end <= ?", subscriptiondomain.StatusActive, now).
		Order("current_period_end ASC").
		Limit(s.cfg.BatchSize).
		Find(&due).Error
	if err != nil {
		return fmt.Errorf("fetch due subscriptions: %w", err)
	}
	if len(due) == 0 {
		return nil
	}

	var errs error
	for _, sub := range due {
		if err := s.rolloverSubscription(ctx, sub.ID.String()); err != nil {
			if s.metrics != nil {
				s.metrics.RolloverFailures.Inc()
			}
			s.log.Error("subscription rollover failed",
				zap.String("subscription_id", sub.ID.String()),
				zap.String("org_id", sub.OrgID.String()),
				zap.Error(err),
			)
			errs = errors.Join(errs, fmt.Errorf("subscription %s: %w", sub.ID, err))
		}
	}
	return errs
}

// rolloverSubscription invoices the elapsed period, advances the period
// bounds, and resets monthly totals, atomically. The row is re-read
// under lock inside the transaction so a concurrent sweep cannot bill
// the same period twice. Gateway mirroring happens after commit so a
// slow or failing gateway can never hold the transaction open.
func (s *Scheduler) rolloverSubscription(ctx context.Context, subscriptionID string) error {
	var invoiceID snowflake.ID
	err := db.WithSerializableRetry(ctx, s.db, s.cfg.MaxAttempts, s.cfg.RetryBackoff, func(tx *gorm.DB) error {
		invoiceID = 0
		query := tx.WithContext(ctx)
		if !strings.EqualFold(tx.Dialector.Name(), "sqlite") {
			query = query.Clauses(clause.Locking{Strength: "UPDATE"})
		}

		var sub subscriptiondomain.Subscription
		if err := query.Where("id = ?", subscriptionID).First(&sub).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}

		now := s.clock.Now()
		if sub.Status != subscriptiondomain.StatusActive || sub.CurrentPeriodEnd.After(now) {
			// already rolled over by another sweep
			return nil
		}

		invoice, err := s.billingSvc.GenerateInvoice(ctx, sub.OrgID, sub.CurrentPeriodEnd, tx)
		if err != nil {
			return fmt.Errorf("generate invoice: %w", err)
		}
		invoiceID = invoice.ID

		newStart := sub.CurrentPeriodEnd
		newEnd := addCalendarMonth(newStart)
		err = tx.WithContext(ctx).
			Model(&subscriptiondomain.Subscription{}).
			Where("id = ?", sub.ID).
			Updates(map[string]any{
				"current_period_start": newStart,
				"current_period_end":   newEnd,
				"updated_at":           now,
			}).Error
		if err != nil {
			return fmt.Errorf("advance period: %w", err)
		}

		if err := s.usageSvc.ResetMonthlyTotals(ctx, tx, int64(sub.OrgID)); err != nil {
			return fmt.Errorf("reset monthly totals: %w", err)
		}

		s.log.Info("subscription rolled over",
			zap.String("subscription_id", sub.ID.String()),
			zap.String("invoice_id", invoice.ID.String()),
			zap.Time("new_period_start", newStart),
			zap.Time("new_period_end", newEnd),
		)
		return nil
	})
	if err != nil {
		return err
	}

	if invoiceID != 0 {
		if err := s.billingSvc.SyncInvoice(ctx, invoiceID); err != nil {
			s.log.Warn("invoice gateway sync failed",
				zap.String("invoice_id", invoiceID.String()),
				zap.Error(err),
			)
		}
	}
	return nil
}
