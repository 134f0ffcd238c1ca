// Package scheduler runs the credit expiry sweep: expired grants get their
// unconsumed remainder written off so stale credit never covers new usage.
package scheduler

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/flowline/internal/config"
	ledgerdomain "github.com/smallbiznis/flowline/internal/ledger/domain"
	ledgerservice "github.com/smallbiznis/flowline/internal/ledger/service"
	"github.com/smallbiznis/flowline/internal/ratelimit"
	"github.com/smallbiznis/flowline/internal/tenancy"
	"github.com/smallbiznis/flowline/pkg/db"
)

const sweepBatchSize = 100

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Cfg         config.Config
	Establisher *tenancy.Establisher
	Ledger      *ledgerservice.Service
	Limiter     *ratelimit.UsageIngestLimiter `optional:"true"`
}

type Scheduler struct {
	db          *gorm.DB
	log         *zap.Logger
	cfg         config.SchedulerConfig
	establisher *tenancy.Establisher
	ledger      *ledgerservice.Service
	limiter     *ratelimit.UsageIngestLimiter
}

func New(p Params) *Scheduler {
	return &Scheduler{
		db:          p.DB,
		log:         p.Log.Named("scheduler"),
		cfg:         p.Cfg.Scheduler,
		establisher: p.Establisher,
		ledger:      p.Ledger,
		limiter:     p.Limiter,
	}
}

// RunForever ticks the expiry sweep until ctx is canceled. One immediate
// sweep runs at startup so a restarted instance catches up right away.
func (s *Scheduler) RunForever(ctx context.Context) {
	interval := s.interval()

	s.sweep(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Scheduler) interval() time.Duration {
	interval := time.Duration(s.cfg.CreditExpiryInterval) * time.Second
	if interval <= 0 {
		interval = time.Hour
	}
	return interval
}

func (s *Scheduler) sweep(ctx context.Context) {
	token, acquired, err := s.limiter.TryLockExpirySweep(ctx, s.interval())
	if err != nil {
		s.log.Warn("expiry sweep lock unavailable", zap.Error(err))
		return
	}
	if !acquired {
		s.log.Debug("expiry sweep held by another instance")
		return
	}
	defer func() {
		if err := s.limiter.ReleaseExpirySweep(ctx, token); err != nil {
			s.log.Warn("failed to release expiry sweep lock", zap.Error(err))
		}
	}()

	expired, err := s.findExpiredCredits(ctx)
	if err != nil {
		s.log.Error("failed to list expired credits", zap.Error(err))
		return
	}
	if len(expired) == 0 {
		return
	}

	var writtenOff int
	for _, credit := range expired {
		if err := s.expireCredit(ctx, credit); err != nil {
			s.log.Error("failed to expire credit",
				zap.String("credit_id", credit.ID.String()),
				zap.Error(err),
			)
			continue
		}
		writtenOff++
	}

	s.log.Info("credit expiry sweep finished",
		zap.Int("candidates", len(expired)),
		zap.Int("written_off", writtenOff),
	)
}

// findExpiredCredits reads across tenants: expired grants that have no
// expiry transaction yet. The ledger's idempotency guard makes a credit
// that slips through twice harmless, the NOT EXISTS just keeps the batch
// from rescanning settled rows.
func (s *Scheduler) findExpiredCredits(ctx context.Context) ([]*ledgerdomain.UsageCredit, error) {
	var credits []*ledgerdomain.UsageCredit
	err := s.db.WithContext(db.SkipTenantFilter(ctx)).
		Where(`expires_at IS NOT NULL AND expires_at <= ?
			AND NOT EXISTS (
				SELECT 1 FROM ledger_transactions lt
				WHERE lt.type = ?
				  AND lt.initiating_source_type = ?
				  AND lt.initiating_source_id = usage_credits.id
				  AND lt.livemode = usage_credits.livemode
			)`,
			time.Now().UTC(),
			string(ledgerdomain.TransactionTypeCreditGrantExpired),
			string(ledgerdomain.SourceTypeUsageCredit),
		).
		Order("expires_at ASC, id ASC").
		Limit(sweepBatchSize).
		Find(&credits).Error
	if err != nil {
		return nil, err
	}
	return credits, nil
}

func (s *Scheduler) expireCredit(ctx context.Context, credit *ledgerdomain.UsageCredit) error {
	opts := tenancy.AdminOptions{OrgID: credit.OrgID, Livemode: credit.Livemode}
	return s.establisher.RunAsAdmin(ctx, opts, func(ctx context.Context, tt *tenancy.TenantTx) error {
		result, err := s.ledger.Process(ctx, tt, ledgerdomain.CreditGrantExpired{Credit: credit})
		if err != nil {
			return err
		}
		if !result.AlreadyProcessed {
			s.log.Info("credit written off",
				zap.String("org_id", credit.OrgID.String()),
				zap.String("credit_id", credit.ID.String()),
			)
		}
		return nil
	})
}

func registerHooks(lc fx.Lifecycle, s *Scheduler, cfg config.Config) {
	if !cfg.Scheduler.CreditExpiryEnabled {
		return
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go s.RunForever(loopCtx)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			return nil
		},
	})
}

var Module = fx.Module("scheduler",
	fx.Provide(New),
	fx.Invoke(registerHooks),
)
