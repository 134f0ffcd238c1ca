package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/flowline/internal/identity"
	ledgerdomain "github.com/smallbiznis/flowline/internal/ledger/domain"
	ledgerservice "github.com/smallbiznis/flowline/internal/ledger/service"
	meterdomain "github.com/smallbiznis/flowline/internal/meter/domain"
	subscriptiondomain "github.com/smallbiznis/flowline/internal/subscription/domain"
	"github.com/smallbiznis/flowline/internal/telemetry"
	"github.com/smallbiznis/flowline/internal/tenancy"
	"github.com/smallbiznis/flowline/internal/usage/domain"
	"github.com/smallbiznis/flowline/pkg/db"
)

type Params struct {
	fx.In

	Log         *zap.Logger
	GenID       *snowflake.Node
	Establisher *tenancy.Establisher
	Ledger      *ledgerservice.Service
	Metrics     *telemetry.Metrics `optional:"true"`
}

// Service accepts usage events and drives them through the ledger inside a
// single tenant transaction: the event row, the transaction header, its
// entries, and any credit applications commit or roll back together.
type Service struct {
	log         *zap.Logger
	genID       *snowflake.Node
	establisher *tenancy.Establisher
	ledger      *ledgerservice.Service
	metrics     *telemetry.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		log:         p.Log.Named("usage.service"),
		genID:       p.GenID,
		establisher: p.Establisher,
		ledger:      p.Ledger,
		metrics:     p.Metrics,
	}
}

func (s *Service) Ingest(ctx context.Context, id identity.Identity, req domain.IngestRequest) (*domain.IngestResult, error) {
	if req.Amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	idempotencyKey := strings.TrimSpace(req.IdempotencyKey)
	if idempotencyKey == "" {
		return nil, domain.ErrInvalidIdempotency
	}
	subscriptionID, err := snowflake.ParseString(strings.TrimSpace(req.SubscriptionID))
	if err != nil {
		return nil, domain.ErrInvalidSubscription
	}
	meterCode := strings.TrimSpace(req.MeterCode)
	if meterCode == "" {
		return nil, domain.ErrInvalidMeter
	}

	var out *domain.IngestResult
	err = s.establisher.RunAsTenant(ctx, id, func(ctx context.Context, tt *tenancy.TenantTx) error {
		subscription, err := s.findSubscription(ctx, tt, subscriptionID)
		if err != nil {
			return err
		}
		meter, err := s.findMeter(ctx, tt, meterCode)
		if err != nil {
			return err
		}

		event, replayed, err := s.findOrCreateEvent(ctx, tt, subscription, meter, req, idempotencyKey)
		if err != nil {
			return err
		}

		result, err := s.ledger.Process(ctx, tt, ledgerdomain.UsageEventProcessed{Event: event})
		if err != nil {
			return err
		}

		var applied int64
		for _, application := range result.Applications {
			applied += application.Amount
		}
		if result.AlreadyProcessed {
			// A replay carries no fresh applications. Report what the
			// original run applied.
			applied, err = s.appliedForEvent(ctx, tt, event.ID)
			if err != nil {
				return err
			}
		}

		if !replayed {
			s.metrics.RecordUsageEvent(meter.Code)
		}

		out = &domain.IngestResult{
			EventID:          event.ID.String(),
			TransactionID:    result.Transaction.ID.String(),
			ChargedAmount:    event.Amount,
			CreditApplied:    applied,
			AlreadyProcessed: replayed || result.AlreadyProcessed,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("usage event ingested",
		zap.String("org_id", id.OrgID.String()),
		zap.String("event_id", out.EventID),
		zap.Int64("amount", out.ChargedAmount),
		zap.Int64("credit_applied", out.CreditApplied),
		zap.Bool("already_processed", out.AlreadyProcessed),
	)
	return out, nil
}

func (s *Service) appliedForEvent(ctx context.Context, tt *tenancy.TenantTx, eventID snowflake.ID) (int64, error) {
	var applied int64
	err := tt.Tx.WithContext(ctx).
		Model(&ledgerdomain.UsageCreditApplication{}).
		Where("usage_event_id = ? AND status = ?", eventID, ledgerdomain.EntryStatusPosted).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&applied).Error
	if err != nil {
		return 0, err
	}
	return applied, nil
}

func (s *Service) findSubscription(ctx context.Context, tt *tenancy.TenantTx, subscriptionID snowflake.ID) (*subscriptiondomain.Subscription, error) {
	var subscription subscriptiondomain.Subscription
	err := tt.Tx.WithContext(ctx).
		Where("id = ? AND status = ?", subscriptionID, subscriptiondomain.SubscriptionStatusActive).
		First(&subscription).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrInvalidSubscription
		}
		return nil, err
	}
	return &subscription, nil
}

func (s *Service) findMeter(ctx context.Context, tt *tenancy.TenantTx, code string) (*meterdomain.UsageMeter, error) {
	var meter meterdomain.UsageMeter
	err := tt.Tx.WithContext(ctx).
		Where("code = ?", code).
		First(&meter).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrInvalidMeter
		}
		return nil, err
	}
	return &meter, nil
}

// findOrCreateEvent inserts the event row, or returns the committed row when
// the (subscription, idempotency key) pair has been seen before. A replayed
// key flows on into the ledger, whose own guard makes reprocessing a no-op.
func (s *Service) findOrCreateEvent(
	ctx context.Context,
	tt *tenancy.TenantTx,
	subscription *subscriptiondomain.Subscription,
	meter *meterdomain.UsageMeter,
	req domain.IngestRequest,
	idempotencyKey string,
) (*domain.UsageEvent, bool, error) {
	recordedAt := time.Now().UTC()
	if req.RecordedAt != nil {
		recordedAt = req.RecordedAt.UTC()
	}
	properties := req.Properties
	if properties == nil {
		properties = map[string]any{}
	}

	event := &domain.UsageEvent{
		ID:             s.genID.Generate(),
		OrgID:          tt.OrgID,
		SubscriptionID: subscription.ID,
		UsageMeterID:   meter.ID,
		Amount:         req.Amount,
		IdempotencyKey: idempotencyKey,
		Livemode:       tt.Livemode,
		Properties:     properties,
		RecordedAt:     recordedAt,
	}

	err := tt.Tx.WithContext(ctx).Create(event).Error
	if err == nil {
		return event, false, nil
	}
	if !db.IsDuplicateKeyErr(err) {
		return nil, false, err
	}

	var existing domain.UsageEvent
	if err := tt.Tx.WithContext(ctx).
		Where("subscription_id = ? AND idempotency_key = ?", subscription.ID, idempotencyKey).
		First(&existing).Error; err != nil {
		return nil, false, err
	}
	return &existing, true, nil
}
