package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/flowline/internal/credit/domain"
	"github.com/smallbiznis/flowline/internal/identity"
	ledgerdomain "github.com/smallbiznis/flowline/internal/ledger/domain"
	ledgerservice "github.com/smallbiznis/flowline/internal/ledger/service"
	meterdomain "github.com/smallbiznis/flowline/internal/meter/domain"
	"github.com/smallbiznis/flowline/internal/tenancy"
)

type Params struct {
	fx.In

	Log         *zap.Logger
	GenID       *snowflake.Node
	Establisher *tenancy.Establisher
	Ledger      *ledgerservice.Service
}

// Service drives credit grants and corrections through the ledger. Credit
// never changes outside a ledger transaction; the rows here are only ever
// written together with their recognition entries.
type Service struct {
	log         *zap.Logger
	genID       *snowflake.Node
	establisher *tenancy.Establisher
	ledger      *ledgerservice.Service
}

func NewService(p Params) domain.Service {
	return &Service{
		log:         p.Log.Named("credit.service"),
		genID:       p.GenID,
		establisher: p.Establisher,
		ledger:      p.Ledger,
	}
}

func (s *Service) Grant(ctx context.Context, id identity.Identity, req domain.GrantRequest) (*domain.GrantResult, error) {
	if req.Amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	subscriptionID, err := snowflake.ParseString(strings.TrimSpace(req.SubscriptionID))
	if err != nil {
		return nil, domain.ErrInvalidSubscription
	}

	var out *domain.GrantResult
	err = s.establisher.RunAsTenant(ctx, id, func(ctx context.Context, tt *tenancy.TenantTx) error {
		meter, err := s.findMeter(ctx, tt, req.MeterCode)
		if err != nil {
			return err
		}

		credit := &ledgerdomain.UsageCredit{
			ID:             s.genID.Generate(),
			OrgID:          tt.OrgID,
			SubscriptionID: subscriptionID,
			UsageMeterID:   meter.ID,
			CreditType:     ledgerdomain.CreditTypePromo,
			IssuedAmount:   req.Amount,
			ExpiresAt:      req.ExpiresAt,
			Livemode:       tt.Livemode,
		}
		if err := tt.Tx.WithContext(ctx).Create(credit).Error; err != nil {
			return err
		}

		result, err := s.ledger.Process(ctx, tt, ledgerdomain.PromoCreditGranted{Credit: credit})
		if err != nil {
			return err
		}

		out = &domain.GrantResult{
			CreditID:         credit.ID.String(),
			TransactionID:    result.Transaction.ID.String(),
			Amount:           credit.IssuedAmount,
			ExpiresAt:        credit.ExpiresAt,
			AlreadyProcessed: result.AlreadyProcessed,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("promo credit granted",
		zap.String("org_id", id.OrgID.String()),
		zap.String("credit_id", out.CreditID),
		zap.Int64("amount", out.Amount),
	)
	return out, nil
}

func (s *Service) Adjust(ctx context.Context, id identity.Identity, req domain.AdjustRequest) (*domain.AdjustResult, error) {
	if req.Amount == 0 {
		return nil, domain.ErrInvalidAmount
	}
	adjustmentID, err := snowflake.ParseString(strings.TrimSpace(req.AdjustmentID))
	if err != nil {
		return nil, domain.ErrInvalidAdjustment
	}
	subscriptionID, err := snowflake.ParseString(strings.TrimSpace(req.SubscriptionID))
	if err != nil {
		return nil, domain.ErrInvalidSubscription
	}

	var out *domain.AdjustResult
	err = s.establisher.RunAsTenant(ctx, id, func(ctx context.Context, tt *tenancy.TenantTx) error {
		meter, err := s.findMeter(ctx, tt, req.MeterCode)
		if err != nil {
			return err
		}

		result, err := s.ledger.Process(ctx, tt, ledgerdomain.AdminCreditAdjusted{
			AdjustmentID:   adjustmentID,
			SubscriptionID: subscriptionID,
			UsageMeterID:   meter.ID,
			Amount:         req.Amount,
			Reason:         req.Reason,
		})
		if err != nil {
			return err
		}

		out = &domain.AdjustResult{
			TransactionID:    result.Transaction.ID.String(),
			Amount:           req.Amount,
			AlreadyProcessed: result.AlreadyProcessed,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("credit balance adjusted",
		zap.String("org_id", id.OrgID.String()),
		zap.String("adjustment_id", req.AdjustmentID),
		zap.Int64("amount", req.Amount),
	)
	return out, nil
}

func (s *Service) Balance(ctx context.Context, id identity.Identity, req domain.BalanceRequest) (*domain.BalanceResult, error) {
	accountID, err := snowflake.ParseString(strings.TrimSpace(req.AccountID))
	if err != nil {
		return nil, domain.ErrInvalidAccount
	}
	mode := ledgerdomain.BalanceMode(req.Mode)
	if mode == "" {
		mode = ledgerdomain.BalancePosted
	}

	var out *domain.BalanceResult
	err = s.establisher.RunAsTenant(ctx, id, func(ctx context.Context, tt *tenancy.TenantTx) error {
		result, err := s.ledger.Balance(ctx, tt, accountID, mode)
		if err != nil {
			return err
		}
		out = &domain.BalanceResult{
			AccountID: result.Account.ID.String(),
			Mode:      string(result.Mode),
			Amount:    result.Amount,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) findMeter(ctx context.Context, tt *tenancy.TenantTx, code string) (*meterdomain.UsageMeter, error) {
	var meter meterdomain.UsageMeter
	err := tt.Tx.WithContext(ctx).
		Where("code = ?", strings.TrimSpace(code)).
		First(&meter).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrInvalidMeter
		}
		return nil, err
	}
	return &meter, nil
}
