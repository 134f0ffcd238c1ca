package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/flowline/internal/organization/domain"
	"github.com/smallbiznis/flowline/pkg/db"
	"github.com/smallbiznis/flowline/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	orgRepo repository.Repository[domain.Organization]
}

func NewService(p Params) *Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("organization.service"),
		genID:   p.GenID,
		orgRepo: repository.ProvideStore[domain.Organization](p.DB),
	}
}

// Create registers a tenant, deriving a unique slug from the display name.
func (s *Service) Create(ctx context.Context, name string) (*domain.Organization, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}

	org := &domain.Organization{
		ID:   s.genID.Generate(),
		Name: name,
		Slug: slug.Make(name),
	}

	if err := s.orgRepo.Create(ctx, org); err != nil {
		if db.IsDuplicateKeyErr(err) {
			org.Slug = fmt.Sprintf("%s-%s", org.Slug, org.ID.String())
			if retryErr := s.orgRepo.Create(ctx, org); retryErr != nil {
				return nil, retryErr
			}
			return org, nil
		}
		return nil, err
	}

	s.log.Info("organization created",
		zap.String("org_id", org.ID.String()),
		zap.String("slug", org.Slug),
	)
	return org, nil
}

// GetByID loads one organization.
func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (*domain.Organization, error) {
	org, err := s.orgRepo.FindOne(ctx, &domain.Organization{ID: id})
	if err != nil {
		return nil, err
	}
	if org == nil {
		return nil, domain.ErrOrganizationNotFound
	}
	return org, nil
}
