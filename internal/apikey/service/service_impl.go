package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/lib/pq"
	"github.com/smallbiznis/flowline/internal/apikey/domain"
	"github.com/smallbiznis/flowline/internal/orgcontext"
	"github.com/smallbiznis/flowline/pkg/db/pagination"
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
	keyRepo repository.Repository[domain.APIKey]
}

func NewService(p Params) domain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("apikey.service"),
		genID:   p.GenID,
		keyRepo: repository.ProvideStore[domain.APIKey](p.DB),
	}
}

func (s *Service) List(ctx context.Context, page pagination.Pagination) (*domain.ListResponse, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}

	size := page.PageSize
	if size < 1 {
		size = 10
	}
	if size > 250 {
		size = 250
	}

	q := s.db.WithContext(ctx).
		Where("org_id = ?", orgID).
		Order("id DESC").
		Limit(size + 1)

	if page.PageToken != "" {
		cursor, err := pagination.DecodeCursor(page.PageToken)
		if err != nil {
			return nil, domain.ErrInvalidPageToken
		}
		afterID, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			return nil, domain.ErrInvalidPageToken
		}
		q = q.Where("id < ?", afterID)
	}

	var keys []*domain.APIKey
	if err := q.Find(&keys).Error; err != nil {
		return nil, err
	}

	pageInfo := pagination.BuildCursorPageInfo(keys, int32(size), func(key *domain.APIKey) string {
		token, _ := pagination.EncodeCursor(pagination.Cursor{
			ID:        key.ID.String(),
			CreatedAt: key.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
		return token
	})
	if len(keys) > size {
		keys = keys[:size]
	}

	out := make([]domain.Response, 0, len(keys))
	for _, key := range keys {
		out = append(out, toResponse(key))
	}
	return &domain.ListResponse{Data: out, PageInfo: pageInfo}, nil
}

func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (*domain.SecretResponse, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}
	keyType := req.KeyType
	if keyType == "" {
		keyType = domain.KeyTypeSecret
	}
	if keyType != domain.KeyTypeSecret && keyType != domain.KeyTypePublishable {
		return nil, domain.ErrInvalidKeyType
	}

	userID, _ := orgcontext.UserIDFromContext(ctx)

	scopes := pq.StringArray(req.Scopes)
	if scopes == nil {
		scopes = pq.StringArray{}
	}

	raw := domain.MintToken(keyType, req.Livemode)
	key := &domain.APIKey{
		ID:        s.genID.Generate(),
		OrgID:     orgID,
		UserID:    userID,
		KeyType:   keyType,
		Name:      name,
		Scopes:    scopes,
		TokenHash: domain.HashToken(raw),
		Livemode:  req.Livemode,
		IsActive:  true,
	}

	if err := s.keyRepo.Create(ctx, key); err != nil {
		return nil, err
	}

	s.log.Info("api key created",
		zap.String("org_id", orgID.String()),
		zap.String("key_id", key.ID.String()),
		zap.Bool("livemode", key.Livemode),
	)

	return &domain.SecretResponse{ID: key.ID.String(), APIKey: raw}, nil
}

func (s *Service) Rotate(ctx context.Context, keyID string) (*domain.SecretResponse, error) {
	key, err := s.findActive(ctx, keyID)
	if err != nil {
		return nil, err
	}

	raw := domain.MintToken(key.KeyType, key.Livemode)
	now := time.Now().UTC()
	if err := s.keyRepo.Update(ctx, key.ID.String(), map[string]any{
		"token_hash": domain.HashToken(raw),
		"updated_at": now,
	}); err != nil {
		return nil, err
	}

	s.log.Info("api key rotated", zap.String("key_id", key.ID.String()))
	return &domain.SecretResponse{ID: key.ID.String(), APIKey: raw}, nil
}

func (s *Service) Revoke(ctx context.Context, keyID string) error {
	key, err := s.findActive(ctx, keyID)
	if err != nil {
		return err
	}

	if err := s.keyRepo.Update(ctx, key.ID.String(), map[string]any{
		"is_active":  false,
		"updated_at": time.Now().UTC(),
	}); err != nil {
		return err
	}

	s.log.Info("api key revoked", zap.String("key_id", key.ID.String()))
	return nil
}

func (s *Service) findActive(ctx context.Context, keyID string) (*domain.APIKey, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}

	id, err := snowflake.ParseString(strings.TrimSpace(keyID))
	if err != nil {
		return nil, domain.ErrNotFound
	}

	key, err := s.keyRepo.FindOne(ctx, &domain.APIKey{ID: id, OrgID: orgID, IsActive: true})
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, domain.ErrNotFound
	}
	return key, nil
}

func toResponse(key *domain.APIKey) domain.Response {
	scopes := make([]string, 0, len(key.Scopes))
	scopes = append(scopes, key.Scopes...)
	return domain.Response{
		ID:         key.ID.String(),
		Name:       key.Name,
		KeyType:    key.KeyType,
		Livemode:   key.Livemode,
		Scopes:     scopes,
		IsActive:   key.IsActive,
		CreatedAt:  key.CreatedAt,
		LastUsedAt: key.LastUsedAt,
		ExpiresAt:  key.ExpiresAt,
	}
}
