// Package seed bootstraps a fresh deployment with a default organization
// and owner so the instance is usable before any signup flow exists.
package seed

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/smallbiznis/flowline/internal/config"
	orgdomain "github.com/smallbiznis/flowline/internal/organization/domain"
	"github.com/smallbiznis/flowline/pkg/db"
)

const (
	defaultOrgName = "Main"
	defaultOrgSlug = "main"
)

// EnsureDefaultOrgAndOwner is idempotent: reruns on restart find the
// existing rows and change nothing.
func EnsureDefaultOrgAndOwner(conn *gorm.DB, cfg config.Config) error {
	if conn == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := db.SkipTenantFilter(context.Background())
	return conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		org, err := ensureDefaultOrg(ctx, tx, node, cfg.DefaultOrgID)
		if err != nil {
			return err
		}

		email := strings.ToLower(strings.TrimSpace(cfg.Bootstrap.DefaultOwnerEmail))
		if email == "" {
			return nil
		}

		user, err := ensureOwnerUser(ctx, tx, node, email, cfg.Bootstrap.DefaultOwnerPassword)
		if err != nil {
			return err
		}
		return ensureOwnerMembership(ctx, tx, node, org.ID, user.ID)
	})
}

func ensureDefaultOrg(ctx context.Context, tx *gorm.DB, node *snowflake.Node, fixedID int64) (*orgdomain.Organization, error) {
	var org orgdomain.Organization
	err := tx.WithContext(ctx).Where("slug = ?", defaultOrgSlug).First(&org).Error
	if err == nil {
		return &org, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	id := node.Generate()
	if fixedID != 0 {
		id = snowflake.ID(fixedID)
	}
	now := time.Now().UTC()
	org = orgdomain.Organization{
		ID:        id,
		Name:      defaultOrgName,
		Slug:      defaultOrgSlug,
		IsDefault: true,
		Metadata:  map[string]any{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tx.WithContext(ctx).Create(&org).Error; err != nil {
		return nil, err
	}
	return &org, nil
}

func ensureOwnerUser(ctx context.Context, tx *gorm.DB, node *snowflake.Node, email, password string) (*orgdomain.User, error) {
	var user orgdomain.User
	err := tx.WithContext(ctx).Where("email = ?", email).First(&user).Error
	if err == nil {
		return &user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	var hash []byte
	if password != "" {
		hash, err = bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	user = orgdomain.User{
		ID:           node.Generate(),
		Email:        email,
		Name:         "Owner",
		PasswordHash: string(hash),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := tx.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func ensureOwnerMembership(ctx context.Context, tx *gorm.DB, node *snowflake.Node, orgID, userID snowflake.ID) error {
	var membership orgdomain.Membership
	err := tx.WithContext(ctx).
		Where("org_id = ? AND user_id = ?", orgID, userID).
		First(&membership).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	now := time.Now().UTC()
	membership = orgdomain.Membership{
		ID:        node.Generate(),
		OrgID:     orgID,
		UserID:    userID,
		Role:      orgdomain.RoleOwner,
		Focused:   true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return tx.WithContext(ctx).Create(&membership).Error
}
