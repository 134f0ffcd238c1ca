package domain

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/flowline/pkg/db/pagination"
)

const (
	ScopeUsageWrite   = "usage:write"
	ScopeLedgerRead   = "ledger:read"
	ScopeCreditsWrite = "credits:write"
)

type Service interface {
	List(ctx context.Context, page pagination.Pagination) (*ListResponse, error)
	Create(ctx context.Context, req CreateRequest) (*SecretResponse, error)
	Rotate(ctx context.Context, keyID string) (*SecretResponse, error)
	Revoke(ctx context.Context, keyID string) error
}

type CreateRequest struct {
	Name     string   `json:"name"`
	KeyType  KeyType  `json:"key_type"`
	Livemode bool     `json:"livemode"`
	Scopes   []string `json:"scopes"`
}

type Response struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	KeyType    KeyType    `json:"key_type"`
	Livemode   bool       `json:"livemode"`
	Scopes     []string   `json:"scopes"`
	IsActive   bool       `json:"is_active"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at"`
	ExpiresAt  *time.Time `json:"expires_at"`
}

type SecretResponse struct {
	ID     string `json:"id"`
	APIKey string `json:"api_key"`
}

type ListResponse struct {
	Data     []Response           `json:"data"`
	PageInfo *pagination.PageInfo `json:"page_info"`
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidName         = errors.New("invalid_name")
	ErrInvalidKeyType      = errors.New("invalid_key_type")
	ErrNotFound            = errors.New("not_found")
	ErrInvalidPageToken    = errors.New("invalid_page_token")
)
