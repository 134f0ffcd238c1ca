package orgcontext

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
)

// OrgContextKey is the request context key for the active organization ID.
type OrgContextKey struct{}

// LivemodeContextKey is the request context key for the livemode partition.
type LivemodeContextKey struct{}

// WithOrgID stores the org ID in the context.
func WithOrgID(ctx context.Context, orgID int64) context.Context {
	return context.WithValue(ctx, OrgContextKey{}, orgID)
}

// WithLivemode stores the livemode flag in the context.
func WithLivemode(ctx context.Context, livemode bool) context.Context {
	return context.WithValue(ctx, LivemodeContextKey{}, livemode)
}

// OrgIDFromContext returns the org ID from context, if set.
func OrgIDFromContext(ctx context.Context) (snowflake.ID, bool) {
	if ctx == nil {
		return 0, false
	}

	value := ctx.Value(OrgContextKey{})
	switch typed := value.(type) {
	case int64:
		return snowflake.ID(typed), true
	case snowflake.ID:
		return typed, true
	case string:
		parsed, err := snowflake.ParseString(strings.TrimSpace(typed))
		if err == nil {
			return parsed, true
		}
	}
	return 0, false
}

// UserContextKey is the request context key for the acting user ID.
type UserContextKey struct{}

// WithUserID stores the acting user ID in the context.
func WithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, UserContextKey{}, userID)
}

// UserIDFromContext returns the acting user ID from context, if set.
func UserIDFromContext(ctx context.Context) (snowflake.ID, bool) {
	if ctx == nil {
		return 0, false
	}
	if typed, ok := ctx.Value(UserContextKey{}).(int64); ok {
		return snowflake.ID(typed), true
	}
	return 0, false
}

// LivemodeFromContext returns the livemode flag from context. Absent means live.
func LivemodeFromContext(ctx context.Context) (bool, bool) {
	if ctx == nil {
		return false, false
	}
	if typed, ok := ctx.Value(LivemodeContextKey{}).(bool); ok {
		return typed, true
	}
	return false, false
}
