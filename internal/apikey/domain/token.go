package domain

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	secretLivePrefix      = "sk_live_"
	secretTestPrefix      = "sk_test_"
	publishableLivePrefix = "pk_live_"
	publishableTestPrefix = "pk_test_"
)

// MintToken generates a new raw API key token. Only its hash is persisted;
// the raw value is shown to the caller exactly once.
func MintToken(keyType KeyType, livemode bool) string {
	id := ulid.MustNew(ulid.Timestamp(time.Now().UTC()), rand.Reader)
	return fmt.Sprintf("%s%s", tokenPrefix(keyType, livemode), id.String())
}

func tokenPrefix(keyType KeyType, livemode bool) string {
	switch {
	case keyType == KeyTypePublishable && livemode:
		return publishableLivePrefix
	case keyType == KeyTypePublishable:
		return publishableTestPrefix
	case livemode:
		return secretLivePrefix
	default:
		return secretTestPrefix
	}
}

// HashToken hashes the raw API key using the same strategy as key creation.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
