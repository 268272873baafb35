// README: Idempotency records: cached responses for retried mutating calls.
package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"yoonu/internal/types"
)

var ErrNotFound = errors.New("idempotency record not found")

// TTL is how long a cached response stays replayable.
const TTL = 24 * time.Hour

// Record is one cached response, keyed by (token, user, endpoint) so a token
// can never replay another user's or another endpoint's response.
type Record struct {
	Token      string
	UserID     types.ID
	Endpoint   string
	StatusCode int
	Body       json.RawMessage
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

// FallbackToken derives a token for clients that sent none. It is coarse on
// purpose: the same user hammering the same endpoint within one second is
// a retry, not two intents.
func FallbackToken(userID types.ID, endpoint string, at time.Time) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s|%s|%d", userID, endpoint, at.Unix()))
	return hex.EncodeToString(sum[:])
}
