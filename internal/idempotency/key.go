// Package idempotency derives deterministic submission keys for offline sales.
package idempotency

import (
	"fmt"

	"github.com/google/uuid"
)

// namespace is a fixed UUID namespace for sale submission keys. Changing it
// would re-key every unsynced sale, so it is frozen.
var namespace = uuid.MustParse("7b2f6c1e-9d4a-4f8e-b1c3-5a0e8d92f417")

// Key derives the idempotency key for one offline sale. The key is a UUIDv5
// over (tenant, store, cashier, local id), so a retried submission after a
// dropped response carries the same key and the backend can deduplicate it.
// The local id never reaches the server as the sale's identity; only this
// derived key does.
func Key(tenantID, storeID, cashierID string, localID int64) string {
	name := fmt.Sprintf("%s:%s:%s:%d", tenantID, storeID, cashierID, localID)
	return uuid.NewSHA1(namespace, []byte(name)).String()
}

// Validate returns an error if s is not a well-formed key.
func Validate(s string) error {
	if _, err := uuid.Parse(s); err != nil {
		return fmt.Errorf("invalid idempotency key %q: %w", s, err)
	}
	return nil
}
