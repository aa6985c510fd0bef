// Package replay enforces single use of payment transaction hashes. A hash
// that has produced one paid response must never produce another, across
// every gateway instance sharing the store.
package replay

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tachi-protocol/gateway/internal/kvs"
)

const keyPrefix = "tx:"

// Guard tracks consumed transaction hashes in the shared key-value store.
type Guard struct {
	store kvs.Store
	ttl   time.Duration
}

// New creates a guard that reserves hashes for ttl.
func New(store kvs.Store, ttl time.Duration) *Guard {
	return &Guard{store: store, ttl: ttl}
}

// Seen reports whether a hash has already been consumed. Used as a cheap
// pre-check before any chain RPC is spent on the proof.
func (g *Guard) Seen(ctx context.Context, txHash string) (bool, error) {
	_, found, err := g.store.Get(ctx, key(txHash))
	if err != nil {
		return false, fmt.Errorf("replay: check %s: %w", txHash, err)
	}
	return found, nil
}

// Claim atomically reserves a hash. Exactly one concurrent caller wins;
// everyone else gets claimed=false and must reject the request.
func (g *Guard) Claim(ctx context.Context, txHash string) (bool, error) {
	claimed, err := g.store.SetNX(ctx, key(txHash), time.Now().UTC().Format(time.RFC3339), g.ttl)
	if err != nil {
		return false, fmt.Errorf("replay: claim %s: %w", txHash, err)
	}
	return claimed, nil
}

func key(txHash string) string {
	return keyPrefix + strings.ToLower(txHash)
}
