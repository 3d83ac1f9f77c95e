package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// Key derivation is deterministic within a time bucket and changes across
// buckets, so a client retry after an ambiguous timeout collapses into
// the original delivery while a genuine later repurchase does not.
func TestBalanceIdempotencyKey_StableWithinBucket(t *testing.T) {
	o := &Orchestrator{}
	in := PurchaseIntent{
		AccountID:      "acc-1",
		RecipientPhone: "0241234567",
		Network:        NetworkYello,
		BundleSize:     5,
	}

	base := time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)

	o.now = func() time.Time { return base }
	first := o.balanceIdempotencyKey(in)

	o.now = func() time.Time { return base.Add(2 * time.Minute) }
	assert.Equal(t, first, o.balanceIdempotencyKey(in), "same bucket, same key")

	o.now = func() time.Time { return base.Add(10 * time.Minute) }
	assert.NotEqual(t, first, o.balanceIdempotencyKey(in), "later bucket, fresh key")
}

func TestBalanceIdempotencyKey_VariesByIntent(t *testing.T) {
	o := &Orchestrator{now: func() time.Time {
		return time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)
	}}

	a := PurchaseIntent{AccountID: "acc-1", RecipientPhone: "0241234567", Network: NetworkYello, BundleSize: 5}
	b := a
	b.RecipientPhone = "0249999999"
	c := a
	c.BundleSize = 2

	assert.NotEqual(t, o.balanceIdempotencyKey(a), o.balanceIdempotencyKey(b))
	assert.NotEqual(t, o.balanceIdempotencyKey(a), o.balanceIdempotencyKey(c))
}

func TestSessionIdempotencyKey_KeyedByReference(t *testing.T) {
	assert.Equal(t, sessionIdempotencyKey("PS-1"), sessionIdempotencyKey("PS-1"))
	assert.NotEqual(t, sessionIdempotencyKey("PS-1"), sessionIdempotencyKey("PS-2"))
}
