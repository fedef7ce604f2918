package service

import (
	"context"
	"errors"
	"time"

	"academy-ledger/internal/clients"
	"academy-ledger/internal/domain"
)

const idempotencyPending = "pending"

type KeyValueStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
}

// IdempotencyStore remembers the response of a write request under the
// client-supplied key so a retry gets the same answer instead of a second
// invoice number.
type IdempotencyStore struct {
	kv  KeyValueStore
	ttl time.Duration
}

func NewIdempotencyStore(kv KeyValueStore, ttl time.Duration) *IdempotencyStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &IdempotencyStore{kv: kv, ttl: ttl}
}

func idempotencyKey(tenantID, scope, key string) string {
	return "idem:" + tenantID + ":" + scope + ":" + key
}

// Begin claims key. When a response was already stored it is returned with
// replay set; a claim still in progress yields ErrRequestInFlight.
func (s *IdempotencyStore) Begin(ctx context.Context, tenantID, scope, key string) (cached []byte, replay bool, err error) {
	k := idempotencyKey(tenantID, scope, key)
	ok, err := s.kv.SetNX(ctx, k, idempotencyPending, s.ttl)
	if err != nil {
		return nil, false, err
	}
	if ok {
		return nil, false, nil
	}

	v, err := s.kv.Get(ctx, k)
	if errors.Is(err, clients.ErrCacheMiss) {
		// expired between the two calls
		v = idempotencyPending
	} else if err != nil {
		return nil, false, err
	}
	if v == idempotencyPending {
		return nil, false, domain.Errorf(domain.ErrRequestInFlight, "a request with this idempotency key is still in progress")
	}
	return []byte(v), true, nil
}

func (s *IdempotencyStore) Complete(ctx context.Context, tenantID, scope, key string, response []byte) error {
	return s.kv.Set(ctx, idempotencyKey(tenantID, scope, key), string(response), s.ttl)
}

// Abort releases the claim so the request can be retried.
func (s *IdempotencyStore) Abort(ctx context.Context, tenantID, scope, key string) error {
	return s.kv.Del(ctx, idempotencyKey(tenantID, scope, key))
}
