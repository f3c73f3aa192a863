package query

import (
	"CoverLedger/internal/core"
	"CoverLedger/internal/ledger"
	"CoverLedger/internal/projection"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// CachedStore wraps a primary Store with a Redis read-through cache for
// party balances. Entries are invalidated by the projection worker after
// each commit, so the TTL only bounds staleness if an invalidation is lost.
// A Redis failure falls through to the primary.
type CachedStore struct {
	Store
	rdb    *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
	onHit  func(hit bool)
}

func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration, logger zerolog.Logger) *CachedStore {
	return &CachedStore{
		Store:  primary,
		rdb:    rdb,
		ttl:    ttl,
		logger: logger,
	}
}

// OnLookup registers a callback invoked with the outcome of each cache read.
func (s *CachedStore) OnLookup(fn func(hit bool)) { s.onHit = fn }

// PartyKey is the Redis key holding a party's projected accounts.
func PartyKey(scope, entityID string) string {
	return fmt.Sprintf("cover:party:%s:%s", scope, entityID)
}

func (s *CachedStore) PartyAccounts(ctx context.Context, scope, entityID string) ([]AccountBalance, error) {
	key := PartyKey(scope, entityID)

	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var accounts []AccountBalance
		if json.Unmarshal(data, &accounts) == nil {
			s.lookup(true)
			return accounts, nil
		}
	} else if err != redis.Nil {
		s.logger.Debug().Err(err).Str("key", key).Msg("cache read failed")
	}
	s.lookup(false)

	accounts, err := s.Store.PartyAccounts(ctx, scope, entityID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(accounts); err == nil {
		if err := s.rdb.Set(ctx, key, data, s.ttl).Err(); err != nil {
			s.logger.Debug().Err(err).Str("key", key).Msg("cache write failed")
		}
	}
	return accounts, nil
}

// AfterApply drops the cached accounts of every party the output touched.
func (s *CachedStore) AfterApply(ctx context.Context, out core.CoreOutput) {
	keys := TouchedPartyKeys(out.Balances)
	if len(keys) == 0 {
		return
	}
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		s.logger.Warn().Err(err).Int("keys", len(keys)).Msg("cache invalidation failed")
	}
}

// TouchedPartyKeys returns the distinct party cache keys for a set of
// touched ledger accounts.
func TouchedPartyKeys(balances map[ledger.AccountKey]int64) []string {
	seen := make(map[string]bool)
	var keys []string
	for acct := range balances {
		if !acct.IsParty() {
			continue
		}
		scope, entity, _, _ := projection.AccountColumns(acct.AccountPath())
		key := PartyKey(scope, entity)
		if !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

func (s *CachedStore) lookup(hit bool) {
	if s.onHit != nil {
		s.onHit(hit)
	}
}
