package keeper

import (
	"context"
	"sync"

	"github.com/ksred/klear-vaults/internal/clock"
	"github.com/rs/zerolog/log"
)

// DefaultPriceTTL is how long a quote is reused, in seconds
const DefaultPriceTTL = 10

type quote struct {
	price uint64
	at    int64
}

// priceCache keeps one quote per mint so a pass over many intents on the
// same pair asks the source once.
type priceCache struct {
	source PriceSource
	clock  clock.Clock
	ttl    int64

	mu     sync.Mutex
	quotes map[string]quote
}

func newPriceCache(source PriceSource, c clock.Clock, ttl int64) *priceCache {
	if ttl <= 0 {
		ttl = DefaultPriceTTL
	}
	return &priceCache{
		source: source,
		clock:  c,
		ttl:    ttl,
		quotes: make(map[string]quote),
	}
}

func (c *priceCache) get(ctx context.Context, mint string) (uint64, error) {
	now := c.clock.Now()

	c.mu.Lock()
	q, ok := c.quotes[mint]
	c.mu.Unlock()
	if ok && now-q.at < c.ttl {
		return q.price, nil
	}

	price, err := c.source.Price(ctx, mint)
	if err != nil {
		return 0, err
	}
	log.Debug().Str("mint", mint).Uint64("price", price).Msg("fetched price")

	c.mu.Lock()
	c.quotes[mint] = quote{price: price, at: now}
	c.mu.Unlock()
	return price, nil
}
