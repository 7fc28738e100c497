package broker

import (
	"strings"
	"sync"

	"github.com/shopspring/decimal"
)

// PriceCache is a concurrency-safe last-price table. The mark-price stream
// writes into it; the risk manager reads from it.
type PriceCache struct {
	mu     sync.RWMutex
	prices map[string]decimal.Decimal
}

func NewPriceCache() *PriceCache {
	return &PriceCache{prices: map[string]decimal.Decimal{}}
}

func (c *PriceCache) Set(symbol string, price decimal.Decimal) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" || price.LessThanOrEqual(decimal.Zero) {
		return
	}
	c.mu.Lock()
	c.prices[symbol] = price
	c.mu.Unlock()
}

func (c *PriceCache) LastPrice(symbol string) (decimal.Decimal, bool) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	c.mu.RLock()
	price, ok := c.prices[symbol]
	c.mu.RUnlock()
	return price, ok
}
