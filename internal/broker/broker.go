package broker

import (
	"context"

	"github.com/shopspring/decimal"
)

// Broker is the brokerage capability consumed by the follow core. Errors
// returned by implementations are classified with IsCredential / IsTransient
// / IsVenueReject so callers can tell a fatal auth problem from a hiccup.
type Broker interface {
	GetPositions(ctx context.Context) ([]Position, error)
	PlaceOrder(ctx context.Context, intent OrderIntent) (*Fill, error)
	MarkPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// PriceSource answers "what did the market last trade at" without a network
// round trip. The websocket stream keeps a cache warm; REST fills gaps.
type PriceSource interface {
	LastPrice(symbol string) (decimal.Decimal, bool)
}
