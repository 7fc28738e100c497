package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"followtrader/internal/broker"
)

// MarkPriceStream keeps a PriceCache warm from the futures mark-price
// websocket feed. It reconnects with a flat backoff; a dead stream degrades
// the risk manager to REST lookups, it never blocks a follow cycle.
type MarkPriceStream struct {
	Logger  *zap.Logger
	URL     string
	Symbols []string
	Cache   *broker.PriceCache
}

type markPriceEvent struct {
	EventType string `json:"e"`
	Symbol    string `json:"s"`
	MarkPrice string `json:"p"`
}

func (s *MarkPriceStream) Run(ctx context.Context) error {
	if s == nil || s.Cache == nil {
		return nil
	}
	url := s.streamURL()
	if url == "" {
		return fmt.Errorf("missing stream url or symbols")
	}
	for {
		err := s.readLoop(ctx, url)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if s.Logger != nil {
			s.Logger.Warn("mark price stream disconnected", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
		}
	}
}

func (s *MarkPriceStream) readLoop(ctx context.Context, url string) error {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = conn.Close(websocket.StatusNormalClosure, "shutdown")
	}()
	conn.SetReadLimit(1 << 20)

	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		var ev markPriceEvent
		if err := json.Unmarshal(msg, &ev); err != nil {
			continue
		}
		if ev.EventType != "markPriceUpdate" {
			continue
		}
		price, err := decimal.NewFromString(strings.TrimSpace(ev.MarkPrice))
		if err != nil {
			continue
		}
		s.Cache.Set(ev.Symbol, price)
	}
}

// Combined-stream path: /ws/btcusdt@markPrice/ethusdt@markPrice.
func (s *MarkPriceStream) streamURL() string {
	base := strings.TrimRight(strings.TrimSpace(s.URL), "/")
	if base == "" || len(s.Symbols) == 0 {
		return ""
	}
	parts := make([]string, 0, len(s.Symbols))
	for _, sym := range s.Symbols {
		sym = strings.ToLower(strings.TrimSpace(sym))
		if sym == "" {
			continue
		}
		parts = append(parts, sym+"@markPrice")
	}
	if len(parts) == 0 {
		return ""
	}
	return base + "/" + strings.Join(parts, "/")
}
