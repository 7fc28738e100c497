package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	"followtrader/internal/broker"
)

// TargetPosition is one entry of an agent's published position book.
type TargetPosition struct {
	Symbol     string          `json:"symbol"`
	Side       broker.Side     `json:"side"`
	Quantity   decimal.Decimal `json:"quantity"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	Leverage   int             `json:"leverage"`
}

// Feed is the remote agent collaborator: who holds what right now.
type Feed interface {
	TargetBook(ctx context.Context, agentID string) ([]TargetPosition, error)
}

type Client struct {
	host       string
	httpClient *http.Client
}

type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("agent feed error (%d): %s", e.Status, e.Body)
}

func NewClient(httpClient *http.Client, host string) *Client {
	host = strings.TrimRight(strings.TrimSpace(host), "/")
	return &Client{
		host:       host,
		httpClient: httpClient,
	}
}

func (c *Client) TargetBook(ctx context.Context, agentID string) ([]TargetPosition, error) {
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return nil, fmt.Errorf("agent id is required")
	}
	if c.host == "" {
		return nil, fmt.Errorf("agent feed host is not configured")
	}
	fullURL := c.host + "/agents/" + url.PathEscape(agentID) + "/positions"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Status: resp.StatusCode, Body: string(body)}
	}
	var book []TargetPosition
	if err := json.Unmarshal(body, &book); err != nil {
		return nil, fmt.Errorf("failed to decode target book: %w", err)
	}
	out := make([]TargetPosition, 0, len(book))
	for _, target := range book {
		target.Symbol = strings.ToUpper(strings.TrimSpace(target.Symbol))
		if target.Symbol == "" || target.Quantity.LessThanOrEqual(decimal.Zero) {
			continue
		}
		if target.Side != broker.SideShort {
			target.Side = broker.SideLong
		}
		if target.Leverage <= 0 {
			target.Leverage = 1
		}
		out = append(out, target)
	}
	return out, nil
}
