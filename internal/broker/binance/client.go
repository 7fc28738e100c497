package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"followtrader/internal/broker"
)

const defaultBaseURL = "https://fapi.binance.com"

// Client talks to the USDT-margined futures REST API. Credentials may be
// empty; signed endpoints then fail with a CredentialError instead of a
// venue round trip.
type Client struct {
	host       string
	apiKey     string
	apiSecret  string
	recvWindow time.Duration
	httpClient *http.Client
}

func NewClient(httpClient *http.Client, host, apiKey, apiSecret string, recvWindow time.Duration) *Client {
	if host == "" {
		host = defaultBaseURL
	}
	host = strings.TrimRight(host, "/")
	if recvWindow <= 0 {
		recvWindow = 5 * time.Second
	}
	return &Client{
		host:       host,
		apiKey:     strings.TrimSpace(apiKey),
		apiSecret:  strings.TrimSpace(apiSecret),
		recvWindow: recvWindow,
		httpClient: httpClient,
	}
}

func (c *Client) signed() bool {
	return c.apiKey != "" && c.apiSecret != ""
}

func (c *Client) sign(query url.Values) string {
	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	mac.Write([]byte(query.Encode()))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *Client) doRequest(ctx context.Context, op, method, path string, query url.Values, sign bool) ([]byte, error) {
	if query == nil {
		query = url.Values{}
	}
	if sign {
		if !c.signed() {
			return nil, &broker.CredentialError{Op: op}
		}
		query.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
		query.Set("recvWindow", strconv.FormatInt(c.recvWindow.Milliseconds(), 10))
		query.Set("signature", c.sign(query))
	}
	fullURL := c.host + path
	if len(query) > 0 {
		fullURL = fullURL + "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-MBX-APIKEY", c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &broker.TransientError{Op: op, Err: err}
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &broker.TransientError{Op: op, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(op, resp.StatusCode, body)
	}
	return body, nil
}

// Binance error payloads carry a negative code; -2014/-2015 are the API-key
// rejections.
type apiErrorBody struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func classifyStatus(op string, status int, body []byte) error {
	var payload apiErrorBody
	_ = json.Unmarshal(body, &payload)
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &broker.CredentialError{Op: op, Err: fmt.Errorf("status %d: %s", status, payload.Msg)}
	case payload.Code == -2014 || payload.Code == -2015:
		return &broker.CredentialError{Op: op, Err: fmt.Errorf("code %d: %s", payload.Code, payload.Msg)}
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500:
		return &broker.TransientError{Op: op, Err: fmt.Errorf("status %d: %s", status, string(body))}
	default:
		return &broker.VenueError{Op: op, Status: status, Code: payload.Code, Msg: payload.Msg}
	}
}

func (c *Client) GetPositions(ctx context.Context) ([]broker.Position, error) {
	body, err := c.doRequest(ctx, "get_positions", http.MethodGet, "/fapi/v2/positionRisk", nil, true)
	if err != nil {
		return nil, err
	}
	var rows []positionRisk
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode positions: %w", err)
	}
	out := make([]broker.Position, 0, len(rows))
	for _, row := range rows {
		pos, ok := row.toPosition()
		if !ok {
			continue
		}
		out = append(out, pos)
	}
	return out, nil
}

func (c *Client) PlaceOrder(ctx context.Context, intent broker.OrderIntent) (*broker.Fill, error) {
	symbol := strings.ToUpper(strings.TrimSpace(intent.Symbol))
	if symbol == "" {
		return nil, &broker.VenueError{Op: "place_order", Msg: "empty symbol"}
	}
	query := url.Values{}
	query.Set("symbol", symbol)
	query.Set("side", orderSide(intent))
	query.Set("positionSide", string(intent.Side))
	query.Set("type", "MARKET")
	query.Set("quantity", intent.Quantity.String())
	query.Set("newOrderRespType", "RESULT")
	if intent.Action == broker.ActionClose {
		query.Set("reduceOnly", "true")
	}
	body, err := c.doRequest(ctx, "place_order", http.MethodPost, "/fapi/v1/order", query, true)
	if err != nil {
		return nil, err
	}
	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode order response: %w", err)
	}
	return resp.toFill(intent), nil
}

func (c *Client) MarkPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return decimal.Zero, fmt.Errorf("symbol is required")
	}
	query := url.Values{}
	query.Set("symbol", symbol)
	body, err := c.doRequest(ctx, "mark_price", http.MethodGet, "/fapi/v1/premiumIndex", query, false)
	if err != nil {
		return decimal.Zero, err
	}
	var resp premiumIndex
	if err := json.Unmarshal(body, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("failed to decode mark price: %w", err)
	}
	price, err := decimal.NewFromString(resp.MarkPrice)
	if err != nil {
		return decimal.Zero, fmt.Errorf("bad mark price %q: %w", resp.MarkPrice, err)
	}
	return price, nil
}

// orderSide maps a position-book intent onto a venue order side: opening a
// short and closing a long are both sells.
func orderSide(intent broker.OrderIntent) string {
	long := intent.Side == broker.SideLong
	closing := intent.Action == broker.ActionClose
	if long != closing {
		return "BUY"
	}
	return "SELL"
}
