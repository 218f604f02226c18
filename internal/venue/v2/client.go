// Package v2 is a reference VenueAdapter for a regulated USD CLOB exchange.
// Unlike venue/v1 there is no on-chain settlement or order signing: orders
// are plain HMAC-authenticated REST requests, same resty transport and
// rate-limit shaping as v1.
package v2

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/arbtrader/arbtrader/internal/types"
	"github.com/arbtrader/arbtrader/internal/venue"
)

// Credentials are the HMAC API credentials for the regulated venue.
type Credentials struct {
	APIKey    string
	APISecret string
}

// Client is the reference V2 adapter.
type Client struct {
	http             *resty.Client
	creds            Credentials
	rl               *venue.RateLimiter
	dryRun           bool
	heartbeatTimeout time.Duration
	onConnLost       func()
	log              zerolog.Logger
}

// Config bundles construction parameters.
type Config struct {
	BaseURL          string
	Credentials      Credentials
	DryRun           bool
	Timeout          time.Duration
	HeartbeatTimeout time.Duration

	// OnConnectionLost fires once the WebSocket reconnect loop exhausts its
	// retry budget, so the composition root can escalate to the circuit
	// breaker with FailureConnLost. Optional.
	OnConnectionLost func()
}

// NewClient builds a V2 adapter.
func NewClient(cfg Config, log zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	heartbeat := cfg.HeartbeatTimeout
	if heartbeat == 0 {
		heartbeat = 15 * time.Second
	}

	return &Client{
		http:             httpClient,
		creds:            cfg.Credentials,
		rl:               venue.DefaultRateLimiter(),
		dryRun:           cfg.DryRun,
		heartbeatTimeout: heartbeat,
		onConnLost:       cfg.OnConnectionLost,
		log:              log.With().Str("component", "venue.v2").Logger(),
	}
}

func (c *Client) Venue() types.Venue { return types.VenueV2 }

func (c *Client) Close() error { return nil }

func (c *Client) authHeaders(method, path, body string) map[string]string {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	message := ts + method + path + body
	mac := hmac.New(sha256.New, []byte(c.creds.APISecret))
	mac.Write([]byte(message))
	sig := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return map[string]string{
		"V2-API-KEY":   c.creds.APIKey,
		"V2-TIMESTAMP": ts,
		"V2-SIGNATURE": sig,
	}
}

type bookResponse struct {
	Bids []struct {
		Price string `json:"price"`
		Size  string `json:"size"`
	} `json:"bids"`
	Asks []struct {
		Price string `json:"price"`
		Size  string `json:"size"`
	} `json:"asks"`
}

// GetOrderBook fetches the top-of-book for a contract.
func (c *Client) GetOrderBook(ctx context.Context, contract string) (types.OrderBook, error) {
	if err := c.rl.WaitBook(ctx); err != nil {
		return types.OrderBook{}, venue.NewError(types.VenueV2, "get_order_book", venue.ErrTransient, err)
	}

	var result bookResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("contract", contract).
		SetResult(&result).
		Get("/orderbook")
	if err != nil {
		return types.OrderBook{}, venue.NewError(types.VenueV2, "get_order_book", venue.ErrTransient, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return types.OrderBook{}, venue.NewError(types.VenueV2, "get_order_book", venue.ErrNotFound, nil)
	}
	if resp.StatusCode() == http.StatusTooManyRequests {
		return types.OrderBook{}, venue.NewError(types.VenueV2, "get_order_book", venue.ErrRateLimited, nil)
	}
	if resp.StatusCode() != http.StatusOK {
		return types.OrderBook{}, venue.NewError(types.VenueV2, "get_order_book", venue.ErrFatal,
			fmt.Errorf("status %d: %s", resp.StatusCode(), resp.String()))
	}

	bids := make([]types.PriceLevel, 0, len(result.Bids))
	for _, b := range result.Bids {
		p, _ := decimal.NewFromString(b.Price)
		s, _ := decimal.NewFromString(b.Size)
		bids = append(bids, types.PriceLevel{Price: p, Size: s})
	}
	asks := make([]types.PriceLevel, 0, len(result.Asks))
	for _, a := range result.Asks {
		p, _ := decimal.NewFromString(a.Price)
		s, _ := decimal.NewFromString(a.Size)
		asks = append(asks, types.PriceLevel{Price: p, Size: s})
	}

	return types.OrderBook{Venue: types.VenueV2, Contract: contract, Bids: bids, Asks: asks, Timestamp: time.Now().UTC()}, nil
}

type placeRequest struct {
	Contract string `json:"contract"`
	Side     string `json:"side"`
	Price    string `json:"price"`
	Quantity string `json:"quantity"`
	Type     string `json:"type"`
}

type placeResponse struct {
	Success   bool   `json:"success"`
	OrderID   string `json:"orderId"`
	ErrorMsg  string `json:"errorMsg,omitempty"`
	FillPrice string `json:"fillPrice,omitempty"`
	FillSize  string `json:"fillSize,omitempty"`
}

// PlaceFOK submits a fill-or-kill order. As with v1, a definitive HTTP
// response is required to declare Rejected; anything else is
// TransportError.
func (c *Client) PlaceFOK(ctx context.Context, order venue.Order) (venue.FillResult, error) {
	if c.dryRun {
		c.log.Info().Str("contract", order.Contract).Msg("dry-run: synthesizing fill")
		return venue.FillResult{
			Outcome:   venue.OutcomeFilled,
			FillPrice: order.Price,
			FillQty:   order.Quantity,
			Fees:      decimal.Zero,
			OrderID:   "dry-run",
			Timestamp: time.Now().UTC(),
		}, nil
	}

	if err := c.rl.WaitOrder(ctx); err != nil {
		return venue.FillResult{}, venue.NewError(types.VenueV2, "place_fok", venue.ErrTransient, err)
	}

	req := placeRequest{
		Contract: order.Contract,
		Side:     string(order.Side),
		Price:    order.Price.String(),
		Quantity: order.Quantity.String(),
		Type:     "FOK",
	}
	body, err := json.Marshal(req)
	if err != nil {
		return venue.FillResult{}, venue.NewError(types.VenueV2, "place_fok", venue.ErrFatal, err)
	}
	headers := c.authHeaders("POST", "/orders", string(body))

	var result placeResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(req).
		SetResult(&result).
		Post("/orders")
	if err != nil {
		return venue.FillResult{Outcome: venue.OutcomeTransportError, TransportDetail: err.Error()}, nil
	}
	if resp.StatusCode() >= 500 {
		return venue.FillResult{Outcome: venue.OutcomeTransportError, TransportDetail: fmt.Sprintf("status %d", resp.StatusCode())}, nil
	}
	if !result.Success {
		return venue.FillResult{Outcome: venue.OutcomeRejected, RejectReason: result.ErrorMsg, OrderID: result.OrderID}, nil
	}

	fillPrice, _ := decimal.NewFromString(result.FillPrice)
	fillQty, _ := decimal.NewFromString(result.FillSize)
	if fillPrice.IsZero() {
		fillPrice = order.Price
	}
	if fillQty.IsZero() {
		fillQty = order.Quantity
	}

	return venue.FillResult{
		Outcome:   venue.OutcomeFilled,
		FillPrice: fillPrice,
		FillQty:   fillQty,
		Fees:      decimal.Zero,
		OrderID:   result.OrderID,
		Timestamp: time.Now().UTC(),
	}, nil
}

type balancesResponse map[string]string

// GetBalances returns per-asset balances.
func (c *Client) GetBalances(ctx context.Context) (venue.Balances, error) {
	headers := c.authHeaders("GET", "/balances", "")
	var result balancesResponse
	resp, err := c.http.R().SetContext(ctx).SetHeaders(headers).SetResult(&result).Get("/balances")
	if err != nil {
		return nil, venue.NewError(types.VenueV2, "get_balances", venue.ErrTransient, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, venue.NewError(types.VenueV2, "get_balances", venue.ErrFatal, fmt.Errorf("status %d", resp.StatusCode()))
	}
	out := make(venue.Balances, len(result))
	for k, v := range result {
		d, _ := decimal.NewFromString(v)
		out[k] = d
	}
	return out, nil
}

type positionResponse struct {
	Contract string `json:"contract"`
	Side     string `json:"side"`
	Quantity string `json:"quantity"`
	AvgPrice string `json:"avgPrice"`
}

// GetPositions returns the pull-path position source of truth.
func (c *Client) GetPositions(ctx context.Context) ([]types.Position, error) {
	headers := c.authHeaders("GET", "/positions", "")
	var result []positionResponse
	resp, err := c.http.R().SetContext(ctx).SetHeaders(headers).SetResult(&result).Get("/positions")
	if err != nil {
		return nil, venue.NewError(types.VenueV2, "get_positions", venue.ErrTransient, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, venue.NewError(types.VenueV2, "get_positions", venue.ErrFatal, fmt.Errorf("status %d", resp.StatusCode()))
	}
	now := time.Now().UTC()
	out := make([]types.Position, 0, len(result))
	for _, p := range result {
		qty, _ := decimal.NewFromString(p.Quantity)
		price, _ := decimal.NewFromString(p.AvgPrice)
		out = append(out, types.Position{
			Venue:     types.VenueV2,
			Contract:  p.Contract,
			Side:      types.Side(p.Side),
			Quantity:  qty,
			AvgPrice:  price,
			UpdatedAt: now,
		})
	}
	return out, nil
}

// SubscribeBook delegates to the WebSocket feed (ws.go).
func (c *Client) SubscribeBook(ctx context.Context, contract string, handler venue.BookHandler) error {
	return c.subscribe(ctx, contract, handler)
}

// CancelOrder cancels a resting order by id.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	if err := c.rl.WaitCancel(ctx); err != nil {
		return venue.NewError(types.VenueV2, "cancel_order", venue.ErrTransient, err)
	}
	headers := c.authHeaders("DELETE", "/orders/"+orderID, "")
	resp, err := c.http.R().SetContext(ctx).SetHeaders(headers).Delete("/orders/" + orderID)
	if err != nil {
		return venue.NewError(types.VenueV2, "cancel_order", venue.ErrTransient, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return venue.NewError(types.VenueV2, "cancel_order", venue.ErrFatal, fmt.Errorf("status %d", resp.StatusCode()))
	}
	return nil
}
