package v1

import (
	"context"
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/arbtrader/arbtrader/internal/types"
	"github.com/arbtrader/arbtrader/internal/venue"
)

// Credentials are the L2 API credentials HMAC-signing every authenticated
// request, bootstrapped out of band (derive-api-key flow, not modeled here).
type Credentials struct {
	APIKey     string
	APISecret  string
	Passphrase string
}

// Client is the reference V1 adapter: resty REST transport, EIP-712 order
// signing, per-category rate limiting.
type Client struct {
	http             *resty.Client
	signer           *signer
	creds            Credentials
	rl               *venue.RateLimiter
	dryRun           bool
	heartbeatTimeout time.Duration
	onConnLost       func()
	log              zerolog.Logger
}

// Config bundles the construction parameters a composition root supplies.
type Config struct {
	BaseURL          string
	PrivateKey       *ecdsa.PrivateKey
	SignerAddress    common.Address
	FunderAddress    common.Address
	Credentials      Credentials
	DryRun           bool
	Timeout          time.Duration
	HeartbeatTimeout time.Duration

	// OnConnectionLost fires once the WebSocket reconnect loop exhausts its
	// retry budget, so the composition root can escalate to the circuit
	// breaker with FailureConnLost. Optional.
	OnConnectionLost func()
}

// NewClient builds a V1 adapter.
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
		signer:           newSigner(cfg.PrivateKey, cfg.SignerAddress, cfg.FunderAddress),
		creds:            cfg.Credentials,
		rl:               venue.DefaultRateLimiter(),
		dryRun:           cfg.DryRun,
		heartbeatTimeout: heartbeat,
		onConnLost:       cfg.OnConnectionLost,
		log:              log.With().Str("component", "venue.v1").Logger(),
	}
}

func (c *Client) Venue() types.Venue { return types.VenueV1 }

func (c *Client) Close() error { return nil }

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
		return types.OrderBook{}, venue.NewError(types.VenueV1, "get_order_book", venue.ErrTransient, err)
	}

	var result bookResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("token_id", contract).
		SetResult(&result).
		Get("/book")
	if err != nil {
		return types.OrderBook{}, venue.NewError(types.VenueV1, "get_order_book", venue.ErrTransient, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return types.OrderBook{}, venue.NewError(types.VenueV1, "get_order_book", venue.ErrNotFound, nil)
	}
	if resp.StatusCode() == http.StatusTooManyRequests {
		return types.OrderBook{}, venue.NewError(types.VenueV1, "get_order_book", venue.ErrRateLimited, nil)
	}
	if resp.StatusCode() != http.StatusOK {
		return types.OrderBook{}, venue.NewError(types.VenueV1, "get_order_book", venue.ErrFatal,
			fmt.Errorf("status %d: %s", resp.StatusCode(), resp.String()))
	}

	return decodeBook(contract, result, time.Now().UTC()), nil
}

func decodeBook(contract string, r bookResponse, ts time.Time) types.OrderBook {
	bids := make([]types.PriceLevel, 0, len(r.Bids))
	for _, b := range r.Bids {
		p, _ := decimal.NewFromString(b.Price)
		s, _ := decimal.NewFromString(b.Size)
		bids = append(bids, types.PriceLevel{Price: p, Size: s})
	}
	asks := make([]types.PriceLevel, 0, len(r.Asks))
	for _, a := range r.Asks {
		p, _ := decimal.NewFromString(a.Price)
		s, _ := decimal.NewFromString(a.Size)
		asks = append(asks, types.PriceLevel{Price: p, Size: s})
	}
	return types.OrderBook{Venue: types.VenueV1, Contract: contract, Bids: bids, Asks: asks, Timestamp: ts}
}

type orderPayload struct {
	Order     map[string]interface{} `json:"order"`
	Signature string                  `json:"signature"`
	Owner     string                  `json:"owner"`
	OrderType string                  `json:"orderType"`
}

func (so *signedOrder) toPayload(owner string) orderPayload {
	o := so.order
	return orderPayload{
		Order: map[string]interface{}{
			"salt":          o.Salt.String(),
			"maker":         o.Maker.Hex(),
			"signer":        o.Signer.Hex(),
			"taker":         o.Taker.Hex(),
			"tokenId":       o.TokenID.String(),
			"makerAmount":   o.MakerAmount.String(),
			"takerAmount":   o.TakerAmount.String(),
			"expiration":    o.Expiration.String(),
			"nonce":         o.Nonce.String(),
			"feeRateBps":    o.FeeRateBps.String(),
			"side":          fmt.Sprintf("%d", o.Side),
			"signatureType": fmt.Sprintf("%d", o.SignatureType),
		},
		Signature: so.signature,
		Owner:     owner,
		OrderType: "FOK",
	}
}

// hmacSign produces the base64 HMAC-SHA256 signature that l2Headers puts in
// the L2 auth headers, as the teacher's exec/client.go signs every
// authenticated request.
func (c *Client) hmacSign(method, path, body string, ts int64) string {
	message := fmt.Sprintf("%d%s%s%s", ts, method, path, body)
	mac := hmac.New(sha256.New, []byte(c.creds.APISecret))
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (c *Client) l2Headers(method, path, body string) map[string]string {
	ts := time.Now().Unix()
	return map[string]string{
		"POLY-API-KEY":       c.creds.APIKey,
		"POLY-PASSPHRASE":    c.creds.Passphrase,
		"POLY-TIMESTAMP":     strconv.FormatInt(ts, 10),
		"POLY-SIGNATURE":     c.hmacSign(method, path, body, ts),
	}
}

type placeResponse struct {
	Success   bool   `json:"success"`
	OrderID   string `json:"orderID"`
	Status    string `json:"status"`
	ErrorMsg  string `json:"errorMsg,omitempty"`
	FillPrice string `json:"fillPrice,omitempty"`
	FillSize  string `json:"fillSize,omitempty"`
}

// PlaceFOK submits a signed fill-or-kill order. Per SPEC_FULL.md §4.1, a
// Rejected response here guarantees no fill; anything that fails to produce
// a definitive HTTP response is surfaced as TransportError, never silently
// folded into Rejected.
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
		return venue.FillResult{}, venue.NewError(types.VenueV1, "place_fok", venue.ErrTransient, err)
	}

	signed, err := c.signer.createAndSign(order.Contract, order.Side, order.Price, order.Quantity)
	if err != nil {
		return venue.FillResult{}, venue.NewError(types.VenueV1, "place_fok", venue.ErrFatal, err)
	}
	payload := signed.toPayload(c.creds.APIKey)
	body, err := json.Marshal(payload)
	if err != nil {
		return venue.FillResult{}, venue.NewError(types.VenueV1, "place_fok", venue.ErrFatal, err)
	}
	headers := c.l2Headers("POST", "/order", string(body))

	var result placeResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(payload).
		SetResult(&result).
		Post("/order")
	if err != nil {
		// No definitive response observed — the order may or may not have
		// reached the venue. Never call this Rejected.
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

// GetBalances returns the account's per-asset balances.
func (c *Client) GetBalances(ctx context.Context) (venue.Balances, error) {
	headers := c.l2Headers("GET", "/balances", "")
	var result balancesResponse
	resp, err := c.http.R().SetContext(ctx).SetHeaders(headers).SetResult(&result).Get("/balances")
	if err != nil {
		return nil, venue.NewError(types.VenueV1, "get_balances", venue.ErrTransient, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, venue.NewError(types.VenueV1, "get_balances", venue.ErrFatal, fmt.Errorf("status %d", resp.StatusCode()))
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

// GetPositions is the pull-path source of truth the core reconciles
// against after any TransportError.
func (c *Client) GetPositions(ctx context.Context) ([]types.Position, error) {
	headers := c.l2Headers("GET", "/positions", "")
	var result []positionResponse
	resp, err := c.http.R().SetContext(ctx).SetHeaders(headers).SetResult(&result).Get("/positions")
	if err != nil {
		return nil, venue.NewError(types.VenueV1, "get_positions", venue.ErrTransient, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, venue.NewError(types.VenueV1, "get_positions", venue.ErrFatal, fmt.Errorf("status %d", resp.StatusCode()))
	}
	now := time.Now().UTC()
	out := make([]types.Position, 0, len(result))
	for _, p := range result {
		qty, _ := decimal.NewFromString(p.Quantity)
		price, _ := decimal.NewFromString(p.AvgPrice)
		out = append(out, types.Position{
			Venue:     types.VenueV1,
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
		return venue.NewError(types.VenueV1, "cancel_order", venue.ErrTransient, err)
	}
	headers := c.l2Headers("DELETE", "/order/"+orderID, "")
	resp, err := c.http.R().SetContext(ctx).SetHeaders(headers).Delete("/order/" + orderID)
	if err != nil {
		return venue.NewError(types.VenueV1, "cancel_order", venue.ErrTransient, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return venue.NewError(types.VenueV1, "cancel_order", venue.ErrFatal, fmt.Errorf("status %d", resp.StatusCode()))
	}
	return nil
}
