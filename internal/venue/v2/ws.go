package v2

import (
	"context"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/arbtrader/arbtrader/internal/types"
	"github.com/arbtrader/arbtrader/internal/venue"
)

type wsPolicy struct {
	Initial    time.Duration
	Max        time.Duration
	MaxRetries int
}

func defaultWSPolicy() wsPolicy {
	return wsPolicy{Initial: time.Second, Max: 30 * time.Second, MaxRetries: 5}
}

var wsURLOverride string

func (c *Client) wsEndpoint() string {
	if wsURLOverride != "" {
		return wsURLOverride
	}
	u := url.URL{Scheme: "wss", Host: "ws.v2.example.com", Path: "/orderbook"}
	return u.String()
}

type bookPush struct {
	Contract string `json:"contract"`
	Bids     []struct {
		Price string `json:"price"`
		Size  string `json:"size"`
	} `json:"bids"`
	Asks []struct {
		Price string `json:"price"`
		Size  string `json:"size"`
	} `json:"asks"`
	Timestamp int64 `json:"ts"`
}

func (c *Client) subscribe(ctx context.Context, contract string, handler venue.BookHandler) error {
	go c.connectionLoop(ctx, contract, handler)
	return nil
}

func (c *Client) connectionLoop(ctx context.Context, contract string, handler venue.BookHandler) {
	policy := defaultWSPolicy()
	backoff := policy.Initial
	attempts := 0

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.wsEndpoint(), nil)
		if err != nil {
			attempts++
			c.log.Warn().Err(err).Int("attempt", attempts).Msg("v2 ws dial failed")
			if attempts >= policy.MaxRetries {
				c.log.Error().Msg("v2 ws reconnect exhausted")
				if c.onConnLost != nil {
					c.onConnLost()
				}
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > policy.Max {
				backoff = policy.Max
			}
			continue
		}

		attempts = 0
		backoff = policy.Initial
		c.readLoop(ctx, conn, contract, handler)
	}
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, contract string, handler venue.BookHandler) {
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		conn.Close()
		close(done)
	}()

	sub := map[string]string{"type": "subscribe", "contract": contract}
	if err := conn.WriteJSON(sub); err != nil {
		c.log.Warn().Err(err).Msg("v2 ws subscribe failed")
		return
	}

	for {
		conn.SetReadDeadline(time.Now().Add(c.heartbeatTimeout))

		var push bookPush
		if err := conn.ReadJSON(&push); err != nil {
			select {
			case <-done:
			default:
				c.log.Warn().Err(err).Msg("v2 ws read failed, reconnecting")
			}
			return
		}

		bids := make([]types.PriceLevel, 0, len(push.Bids))
		for _, b := range push.Bids {
			p, _ := decimal.NewFromString(b.Price)
			s, _ := decimal.NewFromString(b.Size)
			bids = append(bids, types.PriceLevel{Price: p, Size: s})
		}
		asks := make([]types.PriceLevel, 0, len(push.Asks))
		for _, a := range push.Asks {
			p, _ := decimal.NewFromString(a.Price)
			s, _ := decimal.NewFromString(a.Size)
			asks = append(asks, types.PriceLevel{Price: p, Size: s})
		}

		handler(types.OrderBook{
			Venue:     types.VenueV2,
			Contract:  push.Contract,
			Bids:      bids,
			Asks:      asks,
			Timestamp: time.UnixMilli(push.Timestamp).UTC(),
		})
	}
}
