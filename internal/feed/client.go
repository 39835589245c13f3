package feed

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"
	"github.com/yanun0323/pkg/ws"

	"overlord/internal/schema"
)

// Client consumes normalized quote frames from the market-data pipeline
// over a websocket.
type Client struct {
	wss *ws.WebSocket
}

// NewClient creates a feed client for the given endpoint.
func NewClient(ctx context.Context, endpoint string) *Client {
	return &Client{wss: ws.New(ctx, endpoint)}
}

// Start opens the websocket.
func (c *Client) Start(ctx context.Context) error {
	if err := c.wss.Start(ctx); err != nil {
		return errors.Wrap(err, "start quote feed")
	}
	return nil
}

// Close tears the connection down.
func (c *Client) Close() {
	c.wss.Close()
}

type subscribeRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

type subscribeResponse struct {
	ID     int64 `json:"id"`
	Result any   `json:"result"`
}

// Subscribe requests quote streams for the given symbols and waits for
// the acknowledgement.
func (c *Client) Subscribe(ctx context.Context, symbols []string) error {
	if err := c.wss.SendAndWait(ctx, ws.Sidecar{
		Sender: func(ctx context.Context, ws *ws.WebSocket) error {
			payload := subscribeRequest{
				Method: "SUBSCRIBE",
				Params: symbols,
				ID:     1,
			}
			if err := ws.WriteJSON(payload); err != nil {
				return errors.Wrap(err, "write subscribe payload").With("payload", payload)
			}
			return nil
		},
		Waiter: func(ctx context.Context, m ws.Message) (bool, error) {
			var resp subscribeResponse
			if err := m.Unmarshal(&resp); err != nil || resp.ID != 1 {
				return false, nil
			}
			if resp.Result != nil {
				return false, errors.Errorf("subscribe quotes, err: %+v", resp.Result)
			}
			return true, nil
		},
	}, true); err != nil {
		return errors.Wrap(err, "send and wait")
	}
	return nil
}

// quoteFrame is the normalized wire format produced by the market-data
// pipeline. Prices and sizes travel as strings to keep precision.
type quoteFrame struct {
	Type      string `json:"type"`
	Symbol    string `json:"symbol"`
	Venue     string `json:"venue"`
	BidPrice  string `json:"bidPrice"`
	BidSize   string `json:"bidSize"`
	AskPrice  string `json:"askPrice"`
	AskSize   string `json:"askSize"`
	Timestamp int64  `json:"ts"` // unix milliseconds
}

// ObserveQuotes delivers parsed quotes to the handler until the context
// is done. Malformed frames are logged and skipped.
func (c *Client) ObserveQuotes(ctx context.Context, handler func(schema.Quote)) (unsubscribe func()) {
	ch, cancel := c.wss.Subscribe()

	go func() {
		defer cancel()
		for {
			select {
			case <-sys.Shutdown():
				return
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}

				frame, ok := ws.ReadMessage[quoteFrame](m)
				if !ok || frame.Type != "quote" {
					continue
				}

				quote, err := parseQuote(frame)
				if err != nil {
					logs.Warnf("malformed quote frame: %+v", err)
					continue
				}
				handler(quote)
			}
		}
	}()

	return cancel
}

func parseQuote(frame quoteFrame) (schema.Quote, error) {
	if frame.Symbol == "" || frame.Venue == "" {
		return schema.Quote{}, errors.New("quote frame missing symbol or venue")
	}

	quote := schema.Quote{
		Symbol:    frame.Symbol,
		Venue:     frame.Venue,
		Timestamp: time.UnixMilli(frame.Timestamp).UTC(),
	}

	var err error
	if quote.BidPrice, err = decimal.NewFromString(frame.BidPrice); err != nil {
		return schema.Quote{}, errors.Wrap(err, "bid price")
	}
	if quote.BidSize, err = decimal.NewFromString(frame.BidSize); err != nil {
		return schema.Quote{}, errors.Wrap(err, "bid size")
	}
	if quote.AskPrice, err = decimal.NewFromString(frame.AskPrice); err != nil {
		return schema.Quote{}, errors.Wrap(err, "ask price")
	}
	if quote.AskSize, err = decimal.NewFromString(frame.AskSize); err != nil {
		return schema.Quote{}, errors.Wrap(err, "ask size")
	}
	return quote, nil
}
