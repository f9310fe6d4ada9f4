package feed

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"rate-arb-watch/internal/market"
)

// HitBTCURL is the public v2 websocket endpoint.
const HitBTCURL = "wss://api.hitbtc.com/api/2/ws/public"

// HitBTCCodec speaks the JSON-RPC subscribeTicker stream.
type HitBTCCodec struct {
	venue string
	index instrumentIndex
}

// NewHitBTCCodec builds a codec for instruments on venue.
func NewHitBTCCodec(venue string, instruments []market.Instrument) *HitBTCCodec {
	return &HitBTCCodec{venue: venue, index: newInstrumentIndex(venue, instruments)}
}

func (c *HitBTCCodec) Venue() string { return c.venue }

func (c *HitBTCCodec) SubscribeMessages() ([][]byte, error) {
	out := make([][]byte, 0, len(c.index))
	for i, symbol := range c.index.symbols() {
		msg, err := json.Marshal(map[string]any{
			"method": "subscribeTicker",
			"params": map[string]string{"symbol": symbol},
			"id":     i + 1,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, nil
}

type hitbtcMessage struct {
	Method string `json:"method"`
	Params *struct {
		Symbol    string `json:"symbol"`
		Bid       string `json:"bid"`
		Ask       string `json:"ask"`
		Timestamp string `json:"timestamp"`
	} `json:"params"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *HitBTCCodec) Decode(raw []byte, receivedAt time.Time) ([]market.Update, error) {
	var msg hitbtcMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("hitbtc: decode: %w", err)
	}
	if msg.Error != nil {
		return nil, fmt.Errorf("hitbtc: venue error %d: %s", msg.Error.Code, msg.Error.Message)
	}
	if msg.Method != "ticker" {
		return nil, nil
	}
	if msg.Params == nil {
		return nil, fmt.Errorf("hitbtc: ticker without params: %w", market.ErrMissingSymbol)
	}

	inst, err := c.index.lookup(msg.Params.Symbol)
	if err != nil {
		return nil, fmt.Errorf("hitbtc: %w", err)
	}
	bid, err := decimal.NewFromString(msg.Params.Bid)
	if err != nil {
		return nil, fmt.Errorf("hitbtc: bid %q: %w", msg.Params.Bid, err)
	}
	ask, err := decimal.NewFromString(msg.Params.Ask)
	if err != nil {
		return nil, fmt.Errorf("hitbtc: ask %q: %w", msg.Params.Ask, err)
	}

	observed := receivedAt
	if ts, err := time.Parse(time.RFC3339Nano, msg.Params.Timestamp); err == nil {
		observed = ts.UTC()
	}

	return []market.Update{market.RateUpdate(market.Rate{
		Instrument: inst,
		Bid:        bid,
		Ask:        ask,
		ObservedAt: observed,
	})}, nil
}

var _ Codec = (*HitBTCCodec)(nil)
