package feed

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"rate-arb-watch/internal/market"
)

// BybitURL is the public v5 spot websocket endpoint.
const BybitURL = "wss://stream.bybit.com/v5/public/spot"

const bybitBookTopic = "orderbook.1."

// BybitCodec tracks the level-1 order book. Snapshots replace the local
// book, deltas patch it; a zero quantity removes the level.
type BybitCodec struct {
	venue string
	index instrumentIndex
	books map[string]*bybitBook
}

type bybitBook struct {
	bids map[string]decimal.Decimal
	asks map[string]decimal.Decimal
}

// NewBybitCodec builds a codec for instruments on venue.
func NewBybitCodec(venue string, instruments []market.Instrument) *BybitCodec {
	return &BybitCodec{
		venue: venue,
		index: newInstrumentIndex(venue, instruments),
		books: make(map[string]*bybitBook),
	}
}

func (c *BybitCodec) Venue() string { return c.venue }

// Reset drops local books; the next connection starts from snapshots.
func (c *BybitCodec) Reset() {
	c.books = make(map[string]*bybitBook)
}

func (c *BybitCodec) SubscribeMessages() ([][]byte, error) {
	symbols := c.index.symbols()
	args := make([]string, 0, len(symbols))
	for _, s := range symbols {
		args = append(args, bybitBookTopic+s)
	}
	msg, err := json.Marshal(map[string]any{"op": "subscribe", "args": args})
	if err != nil {
		return nil, err
	}
	return [][]byte{msg}, nil
}

type bybitMessage struct {
	Topic string `json:"topic"`
	Type  string `json:"type"`
	TS    int64  `json:"ts"`
	Data  *struct {
		Symbol string     `json:"s"`
		Bids   [][]string `json:"b"`
		Asks   [][]string `json:"a"`
	} `json:"data"`
	Op      string `json:"op"`
	Success *bool  `json:"success"`
	RetMsg  string `json:"ret_msg"`
}

func (c *BybitCodec) Decode(raw []byte, receivedAt time.Time) ([]market.Update, error) {
	var msg bybitMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("bybit: decode: %w", err)
	}
	if msg.Op != "" {
		if msg.Success != nil && !*msg.Success {
			return nil, fmt.Errorf("bybit: %s rejected: %s", msg.Op, msg.RetMsg)
		}
		return nil, nil
	}
	if !strings.HasPrefix(msg.Topic, bybitBookTopic) {
		return nil, nil
	}
	if msg.Data == nil {
		return nil, fmt.Errorf("bybit: %s without data", msg.Topic)
	}

	symbol := msg.Data.Symbol
	if symbol == "" {
		symbol = strings.TrimPrefix(msg.Topic, bybitBookTopic)
	}
	inst, err := c.index.lookup(symbol)
	if err != nil {
		return nil, fmt.Errorf("bybit: %w", err)
	}

	book, ok := c.books[symbol]
	switch msg.Type {
	case "snapshot":
		book = &bybitBook{bids: map[string]decimal.Decimal{}, asks: map[string]decimal.Decimal{}}
		c.books[symbol] = book
	case "delta":
		if !ok {
			// delta before snapshot; wait for the next snapshot
			return nil, nil
		}
	default:
		return nil, fmt.Errorf("bybit: unexpected message type %q", msg.Type)
	}
	if err := book.apply(msg.Data.Bids, msg.Data.Asks); err != nil {
		return nil, fmt.Errorf("bybit: %w", err)
	}

	observed := receivedAt
	if msg.TS > 0 {
		observed = time.UnixMilli(msg.TS).UTC()
	}
	ob := market.OrderBook{
		Instrument: inst,
		Bids:       sideLevels(book.bids),
		Asks:       sideLevels(book.asks),
		ObservedAt: observed,
	}
	if len(ob.Bids) == 0 || len(ob.Asks) == 0 {
		return nil, nil
	}
	return []market.Update{market.BookUpdate(ob)}, nil
}

func (b *bybitBook) apply(bids, asks [][]string) error {
	if err := patchSide(b.bids, bids); err != nil {
		return fmt.Errorf("bids: %w", err)
	}
	if err := patchSide(b.asks, asks); err != nil {
		return fmt.Errorf("asks: %w", err)
	}
	return nil
}

func patchSide(side map[string]decimal.Decimal, rows [][]string) error {
	levels, err := market.ParseLevels(rows)
	if err != nil {
		return err
	}
	for _, l := range levels {
		key := l.Price.String()
		if l.Quantity.IsZero() {
			delete(side, key)
			continue
		}
		side[key] = l.Quantity
	}
	return nil
}

func sideLevels(side map[string]decimal.Decimal) []market.Level {
	out := make([]market.Level, 0, len(side))
	for p, q := range side {
		price, err := decimal.NewFromString(p)
		if err != nil {
			continue
		}
		out = append(out, market.Level{Price: price, Quantity: q})
	}
	return out
}

var _ Codec = (*BybitCodec)(nil)
