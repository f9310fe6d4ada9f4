// Package feed connects to trading venues and turns their messages into
// market updates for the rate store.
package feed

import (
	"context"
	"errors"
	"sort"
	"sync/atomic"
	"time"

	"rate-arb-watch/internal/market"
)

// Publisher accepts normalized updates. The rate store implements it.
type Publisher interface {
	Publish(ctx context.Context, u market.Update) error
}

// Adapter owns one venue connection for its whole lifetime.
type Adapter interface {
	Venue() string
	State() State
	// Run connects, subscribes and streams until ctx is cancelled,
	// reconnecting with backoff after transport errors.
	Run(ctx context.Context, pub Publisher) error
}

// State is the connection lifecycle of an adapter.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateSubscribed
	StateStreaming
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateStreaming:
		return "streaming"
	default:
		return "unknown"
	}
}

type stateHolder struct {
	v atomic.Int32
}

func (h *stateHolder) State() State {
	return State(h.v.Load())
}

func (h *stateHolder) set(s State) State {
	return State(h.v.Swap(int32(s)))
}

// Codec translates one venue's wire format. Decode returns (nil, nil) for
// control frames such as acks and heartbeats, and an error for malformed ones.
type Codec interface {
	Venue() string
	SubscribeMessages() ([][]byte, error)
	Decode(raw []byte, receivedAt time.Time) ([]market.Update, error)
}

// resetter is implemented by codecs holding per-connection state.
type resetter interface {
	Reset()
}

// ErrUnknownSymbol marks a message for a symbol that was never subscribed.
var ErrUnknownSymbol = errors.New("feed: unknown symbol")

// instrumentIndex maps venue symbols back to configured instruments.
type instrumentIndex map[string]market.Instrument

func newInstrumentIndex(venue string, instruments []market.Instrument) instrumentIndex {
	idx := make(instrumentIndex, len(instruments))
	for _, inst := range instruments {
		inst.Venue = venue
		idx[inst.Symbol] = inst
	}
	return idx
}

func (idx instrumentIndex) lookup(symbol string) (market.Instrument, error) {
	if symbol == "" {
		return market.Instrument{}, market.ErrMissingSymbol
	}
	inst, ok := idx[symbol]
	if !ok {
		return market.Instrument{}, ErrUnknownSymbol
	}
	return inst, nil
}

func (idx instrumentIndex) symbols() []string {
	out := make([]string, 0, len(idx))
	for s := range idx {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
