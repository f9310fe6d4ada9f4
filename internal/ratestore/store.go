package ratestore

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"rate-arb-watch/internal/market"
)

// ErrStopped is returned when the owner goroutine is no longer running.
var ErrStopped = errors.New("ratestore: store stopped")

// Normalizer rescales updates into canonical currency units before they are stored.
type Normalizer interface {
	NormalizeUpdate(u market.Update) market.Update
}

// Options tune the store channels.
type Options struct {
	// Buffer is the capacity of the inbound update channel.
	Buffer int
}

// Store is the latest-value table of rates and order books keyed by (venue, symbol).
// All mutation happens on the goroutine running Run; other goroutines talk to it
// through channels only.
type Store struct {
	updates   chan market.Update
	requests  chan chan Snapshot
	done      chan struct{}
	norm      Normalizer
	listeners []chan market.Update
	logger    zerolog.Logger

	// owned by Run
	rates map[market.Key]market.Rate
	books map[market.Key]market.OrderBook
}

// New constructs a Store. norm may be nil when no aliases are configured.
func New(opts Options, norm Normalizer, logger zerolog.Logger) *Store {
	if opts.Buffer <= 0 {
		opts.Buffer = 256
	}
	return &Store{
		updates:  make(chan market.Update, opts.Buffer),
		requests: make(chan chan Snapshot),
		done:     make(chan struct{}),
		norm:     norm,
		logger:   logger.With().Str("component", "ratestore").Logger(),
		rates:    make(map[market.Key]market.Rate),
		books:    make(map[market.Key]market.OrderBook),
	}
}

// Subscribe registers a listener for accepted updates. It must be called before Run.
// Updates are dropped for a listener whose buffer is full.
func (s *Store) Subscribe(buffer int) <-chan market.Update {
	ch := make(chan market.Update, buffer)
	s.listeners = append(s.listeners, ch)
	return ch
}

// Publish hands an update to the owner goroutine.
func (s *Store) Publish(ctx context.Context, u market.Update) error {
	select {
	case s.updates <- u:
		return nil
	case <-s.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot asks the owner for a consistent copy of the table.
func (s *Store) Snapshot(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	select {
	case s.requests <- reply:
	case <-s.done:
		return Snapshot{}, ErrStopped
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
	select {
	case snap := <-reply:
		return snap, nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

// Run owns the table until ctx is cancelled. Listener channels are closed on return.
func (s *Store) Run(ctx context.Context) error {
	defer func() {
		close(s.done)
		for _, l := range s.listeners {
			close(l)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case u := <-s.updates:
			s.apply(u)
		case reply := <-s.requests:
			reply <- s.snapshot()
		}
	}
}

func (s *Store) apply(u market.Update) {
	if s.norm != nil {
		u = s.norm.NormalizeUpdate(u)
	}
	if err := u.Validate(); err != nil {
		s.logger.Warn().Err(err).Str("key", u.Key().String()).Msg("rejecting update")
		return
	}

	key := u.Key()
	if prev, ok := s.rates[key]; ok && prev.ObservedAt.After(u.ObservedAt()) {
		s.logger.Debug().Str("key", key.String()).Time("observed_at", u.ObservedAt()).Msg("dropping out-of-order update")
		return
	}
	if u.Book != nil {
		book := u.Book.Clone()
		book.Sort()
		s.books[key] = book
		s.rates[key] = book.TopOfBook()
		u = market.BookUpdate(book.Clone())
	} else {
		s.rates[key] = *u.Rate
		// A ticker newer than the stored book supersedes it.
		if book, ok := s.books[key]; ok && !book.ObservedAt.After(u.Rate.ObservedAt) {
			delete(s.books, key)
		}
	}
	if r := s.rates[key]; r.Crossed() {
		s.logger.Debug().Str("key", key.String()).Str("bid", r.Bid.String()).Str("ask", r.Ask.String()).Msg("crossed quote")
	}

	for _, l := range s.listeners {
		select {
		case l <- u:
		default:
		}
	}
}

func (s *Store) snapshot() Snapshot {
	snap := Snapshot{
		rates: make(map[market.Key]market.Rate, len(s.rates)),
		books: make(map[market.Key]market.OrderBook, len(s.books)),
		taken: time.Now().UTC(),
	}
	for k, r := range s.rates {
		snap.rates[k] = r
	}
	for k, b := range s.books {
		snap.books[k] = b.Clone()
	}
	return snap
}

// Snapshot is an immutable copy of the table at one instant.
type Snapshot struct {
	rates map[market.Key]market.Rate
	books map[market.Key]market.OrderBook
	taken time.Time
}

// NewSnapshot builds a snapshot from literal values, for callers that evaluate
// without a running store.
func NewSnapshot(rates []market.Rate, books []market.OrderBook) Snapshot {
	snap := Snapshot{
		rates: make(map[market.Key]market.Rate, len(rates)+len(books)),
		books: make(map[market.Key]market.OrderBook, len(books)),
		taken: time.Now().UTC(),
	}
	for _, r := range rates {
		snap.rates[r.Key()] = r
	}
	for _, b := range books {
		b = b.Clone()
		b.Sort()
		snap.books[b.Key()] = b
		snap.rates[b.Key()] = b.TopOfBook()
	}
	return snap
}

// TakenAt is when the owner produced the snapshot.
func (s Snapshot) TakenAt() time.Time {
	return s.taken
}

// Len is the number of keys holding a rate.
func (s Snapshot) Len() int {
	return len(s.rates)
}

// Rate returns the latest quote for key.
func (s Snapshot) Rate(key market.Key) (market.Rate, bool) {
	r, ok := s.rates[key]
	return r, ok
}

// Book returns the latest order book for key, or a one-level book built from
// the ticker when the venue only streams quotes.
func (s Snapshot) Book(key market.Key) (market.OrderBook, bool) {
	if b, ok := s.books[key]; ok {
		return b, true
	}
	if r, ok := s.rates[key]; ok {
		return market.BookFromRate(r), true
	}
	return market.OrderBook{}, false
}

// Rates lists every quote ordered by venue then symbol.
func (s Snapshot) Rates() []market.Rate {
	out := make([]market.Rate, 0, len(s.rates))
	for _, r := range s.rates {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Venue != out[j].Venue {
			return out[i].Venue < out[j].Venue
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out
}
