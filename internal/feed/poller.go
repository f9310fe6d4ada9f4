package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"rate-arb-watch/internal/market"
)

// PollSource fetches a full set of quotes on demand.
type PollSource interface {
	Venue() string
	Poll(ctx context.Context) ([]market.Update, error)
}

// PollerOptions parameterise a polling adapter.
type PollerOptions struct {
	Interval         time.Duration
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration
}

// Poller adapts a request/response venue to the Adapter lifecycle.
type Poller struct {
	stateHolder
	src    PollSource
	opts   PollerOptions
	logger zerolog.Logger
}

// NewPoller constructs a Poller around src.
func NewPoller(src PollSource, opts PollerOptions, logger zerolog.Logger) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Second
	}
	return &Poller{
		src:    src,
		opts:   opts,
		logger: logger.With().Str("component", "feed").Str("venue", src.Venue()).Logger(),
	}
}

// Venue returns the venue name.
func (p *Poller) Venue() string {
	return p.src.Venue()
}

// Run polls on the configured interval; failures back off exponentially.
func (p *Poller) Run(ctx context.Context, pub Publisher) error {
	backoff := NewBackoff(p.opts.ReconnectInitial, p.opts.ReconnectMax)
	p.set(StateConnecting)
	defer p.set(StateDisconnected)

	for {
		wait := p.opts.Interval
		if err := p.pollOnce(ctx, pub); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.set(StateDisconnected)
			wait = backoff.Next()
			p.logger.Warn().Err(err).Dur("retry_in", wait).Msg("poll failed")
		} else {
			backoff.Reset()
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context, pub Publisher) error {
	if p.State() == StateDisconnected {
		p.set(StateConnecting)
	}
	updates, err := p.src.Poll(ctx)
	if err != nil {
		return err
	}
	if p.State() != StateStreaming {
		p.set(StateSubscribed)
	}
	for _, u := range updates {
		if err := pub.Publish(ctx, u); err != nil {
			return fmt.Errorf("publish: %w", err)
		}
	}
	if len(updates) > 0 {
		p.set(StateStreaming)
	}
	return nil
}

var _ Adapter = (*Poller)(nil)
