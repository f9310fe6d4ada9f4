package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// StreamOptions parameterise a websocket adapter.
type StreamOptions struct {
	URL              string
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration
	PingInterval     time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	UserAgent        string
}

// Stream is a websocket adapter driven by a venue Codec.
type Stream struct {
	stateHolder
	codec  Codec
	opts   StreamOptions
	dialer websocket.Dialer
	logger zerolog.Logger
}

// NewStream constructs a Stream for codec.
func NewStream(codec Codec, opts StreamOptions, logger zerolog.Logger) *Stream {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 60 * time.Second
	}
	return &Stream{
		codec:  codec,
		opts:   opts,
		dialer: websocket.Dialer{HandshakeTimeout: 10 * time.Second, Proxy: http.ProxyFromEnvironment},
		logger: logger.With().Str("component", "feed").Str("venue", codec.Venue()).Logger(),
	}
}

// Venue returns the venue name.
func (s *Stream) Venue() string {
	return s.codec.Venue()
}

// Run keeps a session alive until ctx is cancelled.
func (s *Stream) Run(ctx context.Context, pub Publisher) error {
	backoff := NewBackoff(s.opts.ReconnectInitial, s.opts.ReconnectMax)
	for {
		streamed, err := s.session(ctx, pub)
		s.transition(StateDisconnected)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if streamed {
			backoff.Reset()
		}

		wait := backoff.Next()
		s.logger.Warn().Err(err).Dur("retry_in", wait).Msg("venue connection lost")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// session runs one connection. streamed reports whether any update was delivered.
func (s *Stream) session(ctx context.Context, pub Publisher) (streamed bool, err error) {
	s.transition(StateConnecting)
	if r, ok := s.codec.(resetter); ok {
		r.Reset()
	}

	header := http.Header{}
	if s.opts.UserAgent != "" {
		header.Set("User-Agent", s.opts.UserAgent)
	}
	conn, _, err := s.dialer.DialContext(ctx, s.opts.URL, header)
	if err != nil {
		return false, fmt.Errorf("dial %s: %w", s.opts.URL, err)
	}
	defer conn.Close()

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-sessionCtx.Done()
		_ = conn.Close()
	}()

	msgs, err := s.codec.SubscribeMessages()
	if err != nil {
		return false, fmt.Errorf("build subscriptions: %w", err)
	}
	for _, msg := range msgs {
		_ = conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return false, fmt.Errorf("subscribe: %w", err)
		}
	}
	s.transition(StateSubscribed)

	extend := func() { _ = conn.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout)) }
	extend()
	conn.SetPongHandler(func(string) error {
		extend()
		return nil
	})
	if s.opts.PingInterval > 0 {
		go s.keepAlive(sessionCtx, conn)
	}

	for {
		_, raw, err := conn.ReadMessage()
		receivedAt := time.Now().UTC()
		if err != nil {
			if ctx.Err() != nil {
				return streamed, ctx.Err()
			}
			return streamed, fmt.Errorf("read: %w", err)
		}
		extend()

		updates, err := s.codec.Decode(raw, receivedAt)
		if err != nil {
			ev := s.logger.Warn()
			if errors.Is(err, ErrUnknownSymbol) {
				ev = s.logger.Debug()
			}
			ev.Err(err).Int("bytes", len(raw)).Msg("dropping message")
			continue
		}
		for _, u := range updates {
			if err := pub.Publish(ctx, u); err != nil {
				return streamed, fmt.Errorf("publish: %w", err)
			}
			if !streamed {
				streamed = true
				s.transition(StateStreaming)
			}
		}
	}
}

func (s *Stream) keepAlive(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(s.opts.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				s.logger.Debug().Err(err).Msg("ping failed")
				return
			}
		}
	}
}

func (s *Stream) transition(next State) {
	if prev := s.set(next); prev != next {
		s.logger.Debug().Str("from", prev.String()).Str("to", next.String()).Msg("state change")
	}
}

var _ Adapter = (*Stream)(nil)
