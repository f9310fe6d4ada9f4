package feed

import (
	"fmt"

	"github.com/rs/zerolog"

	"rate-arb-watch/internal/config"
	"rate-arb-watch/internal/market"
)

// New builds the adapter for one configured venue.
func New(venue config.VenueConfig, fc config.FeedConfig, logger zerolog.Logger) (Adapter, error) {
	instruments := Instruments(venue)

	var codec Codec
	switch venue.Kind {
	case config.KindBitfinex:
		codec = NewBitfinexCodec(venue.Name, instruments)
	case config.KindHitBTC:
		codec = NewHitBTCCodec(venue.Name, instruments)
	case config.KindExmo:
		codec = NewExmoCodec(venue.Name, instruments)
	case config.KindBybit:
		codec = NewBybitCodec(venue.Name, instruments)
	case config.KindOKX:
		codec = NewOKXCodec(venue.Name, instruments)
	case config.KindExchanger, config.KindChainlink:
		return newPoller(venue, fc, instruments, logger)
	default:
		return nil, fmt.Errorf("venue %s: unsupported kind %q", venue.Name, venue.Kind)
	}

	return NewStream(codec, StreamOptions{
		URL:              urlOr(venue.URL, defaultURL(venue.Kind)),
		ReconnectInitial: fc.ReconnectInitial,
		ReconnectMax:     fc.ReconnectMax,
		PingInterval:     fc.PingInterval,
		ReadTimeout:      fc.ReadTimeout,
		WriteTimeout:     fc.WriteTimeout,
		UserAgent:        fc.UserAgent,
	}, logger), nil
}

func newPoller(venue config.VenueConfig, fc config.FeedConfig, instruments []market.Instrument, logger zerolog.Logger) (Adapter, error) {
	interval := fc.PollInterval
	if venue.PollInterval > 0 {
		interval = venue.PollInterval
	}
	opts := PollerOptions{
		Interval:         interval,
		ReconnectInitial: fc.ReconnectInitial,
		ReconnectMax:     fc.ReconnectMax,
	}

	switch venue.Kind {
	case config.KindExchanger:
		params := make(map[string]map[string]string, len(venue.Instruments))
		for _, inst := range venue.Instruments {
			params[inst.Symbol] = inst.Params
		}
		src := NewExchanger(ExchangerOptions{
			Venue:       venue.Name,
			BaseURL:     venue.URL,
			Timeout:     fc.RequestTimeout,
			UserAgent:   fc.UserAgent,
			Instruments: instruments,
			Params:      params,
		}, logger)
		return NewPoller(src, opts, logger), nil
	case config.KindChainlink:
		if venue.URL == "" {
			return nil, fmt.Errorf("venue %s: chainlink needs an rpc url", venue.Name)
		}
		addresses := make(map[string]string, len(venue.Instruments))
		for _, inst := range venue.Instruments {
			if inst.Params[ParamAggregator] == "" {
				return nil, fmt.Errorf("venue %s: instrument %s needs params.%s", venue.Name, inst.Symbol, ParamAggregator)
			}
			addresses[inst.Symbol] = inst.Params[ParamAggregator]
		}
		src := NewChainlink(ChainlinkOptions{
			Venue:       venue.Name,
			RPCURL:      venue.URL,
			Timeout:     fc.RequestTimeout,
			Instruments: instruments,
			Addresses:   addresses,
		}, logger)
		return NewPoller(src, opts, logger), nil
	}
	return nil, fmt.Errorf("venue %s: kind %q is not polled", venue.Name, venue.Kind)
}

// Instruments converts a venue's configured instruments.
func Instruments(venue config.VenueConfig) []market.Instrument {
	out := make([]market.Instrument, 0, len(venue.Instruments))
	for _, inst := range venue.Instruments {
		out = append(out, market.Instrument{
			Venue:  venue.Name,
			Symbol: inst.Symbol,
			Base:   inst.Base,
			Quote:  inst.Quote,
		})
	}
	return out
}

func defaultURL(kind string) string {
	switch kind {
	case config.KindBitfinex:
		return BitfinexURL
	case config.KindHitBTC:
		return HitBTCURL
	case config.KindExmo:
		return ExmoURL
	case config.KindBybit:
		return BybitURL
	case config.KindOKX:
		return OKXURL
	case config.KindExchanger:
		return ExchangerURL
	}
	return ""
}

func urlOr(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}
