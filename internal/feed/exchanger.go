package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"rate-arb-watch/internal/market"
)

// ExchangerURL is the public order list endpoint of the WebMoney exchanger.
const ExchangerURL = "https://wm.exchanger.ru/asp/JSONWMList.asp"

// Instrument params naming the exchange directions that quote each side.
const (
	ParamBidExchtype = "bid_exchtype"
	ParamAskExchtype = "ask_exchtype"
)

// ExchangerOptions parameterise the exchanger poll source.
type ExchangerOptions struct {
	Venue       string
	BaseURL     string
	Timeout     time.Duration
	UserAgent   string
	Instruments []market.Instrument
	// Params holds bid_exchtype and ask_exchtype per instrument symbol.
	Params map[string]map[string]string
}

// Exchanger polls the best counter-offer for each configured direction.
// Every instrument costs two requests: one for the bid, one for the ask.
type Exchanger struct {
	opts    ExchangerOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewExchanger constructs an exchanger poll source.
func NewExchanger(opts ExchangerOptions, logger zerolog.Logger) *Exchanger {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimSpace(opts.BaseURL)
	if baseURL == "" {
		baseURL = ExchangerURL
	}

	return &Exchanger{
		opts:    opts,
		logger:  logger.With().Str("component", "exchanger_source").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

func (e *Exchanger) Venue() string { return e.opts.Venue }

// Poll fetches one quote per instrument. A failing instrument is logged and
// skipped; Poll errors only when nothing could be fetched.
func (e *Exchanger) Poll(ctx context.Context) ([]market.Update, error) {
	if len(e.opts.Instruments) == 0 {
		return nil, errors.New("exchanger: no instruments configured")
	}

	out := make([]market.Update, 0, len(e.opts.Instruments))
	var lastErr error
	for _, inst := range e.opts.Instruments {
		inst.Venue = e.opts.Venue
		rate, err := e.fetchInstrument(ctx, inst)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			e.logger.Warn().Err(err).Str("symbol", inst.Symbol).Msg("exchanger quote failed")
			continue
		}
		out = append(out, market.RateUpdate(rate))
	}
	if len(out) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return out, nil
}

func (e *Exchanger) fetchInstrument(ctx context.Context, inst market.Instrument) (market.Rate, error) {
	params := e.opts.Params[inst.Symbol]
	bidType, askType := params[ParamBidExchtype], params[ParamAskExchtype]
	if bidType == "" || askType == "" {
		return market.Rate{}, fmt.Errorf("exchanger %s: %s and %s params required", inst.Symbol, ParamBidExchtype, ParamAskExchtype)
	}

	bidQuery, err := e.fetchQuery(ctx, bidType)
	if err != nil {
		return market.Rate{}, fmt.Errorf("exchanger %s bid: %w", inst.Symbol, err)
	}
	askQuery, err := e.fetchQuery(ctx, askType)
	if err != nil {
		return market.Rate{}, fmt.Errorf("exchanger %s ask: %w", inst.Symbol, err)
	}

	bid, err := decimal.NewFromString(bidQuery.InOutRate.String())
	if err != nil {
		return market.Rate{}, fmt.Errorf("exchanger %s: parse inoutrate: %w", inst.Symbol, err)
	}
	ask, err := decimal.NewFromString(askQuery.OutInRate.String())
	if err != nil {
		return market.Rate{}, fmt.Errorf("exchanger %s: parse outinrate: %w", inst.Symbol, err)
	}

	return market.Rate{
		Instrument: inst,
		Bid:        bid,
		Ask:        ask,
		ObservedAt: time.Now().UTC(),
	}, nil
}

func (e *Exchanger) fetchQuery(ctx context.Context, exchtype string) (exchangerQuery, error) {
	endpoint, err := url.Parse(e.baseURL)
	if err != nil {
		return exchangerQuery{}, err
	}
	q := endpoint.Query()
	q.Set("exchtype", exchtype)
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return exchangerQuery{}, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(e.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "arbwatch/1.0")
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return exchangerQuery{}, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return exchangerQuery{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return exchangerQuery{}, parseHTTPError(resp.StatusCode, payload)
	}

	var list exchangerList
	if err := json.Unmarshal(payload, &list); err != nil {
		return exchangerQuery{}, fmt.Errorf("decode order list: %w", err)
	}
	if len(list.Queries) == 0 {
		return exchangerQuery{}, fmt.Errorf("exchtype %s: %w", exchtype, market.ErrEmptyBook)
	}
	return list.Queries[0], nil
}

// The misspelling is the venue's.
type exchangerList struct {
	Queries []exchangerQuery `json:"WMExchnagerQuerys"`
}

type exchangerQuery struct {
	InOutRate json.Number `json:"inoutrate"`
	OutInRate json.Number `json:"outinrate"`
}

type httpErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr httpErrorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Message != "" {
			return fmt.Errorf("venue api error (%d): %s", status, apiErr.Message)
		}
		if apiErr.Error != "" {
			return fmt.Errorf("venue api error (%d): %s", status, apiErr.Error)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("venue api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("venue api error (%d)", status)
}

var _ PollSource = (*Exchanger)(nil)
