package feed

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"rate-arb-watch/internal/market"
)

// ParamAggregator names the instrument param holding the feed contract address.
const ParamAggregator = "address"

const aggregatorABIJSON = `[
{"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"latestRoundData","outputs":[{"internalType":"uint80","name":"roundId","type":"uint80"},{"internalType":"int256","name":"answer","type":"int256"},{"internalType":"uint256","name":"startedAt","type":"uint256"},{"internalType":"uint256","name":"updatedAt","type":"uint256"},{"internalType":"uint80","name":"answeredInRound","type":"uint80"}],"stateMutability":"view","type":"function"}
]`

var aggregatorABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(aggregatorABIJSON))
	if err != nil {
		panic("failed to parse aggregator ABI: " + err.Error())
	}
	aggregatorABI = parsed
}

// ChainlinkOptions parameterise the on-chain reference price source.
type ChainlinkOptions struct {
	Venue       string
	RPCURL      string
	Timeout     time.Duration
	Instruments []market.Instrument
	// Addresses maps instrument symbol to aggregator contract address.
	Addresses map[string]string
}

// Chainlink reads reference prices from price feed aggregators. The answer
// is published as a zero-spread quote stamped with the poll time.
type Chainlink struct {
	opts      ChainlinkOptions
	logger    zerolog.Logger
	client    *ethclient.Client
	clientMux sync.Mutex
	decimals  map[string]int32
}

// NewChainlink builds an aggregator poll source.
func NewChainlink(opts ChainlinkOptions, logger zerolog.Logger) *Chainlink {
	return &Chainlink{
		opts:     opts,
		logger:   logger.With().Str("component", "chainlink_source").Logger(),
		decimals: make(map[string]int32),
	}
}

func (c *Chainlink) Venue() string { return c.opts.Venue }

// Poll reads latestRoundData for each configured aggregator.
func (c *Chainlink) Poll(ctx context.Context) ([]market.Update, error) {
	if c.opts.RPCURL == "" {
		return nil, errors.New("ethereum rpc url not configured")
	}
	if len(c.opts.Instruments) == 0 {
		return nil, errors.New("chainlink: no instruments configured")
	}

	timeout := c.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := c.getClient(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]market.Update, 0, len(c.opts.Instruments))
	for _, inst := range c.opts.Instruments {
		inst.Venue = c.opts.Venue
		rate, err := c.readFeed(ctx, client, inst)
		if err != nil {
			return nil, fmt.Errorf("chainlink %s: %w", inst.Symbol, err)
		}
		out = append(out, market.RateUpdate(rate))
	}
	return out, nil
}

func (c *Chainlink) readFeed(ctx context.Context, client *ethclient.Client, inst market.Instrument) (market.Rate, error) {
	address := c.opts.Addresses[inst.Symbol]
	if address == "" || !common.IsHexAddress(address) {
		return market.Rate{}, errors.New("aggregator address not configured")
	}
	addr := common.HexToAddress(address)

	dec, err := c.feedDecimals(ctx, client, addr, inst.Symbol)
	if err != nil {
		return market.Rate{}, err
	}

	outputs, err := c.call(ctx, client, addr, "latestRoundData")
	if err != nil {
		return market.Rate{}, err
	}
	if len(outputs) != 5 {
		return market.Rate{}, errors.New("unexpected latestRoundData response")
	}
	answer, ok := outputs[1].(*big.Int)
	if !ok {
		return market.Rate{}, errors.New("failed to decode latestRoundData answer")
	}
	updatedAt, ok := outputs[3].(*big.Int)
	if !ok {
		return market.Rate{}, errors.New("failed to decode latestRoundData updatedAt")
	}
	if answer.Sign() <= 0 {
		return market.Rate{}, market.ErrNonPositivePrice
	}

	price := decimal.NewFromBigInt(answer, -dec)
	c.logger.Debug().
		Str("symbol", inst.Symbol).
		Str("price", price.String()).
		Time("round_updated_at", time.Unix(updatedAt.Int64(), 0).UTC()).
		Msg("chainlink round read")
	return market.Rate{
		Instrument: inst,
		Bid:        price,
		Ask:        price,
		ObservedAt: time.Now().UTC(),
	}, nil
}

func (c *Chainlink) feedDecimals(ctx context.Context, client *ethclient.Client, addr common.Address, symbol string) (int32, error) {
	if d, ok := c.decimals[symbol]; ok {
		return d, nil
	}
	outputs, err := c.call(ctx, client, addr, "decimals")
	if err != nil {
		return 0, err
	}
	if len(outputs) != 1 {
		return 0, errors.New("unexpected decimals response")
	}
	d, ok := outputs[0].(uint8)
	if !ok {
		return 0, errors.New("failed to decode decimals output")
	}
	c.decimals[symbol] = int32(d)
	return int32(d), nil
}

func (c *Chainlink) call(ctx context.Context, client *ethclient.Client, addr common.Address, method string) ([]any, error) {
	payload, err := aggregatorABI.Pack(method)
	if err != nil {
		return nil, err
	}
	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, nil)
	if err != nil {
		return nil, err
	}
	return aggregatorABI.Unpack(method, res)
}

func (c *Chainlink) getClient(ctx context.Context) (*ethclient.Client, error) {
	c.clientMux.Lock()
	defer c.clientMux.Unlock()

	if c.client != nil {
		return c.client, nil
	}

	client, err := ethclient.DialContext(ctx, c.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	c.client = client
	return client, nil
}

var _ PollSource = (*Chainlink)(nil)
