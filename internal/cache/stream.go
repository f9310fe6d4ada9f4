package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"rate-arb-watch/internal/storage"
)

// SampleStream appends samples to a redis stream (XADD MAXLEN ~) and
// publishes them on a pub/sub channel for live consumers.
type SampleStream struct {
	rdb     *redis.Client
	stream  string
	maxLen  int64
	channel string
}

// NewSampleStream creates a SampleStream. An empty channel disables PUBLISH.
func NewSampleStream(c *Client, stream string, maxLen int64, channel string) *SampleStream {
	if maxLen <= 0 {
		maxLen = 10000
	}
	return &SampleStream{rdb: c.Underlying(), stream: stream, maxLen: maxLen, channel: channel}
}

// Emit writes one sample.
func (s *SampleStream) Emit(ctx context.Context, sample storage.ArbitrageSample) error {
	payload, err := EncodeSample(sample)
	if err != nil {
		return err
	}

	pipe := s.rdb.Pipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]any{"payload": payload},
	})
	if s.channel != "" {
		pipe.Publish(ctx, s.channel, payload)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: emit sample to %s: %w", s.stream, err)
	}
	return nil
}

type sampleRecord struct {
	ID             string `json:"id"`
	Timestamp      string `json:"ts"`
	Comparison     string `json:"comparison"`
	MakerVenue     string `json:"maker_venue"`
	MakerSymbol    string `json:"maker_symbol"`
	TakerVenue     string `json:"taker_venue"`
	TakerSymbol    string `json:"taker_symbol"`
	Instrument     string `json:"instrument"`
	Direction      string `json:"direction"`
	APR            string `json:"apr"`
	FeeAdjusted    bool   `json:"fee_adjusted"`
	MakerPrice     string `json:"maker_price"`
	TakerPrice     string `json:"taker_price"`
	HorizonSeconds int64  `json:"horizon_seconds"`
}

// EncodeSample renders the JSON payload stored in the stream.
func EncodeSample(s storage.ArbitrageSample) ([]byte, error) {
	b, err := json.Marshal(sampleRecord{
		ID:             s.ID.String(),
		Timestamp:      s.Timestamp.UTC().Format(time.RFC3339Nano),
		Comparison:     s.Comparison,
		MakerVenue:     s.MakerVenue,
		MakerSymbol:    s.MakerSymbol,
		TakerVenue:     s.TakerVenue,
		TakerSymbol:    s.TakerSymbol,
		Instrument:     s.Instrument,
		Direction:      s.Direction,
		APR:            s.APR.String(),
		FeeAdjusted:    s.FeeAdjusted,
		MakerPrice:     s.MakerPrice.String(),
		TakerPrice:     s.TakerPrice.String(),
		HorizonSeconds: int64(s.Horizon / time.Second),
	})
	if err != nil {
		return nil, fmt.Errorf("encode sample: %w", err)
	}
	return b, nil
}
