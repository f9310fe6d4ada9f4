package service

import (
	"context"
	"io"

	"github.com/rs/zerolog"

	"rate-arb-watch/internal/logging"
	"rate-arb-watch/internal/storage"
)

// Sink receives every emitted sample. Errors are logged by the caller and
// never stop the loop.
type Sink interface {
	Emit(ctx context.Context, sample storage.ArbitrageSample) error
}

// NamedSink labels a sink in logs.
type NamedSink struct {
	Name string
	Sink Sink
}

// LogSink writes samples to a zerolog logger.
type LogSink struct {
	logger zerolog.Logger
	level  zerolog.Level
}

// NewLogSink logs samples at Info under the "samples" component.
func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger.With().Str("component", "samples").Logger(), level: zerolog.InfoLevel}
}

func (s *LogSink) Emit(_ context.Context, sample storage.ArbitrageSample) error {
	logSample(s.logger.WithLevel(s.level), sample).Msg("arbitrage sample")
	return nil
}

// FileSink appends samples as JSON lines to a file.
type FileSink struct {
	logger zerolog.Logger
	closer io.Closer
}

// NewFileSink opens path for appending.
func NewFileSink(path string) (*FileSink, error) {
	logger, closer, err := logging.NewFileLogger(path)
	if err != nil {
		return nil, err
	}
	return &FileSink{logger: logger, closer: closer}, nil
}

func (s *FileSink) Emit(_ context.Context, sample storage.ArbitrageSample) error {
	logSample(s.logger.Log(), sample).Send()
	return nil
}

// Close closes the underlying file.
func (s *FileSink) Close() error {
	return s.closer.Close()
}

func logSample(ev *zerolog.Event, sample storage.ArbitrageSample) *zerolog.Event {
	return ev.Str("id", sample.ID.String()).
		Time("ts", sample.Timestamp).
		Str("comparison", sample.Comparison).
		Str("maker", sample.MakerVenue+":"+sample.MakerSymbol).
		Str("taker", sample.TakerVenue+":"+sample.TakerSymbol).
		Str("instrument", sample.Instrument).
		Str("direction", sample.Direction).
		Bool("fee_adjusted", sample.FeeAdjusted).
		Str("apr", sample.APR.StringFixed(4)).
		Str("maker_price", sample.MakerPrice.String()).
		Str("taker_price", sample.TakerPrice.String()).
		Dur("horizon", sample.Horizon)
}

var (
	_ Sink = (*LogSink)(nil)
	_ Sink = (*FileSink)(nil)
	_ Sink = (*storage.Store)(nil)
)
