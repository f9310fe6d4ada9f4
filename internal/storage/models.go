package storage

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ArbitrageSample is one APR observation for a comparison, direction and
// cost flag. Four are produced per comparison per tick.
type ArbitrageSample struct {
	ID          uuid.UUID
	Timestamp   time.Time
	Comparison  string
	MakerVenue  string
	MakerSymbol string
	TakerVenue  string
	TakerSymbol string
	// Instrument is the canonical BASE/QUOTE pair of the maker leg.
	Instrument  string
	Direction   string
	APR         decimal.Decimal
	FeeAdjusted bool
	MakerPrice  decimal.Decimal
	TakerPrice  decimal.Decimal
	Horizon     time.Duration
	CreatedAt   time.Time
}

// AlertRecord captures an emitted alert for auditing.
type AlertRecord struct {
	ID         int64
	SampleID   uuid.UUID
	SampleTS   time.Time
	Comparison string
	Direction  string
	APR        decimal.Decimal
	Threshold  decimal.Decimal
	Channels   []string
	CreatedAt  time.Time
}
