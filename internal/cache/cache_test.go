package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"rate-arb-watch/internal/market"
	"rate-arb-watch/internal/storage"
)

func TestRateKey(t *testing.T) {
	key := market.Key{Venue: "bitfinex", Symbol: "tBTCUSD"}
	if got := RateKey("arbwatch", key); got != "arbwatch:rate:bitfinex:tBTCUSD" {
		t.Fatalf("key 格式错误: %s", got)
	}
	if got := RateKey("", key); got != "rate:bitfinex:tBTCUSD" {
		t.Fatalf("无前缀时 key 格式错误: %s", got)
	}
}

func TestRateFieldsRoundTrip(t *testing.T) {
	r := market.Rate{
		Instrument: market.Instrument{Venue: "exmo", Symbol: "BTC_USD", Base: "BTC", Quote: "USD"},
		Bid:        decimal.RequireFromString("60000.5"),
		Ask:        decimal.RequireFromString("60010"),
		ObservedAt: time.Date(2024, 5, 1, 12, 0, 0, 123, time.UTC),
	}
	fields := rateFields(r)
	vals := make(map[string]string, len(fields))
	for k, v := range fields {
		vals[k] = v.(string)
	}

	got, err := parseRateFields("exmo:BTC_USD", vals)
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if got.Key() != r.Key() || !got.Bid.Equal(r.Bid) || !got.Ask.Equal(r.Ask) || !got.ObservedAt.Equal(r.ObservedAt) || got.Base != "BTC" {
		t.Fatalf("字段不一致: %+v", got)
	}

	if _, err := parseRateFields("no-colon", vals); err == nil {
		t.Fatal("非法 key 应报错")
	}
	delete(vals, "bid")
	if _, err := parseRateFields("exmo:BTC_USD", vals); err == nil {
		t.Fatal("缺少 bid 应报错")
	}
}

func TestEncodeSample(t *testing.T) {
	id := uuid.New()
	payload, err := EncodeSample(storage.ArbitrageSample{
		ID:          id,
		Timestamp:   time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Comparison:  "fut~spot",
		Direction:   "long-maker",
		APR:         decimal.RequireFromString("0.5"),
		FeeAdjusted: true,
		Horizon:     365 * 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("编码失败: %v", err)
	}
	var rec map[string]any
	if err := json.Unmarshal(payload, &rec); err != nil {
		t.Fatalf("payload 不是合法 JSON: %v", err)
	}
	if rec["id"] != id.String() || rec["apr"] != "0.5" || rec["fee_adjusted"] != true || rec["horizon_seconds"].(float64) != 31536000 {
		t.Fatalf("payload 内容错误: %s", payload)
	}
}

func TestNewRequiresAddr(t *testing.T) {
	if _, err := New(context.Background(), ClientConfig{}); err == nil {
		t.Fatal("未配置地址应报错")
	}
}
