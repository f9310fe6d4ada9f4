package app

import (
	"bytes"
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"rate-arb-watch/internal/config"
	"rate-arb-watch/internal/currency"
	"rate-arb-watch/internal/market"
	"rate-arb-watch/internal/resolver"
	"rate-arb-watch/internal/storage"
)

func testApp(cfg *config.Config) *App {
	return NewApp(cfg, zerolog.Nop())
}

func sampleAt(i int, comparison string, adjusted bool) storage.ArbitrageSample {
	return storage.ArbitrageSample{
		Timestamp:   time.Date(2024, 1, 1, 0, 0, i, 0, time.UTC),
		Comparison:  comparison,
		MakerVenue:  "a",
		MakerSymbol: "BTCUSD",
		TakerVenue:  "b",
		TakerSymbol: "BTCUSD",
		Instrument:  "BTC/USD",
		Direction:   "long-maker",
		FeeAdjusted: adjusted,
		APR:         decimal.NewFromInt(int64(i)),
		MakerPrice:  decimal.NewFromInt(30000),
		TakerPrice:  decimal.NewFromInt(30150),
		Horizon:     time.Hour,
	}
}

func TestDownsampleKeepsEnds(t *testing.T) {
	samples := make([]storage.ArbitrageSample, 10)
	for i := range samples {
		samples[i] = sampleAt(i, "x", false)
	}

	got := downsampleSamples(samples, 4)
	if len(got) != 4 {
		t.Fatalf("期望 4 个点, 实际 %d", len(got))
	}
	if !got[0].Timestamp.Equal(samples[0].Timestamp) || !got[3].Timestamp.Equal(samples[9].Timestamp) {
		t.Fatal("降采样应保留首尾")
	}
	if len(downsampleSamples(samples, 20)) != 10 {
		t.Fatal("点数不足时不应降采样")
	}
	if one := downsampleSamples(samples, 1); len(one) != 1 || !one[0].Timestamp.Equal(samples[9].Timestamp) {
		t.Fatal("单点降采样应取最新样本")
	}
}

func TestFilterComparison(t *testing.T) {
	samples := []storage.ArbitrageSample{sampleAt(1, "x", false), sampleAt(2, "y", false), sampleAt(3, "x", true)}
	if got := filterComparison(samples, "x"); len(got) != 2 {
		t.Fatalf("过滤结果错误: %d", len(got))
	}
	if got := filterComparison(samples, ""); len(got) != 3 {
		t.Fatal("空过滤条件应返回全部")
	}
	if samples[1].Comparison != "y" {
		t.Fatal("过滤不应修改原切片")
	}
}

func TestWriteSamplesCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "apr.csv")
	if err := writeSamplesCSV(path, []storage.ArbitrageSample{sampleAt(1, "x", true)}); err != nil {
		t.Fatalf("写 CSV 失败: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("打开 CSV 失败: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("解析 CSV 失败: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("应有表头和一行数据, 实际 %d 行", len(rows))
	}
	row := rows[1]
	if row[2] != "a:BTCUSD" || row[6] != "true" || row[7] != "1" || row[10] != "3600" {
		t.Fatalf("CSV 内容错误: %v", row)
	}
}

func TestBuildSeriesGroupsByDirectionAndCosts(t *testing.T) {
	var samples []storage.ArbitrageSample
	for i := 0; i < 3; i++ {
		samples = append(samples, sampleAt(i, "x", false), sampleAt(i, "x", true))
	}
	samples = append(samples, sampleAt(9, "lonely", false))

	series := buildSeries(samples)
	if len(series) != 2 {
		t.Fatalf("应有两条曲线 (单点曲线被忽略), 实际 %d", len(series))
	}
	if series[1].GetName() != "x long-maker (net)" {
		t.Fatalf("曲线命名错误: %s", series[1].GetName())
	}
}

func TestWriteSamplesPNG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "apr.png")
	samples := []storage.ArbitrageSample{sampleAt(1, "x", false), sampleAt(2, "x", false)}
	if err := writeSamplesPNG(path, samples); err != nil {
		t.Fatalf("渲染 PNG 失败: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		t.Fatal("PNG 文件应非空")
	}
	if err := writeSamplesPNG(path, samples[:1]); err == nil {
		t.Fatal("样本不足时应报错")
	}
}

func TestRegistryMergesAliasesAndEdges(t *testing.T) {
	cfg := &config.Config{Currency: config.CurrencyConfig{
		UseDefaultAliases: true,
		Aliases:           []config.AliasConfig{{Symbol: "WMX", Canonical: "BTC", Multiplier: 100}},
		Transfers:         []config.TransferConfig{{Currency: "BTC", From: "a", To: "b", Fee: 0.01}},
	}}
	reg, err := testApp(cfg).Registry()
	if err != nil {
		t.Fatalf("构建 registry 失败: %v", err)
	}
	alias, ok := reg.ResolveAlias("WMX")
	if !ok || !alias.Multiplier.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("配置的别名应覆盖默认值: %+v", alias)
	}
	if _, ok := reg.ResolveAlias("mBTC"); !ok {
		t.Fatal("默认别名应保留")
	}
	if len(reg.Edges("BTC")) != 1 {
		t.Fatal("应有一条转账边")
	}

	cfg.Currency.UseDefaultAliases = false
	reg, _ = testApp(cfg).Registry()
	if _, ok := reg.ResolveAlias("mBTC"); ok {
		t.Fatal("关闭默认别名后不应包含 mBTC")
	}

	cfg.Currency.Aliases = append(cfg.Currency.Aliases, config.AliasConfig{Symbol: "XBT", Canonical: "WMX", Multiplier: 1})
	if _, err := testApp(cfg).Registry(); err == nil {
		t.Fatal("链式别名应报错")
	}
}

func TestWriteTransfersTable(t *testing.T) {
	edges := []currency.TransferEdge{
		{Currency: "BTC", From: "a", To: "b", Fee: decimal.RequireFromString("0.01")},
		{Currency: "BTC", From: "a", To: "c", Min: decimal.NewFromInt(5)},
	}
	var buf bytes.Buffer
	if err := writeTransfersTable(&buf, edges, decimal.NewFromInt(2)); err != nil {
		t.Fatalf("输出表格失败: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "1.98") || !strings.Contains(out, "outside limits") {
		t.Fatalf("转账结果错误:\n%s", out)
	}

	buf.Reset()
	_ = writeTransfersTable(&buf, nil, decimal.Zero)
	if !strings.Contains(buf.String(), "no transfer edges") {
		t.Fatal("无转账边时应提示")
	}
}

func TestWriteRatesTable(t *testing.T) {
	direct := []resolver.Quote{{Venue: "a", Symbol: "BTCUSD", Bid: decimal.NewFromInt(100), Ask: decimal.NewFromInt(101)}}
	cross := []resolver.CrossQuote{{Path: []string{"BTC", "a", "EUR", "b", "USD"}, Bid: decimal.NewFromInt(99), Ask: decimal.NewFromInt(102)}}

	var buf bytes.Buffer
	if err := writeRatesTable(&buf, "BTC", "USD", direct, cross); err != nil {
		t.Fatalf("输出失败: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "a:BTCUSD") || !strings.Contains(out, "BTC > a > EUR > b > USD") {
		t.Fatalf("表格内容错误:\n%s", out)
	}
}

func TestPickComparison(t *testing.T) {
	cfg := &config.Config{
		Venues: []config.VenueConfig{{Name: "a"}, {Name: "b"}},
		Comparisons: []config.ComparisonConfig{
			{Name: "first", Maker: config.InstrumentRef{Venue: "a", Symbol: "X"}, Taker: config.InstrumentRef{Venue: "b", Symbol: "X"}},
			{Name: "second", Maker: config.InstrumentRef{Venue: "b", Symbol: "X"}, Taker: config.InstrumentRef{Venue: "a", Symbol: "X"}},
		},
	}
	a := testApp(cfg)

	cmp, err := a.pickComparison("")
	if err != nil || cmp.Name != "first" {
		t.Fatalf("默认应取第一个比较对: %v %s", err, cmp.Name)
	}
	cmp, err = a.pickComparison("second")
	if err != nil || cmp.Maker.Venue != "b" {
		t.Fatalf("按名称选择失败: %v", err)
	}
	if _, err := a.pickComparison("missing"); err == nil {
		t.Fatal("未知比较对应报错")
	}
}

func TestSimulationEvaluatesLiteralPrices(t *testing.T) {
	expiry := time.Now().UTC().Add(365 * 24 * time.Hour)
	cfg := &config.Config{
		Scheduler: config.SchedulerConfig{Interval: time.Second},
		Venues:    []config.VenueConfig{{Name: "a", Expiry: expiry}, {Name: "b"}},
		Comparisons: []config.ComparisonConfig{{
			Name:  "a-vs-b",
			Maker: config.InstrumentRef{Venue: "a", Symbol: "BTCUSD"},
			Taker: config.InstrumentRef{Venue: "b", Symbol: "BTCUSD"},
		}},
	}
	a := testApp(cfg)
	sink := &collectSink{}
	snapSamples, err := a.runSimulation(context.Background(), SimulateOptions{
		MakerBid: decimal.NewFromInt(29990),
		MakerAsk: decimal.NewFromInt(30000),
		TakerBid: decimal.NewFromInt(30150),
		TakerAsk: decimal.NewFromInt(30160),
	}, sink)
	if err != nil {
		t.Fatalf("模拟失败: %v", err)
	}
	if len(snapSamples) != 4 {
		t.Fatalf("应得到 4 个样本, 实际 %d", len(snapSamples))
	}

	var buf bytes.Buffer
	if err := writeSimulationTable(&buf, snapSamples); err != nil {
		t.Fatalf("输出失败: %v", err)
	}
	if strings.Count(buf.String(), "\n") != 5 {
		t.Fatalf("表格应有 5 行:\n%s", buf.String())
	}
}

func TestLiteralBookKeepsKey(t *testing.T) {
	at := time.Now()
	b := literalBook(market.Key{Venue: "a", Symbol: "X"}, decimal.NewFromInt(1), decimal.NewFromInt(2), at)
	if b.Key() != (market.Key{Venue: "a", Symbol: "X"}) || !b.ObservedAt.Equal(at) {
		t.Fatalf("literal book 错误: %+v", b)
	}
}
