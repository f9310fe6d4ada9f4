package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"rate-arb-watch/internal/config"
)

func exchangerServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("exchtype") {
		case "33":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"WMExchnagerQuerys": []map[string]any{{"inoutrate": 58.1, "outinrate": 0.0172}},
			})
		case "34":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"WMExchnagerQuerys": []map[string]any{{"inoutrate": 0.0169, "outinrate": 59.4}},
			})
		case "99":
			_ = json.NewEncoder(w).Encode(map[string]any{"WMExchnagerQuerys": []any{}})
		default:
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{"message": "unknown exchtype"})
		}
	}))
}

func TestExchangerPoll(t *testing.T) {
	srv := exchangerServer(t)
	defer srv.Close()

	src := NewExchanger(ExchangerOptions{
		Venue:       "exchanger",
		BaseURL:     srv.URL,
		Timeout:     time.Second,
		Instruments: btcusd("WMXWMZ"),
		Params: map[string]map[string]string{
			"WMXWMZ": {ParamBidExchtype: "33", ParamAskExchtype: "34"},
		},
	}, noopLogger())

	ups, err := src.Poll(context.Background())
	if err != nil {
		t.Fatalf("轮询失败: %v", err)
	}
	if len(ups) != 1 || ups[0].Rate == nil {
		t.Fatalf("期望一条 rate 更新")
	}
	r := ups[0].Rate
	if !r.Bid.Equal(dec("58.1")) || !r.Ask.Equal(dec("59.4")) {
		t.Fatalf("bid 取 inoutrate, ask 取 outinrate: %s / %s", r.Bid, r.Ask)
	}
	if r.Venue != "exchanger" {
		t.Fatalf("venue 错误: %s", r.Venue)
	}
}

func TestExchangerPollErrors(t *testing.T) {
	srv := exchangerServer(t)
	defer srv.Close()

	cases := map[string]map[string]string{
		"missing params": {},
		"http error":     {ParamBidExchtype: "1", ParamAskExchtype: "2"},
		"empty list":     {ParamBidExchtype: "99", ParamAskExchtype: "34"},
	}
	for name, params := range cases {
		src := NewExchanger(ExchangerOptions{
			Venue:       "exchanger",
			BaseURL:     srv.URL,
			Instruments: btcusd("WMXWMZ"),
			Params:      map[string]map[string]string{"WMXWMZ": params},
		}, noopLogger())
		if _, err := src.Poll(context.Background()); err == nil {
			t.Fatalf("%s: 应返回错误", name)
		}
	}
}

func TestPollerPublishesAndStreams(t *testing.T) {
	srv := exchangerServer(t)
	defer srv.Close()

	src := NewExchanger(ExchangerOptions{
		Venue:       "exchanger",
		BaseURL:     srv.URL,
		Instruments: btcusd("WMXWMZ"),
		Params: map[string]map[string]string{
			"WMXWMZ": {ParamBidExchtype: "33", ParamAskExchtype: "34"},
		},
	}, noopLogger())
	poller := NewPoller(src, PollerOptions{Interval: 10 * time.Millisecond}, noopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pub := make(chanPublisher, 4)
	go func() { _ = poller.Run(ctx, pub) }()

	for i := 0; i < 2; i++ {
		select {
		case <-pub:
		case <-time.After(2 * time.Second):
			t.Fatal("轮询未发布更新")
		}
	}
	if poller.State() != StateStreaming {
		t.Fatalf("成功轮询后状态应为 streaming, 实际 %s", poller.State())
	}
}

func TestChainlinkMissingConfig(t *testing.T) {
	src := NewChainlink(ChainlinkOptions{Venue: "chainlink"}, noopLogger())
	if _, err := src.Poll(context.Background()); err == nil {
		t.Fatal("未配置 RPC 时应报错")
	}

	src = NewChainlink(ChainlinkOptions{Venue: "chainlink", RPCURL: "http://localhost:1"}, noopLogger())
	if _, err := src.Poll(context.Background()); err == nil {
		t.Fatal("未配置 instrument 时应报错")
	}
}

func TestNewAdapterByKind(t *testing.T) {
	fc := config.FeedConfig{ReconnectInitial: time.Second, ReconnectMax: 2 * time.Second, PollInterval: time.Second}
	inst := []config.InstrumentConfig{{Symbol: "BTCUSD", Base: "BTC", Quote: "USD"}}

	for _, kind := range []string{config.KindBitfinex, config.KindHitBTC, config.KindExmo, config.KindBybit, config.KindOKX} {
		a, err := New(config.VenueConfig{Name: kind, Kind: kind, Instruments: inst}, fc, noopLogger())
		if err != nil {
			t.Fatalf("%s: 构建失败: %v", kind, err)
		}
		s, ok := a.(*Stream)
		if !ok || s.opts.URL == "" {
			t.Fatalf("%s: 应构建带默认 URL 的 Stream", kind)
		}
	}

	a, err := New(config.VenueConfig{Name: "wm", Kind: config.KindExchanger, Instruments: inst}, fc, noopLogger())
	if err != nil {
		t.Fatalf("exchanger 构建失败: %v", err)
	}
	if _, ok := a.(*Poller); !ok || a.Venue() != "wm" {
		t.Fatal("exchanger 应构建 Poller")
	}

	if _, err := New(config.VenueConfig{Name: "cl", Kind: config.KindChainlink, URL: "http://localhost:8545", Instruments: inst}, fc, noopLogger()); err == nil {
		t.Fatal("chainlink 缺少合约地址应报错")
	}
	if _, err := New(config.VenueConfig{Name: "x", Kind: "indx", Instruments: inst}, fc, noopLogger()); err == nil {
		t.Fatal("未知 kind 应报错")
	}
}
