package feed

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"rate-arb-watch/internal/market"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

var received = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func btcusd(symbol string) []market.Instrument {
	return []market.Instrument{{Symbol: symbol, Base: "BTC", Quote: "USD"}}
}

func TestBitfinexDecode(t *testing.T) {
	c := NewBitfinexCodec("bitfinex", btcusd("tBTCUSD"))

	subs, err := c.SubscribeMessages()
	if err != nil || len(subs) != 1 {
		t.Fatalf("应生成一条订阅消息: %v", err)
	}

	if ups, err := c.Decode([]byte(`{"event":"subscribed","channel":"ticker","chanId":42,"symbol":"tBTCUSD"}`), received); err != nil || ups != nil {
		t.Fatalf("订阅确认不应产生更新: %v", err)
	}

	ups, err := c.Decode([]byte(`[42,[100.5,1.2,101,2.5,-1,-0.01,100.7,10,102,99]]`), received)
	if err != nil {
		t.Fatalf("ticker 解析失败: %v", err)
	}
	if len(ups) != 1 || ups[0].Book == nil {
		t.Fatalf("期望一条 book 更新, 实际 %+v", ups)
	}
	book := ups[0].Book
	if book.Venue != "bitfinex" || book.Base != "BTC" {
		t.Fatalf("instrument 映射错误: %+v", book.Instrument)
	}
	if !book.Bids[0].Price.Equal(dec("100.5")) || !book.Asks[0].Price.Equal(dec("101")) {
		t.Fatalf("bid/ask 错误: %s / %s", book.Bids[0].Price, book.Asks[0].Price)
	}

	if ups, err := c.Decode([]byte(`[42,"hb"]`), received); err != nil || ups != nil {
		t.Fatal("心跳应被忽略")
	}

	if _, err := c.Decode([]byte(`[7,[1,1,2,1]]`), received); !errors.Is(err, ErrUnknownSymbol) {
		t.Fatalf("未知频道应返回 ErrUnknownSymbol, 实际 %v", err)
	}

	c.Reset()
	if _, err := c.Decode([]byte(`[42,[1,1,2,1]]`), received); !errors.Is(err, ErrUnknownSymbol) {
		t.Fatal("Reset 后频道映射应清空")
	}
}

func TestHitBTCDecode(t *testing.T) {
	c := NewHitBTCCodec("hitbtc", btcusd("BTCUSD"))

	ups, err := c.Decode([]byte(`{"jsonrpc":"2.0","method":"ticker","params":{"ask":"9100.5","bid":"9099.1","last":"9100","timestamp":"2024-05-01T11:59:58.123Z","symbol":"BTCUSD"}}`), received)
	if err != nil {
		t.Fatalf("ticker 解析失败: %v", err)
	}
	if len(ups) != 1 || ups[0].Rate == nil {
		t.Fatalf("期望一条 rate 更新")
	}
	r := ups[0].Rate
	if !r.Bid.Equal(dec("9099.1")) || !r.Ask.Equal(dec("9100.5")) {
		t.Fatalf("bid/ask 错误: %s / %s", r.Bid, r.Ask)
	}
	if !r.ObservedAt.Equal(time.Date(2024, 5, 1, 11, 59, 58, 123_000_000, time.UTC)) {
		t.Fatalf("应使用交易所时间戳, 实际 %s", r.ObservedAt)
	}

	if ups, err := c.Decode([]byte(`{"jsonrpc":"2.0","result":true,"id":1}`), received); err != nil || ups != nil {
		t.Fatal("订阅应答不应产生更新")
	}
	if _, err := c.Decode([]byte(`{"method":"ticker","params":{"bid":"1","ask":"2"}}`), received); !errors.Is(err, market.ErrMissingSymbol) {
		t.Fatalf("缺少 symbol 应报 ErrMissingSymbol, 实际 %v", err)
	}
	if _, err := c.Decode([]byte(`{"method":"ticker","params":{"symbol":"BTCUSD","bid":"x","ask":"2"}}`), received); err == nil {
		t.Fatal("非法价格应报错")
	}
	if _, err := c.Decode([]byte(`not json`), received); err == nil {
		t.Fatal("非 JSON 消息应报错")
	}
}

func TestExmoDecode(t *testing.T) {
	c := NewExmoCodec("exmo", btcusd("BTC_USD"))

	subs, err := c.SubscribeMessages()
	if err != nil || len(subs) != 1 {
		t.Fatalf("应生成一条订阅消息: %v", err)
	}

	ups, err := c.Decode([]byte(`{"ts":1714564800000,"event":"update","topic":"spot/ticker:BTC_USD","data":{"buy_price":"60000","sell_price":"60010","last_trade":"60005","updated":1714564800}}`), received)
	if err != nil {
		t.Fatalf("ticker 解析失败: %v", err)
	}
	r := ups[0].Rate
	if r == nil || !r.Bid.Equal(dec("60000")) || !r.Ask.Equal(dec("60010")) {
		t.Fatalf("bid 应为 buy_price, ask 应为 sell_price: %+v", r)
	}
	if !r.ObservedAt.Equal(time.UnixMilli(1714564800000).UTC()) {
		t.Fatalf("时间戳错误: %s", r.ObservedAt)
	}

	ups, err = c.Decode([]byte(`{"ts":1714564801000,"event":"snapshot","topic":"spot/order_book_snapshots:BTC_USD","data":{"ask":[["60010","0.5","30005"],["60020","1","60020"]],"bid":[["60000","0.2","12000"]]}}`), received)
	if err != nil {
		t.Fatalf("order book 解析失败: %v", err)
	}
	b := ups[0].Book
	if b == nil || len(b.Asks) != 2 || !b.Bids[0].Quantity.Equal(dec("0.2")) {
		t.Fatalf("order book 内容错误: %+v", b)
	}

	if ups, err := c.Decode([]byte(`{"ts":1,"event":"info","code":1,"message":"connection established"}`), received); err != nil || ups != nil {
		t.Fatal("info 事件应被忽略")
	}
	if _, err := c.Decode([]byte(`{"ts":1,"event":"update","data":{}}`), received); !errors.Is(err, market.ErrMissingSymbol) {
		t.Fatalf("缺少 topic 应报 ErrMissingSymbol, 实际 %v", err)
	}
	if _, err := c.Decode([]byte(`{"ts":1,"event":"update","topic":"spot/ticker:ETH_USD","data":{}}`), received); !errors.Is(err, ErrUnknownSymbol) {
		t.Fatalf("未订阅的 symbol 应报 ErrUnknownSymbol, 实际 %v", err)
	}
}

func TestBybitDecodeSnapshotAndDelta(t *testing.T) {
	c := NewBybitCodec("bybit", btcusd("BTCUSDT"))

	if ups, err := c.Decode([]byte(`{"topic":"orderbook.1.BTCUSDT","type":"delta","ts":1,"data":{"s":"BTCUSDT","b":[["1","1"]],"a":[]}}`), received); err != nil || ups != nil {
		t.Fatal("快照之前的增量应被忽略")
	}

	ups, err := c.Decode([]byte(`{"topic":"orderbook.1.BTCUSDT","type":"snapshot","ts":1714564800000,"data":{"s":"BTCUSDT","b":[["60000","1.5"]],"a":[["60001","0.7"]],"u":1,"seq":10}}`), received)
	if err != nil {
		t.Fatalf("快照解析失败: %v", err)
	}
	if len(ups) != 1 || !ups[0].Book.Bids[0].Price.Equal(dec("60000")) {
		t.Fatalf("快照内容错误: %+v", ups)
	}

	ups, err = c.Decode([]byte(`{"topic":"orderbook.1.BTCUSDT","type":"delta","ts":1714564800100,"data":{"s":"BTCUSDT","b":[["60000","0"],["60000.5","2"]],"a":[]}}`), received)
	if err != nil {
		t.Fatalf("增量解析失败: %v", err)
	}
	b := ups[0].Book
	if len(b.Bids) != 1 || !b.Bids[0].Price.Equal(dec("60000.5")) || !b.Asks[0].Price.Equal(dec("60001")) {
		t.Fatalf("增量应用错误: %+v", b)
	}

	if ups, err := c.Decode([]byte(`{"topic":"orderbook.1.BTCUSDT","type":"delta","ts":1714564800200,"data":{"s":"BTCUSDT","b":[],"a":[["60001","0"]]}}`), received); err != nil || ups != nil {
		t.Fatal("单边为空时不应发布更新")
	}

	if ups, err := c.Decode([]byte(`{"op":"subscribe","success":true,"ret_msg":"","conn_id":"x"}`), received); err != nil || ups != nil {
		t.Fatal("订阅应答不应产生更新")
	}
	if _, err := c.Decode([]byte(`{"op":"subscribe","success":false,"ret_msg":"bad topic"}`), received); err == nil {
		t.Fatal("订阅失败应报错")
	}
}

func TestOKXDecode(t *testing.T) {
	c := NewOKXCodec("okx", btcusd("BTC-USDT"))

	ups, err := c.Decode([]byte(`{"arg":{"channel":"tickers","instId":"BTC-USDT"},"data":[{"instType":"SPOT","instId":"BTC-USDT","last":"60005","bidPx":"60000","bidSz":"0.3","askPx":"60010","askSz":"0.4","ts":"1714564800000"}]}`), received)
	if err != nil {
		t.Fatalf("ticker 解析失败: %v", err)
	}
	b := ups[0].Book
	if !b.Bids[0].Price.Equal(dec("60000")) || !b.Asks[0].Quantity.Equal(dec("0.4")) {
		t.Fatalf("bid/ask 错误: %+v", b)
	}
	if !b.ObservedAt.Equal(time.UnixMilli(1714564800000).UTC()) {
		t.Fatalf("时间戳错误: %s", b.ObservedAt)
	}

	if ups, err := c.Decode([]byte(`{"event":"subscribe","arg":{"channel":"tickers","instId":"BTC-USDT"}}`), received); err != nil || ups != nil {
		t.Fatal("订阅确认不应产生更新")
	}
	if ups, err := c.Decode([]byte(`pong`), received); err != nil || ups != nil {
		t.Fatal("pong 应被忽略")
	}
	if _, err := c.Decode([]byte(`{"event":"error","code":"60012","msg":"Invalid request"}`), received); err == nil {
		t.Fatal("错误事件应报错")
	}
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	b := NewBackoff(100*time.Millisecond, 350*time.Millisecond)
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 350 * time.Millisecond, 350 * time.Millisecond}
	for i, w := range want {
		if got := b.Next(); got != w {
			t.Fatalf("第 %d 次退避期望 %s, 实际 %s", i, w, got)
		}
	}
	b.Reset()
	if got := b.Next(); got != 100*time.Millisecond {
		t.Fatalf("Reset 后应从初始值开始, 实际 %s", got)
	}
}
