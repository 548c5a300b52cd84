package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func testBitfinex(t *testing.T, handler http.HandlerFunc, currencies ...string) *Bitfinex {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewBitfinex(BitfinexOptions{
		BaseURL:    srv.URL,
		APIKey:     "test-key",
		APISecret:  "test-secret",
		Currencies: currencies,
	}, zerolog.Nop())
}

func fundingRow(id int64, symbol string, amount, dailyRate float64, period int) string {
	// [ID, SYMBOL, MTS_CREATED, MTS_UPDATED, AMOUNT, AMOUNT_ORIG, TYPE,
	//  _, _, FLAGS, STATUS, RATE, PERIOD?, ..., PERIOD(15)]
	return fmt.Sprintf(`[%d, %q, 0, 0, %v, %v, "LIMIT", null, null, 0, "ACTIVE", %v, 0, 0, 0, %d]`,
		id, symbol, amount, amount, dailyRate, period)
}

func TestBitfinexFetchAccountState(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		switch strings.TrimPrefix(r.URL.Path, "/v2/") {
		case offersPath:
			fmt.Fprintf(w, "[%s]", fundingRow(101, "fUSD", 2000, 0.0001, 2))
		case loansPath:
			fmt.Fprintf(w, "[%s]", fundingRow(202, "fUSD", 5000, 0.0002, 30))
		case walletsPath:
			fmt.Fprint(w, `[["funding", "USD", 300.5, 0, null], ["exchange", "USD", 99, 0, null], ["funding", "BTC", -1, 0, null], ["funding", "ETH", 0, 0, null]]`)
		default:
			http.NotFound(w, r)
		}
	}

	src := testBitfinex(t, handler)
	state, err := src.FetchAccountState(context.Background())
	if err != nil {
		t.Fatalf("拉取账户状态失败: %v", err)
	}

	if len(state.Offers) != 1 {
		t.Fatalf("期望 1 条 offer, 实际 %d", len(state.Offers))
	}
	offer := state.Offers[0]
	if offer.FundID != "101" || offer.Currency != "USD" {
		t.Fatalf("offer 解码不正确: %+v", offer)
	}
	// 0.0001 daily -> 3.65 APR percent
	if !offer.Rate.Equal(decimal.NewFromFloat(3.65)) {
		t.Fatalf("利率应折算为年化百分比, 实际 %s", offer.Rate)
	}
	if offer.Period != 2 {
		t.Fatalf("期望周期 2 天, 实际 %d", offer.Period)
	}

	if len(state.Loans) != 1 || state.Loans[0].FundID != "202" {
		t.Fatalf("loan 解码不正确: %+v", state.Loans)
	}
	if !state.Loans[0].Rate.Equal(decimal.NewFromFloat(7.3)) {
		t.Fatalf("loan 利率应为 7.3, 实际 %s", state.Loans[0].Rate)
	}

	// only the positive funding-wallet balance survives
	if len(state.Idle) != 1 {
		t.Fatalf("期望 1 条 idle 记录, 实际 %d", len(state.Idle))
	}
	idle := state.Idle[0]
	if idle.Currency != "USD" || !idle.Amount.Equal(decimal.NewFromFloat(300.5)) {
		t.Fatalf("idle 记录解码不正确: %+v", idle)
	}
	if idle.FundID != "" {
		t.Fatal("钱包余额不应携带资金 ID")
	}
}

func TestBitfinexFiltersMonitoredCurrencies(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		switch strings.TrimPrefix(r.URL.Path, "/v2/") {
		case offersPath:
			fmt.Fprintf(w, "[%s, %s]",
				fundingRow(1, "fUSD", 1000, 0.0001, 2),
				fundingRow(2, "fETH", 10, 0.0003, 2))
		case loansPath:
			fmt.Fprint(w, "[]")
		case walletsPath:
			fmt.Fprint(w, `[["funding", "ETH", 5, 0, null]]`)
		default:
			http.NotFound(w, r)
		}
	}

	src := testBitfinex(t, handler, "usd")
	state, err := src.FetchAccountState(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(state.Offers) != 1 || state.Offers[0].Currency != "USD" {
		t.Fatalf("应只保留受监控币种, 实际 %+v", state.Offers)
	}
	if len(state.Idle) != 0 {
		t.Fatalf("非监控币种的钱包余额应被过滤, 实际 %+v", state.Idle)
	}
}

func TestBitfinexCurrencyCodesStartingWithF(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		switch strings.TrimPrefix(r.URL.Path, "/v2/") {
		case offersPath:
			fmt.Fprint(w, "[]")
		case loansPath:
			fmt.Fprintf(w, "[%s]", fundingRow(9, "fFIL", 100, 0.0001, 30))
		case walletsPath:
			fmt.Fprint(w, `[["funding", "FIL", 25.5, 0, null], ["funding", "FUN", 10, 0, null]]`)
		default:
			http.NotFound(w, r)
		}
	}

	src := testBitfinex(t, handler)
	state, err := src.FetchAccountState(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	// fFIL loan and FIL wallet balance must land on the same currency
	if len(state.Loans) != 1 || state.Loans[0].Currency != "FIL" {
		t.Fatalf("loan 币种应为 FIL, 实际 %+v", state.Loans)
	}
	if len(state.Idle) != 2 {
		t.Fatalf("期望 2 条 idle 记录, 实际 %d", len(state.Idle))
	}
	if state.Idle[0].Currency != "FIL" {
		t.Fatalf("钱包币种应为 FIL, 实际 %q", state.Idle[0].Currency)
	}
	if state.Idle[1].Currency != "FUN" {
		t.Fatalf("钱包币种应为 FUN, 实际 %q", state.Idle[1].Currency)
	}
}

func TestBitfinexAuthHeaders(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("bfx-apikey") != "test-key" {
			t.Errorf("bfx-apikey 不正确: %s", r.Header.Get("bfx-apikey"))
		}
		nonce := r.Header.Get("bfx-nonce")
		if nonce == "" {
			t.Error("缺少 bfx-nonce")
		}

		body, _ := io.ReadAll(r.Body)
		path := strings.TrimPrefix(r.URL.Path, "/v2/")
		mac := hmac.New(sha512.New384, []byte("test-secret"))
		mac.Write([]byte("/api/v2/" + path + nonce + string(body)))
		want := hex.EncodeToString(mac.Sum(nil))
		if got := r.Header.Get("bfx-signature"); got != want {
			t.Errorf("签名不匹配: got %s want %s", got, want)
		}

		fmt.Fprint(w, "[]")
	}

	src := testBitfinex(t, handler)
	if _, err := src.FetchAccountState(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestBitfinexAPIError(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `["error", 10100, "apikey: invalid"]`, http.StatusInternalServerError)
	}

	src := testBitfinex(t, handler)
	_, err := src.FetchAccountState(context.Background())
	if err == nil {
		t.Fatal("接口错误应返回 error")
	}
	if !strings.Contains(err.Error(), "500") {
		t.Fatalf("错误信息应包含状态码: %v", err)
	}
}

func TestBitfinexSkipsMalformedRows(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		switch strings.TrimPrefix(r.URL.Path, "/v2/") {
		case offersPath:
			// short row, id unreadable, then a valid one
			fmt.Fprintf(w, `[[1, "fUSD", 0], ["oops", "fUSD", 0, 0, 1, 1, "LIMIT", null, null, 0, "ACTIVE", 0.0001, 0, 0, 0, 2], %s]`,
				fundingRow(7, "fUSD", 100, 0.0001, 2))
		case loansPath, walletsPath:
			fmt.Fprint(w, "[]")
		default:
			http.NotFound(w, r)
		}
	}

	src := testBitfinex(t, handler)
	state, err := src.FetchAccountState(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(state.Offers) != 1 || state.Offers[0].FundID != "7" {
		t.Fatalf("畸形行应被跳过, 实际 %+v", state.Offers)
	}
}

func TestBitfinexRequiresCredentials(t *testing.T) {
	src := NewBitfinex(BitfinexOptions{BaseURL: "http://localhost:0"}, zerolog.Nop())
	if _, err := src.FetchAccountState(context.Background()); err == nil {
		t.Fatal("缺少凭证时应立即报错")
	}
}
