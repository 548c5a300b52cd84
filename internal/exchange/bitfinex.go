package exchange

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/Kenblair1226/bitfinex-lending-bot/internal/funding"
)

const (
	offersPath  = "auth/r/funding/offers"
	loansPath   = "auth/r/funding/loans"
	walletsPath = "auth/r/wallets"
)

// daily fractional rate -> APR percent
var aprFactor = decimal.NewFromInt(365 * 100)

// BitfinexOptions parameterise the authenticated REST client.
type BitfinexOptions struct {
	BaseURL    string
	APIKey     string
	APISecret  string
	Timeout    time.Duration
	UserAgent  string
	Currencies []string
}

// Bitfinex queries the v2 authenticated REST API for funding state.
type Bitfinex struct {
	opts    BitfinexOptions
	client  *http.Client
	baseURL string
	monitor map[string]bool
	logger  zerolog.Logger
	nowFn   func() time.Time
}

// NewBitfinex constructs a Bitfinex funding source.
func NewBitfinex(opts BitfinexOptions, logger zerolog.Logger) *Bitfinex {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.bitfinex.com"
	}

	var monitor map[string]bool
	if len(opts.Currencies) > 0 {
		monitor = make(map[string]bool, len(opts.Currencies))
		for _, c := range opts.Currencies {
			monitor[strings.ToUpper(c)] = true
		}
	}

	return &Bitfinex{
		opts:    opts,
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		monitor: monitor,
		logger:  logger.With().Str("component", "bitfinex_source").Logger(),
		nowFn:   time.Now,
	}
}

// FetchAccountState retrieves offers, loans and idle wallet balances in
// one pass. Any endpoint failure fails the whole fetch so a cycle never
// diffs against a partially-formed state.
func (b *Bitfinex) FetchAccountState(ctx context.Context) (AccountState, error) {
	if b.opts.APIKey == "" || b.opts.APISecret == "" {
		return AccountState{}, errors.New("bitfinex api credentials required")
	}

	offers, err := b.fetchFundingRows(ctx, offersPath)
	if err != nil {
		return AccountState{}, fmt.Errorf("fetch funding offers: %w", err)
	}
	loans, err := b.fetchFundingRows(ctx, loansPath)
	if err != nil {
		return AccountState{}, fmt.Errorf("fetch funding loans: %w", err)
	}
	idle, err := b.fetchWalletRows(ctx)
	if err != nil {
		return AccountState{}, fmt.Errorf("fetch wallets: %w", err)
	}

	return AccountState{Offers: offers, Loans: loans, Idle: idle}, nil
}

func (b *Bitfinex) fetchFundingRows(ctx context.Context, path string) ([]funding.RawRecord, error) {
	rows, err := b.authRequest(ctx, path)
	if err != nil {
		return nil, err
	}

	records := make([]funding.RawRecord, 0, len(rows))
	for _, row := range rows {
		rec, ok := b.decodeFundingRow(row)
		if !ok {
			continue
		}
		if b.monitor != nil && !b.monitor[rec.Currency] {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// Funding rows are positional arrays:
// [ID, SYMBOL, MTS_CREATED, MTS_UPDATED, AMOUNT, AMOUNT_ORIG, ..., RATE(11), ..., PERIOD(15), ...]
// RATE is a daily fraction and is reported here as APR percent.
func (b *Bitfinex) decodeFundingRow(row []json.RawMessage) (funding.RawRecord, bool) {
	if len(row) < 16 {
		b.logger.Warn().Int("fields", len(row)).Msg("funding row too short, skipped")
		return funding.RawRecord{}, false
	}

	id, err := decodeID(row[0])
	if err != nil {
		b.logger.Warn().Err(err).Msg("funding row id unreadable, skipped")
		return funding.RawRecord{}, false
	}
	symbol, err := decodeString(row[1])
	if err != nil || symbol == "" {
		b.logger.Warn().Err(err).Msg("funding row symbol unreadable, skipped")
		return funding.RawRecord{}, false
	}
	amount, err := decodeDecimal(row[4])
	if err != nil {
		b.logger.Warn().Err(err).Str("symbol", symbol).Msg("funding row amount unreadable, skipped")
		return funding.RawRecord{}, false
	}
	rate, err := decodeDecimal(row[11])
	if err != nil {
		b.logger.Warn().Err(err).Str("symbol", symbol).Msg("funding row rate unreadable, skipped")
		return funding.RawRecord{}, false
	}
	period, err := decodeInt(row[15])
	if err != nil {
		period = 0
	}

	return funding.RawRecord{
		FundID:   id,
		Currency: currencyFromSymbol(symbol),
		Amount:   amount,
		Rate:     rate.Mul(aprFactor),
		Period:   period,
	}, true
}

// Wallet rows: [WALLET_TYPE, CURRENCY, BALANCE, ...]. Only positive
// funding-wallet balances count as idle funds.
func (b *Bitfinex) fetchWalletRows(ctx context.Context) ([]funding.RawRecord, error) {
	rows, err := b.authRequest(ctx, walletsPath)
	if err != nil {
		return nil, err
	}

	var records []funding.RawRecord
	for _, row := range rows {
		if len(row) < 3 {
			continue
		}
		walletType, err := decodeString(row[0])
		if err != nil || walletType != "funding" {
			continue
		}
		currency, err := decodeString(row[1])
		if err != nil || currency == "" {
			continue
		}
		balance, err := decodeDecimal(row[2])
		if err != nil {
			b.logger.Warn().Str("currency", currency).Msg("wallet balance unreadable, skipped")
			continue
		}
		if balance.Sign() <= 0 {
			continue
		}
		// wallet rows already carry the bare currency code
		currency = strings.ToUpper(currency)
		if b.monitor != nil && !b.monitor[currency] {
			continue
		}
		records = append(records, funding.RawRecord{
			Currency: currency,
			Amount:   balance,
		})
	}
	return records, nil
}

func (b *Bitfinex) authRequest(ctx context.Context, path string) ([][]json.RawMessage, error) {
	nonce := fmt.Sprintf("%d", b.nowFn().UnixMicro())
	body := []byte("{}")

	sigPayload := "/api/v2/" + path + nonce + string(body)
	mac := hmac.New(sha512.New384, []byte(b.opts.APISecret))
	mac.Write([]byte(sigPayload))
	signature := hex.EncodeToString(mac.Sum(nil))

	url := fmt.Sprintf("%s/v2/%s", b.baseURL, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("bfx-nonce", nonce)
	req.Header.Set("bfx-apikey", b.opts.APIKey)
	req.Header.Set("bfx-signature", signature)
	if ua := strings.TrimSpace(b.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bitfinex api error (%d): %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var rows [][]json.RawMessage
	if err := json.Unmarshal(payload, &rows); err != nil {
		return nil, fmt.Errorf("decode bitfinex response: %w", err)
	}
	return rows, nil
}

// currencyFromSymbol unwraps a funding symbol into its currency code.
// Only the lowercase prefix marks a funding symbol (fUSD -> USD); bare
// codes that happen to start with F, like FIL, pass through untouched.
func currencyFromSymbol(symbol string) string {
	if len(symbol) > 1 && strings.HasPrefix(symbol, "f") {
		symbol = symbol[1:]
	}
	return strings.ToUpper(symbol)
}

func decodeString(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", err
	}
	return s, nil
}

func decodeID(raw json.RawMessage) (string, error) {
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", err
	}
	return n.String(), nil
}

func decodeDecimal(raw json.RawMessage) (decimal.Decimal, error) {
	if string(raw) == "null" {
		return decimal.Zero, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return decimal.Decimal{}, err
	}
	return decimal.NewFromString(n.String())
}

func decodeInt(raw json.RawMessage) (int, error) {
	if string(raw) == "null" {
		return 0, nil
	}
	var n int
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, err
	}
	return n, nil
}

var _ Source = (*Bitfinex)(nil)
