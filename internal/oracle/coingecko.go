// internal/oracle/coingecko.go
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/chainbazaar/marketplace-backend/internal/apperrors"
	"github.com/chainbazaar/marketplace-backend/internal/config"
)

// RateSource provides current and historical exchange rates between a
// crypto asset and a fiat quote currency.
type RateSource interface {
	CurrentRate(ctx context.Context, base, quote string) (decimal.Decimal, error)
	HistoricalRate(ctx context.Context, base, quote string, minutesAgo int) (decimal.Decimal, error)
}

// CoinGecko calls the CoinGecko REST API with a bounded timeout. It
// never substitutes a cached or zero rate: every failure surfaces as a
// typed error.
type CoinGecko struct {
	baseURL string
	client  *http.Client
	now     func() time.Time
}

func NewCoinGecko(cfg config.OracleConfig) *CoinGecko {
	return &CoinGecko{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client: &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		},
		now: time.Now,
	}
}

// coinID maps asset symbols to CoinGecko identifiers.
func coinID(base string) string {
	switch strings.ToUpper(base) {
	case "ETH":
		return "ethereum"
	case "BTC":
		return "bitcoin"
	default:
		return strings.ToLower(base)
	}
}

func (g *CoinGecko) CurrentRate(ctx context.Context, base, quote string) (decimal.Decimal, error) {
	id := coinID(base)
	vs := strings.ToLower(quote)
	endpoint := fmt.Sprintf("%s/simple/price?ids=%s&vs_currencies=%s",
		g.baseURL, url.QueryEscape(id), url.QueryEscape(vs))

	body, err := g.get(ctx, endpoint)
	if err != nil {
		return decimal.Zero, err
	}

	var payload map[string]map[string]json.Number
	if err := json.Unmarshal(body, &payload); err != nil {
		return decimal.Zero, apperrors.Wrap(apperrors.CodeOracleUnavailable, "malformed rate response", err)
	}

	raw, ok := payload[id][vs]
	if !ok {
		return decimal.Zero, apperrors.New(apperrors.CodeOracleUnavailable,
			fmt.Sprintf("rate field %s.%s missing from response", id, vs))
	}

	rate, err := decimal.NewFromString(raw.String())
	if err != nil || rate.IsZero() {
		return decimal.Zero, apperrors.Wrap(apperrors.CodeOracleUnavailable, "non-numeric rate in response", err)
	}

	return rate, nil
}

// HistoricalRate returns the earliest sample inside the look-back
// window ending now. An empty window is NoHistoricalData, never a
// silent fallback to the current rate.
func (g *CoinGecko) HistoricalRate(ctx context.Context, base, quote string, minutesAgo int) (decimal.Decimal, error) {
	id := coinID(base)
	vs := strings.ToLower(quote)

	to := g.now().Unix()
	from := to - int64(minutesAgo)*60

	endpoint := fmt.Sprintf("%s/coins/%s/market_chart/range?vs_currency=%s&from=%d&to=%d",
		g.baseURL, url.PathEscape(id), url.QueryEscape(vs), from, to)

	body, err := g.get(ctx, endpoint)
	if err != nil {
		return decimal.Zero, err
	}

	var payload struct {
		Prices [][]json.Number `json:"prices"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return decimal.Zero, apperrors.Wrap(apperrors.CodeOracleUnavailable, "malformed market chart response", err)
	}

	if len(payload.Prices) == 0 || len(payload.Prices[0]) < 2 {
		return decimal.Zero, apperrors.New(apperrors.CodeNoHistoricalData,
			fmt.Sprintf("no %s/%s samples in the last %dm", base, quote, minutesAgo))
	}

	// First entry is the earliest [timestamp, price] pair in the window.
	rate, err := decimal.NewFromString(payload.Prices[0][1].String())
	if err != nil || rate.IsZero() {
		return decimal.Zero, apperrors.Wrap(apperrors.CodeOracleUnavailable, "non-numeric historical rate", err)
	}

	return rate, nil
}

func (g *CoinGecko) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeOracleUnavailable, "building rate request", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "chainbazaar/1.0")

	resp, err := g.client.Do(req)
	if err != nil {
		logrus.WithError(err).WithField("endpoint", endpoint).Warn("Oracle request failed")
		return nil, apperrors.Wrap(apperrors.CodeOracleUnavailable, "rate source unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, apperrors.New(apperrors.CodeOracleUnavailable,
			fmt.Sprintf("rate source returned status %d", resp.StatusCode))
	}

	// Rate payloads are tiny; cap the read in case the upstream misbehaves.
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeOracleUnavailable, "reading rate response", err)
	}

	return body, nil
}
