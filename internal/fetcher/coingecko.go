package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const simplePricePath = "/simple/price"

// CoingeckoOptions parameterise the HTTP market data fetcher.
type CoingeckoOptions struct {
	BaseURL    string
	Timeout    time.Duration
	UserAgent  string
	CoinIDs    map[string]string // asset -> coingecko coin id
	VsCurrency string
}

// Coingecko fetches spot prices from the CoinGecko simple price api.
type Coingecko struct {
	opts    CoingeckoOptions
	client  *http.Client
	baseURL string
	logger  zerolog.Logger
}

// NewCoingecko constructs the fetcher.
func NewCoingecko(opts CoingeckoOptions, logger zerolog.Logger) *Coingecko {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.coingecko.com/api/v3"
	}
	if opts.VsCurrency == "" {
		opts.VsCurrency = "usd"
	}

	return &Coingecko{
		opts:    opts,
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		logger:  logger.With().Str("component", "coingecko_fetcher").Logger(),
	}
}

// Name identifies the source for provenance.
func (c *Coingecko) Name() string { return "coingecko" }

// Fetch retrieves one quote per configured asset.
func (c *Coingecko) Fetch(ctx context.Context) ([]Quote, error) {
	if len(c.opts.CoinIDs) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(c.opts.CoinIDs))
	assetByID := make(map[string]string, len(c.opts.CoinIDs))
	for asset, id := range c.opts.CoinIDs {
		ids = append(ids, id)
		assetByID[id] = asset
	}
	sort.Strings(ids)

	query := url.Values{}
	query.Set("ids", strings.Join(ids, ","))
	query.Set("vs_currencies", c.opts.VsCurrency)

	endpoint := c.baseURL + simplePricePath + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create coingecko request: %w", err)
	}
	if c.opts.UserAgent != "" {
		req.Header.Set("User-Agent", c.opts.UserAgent)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: coingecko status %d", ErrSourceUnavailable, resp.StatusCode)
	}

	var payload map[string]map[string]json.Number
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode coingecko response: %w", err)
	}

	quotes := make([]Quote, 0, len(payload))
	for id, currencies := range payload {
		asset, ok := assetByID[id]
		if !ok {
			continue
		}
		raw, ok := currencies[c.opts.VsCurrency]
		if !ok {
			c.logger.Warn().Str("coin", id).Msg("quote currency missing from response")
			continue
		}
		value, convErr := decimal.NewFromString(raw.String())
		if convErr != nil {
			c.logger.Warn().Str("coin", id).Str("raw", raw.String()).Msg("unparseable price")
			continue
		}
		quotes = append(quotes, Quote{Asset: asset, Value: value, Source: c.Name()})
	}

	return quotes, nil
}

var _ Fetcher = (*Coingecko)(nil)
