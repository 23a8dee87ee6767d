// Package geo はIPアドレスからの位置情報（都市・国）の推定を提供する。
package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/eloraa/drive/internal/metrics"
	"github.com/eloraa/drive/internal/netutil"
)

// maxResponseSize はレスポンスボディの読み取り上限。
const maxResponseSize = 64 * 1024

// GeoInfo は推定された位置情報。不明な項目は空文字列。
type GeoInfo struct {
	City    string
	Country string
}

// Empty は都市・国のどちらも不明かどうかを返す。
func (g GeoInfo) Empty() bool {
	return g.City == "" && g.Country == ""
}

// Locator はIPアドレスから位置情報を推定する。
type Locator interface {
	Lookup(ctx context.Context, ip string) (GeoInfo, error)
}

// ClientConfig はIPAPIClientの設定。
type ClientConfig struct {
	BaseURL   string        // 例: https://ipapi.co
	Timeout   time.Duration // 1回の照会のタイムアウト
	PerMinute int           // 1分あたりの照会上限。0以下で無制限
}

// IPAPIClient はipapi.co互換のJSON APIで位置情報を照会する。
// GET {BaseURL}/{ip}/json/ を呼び出す。
type IPAPIClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    metrics.MetricsCollector
	baseURL    string
	timeout    time.Duration
	limiter    *rate.Limiter
}

// NewIPAPIClient はIPAPIClientを生成する。
// httpClientにはSSRF防止付きのクライアントを渡す。
func NewIPAPIClient(httpClient *http.Client, cfg ClientConfig, logger *slog.Logger, m metrics.MetricsCollector) *IPAPIClient {
	if m == nil {
		m = metrics.NopCollector{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	limit := rate.Inf
	burst := 0
	if cfg.PerMinute > 0 {
		limit = rate.Limit(float64(cfg.PerMinute) / 60.0)
		burst = cfg.PerMinute
	}
	return &IPAPIClient{
		httpClient: httpClient,
		logger:     logger,
		metrics:    m,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		timeout:    cfg.Timeout,
		limiter:    rate.NewLimiter(limit, burst),
	}
}

type ipapiResponse struct {
	City        string `json:"city"`
	Country     string `json:"country"`
	CountryName string `json:"country_name"`
	Error       bool   `json:"error"`
	Reason      string `json:"reason"`
}

// Lookup はIPアドレスの位置情報を照会する。
// 公開IPでない場合や照会上限に達した場合は照会せず空のGeoInfoを返す。
func (c *IPAPIClient) Lookup(ctx context.Context, ip string) (GeoInfo, error) {
	if !netutil.IsPublicIP(ip) || !c.limiter.Allow() {
		c.metrics.RecordGeoLookup(metrics.ResultSkipped, 0)
		return GeoInfo{}, nil
	}

	start := time.Now()
	info, err := c.lookup(ctx, ip)
	if err != nil {
		c.metrics.RecordGeoLookup(metrics.ResultFailure, time.Since(start))
		c.logger.Warn("geo lookup failed",
			slog.String("ip", ip),
			slog.String("error", err.Error()),
		)
		return GeoInfo{}, err
	}
	c.metrics.RecordGeoLookup(metrics.ResultSuccess, time.Since(start))
	return info, nil
}

func (c *IPAPIClient) lookup(ctx context.Context, ip string) (GeoInfo, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	reqURL := c.baseURL + "/" + url.PathEscape(ip) + "/json/"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return GeoInfo{}, fmt.Errorf("failed to create geo request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "drive-auth/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return GeoInfo{}, fmt.Errorf("geo request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return GeoInfo{}, fmt.Errorf("geo lookup failed with status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return GeoInfo{}, fmt.Errorf("failed to read geo response: %w", err)
	}

	var parsed ipapiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return GeoInfo{}, fmt.Errorf("failed to parse geo response: %w", err)
	}
	if parsed.Error {
		return GeoInfo{}, fmt.Errorf("geo lookup rejected: %s", parsed.Reason)
	}

	country := parsed.CountryName
	if country == "" {
		country = parsed.Country
	}
	return GeoInfo{
		City:    strings.TrimSpace(parsed.City),
		Country: strings.TrimSpace(country),
	}, nil
}

// compile-time interface check
var _ Locator = (*IPAPIClient)(nil)
