package mail

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/eloraa/drive/internal/geo"
	"github.com/eloraa/drive/internal/metrics"
	"github.com/eloraa/drive/internal/model"
	"github.com/eloraa/drive/internal/netutil"
	"github.com/eloraa/drive/internal/security"
)

//go:embed assets/logo.png
var logoPNG []byte

// 位置情報を受け渡すリクエストヘッダー。ルートゲートがプラットフォームの値から設定する。
const (
	HeaderCity    = "X-City"
	HeaderCountry = "X-Country"
)

// MagicLinkRequest はマジックリンクメール送信の入力。
type MagicLinkRequest struct {
	Identifier string        // 宛先メールアドレス
	URL        string        // コールバックURL
	Request    *http.Request // 送信元IP・位置情報の取得元。nil可
}

// DispatcherConfig はDispatcherの設定。
type DispatcherConfig struct {
	From     string
	ReplyTo  string
	ValidFor time.Duration
}

// Dispatcher はマジックリンクメールを組み立てて送信する。
type Dispatcher struct {
	transport Transport
	locator   geo.Locator
	sanitizer *security.TextSanitizer
	config    DispatcherConfig
	metrics   metrics.MetricsCollector
	logger    *slog.Logger
}

// NewDispatcher はDispatcherを生成する。locatorはnil可。
func NewDispatcher(transport Transport, locator geo.Locator, config DispatcherConfig, m metrics.MetricsCollector, logger *slog.Logger) *Dispatcher {
	if m == nil {
		m = metrics.NopCollector{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if config.ValidFor <= 0 {
		config.ValidFor = 15 * time.Minute
	}
	return &Dispatcher{
		transport: transport,
		locator:   locator,
		sanitizer: security.NewTextSanitizer(),
		config:    config,
		metrics:   m,
		logger:    logger,
	}
}

// Send はマジックリンクメールを送信する。
// 配送できなかった宛先がある場合は*model.EmailDeliveryErrorを返す。
// 位置情報の取得失敗は送信を妨げない。
func (d *Dispatcher) Send(ctx context.Context, req MagicLinkRequest) error {
	ip := netutil.UnknownIP
	if req.Request != nil {
		ip = netutil.ClientIP(req.Request)
	}
	location := d.resolveGeo(ctx, req.Request, ip)

	content := magicLinkContent{
		URL:          req.URL,
		Identifier:   req.Identifier,
		IP:           ip,
		Geo:          location,
		ValidMinutes: int(d.config.ValidFor / time.Minute),
	}

	msg := &Message{
		From:    d.config.From,
		To:      []string{req.Identifier},
		ReplyTo: d.config.ReplyTo,
		Subject: Subject,
		Text:    renderText(content),
		HTML:    renderHTML(content, d.sanitizer.Escape),
		Inline: []InlineImage{{
			ContentID:   logoContentID,
			Filename:    logoFilename,
			ContentType: "image/png",
			Data:        logoPNG,
		}},
	}

	result, err := d.transport.Send(ctx, msg)
	if err != nil {
		d.metrics.RecordEmailDispatch(metrics.ResultFailure)
		return fmt.Errorf("failed to send magic link email: %w: %w", model.ErrEmailDeliveryFailed, err)
	}
	if failed := result.Failed(); len(failed) > 0 {
		d.metrics.RecordEmailDispatch(metrics.ResultFailure)
		d.logger.Warn("magic link email not delivered",
			slog.String("recipients", strings.Join(failed, ", ")),
		)
		return &model.EmailDeliveryError{Recipients: failed}
	}

	d.metrics.RecordEmailDispatch(metrics.ResultSuccess)
	d.logger.Info("magic link email sent",
		slog.String("ip", ip),
		slog.Bool("geo_resolved", !location.Empty()),
	)
	return nil
}

// resolveGeo はヘッダーの位置情報を優先し、なければLocatorで推定する。
func (d *Dispatcher) resolveGeo(ctx context.Context, r *http.Request, ip string) geo.GeoInfo {
	if r != nil {
		city := strings.TrimSpace(r.Header.Get(HeaderCity))
		country := strings.TrimSpace(r.Header.Get(HeaderCountry))
		if city != "" && country != "" {
			return geo.GeoInfo{City: city, Country: country}
		}
	}
	if d.locator == nil {
		return geo.GeoInfo{}
	}
	info, err := d.locator.Lookup(ctx, ip)
	if err != nil {
		return geo.GeoInfo{}
	}
	return info
}
