// Package cleanup は期限切れのセッションと検証トークンを削除する定期ジョブを提供する。
// 期限切れの行は読み取り時にも無効として扱われるため、このジョブは容量の回収のみを担う。
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/eloraa/drive/internal/metrics"
)

// 削除対象の種別。メトリクスのラベルに使う。
const (
	KindSessions           = "sessions"
	KindVerificationTokens = "verification_tokens"
)

// DefaultInterval はジョブの既定の実行間隔。
const DefaultInterval = 24 * time.Hour

// ExpiredDeleter は期限切れレコードを削除し、削除件数を返す。
// repository.SessionRepository と repository.VerificationTokenRepository が満たす。
type ExpiredDeleter interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// Target は削除対象の種別とその削除処理の組。
type Target struct {
	Kind    string
	Deleter ExpiredDeleter
}

// CleanupJob は期限切れレコードの削除ジョブ。
// 冪等であり、削除対象がなくてもエラーにならない。
type CleanupJob struct {
	targets []Target
	logger  *slog.Logger
	metrics metrics.MetricsCollector
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(targets []Target, logger *slog.Logger, m metrics.MetricsCollector) *CleanupJob {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.NopCollector{}
	}
	return &CleanupJob{targets: targets, logger: logger, metrics: m}
}

// Run は全対象の期限切れレコードを削除する。
// 1つの対象が失敗しても残りの対象は処理し、失敗はまとめて返す。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	var errs []error
	var total int64
	for _, t := range j.targets {
		deleted, err := t.Deleter.DeleteExpired(ctx)
		if err != nil {
			j.logger.Error("期限切れレコードの削除に失敗しました",
				slog.String("kind", t.Kind),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("failed to delete expired %s: %w", t.Kind, err))
			continue
		}
		total += deleted
		j.metrics.RecordExpiredDeleted(t.Kind, deleted)
		j.logger.Info("期限切れレコードを削除しました",
			slog.String("kind", t.Kind),
			slog.Int64("deleted_count", deleted),
		)
	}

	j.logger.Info("クリーンアップジョブが完了しました",
		slog.Int64("deleted_total", total),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return errors.Join(errs...)
}

// Start は起動直後に1回実行し、その後intervalごとにRunを繰り返す。
// ctxがキャンセルされるまでブロックする。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}

	j.runOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.runOnce(ctx)
		}
	}
}

func (j *CleanupJob) runOnce(ctx context.Context) {
	if err := j.Run(ctx); err != nil {
		j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
	}
}
