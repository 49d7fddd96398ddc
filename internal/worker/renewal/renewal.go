// Package renewal はプッシュ通知チャネルの期限前更新ジョブを提供する。
package renewal

import (
	"context"
	"log/slog"
	"time"
)

// ChannelRenewer はチャネル更新の実行インターフェース。watch.Managerが実装する。
type ChannelRenewer interface {
	// RenewDue はチャネル有効期限がdeadline以前のアカウントのチャネルを
	// 開設し直し、更新に成功した件数を返す。
	RenewDue(ctx context.Context, deadline time.Time) (int, error)
}

// Renewer は期限切れ間近のプッシュ通知チャネルを定期的に更新する。
// リードタイム分の余裕を持って更新することで、チャネル失効による
// 通知の欠落期間を作らない（欠落してもポーリングが補完する）。
type Renewer struct {
	renewer  ChannelRenewer
	logger   *slog.Logger
	leadTime time.Duration
	now      func() time.Time
}

// NewRenewer はRenewerの新しいインスタンスを生成する。
// leadTimeが0以下の場合はデフォルト値12時間を使用する。
func NewRenewer(renewer ChannelRenewer, logger *slog.Logger, leadTime time.Duration) *Renewer {
	if leadTime <= 0 {
		leadTime = 12 * time.Hour
	}
	return &Renewer{
		renewer:  renewer,
		logger:   logger,
		leadTime: leadTime,
		now:      time.Now,
	}
}

// Start は指定間隔のティッカーで更新ジョブを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (r *Renewer) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Info("チャネル更新ジョブを開始しました",
		slog.Duration("interval", interval),
		slog.Duration("lead_time", r.leadTime),
	)

	// 起動直後に1回実行
	if err := r.RunOnce(ctx); err != nil {
		r.logger.Error("チャネル更新サイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("チャネル更新ジョブを停止しました")
			return
		case <-ticker.C:
			if err := r.RunOnce(ctx); err != nil {
				r.logger.Error("チャネル更新サイクルの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce は期限切れ間近のチャネルを1回更新する。
func (r *Renewer) RunOnce(ctx context.Context) error {
	deadline := r.now().Add(r.leadTime)
	renewed, err := r.renewer.RenewDue(ctx, deadline)
	if err != nil {
		return err
	}
	if renewed > 0 {
		r.logger.Info("プッシュ通知チャネルを更新しました",
			slog.Int("renewed", renewed),
		)
	}
	return nil
}
