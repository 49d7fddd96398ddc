// Package sweep はupdate_pendingの会議を回収するリトライスイープを提供する。
//
// アウトバウンドプッシュの失敗で取り残された会議を定期的に拾い上げ、
// 会議の現在の状態に応じた操作を再実行する。スイープ自体が失敗しても
// 次回サイクルで再度対象になるため、個別のリトライ管理は持たない。
package sweep

import (
	"context"
	"log/slog"
	"time"

	"github.com/codegym-software/imeet-sync/internal/model"
	"github.com/codegym-software/imeet-sync/internal/repository"
)

// Pusher はアウトバウンド同期の実行インターフェース。sync.Outboundが実装する。
type Pusher interface {
	PushCreate(ctx context.Context, meetingID string) error
	PushUpdate(ctx context.Context, meetingID string) error
	PushDelete(ctx context.Context, meetingID string) error
}

// PendingGauge は未同期件数のメトリクス記録インターフェース。
type PendingGauge interface {
	SetPendingSync(count int)
}

type noopGauge struct{}

func (noopGauge) SetPendingSync(count int) {}

// Sweeper はupdate_pendingの会議のリトライスイープを行う。
type Sweeper struct {
	meetingRepo repository.MeetingRepository
	pusher      Pusher
	gauge       PendingGauge
	logger      *slog.Logger
	batchSize   int
}

// NewSweeper はSweeperの新しいインスタンスを生成する。
// batchSizeが0以下の場合はデフォルト値100を使用する。
// gaugeがnilの場合は記録しない。
func NewSweeper(
	meetingRepo repository.MeetingRepository,
	pusher Pusher,
	gauge PendingGauge,
	logger *slog.Logger,
	batchSize int,
) *Sweeper {
	if batchSize <= 0 {
		batchSize = 100
	}
	if gauge == nil {
		gauge = noopGauge{}
	}
	return &Sweeper{
		meetingRepo: meetingRepo,
		pusher:      pusher,
		gauge:       gauge,
		logger:      logger,
		batchSize:   batchSize,
	}
}

// Start は指定間隔のティッカーでスイープを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Sweeper) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("リトライスイープを開始しました",
		slog.Duration("interval", interval),
		slog.Int("batch_size", s.batchSize),
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("リトライスイープを停止しました")
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logger.Error("スイープサイクルの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce はupdate_pendingの会議を1バッチ取得し、状態に応じた操作を
// 再実行する。1件の失敗は他の会議の処理を妨げない。
// 処理後に未同期件数をゲージへ記録する。
func (s *Sweeper) RunOnce(ctx context.Context) error {
	meetings, err := s.meetingRepo.ListPendingSync(ctx, s.batchSize)
	if err != nil {
		return err
	}

	recovered := 0
	for _, meeting := range meetings {
		if err := s.retry(ctx, meeting); err != nil {
			// 失敗した会議はupdate_pendingのまま残り、次回サイクルで再試行される
			s.logger.Warn("会議の再同期に失敗しました",
				slog.String("meeting_id", meeting.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		recovered++
	}

	if len(meetings) > 0 {
		s.logger.Info("スイープサイクルが完了しました",
			slog.Int("picked", len(meetings)),
			slog.Int("recovered", recovered),
		)
	}

	pending, err := s.meetingRepo.CountPendingSync(ctx)
	if err != nil {
		return err
	}
	s.gauge.SetPendingSync(pending)
	return nil
}

// retry は会議の現在の状態から必要な操作を導出して実行する。
// キャンセル済みなら削除、リモートイベント未作成なら作成、それ以外は更新。
func (s *Sweeper) retry(ctx context.Context, meeting *model.Meeting) error {
	switch {
	case meeting.BookingStatus == model.BookingStatusCancelled:
		return s.pusher.PushDelete(ctx, meeting.ID)
	case meeting.ExternalEventID == "":
		return s.pusher.PushCreate(ctx, meeting.ID)
	default:
		return s.pusher.PushUpdate(ctx, meeting.ID)
	}
}
