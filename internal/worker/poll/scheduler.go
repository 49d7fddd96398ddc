// Package poll はインバウンド同期の定期ポーリングを提供する。
//
// プッシュ通知が欠落・遅延してもポーリングが同期を保証する
// （プッシュ通知は高速化のための補助であり、正しさはポーリングが担う）。
package poll

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/codegym-software/imeet-sync/internal/model"
	"github.com/codegym-software/imeet-sync/internal/repository"
)

// Puller はインバウンド同期の実行インターフェース。sync.Inboundが実装する。
type Puller interface {
	// PullWindow は指定アカウントの[from, to]のリモートイベントを
	// ローカルへ反映し、作成・更新した会議数を返す。
	PullWindow(ctx context.Context, accountID string, from, to time.Time) (int, error)
}

// Scheduler は同期有効アカウントの定期ポーリングと並列制御を行う。
// ティッカーでポーリング対象アカウントを取得し、
// semaphoreパターンで最大並列数を制御しながらプルを実行する。
type Scheduler struct {
	accountRepo    repository.AccountRepository
	puller         Puller
	logger         *slog.Logger
	windowBack     time.Duration
	windowForward  time.Duration
	maxConcurrency int
	now            func() time.Time
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
// maxConcurrencyが0以下の場合はデフォルト値5を使用する。
func NewScheduler(
	accountRepo repository.AccountRepository,
	puller Puller,
	logger *slog.Logger,
	windowBack, windowForward time.Duration,
	maxConcurrency int,
) *Scheduler {
	if maxConcurrency <= 0 {
		maxConcurrency = 5
	}
	return &Scheduler{
		accountRepo:    accountRepo,
		puller:         puller,
		logger:         logger,
		windowBack:     windowBack,
		windowForward:  windowForward,
		maxConcurrency: maxConcurrency,
		now:            time.Now,
	}
}

// Start は指定間隔のティッカーでスケジューラを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("ポーリングスケジューラを開始しました",
		slog.Duration("interval", interval),
		slog.Int("max_concurrency", s.maxConcurrency),
	)

	// 起動直後に1回実行
	if err := s.RunOnce(ctx); err != nil {
		s.logger.Error("ポーリングサイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("ポーリングスケジューラを停止しました")
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logger.Error("ポーリングサイクルの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce は同期有効アカウントを1回取得し、並列でプルを実行する。
// 1アカウントの失敗は他のアカウントのプルを妨げない。
func (s *Scheduler) RunOnce(ctx context.Context) error {
	accounts, err := s.accountRepo.ListSyncEnabled(ctx)
	if err != nil {
		return err
	}

	if len(accounts) == 0 {
		s.logger.Info("ポーリング対象のアカウントはありません")
		return nil
	}

	now := s.now()
	from := now.Add(-s.windowBack)
	to := now.Add(s.windowForward)

	s.logger.Info("ポーリングサイクルを開始します",
		slog.Int("account_count", len(accounts)),
	)

	// semaphoreパターンで並列数を制御
	sem := make(chan struct{}, s.maxConcurrency)
	var wg sync.WaitGroup

	for _, account := range accounts {
		wg.Add(1)
		sem <- struct{}{} // semaphore取得（ブロック）

		go func(a *model.Account) {
			defer wg.Done()
			defer func() { <-sem }() // semaphore解放

			count, err := s.puller.PullWindow(ctx, a.ID, from, to)
			if err != nil {
				s.logger.Error("アカウントのプルに失敗しました",
					slog.String("account_id", a.ID),
					slog.String("error", err.Error()),
				)
				return
			}
			if count > 0 {
				s.logger.Info("ポーリングで変更を取り込みました",
					slog.String("account_id", a.ID),
					slog.Int("count", count),
				)
			}
		}(account)
	}

	wg.Wait()
	s.logger.Info("ポーリングサイクルが完了しました")
	return nil
}
