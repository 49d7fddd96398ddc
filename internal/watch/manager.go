// Package watch はリモートカレンダーのプッシュ通知チャネルを管理する。
//
// チャネルの購読・解除・期限切れ前の更新を担当する。チャネルは
// 補助的な仕組みであり、購読に失敗してもポーリングが同期を保証するため、
// 連携フロー全体を失敗させることはない。
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/codegym-software/imeet-sync/internal/gcal"
	"github.com/codegym-software/imeet-sync/internal/model"
	"github.com/codegym-software/imeet-sync/internal/repository"
	"github.com/codegym-software/imeet-sync/internal/sync"
)

// Manager はプッシュ通知チャネルのライフサイクルを管理する。
type Manager struct {
	accountRepo repository.AccountRepository
	executor    *sync.Executor
	cal         sync.CalendarAPI
	address     string        // 通知の送信先URL（公開エンドポイント）
	ttl         time.Duration // チャネルの要求有効期間
	logger      *slog.Logger
}

// NewManager はManagerを生成する。
// addressが空の場合、Subscribeは何もしない（プッシュ通知無効の構成）。
func NewManager(
	accountRepo repository.AccountRepository,
	executor *sync.Executor,
	cal sync.CalendarAPI,
	address string,
	ttl time.Duration,
	logger *slog.Logger,
) *Manager {
	return &Manager{
		accountRepo: accountRepo,
		executor:    executor,
		cal:         cal,
		address:     address,
		ttl:         ttl,
		logger:      logger,
	}
}

// Subscribe はアカウントのカレンダーに対するプッシュ通知チャネルを開設し、
// ハンドルをアカウントに保存する。既存チャネルがある場合は先に解除を試みる。
func (m *Manager) Subscribe(ctx context.Context, accountID string) error {
	if m.address == "" {
		m.logger.Debug("通知先URLが未設定のためチャネルを開設しません", slog.String("account_id", accountID))
		return nil
	}

	account, err := m.accountRepo.FindByID(ctx, accountID)
	if err != nil {
		return fmt.Errorf("アカウントの取得に失敗: %w", err)
	}
	if account == nil {
		return model.NewAccountNotFoundError(accountID)
	}
	if account.HasChannel() {
		// 古いチャネルの解除はベストエフォート。失敗しても新チャネルの
		// 開設を妨げない（古い方は有効期限で自然消滅する）。
		m.stopChannel(ctx, account)
	}

	channelID := uuid.New().String()
	var opened *channelHandle
	err = m.executor.Execute(ctx, accountID, func(ctx context.Context, token string) error {
		ch, err := m.cal.WatchEvents(ctx, token, channelID, m.address, m.ttl)
		if err != nil {
			return err
		}
		opened = &channelHandle{
			channelID:  ch.Id,
			resourceID: ch.ResourceId,
			expiry:     gcal.ChannelExpiryTime(ch),
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("チャネルの開設に失敗: %w", err)
	}

	if err := m.accountRepo.SaveChannel(ctx, accountID, opened.channelID, opened.resourceID, opened.expiry); err != nil {
		return fmt.Errorf("チャネルの保存に失敗: %w", err)
	}
	m.logger.Info("プッシュ通知チャネルを開設しました",
		slog.String("account_id", accountID),
		slog.String("channel_id", opened.channelID),
	)
	return nil
}

// Unsubscribe はアカウントのプッシュ通知チャネルを解除する。
// リモート側の解除はベストエフォートで、ローカルのハンドルは必ず消去する。
func (m *Manager) Unsubscribe(ctx context.Context, accountID string) error {
	account, err := m.accountRepo.FindByID(ctx, accountID)
	if err != nil {
		return fmt.Errorf("アカウントの取得に失敗: %w", err)
	}
	if account == nil {
		return model.NewAccountNotFoundError(accountID)
	}
	if !account.HasChannel() {
		return nil
	}

	m.stopChannel(ctx, account)

	if err := m.accountRepo.ClearChannel(ctx, accountID); err != nil {
		return fmt.Errorf("チャネルの消去に失敗: %w", err)
	}
	return nil
}

// RenewDue はチャネル有効期限がdeadline以前のアカウントのチャネルを
// 開設し直す。1アカウントの失敗は他のアカウントの更新を妨げない。
// 更新に成功したアカウント数を返す。
func (m *Manager) RenewDue(ctx context.Context, deadline time.Time) (int, error) {
	accounts, err := m.accountRepo.ListChannelsExpiringBefore(ctx, deadline)
	if err != nil {
		return 0, fmt.Errorf("期限切れ間近チャネルの取得に失敗: %w", err)
	}

	renewed := 0
	for _, account := range accounts {
		if err := m.Subscribe(ctx, account.ID); err != nil {
			m.logger.Warn("チャネルの更新に失敗しました",
				slog.String("account_id", account.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		renewed++
	}
	return renewed, nil
}

// stopChannel はリモート側のチャネル解除をベストエフォートで行う。
func (m *Manager) stopChannel(ctx context.Context, account *model.Account) {
	err := m.executor.Execute(ctx, account.ID, func(ctx context.Context, token string) error {
		return m.cal.StopChannel(ctx, token, account.ChannelID, account.ChannelResourceID)
	})
	if err != nil && !gcal.IsNotFound(err) {
		m.logger.Warn("チャネルの解除に失敗しました",
			slog.String("account_id", account.ID),
			slog.String("channel_id", account.ChannelID),
			slog.String("error", err.Error()),
		)
	}
}

type channelHandle struct {
	channelID  string
	resourceID string
	expiry     *time.Time
}
