// Package auth はGoogleカレンダー連携の認可フロー（接続・コールバック・解除）を提供する。
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/oauth2"

	"github.com/codegym-software/imeet-sync/internal/model"
	"github.com/codegym-software/imeet-sync/internal/repository"
)

// OAuthProvider は認可フローのプロバイダーインターフェース。
type OAuthProvider interface {
	// AuthCodeURL は認可URLを生成する。
	AuthCodeURL(state string) string
	// Exchange は認可コードをトークンに交換する。
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	// FetchUserEmail はアクセストークンで連携先メールアドレスを取得する。
	FetchUserEmail(ctx context.Context, accessToken string) (string, error)
	// RevokeToken はプロバイダー側でトークンを失効させる。
	RevokeToken(ctx context.Context, token string) error
}

// SubscriptionManager はプッシュ通知チャネルの管理インターフェース。
// watch.Managerが実装する。
type SubscriptionManager interface {
	// Subscribe は通知チャネルを登録する。
	Subscribe(ctx context.Context, accountID string) error
	// Unsubscribe は通知チャネルを停止しハンドルを消去する。
	Unsubscribe(ctx context.Context, accountID string) error
}

// Service はカレンダー連携の確立と解除に関するビジネスロジックを提供する。
type Service struct {
	provider      OAuthProvider
	accountRepo   repository.AccountRepository
	meetingRepo   repository.MeetingRepository
	subscriptions SubscriptionManager
	logger        *slog.Logger
}

// NewService はServiceを生成する。
func NewService(
	provider OAuthProvider,
	accountRepo repository.AccountRepository,
	meetingRepo repository.MeetingRepository,
	subscriptions SubscriptionManager,
	logger *slog.Logger,
) *Service {
	return &Service{
		provider:      provider,
		accountRepo:   accountRepo,
		meetingRepo:   meetingRepo,
		subscriptions: subscriptions,
		logger:        logger,
	}
}

// ConnectURL は指定アカウントの認可URLとCookie照合用nonceを生成する。
// stateにはアカウントIDとnonceが不透明な形式で埋め込まれる。
func (s *Service) ConnectURL(ctx context.Context, accountID string) (url, nonce string, err error) {
	account, err := s.accountRepo.FindByID(ctx, accountID)
	if err != nil {
		return "", "", fmt.Errorf("アカウントの取得に失敗: %w", err)
	}
	if account == nil {
		return "", "", model.NewAccountNotFoundError(accountID)
	}

	nonce, err = GenerateNonce()
	if err != nil {
		return "", "", err
	}

	state, err := EncodeState(accountID, nonce)
	if err != nil {
		return "", "", err
	}

	return s.provider.AuthCodeURL(state), nonce, nil
}

// HandleCallback は認可コールバックを処理する。
// コードをトークンに交換してクレデンシャルを保存し同期を有効化する。
// 連携先メールアドレスの取得とプッシュ通知チャネルの登録はベストエフォートで行い、
// 失敗しても連携自体は成立させる。
// 戻り値は認可されたアカウントID。
func (s *Service) HandleCallback(ctx context.Context, state, expectedNonce, code string) (string, error) {
	accountID, nonce, err := DecodeState(state)
	if err != nil {
		return "", err
	}
	if expectedNonce == "" || nonce != expectedNonce {
		return "", fmt.Errorf("stateのnonceが一致しません")
	}

	account, err := s.accountRepo.FindByID(ctx, accountID)
	if err != nil {
		return "", fmt.Errorf("アカウントの取得に失敗: %w", err)
	}
	if account == nil {
		return "", model.NewAccountNotFoundError(accountID)
	}

	token, err := s.provider.Exchange(ctx, code)
	if err != nil {
		return "", err
	}
	if token.RefreshToken == "" {
		// prompt=consentを強制しているため通常は発生しない
		return "", fmt.Errorf("トークンレスポンスにリフレッシュトークンが含まれていません")
	}

	expiry := token.Expiry
	if expiry.IsZero() {
		expiry = time.Now().Add(time.Hour)
	}

	if err := s.accountRepo.SaveCredential(ctx, accountID, token.AccessToken, token.RefreshToken, expiry); err != nil {
		return "", err
	}

	s.logger.Info("カレンダー連携を確立しました", slog.String("account_id", accountID))

	// 連携先メールアドレスの解決（ベストエフォート）
	if email, err := s.provider.FetchUserEmail(ctx, token.AccessToken); err != nil {
		s.logger.Warn("連携先メールアドレスの取得に失敗しました",
			slog.String("account_id", accountID),
			slog.String("error", err.Error()),
		)
	} else if err := s.accountRepo.UpdateGoogleEmail(ctx, accountID, email); err != nil {
		s.logger.Warn("連携先メールアドレスの保存に失敗しました",
			slog.String("account_id", accountID),
			slog.String("error", err.Error()),
		)
	}

	// プッシュ通知チャネルの登録（ベストエフォート。ポーリングが正しさを担保する）
	if err := s.subscriptions.Subscribe(ctx, accountID); err != nil {
		s.logger.Warn("通知チャネルの登録に失敗しました",
			slog.String("account_id", accountID),
			slog.String("error", err.Error()),
		)
	}

	return accountID, nil
}

// Disconnect はカレンダー連携を解除する。
// チャネル停止とプロバイダー側トークン失効はベストエフォート。
// リモートカレンダー由来の会議（external_event_id設定済み）を削除し、
// クレデンシャルを単一UPDATEで全消去する。
func (s *Service) Disconnect(ctx context.Context, accountID string) error {
	account, err := s.accountRepo.FindByID(ctx, accountID)
	if err != nil {
		return fmt.Errorf("アカウントの取得に失敗: %w", err)
	}
	if account == nil {
		return model.NewAccountNotFoundError(accountID)
	}
	if !account.HasCredential() {
		return model.NewNotConnectedError()
	}

	// 1. 通知チャネルの停止（ベストエフォート。トークンが有効なうちに行う）
	if err := s.subscriptions.Unsubscribe(ctx, accountID); err != nil {
		s.logger.Warn("通知チャネルの停止に失敗しました",
			slog.String("account_id", accountID),
			slog.String("error", err.Error()),
		)
	}

	// 2. プロバイダー側のトークン失効（ベストエフォート）
	if err := s.provider.RevokeToken(ctx, account.RefreshToken); err != nil {
		s.logger.Warn("トークンの失効に失敗しました",
			slog.String("account_id", accountID),
			slog.String("error", err.Error()),
		)
	}

	// 3. リモートカレンダー由来の会議を削除
	deleted, err := s.meetingRepo.DeleteImportedByOwner(ctx, accountID)
	if err != nil {
		return err
	}

	// 4. クレデンシャルの全消去と同期の無効化
	if err := s.accountRepo.ClearCredential(ctx, accountID); err != nil {
		return err
	}

	s.logger.Info("カレンダー連携を解除しました",
		slog.String("account_id", accountID),
		slog.Int64("deleted_meetings", deleted),
	)
	return nil
}
