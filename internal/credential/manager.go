package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/codegym-software/imeet-sync/internal/repository"
)

// 既定値。Configで上書き可能。
const (
	// defaultExpiryMargin は有効期限の安全マージン。
	// 期限までの残りがこれを下回った時点でリフレッシュする。
	defaultExpiryMargin = 5 * time.Minute
	// defaultRefreshTimeout はトークンエンドポイント呼び出しのタイムアウト。
	defaultRefreshTimeout = 15 * time.Second
)

var (
	// ErrAccountNotFound は指定アカウントが存在しないことを示す。
	ErrAccountNotFound = errors.New("credential: アカウントが見つかりません")
	// ErrSyncDisabled は同期が無効（連携未確立または解除済み）であることを示す。
	ErrSyncDisabled = errors.New("credential: カレンダー同期が無効です")
	// ErrReauthRequired はリフレッシュ失敗により再認可が必要であることを示す。
	// このエラーは自動リトライされない。アカウントオーナーによる再連携が必要。
	ErrReauthRequired = errors.New("credential: 再認可が必要です")
)

// TokenRefresher はリフレッシュトークンによるトークン再取得のインターフェース。
// auth.GoogleOAuthProviderが実装する。
type TokenRefresher interface {
	// Refresh はリフレッシュトークンで新しいアクセストークンを取得する。
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

// MetricsRecorder はリフレッシュ結果のメトリクス記録インターフェース。
type MetricsRecorder interface {
	RecordRefreshSuccess()
	RecordRefreshFailure()
}

// noopMetrics はメトリクス未設定時のダミー実装。
type noopMetrics struct{}

func (noopMetrics) RecordRefreshSuccess() {}
func (noopMetrics) RecordRefreshFailure() {}

// Config はManagerの設定。
type Config struct {
	ExpiryMargin   time.Duration // 有効期限の安全マージン（デフォルト5分）
	RefreshTimeout time.Duration // リフレッシュ呼び出しのタイムアウト（デフォルト15秒）
}

// Manager はアカウントごとの有効なアクセストークンの取得を提供する。
//
// リフレッシュはアカウント単位の排他ロックで直列化される。リフレッシュ中に
// 到着した2人目の呼び出し元はロック待ちの後に状態を読み直し、先行呼び出しが
// 取得したトークンを再利用する（同一リフレッシュトークンでの並行リフレッシュは
// プロバイダーによっては安全でなく、クォータの無駄でもある）。
//
// リフレッシュトークンが失効・取り消しされている場合はクレデンシャルを
// 単一UPDATEで全消去し同期を無効化した上でErrReauthRequiredを返す。
// この失敗は自動リトライされない。ネットワーク障害などの一時的な失敗では
// クレデンシャルを保持したままエラーを返し、後続の呼び出しで再試行する。
type Manager struct {
	accountRepo repository.AccountRepository
	refresher   TokenRefresher
	locks       *KeyLock
	logger      *slog.Logger
	metrics     MetricsRecorder

	expiryMargin   time.Duration
	refreshTimeout time.Duration
}

// NewManager はManagerの新しいインスタンスを生成する。
// metricsがnilの場合は記録しない。
func NewManager(
	accountRepo repository.AccountRepository,
	refresher TokenRefresher,
	logger *slog.Logger,
	metrics MetricsRecorder,
	cfg Config,
) *Manager {
	if cfg.ExpiryMargin <= 0 {
		cfg.ExpiryMargin = defaultExpiryMargin
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = defaultRefreshTimeout
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Manager{
		accountRepo:    accountRepo,
		refresher:      refresher,
		locks:          NewKeyLock(),
		logger:         logger,
		metrics:        metrics,
		expiryMargin:   cfg.ExpiryMargin,
		refreshTimeout: cfg.RefreshTimeout,
	}
}

// GetValidToken はアカウントの有効なアクセストークンを返す。
// 有効期限が安全マージン以内に迫っている（またはnil）場合は先にリフレッシュする。
func (m *Manager) GetValidToken(ctx context.Context, accountID string) (string, error) {
	account, err := m.accountRepo.FindByID(ctx, accountID)
	if err != nil {
		return "", fmt.Errorf("アカウントの取得に失敗: %w", err)
	}
	if account == nil {
		return "", fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
	}
	if !account.SyncEnabled || !account.HasCredential() {
		return "", ErrSyncDisabled
	}

	if !account.TokenExpiresWithin(time.Now(), m.expiryMargin) {
		return account.AccessToken, nil
	}

	return m.refreshUnderLock(ctx, accountID, account.AccessToken)
}

// ForceRefresh はローカルの期限情報に関わらずリフレッシュを行い、新しいトークンを返す。
// リモートが401を返した（ローカルの期限情報が信用できない）場合に使用する。
// staleTokenには失敗した呼び出しで使用したトークンを渡す。別の呼び出し元が
// 既にリフレッシュ済みの場合はその結果を再利用する。
func (m *Manager) ForceRefresh(ctx context.Context, accountID, staleToken string) (string, error) {
	return m.refreshUnderLock(ctx, accountID, staleToken)
}

// refreshUnderLock はアカウント単位の排他ロックのもとでリフレッシュを行う。
// ロック取得後に状態を読み直し、先行するリフレッシュの結果が利用可能であれば
// リフレッシュを省略する（ダブルチェック）。
func (m *Manager) refreshUnderLock(ctx context.Context, accountID, staleToken string) (string, error) {
	m.locks.Lock(accountID)
	defer m.locks.Unlock(accountID)

	// ロック待ちの間に先行呼び出しがリフレッシュを終えている可能性があるため読み直す
	account, err := m.accountRepo.FindByID(ctx, accountID)
	if err != nil {
		return "", fmt.Errorf("アカウントの再取得に失敗: %w", err)
	}
	if account == nil {
		return "", fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
	}
	if !account.SyncEnabled || !account.HasCredential() {
		// 先行呼び出しのリフレッシュ失敗で無効化された場合もここに到達する
		return "", ErrSyncDisabled
	}

	if account.AccessToken != staleToken && !account.TokenExpiresWithin(time.Now(), m.expiryMargin) {
		return account.AccessToken, nil
	}

	refreshCtx, cancel := context.WithTimeout(ctx, m.refreshTimeout)
	defer cancel()

	token, refreshErr := m.refresher.Refresh(refreshCtx, account.RefreshToken)
	if refreshErr != nil {
		m.metrics.RecordRefreshFailure()
		if !isPermanentRefreshError(refreshErr) {
			// ネットワーク障害やタイムアウトはリトライで回復しうるため
			// クレデンシャルは保持し、失敗した操作は保留のまま残す
			m.logger.Warn("トークンリフレッシュが一時的に失敗しました",
				slog.String("account_id", accountID),
				slog.String("error", refreshErr.Error()),
			)
			return "", fmt.Errorf("トークンリフレッシュに失敗: %w", refreshErr)
		}
		// 恒久的な失敗時は部分的な消去を許さず、単一UPDATEでクレデンシャルを全消去する
		if clearErr := m.accountRepo.ClearCredential(ctx, accountID); clearErr != nil {
			m.logger.Error("クレデンシャルの消去に失敗しました",
				slog.String("account_id", accountID),
				slog.String("error", clearErr.Error()),
			)
		}
		m.logger.Warn("トークンリフレッシュに失敗したため同期を無効化しました",
			slog.String("account_id", accountID),
			slog.String("error", refreshErr.Error()),
		)
		return "", fmt.Errorf("%w: %s", ErrReauthRequired, refreshErr.Error())
	}

	// ローテーションされたリフレッシュトークンが返される場合がある（RFC 6749）
	rotated := ""
	if token.RefreshToken != "" && token.RefreshToken != account.RefreshToken {
		rotated = token.RefreshToken
	}

	if err := m.accountRepo.UpdateTokens(ctx, accountID, token.AccessToken, token.Expiry, rotated); err != nil {
		return "", fmt.Errorf("リフレッシュ後のトークン保存に失敗: %w", err)
	}

	m.metrics.RecordRefreshSuccess()
	m.logger.Info("アクセストークンをリフレッシュしました",
		slog.String("account_id", accountID),
		slog.Time("expiry", token.Expiry),
	)

	return token.AccessToken, nil
}

// isPermanentRefreshError はリフレッシュ失敗が恒久的（リフレッシュトークンの
// 失効や取り消し）かどうかを判定する。トークンエンドポイントが4xxで拒否した
// 場合のみ恒久的とみなす。レート制限の429、サーバーエラーの5xx、
// ネットワーク障害はいずれもリトライで回復しうる。
func isPermanentRefreshError(err error) bool {
	var retrieveErr *oauth2.RetrieveError
	if !errors.As(err, &retrieveErr) {
		return false
	}
	if retrieveErr.Response == nil {
		return false
	}
	code := retrieveErr.Response.StatusCode
	return code >= 400 && code < 500 && code != http.StatusTooManyRequests
}
