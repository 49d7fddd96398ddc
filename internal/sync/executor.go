// Package sync は外部カレンダーとの双方向同期エンジンを提供する。
//
// アウトバウンド同期（ローカルの予約操作をリモートへプッシュ）と
// インバウンド同期（リモートのイベント一覧をローカルへ反映）の両方を、
// クレデンシャル管理と認可エラーリトライを共通化したExecutor経由で実行する。
package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/api/calendar/v3"

	"github.com/codegym-software/imeet-sync/internal/gcal"
)

// 認可エラー時のリトライは1回のみ。リフレッシュ後も401が返る場合は
// クレデンシャル自体が失効しており、リトライしても結果は変わらない。
const maxAttempts = 2

// TokenProvider は有効なアクセストークンの取得とリフレッシュを提供する。
// credential.Managerが実装する。
type TokenProvider interface {
	// GetValidToken は指定アカウントの有効なアクセストークンを返す。
	// 期限が迫っている場合は事前にリフレッシュする。
	GetValidToken(ctx context.Context, accountID string) (string, error)

	// ForceRefresh はstaleTokenが認可エラーを起こした後の強制リフレッシュを行う。
	// 並行リフレッシュ済みの場合は新しいトークンをそのまま返す。
	ForceRefresh(ctx context.Context, accountID, staleToken string) (string, error)
}

// CalendarAPI は外部カレンダーの操作インターフェース。
// gcal.Clientが実装する。テストではフェイクに差し替える。
type CalendarAPI interface {
	InsertEvent(ctx context.Context, accessToken string, event *calendar.Event) (*calendar.Event, error)
	GetEvent(ctx context.Context, accessToken, eventID string) (*calendar.Event, error)
	UpdateEvent(ctx context.Context, accessToken, eventID string, event *calendar.Event) (*calendar.Event, error)
	DeleteEvent(ctx context.Context, accessToken, eventID string) error
	ListEvents(ctx context.Context, accessToken string, from, to time.Time) ([]*calendar.Event, error)
	WatchEvents(ctx context.Context, accessToken, channelID, address string, ttl time.Duration) (*calendar.Channel, error)
	StopChannel(ctx context.Context, accessToken, channelID, resourceID string) error
}

// LatencyRecorder はリモート呼び出しのレイテンシ記録インターフェース。
// metrics.Collectorが実装する。
type LatencyRecorder interface {
	RecordRemoteCallLatency(duration time.Duration)
}

type noopLatency struct{}

func (noopLatency) RecordRemoteCallLatency(time.Duration) {}

// Executor はリモートカレンダー操作をトークン管理付きで実行する。
// 全てのリモート呼び出しはExecute経由で行い、認可エラー時の
// リフレッシュ・リトライとレイテンシ計測を1箇所に集約する。
type Executor struct {
	tokens  TokenProvider
	logger  *slog.Logger
	latency LatencyRecorder
	backoff time.Duration
	sleep   func(time.Duration) // テストで差し替える
}

// NewExecutor はExecutorを生成する。latencyがnilの場合は記録しない。
func NewExecutor(tokens TokenProvider, logger *slog.Logger, latency LatencyRecorder) *Executor {
	if latency == nil {
		latency = noopLatency{}
	}
	return &Executor{
		tokens:  tokens,
		logger:  logger,
		latency: latency,
		backoff: 500 * time.Millisecond,
		sleep:   time.Sleep,
	}
}

// Execute は有効なアクセストークンを取得してopを実行する。
// opが認可エラー（401）を返した場合は1回だけ強制リフレッシュして再実行する。
// リフレッシュ自体の失敗（credential.ErrReauthRequired等）はそのまま返す。
func (e *Executor) Execute(ctx context.Context, accountID string, op func(ctx context.Context, accessToken string) error) error {
	token, err := e.tokens.GetValidToken(ctx, accountID)
	if err != nil {
		return fmt.Errorf("アクセストークンの取得に失敗: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		start := time.Now()
		lastErr = op(ctx, token)
		e.latency.RecordRemoteCallLatency(time.Since(start))
		if lastErr == nil {
			return nil
		}
		if attempt == maxAttempts || !gcal.IsUnauthorized(lastErr) {
			return lastErr
		}

		e.logger.Info("認可エラーのためトークンをリフレッシュして再試行します",
			slog.String("account_id", accountID),
			slog.Int("attempt", attempt),
		)
		refreshed, refreshErr := e.tokens.ForceRefresh(ctx, accountID, token)
		if refreshErr != nil {
			return fmt.Errorf("強制リフレッシュに失敗: %w", refreshErr)
		}
		token = refreshed
		e.sleep(e.backoff * time.Duration(attempt))
	}
	return lastErr
}
