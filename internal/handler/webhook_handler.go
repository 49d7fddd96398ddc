package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Googleのプッシュ通知ヘッダー。
const (
	headerChannelID     = "X-Goog-Channel-ID"
	headerResourceID    = "X-Goog-Resource-ID"
	headerResourceState = "X-Goog-Resource-State"
)

// resourceStateSync は「リソースに変更があった」ことを示す通知状態。
// 通知には差分が含まれないため、受信側は常に固定ウィンドウを再プルする。
const resourceStateSync = "sync"

// AccountResolver はチャネルIDからアカウントを解決するインターフェース。
type AccountResolver interface {
	// ResolveChannel はチャネルIDに対応するアカウントIDを返す。
	// 未知のチャネルの場合は空文字列を返す。
	ResolveChannel(ctx context.Context, channelID string) (string, error)
}

// PullTrigger はインバウンド同期の起動インターフェース。
type PullTrigger interface {
	PullWindow(ctx context.Context, accountID string, from, to time.Time) (int, error)
}

// WebhookMetrics は通知受信のメトリクス記録インターフェース。
type WebhookMetrics interface {
	RecordWebhookNotification(resourceState string)
}

type noopWebhookMetrics struct{}

func (noopWebhookMetrics) RecordWebhookNotification(resourceState string) {}

// WebhookHandler はカレンダーのプッシュ通知を受信するHTTPハンドラー。
//
// プロバイダーは応答時間に敏感で、遅延や非2xx応答は再送を誘発する。
// そのため受信は常に200を返し、実際の同期はゴルーチンで非同期に行う。
// 通知の欠落はポーリングが補完するため、ここでの失敗は握りつぶしてよい。
type WebhookHandler struct {
	resolver      AccountResolver
	puller        PullTrigger
	metrics       WebhookMetrics
	logger        *slog.Logger
	windowBack    time.Duration
	windowForward time.Duration
	pullTimeout   time.Duration
	now           func() time.Time
	// async がfalseの場合はリクエスト内で同期的にプルする（テスト用）。
	async bool
}

// NewWebhookHandler はWebhookHandlerを生成する。metricsがnilの場合は記録しない。
func NewWebhookHandler(
	resolver AccountResolver,
	puller PullTrigger,
	metrics WebhookMetrics,
	logger *slog.Logger,
	windowBack, windowForward time.Duration,
) *WebhookHandler {
	if metrics == nil {
		metrics = noopWebhookMetrics{}
	}
	return &WebhookHandler{
		resolver:      resolver,
		puller:        puller,
		metrics:       metrics,
		logger:        logger,
		windowBack:    windowBack,
		windowForward: windowForward,
		pullTimeout:   60 * time.Second,
		now:           time.Now,
		async:         true,
	}
}

// Notify はプッシュ通知を処理する。
// POST /webhooks/google/calendar
// 内部処理の結果に関わらず200を返す。
func (h *WebhookHandler) Notify(w http.ResponseWriter, r *http.Request) {
	channelID := r.Header.Get(headerChannelID)
	resourceState := r.Header.Get(headerResourceState)
	h.metrics.RecordWebhookNotification(resourceState)

	defer w.WriteHeader(http.StatusOK)

	if channelID == "" {
		h.logger.Warn("チャネルIDのない通知を破棄します")
		return
	}

	accountID, err := h.resolver.ResolveChannel(r.Context(), channelID)
	if err != nil {
		h.logger.Error("チャネルの解決に失敗しました",
			slog.String("channel_id", channelID),
			slog.String("error", err.Error()),
		)
		return
	}
	if accountID == "" {
		// 解除済みチャネルからの通知は有効期限まで届き続けることがある
		h.logger.Info("未知のチャネルからの通知を破棄します",
			slog.String("channel_id", channelID),
		)
		return
	}

	if resourceState != resourceStateSync {
		h.logger.Debug("同期対象外の通知を受信しました",
			slog.String("channel_id", channelID),
			slog.String("resource_state", resourceState),
			slog.String("resource_id", r.Header.Get(headerResourceID)),
		)
		return
	}

	if h.async {
		go h.pull(accountID)
		return
	}
	h.pull(accountID)
}

// pull は通知を契機に固定ウィンドウのインバウンド同期を実行する。
// リクエストのコンテキストは応答後にキャンセルされるため使わない。
func (h *WebhookHandler) pull(accountID string) {
	ctx, cancel := context.WithTimeout(context.Background(), h.pullTimeout)
	defer cancel()

	now := h.now()
	count, err := h.puller.PullWindow(ctx, accountID, now.Add(-h.windowBack), now.Add(h.windowForward))
	if err != nil {
		h.logger.Error("通知契機のプルに失敗しました",
			slog.String("account_id", accountID),
			slog.String("error", err.Error()),
		)
		return
	}
	h.logger.Info("通知契機のプルを完了しました",
		slog.String("account_id", accountID),
		slog.Int("count", count),
	)
}
