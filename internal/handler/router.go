package handler

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/codegym-software/imeet-sync/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// カレンダー連携
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// プッシュ通知受信
	WebhookHandler *WebhookHandler

	// Prometheusスクレイプ用ハンドラー
	MetricsHandler http.Handler

	// 予約・会議室
	MeetingService MeetingServiceInterface
	RoomService    RoomServiceInterface

	// ヘルスチェック
	DB *sql.DB
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → CORS → Logging → RateLimit(General)
//
// Webhookエンドポイントはプロバイダーの応答時間要求を満たすため
// レート制限の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	meetingHandler := NewMeetingHandler(deps.MeetingService)
	roomHandler := NewRoomHandler(deps.RoomService)

	// --- 運用系のルート（レート制限なし） ---

	r.Get("/health", healthHandler(deps.DB))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// プッシュ通知の受信（プロバイダーからの呼び出し。常に200を返す）
	r.Post("/webhooks/google/calendar", deps.WebhookHandler.Notify)

	// --- 認可フロー ---
	r.Route("/auth/google", func(r chi.Router) {
		r.With(deps.RateLimiter.ConnectMiddleware()).Get("/connect", authHandler.Connect)
		r.Get("/callback", authHandler.Callback)
		r.Post("/disconnect", authHandler.Disconnect)
	})

	// --- 予約API ---
	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Route("/api/meetings", func(r chi.Router) {
			r.Post("/", meetingHandler.CreateMeeting)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", meetingHandler.GetMeeting)
				r.Patch("/", meetingHandler.UpdateMeeting)
				// キャンセルは物理削除ではないためPOST /cancelも受け付ける
				r.Delete("/", meetingHandler.CancelMeeting)
				r.Post("/cancel", meetingHandler.CancelMeeting)
			})
		})

		r.Route("/api/rooms", func(r chi.Router) {
			r.Get("/", roomHandler.ListRooms)
			r.Post("/", roomHandler.CreateRoom)
		})
	})

	return r
}

// healthHandler はDB接続を確認するヘルスチェックハンドラーを返す。
func healthHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			if err := db.PingContext(r.Context()); err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusServiceUnavailable)
				json.NewEncoder(w).Encode(map[string]string{"status": "unhealthy"})
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}
