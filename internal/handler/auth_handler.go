// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
)

const oauthNonceCookie = "oauth_nonce"

// AuthServiceInterface は認可ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	// ConnectURL は認可URLとCookie照合用nonceを生成する。
	ConnectURL(ctx context.Context, accountID string) (url, nonce string, err error)
	// HandleCallback は認可コールバックを処理し、連携したアカウントIDを返す。
	HandleCallback(ctx context.Context, state, expectedNonce, code string) (string, error)
	// Disconnect はカレンダー連携を解除する。
	Disconnect(ctx context.Context, accountID string) error
}

// AuthHandlerConfig は認可ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieSecure bool
	// SuccessRedirectURL はコールバック成功後のリダイレクト先。
	// 空の場合はJSONを返す。
	SuccessRedirectURL string
}

// AuthHandler はカレンダー連携のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		config:  config,
	}
}

// Connect はGoogleカレンダー連携の認可フローを開始する。
// GET /auth/google/connect?account_id=xxx
func (h *AuthHandler) Connect(w http.ResponseWriter, r *http.Request) {
	accountID := r.URL.Query().Get("account_id")
	if accountID == "" {
		http.Error(w, "missing account_id parameter", http.StatusBadRequest)
		return
	}

	url, nonce, err := h.service.ConnectURL(r.Context(), accountID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	// nonceをCookieに保存（CSRF対策。stateに埋め込んだnonceと照合する）
	http.SetCookie(w, &http.Cookie{
		Name:     oauthNonceCookie,
		Value:    nonce,
		Path:     "/",
		MaxAge:   600, // 10分
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, url, http.StatusTemporaryRedirect)
}

// Callback は認可コールバックを処理する。
// GET /auth/google/callback?code=xxx&state=yyy
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	nonceCookie, err := r.Cookie(oauthNonceCookie)
	if err != nil {
		slog.Warn("oauth nonce cookie missing")
		http.Error(w, "invalid state parameter", http.StatusBadRequest)
		return
	}

	// nonceクッキーを削除
	http.SetCookie(w, &http.Cookie{
		Name:     oauthNonceCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "missing authorization code", http.StatusBadRequest)
		return
	}

	accountID, err := h.service.HandleCallback(r.Context(), r.URL.Query().Get("state"), nonceCookie.Value, code)
	if err != nil {
		slog.Error("oauth callback failed", slog.String("error", err.Error()))
		http.Error(w, "authorization failed", http.StatusBadRequest)
		return
	}

	if h.config.SuccessRedirectURL != "" {
		http.Redirect(w, r, h.config.SuccessRedirectURL, http.StatusFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"account_id": accountID,
		"status":     "connected",
	})
}

// disconnectRequest は連携解除リクエストのボディ。
type disconnectRequest struct {
	AccountID string `json:"account_id"`
}

// Disconnect はカレンダー連携を解除する。
// POST /auth/google/disconnect
func (h *AuthHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	var req disconnectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AccountID == "" {
		http.Error(w, "missing account_id", http.StatusBadRequest)
		return
	}

	if err := h.service.Disconnect(r.Context(), req.AccountID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"account_id": req.AccountID,
		"status":     "disconnected",
	})
}
