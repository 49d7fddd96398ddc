package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const (
	defaultGoogleAuthURL     = "https://accounts.google.com/o/oauth2/auth"
	defaultGoogleTokenURL    = "https://oauth2.googleapis.com/token"
	defaultGoogleUserInfoURL = "https://www.googleapis.com/oauth2/v3/userinfo"
	defaultGoogleRevokeURL   = "https://oauth2.googleapis.com/revoke"

	// scopeCalendarEvents はイベントの読み書きに必要な最小スコープ。
	scopeCalendarEvents = "https://www.googleapis.com/auth/calendar.events"
	// scopeUserInfoEmail は連携先メールアドレスの取得に使用する。
	scopeUserInfoEmail = "https://www.googleapis.com/auth/userinfo.email"
)

// GoogleOAuthConfig はGoogle OAuthプロバイダーの設定。
type GoogleOAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// テスト用にオーバーライド可能なURL
	AuthURL     string
	TokenURL    string
	UserInfoURL string
	RevokeURL   string
}

// GoogleOAuthProvider はGoogle OAuth 2.0によるカレンダー連携の認可を提供する。
// 認可コードの交換とリフレッシュはgolang.org/x/oauth2に委譲する。
type GoogleOAuthProvider struct {
	oauth       *oauth2.Config
	userInfoURL string
	revokeURL   string
}

// NewGoogleOAuthProvider はGoogleOAuthProviderを生成する。
func NewGoogleOAuthProvider(config GoogleOAuthConfig) *GoogleOAuthProvider {
	if config.AuthURL == "" {
		config.AuthURL = defaultGoogleAuthURL
	}
	if config.TokenURL == "" {
		config.TokenURL = defaultGoogleTokenURL
	}
	if config.UserInfoURL == "" {
		config.UserInfoURL = defaultGoogleUserInfoURL
	}
	if config.RevokeURL == "" {
		config.RevokeURL = defaultGoogleRevokeURL
	}

	return &GoogleOAuthProvider{
		oauth: &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			RedirectURL:  config.RedirectURL,
			Scopes:       []string{scopeCalendarEvents, scopeUserInfoEmail},
			Endpoint: oauth2.Endpoint{
				AuthURL:  config.AuthURL,
				TokenURL: config.TokenURL,
			},
		},
		userInfoURL: config.UserInfoURL,
		revokeURL:   config.RevokeURL,
	}
}

// AuthCodeURL はGoogle OAuthの認可URLを生成する。
// 再連携時も必ずリフレッシュトークンが返されるよう、オフラインアクセスを要求し
// 同意画面を強制する。
func (p *GoogleOAuthProvider) AuthCodeURL(state string) string {
	return p.oauth.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
	)
}

// Exchange は認可コードをアクセストークン+リフレッシュトークンに交換する。
func (p *GoogleOAuthProvider) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	token, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("認可コードの交換に失敗しました: %w", err)
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("トークンレスポンスにアクセストークンが含まれていません")
	}
	return token, nil
}

// Refresh はリフレッシュトークンで新しいアクセストークンを取得する。
// credential.TokenRefresherを実装する。
func (p *GoogleOAuthProvider) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	src := p.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("トークンのリフレッシュに失敗しました: %w", err)
	}
	return token, nil
}

// googleUserInfo はGoogleのユーザー情報エンドポイントのレスポンス。
type googleUserInfo struct {
	Sub   string `json:"sub"`
	Email string `json:"email"`
}

// FetchUserEmail はアクセストークンで連携先Googleアカウントのメールアドレスを取得する。
func (p *GoogleOAuthProvider) FetchUserEmail(ctx context.Context, accessToken string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return "", fmt.Errorf("ユーザー情報リクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("ユーザー情報の取得に失敗しました: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("ユーザー情報レスポンスの読み取りに失敗しました: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ユーザー情報の取得がステータス %d で失敗しました: %s", resp.StatusCode, string(body))
	}

	var info googleUserInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return "", fmt.Errorf("ユーザー情報レスポンスのパースに失敗しました: %w", err)
	}
	if info.Email == "" {
		return "", fmt.Errorf("ユーザー情報レスポンスにメールアドレスが含まれていません")
	}

	return info.Email, nil
}

// RevokeToken はプロバイダー側でトークンを失効させる。
// アクセストークン・リフレッシュトークンのどちらでも受け付けられる。
func (p *GoogleOAuthProvider) RevokeToken(ctx context.Context, token string) error {
	data := url.Values{"token": {token}}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.revokeURL, strings.NewReader(data.Encode()))
	if err != nil {
		return fmt.Errorf("トークン失効リクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("トークン失効リクエストに失敗しました: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("トークン失効がステータス %d で失敗しました", resp.StatusCode)
	}
	return nil
}
