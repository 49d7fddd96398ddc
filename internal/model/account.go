// Package model はドメインモデルを定義する。
package model

import "time"

// Account はサービス利用者のアカウントを表す。
// Googleカレンダー連携のクレデンシャル（アクセストークン、リフレッシュトークン、
// 有効期限）とプッシュ通知チャネルのハンドルをアカウント集約の一部として保持する。
type Account struct {
	ID          string
	Email       string
	Name        string
	GoogleEmail string // 連携先Googleアカウントのメールアドレス（ベストエフォートで取得）

	// クレデンシャル
	AccessToken  string
	RefreshToken string     // 空文字列は「連携未確立または解除済み」を意味する
	TokenExpiry  *time.Time // nilは「期限切れ」として扱う
	SyncEnabled  bool

	// プッシュ通知チャネル
	ChannelID         string // 空文字列は「アクティブなチャネルなし」
	ChannelResourceID string
	ChannelExpiry     *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasCredential はカレンダー連携が確立済みかを返す。
// 不変条件: SyncEnabled == true ならば RefreshToken != "" が成立する。
func (a *Account) HasCredential() bool {
	return a.RefreshToken != ""
}

// HasChannel はアクティブなプッシュ通知チャネルを持つかを返す。
func (a *Account) HasChannel() bool {
	return a.ChannelID != "" && a.ChannelResourceID != ""
}

// TokenExpiresWithin はトークン有効期限がmargin以内に迫っているかを返す。
// TokenExpiryがnilの場合は期限切れとみなしtrueを返す。
func (a *Account) TokenExpiresWithin(now time.Time, margin time.Duration) bool {
	if a.TokenExpiry == nil {
		return true
	}
	return !a.TokenExpiry.After(now.Add(margin))
}
