// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/codegym-software/imeet-sync/internal/model"
)

// AccountRepository はアカウントデータの永続化インターフェース。
// カレンダー連携のクレデンシャルとプッシュ通知チャネルのハンドルを含む。
type AccountRepository interface {
	// FindByID は指定IDのアカウントを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Account, error)

	// FindByChannelID はプッシュ通知チャネルIDでアカウントを検索する。
	// 見つからない場合はnilを返す（失効したチャネルからの通知の破棄に使用）。
	FindByChannelID(ctx context.Context, channelID string) (*model.Account, error)

	// Create はアカウントを作成する。
	Create(ctx context.Context, account *model.Account) error

	// ListSyncEnabled は同期が有効な全アカウントを取得する。
	ListSyncEnabled(ctx context.Context) ([]*model.Account, error)

	// ListChannelsExpiringBefore はチャネル有効期限がdeadline以前の
	// 同期有効アカウントを取得する（チャネル更新ループ用）。
	ListChannelsExpiringBefore(ctx context.Context, deadline time.Time) ([]*model.Account, error)

	// SaveCredential はOAuthコールバックで取得したクレデンシャル一式を保存し、
	// 同期を有効化する。
	SaveCredential(ctx context.Context, accountID, accessToken, refreshToken string, expiry time.Time) error

	// UpdateTokens はリフレッシュ成功後のアクセストークンと有効期限を保存する。
	// refreshTokenが空でない場合はローテーションされたリフレッシュトークンも保存する。
	UpdateTokens(ctx context.Context, accountID, accessToken string, expiry time.Time, refreshToken string) error

	// ClearCredential はアクセストークン、リフレッシュトークン、有効期限を消去し、
	// 同期を無効化する。部分的な消去を許さないため単一のUPDATEで行う。
	ClearCredential(ctx context.Context, accountID string) error

	// UpdateGoogleEmail は連携先Googleアカウントのメールアドレスを保存する。
	UpdateGoogleEmail(ctx context.Context, accountID, email string) error

	// SaveChannel はプッシュ通知チャネルのハンドルを保存する。
	SaveChannel(ctx context.Context, accountID, channelID, resourceID string, expiry *time.Time) error

	// ClearChannel はプッシュ通知チャネルのハンドルを消去する。
	ClearChannel(ctx context.Context, accountID string) error
}

// MeetingRepository は会議データの永続化インターフェース。
// 同期エンジンはMeeting行を削除せず、ステータスと同期フィールドのみを更新する。
type MeetingRepository interface {
	// FindByID は指定IDの会議を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Meeting, error)

	// FindByOwnerAndExternalEventID はオーナーと外部イベントIDで会議を検索する。
	// 見つからない場合はnilを返す。
	FindByOwnerAndExternalEventID(ctx context.Context, ownerID, externalEventID string) (*model.Meeting, error)

	// Create は会議を作成する。
	Create(ctx context.Context, meeting *model.Meeting) error

	// Update は会議の可変フィールドを全て更新する。
	Update(ctx context.Context, meeting *model.Meeting) error

	// UpdateSyncState は会議の同期ブックキーピング（external_event_id、sync_status）
	// のみを更新する。
	UpdateSyncState(ctx context.Context, meetingID, externalEventID string, status model.SyncStatus) error

	// ListExternalInWindow はオーナーの会議のうちexternal_event_idが設定済みかつ
	// [from, to]と時間帯が重なるものを取得する（インバウンド同期の第2パス用）。
	ListExternalInWindow(ctx context.Context, ownerID string, from, to time.Time) ([]*model.Meeting, error)

	// ListPendingSync はsync_status = update_pendingの会議を取得する
	// （リトライスイープ用）。limitが0以下の場合は無制限。
	ListPendingSync(ctx context.Context, limit int) ([]*model.Meeting, error)

	// CountPendingSync はsync_status = update_pendingの会議数を返す。
	CountPendingSync(ctx context.Context) (int, error)

	// DeleteImportedByOwner はオーナーの会議のうちリモートカレンダー由来のもの
	// （external_event_idが設定済み）を削除し、削除件数を返す。連携解除時のみ使用する。
	DeleteImportedByOwner(ctx context.Context, ownerID string) (int64, error)
}

// RoomRepository は会議室データの永続化インターフェース。
type RoomRepository interface {
	// FindByID は指定IDの会議室を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Room, error)

	// FindByName は名前の完全一致で会議室を検索する。見つからない場合はnilを返す。
	FindByName(ctx context.Context, name string) (*model.Room, error)

	// List は全会議室を名前順で取得する。
	List(ctx context.Context) ([]*model.Room, error)

	// Create は会議室を作成する。
	Create(ctx context.Context, room *model.Room) error

	// EnsureFallback はデフォルトの受け皿会議室（未割り当て）を取得する。
	// 存在しない場合は作成する。冪等。
	EnsureFallback(ctx context.Context) (*model.Room, error)
}
