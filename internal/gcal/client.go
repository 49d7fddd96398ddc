// Package gcal はGoogleカレンダーAPIのクライアントを提供する。
// 同期エンジンが必要とする最小限のイベント操作（作成・取得・更新・削除・一覧）と
// プッシュ通知チャネルの登録・停止のみを扱う。
package gcal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/oauth2"
	calendar "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

const (
	// primaryCalendarID は連携アカウントのメインカレンダーを指す固定ID。
	primaryCalendarID = "primary"
	// listPageSize は一覧取得の1ページあたりの最大件数。
	listPageSize = 250
)

// Client はGoogleカレンダーAPIのクライアント。
// アクセストークンは呼び出しごとに受け取る。トークンの取得・リフレッシュは
// 呼び出し側（credential.Manager / sync.Executor）の責務。
type Client struct {
	logger   *slog.Logger
	endpoint string // テスト用にエンドポイントを差し替え可能。空の場合は本番エンドポイント。
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(logger *slog.Logger) *Client {
	return &Client{logger: logger}
}

// NewClientWithEndpoint はエンドポイントを差し替えたClientを生成する（テスト用）。
func NewClientWithEndpoint(logger *slog.Logger, endpoint string) *Client {
	return &Client{logger: logger, endpoint: endpoint}
}

// service はアクセストークンを固定したcalendar.Serviceを生成する。
func (c *Client) service(ctx context.Context, accessToken string) (*calendar.Service, error) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	})

	opts := []option.ClientOption{option.WithTokenSource(ts)}
	if c.endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.endpoint))
	}

	svc, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("カレンダーサービスの生成に失敗しました: %w", err)
	}
	return svc, nil
}

// InsertEvent はメインカレンダーにイベントを作成し、作成されたイベントを返す。
func (c *Client) InsertEvent(ctx context.Context, accessToken string, event *calendar.Event) (*calendar.Event, error) {
	svc, err := c.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	created, err := svc.Events.Insert(primaryCalendarID, event).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("イベントの作成に失敗しました: %w", err)
	}
	return created, nil
}

// GetEvent は指定IDのイベントを取得する。
func (c *Client) GetEvent(ctx context.Context, accessToken, eventID string) (*calendar.Event, error) {
	svc, err := c.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	event, err := svc.Events.Get(primaryCalendarID, eventID).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("イベントの取得に失敗しました: %w", err)
	}
	return event, nil
}

// UpdateEvent は指定IDのイベントを上書き更新し、更新後のイベントを返す。
func (c *Client) UpdateEvent(ctx context.Context, accessToken, eventID string, event *calendar.Event) (*calendar.Event, error) {
	svc, err := c.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	updated, err := svc.Events.Update(primaryCalendarID, eventID, event).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("イベントの更新に失敗しました: %w", err)
	}
	return updated, nil
}

// DeleteEvent は指定IDのイベントを削除する。
// 既に存在しない場合のエラー分類は呼び出し側（ClassifyError）で行う。
func (c *Client) DeleteEvent(ctx context.Context, accessToken, eventID string) error {
	svc, err := c.service(ctx, accessToken)
	if err != nil {
		return err
	}
	if err := svc.Events.Delete(primaryCalendarID, eventID).Context(ctx).Do(); err != nil {
		return fmt.Errorf("イベントの削除に失敗しました: %w", err)
	}
	return nil
}

// ListEvents は[from, to]に重なるイベントを全ページ取得する。
// キャンセル済みイベントの検出のためShowDeleted(true)を指定する。
// 繰り返しイベントは個別インスタンスに展開される（SingleEvents(true)）。
func (c *Client) ListEvents(ctx context.Context, accessToken string, from, to time.Time) ([]*calendar.Event, error) {
	svc, err := c.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	var events []*calendar.Event
	pageToken := ""
	for {
		call := svc.Events.List(primaryCalendarID).
			TimeMin(from.UTC().Format(time.RFC3339)).
			TimeMax(to.UTC().Format(time.RFC3339)).
			SingleEvents(true).
			ShowDeleted(true).
			MaxResults(listPageSize).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		resp, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("イベント一覧の取得に失敗しました: %w", err)
		}

		events = append(events, resp.Items...)

		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}

	return events, nil
}

// WatchEvents はメインカレンダーの変更通知チャネルを登録する。
// 返却されるチャネルのResourceIdとExpirationは呼び出し側が永続化する。
func (c *Client) WatchEvents(ctx context.Context, accessToken, channelID, address string, ttl time.Duration) (*calendar.Channel, error) {
	svc, err := c.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	req := &calendar.Channel{
		Id:      channelID,
		Type:    "web_hook",
		Address: address,
		Params: map[string]string{
			"ttl": fmt.Sprintf("%d", int64(ttl.Seconds())),
		},
	}

	ch, err := svc.Events.Watch(primaryCalendarID, req).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("通知チャネルの登録に失敗しました: %w", err)
	}
	return ch, nil
}

// StopChannel は変更通知チャネルを停止する。
func (c *Client) StopChannel(ctx context.Context, accessToken, channelID, resourceID string) error {
	svc, err := c.service(ctx, accessToken)
	if err != nil {
		return err
	}

	ch := &calendar.Channel{
		Id:         channelID,
		ResourceId: resourceID,
	}
	if err := svc.Channels.Stop(ch).Context(ctx).Do(); err != nil {
		return fmt.Errorf("通知チャネルの停止に失敗しました: %w", err)
	}
	return nil
}

// ChannelExpiryTime はチャネルのExpiration（エポックミリ秒）をtime.Timeに変換する。
// 未設定の場合はnilを返す。
func ChannelExpiryTime(ch *calendar.Channel) *time.Time {
	if ch == nil || ch.Expiration == 0 {
		return nil
	}
	t := time.UnixMilli(ch.Expiration)
	return &t
}
