package sync

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/api/calendar/v3"

	"github.com/codegym-software/imeet-sync/internal/model"
	"github.com/codegym-software/imeet-sync/internal/repository"
	"github.com/codegym-software/imeet-sync/internal/security"
)

// Inbound はリモートカレンダーのイベント一覧をローカルの会議へ反映する。
//
// プルは2パスで行う:
//  1. リモートの各イベントをローカルへupsert（キャンセル済みはキャンセル反映）
//  2. ウィンドウ内のリモート由来会議のうち一覧に現れなかったものをキャンセル
//
// 同一のリモート状態に対するプルは冪等であり、2回目以降の実行は
// ローカルを変更しない。
type Inbound struct {
	meetingRepo repository.MeetingRepository
	roomRepo    repository.RoomRepository
	accountRepo repository.AccountRepository
	executor    *Executor
	cal         CalendarAPI
	sanitizer   security.EventSanitizerService
	metrics     Metrics
	logger      *slog.Logger
}

// NewInbound はInboundを生成する。metricsがnilの場合は記録しない。
func NewInbound(
	meetingRepo repository.MeetingRepository,
	roomRepo repository.RoomRepository,
	accountRepo repository.AccountRepository,
	executor *Executor,
	cal CalendarAPI,
	sanitizer security.EventSanitizerService,
	metrics Metrics,
	logger *slog.Logger,
) *Inbound {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Inbound{
		meetingRepo: meetingRepo,
		roomRepo:    roomRepo,
		accountRepo: accountRepo,
		executor:    executor,
		cal:         cal,
		sanitizer:   sanitizer,
		metrics:     metrics,
		logger:      logger,
	}
}

// PullWindow は[from, to]のリモートイベントを取得してローカルへ反映し、
// 作成・更新した会議の合計数を返す。
// アカウントが未連携の場合は何もせず0を返す（エラーではない）。
func (s *Inbound) PullWindow(ctx context.Context, accountID string, from, to time.Time) (int, error) {
	account, err := s.accountRepo.FindByID(ctx, accountID)
	if err != nil {
		return 0, fmt.Errorf("アカウントの取得に失敗: %w", err)
	}
	if account == nil {
		return 0, model.NewAccountNotFoundError(accountID)
	}
	if !account.SyncEnabled || !account.HasCredential() {
		s.logger.Debug("アカウントが未連携のためプルをスキップします", slog.String("account_id", accountID))
		return 0, nil
	}

	var events []*calendar.Event
	err = s.executor.Execute(ctx, account.ID, func(ctx context.Context, token string) error {
		list, err := s.cal.ListEvents(ctx, token, from, to)
		if err != nil {
			return err
		}
		events = list
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("イベント一覧の取得に失敗: %w", err)
	}

	created, updated, err := s.applyListing(ctx, account.ID, events)
	if err != nil {
		return created + updated, err
	}

	seen := make(map[string]struct{}, len(events))
	for _, ev := range events {
		if ev.Id != "" {
			seen[ev.Id] = struct{}{}
		}
	}
	cancelled, err := s.reconcileMissing(ctx, account.ID, from, to, seen)
	if err != nil {
		return created + updated, err
	}

	s.metrics.RecordPullResults(created, updated+cancelled)
	s.logger.Info("プルを完了しました",
		slog.String("account_id", accountID),
		slog.Int("created", created),
		slog.Int("updated", updated),
		slog.Int("cancelled", cancelled),
	)
	return created + updated + cancelled, nil
}

// applyListing は第1パス。リモートイベントをローカルへupsertする。
func (s *Inbound) applyListing(ctx context.Context, ownerID string, events []*calendar.Event) (created, updated int, err error) {
	for _, ev := range events {
		if ev.Id == "" {
			continue
		}

		existing, err := s.meetingRepo.FindByOwnerAndExternalEventID(ctx, ownerID, ev.Id)
		if err != nil {
			return created, updated, fmt.Errorf("会議の検索に失敗: %w", err)
		}

		if ev.Status == eventStatusCancelled {
			// ローカルに対応会議がないキャンセル済みイベントは取り込まない
			if existing == nil || isCancelledAndDeleted(existing) {
				continue
			}
			existing.BookingStatus = model.BookingStatusCancelled
			existing.SyncStatus = model.SyncStatusDeleted
			if err := s.meetingRepo.Update(ctx, existing); err != nil {
				return created, updated, fmt.Errorf("会議のキャンセル反映に失敗: %w", err)
			}
			updated++
			continue
		}

		if existing == nil {
			ok, err := s.createFromEvent(ctx, ownerID, ev)
			if err != nil {
				return created, updated, err
			}
			if ok {
				created++
			}
			continue
		}

		changed, err := s.updateFromEvent(ctx, existing, ev)
		if err != nil {
			return created, updated, err
		}
		if changed {
			updated++
		}
	}
	return created, updated, nil
}

// createFromEvent はリモートイベントから新規会議を作成する。
// 時刻が解析できないイベントはスキップしてfalseを返す（エラーにはしない）。
func (s *Inbound) createFromEvent(ctx context.Context, ownerID string, ev *calendar.Event) (bool, error) {
	start, end, err := eventTimes(ev)
	if err != nil {
		s.logger.Warn("時刻を解析できないイベントをスキップします",
			slog.String("event_id", ev.Id),
			slog.String("error", err.Error()),
		)
		return false, nil
	}

	room, err := s.resolveRoom(ctx, ev.Location)
	if err != nil {
		return false, err
	}

	meeting := &model.Meeting{
		ID:              uuid.New().String(),
		Title:           s.sanitizer.SanitizeTitle(ev.Summary),
		Description:     s.sanitizer.SanitizeDescription(ev.Description),
		StartTime:       start,
		EndTime:         end,
		RoomID:          room.ID,
		OwnerID:         ownerID,
		BookingStatus:   model.BookingStatusBooked,
		ExternalEventID: ev.Id,
		SyncStatus:      model.SyncStatusSynced,
	}
	if err := s.meetingRepo.Create(ctx, meeting); err != nil {
		return false, fmt.Errorf("会議の作成に失敗: %w", err)
	}
	return true, nil
}

// updateFromEvent は既存会議にリモートイベントの内容を反映する。
// 差分がない場合は書き込みを行わずfalseを返す（冪等性の担保）。
// キャンセル済みとしてマークされていた会議にイベントが再出現した場合は
// 予約を復活させる。
func (s *Inbound) updateFromEvent(ctx context.Context, meeting *model.Meeting, ev *calendar.Event) (bool, error) {
	start, end, err := eventTimes(ev)
	if err != nil {
		s.logger.Warn("時刻を解析できないイベントをスキップします",
			slog.String("event_id", ev.Id),
			slog.String("error", err.Error()),
		)
		return false, nil
	}

	// ローカルの変更がまだリモートへ反映されていない会議には触らない。
	// 削除のプッシュ待ち（キャンセル済み＋保留中）をリモートの内容で
	// 上書きすると同期済み扱いになり、リトライ対象から外れてしまう。
	// プッシュ待ちの編集も同様で、ローカル側の内容を優先する。
	if meeting.SyncStatus == model.SyncStatusUpdatePending {
		return false, nil
	}

	room, err := s.resolveRoom(ctx, ev.Location)
	if err != nil {
		return false, err
	}

	next := *meeting
	next.Title = s.sanitizer.SanitizeTitle(ev.Summary)
	next.Description = s.sanitizer.SanitizeDescription(ev.Description)
	next.StartTime = start
	next.EndTime = end
	next.RoomID = room.ID
	next.SyncStatus = model.SyncStatusSynced
	if isCancelledAndDeleted(meeting) {
		next.BookingStatus = model.BookingStatusBooked
	}

	if !meetingChanged(meeting, &next) {
		return false, nil
	}
	if err := s.meetingRepo.Update(ctx, &next); err != nil {
		return false, fmt.Errorf("会議の更新に失敗: %w", err)
	}
	return true, nil
}

// reconcileMissing は第2パス。ウィンドウ内のリモート由来会議のうち
// 一覧に現れなかったものをリモート側で削除されたとみなしてキャンセルする。
func (s *Inbound) reconcileMissing(ctx context.Context, ownerID string, from, to time.Time, seen map[string]struct{}) (int, error) {
	locals, err := s.meetingRepo.ListExternalInWindow(ctx, ownerID, from, to)
	if err != nil {
		return 0, fmt.Errorf("ウィンドウ内会議の取得に失敗: %w", err)
	}

	cancelled := 0
	for _, meeting := range locals {
		if _, ok := seen[meeting.ExternalEventID]; ok {
			continue
		}
		if isCancelledAndDeleted(meeting) {
			continue
		}
		meeting.BookingStatus = model.BookingStatusCancelled
		meeting.SyncStatus = model.SyncStatusDeleted
		if err := s.meetingRepo.Update(ctx, meeting); err != nil {
			return cancelled, fmt.Errorf("会議のキャンセル反映に失敗: %w", err)
		}
		s.logger.Info("リモートで削除された会議をキャンセルしました",
			slog.String("meeting_id", meeting.ID),
			slog.String("event_id", meeting.ExternalEventID),
		)
		cancelled++
	}
	return cancelled, nil
}

// resolveRoom はリモートイベントのlocation文字列を会議室に解決する。
// 解決順序: 名前の完全一致 → 名前/所在地の部分一致 → デフォルト会議室。
// location が空でも必ずどれかの会議室に解決する（例外は発生しない）。
func (s *Inbound) resolveRoom(ctx context.Context, location string) (*model.Room, error) {
	loc := strings.TrimSpace(location)
	if loc != "" {
		room, err := s.roomRepo.FindByName(ctx, loc)
		if err != nil {
			return nil, fmt.Errorf("会議室の検索に失敗: %w", err)
		}
		if room != nil {
			return room, nil
		}

		rooms, err := s.roomRepo.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("会議室一覧の取得に失敗: %w", err)
		}
		lower := strings.ToLower(loc)
		for _, r := range rooms {
			if r.Name != "" && strings.Contains(lower, strings.ToLower(r.Name)) {
				return r, nil
			}
			if r.Location != "" && strings.Contains(lower, strings.ToLower(r.Location)) {
				return r, nil
			}
		}
	}

	fallback, err := s.roomRepo.EnsureFallback(ctx)
	if err != nil {
		return nil, fmt.Errorf("デフォルト会議室の確保に失敗: %w", err)
	}
	return fallback, nil
}

// isCancelledAndDeleted はリモート削除が反映済みの状態かを返す。
func isCancelledAndDeleted(m *model.Meeting) bool {
	return m.BookingStatus == model.BookingStatusCancelled && m.SyncStatus == model.SyncStatusDeleted
}

// meetingChanged はインバウンド反映で書き込みが必要かを判定する。
func meetingChanged(before, after *model.Meeting) bool {
	return before.Title != after.Title ||
		before.Description != after.Description ||
		!before.StartTime.Equal(after.StartTime) ||
		!before.EndTime.Equal(after.EndTime) ||
		before.RoomID != after.RoomID ||
		before.BookingStatus != after.BookingStatus ||
		before.SyncStatus != after.SyncStatus
}
