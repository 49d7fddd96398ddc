package sync

import (
	"context"
	"fmt"
	"log/slog"

	"google.golang.org/api/calendar/v3"

	"github.com/codegym-software/imeet-sync/internal/gcal"
	"github.com/codegym-software/imeet-sync/internal/model"
	"github.com/codegym-software/imeet-sync/internal/repository"
)

// Metrics は同期エンジンのメトリクス記録インターフェース。
type Metrics interface {
	RecordPushSuccess()
	RecordPushFailure()
	RecordPullResults(created, updated int)
}

// noopMetrics はメトリクス未設定時のデフォルト実装。
type noopMetrics struct{}

func (noopMetrics) RecordPushSuccess()                     {}
func (noopMetrics) RecordPushFailure()                     {}
func (noopMetrics) RecordPullResults(created, updated int) {}

// Outbound はローカルの予約操作をリモートカレンダーへプッシュする。
//
// 全ての操作はベストエフォートである: プッシュ失敗は会議を
// update_pendingにマークしてエラーを返すが、呼び出し側（APIハンドラ）は
// これをユーザー向けエラーにしてはならない。リトライスイープが後で回収する。
type Outbound struct {
	meetingRepo repository.MeetingRepository
	roomRepo    repository.RoomRepository
	accountRepo repository.AccountRepository
	executor    *Executor
	cal         CalendarAPI
	metrics     Metrics
	logger      *slog.Logger
}

// NewOutbound はOutboundを生成する。metricsがnilの場合は記録しない。
func NewOutbound(
	meetingRepo repository.MeetingRepository,
	roomRepo repository.RoomRepository,
	accountRepo repository.AccountRepository,
	executor *Executor,
	cal CalendarAPI,
	metrics Metrics,
	logger *slog.Logger,
) *Outbound {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Outbound{
		meetingRepo: meetingRepo,
		roomRepo:    roomRepo,
		accountRepo: accountRepo,
		executor:    executor,
		cal:         cal,
		metrics:     metrics,
		logger:      logger,
	}
}

// PushCreate は会議をリモートカレンダーへ新規イベントとして作成する。
// オーナーが連携していない場合はリモート呼び出しなしで成功扱い
// （会議はsyncedのまま、external_event_idは空のまま）。
// 成功時はexternal_event_idとsynced、失敗時はupdate_pendingを記録する。
func (s *Outbound) PushCreate(ctx context.Context, meetingID string) error {
	meeting, err := s.meetingRepo.FindByID(ctx, meetingID)
	if err != nil {
		return fmt.Errorf("会議の取得に失敗: %w", err)
	}
	if meeting == nil {
		return model.NewMeetingNotFoundError(meetingID)
	}

	account, ok, err := s.syncTarget(ctx, meeting.OwnerID)
	if err != nil {
		return err
	}
	if !ok {
		s.logger.Debug("オーナーが未連携のためプッシュをスキップします",
			slog.String("meeting_id", meetingID),
			slog.String("owner_id", meeting.OwnerID),
		)
		return nil
	}

	payload := buildEventPayload(meeting, s.lookupRoom(ctx, meeting.RoomID))

	var created *calendar.Event
	err = s.executor.Execute(ctx, account.ID, func(ctx context.Context, token string) error {
		ev, err := s.cal.InsertEvent(ctx, token, payload)
		if err != nil {
			return err
		}
		created = ev
		return nil
	})
	if err != nil {
		return s.markPushFailed(ctx, meeting, meeting.ExternalEventID, "イベント作成のプッシュに失敗", err)
	}

	if err := s.meetingRepo.UpdateSyncState(ctx, meeting.ID, created.Id, model.SyncStatusSynced); err != nil {
		return fmt.Errorf("同期状態の更新に失敗: %w", err)
	}
	s.metrics.RecordPushSuccess()
	s.logger.Info("イベントを作成しました",
		slog.String("meeting_id", meeting.ID),
		slog.String("event_id", created.Id),
	)
	return nil
}

// PushUpdate は会議の変更をリモートの対応イベントへ反映する。
// external_event_idが空の場合は新規作成にフォールバックする。
// リモート側でイベントが消えていた場合（404/410）も新規作成で復旧する。
func (s *Outbound) PushUpdate(ctx context.Context, meetingID string) error {
	meeting, err := s.meetingRepo.FindByID(ctx, meetingID)
	if err != nil {
		return fmt.Errorf("会議の取得に失敗: %w", err)
	}
	if meeting == nil {
		return model.NewMeetingNotFoundError(meetingID)
	}
	if meeting.ExternalEventID == "" {
		return s.PushCreate(ctx, meetingID)
	}

	account, ok, err := s.syncTarget(ctx, meeting.OwnerID)
	if err != nil {
		return err
	}
	if !ok {
		s.logger.Debug("オーナーが未連携のためプッシュをスキップします",
			slog.String("meeting_id", meetingID),
			slog.String("owner_id", meeting.OwnerID),
		)
		return nil
	}

	room := s.lookupRoom(ctx, meeting.RoomID)

	err = s.executor.Execute(ctx, account.ID, func(ctx context.Context, token string) error {
		ev, err := s.cal.GetEvent(ctx, token, meeting.ExternalEventID)
		if err != nil {
			return err
		}
		overlayEventPayload(ev, meeting, room)
		_, err = s.cal.UpdateEvent(ctx, token, meeting.ExternalEventID, ev)
		return err
	})
	if err != nil {
		if gcal.IsNotFound(err) {
			// リモート側で削除されたイベントに対する更新は再作成で復旧する
			s.logger.Info("リモートイベントが見つからないため再作成します",
				slog.String("meeting_id", meeting.ID),
				slog.String("event_id", meeting.ExternalEventID),
			)
			if err := s.meetingRepo.UpdateSyncState(ctx, meeting.ID, "", model.SyncStatusUpdatePending); err != nil {
				return fmt.Errorf("同期状態の更新に失敗: %w", err)
			}
			return s.PushCreate(ctx, meetingID)
		}
		return s.markPushFailed(ctx, meeting, meeting.ExternalEventID, "イベント更新のプッシュに失敗", err)
	}

	if err := s.meetingRepo.UpdateSyncState(ctx, meeting.ID, meeting.ExternalEventID, model.SyncStatusSynced); err != nil {
		return fmt.Errorf("同期状態の更新に失敗: %w", err)
	}
	s.metrics.RecordPushSuccess()
	s.logger.Info("イベントを更新しました",
		slog.String("meeting_id", meeting.ID),
		slog.String("event_id", meeting.ExternalEventID),
	)
	return nil
}

// PushDelete はキャンセルされた会議の対応イベントをリモートから削除する。
// external_event_idが空、またはオーナーが未連携の場合は削除対象がないため
// 即deletedにマークして成功扱い。リモート側で既に消えている場合（404/410）も
// 成功として扱う（結果は同じ）。
func (s *Outbound) PushDelete(ctx context.Context, meetingID string) error {
	meeting, err := s.meetingRepo.FindByID(ctx, meetingID)
	if err != nil {
		return fmt.Errorf("会議の取得に失敗: %w", err)
	}
	if meeting == nil {
		return model.NewMeetingNotFoundError(meetingID)
	}

	if meeting.ExternalEventID == "" {
		if err := s.meetingRepo.UpdateSyncState(ctx, meeting.ID, "", model.SyncStatusDeleted); err != nil {
			return fmt.Errorf("同期状態の更新に失敗: %w", err)
		}
		return nil
	}

	account, ok, err := s.syncTarget(ctx, meeting.OwnerID)
	if err != nil {
		return err
	}
	if !ok {
		if err := s.meetingRepo.UpdateSyncState(ctx, meeting.ID, meeting.ExternalEventID, model.SyncStatusDeleted); err != nil {
			return fmt.Errorf("同期状態の更新に失敗: %w", err)
		}
		return nil
	}

	err = s.executor.Execute(ctx, account.ID, func(ctx context.Context, token string) error {
		return s.cal.DeleteEvent(ctx, token, meeting.ExternalEventID)
	})
	if err != nil && !gcal.IsNotFound(err) {
		return s.markPushFailed(ctx, meeting, meeting.ExternalEventID, "イベント削除のプッシュに失敗", err)
	}

	if err := s.meetingRepo.UpdateSyncState(ctx, meeting.ID, "", model.SyncStatusDeleted); err != nil {
		return fmt.Errorf("同期状態の更新に失敗: %w", err)
	}
	s.metrics.RecordPushSuccess()
	s.logger.Info("イベントを削除しました",
		slog.String("meeting_id", meeting.ID),
		slog.String("event_id", meeting.ExternalEventID),
	)
	return nil
}

// syncTarget はオーナーのアカウントを取得し、プッシュ可能かを判定する。
// アカウント不在・同期無効・クレデンシャル未設定は「プッシュ対象外」であり
// エラーではない。
func (s *Outbound) syncTarget(ctx context.Context, ownerID string) (*model.Account, bool, error) {
	account, err := s.accountRepo.FindByID(ctx, ownerID)
	if err != nil {
		return nil, false, fmt.Errorf("アカウントの取得に失敗: %w", err)
	}
	if account == nil || !account.SyncEnabled || !account.HasCredential() {
		return nil, false, nil
	}
	return account, true, nil
}

// lookupRoom は会議室をベストエフォートで取得する。失敗してもプッシュは
// 続行する（locationが空になるだけ）。
func (s *Outbound) lookupRoom(ctx context.Context, roomID string) *model.Room {
	if roomID == "" {
		return nil
	}
	room, err := s.roomRepo.FindByID(ctx, roomID)
	if err != nil {
		s.logger.Warn("会議室の取得に失敗しました", slog.String("room_id", roomID), slog.String("error", err.Error()))
		return nil
	}
	return room
}

// markPushFailed は失敗した会議をupdate_pendingにマークし、
// メトリクスを記録して元のエラーを返す。
func (s *Outbound) markPushFailed(ctx context.Context, meeting *model.Meeting, externalEventID, msg string, cause error) error {
	s.metrics.RecordPushFailure()
	s.logger.Warn(msg,
		slog.String("meeting_id", meeting.ID),
		slog.String("error", cause.Error()),
	)
	if err := s.meetingRepo.UpdateSyncState(ctx, meeting.ID, externalEventID, model.SyncStatusUpdatePending); err != nil {
		return fmt.Errorf("同期状態の更新に失敗: %w", err)
	}
	return fmt.Errorf("%s: %w", msg, cause)
}
