// Package booking は会議室予約のドメインロジックを提供する。
//
// 予約操作はまずローカルDBへコミットし、その後リモートカレンダーへの
// プッシュをベストエフォートで行う。プッシュの失敗は予約操作自体を
// 失敗させない（会議はupdate_pendingとなりリトライスイープが回収する）。
package booking

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/codegym-software/imeet-sync/internal/model"
	"github.com/codegym-software/imeet-sync/internal/repository"
)

// Pusher はアウトバウンド同期の実行インターフェース。sync.Outboundが実装する。
type Pusher interface {
	PushCreate(ctx context.Context, meetingID string) error
	PushUpdate(ctx context.Context, meetingID string) error
	PushDelete(ctx context.Context, meetingID string) error
}

// Service は会議室予約のドメインサービス。
type Service struct {
	meetingRepo repository.MeetingRepository
	roomRepo    repository.RoomRepository
	pusher      Pusher
	logger      *slog.Logger
}

// NewService はServiceを生成する。
func NewService(
	meetingRepo repository.MeetingRepository,
	roomRepo repository.RoomRepository,
	pusher Pusher,
	logger *slog.Logger,
) *Service {
	return &Service{
		meetingRepo: meetingRepo,
		roomRepo:    roomRepo,
		pusher:      pusher,
		logger:      logger,
	}
}

// CreateMeetingInput は会議作成の入力。
type CreateMeetingInput struct {
	Title       string
	Description string
	StartTime   time.Time
	EndTime     time.Time
	RoomID      string
	OwnerID     string
}

// CreateMeeting は会議を作成し、リモートカレンダーへのプッシュを試みる。
// プッシュの成否に関わらず作成された会議を返す。
func (s *Service) CreateMeeting(ctx context.Context, input CreateMeetingInput) (*model.Meeting, error) {
	if !input.EndTime.After(input.StartTime) {
		return nil, model.NewInvalidTimeRangeError()
	}

	room, err := s.roomRepo.FindByID(ctx, input.RoomID)
	if err != nil {
		return nil, fmt.Errorf("会議室の取得に失敗: %w", err)
	}
	if room == nil {
		return nil, model.NewRoomNotFoundError(input.RoomID)
	}

	meeting := &model.Meeting{
		ID:            uuid.New().String(),
		Title:         input.Title,
		Description:   input.Description,
		StartTime:     input.StartTime.UTC(),
		EndTime:       input.EndTime.UTC(),
		RoomID:        room.ID,
		OwnerID:       input.OwnerID,
		BookingStatus: model.BookingStatusBooked,
		SyncStatus:    model.SyncStatusSynced,
	}
	if err := s.meetingRepo.Create(ctx, meeting); err != nil {
		return nil, fmt.Errorf("会議の作成に失敗: %w", err)
	}

	s.pushBestEffort(ctx, meeting.ID, "作成", s.pusher.PushCreate)
	return s.reload(ctx, meeting)
}

// GetMeeting は会議を取得する。
func (s *Service) GetMeeting(ctx context.Context, meetingID string) (*model.Meeting, error) {
	meeting, err := s.meetingRepo.FindByID(ctx, meetingID)
	if err != nil {
		return nil, fmt.Errorf("会議の取得に失敗: %w", err)
	}
	if meeting == nil {
		return nil, model.NewMeetingNotFoundError(meetingID)
	}
	return meeting, nil
}

// UpdateMeetingInput は会議更新の入力。nilのフィールドは変更しない。
type UpdateMeetingInput struct {
	Title       *string
	Description *string
	StartTime   *time.Time
	EndTime     *time.Time
	RoomID      *string
}

// UpdateMeeting は会議を部分更新し、リモートカレンダーへのプッシュを試みる。
// キャンセル済みの会議は更新できない。
func (s *Service) UpdateMeeting(ctx context.Context, meetingID string, input UpdateMeetingInput) (*model.Meeting, error) {
	meeting, err := s.GetMeeting(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	if meeting.BookingStatus == model.BookingStatusCancelled {
		return nil, model.NewInvalidBookingError("キャンセル済みの会議は更新できません")
	}

	if input.Title != nil {
		meeting.Title = *input.Title
	}
	if input.Description != nil {
		meeting.Description = *input.Description
	}
	if input.StartTime != nil {
		meeting.StartTime = input.StartTime.UTC()
	}
	if input.EndTime != nil {
		meeting.EndTime = input.EndTime.UTC()
	}
	if input.RoomID != nil {
		room, err := s.roomRepo.FindByID(ctx, *input.RoomID)
		if err != nil {
			return nil, fmt.Errorf("会議室の取得に失敗: %w", err)
		}
		if room == nil {
			return nil, model.NewRoomNotFoundError(*input.RoomID)
		}
		meeting.RoomID = room.ID
	}
	if !meeting.EndTime.After(meeting.StartTime) {
		return nil, model.NewInvalidTimeRangeError()
	}

	if err := s.meetingRepo.Update(ctx, meeting); err != nil {
		return nil, fmt.Errorf("会議の更新に失敗: %w", err)
	}

	s.pushBestEffort(ctx, meeting.ID, "更新", s.pusher.PushUpdate)
	return s.reload(ctx, meeting)
}

// CancelMeeting は会議をキャンセルし、リモートイベントの削除を試みる。
// 既にキャンセル済みの場合は何もしない（冪等）。
func (s *Service) CancelMeeting(ctx context.Context, meetingID string) (*model.Meeting, error) {
	meeting, err := s.GetMeeting(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	if meeting.BookingStatus == model.BookingStatusCancelled {
		return meeting, nil
	}

	meeting.BookingStatus = model.BookingStatusCancelled
	if err := s.meetingRepo.Update(ctx, meeting); err != nil {
		return nil, fmt.Errorf("会議のキャンセルに失敗: %w", err)
	}

	s.pushBestEffort(ctx, meeting.ID, "削除", s.pusher.PushDelete)
	return s.reload(ctx, meeting)
}

// ListRooms は全会議室を取得する。
func (s *Service) ListRooms(ctx context.Context) ([]*model.Room, error) {
	rooms, err := s.roomRepo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("会議室一覧の取得に失敗: %w", err)
	}
	return rooms, nil
}

// CreateRoom は会議室を作成する。名前の重複は許さない。
func (s *Service) CreateRoom(ctx context.Context, name, location string, capacity int) (*model.Room, error) {
	existing, err := s.roomRepo.FindByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("会議室の検索に失敗: %w", err)
	}
	if existing != nil {
		return nil, model.NewDuplicateRoomError(name)
	}

	room := &model.Room{
		ID:       uuid.New().String(),
		Name:     name,
		Location: location,
		Capacity: capacity,
	}
	if err := s.roomRepo.Create(ctx, room); err != nil {
		return nil, fmt.Errorf("会議室の作成に失敗: %w", err)
	}
	return room, nil
}

// pushBestEffort はアウトバウンドプッシュをベストエフォートで実行する。
// 失敗はログに残すのみで、呼び出し元の予約操作は成功として扱う。
func (s *Service) pushBestEffort(ctx context.Context, meetingID, operation string, push func(context.Context, string) error) {
	if err := push(ctx, meetingID); err != nil {
		s.logger.Warn("カレンダーへのプッシュに失敗しました（後で再試行されます）",
			slog.String("meeting_id", meetingID),
			slog.String("operation", operation),
			slog.String("error", err.Error()),
		)
	}
}

// reload はプッシュによる同期フィールドの変化を反映した最新の会議を返す。
// 再取得に失敗した場合は手元の値をそのまま返す。
func (s *Service) reload(ctx context.Context, meeting *model.Meeting) (*model.Meeting, error) {
	latest, err := s.meetingRepo.FindByID(ctx, meeting.ID)
	if err != nil || latest == nil {
		return meeting, nil
	}
	return latest, nil
}
