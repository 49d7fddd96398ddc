package booking

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/codegym-software/imeet-sync/internal/model"
)

// --- モック ---

type mockMeetingRepo struct {
	meetings map[string]*model.Meeting
	createFn func(ctx context.Context, meeting *model.Meeting) error
	updateFn func(ctx context.Context, meeting *model.Meeting) error
}

func newMockMeetingRepo() *mockMeetingRepo {
	return &mockMeetingRepo{meetings: make(map[string]*model.Meeting)}
}

func (m *mockMeetingRepo) FindByID(_ context.Context, id string) (*model.Meeting, error) {
	meeting, ok := m.meetings[id]
	if !ok {
		return nil, nil
	}
	copied := *meeting
	return &copied, nil
}

func (m *mockMeetingRepo) FindByOwnerAndExternalEventID(_ context.Context, ownerID, externalEventID string) (*model.Meeting, error) {
	for _, meeting := range m.meetings {
		if meeting.OwnerID == ownerID && meeting.ExternalEventID == externalEventID {
			copied := *meeting
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *mockMeetingRepo) Create(ctx context.Context, meeting *model.Meeting) error {
	if m.createFn != nil {
		return m.createFn(ctx, meeting)
	}
	copied := *meeting
	m.meetings[meeting.ID] = &copied
	return nil
}

func (m *mockMeetingRepo) Update(ctx context.Context, meeting *model.Meeting) error {
	if m.updateFn != nil {
		return m.updateFn(ctx, meeting)
	}
	copied := *meeting
	m.meetings[meeting.ID] = &copied
	return nil
}

func (m *mockMeetingRepo) UpdateSyncState(_ context.Context, meetingID, externalEventID string, status model.SyncStatus) error {
	if meeting, ok := m.meetings[meetingID]; ok {
		meeting.ExternalEventID = externalEventID
		meeting.SyncStatus = status
	}
	return nil
}

func (m *mockMeetingRepo) ListExternalInWindow(_ context.Context, _ string, _, _ time.Time) ([]*model.Meeting, error) {
	return nil, nil
}

func (m *mockMeetingRepo) ListPendingSync(_ context.Context, _ int) ([]*model.Meeting, error) {
	return nil, nil
}

func (m *mockMeetingRepo) CountPendingSync(_ context.Context) (int, error) {
	return 0, nil
}

func (m *mockMeetingRepo) DeleteImportedByOwner(_ context.Context, _ string) (int64, error) {
	return 0, nil
}

type mockRoomRepo struct {
	rooms map[string]*model.Room
}

func newMockRoomRepo(rooms ...*model.Room) *mockRoomRepo {
	m := &mockRoomRepo{rooms: make(map[string]*model.Room)}
	for _, room := range rooms {
		m.rooms[room.ID] = room
	}
	return m
}

func (m *mockRoomRepo) FindByID(_ context.Context, id string) (*model.Room, error) {
	room, ok := m.rooms[id]
	if !ok {
		return nil, nil
	}
	return room, nil
}

func (m *mockRoomRepo) FindByName(_ context.Context, name string) (*model.Room, error) {
	for _, room := range m.rooms {
		if room.Name == name {
			return room, nil
		}
	}
	return nil, nil
}

func (m *mockRoomRepo) List(_ context.Context) ([]*model.Room, error) {
	rooms := make([]*model.Room, 0, len(m.rooms))
	for _, room := range m.rooms {
		rooms = append(rooms, room)
	}
	return rooms, nil
}

func (m *mockRoomRepo) Create(_ context.Context, room *model.Room) error {
	m.rooms[room.ID] = room
	return nil
}

func (m *mockRoomRepo) EnsureFallback(_ context.Context) (*model.Room, error) {
	return &model.Room{ID: "room-fallback", Name: "未割り当て"}, nil
}

type mockPusher struct {
	created []string
	updated []string
	deleted []string
	pushErr error
}

func (m *mockPusher) PushCreate(_ context.Context, meetingID string) error {
	m.created = append(m.created, meetingID)
	return m.pushErr
}

func (m *mockPusher) PushUpdate(_ context.Context, meetingID string) error {
	m.updated = append(m.updated, meetingID)
	return m.pushErr
}

func (m *mockPusher) PushDelete(_ context.Context, meetingID string) error {
	m.deleted = append(m.deleted, meetingID)
	return m.pushErr
}

func newTestService(meetingRepo *mockMeetingRepo, roomRepo *mockRoomRepo, pusher *mockPusher) *Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(meetingRepo, roomRepo, pusher, logger)
}

func testRoom() *model.Room {
	return &model.Room{ID: "room-1", Name: "会議室A", Location: "3F", Capacity: 8}
}

func validInput() CreateMeetingInput {
	start := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	return CreateMeetingInput{
		Title:     "週次定例",
		StartTime: start,
		EndTime:   start.Add(time.Hour),
		RoomID:    "room-1",
		OwnerID:   "account-1",
	}
}

// --- CreateMeeting ---

// 会議作成が成功し、アウトバウンドプッシュが呼ばれることを確認する。
func TestService_CreateMeeting_Success(t *testing.T) {
	meetingRepo := newMockMeetingRepo()
	pusher := &mockPusher{}
	svc := newTestService(meetingRepo, newMockRoomRepo(testRoom()), pusher)

	meeting, err := svc.CreateMeeting(context.Background(), validInput())
	if err != nil {
		t.Fatalf("CreateMeeting() error = %v", err)
	}

	if meeting.Title != "週次定例" {
		t.Errorf("Title = %q, 期待値 %q", meeting.Title, "週次定例")
	}
	if meeting.BookingStatus != model.BookingStatusBooked {
		t.Errorf("BookingStatus = %q, 期待値 %q", meeting.BookingStatus, model.BookingStatusBooked)
	}
	if len(pusher.created) != 1 || pusher.created[0] != meeting.ID {
		t.Errorf("PushCreate呼び出し = %v, 期待値 [%s]", pusher.created, meeting.ID)
	}
}

// 終了時刻が開始時刻以前の場合はINVALID_TIME_RANGEエラーを返すことを確認する。
func TestService_CreateMeeting_InvalidTimeRange(t *testing.T) {
	svc := newTestService(newMockMeetingRepo(), newMockRoomRepo(testRoom()), &mockPusher{})

	input := validInput()
	input.EndTime = input.StartTime

	_, err := svc.CreateMeeting(context.Background(), input)
	if err == nil {
		t.Fatal("エラーを期待したがnilが返された")
	}

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("APIErrorを期待したが %T が返された", err)
	}
	if apiErr.Code != model.ErrCodeInvalidTimeRange {
		t.Errorf("Code = %q, 期待値 %q", apiErr.Code, model.ErrCodeInvalidTimeRange)
	}
}

// 存在しない会議室を指定した場合はROOM_NOT_FOUNDエラーを返すことを確認する。
func TestService_CreateMeeting_RoomNotFound(t *testing.T) {
	svc := newTestService(newMockMeetingRepo(), newMockRoomRepo(), &mockPusher{})

	_, err := svc.CreateMeeting(context.Background(), validInput())
	if err == nil {
		t.Fatal("エラーを期待したがnilが返された")
	}

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("APIErrorを期待したが %T が返された", err)
	}
	if apiErr.Code != model.ErrCodeRoomNotFound {
		t.Errorf("Code = %q, 期待値 %q", apiErr.Code, model.ErrCodeRoomNotFound)
	}
}

// プッシュの失敗は会議作成自体を失敗させないことを確認する。
func TestService_CreateMeeting_PushFailureIsNotFatal(t *testing.T) {
	meetingRepo := newMockMeetingRepo()
	pusher := &mockPusher{pushErr: errors.New("一時的な障害")}
	svc := newTestService(meetingRepo, newMockRoomRepo(testRoom()), pusher)

	meeting, err := svc.CreateMeeting(context.Background(), validInput())
	if err != nil {
		t.Fatalf("CreateMeeting() error = %v", err)
	}
	if meeting == nil {
		t.Fatal("会議が返されなかった")
	}
	if len(meeting.ID) == 0 {
		t.Error("会議IDが空")
	}
}

// プッシュによる同期フィールドの変化が戻り値に反映されることを確認する。
func TestService_CreateMeeting_ReturnsReloadedMeeting(t *testing.T) {
	meetingRepo := newMockMeetingRepo()
	pusher := &mockPusher{}
	svc := newTestService(meetingRepo, newMockRoomRepo(testRoom()), pusher)

	// プッシュ成功時にexternal_event_idが記録される状況を模す。
	meetingRepo.createFn = func(_ context.Context, meeting *model.Meeting) error {
		copied := *meeting
		copied.ExternalEventID = "remote-1"
		meetingRepo.meetings[meeting.ID] = &copied
		return nil
	}

	meeting, err := svc.CreateMeeting(context.Background(), validInput())
	if err != nil {
		t.Fatalf("CreateMeeting() error = %v", err)
	}
	if meeting.ExternalEventID != "remote-1" {
		t.Errorf("ExternalEventID = %q, 期待値 %q", meeting.ExternalEventID, "remote-1")
	}
}

// 保存失敗時はエラーを返し、プッシュは行われないことを確認する。
func TestService_CreateMeeting_RepoFailure(t *testing.T) {
	meetingRepo := newMockMeetingRepo()
	meetingRepo.createFn = func(_ context.Context, _ *model.Meeting) error {
		return errors.New("db error")
	}
	pusher := &mockPusher{}
	svc := newTestService(meetingRepo, newMockRoomRepo(testRoom()), pusher)

	_, err := svc.CreateMeeting(context.Background(), validInput())
	if err == nil {
		t.Fatal("エラーを期待したがnilが返された")
	}
	if len(pusher.created) != 0 {
		t.Errorf("保存失敗時にPushCreateが呼ばれた: %v", pusher.created)
	}
}

// --- UpdateMeeting ---

func seedMeeting(repo *mockMeetingRepo) *model.Meeting {
	start := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	meeting := &model.Meeting{
		ID:            "meeting-1",
		Title:         "週次定例",
		StartTime:     start,
		EndTime:       start.Add(time.Hour),
		RoomID:        "room-1",
		OwnerID:       "account-1",
		BookingStatus: model.BookingStatusBooked,
		SyncStatus:    model.SyncStatusSynced,
	}
	repo.meetings[meeting.ID] = meeting
	return meeting
}

// 部分更新で指定したフィールドのみが変更されることを確認する。
func TestService_UpdateMeeting_PartialUpdate(t *testing.T) {
	meetingRepo := newMockMeetingRepo()
	seedMeeting(meetingRepo)
	pusher := &mockPusher{}
	svc := newTestService(meetingRepo, newMockRoomRepo(testRoom()), pusher)

	newTitle := "月次レビュー"
	meeting, err := svc.UpdateMeeting(context.Background(), "meeting-1", UpdateMeetingInput{Title: &newTitle})
	if err != nil {
		t.Fatalf("UpdateMeeting() error = %v", err)
	}

	if meeting.Title != "月次レビュー" {
		t.Errorf("Title = %q, 期待値 %q", meeting.Title, "月次レビュー")
	}
	if meeting.RoomID != "room-1" {
		t.Errorf("RoomID = %q, 期待値 %q（未指定のフィールドは変更しない）", meeting.RoomID, "room-1")
	}
	if len(pusher.updated) != 1 {
		t.Errorf("PushUpdate呼び出し回数 = %d, 期待値 1", len(pusher.updated))
	}
}

// キャンセル済みの会議は更新できないことを確認する。
func TestService_UpdateMeeting_RejectsCancelledMeeting(t *testing.T) {
	meetingRepo := newMockMeetingRepo()
	meeting := seedMeeting(meetingRepo)
	meeting.BookingStatus = model.BookingStatusCancelled
	svc := newTestService(meetingRepo, newMockRoomRepo(testRoom()), &mockPusher{})

	newTitle := "月次レビュー"
	_, err := svc.UpdateMeeting(context.Background(), "meeting-1", UpdateMeetingInput{Title: &newTitle})
	if err == nil {
		t.Fatal("エラーを期待したがnilが返された")
	}

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("APIErrorを期待したが %T が返された", err)
	}
	if apiErr.Code != model.ErrCodeInvalidBooking {
		t.Errorf("Code = %q, 期待値 %q", apiErr.Code, model.ErrCodeInvalidBooking)
	}
}

// 更新後の時間帯が不正な場合はエラーを返すことを確認する。
func TestService_UpdateMeeting_InvalidTimeRangeAfterUpdate(t *testing.T) {
	meetingRepo := newMockMeetingRepo()
	meeting := seedMeeting(meetingRepo)
	svc := newTestService(meetingRepo, newMockRoomRepo(testRoom()), &mockPusher{})

	badEnd := meeting.StartTime.Add(-time.Minute)
	_, err := svc.UpdateMeeting(context.Background(), "meeting-1", UpdateMeetingInput{EndTime: &badEnd})
	if err == nil {
		t.Fatal("エラーを期待したがnilが返された")
	}

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("APIErrorを期待したが %T が返された", err)
	}
	if apiErr.Code != model.ErrCodeInvalidTimeRange {
		t.Errorf("Code = %q, 期待値 %q", apiErr.Code, model.ErrCodeInvalidTimeRange)
	}
}

// 存在しない会議の更新はMEETING_NOT_FOUNDエラーを返すことを確認する。
func TestService_UpdateMeeting_NotFound(t *testing.T) {
	svc := newTestService(newMockMeetingRepo(), newMockRoomRepo(testRoom()), &mockPusher{})

	newTitle := "月次レビュー"
	_, err := svc.UpdateMeeting(context.Background(), "missing", UpdateMeetingInput{Title: &newTitle})
	if err == nil {
		t.Fatal("エラーを期待したがnilが返された")
	}

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("APIErrorを期待したが %T が返された", err)
	}
	if apiErr.Code != model.ErrCodeMeetingNotFound {
		t.Errorf("Code = %q, 期待値 %q", apiErr.Code, model.ErrCodeMeetingNotFound)
	}
}

// 会議室の変更時に新しい会議室の存在を検証することを確認する。
func TestService_UpdateMeeting_RoomChangeValidated(t *testing.T) {
	meetingRepo := newMockMeetingRepo()
	seedMeeting(meetingRepo)
	svc := newTestService(meetingRepo, newMockRoomRepo(testRoom()), &mockPusher{})

	missingRoom := "room-missing"
	_, err := svc.UpdateMeeting(context.Background(), "meeting-1", UpdateMeetingInput{RoomID: &missingRoom})
	if err == nil {
		t.Fatal("エラーを期待したがnilが返された")
	}

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("APIErrorを期待したが %T が返された", err)
	}
	if apiErr.Code != model.ErrCodeRoomNotFound {
		t.Errorf("Code = %q, 期待値 %q", apiErr.Code, model.ErrCodeRoomNotFound)
	}
}

// --- CancelMeeting ---

// キャンセルが成功し、リモートイベントの削除が試みられることを確認する。
func TestService_CancelMeeting_Success(t *testing.T) {
	meetingRepo := newMockMeetingRepo()
	seedMeeting(meetingRepo)
	pusher := &mockPusher{}
	svc := newTestService(meetingRepo, newMockRoomRepo(testRoom()), pusher)

	meeting, err := svc.CancelMeeting(context.Background(), "meeting-1")
	if err != nil {
		t.Fatalf("CancelMeeting() error = %v", err)
	}

	if meeting.BookingStatus != model.BookingStatusCancelled {
		t.Errorf("BookingStatus = %q, 期待値 %q", meeting.BookingStatus, model.BookingStatusCancelled)
	}
	if len(pusher.deleted) != 1 || pusher.deleted[0] != "meeting-1" {
		t.Errorf("PushDelete呼び出し = %v, 期待値 [meeting-1]", pusher.deleted)
	}
}

// 既にキャンセル済みの会議のキャンセルは冪等で、プッシュを行わないことを確認する。
func TestService_CancelMeeting_Idempotent(t *testing.T) {
	meetingRepo := newMockMeetingRepo()
	meeting := seedMeeting(meetingRepo)
	meeting.BookingStatus = model.BookingStatusCancelled
	pusher := &mockPusher{}
	svc := newTestService(meetingRepo, newMockRoomRepo(testRoom()), pusher)

	got, err := svc.CancelMeeting(context.Background(), "meeting-1")
	if err != nil {
		t.Fatalf("CancelMeeting() error = %v", err)
	}

	if got.BookingStatus != model.BookingStatusCancelled {
		t.Errorf("BookingStatus = %q, 期待値 %q", got.BookingStatus, model.BookingStatusCancelled)
	}
	if len(pusher.deleted) != 0 {
		t.Errorf("冪等なキャンセルでPushDeleteが呼ばれた: %v", pusher.deleted)
	}
}

// 存在しない会議のキャンセルはMEETING_NOT_FOUNDエラーを返すことを確認する。
func TestService_CancelMeeting_NotFound(t *testing.T) {
	svc := newTestService(newMockMeetingRepo(), newMockRoomRepo(), &mockPusher{})

	_, err := svc.CancelMeeting(context.Background(), "missing")
	if err == nil {
		t.Fatal("エラーを期待したがnilが返された")
	}

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("APIErrorを期待したが %T が返された", err)
	}
	if apiErr.Code != model.ErrCodeMeetingNotFound {
		t.Errorf("Code = %q, 期待値 %q", apiErr.Code, model.ErrCodeMeetingNotFound)
	}
}

// --- 会議室 ---

// 会議室一覧の取得を確認する。
func TestService_ListRooms(t *testing.T) {
	svc := newTestService(newMockMeetingRepo(), newMockRoomRepo(testRoom()), &mockPusher{})

	rooms, err := svc.ListRooms(context.Background())
	if err != nil {
		t.Fatalf("ListRooms() error = %v", err)
	}
	if len(rooms) != 1 {
		t.Fatalf("len(rooms) = %d, 期待値 1", len(rooms))
	}
	if rooms[0].Name != "会議室A" {
		t.Errorf("Name = %q, 期待値 %q", rooms[0].Name, "会議室A")
	}
}

// 会議室の作成を確認する。
func TestService_CreateRoom_Success(t *testing.T) {
	roomRepo := newMockRoomRepo()
	svc := newTestService(newMockMeetingRepo(), roomRepo, &mockPusher{})

	room, err := svc.CreateRoom(context.Background(), "会議室B", "5F", 12)
	if err != nil {
		t.Fatalf("CreateRoom() error = %v", err)
	}

	if room.Name != "会議室B" || room.Location != "5F" || room.Capacity != 12 {
		t.Errorf("room = %+v, 期待したフィールド値と異なる", room)
	}
	if room.ID == "" {
		t.Error("会議室IDが空")
	}
	if _, ok := roomRepo.rooms[room.ID]; !ok {
		t.Error("会議室が保存されていない")
	}
}

// 同名の会議室が既に存在する場合はDUPLICATE_ROOMエラーを返すことを確認する。
func TestService_CreateRoom_DuplicateName(t *testing.T) {
	svc := newTestService(newMockMeetingRepo(), newMockRoomRepo(testRoom()), &mockPusher{})

	_, err := svc.CreateRoom(context.Background(), "会議室A", "3F", 8)
	if err == nil {
		t.Fatal("エラーを期待したがnilが返された")
	}

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("APIErrorを期待したが %T が返された", err)
	}
	if apiErr.Code != model.ErrCodeDuplicateRoom {
		t.Errorf("Code = %q, 期待値 %q", apiErr.Code, model.ErrCodeDuplicateRoom)
	}
}
