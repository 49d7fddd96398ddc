package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/codegym-software/imeet-sync/internal/booking"
	"github.com/codegym-software/imeet-sync/internal/model"
)

// --- モック定義 ---

// mockMeetingService はMeetingServiceInterfaceのモック実装。
type mockMeetingService struct {
	createFn func(ctx context.Context, input booking.CreateMeetingInput) (*model.Meeting, error)
	getFn    func(ctx context.Context, meetingID string) (*model.Meeting, error)
	updateFn func(ctx context.Context, meetingID string, input booking.UpdateMeetingInput) (*model.Meeting, error)
	cancelFn func(ctx context.Context, meetingID string) (*model.Meeting, error)
}

func (m *mockMeetingService) CreateMeeting(ctx context.Context, input booking.CreateMeetingInput) (*model.Meeting, error) {
	if m.createFn != nil {
		return m.createFn(ctx, input)
	}
	return nil, nil
}

func (m *mockMeetingService) GetMeeting(ctx context.Context, meetingID string) (*model.Meeting, error) {
	if m.getFn != nil {
		return m.getFn(ctx, meetingID)
	}
	return nil, nil
}

func (m *mockMeetingService) UpdateMeeting(ctx context.Context, meetingID string, input booking.UpdateMeetingInput) (*model.Meeting, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, meetingID, input)
	}
	return nil, nil
}

func (m *mockMeetingService) CancelMeeting(ctx context.Context, meetingID string) (*model.Meeting, error) {
	if m.cancelFn != nil {
		return m.cancelFn(ctx, meetingID)
	}
	return nil, nil
}

// --- テストヘルパー ---

// withChiURLParam はテスト用にchiのURLパラメータを注入するヘルパー。
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	ctx := context.WithValue(r.Context(), chi.RouteCtxKey, rctx)
	return r.WithContext(ctx)
}

// parseAPIErrorResponse はレスポンスボディからAPIErrorレスポンスをパースするヘルパー。
func parseAPIErrorResponse(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var result map[string]string
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return result
}

func sampleMeeting() *model.Meeting {
	start := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	return &model.Meeting{
		ID:            "meeting-1",
		Title:         "週次定例",
		StartTime:     start,
		EndTime:       start.Add(time.Hour),
		RoomID:        "room-1",
		OwnerID:       "account-1",
		BookingStatus: model.BookingStatusBooked,
		SyncStatus:    model.SyncStatusSynced,
	}
}

// --- CreateMeeting ---

// 会議作成の正常系で201とレスポンスボディを返すことを検証
func TestMeetingHandler_CreateMeeting_Success(t *testing.T) {
	service := &mockMeetingService{
		createFn: func(_ context.Context, input booking.CreateMeetingInput) (*model.Meeting, error) {
			if input.Title != "週次定例" {
				t.Errorf("input.Title = %q", input.Title)
			}
			return sampleMeeting(), nil
		},
	}
	h := NewMeetingHandler(service)

	body := `{"title":"週次定例","start_time":"2026-09-01T10:00:00Z","end_time":"2026-09-01T11:00:00Z","room_id":"room-1","owner_id":"account-1"}`
	req := httptest.NewRequest(http.MethodPost, "/api/meetings", bytes.NewBufferString(body))
	w := httptest.NewRecorder()

	h.CreateMeeting(w, req)

	if w.Code != http.StatusCreated {
		t.Errorf("status = %d, want 201", w.Code)
	}
	var resp map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["id"] != "meeting-1" {
		t.Errorf("id = %v", resp["id"])
	}
	if resp["sync_status"] != "synced" {
		t.Errorf("sync_status = %v", resp["sync_status"])
	}
}

// プッシュ失敗後の会議作成でもupdate_pendingとして成功を返すことを検証
func TestMeetingHandler_CreateMeeting_PendingSyncIsNotError(t *testing.T) {
	meeting := sampleMeeting()
	meeting.SyncStatus = model.SyncStatusUpdatePending
	service := &mockMeetingService{
		createFn: func(_ context.Context, _ booking.CreateMeetingInput) (*model.Meeting, error) {
			return meeting, nil
		},
	}
	h := NewMeetingHandler(service)

	body := `{"title":"週次定例","start_time":"2026-09-01T10:00:00Z","end_time":"2026-09-01T11:00:00Z","room_id":"room-1","owner_id":"account-1"}`
	req := httptest.NewRequest(http.MethodPost, "/api/meetings", bytes.NewBufferString(body))
	w := httptest.NewRecorder()

	h.CreateMeeting(w, req)

	if w.Code != http.StatusCreated {
		t.Errorf("同期保留は作成の失敗ではない: status = %d, want 201", w.Code)
	}
	var resp map[string]interface{}
	json.NewDecoder(w.Body).Decode(&resp)
	if resp["sync_status"] != "update_pending" {
		t.Errorf("sync_status = %v, want update_pending", resp["sync_status"])
	}
}

// 必須フィールド欠落で400を返すことを検証
func TestMeetingHandler_CreateMeeting_MissingRequiredFields(t *testing.T) {
	h := NewMeetingHandler(&mockMeetingService{})

	body := `{"title":"","room_id":"room-1","owner_id":"account-1"}`
	req := httptest.NewRequest(http.MethodPost, "/api/meetings", bytes.NewBufferString(body))
	w := httptest.NewRecorder()

	h.CreateMeeting(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

// 不正なJSONで400を返すことを検証
func TestMeetingHandler_CreateMeeting_InvalidJSON(t *testing.T) {
	h := NewMeetingHandler(&mockMeetingService{})

	req := httptest.NewRequest(http.MethodPost, "/api/meetings", bytes.NewBufferString("{invalid"))
	w := httptest.NewRecorder()

	h.CreateMeeting(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

// 時間範囲エラーが400と統一エラーフォーマットで返ることを検証
func TestMeetingHandler_CreateMeeting_InvalidTimeRange(t *testing.T) {
	service := &mockMeetingService{
		createFn: func(_ context.Context, _ booking.CreateMeetingInput) (*model.Meeting, error) {
			return nil, model.NewInvalidTimeRangeError()
		},
	}
	h := NewMeetingHandler(service)

	body := `{"title":"週次定例","start_time":"2026-09-01T11:00:00Z","end_time":"2026-09-01T10:00:00Z","room_id":"room-1","owner_id":"account-1"}`
	req := httptest.NewRequest(http.MethodPost, "/api/meetings", bytes.NewBufferString(body))
	w := httptest.NewRecorder()

	h.CreateMeeting(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	resp := parseAPIErrorResponse(t, w)
	if resp["code"] != model.ErrCodeInvalidTimeRange {
		t.Errorf("code = %q, want %q", resp["code"], model.ErrCodeInvalidTimeRange)
	}
}

// --- GetMeeting ---

// 存在しない会議で404と統一エラーフォーマットを返すことを検証
func TestMeetingHandler_GetMeeting_NotFound(t *testing.T) {
	service := &mockMeetingService{
		getFn: func(_ context.Context, meetingID string) (*model.Meeting, error) {
			return nil, model.NewMeetingNotFoundError(meetingID)
		},
	}
	h := NewMeetingHandler(service)

	req := httptest.NewRequest(http.MethodGet, "/api/meetings/nonexistent", nil)
	req = withChiURLParam(req, "id", "nonexistent")
	w := httptest.NewRecorder()

	h.GetMeeting(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
	resp := parseAPIErrorResponse(t, w)
	if resp["code"] != model.ErrCodeMeetingNotFound {
		t.Errorf("code = %q", resp["code"])
	}
}

// サービス層の予期しないエラーで500を返すことを検証
func TestMeetingHandler_GetMeeting_InternalError(t *testing.T) {
	service := &mockMeetingService{
		getFn: func(_ context.Context, _ string) (*model.Meeting, error) {
			return nil, errors.New("db down")
		},
	}
	h := NewMeetingHandler(service)

	req := httptest.NewRequest(http.MethodGet, "/api/meetings/meeting-1", nil)
	req = withChiURLParam(req, "id", "meeting-1")
	w := httptest.NewRecorder()

	h.GetMeeting(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	resp := parseAPIErrorResponse(t, w)
	if resp["code"] != "INTERNAL_ERROR" {
		t.Errorf("code = %q", resp["code"])
	}
}

// --- UpdateMeeting ---

// 部分更新でnilフィールドがそのまま渡されることを検証
func TestMeetingHandler_UpdateMeeting_PartialUpdate(t *testing.T) {
	var got booking.UpdateMeetingInput
	service := &mockMeetingService{
		updateFn: func(_ context.Context, meetingID string, input booking.UpdateMeetingInput) (*model.Meeting, error) {
			if meetingID != "meeting-1" {
				t.Errorf("meetingID = %q", meetingID)
			}
			got = input
			return sampleMeeting(), nil
		},
	}
	h := NewMeetingHandler(service)

	req := httptest.NewRequest(http.MethodPatch, "/api/meetings/meeting-1", bytes.NewBufferString(`{"title":"変更後"}`))
	req = withChiURLParam(req, "id", "meeting-1")
	w := httptest.NewRecorder()

	h.UpdateMeeting(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if got.Title == nil || *got.Title != "変更後" {
		t.Error("title は更新対象として渡されるべき")
	}
	if got.StartTime != nil || got.RoomID != nil {
		t.Error("指定していないフィールドはnilのまま渡されるべき")
	}
}

// キャンセル済み会議の更新で400を返すことを検証
func TestMeetingHandler_UpdateMeeting_CancelledMeeting(t *testing.T) {
	service := &mockMeetingService{
		updateFn: func(_ context.Context, _ string, _ booking.UpdateMeetingInput) (*model.Meeting, error) {
			return nil, model.NewInvalidBookingError("キャンセル済みの会議は更新できません")
		},
	}
	h := NewMeetingHandler(service)

	req := httptest.NewRequest(http.MethodPatch, "/api/meetings/meeting-1", bytes.NewBufferString(`{"title":"変更後"}`))
	req = withChiURLParam(req, "id", "meeting-1")
	w := httptest.NewRecorder()

	h.UpdateMeeting(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

// --- CancelMeeting ---

// キャンセルの正常系でキャンセル後の状態を返すことを検証
func TestMeetingHandler_CancelMeeting_Success(t *testing.T) {
	meeting := sampleMeeting()
	meeting.BookingStatus = model.BookingStatusCancelled
	meeting.SyncStatus = model.SyncStatusDeleted
	service := &mockMeetingService{
		cancelFn: func(_ context.Context, _ string) (*model.Meeting, error) {
			return meeting, nil
		},
	}
	h := NewMeetingHandler(service)

	req := httptest.NewRequest(http.MethodDelete, "/api/meetings/meeting-1", nil)
	req = withChiURLParam(req, "id", "meeting-1")
	w := httptest.NewRecorder()

	h.CancelMeeting(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	var resp map[string]interface{}
	json.NewDecoder(w.Body).Decode(&resp)
	if resp["booking_status"] != "cancelled" {
		t.Errorf("booking_status = %v, want cancelled", resp["booking_status"])
	}
}
