package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/codegym-software/imeet-sync/internal/booking"
	"github.com/codegym-software/imeet-sync/internal/middleware"
	"github.com/codegym-software/imeet-sync/internal/model"
)

// MeetingServiceInterface は会議ハンドラーが必要とするサービスインターフェース。
type MeetingServiceInterface interface {
	CreateMeeting(ctx context.Context, input booking.CreateMeetingInput) (*model.Meeting, error)
	GetMeeting(ctx context.Context, meetingID string) (*model.Meeting, error)
	UpdateMeeting(ctx context.Context, meetingID string, input booking.UpdateMeetingInput) (*model.Meeting, error)
	CancelMeeting(ctx context.Context, meetingID string) (*model.Meeting, error)
}

// MeetingHandler は会議予約のHTTPハンドラー。
type MeetingHandler struct {
	service MeetingServiceInterface
}

// NewMeetingHandler はMeetingHandlerを生成する。
func NewMeetingHandler(service MeetingServiceInterface) *MeetingHandler {
	return &MeetingHandler{service: service}
}

// createMeetingRequest は会議作成リクエストのボディ。
type createMeetingRequest struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	RoomID      string    `json:"room_id"`
	OwnerID     string    `json:"owner_id"`
}

// updateMeetingRequest は会議更新リクエストのボディ。nilのフィールドは変更しない。
type updateMeetingRequest struct {
	Title       *string    `json:"title"`
	Description *string    `json:"description"`
	StartTime   *time.Time `json:"start_time"`
	EndTime     *time.Time `json:"end_time"`
	RoomID      *string    `json:"room_id"`
}

// meetingResponse は会議情報のAPIレスポンス。
// 同期状態はメタデータとして含まれる（update_pendingはエラーではない）。
type meetingResponse struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	RoomID          string    `json:"room_id"`
	OwnerID         string    `json:"owner_id"`
	BookingStatus   string    `json:"booking_status"`
	ExternalEventID string    `json:"external_event_id,omitempty"`
	SyncStatus      string    `json:"sync_status"`
}

// CreateMeeting は会議作成を処理する。
// POST /api/meetings
// リモートカレンダーへのプッシュが失敗しても作成は成功として扱われ、
// sync_statusがupdate_pendingのレスポンスが返る。
func (h *MeetingHandler) CreateMeeting(w http.ResponseWriter, r *http.Request) {
	var req createMeetingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, invalidRequestError())
		return
	}
	if req.Title == "" || req.RoomID == "" || req.OwnerID == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "title、room_id、owner_idは必須です。",
			Category: "validation",
			Action:   "必須フィールドを指定してください。",
		})
		return
	}

	meeting, err := h.service.CreateMeeting(r.Context(), booking.CreateMeetingInput{
		Title:       req.Title,
		Description: req.Description,
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
		RoomID:      req.RoomID,
		OwnerID:     req.OwnerID,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(toMeetingResponse(meeting))
}

// GetMeeting は会議詳細を取得する。
// GET /api/meetings/:id
func (h *MeetingHandler) GetMeeting(w http.ResponseWriter, r *http.Request) {
	meeting, err := h.service.GetMeeting(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toMeetingResponse(meeting))
}

// UpdateMeeting は会議の部分更新を処理する。
// PATCH /api/meetings/:id
func (h *MeetingHandler) UpdateMeeting(w http.ResponseWriter, r *http.Request) {
	var req updateMeetingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, invalidRequestError())
		return
	}

	meeting, err := h.service.UpdateMeeting(r.Context(), chi.URLParam(r, "id"), booking.UpdateMeetingInput{
		Title:       req.Title,
		Description: req.Description,
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
		RoomID:      req.RoomID,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toMeetingResponse(meeting))
}

// CancelMeeting は会議のキャンセルを処理する。冪等。
// DELETE /api/meetings/:id
func (h *MeetingHandler) CancelMeeting(w http.ResponseWriter, r *http.Request) {
	meeting, err := h.service.CancelMeeting(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toMeetingResponse(meeting))
}

// toMeetingResponse はドメインのMeetingをレスポンス型に変換する。
func toMeetingResponse(meeting *model.Meeting) meetingResponse {
	return meetingResponse{
		ID:              meeting.ID,
		Title:           meeting.Title,
		Description:     meeting.Description,
		StartTime:       meeting.StartTime,
		EndTime:         meeting.EndTime,
		RoomID:          meeting.RoomID,
		OwnerID:         meeting.OwnerID,
		BookingStatus:   string(meeting.BookingStatus),
		ExternalEventID: meeting.ExternalEventID,
		SyncStatus:      string(meeting.SyncStatus),
	}
}

func invalidRequestError() *model.APIError {
	return &model.APIError{
		Code:     "INVALID_REQUEST",
		Message:  "リクエストボディの解析に失敗しました。",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}

// writeAPIErrorResponse は統一エラーフォーマットでレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	middleware.WriteErrorResponse(w, statusCode, apiErr)
}

// handleServiceError はサービス層のエラーをHTTPレスポンスに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは詳細をログのみに残し、一般的な500を返す
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIエラーコードをHTTPステータスコードに対応付ける。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeAccountNotFound, model.ErrCodeMeetingNotFound, model.ErrCodeRoomNotFound:
		return http.StatusNotFound
	case model.ErrCodeInvalidTimeRange, model.ErrCodeInvalidBooking:
		return http.StatusBadRequest
	case model.ErrCodeDuplicateRoom:
		return http.StatusConflict
	case model.ErrCodeNotConnected:
		return http.StatusBadRequest
	case model.ErrCodeReauthRequired:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
