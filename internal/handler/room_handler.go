package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/codegym-software/imeet-sync/internal/model"
)

// RoomServiceInterface は会議室ハンドラーが必要とするサービスインターフェース。
type RoomServiceInterface interface {
	ListRooms(ctx context.Context) ([]*model.Room, error)
	CreateRoom(ctx context.Context, name, location string, capacity int) (*model.Room, error)
}

// RoomHandler は会議室管理のHTTPハンドラー。
type RoomHandler struct {
	service RoomServiceInterface
}

// NewRoomHandler はRoomHandlerを生成する。
func NewRoomHandler(service RoomServiceInterface) *RoomHandler {
	return &RoomHandler{service: service}
}

// createRoomRequest は会議室作成リクエストのボディ。
type createRoomRequest struct {
	Name     string `json:"name"`
	Location string `json:"location"`
	Capacity int    `json:"capacity"`
}

// roomResponse は会議室情報のAPIレスポンス。
type roomResponse struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Location string `json:"location"`
	Capacity int    `json:"capacity"`
}

// ListRooms は会議室一覧を取得する。
// GET /api/rooms
func (h *RoomHandler) ListRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := h.service.ListRooms(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	results := make([]roomResponse, len(rooms))
	for i, room := range rooms {
		results[i] = toRoomResponse(room)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(results)
}

// CreateRoom は会議室作成を処理する。
// POST /api/rooms
func (h *RoomHandler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, invalidRequestError())
		return
	}
	if req.Name == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "nameは必須です。",
			Category: "validation",
			Action:   "会議室名を指定してください。",
		})
		return
	}

	room, err := h.service.CreateRoom(r.Context(), req.Name, req.Location, req.Capacity)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(toRoomResponse(room))
}

// toRoomResponse はドメインのRoomをレスポンス型に変換する。
func toRoomResponse(room *model.Room) roomResponse {
	return roomResponse{
		ID:       room.ID,
		Name:     room.Name,
		Location: room.Location,
		Capacity: room.Capacity,
	}
}
