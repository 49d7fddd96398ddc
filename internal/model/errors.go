// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, booking, sync, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeAccountNotFound  = "ACCOUNT_NOT_FOUND"
	ErrCodeMeetingNotFound  = "MEETING_NOT_FOUND"
	ErrCodeRoomNotFound     = "ROOM_NOT_FOUND"
	ErrCodeInvalidTimeRange = "INVALID_TIME_RANGE"
	ErrCodeInvalidBooking   = "INVALID_BOOKING"
	ErrCodeNotConnected     = "CALENDAR_NOT_CONNECTED"
	ErrCodeReauthRequired   = "REAUTH_REQUIRED"
	ErrCodeDuplicateRoom    = "DUPLICATE_ROOM"
)

// NewAccountNotFoundError はアカウント未検出エラーを生成する。
func NewAccountNotFoundError(accountID string) *APIError {
	return &APIError{
		Code:     ErrCodeAccountNotFound,
		Message:  fmt.Sprintf("指定されたアカウントが見つかりません: %s", accountID),
		Category: "auth",
		Action:   "アカウントIDを確認してください。",
	}
}

// NewMeetingNotFoundError は会議未検出エラーを生成する。
func NewMeetingNotFoundError(meetingID string) *APIError {
	return &APIError{
		Code:     ErrCodeMeetingNotFound,
		Message:  fmt.Sprintf("指定された会議が見つかりません: %s", meetingID),
		Category: "booking",
		Action:   "会議IDを確認してください。",
	}
}

// NewRoomNotFoundError は会議室未検出エラーを生成する。
func NewRoomNotFoundError(roomID string) *APIError {
	return &APIError{
		Code:     ErrCodeRoomNotFound,
		Message:  fmt.Sprintf("指定された会議室が見つかりません: %s", roomID),
		Category: "booking",
		Action:   "会議室IDを確認してください。",
	}
}

// NewInvalidTimeRangeError は無効な時間範囲エラーを生成する。
func NewInvalidTimeRangeError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidTimeRange,
		Message:  "終了時刻は開始時刻より後である必要があります。",
		Category: "validation",
		Action:   "開始時刻と終了時刻を確認してください。",
	}
}

// NewInvalidBookingError は無効な予約操作エラーを生成する。
func NewInvalidBookingError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidBooking,
		Message:  fmt.Sprintf("無効な予約操作です: %s", reason),
		Category: "booking",
		Action:   "予約の状態を確認してください。",
	}
}

// NewNotConnectedError はカレンダー未連携エラーを生成する。
func NewNotConnectedError() *APIError {
	return &APIError{
		Code:     ErrCodeNotConnected,
		Message:  "Googleカレンダーが連携されていません。",
		Category: "sync",
		Action:   "カレンダー連携を行ってから再度お試しください。",
	}
}

// NewReauthRequiredError は再認可が必要な状態のエラーを生成する。
// リフレッシュトークンが失効・取り消しされた場合に発生し、自動リトライされない。
func NewReauthRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeReauthRequired,
		Message:  "カレンダー連携の認可が失効しました。",
		Category: "auth",
		Action:   "Googleカレンダーとの連携をやり直してください。",
	}
}

// NewDuplicateRoomError は会議室名の重複エラーを生成する。
func NewDuplicateRoomError(name string) *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateRoom,
		Message:  fmt.Sprintf("同名の会議室が既に存在します: %s", name),
		Category: "validation",
		Action:   "別の会議室名を指定してください。",
	}
}
