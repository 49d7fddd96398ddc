// Package model はドメインモデルを定義する。
package model

import "time"

// Meeting は会議室予約を表す。
// 同期エンジンはExternalEventIDとSyncStatusのみを更新し、
// 監査履歴を保持するためMeeting行自体を削除することはない。
type Meeting struct {
	ID          string
	Title       string
	Description string
	StartTime   time.Time
	EndTime     time.Time
	RoomID      string
	OwnerID     string

	BookingStatus BookingStatus

	// ExternalEventID は外部カレンダー上の対応イベントID。
	// 空文字列は「未プッシュ」または「リモート側の削除が確認済み」を意味する。
	ExternalEventID string
	SyncStatus      SyncStatus

	CreatedAt time.Time
	UpdatedAt time.Time
}

// BookingStatus は予約の状態を表す。
type BookingStatus string

const (
	// BookingStatusBooked は予約確定状態。
	BookingStatusBooked BookingStatus = "booked"
	// BookingStatusInProgress は会議進行中の状態。
	BookingStatusInProgress BookingStatus = "in_progress"
	// BookingStatusCompleted は会議終了後の状態。
	BookingStatusCompleted BookingStatus = "completed"
	// BookingStatusCancelled はキャンセル済みの状態。
	BookingStatusCancelled BookingStatus = "cancelled"
)

// SyncStatus は外部カレンダーとの同期状態を表す。
type SyncStatus string

const (
	// SyncStatusSynced は直近のプッシュ/プルが成功した状態。
	// ExternalEventIDが空のままSyncedである場合は「意図的に未同期」
	// （オーナーがカレンダー連携していない等）を意味し、エラー状態ではない。
	SyncStatusSynced SyncStatus = "synced"
	// SyncStatusUpdatePending は直近の同期が一時的に失敗し、リトライ対象である状態。
	// ユーザーに見せるエラーではなく「後で再試行する」を意味する。
	SyncStatusUpdatePending SyncStatus = "update_pending"
	// SyncStatusDeleted はリモート側の対応イベントの不在が確認済みの状態。
	SyncStatusDeleted SyncStatus = "deleted"
)
