// Package model はドメインモデルを定義する。
package model

import "time"

// Room は会議室を表す。
// Locationはインバウンド同期におけるマッピング先としてのみ使用される
// （リモートイベントの自由記述locationとの照合）。
type Room struct {
	ID       string
	Name     string
	Location string
	Capacity int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// FallbackRoomName はロケーション照合に失敗したリモートイベントの
// 受け皿となるデフォルト会議室の名前。初回利用時に1度だけ作成され再利用される。
const FallbackRoomName = "未割り当て"
