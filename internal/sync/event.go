package sync

import (
	"fmt"
	"time"

	"google.golang.org/api/calendar/v3"

	"github.com/codegym-software/imeet-sync/internal/model"
)

// eventStatusCancelled はリモートイベントのキャンセル済みステータス値。
const eventStatusCancelled = "cancelled"

// buildEventPayload は会議からリモートイベントのペイロードを構築する。
// 時刻はUTCのRFC3339で送出する。roomがnilの場合、locationは空になる。
func buildEventPayload(meeting *model.Meeting, room *model.Room) *calendar.Event {
	return &calendar.Event{
		Summary:     meeting.Title,
		Description: meeting.Description,
		Location:    roomLocation(room),
		Start: &calendar.EventDateTime{
			DateTime: meeting.StartTime.UTC().Format(time.RFC3339),
			TimeZone: "UTC",
		},
		End: &calendar.EventDateTime{
			DateTime: meeting.EndTime.UTC().Format(time.RFC3339),
			TimeZone: "UTC",
		},
	}
}

// overlayEventPayload は取得済みのリモートイベントに会議の内容を上書きする。
// 参加者等のこちらが管理しないフィールドは保持される。
func overlayEventPayload(event *calendar.Event, meeting *model.Meeting, room *model.Room) {
	payload := buildEventPayload(meeting, room)
	event.Summary = payload.Summary
	event.Description = payload.Description
	event.Location = payload.Location
	event.Start = payload.Start
	event.End = payload.End
}

// roomLocation は会議室をリモートイベントのlocation文字列に変換する。
// 所在地があれば「名前 (所在地)」、なければ名前のみ。
// インバウンド同期の部分一致照合で元の会議室に解決できる形式にしている。
func roomLocation(room *model.Room) string {
	if room == nil {
		return ""
	}
	if room.Location != "" {
		return fmt.Sprintf("%s (%s)", room.Name, room.Location)
	}
	return room.Name
}

// eventTimes はリモートイベントの開始・終了時刻を取り出す。
// 終日イベント（Dateのみ）は日付をUTC深夜0時として扱う。
// どちらかの時刻が欠落または不正な場合はエラーを返す。
func eventTimes(event *calendar.Event) (start, end time.Time, err error) {
	start, err = parseEventTime(event.Start)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("開始時刻の解析に失敗: %w", err)
	}
	end, err = parseEventTime(event.End)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("終了時刻の解析に失敗: %w", err)
	}
	return start, end, nil
}

func parseEventTime(edt *calendar.EventDateTime) (time.Time, error) {
	if edt == nil {
		return time.Time{}, fmt.Errorf("時刻フィールドが存在しない")
	}
	if edt.DateTime != "" {
		t, err := time.Parse(time.RFC3339, edt.DateTime)
		if err != nil {
			return time.Time{}, err
		}
		return t.UTC(), nil
	}
	if edt.Date != "" {
		t, err := time.Parse("2006-01-02", edt.Date)
		if err != nil {
			return time.Time{}, err
		}
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("dateTimeとdateの両方が空")
}
