package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/codegym-software/imeet-sync/internal/model"
)

// PostgresMeetingRepo はPostgreSQLを使用した会議リポジトリ。
type PostgresMeetingRepo struct {
	db *sql.DB
}

// NewPostgresMeetingRepo はPostgresMeetingRepoを生成する。
func NewPostgresMeetingRepo(db *sql.DB) *PostgresMeetingRepo {
	return &PostgresMeetingRepo{db: db}
}

const meetingColumns = `id, title, description, start_time, end_time,
	        room_id, owner_id, booking_status,
	        external_event_id, sync_status, created_at, updated_at`

// scanMeeting は1行分の会議を読み取る。
func scanMeeting(scan func(dest ...any) error) (*model.Meeting, error) {
	meeting := &model.Meeting{}
	var description, externalEventID sql.NullString

	err := scan(
		&meeting.ID, &meeting.Title, &description, &meeting.StartTime, &meeting.EndTime,
		&meeting.RoomID, &meeting.OwnerID, &meeting.BookingStatus,
		&externalEventID, &meeting.SyncStatus, &meeting.CreatedAt, &meeting.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	meeting.Description = nullStringValue(description)
	meeting.ExternalEventID = nullStringValue(externalEventID)
	return meeting, nil
}

// FindByID は指定IDの会議を取得する。見つからない場合はnilを返す。
func (r *PostgresMeetingRepo) FindByID(ctx context.Context, id string) (*model.Meeting, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+meetingColumns+` FROM meetings WHERE id = $1`, id)

	meeting, err := scanMeeting(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("会議の取得に失敗しました: %w", err)
	}
	return meeting, nil
}

// FindByOwnerAndExternalEventID はオーナーと外部イベントIDで会議を検索する。
// 見つからない場合はnilを返す。
func (r *PostgresMeetingRepo) FindByOwnerAndExternalEventID(ctx context.Context, ownerID, externalEventID string) (*model.Meeting, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+meetingColumns+` FROM meetings
		 WHERE owner_id = $1 AND external_event_id = $2`,
		ownerID, externalEventID)

	meeting, err := scanMeeting(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("外部イベントIDによる会議の検索に失敗しました: %w", err)
	}
	return meeting, nil
}

// Create は会議を作成する。
func (r *PostgresMeetingRepo) Create(ctx context.Context, meeting *model.Meeting) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO meetings (id, title, description, start_time, end_time,
		                       room_id, owner_id, booking_status,
		                       external_event_id, sync_status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		meeting.ID, meeting.Title, nullString(meeting.Description),
		meeting.StartTime, meeting.EndTime,
		meeting.RoomID, meeting.OwnerID, meeting.BookingStatus,
		nullString(meeting.ExternalEventID), meeting.SyncStatus,
		meeting.CreatedAt, meeting.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("会議の作成に失敗しました: %w", err)
	}
	return nil
}

// Update は会議の可変フィールドを全て更新する。
func (r *PostgresMeetingRepo) Update(ctx context.Context, meeting *model.Meeting) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE meetings SET
		    title = $2, description = $3, start_time = $4, end_time = $5,
		    room_id = $6, booking_status = $7,
		    external_event_id = $8, sync_status = $9, updated_at = now()
		 WHERE id = $1`,
		meeting.ID, meeting.Title, nullString(meeting.Description),
		meeting.StartTime, meeting.EndTime,
		meeting.RoomID, meeting.BookingStatus,
		nullString(meeting.ExternalEventID), meeting.SyncStatus,
	)
	if err != nil {
		return fmt.Errorf("会議の更新に失敗しました: %w", err)
	}
	return nil
}

// UpdateSyncState は会議の同期ブックキーピングのみを更新する。
func (r *PostgresMeetingRepo) UpdateSyncState(ctx context.Context, meetingID, externalEventID string, status model.SyncStatus) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE meetings SET
		    external_event_id = $2, sync_status = $3, updated_at = now()
		 WHERE id = $1`,
		meetingID, nullString(externalEventID), status,
	)
	if err != nil {
		return fmt.Errorf("同期状態の更新に失敗しました: %w", err)
	}
	return nil
}

// ListExternalInWindow はオーナーの会議のうちexternal_event_idが設定済みかつ
// [from, to]と時間帯が重なるものを取得する。
func (r *PostgresMeetingRepo) ListExternalInWindow(ctx context.Context, ownerID string, from, to time.Time) ([]*model.Meeting, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+meetingColumns+` FROM meetings
		 WHERE owner_id = $1
		   AND external_event_id IS NOT NULL
		   AND start_time <= $3
		   AND end_time >= $2
		 ORDER BY start_time ASC`,
		ownerID, from, to)
	if err != nil {
		return nil, fmt.Errorf("ウィンドウ内の同期済み会議の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	return collectMeetings(rows)
}

// ListPendingSync はsync_status = update_pendingの会議を取得する。
// limitが0以下の場合は無制限。
func (r *PostgresMeetingRepo) ListPendingSync(ctx context.Context, limit int) ([]*model.Meeting, error) {
	query := `SELECT ` + meetingColumns + ` FROM meetings
		 WHERE sync_status = 'update_pending'
		 ORDER BY updated_at ASC`
	var rows *sql.Rows
	var err error
	if limit > 0 {
		rows, err = r.db.QueryContext(ctx, query+` LIMIT $1`, limit)
	} else {
		rows, err = r.db.QueryContext(ctx, query)
	}
	if err != nil {
		return nil, fmt.Errorf("リトライ対象会議の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	return collectMeetings(rows)
}

// CountPendingSync はsync_status = update_pendingの会議数を返す。
func (r *PostgresMeetingRepo) CountPendingSync(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM meetings WHERE sync_status = 'update_pending'`,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("リトライ対象会議数の取得に失敗しました: %w", err)
	}
	return count, nil
}

// DeleteImportedByOwner はオーナーの会議のうちリモートカレンダー由来のものを削除する。
// 連携解除時のみ使用する。
func (r *PostgresMeetingRepo) DeleteImportedByOwner(ctx context.Context, ownerID string) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM meetings WHERE owner_id = $1 AND external_event_id IS NOT NULL`,
		ownerID,
	)
	if err != nil {
		return 0, fmt.Errorf("リモート由来会議の削除に失敗しました: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("削除件数の取得に失敗しました: %w", err)
	}
	return deleted, nil
}

// collectMeetings はrowsから会議のスライスを読み取る。
func collectMeetings(rows *sql.Rows) ([]*model.Meeting, error) {
	var meetings []*model.Meeting
	for rows.Next() {
		meeting, err := scanMeeting(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("会議の読み取りに失敗しました: %w", err)
		}
		meetings = append(meetings, meeting)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("会議の走査に失敗しました: %w", err)
	}
	return meetings, nil
}

// compile-time interface check
var _ MeetingRepository = (*PostgresMeetingRepo)(nil)
