package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/codegym-software/imeet-sync/internal/model"
)

// PostgresRoomRepo はPostgreSQLを使用した会議室リポジトリ。
type PostgresRoomRepo struct {
	db *sql.DB
}

// NewPostgresRoomRepo はPostgresRoomRepoを生成する。
func NewPostgresRoomRepo(db *sql.DB) *PostgresRoomRepo {
	return &PostgresRoomRepo{db: db}
}

const roomColumns = `id, name, location, capacity, created_at, updated_at`

// scanRoom は1行分の会議室を読み取る。
func scanRoom(scan func(dest ...any) error) (*model.Room, error) {
	room := &model.Room{}
	var location sql.NullString

	err := scan(&room.ID, &room.Name, &location, &room.Capacity,
		&room.CreatedAt, &room.UpdatedAt)
	if err != nil {
		return nil, err
	}

	room.Location = nullStringValue(location)
	return room, nil
}

// FindByID は指定IDの会議室を取得する。見つからない場合はnilを返す。
func (r *PostgresRoomRepo) FindByID(ctx context.Context, id string) (*model.Room, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+roomColumns+` FROM rooms WHERE id = $1`, id)

	room, err := scanRoom(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("会議室の取得に失敗しました: %w", err)
	}
	return room, nil
}

// FindByName は名前の完全一致で会議室を検索する。見つからない場合はnilを返す。
func (r *PostgresRoomRepo) FindByName(ctx context.Context, name string) (*model.Room, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+roomColumns+` FROM rooms WHERE name = $1`, name)

	room, err := scanRoom(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("名前による会議室の検索に失敗しました: %w", err)
	}
	return room, nil
}

// List は全会議室を名前順で取得する。
func (r *PostgresRoomRepo) List(ctx context.Context) ([]*model.Room, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+roomColumns+` FROM rooms ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("会議室一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var rooms []*model.Room
	for rows.Next() {
		room, err := scanRoom(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("会議室の読み取りに失敗しました: %w", err)
		}
		rooms = append(rooms, room)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("会議室の走査に失敗しました: %w", err)
	}
	return rooms, nil
}

// Create は会議室を作成する。
func (r *PostgresRoomRepo) Create(ctx context.Context, room *model.Room) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO rooms (id, name, location, capacity, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		room.ID, room.Name, nullString(room.Location), room.Capacity,
		room.CreatedAt, room.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("会議室の作成に失敗しました: %w", err)
	}
	return nil
}

// EnsureFallback はデフォルトの受け皿会議室を取得する。存在しない場合は作成する。
// ON CONFLICT DO NOTHINGにより並行呼び出しでも1件のみ作成される。
func (r *PostgresRoomRepo) EnsureFallback(ctx context.Context) (*model.Room, error) {
	now := time.Now()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO rooms (id, name, location, capacity, created_at, updated_at)
		 VALUES ($1, $2, '', 0, $3, $3)
		 ON CONFLICT (name) DO NOTHING`,
		uuid.New().String(), model.FallbackRoomName, now,
	)
	if err != nil {
		return nil, fmt.Errorf("受け皿会議室の作成に失敗しました: %w", err)
	}

	room, err := r.FindByName(ctx, model.FallbackRoomName)
	if err != nil {
		return nil, err
	}
	if room == nil {
		return nil, fmt.Errorf("受け皿会議室の取得に失敗しました")
	}
	return room, nil
}

// compile-time interface check
var _ RoomRepository = (*PostgresRoomRepo)(nil)
