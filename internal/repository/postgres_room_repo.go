package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/chatroom/internal/model"
)

// PostgresRoomRepo はPostgreSQLを使用したルームリポジトリ。
type PostgresRoomRepo struct {
	db *sql.DB
}

// NewPostgresRoomRepo はPostgresRoomRepoを生成する。
func NewPostgresRoomRepo(db *sql.DB) *PostgresRoomRepo {
	return &PostgresRoomRepo{db: db}
}

const roomColumns = `r.id, r.name, r.description, r.type, COALESCE(r.join_code, ''), r.owner_id,
	r.max_members, r.is_active, r.created_at, r.updated_at`

func scanRoom(row interface{ Scan(...any) error }, extra ...any) (*model.Room, error) {
	room := &model.Room{}
	var maxMembers sql.NullInt64
	dest := []any{&room.ID, &room.Name, &room.Description, &room.Type, &room.JoinCode, &room.OwnerID,
		&maxMembers, &room.IsActive, &room.CreatedAt, &room.UpdatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	if maxMembers.Valid {
		n := int(maxMembers.Int64)
		room.MaxMembers = &n
	}
	return room, nil
}

// CreateWithOwner はルームと作成者のadminメンバーシップを同一トランザクションで作成する。
func (r *PostgresRoomRepo) CreateWithOwner(ctx context.Context, room *model.Room) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var joinCode sql.NullString
	if room.JoinCode != "" {
		joinCode = sql.NullString{String: room.JoinCode, Valid: true}
	}
	var maxMembers sql.NullInt64
	if room.MaxMembers != nil {
		maxMembers = sql.NullInt64{Int64: int64(*room.MaxMembers), Valid: true}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO rooms (id, name, description, type, join_code, owner_id, max_members, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		room.ID, room.Name, room.Description, room.Type, joinCode, room.OwnerID, maxMembers,
		room.IsActive, room.CreatedAt, room.UpdatedAt,
	)
	if constraint, dup := uniqueViolationConstraint(err); dup {
		if constraint == "rooms_join_code_key" {
			return ErrJoinCodeTaken
		}
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to insert room: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO room_members (room_id, user_id, role, joined_at) VALUES ($1, $2, $3, $4)`,
		room.ID, room.OwnerID, model.RoleAdmin, room.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert owner membership: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	room.MemberCount = 1
	return nil
}

// FindByID は指定IDのアクティブなルームを取得する。見つからない場合はnilを返す。
func (r *PostgresRoomRepo) FindByID(ctx context.Context, id string) (*model.Room, error) {
	room, err := scanRoom(r.db.QueryRowContext(ctx,
		`SELECT `+roomColumns+` FROM rooms r WHERE r.id = $1 AND r.is_active`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find room by ID: %w", err)
	}
	return room, nil
}

// FindByJoinCode は参加コードでアクティブなプライベートルームを取得する。見つからない場合はnilを返す。
func (r *PostgresRoomRepo) FindByJoinCode(ctx context.Context, code string) (*model.Room, error) {
	room, err := scanRoom(r.db.QueryRowContext(ctx,
		`SELECT `+roomColumns+` FROM rooms r
		 WHERE r.join_code = $1 AND r.type = 'private' AND r.is_active`, code))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find room by join code: %w", err)
	}
	return room, nil
}

// FindPublicByName は名前でパブリックルームを取得する。見つからない場合はnilを返す。
func (r *PostgresRoomRepo) FindPublicByName(ctx context.Context, name string) (*model.Room, error) {
	room, err := scanRoom(r.db.QueryRowContext(ctx,
		`SELECT `+roomColumns+` FROM rooms r WHERE r.name = $1 AND r.type = 'public'`, name))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find public room by name: %w", err)
	}
	return room, nil
}

// ListPublic はアクティブなパブリックルームをメンバー数付きで返す。
func (r *PostgresRoomRepo) ListPublic(ctx context.Context) ([]*model.Room, error) {
	return r.listRooms(ctx,
		`SELECT `+roomColumns+`, (SELECT COUNT(*) FROM room_members m WHERE m.room_id = r.id)
		 FROM rooms r
		 WHERE r.type = 'public' AND r.is_active
		 ORDER BY r.created_at ASC`,
	)
}

// ListPrivateByMember は指定ユーザーがメンバーのプライベートルームを返す。
func (r *PostgresRoomRepo) ListPrivateByMember(ctx context.Context, userID string) ([]*model.Room, error) {
	return r.listRooms(ctx,
		`SELECT `+roomColumns+`, (SELECT COUNT(*) FROM room_members m WHERE m.room_id = r.id)
		 FROM rooms r
		 JOIN room_members me ON me.room_id = r.id AND me.user_id = $1
		 WHERE r.type = 'private' AND r.is_active
		 ORDER BY r.created_at ASC`,
		userID,
	)
}

func (r *PostgresRoomRepo) listRooms(ctx context.Context, query string, args ...any) ([]*model.Room, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	defer rows.Close()

	var rooms []*model.Room
	for rows.Next() {
		var count int
		room, err := scanRoom(rows, &count)
		if err != nil {
			return nil, fmt.Errorf("failed to scan room: %w", err)
		}
		room.MemberCount = count
		rooms = append(rooms, room)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rooms: %w", err)
	}
	return rooms, nil
}

// IsMember は指定ユーザーがルームのメンバーかを返す。
func (r *PostgresRoomRepo) IsMember(ctx context.Context, roomID, userID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM room_members WHERE room_id = $1 AND user_id = $2)`,
		roomID, userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check membership: %w", err)
	}
	return exists, nil
}

// AddMember はメンバーシップを冪等に追加する。新規に追加された場合trueを返す。
func (r *PostgresRoomRepo) AddMember(ctx context.Context, roomID, userID string, role model.MemberRole) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO room_members (room_id, user_id, role, joined_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (room_id, user_id) DO NOTHING`,
		roomID, userID, role,
	)
	if err != nil {
		return false, fmt.Errorf("failed to add member: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// compile-time interface check
var _ RoomRepository = (*PostgresRoomRepo)(nil)
