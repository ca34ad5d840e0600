package repository

import (
	"context"
	"database/sql"
	"fmt"
	"slices"

	"github.com/hitoshi/chatroom/internal/model"
)

// PostgresMessageRepo はPostgreSQLを使用したメッセージリポジトリ。
type PostgresMessageRepo struct {
	db *sql.DB
}

// NewPostgresMessageRepo はPostgresMessageRepoを生成する。
func NewPostgresMessageRepo(db *sql.DB) *PostgresMessageRepo {
	return &PostgresMessageRepo{db: db}
}

// Create はメッセージを保存する。
func (r *PostgresMessageRepo) Create(ctx context.Context, msg *model.Message) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO messages (id, room_id, sender_id, content, message_type, edited, deleted, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		msg.ID, msg.RoomID, msg.SenderID, msg.Content, msg.Type, msg.Edited, msg.Deleted, msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

// ListByRoom はルームの削除されていないメッセージを時系列順で返す。
// 新しい順にoffset件スキップしてlimit件取得したページを古い順に並べ替える。
func (r *PostgresMessageRepo) ListByRoom(ctx context.Context, roomID string, offset, limit int) ([]model.MessageWithSender, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT m.id, m.room_id, m.sender_id, m.content, m.message_type, m.edited, m.deleted, m.created_at,
		        u.id, u.username, u.display_name
		 FROM messages m
		 LEFT JOIN users u ON u.id = m.sender_id
		 WHERE m.room_id = $1 AND NOT m.deleted
		 ORDER BY m.created_at DESC, m.seq DESC
		 OFFSET $2 LIMIT $3`,
		roomID, offset, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var messages []model.MessageWithSender
	for rows.Next() {
		var m model.MessageWithSender
		var senderID, username, displayName sql.NullString
		if err := rows.Scan(&m.ID, &m.RoomID, &m.SenderID, &m.Content, &m.Type, &m.Edited, &m.Deleted, &m.CreatedAt,
			&senderID, &username, &displayName); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		if senderID.Valid {
			m.Sender = &model.UserSummary{
				ID:          senderID.String,
				Username:    username.String,
				DisplayName: displayName.String,
			}
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}

	slices.Reverse(messages)
	return messages, nil
}

// compile-time interface check
var _ MessageRepository = (*PostgresMessageRepo)(nil)
