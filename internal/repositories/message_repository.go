package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"channel-service/internal/models"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

// MessageRepository defines interactions for channel and conversation messages.
type MessageRepository interface {
	CreateMessage(ctx context.Context, in models.NewMessage) (models.Message, error)
	GetMessage(ctx context.Context, messageID string) (models.Message, error)
	ListMessages(ctx context.Context, room models.RoomID, limit int, before *Cursor) ([]models.Message, error)
	UpdateContent(ctx context.Context, messageID, content string) (models.Message, error)
	DeleteMessage(ctx context.Context, messageID string) (models.Message, error)
	DeleteByRoom(ctx context.Context, room models.RoomID) (int64, error)

	UpsertReaction(ctx context.Context, messageID, userID, reactionType string) (models.Message, error)
	DeleteReaction(ctx context.Context, messageID, userID string) (models.Message, error)

	AddReadReceipt(ctx context.Context, messageID, userID string) (models.Message, error)
	MarkRoomRead(ctx context.Context, room models.RoomID, userID string, readAt time.Time) (int64, error)
	CountUnread(ctx context.Context, room models.RoomID, userID string) (int, error)
	CountUnreadByChannel(ctx context.Context, channelIDs []string, userID string) (map[string]int, error)
}

// Cursor is a history position. Pages hold messages ordered strictly before
// (CreatedAt, ID); an empty ID means everything created before CreatedAt.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// Precedes reports whether msg belongs to the page ending at the cursor.
func (c Cursor) Precedes(msg models.Message) bool {
	if msg.CreatedAt.Equal(c.CreatedAt) {
		return c.ID != "" && msg.ID < c.ID
	}
	return msg.CreatedAt.Before(c.CreatedAt)
}

// ClampLimit applies the history page defaults.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		return MaxHistoryLimit
	}
	return limit
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

const messageColumns = `id, room_kind, room_id, sender_id, recipients, content, content_type, replied_to,
        client_id, is_edited, edited_at, is_deleted, deleted_at, created_at`

type messageRow struct {
	ID          string         `db:"id"`
	RoomKind    string         `db:"room_kind"`
	RoomID      string         `db:"room_id"`
	SenderID    string         `db:"sender_id"`
	Recipients  pq.StringArray `db:"recipients"`
	Content     string         `db:"content"`
	ContentType string         `db:"content_type"`
	RepliedTo   sql.NullString `db:"replied_to"`
	ClientID    sql.NullString `db:"client_id"`
	IsEdited    bool           `db:"is_edited"`
	EditedAt    *time.Time     `db:"edited_at"`
	IsDeleted   bool           `db:"is_deleted"`
	DeletedAt   *time.Time     `db:"deleted_at"`
	CreatedAt   time.Time      `db:"created_at"`
}

func (row messageRow) toModel() models.Message {
	msg := models.Message{
		ID:          row.ID,
		Room:        models.RoomID{Kind: models.RoomKind(row.RoomKind), ID: row.RoomID},
		Sender:      row.SenderID,
		Recipients:  []string(row.Recipients),
		Content:     row.Content,
		ContentType: row.ContentType,
		ClientID:    row.ClientID.String,
		Reactions:   []models.Reaction{},
		ReadBy:      []models.ReadReceipt{},
		IsEdited:    row.IsEdited,
		EditedAt:    row.EditedAt,
		IsDeleted:   row.IsDeleted,
		DeletedAt:   row.DeletedAt,
		CreatedAt:   row.CreatedAt,
	}
	if msg.Recipients == nil {
		msg.Recipients = []string{}
	}
	if row.RepliedTo.Valid {
		id := row.RepliedTo.String
		msg.RepliedTo = &id
	}
	return msg
}

type reactionRow struct {
	MessageID string `db:"message_id"`
	models.Reaction
}

type receiptRow struct {
	MessageID string `db:"message_id"`
	models.ReadReceipt
}

// CreateMessage stores a message. A repeated (sender, clientId) returns the original row.
func (r *MessageRepo) CreateMessage(ctx context.Context, in models.NewMessage) (models.Message, error) {
	recipients := in.Recipients
	if recipients == nil {
		recipients = []string{}
	}
	clientID := sql.NullString{String: in.ClientID, Valid: in.ClientID != ""}
	var repliedTo sql.NullString
	if in.RepliedTo != nil {
		repliedTo = sql.NullString{String: *in.RepliedTo, Valid: true}
	}

	var row messageRow
	err := r.db.GetContext(ctx, &row, `INSERT INTO messages
        (id, room_kind, room_id, sender_id, recipients, content, content_type, replied_to, client_id, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        ON CONFLICT (sender_id, client_id) WHERE client_id IS NOT NULL DO NOTHING
        RETURNING `+messageColumns,
		uuid.NewString(), string(in.Room.Kind), in.Room.ID, in.Sender, pq.StringArray(recipients),
		in.Content, in.ContentType, repliedTo, clientID, time.Now().UTC())
	if errors.Is(err, sql.ErrNoRows) && clientID.Valid {
		err = r.db.GetContext(ctx, &row, `SELECT `+messageColumns+` FROM messages WHERE sender_id=$1 AND client_id=$2`,
			in.Sender, in.ClientID)
		if err != nil {
			return models.Message{}, fmt.Errorf("load resubmitted message: %w", err)
		}
		return r.GetMessage(ctx, row.ID)
	}
	if err != nil {
		return models.Message{}, fmt.Errorf("insert message: %w", err)
	}
	return row.toModel(), nil
}

// GetMessage retrieves a single message with its reactions and receipts.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID string) (models.Message, error) {
	var row messageRow
	err := r.db.GetContext(ctx, &row, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	if err != nil {
		return models.Message{}, err
	}
	msgs, err := r.hydrate(ctx, []messageRow{row})
	if err != nil {
		return models.Message{}, err
	}
	return msgs[0], nil
}

// ListMessages returns up to limit messages created before the cursor, oldest first.
func (r *MessageRepo) ListMessages(ctx context.Context, room models.RoomID, limit int, before *Cursor) ([]models.Message, error) {
	limit = ClampLimit(limit)
	var rows []messageRow
	var err error
	if before != nil {
		err = r.db.SelectContext(ctx, &rows, `SELECT `+messageColumns+` FROM messages
            WHERE room_kind=$1 AND room_id=$2 AND (created_at, id) < ($3, $4)
            ORDER BY created_at DESC, id DESC LIMIT $5`, string(room.Kind), room.ID, before.CreatedAt, before.ID, limit)
	} else {
		err = r.db.SelectContext(ctx, &rows, `SELECT `+messageColumns+` FROM messages
            WHERE room_kind=$1 AND room_id=$2
            ORDER BY created_at DESC, id DESC LIMIT $3`, string(room.Kind), room.ID, limit)
	}
	if err != nil {
		return nil, err
	}
	// newest-first page, returned newest-last
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return r.hydrate(ctx, rows)
}

// UpdateContent edits a message and flags it as edited.
func (r *MessageRepo) UpdateContent(ctx context.Context, messageID, content string) (models.Message, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET content=$2, is_edited=TRUE, edited_at=$3 WHERE id=$1`,
		messageID, content, time.Now().UTC())
	if err != nil {
		return models.Message{}, err
	}
	if count, err := res.RowsAffected(); err != nil {
		return models.Message{}, err
	} else if count == 0 {
		return models.Message{}, ErrMessageNotFound
	}
	return r.GetMessage(ctx, messageID)
}

// DeleteMessage hard-deletes a message; reactions and receipts cascade.
func (r *MessageRepo) DeleteMessage(ctx context.Context, messageID string) (models.Message, error) {
	msg, err := r.GetMessage(ctx, messageID)
	if err != nil {
		return models.Message{}, err
	}
	res, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE id=$1`, messageID)
	if err != nil {
		return models.Message{}, err
	}
	if count, err := res.RowsAffected(); err != nil {
		return models.Message{}, err
	} else if count == 0 {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, nil
}

// DeleteByRoom removes every message of a room and reports how many went.
func (r *MessageRepo) DeleteByRoom(ctx context.Context, room models.RoomID) (int64, error) {
	return deleteRoomMessages(ctx, r.db, room)
}

func deleteRoomMessages(ctx context.Context, db sqlx.ExecerContext, room models.RoomID) (int64, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM messages WHERE room_kind=$1 AND room_id=$2`, string(room.Kind), room.ID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// UpsertReaction replaces the user's reaction in one statement keyed by (message, user).
func (r *MessageRepo) UpsertReaction(ctx context.Context, messageID, userID, reactionType string) (models.Message, error) {
	_, err := r.db.ExecContext(ctx, `INSERT INTO message_reactions (message_id, user_id, type, created_at)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (message_id, user_id) DO UPDATE SET type = EXCLUDED.type, created_at = EXCLUDED.created_at`,
		messageID, userID, reactionType, time.Now().UTC())
	if pqCode(err) == pqForeignKeyViolation {
		return models.Message{}, ErrMessageNotFound
	}
	if err != nil {
		return models.Message{}, fmt.Errorf("upsert reaction: %w", err)
	}
	return r.GetMessage(ctx, messageID)
}

// DeleteReaction removes the user's reaction.
func (r *MessageRepo) DeleteReaction(ctx context.Context, messageID, userID string) (models.Message, error) {
	if _, err := r.GetMessage(ctx, messageID); err != nil {
		return models.Message{}, err
	}
	res, err := r.db.ExecContext(ctx, `DELETE FROM message_reactions WHERE message_id=$1 AND user_id=$2`, messageID, userID)
	if err != nil {
		return models.Message{}, err
	}
	if count, err := res.RowsAffected(); err != nil {
		return models.Message{}, err
	} else if count == 0 {
		return models.Message{}, ErrReactionNotFound
	}
	return r.GetMessage(ctx, messageID)
}

// AddReadReceipt records a receipt unless the user already has one.
func (r *MessageRepo) AddReadReceipt(ctx context.Context, messageID, userID string) (models.Message, error) {
	_, err := r.db.ExecContext(ctx, `INSERT INTO message_reads (message_id, user_id, read_at) VALUES ($1, $2, $3)
        ON CONFLICT (message_id, user_id) DO NOTHING`, messageID, userID, time.Now().UTC())
	if pqCode(err) == pqForeignKeyViolation {
		return models.Message{}, ErrMessageNotFound
	}
	if err != nil {
		return models.Message{}, fmt.Errorf("insert read receipt: %w", err)
	}
	return r.GetMessage(ctx, messageID)
}

// MarkRoomRead adds one receipt, stamped readAt, to every message of the room the user
// has not read yet. It is a single statement, so it sees one snapshot of the room.
func (r *MessageRepo) MarkRoomRead(ctx context.Context, room models.RoomID, userID string, readAt time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `INSERT INTO message_reads (message_id, user_id, read_at)
        SELECT m.id, $3, $4 FROM messages m
        WHERE m.room_kind=$1 AND m.room_id=$2
        AND NOT EXISTS (SELECT 1 FROM message_reads mr WHERE mr.message_id = m.id AND mr.user_id = $3)
        ON CONFLICT (message_id, user_id) DO NOTHING`, string(room.Kind), room.ID, userID, readAt)
	if err != nil {
		return 0, fmt.Errorf("mark room read: %w", err)
	}
	return res.RowsAffected()
}

// CountUnread counts messages by others the user has no receipt for.
func (r *MessageRepo) CountUnread(ctx context.Context, room models.RoomID, userID string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM messages m
        WHERE m.room_kind=$1 AND m.room_id=$2 AND m.sender_id <> $3
        AND NOT EXISTS (SELECT 1 FROM message_reads mr WHERE mr.message_id = m.id AND mr.user_id = $3)`,
		string(room.Kind), room.ID, userID)
	return count, err
}

// CountUnreadByChannel returns unread counts keyed by channel id. Channels with
// nothing unread are present with a zero count.
func (r *MessageRepo) CountUnreadByChannel(ctx context.Context, channelIDs []string, userID string) (map[string]int, error) {
	counts := make(map[string]int, len(channelIDs))
	if len(channelIDs) == 0 {
		return counts, nil
	}
	for _, id := range channelIDs {
		counts[id] = 0
	}
	query, args, err := sqlx.In(`SELECT m.room_id, COUNT(*) FROM messages m
        WHERE m.room_kind = ? AND m.room_id IN (?) AND m.sender_id <> ?
        AND NOT EXISTS (SELECT 1 FROM message_reads mr WHERE mr.message_id = m.id AND mr.user_id = ?)
        GROUP BY m.room_id`, string(models.RoomChannel), channelIDs, userID, userID)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryxContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		var count int
		if err := rows.Scan(&id, &count); err != nil {
			return nil, err
		}
		counts[id] = count
	}
	return counts, rows.Err()
}

func (r *MessageRepo) hydrate(ctx context.Context, rows []messageRow) ([]models.Message, error) {
	msgs := make([]models.Message, 0, len(rows))
	if len(rows) == 0 {
		return msgs, nil
	}
	ids := make([]string, 0, len(rows))
	index := make(map[string]int, len(rows))
	for i, row := range rows {
		msgs = append(msgs, row.toModel())
		ids = append(ids, row.ID)
		index[row.ID] = i
	}

	query, args, err := sqlx.In(`SELECT message_id, user_id, type, created_at FROM message_reactions
        WHERE message_id IN (?) ORDER BY created_at ASC`, ids)
	if err != nil {
		return nil, err
	}
	var reactions []reactionRow
	if err := r.db.SelectContext(ctx, &reactions, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("load reactions: %w", err)
	}
	for _, rr := range reactions {
		i := index[rr.MessageID]
		msgs[i].Reactions = append(msgs[i].Reactions, rr.Reaction)
	}

	query, args, err = sqlx.In(`SELECT message_id, user_id, read_at FROM message_reads
        WHERE message_id IN (?) ORDER BY read_at ASC`, ids)
	if err != nil {
		return nil, err
	}
	var receipts []receiptRow
	if err := r.db.SelectContext(ctx, &receipts, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("load read receipts: %w", err)
	}
	for _, rr := range receipts {
		i := index[rr.MessageID]
		msgs[i].ReadBy = append(msgs[i].ReadBy, rr.ReadReceipt)
	}
	return msgs, nil
}
