package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"channel-service/internal/models"
)

// ChannelRepository abstracts channel persistence. Implementations enforce
// case-insensitive name uniqueness among non-deleted channels of a project.
type ChannelRepository interface {
	CreateChannel(ctx context.Context, projectID, name, description string) (models.Channel, error)
	GetChannel(ctx context.Context, channelID string) (models.Channel, error)
	ListByProject(ctx context.Context, projectID string) ([]models.Channel, error)
	UpdateChannel(ctx context.Context, channelID, name, description string) (models.Channel, error)
	SoftDeleteChannel(ctx context.Context, channelID string) (models.Channel, error)
	// DeleteChannel removes the channel and every message in it atomically and
	// reports how many messages went with it.
	DeleteChannel(ctx context.Context, channelID string) (models.Channel, int64, error)
}

// ChannelRepo is a sqlx implementation of ChannelRepository.
type ChannelRepo struct {
	db *sqlx.DB
}

// NewChannelRepo constructs a ChannelRepo.
func NewChannelRepo(db *sqlx.DB) *ChannelRepo {
	return &ChannelRepo{db: db}
}

const channelColumns = `id, project_id, name, description, is_deleted, deleted_at, created_at`

// CreateChannel inserts a channel. A name collision surfaces as ErrChannelNameTaken.
func (r *ChannelRepo) CreateChannel(ctx context.Context, projectID, name, description string) (models.Channel, error) {
	var ch models.Channel
	err := r.db.GetContext(ctx, &ch, `INSERT INTO channels (id, project_id, name, description, created_at)
        VALUES ($1, $2, $3, $4, $5) RETURNING `+channelColumns,
		uuid.NewString(), projectID, name, description, time.Now().UTC())
	if pqCode(err) == pqUniqueViolation {
		return models.Channel{}, ErrChannelNameTaken
	}
	if err != nil {
		return models.Channel{}, fmt.Errorf("insert channel: %w", err)
	}
	return ch, nil
}

// GetChannel fetches a non-deleted channel by id.
func (r *ChannelRepo) GetChannel(ctx context.Context, channelID string) (models.Channel, error) {
	var ch models.Channel
	err := r.db.GetContext(ctx, &ch, `SELECT `+channelColumns+` FROM channels WHERE id=$1 AND is_deleted = FALSE`, channelID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Channel{}, ErrChannelNotFound
	}
	return ch, err
}

// ListByProject returns the project's non-deleted channels, oldest first.
func (r *ChannelRepo) ListByProject(ctx context.Context, projectID string) ([]models.Channel, error) {
	channels := []models.Channel{}
	err := r.db.SelectContext(ctx, &channels, `SELECT `+channelColumns+` FROM channels
        WHERE project_id=$1 AND is_deleted = FALSE ORDER BY created_at ASC`, projectID)
	return channels, err
}

// UpdateChannel renames and/or re-describes a channel.
func (r *ChannelRepo) UpdateChannel(ctx context.Context, channelID, name, description string) (models.Channel, error) {
	var ch models.Channel
	err := r.db.GetContext(ctx, &ch, `UPDATE channels SET name=$2, description=$3
        WHERE id=$1 AND is_deleted = FALSE RETURNING `+channelColumns, channelID, name, description)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return models.Channel{}, ErrChannelNotFound
	case pqCode(err) == pqUniqueViolation:
		return models.Channel{}, ErrChannelNameTaken
	case err != nil:
		return models.Channel{}, fmt.Errorf("update channel: %w", err)
	}
	return ch, nil
}

// SoftDeleteChannel flags the channel deleted, freeing its name.
func (r *ChannelRepo) SoftDeleteChannel(ctx context.Context, channelID string) (models.Channel, error) {
	var ch models.Channel
	err := r.db.GetContext(ctx, &ch, `UPDATE channels SET is_deleted = TRUE, deleted_at = $2
        WHERE id=$1 AND is_deleted = FALSE RETURNING `+channelColumns, channelID, time.Now().UTC())
	if errors.Is(err, sql.ErrNoRows) {
		return models.Channel{}, ErrChannelNotFound
	}
	return ch, err
}

// DeleteChannel removes the channel row and its messages in one transaction.
func (r *ChannelRepo) DeleteChannel(ctx context.Context, channelID string) (models.Channel, int64, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Channel{}, 0, fmt.Errorf("begin delete channel: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var ch models.Channel
	err = tx.GetContext(ctx, &ch, `DELETE FROM channels WHERE id=$1 RETURNING `+channelColumns, channelID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Channel{}, 0, ErrChannelNotFound
	}
	if err != nil {
		return models.Channel{}, 0, fmt.Errorf("delete channel: %w", err)
	}
	count, err := deleteRoomMessages(ctx, tx, ch.Room())
	if err != nil {
		return models.Channel{}, 0, fmt.Errorf("delete channel messages: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return models.Channel{}, 0, fmt.Errorf("commit delete channel: %w", err)
	}
	return ch, count, nil
}
