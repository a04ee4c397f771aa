package services

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"channel-service/internal/models"
	"channel-service/internal/observability"
	"channel-service/internal/repositories"
)

const (
	MaxChannelNameLength = 50
	protectedChannelName = "general"
)

// DeletedChannel is the outcome of a hard channel delete.
type DeletedChannel struct {
	Channel         models.Channel `json:"channel"`
	DeletedMessages int64          `json:"deletedMessages"`
}

// ChannelDirectory manages channels within projects.
type ChannelDirectory struct {
	channels repositories.ChannelRepository
}

// NewChannelDirectory builds a ChannelDirectory.
func NewChannelDirectory(channels repositories.ChannelRepository) *ChannelDirectory {
	return &ChannelDirectory{channels: channels}
}

func normalizeChannelName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", invalid("name", "channel name is required")
	}
	if utf8.RuneCountInString(name) > MaxChannelNameLength {
		return "", invalid("name", fmt.Sprintf("channel name must be at most %d characters", MaxChannelNameLength))
	}
	return name, nil
}

// IsProtected reports whether the channel may never be deleted.
func IsProtected(ch models.Channel) bool {
	return strings.EqualFold(strings.TrimSpace(ch.Name), protectedChannelName)
}

// Create adds a channel to a project.
func (d *ChannelDirectory) Create(ctx context.Context, projectID, name, description string) (models.Channel, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return models.Channel{}, invalid("projectId", "project id is required")
	}
	name, err := normalizeChannelName(name)
	if err != nil {
		return models.Channel{}, err
	}
	ch, err := d.channels.CreateChannel(ctx, projectID, name, strings.TrimSpace(description))
	if err != nil {
		return models.Channel{}, err
	}
	observability.IncChannelOp("create")
	emitDomainEvent(ctx, "channel_created", ch)
	return ch, nil
}

// Get returns a live channel.
func (d *ChannelDirectory) Get(ctx context.Context, channelID string) (models.Channel, error) {
	return d.channels.GetChannel(ctx, channelID)
}

// ListByProject returns the project's live channels, oldest first.
func (d *ChannelDirectory) ListByProject(ctx context.Context, projectID string) ([]models.Channel, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, invalid("projectId", "project id is required")
	}
	return d.channels.ListByProject(ctx, projectID)
}

// Update changes name and/or description. Nil fields are left untouched.
func (d *ChannelDirectory) Update(ctx context.Context, channelID string, name, description *string) (models.Channel, error) {
	current, err := d.channels.GetChannel(ctx, channelID)
	if err != nil {
		return models.Channel{}, err
	}
	newName, newDesc := current.Name, current.Description
	if name != nil {
		if newName, err = normalizeChannelName(*name); err != nil {
			return models.Channel{}, err
		}
	}
	if description != nil {
		newDesc = strings.TrimSpace(*description)
	}
	ch, err := d.channels.UpdateChannel(ctx, channelID, newName, newDesc)
	if err != nil {
		return models.Channel{}, err
	}
	observability.IncChannelOp("update")
	emitDomainEvent(ctx, "channel_updated", ch)
	return ch, nil
}

// Delete removes the channel and every message in it.
func (d *ChannelDirectory) Delete(ctx context.Context, channelID string) (DeletedChannel, error) {
	ch, err := d.channels.GetChannel(ctx, channelID)
	if err != nil {
		return DeletedChannel{}, err
	}
	if IsProtected(ch) {
		return DeletedChannel{}, ErrProtectedChannel
	}
	deleted, count, err := d.channels.DeleteChannel(ctx, channelID)
	if err != nil {
		return DeletedChannel{}, err
	}
	observability.IncChannelOp("delete")
	out := DeletedChannel{Channel: deleted, DeletedMessages: count}
	emitDomainEvent(ctx, "channel_deleted", out)
	return out, nil
}

// Archive soft-deletes the channel. Its messages are kept.
func (d *ChannelDirectory) Archive(ctx context.Context, channelID string) (models.Channel, error) {
	ch, err := d.channels.GetChannel(ctx, channelID)
	if err != nil {
		return models.Channel{}, err
	}
	if IsProtected(ch) {
		return models.Channel{}, ErrProtectedChannel
	}
	archived, err := d.channels.SoftDeleteChannel(ctx, channelID)
	if err != nil {
		return models.Channel{}, err
	}
	observability.IncChannelOp("archive")
	emitDomainEvent(ctx, "channel_archived", archived)
	return archived, nil
}
