package models

import "time"

// Channel is a named sub-room of a project.
type Channel struct {
	ID          string     `db:"id" json:"id"`
	ProjectID   string     `db:"project_id" json:"projectId"`
	Name        string     `db:"name" json:"name"`
	Description string     `db:"description" json:"description"`
	IsDeleted   bool       `db:"is_deleted" json:"isDeleted"`
	DeletedAt   *time.Time `db:"deleted_at" json:"deletedAt,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"createdAt"`
}

// Room returns the broker room of the channel.
func (c Channel) Room() RoomID {
	return ChannelRoom(c.ID)
}
