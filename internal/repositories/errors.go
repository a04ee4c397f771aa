package repositories

import (
	"errors"

	"github.com/lib/pq"
)

var (
	ErrMessageNotFound  = errors.New("message not found")
	ErrChannelNotFound  = errors.New("channel not found")
	ErrReactionNotFound = errors.New("reaction not found")
	ErrChannelNameTaken = errors.New("channel name already exists in project")
)

const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

func pqCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}
