// Package memory keeps channels and messages in process memory. It backs
// STORE_DRIVER=memory and the invariant tests; every mutation runs in one
// critical section so it gives the same atomicity as the Postgres statements.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"channel-service/internal/models"
	"channel-service/internal/repositories"
)

var (
	_ repositories.ChannelRepository = (*Store)(nil)
	_ repositories.MessageRepository = (*Store)(nil)
)

// Store is an in-memory channel and message store.
type Store struct {
	mu       sync.RWMutex
	channels map[string]*models.Channel
	messages map[string]*models.Message
	// room -> message ids in insertion order
	rooms map[models.RoomID][]string
	// sender + "\x00" + clientId -> message id
	clientIDs map[string]string
	now       func() time.Time
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		channels:  make(map[string]*models.Channel),
		messages:  make(map[string]*models.Message),
		rooms:     make(map[models.RoomID][]string),
		clientIDs: make(map[string]string),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source; used by tests that need distinct timestamps.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) nameTakenLocked(projectID, name, exceptID string) bool {
	for _, ch := range s.channels {
		if ch.ProjectID == projectID && !ch.IsDeleted && ch.ID != exceptID && strings.EqualFold(ch.Name, name) {
			return true
		}
	}
	return false
}

func (s *Store) CreateChannel(_ context.Context, projectID, name, description string) (models.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nameTakenLocked(projectID, name, "") {
		return models.Channel{}, repositories.ErrChannelNameTaken
	}
	ch := &models.Channel{
		ID:          uuid.NewString(),
		ProjectID:   projectID,
		Name:        name,
		Description: description,
		CreatedAt:   s.now(),
	}
	s.channels[ch.ID] = ch
	return *ch, nil
}

func (s *Store) GetChannel(_ context.Context, channelID string) (models.Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ch, ok := s.channels[channelID]
	if !ok || ch.IsDeleted {
		return models.Channel{}, repositories.ErrChannelNotFound
	}
	return *ch, nil
}

func (s *Store) ListByProject(_ context.Context, projectID string) ([]models.Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []models.Channel{}
	for _, ch := range s.channels {
		if ch.ProjectID == projectID && !ch.IsDeleted {
			out = append(out, *ch)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) UpdateChannel(_ context.Context, channelID, name, description string) (models.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[channelID]
	if !ok || ch.IsDeleted {
		return models.Channel{}, repositories.ErrChannelNotFound
	}
	if s.nameTakenLocked(ch.ProjectID, name, ch.ID) {
		return models.Channel{}, repositories.ErrChannelNameTaken
	}
	ch.Name = name
	ch.Description = description
	return *ch, nil
}

func (s *Store) SoftDeleteChannel(_ context.Context, channelID string) (models.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[channelID]
	if !ok || ch.IsDeleted {
		return models.Channel{}, repositories.ErrChannelNotFound
	}
	now := s.now()
	ch.IsDeleted = true
	ch.DeletedAt = &now
	return *ch, nil
}

func (s *Store) DeleteChannel(_ context.Context, channelID string) (models.Channel, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[channelID]
	if !ok {
		return models.Channel{}, 0, repositories.ErrChannelNotFound
	}
	delete(s.channels, channelID)
	return *ch, s.deleteRoomLocked(ch.Room()), nil
}

func clientKey(sender, clientID string) string {
	return sender + "\x00" + clientID
}

func (s *Store) CreateMessage(_ context.Context, in models.NewMessage) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if in.ClientID != "" {
		if id, ok := s.clientIDs[clientKey(in.Sender, in.ClientID)]; ok {
			if msg, ok := s.messages[id]; ok {
				return clone(msg), nil
			}
		}
	}
	recipients := append([]string{}, in.Recipients...)
	var repliedTo *string
	if in.RepliedTo != nil {
		id := *in.RepliedTo
		repliedTo = &id
	}
	msg := &models.Message{
		ID:          uuid.NewString(),
		Room:        in.Room,
		Sender:      in.Sender,
		Recipients:  recipients,
		Content:     in.Content,
		ContentType: in.ContentType,
		RepliedTo:   repliedTo,
		ClientID:    in.ClientID,
		Reactions:   []models.Reaction{},
		ReadBy:      []models.ReadReceipt{},
		CreatedAt:   s.now(),
	}
	s.messages[msg.ID] = msg
	s.rooms[in.Room] = append(s.rooms[in.Room], msg.ID)
	if in.ClientID != "" {
		s.clientIDs[clientKey(in.Sender, in.ClientID)] = msg.ID
	}
	return clone(msg), nil
}

func (s *Store) GetMessage(_ context.Context, messageID string) (models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.messages[messageID]
	if !ok {
		return models.Message{}, repositories.ErrMessageNotFound
	}
	return clone(msg), nil
}

func (s *Store) ListMessages(_ context.Context, room models.RoomID, limit int, before *repositories.Cursor) ([]models.Message, error) {
	limit = repositories.ClampLimit(limit)
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := make([]*models.Message, 0, len(s.rooms[room]))
	for _, id := range s.rooms[room] {
		msg := s.messages[id]
		if before != nil && !before.Precedes(*msg) {
			continue
		}
		all = append(all, msg)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	out := make([]models.Message, 0, len(all))
	for _, msg := range all {
		out = append(out, clone(msg))
	}
	return out, nil
}

func (s *Store) UpdateContent(_ context.Context, messageID, content string) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[messageID]
	if !ok {
		return models.Message{}, repositories.ErrMessageNotFound
	}
	now := s.now()
	msg.Content = content
	msg.IsEdited = true
	msg.EditedAt = &now
	return clone(msg), nil
}

func (s *Store) DeleteMessage(_ context.Context, messageID string) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[messageID]
	if !ok {
		return models.Message{}, repositories.ErrMessageNotFound
	}
	s.removeLocked(msg)
	ids := s.rooms[msg.Room]
	for i, id := range ids {
		if id == messageID {
			s.rooms[msg.Room] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	return clone(msg), nil
}

func (s *Store) removeLocked(msg *models.Message) {
	delete(s.messages, msg.ID)
	if msg.ClientID != "" {
		delete(s.clientIDs, clientKey(msg.Sender, msg.ClientID))
	}
}

func (s *Store) DeleteByRoom(_ context.Context, room models.RoomID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteRoomLocked(room), nil
}

func (s *Store) deleteRoomLocked(room models.RoomID) int64 {
	ids := s.rooms[room]
	for _, id := range ids {
		if msg, ok := s.messages[id]; ok {
			s.removeLocked(msg)
		}
	}
	delete(s.rooms, room)
	return int64(len(ids))
}

func (s *Store) UpsertReaction(_ context.Context, messageID, userID, reactionType string) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[messageID]
	if !ok {
		return models.Message{}, repositories.ErrMessageNotFound
	}
	reaction := models.Reaction{User: userID, Type: reactionType, CreatedAt: s.now()}
	replaced := false
	for i := range msg.Reactions {
		if msg.Reactions[i].User == userID {
			msg.Reactions[i] = reaction
			replaced = true
			break
		}
	}
	if !replaced {
		msg.Reactions = append(msg.Reactions, reaction)
	}
	return clone(msg), nil
}

func (s *Store) DeleteReaction(_ context.Context, messageID, userID string) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[messageID]
	if !ok {
		return models.Message{}, repositories.ErrMessageNotFound
	}
	for i := range msg.Reactions {
		if msg.Reactions[i].User == userID {
			msg.Reactions = append(msg.Reactions[:i:i], msg.Reactions[i+1:]...)
			return clone(msg), nil
		}
	}
	return models.Message{}, repositories.ErrReactionNotFound
}

func (s *Store) AddReadReceipt(_ context.Context, messageID, userID string) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[messageID]
	if !ok {
		return models.Message{}, repositories.ErrMessageNotFound
	}
	if !msg.ReadBySet(userID) {
		msg.ReadBy = append(msg.ReadBy, models.ReadReceipt{User: userID, ReadAt: s.now()})
	}
	return clone(msg), nil
}

func (s *Store) MarkRoomRead(_ context.Context, room models.RoomID, userID string, readAt time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, id := range s.rooms[room] {
		msg := s.messages[id]
		if msg.ReadBySet(userID) {
			continue
		}
		msg.ReadBy = append(msg.ReadBy, models.ReadReceipt{User: userID, ReadAt: readAt})
		count++
	}
	return count, nil
}

func (s *Store) CountUnread(_ context.Context, room models.RoomID, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countUnreadLocked(room, userID), nil
}

func (s *Store) countUnreadLocked(room models.RoomID, userID string) int {
	count := 0
	for _, id := range s.rooms[room] {
		if s.messages[id].UnreadFor(userID) {
			count++
		}
	}
	return count
}

func (s *Store) CountUnreadByChannel(_ context.Context, channelIDs []string, userID string) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[string]int, len(channelIDs))
	for _, id := range channelIDs {
		counts[id] = s.countUnreadLocked(models.ChannelRoom(id), userID)
	}
	return counts, nil
}

func clone(msg *models.Message) models.Message {
	out := *msg
	out.Recipients = append([]string{}, msg.Recipients...)
	out.Reactions = append([]models.Reaction{}, msg.Reactions...)
	out.ReadBy = append([]models.ReadReceipt{}, msg.ReadBy...)
	if msg.RepliedTo != nil {
		id := *msg.RepliedTo
		out.RepliedTo = &id
	}
	return out
}
