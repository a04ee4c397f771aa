package reconcile

import (
	"encoding/json"
	"sync"

	"channel-service/internal/models"
)

type channelUnread struct {
	// seeded counts messages we only know about through a server snapshot.
	seeded int
	ids    map[string]struct{}
}

func (c *channelUnread) total() int {
	return c.seeded + len(c.ids)
}

// UnreadCounter keeps one user's unread badges current from socket events.
// Seed it from GET /projects/:projectId/unread and refresh it the same way after
// a reconnect.
type UnreadCounter struct {
	mu       sync.Mutex
	user     string
	channels map[string]*channelUnread
}

// NewUnreadCounter returns a counter for user.
func NewUnreadCounter(user string) *UnreadCounter {
	return &UnreadCounter{user: user, channels: make(map[string]*channelUnread)}
}

func (u *UnreadCounter) channelLocked(channelID string) *channelUnread {
	c, ok := u.channels[channelID]
	if !ok {
		c = &channelUnread{ids: make(map[string]struct{})}
		u.channels[channelID] = c
	}
	return c
}

// Seed replaces the counts with a server snapshot. Seeded counts carry no
// message ids, so messageRead never lowers them; they drop only on
// channelMarkedAsRead, a messagesReadUpdate from the same user, or the next Seed.
func (u *UnreadCounter) Seed(counts map[string]int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.channels = make(map[string]*channelUnread, len(counts))
	for id, n := range counts {
		c := u.channelLocked(id)
		if n > 0 {
			c.seeded = n
		}
	}
}

// Count returns the unread count of one channel.
func (u *UnreadCounter) Count(channelID string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	if c, ok := u.channels[channelID]; ok {
		return c.total()
	}
	return 0
}

// Snapshot returns every channel's count.
func (u *UnreadCounter) Snapshot() map[string]int {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make(map[string]int, len(u.channels))
	for id, c := range u.channels {
		out[id] = c.total()
	}
	return out
}

// Total sums all channels.
func (u *UnreadCounter) Total() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	n := 0
	for _, c := range u.channels {
		n += c.total()
	}
	return n
}

// Observe counts an incoming message. Own messages and messages already read by
// the user do not count.
func (u *UnreadCounter) Observe(msg models.Message) {
	if msg.ID == "" || !msg.UnreadFor(u.user) {
		return
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.channelLocked(msg.Room.String()).ids[msg.ID] = struct{}{}
}

// Read forgets one message. Ids that were never observed leave the count alone
// since the server repeats messageRead for messages that were already read.
func (u *UnreadCounter) Read(channelID, messageID string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if c, ok := u.channels[channelID]; ok {
		delete(c.ids, messageID)
	}
}

// Clear zeroes a channel.
func (u *UnreadCounter) Clear(channelID string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	delete(u.channels, channelID)
}

// Apply updates the counter from a socket event.
func (u *UnreadCounter) Apply(env models.Envelope) error {
	switch env.Event {
	case models.EventReceiveMessage:
		var msg models.Message
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			return err
		}
		u.Observe(msg)
	case models.EventMessageDeleted:
		var p models.MessageDeletedPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return err
		}
		u.Read(p.ChannelID, p.MessageID)
	case models.EventMessageRead:
		var p models.MessageReadPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return err
		}
		if p.UserID == u.user {
			u.Read(p.ChannelID, p.MessageID)
		}
	case models.EventChannelMarkedRead:
		var p models.ChannelReadPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return err
		}
		if p.UserID == u.user {
			u.Clear(p.ChannelID)
		}
	case models.EventMessagesReadUpdate:
		// Another session of the same user caught up on the channel.
		var p models.MessagesReadPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return err
		}
		if p.UserID == u.user {
			u.Clear(p.ChannelID)
		}
	}
	return nil
}
