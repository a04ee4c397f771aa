// Package reconcile merges locally sent messages with the messages the server
// confirms, for one room at a time.
package reconcile

import (
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"channel-service/internal/models"
)

const tempIDPrefix = "tmp-"

// clockSkew is how far a server createdAt may trail the local send time and still
// count as the echo of a placeholder matched by content.
const clockSkew = 5 * time.Second

var ErrPlaceholderNotFound = errors.New("placeholder not found")

// State of a timeline entry.
type State string

const (
	StateConfirmed State = "confirmed"
	StatePending   State = "pending"
	StateFailed    State = "failed"
)

// Entry is one row of the timeline. Placeholders carry a TempID and an empty
// server id until they are retired.
type Entry struct {
	models.Message
	TempID string
	State  State
	SentAt time.Time
	Error  string
}

// IsPlaceholder reports whether the entry has not been confirmed yet.
func (e Entry) IsPlaceholder() bool {
	return e.State != StateConfirmed
}

// Outcome tells the caller what Receive did with a message.
type Outcome int

const (
	Ignored Outcome = iota
	Inserted
	Replaced
	Duplicate
)

func (o Outcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case Replaced:
		return "replaced"
	case Duplicate:
		return "duplicate"
	default:
		return "ignored"
	}
}

// Timeline is the ordered message list of one room as a client renders it.
// It is safe for concurrent use.
type Timeline struct {
	mu        sync.Mutex
	room      models.RoomID
	entries   []Entry
	confirmed map[string]struct{}
	now       func() time.Time
}

// NewTimeline returns an empty timeline for room.
func NewTimeline(room models.RoomID) *Timeline {
	return &Timeline{
		room:      room,
		confirmed: make(map[string]struct{}),
		now:       time.Now,
	}
}

// Room returns the room the timeline tracks.
func (t *Timeline) Room() models.RoomID {
	return t.room
}

// AddPending appends a placeholder for a message that has just been sent. A second
// call with a clientId that is already in flight returns the existing placeholder.
func (t *Timeline) AddPending(msg models.Message) Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	if msg.ClientID != "" {
		for _, e := range t.entries {
			if e.IsPlaceholder() && e.ClientID == msg.ClientID {
				return e
			}
		}
	}

	now := t.now()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	msg.Room = t.room
	msg.ID = ""
	if msg.ContentType == "" {
		msg.ContentType = models.DefaultContentType
	}
	entry := Entry{
		Message: msg,
		TempID:  tempIDPrefix + uuid.NewString(),
		State:   StatePending,
		SentAt:  now,
	}
	t.insertLocked(entry)
	return entry
}

// Receive folds an authoritative message into the timeline. A matching
// placeholder is replaced, a known id is discarded and anything else is inserted
// in createdAt order.
func (t *Timeline) Receive(msg models.Message) Outcome {
	if msg.ID == "" || msg.Room != t.room {
		return Ignored
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.receiveLocked(msg)
}

func (t *Timeline) receiveLocked(msg models.Message) Outcome {
	if _, ok := t.confirmed[msg.ID]; ok {
		// An idempotent resubmit echoes the original message; the retried
		// placeholder must still go.
		if i := t.placeholderByClientIDLocked(msg); i >= 0 {
			t.removeLocked(i)
		}
		return Duplicate
	}

	outcome := Inserted
	if i := t.matchPlaceholderLocked(msg); i >= 0 {
		t.removeLocked(i)
		outcome = Replaced
	}
	t.insertLocked(Entry{Message: msg, State: StateConfirmed})
	t.confirmed[msg.ID] = struct{}{}
	return outcome
}

// Merge folds a history page through the same rules as Receive and returns how
// many messages were new to the timeline.
func (t *Timeline) Merge(history []models.Message) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	added := 0
	for _, msg := range history {
		if msg.ID == "" || msg.Room != t.room {
			continue
		}
		switch t.receiveLocked(msg) {
		case Inserted, Replaced:
			added++
		}
	}
	return added
}

// Update replaces a confirmed message in place. Unknown ids are ignored.
func (t *Timeline) Update(msg models.Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.entries {
		if t.entries[i].State == StateConfirmed && t.entries[i].ID == msg.ID {
			t.entries[i].Message = msg
			return true
		}
	}
	return false
}

// Remove drops a confirmed message.
func (t *Timeline) Remove(messageID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.entries {
		if t.entries[i].State == StateConfirmed && t.entries[i].ID == messageID {
			t.removeLocked(i)
			delete(t.confirmed, messageID)
			return true
		}
	}
	return false
}

// MarkRead adds a receipt for user to a confirmed message.
func (t *Timeline) MarkRead(messageID, user string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.entries {
		e := &t.entries[i]
		if e.State != StateConfirmed || e.ID != messageID {
			continue
		}
		if e.ReadBySet(user) {
			return false
		}
		e.ReadBy = append(e.ReadBy, models.ReadReceipt{User: user, ReadAt: t.now()})
		return true
	}
	return false
}

// MarkRoomRead adds a receipt for user to every confirmed message sent by others.
func (t *Timeline) MarkRoomRead(user string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	now := t.now()
	for i := range t.entries {
		e := &t.entries[i]
		if e.State == StateConfirmed && e.UnreadFor(user) {
			e.ReadBy = append(e.ReadBy, models.ReadReceipt{User: user, ReadAt: now})
			n++
		}
	}
	return n
}

// Fail flags the in-flight placeholder with clientID as failed.
func (t *Timeline) Fail(clientID, reason string) bool {
	if clientID == "" {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.entries {
		e := &t.entries[i]
		if e.State == StatePending && e.ClientID == clientID {
			e.State = StateFailed
			e.Error = reason
			return true
		}
	}
	return false
}

// ExpirePending flags every placeholder sent at least after ago as failed and
// returns them. Nothing is resent.
func (t *Timeline) ExpirePending(now time.Time, after time.Duration) []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	var expired []Entry
	for i := range t.entries {
		e := &t.entries[i]
		if e.State == StatePending && now.Sub(e.SentAt) >= after {
			e.State = StateFailed
			e.Error = "no confirmation from server"
			expired = append(expired, *e)
		}
	}
	return expired
}

// Retry re-arms a placeholder so the caller can send it again with the same
// clientId.
func (t *Timeline) Retry(tempID string) (Entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.entries {
		e := &t.entries[i]
		if e.TempID != tempID || !e.IsPlaceholder() {
			continue
		}
		e.State = StatePending
		e.SentAt = t.now()
		e.Error = ""
		return *e, nil
	}
	return Entry{}, ErrPlaceholderNotFound
}

// Entries returns a copy of the timeline in display order.
func (t *Timeline) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Pending returns the placeholders that are still waiting or have failed.
func (t *Timeline) Pending() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Entry
	for _, e := range t.entries {
		if e.IsPlaceholder() {
			out = append(out, e)
		}
	}
	return out
}

// Apply routes a socket event to the matching timeline operation. Events for
// other rooms and events the timeline does not track are ignored.
func (t *Timeline) Apply(env models.Envelope) error {
	switch env.Event {
	case models.EventReceiveMessage:
		var msg models.Message
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			return err
		}
		t.Receive(msg)
	case models.EventMessageUpdated, models.EventReactionUpdated:
		var msg models.Message
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			return err
		}
		if msg.Room == t.room {
			t.Update(msg)
		}
	case models.EventMessageDeleted:
		var p models.MessageDeletedPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return err
		}
		if p.ChannelID == t.room.String() {
			t.Remove(p.MessageID)
		}
	case models.EventMessageRead:
		var p models.MessageReadPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return err
		}
		if p.ChannelID == t.room.String() {
			t.MarkRead(p.MessageID, p.UserID)
		}
	case models.EventChannelMarkedRead:
		var p models.ChannelReadPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return err
		}
		if p.ChannelID == t.room.String() {
			t.MarkRoomRead(p.UserID)
		}
	case models.EventMessageError:
		var p models.ErrorPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return err
		}
		t.Fail(p.ClientID, p.Error)
	}
	return nil
}

func (t *Timeline) placeholderByClientIDLocked(msg models.Message) int {
	if msg.ClientID == "" {
		return -1
	}
	for i, e := range t.entries {
		if e.IsPlaceholder() && e.ClientID == msg.ClientID && e.Sender == msg.Sender {
			return i
		}
	}
	return -1
}

// matchPlaceholderLocked finds the oldest placeholder for msg. An exact clientId
// match wins; content equality is only used when one side has no clientId and
// msg was created while the placeholder was in flight.
func (t *Timeline) matchPlaceholderLocked(msg models.Message) int {
	if i := t.placeholderByClientIDLocked(msg); i >= 0 {
		return i
	}
	for i, e := range t.entries {
		if !e.IsPlaceholder() {
			continue
		}
		if e.ClientID != "" && msg.ClientID != "" {
			continue
		}
		if !msg.CreatedAt.IsZero() && msg.CreatedAt.Before(e.SentAt.Add(-clockSkew)) {
			continue
		}
		if e.Sender == msg.Sender && e.Content == msg.Content && e.Room == msg.Room {
			return i
		}
	}
	return -1
}

func (t *Timeline) insertLocked(e Entry) {
	i := sort.Search(len(t.entries), func(i int) bool {
		return t.entries[i].CreatedAt.After(e.CreatedAt)
	})
	t.entries = append(t.entries, Entry{})
	copy(t.entries[i+1:], t.entries[i:])
	t.entries[i] = e
}

func (t *Timeline) removeLocked(i int) {
	t.entries = append(t.entries[:i], t.entries[i+1:]...)
}
