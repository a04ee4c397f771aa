package ws

import (
	"time"

	"github.com/google/uuid"
)

// ConnInfo describes who is behind a connection; it is attached to ws events.
type ConnInfo struct {
	ConnID      string
	UserID      string
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}

func newConnID() string {
	return uuid.NewString()
}

func (i ConnInfo) eventPayload(event string, extra map[string]interface{}) map[string]interface{} {
	ws := map[string]interface{}{
		"event":       event,
		"conn_id":     i.ConnID,
		"duration_ms": time.Since(i.ConnectedAt).Milliseconds(),
	}
	for k, v := range extra {
		ws[k] = v
	}
	return map[string]interface{}{
		"ws": ws,
		"identity": map[string]interface{}{
			"user_id":   i.UserID,
			"device_id": i.DeviceID,
			"ip":        i.IP,
		},
	}
}
