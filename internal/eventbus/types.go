package eventbus

import "time"

type EventType string

const (
	EventInstanceWarming    EventType = "instance.warming"
	EventInstanceLaunched   EventType = "instance.launched"
	EventInstanceFailed     EventType = "instance.failed"
	EventInstanceStopped    EventType = "instance.stopped"
	EventInstanceNoCapacity EventType = "instance.no_capacity"
)

type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

func SessionChannelKey(sessionID string) string {
	return "session:" + sessionID + ":events"
}
