package realtime

import (
	"encoding/json"
	"time"

	"Gin_postgres_redis_rent_tracker/lifecycle"
	"Gin_postgres_redis_rent_tracker/view"
)

type MessageType string

const (
	TypeEquipmentChanged MessageType = "equipment.changed"
	TypeEquipmentCleared MessageType = "equipment.cleared"
	TypeStorageFailure   MessageType = "storage.failure"
)

// Message is the envelope every push uses.
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   any         `json:"payload"`
}

func NewMessage(t MessageType, payload any) Message {
	return Message{Type: t, Timestamp: time.Now().UTC(), Payload: payload}
}

func (m Message) JSON() ([]byte, error) { return json.Marshal(m) }

type ChangePayload struct {
	Event     lifecycle.Event `json:"event"`
	Dashboard view.Dashboard  `json:"dashboard"`
}

type StorageFailurePayload struct {
	Op    string `json:"op"`
	Key   string `json:"key,omitempty"`
	Error string `json:"error"`
}
