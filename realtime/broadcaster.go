package realtime

import (
	"github.com/asaskevich/EventBus"
	"go.uber.org/zap"

	"Gin_postgres_redis_rent_tracker/lifecycle"
	"Gin_postgres_redis_rent_tracker/models"
	"Gin_postgres_redis_rent_tracker/persist"
	"Gin_postgres_redis_rent_tracker/view"
)

// TopicStorageFailure carries *persist.StorageError values from the saver.
const TopicStorageFailure = "storage:failure"

// Snapshotter is the read side of the equipment store.
type Snapshotter interface {
	All() []models.Equipment
}

// Broadcaster turns bus events into hub messages with a recomputed dashboard.
type Broadcaster struct {
	hub *Hub
	src Snapshotter
}

func NewBroadcaster(hub *Hub, src Snapshotter) *Broadcaster {
	return &Broadcaster{hub: hub, src: src}
}

// Attach subscribes to the engine and saver topics. Handlers run off the
// publisher's goroutine, one at a time per topic.
func (b *Broadcaster) Attach(bus EventBus.Bus) error {
	if err := bus.SubscribeAsync(lifecycle.TopicChanged, b.onChanged, true); err != nil {
		return err
	}
	if err := bus.SubscribeAsync(lifecycle.TopicCleared, b.onCleared, true); err != nil {
		return err
	}
	return bus.SubscribeAsync(TopicStorageFailure, b.onStorageFailure, true)
}

func (b *Broadcaster) onChanged(ev lifecycle.Event) {
	b.send(NewMessage(TypeEquipmentChanged, ChangePayload{Event: ev, Dashboard: view.Build(b.src.All(), view.Query{})}))
}

func (b *Broadcaster) onCleared(ev lifecycle.Event) {
	b.send(NewMessage(TypeEquipmentCleared, ChangePayload{Event: ev, Dashboard: view.Build(b.src.All(), view.Query{})}))
}

func (b *Broadcaster) onStorageFailure(se *persist.StorageError) {
	b.send(NewMessage(TypeStorageFailure, StorageFailurePayload{Op: se.Op, Key: se.Key, Error: se.Err.Error()}))
}

func (b *Broadcaster) send(m Message) {
	raw, err := m.JSON()
	if err != nil {
		zap.L().Error("encode ws message", zap.String("type", string(m.Type)), zap.Error(err))
		return
	}
	b.hub.Broadcast(raw)
}
