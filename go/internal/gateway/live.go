package gateway

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/scoreboard/go/internal/clock"
	"github.com/mcdev12/scoreboard/go/internal/models"
	"github.com/rs/zerolog/log"
)

// ClockSource is the part of the scoreboard application the live feed reads.
type ClockSource interface {
	Snapshot() models.ClockSnapshot
	Subscribe(l clock.Listener) (unsubscribe func())
}

type snapshotData struct {
	GameTime string `json:"game_time"`
	models.ClockSnapshot
}

// AttachClock streams clock snapshots to every client: one message per clock event, so at most
// one per tick. New clients are greeted with the current snapshot.
func AttachClock(cm *ConnectionManager, src ClockSource) (detach func()) {
	cm.SetGreeting(func() *Message {
		return snapshotMessage("", src.Snapshot(), time.Now().UTC())
	})
	return src.Subscribe(func(ev models.ClockEvent) {
		cm.Broadcast(snapshotMessage(ev.Type, ev.Snapshot, ev.At))
	})
}

func snapshotMessage(reason models.ClockEventType, snap models.ClockSnapshot, at time.Time) *Message {
	data, err := json.Marshal(snapshotData{GameTime: snap.GameTime(), ClockSnapshot: snap})
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal snapshot")
		data = []byte("null")
	}
	return &Message{
		ID:        uuid.New().String(),
		Type:      MessageSnapshot,
		EventType: string(reason),
		Timestamp: at,
		Data:      data,
	}
}
