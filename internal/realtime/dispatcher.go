package realtime

import (
	"encoding/json"

	"roomchat/internal/metrics"
	"roomchat/internal/models"
	"roomchat/pkg/logger"
)

// Dispatcher fans events out to room members. Delivery is best effort: a
// recipient whose queue is full or closed misses the frame.
type Dispatcher struct {
	dir     *Directory
	metrics *metrics.Metrics
}

func NewDispatcher(dir *Directory, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{dir: dir, metrics: m}
}

// Broadcast sends ev to every member of roomID except excludeConnID and
// returns how many recipients accepted it.
func (d *Dispatcher) Broadcast(roomID int, ev *models.Event, excludeConnID string) int {
	data, err := json.Marshal(ev)
	if err != nil {
		logger.Error("failed to marshal event", "type", ev.Type, "error", err)
		return 0
	}

	delivered, dropped := 0, 0
	for _, m := range d.dir.Members(roomID) {
		if m.ConnectionID == excludeConnID {
			continue
		}
		if m.conn.Send(data) {
			delivered++
		} else {
			dropped++
		}
	}

	if dropped > 0 {
		logger.Warn("dropped event for slow recipients", "type", ev.Type, "room_id", roomID, "dropped", dropped)
	}
	d.metrics.Delivered(delivered, dropped)
	return delivered
}

// SendTo delivers ev to a single connection.
func (d *Dispatcher) SendTo(conn Conn, ev *models.Event) bool {
	data, err := json.Marshal(ev)
	if err != nil {
		logger.Error("failed to marshal event", "type", ev.Type, "error", err)
		return false
	}
	ok := conn.Send(data)
	if ok {
		d.metrics.Delivered(1, 0)
	} else {
		d.metrics.Delivered(0, 1)
	}
	return ok
}
