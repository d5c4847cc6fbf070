package realtime

import (
	"encoding/json"
	"time"
)

type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusPolling      Status = "polling"
)

type EventKind string

const (
	EventOrderNew       EventKind = "order:new"
	EventOrderUpdated   EventKind = "order:updated"
	EventOrderCancelled EventKind = "order:cancelled"
	EventPrinted        EventKind = "printed"
	EventPrintFailed    EventKind = "print_failed"
)

// Outbound message names.
const (
	msgJoinRestaurant = "join-restaurant"
	msgHeartbeat      = "heartbeat"
)

// Event is a server push. Order events carry the raw, unmapped order record;
// print notifications carry only the order id.
type Event struct {
	Kind    EventKind
	OrderID string
	Order   json.RawMessage
}

func (k EventKind) isOrder() bool {
	return k == EventOrderNew || k == EventOrderUpdated || k == EventOrderCancelled
}

func (k EventKind) isPrint() bool {
	return k == EventPrinted || k == EventPrintFailed
}

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type joinMessage struct {
	RestaurantID string `json:"restaurantId"`
	DeviceID     string `json:"deviceId,omitempty"`
	Role         string `json:"role,omitempty"`
}

type heartbeatMessage struct {
	DeviceID  string    `json:"deviceId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// decodeEvent parses one inbound frame. ok is false for frames that carry no
// event a subscriber cares about.
func decodeEvent(frame []byte) (Event, bool) {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Event{}, false
	}
	kind := EventKind(env.Event)
	switch {
	case kind.isOrder():
		if len(env.Data) == 0 {
			return Event{}, false
		}
		return Event{Kind: kind, OrderID: idOf(env.Data), Order: env.Data}, true
	case kind.isPrint():
		id := idOf(env.Data)
		if id == "" {
			return Event{}, false
		}
		return Event{Kind: kind, OrderID: id}, true
	}
	return Event{}, false
}

func idOf(data json.RawMessage) string {
	var ref struct {
		OrderID      string `json:"orderId"`
		OrderIDSnake string `json:"order_id"`
		ID           string `json:"id"`
		GUID         string `json:"guid"`
	}
	if err := json.Unmarshal(data, &ref); err != nil {
		return ""
	}
	for _, v := range []string{ref.OrderID, ref.OrderIDSnake, ref.ID, ref.GUID} {
		if v != "" {
			return v
		}
	}
	return ""
}
