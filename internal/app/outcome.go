package app

import (
	"errors"

	"github.com/dkeye/Huddle/internal/domain"
)

var (
	ErrUnknownConn    = errors.New("unknown connection")
	ErrUnknownKind    = errors.New("unknown event kind")
	ErrNotJoined      = errors.New("connection not joined")
	ErrClosed         = errors.New("connection closed")
	ErrMalformed      = errors.New("malformed request")
	ErrTargetNotFound = errors.New("target not found")
	ErrRateLimited    = errors.New("rate limited")
)

// Delivery is one event addressed to a set of connections.
type Delivery struct {
	To    []domain.ConnID
	Event Outbound
}

// Outcome is everything a handler decided. Handlers never touch transports;
// the caller delivers, closes and publishes.
type Outcome struct {
	Deliveries []Delivery
	// Close lists connections whose transport must be closed after delivery.
	Close    []domain.ConnID
	Presence []domain.PresenceEvent
	// Err is the reason the event was dropped; nil when it was handled.
	Err error
}

func dropped(err error) Outcome { return Outcome{Err: err} }

func (o *Outcome) send(to []domain.ConnID, typ string, data any) {
	if len(to) == 0 {
		return
	}
	o.Deliveries = append(o.Deliveries, Delivery{To: to, Event: Outbound{Type: typ, Data: data}})
}

// For returns the events addressed to conn, in emission order.
func (o Outcome) For(conn domain.ConnID) []Outbound {
	var out []Outbound
	for _, d := range o.Deliveries {
		for _, to := range d.To {
			if to == conn {
				out = append(out, d.Event)
				break
			}
		}
	}
	return out
}
