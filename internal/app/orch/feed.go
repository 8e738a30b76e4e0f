//go:generate go run go.uber.org/mock/mockgen -source=feed.go -destination=../../../mocks/mock_presence_sink.go -package=mocks

package orch

import (
	"context"
	"time"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/metrics"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const publishTimeout = 2 * time.Second

// PresenceSink receives membership changes for external observers.
type PresenceSink interface {
	Publish(ctx context.Context, ev domain.PresenceEvent) error
}

// Feed hands presence events to a sink off the orchestrator goroutine.
// Publishing never blocks the caller: events are dropped when the buffer is full.
type Feed struct {
	sink       PresenceSink
	events     chan domain.PresenceEvent
	instanceID string
}

func NewFeed(sink PresenceSink, buffer int) *Feed {
	return &Feed{
		sink:       sink,
		events:     make(chan domain.PresenceEvent, buffer),
		instanceID: uuid.NewString(),
	}
}

func (f *Feed) InstanceID() string { return f.instanceID }

// Publish is safe on a nil Feed.
func (f *Feed) Publish(ev domain.PresenceEvent) {
	if f == nil {
		return
	}
	ev.InstanceID = f.instanceID
	select {
	case f.events <- ev:
	default:
		metrics.ObservePresence("dropped")
		log.Warn().Str("module", "orch.feed").Str("room", string(ev.RoomID)).Msg("presence feed full, event dropped")
	}
}

// Run drains the buffer into the sink until ctx is done.
func (f *Feed) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-f.events:
			pctx, cancel := context.WithTimeout(ctx, publishTimeout)
			err := f.sink.Publish(pctx, ev)
			cancel()
			if err != nil {
				metrics.ObservePresence("error")
				log.Error().Err(err).Str("module", "orch.feed").Str("type", string(ev.Type)).Msg("publish presence event")
				continue
			}
			metrics.ObservePresence("ok")
		}
	}
}

// LogSink records presence events in the log. Used when no external feed is configured.
type LogSink struct{}

func (LogSink) Publish(_ context.Context, ev domain.PresenceEvent) error {
	log.Debug().
		Str("module", "orch.feed").
		Str("type", string(ev.Type)).
		Str("room", string(ev.RoomID)).
		Str("participant", string(ev.ParticipantID)).
		Bool("rejoin", ev.Rejoin).
		Msg("presence")
	return nil
}
