package orch

import (
	"encoding/json"
	"errors"

	"github.com/dkeye/Huddle/internal/app"
	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/metrics"
	"github.com/rs/zerolog/log"
)

// apply delivers an outcome. Connections kicked for backpressure produce
// outcomes of their own, which are applied in turn.
func (o *Orchestrator) apply(out app.Outcome) {
	pending := []app.Outcome{out}
	for len(pending) > 0 {
		cur := pending[0]
		pending = pending[1:]

		for _, d := range cur.Deliveries {
			frame, err := json.Marshal(d.Event)
			if err != nil {
				log.Error().Err(err).Str("module", "orch").Str("type", d.Event.Type).Msg("encode event")
				continue
			}
			for _, id := range d.To {
				if o.deliver(id, frame) {
					pending = append(pending, o.Relay.Kick(id))
				}
			}
		}
		for _, id := range cur.Close {
			if s, ok := o.Relay.Session(id); ok && s.Signal != nil {
				s.Signal.Close()
			}
		}
		for _, ev := range cur.Presence {
			o.Feed.Publish(ev)
		}
	}
}

// deliver sends frame to id and reports whether the connection must be kicked.
func (o *Orchestrator) deliver(id domain.ConnID, frame core.Frame) bool {
	s, ok := o.Relay.Session(id)
	if !ok || s.Signal == nil {
		metrics.ObserveDelivery("unknown")
		return false
	}
	err := s.Signal.TrySend(frame)
	switch {
	case err == nil:
		metrics.ObserveDelivery("sent")
		return false
	case errors.Is(err, core.ErrBackpressure):
		metrics.ObserveDelivery("backpressure")
		action := app.NoAction
		if o.Policy != nil {
			action = o.Policy.OnBackPressure(s)
		}
		log.Warn().Str("module", "orch").Str("conn", string(id)).Str("action", action.String()).Msg("send buffer full")
		return action == app.KickMember && s.State() != core.Closed
	default:
		metrics.ObserveDelivery("closed")
		log.Debug().Err(err).Str("module", "orch").Str("conn", string(id)).Msg("send failed")
		return false
	}
}
