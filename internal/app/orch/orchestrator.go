// Package orch runs the relay on a single goroutine and delivers its outcomes.
package orch

import (
	"context"
	"errors"

	"github.com/dkeye/Huddle/internal/app"
	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/metrics"
	"github.com/rs/zerolog/log"
)

var ErrStopped = errors.New("orchestrator stopped")

type command func()

// Orchestrator serializes every inbound event, connection change and registry
// read through one goroutine, so the relay and its registry need no locks.
type Orchestrator struct {
	Relay  *app.Relay
	Policy app.Policy
	Feed   *Feed

	commands chan command
	stopped  chan struct{}
}

func New(relay *app.Relay, policy app.Policy, feed *Feed, buffer int) *Orchestrator {
	return &Orchestrator{
		Relay:    relay,
		Policy:   policy,
		Feed:     feed,
		commands: make(chan command, buffer),
		stopped:  make(chan struct{}),
	}
}

// Run processes commands until ctx is done, then closes every session.
func (o *Orchestrator) Run(ctx context.Context) {
	defer close(o.stopped)
	log.Info().Str("module", "orch").Msg("orchestrator started")
	for {
		select {
		case <-ctx.Done():
			o.apply(o.Relay.Shutdown())
			log.Info().Str("module", "orch").Msg("orchestrator stopped")
			return
		case cmd := <-o.commands:
			cmd()
		}
	}
}

func (o *Orchestrator) enqueue(ctx context.Context, cmd command) error {
	select {
	case <-o.stopped:
		return ErrStopped
	default:
	}
	select {
	case o.commands <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-o.stopped:
		return ErrStopped
	}
}

// Connect registers a transport under id.
func (o *Orchestrator) Connect(ctx context.Context, id domain.ConnID, sig core.SignalConnection) error {
	return o.enqueue(ctx, func() {
		o.Relay.Connect(id, sig)
		log.Info().Str("module", "orch").Str("conn", string(id)).Msg("connected")
		o.refresh()
	})
}

// Submit queues one inbound event.
func (o *Orchestrator) Submit(ctx context.Context, in app.Inbound) error {
	return o.enqueue(ctx, func() { o.handle(in) })
}

// Disconnect is the transport's notification that id is gone.
func (o *Orchestrator) Disconnect(ctx context.Context, id domain.ConnID) error {
	return o.enqueue(ctx, func() {
		o.apply(o.Relay.Disconnect(id))
		log.Info().Str("module", "orch").Str("conn", string(id)).Msg("disconnected")
		o.refresh()
	})
}

// Inspect runs fn on the loop goroutine and waits for it.
// fn must not retain the registry.
func (o *Orchestrator) Inspect(ctx context.Context, fn func(*core.Registry)) error {
	done := make(chan struct{})
	if err := o.enqueue(ctx, func() {
		defer close(done)
		fn(o.Relay.Registry())
	}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-o.stopped:
		return ErrStopped
	}
}

func (o *Orchestrator) handle(in app.Inbound) {
	out := o.Relay.Handle(in)
	metrics.ObserveEvent(string(in.Kind), result(out.Err))
	if out.Err != nil {
		ev := log.Debug()
		if errors.Is(out.Err, app.ErrMalformed) || errors.Is(out.Err, app.ErrUnknownKind) {
			ev = log.Warn()
		}
		ev.Err(out.Err).
			Str("module", "orch").
			Str("conn", string(in.ConnID)).
			Str("kind", string(in.Kind)).
			Msg("event dropped")
	}
	o.apply(out)
	o.refresh()
}

func result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, app.ErrMalformed):
		return "malformed"
	case errors.Is(err, app.ErrNotJoined), errors.Is(err, app.ErrClosed), errors.Is(err, app.ErrUnknownConn):
		return "not_joined"
	case errors.Is(err, app.ErrTargetNotFound):
		return "target_not_found"
	case errors.Is(err, app.ErrRateLimited):
		return "rate_limited"
	}
	return "dropped"
}

func (o *Orchestrator) refresh() {
	conns, joined := o.Relay.Stats()
	metrics.SetPopulation(conns, joined, o.Relay.Registry().ActiveRooms())
}
