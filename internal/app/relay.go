package app

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
)

// Handler runs one transition for a session. ctx is the zero value unless the session is joined.
type Handler func(s *core.Session, ctx core.SessionContext, payload json.RawMessage) Outcome

type gate int

const (
	gateOpen   gate = iota // any state
	gateLive               // not closed
	gateJoined             // joined only
)

type route struct {
	handle  Handler
	gate    gate
	limited bool
}

// Relay owns the session table and the room registry and maps inbound
// events to outcomes. It is not safe for concurrent use.
type Relay struct {
	reg      *core.Registry
	sessions map[domain.ConnID]*core.Session
	routes   map[Kind]route
	validate *validator.Validate
	limiter  *RoomRateLimiter
	now      func() time.Time
}

// NewRelay wires the handler table. limiter may be nil.
func NewRelay(reg *core.Registry, limiter *RoomRateLimiter) *Relay {
	r := &Relay{
		reg:      reg,
		sessions: make(map[domain.ConnID]*core.Session),
		validate: validator.New(),
		limiter:  limiter,
		now:      time.Now,
	}
	r.routes = map[Kind]route{
		KindJoin:             {handle: r.join, gate: gateLive},
		KindLeave:            {handle: r.leave, gate: gateJoined},
		KindChat:             {handle: r.chat, gate: gateJoined, limited: true},
		KindReaction:         {handle: r.reaction, gate: gateJoined, limited: true},
		KindStatusUpdate:     {handle: r.statusUpdate, gate: gateJoined},
		KindScreenShareStart: {handle: r.screenShare(true), gate: gateJoined},
		KindScreenShareStop:  {handle: r.screenShare(false), gate: gateJoined},
		KindThemeChange:      {handle: r.themeChange, gate: gateJoined},
		KindInfoRequest:      {handle: r.infoRequest, gate: gateJoined},
		KindInfoResponse:     {handle: r.infoResponse, gate: gateJoined},
		KindPing:             {handle: r.ping, gate: gateOpen},
		KindWhoAmI:           {handle: r.whoAmI, gate: gateOpen},
	}
	return r
}

func (r *Relay) Registry() *core.Registry { return r.reg }

// Handle routes one inbound event. It never panics on client input.
func (r *Relay) Handle(in Inbound) Outcome {
	s, ok := r.sessions[in.ConnID]
	if !ok {
		return dropped(ErrUnknownConn)
	}
	rt, ok := r.routes[in.Kind]
	if !ok {
		return dropped(fmt.Errorf("%w: %q", ErrUnknownKind, in.Kind))
	}

	ctx, joined := s.Context()
	switch rt.gate {
	case gateJoined:
		if !joined {
			if s.State() == core.Closed {
				return dropped(ErrClosed)
			}
			return dropped(ErrNotJoined)
		}
	case gateLive:
		if s.State() == core.Closed {
			return dropped(ErrClosed)
		}
	}

	if rt.limited && r.limiter != nil && !r.limiter.Allow(ctx.RoomID, ctx.ParticipantID) {
		out := dropped(ErrRateLimited)
		out.send([]domain.ConnID{s.ID}, TypeError, ErrorEvent{Code: "rate_limited"})
		return out
	}
	return rt.handle(s, ctx, in.Payload)
}

// Connect registers a new, unjoined session.
func (r *Relay) Connect(id domain.ConnID, sig core.SignalConnection) {
	if _, ok := r.sessions[id]; ok {
		log.Warn().Str("module", "app.relay").Str("conn", string(id)).Msg("duplicate connection id, replacing")
	}
	r.sessions[id] = core.NewSession(id, sig)
}

// Disconnect closes the session and forgets it. Unknown ids are a no-op.
func (r *Relay) Disconnect(id domain.ConnID) Outcome {
	s, ok := r.sessions[id]
	if !ok {
		return Outcome{}
	}
	out := r.close(s)
	delete(r.sessions, id)
	return out
}

// Kick closes the session and asks for its transport to be closed.
// The session stays in the table until the transport reports the disconnect.
func (r *Relay) Kick(id domain.ConnID) Outcome {
	s, ok := r.sessions[id]
	if !ok {
		return Outcome{}
	}
	out := r.close(s)
	out.Close = append(out.Close, id)
	return out
}

// Shutdown closes every session without presence announcements and asks
// for all transports to be closed.
func (r *Relay) Shutdown() Outcome {
	var out Outcome
	ids := make([]domain.ConnID, 0, len(r.sessions))
	for id, s := range r.sessions {
		s.Close()
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out.send(ids, TypeShutdown, ErrorEvent{Code: "shutdown", Message: "Server is shutting down. Please reconnect."})
	out.Close = ids
	return out
}

func (r *Relay) Session(id domain.ConnID) (*core.Session, bool) {
	s, ok := r.sessions[id]
	return s, ok
}

// Stats reports the number of live sessions and how many of them are joined.
func (r *Relay) Stats() (connections, joined int) {
	for _, s := range r.sessions {
		if s.State() == core.Joined {
			joined++
		}
	}
	return len(r.sessions), joined
}

func (r *Relay) decode(payload json.RawMessage, v any) error {
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if err := r.validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return nil
}

func self(s *core.Session) []domain.ConnID { return []domain.ConnID{s.ID} }

func (r *Relay) chat(s *core.Session, ctx core.SessionContext, payload json.RawMessage) Outcome {
	var p ChatPayload
	if err := r.decode(payload, &p); err != nil {
		return dropped(err)
	}
	if strings.TrimSpace(p.Body) == "" {
		return dropped(fmt.Errorf("%w: blank chat body", ErrMalformed))
	}
	var out Outcome
	out.send(r.reg.ConnIDs(ctx.RoomID, ""), TypeChatMessage, ChatMessage{
		Body:       p.Body,
		SenderID:   ctx.ParticipantID,
		SenderName: ctx.DisplayName,
	})
	return out
}

func (r *Relay) reaction(s *core.Session, ctx core.SessionContext, payload json.RawMessage) Outcome {
	var p ReactionPayload
	if err := r.decode(payload, &p); err != nil {
		return dropped(err)
	}
	var out Outcome
	out.send(r.reg.ConnIDs(ctx.RoomID, ""), TypeReactionReceived, ReactionReceived{
		EmojiCode:  p.Emoji,
		SenderID:   ctx.ParticipantID,
		SenderName: ctx.DisplayName,
	})
	return out
}

func (r *Relay) statusUpdate(s *core.Session, ctx core.SessionContext, payload json.RawMessage) Outcome {
	var p StatusPayload
	if err := r.decode(payload, &p); err != nil {
		return dropped(err)
	}
	if _, ok := r.reg.MergeStatus(ctx.RoomID, ctx.ParticipantID, p.Patch); !ok {
		return dropped(ErrNotJoined)
	}
	var out Outcome
	out.send(r.reg.ConnIDs(ctx.RoomID, s.ID), TypeUserStatusUpdate, UserStatusUpdate{
		ParticipantID: ctx.ParticipantID,
		Patch:         p.Patch,
	})
	return out
}

func (r *Relay) screenShare(active bool) Handler {
	typ := TypeScreenShareInactive
	if active {
		typ = TypeScreenShareActive
	}
	return func(s *core.Session, ctx core.SessionContext, _ json.RawMessage) Outcome {
		r.reg.MergeStatus(ctx.RoomID, ctx.ParticipantID, domain.Status{StatusScreenSharing: active})
		var out Outcome
		out.send(r.reg.ConnIDs(ctx.RoomID, ""), typ, ctx.Identity())
		return out
	}
}

func (r *Relay) themeChange(s *core.Session, ctx core.SessionContext, payload json.RawMessage) Outcome {
	var p ThemePayload
	if err := r.decode(payload, &p); err != nil {
		return dropped(err)
	}
	r.reg.SetTheme(ctx.RoomID, p.ThemeID)
	var out Outcome
	out.send(r.reg.ConnIDs(ctx.RoomID, ""), TypeThemeChanged, ThemeChanged{ThemeID: p.ThemeID})
	return out
}

// target resolves the connection owning a participant id in the sender's room.
func (r *Relay) target(ctx core.SessionContext, payload json.RawMessage) (InfoPayload, domain.ConnID, error) {
	var p InfoPayload
	if err := r.decode(payload, &p); err != nil {
		return p, "", err
	}
	m, ok := r.reg.Member(ctx.RoomID, domain.ParticipantID(p.TargetID))
	if !ok {
		return p, "", fmt.Errorf("%w: %s", ErrTargetNotFound, p.TargetID)
	}
	return p, m.ConnID, nil
}

func (r *Relay) infoRequest(s *core.Session, ctx core.SessionContext, payload json.RawMessage) Outcome {
	p, conn, err := r.target(ctx, payload)
	if err != nil {
		return dropped(err)
	}
	var out Outcome
	out.send([]domain.ConnID{conn}, TypeInfoRequested, InfoRequested{
		RequesterID:   ctx.ParticipantID,
		RequesterName: ctx.DisplayName,
		Info:          p.Info,
	})
	return out
}

func (r *Relay) infoResponse(s *core.Session, ctx core.SessionContext, payload json.RawMessage) Outcome {
	p, conn, err := r.target(ctx, payload)
	if err != nil {
		return dropped(err)
	}
	var out Outcome
	out.send([]domain.ConnID{conn}, TypeInfoReceived, InfoReceived{
		SenderID:   ctx.ParticipantID,
		SenderName: ctx.DisplayName,
		Info:       p.Info,
	})
	return out
}

func (r *Relay) ping(s *core.Session, _ core.SessionContext, _ json.RawMessage) Outcome {
	var out Outcome
	out.send(self(s), TypePong, nil)
	return out
}

func (r *Relay) whoAmI(s *core.Session, ctx core.SessionContext, _ json.RawMessage) Outcome {
	var out Outcome
	out.send(self(s), TypeWhoAmI, WhoAmI{
		ConnID:        s.ID,
		State:         s.State().String(),
		RoomID:        ctx.RoomID,
		ParticipantID: ctx.ParticipantID,
		DisplayName:   ctx.DisplayName,
	})
	return out
}
