package app

import (
	"encoding/json"
	"fmt"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

// join moves a session to Joined. A joined session asking for another room
// or another identity leaves its current room first.
func (r *Relay) join(s *core.Session, cur core.SessionContext, payload json.RawMessage) Outcome {
	var p JoinPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return dropped(fmt.Errorf("%w: %w", ErrMalformed, err))
	}
	req, err := domain.NewJoinRequest(p.RoomID, p.ParticipantID, p.DisplayName)
	if err != nil {
		return dropped(fmt.Errorf("%w: %w", ErrMalformed, err))
	}

	var out Outcome
	if s.State() == core.Joined && (cur.RoomID != req.RoomID || cur.ParticipantID != req.ParticipantID) {
		r.vacate(s.ID, cur, &out)
	}

	r.reg.EnsureRoom(req.RoomID)
	// Captured before the upsert so the joiner learns about others, never about itself.
	existing := lo.Filter(r.reg.Snapshot(req.RoomID), func(m domain.Participant, _ int) bool {
		return m.ID != req.ParticipantID
	})
	prev, had := r.reg.Member(req.RoomID, req.ParticipantID)
	_, wasNew := r.reg.UpsertMember(req.RoomID, req.ParticipantID, req.DisplayName, s.ID)
	if had && prev.ConnID != s.ID {
		r.evict(prev.ConnID, &out)
	}

	ctx := core.SessionContext{
		RoomID:        req.RoomID,
		ParticipantID: req.ParticipantID,
		DisplayName:   req.DisplayName,
	}
	s.Bind(ctx)

	out.send(self(s), TypeRoomState, RoomState{
		RoomID:  req.RoomID,
		Members: existing,
		Theme:   r.reg.Theme(req.RoomID),
	})
	// Rejoins are announced too so peers rebuild their connection to the participant.
	out.send(r.reg.ConnIDs(req.RoomID, s.ID), TypeUserJoined, ctx.Identity())
	out.Presence = append(out.Presence, r.presence(domain.PresenceJoined, ctx, !wasNew))

	log.Info().
		Str("module", "app.presence").
		Str("conn", string(s.ID)).
		Str("room", string(req.RoomID)).
		Str("participant", string(req.ParticipantID)).
		Bool("rejoin", !wasNew).
		Msg("joined")
	return out
}

// leave is the explicit JOINED -> CLOSED transition.
func (r *Relay) leave(s *core.Session, _ core.SessionContext, _ json.RawMessage) Outcome {
	out := r.close(s)
	out.send(self(s), TypeLeft, nil)
	return out
}

// close moves s to Closed and releases its membership.
func (r *Relay) close(s *core.Session) Outcome {
	var out Outcome
	ctx, ok := s.Close()
	if !ok {
		return out
	}
	r.vacate(s.ID, ctx, &out)
	log.Info().
		Str("module", "app.presence").
		Str("conn", string(s.ID)).
		Str("room", string(ctx.RoomID)).
		Str("participant", string(ctx.ParticipantID)).
		Msg("left")
	return out
}

// vacate removes the membership held by conn and announces it. A membership
// already taken over by another connection is left alone.
func (r *Relay) vacate(conn domain.ConnID, ctx core.SessionContext, out *Outcome) {
	m, ok := r.reg.Member(ctx.RoomID, ctx.ParticipantID)
	if !ok || m.ConnID != conn {
		return
	}
	r.reg.RemoveMember(ctx.RoomID, ctx.ParticipantID)
	if r.limiter != nil {
		r.limiter.Forget(ctx.RoomID, ctx.ParticipantID)
	}
	out.send(r.reg.ConnIDs(ctx.RoomID, conn), TypeUserDisconnected, ctx.Identity())
	out.Presence = append(out.Presence, r.presence(domain.PresenceLeft, ctx, false))
}

// evict closes a stale session whose participant id was claimed by a new connection.
func (r *Relay) evict(conn domain.ConnID, out *Outcome) {
	old, ok := r.sessions[conn]
	if !ok || old.State() == core.Closed {
		return
	}
	old.Close()
	out.send([]domain.ConnID{conn}, TypeReplaced, nil)
	out.Close = append(out.Close, conn)
	log.Info().Str("module", "app.presence").Str("conn", string(conn)).Msg("session replaced")
}

func (r *Relay) presence(kind domain.PresenceKind, ctx core.SessionContext, rejoin bool) domain.PresenceEvent {
	return domain.PresenceEvent{
		Type:          kind,
		RoomID:        ctx.RoomID,
		ParticipantID: ctx.ParticipantID,
		DisplayName:   ctx.DisplayName,
		Rejoin:        rejoin,
		Timestamp:     r.now(),
	}
}
