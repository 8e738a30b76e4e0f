package core

import (
	"slices"
	"strings"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

type room struct {
	members map[domain.ParticipantID]*domain.Participant
	order   []domain.ParticipantID
	theme   string
}

// RoomInfo is a read-only view for APIs.
type RoomInfo struct {
	ID          domain.RoomID `json:"id"`
	MemberCount int           `json:"member_count"`
	Theme       string        `json:"theme,omitempty"`
}

// Registry maps room ids to their members. It is the sole owner of room lifecycle.
// Registry is not safe for concurrent use: one goroutine owns it.
type Registry struct {
	rooms map[domain.RoomID]*room
}

func NewRegistry() *Registry {
	return &Registry{rooms: make(map[domain.RoomID]*room)}
}

// EnsureRoom returns without effect if the room exists, otherwise creates it empty.
func (r *Registry) EnsureRoom(id domain.RoomID) {
	r.ensure(id)
}

func (r *Registry) ensure(id domain.RoomID) *room {
	rm, ok := r.rooms[id]
	if !ok {
		rm = &room{members: make(map[domain.ParticipantID]*domain.Participant)}
		r.rooms[id] = rm
		log.Debug().Str("module", "core.registry").Str("room", string(id)).Msg("room created")
	}
	return rm
}

func (r *Registry) HasRoom(id domain.RoomID) bool {
	_, ok := r.rooms[id]
	return ok
}

// UpsertMember inserts the participant or, when the id is already present,
// overwrites its connection and display name in place. Status and position survive.
func (r *Registry) UpsertMember(
	roomID domain.RoomID,
	pid domain.ParticipantID,
	displayName string,
	conn domain.ConnID,
) (domain.Participant, bool) {
	rm := r.ensure(roomID)
	if p, ok := rm.members[pid]; ok {
		p.ConnID = conn
		p.DisplayName = displayName
		log.Debug().Str("module", "core.registry").Str("room", string(roomID)).Str("participant", string(pid)).Msg("member updated")
		return p.Clone(), false
	}
	p := &domain.Participant{ID: pid, DisplayName: displayName, ConnID: conn}
	rm.members[pid] = p
	rm.order = append(rm.order, pid)
	log.Debug().Str("module", "core.registry").Str("room", string(roomID)).Str("participant", string(pid)).Msg("member added")
	return p.Clone(), true
}

// RemoveMember deletes the participant and reports whether it was present.
func (r *Registry) RemoveMember(roomID domain.RoomID, pid domain.ParticipantID) bool {
	rm, ok := r.rooms[roomID]
	if !ok {
		return false
	}
	if _, ok := rm.members[pid]; !ok {
		return false
	}
	delete(rm.members, pid)
	rm.order = slices.DeleteFunc(rm.order, func(id domain.ParticipantID) bool { return id == pid })
	log.Debug().Str("module", "core.registry").Str("room", string(roomID)).Str("participant", string(pid)).Msg("member removed")
	return true
}

func (r *Registry) Member(roomID domain.RoomID, pid domain.ParticipantID) (domain.Participant, bool) {
	rm, ok := r.rooms[roomID]
	if !ok {
		return domain.Participant{}, false
	}
	p, ok := rm.members[pid]
	if !ok {
		return domain.Participant{}, false
	}
	return p.Clone(), true
}

// Snapshot copies the members of a room in join order. Unknown rooms yield an empty slice.
func (r *Registry) Snapshot(roomID domain.RoomID) []domain.Participant {
	rm, ok := r.rooms[roomID]
	if !ok {
		return []domain.Participant{}
	}
	return lo.Map(rm.order, func(pid domain.ParticipantID, _ int) domain.Participant {
		return rm.members[pid].Clone()
	})
}

func (r *Registry) MemberCount(roomID domain.RoomID) int {
	if rm, ok := r.rooms[roomID]; ok {
		return len(rm.members)
	}
	return 0
}

// ConnIDs lists the connections of every member of the room except the one given.
func (r *Registry) ConnIDs(roomID domain.RoomID, except domain.ConnID) []domain.ConnID {
	rm, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	return lo.FilterMap(rm.order, func(pid domain.ParticipantID, _ int) (domain.ConnID, bool) {
		conn := rm.members[pid].ConnID
		return conn, conn != except
	})
}

// MergeStatus applies patch to the member's status and returns the merged result.
func (r *Registry) MergeStatus(roomID domain.RoomID, pid domain.ParticipantID, patch domain.Status) (domain.Status, bool) {
	rm, ok := r.rooms[roomID]
	if !ok {
		return nil, false
	}
	p, ok := rm.members[pid]
	if !ok {
		return nil, false
	}
	p.Status = p.Status.Merge(patch)
	return p.Status.Clone(), true
}

func (r *Registry) SetTheme(roomID domain.RoomID, theme string) bool {
	rm, ok := r.rooms[roomID]
	if !ok {
		return false
	}
	rm.theme = theme
	return true
}

func (r *Registry) Theme(roomID domain.RoomID) string {
	if rm, ok := r.rooms[roomID]; ok {
		return rm.theme
	}
	return ""
}

// ActiveRooms counts rooms with at least one member.
func (r *Registry) ActiveRooms() int {
	n := 0
	for _, rm := range r.rooms {
		if len(rm.members) > 0 {
			n++
		}
	}
	return n
}

// Rooms lists every known room, empty ones included, ordered by id.
func (r *Registry) Rooms() []RoomInfo {
	out := make([]RoomInfo, 0, len(r.rooms))
	for id, rm := range r.rooms {
		out = append(out, RoomInfo{ID: id, MemberCount: len(rm.members), Theme: rm.theme})
	}
	slices.SortFunc(out, func(a, b RoomInfo) int { return strings.Compare(string(a.ID), string(b.ID)) })
	return out
}
