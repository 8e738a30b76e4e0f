package app

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRelay(conns ...domain.ConnID) *Relay {
	r := NewRelay(core.NewRegistry(), nil)
	for _, c := range conns {
		r.Connect(c, nil)
	}
	return r
}

func payload(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func join(t *testing.T, r *Relay, conn domain.ConnID, room, pid, name string) Outcome {
	t.Helper()
	return r.Handle(Inbound{
		ConnID:  conn,
		Kind:    KindJoin,
		Payload: payload(t, JoinPayload{RoomID: room, ParticipantID: pid, DisplayName: name}),
	})
}

func send(t *testing.T, r *Relay, conn domain.ConnID, kind Kind, v any) Outcome {
	t.Helper()
	var raw json.RawMessage
	if v != nil {
		raw = payload(t, v)
	}
	return r.Handle(Inbound{ConnID: conn, Kind: kind, Payload: raw})
}

func member(pid, name string, conn domain.ConnID) domain.Participant {
	return domain.Participant{ID: domain.ParticipantID(pid), DisplayName: name, ConnID: conn}
}

func identity(pid, name string) domain.Identity {
	return domain.Identity{ParticipantID: domain.ParticipantID(pid), DisplayName: name}
}

func TestRelay_ScenarioA_JoinEmptyRoom(t *testing.T) {
	r := newTestRelay("c1", "c9")

	out := join(t, r, "c1", "R1", "u1", "Alice")

	require.NoError(t, out.Err)
	assert.Equal(t, []Outbound{{Type: TypeRoomState, Data: RoomState{RoomID: "R1", Members: []domain.Participant{}}}}, out.For("c1"))
	assert.Empty(t, out.For("c9"))
	require.Len(t, out.Deliveries, 1)
	require.Len(t, out.Presence, 1)
	assert.Equal(t, domain.PresenceJoined, out.Presence[0].Type)
	assert.False(t, out.Presence[0].Rejoin)
}

func TestRelay_ScenarioB_SecondJoiner(t *testing.T) {
	r := newTestRelay("c1", "c2")
	join(t, r, "c1", "R1", "u1", "Alice")

	out := join(t, r, "c2", "R1", "u2", "Bob")

	assert.Equal(t, []Outbound{{Type: TypeRoomState, Data: RoomState{
		RoomID:  "R1",
		Members: []domain.Participant{member("u1", "Alice", "c1")},
	}}}, out.For("c2"))
	assert.Equal(t, []Outbound{{Type: TypeUserJoined, Data: identity("u2", "Bob")}}, out.For("c1"))
}

func TestRelay_ScenarioC_ChatIncludesSender(t *testing.T) {
	r := newTestRelay("c1", "c2")
	join(t, r, "c1", "R1", "u1", "Alice")
	join(t, r, "c2", "R1", "u2", "Bob")

	out := send(t, r, "c1", KindChat, ChatPayload{Body: "hi"})

	require.NoError(t, out.Err)
	want := []Outbound{{Type: TypeChatMessage, Data: ChatMessage{Body: "hi", SenderID: "u1", SenderName: "Alice"}}}
	assert.Equal(t, want, out.For("c2"))
	assert.Equal(t, want, out.For("c1"))
}

func TestRelay_ScenarioD_Disconnect(t *testing.T) {
	r := newTestRelay("c1", "c2")
	join(t, r, "c1", "R1", "u1", "Alice")
	join(t, r, "c2", "R1", "u2", "Bob")

	out := r.Disconnect("c1")

	assert.Equal(t, []Outbound{{Type: TypeUserDisconnected, Data: identity("u1", "Alice")}}, out.For("c2"))
	assert.Empty(t, out.For("c1"))
	assert.Equal(t, []domain.Participant{member("u2", "Bob", "c2")}, r.Registry().Snapshot("R1"))
	require.Len(t, out.Presence, 1)
	assert.Equal(t, domain.PresenceLeft, out.Presence[0].Type)
}

func TestRelay_ScenarioE_RoomSwitch(t *testing.T) {
	r := newTestRelay("c1", "c2", "c3")
	join(t, r, "c2", "R1", "u2", "Bob")
	join(t, r, "c3", "R2", "u3", "Carol")
	join(t, r, "c1", "R1", "u1", "Alice")

	out := join(t, r, "c1", "R2", "u1", "Alice")

	require.NoError(t, out.Err)
	assert.NotContains(t, r.Registry().Snapshot("R1"), member("u1", "Alice", "c1"))
	assert.Contains(t, r.Registry().Snapshot("R2"), member("u1", "Alice", "c1"))
	assert.Equal(t, []Outbound{{Type: TypeUserDisconnected, Data: identity("u1", "Alice")}}, out.For("c2"))
	assert.Equal(t, []Outbound{{Type: TypeUserJoined, Data: identity("u1", "Alice")}}, out.For("c3"))

	ctx, ok := mustSession(t, r, "c1").Context()
	require.True(t, ok)
	assert.Equal(t, domain.RoomID("R2"), ctx.RoomID)
}

func mustSession(t *testing.T, r *Relay, id domain.ConnID) *core.Session {
	t.Helper()
	s, ok := r.Session(id)
	require.True(t, ok)
	return s
}

func TestRelay_JoinRoundTrip(t *testing.T) {
	r := newTestRelay("c1", "c2", "c3")
	join(t, r, "c1", "R1", "u1", "Alice")
	join(t, r, "c2", "R1", "u2", "Bob")
	before := r.Registry().Snapshot("R1")

	join(t, r, "c3", "R1", "u3", "Carol")
	r.Disconnect("c3")

	assert.Equal(t, before, r.Registry().Snapshot("R1"))
}

func TestRelay_MalformedJoin(t *testing.T) {
	tests := []struct {
		name    string
		payload json.RawMessage
		wantErr error
	}{
		{name: "not json", payload: json.RawMessage(`{`), wantErr: ErrMalformed},
		{name: "empty payload", payload: nil, wantErr: ErrMalformed},
		{name: "missing room", payload: json.RawMessage(`{"participantId":"u1","displayName":"Alice"}`), wantErr: domain.ErrRoomIDEmpty},
		{name: "missing participant", payload: json.RawMessage(`{"roomId":"R1","displayName":"Alice"}`), wantErr: domain.ErrParticipantIDEmpty},
		{name: "missing name", payload: json.RawMessage(`{"roomId":"R1","participantId":"u1"}`), wantErr: domain.ErrDisplayNameEmpty},
		{name: "wrong types", payload: json.RawMessage(`{"roomId":1,"participantId":"u1","displayName":"A"}`), wantErr: ErrMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRelay("c1")

			out := r.Handle(Inbound{ConnID: "c1", Kind: KindJoin, Payload: tt.payload})

			require.ErrorIs(t, out.Err, ErrMalformed)
			require.ErrorIs(t, out.Err, tt.wantErr)
			assert.Empty(t, out.Deliveries)
			assert.Equal(t, core.Unjoined, mustSession(t, r, "c1").State())
			assert.Empty(t, r.Registry().Rooms())
		})
	}
}

func TestRelay_MalformedJoinKeepsExistingMembership(t *testing.T) {
	r := newTestRelay("c1")
	join(t, r, "c1", "R1", "u1", "Alice")

	out := join(t, r, "c1", "", "u1", "Alice")

	require.ErrorIs(t, out.Err, ErrMalformed)
	assert.Len(t, r.Registry().Snapshot("R1"), 1)
	assert.Equal(t, core.Joined, mustSession(t, r, "c1").State())
}

func TestRelay_EventsBeforeJoinAreDropped(t *testing.T) {
	kinds := []Kind{
		KindLeave, KindChat, KindReaction, KindStatusUpdate, KindScreenShareStart,
		KindScreenShareStop, KindThemeChange, KindInfoRequest, KindInfoResponse,
	}
	for _, kind := range kinds {
		t.Run(string(kind), func(t *testing.T) {
			r := newTestRelay("c1", "c2")
			join(t, r, "c2", "R1", "u2", "Bob")

			out := r.Handle(Inbound{ConnID: "c1", Kind: kind, Payload: json.RawMessage(`{"body":"x"}`)})

			require.ErrorIs(t, out.Err, ErrNotJoined)
			assert.Empty(t, out.Deliveries)
			assert.Equal(t, core.Unjoined, mustSession(t, r, "c1").State())
		})
	}
}

func TestRelay_UnknownConnectionAndKind(t *testing.T) {
	r := newTestRelay("c1")

	assert.ErrorIs(t, send(t, r, "ghost", KindChat, ChatPayload{Body: "hi"}).Err, ErrUnknownConn)
	assert.ErrorIs(t, send(t, r, "c1", Kind("teleport"), nil).Err, ErrUnknownKind)
}

func TestRelay_ExplicitLeave(t *testing.T) {
	r := newTestRelay("c1", "c2")
	join(t, r, "c1", "R1", "u1", "Alice")
	join(t, r, "c2", "R1", "u2", "Bob")

	out := send(t, r, "c1", KindLeave, nil)

	require.NoError(t, out.Err)
	assert.Equal(t, []Outbound{{Type: TypeLeft}}, out.For("c1"))
	assert.Equal(t, []Outbound{{Type: TypeUserDisconnected, Data: identity("u1", "Alice")}}, out.For("c2"))
	assert.Equal(t, core.Closed, mustSession(t, r, "c1").State())

	late := send(t, r, "c1", KindChat, ChatPayload{Body: "still here?"})
	assert.ErrorIs(t, late.Err, ErrClosed)
	assert.Empty(t, late.Deliveries)

	rejoin := join(t, r, "c1", "R1", "u1", "Alice")
	assert.ErrorIs(t, rejoin.Err, ErrClosed, "closed is terminal")

	assert.Empty(t, r.Disconnect("c1").Deliveries)
}

func TestRelay_DisconnectWithoutJoin(t *testing.T) {
	r := newTestRelay("c1")

	out := r.Disconnect("c1")

	assert.Equal(t, Outcome{}, out)
	assert.Equal(t, Outcome{}, r.Disconnect("c1"), "double disconnect")
	_, ok := r.Session("c1")
	assert.False(t, ok)
}

func TestRelay_RejoinSameRoomReannounces(t *testing.T) {
	r := newTestRelay("c1", "c2")
	join(t, r, "c1", "R1", "u1", "Alice")
	join(t, r, "c2", "R1", "u2", "Bob")

	out := join(t, r, "c1", "R1", "u1", "Alice")

	assert.Equal(t, []Outbound{{Type: TypeUserJoined, Data: identity("u1", "Alice")}}, out.For("c2"))
	assert.Equal(t, []Outbound{{Type: TypeRoomState, Data: RoomState{
		RoomID:  "R1",
		Members: []domain.Participant{member("u2", "Bob", "c2")},
	}}}, out.For("c1"))
	assert.Len(t, r.Registry().Snapshot("R1"), 2)
	require.Len(t, out.Presence, 1)
	assert.True(t, out.Presence[0].Rejoin)
}

func TestRelay_ReconnectReplacesStaleConnection(t *testing.T) {
	r := newTestRelay("c1", "c2", "c3")
	join(t, r, "c1", "R1", "u1", "Alice")
	join(t, r, "c2", "R1", "u2", "Bob")

	out := join(t, r, "c3", "R1", "u1", "Alice")

	require.NoError(t, out.Err)
	assert.Equal(t, []Outbound{{Type: TypeReplaced}}, out.For("c1"))
	assert.Equal(t, []domain.ConnID{"c1"}, out.Close)
	assert.Equal(t, []Outbound{{Type: TypeRoomState, Data: RoomState{
		RoomID:  "R1",
		Members: []domain.Participant{member("u2", "Bob", "c2")},
	}}}, out.For("c3"))
	assert.Equal(t, []Outbound{{Type: TypeUserJoined, Data: identity("u1", "Alice")}}, out.For("c2"))
	assert.Equal(t, core.Closed, mustSession(t, r, "c1").State())

	stale := r.Disconnect("c1")
	assert.Empty(t, stale.Deliveries, "the participant is still present through c3")
	assert.Equal(t, []domain.Participant{
		member("u1", "Alice", "c3"),
		member("u2", "Bob", "c2"),
	}, r.Registry().Snapshot("R1"))
}

func TestRelay_StatusUpdate(t *testing.T) {
	r := newTestRelay("c1", "c2", "c3")
	join(t, r, "c1", "R1", "u1", "Alice")
	join(t, r, "c2", "R1", "u2", "Bob")

	send(t, r, "c1", KindStatusUpdate, StatusPayload{Patch: domain.Status{"muted": true, "videoOn": true}})
	out := send(t, r, "c1", KindStatusUpdate, StatusPayload{Patch: domain.Status{"muted": false}})

	require.NoError(t, out.Err)
	assert.Empty(t, out.For("c1"), "status updates skip the sender")
	assert.Equal(t, []Outbound{{Type: TypeUserStatusUpdate, Data: UserStatusUpdate{
		ParticipantID: "u1",
		Patch:         domain.Status{"muted": false},
	}}}, out.For("c2"))

	p, ok := r.Registry().Member("R1", "u1")
	require.True(t, ok)
	assert.Equal(t, domain.Status{"muted": false, "videoOn": true}, p.Status)

	late := join(t, r, "c3", "R1", "u3", "Carol")
	state := late.For("c3")[0].Data.(RoomState)
	assert.Equal(t, domain.Status{"muted": false, "videoOn": true}, state.Members[0].Status)
}

func TestRelay_StatusUpdateRejectsEmptyPatch(t *testing.T) {
	r := newTestRelay("c1", "c2")
	join(t, r, "c1", "R1", "u1", "Alice")
	join(t, r, "c2", "R1", "u2", "Bob")

	out := send(t, r, "c1", KindStatusUpdate, StatusPayload{Patch: domain.Status{}})

	assert.ErrorIs(t, out.Err, ErrMalformed)
	assert.Empty(t, out.Deliveries)
}

func TestRelay_RoomWideEvents(t *testing.T) {
	tests := []struct {
		name string
		kind Kind
		body any
		want Outbound
	}{
		{
			name: "reaction",
			kind: KindReaction,
			body: ReactionPayload{Emoji: ":tada:"},
			want: Outbound{Type: TypeReactionReceived, Data: ReactionReceived{EmojiCode: ":tada:", SenderID: "u1", SenderName: "Alice"}},
		},
		{
			name: "screen share start",
			kind: KindScreenShareStart,
			want: Outbound{Type: TypeScreenShareActive, Data: identity("u1", "Alice")},
		},
		{
			name: "screen share stop",
			kind: KindScreenShareStop,
			want: Outbound{Type: TypeScreenShareInactive, Data: identity("u1", "Alice")},
		},
		{
			name: "theme",
			kind: KindThemeChange,
			body: ThemePayload{ThemeID: "dark"},
			want: Outbound{Type: TypeThemeChanged, Data: ThemeChanged{ThemeID: "dark"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRelay("c1", "c2", "c3")
			join(t, r, "c1", "R1", "u1", "Alice")
			join(t, r, "c2", "R1", "u2", "Bob")
			join(t, r, "c3", "R2", "u3", "Carol")

			out := send(t, r, "c1", tt.kind, tt.body)

			require.NoError(t, out.Err)
			assert.Equal(t, []Outbound{tt.want}, out.For("c1"))
			assert.Equal(t, []Outbound{tt.want}, out.For("c2"))
			assert.Empty(t, out.For("c3"), "no cross-room delivery")
		})
	}
}

func TestRelay_RoomWideEventsRejectMalformed(t *testing.T) {
	r := newTestRelay("c1")
	join(t, r, "c1", "R1", "u1", "Alice")

	assert.ErrorIs(t, send(t, r, "c1", KindChat, ChatPayload{Body: "   "}).Err, ErrMalformed)
	assert.ErrorIs(t, send(t, r, "c1", KindChat, nil).Err, ErrMalformed)
	assert.ErrorIs(t, send(t, r, "c1", KindReaction, ReactionPayload{}).Err, ErrMalformed)
	assert.ErrorIs(t, send(t, r, "c1", KindThemeChange, ThemePayload{}).Err, ErrMalformed)
	assert.ErrorIs(t, r.Handle(Inbound{ConnID: "c1", Kind: KindChat, Payload: json.RawMessage(`[]`)}).Err, ErrMalformed)
}

func TestRelay_ScreenShareAndThemeAreRemembered(t *testing.T) {
	r := newTestRelay("c1", "c2")
	join(t, r, "c1", "R1", "u1", "Alice")
	send(t, r, "c1", KindScreenShareStart, nil)
	send(t, r, "c1", KindThemeChange, ThemePayload{ThemeID: "dark"})

	out := join(t, r, "c2", "R1", "u2", "Bob")

	state := out.For("c2")[0].Data.(RoomState)
	assert.Equal(t, "dark", state.Theme)
	assert.Equal(t, domain.Status{StatusScreenSharing: true}, state.Members[0].Status)
}

func TestRelay_TargetedInfo(t *testing.T) {
	r := newTestRelay("c1", "c2", "c3")
	join(t, r, "c1", "R1", "u1", "Alice")
	join(t, r, "c2", "R1", "u2", "Bob")
	join(t, r, "c3", "R1", "u3", "Carol")
	info := json.RawMessage(`{"want":"peerId"}`)

	out := send(t, r, "c1", KindInfoRequest, InfoPayload{TargetID: "u2", Info: info})

	require.NoError(t, out.Err)
	assert.Equal(t, []Outbound{{Type: TypeInfoRequested, Data: InfoRequested{RequesterID: "u1", RequesterName: "Alice", Info: info}}}, out.For("c2"))
	assert.Empty(t, out.For("c1"))
	assert.Empty(t, out.For("c3"))

	reply := send(t, r, "c2", KindInfoResponse, InfoPayload{TargetID: "u1", Info: json.RawMessage(`"p-42"`)})
	assert.Equal(t, []Outbound{{Type: TypeInfoReceived, Data: InfoReceived{SenderID: "u2", SenderName: "Bob", Info: json.RawMessage(`"p-42"`)}}}, reply.For("c1"))
}

func TestRelay_TargetNotFound(t *testing.T) {
	r := newTestRelay("c1", "c2")
	join(t, r, "c1", "R1", "u1", "Alice")
	join(t, r, "c2", "R2", "u2", "Bob")

	out := send(t, r, "c1", KindInfoRequest, InfoPayload{TargetID: "u2"})

	assert.ErrorIs(t, out.Err, ErrTargetNotFound)
	assert.Empty(t, out.Deliveries)
}

func TestRelay_PingAndWhoAmI(t *testing.T) {
	r := newTestRelay("c1")

	assert.Equal(t, []Outbound{{Type: TypePong}}, send(t, r, "c1", KindPing, nil).For("c1"))
	assert.Equal(t, []Outbound{{Type: TypeWhoAmI, Data: WhoAmI{ConnID: "c1", State: "unjoined"}}},
		send(t, r, "c1", KindWhoAmI, nil).For("c1"))

	join(t, r, "c1", "R1", "u1", "Alice")
	assert.Equal(t, []Outbound{{Type: TypeWhoAmI, Data: WhoAmI{
		ConnID: "c1", State: "joined", RoomID: "R1", ParticipantID: "u1", DisplayName: "Alice",
	}}}, send(t, r, "c1", KindWhoAmI, nil).For("c1"))

	send(t, r, "c1", KindLeave, nil)
	assert.Equal(t, []Outbound{{Type: TypePong}}, send(t, r, "c1", KindPing, nil).For("c1"))
}

func TestRelay_RateLimitedChat(t *testing.T) {
	limiter := NewRoomRateLimiter(2, time.Minute)
	r := NewRelay(core.NewRegistry(), limiter)
	r.Connect("c1", nil)
	r.Connect("c2", nil)
	join(t, r, "c1", "R1", "u1", "Alice")
	join(t, r, "c2", "R1", "u2", "Bob")

	require.NoError(t, send(t, r, "c1", KindChat, ChatPayload{Body: "1"}).Err)
	require.NoError(t, send(t, r, "c1", KindReaction, ReactionPayload{Emoji: "+1"}).Err)
	out := send(t, r, "c1", KindChat, ChatPayload{Body: "3"})

	require.ErrorIs(t, out.Err, ErrRateLimited)
	assert.Equal(t, []Outbound{{Type: TypeError, Data: ErrorEvent{Code: "rate_limited"}}}, out.For("c1"))
	assert.Empty(t, out.For("c2"))

	assert.NoError(t, send(t, r, "c2", KindChat, ChatPayload{Body: "bob is fine"}).Err)
}

func TestRelay_Kick(t *testing.T) {
	r := newTestRelay("c1", "c2")
	join(t, r, "c1", "R1", "u1", "Alice")
	join(t, r, "c2", "R1", "u2", "Bob")

	out := r.Kick("c1")

	assert.Equal(t, []domain.ConnID{"c1"}, out.Close)
	assert.Equal(t, []Outbound{{Type: TypeUserDisconnected, Data: identity("u1", "Alice")}}, out.For("c2"))
	assert.Equal(t, core.Closed, mustSession(t, r, "c1").State())
	assert.Equal(t, Outcome{}, r.Kick("ghost"))
}

// Random join/leave/disconnect sequences must keep the registry and the
// session table in agreement.
func TestRelay_RandomSequencesKeepRegistryConsistent(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	r := newTestRelay()
	rooms := []string{"R1", "R2", "R3"}
	next := 0

	for step := 0; step < 2000; step++ {
		switch op := rng.Intn(10); {
		case op < 2:
			next++
			r.Connect(domain.ConnID(fmt.Sprintf("c%d", next)), nil)
		case op < 6 && next > 0:
			conn := domain.ConnID(fmt.Sprintf("c%d", rng.Intn(next)+1))
			pid := fmt.Sprintf("u%d", rng.Intn(8))
			out := r.Handle(Inbound{ConnID: conn, Kind: KindJoin, Payload: payload(t, JoinPayload{
				RoomID: rooms[rng.Intn(len(rooms))], ParticipantID: pid, DisplayName: pid,
			})})
			for _, c := range out.Close {
				r.Disconnect(c)
			}
		case op < 8 && next > 0:
			r.Disconnect(domain.ConnID(fmt.Sprintf("c%d", rng.Intn(next)+1)))
		case next > 0:
			r.Handle(Inbound{ConnID: domain.ConnID(fmt.Sprintf("c%d", rng.Intn(next)+1)), Kind: KindLeave})
		}

		for _, room := range rooms {
			joined := map[domain.ConnID]core.SessionContext{}
			for id, s := range r.sessions {
				if ctx, ok := s.Context(); ok && ctx.RoomID == domain.RoomID(room) {
					joined[id] = ctx
				}
			}
			snap := r.Registry().Snapshot(domain.RoomID(room))
			require.Len(t, snap, len(joined), "step %d room %s", step, room)
			seen := map[domain.ParticipantID]bool{}
			for _, m := range snap {
				require.False(t, seen[m.ID], "step %d duplicate %s", step, m.ID)
				seen[m.ID] = true
				ctx, ok := joined[m.ConnID]
				require.True(t, ok, "step %d member %s has no joined connection", step, m.ID)
				require.Equal(t, m.ID, ctx.ParticipantID)
			}
		}
	}
}

func TestRelay_ShutdownClosesSilently(t *testing.T) {
	r := newTestRelay("c1", "c2", "c3")
	join(t, r, "c1", "R1", "u1", "Alice")
	join(t, r, "c2", "R1", "u2", "Bob")

	out := r.Shutdown()

	assert.Empty(t, out.Presence)
	assert.Equal(t, []domain.ConnID{"c1", "c2", "c3"}, out.Close)
	require.Len(t, out.Deliveries, 1)
	assert.Equal(t, TypeShutdown, out.Deliveries[0].Event.Type)
	assert.Equal(t, []domain.ConnID{"c1", "c2", "c3"}, out.Deliveries[0].To)
	for _, id := range []domain.ConnID{"c1", "c2", "c3"} {
		s, ok := r.Session(id)
		require.True(t, ok)
		assert.Equal(t, core.Closed, s.State())
	}
	assert.Empty(t, send(t, r, "c1", KindChat, ChatPayload{Body: "late"}).Deliveries)
}
