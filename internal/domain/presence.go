package domain

import "time"

type PresenceKind string

const (
	PresenceJoined PresenceKind = "user-joined"
	PresenceLeft   PresenceKind = "user-left"
)

// PresenceEvent describes one membership change, published for external observers.
type PresenceEvent struct {
	Type          PresenceKind  `json:"type"`
	RoomID        RoomID        `json:"roomId"`
	ParticipantID ParticipantID `json:"participantId"`
	DisplayName   string        `json:"displayName"`
	Rejoin        bool          `json:"rejoin,omitempty"`
	InstanceID    string        `json:"instanceId,omitempty"`
	Timestamp     time.Time     `json:"timestamp"`
}
