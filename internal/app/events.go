package app

import (
	"encoding/json"

	"github.com/dkeye/Huddle/internal/domain"
)

// Kind names an inbound event.
type Kind string

const (
	KindJoin             Kind = "join"
	KindLeave            Kind = "leave"
	KindChat             Kind = "chat"
	KindReaction         Kind = "reaction"
	KindStatusUpdate     Kind = "statusUpdate"
	KindScreenShareStart Kind = "screenShareStart"
	KindScreenShareStop  Kind = "screenShareStop"
	KindThemeChange      Kind = "themeChange"
	KindInfoRequest      Kind = "infoRequest"
	KindInfoResponse     Kind = "infoResponse"
	KindPing             Kind = "ping"
	KindWhoAmI           Kind = "whoami"
)

// Outbound event types.
const (
	TypeRoomState           = "roomState"
	TypeUserJoined          = "userJoined"
	TypeUserDisconnected    = "userDisconnected"
	TypeChatMessage         = "chatMessage"
	TypeReactionReceived    = "reactionReceived"
	TypeUserStatusUpdate    = "userStatusUpdate"
	TypeScreenShareActive   = "screenShareActive"
	TypeScreenShareInactive = "screenShareInactive"
	TypeThemeChanged        = "themeChanged"
	TypeInfoRequested       = "infoRequested"
	TypeInfoReceived        = "infoReceived"
	TypeLeft                = "left"
	TypeReplaced            = "replaced"
	TypeShutdown            = "serverShutdown"
	TypePong                = "pong"
	TypeWhoAmI              = "whoami"
	TypeError               = "error"
)

// StatusScreenSharing is the status key maintained by screen-share events.
const StatusScreenSharing = "screenSharing"

// Inbound is one event delivered by a transport on behalf of a connection.
type Inbound struct {
	ConnID  domain.ConnID
	Kind    Kind
	Payload json.RawMessage
}

// Outbound is the wire envelope sent to clients.
type Outbound struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

type JoinPayload struct {
	RoomID        string `json:"roomId"`
	ParticipantID string `json:"participantId"`
	DisplayName   string `json:"displayName"`
}

type ChatPayload struct {
	Body string `json:"body" validate:"required,max=2000"`
}

type ReactionPayload struct {
	Emoji string `json:"emoji" validate:"required,max=32"`
}

type StatusPayload struct {
	Patch domain.Status `json:"patch" validate:"required,min=1,max=16"`
}

type ThemePayload struct {
	ThemeID string `json:"themeId" validate:"required,max=64"`
}

type InfoPayload struct {
	TargetID string          `json:"targetId" validate:"required,max=64"`
	Info     json.RawMessage `json:"info,omitempty" validate:"max=4096"`
}

// RoomState is sent to a joiner only and never lists the joiner itself.
type RoomState struct {
	RoomID  domain.RoomID        `json:"roomId"`
	Members []domain.Participant `json:"members"`
	Theme   string               `json:"theme,omitempty"`
}

type ChatMessage struct {
	Body       string               `json:"body"`
	SenderID   domain.ParticipantID `json:"senderId"`
	SenderName string               `json:"senderName"`
}

type ReactionReceived struct {
	EmojiCode  string               `json:"emojiCode"`
	SenderID   domain.ParticipantID `json:"senderId"`
	SenderName string               `json:"senderName"`
}

type UserStatusUpdate struct {
	ParticipantID domain.ParticipantID `json:"participantId"`
	Patch         domain.Status        `json:"patch"`
}

type ThemeChanged struct {
	ThemeID string `json:"themeId"`
}

type InfoRequested struct {
	RequesterID   domain.ParticipantID `json:"requesterId"`
	RequesterName string               `json:"requesterName"`
	Info          json.RawMessage      `json:"info,omitempty"`
}

type InfoReceived struct {
	SenderID   domain.ParticipantID `json:"senderId"`
	SenderName string               `json:"senderName"`
	Info       json.RawMessage      `json:"info,omitempty"`
}

type WhoAmI struct {
	ConnID        domain.ConnID        `json:"connId"`
	State         string               `json:"state"`
	RoomID        domain.RoomID        `json:"roomId,omitempty"`
	ParticipantID domain.ParticipantID `json:"participantId,omitempty"`
	DisplayName   string               `json:"displayName,omitempty"`
}

type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}
