// Package domain contains entities without transport logic, just meta-data.
package domain

import (
	"errors"
	"fmt"
	"maps"
	"strings"
)

const (
	MaxRoomIDLen        = 64
	MaxParticipantIDLen = 64
	MaxDisplayNameLen   = 36
)

var (
	ErrRoomIDEmpty          = errors.New("room id empty")
	ErrRoomIDTooLong        = errors.New("room id too long")
	ErrParticipantIDEmpty   = errors.New("participant id empty")
	ErrParticipantIDTooLong = errors.New("participant id too long")
	ErrDisplayNameEmpty     = errors.New("display name empty")
	ErrDisplayNameTooLong   = errors.New("display name too long")
)

type (
	RoomID        string
	ParticipantID string
	// ConnID identifies one live transport session.
	ConnID string
)

// Status is the free-form per-participant state (muted, videoOn, ...).
type Status map[string]any

// Merge applies patch on top of s. Keys absent from patch are retained.
func (s Status) Merge(patch Status) Status {
	if s == nil {
		s = make(Status, len(patch))
	}
	maps.Copy(s, patch)
	return s
}

func (s Status) Clone() Status {
	if s == nil {
		return nil
	}
	return maps.Clone(s)
}

// Participant is a logical user identity inside one room.
type Participant struct {
	ID          ParticipantID `json:"participantId"`
	DisplayName string        `json:"displayName"`
	ConnID      ConnID        `json:"-"`
	Status      Status        `json:"status,omitempty"`
}

// Clone returns a copy that shares nothing mutable with p.
func (p Participant) Clone() Participant {
	p.Status = p.Status.Clone()
	return p
}

// Identity is the public {participantId, displayName} pair carried by presence events.
type Identity struct {
	ParticipantID ParticipantID `json:"participantId"`
	DisplayName   string        `json:"displayName"`
}

// JoinRequest is a normalized join triple.
type JoinRequest struct {
	RoomID        RoomID
	ParticipantID ParticipantID
	DisplayName   string
}

// NewJoinRequest trims its inputs and rejects empty or oversized values.
func NewJoinRequest(room, participant, displayName string) (JoinRequest, error) {
	req := JoinRequest{
		RoomID:        RoomID(strings.TrimSpace(room)),
		ParticipantID: ParticipantID(strings.TrimSpace(participant)),
		DisplayName:   strings.TrimSpace(displayName),
	}
	switch {
	case req.RoomID == "":
		return req, ErrRoomIDEmpty
	case len(req.RoomID) > MaxRoomIDLen:
		return req, fmt.Errorf("%w: %d > %d", ErrRoomIDTooLong, len(req.RoomID), MaxRoomIDLen)
	case req.ParticipantID == "":
		return req, ErrParticipantIDEmpty
	case len(req.ParticipantID) > MaxParticipantIDLen:
		return req, fmt.Errorf("%w: %d > %d", ErrParticipantIDTooLong, len(req.ParticipantID), MaxParticipantIDLen)
	case req.DisplayName == "":
		return req, ErrDisplayNameEmpty
	case len(req.DisplayName) > MaxDisplayNameLen:
		return req, fmt.Errorf("%w: %d > %d", ErrDisplayNameTooLong, len(req.DisplayName), MaxDisplayNameLen)
	}
	return req, nil
}
