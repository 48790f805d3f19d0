// Package transport abstracts the hosted real-time media service that
// call sessions run on: rooms, participants, telephony legs, and the
// event stream a session consumes. The media plane itself (codecs,
// tracks) stays inside the hosted service; sessions only see events and
// participant state.
package transport

import (
	"context"
	"time"
)

// AttrCallStatus is the participant attribute carrying telephony call
// progress for SIP legs.
const AttrCallStatus = "sip.callStatus"

// Telephony call-status attribute values.
const (
	CallStatusDialing = "dialing"
	CallStatusRinging = "ringing"
	CallStatusActive  = "active"
	CallStatusHangup  = "hangup"
)

// DisconnectReason explains why a participant left.
type DisconnectReason string

const (
	DisconnectUserRejected    DisconnectReason = "user_rejected"
	DisconnectUserUnavailable DisconnectReason = "user_unavailable"
	DisconnectRoomClosed      DisconnectReason = "room_closed"
	DisconnectUnknown         DisconnectReason = "unknown"
)

// ParticipantKind distinguishes how a participant joined.
type ParticipantKind string

const (
	KindStandard  ParticipantKind = "standard"
	KindTelephony ParticipantKind = "telephony"
	KindAgent     ParticipantKind = "agent"
)

// Participant is one member of a room.
type Participant interface {
	// Identity returns the unique participant identity.
	Identity() string
	// Kind reports how the participant joined.
	Kind() ParticipantKind
	// Attribute returns one attribute value, or "".
	Attribute(key string) string
}

// Room is a live media room from the session's point of view.
type Room interface {
	// Name returns the room name.
	Name() string
	// Events returns the session's event stream. The channel closes
	// when the room closes.
	Events() <-chan Event
	// Participant looks up a remote participant by identity.
	Participant(identity string) (Participant, bool)
	// RemoteParticipants lists the current remote participants.
	RemoteParticipants() []Participant
	// AttachTranscription starts transcribing a remote participant's
	// audio into the event stream.
	AttachTranscription(identity string) error
	// SendData delivers an application payload to the room.
	SendData(ctx context.Context, payload []byte) error
	// Disconnect leaves the room.
	Disconnect() error
}

// SIPParticipantRequest describes a telephony leg to dial into a room.
type SIPParticipantRequest struct {
	TrunkID           string
	Number            string
	RoomName          string
	Identity          string
	NoiseCancel       bool
	WaitUntilAnswered bool
}

// RoomService is the control-plane API for rooms and telephony legs.
type RoomService interface {
	// CreateSIPParticipant dials a phone number into a room as a new
	// participant. Returns once the leg is created; call progress is
	// reported through the participant's call-status attribute.
	CreateSIPParticipant(ctx context.Context, req SIPParticipantRequest) (Participant, error)
	// RemoveParticipant removes a participant from a room.
	RemoveParticipant(ctx context.Context, room, identity string) error
	// DeleteRoom tears the room down, disconnecting everyone.
	DeleteRoom(ctx context.Context, room string) error
}

// WaitForParticipant blocks until the identity appears in the room, the
// timeout passes, or ctx is cancelled.
func WaitForParticipant(ctx context.Context, room Room, identity string, timeout time.Duration) (Participant, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		if p, ok := room.Participant(identity); ok {
			return p, nil
		}
		if time.Now().After(deadline) {
			return nil, context.DeadlineExceeded
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
