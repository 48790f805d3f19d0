package transport

// Event is the tagged union flowing through a session's event stream.
// Each concrete event identifies itself via EventType.
type Event interface {
	EventType() string
}

// ParticipantJoinedEvent fires when a participant enters the room.
type ParticipantJoinedEvent struct {
	Participant Participant
}

func (ParticipantJoinedEvent) EventType() string { return "participant_joined" }

// ParticipantLeftEvent fires when a participant leaves the room.
type ParticipantLeftEvent struct {
	Identity string
	Kind     ParticipantKind
	Reason   DisconnectReason
}

func (ParticipantLeftEvent) EventType() string { return "participant_left" }

// AttributesChangedEvent fires when a participant's attributes change.
type AttributesChangedEvent struct {
	Identity   string
	Attributes map[string]string
}

func (AttributesChangedEvent) EventType() string { return "attributes_changed" }

// UserSpeechEvent carries a transcription delta for a remote
// participant.
type UserSpeechEvent struct {
	Identity string
	Text     string
	Final    bool
}

func (UserSpeechEvent) EventType() string { return "user_speech" }

// AgentSpeechCommittedEvent fires when the agent finishes speaking an
// utterance.
type AgentSpeechCommittedEvent struct {
	Text string
}

func (AgentSpeechCommittedEvent) EventType() string { return "agent_speech_committed" }

// AgentSpeechInterruptedEvent fires when the user barges in over agent
// speech.
type AgentSpeechInterruptedEvent struct {
	Identity string
}

func (AgentSpeechInterruptedEvent) EventType() string { return "agent_speech_interrupted" }

// DataMessageEvent carries an application payload from a participant.
type DataMessageEvent struct {
	From    string
	Payload []byte
}

func (DataMessageEvent) EventType() string { return "data_message" }

// RoomClosedEvent fires once when the room shuts down; the event stream
// closes after it.
type RoomClosedEvent struct {
	Reason string
}

func (RoomClosedEvent) EventType() string { return "room_closed" }
