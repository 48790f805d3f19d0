package transport

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryParticipant is the in-memory Participant used by tests and local
// development.
type MemoryParticipant struct {
	mu    sync.Mutex
	id    string
	kind  ParticipantKind
	attrs map[string]string
}

// Identity returns the participant identity.
func (p *MemoryParticipant) Identity() string { return p.id }

// Kind reports how the participant joined.
func (p *MemoryParticipant) Kind() ParticipantKind { return p.kind }

// Attribute returns one attribute value, or "".
func (p *MemoryParticipant) Attribute(key string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attrs[key]
}

func (p *MemoryParticipant) setAttribute(key, value string) map[string]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.attrs == nil {
		p.attrs = map[string]string{}
	}
	p.attrs[key] = value
	snapshot := make(map[string]string, len(p.attrs))
	for k, v := range p.attrs {
		snapshot[k] = v
	}
	return snapshot
}

// MemoryRoom is an in-memory Room implementation. Tests script calls by
// adding participants, mutating attributes, and emitting events.
type MemoryRoom struct {
	mu           sync.Mutex
	name         string
	participants map[string]*MemoryParticipant
	transcribing map[string]bool
	events       chan Event
	sent         [][]byte
	closed       bool
}

// NewMemoryRoom creates an empty in-memory room.
func NewMemoryRoom(name string) *MemoryRoom {
	return &MemoryRoom{
		name:         name,
		participants: map[string]*MemoryParticipant{},
		transcribing: map[string]bool{},
		events:       make(chan Event, 256),
	}
}

// Name returns the room name.
func (r *MemoryRoom) Name() string { return r.name }

// Events returns the room's event stream.
func (r *MemoryRoom) Events() <-chan Event { return r.events }

// Participant looks up a remote participant by identity.
func (r *MemoryRoom) Participant(identity string) (Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.participants[identity]
	if !ok {
		return nil, false
	}
	return p, true
}

// RemoteParticipants lists the current remote participants.
func (r *MemoryRoom) RemoteParticipants() []Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Participant, 0, len(r.participants))
	for _, p := range r.participants {
		out = append(out, p)
	}
	return out
}

// AttachTranscription records the transcription attachment.
func (r *MemoryRoom) AttachTranscription(identity string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.participants[identity]; !ok {
		return fmt.Errorf("participant %q not in room", identity)
	}
	r.transcribing[identity] = true
	return nil
}

// Transcribing reports whether transcription is attached to an identity.
func (r *MemoryRoom) Transcribing(identity string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transcribing[identity]
}

// SendData records an application payload.
func (r *MemoryRoom) SendData(ctx context.Context, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("room closed")
	}
	r.sent = append(r.sent, payload)
	return nil
}

// SentData returns the payloads delivered so far.
func (r *MemoryRoom) SentData() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]byte, len(r.sent))
	copy(out, r.sent)
	return out
}

// Disconnect closes the room locally.
func (r *MemoryRoom) Disconnect() error {
	r.close("local_disconnect")
	return nil
}

func (r *MemoryRoom) close(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	select {
	case r.events <- RoomClosedEvent{Reason: reason}:
	default:
	}
	close(r.events)
}

// AddParticipant places a participant in the room and emits the join
// event.
func (r *MemoryRoom) AddParticipant(identity string, kind ParticipantKind, attrs map[string]string) *MemoryParticipant {
	copied := make(map[string]string, len(attrs))
	for k, v := range attrs {
		copied[k] = v
	}
	p := &MemoryParticipant{id: identity, kind: kind, attrs: copied}
	r.mu.Lock()
	r.participants[identity] = p
	r.mu.Unlock()
	r.Emit(ParticipantJoinedEvent{Participant: p})
	return p
}

// RemoveParticipant takes a participant out of the room and emits the
// leave event.
func (r *MemoryRoom) RemoveParticipant(identity string, reason DisconnectReason) {
	r.mu.Lock()
	p, ok := r.participants[identity]
	if ok {
		delete(r.participants, identity)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	r.Emit(ParticipantLeftEvent{Identity: identity, Kind: p.Kind(), Reason: reason})
}

// SetAttribute mutates a participant attribute and emits the change
// event.
func (r *MemoryRoom) SetAttribute(identity, key, value string) {
	r.mu.Lock()
	p, ok := r.participants[identity]
	r.mu.Unlock()
	if !ok {
		return
	}
	snapshot := p.setAttribute(key, value)
	r.Emit(AttributesChangedEvent{Identity: identity, Attributes: snapshot})
}

// Emit delivers an event to the stream, dropping it if the room already
// closed or the buffer is full.
func (r *MemoryRoom) Emit(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.events <- ev:
	default:
	}
}

// MemoryRoomService is an in-memory RoomService. Telephony legs join
// their room immediately with a dialing status unless scripted
// otherwise.
type MemoryRoomService struct {
	mu          sync.Mutex
	rooms       map[string]*MemoryRoom
	createErrs  []error
	joinDelay   time.Duration
	createCalls []SIPParticipantRequest
}

// NewMemoryRoomService creates an empty room service.
func NewMemoryRoomService() *MemoryRoomService {
	return &MemoryRoomService{rooms: map[string]*MemoryRoom{}}
}

// AddRoom registers a room with the service.
func (s *MemoryRoomService) AddRoom(room *MemoryRoom) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[room.Name()] = room
}

// OpenRoom creates and registers a room. Opening a name that already
// exists returns the existing room.
func (s *MemoryRoomService) OpenRoom(ctx context.Context, name string) (Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if room, ok := s.rooms[name]; ok {
		return room, nil
	}
	room := NewMemoryRoom(name)
	s.rooms[name] = room
	return room, nil
}

// Room returns a registered room by name.
func (s *MemoryRoomService) Room(name string) (*MemoryRoom, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[name]
	return room, ok
}

// FailNextCreates scripts errors for the next len(errs) telephony
// creations.
func (s *MemoryRoomService) FailNextCreates(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createErrs = append(s.createErrs, errs...)
}

// SetJoinDelay delays telephony participants joining their room.
func (s *MemoryRoomService) SetJoinDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.joinDelay = d
}

// CreateCalls returns the telephony creation requests seen so far.
func (s *MemoryRoomService) CreateCalls() []SIPParticipantRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SIPParticipantRequest, len(s.createCalls))
	copy(out, s.createCalls)
	return out
}

// CreateSIPParticipant dials a telephony leg into a room.
func (s *MemoryRoomService) CreateSIPParticipant(ctx context.Context, req SIPParticipantRequest) (Participant, error) {
	s.mu.Lock()
	s.createCalls = append(s.createCalls, req)
	if len(s.createErrs) > 0 {
		err := s.createErrs[0]
		s.createErrs = s.createErrs[1:]
		s.mu.Unlock()
		return nil, err
	}
	room, ok := s.rooms[req.RoomName]
	delay := s.joinDelay
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("room %q not found", req.RoomName)
	}

	p := &MemoryParticipant{
		id:   req.Identity,
		kind: KindTelephony,
		attrs: map[string]string{
			AttrCallStatus: CallStatusDialing,
		},
	}
	join := func() {
		room.mu.Lock()
		room.participants[req.Identity] = p
		room.mu.Unlock()
		room.Emit(ParticipantJoinedEvent{Participant: p})
	}
	if delay > 0 {
		time.AfterFunc(delay, join)
	} else {
		join()
	}
	return p, nil
}

// RemoveParticipant removes a participant from a room.
func (s *MemoryRoomService) RemoveParticipant(ctx context.Context, roomName, identity string) error {
	s.mu.Lock()
	room, ok := s.rooms[roomName]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("room %q not found", roomName)
	}
	room.RemoveParticipant(identity, DisconnectUnknown)
	return nil
}

// DeleteRoom tears a room down.
func (s *MemoryRoomService) DeleteRoom(ctx context.Context, roomName string) error {
	s.mu.Lock()
	room, ok := s.rooms[roomName]
	if ok {
		delete(s.rooms, roomName)
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("room %q not found", roomName)
	}
	room.close("deleted")
	return nil
}
