package transport

import (
	"context"
	"errors"
	"testing"
	"time"
)

func drainEvents(room *MemoryRoom) []Event {
	var out []Event
	for {
		select {
		case ev, ok := <-room.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestMemoryRoomParticipantLifecycle(t *testing.T) {
	room := NewMemoryRoom("room-1")

	room.AddParticipant("caller", KindTelephony, map[string]string{AttrCallStatus: CallStatusDialing})
	room.SetAttribute("caller", AttrCallStatus, CallStatusActive)
	room.RemoveParticipant("caller", DisconnectUserRejected)

	events := drainEvents(room)
	if len(events) != 3 {
		t.Fatalf("events = %d, want 3", len(events))
	}
	if events[0].EventType() != "participant_joined" {
		t.Errorf("event[0] = %s", events[0].EventType())
	}
	changed, ok := events[1].(AttributesChangedEvent)
	if !ok || changed.Attributes[AttrCallStatus] != CallStatusActive {
		t.Errorf("event[1] = %#v", events[1])
	}
	left, ok := events[2].(ParticipantLeftEvent)
	if !ok || left.Reason != DisconnectUserRejected || left.Kind != KindTelephony {
		t.Errorf("event[2] = %#v", events[2])
	}

	if _, ok := room.Participant("caller"); ok {
		t.Error("participant still present after removal")
	}
}

func TestMemoryRoomCloseEndsStream(t *testing.T) {
	room := NewMemoryRoom("room-1")
	if err := room.Disconnect(); err != nil {
		t.Fatalf("Disconnect() error: %v", err)
	}

	events := drainEvents(room)
	if len(events) != 1 || events[0].EventType() != "room_closed" {
		t.Fatalf("events = %#v", events)
	}

	// Emitting after close is a no-op, not a panic.
	room.Emit(DataMessageEvent{From: "x"})

	if _, ok := <-room.Events(); ok {
		t.Error("event stream still open after close")
	}
}

func TestMemoryRoomServiceCreateSIPParticipant(t *testing.T) {
	svc := NewMemoryRoomService()
	room := NewMemoryRoom("room-1")
	svc.AddRoom(room)

	p, err := svc.CreateSIPParticipant(context.Background(), SIPParticipantRequest{
		TrunkID:  "trunk-a",
		Number:   "+15550001111",
		RoomName: "room-1",
		Identity: "idt_+15550001111",
	})
	if err != nil {
		t.Fatalf("CreateSIPParticipant() error: %v", err)
	}
	if p.Kind() != KindTelephony {
		t.Errorf("kind = %q", p.Kind())
	}
	if p.Attribute(AttrCallStatus) != CallStatusDialing {
		t.Errorf("call status = %q, want dialing", p.Attribute(AttrCallStatus))
	}
	if _, ok := room.Participant("idt_+15550001111"); !ok {
		t.Error("telephony participant not in room")
	}

	calls := svc.CreateCalls()
	if len(calls) != 1 || calls[0].TrunkID != "trunk-a" {
		t.Errorf("create calls = %#v", calls)
	}
}

func TestMemoryRoomServiceScriptedFailures(t *testing.T) {
	svc := NewMemoryRoomService()
	room := NewMemoryRoom("room-1")
	svc.AddRoom(room)

	boom := errors.New("trunk unavailable")
	svc.FailNextCreates(boom)

	_, err := svc.CreateSIPParticipant(context.Background(), SIPParticipantRequest{RoomName: "room-1", Identity: "a"})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want scripted failure", err)
	}
	if _, err := svc.CreateSIPParticipant(context.Background(), SIPParticipantRequest{RoomName: "room-1", Identity: "a"}); err != nil {
		t.Fatalf("second create failed: %v", err)
	}
}

func TestWaitForParticipant(t *testing.T) {
	svc := NewMemoryRoomService()
	room := NewMemoryRoom("room-1")
	svc.AddRoom(room)
	svc.SetJoinDelay(150 * time.Millisecond)

	if _, err := svc.CreateSIPParticipant(context.Background(), SIPParticipantRequest{RoomName: "room-1", Identity: "late"}); err != nil {
		t.Fatal(err)
	}

	p, err := WaitForParticipant(context.Background(), room, "late", time.Second)
	if err != nil {
		t.Fatalf("WaitForParticipant() error: %v", err)
	}
	if p.Identity() != "late" {
		t.Errorf("identity = %q", p.Identity())
	}

	if _, err := WaitForParticipant(context.Background(), room, "never", 200*time.Millisecond); err == nil {
		t.Error("expected timeout waiting for absent participant")
	}
}

func TestAttachTranscription(t *testing.T) {
	room := NewMemoryRoom("room-1")
	room.AddParticipant("caller", KindTelephony, nil)

	if err := room.AttachTranscription("caller"); err != nil {
		t.Fatalf("AttachTranscription() error: %v", err)
	}
	if !room.Transcribing("caller") {
		t.Error("transcription not recorded")
	}
	if err := room.AttachTranscription("ghost"); err == nil {
		t.Error("expected error for unknown participant")
	}
}
