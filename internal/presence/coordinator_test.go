package presence

import (
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/hallway/hallway/internal/config"
	"github.com/hallway/hallway/internal/metrics"
	"github.com/hallway/hallway/internal/registry"
	"github.com/hallway/hallway/internal/room"
)

// fakeTransport records per-connection event streams. Broadcast resolves
// membership from the room store the way the websocket hub does.
type fakeTransport struct {
	store *room.Store

	mu     sync.Mutex
	events map[string][]Event
}

func (f *fakeTransport) Send(connID string, ev Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events[connID] = append(f.events[connID], ev)
}

func (f *fakeTransport) Broadcast(roomID, excludeConnID string, ev Event) {
	members, err := f.store.Members(roomID)
	if err != nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range members {
		if m.ID == excludeConnID {
			continue
		}
		f.events[m.ID] = append(f.events[m.ID], ev)
	}
}

func (f *fakeTransport) eventsFor(connID string) []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Event(nil), f.events[connID]...)
}

func (f *fakeTransport) countType(connID string, t EventType) int {
	n := 0
	for _, ev := range f.eventsFor(connID) {
		if ev.Type == t {
			n++
		}
	}
	return n
}

func (f *fakeTransport) lastOfType(connID string, t EventType) (Event, bool) {
	var (
		out   Event
		found bool
	)
	for _, ev := range f.eventsFor(connID) {
		if ev.Type == t {
			out, found = ev, true
		}
	}
	return out, found
}

func snapshotParticipants(t *testing.T, ev Event) []Participant {
	t.Helper()
	if ev.Participants == nil {
		t.Fatalf("existing-participants event has no participant list: %#v", ev)
	}
	return *ev.Participants
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestCoordinator(t *testing.T) (*Coordinator, *fakeTransport, *room.Store) {
	t.Helper()
	store := room.NewStore(config.Config{}, metrics.New())
	transport := &fakeTransport{store: store, events: make(map[string][]Event)}
	coord := NewCoordinator(discardLogger(), registry.New(), store, transport)
	return coord, transport, store
}

func connect(t *testing.T, c *Coordinator, connID string) {
	t.Helper()
	if err := c.Connect(connID); err != nil {
		t.Fatalf("Connect(%s): %v", connID, err)
	}
}

func createdRoomID(t *testing.T, tr *fakeTransport, connID string) string {
	t.Helper()
	ev, ok := tr.lastOfType(connID, EventTypeRoomCreated)
	if !ok {
		t.Fatalf("no room-created event for %s; events: %v", connID, tr.eventsFor(connID))
	}
	return ev.RoomID
}

// The rendezvous walkthrough: Alice hosts, Bob and Carol join, Bob leaves,
// then Alice disconnects and the meeting ends for Carol. A later join of the
// dead room is rejected with the user-facing not-found reason.
func TestCoordinator_MeetingLifecycle(t *testing.T) {
	coord, tr, _ := newTestCoordinator(t)

	connect(t, coord, "alice")
	connect(t, coord, "bob")
	connect(t, coord, "carol")

	for _, id := range []string{"alice", "bob", "carol"} {
		if got := tr.countType(id, EventTypeWelcome); got != 1 {
			t.Fatalf("welcome count for %s = %d", id, got)
		}
	}

	coord.CreateRoom("alice", "Alice")
	roomID := createdRoomID(t, tr, "alice")

	coord.JoinRoom("bob", roomID, "Bob")
	snap, ok := tr.lastOfType("bob", EventTypeExistingParticipants)
	if !ok {
		t.Fatalf("bob got no existing-participants: %v", tr.eventsFor("bob"))
	}
	parts := snapshotParticipants(t, snap)
	if len(parts) != 1 || parts[0].ID != "alice" || parts[0].DisplayName != "Alice" {
		t.Fatalf("bob's snapshot = %v, want [alice/Alice]", parts)
	}
	joined, ok := tr.lastOfType("alice", EventTypeParticipantJoined)
	if !ok || joined.ID != "bob" || joined.DisplayName != "Bob" {
		t.Fatalf("alice's participant-joined = (%v, %v)", joined, ok)
	}

	coord.JoinRoom("carol", roomID, "Carol")
	snap, _ = tr.lastOfType("carol", EventTypeExistingParticipants)
	if parts := snapshotParticipants(t, snap); len(parts) != 2 {
		t.Fatalf("carol's snapshot = %v, want alice+bob", parts)
	}
	if got := tr.countType("bob", EventTypeParticipantJoined); got != 1 {
		t.Fatalf("bob participant-joined count = %d", got)
	}

	coord.LeaveRoom("bob")
	for _, id := range []string{"alice", "carol"} {
		left, ok := tr.lastOfType(id, EventTypeParticipantLeft)
		if !ok || left.ID != "bob" {
			t.Fatalf("%s participant-left = (%v, %v)", id, left, ok)
		}
	}
	if got := tr.countType("bob", EventTypeParticipantLeft); got != 0 {
		t.Fatalf("leaver notified about itself: %v", tr.eventsFor("bob"))
	}

	// Owner disconnect ends the meeting: exactly one room-ended per survivor.
	coord.Disconnect("alice")
	if got := tr.countType("carol", EventTypeRoomEnded); got != 1 {
		t.Fatalf("carol room-ended count = %d", got)
	}
	if got := tr.countType("bob", EventTypeRoomEnded); got != 0 {
		t.Fatalf("bob (already left) got room-ended")
	}

	coord.JoinRoom("bob", roomID, "Bob")
	errEv, ok := tr.lastOfType("bob", EventTypeRoomError)
	if !ok || errEv.Reason != "Meeting not found" {
		t.Fatalf("join after room end = (%v, %v), want reason %q", errEv, ok, "Meeting not found")
	}

	// Carol was unbound when the room ended and may host her own meeting.
	coord.CreateRoom("carol", "Carol")
	if _, ok := tr.lastOfType("carol", EventTypeRoomCreated); !ok {
		t.Fatalf("carol could not create after room end: %v", tr.eventsFor("carol"))
	}
}

// A non-owner dropping out of {A,B,C} produces participant-left for the
// others and never ends the room.
func TestCoordinator_NonOwnerDisconnect(t *testing.T) {
	coord, tr, store := newTestCoordinator(t)

	connect(t, coord, "a")
	connect(t, coord, "b")
	connect(t, coord, "c")

	coord.CreateRoom("a", "A")
	roomID := createdRoomID(t, tr, "a")
	coord.JoinRoom("b", roomID, "B")
	coord.JoinRoom("c", roomID, "C")

	coord.Disconnect("b")

	for _, id := range []string{"a", "c"} {
		left, ok := tr.lastOfType(id, EventTypeParticipantLeft)
		if !ok || left.ID != "b" {
			t.Fatalf("%s participant-left = (%v, %v)", id, left, ok)
		}
		if got := tr.countType(id, EventTypeRoomEnded); got != 0 {
			t.Fatalf("%s got room-ended on member disconnect", id)
		}
	}

	members, err := store.Members(roomID)
	if err != nil || len(members) != 2 {
		t.Fatalf("members after disconnect = (%v, %v)", members, err)
	}
}

func TestCoordinator_RoomlessDisconnectIsSilent(t *testing.T) {
	coord, tr, _ := newTestCoordinator(t)

	connect(t, coord, "a")
	connect(t, coord, "drifter")

	coord.CreateRoom("a", "A")
	before := len(tr.eventsFor("a"))

	coord.Disconnect("drifter")
	coord.Disconnect("never-connected")

	if got := len(tr.eventsFor("a")); got != before {
		t.Fatalf("roomless disconnect produced events: %v", tr.eventsFor("a")[before:])
	}
}

func TestCoordinator_CreateWhileInRoom(t *testing.T) {
	coord, tr, store := newTestCoordinator(t)

	connect(t, coord, "a")
	coord.CreateRoom("a", "A")

	coord.CreateRoom("a", "A")
	errEv, ok := tr.lastOfType("a", EventTypeRoomError)
	if !ok || errEv.Reason != ReasonAlreadyInRoom {
		t.Fatalf("second create = (%v, %v)", errEv, ok)
	}
	if store.Len() != 1 {
		t.Fatalf("room count = %d, want 1", store.Len())
	}
}

func TestCoordinator_LeaveWithoutRoom(t *testing.T) {
	coord, tr, _ := newTestCoordinator(t)

	connect(t, coord, "a")
	coord.LeaveRoom("a")

	errEv, ok := tr.lastOfType("a", EventTypeRoomError)
	if !ok || errEv.Reason != ReasonNotInRoom {
		t.Fatalf("leave without room = (%v, %v)", errEv, ok)
	}
}

// A join from a connection the registry never saw must not leave a phantom
// member behind.
func TestCoordinator_JoinRollbackOnUnknownConnection(t *testing.T) {
	coord, tr, store := newTestCoordinator(t)

	connect(t, coord, "a")
	coord.CreateRoom("a", "A")
	roomID := createdRoomID(t, tr, "a")

	coord.JoinRoom("ghost", roomID, "Ghost")

	members, err := store.Members(roomID)
	if err != nil {
		t.Fatalf("Members: %v", err)
	}
	if len(members) != 1 || members[0].ID != "a" {
		t.Fatalf("members after ghost join = %v", members)
	}
}

func TestCoordinator_JoinFullRoom(t *testing.T) {
	store := room.NewStore(config.Config{MaxRoomMembers: 1}, metrics.New())
	tr := &fakeTransport{store: store, events: make(map[string][]Event)}
	coord := NewCoordinator(discardLogger(), registry.New(), store, tr)

	connect(t, coord, "a")
	connect(t, coord, "b")
	coord.CreateRoom("a", "A")
	roomID := createdRoomID(t, tr, "a")

	coord.JoinRoom("b", roomID, "B")
	errEv, ok := tr.lastOfType("b", EventTypeRoomError)
	if !ok || errEv.Reason != ReasonRoomFull {
		t.Fatalf("join full room = (%v, %v)", errEv, ok)
	}
}
