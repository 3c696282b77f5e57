package presence

import (
	"errors"
	"log/slog"

	"github.com/hallway/hallway/internal/registry"
	"github.com/hallway/hallway/internal/room"
)

// User-facing failure reasons carried by room-error events.
const (
	ReasonRoomNotFound   = "Meeting not found"
	ReasonRoomFull       = "Meeting is full"
	ReasonTooManyRooms   = "Too many active meetings"
	ReasonCreateFailed   = "Could not create meeting"
	ReasonAlreadyInRoom  = "Already in a meeting"
	ReasonNotInRoom      = "Not in a meeting"
	ReasonUnknownSession = "Unknown connection"
)

// Coordinator sequences registry and room-store updates for each connection
// event and emits the resulting notifications. It holds no state of its own:
// the registry owns per-connection metadata, the store owns rooms.
type Coordinator struct {
	log       *slog.Logger
	reg       *registry.Registry
	rooms     *room.Store
	transport Transport
}

func NewCoordinator(log *slog.Logger, reg *registry.Registry, rooms *room.Store, transport Transport) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		log:       log,
		reg:       reg,
		rooms:     rooms,
		transport: transport,
	}
}

// Connect registers a fresh connection and greets it with its server-assigned
// ID.
func (c *Coordinator) Connect(connID string) error {
	if err := c.reg.Register(connID); err != nil {
		return err
	}
	c.transport.Send(connID, Welcome(connID))
	return nil
}

// CreateRoom allocates a room owned by connID. The owner is its first member.
func (c *Coordinator) CreateRoom(connID, displayName string) {
	if !c.ensureRoomless(connID) {
		return
	}

	roomID, err := c.rooms.Create(connID, displayName)
	if err != nil {
		c.transport.Send(connID, RoomError(createFailureReason(err)))
		return
	}
	if err := c.reg.SetIdentity(connID, displayName, roomID); err != nil {
		// The connection vanished between the upgrade and this call. Tear the
		// room straight back down; nobody else can have joined yet.
		c.rooms.Destroy(roomID)
		c.log.Warn("create-room for unregistered connection", "conn_id", connID, "error", err)
		return
	}

	c.log.Info("room created", "room_id", roomID, "owner_id", connID)
	c.transport.Send(connID, RoomCreated(roomID))
}

// JoinRoom adds connID to an existing room. The joiner receives a snapshot of
// the members that were present before it joined; everyone else learns about
// the joiner. A failed join leaves no membership and no identity binding.
func (c *Coordinator) JoinRoom(connID, roomID, displayName string) {
	if !c.ensureRoomless(connID) {
		return
	}

	snapshot, err := c.rooms.Join(roomID, connID, displayName)
	if err != nil {
		c.transport.Send(connID, RoomError(joinFailureReason(err)))
		return
	}
	if err := c.reg.SetIdentity(connID, displayName, roomID); err != nil {
		// Roll the half-join back so the room never sees a phantom member.
		c.rooms.Leave(roomID, connID)
		c.log.Warn("join-room for unregistered connection", "conn_id", connID, "error", err)
		return
	}

	participants := make([]Participant, 0, len(snapshot))
	for _, m := range snapshot {
		participants = append(participants, Participant{ID: m.ID, DisplayName: m.DisplayName})
	}

	c.log.Info("room joined", "room_id", roomID, "conn_id", connID)
	c.transport.Send(connID, ExistingParticipants(participants))
	c.transport.Broadcast(roomID, connID, ParticipantJoined(connID, displayName))
}

// LeaveRoom removes connID from its current room while keeping the connection
// alive for future create/join requests.
func (c *Coordinator) LeaveRoom(connID string) {
	roomID, err := c.reg.RoomID(connID)
	if err != nil {
		c.transport.Send(connID, RoomError(ReasonUnknownSession))
		return
	}
	if roomID == "" {
		c.transport.Send(connID, RoomError(ReasonNotInRoom))
		return
	}

	if err := c.reg.ClearIdentity(connID); err != nil {
		c.log.Warn("clear identity on leave", "conn_id", connID, "error", err)
	}
	c.departRoom(connID, roomID)
}

// Disconnect finalizes a closed connection: it leaves whatever room the
// connection was in and removes the registry entry. Cleanup failures are
// logged, never surfaced; the peer is already gone.
func (c *Coordinator) Disconnect(connID string) {
	roomID, err := c.reg.Unregister(connID)
	if err != nil {
		if !errors.Is(err, registry.ErrUnknownConnection) {
			c.log.Warn("unregister connection", "conn_id", connID, "error", err)
		}
		return
	}
	if roomID == "" {
		return
	}
	c.departRoom(connID, roomID)
}

// departRoom applies a departure that has already been cleared with the
// registry. The owner's departure ends the room for everyone.
func (c *Coordinator) departRoom(connID, roomID string) {
	wasOwner, ok := c.rooms.Leave(roomID, connID)
	if !ok {
		c.log.Debug("departure from missing room", "conn_id", connID, "room_id", roomID)
		return
	}

	if !wasOwner {
		c.log.Info("room left", "room_id", roomID, "conn_id", connID)
		c.transport.Broadcast(roomID, connID, ParticipantLeft(connID))
		return
	}

	remaining := c.rooms.Destroy(roomID)
	c.log.Info("room ended", "room_id", roomID, "owner_id", connID, "remaining", len(remaining))
	for _, m := range remaining {
		// The room is gone, so deliver room-ended by unicast to the final
		// member snapshot and unbind each survivor for its next create/join.
		if err := c.reg.ClearIdentity(m.ID); err != nil {
			c.log.Debug("clear identity on room end", "conn_id", m.ID, "error", err)
		}
		c.transport.Send(m.ID, RoomEnded())
	}
}

// ensureRoomless rejects create/join from a connection already bound to a
// room, and from connections the registry has never seen.
func (c *Coordinator) ensureRoomless(connID string) bool {
	roomID, err := c.reg.RoomID(connID)
	if err != nil {
		c.transport.Send(connID, RoomError(ReasonUnknownSession))
		return false
	}
	if roomID != "" {
		c.transport.Send(connID, RoomError(ReasonAlreadyInRoom))
		return false
	}
	return true
}

func createFailureReason(err error) string {
	switch {
	case errors.Is(err, room.ErrTooManyRooms):
		return ReasonTooManyRooms
	default:
		return ReasonCreateFailed
	}
}

func joinFailureReason(err error) string {
	switch {
	case errors.Is(err, room.ErrRoomNotFound):
		return ReasonRoomNotFound
	case errors.Is(err, room.ErrRoomFull):
		return ReasonRoomFull
	default:
		return ReasonRoomNotFound
	}
}
