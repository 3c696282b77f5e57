package presence

// Transport delivers events to connected clients. Delivery is best effort: a
// connection that is gone or has a full send path drops the event without
// surfacing an error to room logic.
type Transport interface {
	// Send delivers an event to a single connection.
	Send(connID string, ev Event)
	// Broadcast delivers an event to every member of the room except
	// excludeConnID (empty string excludes nobody).
	Broadcast(roomID, excludeConnID string, ev Event)
}
