package room

import (
	"sort"
	"sync"

	"github.com/hallway/hallway/internal/config"
	"github.com/hallway/hallway/internal/metrics"
)

// Member is a point-in-time view of a room participant.
type Member struct {
	ID          string
	DisplayName string
}

// Room is a rendezvous point owned by the connection that created it. The
// owner is always a member while the room exists; the room is destroyed
// exactly when the owner leaves or disconnects (the presence coordinator
// drives that).
type Room struct {
	id      string
	ownerID string

	mu sync.Mutex
	// gone is set when the owner leaves or the room is destroyed. Callers
	// that looked the room up before it was removed from the store map
	// re-check it under the room lock.
	gone    bool
	members map[string]string
}

func (r *Room) ID() string      { return r.id }
func (r *Room) OwnerID() string { return r.ownerID }

func (r *Room) membersLocked() []Member {
	out := make([]Member, 0, len(r.members))
	for id, name := range r.members {
		out = append(out, Member{ID: id, DisplayName: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Store is the single writer of rooms. Operations on different rooms proceed
// in parallel; join, leave and destroy on one room are serialized by the
// room's own lock.
type Store struct {
	cfg     config.Config
	metrics *metrics.Metrics

	mu    sync.Mutex
	rooms map[string]*Room
}

func NewStore(cfg config.Config, m *metrics.Metrics) *Store {
	if m == nil {
		m = &metrics.Metrics{}
	}
	return &Store{
		cfg:     cfg,
		metrics: m,
		rooms:   make(map[string]*Room),
	}
}

// Create allocates a room with an unpredictable ID and the owner as its sole
// member. Room IDs are 16 bytes of crypto-random entropy, so a collision means
// the entropy source is broken; after a bounded number of retries the store
// gives up with ErrRoomsExhausted.
func (s *Store) Create(ownerID, ownerName string) (string, error) {
	for attempt := 0; attempt < 3; attempt++ {
		id, err := newRoomID()
		if err != nil {
			return "", err
		}

		s.mu.Lock()
		if s.cfg.MaxRooms > 0 && len(s.rooms) >= s.cfg.MaxRooms {
			s.metrics.Inc(metrics.DropReasonTooManyRooms)
			s.mu.Unlock()
			return "", ErrTooManyRooms
		}
		if _, ok := s.rooms[id]; ok {
			s.mu.Unlock()
			continue
		}

		s.rooms[id] = &Room{
			id:      id,
			ownerID: ownerID,
			members: map[string]string{ownerID: ownerName},
		}
		s.mu.Unlock()

		s.metrics.Inc(metrics.RoomCreated)
		return id, nil
	}

	s.metrics.Inc(metrics.DropReasonRoomsExhausted)
	return "", ErrRoomsExhausted
}

func (s *Store) lookup(roomID string) (*Room, bool) {
	s.mu.Lock()
	r, ok := s.rooms[roomID]
	s.mu.Unlock()
	return r, ok
}

// Join adds the connection to the room and returns a snapshot of the members
// present before it joined. The snapshot and the membership update are atomic
// with respect to concurrent joins, leaves and destroys on the same room.
func (s *Store) Join(roomID, connID, displayName string) ([]Member, error) {
	r, ok := s.lookup(roomID)
	if !ok {
		s.metrics.Inc(metrics.DropReasonRoomNotFound)
		return nil, ErrRoomNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gone {
		s.metrics.Inc(metrics.DropReasonRoomNotFound)
		return nil, ErrRoomNotFound
	}
	if s.cfg.MaxRoomMembers > 0 && len(r.members) >= s.cfg.MaxRoomMembers {
		s.metrics.Inc(metrics.DropReasonRoomFull)
		return nil, ErrRoomFull
	}

	snapshot := r.membersLocked()
	r.members[connID] = displayName

	s.metrics.Inc(metrics.RoomJoined)
	return snapshot, nil
}

// Leave removes the connection from the room. It reports whether the leaver
// owned the room; when it did, the room is marked gone in the same critical
// section so that no join can land in an owner-less room, and the caller is
// expected to Destroy it. Leaving a missing room or a room the connection is
// not in is a no-op.
func (s *Store) Leave(roomID, connID string) (wasOwner, ok bool) {
	r, found := s.lookup(roomID)
	if !found {
		return false, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gone {
		return false, false
	}
	if _, member := r.members[connID]; !member {
		return false, false
	}

	delete(r.members, connID)
	if connID == r.ownerID {
		r.gone = true
	}
	s.metrics.Inc(metrics.RoomLeft)
	return connID == r.ownerID, true
}

// Destroy removes the room and returns the members that were still in it, in
// ID order. Destroying a missing room returns nil.
func (s *Store) Destroy(roomID string) []Member {
	s.mu.Lock()
	r, ok := s.rooms[roomID]
	if ok {
		delete(s.rooms, roomID)
	}
	s.mu.Unlock()
	if !ok {
		return nil
	}

	r.mu.Lock()
	r.gone = true
	remaining := r.membersLocked()
	r.members = nil
	r.mu.Unlock()

	s.metrics.Inc(metrics.RoomDestroyed)
	return remaining
}

// Members returns the current member snapshot, or ErrRoomNotFound.
func (s *Store) Members(roomID string) ([]Member, error) {
	r, ok := s.lookup(roomID)
	if !ok {
		return nil, ErrRoomNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gone {
		return nil, ErrRoomNotFound
	}
	return r.membersLocked(), nil
}

// Len reports the number of live rooms.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rooms)
}
