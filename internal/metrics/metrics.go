package metrics

import "sync"

// Event names incremented by the rendezvous core and the websocket transport.
const (
	RoomCreated   = "room_created"
	RoomDestroyed = "room_destroyed"
	RoomJoined    = "room_joined"
	RoomLeft      = "room_left"
	SignalRelayed = "signal_relayed"

	DropReasonRateLimited     = "rate_limited"
	DropReasonMessageTooLarge = "message_too_large"
	DropReasonRoomNotFound    = "room_not_found"
	DropReasonRoomFull        = "room_full"
	DropReasonTooManyRooms    = "too_many_rooms"
	DropReasonRoomsExhausted  = "rooms_exhausted"
	DropReasonTargetGone      = "relay_target_gone"
	DropReasonBadSignal       = "bad_signal_payload"

	AuthFailure = "auth_failure"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// The production deployment is expected to plug into a real metrics backend;
// this type keeps presence/relay logic testable while still exposing counters
// via the Prometheus text endpoint.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, delta uint64) {
	m.mu.Lock()
	if m.m == nil {
		m.m = make(map[string]uint64)
	}
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		snap[k] = v
	}
	return snap
}
