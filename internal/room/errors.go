package room

import "errors"

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrRoomFull     = errors.New("room full")
	ErrTooManyRooms = errors.New("too many rooms")
	// ErrRoomsExhausted is returned when the store repeatedly fails to allocate
	// an unused room ID. With 16 bytes of crypto-random entropy per attempt this
	// indicates a broken entropy source rather than a genuinely full ID space.
	ErrRoomsExhausted = errors.New("room id allocation exhausted")
)
