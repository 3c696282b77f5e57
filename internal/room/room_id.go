package room

import (
	"crypto/rand"
	"encoding/hex"
)

func newRoomID() (string, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf[:]), nil
}
