package merkleindex

import (
	"crypto/sha256"

	"github.com/google/uuid"
)

func contentHashOf(content string) []byte {
	h := sha256.Sum256([]byte(content))
	return h[:]
}

func testUUID(b byte) uuid.UUID {
	var id uuid.UUID
	for i := range id {
		id[i] = b
	}
	return id
}
