package keyspace

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// lockKey returns the Redis key guarding the given namespace. The
// format is shared with other clients of the same server and must
// not change.
func lockKey(namespace string) string {
	return fmt.Sprintf("%s:lock", namespace)
}

// Tokens must not collide across processes or the release script
// could delete a lock held by another client.
func newToken() string {
	token := make([]byte, 16)
	if _, err := rand.Read(token); err != nil {
		panic(err)
	}

	return hex.EncodeToString(token)
}
