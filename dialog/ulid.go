// ABOUTME: Sortable unique ids for transition log entries and generated dialog keys.
// ABOUTME: Monotonic within a millisecond so same-timestamp entries keep insert order.
package dialog

import (
	"crypto/rand"

	"github.com/oklog/ulid/v2"
)

var ulidEntropy = &ulid.LockedMonotonicReader{MonotonicReader: ulid.Monotonic(rand.Reader, 0)}

// NewULID returns a lexicographically sortable unique id. Ids minted by one
// process sort in mint order even when their timestamps collide.
func NewULID() string {
	return ulid.MustNew(ulid.Now(), ulidEntropy).String()
}
