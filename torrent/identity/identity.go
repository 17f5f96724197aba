// Package identity builds the local client's self-presentation to trackers
// and peers: its 20-byte peer id and advertised listen port.
package identity

import (
	"github.com/google/uuid"
)

// Prefix is the Azureus-style client identifier embedded in every peer id
// this client generates.
const Prefix = "-NE001-"

// DefaultListenPort is advertised to trackers; this client never actually
// listens on it (no seeding, see Non-goals).
const DefaultListenPort = 1881

// Local is this client's identity for the lifetime of one run.
type Local struct {
	PeerID     [20]byte
	ListenPort uint16
}

// New generates a fresh local identity: "-NE001-" followed by 13 random
// alphanumeric bytes drawn from a UUID's entropy, for a 20-byte peer id.
func New() Local {
	var id [20]byte
	copy(id[:], Prefix)

	fill := randomAlphanumeric(20 - len(Prefix))
	copy(id[len(Prefix):], fill)

	return Local{PeerID: id, ListenPort: DefaultListenPort}
}

// randomAlphanumeric derives n alphanumeric bytes from UUID entropy: v4
// UUIDs are drawn 16 bytes at a time until at least n bytes are pooled
// (one UUID covers the 13 this client needs), each byte folded into the
// base-36 alphabet.
func randomAlphanumeric(n int) []byte {
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

	pool := make([]byte, 0, 32)
	for len(pool) < n {
		u := uuid.New()
		pool = append(pool, u[:]...)
	}

	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[i] = alphabet[int(pool[i])%len(alphabet)]
	}
	return out
}
