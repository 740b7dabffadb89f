package roomchat

import (
	"math/rand"
	"strconv"

	"github.com/google/uuid"
)

// NewIdentity returns a random session identity: a positive decimal integer
// drawn from a 63-bit space.
func NewIdentity() string {
	return strconv.FormatUint(rand.Uint64()>>1+1, 10)
}

// newMessageID returns the client-generated id attached to outbound messages.
func newMessageID() string {
	return uuid.NewString()
}
