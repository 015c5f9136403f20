package eventuate

import (
	"encoding/base32"
	"encoding/binary"
	"sync"
	"time"

	"github.com/google/uuid"
)

// idEncoding renders the 16-byte identifier as an uppercase, URL-safe,
// lexicographically sortable string (RFC 4648 base32hex, whose alphabet
// is in ascending ASCII order, preserves byte ordering for equal-length
// inputs).
var idEncoding = base32.HexEncoding.WithPadding(base32.NoPadding)

// IDGenerator allocates monotonic, globally unique message ids.
// Implementations must guarantee that ids generated later compare
// greater, lexicographically, than ids generated earlier on the same
// instance (§4.1 step 1).
type IDGenerator interface {
	NextID() string
}

// MonotonicIDGenerator produces 16-byte time-ordered ids: a 48-bit
// millisecond timestamp, followed by a monotonic counter that absorbs
// same-millisecond collisions, followed by random bytes for
// cross-instance uniqueness. This is the same shape as a ULID, chosen
// because the spec requires "lexicographically sortable in creation
// order" (§3) rather than just uniqueness, which rules out a bare
// uuid.New().String() (v4 UUIDs are not time-ordered).
type MonotonicIDGenerator struct {
	mu        sync.Mutex
	lastMilli int64
	counter   uint32
}

// NewMonotonicIDGenerator returns a ready-to-use generator.
func NewMonotonicIDGenerator() *MonotonicIDGenerator {
	return &MonotonicIDGenerator{}
}

func (g *MonotonicIDGenerator) NextID() string {
	g.mu.Lock()
	now := time.Now().UnixMilli()
	if now == g.lastMilli {
		g.counter++
	} else {
		g.lastMilli = now
		g.counter = 0
	}
	milli, counter := now, g.counter
	g.mu.Unlock()

	var buf [16]byte
	// 6 bytes of millisecond timestamp, big-endian, high bytes first so
	// byte-wise comparison is time-ordered.
	buf[0] = byte(milli >> 40)
	buf[1] = byte(milli >> 32)
	buf[2] = byte(milli >> 24)
	buf[3] = byte(milli >> 16)
	buf[4] = byte(milli >> 8)
	buf[5] = byte(milli)

	binary.BigEndian.PutUint32(buf[6:10], counter)

	random := uuid.New()
	copy(buf[10:], random[:6])

	return idEncoding.EncodeToString(buf[:])
}
