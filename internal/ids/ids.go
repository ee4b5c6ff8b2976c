package ids

import (
	mathrand "math/rand"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// New returns a lexicographically sortable identifier suitable for storage keys.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// Sequence hands out increasing numbers. It is safe for concurrent use and is
// meant for building unique fixture values in tests and seed data.
type Sequence struct {
	n atomic.Int64
}

// Next returns the next value, starting at 1.
func (s *Sequence) Next() int64 {
	return s.n.Add(1)
}

// NextString returns prefix followed by the next value.
func (s *Sequence) NextString(prefix string) string {
	return prefix + strconv.FormatInt(s.Next(), 10)
}
