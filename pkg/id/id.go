// Package id generates time-sortable identifiers for trades and runner sessions.
package id

import (
	cryptoRand "crypto/rand"
	"encoding/binary"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Source hands out monotonic ULIDs. IDs generated within the same
// millisecond stay lexicographically increasing.
type Source struct {
	mu      sync.Mutex
	entropy io.Reader
	now     func() time.Time
}

// NewSource seeds a PRNG from crypto/rand so IDs are not predictable.
func NewSource() *Source {
	var seed int64
	_ = binary.Read(cryptoRand.Reader, binary.LittleEndian, &seed)
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Source{
		entropy: ulid.Monotonic(rand.New(rand.NewSource(seed)), 0),
		now:     time.Now,
	}
}

// New returns the next ULID string.
func (s *Source) New() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, err := ulid.New(ulid.Timestamp(s.now().UTC()), s.entropy)
	if err != nil {
		// only when the clock goes backwards past the monotonic window or entropy fails
		panic(err)
	}
	return v.String()
}

var std = NewSource()

// New returns a ULID from the package-level source.
func New() string {
	return std.New()
}

// Time extracts the creation time encoded in a ULID string.
func Time(s string) (time.Time, error) {
	v, err := ulid.ParseStrict(s)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(v.Time()).UTC(), nil
}
