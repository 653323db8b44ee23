package analysis

import (
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// timestampLayout matches JavaScript's Date.toISOString, which the console
// already parses.
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// IDProvider issues request IDs.
type IDProvider interface {
	NewID() string
}

// IDFunc adapts a function to IDProvider.
type IDFunc func() string

// NewID implements IDProvider.
func (f IDFunc) NewID() string { return f() }

// Clock returns the current time.
type Clock func() time.Time

// DefaultIDs prefers a random UUID and falls back to a short random token
// when the system entropy source fails. Fallback tokens are not guaranteed
// unique and are only fit for demos.
var DefaultIDs IDProvider = IDFunc(func() string {
	id, err := uuid.NewRandom()
	if err != nil {
		return fallbackToken()
	}
	return id.String()
})

func fallbackToken() string {
	s := strconv.FormatUint(rand.Uint64(), 36)
	for len(s) < 8 {
		s = "0" + s
	}
	return "req_" + s[:8]
}

// FormatTimestamp renders t as UTC ISO-8601 with millisecond precision.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}
